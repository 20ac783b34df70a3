package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/pable/racquet-metrics/internal/achievement"
	"github.com/pable/racquet-metrics/internal/config"
	"github.com/pable/racquet-metrics/internal/reconcile"
	"github.com/pable/racquet-metrics/internal/remote"
	"github.com/pable/racquet-metrics/internal/service"
	"github.com/pable/racquet-metrics/internal/storage"
)

// loadConfig reads and validates the config file; --db overrides store.db_path.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Store.DBPath = dbPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// app is the wired service plus the resources it owns.
type app struct {
	cfg *config.Config
	db  *storage.DB
	svc *service.Service
}

func newRemote(ctx context.Context, cfg *config.Config) (reconcile.RemoteStore, error) {
	switch cfg.Sync.Remote {
	case config.RemoteHTTP:
		var limit rate.Limit
		if cfg.Sync.RequestsPerSecond > 0 {
			limit = rate.Limit(cfg.Sync.RequestsPerSecond)
		}
		return remote.NewHTTPStore(remote.HTTPOptions{
			BaseURL:   cfg.Sync.Endpoint,
			APIKey:    cfg.Sync.APIKey,
			UserID:    cfg.Profile.UserID,
			RateLimit: limit,
		}), nil
	case config.RemoteDynamoDB:
		store, err := remote.NewDynamoStoreFromEnv(ctx, cfg.DynamoDB.Region, cfg.DynamoDB.Table, cfg.Profile.UserID)
		if err != nil {
			return nil, fmt.Errorf("create dynamodb store: %w", err)
		}
		return store, nil
	default:
		return nil, nil
	}
}

// openApp opens the database, builds the service and restores the persisted collection.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	freshness, _ := cfg.GetFreshness()
	loc, _ := cfg.GetLocation()

	db, err := storage.Open(cfg.Store.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	rs, err := newRemote(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	var catalog achievement.Supplier = achievement.BuiltinSupplier{}
	if cfg.Catalog.Path != "" {
		catalog = &achievement.FileSupplier{Path: cfg.Catalog.Path}
	}
	opts := service.Options{
		Local:     db.Collection(cfg.Profile.UserID),
		Remote:    rs,
		Progress:  db,
		Catalog:   catalog,
		Index:     db,
		Identity:  service.StaticIdentity{UserID: cfg.Profile.UserID, Authenticated: cfg.Profile.Authenticated},
		Freshness: freshness,
		PageSize:  cfg.Sync.PageSize,
		MaxPages:  cfg.Sync.MaxPages,
		Location:  loc,
		Logger:    slog.Default(),
	}
	svc, err := service.New(opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := svc.Load(ctx); err != nil {
		svc.Close()
		db.Close()
		return nil, fmt.Errorf("load collection: %w", err)
	}
	return &app{cfg: cfg, db: db, svc: svc}, nil
}

// Close drains queued uploads and background evaluation, then closes the database.
func (a *app) Close() {
	a.svc.Close()
	if err := a.db.Close(); err != nil {
		slog.Warn("close storage", "error", err)
	}
}

// settle waits for queued remote writes and achievement evaluation.
func (a *app) settle(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return a.svc.Flush(ctx)
}
