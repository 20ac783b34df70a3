// Package service is the entry point a presentation layer uses. It wires the reconciliation
// engine, the insight cache, the aggregate engine and the achievement ledger together and
// re-evaluates achievements whenever the canonical collection changes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pable/racquet-metrics/internal/achievement"
	"github.com/pable/racquet-metrics/internal/aggregator"
	"github.com/pable/racquet-metrics/internal/insight"
	"github.com/pable/racquet-metrics/internal/model"
	"github.com/pable/racquet-metrics/internal/notify"
	"github.com/pable/racquet-metrics/internal/reconcile"
)

var (
	// ErrMatchNotFound is returned for an unknown or ambiguous match ID.
	ErrMatchNotFound = errors.New("match not found")
	// ErrNotAuthenticated is returned by per-user operations when no user is signed in.
	ErrNotAuthenticated = errors.New("not signed in")
)

// Identity is the authentication signal.
type Identity interface {
	IsAuthenticated() bool
	CurrentUserID() (string, bool)
}

// StaticIdentity is a fixed identity, as configured for the CLI.
type StaticIdentity struct {
	UserID        string
	Authenticated bool
}

func (s StaticIdentity) IsAuthenticated() bool { return s.Authenticated && s.UserID != "" }

func (s StaticIdentity) CurrentUserID() (string, bool) { return s.UserID, s.UserID != "" }

// Indexer mirrors the canonical collection into a queryable table.
type Indexer interface {
	IndexMatches(ctx context.Context, matches []model.MatchRecord) error
}

// Options holds the injected capabilities. Only Identity is required.
type Options struct {
	Local    reconcile.LocalStore
	Remote   reconcile.RemoteStore
	Progress achievement.ProgressStore
	Catalog  achievement.Supplier
	Index    Indexer
	Identity Identity

	Freshness time.Duration
	PageSize  int
	MaxPages  int
	Location  *time.Location // calendar-day windows; nil means time.Local

	Logger *slog.Logger
	Now    func() time.Time
}

// Service is safe for concurrent use.
type Service struct {
	engine   *reconcile.Engine
	ledger   *achievement.Ledger
	insights *insight.Cache
	catalog  achievement.Supplier
	index    Indexer
	identity Identity
	loc      *time.Location
	logger   *slog.Logger
	now      func() time.Time

	unlocks *notify.Dispatcher[model.Unlock]
	changes *notify.Dispatcher[reconcile.Change]
	work    tracker
}

// New builds the service. Call Load to restore the persisted collection.
func New(opts Options) (*Service, error) {
	if opts.Identity == nil {
		return nil, errors.New("service: identity is required")
	}
	s := &Service{
		insights: insight.NewCache(),
		catalog:  opts.Catalog,
		index:    opts.Index,
		identity: opts.Identity,
		loc:      opts.Location,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if s.catalog == nil {
		s.catalog = achievement.BuiltinSupplier{}
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if _, err := s.catalog.Catalog(); err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	s.unlocks = notify.NewDispatcher[model.Unlock]("unlocks", s.logger)
	s.changes = notify.NewDispatcher[reconcile.Change]("changes", s.logger)

	s.ledger = achievement.NewLedger(achievement.LedgerOptions{
		Store:    opts.Progress,
		Catalog:  s.catalog,
		Insight:  s.insights.Get,
		OnUnlock: func(u []model.Unlock) { s.unlocks.Publish(u...) },
		Logger:   s.logger,
		Now:      s.now,
	})
	s.engine = reconcile.New(reconcile.Options{
		Local:         opts.Local,
		Remote:        opts.Remote,
		Authenticated: s.identity.IsAuthenticated,
		Freshness:     opts.Freshness,
		PageSize:      opts.PageSize,
		MaxPages:      opts.MaxPages,
		OnChange:      s.onChange,
		Logger:        s.logger,
		Now:           s.now,
	})
	return s, nil
}

// Load restores the collection from the local store.
func (s *Service) Load(ctx context.Context) error {
	return s.engine.Load(ctx)
}

func (s *Service) onChange(c reconcile.Change) {
	if c.Kind == reconcile.ChangeLoaded {
		s.insights.Invalidate()
	} else if len(c.IDs) > 0 {
		s.insights.Invalidate(c.IDs...)
	}
	s.changes.Publish(c)

	s.work.start()
	go func() {
		defer s.work.done()
		s.afterChange(context.Background())
	}()
}

// afterChange re-indexes the collection and re-evaluates achievements against the latest
// snapshot. Both are idempotent, so overlapping runs are harmless.
func (s *Service) afterChange(ctx context.Context) {
	userID, ok := s.identity.CurrentUserID()
	var epoch uint64
	if ok {
		var err error
		if epoch, err = s.ledger.Epoch(ctx, userID); err != nil {
			s.logger.Warn("read ledger epoch failed", "user", userID, "error", err)
			ok = false
		}
	}
	snap := s.engine.Snapshot()

	if s.index != nil {
		if err := s.index.IndexMatches(ctx, snap.List()); err != nil {
			s.logger.Warn("index matches failed", "version", snap.Version(), "error", err)
		}
	}
	if !ok {
		return
	}
	_, err := s.ledger.EvaluateAt(ctx, userID, snap.List(), epoch)
	switch {
	case errors.Is(err, achievement.ErrStaleEvaluation), errors.Is(err, achievement.ErrLedgerClosed):
	case err != nil:
		s.logger.Warn("achievement evaluation failed", "user", userID, "error", err)
	}
}

// Wait blocks until background work triggered by earlier changes has finished.
func (s *Service) Wait(ctx context.Context) error { return s.work.wait(ctx) }

// Snapshot returns the current canonical collection.
func (s *Service) Snapshot() *reconcile.Collection { return s.engine.Snapshot() }

// Filter selects matches for ListMatches. Zero fields do not filter.
type Filter struct {
	Sport model.Sport
	Since time.Time // inclusive
	Until time.Time // exclusive
	Limit int
}

func (f Filter) match(m *model.MatchRecord) bool {
	if f.Sport != "" && !strings.EqualFold(string(m.Sport), string(f.Sport)) {
		return false
	}
	if !f.Since.IsZero() && m.StartedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !m.StartedAt.Before(f.Until) {
		return false
	}
	return true
}

// ListMatches returns the matches passing f, newest first.
func (s *Service) ListMatches(f Filter) []model.MatchRecord {
	var out []model.MatchRecord
	for _, m := range s.engine.Snapshot().List() {
		if !f.match(&m) {
			continue
		}
		out = append(out, m)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// Match resolves a full ID or a unique ID prefix.
func (s *Service) Match(id string) (model.MatchRecord, error) {
	m, err := s.engine.Snapshot().Find(id)
	if err != nil {
		return model.MatchRecord{}, fmt.Errorf("%w: %v", ErrMatchNotFound, err)
	}
	return m, nil
}

// InsightsFor returns the insight report of one match.
func (s *Service) InsightsFor(id string) (model.InsightReport, error) {
	m, err := s.Match(id)
	if err != nil {
		return model.InsightReport{}, err
	}
	return s.insights.Get(&m), nil
}

// AggregatePerformance summarizes the trailing days, today included. days <= 0 covers the
// whole history.
func (s *Service) AggregatePerformance(days int) model.AggregateStats {
	w := aggregator.Window{Days: days, Now: s.now(), Location: s.loc}
	return aggregator.Aggregate(s.engine.Snapshot().List(), s.insights.Get, w)
}

func (s *Service) user(userID string) (string, error) {
	if userID != "" {
		return userID, nil
	}
	if id, ok := s.identity.CurrentUserID(); ok {
		return id, nil
	}
	return "", ErrNotAuthenticated
}

// AchievementProgress returns the user's progress keyed by achievement type. An empty userID
// means the signed-in user.
func (s *Service) AchievementProgress(ctx context.Context, userID string) (map[string]model.AchievementProgress, error) {
	uid, err := s.user(userID)
	if err != nil {
		return nil, err
	}
	return s.ledger.Progress(ctx, uid)
}

// TotalPoints sums the points of every tier the user has been credited.
func (s *Service) TotalPoints(ctx context.Context, userID string) (int, error) {
	uid, err := s.user(userID)
	if err != nil {
		return 0, err
	}
	return s.ledger.TotalPoints(ctx, uid)
}

// Catalog returns the current achievement catalog.
func (s *Service) Catalog() (achievement.Catalog, error) { return s.catalog.Catalog() }

// Evaluate re-evaluates the user's achievements now and returns what was unlocked.
func (s *Service) Evaluate(ctx context.Context, userID string) ([]model.Unlock, error) {
	uid, err := s.user(userID)
	if err != nil {
		return nil, err
	}
	return s.ledger.Evaluate(ctx, uid, s.engine.Snapshot().List())
}

// SubscribeUnlocks registers fn for newly unlocked tiers. Each unlock is delivered once.
func (s *Service) SubscribeUnlocks(fn func(model.Unlock)) (cancel func()) {
	return s.unlocks.Subscribe(fn)
}

// SubscribeChanges registers fn for every new snapshot of the collection.
func (s *Service) SubscribeChanges(fn func(reconcile.Change)) (cancel func()) {
	return s.changes.Subscribe(fn)
}

// AddMatch stores a match locally and queues its upload. It never fails; remote errors are
// retried at the next refresh.
func (s *Service) AddMatch(ctx context.Context, m model.MatchRecord) model.MatchRecord {
	return s.engine.Add(ctx, m)
}

// DeleteMatches removes matches locally at once and queues the remote delete. It returns the
// IDs that were present.
func (s *Service) DeleteMatches(ctx context.Context, ids []string) []string {
	return s.engine.Delete(ctx, ids)
}

// ClearAllHistory deletes every match and resets the user's achievement progress.
func (s *Service) ClearAllHistory(ctx context.Context, userID string) error {
	uid, err := s.user(userID)
	if err != nil {
		return err
	}
	removed := s.engine.Clear(ctx)
	if err := s.ledger.Reset(ctx, uid); err != nil {
		return err
	}
	s.insights.Invalidate()
	s.logger.Info("history cleared", "user", uid, "matches", len(removed))
	return nil
}

// Refresh pulls from the remote store. Unless force is set it is skipped within the freshness
// window. A failed fetch leaves the collection untouched and wraps reconcile.ErrRefreshFailed.
func (s *Service) Refresh(ctx context.Context, force bool) (reconcile.RefreshResult, error) {
	return s.engine.Refresh(ctx, force)
}

// Flush waits for queued remote writes and background evaluations.
func (s *Service) Flush(ctx context.Context) error {
	if err := s.engine.Flush(ctx); err != nil {
		return err
	}
	return s.Wait(ctx)
}

// Close drains pending work and stops the background workers.
func (s *Service) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		s.logger.Warn("closing with pending work", "error", err)
	}
	s.engine.Close()
	s.ledger.Close()
}
