// Package api serves the match history, insights, performance and achievements over HTTP, and
// pushes unlocks and collection changes to websocket clients.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/pable/racquet-metrics/internal/model"
	"github.com/pable/racquet-metrics/internal/reconcile"
	"github.com/pable/racquet-metrics/internal/service"
)

// Options configures a Server.
type Options struct {
	AllowedOrigins []string // empty allows same-origin requests only
	Logger         *slog.Logger
}

// Server exposes a Service over HTTP.
type Server struct {
	svc     *service.Service
	hub     *hub
	router  *mux.Router
	handler http.Handler
	logger  *slog.Logger

	stopOnce sync.Once
	cancels  []func()
}

// New builds the router and subscribes to the service's unlock and change notifications.
func New(svc *service.Service, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:    svc,
		router: mux.NewRouter(),
		logger: logger,
	}
	s.hub = newHub(originChecker(opts.AllowedOrigins), logger)
	s.routes()

	corsOpts := cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}
	if len(opts.AllowedOrigins) == 0 {
		// cors treats an empty list as "*".
		corsOpts.AllowOriginFunc = func(string) bool { return false }
	}
	s.handler = cors.New(corsOpts).Handler(s.router)

	s.cancels = append(s.cancels,
		svc.SubscribeUnlocks(func(u model.Unlock) { s.hub.broadcast("achievement:unlocked", u) }),
		svc.SubscribeChanges(func(c reconcile.Change) {
			s.hub.broadcast("matches:changed", map[string]any{
				"kind":    c.Kind,
				"ids":     c.IDs,
				"version": c.Version,
			})
		}),
	)
	return s
}

func (s *Server) routes() {
	r := s.router
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.hub.serveWS)

	a := r.PathPrefix("/api").Subrouter()
	a.HandleFunc("/matches", s.handleListMatches).Methods(http.MethodGet)
	a.HandleFunc("/matches", s.handleAddMatch).Methods(http.MethodPost)
	a.HandleFunc("/matches", s.handleDeleteMatches).Methods(http.MethodDelete)
	a.HandleFunc("/matches/{id}", s.handleGetMatch).Methods(http.MethodGet)
	a.HandleFunc("/matches/{id}/insights", s.handleInsights).Methods(http.MethodGet)
	a.HandleFunc("/performance", s.handlePerformance).Methods(http.MethodGet)
	a.HandleFunc("/achievements", s.handleAchievements).Methods(http.MethodGet)
	a.HandleFunc("/history/clear", s.handleClearHistory).Methods(http.MethodPost)
	a.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
}

// Handler returns the CORS-wrapped router.
func (s *Server) Handler() http.Handler { return s.handler }

// Close unsubscribes from the service and disconnects websocket clients.
func (s *Server) Close() {
	s.stopOnce.Do(func() {
		for _, cancel := range s.cancels {
			cancel()
		}
		s.hub.close()
	})
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("api listening", "addr", addr)

	select {
	case err := <-errc:
		s.Close()
		return err
	case <-ctx.Done():
	}
	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
	}
}
