package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/pable/racquet-metrics/internal/reconcile"
)

// AutoRefresh runs a staleness-gated Refresh every interval until ctx is done or the returned
// stop function is called. A refresh still running when the next one is due is not doubled up.
func (s *Service) AutoRefresh(ctx context.Context, interval time.Duration) (stop func() error, err error) {
	if interval <= 0 {
		return nil, fmt.Errorf("auto refresh interval must be positive, got %s", interval)
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			res, err := s.Refresh(ctx, false)
			switch {
			case errors.Is(err, reconcile.ErrRefreshFailed):
				s.logger.Warn("scheduled refresh failed", "error", err)
			case err != nil:
				s.logger.Error("scheduled refresh", "error", err)
			case res.Skipped != "":
				s.logger.Debug("scheduled refresh skipped", "reason", res.Skipped)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("schedule refresh: %w", err)
	}
	sched.Start()

	var (
		once    sync.Once
		stopErr error
	)
	shutdown := func() error {
		once.Do(func() { stopErr = sched.Shutdown() })
		return stopErr
	}
	context.AfterFunc(ctx, func() { _ = shutdown() })
	return shutdown, nil
}
