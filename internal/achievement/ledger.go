package achievement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pable/racquet-metrics/internal/aggregator"
	"github.com/pable/racquet-metrics/internal/model"
)

var (
	// ErrLedgerClosed is returned by calls made after Close.
	ErrLedgerClosed = errors.New("achievement ledger closed")
	// ErrStaleEvaluation is returned by EvaluateAt when the user's progress was reset after
	// the epoch was read.
	ErrStaleEvaluation = errors.New("progress was reset since the evaluation started")
)

// ProgressStore persists ledger rows.
type ProgressStore interface {
	LoadProgress(ctx context.Context, userID string) (map[string]model.AchievementProgress, error)
	SaveProgress(ctx context.Context, rows []model.AchievementProgress) error
	ResetProgress(ctx context.Context, userID string) error
}

// LedgerOptions configures a Ledger.
type LedgerOptions struct {
	Store    ProgressStore // nil keeps progress in memory only
	Catalog  Supplier      // nil uses the builtin catalog
	Insight  aggregator.InsightFunc
	OnUnlock func([]model.Unlock)
	Logger   *slog.Logger
	Now      func() time.Time
}

// Ledger owns the progress rows. All reads and writes run on one worker goroutine, so
// evaluations are applied one at a time and a tier is credited at most once even when
// evaluations are triggered concurrently.
type Ledger struct {
	store    ProgressStore
	catalog  Supplier
	insight  aggregator.InsightFunc
	onUnlock func([]model.Unlock)
	logger   *slog.Logger
	now      func() time.Time

	jobs chan func()
	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once

	// owned by the worker
	cache  map[string]map[string]model.AchievementProgress
	epochs map[string]uint64
}

// NewLedger starts the ledger worker. Call Close to stop it.
func NewLedger(opts LedgerOptions) *Ledger {
	l := &Ledger{
		store:    opts.Store,
		catalog:  opts.Catalog,
		insight:  opts.Insight,
		onUnlock: opts.OnUnlock,
		logger:   opts.Logger,
		now:      opts.Now,
		jobs:     make(chan func()),
		quit:     make(chan struct{}),
		cache:    make(map[string]map[string]model.AchievementProgress),
		epochs:   make(map[string]uint64),
	}
	if l.catalog == nil {
		l.catalog = BuiltinSupplier{}
	}
	if l.insight == nil {
		l.insight = DefaultInsight
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.now == nil {
		l.now = time.Now
	}
	l.wg.Add(1)
	go l.run()
	return l
}

func (l *Ledger) run() {
	defer l.wg.Done()
	for {
		select {
		case job := <-l.jobs:
			job()
		case <-l.quit:
			return
		}
	}
}

// do runs fn on the worker and waits for it.
func (l *Ledger) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	job := func() {
		defer close(done)
		fn()
	}
	select {
	case l.jobs <- job:
	case <-l.quit:
		return ErrLedgerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// load returns the user's rows, reading the store on first use. Worker only.
func (l *Ledger) load(ctx context.Context, userID string) (map[string]model.AchievementProgress, error) {
	if rows, ok := l.cache[userID]; ok {
		return rows, nil
	}
	rows := make(map[string]model.AchievementProgress)
	if l.store != nil {
		stored, err := l.store.LoadProgress(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("load progress: %w", err)
		}
		for k, v := range stored {
			rows[k] = v
		}
	}
	l.cache[userID] = rows
	return rows, nil
}

// Evaluate applies the match history to the user's ledger and returns the tiers credited by
// this call. Unlocks are reported to OnUnlock after they are persisted. When persisting fails
// nothing is credited and the next evaluation retries.
func (l *Ledger) Evaluate(ctx context.Context, userID string, matches []model.MatchRecord) ([]model.Unlock, error) {
	return l.evaluate(ctx, userID, matches, nil)
}

// Epoch returns the user's reset counter. Pass it to EvaluateAt to discard an evaluation whose
// history was read before a Reset.
func (l *Ledger) Epoch(ctx context.Context, userID string) (uint64, error) {
	var epoch uint64
	err := l.do(ctx, func() { epoch = l.epochs[userID] })
	return epoch, err
}

// EvaluateAt is Evaluate, but fails with ErrStaleEvaluation when the user was reset after
// epoch was obtained.
func (l *Ledger) EvaluateAt(ctx context.Context, userID string, matches []model.MatchRecord, epoch uint64) ([]model.Unlock, error) {
	return l.evaluate(ctx, userID, matches, &epoch)
}

func (l *Ledger) evaluate(ctx context.Context, userID string, matches []model.MatchRecord, epoch *uint64) ([]model.Unlock, error) {
	cat, err := l.catalog.Catalog()
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	var unlocks []model.Unlock
	var runErr error
	err = l.do(ctx, func() {
		if epoch != nil && *epoch != l.epochs[userID] {
			runErr = ErrStaleEvaluation
			return
		}
		prior, err := l.load(ctx, userID)
		if err != nil {
			runErr = err
			return
		}
		next, credited := Evaluate(userID, matches, cat, prior, l.insight, l.now())
		changed := Changed(prior, next)
		if len(changed) == 0 {
			return
		}
		if l.store != nil {
			if err := l.store.SaveProgress(ctx, changed); err != nil {
				runErr = fmt.Errorf("save progress: %w", err)
				return
			}
		}
		l.cache[userID] = next
		unlocks = credited
		l.logger.Debug("achievements evaluated", "user", userID, "changed", len(changed), "unlocked", len(credited))
	})
	if err != nil {
		return nil, err
	}
	if runErr != nil {
		return nil, runErr
	}
	if len(unlocks) > 0 && l.onUnlock != nil {
		l.onUnlock(unlocks)
	}
	return unlocks, nil
}

// Progress returns a copy of the user's rows keyed by achievement type.
func (l *Ledger) Progress(ctx context.Context, userID string) (map[string]model.AchievementProgress, error) {
	var out map[string]model.AchievementProgress
	var runErr error
	err := l.do(ctx, func() {
		rows, err := l.load(ctx, userID)
		if err != nil {
			runErr = err
			return
		}
		out = make(map[string]model.AchievementProgress, len(rows))
		for k, v := range rows {
			out[k] = v
		}
	})
	if err != nil {
		return nil, err
	}
	return out, runErr
}

// TotalPoints sums the points of every tier the user has been credited.
func (l *Ledger) TotalPoints(ctx context.Context, userID string) (int, error) {
	cat, err := l.catalog.Catalog()
	if err != nil {
		return 0, fmt.Errorf("load catalog: %w", err)
	}
	rows, err := l.Progress(ctx, userID)
	if err != nil {
		return 0, err
	}
	return TotalPoints(rows, cat), nil
}

// Reset clears every row for the user. It is the only operation that lowers progress.
func (l *Ledger) Reset(ctx context.Context, userID string) error {
	var runErr error
	err := l.do(ctx, func() {
		if l.store != nil {
			if err := l.store.ResetProgress(ctx, userID); err != nil {
				runErr = fmt.Errorf("reset progress: %w", err)
				return
			}
		}
		l.cache[userID] = make(map[string]model.AchievementProgress)
		l.epochs[userID]++
		l.logger.Info("achievement progress reset", "user", userID)
	})
	if err != nil {
		return err
	}
	return runErr
}

// Close stops the worker after the job in progress.
func (l *Ledger) Close() {
	l.once.Do(func() { close(l.quit) })
	l.wg.Wait()
}
