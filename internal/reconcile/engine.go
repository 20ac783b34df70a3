package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/pable/racquet-metrics/internal/model"
)

// ErrRefreshFailed is returned when the remote store could not be read. The canonical
// collection is left as it was.
var ErrRefreshFailed = errors.New("could not refresh from remote; showing last-known data")

// RemoteStore is the remote durable store. FetchSince returns records whose UpdatedAt is
// strictly after cursor, oldest first, at most limit of them.
type RemoteStore interface {
	FetchSince(ctx context.Context, cursor time.Time, limit int) ([]model.MatchRecord, error)
	Persist(ctx context.Context, m model.MatchRecord) error
	Delete(ctx context.Context, ids []string) error
}

// LocalStore keeps the collection as an opaque blob across restarts. Save must ignore a
// version lower than the one already stored.
type LocalStore interface {
	Load(ctx context.Context) ([]byte, int64, error)
	Save(ctx context.Context, version int64, blob []byte) error
}

// ChangeKind says what produced a new snapshot.
type ChangeKind string

const (
	ChangeLoaded  ChangeKind = "loaded"
	ChangeAdded   ChangeKind = "added"
	ChangeDeleted ChangeKind = "deleted"
	ChangeMerged  ChangeKind = "merged"
)

// Change describes a published snapshot.
type Change struct {
	Kind    ChangeKind
	IDs     []string
	Version int64
}

// Options configures an Engine.
type Options struct {
	Local         LocalStore  // nil keeps the collection in memory only
	Remote        RemoteStore // nil disables remote sync
	Authenticated func() bool // nil means always authenticated
	Freshness     time.Duration
	PageSize      int
	MaxPages      int
	RemoteTimeout time.Duration
	OnChange      func(Change)
	Logger        *slog.Logger
	Now           func() time.Time
}

// Engine is the single writer of the canonical collection.
type Engine struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	snap atomic.Pointer[Collection]
	mu   sync.Mutex // serializes snapshot construction; never held across I/O

	refreshes singleflight.Group
	remote    *remoteQueue
}

// New creates an engine with an empty collection. Call Load to restore persisted state.
func New(opts Options) *Engine {
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 50
	}
	if opts.RemoteTimeout <= 0 {
		opts.RemoteTimeout = 30 * time.Second
	}
	e := &Engine{opts: opts, logger: opts.Logger, now: opts.Now}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.snap.Store(emptyCollection().seal())
	if opts.Remote != nil {
		e.remote = newRemoteQueue(opts.RemoteTimeout, e.logger)
	}
	return e
}

// Snapshot returns the current canonical collection.
func (e *Engine) Snapshot() *Collection { return e.snap.Load() }

// update builds the next snapshot from the current one under the writer lock and publishes it.
// fn returns false to abandon the change.
func (e *Engine) update(fn func(next *Collection) bool) (*Collection, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := e.snap.Load().clone()
	if !fn(next) {
		return nil, false
	}
	next.seal()
	e.snap.Store(next)
	return next, true
}

// persist writes a snapshot to the local store. Failures are logged; the next save carries
// the same data with a higher version.
func (e *Engine) persist(ctx context.Context, c *Collection) {
	if e.opts.Local == nil {
		return
	}
	blob, err := c.Encode()
	if err == nil {
		err = e.opts.Local.Save(ctx, c.Version(), blob)
	}
	if err != nil {
		e.logger.Error("save collection failed", "version", c.Version(), "error", err)
	}
}

func (e *Engine) publish(ctx context.Context, c *Collection, kind ChangeKind, ids []string) {
	e.persist(ctx, c)
	if e.opts.OnChange != nil {
		e.opts.OnChange(Change{Kind: kind, IDs: ids, Version: c.Version()})
	}
}

// Load restores the collection from the local store, merging with anything added since New.
func (e *Engine) Load(ctx context.Context) error {
	if e.opts.Local == nil {
		return nil
	}
	blob, _, err := e.opts.Local.Load(ctx)
	if err != nil {
		return fmt.Errorf("load collection: %w", err)
	}
	if len(blob) == 0 {
		return nil
	}
	stored, err := Decode(blob)
	if err != nil {
		return err
	}
	next, _ := e.update(func(next *Collection) bool {
		if stored.version >= next.version {
			next.version = stored.version + 1
		}
		mergeInto(next.byID, stored.List(), next.deleted)
		for _, id := range stored.PendingDeletes() {
			if _, ok := next.pendingDeletes[id]; !ok && !next.Has(id) {
				next.pendingDeletes[id] = 0
			}
		}
		for id := range stored.pendingUploads {
			next.pendingUploads[id] = true
		}
		if stored.cursor.After(next.cursor) {
			next.cursor = stored.cursor
		}
		if stored.lastRefresh.After(next.lastRefresh) {
			next.lastRefresh = stored.lastRefresh
		}
		return true
	})
	e.logger.Debug("collection loaded", "matches", next.Len(), "version", next.Version())
	if e.opts.OnChange != nil {
		e.opts.OnChange(Change{Kind: ChangeLoaded, IDs: next.IDs(), Version: next.Version()})
	}
	return nil
}

// Add inserts a match, or merges it into the existing match with the same ID. A match without
// an ID gets a fresh one. Adding an ID cancels any pending delete for it. The remote copy is
// written in the background.
func (e *Engine) Add(ctx context.Context, m model.MatchRecord) model.MatchRecord {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = e.now()
	}

	var stored model.MatchRecord
	next, _ := e.update(func(next *Collection) bool {
		if cur, ok := next.byID[m.ID]; ok {
			stored, _ = MergeRecords(cur, m)
		} else {
			stored = m
		}
		next.byID[m.ID] = stored
		delete(next.pendingDeletes, m.ID)
		if e.remote != nil {
			next.pendingUploads[m.ID] = true
		}
		return true
	})
	e.publish(ctx, next, ChangeAdded, []string{m.ID})

	if e.remote != nil && e.authenticated() {
		rec := stored
		e.remote.enqueue("persist", func(ctx context.Context) error {
			if err := e.opts.Remote.Persist(ctx, rec); err != nil {
				return err
			}
			e.clearPending(ctx, nil, []string{rec.ID})
			return nil
		})
	}
	return stored
}

// Delete removes the IDs from the collection immediately and propagates the delete to the
// remote store in the background. Until the remote acknowledges, the IDs are kept as pending
// deletes so a refresh cannot bring them back. Unknown IDs are ignored.
func (e *Engine) Delete(ctx context.Context, ids []string) []string {
	var removed []string
	next, ok := e.update(func(next *Collection) bool {
		for _, id := range ids {
			if _, ok := next.byID[id]; !ok {
				continue
			}
			delete(next.byID, id)
			delete(next.pendingUploads, id)
			if e.remote != nil {
				next.pendingDeletes[id] = 0
			}
			removed = append(removed, id)
		}
		return len(removed) > 0
	})
	if !ok {
		return nil
	}
	e.publish(ctx, next, ChangeDeleted, removed)

	if e.remote != nil && e.authenticated() {
		gone := append([]string(nil), removed...)
		e.remote.enqueue("delete", func(ctx context.Context) error {
			if err := e.opts.Remote.Delete(ctx, gone); err != nil {
				return err
			}
			e.clearPending(ctx, gone, nil)
			return nil
		})
	}
	return removed
}

// Clear deletes every match.
func (e *Engine) Clear(ctx context.Context) []string {
	return e.Delete(ctx, e.Snapshot().IDs())
}

// clearPending records acknowledged remote writes. Acknowledged deletes stay as tombstones
// until a refresh that started after the ack completes, so a page fetched before the ack cannot
// bring them back. An ID re-added after the delete was queued is no longer pending and is left
// alone.
func (e *Engine) clearPending(ctx context.Context, deletes, uploads []string) {
	next, ok := e.update(func(next *Collection) bool {
		changed := false
		for _, id := range deletes {
			if acked, ok := next.pendingDeletes[id]; ok && acked == 0 {
				next.pendingDeletes[id] = next.version
				changed = true
			}
		}
		for _, id := range uploads {
			if next.pendingUploads[id] {
				delete(next.pendingUploads, id)
				changed = true
			}
		}
		return changed
	})
	if ok {
		e.persist(ctx, next)
	}
}

func (e *Engine) authenticated() bool {
	return e.opts.Authenticated == nil || e.opts.Authenticated()
}

// Flush waits for queued remote writes to finish.
func (e *Engine) Flush(ctx context.Context) error {
	if e.remote == nil {
		return nil
	}
	return e.remote.flush(ctx)
}

// Close drains queued remote writes and stops the background worker.
func (e *Engine) Close() {
	if e.remote != nil {
		e.remote.close()
	}
}
