package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/pable/racquet-metrics/internal/model"
)

// RefreshResult summarizes one refresh call.
type RefreshResult struct {
	Skipped string // non-empty when no remote call was made
	Pages   int
	Fetched int
	Added   []string
	Updated []string
	Cursor  time.Time

	RetriedDeletes int
	RetriedUploads int
}

// Refresh pulls new records from the remote store and merges them into the collection. Unless
// force is set, it is skipped when the last successful refresh is within the freshness window.
// Concurrent calls share one remote round trip. On a fetch error the collection is unchanged
// and the error wraps ErrRefreshFailed.
func (e *Engine) Refresh(ctx context.Context, force bool) (RefreshResult, error) {
	switch {
	case e.opts.Remote == nil:
		return RefreshResult{Skipped: "no remote store configured"}, nil
	case !e.authenticated():
		return RefreshResult{Skipped: "not authenticated"}, nil
	}
	if !force && e.opts.Freshness > 0 {
		last := e.Snapshot().LastRefresh()
		if !last.IsZero() && e.now().Sub(last) < e.opts.Freshness {
			return RefreshResult{Skipped: "fresh", Cursor: e.Snapshot().Cursor()}, nil
		}
	}

	// The shared round trip must not die with whichever caller started it.
	shared := context.WithoutCancel(ctx)
	ch := e.refreshes.DoChan("refresh", func() (any, error) {
		return e.refresh(shared)
	})
	select {
	case r := <-ch:
		if r.Shared {
			e.logger.Debug("refresh coalesced with one in flight")
		}
		res, _ := r.Val.(RefreshResult)
		return res, r.Err
	case <-ctx.Done():
		return RefreshResult{}, ctx.Err()
	}
}

// remoteCtx bounds one remote round trip.
func (e *Engine) remoteCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.opts.RemoteTimeout)
}

// fetchPage reads up to PageSize records after cursor and returns them with the cursor for the
// next page. One extra record is requested to see whether the newest timestamp group runs past
// the cut; if it does, that group is left for the next page. A full page holding a single
// timestamp cannot be split by a time cursor, so the limit grows until it fits.
func (e *Engine) fetchPage(ctx context.Context, cursor time.Time) ([]model.MatchRecord, time.Time, bool, error) {
	limit := e.opts.PageSize
	for {
		fctx, cancel := e.remoteCtx(ctx)
		got, err := e.opts.Remote.FetchSince(fctx, cursor, limit+1)
		cancel()
		if err != nil {
			return nil, cursor, false, err
		}
		if len(got) <= limit {
			return got, newestUpdate(cursor, got), false, nil
		}
		page := got[:limit]
		boundary := page[limit-1].UpdatedAt
		if got[limit].UpdatedAt.After(boundary) {
			return page, newestUpdate(cursor, page), true, nil
		}
		for len(page) > 0 && page[len(page)-1].UpdatedAt.Equal(boundary) {
			page = page[:len(page)-1]
		}
		if len(page) > 0 {
			return page, newestUpdate(cursor, page), true, nil
		}
		e.logger.Debug("page holds a single timestamp; widening", "updated_at", boundary, "limit", limit)
		limit *= 2
	}
}

func newestUpdate(cursor time.Time, page []model.MatchRecord) time.Time {
	for _, m := range page {
		if m.UpdatedAt.After(cursor) {
			cursor = m.UpdatedAt
		}
	}
	return cursor
}

func (e *Engine) refresh(ctx context.Context) (RefreshResult, error) {
	var res RefreshResult
	// Queued writes go first so a retried delete cannot be overtaken by an older persist.
	qctx, cancel := e.remoteCtx(ctx)
	if err := e.remote.flush(qctx); err != nil {
		e.logger.Warn("queued remote writes still running", "error", err)
	}
	cancel()
	res.RetriedDeletes, res.RetriedUploads = e.retryPending(ctx)

	start := e.Snapshot()
	cursor := start.Cursor()
	var fetched []model.MatchRecord
	for res.Pages < e.opts.MaxPages {
		page, next, more, err := e.fetchPage(ctx, cursor)
		if err != nil {
			e.logger.Warn("refresh from remote failed", "cursor", cursor, "error", err)
			return res, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
		}
		res.Pages++
		fetched = append(fetched, page...)
		advanced := next.After(cursor)
		cursor = next
		if !more || !advanced {
			break
		}
	}
	res.Fetched = len(fetched)
	res.Cursor = cursor

	next, _ := e.update(func(next *Collection) bool {
		res.Added, res.Updated = mergeInto(next.byID, fetched, next.deleted)
		for id, acked := range next.pendingDeletes {
			if acked > 0 && acked <= start.Version() {
				delete(next.pendingDeletes, id)
			}
		}
		for _, id := range res.Added {
			// Records that came from the remote do not need uploading.
			delete(next.pendingUploads, id)
		}
		if cursor.After(next.cursor) {
			next.cursor = cursor
		}
		next.lastRefresh = e.now()
		return true
	})
	ids := append(append([]string(nil), res.Added...), res.Updated...)
	e.publish(ctx, next, ChangeMerged, ids)
	e.logger.Info("refreshed from remote", "pages", res.Pages, "fetched", res.Fetched,
		"added", len(res.Added), "updated", len(res.Updated))
	return res, nil
}

// retryPending re-sends deletes and uploads that were never acknowledged. Failures are
// logged and left pending.
func (e *Engine) retryPending(ctx context.Context) (deletes, uploads int) {
	snap := e.Snapshot()
	if ids := snap.PendingDeletes(); len(ids) > 0 {
		dctx, cancel := e.remoteCtx(ctx)
		err := e.opts.Remote.Delete(dctx, ids)
		cancel()
		if err != nil {
			e.logger.Warn("retry remote delete failed", "ids", ids, "error", err)
		} else {
			e.clearPending(ctx, ids, nil)
			deletes = len(ids)
		}
	}

	var done []string
	for _, id := range snap.PendingUploads() {
		m, ok := snap.Get(id)
		if !ok {
			continue
		}
		pctx, cancel := e.remoteCtx(ctx)
		err := e.opts.Remote.Persist(pctx, m)
		cancel()
		if err != nil {
			e.logger.Warn("retry remote persist failed", "id", id, "error", err)
			continue
		}
		done = append(done, id)
	}
	if len(done) > 0 {
		e.clearPending(ctx, nil, done)
	}
	return deletes, len(done)
}
