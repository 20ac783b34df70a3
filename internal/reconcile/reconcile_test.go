package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pable/racquet-metrics/internal/model"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func rec(id string, startOffset time.Duration) model.MatchRecord {
	return model.MatchRecord{
		ID:         id,
		StartedAt:  t0.Add(startOffset),
		Sport:      model.SportPadel,
		FinalScore: model.Score{Self: 2, Opponent: 1},
		Winner:     model.SideSelf,
		UpdatedAt:  t0.Add(startOffset),
	}
}

type fakeRemote struct {
	mu        sync.Mutex
	records   map[string]model.MatchRecord
	fetches   int
	persisted []string
	deleted   []string

	fetchErr  error
	deleteErr error
	onFetch   func() // runs after the page is read, outside the lock
}

func newFakeRemote(recs ...model.MatchRecord) *fakeRemote {
	r := &fakeRemote{records: make(map[string]model.MatchRecord)}
	for _, m := range recs {
		r.records[m.ID] = m
	}
	return r
}

func (r *fakeRemote) FetchSince(_ context.Context, cursor time.Time, limit int) ([]model.MatchRecord, error) {
	r.mu.Lock()
	r.fetches++
	if r.fetchErr != nil {
		r.mu.Unlock()
		return nil, r.fetchErr
	}
	var page []model.MatchRecord
	for _, m := range r.records {
		if m.UpdatedAt.After(cursor) {
			page = append(page, m)
		}
	}
	sort.Slice(page, func(i, j int) bool { return page[i].UpdatedAt.Before(page[j].UpdatedAt) })
	if len(page) > limit {
		page = page[:limit]
	}
	hook := r.onFetch
	r.onFetch = nil
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	return page, nil
}

func (r *fakeRemote) Persist(_ context.Context, m model.MatchRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[m.ID] = m
	r.persisted = append(r.persisted, m.ID)
	return nil
}

func (r *fakeRemote) Delete(_ context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return r.deleteErr
	}
	for _, id := range ids {
		delete(r.records, id)
	}
	r.deleted = append(r.deleted, ids...)
	return nil
}

func (r *fakeRemote) setDeleteErr(err error) {
	r.mu.Lock()
	r.deleteErr = err
	r.mu.Unlock()
}

func (r *fakeRemote) fetchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetches
}

type fakeLocal struct {
	mu      sync.Mutex
	blob    []byte
	version int64
	saves   int
}

func (l *fakeLocal) Load(context.Context) ([]byte, int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blob, l.version, nil
}

func (l *fakeLocal) Save(_ context.Context, version int64, blob []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.saves++
	if version <= l.version {
		return nil
	}
	l.blob, l.version = blob, version
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	if opts.Now == nil {
		opts.Now = (&clock{now: t0.Add(24 * time.Hour)}).Now
	}
	e := New(opts)
	t.Cleanup(e.Close)
	return e
}

func flush(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Flush(ctx))
}

func ids(ms []model.MatchRecord) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

func TestMerge_UnionMinusDeleted(t *testing.T) {
	local := []model.MatchRecord{rec("a", 0), rec("b", time.Hour), rec("c", 2*time.Hour)}
	remote := []model.MatchRecord{rec("b", time.Hour), rec("c", 2*time.Hour), rec("d", 3*time.Hour), rec("e", 4*time.Hour)}

	got := Merge(local, remote, []string{"c", "e"})

	assert.Equal(t, []string{"d", "b", "a"}, ids(got))
}

func TestMerge_LocalFieldsWin(t *testing.T) {
	loc := "club court 3"
	local := rec("a", 0)
	local.FinalScore = model.Score{Self: 6, Opponent: 4}
	remote := rec("a", 0)
	remote.FinalScore = model.Score{Self: 1, Opponent: 6}
	remote.Location = &loc
	remote.UpdatedAt = t0.Add(time.Hour)

	got := Merge([]model.MatchRecord{local}, []model.MatchRecord{remote}, nil)

	require.Len(t, got, 1)
	assert.Equal(t, model.Score{Self: 6, Opponent: 4}, got[0].FinalScore)
	require.NotNil(t, got[0].Location)
	assert.Equal(t, loc, *got[0].Location)
	assert.Equal(t, t0.Add(time.Hour), got[0].UpdatedAt)
}

func TestMergeRecords_WearableSubfields(t *testing.T) {
	hr, kcal := 142, 610.0
	base := rec("a", 0)
	base.Wearable = &model.WearableMetrics{AvgHeartRate: &hr}
	other := rec("a", 0)
	other.Wearable = &model.WearableMetrics{Calories: &kcal}

	merged, changed := MergeRecords(base, other)

	assert.True(t, changed)
	require.NotNil(t, merged.Wearable)
	assert.Equal(t, 142, *merged.Wearable.AvgHeartRate)
	assert.Equal(t, 610.0, *merged.Wearable.Calories)
	assert.Nil(t, base.Wearable.Calories, "base must not be modified")

	_, changed = MergeRecords(merged, other)
	assert.False(t, changed)
}

func TestAdd_AssignsIDAndMerges(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()

	m := rec("", 0)
	m.UpdatedAt = time.Time{}
	stored := e.Add(ctx, m)
	require.NotEmpty(t, stored.ID)
	assert.False(t, stored.UpdatedAt.IsZero())

	hr := 150
	again := model.MatchRecord{ID: stored.ID, Wearable: &model.WearableMetrics{MaxHeartRate: &hr}}
	merged := e.Add(ctx, again)

	assert.Equal(t, 1, e.Snapshot().Len())
	assert.Equal(t, model.SportPadel, merged.Sport)
	require.NotNil(t, merged.Wearable)
	assert.Equal(t, 150, *merged.Wearable.MaxHeartRate)
}

func TestSnapshotsAreImmutable(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()
	e.Add(ctx, rec("a", 0))
	before := e.Snapshot()

	e.Add(ctx, rec("b", time.Hour))
	e.Delete(ctx, []string{"a"})

	assert.Equal(t, []string{"a"}, before.IDs())
	assert.Equal(t, []string{"b"}, e.Snapshot().IDs())
	assert.Greater(t, e.Snapshot().Version(), before.Version())
}

func TestDelete_UnknownIDsIgnored(t *testing.T) {
	var changes []Change
	e := newEngine(t, Options{OnChange: func(c Change) { changes = append(changes, c) }})
	ctx := context.Background()
	e.Add(ctx, rec("a", 0))

	assert.Nil(t, e.Delete(ctx, []string{"zzz"}))
	assert.Equal(t, []string{"a"}, e.Delete(ctx, []string{"a", "zzz"}))
	require.Len(t, changes, 2)
	assert.Equal(t, ChangeDeleted, changes[1].Kind)
}

func TestDeleteThenRefresh_NotResurrectedWhileUnacknowledged(t *testing.T) {
	remote := newFakeRemote(rec("a", 0), rec("b", time.Hour))
	e := newEngine(t, Options{Remote: remote})
	ctx := context.Background()

	_, err := e.Refresh(ctx, true)
	require.NoError(t, err)
	require.Equal(t, 2, e.Snapshot().Len())

	remote.setDeleteErr(errors.New("offline"))
	e.Delete(ctx, []string{"a"})
	flush(t, e)
	assert.Equal(t, []string{"a"}, e.Snapshot().PendingDeletes())

	// Bring the remote copy back into the fetch window.
	remote.mu.Lock()
	a := remote.records["a"]
	a.UpdatedAt = t0.Add(10 * time.Hour)
	remote.records["a"] = a
	remote.mu.Unlock()

	res, err := e.Refresh(ctx, true)
	require.NoError(t, err)
	assert.Zero(t, res.RetriedDeletes)
	assert.Empty(t, res.Added)
	assert.False(t, e.Snapshot().Has("a"))
	assert.Equal(t, []string{"a"}, e.Snapshot().PendingDeletes())

	remote.setDeleteErr(nil)
	res, err = e.Refresh(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RetriedDeletes)
	assert.False(t, e.Snapshot().Has("a"))
	assert.Empty(t, e.Snapshot().PendingDeletes())
}

func TestDeleteAcknowledgedDuringRefresh_NotResurrected(t *testing.T) {
	remote := newFakeRemote(rec("a", 0), rec("b", time.Hour))
	e := newEngine(t, Options{Remote: remote})
	ctx := context.Background()
	_, err := e.Refresh(ctx, true)
	require.NoError(t, err)

	// The page below is read before the delete lands remotely and is merged after the ack.
	remote.mu.Lock()
	a := remote.records["a"]
	a.UpdatedAt = t0.Add(10 * time.Hour)
	remote.records["a"] = a
	remote.onFetch = func() {
		e.Delete(ctx, []string{"a"})
		flush(t, e)
	}
	remote.mu.Unlock()

	_, err = e.Refresh(ctx, true)
	require.NoError(t, err)
	assert.False(t, e.Snapshot().Has("a"))
	assert.Contains(t, remote.deleted, "a")
	assert.Len(t, e.Snapshot().pendingDeletes, 1, "tombstone kept until a later refresh")

	_, err = e.Refresh(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, e.Snapshot().pendingDeletes)
	assert.False(t, e.Snapshot().Has("a"))
}

func TestDeleteThenReAdd_MatchPresent(t *testing.T) {
	remote := newFakeRemote()
	remote.setDeleteErr(errors.New("offline"))
	e := newEngine(t, Options{Remote: remote})
	ctx := context.Background()

	e.Add(ctx, rec("a", 0))
	e.Delete(ctx, []string{"a"})
	e.Add(ctx, rec("a", 0))
	flush(t, e)

	assert.True(t, e.Snapshot().Has("a"))
	assert.Empty(t, e.Snapshot().PendingDeletes())

	remote.setDeleteErr(nil)
	_, err := e.Refresh(ctx, true)
	require.NoError(t, err)
	assert.True(t, e.Snapshot().Has("a"))
}

func TestRefresh_StalenessGate(t *testing.T) {
	clk := &clock{now: t0.Add(24 * time.Hour)}
	remote := newFakeRemote(rec("a", 0))
	e := newEngine(t, Options{Remote: remote, Freshness: time.Hour, Now: clk.Now})
	ctx := context.Background()

	res, err := e.Refresh(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, res.Skipped)
	assert.Equal(t, 1, remote.fetchCount())

	clk.advance(30 * time.Minute)
	res, err = e.Refresh(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "fresh", res.Skipped)
	assert.Equal(t, 1, remote.fetchCount())

	res, err = e.Refresh(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, res.Skipped)
	assert.Equal(t, 2, remote.fetchCount())

	clk.advance(2 * time.Hour)
	_, err = e.Refresh(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 3, remote.fetchCount())
}

func TestRefresh_NotAuthenticated(t *testing.T) {
	var mu sync.Mutex
	signedIn := false
	auth := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return signedIn
	}
	remote := newFakeRemote(rec("r", 0))
	e := newEngine(t, Options{Remote: remote, Authenticated: auth})
	ctx := context.Background()

	e.Add(ctx, rec("local", time.Hour))
	flush(t, e)
	res, err := e.Refresh(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, "not authenticated", res.Skipped)
	assert.Zero(t, remote.fetchCount())
	assert.Empty(t, remote.persisted)
	assert.Equal(t, []string{"local"}, e.Snapshot().PendingUploads())

	mu.Lock()
	signedIn = true
	mu.Unlock()
	res, err = e.Refresh(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RetriedUploads)
	assert.Equal(t, []string{"r"}, res.Added)
	assert.Empty(t, e.Snapshot().PendingUploads())
	assert.ElementsMatch(t, []string{"local", "r"}, e.Snapshot().IDs())
}

func TestRefresh_NoRemote(t *testing.T) {
	e := newEngine(t, Options{})
	res, err := e.Refresh(context.Background(), true)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Skipped)
}

func TestRefresh_FetchErrorLeavesCollection(t *testing.T) {
	remote := newFakeRemote(rec("a", 0))
	remote.fetchErr = errors.New("503 service unavailable")
	e := newEngine(t, Options{Remote: remote})
	ctx := context.Background()
	e.Add(ctx, rec("local", time.Hour))
	flush(t, e)
	before := e.Snapshot()

	_, err := e.Refresh(ctx, true)

	require.ErrorIs(t, err, ErrRefreshFailed)
	assert.Same(t, before, e.Snapshot())
	assert.True(t, e.Snapshot().LastRefresh().IsZero())
}

func TestRefresh_PagesWithCursor(t *testing.T) {
	var recs []model.MatchRecord
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		recs = append(recs, rec(id, time.Duration(i)*time.Hour))
	}
	remote := newFakeRemote(recs...)
	e := newEngine(t, Options{Remote: remote, PageSize: 2})
	ctx := context.Background()

	res, err := e.Refresh(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, 5, res.Fetched)
	assert.Len(t, res.Added, 5)
	assert.Equal(t, t0.Add(4*time.Hour), e.Snapshot().Cursor())
	assert.Equal(t, []string{"e", "d", "c", "b", "a"}, e.Snapshot().IDs())

	res, err = e.Refresh(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pages)
	assert.Zero(t, res.Fetched)
}

func TestRefresh_MaxPages(t *testing.T) {
	var recs []model.MatchRecord
	for i := 0; i < 10; i++ {
		recs = append(recs, rec(string(rune('a'+i)), time.Duration(i)*time.Minute))
	}
	e := newEngine(t, Options{Remote: newFakeRemote(recs...), PageSize: 2, MaxPages: 2})

	res, err := e.Refresh(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 4, e.Snapshot().Len())

	res, err = e.Refresh(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 8, e.Snapshot().Len())
}

func TestAdd_PersistsRemotely(t *testing.T) {
	remote := newFakeRemote()
	e := newEngine(t, Options{Remote: remote})
	e.Add(context.Background(), rec("a", 0))
	flush(t, e)

	assert.Equal(t, []string{"a"}, remote.persisted)
	assert.Empty(t, e.Snapshot().PendingUploads())
}

func TestLoad_RestoresPersistedState(t *testing.T) {
	local := &fakeLocal{}
	remote := newFakeRemote()
	remote.setDeleteErr(errors.New("offline"))
	ctx := context.Background()

	first := New(Options{Local: local, Remote: remote})
	first.Add(ctx, rec("a", 0))
	first.Add(ctx, rec("b", time.Hour))
	first.Delete(ctx, []string{"b"})
	require.NoError(t, first.Flush(ctx))
	first.Close()
	stored := local.version

	var loaded []Change
	second := newEngine(t, Options{Local: local, OnChange: func(c Change) { loaded = append(loaded, c) }})
	second.Add(ctx, rec("c", 2*time.Hour))
	require.NoError(t, second.Load(ctx))

	snap := second.Snapshot()
	assert.Equal(t, []string{"c", "a"}, snap.IDs())
	assert.Equal(t, []string{"b"}, snap.PendingDeletes())
	assert.Greater(t, snap.Version(), stored)
	require.NotEmpty(t, loaded)
	assert.Equal(t, ChangeLoaded, loaded[len(loaded)-1].Kind)
}

func TestLoad_EmptyStore(t *testing.T) {
	e := newEngine(t, Options{Local: &fakeLocal{}})
	require.NoError(t, e.Load(context.Background()))
	assert.Zero(t, e.Snapshot().Len())
}

func TestDecode_MergesDuplicateIDs(t *testing.T) {
	hr := 120
	a1 := rec("a", 0)
	a2 := rec("a", 0)
	a2.Wearable = &model.WearableMetrics{AvgHeartRate: &hr}
	blob, err := json.Marshal(state{Version: 3, Matches: []model.MatchRecord{a1, a2}, PendingUploads: []string{"a", "gone"}})
	require.NoError(t, err)

	decoded, err := Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, 1, decoded.Len())
	assert.Equal(t, int64(3), decoded.Version())
	m, _ := decoded.Get("a")
	require.NotNil(t, m.Wearable)
	assert.Equal(t, 120, *m.Wearable.AvgHeartRate)
	assert.Equal(t, []string{"a"}, decoded.PendingUploads())

	_, err = Decode([]byte("{not json"))
	assert.Error(t, err)
}

func TestFind_Prefix(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()
	e.Add(ctx, rec("abc123", 0))
	e.Add(ctx, rec("abd456", time.Hour))

	m, err := e.Snapshot().Find("abc")
	require.NoError(t, err)
	assert.Equal(t, "abc123", m.ID)

	_, err = e.Snapshot().Find("ab")
	assert.ErrorContains(t, err, "ambiguous")

	_, err = e.Snapshot().Find("zz")
	assert.Error(t, err)
}

func TestClear_RemovesEverything(t *testing.T) {
	remote := newFakeRemote()
	e := newEngine(t, Options{Remote: remote})
	ctx := context.Background()
	e.Add(ctx, rec("a", 0))
	e.Add(ctx, rec("b", time.Hour))

	removed := e.Clear(ctx)
	flush(t, e)

	assert.ElementsMatch(t, []string{"a", "b"}, removed)
	assert.Zero(t, e.Snapshot().Len())
	assert.ElementsMatch(t, []string{"a", "b"}, remote.deleted)
}

func TestRefresh_BoundaryTimestampGroupNotSkipped(t *testing.T) {
	// b, c and d share a timestamp that straddles the first page cut.
	remote := newFakeRemote(rec("a", time.Hour), rec("b", 2*time.Hour), rec("c", 2*time.Hour),
		rec("d", 2*time.Hour), rec("e", 3*time.Hour))
	e := newEngine(t, Options{Remote: remote, PageSize: 2})

	res, err := e.Refresh(context.Background(), true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c", "d", "e"}, e.Snapshot().IDs())
	assert.Equal(t, 5, res.Fetched)
	assert.Equal(t, t0.Add(3*time.Hour), e.Snapshot().Cursor())
}

func TestRefresh_SingleTimestampLargerThanPage(t *testing.T) {
	var recs []model.MatchRecord
	for i := 0; i < 7; i++ {
		recs = append(recs, rec(fmt.Sprintf("m%d", i), time.Hour))
	}
	e := newEngine(t, Options{Remote: newFakeRemote(recs...), PageSize: 2})

	_, err := e.Refresh(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 7, e.Snapshot().Len())
	assert.Equal(t, t0.Add(time.Hour), e.Snapshot().Cursor())
}

// gatedRemote blocks the first fetch until released and fails it if its context was cancelled.
type gatedRemote struct {
	*fakeRemote
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedRemote) FetchSince(ctx context.Context, cursor time.Time, limit int) ([]model.MatchRecord, error) {
	g.once.Do(func() {
		close(g.started)
		<-g.release
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return g.fakeRemote.FetchSince(ctx, cursor, limit)
}

func TestRefresh_CallerCancelDoesNotAbortSharedRefresh(t *testing.T) {
	remote := &gatedRemote{
		fakeRemote: newFakeRemote(rec("a", 0)),
		started:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	e := newEngine(t, Options{Remote: remote})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := e.Refresh(ctx, true)
		errc <- err
	}()
	<-remote.started
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	close(remote.release)
	require.Eventually(t, func() bool { return e.Snapshot().Has("a") }, 5*time.Second, 10*time.Millisecond)
	assert.False(t, e.Snapshot().LastRefresh().IsZero())
}

func idSet(ids []string) map[string]bool {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

func randomRecords(rng *rand.Rand, universe int) []model.MatchRecord {
	var out []model.MatchRecord
	for i := 0; i < universe; i++ {
		if rng.Intn(2) == 0 {
			out = append(out, rec(fmt.Sprintf("m%02d", i), time.Duration(rng.Intn(48))*time.Hour))
		}
	}
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func TestMerge_RandomizedUnionMinusDeleted(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 2000; iter++ {
		local := randomRecords(rng, 20)
		remote := randomRecords(rng, 20)
		var deleted []string
		for i := 0; i < 20; i++ {
			if rng.Intn(4) == 0 {
				deleted = append(deleted, fmt.Sprintf("m%02d", i))
			}
		}

		want := map[string]bool{}
		for _, m := range append(append([]model.MatchRecord(nil), local...), remote...) {
			want[m.ID] = true
		}
		for _, id := range deleted {
			delete(want, id)
		}

		got := ids(Merge(local, remote, deleted))
		require.Len(t, got, len(idSet(got)), "iteration %d: duplicate ids in %v", iter, got)
		require.Equal(t, want, idSet(got), "iteration %d", iter)
	}
}

// TestEngine_RandomizedOperations drives adds, deletes, refreshes and writes from another
// device in random order and checks the collection after every step.
func TestEngine_RandomizedOperations(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			remote := newFakeRemote()
			e := newEngine(t, Options{Remote: remote, PageSize: 3})
			ctx := context.Background()

			offset := time.Duration(0)
			stamp := func() time.Duration {
				offset += time.Minute
				return offset
			}
			gone := map[string]bool{}
			injected := 0

			for step := 0; step < 150; step++ {
				before := idSet(e.Snapshot().IDs())
				var op string
				switch r := rng.Intn(10); {
				case r < 4:
					id := fmt.Sprintf("m%d", rng.Intn(8))
					op = "add " + id
					e.Add(ctx, rec(id, stamp()))
					delete(gone, id)
					require.True(t, e.Snapshot().Has(id), op)
					before[id] = true
					require.Equal(t, before, idSet(e.Snapshot().IDs()), op)
				case r < 7:
					var victims []string
					for id := range before {
						if rng.Intn(3) == 0 {
							victims = append(victims, id)
						}
					}
					op = fmt.Sprintf("delete %v", victims)
					e.Delete(ctx, victims)
					for _, id := range victims {
						gone[id] = true
						delete(before, id)
					}
					require.Equal(t, before, idSet(e.Snapshot().IDs()), op)
				case r < 8:
					injected++
					id := fmt.Sprintf("r%d", injected)
					op = "remote write " + id
					remote.mu.Lock()
					remote.records[id] = rec(id, stamp())
					remote.mu.Unlock()
				default:
					op = "refresh"
					_, err := e.Refresh(ctx, true)
					require.NoError(t, err)
					after := idSet(e.Snapshot().IDs())
					remote.mu.Lock()
					allowed := idSet(nil)
					for id := range remote.records {
						allowed[id] = true
					}
					remote.mu.Unlock()
					for id := range before {
						require.True(t, after[id], "%s dropped %s", op, id)
						allowed[id] = true
					}
					for id := range after {
						require.True(t, allowed[id], "%s invented %s", op, id)
					}
				}

				snap := e.Snapshot()
				require.Len(t, snap.IDs(), len(idSet(snap.IDs())), "step %d %s: duplicate ids", step, op)
				require.Equal(t, snap.Len(), len(snap.List()), "step %d %s", step, op)
				for id := range gone {
					require.False(t, snap.Has(id), "step %d %s: deleted %s came back", step, op, id)
				}
			}
		})
	}
}
