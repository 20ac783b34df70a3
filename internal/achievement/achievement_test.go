package achievement

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pable/racquet-metrics/internal/model"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func winsCatalog() Catalog {
	return Catalog{
		Version: "test/1",
		Achievements: []model.AchievementDefinition{{
			Type: "ten_wins", Name: "Ten Wins", Metric: model.MetricWins,
			Tiers: []model.Tier{
				{Level: 1, Name: "Bronze", Threshold: 5, Points: 10},
				{Level: 2, Name: "Silver", Threshold: 10, Points: 25},
				{Level: 3, Name: "Gold", Threshold: 25, Points: 50},
			},
		}},
	}
}

func history(wins, losses int) []model.MatchRecord {
	var out []model.MatchRecord
	for i := 0; i < wins+losses; i++ {
		winner := model.SideSelf
		if i >= wins {
			winner = model.SideOpponent
		}
		out = append(out, model.MatchRecord{
			ID:        fmt.Sprintf("m%02d", i),
			StartedAt: t0.Add(time.Duration(i) * time.Hour),
			Sport:     model.SportPickleball,
			Winner:    winner,
			Duration:  20 * time.Minute,
		})
	}
	return out
}

func levels(unlocks []model.Unlock) []int {
	var out []int
	for _, u := range unlocks {
		out = append(out, u.Tier.Level)
	}
	return out
}

func TestEvaluateMultiTierJumpEmitsEachTier(t *testing.T) {
	progress, unlocks := Evaluate("u1", history(10, 0), winsCatalog(), nil, nil, t0)
	assert.Equal(t, []int{1, 2}, levels(unlocks))
	p := progress["ten_wins"]
	assert.Equal(t, 2, p.TierLevel())
	assert.Equal(t, 10.0, p.CurrentValue)
	assert.Equal(t, 35, TotalPoints(progress, winsCatalog()))
}

func TestEvaluateTenthWinUnlocksSilverOnly(t *testing.T) {
	cat := winsCatalog()
	progress, unlocks := Evaluate("u1", history(9, 0), cat, nil, nil, t0)
	require.Equal(t, []int{1}, levels(unlocks))

	progress, unlocks = Evaluate("u1", history(10, 0), cat, progress, nil, t0.Add(time.Hour))
	assert.Equal(t, []int{2}, levels(unlocks))
	assert.Equal(t, "Silver", unlocks[0].Tier.Name)
	assert.Equal(t, 2, progress["ten_wins"].TierLevel())
}

func TestEvaluateIsIdempotent(t *testing.T) {
	cat := Builtin()
	matches := history(12, 3)
	first, _ := Evaluate("u1", matches, cat, nil, nil, t0)

	again, unlocks := Evaluate("u1", matches, cat, first, nil, t0.Add(24*time.Hour))
	assert.Empty(t, unlocks)
	assert.Equal(t, first, again)
	assert.Empty(t, Changed(first, again))
}

func TestEvaluateTierNeverRegresses(t *testing.T) {
	cat := Catalog{Achievements: []model.AchievementDefinition{{
		Type: "rate", Metric: model.MetricWinRate, MinMatches: 4,
		Tiers: []model.Tier{{Level: 1, Threshold: 50, Points: 5}, {Level: 2, Threshold: 75, Points: 10}},
	}}}

	progress, unlocks := Evaluate("u1", history(4, 0), cat, nil, nil, t0)
	require.Len(t, unlocks, 2)

	// Win rate drops to 40%: the value follows, the tier stays.
	progress, unlocks = Evaluate("u1", history(4, 6), cat, progress, nil, t0)
	assert.Empty(t, unlocks)
	assert.InDelta(t, 40.0, progress["rate"].CurrentValue, 0.001)
	assert.Equal(t, 2, progress["rate"].TierLevel())
}

func TestEvaluateCumulativeValueNeverDecreases(t *testing.T) {
	cat := winsCatalog()
	progress, _ := Evaluate("u1", history(7, 0), cat, nil, nil, t0)
	// Matches were deleted locally; the count does not go back down.
	progress, unlocks := Evaluate("u1", history(3, 0), cat, progress, nil, t0)
	assert.Empty(t, unlocks)
	assert.Equal(t, 7.0, progress["ten_wins"].CurrentValue)
}

func wins(prefix string, from, n int) []model.MatchRecord {
	var out []model.MatchRecord
	for i := 0; i < n; i++ {
		out = append(out, model.MatchRecord{
			ID:        fmt.Sprintf("%s%02d", prefix, i),
			StartedAt: t0.Add(time.Duration(from+i) * time.Hour),
			Sport:     model.SportPickleball,
			Winner:    model.SideSelf,
			Duration:  20 * time.Minute,
		})
	}
	return out
}

func TestEvaluateCountResumesOnlyPastStoredMaximum(t *testing.T) {
	cat := winsCatalog()
	all := history(7, 0)
	progress, _ := Evaluate("u1", all, cat, nil, nil, t0)

	kept := append([]model.MatchRecord(nil), all[:3]...)
	progress, _ = Evaluate("u1", kept, cat, progress, nil, t0)
	require.Equal(t, 7.0, progress["ten_wins"].CurrentValue)

	// Four new wins bring the live count back to 7, which the stored value already covers.
	current := append(kept, wins("n", 100, 4)...)
	progress, unlocks := Evaluate("u1", current, cat, progress, nil, t0)
	assert.Empty(t, unlocks)
	assert.Equal(t, 7.0, progress["ten_wins"].CurrentValue)

	// Beyond the old maximum the value follows the history again.
	current = append(current, wins("p", 200, 3)...)
	progress, unlocks = Evaluate("u1", current, cat, progress, nil, t0)
	assert.Equal(t, 10.0, progress["ten_wins"].CurrentValue)
	assert.Equal(t, []int{2}, levels(unlocks))
}

func TestEvaluateRandomHistoriesKeepLedgerMonotonic(t *testing.T) {
	cat := Catalog{Version: "test/rand", Achievements: []model.AchievementDefinition{
		{Type: "wins", Metric: model.MetricWins, Tiers: []model.Tier{
			{Level: 1, Threshold: 2, Points: 1}, {Level: 2, Threshold: 5, Points: 2}, {Level: 3, Threshold: 9, Points: 4}}},
		{Type: "played", Metric: model.MetricMatchesPlayed, Tiers: []model.Tier{
			{Level: 1, Threshold: 4, Points: 1}, {Level: 2, Threshold: 12, Points: 2}}},
		{Type: "streak", Metric: model.MetricWinStreak, Tiers: []model.Tier{
			{Level: 1, Threshold: 2, Points: 1}, {Level: 2, Threshold: 4, Points: 2}, {Level: 3, Threshold: 6, Points: 4}}},
		{Type: "rate", Metric: model.MetricWinRate, MinMatches: 4, Tiers: []model.Tier{
			{Level: 1, Threshold: 40, Points: 1}, {Level: 2, Threshold: 60, Points: 2}, {Level: 3, Threshold: 80, Points: 4}}},
		{Type: "sports", Metric: model.MetricSportsPlayed, Tiers: []model.Tier{
			{Level: 1, Threshold: 2, Points: 1}, {Level: 2, Threshold: 3, Points: 2}}},
	}}
	require.NoError(t, cat.Validate())
	sports := []model.Sport{model.SportTennis, model.SportPadel, model.SportPickleball}

	for seed := int64(1); seed <= 50; seed++ {
		rng := rand.New(rand.NewSource(seed))
		var matches []model.MatchRecord
		var progress map[string]model.AchievementProgress
		credited := map[string]bool{}
		next := 0

		for step := 0; step < 60; step++ {
			if len(matches) > 0 && rng.Intn(3) == 0 {
				// Drop a random slice of history.
				i := rng.Intn(len(matches))
				j := i + 1 + rng.Intn(len(matches)-i)
				matches = append(matches[:i:i], matches[j:]...)
			} else {
				for n := 1 + rng.Intn(3); n > 0; n-- {
					winner := model.SideSelf
					if rng.Intn(2) == 0 {
						winner = model.SideOpponent
					}
					matches = append(matches, model.MatchRecord{
						ID:        fmt.Sprintf("s%d-m%03d", seed, next),
						StartedAt: t0.Add(time.Duration(next) * time.Hour),
						Sport:     sports[rng.Intn(len(sports))],
						Winner:    winner,
						Duration:  30 * time.Minute,
					})
					next++
				}
			}

			prev := progress
			var unlocks []model.Unlock
			progress, unlocks = Evaluate("u1", matches, cat, prev, nil, t0.Add(time.Duration(step)*time.Minute))

			for _, u := range unlocks {
				key := fmt.Sprintf("%s/%d", u.Type, u.Tier.Level)
				require.False(t, credited[key], "seed %d step %d: %s unlocked twice", seed, step, key)
				credited[key] = true
			}
			for _, def := range cat.Achievements {
				before, after := prev[def.Type], progress[def.Type]
				require.GreaterOrEqual(t, after.TierLevel(), before.TierLevel(), "seed %d step %d: %s tier regressed", seed, step, def.Type)
				if Cumulative(def.Metric) {
					require.GreaterOrEqual(t, after.CurrentValue, before.CurrentValue, "seed %d step %d: %s value went down", seed, step, def.Type)
				}
				for level := 1; level <= after.TierLevel(); level++ {
					require.True(t, credited[fmt.Sprintf("%s/%d", def.Type, level)],
						"seed %d step %d: %s level %d credited without an unlock", seed, step, def.Type, level)
				}
			}

			again, repeat := Evaluate("u1", matches, cat, progress, nil, t0.Add(time.Duration(step)*time.Minute+time.Second))
			require.Empty(t, repeat, "seed %d step %d: re-evaluation unlocked tiers", seed, step)
			require.Equal(t, progress, again, "seed %d step %d: re-evaluation changed the ledger", seed, step)
		}
	}
}

func TestEvaluateRateBelowMinimumIsNotCredited(t *testing.T) {
	cat := Catalog{Achievements: []model.AchievementDefinition{{
		Type: "rate", Metric: model.MetricWinRate, MinMatches: 10,
		Tiers: []model.Tier{{Level: 1, Threshold: 50, Points: 5}},
	}}}
	progress, unlocks := Evaluate("u1", history(3, 0), cat, nil, nil, t0)
	assert.Empty(t, unlocks)
	assert.NotContains(t, progress, "rate")
}

func TestMetricValues(t *testing.T) {
	kcal := 350.0
	matches := history(3, 1)
	matches[0].Sport = model.SportTennis
	matches[1].Wearable = &model.WearableMetrics{Calories: &kcal}
	matches[2].Events = []model.GameEvent{
		{Score: model.Score{Opponent: 1}, ScoredBy: model.SideOpponent},
		{Score: model.Score{Opponent: 2}, ScoredBy: model.SideOpponent},
		{Score: model.Score{Opponent: 3}, ScoredBy: model.SideOpponent},
		{Score: model.Score{Opponent: 4}, ScoredBy: model.SideOpponent},
		{Score: model.Score{Opponent: 5}, ScoredBy: model.SideOpponent},
		{Score: model.Score{Self: 1, Opponent: 5}, ScoredBy: model.SideSelf, OffServe: true},
		{Score: model.Score{Self: 2, Opponent: 5}, ScoredBy: model.SideSelf},
		{Score: model.Score{Self: 3, Opponent: 5}, ScoredBy: model.SideSelf},
		{Score: model.Score{Self: 4, Opponent: 5}, ScoredBy: model.SideSelf},
		{Score: model.Score{Self: 5, Opponent: 5}, ScoredBy: model.SideSelf},
		{Score: model.Score{Self: 6, Opponent: 5}, ScoredBy: model.SideSelf},
	}

	cases := []struct {
		metric model.Metric
		sport  model.Sport
		want   float64
	}{
		{model.MetricMatchesPlayed, "", 4},
		{model.MetricMatchesPlayed, model.SportPickleball, 3},
		{model.MetricWins, "", 3},
		{model.MetricWinStreak, "", 3},
		{model.MetricComebackWins, "", 1},
		{model.MetricMinutesPlayed, "", 80},
		{model.MetricAces, "", 1},
		{model.MetricLongestRun, "", 6},
		{model.MetricSportsPlayed, "", 2},
		{model.MetricCalories, "", 350},
	}
	for _, c := range cases {
		def := model.AchievementDefinition{Metric: c.metric, Sport: c.sport}
		got, ok := MetricValue(&def, matches, nil)
		assert.True(t, ok, c.metric)
		assert.Equal(t, c.want, got, "%s/%s", c.metric, c.sport)
	}
}

func TestBuiltinCatalogIsValid(t *testing.T) {
	require.NoError(t, Builtin().Validate())
}

func TestValidateRejectsNonIncreasingTiers(t *testing.T) {
	cat := winsCatalog()
	cat.Achievements[0].Tiers[2].Threshold = 10
	assert.ErrorIs(t, cat.Validate(), ErrInvalidCatalog)
}

func TestLoadCatalogFromTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.toml")
	data := `version = "club/2"

[[achievement]]
type = "club_regular"
name = "Club Regular"
category = "volume"
metric = "matches_played"

[[achievement.tier]]
level = 1
name = "Bronze"
threshold = 3
points = 5

[[achievement.tier]]
level = 2
name = "Silver"
threshold = 6
points = 15
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	sup := &FileSupplier{Path: path}
	cat, err := sup.Catalog()
	require.NoError(t, err)
	assert.Equal(t, "club/2", cat.Version)
	def, ok := cat.Lookup("club_regular")
	require.True(t, ok)
	assert.Len(t, def.Tiers, 2)
	assert.Equal(t, 6.0, def.Tiers[1].Threshold)
}

// ---- Ledger ----

type memStore struct {
	mu      sync.Mutex
	rows    map[string]map[string]model.AchievementProgress
	saves   int
	failing bool
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]map[string]model.AchievementProgress)}
}

func (s *memStore) LoadProgress(_ context.Context, userID string) (map[string]model.AchievementProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]model.AchievementProgress)
	for k, v := range s.rows[userID] {
		out[k] = v
	}
	return out, nil
}

func (s *memStore) SaveProgress(_ context.Context, rows []model.AchievementProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("disk full")
	}
	s.saves++
	for _, r := range rows {
		if s.rows[r.UserID] == nil {
			s.rows[r.UserID] = make(map[string]model.AchievementProgress)
		}
		s.rows[r.UserID][r.Type] = r
	}
	return nil
}

func (s *memStore) ResetProgress(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, userID)
	return nil
}

func newTestLedger(t *testing.T, store ProgressStore, onUnlock func([]model.Unlock)) *Ledger {
	t.Helper()
	l := NewLedger(LedgerOptions{
		Store:    store,
		Catalog:  StaticSupplier(winsCatalog()),
		OnUnlock: onUnlock,
		Now:      func() time.Time { return t0 },
	})
	t.Cleanup(l.Close)
	return l
}

func TestLedgerConcurrentEvaluationsCreditOnce(t *testing.T) {
	var mu sync.Mutex
	var notified []model.Unlock
	l := newTestLedger(t, newMemStore(), func(u []model.Unlock) {
		mu.Lock()
		notified = append(notified, u...)
		mu.Unlock()
	})

	ctx := context.Background()
	matches := history(10, 0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Evaluate(ctx, "u1", matches)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2}, levels(notified))
}

func TestLedgerPersistsAndReloads(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	l := newTestLedger(t, store, nil)
	unlocks, err := l.Evaluate(ctx, "u1", history(5, 0))
	require.NoError(t, err)
	require.Len(t, unlocks, 1)

	// A fresh ledger over the same store sees bronze as already credited.
	l2 := newTestLedger(t, store, nil)
	unlocks, err = l2.Evaluate(ctx, "u1", history(5, 0))
	require.NoError(t, err)
	assert.Empty(t, unlocks)

	pts, err := l2.TotalPoints(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 10, pts)
}

func TestLedgerSaveFailureCreditsNothing(t *testing.T) {
	store := newMemStore()
	store.failing = true
	l := newTestLedger(t, store, nil)
	ctx := context.Background()

	_, err := l.Evaluate(ctx, "u1", history(5, 0))
	require.Error(t, err)

	store.mu.Lock()
	store.failing = false
	store.mu.Unlock()
	unlocks, err := l.Evaluate(ctx, "u1", history(5, 0))
	require.NoError(t, err)
	assert.Equal(t, []int{1}, levels(unlocks))
}

func TestLedgerReset(t *testing.T) {
	store := newMemStore()
	l := newTestLedger(t, store, nil)
	ctx := context.Background()

	_, err := l.Evaluate(ctx, "u1", history(10, 0))
	require.NoError(t, err)
	require.NoError(t, l.Reset(ctx, "u1"))

	rows, err := l.Progress(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, rows)

	// After a reset the tiers can be earned again.
	unlocks, err := l.Evaluate(ctx, "u1", history(5, 0))
	require.NoError(t, err)
	assert.Equal(t, []int{1}, levels(unlocks))
}

func TestLedgerEvaluateAtRejectsStaleEpoch(t *testing.T) {
	l := newTestLedger(t, newMemStore(), nil)
	ctx := context.Background()

	epoch, err := l.Epoch(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, l.Reset(ctx, "u1"))

	_, err = l.EvaluateAt(ctx, "u1", history(10, 0), epoch)
	require.ErrorIs(t, err, ErrStaleEvaluation)
	rows, err := l.Progress(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, rows)

	epoch, err = l.Epoch(ctx, "u1")
	require.NoError(t, err)
	unlocks, err := l.EvaluateAt(ctx, "u1", history(10, 0), epoch)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, levels(unlocks))
}

func TestLedgerClosed(t *testing.T) {
	l := NewLedger(LedgerOptions{Catalog: StaticSupplier(winsCatalog())})
	l.Close()
	_, err := l.Evaluate(context.Background(), "u1", history(1, 0))
	assert.ErrorIs(t, err, ErrLedgerClosed)
}
