package achievement

import (
	"sort"
	"time"

	"github.com/pable/racquet-metrics/internal/aggregator"
	"github.com/pable/racquet-metrics/internal/insight"
	"github.com/pable/racquet-metrics/internal/model"
	"github.com/pable/racquet-metrics/internal/scoring"
)

func knownMetric(m model.Metric) bool {
	switch m {
	case model.MetricMatchesPlayed, model.MetricWins, model.MetricWinStreak, model.MetricWinRate,
		model.MetricComebackWins, model.MetricMinutesPlayed, model.MetricAces, model.MetricLongestRun,
		model.MetricSportsPlayed, model.MetricCalories:
		return true
	}
	return false
}

// Cumulative reports whether a metric only ever grows with more history. Stored values of
// cumulative metrics never decrease; rate metrics follow the current history.
func Cumulative(m model.Metric) bool {
	return m != model.MetricWinRate
}

// DefaultInsight analyzes a match with its sport's rules, uncached.
func DefaultInsight(m *model.MatchRecord) model.InsightReport {
	return insight.Analyze(m, scoring.For(m.Sport))
}

func applies(def *model.AchievementDefinition, m *model.MatchRecord) bool {
	return def.Sport == "" || def.Sport == m.Sport
}

// MetricValue computes a definition's metric over the matches it applies to. ok is false when
// the metric cannot be judged yet (a rate below its minimum sample).
func MetricValue(def *model.AchievementDefinition, matches []model.MatchRecord, fn aggregator.InsightFunc) (value float64, ok bool) {
	if fn == nil {
		fn = DefaultInsight
	}
	subset := make([]model.MatchRecord, 0, len(matches))
	for i := range matches {
		if applies(def, &matches[i]) {
			subset = append(subset, matches[i])
		}
	}
	sort.SliceStable(subset, func(i, j int) bool { return subset[i].StartedAt.Before(subset[j].StartedAt) })

	switch def.Metric {
	case model.MetricMatchesPlayed:
		return float64(len(subset)), true
	case model.MetricWins:
		n := 0
		for i := range subset {
			if subset[i].Won() {
				n++
			}
		}
		return float64(n), true
	case model.MetricWinStreak:
		return float64(aggregator.CalculateStreaks(subset).LongestWin), true
	case model.MetricWinRate:
		wins, decided := 0, 0
		for i := range subset {
			switch subset[i].Winner {
			case model.SideSelf:
				wins++
				decided++
			case model.SideOpponent:
				decided++
			}
		}
		if decided == 0 || decided < def.MinMatches {
			return 0, false
		}
		return float64(wins) / float64(decided) * 100, true
	case model.MetricComebackWins:
		n := 0
		for i := range subset {
			if subset[i].Won() && subset[i].HasEvents() && fn(&subset[i]).ComebackSize >= insight.ComebackThreshold {
				n++
			}
		}
		return float64(n), true
	case model.MetricMinutesPlayed:
		var total time.Duration
		for i := range subset {
			total += subset[i].Duration
		}
		return total.Minutes(), true
	case model.MetricAces:
		n := 0
		for i := range subset {
			if subset[i].HasEvents() {
				n += fn(&subset[i]).Aces.Self
			}
		}
		return float64(n), true
	case model.MetricLongestRun:
		best := 0
		for i := range subset {
			if !subset[i].HasEvents() {
				continue
			}
			if run := fn(&subset[i]).LongestRun; run.Side == model.SideSelf && run.Length > best {
				best = run.Length
			}
		}
		return float64(best), true
	case model.MetricSportsPlayed:
		sports := make(map[model.Sport]bool)
		for i := range subset {
			sports[subset[i].Sport] = true
		}
		return float64(len(sports)), true
	case model.MetricCalories:
		var kcal float64
		for i := range subset {
			if w := subset[i].Wearable; w != nil && w.Calories != nil {
				kcal += *w.Calories
			}
		}
		return kcal, true
	}
	return 0, false
}

func lastMatchID(def *model.AchievementDefinition, matches []model.MatchRecord) string {
	var id string
	var latest time.Time
	for i := range matches {
		m := &matches[i]
		if applies(def, m) && (id == "" || m.StartedAt.After(latest)) {
			id, latest = m.ID, m.StartedAt
		}
	}
	return id
}

// Evaluate recomputes every achievement in cat for userID over matches, starting from prior.
// It returns the full updated progress map and one Unlock per tier credited in this call,
// lowest tier first. Progress is created lazily, cumulative values never decrease and the
// highest credited tier never regresses. Running it again on the same matches with its own
// output as prior yields no unlocks and an identical map.
func Evaluate(userID string, matches []model.MatchRecord, cat Catalog, prior map[string]model.AchievementProgress, fn aggregator.InsightFunc, now time.Time) (map[string]model.AchievementProgress, []model.Unlock) {
	out := make(map[string]model.AchievementProgress, len(prior))
	for k, v := range prior {
		out[k] = v
	}

	var unlocks []model.Unlock
	for di := range cat.Achievements {
		def := &cat.Achievements[di]
		prev, existed := prior[def.Type]

		value, ok := MetricValue(def, matches, fn)
		if Cumulative(def.Metric) && value < prev.CurrentValue {
			value = prev.CurrentValue
		}
		if !ok {
			value = prev.CurrentValue
		}
		if !existed && value == 0 {
			continue
		}

		level := prev.TierLevel()
		credited := level
		if ok {
			for _, t := range def.Tiers {
				if value >= t.Threshold && t.Level > credited {
					credited = t.Level
				}
			}
		}

		next := prev
		next.UserID = userID
		next.Type = def.Type
		next.CurrentValue = value
		if credited > 0 {
			c := credited
			next.HighestTier = &c
		}
		if id := lastMatchID(def, matches); id != "" {
			next.LastMatchID = id
		}
		if !existed || !sameProgress(prev, next) {
			next.LastEvaluatedAt = now
		}
		out[def.Type] = next

		for _, t := range def.Tiers {
			if t.Level > level && t.Level <= credited {
				unlocks = append(unlocks, model.Unlock{
					UserID:     userID,
					Type:       def.Type,
					Name:       def.Name,
					Tier:       t,
					Value:      value,
					UnlockedAt: now,
				})
			}
		}
	}
	return out, unlocks
}

func sameProgress(a, b model.AchievementProgress) bool {
	return a.CurrentValue == b.CurrentValue &&
		a.TierLevel() == b.TierLevel() &&
		a.LastMatchID == b.LastMatchID &&
		a.UserID == b.UserID
}

// Changed lists the progress rows of next that differ from prior, sorted by type.
func Changed(prior, next map[string]model.AchievementProgress) []model.AchievementProgress {
	var out []model.AchievementProgress
	for typ, p := range next {
		old, ok := prior[typ]
		if !ok || !sameProgress(old, p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// TotalPoints sums the points of every credited tier across the catalog.
func TotalPoints(progress map[string]model.AchievementProgress, cat Catalog) int {
	total := 0
	for _, def := range cat.Achievements {
		p, ok := progress[def.Type]
		if !ok {
			continue
		}
		for _, t := range def.Tiers {
			if t.Level <= p.TierLevel() {
				total += t.Points
			}
		}
	}
	return total
}
