// Package aggregator rolls a window of the match history into performance statistics.
package aggregator

import (
	"sort"

	"github.com/pable/racquet-metrics/internal/model"
)

// InsightFunc supplies the insight report for a match, usually a cache lookup.
type InsightFunc func(m *model.MatchRecord) model.InsightReport

// InWindow returns the matches inside w ordered oldest first.
func InWindow(matches []model.MatchRecord, w Window) []model.MatchRecord {
	out := make([]model.MatchRecord, 0, len(matches))
	for i := range matches {
		if w.Contains(matches[i].StartedAt) {
			out = append(out, matches[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Aggregate computes the stats for the matches inside w. Every match counts toward the
// outcome totals; serve and side-out means only use matches whose report carries the value
// and stay nil when none does.
func Aggregate(matches []model.MatchRecord, insight InsightFunc, w Window) model.AggregateStats {
	from, to := w.Bounds()
	stats := model.AggregateStats{From: from, To: to, BySport: make(map[model.Sport]int)}

	weekStart := w.weekStart()
	for i := range matches {
		if !matches[i].StartedAt.Before(weekStart) {
			stats.ThisWeek++
		}
	}

	window := InWindow(matches, w)
	var serveSum, sideOutSum float64
	decided := 0
	for i := range window {
		m := &window[i]
		stats.Matches++
		stats.TotalPlayed += m.Duration
		stats.BySport[m.Sport]++
		switch m.Winner {
		case model.SideSelf:
			stats.Wins++
			decided++
		case model.SideOpponent:
			stats.Losses++
			decided++
		}

		if insight == nil || !m.HasEvents() {
			continue
		}
		rep := insight(m)
		if v := rep.ServeEfficiency.Self; v != nil {
			serveSum += *v
			stats.ServeSamples++
		}
		if v := rep.SideOutRate.Self; v != nil {
			sideOutSum += *v
			stats.SideOutSamples++
		}
	}

	stats.WinRate = ratio(float64(stats.Wins), decided)
	stats.MeanServeEfficiency = ratio(serveSum, stats.ServeSamples)
	stats.MeanSideOutRate = ratio(sideOutSum, stats.SideOutSamples)
	if stats.WinRate != nil {
		*stats.WinRate *= 100
	}

	st := CalculateStreaks(window)
	stats.CurrentStreak = st.Current
	stats.LongestWinStreak = st.LongestWin
	stats.LongestLossStreak = st.LongestLoss
	return stats
}

func ratio(sum float64, n int) *float64 {
	if n == 0 {
		return nil
	}
	v := sum / float64(n)
	return &v
}
