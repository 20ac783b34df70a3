package report

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/pable/racquet-metrics/internal/achievement"
	"github.com/pable/racquet-metrics/internal/aggregator"
	"github.com/pable/racquet-metrics/internal/model"
	"github.com/pable/racquet-metrics/internal/reconcile"
	"github.com/pable/racquet-metrics/internal/storage"
)

const missing = "—"

func newTable(w io.Writer) *tablewriter.Table {
	return tablewriter.NewTable(w, tablewriter.WithConfig(tablewriter.Config{
		Row:    tw.CellConfig{Alignment: tw.CellAlignment{Global: tw.AlignRight}},
		Header: tw.CellConfig{Alignment: tw.CellAlignment{Global: tw.AlignCenter}},
	}))
}

// ShortID trims a match ID for display.
func ShortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func result(m *model.MatchRecord) string {
	switch m.Winner {
	case model.SideSelf:
		return "W"
	case model.SideOpponent:
		return "L"
	default:
		return missing
	}
}

func formatPct(p *float64) string {
	if p == nil {
		return missing
	}
	return fmt.Sprintf("%.0f%%", *p)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm", h, m)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}

func formatSets(sets []model.Score) string {
	if len(sets) == 0 {
		return missing
	}
	parts := make([]string, len(sets))
	for i, s := range sets {
		parts[i] = s.String()
	}
	return strings.Join(parts, " ")
}

// PrintMatchSummary prints a one-line summary header for the match.
func PrintMatchSummary(w io.Writer, m model.MatchRecord) {
	fmt.Fprintf(w, "\nSport: %s  |  Date: %s  |  Result: %s %s  |  Duration: %s  |  ID: %s\n\n",
		m.Sport, m.StartedAt.Local().Format("2006-01-02 15:04"), result(&m), m.FinalScore,
		formatDuration(m.Duration), m.ID)
}

// PrintMatchList prints one row per match, newest first as given.
func PrintMatchList(w io.Writer, matches []model.MatchRecord) {
	table := newTable(w)
	table.Header("ID", "DATE", "SPORT", "TYPE", "RESULT", "SCORE", "SETS", "DURATION", "EVENTS")
	for _, m := range matches {
		typ := string(m.MatchType)
		if typ == "" {
			typ = missing
		}
		table.Append(
			ShortID(m.ID),
			m.StartedAt.Local().Format("2006-01-02 15:04"),
			string(m.Sport),
			typ,
			result(&m),
			m.FinalScore.String(),
			formatSets(m.Sets),
			formatDuration(m.Duration),
			strconv.Itoa(len(m.Events)),
		)
	}
	table.Render()
}

// PrintInsight prints the derived report of one match.
func PrintInsight(w io.Writer, rep model.InsightReport) {
	fmt.Fprintf(w, "Narrative: %s\n", strings.ReplaceAll(string(rep.Narrative), "_", " "))
	if !rep.HasSequence {
		fmt.Fprintln(w, "No point-by-point data captured; only the final score is known.")
		return
	}
	fmt.Fprintf(w, "Events: %d of %d used  |  Lead changes: %d  |  Longest run: %d (%s)  |  Comeback: %d  |  Winner led %.0f%% of points\n",
		rep.EventsUsed, rep.EventsTotal, rep.LeadChanges, rep.LongestRun.Length, rep.LongestRun.Side,
		rep.ComebackSize, rep.PercentLeading)
	if !rep.Consistent {
		fmt.Fprintln(w, "Warning: the point sequence does not end on the recorded final score.")
	}
	for _, issue := range rep.Issues {
		fmt.Fprintf(w, "  ! %s\n", issue)
	}
	fmt.Fprintln(w)

	table := newTable(w)
	table.Header("SIDE", "MAX_LEAD", "ACES", "SERVE%", "SIDE_OUT%", "BREAKS")
	for _, side := range []model.Side{model.SideSelf, model.SideOpponent} {
		table.Append(
			side.String(),
			strconv.Itoa(rep.MaxLead.Get(side)),
			strconv.Itoa(rep.Aces.Get(side)),
			formatPct(rep.ServeEfficiency.Get(side)),
			formatPct(rep.SideOutRate.Get(side)),
			strconv.Itoa(rep.Breaks.Get(side)),
		)
	}
	table.Render()

	if len(rep.KeyMoments) > 0 {
		fmt.Fprintln(w)
		mt := newTable(w)
		mt.Header("MOMENT", "POINT", "TIME", "SIDE", "SCORE")
		for _, km := range rep.KeyMoments {
			mt.Append(
				strings.ReplaceAll(string(km.Kind), "_", " "),
				strconv.Itoa(km.Index+1),
				formatDuration(km.Elapsed),
				km.Side.String(),
				km.Display,
			)
		}
		mt.Render()
	}
	if len(rep.WinProbability) > 0 {
		last := rep.WinProbability[len(rep.WinProbability)-1]
		fmt.Fprintf(w, "\nWin probability: %s  (final %.0f%%)\n", Sparkline(rep.WinProbability), last*100)
	}
}

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// Sparkline renders values in [0, 1], downsampled to at most 60 columns.
func Sparkline(values []float64) string {
	const width = 60
	step := 1
	if len(values) > width {
		step = int(math.Ceil(float64(len(values)) / width))
	}
	var b strings.Builder
	for i := 0; i < len(values); i += step {
		v := math.Max(0, math.Min(1, values[i]))
		b.WriteRune(sparkRunes[int(math.Round(v*float64(len(sparkRunes)-1)))])
	}
	return b.String()
}

// PrintPerformance prints the aggregate stats of a trailing window.
func PrintPerformance(w io.Writer, st model.AggregateStats, days int) {
	label := fmt.Sprintf("last %d days", days)
	if days <= 0 {
		label = "all time"
	}
	fmt.Fprintf(w, "Performance, %s", label)
	if !st.From.IsZero() {
		fmt.Fprintf(w, " (%s to %s)", st.From.Format(time.DateOnly), st.To.Add(-time.Nanosecond).Format(time.DateOnly))
	}
	fmt.Fprint(w, "\n\n")

	winRate := formatPct(st.WinRate)
	if decided := st.Wins + st.Losses; decided > 0 {
		lo, hi := wilsonCI(st.Wins, decided)
		winRate = fmt.Sprintf("%s [%.0f-%.0f%%] %s", winRate, lo*100, hi*100, sampleFlag(decided))
	}

	table := newTable(w)
	table.Header("METRIC", "VALUE")
	table.Append("Matches", strconv.Itoa(st.Matches))
	table.Append("Wins / Losses", fmt.Sprintf("%d / %d", st.Wins, st.Losses))
	table.Append("Win rate (95% CI)", winRate)
	table.Append("Serve efficiency", fmt.Sprintf("%s (n=%d)", formatPct(st.MeanServeEfficiency), st.ServeSamples))
	table.Append("Side-out rate", fmt.Sprintf("%s (n=%d)", formatPct(st.MeanSideOutRate), st.SideOutSamples))
	table.Append("Time played", formatDuration(st.TotalPlayed))
	table.Append("Avg duration", formatDuration(st.AvgDuration()))
	table.Append("This week", strconv.Itoa(st.ThisWeek))
	table.Append("Current streak", aggregator.FormatStreak(st.CurrentStreak))
	table.Append("Longest win streak", strconv.Itoa(st.LongestWinStreak))
	table.Append("Longest loss streak", strconv.Itoa(st.LongestLossStreak))
	table.Render()

	if len(st.BySport) > 0 {
		sports := make([]model.Sport, 0, len(st.BySport))
		for s := range st.BySport {
			sports = append(sports, s)
		}
		sort.Slice(sports, func(i, j int) bool {
			if st.BySport[sports[i]] != st.BySport[sports[j]] {
				return st.BySport[sports[i]] > st.BySport[sports[j]]
			}
			return sports[i] < sports[j]
		})
		parts := make([]string, len(sports))
		for i, s := range sports {
			parts[i] = fmt.Sprintf("%s %d", s, st.BySport[s])
		}
		fmt.Fprintf(w, "By sport: %s\n", strings.Join(parts, ", "))
	}
}

// wilsonCI computes the 95% Wilson score confidence interval for a proportion.
// Returns (lo, hi) as fractions in [0, 1].
func wilsonCI(hits, n int) (lo, hi float64) {
	if n == 0 {
		return 0, 1
	}
	z := 1.96
	p := float64(hits) / float64(n)
	nf := float64(n)
	denom := 1 + z*z/nf
	center := (p + z*z/(2*nf)) / denom
	half := z * math.Sqrt(p*(1-p)/nf+z*z/(4*nf*nf)) / denom
	return math.Max(0, center-half), math.Min(1, center+half)
}

func sampleFlag(n int) string {
	switch {
	case n >= 50:
		return "OK"
	case n >= 20:
		return "LOW"
	default:
		return "VERY_LOW"
	}
}

// PrintAchievements prints every catalog entry with the user's progress towards its next tier.
func PrintAchievements(w io.Writer, cat achievement.Catalog, progress map[string]model.AchievementProgress, points int) {
	table := newTable(w)
	table.Header("ACHIEVEMENT", "METRIC", "VALUE", "TIER", "NEXT", "PROGRESS", "POINTS")
	for _, def := range cat.Achievements {
		p := progress[def.Type]
		level := p.TierLevel()

		tier, next, progressStr := missing, "max", "100%"
		if t, ok := def.TierByLevel(level); ok {
			tier = t.Name
		}
		earned := 0
		for _, t := range def.Tiers {
			if t.Level <= level {
				earned += t.Points
			}
		}
		for _, t := range def.Tiers {
			if t.Level > level {
				next = fmt.Sprintf("%s @ %s", t.Name, formatValue(t.Threshold))
				progressStr = fmt.Sprintf("%.0f%%", math.Min(100, p.CurrentValue/t.Threshold*100))
				break
			}
		}
		name := def.Name
		if def.Sport != "" {
			name = fmt.Sprintf("%s (%s)", def.Name, def.Sport)
		}
		table.Append(name, string(def.Metric), formatValue(p.CurrentValue), tier, next, progressStr, strconv.Itoa(earned))
	}
	table.Render()
	fmt.Fprintf(w, "Total points: %d  |  Catalog: %s\n", points, cat.Version)
}

func formatValue(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(v, 'f', 1, 64)
}

// PrintUnlocks prints newly credited tiers.
func PrintUnlocks(w io.Writer, unlocks []model.Unlock) {
	if len(unlocks) == 0 {
		return
	}
	table := newTable(w)
	table.Header("UNLOCKED", "TIER", "VALUE", "POINTS")
	for _, u := range unlocks {
		table.Append(u.Name, u.Tier.Name, formatValue(u.Value), strconv.Itoa(u.Tier.Points))
	}
	table.Render()
}

// PrintRefresh prints the outcome of a remote refresh.
func PrintRefresh(w io.Writer, res reconcile.RefreshResult) {
	if res.Skipped != "" {
		fmt.Fprintf(w, "Refresh skipped: %s\n", res.Skipped)
		return
	}
	fmt.Fprintf(w, "Fetched %d match(es) in %d page(s): %d added, %d updated", res.Fetched, res.Pages, len(res.Added), len(res.Updated))
	if res.RetriedUploads > 0 || res.RetriedDeletes > 0 {
		fmt.Fprintf(w, "; retried %d upload(s), %d delete(s)", res.RetriedUploads, res.RetriedDeletes)
	}
	fmt.Fprintln(w)
	if !res.Cursor.IsZero() {
		fmt.Fprintf(w, "Cursor: %s\n", res.Cursor.Format(time.RFC3339))
	}
}

// PrintOverview prints the match index totals and the per-sport breakdown.
func PrintOverview(w io.Writer, ov storage.Overview, sports []storage.SportStats) {
	if ov.TotalMatches == 0 {
		fmt.Fprintln(w, "No matches recorded.")
		return
	}
	fmt.Fprintf(w, "Matches: %d (%dW / %dL)  |  Sports: %d  |  With point data: %d  |  Minutes: %d\n",
		ov.TotalMatches, ov.Wins, ov.Losses, ov.UniqueSports, ov.WithEvents, ov.TotalMinutes)
	fmt.Fprintf(w, "First: %s  |  Latest: %s\n\n", ov.EarliestMatch, ov.LatestMatch)

	table := newTable(w)
	table.Header("SPORT", "MATCHES", "W", "L", "WIN%", "MINUTES")
	for _, s := range sports {
		winPct := missing
		if d := s.Wins + s.Losses; d > 0 {
			winPct = fmt.Sprintf("%.0f%%", float64(s.Wins)/float64(d)*100)
		}
		table.Append(s.Sport, strconv.Itoa(s.Matches), strconv.Itoa(s.Wins), strconv.Itoa(s.Losses), winPct, strconv.Itoa(s.Minutes))
	}
	table.Render()
}

// PrintTrendTable prints matches oldest first with running totals. reports[i] belongs to matches[i].
func PrintTrendTable(w io.Writer, matches []model.MatchRecord, reports []model.InsightReport) {
	table := newTable(w)
	table.Header("DATE", "SPORT", "RESULT", "SCORE", "NARRATIVE", "LEAD_CHG", "SERVE%", "SIDE_OUT%", "RUN_WIN%", "STREAK")

	var wins, decided, streak int
	for i, m := range matches {
		rep := reports[i]
		switch m.Winner {
		case model.SideSelf:
			wins++
			decided++
			streak = max(streak, 0) + 1
		case model.SideOpponent:
			decided++
			streak = min(streak, 0) - 1
		}
		runWin := missing
		if decided > 0 {
			runWin = fmt.Sprintf("%.0f%%", float64(wins)/float64(decided)*100)
		}
		leadChanges := missing
		if rep.HasSequence {
			leadChanges = strconv.Itoa(rep.LeadChanges)
		}
		table.Append(
			m.StartedAt.Local().Format(time.DateOnly),
			string(m.Sport),
			result(&m),
			m.FinalScore.String(),
			strings.ReplaceAll(string(rep.Narrative), "_", " "),
			leadChanges,
			formatPct(rep.ServeEfficiency.Get(model.SideSelf)),
			formatPct(rep.SideOutRate.Get(model.SideSelf)),
			runWin,
			aggregator.FormatStreak(streak),
		)
	}
	table.Render()
}
