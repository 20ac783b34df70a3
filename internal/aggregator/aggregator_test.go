package aggregator

import (
	"testing"
	"time"

	"github.com/pable/racquet-metrics/internal/model"
)

var zone = time.FixedZone("UTC-5", -5*3600)

// now is Wednesday 2026-03-11 15:00 local; the week started Monday 03-09.
var now = time.Date(2026, 3, 11, 15, 0, 0, 0, zone)

func at(month time.Month, day, hour, min int) time.Time {
	return time.Date(2026, month, day, hour, min, 0, 0, zone)
}

func makeMatch(id string, started time.Time, winner model.Side, withEvents bool) model.MatchRecord {
	m := model.MatchRecord{
		ID:        id,
		StartedAt: started,
		Sport:     model.SportPickleball,
		Winner:    winner,
		Duration:  30 * time.Minute,
	}
	if withEvents {
		m.Events = []model.GameEvent{{Score: model.Score{Self: 1}, ScoredBy: model.SideSelf}}
	}
	return m
}

func f(v float64) *float64 { return &v }

// stubInsight returns fixed serve numbers keyed by match ID.
func stubInsight(serve map[string]*float64) InsightFunc {
	return func(m *model.MatchRecord) model.InsightReport {
		var rep model.InsightReport
		rep.ServeEfficiency.Self = serve[m.ID]
		rep.SideOutRate.Self = serve[m.ID]
		return rep
	}
}

func TestWindowBoundsAreLocalCalendarDays(t *testing.T) {
	w := Window{Days: 7, Now: now, Location: zone}
	from, to := w.Bounds()
	if !from.Equal(at(3, 5, 0, 0)) || !to.Equal(at(3, 12, 0, 0)) {
		t.Fatalf("bounds: got %v - %v", from, to)
	}

	cases := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"first day midnight", at(3, 5, 0, 0), true},
		{"day before", at(3, 4, 23, 59), false},
		{"late today", at(3, 11, 23, 30), true},
		{"tomorrow", at(3, 12, 0, 0), false},
		{"utc instant that is still today locally", time.Date(2026, 3, 12, 2, 0, 0, 0, time.UTC), true},
	}
	for _, c := range cases {
		if got := w.Contains(c.t); got != c.want {
			t.Errorf("%s: Contains(%v) = %v, want %v", c.name, c.t, got, c.want)
		}
	}
}

func TestWindowOneDayIsToday(t *testing.T) {
	w := Window{Days: 1, Now: now, Location: zone}
	if !w.Contains(at(3, 11, 0, 1)) {
		t.Error("Days=1 should include today")
	}
	if w.Contains(at(3, 10, 23, 59)) {
		t.Error("Days=1 should exclude yesterday")
	}
}

func TestUnboundedWindow(t *testing.T) {
	w := Window{Now: now, Location: zone}
	if !w.Contains(time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Error("Days=0 should include everything")
	}
}

func TestAggregateWinRateIncludesMatchesWithoutEvents(t *testing.T) {
	matches := []model.MatchRecord{
		makeMatch("a", at(3, 10, 9, 0), model.SideSelf, true),
		makeMatch("b", at(3, 10, 10, 0), model.SideOpponent, false),
		makeMatch("c", at(3, 11, 9, 0), model.SideSelf, false),
		makeMatch("old", at(2, 1, 9, 0), model.SideOpponent, true),
	}
	serve := map[string]*float64{"a": f(60), "old": f(10)}
	stats := Aggregate(matches, stubInsight(serve), Window{Days: 7, Now: now, Location: zone})

	if stats.Matches != 3 || stats.Wins != 2 || stats.Losses != 1 {
		t.Fatalf("counts: %+v", stats)
	}
	if stats.WinRate == nil || *stats.WinRate < 66.6 || *stats.WinRate > 66.7 {
		t.Errorf("win rate: got %v", stats.WinRate)
	}
	if stats.ServeSamples != 1 || stats.MeanServeEfficiency == nil || *stats.MeanServeEfficiency != 60 {
		t.Errorf("serve mean should only use match a: samples=%d mean=%v", stats.ServeSamples, stats.MeanServeEfficiency)
	}
	if stats.TotalPlayed != 90*time.Minute || stats.AvgDuration() != 30*time.Minute {
		t.Errorf("time played: %v avg %v", stats.TotalPlayed, stats.AvgDuration())
	}
	if stats.BySport[model.SportPickleball] != 3 {
		t.Errorf("by sport: %v", stats.BySport)
	}
}

func TestAggregateNoDataIsNil(t *testing.T) {
	matches := []model.MatchRecord{makeMatch("a", at(3, 11, 9, 0), model.SideSelf, false)}
	stats := Aggregate(matches, stubInsight(nil), Window{Days: 7, Now: now, Location: zone})
	if stats.MeanServeEfficiency != nil || stats.MeanSideOutRate != nil {
		t.Errorf("expected nil means without event data, got %v / %v", stats.MeanServeEfficiency, stats.MeanSideOutRate)
	}

	empty := Aggregate(nil, stubInsight(nil), Window{Days: 7, Now: now, Location: zone})
	if empty.WinRate != nil || empty.Matches != 0 {
		t.Errorf("empty window should report no win rate: %+v", empty)
	}
}

func TestAggregateThisWeek(t *testing.T) {
	matches := []model.MatchRecord{
		makeMatch("mon", at(3, 9, 8, 0), model.SideSelf, false),
		makeMatch("sun", at(3, 8, 20, 0), model.SideSelf, false),
		makeMatch("wed", at(3, 11, 8, 0), model.SideSelf, false),
	}
	stats := Aggregate(matches, nil, Window{Days: 1, Now: now, Location: zone})
	if stats.ThisWeek != 2 {
		t.Errorf("this week: want 2, got %d", stats.ThisWeek)
	}
	if stats.Matches != 1 {
		t.Errorf("one-day window: want 1 match, got %d", stats.Matches)
	}
}

func TestCalculateStreaks(t *testing.T) {
	W, L, N := model.SideSelf, model.SideOpponent, model.SideNone
	cases := []struct {
		name    string
		results []model.Side
		want    Streaks
	}{
		{"empty", nil, Streaks{}},
		{"current wins", []model.Side{L, L, W, W, W}, Streaks{Current: 3, LongestWin: 3, LongestLoss: 2}},
		{"current losses", []model.Side{W, W, L}, Streaks{Current: -1, LongestWin: 2, LongestLoss: 1}},
		{"undecided breaks streak", []model.Side{W, W, N}, Streaks{Current: 0, LongestWin: 2}},
	}
	for _, c := range cases {
		var ms []model.MatchRecord
		for i, r := range c.results {
			ms = append(ms, makeMatch("", at(3, 1+i, 9, 0), r, false))
		}
		if got := CalculateStreaks(ms); got != c.want {
			t.Errorf("%s: want %+v, got %+v", c.name, c.want, got)
		}
	}
}

func TestAggregateStreaksUseChronologicalOrder(t *testing.T) {
	// Newest first, as the canonical collection orders them.
	matches := []model.MatchRecord{
		makeMatch("3", at(3, 11, 9, 0), model.SideSelf, false),
		makeMatch("2", at(3, 10, 9, 0), model.SideSelf, false),
		makeMatch("1", at(3, 9, 9, 0), model.SideOpponent, false),
	}
	stats := Aggregate(matches, nil, Window{Days: 7, Now: now, Location: zone})
	if stats.CurrentStreak != 2 {
		t.Errorf("current streak: want 2, got %d", stats.CurrentStreak)
	}
}

func TestFormatStreak(t *testing.T) {
	for in, want := range map[int]string{0: "none", 3: "3W", -2: "2L"} {
		if got := FormatStreak(in); got != want {
			t.Errorf("FormatStreak(%d) = %q, want %q", in, got, want)
		}
	}
}
