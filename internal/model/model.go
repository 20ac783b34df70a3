package model

import (
	"fmt"
	"strings"
	"time"
)

// Side identifies one side of a match from the device owner's point of view.
type Side int

const (
	SideNone     Side = 0
	SideSelf     Side = 1
	SideOpponent Side = 2
)

func (s Side) String() string {
	switch s {
	case SideSelf:
		return "self"
	case SideOpponent:
		return "opponent"
	default:
		return ""
	}
}

// Opposite returns the other side. SideNone stays SideNone.
func (s Side) Opposite() Side {
	switch s {
	case SideSelf:
		return SideOpponent
	case SideOpponent:
		return SideSelf
	default:
		return SideNone
	}
}

// MarshalText encodes the side as "self", "opponent" or "".
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts "self"/"opponent" and the wearable aliases "p1"/"p2".
func (s *Side) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "self", "p1", "me", "player":
		*s = SideSelf
	case "opponent", "p2", "them":
		*s = SideOpponent
	case "", "none":
		*s = SideNone
	default:
		return fmt.Errorf("unknown side %q", string(b))
	}
	return nil
}

// Sport tags the ruleset a match was played under.
type Sport string

const (
	SportTennis      Sport = "tennis"
	SportPadel       Sport = "padel"
	SportPickleball  Sport = "pickleball"
	SportBadminton   Sport = "badminton"
	SportSquash      Sport = "squash"
	SportTableTennis Sport = "table_tennis"
)

// MatchType is singles or doubles.
type MatchType string

const (
	MatchSingles MatchType = "singles"
	MatchDoubles MatchType = "doubles"
)

// Score is a (self, opponent) pair. Depending on context it counts points, games or sets.
type Score struct {
	Self     int `json:"self"`
	Opponent int `json:"opponent"`
}

// Of returns the count for one side.
func (s Score) Of(side Side) int {
	if side == SideOpponent {
		return s.Opponent
	}
	return s.Self
}

// Margin is the lead of side over the other side (negative when trailing).
func (s Score) Margin(side Side) int {
	return s.Of(side) - s.Of(side.Opposite())
}

// Leader returns the side strictly ahead, or SideNone when tied.
func (s Score) Leader() Side {
	switch {
	case s.Self > s.Opponent:
		return SideSelf
	case s.Opponent > s.Self:
		return SideOpponent
	default:
		return SideNone
	}
}

func (s Score) IsZero() bool { return s.Self == 0 && s.Opponent == 0 }

func (s Score) String() string { return fmt.Sprintf("%d-%d", s.Self, s.Opponent) }

// PerSide holds one value for each side.
type PerSide[T any] struct {
	Self     T `json:"self"`
	Opponent T `json:"opponent"`
}

// Get returns the value for side. SideNone reads as the zero value.
func (p PerSide[T]) Get(side Side) T {
	switch side {
	case SideSelf:
		return p.Self
	case SideOpponent:
		return p.Opponent
	}
	var zero T
	return zero
}

// Set stores v for side. SideNone is ignored.
func (p *PerSide[T]) Set(side Side, v T) {
	switch side {
	case SideSelf:
		p.Self = v
	case SideOpponent:
		p.Opponent = v
	}
}

// ---- Captured data ----

// GameEvent is one scoring point. Score is the cumulative match score after the point.
type GameEvent struct {
	Elapsed  time.Duration `json:"elapsed"`
	Score    Score         `json:"score"`
	ScoredBy Side          `json:"scored_by"`
	OffServe bool          `json:"off_serve,omitempty"` // won directly off the serve (ace)
	Serving  Side          `json:"serving,omitempty"`   // SideNone when the device did not capture it
	Shot     string        `json:"shot,omitempty"`
}

// WearableMetrics are the optional health readings captured during a match.
type WearableMetrics struct {
	AvgHeartRate *int     `json:"avg_heart_rate,omitempty"`
	MaxHeartRate *int     `json:"max_heart_rate,omitempty"`
	Calories     *float64 `json:"calories,omitempty"`
}

// ShotSample is one entry of per-shot telemetry.
type ShotSample struct {
	Type      string        `json:"type"`
	Intensity float64       `json:"intensity"`
	At        time.Duration `json:"at"`
}

// MatchRecord is one completed match. ID is the only deduplication key.
type MatchRecord struct {
	ID         string           `json:"id"`
	StartedAt  time.Time        `json:"started_at"`
	Sport      Sport            `json:"sport"`
	MatchType  MatchType        `json:"match_type,omitempty"`
	FinalScore Score            `json:"final_score"`
	Sets       []Score          `json:"sets,omitempty"`
	Events     []GameEvent      `json:"events,omitempty"`
	Wearable   *WearableMetrics `json:"wearable,omitempty"`
	Shots      []ShotSample     `json:"shots,omitempty"`
	Winner     Side             `json:"winner"`
	Duration   time.Duration    `json:"duration"`
	Location   *string          `json:"location,omitempty"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Won reports whether the device owner won the match.
func (m *MatchRecord) Won() bool { return m.Winner == SideSelf }

// HasEvents reports whether a point sequence was captured.
func (m *MatchRecord) HasEvents() bool { return len(m.Events) > 0 }

// ---- Derived: insight report ----

// Narrative is the single story label a match resolves to.
type Narrative string

const (
	NarrativeWireToWire   Narrative = "wire_to_wire"
	NarrativeComebackWin  Narrative = "big_comeback_win"
	NarrativeBlownLead    Narrative = "blown_lead_loss"
	NarrativeDominant     Narrative = "dominant"
	NarrativeCloseGame    Narrative = "close_game"
	NarrativeBackAndForth Narrative = "back_and_forth"
	NarrativeWin          Narrative = "win"
	NarrativeLoss         Narrative = "loss"
)

// Run is a streak of consecutive points by one side.
type Run struct {
	Side       Side `json:"side"`
	Length     int  `json:"length"`
	StartIndex int  `json:"start_index"`
}

// MomentKind categorizes a key moment.
type MomentKind string

const (
	MomentLargestLead    MomentKind = "largest_lead"
	MomentDeepestDeficit MomentKind = "deepest_deficit"
	MomentDecisiveLead   MomentKind = "decisive_lead"
	MomentLongestRun     MomentKind = "longest_run"
)

// KeyMoment points at one event of the sequence.
type KeyMoment struct {
	Kind    MomentKind    `json:"kind"`
	Index   int           `json:"index"`
	Elapsed time.Duration `json:"elapsed"`
	Side    Side          `json:"side"`
	Score   Score         `json:"score"`
	Display string        `json:"display"`
}

// InsightReport is derived from one MatchRecord; it is never persisted.
// Pointer metrics are nil when the data needed to compute them is absent.
type InsightReport struct {
	MatchID        string    `json:"match_id"`
	ScoringVersion string    `json:"scoring_version"`
	Sport          Sport     `json:"sport"`
	Winner         Side      `json:"winner"`
	FinalScore     Score     `json:"final_score"`
	Narrative      Narrative `json:"narrative"`

	HasSequence bool     `json:"has_sequence"`
	EventsTotal int      `json:"events_total"`
	EventsUsed  int      `json:"events_used"` // length of the valid prefix
	Consistent  bool     `json:"consistent"`  // last event agrees with the final scoreline
	Issues      []string `json:"issues,omitempty"`

	MaxLead        PerSide[int] `json:"max_lead"`
	LeadChanges    int          `json:"lead_changes"`
	LongestRun     Run          `json:"longest_run"`
	ComebackSize   int          `json:"comeback_size"`
	PercentLeading float64      `json:"percent_leading"` // share of events the winner led, 0-100
	Aces           PerSide[int] `json:"aces"`

	ServeEfficiency PerSide[*float64] `json:"serve_efficiency"` // % of served rallies won
	SideOutRate     PerSide[*float64] `json:"side_out_rate"`    // % of opponent service rallies/turns won back
	Breaks          PerSide[int]      `json:"breaks"`           // points won against serve, or side-outs gained

	KeyMoments     []KeyMoment `json:"key_moments,omitempty"`
	WinProbability []float64   `json:"win_probability,omitempty"` // self perspective, one value per used event
}

// ---- Derived: aggregate performance ----

// AggregateStats rolls up a window of matches. Pointer fields are nil when no match in the
// window supplied the data.
type AggregateStats struct {
	From, To time.Time

	Matches int
	Wins    int
	Losses  int

	WinRate             *float64
	MeanServeEfficiency *float64
	MeanSideOutRate     *float64
	ServeSamples        int // matches that contributed to MeanServeEfficiency
	SideOutSamples      int

	TotalPlayed time.Duration
	ThisWeek    int // matches since Monday of the current local week, regardless of window
	BySport     map[Sport]int

	CurrentStreak     int // positive for wins, negative for losses
	LongestWinStreak  int
	LongestLossStreak int
}

// AvgDuration returns the mean match length in the window.
func (a *AggregateStats) AvgDuration() time.Duration {
	if a.Matches == 0 {
		return 0
	}
	return a.TotalPlayed / time.Duration(a.Matches)
}

// ---- Achievements ----

// Metric names the aggregation rule an achievement uses over the match history.
type Metric string

const (
	MetricMatchesPlayed Metric = "matches_played"
	MetricWins          Metric = "wins"
	MetricWinStreak     Metric = "win_streak"
	MetricWinRate       Metric = "win_rate"
	MetricComebackWins  Metric = "comeback_wins"
	MetricMinutesPlayed Metric = "minutes_played"
	MetricAces          Metric = "aces"
	MetricLongestRun    Metric = "longest_run"
	MetricSportsPlayed  Metric = "sports_played"
	MetricCalories      Metric = "calories"
)

// Tier is one threshold level within an achievement.
type Tier struct {
	Level       int     `json:"level" toml:"level"`
	Name        string  `json:"name" toml:"name"`
	Threshold   float64 `json:"threshold" toml:"threshold"`
	Points      int     `json:"points" toml:"points"`
	Description string  `json:"description" toml:"description"`
}

// AchievementDefinition is a static catalog entry. Tiers are ordered by strictly increasing threshold.
type AchievementDefinition struct {
	Type        string `json:"type" toml:"type"`
	Name        string `json:"name" toml:"name"`
	Description string `json:"description" toml:"description"`
	Category    string `json:"category" toml:"category"`
	Icon        string `json:"icon,omitempty" toml:"icon"`
	Metric      Metric `json:"metric" toml:"metric"`
	Sport       Sport  `json:"sport,omitempty" toml:"sport"`             // empty = every sport
	MinMatches  int    `json:"min_matches,omitempty" toml:"min_matches"` // rate metrics only
	Tiers       []Tier `json:"tiers" toml:"tier"`
}

// TierByLevel returns the tier with the given level.
func (d *AchievementDefinition) TierByLevel(level int) (Tier, bool) {
	for _, t := range d.Tiers {
		if t.Level == level {
			return t, true
		}
	}
	return Tier{}, false
}

// AchievementProgress is the ledger row for one (user, achievement type).
type AchievementProgress struct {
	UserID          string    `json:"user_id"`
	Type            string    `json:"type"`
	CurrentValue    float64   `json:"current_value"`
	HighestTier     *int      `json:"highest_tier,omitempty"` // nil until the first tier is credited
	LastMatchID     string    `json:"last_match_id,omitempty"`
	LastEvaluatedAt time.Time `json:"last_evaluated_at"`
}

// TierLevel returns the highest credited level, 0 when none.
func (p AchievementProgress) TierLevel() int {
	if p.HighestTier == nil {
		return 0
	}
	return *p.HighestTier
}

// Unlock is emitted once per tier the first time it is credited.
type Unlock struct {
	UserID     string    `json:"user_id"`
	Type       string    `json:"type"`
	Name       string    `json:"name"`
	Tier       Tier      `json:"tier"`
	Value      float64   `json:"value"`
	UnlockedAt time.Time `json:"unlocked_at"`
}
