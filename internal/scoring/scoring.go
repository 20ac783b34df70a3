// Package scoring holds the per-sport scoring rules. Everything here is a pure function of a
// Rules value taken from a lookup table; adding a sport means adding a table entry.
package scoring

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pable/racquet-metrics/internal/model"
)

// Version tags the rule table. Derived reports cached under an older version are stale.
const Version = "scoring/v1"

// PointStyle selects how in-game points are displayed.
type PointStyle int

const (
	PointsRaw    PointStyle = 0
	PointsTennis PointStyle = 1 // 0/15/30/40/deuce/advantage
)

// ServeRule selects how serve passes between the sides.
type ServeRule int

const (
	ServeRallyWinner    ServeRule = 0 // rally scoring: the winner of the last rally serves
	ServeSideOut        ServeRule = 1 // only the server scores; losing a rally on serve is a side-out
	ServeAlternateGames ServeRule = 2 // serve changes every game
	ServeEveryN         ServeRule = 3 // serve changes every ServeEvery points, every point at deuce
)

// Rules describes one sport.
type Rules struct {
	Sport          model.Sport
	Points         PointStyle
	GamePoints     int // points that take a game; 0 means the match is one open-ended count
	WinBy          int
	PointCap       int // a game ends at this score regardless of margin; 0 = none
	GamesPerSet    int // 0 = no sets
	TiebreakAt     int // games-all score that starts a tiebreak; 0 = play on
	TiebreakPoints int
	Serve          ServeRule
	ServeEvery     int
	Known          bool
}

var table = map[model.Sport]Rules{
	model.SportTennis: {
		Points: PointsTennis, GamePoints: 4, WinBy: 2,
		GamesPerSet: 6, TiebreakAt: 6, TiebreakPoints: 7,
		Serve: ServeAlternateGames,
	},
	model.SportPadel: {
		Points: PointsTennis, GamePoints: 4, WinBy: 2,
		GamesPerSet: 6, TiebreakAt: 6, TiebreakPoints: 7,
		Serve: ServeAlternateGames,
	},
	model.SportPickleball: {
		GamePoints: 11, WinBy: 2,
		Serve: ServeSideOut,
	},
	model.SportBadminton: {
		GamePoints: 21, WinBy: 2, PointCap: 30,
		Serve: ServeRallyWinner,
	},
	model.SportSquash: {
		GamePoints: 11, WinBy: 2,
		Serve: ServeRallyWinner,
	},
	model.SportTableTennis: {
		GamePoints: 11, WinBy: 2,
		Serve: ServeEveryN, ServeEvery: 2,
	},
}

func init() {
	for sport, r := range table {
		r.Sport = sport
		r.Known = true
		table[sport] = r
	}
}

// Generic is the raw-count model used for unknown sports.
var Generic = Rules{Points: PointsRaw, Serve: ServeRallyWinner}

// For returns the rules for sport. Unknown tags fall back to Generic instead of failing.
func For(sport model.Sport) Rules {
	key := model.Sport(strings.ToLower(strings.TrimSpace(string(sport))))
	if r, ok := table[key]; ok {
		return r
	}
	g := Generic
	g.Sport = sport
	return g
}

// Sports lists the sports with a table entry.
func Sports() []model.Sport {
	out := make([]model.Sport, 0, len(table))
	for s := range table {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r Rules) HasGames() bool       { return r.GamePoints > 0 }
func (r Rules) HasSets() bool        { return r.HasGames() && r.GamesPerSet > 0 }
func (r Rules) SideOutScoring() bool { return r.Serve == ServeSideOut }

// ---- Folding points into games and sets ----

// BoundaryKind says what a point closed.
type BoundaryKind int

const (
	BoundaryNone BoundaryKind = 0
	BoundaryGame BoundaryKind = 1
	BoundarySet  BoundaryKind = 2
)

func (k BoundaryKind) String() string {
	switch k {
	case BoundaryGame:
		return "game"
	case BoundarySet:
		return "set"
	default:
		return ""
	}
}

// Boundary marks the event that closed a game or set.
type Boundary struct {
	Index  int
	Kind   BoundaryKind
	Winner model.Side
}

// Position is the folded match state after a prefix of points.
type Position struct {
	Points   model.Score // inside the current game (the whole match for open-ended counts)
	Games    model.Score // inside the current set (the whole match when there are no sets)
	Sets     model.Score
	Tiebreak bool
}

func closedBy(s model.Score, target, winBy, cap int) model.Side {
	for _, side := range []model.Side{model.SideSelf, model.SideOpponent} {
		a, b := s.Of(side), s.Of(side.Opposite())
		if a >= target && a-b >= winBy {
			return side
		}
		if cap > 0 && a >= cap {
			return side
		}
	}
	return model.SideNone
}

func add(s model.Score, side model.Side) model.Score {
	switch side {
	case model.SideSelf:
		s.Self++
	case model.SideOpponent:
		s.Opponent++
	}
	return s
}

// GameWinner returns the side that has taken the game at in-game score s, or SideNone.
func (r Rules) GameWinner(s model.Score, tiebreak bool) model.Side {
	if !r.HasGames() {
		return model.SideNone
	}
	if tiebreak {
		return closedBy(s, r.TiebreakPoints, 2, 0)
	}
	return closedBy(s, r.GamePoints, r.WinBy, r.PointCap)
}

// Step applies one point won by scorer.
func (r Rules) Step(p Position, scorer model.Side) (Position, BoundaryKind) {
	p.Points = add(p.Points, scorer)
	w := r.GameWinner(p.Points, p.Tiebreak)
	if w == model.SideNone {
		return p, BoundaryNone
	}
	p.Games = add(p.Games, w)
	p.Points = model.Score{}
	wasTiebreak := p.Tiebreak
	p.Tiebreak = false
	if !r.HasSets() {
		return p, BoundaryGame
	}

	setWinner := w
	if !wasTiebreak {
		setWinner = closedBy(p.Games, r.GamesPerSet, 2, 0)
	}
	if setWinner != model.SideNone {
		p.Sets = add(p.Sets, setWinner)
		p.Games = model.Score{}
		return p, BoundarySet
	}
	if r.TiebreakAt > 0 && p.Games.Self == r.TiebreakAt && p.Games.Opponent == r.TiebreakAt {
		p.Tiebreak = true
	}
	return p, BoundaryGame
}

// Fold walks the events in order and returns the final position and every boundary crossed.
// Events without a scorer are skipped.
func (r Rules) Fold(events []model.GameEvent) (Position, []Boundary) {
	var pos Position
	var bounds []Boundary
	for i, ev := range events {
		if ev.ScoredBy == model.SideNone {
			continue
		}
		var kind BoundaryKind
		pos, kind = r.Step(pos, ev.ScoredBy)
		if kind != BoundaryNone {
			bounds = append(bounds, Boundary{Index: i, Kind: kind, Winner: ev.ScoredBy})
		}
	}
	return pos, bounds
}

// BoundaryAt reports what the last event of history closed.
func (r Rules) BoundaryAt(history []model.GameEvent) BoundaryKind {
	if len(history) == 0 {
		return BoundaryNone
	}
	_, bounds := r.Fold(history)
	if n := len(bounds); n > 0 && bounds[n-1].Index == len(history)-1 {
		return bounds[n-1].Kind
	}
	return BoundaryNone
}

// Consistent reports whether the event sequence agrees with final, which may be expressed in
// raw points, games or sets.
func (r Rules) Consistent(events []model.GameEvent, final model.Score) bool {
	if len(events) == 0 {
		return true
	}
	if events[len(events)-1].Score == final {
		return true
	}
	if !r.HasGames() {
		return false
	}
	pos, _ := r.Fold(events)
	if r.HasSets() {
		return pos.Sets == final
	}
	return pos.Games == final
}

// ---- Display ----

var tennisCalls = [...]string{"0", "15", "30", "40"}

// FormatPoints renders an in-game score. Values outside the named range fall back to raw numbers.
func (r Rules) FormatPoints(s model.Score, tiebreak bool) string {
	raw := fmt.Sprintf("%d-%d", s.Self, s.Opponent)
	if r.Points != PointsTennis || tiebreak || s.Self < 0 || s.Opponent < 0 {
		return raw
	}
	if s.Self >= 3 && s.Opponent >= 3 {
		switch s.Self - s.Opponent {
		case 0:
			return "Deuce"
		case 1:
			return "Ad-Self"
		case -1:
			return "Ad-Opp"
		}
		return raw
	}
	if s.Self <= 3 && s.Opponent <= 3 {
		return tennisCalls[s.Self] + "-" + tennisCalls[s.Opponent]
	}
	return raw
}

// Display renders a folded position, e.g. "1-0 | 3-2 | 30-15".
func (r Rules) Display(p Position) string {
	pts := r.FormatPoints(p.Points, p.Tiebreak)
	switch {
	case r.HasSets():
		return fmt.Sprintf("%s | %s | %s", p.Sets, p.Games, pts)
	case r.HasGames():
		return fmt.Sprintf("%s | %s", p.Games, pts)
	default:
		return pts
	}
}

// ---- Serve ----

// NextServer predicts who serves the point after history. SideNone when it cannot be known.
func (r Rules) NextServer(history []model.GameEvent) model.Side {
	if len(history) == 0 {
		return model.SideNone
	}
	last := history[len(history)-1]
	first := history[0].Serving

	switch r.Serve {
	case ServeRallyWinner:
		return last.ScoredBy
	case ServeSideOut:
		if last.Serving != model.SideNone {
			return last.Serving
		}
		return last.ScoredBy
	case ServeAlternateGames:
		if first == model.SideNone {
			return model.SideNone
		}
		pos, bounds := r.Fold(history)
		turns := len(bounds)
		if pos.Tiebreak {
			played := pos.Points.Self + pos.Points.Opponent
			turns += (played + 1) / 2
		}
		return alternate(first, turns)
	case ServeEveryN:
		if first == model.SideNone || r.ServeEvery <= 0 {
			return model.SideNone
		}
		pos, bounds := r.Fold(history)
		turns := len(bounds)
		played := pos.Points.Self + pos.Points.Opponent
		deuce := r.GamePoints - 1
		if r.HasGames() && pos.Points.Self >= deuce && pos.Points.Opponent >= deuce {
			turns += (2*deuce)/r.ServeEvery + (played - 2*deuce)
		} else {
			turns += played / r.ServeEvery
		}
		return alternate(first, turns)
	}
	return model.SideNone
}

func alternate(first model.Side, turns int) model.Side {
	if turns%2 == 0 {
		return first
	}
	return first.Opposite()
}

// IsBreak reports whether ev was won against serve. For side-out sports it reports whether
// serve changed hands since prev (a side-out gained by ev.Serving). prev may be nil.
func (r Rules) IsBreak(prev *model.GameEvent, ev model.GameEvent) bool {
	if ev.Serving == model.SideNone {
		return false
	}
	if r.SideOutScoring() {
		return prev != nil && prev.Serving != model.SideNone && prev.Serving != ev.Serving
	}
	return ev.ScoredBy != model.SideNone && ev.ScoredBy != ev.Serving
}
