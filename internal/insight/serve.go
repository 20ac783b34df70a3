package insight

import (
	"github.com/pable/racquet-metrics/internal/model"
	"github.com/pable/racquet-metrics/internal/scoring"
)

type serveResult struct {
	efficiency  model.PerSide[*float64]
	sideOutRate model.PerSide[*float64]
	breaks      model.PerSide[int]
}

func pct(num, den int) *float64 {
	if den == 0 {
		return nil
	}
	v := float64(num) / float64(den) * 100
	return &v
}

// serveStats only looks at events that carry a serving side. With none, every rate stays nil.
func serveStats(events []model.GameEvent, rules scoring.Rules) serveResult {
	if rules.SideOutScoring() {
		return sideOutServeStats(events, rules)
	}

	var served, wonOnServe model.PerSide[int]
	var res serveResult
	for i := range events {
		ev := events[i]
		if ev.Serving == model.SideNone || ev.ScoredBy == model.SideNone {
			continue
		}
		served.Set(ev.Serving, served.Get(ev.Serving)+1)
		if rules.IsBreak(nil, ev) {
			res.breaks.Set(ev.ScoredBy, res.breaks.Get(ev.ScoredBy)+1)
		} else {
			wonOnServe.Set(ev.Serving, wonOnServe.Get(ev.Serving)+1)
		}
	}
	for _, side := range []model.Side{model.SideSelf, model.SideOpponent} {
		res.efficiency.Set(side, pct(wonOnServe.Get(side), served.Get(side)))
		res.sideOutRate.Set(side, pct(res.breaks.Get(side), served.Get(side.Opposite())))
	}
	return res
}

// sideOutServeStats: only the server scores, so efficiency is points won per rally served
// (points won on serve plus side-outs conceded) and the side-out rate is side-outs gained per
// opponent service turn.
func sideOutServeStats(events []model.GameEvent, rules scoring.Rules) serveResult {
	var wonOnServe, turns model.PerSide[int]
	var res serveResult
	var prev *model.GameEvent
	for i := range events {
		ev := events[i]
		if ev.Serving == model.SideNone {
			prev = nil
			continue
		}
		if prev == nil || prev.Serving != ev.Serving {
			turns.Set(ev.Serving, turns.Get(ev.Serving)+1)
		}
		if rules.IsBreak(prev, ev) {
			res.breaks.Set(ev.Serving, res.breaks.Get(ev.Serving)+1)
		}
		if ev.ScoredBy == ev.Serving {
			wonOnServe.Set(ev.Serving, wonOnServe.Get(ev.Serving)+1)
		}
		prev = &events[i]
	}
	for _, side := range []model.Side{model.SideSelf, model.SideOpponent} {
		conceded := res.breaks.Get(side.Opposite())
		res.efficiency.Set(side, pct(wonOnServe.Get(side), wonOnServe.Get(side)+conceded))
		res.sideOutRate.Set(side, pct(res.breaks.Get(side), turns.Get(side.Opposite())))
	}
	return res
}
