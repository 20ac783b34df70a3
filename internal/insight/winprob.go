package insight

import (
	"github.com/pable/racquet-metrics/internal/model"
	"github.com/pable/racquet-metrics/internal/scoring"
)

const (
	probFloor    = 0.05
	probCeil     = 0.95
	marginWeight = 0.03
	setWeight    = 0.10
	smoothing    = 0.6
)

// WinProbability returns an illustrative, self-perspective curve with one value per event. It
// blends an even prior toward an estimate built from the point share, the current margin and
// the set lead, weighted by how far into the sequence the point is. It is a display heuristic,
// not a predictive model.
func WinProbability(events []model.GameEvent, positions []scoring.Position, sets []model.Score, rules scoring.Rules) []float64 {
	n := len(events)
	if n == 0 {
		return nil
	}
	finalSets := 0
	for _, s := range sets {
		switch s.Leader() {
		case model.SideSelf:
			finalSets++
		case model.SideOpponent:
			finalSets--
		}
	}

	out := make([]float64, n)
	prev := 0.5
	for i, ev := range events {
		total := ev.Score.Self + ev.Score.Opponent
		ratio := 0.5
		if total > 0 {
			ratio = float64(ev.Score.Self) / float64(total)
		}
		progress := float64(i+1) / float64(n)

		est := ratio + float64(ev.Score.Margin(model.SideSelf))*marginWeight
		switch {
		case rules.HasSets() && i < len(positions):
			est += float64(positions[i].Sets.Margin(model.SideSelf)) * setWeight
		case len(sets) > 0:
			est += float64(finalSets) * setWeight * progress
		}

		target := 0.5 + (est-0.5)*progress
		p := prev + smoothing*(target-prev)
		p = min(max(p, probFloor), probCeil)
		out[i] = p
		prev = p
	}
	return out
}
