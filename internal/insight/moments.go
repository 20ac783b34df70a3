package insight

import (
	"github.com/pable/racquet-metrics/internal/model"
	"github.com/pable/racquet-metrics/internal/scoring"
)

func moment(kind model.MomentKind, idx int, side model.Side, events []model.GameEvent, positions []scoring.Position, rules scoring.Rules) model.KeyMoment {
	return model.KeyMoment{
		Kind:    kind,
		Index:   idx,
		Elapsed: events[idx].Elapsed,
		Side:    side,
		Score:   events[idx].Score,
		Display: rules.Display(positions[idx]),
	}
}

// keyMoments picks, from the winner's perspective, where the biggest lead and deepest deficit
// were first reached, the point after which the winner never gave up the lead, and where the
// longest run started. Moments that did not happen are omitted.
func keyMoments(events []model.GameEvent, positions []scoring.Position, winner model.Side, run model.Run, rules scoring.Rules) []model.KeyMoment {
	var out []model.KeyMoment
	if winner != model.SideNone {
		bestIdx, best := -1, 0
		worstIdx, worst := -1, 0
		decisive := -1
		for i, ev := range events {
			m := ev.Score.Margin(winner)
			if m > best {
				best, bestIdx = m, i
			}
			if m < worst {
				worst, worstIdx = m, i
			}
			if m > 0 {
				if decisive < 0 {
					decisive = i
				}
			} else {
				decisive = -1
			}
		}
		if bestIdx >= 0 {
			out = append(out, moment(model.MomentLargestLead, bestIdx, winner, events, positions, rules))
		}
		if worstIdx >= 0 {
			out = append(out, moment(model.MomentDeepestDeficit, worstIdx, winner, events, positions, rules))
		}
		if decisive >= 0 {
			out = append(out, moment(model.MomentDecisiveLead, decisive, winner, events, positions, rules))
		}
	}
	if run.Length > 1 {
		out = append(out, moment(model.MomentLongestRun, run.StartIndex, run.Side, events, positions, rules))
	}
	return out
}
