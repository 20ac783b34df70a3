// Package insight derives a per-match report from the ordered point sequence.
//
// Every metric is computed by its own pass over the valid prefix of the events, so a problem
// in the data can only degrade the metric that depends on it. A record without events yields a
// minimal report carrying the final score and outcome only.
package insight

import (
	"fmt"

	"github.com/pable/racquet-metrics/internal/model"
	"github.com/pable/racquet-metrics/internal/scoring"
)

// Analyze builds the insight report for one match.
func Analyze(m *model.MatchRecord, rules scoring.Rules) model.InsightReport {
	rep := model.InsightReport{
		MatchID:        m.ID,
		ScoringVersion: scoring.Version,
		Sport:          m.Sport,
		Winner:         m.Winner,
		FinalScore:     m.FinalScore,
		EventsTotal:    len(m.Events),
		Consistent:     true,
	}
	if len(m.Events) == 0 {
		rep.Narrative = Classify(Features{Winner: m.Winner})
		return rep
	}

	events, issues := validPrefix(m.Events)
	rep.Issues = issues
	rep.EventsUsed = len(events)
	rep.HasSequence = len(events) > 0
	if !rep.HasSequence {
		rep.Narrative = Classify(Features{Winner: m.Winner})
		return rep
	}

	if !rules.Consistent(m.Events, m.FinalScore) {
		rep.Consistent = false
		rep.Issues = append(rep.Issues, fmt.Sprintf("final score %s does not match the event sequence", m.FinalScore))
	}

	winner := m.Winner
	if winner == model.SideNone {
		winner = events[len(events)-1].Score.Leader()
		rep.Issues = append(rep.Issues, "winner not recorded; using the leader after the last event")
	}

	rep.LeadChanges = leadChanges(events)
	rep.MaxLead = maxLeads(events)
	rep.LongestRun = longestRun(events)
	rep.ComebackSize = comebackSize(events, winner)
	rep.PercentLeading = percentLeading(events, winner)
	rep.Aces = aces(events)

	serve := serveStats(events, rules)
	rep.ServeEfficiency = serve.efficiency
	rep.SideOutRate = serve.sideOutRate
	rep.Breaks = serve.breaks

	positions := fold(events, rules)
	rep.KeyMoments = keyMoments(events, positions, winner, rep.LongestRun, rules)
	rep.WinProbability = WinProbability(events, positions, m.Sets, rules)

	rep.Narrative = Classify(Features{
		HasSequence:    true,
		Winner:         winner,
		LeadChanges:    rep.LeadChanges,
		ComebackSize:   rep.ComebackSize,
		WinnerMaxLead:  rep.MaxLead.Get(winner),
		MaxLead:        max(rep.MaxLead.Self, rep.MaxLead.Opponent),
		PercentLeading: rep.PercentLeading,
		LedThroughout:  ledThroughout(events, winner),
	})
	return rep
}

// validPrefix returns a normalized copy of the longest well-formed prefix: elapsed time never
// decreases, scores never go backwards or negative. Missing scorers are inferred from the score
// delta.
func validPrefix(in []model.GameEvent) ([]model.GameEvent, []string) {
	out := make([]model.GameEvent, 0, len(in))
	var issues []string
	var prev model.GameEvent
	for i, ev := range in {
		if ev.Score.Self < 0 || ev.Score.Opponent < 0 {
			issues = append(issues, fmt.Sprintf("event %d: negative score; using first %d events", i, i))
			break
		}
		if i > 0 {
			if ev.Elapsed < prev.Elapsed {
				issues = append(issues, fmt.Sprintf("event %d: elapsed time goes backwards; using first %d events", i, i))
				break
			}
			if ev.Score.Self < prev.Score.Self || ev.Score.Opponent < prev.Score.Opponent {
				issues = append(issues, fmt.Sprintf("event %d: score goes backwards; using first %d events", i, i))
				break
			}
		}
		if ev.ScoredBy == model.SideNone {
			ev.ScoredBy = inferScorer(prev.Score, ev.Score, i == 0)
		}
		out = append(out, ev)
		prev = ev
	}
	return out, issues
}

func inferScorer(before, after model.Score, first bool) model.Side {
	if first {
		before = model.Score{}
	}
	switch {
	case after.Self > before.Self && after.Opponent == before.Opponent:
		return model.SideSelf
	case after.Opponent > before.Opponent && after.Self == before.Self:
		return model.SideOpponent
	}
	return model.SideNone
}

// leadChanges counts transitions between two distinct non-tied leaders. Passing through a tie
// does not count by itself.
func leadChanges(events []model.GameEvent) int {
	changes := 0
	last := model.SideNone
	for _, ev := range events {
		leader := ev.Score.Leader()
		if leader == model.SideNone {
			continue
		}
		if last != model.SideNone && leader != last {
			changes++
		}
		last = leader
	}
	return changes
}

func maxLeads(events []model.GameEvent) model.PerSide[int] {
	var out model.PerSide[int]
	for _, ev := range events {
		if m := ev.Score.Margin(model.SideSelf); m > out.Self {
			out.Self = m
		}
		if m := ev.Score.Margin(model.SideOpponent); m > out.Opponent {
			out.Opponent = m
		}
	}
	return out
}

// longestRun keeps the first run when two runs tie.
func longestRun(events []model.GameEvent) model.Run {
	var best, cur model.Run
	for i, ev := range events {
		if ev.ScoredBy == model.SideNone {
			cur = model.Run{}
			continue
		}
		if ev.ScoredBy == cur.Side {
			cur.Length++
		} else {
			cur = model.Run{Side: ev.ScoredBy, Length: 1, StartIndex: i}
		}
		if cur.Length > best.Length {
			best = cur
		}
	}
	return best
}

// comebackSize is the deepest deficit the winner faced; 0 if the winner never trailed.
func comebackSize(events []model.GameEvent, winner model.Side) int {
	if winner == model.SideNone {
		return 0
	}
	deficit := 0
	for _, ev := range events {
		if d := -ev.Score.Margin(winner); d > deficit {
			deficit = d
		}
	}
	return deficit
}

func percentLeading(events []model.GameEvent, winner model.Side) float64 {
	if winner == model.SideNone || len(events) == 0 {
		return 0
	}
	leading := 0
	for _, ev := range events {
		if ev.Score.Leader() == winner {
			leading++
		}
	}
	return float64(leading) / float64(len(events)) * 100
}

func ledThroughout(events []model.GameEvent, winner model.Side) bool {
	if winner == model.SideNone || len(events) == 0 {
		return false
	}
	for _, ev := range events {
		if ev.Score.Leader() != winner {
			return false
		}
	}
	return true
}

func aces(events []model.GameEvent) model.PerSide[int] {
	var out model.PerSide[int]
	for _, ev := range events {
		if ev.OffServe {
			out.Set(ev.ScoredBy, out.Get(ev.ScoredBy)+1)
		}
	}
	return out
}

// fold returns the folded position after each event.
func fold(events []model.GameEvent, rules scoring.Rules) []scoring.Position {
	out := make([]scoring.Position, len(events))
	var pos scoring.Position
	for i, ev := range events {
		if ev.ScoredBy != model.SideNone {
			pos, _ = rules.Step(pos, ev.ScoredBy)
		}
		out[i] = pos
	}
	return out
}
