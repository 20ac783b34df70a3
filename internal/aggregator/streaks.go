package aggregator

import (
	"fmt"

	"github.com/pable/racquet-metrics/internal/model"
)

// Streaks holds win/loss streaks; Current is positive for wins and negative for losses.
type Streaks struct {
	Current     int
	LongestWin  int
	LongestLoss int
}

// CalculateStreaks walks matches oldest to newest. A match without a recorded winner breaks
// both streaks.
func CalculateStreaks(matches []model.MatchRecord) Streaks {
	var s Streaks
	wins, losses := 0, 0
	for i := range matches {
		switch matches[i].Winner {
		case model.SideSelf:
			wins++
			losses = 0
			s.LongestWin = max(s.LongestWin, wins)
		case model.SideOpponent:
			losses++
			wins = 0
			s.LongestLoss = max(s.LongestLoss, losses)
		default:
			wins, losses = 0, 0
		}
	}
	switch {
	case wins > 0:
		s.Current = wins
	case losses > 0:
		s.Current = -losses
	}
	return s
}

// FormatStreak renders a current-streak value for display.
func FormatStreak(streak int) string {
	switch {
	case streak == 0:
		return "none"
	case streak > 0:
		return fmt.Sprintf("%dW", streak)
	default:
		return fmt.Sprintf("%dL", -streak)
	}
}
