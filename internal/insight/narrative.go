package insight

import "github.com/pable/racquet-metrics/internal/model"

// Thresholds used by the narrative rules.
const (
	ComebackThreshold   = 5    // deficit overcome (or blown) for a comeback story
	DominantLead        = 7    // winner's max lead for a dominant story
	DominantLeading     = 80.0 // share of events the winner led for a dominant story
	CloseMaxLead        = 3    // neither side ever led by more than this
	BackAndForthChanges = 3
)

// Features are the inputs the narrative rules look at.
type Features struct {
	HasSequence    bool
	Winner         model.Side
	LeadChanges    int
	ComebackSize   int
	WinnerMaxLead  int
	MaxLead        int
	PercentLeading float64
	LedThroughout  bool
}

// NarrativeRule pairs a label with its predicate.
type NarrativeRule struct {
	Narrative model.Narrative
	Applies   func(f Features) bool
}

// NarrativeRules are evaluated in order; the first match wins. Without a point sequence only
// the outcome fallback applies.
var NarrativeRules = []NarrativeRule{
	{model.NarrativeWireToWire, func(f Features) bool {
		return f.HasSequence && f.LedThroughout
	}},
	{model.NarrativeComebackWin, func(f Features) bool {
		return f.HasSequence && f.Winner == model.SideSelf && f.ComebackSize >= ComebackThreshold
	}},
	{model.NarrativeBlownLead, func(f Features) bool {
		return f.HasSequence && f.Winner == model.SideOpponent && f.ComebackSize >= ComebackThreshold
	}},
	{model.NarrativeDominant, func(f Features) bool {
		return f.HasSequence && f.WinnerMaxLead >= DominantLead && f.PercentLeading >= DominantLeading
	}},
	{model.NarrativeCloseGame, func(f Features) bool {
		return f.HasSequence && f.MaxLead <= CloseMaxLead
	}},
	{model.NarrativeBackAndForth, func(f Features) bool {
		return f.HasSequence && f.LeadChanges >= BackAndForthChanges
	}},
}

// Classify resolves the features to exactly one narrative.
func Classify(f Features) model.Narrative {
	for _, r := range NarrativeRules {
		if r.Applies(f) {
			return r.Narrative
		}
	}
	if f.Winner == model.SideSelf {
		return model.NarrativeWin
	}
	return model.NarrativeLoss
}
