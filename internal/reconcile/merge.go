// Package reconcile owns the canonical match collection: it merges the local and remote
// sources by match ID, applies adds and deletes, and publishes immutable snapshots.
package reconcile

import (
	"sort"

	"github.com/pable/racquet-metrics/internal/model"
)

// MergeRecords folds other into base. Fields present in base win; fields absent from base are
// taken from other. UpdatedAt becomes the later of the two. changed reports whether base gained
// anything.
func MergeRecords(base, other model.MatchRecord) (merged model.MatchRecord, changed bool) {
	m := base
	if m.StartedAt.IsZero() && !other.StartedAt.IsZero() {
		m.StartedAt, changed = other.StartedAt, true
	}
	if m.Sport == "" && other.Sport != "" {
		m.Sport, changed = other.Sport, true
	}
	if m.MatchType == "" && other.MatchType != "" {
		m.MatchType, changed = other.MatchType, true
	}
	if m.FinalScore.IsZero() && !other.FinalScore.IsZero() {
		m.FinalScore, changed = other.FinalScore, true
	}
	if len(m.Sets) == 0 && len(other.Sets) > 0 {
		m.Sets, changed = other.Sets, true
	}
	if len(m.Events) == 0 && len(other.Events) > 0 {
		m.Events, changed = other.Events, true
	}
	if len(m.Shots) == 0 && len(other.Shots) > 0 {
		m.Shots, changed = other.Shots, true
	}
	if m.Winner == model.SideNone && other.Winner != model.SideNone {
		m.Winner, changed = other.Winner, true
	}
	if m.Duration == 0 && other.Duration != 0 {
		m.Duration, changed = other.Duration, true
	}
	if m.Location == nil && other.Location != nil {
		m.Location, changed = other.Location, true
	}
	if w, ok := mergeWearable(m.Wearable, other.Wearable); ok {
		m.Wearable, changed = w, true
	}
	if other.UpdatedAt.After(m.UpdatedAt) {
		m.UpdatedAt = other.UpdatedAt
	}
	return m, changed
}

func mergeWearable(base, other *model.WearableMetrics) (*model.WearableMetrics, bool) {
	if other == nil {
		return base, false
	}
	if base == nil {
		return other, true
	}
	w := *base
	changed := false
	if w.AvgHeartRate == nil && other.AvgHeartRate != nil {
		w.AvgHeartRate, changed = other.AvgHeartRate, true
	}
	if w.MaxHeartRate == nil && other.MaxHeartRate != nil {
		w.MaxHeartRate, changed = other.MaxHeartRate, true
	}
	if w.Calories == nil && other.Calories != nil {
		w.Calories, changed = other.Calories, true
	}
	if !changed {
		return base, false
	}
	return &w, true
}

// mergeInto adds incoming to byID, ignoring IDs for which skip returns true. It returns the IDs
// that were new and the IDs that gained data.
func mergeInto(byID map[string]model.MatchRecord, incoming []model.MatchRecord, skip func(id string) bool) (added, updated []string) {
	for _, rec := range incoming {
		if rec.ID == "" || (skip != nil && skip(rec.ID)) {
			continue
		}
		cur, ok := byID[rec.ID]
		if !ok {
			byID[rec.ID] = rec
			added = append(added, rec.ID)
			continue
		}
		merged, changed := MergeRecords(cur, rec)
		if changed || !merged.UpdatedAt.Equal(cur.UpdatedAt) {
			byID[rec.ID] = merged
		}
		if changed {
			updated = append(updated, rec.ID)
		}
	}
	return added, updated
}

// Merge unions local and remote by ID, dropping the explicitly deleted IDs. Local fields win
// when both sides carry the same match. The result is ordered newest first.
func Merge(local, remote []model.MatchRecord, deleted []string) []model.MatchRecord {
	skip := make(map[string]bool, len(deleted))
	for _, id := range deleted {
		skip[id] = true
	}
	byID := make(map[string]model.MatchRecord, len(local)+len(remote))
	isDeleted := func(id string) bool { return skip[id] }
	mergeInto(byID, local, isDeleted)
	mergeInto(byID, remote, isDeleted)

	out := make([]model.MatchRecord, 0, len(byID))
	for _, m := range byID {
		out = append(out, m)
	}
	sortNewestFirst(out)
	return out
}

func sortNewestFirst(ms []model.MatchRecord) {
	sort.Slice(ms, func(i, j int) bool {
		if !ms[i].StartedAt.Equal(ms[j].StartedAt) {
			return ms[i].StartedAt.After(ms[j].StartedAt)
		}
		return ms[i].ID < ms[j].ID
	})
}
