// Package capture decodes match exports written by wearable devices.
package capture

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pable/racquet-metrics/internal/model"
)

// ErrInvalidExport is returned for exports that cannot become a match record.
var ErrInvalidExport = errors.New("invalid wearable export")

// MaxExportSize bounds how much of a single export is read.
const MaxExportSize = 32 << 20

// exportNamespace seeds content-derived match IDs so re-importing a file is idempotent.
var exportNamespace = uuid.MustParse("6f1c3a52-2b7e-4d0a-9d59-8b8f6e2f4c11")

type exportEvent struct {
	TMs      int64      `json:"t_ms"`
	Self     int        `json:"self"`
	Opponent int        `json:"opponent"`
	ScoredBy model.Side `json:"scored_by"`
	Serving  model.Side `json:"serving"`
	Ace      bool       `json:"ace"`
	Shot     string     `json:"shot"`
}

type exportShot struct {
	Type      string  `json:"type"`
	Intensity float64 `json:"intensity"`
	TMs       int64   `json:"t_ms"`
}

type export struct {
	ID         string        `json:"id"`
	Device     string        `json:"device"`
	Sport      string        `json:"sport"`
	MatchType  string        `json:"match_type"`
	StartedAt  time.Time     `json:"started_at"`
	DurationS  float64       `json:"duration_s"`
	Winner     model.Side    `json:"winner"`
	FinalScore *model.Score  `json:"final_score"`
	Sets       []model.Score `json:"sets"`
	Events     []exportEvent `json:"events"`
	Shots      []exportShot  `json:"shots"`
	HeartRate  *struct {
		Avg *int `json:"avg"`
		Max *int `json:"max"`
	} `json:"heart_rate"`
	Calories *float64 `json:"calories"`
	Location string   `json:"location"`
}

// Decode reads one export. Event and shot offsets are milliseconds from the match start.
// An export without an id gets one derived from its content.
func Decode(r io.Reader) (model.MatchRecord, error) {
	raw, err := io.ReadAll(io.LimitReader(r, MaxExportSize+1))
	if err != nil {
		return model.MatchRecord{}, fmt.Errorf("read export: %w", err)
	}
	if len(raw) > MaxExportSize {
		return model.MatchRecord{}, fmt.Errorf("%w: larger than %d bytes", ErrInvalidExport, MaxExportSize)
	}

	var ex export
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&ex); err != nil {
		return model.MatchRecord{}, fmt.Errorf("%w: %v", ErrInvalidExport, err)
	}
	if ex.Sport == "" {
		return model.MatchRecord{}, fmt.Errorf("%w: missing sport", ErrInvalidExport)
	}
	if ex.StartedAt.IsZero() {
		return model.MatchRecord{}, fmt.Errorf("%w: missing started_at", ErrInvalidExport)
	}

	m := model.MatchRecord{
		ID:        ex.ID,
		StartedAt: ex.StartedAt,
		Sport:     model.Sport(strings.ToLower(ex.Sport)),
		MatchType: model.MatchType(strings.ToLower(ex.MatchType)),
		Sets:      ex.Sets,
		Winner:    ex.Winner,
		Duration:  time.Duration(ex.DurationS * float64(time.Second)),
	}
	if m.ID == "" {
		m.ID = uuid.NewSHA1(exportNamespace, raw).String()
	}
	if ex.Location != "" {
		loc := ex.Location
		m.Location = &loc
	}

	for _, e := range ex.Events {
		m.Events = append(m.Events, model.GameEvent{
			Elapsed:  time.Duration(e.TMs) * time.Millisecond,
			Score:    model.Score{Self: e.Self, Opponent: e.Opponent},
			ScoredBy: e.ScoredBy,
			OffServe: e.Ace,
			Serving:  e.Serving,
			Shot:     e.Shot,
		})
	}
	for _, s := range ex.Shots {
		m.Shots = append(m.Shots, model.ShotSample{
			Type:      s.Type,
			Intensity: s.Intensity,
			At:        time.Duration(s.TMs) * time.Millisecond,
		})
	}

	switch {
	case ex.FinalScore != nil:
		m.FinalScore = *ex.FinalScore
	case len(m.Events) > 0:
		m.FinalScore = m.Events[len(m.Events)-1].Score
	default:
		return model.MatchRecord{}, fmt.Errorf("%w: no final score and no events", ErrInvalidExport)
	}
	if m.Winner == model.SideNone {
		m.Winner = m.FinalScore.Leader()
	}
	if m.Duration == 0 && len(m.Events) > 0 {
		m.Duration = m.Events[len(m.Events)-1].Elapsed
	}

	if ex.HeartRate != nil || ex.Calories != nil {
		w := &model.WearableMetrics{Calories: ex.Calories}
		if ex.HeartRate != nil {
			w.AvgHeartRate, w.MaxHeartRate = ex.HeartRate.Avg, ex.HeartRate.Max
		}
		m.Wearable = w
	}
	return m, nil
}

// DecodeFile decodes the export at path.
func DecodeFile(path string) (model.MatchRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.MatchRecord{}, fmt.Errorf("open export: %w", err)
	}
	defer f.Close()

	m, err := Decode(f)
	if err != nil {
		return model.MatchRecord{}, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}
