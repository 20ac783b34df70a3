package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/pable/racquet-metrics/internal/capture"
	"github.com/pable/racquet-metrics/internal/model"
	"github.com/pable/racquet-metrics/internal/reconcile"
	"github.com/pable/racquet-metrics/internal/service"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrMatchNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, capture.ErrInvalidExport):
		return http.StatusBadRequest
	case errors.Is(err, reconcile.ErrRefreshFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.svc.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"matches": snap.Len(),
		"version": snap.Version(),
		"clients": s.hub.count(),
	})
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, v)
}

func (s *Server) handleListMatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := service.Filter{Sport: model.Sport(q.Get("sport"))}
	var err error
	if f.Since, err = parseTime(q.Get("since")); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid since"))
		return
	}
	if f.Until, err = parseTime(q.Get("until")); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid until"))
		return
	}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil || f.Limit < 0 {
			writeError(w, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
	}
	matches := s.svc.ListMatches(f)
	if matches == nil {
		matches = []model.MatchRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": matches})
}

func (s *Server) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	m, err := s.svc.Match(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	rep, err := s.svc.InsightsFor(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// handleAddMatch accepts one device export.
func (s *Server) handleAddMatch(w http.ResponseWriter, r *http.Request) {
	m, err := capture.Decode(http.MaxBytesReader(w, r.Body, capture.MaxExportSize))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, s.svc.AddMatch(r.Context(), m))
}

type deleteRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) handleDeleteMatches(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	removed := s.svc.DeleteMatches(r.Context(), req.IDs)
	if removed == nil {
		removed = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": removed})
}

type performanceResponse struct {
	Days                int            `json:"days"`
	From                time.Time      `json:"from"`
	To                  time.Time      `json:"to"`
	Matches             int            `json:"matches"`
	Wins                int            `json:"wins"`
	Losses              int            `json:"losses"`
	WinRate             *float64       `json:"win_rate"`
	MeanServeEfficiency *float64       `json:"mean_serve_efficiency"`
	MeanSideOutRate     *float64       `json:"mean_side_out_rate"`
	TotalPlayedSeconds  int64          `json:"total_played_s"`
	AvgDurationSeconds  int64          `json:"avg_duration_s"`
	ThisWeek            int            `json:"this_week"`
	BySport             map[string]int `json:"by_sport"`
	CurrentStreak       int            `json:"current_streak"`
	LongestWinStreak    int            `json:"longest_win_streak"`
	LongestLossStreak   int            `json:"longest_loss_streak"`
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("invalid days"))
			return
		}
		days = n
	}
	st := s.svc.AggregatePerformance(days)
	resp := performanceResponse{
		Days:                days,
		From:                st.From,
		To:                  st.To,
		Matches:             st.Matches,
		Wins:                st.Wins,
		Losses:              st.Losses,
		WinRate:             st.WinRate,
		MeanServeEfficiency: st.MeanServeEfficiency,
		MeanSideOutRate:     st.MeanSideOutRate,
		TotalPlayedSeconds:  int64(st.TotalPlayed / time.Second),
		AvgDurationSeconds:  int64(st.AvgDuration() / time.Second),
		ThisWeek:            st.ThisWeek,
		BySport:             make(map[string]int, len(st.BySport)),
		CurrentStreak:       st.CurrentStreak,
		LongestWinStreak:    st.LongestWinStreak,
		LongestLossStreak:   st.LongestLossStreak,
	}
	for sport, n := range st.BySport {
		resp.BySport[string(sport)] = n
	}
	writeJSON(w, http.StatusOK, resp)
}

type achievementView struct {
	model.AchievementDefinition
	CurrentValue float64     `json:"current_value"`
	HighestTier  int         `json:"highest_tier"`
	NextTier     *model.Tier `json:"next_tier,omitempty"`
}

func (s *Server) handleAchievements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	progress, err := s.svc.AchievementProgress(ctx, "")
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	points, err := s.svc.TotalPoints(ctx, "")
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	cat, err := s.svc.Catalog()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]achievementView, 0, len(cat.Achievements))
	for _, def := range cat.Achievements {
		p := progress[def.Type]
		v := achievementView{AchievementDefinition: def, CurrentValue: p.CurrentValue, HighestTier: p.TierLevel()}
		for _, t := range def.Tiers {
			if t.Level > v.HighestTier {
				v.NextTier = &t
				break
			}
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"catalog_version": cat.Version,
		"total_points":    points,
		"achievements":    views,
	})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ClearAllHistory(r.Context(), ""); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	res, err := s.svc.Refresh(r.Context(), force)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"skipped": res.Skipped,
		"pages":   res.Pages,
		"fetched": res.Fetched,
		"added":   res.Added,
		"updated": res.Updated,
		"cursor":  res.Cursor,
	})
}
