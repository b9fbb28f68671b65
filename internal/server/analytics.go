package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/wesm/tracedash/internal/analytics"
	"github.com/wesm/tracedash/internal/sync"
)

// view is a filtered dataset ready for aggregation.
type view struct {
	ds     analytics.Dataset
	policy analytics.NamePolicy
	noData bool
}

// snapshot loads the current snapshot. The load outlives the
// request so a slow fetch still fills the cache after a timeout.
// An empty window is not an error.
func (s *Server) snapshot(
	w http.ResponseWriter, r *http.Request,
) (*sync.Snapshot, bool) {
	ctx := context.WithoutCancel(r.Context())
	snap, err := s.engine.Load(ctx, false)
	if err != nil && !errors.Is(err, sync.ErrNoData) {
		if handleContextError(w, err) {
			return nil, false
		}
		writeLoadError(w, err)
		return nil, false
	}
	return snap, true
}

func (s *Server) loadView(
	w http.ResponseWriter, r *http.Request,
) (view, bool) {
	f, policy, ok := s.parseFilter(w, r)
	if !ok {
		return view{}, false
	}
	snap, ok := s.snapshot(w, r)
	if !ok {
		return view{}, false
	}
	return view{
		ds:     analytics.Apply(snap.Dataset, f),
		policy: policy,
		noData: snap.Empty(),
	}, true
}

type summaryResponse struct {
	analytics.Summary
	NoData bool `json:"no_data"`
}

func (s *Server) handleSummary(
	w http.ResponseWriter, r *http.Request,
) {
	v, ok := s.loadView(w, r)
	if !ok {
		return
	}
	sum := analytics.Summarize(v.ds, analytics.SummaryOptions{
		SlowThreshold: s.cfg.SlowThreshold,
		CostModel:     s.cfg.CostModel,
	})
	writeJSON(w, http.StatusOK, summaryResponse{
		Summary: sum, NoData: v.noData,
	})
}

func (s *Server) handleTimeSeries(
	w http.ResponseWriter, r *http.Request,
) {
	g := analytics.ParseGranularity(r.URL.Query().Get("granularity"))
	v, ok := s.loadView(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"granularity": g,
		"points":      analytics.TimeSeries(v.ds, g),
		"no_data":     v.noData,
	})
}

func (s *Server) handleLatency(
	w http.ResponseWriter, r *http.Request,
) {
	bins, ok := parseIntParam(w, r, "bins")
	if !ok {
		return
	}
	bins = clampLimit(bins, analytics.DefaultLatencyBins, 200)
	v, ok := s.loadView(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"histogram": analytics.LatencyHistogram(v.ds, bins),
		"daily":     analytics.DailyLatency(v.ds),
		"no_data":   v.noData,
	})
}

func (s *Server) handleTopUsers(
	w http.ResponseWriter, r *http.Request,
) {
	limit, ok := parseIntParam(w, r, "limit")
	if !ok {
		return
	}
	limit = clampLimit(limit, s.cfg.TopUsersLimit, maxLimit)
	v, ok := s.loadView(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"users":   analytics.TopUsers(v.ds, limit, v.policy),
		"no_data": v.noData,
	})
}

func (s *Server) handleDayOfWeek(
	w http.ResponseWriter, r *http.Request,
) {
	v, ok := s.loadView(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"days":    analytics.DayOfWeek(v.ds),
		"no_data": v.noData,
	})
}

func (s *Server) handleHourly(
	w http.ResponseWriter, r *http.Request,
) {
	v, ok := s.loadView(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hours":   analytics.Hourly(v.ds),
		"no_data": v.noData,
	})
}

func (s *Server) handleRecent(
	w http.ResponseWriter, r *http.Request,
) {
	limit, ok := parseIntParam(w, r, "limit")
	if !ok {
		return
	}
	limit = clampLimit(limit, s.cfg.RecentLimit, maxLimit)
	v, ok := s.loadView(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversations": analytics.Recent(v.ds, limit, v.policy),
		"no_data":       v.noData,
	})
}

func (s *Server) handlePrograms(
	w http.ResponseWriter, r *http.Request,
) {
	v, ok := s.loadView(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"programs": analytics.ProgramCounts(v.ds),
		"no_data":  v.noData,
	})
}

// handleListUsers returns the filter widget choices: the All
// sentinel followed by every distinct user name in the window.
func (s *Server) handleListUsers(
	w http.ResponseWriter, r *http.Request,
) {
	hide, ok := parseBoolParam(w, r, "real_names", s.hidePlaceholders())
	if !ok {
		return
	}
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	policy := analytics.NamePolicy{HidePlaceholders: hide}
	users := []string{analytics.AllUsers}
	for _, u := range snap.Dataset.Users() {
		if policy.Allows(u) {
			users = append(users, u)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"users":   users,
		"no_data": snap.Empty(),
	})
}
