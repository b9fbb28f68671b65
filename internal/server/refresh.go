package server

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/wesm/tracedash/internal/db"
	"github.com/wesm/tracedash/internal/sync"
)

// progressEvent is the payload of a refresh progress event.
type progressEvent struct {
	sync.Progress
	Percent float64 `json:"percent"`
}

type refreshResult struct {
	Stats     sync.LoadStats `json:"stats"`
	FetchedAt time.Time      `json:"fetched_at"`
	NoData    bool           `json:"no_data"`
}

// handleRefresh reloads the snapshot. force=true fetches the whole
// window again and replaces the stored runs. Progress is
// streamed as SSE when the client supports it.
func (s *Server) handleRefresh(
	w http.ResponseWriter, r *http.Request,
) {
	force, ok := parseBoolParam(w, r, "force", false)
	if !ok {
		return
	}
	if !force {
		s.engine.Invalidate()
	}

	stream, err := NewSSEStream(w)
	if err != nil {
		// Non-streaming fallback
		snap, err := s.engine.Refresh(r.Context(), force, nil)
		if err != nil && !errors.Is(err, sync.ErrNoData) {
			if handleContextError(w, err) {
				return
			}
			writeLoadError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toRefreshResult(snap))
		return
	}

	snap, err := s.engine.Refresh(r.Context(), force,
		func(p sync.Progress) {
			stream.SendJSON(eventProgress, progressEvent{
				Progress: p,
				Percent:  p.Percent(),
			})
		})
	if err != nil && !errors.Is(err, sync.ErrNoData) {
		log.Printf("refresh error: %v", err)
		stream.SendError("loading traces: " + err.Error())
		return
	}
	stream.SendJSON(eventDone, toRefreshResult(snap))
}

func toRefreshResult(snap *sync.Snapshot) refreshResult {
	return refreshResult{
		Stats:     snap.Stats,
		FetchedAt: snap.FetchedAt,
		NoData:    snap.Empty(),
	}
}

type statusResponse struct {
	sync.Status
	Store       *db.Stats            `json:"store,omitempty"`
	FetchStates map[string]time.Time `json:"fetch_states,omitempty"`
}

func (s *Server) handleStatus(
	w http.ResponseWriter, r *http.Request,
) {
	resp := statusResponse{Status: s.engine.Status()}
	if s.db != nil {
		stats, err := s.db.GetStats(r.Context())
		if err != nil {
			if handleContextError(w, err) {
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.Store = &stats

		states, err := s.db.FetchStates(r.Context())
		if err != nil {
			if handleContextError(w, err) {
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.FetchStates = states
	}
	writeJSON(w, http.StatusOK, resp)
}
