package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("writeJSON: encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeLoadError reports a failed trace load. The source is an
// upstream dependency, so failures are 502s.
func writeLoadError(w http.ResponseWriter, err error) {
	log.Printf("load error: %v", err)
	writeError(w, http.StatusBadGateway, "loading traces: "+err.Error())
}

// handleContextError reports whether err is a cancellation or
// deadline error, in which case the caller stops without writing:
// http.TimeoutHandler in withTimeout owns the 503.
func handleContextError(_ http.ResponseWriter, err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
