// Package trace models raw run records as returned by the
// tracing backend and decodes them from JSON.
package trace

import (
	"context"
	"time"
)

// DefaultStatus is the status assumed when a record carries
// none.
const DefaultStatus = "success"

// Record is one root run as reported by the tracing backend.
// Only ID and StartTime are required downstream; every other
// field is optional and nil when the backend omitted it.
type Record struct {
	ID        string         `json:"id"`
	Name      *string        `json:"name,omitempty"`
	StartTime *time.Time     `json:"start_time,omitempty"`
	EndTime   *time.Time     `json:"end_time,omitempty"`
	Status    *string        `json:"status,omitempty"` // nil = DefaultStatus
	Error     *string        `json:"error,omitempty"`  // nil = no error
	Extra     map[string]any `json:"extra,omitempty"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	Outputs   map[string]any `json:"outputs,omitempty"`
	SessionID *string        `json:"session_id,omitempty"`
}

// StatusOrDefault returns the reported status, or
// DefaultStatus when the record has none.
func (r Record) StatusOrDefault() string {
	if r.Status == nil {
		return DefaultStatus
	}
	return *r.Status
}

// HasError reports whether the backend recorded a non-empty
// error for the run.
func (r Record) HasError() bool {
	return r.Error != nil && *r.Error != ""
}

// Query scopes a fetch to one project and a time window.
type Query struct {
	Project string
	Start   time.Time
	End     time.Time
}

// Contains reports whether t falls inside [Start, End]. A zero
// bound is open.
func (q Query) Contains(t time.Time) bool {
	if !q.Start.IsZero() && t.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && t.After(q.End) {
		return false
	}
	return true
}

// Source fetches raw records for a query. Implementations may
// block on the network; ctx bounds the call.
type Source interface {
	FetchRuns(ctx context.Context, q Query) ([]Record, error)
}
