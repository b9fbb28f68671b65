package server

import (
	"net/http"
	"strconv"

	"github.com/wesm/tracedash/internal/analytics"
)

const maxLimit = 1000

// parseIntParam reads an optional integer query parameter. An
// absent parameter yields 0. A malformed one writes a 400 and
// returns false.
func parseIntParam(
	w http.ResponseWriter, r *http.Request, name string,
) (int, bool) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, true
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		writeError(w, http.StatusBadRequest,
			"invalid "+name+": must be an integer")
		return 0, false
	}
	return v, true
}

// clampLimit replaces a non-positive limit with def and caps it
// at max.
func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// parseBoolParam reads an optional boolean query parameter,
// returning def when absent.
func parseBoolParam(
	w http.ResponseWriter, r *http.Request, name string, def bool,
) (bool, bool) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, true
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		writeError(w, http.StatusBadRequest,
			"invalid "+name+": must be a boolean")
		return false, false
	}
	return v, true
}

// parseFilter extracts the dashboard filter and name policy.
//
// Dates apply only when both from and to are valid YYYY-MM-DD
// values; anything else leaves the range open. Repeated users
// params form the identity set, defaulting to All. Unknown
// outcomes mean All.
func (s *Server) parseFilter(
	w http.ResponseWriter, r *http.Request,
) (analytics.Filter, analytics.NamePolicy, bool) {
	q := r.URL.Query()
	f := analytics.DefaultFilter()

	if from, to := q.Get("from"), q.Get("to"); from != "" && to != "" {
		f.Dates = analytics.DateRange{from, to}
	}
	if users, ok := q["users"]; ok {
		f.Users = users
	}
	f.Outcome = analytics.ParseOutcome(q.Get("outcome"))

	hide, ok := parseBoolParam(w, r, "real_names", s.hidePlaceholders())
	if !ok {
		return analytics.Filter{}, analytics.NamePolicy{}, false
	}
	return f, analytics.NamePolicy{HidePlaceholders: hide}, true
}
