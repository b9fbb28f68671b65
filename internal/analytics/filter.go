package analytics

import (
	"slices"
	"time"
)

// AllUsers is the identity-set sentinel that disables user
// filtering.
const AllUsers = "All"

// Outcome selects rows by success.
type Outcome string

const (
	OutcomeAll        Outcome = "All"
	OutcomeSuccessful Outcome = "Successful"
	OutcomeFailed     Outcome = "Failed"
)

// ParseOutcome maps s to an Outcome. Unrecognized values are
// OutcomeAll.
func ParseOutcome(s string) Outcome {
	switch Outcome(s) {
	case OutcomeSuccessful:
		return OutcomeSuccessful
	case OutcomeFailed:
		return OutcomeFailed
	}
	return OutcomeAll
}

// DateRange holds date bounds as YYYY-MM-DD strings. Only a
// range of exactly two parseable dates filters anything; a single
// date or an unparseable bound leaves the dataset unfiltered.
// Both bounds are inclusive.
type DateRange []string

// Bounds returns the range endpoints and whether the range is
// well formed.
func (r DateRange) Bounds() (from, to string, ok bool) {
	if len(r) != 2 {
		return "", "", false
	}
	for _, d := range r {
		if _, err := time.Parse(dateLayout, d); err != nil {
			return "", "", false
		}
	}
	return r[0], r[1], true
}

// Filter is the user-selected view over a dataset. Criteria
// compose by AND.
type Filter struct {
	Dates   DateRange `json:"dates"`
	Users   []string  `json:"users"`
	Outcome Outcome   `json:"outcome"`
}

// DefaultFilter selects every row.
func DefaultFilter() Filter {
	return Filter{
		Users:   []string{AllUsers},
		Outcome: OutcomeAll,
	}
}

// AllUsersSelected reports whether the identity set contains the
// AllUsers sentinel.
func (f Filter) AllUsersSelected() bool {
	return slices.Contains(f.Users, AllUsers)
}

// Apply returns the rows of ds matching f, in their original
// order, as a new dataset. An identity set without the AllUsers
// sentinel keeps only the listed names, so an empty set keeps
// nothing.
func Apply(ds Dataset, f Filter) Dataset {
	from, to, byDate := f.Dates.Bounds()

	var users map[string]bool
	if !f.AllUsersSelected() {
		users = make(map[string]bool, len(f.Users))
		for _, u := range f.Users {
			users[u] = true
		}
	}
	outcome := ParseOutcome(string(f.Outcome))

	out := Dataset{
		Rows:     make([]Row, 0, len(ds.Rows)),
		Location: ds.Location,
	}
	for _, r := range ds.Rows {
		if byDate && (r.Date < from || r.Date > to) {
			continue
		}
		if users != nil && !users[r.UserName] {
			continue
		}
		switch outcome {
		case OutcomeSuccessful:
			if !r.Success {
				continue
			}
		case OutcomeFailed:
			if r.Success {
				continue
			}
		}
		out.Rows = append(out.Rows, r)
	}
	return out
}
