package analytics

import (
	"strings"
	"unicode/utf8"
)

// UnknownName is the literal placeholder some clients send
// instead of a user name.
const UnknownName = "Unknown"

var placeholderPrefixes = []string{"user-", "guest-"}

// IsRealName reports whether name looks like something a person
// typed rather than a system-generated label. It is a heuristic:
// it rejects empty and "Unknown" names, User-/Guest- prefixes
// (any case), names over 20 characters with three or more
// hyphens (UUID-like), and names that are more than 16 hex digits
// once hyphens and underscores are removed.
func IsRealName(name string) bool {
	s := strings.TrimSpace(name)
	if s == "" || s == UnknownName {
		return false
	}

	lower := strings.ToLower(s)
	for _, p := range placeholderPrefixes {
		if strings.HasPrefix(lower, p) {
			return false
		}
	}

	if utf8.RuneCountInString(s) > 20 && strings.Count(s, "-") >= 3 {
		return false
	}

	cleaned := strings.NewReplacer("-", "", "_", "").Replace(s)
	if len(cleaned) > 16 && isHex(cleaned) {
		return false
	}
	return true
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// NamePolicy decides which user names appear in the per-user
// and recent-activity views.
type NamePolicy struct {
	HidePlaceholders bool
}

// Allows reports whether rows for name should be shown.
func (p NamePolicy) Allows(name string) bool {
	return !p.HidePlaceholders || IsRealName(name)
}

// Select returns the rows of ds whose user name the policy
// allows. The result shares no backing array with ds.
func (p NamePolicy) Select(ds Dataset) Dataset {
	out := Dataset{Location: ds.Location, Rows: make([]Row, 0, len(ds.Rows))}
	for _, r := range ds.Rows {
		if p.Allows(r.UserName) {
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}
