package analytics

import (
	"sort"
	"time"
)

// Display labels for Row.Status.
const (
	StatusSuccess = "✅ Success"
	StatusFailed  = "❌ Failed"
)

// dateLayout is the layout of Row.Date and of filter bounds.
const dateLayout = "2006-01-02"

// Row is one conversation plus the calendar fields the filters
// and aggregations group on. Calendar fields are computed in the
// dataset's location.
type Row struct {
	Conversation

	Date           string  `json:"date"`  // YYYY-MM-DD
	Month          string  `json:"month"` // YYYY-MM
	Week           int     `json:"week"`  // ISO week number
	ISOYear        int     `json:"iso_year"`
	Year           int     `json:"year"`
	DayOfWeek      string  `json:"day_of_week"`
	Hour           int     `json:"hour"`
	LatencySeconds float64 `json:"latency_seconds"`
	Status         string  `json:"status"`
}

// Dataset is an ordered table of rows. Datasets are treated as
// immutable: filters return new datasets and never modify the
// rows they were given.
type Dataset struct {
	Rows     []Row
	Location *time.Location
}

// Build derives a dataset with calendar fields in UTC.
func Build(convs []Conversation) Dataset {
	return BuildIn(time.UTC, convs)
}

// BuildIn derives a dataset with calendar fields computed in loc.
// A nil loc means UTC.
func BuildIn(loc *time.Location, convs []Conversation) Dataset {
	if loc == nil {
		loc = time.UTC
	}
	ds := Dataset{
		Rows:     make([]Row, 0, len(convs)),
		Location: loc,
	}
	for _, c := range convs {
		ds.Rows = append(ds.Rows, newRow(c, loc))
	}
	return ds
}

func newRow(c Conversation, loc *time.Location) Row {
	t := c.Timestamp.In(loc)
	isoYear, week := t.ISOWeek()
	r := Row{
		Conversation: c,
		Date:         t.Format(dateLayout),
		Month:        t.Format("2006-01"),
		Week:         week,
		ISOYear:      isoYear,
		Year:         t.Year(),
		DayOfWeek:    t.Weekday().String(),
		Hour:         t.Hour(),
		Status:       StatusFailed,
	}
	if c.LatencyMS != nil {
		r.LatencySeconds = *c.LatencyMS / 1000
	}
	if c.Success {
		r.Status = StatusSuccess
	}
	return r
}

// Len returns the number of rows.
func (ds Dataset) Len() int { return len(ds.Rows) }

// Empty reports whether the dataset has no rows. Callers surface
// this as a "no data" condition rather than an error.
func (ds Dataset) Empty() bool { return len(ds.Rows) == 0 }

// Users returns the distinct user names in the dataset, sorted.
func (ds Dataset) Users() []string {
	seen := make(map[string]bool)
	var names []string
	for _, r := range ds.Rows {
		if !seen[r.UserName] {
			seen[r.UserName] = true
			names = append(names, r.UserName)
		}
	}
	sort.Strings(names)
	return names
}
