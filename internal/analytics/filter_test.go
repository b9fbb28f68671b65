package analytics

import (
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func filterFixture(t *testing.T) Dataset {
	t.Helper()
	return Build([]Conversation{
		conv("1", "Maria", at(t, "2024-06-01T09:00:00Z")),
		conv("2", "Kofi", at(t, "2024-06-01T23:59:59Z"), failed),
		conv("3", "Maria", at(t, "2024-06-02T12:00:00Z"), failed),
		conv("4", "Ana", at(t, "2024-06-03T00:00:00Z")),
		conv("5", "Kofi", at(t, "2024-06-04T08:30:00Z")),
	})
}

func ids(ds Dataset) []string {
	out := make([]string, len(ds.Rows))
	for i, r := range ds.Rows {
		out[i] = r.ConversationID
	}
	return out
}

func TestApplyRoundTrip(t *testing.T) {
	ds := filterFixture(t)
	got := Apply(ds, DefaultFilter())
	if diff := cmp.Diff(ds.Rows, got.Rows); diff != "" {
		t.Fatalf("Apply(All) mismatch (-want +got):\n%s", diff)
	}
	assert.Same(t, ds.Location, got.Location)
}

func TestApplyIdempotent(t *testing.T) {
	ds := filterFixture(t)
	filters := []Filter{
		DefaultFilter(),
		{Dates: DateRange{"2024-06-01", "2024-06-02"}, Users: []string{AllUsers}},
		{Users: []string{"Kofi"}, Outcome: OutcomeSuccessful},
		{Users: []string{"Maria", "Ana"}, Outcome: OutcomeFailed},
	}
	for _, f := range filters {
		once := Apply(ds, f)
		twice := Apply(once, f)
		if diff := cmp.Diff(once.Rows, twice.Rows); diff != "" {
			t.Errorf("filter %+v not idempotent (-once +twice):\n%s", f, diff)
		}
	}
}

func TestApplyDoesNotMutate(t *testing.T) {
	ds := filterFixture(t)
	before := slices.Clone(ds.Rows)

	got := Apply(ds, Filter{Users: []string{"Ana"}, Outcome: OutcomeAll})
	assert.Equal(t, []string{"4"}, ids(got))
	if diff := cmp.Diff(before, ds.Rows); diff != "" {
		t.Fatalf("source rows changed (-before +after):\n%s", diff)
	}
}

func TestApplyDates(t *testing.T) {
	ds := filterFixture(t)
	tests := []struct {
		name  string
		dates DateRange
		want  []string
	}{
		{"Inclusive", DateRange{"2024-06-01", "2024-06-03"}, []string{"1", "2", "3", "4"}},
		{"SingleDay", DateRange{"2024-06-02", "2024-06-02"}, []string{"3"}},
		{"SingleDateIgnored", DateRange{"2024-06-02"}, []string{"1", "2", "3", "4", "5"}},
		{"ThreeDatesIgnored", DateRange{"2024-06-01", "2024-06-02", "2024-06-03"}, []string{"1", "2", "3", "4", "5"}},
		{"MalformedIgnored", DateRange{"June 1", "2024-06-02"}, []string{"1", "2", "3", "4", "5"}},
		{"Reversed", DateRange{"2024-06-03", "2024-06-01"}, []string{}},
		{"Unbounded", nil, []string{"1", "2", "3", "4", "5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := DefaultFilter()
			f.Dates = tt.dates
			assert.Equal(t, tt.want, ids(Apply(ds, f)))
		})
	}
}

func TestApplyDatesUseDatasetLocation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 02:00 UTC on June 2 is the evening of June 1 in New York.
	ds := BuildIn(ny, []Conversation{
		conv("1", "Maria", at(t, "2024-06-02T02:00:00Z")),
	})
	f := DefaultFilter()
	f.Dates = DateRange{"2024-06-01", "2024-06-01"}
	assert.Equal(t, []string{"1"}, ids(Apply(ds, f)))
}

func TestApplyUsers(t *testing.T) {
	ds := filterFixture(t)
	tests := []struct {
		name  string
		users []string
		want  []string
	}{
		{"All", []string{AllUsers}, []string{"1", "2", "3", "4", "5"}},
		{"AllWithOthers", []string{"Kofi", AllUsers}, []string{"1", "2", "3", "4", "5"}},
		{"One", []string{"Maria"}, []string{"1", "3"}},
		{"Two", []string{"Kofi", "Ana"}, []string{"2", "4", "5"}},
		{"UnknownUser", []string{"Zed"}, []string{}},
		{"Empty", []string{}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := DefaultFilter()
			f.Users = tt.users
			assert.Equal(t, tt.want, ids(Apply(ds, f)))
		})
	}
}

func TestApplyOutcome(t *testing.T) {
	ds := filterFixture(t)
	tests := []struct {
		outcome Outcome
		want    []string
	}{
		{OutcomeAll, []string{"1", "2", "3", "4", "5"}},
		{OutcomeSuccessful, []string{"1", "4", "5"}},
		{OutcomeFailed, []string{"2", "3"}},
		{"Sometimes", []string{"1", "2", "3", "4", "5"}},
		{"", []string{"1", "2", "3", "4", "5"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			f := DefaultFilter()
			f.Outcome = tt.outcome
			assert.Equal(t, tt.want, ids(Apply(ds, f)))
		})
	}
}

func TestApplyComposes(t *testing.T) {
	ds := filterFixture(t)
	f := Filter{
		Dates:   DateRange{"2024-06-01", "2024-06-03"},
		Users:   []string{"Kofi", "Maria"},
		Outcome: OutcomeFailed,
	}
	assert.Equal(t, []string{"2", "3"}, ids(Apply(ds, f)))
}

func TestApplyEmptyDataset(t *testing.T) {
	got := Apply(Build(nil), DefaultFilter())
	assert.True(t, got.Empty())
}
