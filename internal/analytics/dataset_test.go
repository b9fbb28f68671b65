package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDerivedFields(t *testing.T) {
	ds := Build([]Conversation{
		conv("1", "Maria", at(t, "2024-12-30T17:45:00Z"), latency(2500)),
		conv("2", "Kofi", at(t, "2021-01-01T00:10:00Z"), failed),
	})
	require.Equal(t, 2, ds.Len())

	r := ds.Rows[0]
	assert.Equal(t, "2024-12-30", r.Date)
	assert.Equal(t, "2024-12", r.Month)
	assert.Equal(t, 2025, r.ISOYear)
	assert.Equal(t, 1, r.Week)
	assert.Equal(t, 2024, r.Year)
	assert.Equal(t, "Monday", r.DayOfWeek)
	assert.Equal(t, 17, r.Hour)
	assert.Equal(t, 2.5, r.LatencySeconds)
	assert.Equal(t, StatusSuccess, r.Status)

	r = ds.Rows[1]
	assert.Equal(t, 2020, r.ISOYear)
	assert.Equal(t, 53, r.Week)
	assert.Equal(t, "Friday", r.DayOfWeek)
	assert.Equal(t, 0.0, r.LatencySeconds)
	assert.Equal(t, StatusFailed, r.Status)
}

func TestBuildIn(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	ds := BuildIn(tokyo, []Conversation{
		conv("1", "Maria", at(t, "2024-06-01T20:00:00Z")),
	})
	r := ds.Rows[0]
	assert.Equal(t, "2024-06-02", r.Date)
	assert.Equal(t, 5, r.Hour)
	assert.Equal(t, "Sunday", r.DayOfWeek)
	assert.Equal(t, at(t, "2024-06-01T20:00:00Z"), r.Timestamp)

	assert.Equal(t, time.UTC, BuildIn(nil, nil).Location)
}

func TestBuildEmpty(t *testing.T) {
	ds := Build(nil)
	assert.True(t, ds.Empty())
	assert.Equal(t, 0, ds.Len())
	assert.Empty(t, ds.Users())
}

func TestDatasetUsers(t *testing.T) {
	base := at(t, "2024-06-01T09:00:00Z")
	ds := Build([]Conversation{
		conv("1", "Maria", base),
		conv("2", "Ana", base),
		conv("3", "Maria", base),
	})
	assert.Equal(t, []string{"Ana", "Maria"}, ds.Users())
	assert.Equal(t, 3, ds.Len())
}
