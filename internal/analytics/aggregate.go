package analytics

import (
	"fmt"
	"sort"
	"time"
)

// Granularity selects the time-series bucket.
type Granularity string

const (
	Day   Granularity = "day"
	Week  Granularity = "week"
	Month Granularity = "month"
)

// ParseGranularity maps s to a Granularity, defaulting to Day.
func ParseGranularity(s string) Granularity {
	switch Granularity(s) {
	case Week:
		return Week
	case Month:
		return Month
	}
	return Day
}

// successRate returns successes/count as a percentage, or 0
// for an empty group.
func successRate(successes, count int) float64 {
	if count == 0 {
		return 0
	}
	return float64(successes) / float64(count) * 100
}

// --- Time series ---

// SeriesPoint is one time bucket.
type SeriesPoint struct {
	Period      string  `json:"period"`
	Count       int     `json:"count"`
	Successful  int     `json:"successful"`
	SuccessRate float64 `json:"success_rate"`
}

// TimeSeries groups rows by day, ISO week or month and returns
// the buckets in chronological order. Day periods are
// YYYY-MM-DD, week periods YYYY-Www (ISO year and week), month
// periods YYYY-MM. Every period format sorts chronologically as
// a string.
func TimeSeries(ds Dataset, g Granularity) []SeriesPoint {
	byKey := make(map[string]*SeriesPoint)
	for _, r := range ds.Rows {
		key := periodOf(r, g)
		p, ok := byKey[key]
		if !ok {
			p = &SeriesPoint{Period: key}
			byKey[key] = p
		}
		p.Count++
		if r.Success {
			p.Successful++
		}
	}

	out := make([]SeriesPoint, 0, len(byKey))
	for _, p := range byKey {
		p.SuccessRate = successRate(p.Successful, p.Count)
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Period < out[j].Period
	})
	return out
}

func periodOf(r Row, g Granularity) string {
	switch ParseGranularity(string(g)) {
	case Week:
		return fmt.Sprintf("%04d-W%02d", r.ISOYear, r.Week)
	case Month:
		return r.Month
	default:
		return r.Date
	}
}

// --- Per-user stats ---

// UserStat summarizes one user's conversations.
type UserStat struct {
	UserName          string  `json:"user_name"`
	Count             int     `json:"count"`
	Successful        int     `json:"successful"`
	SuccessRate       float64 `json:"success_rate"`
	AvgLatencySeconds float64 `json:"avg_latency_seconds"`
}

// UserStats groups rows by user name and sorts the groups by
// descending count. Ties keep the order in which users were
// first encountered.
func UserStats(ds Dataset) []UserStat {
	index := make(map[string]int)
	out := make([]UserStat, 0)
	var latency []float64
	for _, r := range ds.Rows {
		i, ok := index[r.UserName]
		if !ok {
			i = len(out)
			index[r.UserName] = i
			out = append(out, UserStat{UserName: r.UserName})
			latency = append(latency, 0)
		}
		out[i].Count++
		if r.Success {
			out[i].Successful++
		}
		latency[i] += r.LatencySeconds
	}
	for i := range out {
		out[i].SuccessRate = successRate(out[i].Successful, out[i].Count)
		out[i].AvgLatencySeconds = latency[i] / float64(out[i].Count)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Count > out[j].Count
	})
	return out
}

// TopUsers returns the n most active users allowed by policy.
// n <= 0 returns every user.
func TopUsers(ds Dataset, n int, policy NamePolicy) []UserStat {
	stats := UserStats(policy.Select(ds))
	if n > 0 && len(stats) > n {
		stats = stats[:n]
	}
	return stats
}

// --- Histograms ---

// DayCount is one weekday bucket.
type DayCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

var weekOrder = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

// DayOfWeek counts rows per weekday. The result always has seven
// entries, Monday first, with zero for days that have no rows.
func DayOfWeek(ds Dataset) []DayCount {
	counts := make(map[string]int, 7)
	for _, r := range ds.Rows {
		counts[r.DayOfWeek]++
	}
	out := make([]DayCount, len(weekOrder))
	for i, d := range weekOrder {
		out[i] = DayCount{Day: d.String(), Count: counts[d.String()]}
	}
	return out
}

// HourCount is one hour-of-day bucket.
type HourCount struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

// Hourly counts rows per hour of day in ascending hour order.
// Unlike DayOfWeek the result is sparse: hours with no rows are
// absent, and callers must not assume 24 entries.
func Hourly(ds Dataset) []HourCount {
	var counts [24]int
	var seen [24]bool
	for _, r := range ds.Rows {
		if r.Hour < 0 || r.Hour > 23 {
			continue
		}
		counts[r.Hour]++
		seen[r.Hour] = true
	}
	out := make([]HourCount, 0, 24)
	for h := range counts {
		if seen[h] {
			out = append(out, HourCount{Hour: h, Count: counts[h]})
		}
	}
	return out
}

// --- Recent activity ---

// Recent returns the n rows with the latest timestamps, newest
// first, after applying policy. Rows with equal timestamps keep
// dataset order. n <= 0 returns every allowed row.
func Recent(ds Dataset, n int, policy NamePolicy) []Row {
	rows := policy.Select(ds).Rows
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Timestamp.After(rows[j].Timestamp)
	})
	if n > 0 && len(rows) > n {
		rows = rows[:n]
	}
	return rows
}

// --- Latency ---

// DefaultLatencyBins is the histogram resolution used by the
// dashboard.
const DefaultLatencyBins = 30

// LatencyBin is one equal-width latency bucket in seconds.
// Lower is inclusive; Upper is exclusive except for the last bin.
type LatencyBin struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Count int     `json:"count"`
}

// LatencyHistogram splits [min, max] of LatencySeconds into bins
// equal-width buckets. When every row has the same latency the
// result is a single bin.
func LatencyHistogram(ds Dataset, bins int) []LatencyBin {
	if ds.Empty() {
		return []LatencyBin{}
	}
	if bins <= 0 {
		bins = DefaultLatencyBins
	}
	lo, hi := ds.Rows[0].LatencySeconds, ds.Rows[0].LatencySeconds
	for _, r := range ds.Rows[1:] {
		lo = min(lo, r.LatencySeconds)
		hi = max(hi, r.LatencySeconds)
	}
	if lo == hi {
		return []LatencyBin{{Lower: lo, Upper: hi, Count: ds.Len()}}
	}

	width := (hi - lo) / float64(bins)
	out := make([]LatencyBin, bins)
	for i := range out {
		out[i].Lower = lo + float64(i)*width
		out[i].Upper = lo + float64(i+1)*width
	}
	out[bins-1].Upper = hi
	for _, r := range ds.Rows {
		i := int((r.LatencySeconds - lo) / width)
		if i >= bins {
			i = bins - 1
		}
		out[i].Count++
	}
	return out
}

// DailyLatencyPoint is the mean latency of one day.
type DailyLatencyPoint struct {
	Date              string  `json:"date"`
	AvgLatencySeconds float64 `json:"avg_latency_seconds"`
	Count             int     `json:"count"`
}

// DailyLatency returns mean LatencySeconds per day, ascending.
// Rows without a recorded latency count as zero.
func DailyLatency(ds Dataset) []DailyLatencyPoint {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, r := range ds.Rows {
		sums[r.Date] += r.LatencySeconds
		counts[r.Date]++
	}
	out := make([]DailyLatencyPoint, 0, len(counts))
	for d, n := range counts {
		out = append(out, DailyLatencyPoint{
			Date:              d,
			AvgLatencySeconds: sums[d] / float64(n),
			Count:             n,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Date < out[j].Date
	})
	return out
}

// --- Programs ---

// ProgramCount is the number of conversations that recommended
// a program.
type ProgramCount struct {
	Program string `json:"program"`
	Count   int    `json:"count"`
}

// ProgramCounts counts rows per recommended program, most
// frequent first. Ties are ordered by program name.
func ProgramCounts(ds Dataset) []ProgramCount {
	counts := make(map[string]int)
	for _, r := range ds.Rows {
		counts[r.ProgramRecommended]++
	}
	out := make([]ProgramCount, 0, len(counts))
	for p, n := range counts {
		out = append(out, ProgramCount{Program: p, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Program < out[j].Program
	})
	return out
}
