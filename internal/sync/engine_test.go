package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesm/tracedash/internal/db"
	"github.com/wesm/tracedash/internal/trace"
)

const (
	tsDay1 = "2024-06-01T09:00:00Z"
	tsDay2 = "2024-06-02T09:00:00Z"
	tsNow  = "2024-06-10T12:00:00Z"
)

func newTestEngine(
	t *testing.T, src trace.Source, database *db.DB,
	mutate ...func(*Options),
) (*Engine, *clock) {
	t.Helper()
	clk := &clock{now: mustTime(t, tsNow)}
	opts := Options{
		Project: testProject,
		Cache:   NewCache(time.Hour),
		Now:     clk.Now,
	}
	for _, m := range mutate {
		m(&opts)
	}
	return NewEngine(src, database, opts), clk
}

func TestNewEngineDefaults(t *testing.T) {
	e := NewEngine(&fakeSource{}, nil, Options{Project: testProject})
	assert.Equal(t, DefaultLookbackDays, e.opts.LookbackDays)
	assert.Equal(t, DefaultOverlap, e.opts.Overlap)
	assert.Equal(t, time.UTC, e.opts.Location)
	assert.Equal(t, DefaultCacheTTL, e.cache.TTL())
	assert.Equal(t, testProject, e.Project())
	assert.Nil(t, e.current)
	st := e.Status()
	assert.Equal(t, PhaseIdle, st.Progress.Phase)
	assert.Nil(t, st.Window)
}

func TestEngineLoadWithoutStore(t *testing.T) {
	src := &fakeSource{}
	src.set(
		run(t, "r1", tsDay1, "Maria"),
		run(t, "r2", tsDay2, "Jon"),
		run(t, "old", "2023-01-01T09:00:00Z", "Ana"),
		run(t, "r1", tsDay2, "Maria"),
	)
	e, _ := newTestEngine(t, src, nil)
	ctx := context.Background()

	snap, err := e.Load(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2"}, conversationIDs(snap))
	assert.Equal(t, 2, snap.Dataset.Len())
	assert.Equal(t, []string{"Jon", "Maria"}, snap.Dataset.Users())
	assert.Equal(t, 3, snap.Stats.Fetched)
	assert.Equal(t, 0, snap.Stats.Stored)
	assert.Equal(t, 1, snap.Stats.Duplicates)
	assert.False(t, snap.Stats.Incremental)
	assert.Equal(t, mustTime(t, tsNow), snap.FetchedAt)

	// The window ends now and reaches back the lookback period.
	q := src.calls()[0]
	assert.Equal(t, testProject, q.Project)
	assert.Equal(t, mustTime(t, tsNow), q.End)
	assert.Equal(t, mustTime(t, tsNow).AddDate(0, 0, -355), q.Start)

	t.Run("CacheHit", func(t *testing.T) {
		again, err := e.Load(ctx, false)
		require.NoError(t, err)
		assert.Same(t, snap, again)
		assert.Len(t, src.calls(), 1)
	})

	t.Run("Invalidate", func(t *testing.T) {
		e.Invalidate()
		again, err := e.Load(ctx, false)
		require.NoError(t, err)
		assert.NotSame(t, snap, again)
		assert.Len(t, src.calls(), 2)
	})

	t.Run("Force", func(t *testing.T) {
		_, err := e.Load(ctx, true)
		require.NoError(t, err)
		assert.Len(t, src.calls(), 3)
	})

	st := e.Status()
	assert.False(t, st.Persistent)
	assert.Equal(t, 2, st.Conversations)
	assert.Equal(t, PhaseDone, st.Progress.Phase)
	assert.Empty(t, st.LastError)
	assert.Equal(t, mustTime(t, tsNow), st.LastLoad)
	require.NotNil(t, st.Window)
	assert.Equal(t, Window{Start: q.Start, End: q.End}, *st.Window)
}

func TestEngineNoData(t *testing.T) {
	e, _ := newTestEngine(t, &fakeSource{}, nil)
	snap, err := e.Load(context.Background(), false)
	require.ErrorIs(t, err, ErrNoData)
	require.NotNil(t, snap)
	assert.True(t, snap.Empty())
	assert.Same(t, snap, e.current)

	// Cached empty snapshots still report no data.
	_, err = e.Load(context.Background(), false)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestEngineSourceError(t *testing.T) {
	boom := errors.New("boom")
	src := &fakeSource{err: boom}
	e, _ := newTestEngine(t, src, nil)

	snap, err := e.Load(context.Background(), false)
	assert.Nil(t, snap)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "fetching runs")
	assert.Nil(t, e.current)

	st := e.Status()
	assert.Contains(t, st.LastError, "boom")
	assert.Equal(t, PhaseIdle, st.Progress.Phase)

	// Errors are not cached.
	_, _ = e.Load(context.Background(), false)
	assert.Len(t, src.calls(), 2)
}

func TestEngineSkipsUnplaceableRecords(t *testing.T) {
	bad := trace.Record{ID: "no-start"}
	tests := []struct {
		name  string
		store bool
	}{
		{"WithoutStore", false},
		{"WithStore", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{}
			src.set(run(t, "r1", tsDay1, "Maria"), bad)
			var database *db.DB
			if tt.store {
				database = testDB(t)
			}
			e, _ := newTestEngine(t, src, database)

			snap, err := e.Load(context.Background(), false)
			require.NoError(t, err)
			assert.Equal(t, []string{"r1"}, conversationIDs(snap))
			assert.Equal(t, 2, snap.Stats.Fetched)
			assert.Equal(t, 1, snap.Stats.Skipped)
		})
	}
}

func TestEngineIncrementalWithStore(t *testing.T) {
	database := testDB(t)
	src := &fakeSource{}
	src.set(run(t, "r1", tsDay1, "Maria"), run(t, "r2", tsDay2, "Jon"))
	e, clk := newTestEngine(t, src, database)
	ctx := context.Background()

	first, err := e.Load(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2"}, conversationIDs(first))
	assert.Equal(t, 2, first.Stats.Stored)
	assert.False(t, first.Stats.Incremental)

	last, ok, err := database.LastFetch(ctx, testProject)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, last.Equal(mustTime(t, tsNow)), "last fetch %v", last)

	// A run lands after the first fetch.
	src.set(
		run(t, "r1", tsDay1, "Maria"),
		run(t, "r2", tsDay2, "Jon"),
		run(t, "r3", "2024-06-10T13:00:00Z", "Ana"),
	)
	clk.Set(mustTime(t, "2024-06-10T14:00:00Z"))
	e.Invalidate()

	second, err := e.Load(ctx, false)
	require.NoError(t, err)
	assert.True(t, second.Stats.Incremental)
	assert.Equal(t, 1, second.Stats.Fetched)
	assert.Equal(t, []string{"r1", "r2", "r3"}, conversationIDs(second))

	calls := src.calls()
	require.Len(t, calls, 2)
	assert.True(t,
		calls[1].Start.Equal(mustTime(t, "2024-06-10T11:00:00Z")),
		"incremental start %v", calls[1].Start)

	t.Run("ForceRefetchesWindow", func(t *testing.T) {
		// r1 disappears upstream; only a forced refresh notices.
		src.set(
			run(t, "r2", tsDay2, "Jon"),
			run(t, "r3", "2024-06-10T13:00:00Z", "Ana"),
		)
		snap, err := e.Load(ctx, true)
		require.NoError(t, err)
		assert.False(t, snap.Stats.Incremental)
		assert.Equal(t, []string{"r2", "r3"}, conversationIDs(snap))

		q := src.calls()[2]
		assert.Equal(t,
			mustTime(t, "2024-06-10T14:00:00Z").AddDate(0, 0, -355),
			q.Start)
	})

	assert.True(t, e.Status().Persistent)
}

func TestEngineForceKeepsStoreOnSourceError(t *testing.T) {
	database := testDB(t)
	src := &fakeSource{}
	src.set(run(t, "r1", tsDay1, "Maria"), run(t, "r2", tsDay2, "Jon"))
	e, _ := newTestEngine(t, src, database)
	ctx := context.Background()

	_, err := e.Load(ctx, false)
	require.NoError(t, err)

	boom := errors.New("upstream down")
	src.mu.Lock()
	src.err = boom
	src.mu.Unlock()

	_, err = e.Load(ctx, true)
	require.ErrorIs(t, err, boom)

	stored, err := database.ListRuns(ctx, testProject,
		time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, stored, 2)
	last, ok, err := database.LastFetch(ctx, testProject)
	require.NoError(t, err)
	require.True(t, ok, "fetch state lost by failed forced load")
	assert.True(t, last.Equal(mustTime(t, tsNow)), "last fetch %v", last)

	src.mu.Lock()
	src.err = nil
	src.mu.Unlock()
	e.Invalidate()

	snap, err := e.Load(ctx, false)
	require.NoError(t, err)
	assert.True(t, snap.Stats.Incremental)
	assert.Equal(t, []string{"r1", "r2"}, conversationIDs(snap))
}

func TestEngineProgressCallback(t *testing.T) {
	src := &fakeSource{}
	src.set(run(t, "r1", tsDay1, "Maria"))
	var phases []Phase
	e, _ := newTestEngine(t, src, testDB(t), func(o *Options) {
		o.OnProgress = func(p Progress) {
			assert.Equal(t, testProject, p.Project)
			phases = append(phases, p.Phase)
		}
	})

	_, err := e.Load(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []Phase{
		PhaseFetching, PhaseStoring, PhaseBuilding, PhaseDone,
	}, phases)
}

func TestEngineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	src := &fakeSource{}
	src.set(run(t, "r1", tsDay1, "Maria"), run(t, "r2", tsDay2, "Jon"))
	e, _ := newTestEngine(t, src, nil, func(o *Options) {
		o.Metrics = NewMetrics(reg)
	})
	ctx := context.Background()

	_, err := e.Load(ctx, false)
	require.NoError(t, err)
	_, err = e.Load(ctx, false)
	require.NoError(t, err)

	loads := gatherValues(t, reg, "tracedash_loads_total")
	assert.Equal(t, 1.0, loads["ok"])
	assert.Equal(t, 1.0, loads["cached"])

	conv := gatherValues(t, reg, "tracedash_snapshot_conversations")
	assert.Equal(t, 2.0, conv[""])
	fetched := gatherValues(t, reg, "tracedash_runs_fetched_total")
	assert.Equal(t, 2.0, fetched[""])
}

// gatherValues returns the values of a counter or gauge family
// keyed by the "result" label ("" when unlabeled).
func gatherValues(
	t *testing.T, reg *prometheus.Registry, name string,
) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	out := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			key := ""
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "result" {
					key = lp.GetValue()
				}
			}
			switch {
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[key] = m.GetGauge().GetValue()
			}
		}
	}
	return out
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.observeCached()
	m.observeLoad(resultOK, 1, &Snapshot{})
}

func TestEngineRefreshListener(t *testing.T) {
	src := &fakeSource{}
	src.set(run(t, "r1", tsDay1, "Maria"))
	e, _ := newTestEngine(t, src, nil)
	ctx := context.Background()

	var got []Progress
	snap, err := e.Refresh(ctx, false, func(p Progress) {
		got = append(got, p)
	})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, PhaseDone, last.Phase)
	assert.Equal(t, 1, last.Conversations)

	// The listener is scoped to its call.
	got = nil
	e.Invalidate()
	_, err = e.Load(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, got)

	// Cache hits report nothing.
	again, err := e.Refresh(ctx, false, func(p Progress) {
		t.Errorf("unexpected progress on cache hit: %+v", p)
	})
	require.NoError(t, err)
	assert.NotSame(t, snap, again)
}
