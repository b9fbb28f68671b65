// Package sync loads trace runs from a source into an in-memory
// analytics snapshot, optionally through a persistent run store,
// and keeps that snapshot fresh.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	gosync "sync"
	"time"

	"github.com/wesm/tracedash/internal/analytics"
	"github.com/wesm/tracedash/internal/db"
	"github.com/wesm/tracedash/internal/trace"
)

const (
	DefaultLookbackDays = 355

	// DefaultOverlap is how far before the last fetch an
	// incremental fetch starts, to pick up runs that were still
	// in flight.
	DefaultOverlap = time.Hour
)

// ErrNoData is returned with an empty snapshot when the window
// holds no usable conversations. It is a state, not a failure.
var ErrNoData = errors.New("no conversation data in window")

// Options configures an Engine.
type Options struct {
	Project      string
	LookbackDays int
	Overlap      time.Duration
	Location     *time.Location
	Programs     analytics.ProgramTable
	Cache        *Cache
	Metrics      *Metrics
	OnProgress   ProgressFunc
	Now          func() time.Time
}

// Snapshot is the immutable result of one load.
type Snapshot struct {
	Project       string                   `json:"project"`
	LookbackDays  int                      `json:"lookback_days"`
	Window        trace.Query              `json:"-"`
	Conversations []analytics.Conversation `json:"-"`
	Dataset       analytics.Dataset        `json:"-"`
	Stats         LoadStats                `json:"stats"`
	FetchedAt     time.Time                `json:"fetched_at"`
}

// Empty reports whether the snapshot has no conversations.
func (s *Snapshot) Empty() bool {
	return s == nil || s.Dataset.Empty()
}

// Window is the time range a snapshot covers.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Status describes the engine for the status endpoint.
type Status struct {
	Project       string    `json:"project"`
	LookbackDays  int       `json:"lookback_days"`
	Persistent    bool      `json:"persistent"`
	CacheTTL      string    `json:"cache_ttl"`
	LastLoad      time.Time `json:"last_load"`
	LastError     string    `json:"last_error,omitempty"`
	Window        *Window   `json:"window,omitempty"`
	Conversations int       `json:"conversations"`
	Stats         LoadStats `json:"stats"`
	Progress      Progress  `json:"progress"`
}

// Engine fetches runs, stores them, and builds snapshots.
type Engine struct {
	source    trace.Source
	db        *db.DB // nil when running without a store
	opts      Options
	extractor *analytics.Extractor
	cache     *Cache

	loadMu   gosync.Mutex // serializes loads
	listener ProgressFunc // per-call progress, guarded by loadMu
	mu       gosync.RWMutex
	current  *Snapshot
	lastLoad time.Time
	lastErr  error
	progress Progress
}

// NewEngine creates an engine reading from source. database may
// be nil, in which case every load fetches the whole window.
func NewEngine(
	source trace.Source, database *db.DB, opts Options,
) *Engine {
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = DefaultLookbackDays
	}
	if opts.Overlap <= 0 {
		opts.Overlap = DefaultOverlap
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	cache := opts.Cache
	if cache == nil {
		cache = NewCache(DefaultCacheTTL)
	}
	return &Engine{
		source:    source,
		db:        database,
		opts:      opts,
		extractor: analytics.NewExtractor(opts.Programs),
		cache:     cache,
		progress:  Progress{Phase: PhaseIdle, Project: opts.Project},
	}
}

// Project returns the configured project name.
func (e *Engine) Project() string { return e.opts.Project }

func (e *Engine) key() CacheKey {
	return CacheKey{Project: e.opts.Project, Days: e.opts.LookbackDays}
}

// Load returns a snapshot of the lookback window. A cached
// snapshot younger than the cache TTL is reused unless force is
// set. force also fetches the whole window again and, once that
// fetch succeeds, replaces the stored runs of the project. An
// empty window yields an empty snapshot together with ErrNoData.
func (e *Engine) Load(
	ctx context.Context, force bool,
) (*Snapshot, error) {
	return e.load(ctx, force, nil)
}

// Refresh is Load with a progress callback for this call only.
// A cache hit reports no progress.
func (e *Engine) Refresh(
	ctx context.Context, force bool, onProgress ProgressFunc,
) (*Snapshot, error) {
	return e.load(ctx, force, onProgress)
}

func (e *Engine) load(
	ctx context.Context, force bool, onProgress ProgressFunc,
) (*Snapshot, error) {
	if force {
		e.cache.Invalidate(e.key())
	} else if snap, ok := e.cache.Get(e.key()); ok {
		e.opts.Metrics.observeCached()
		return snap, noDataErr(snap)
	}

	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	// Another caller may have loaded while we waited.
	if !force {
		if snap, ok := e.cache.Get(e.key()); ok {
			e.opts.Metrics.observeCached()
			return snap, noDataErr(snap)
		}
	}

	e.listener = onProgress
	defer func() { e.listener = nil }()

	t0 := time.Now()
	snap, err := e.fetch(ctx, force)
	elapsed := time.Since(t0)
	if err != nil {
		e.opts.Metrics.observeLoad(resultError, elapsed.Seconds(), nil)
		e.mu.Lock()
		e.lastErr = err
		e.progress = Progress{Phase: PhaseIdle, Project: e.opts.Project}
		e.mu.Unlock()
		return nil, err
	}

	result := resultOK
	if snap.Empty() {
		result = resultNoData
	}
	e.opts.Metrics.observeLoad(result, elapsed.Seconds(), snap)

	e.cache.Put(e.key(), snap)
	e.mu.Lock()
	e.current = snap
	e.lastLoad = snap.FetchedAt
	e.lastErr = nil
	e.mu.Unlock()

	log.Printf(
		"load %s: %d fetched, %d conversations, %d skipped, %d duplicates in %s",
		e.opts.Project, snap.Stats.Fetched, snap.Stats.Extracted,
		snap.Stats.Skipped, snap.Stats.Duplicates,
		elapsed.Round(time.Millisecond),
	)
	return snap, noDataErr(snap)
}

func noDataErr(snap *Snapshot) error {
	if snap.Empty() {
		return ErrNoData
	}
	return nil
}

// Invalidate drops the cached snapshot so the next Load fetches.
// Stored runs are kept.
func (e *Engine) Invalidate() {
	e.cache.Invalidate(e.key())
}

// Status reports the engine state.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := Status{
		Project:      e.opts.Project,
		LookbackDays: e.opts.LookbackDays,
		Persistent:   e.db != nil,
		CacheTTL:     e.cache.TTL().String(),
		LastLoad:     e.lastLoad,
		Progress:     e.progress,
	}
	if e.lastErr != nil {
		s.LastError = e.lastErr.Error()
	}
	if e.current != nil {
		s.Window = &Window{
			Start: e.current.Window.Start,
			End:   e.current.Window.End,
		}
		s.Conversations = len(e.current.Conversations)
		s.Stats = e.current.Stats
	}
	return s
}

func (e *Engine) report(p Progress) {
	p.Project = e.opts.Project
	e.mu.Lock()
	e.progress = p
	e.mu.Unlock()
	if e.opts.OnProgress != nil {
		e.opts.OnProgress(p)
	}
	if e.listener != nil {
		e.listener(p)
	}
}

// window returns the lookback query ending now.
func (e *Engine) window(now time.Time) trace.Query {
	return trace.Query{
		Project: e.opts.Project,
		Start:   now.AddDate(0, 0, -e.opts.LookbackDays),
		End:     now,
	}
}

func (e *Engine) fetch(
	ctx context.Context, force bool,
) (*Snapshot, error) {
	now := e.opts.Now()
	window := e.window(now)
	var stats LoadStats

	e.report(Progress{Phase: PhaseFetching})

	var recs []trace.Record
	if e.db == nil {
		fetched, err := e.source.FetchRuns(ctx, window)
		if err != nil {
			return nil, fmt.Errorf("fetching runs: %w", err)
		}
		stats.Fetched = len(fetched)
		recs = fetched
	} else {
		var err error
		recs, err = e.fetchStored(ctx, force, now, window, &stats)
		if err != nil {
			return nil, err
		}
	}

	e.report(Progress{
		Phase:       PhaseBuilding,
		RunsFetched: stats.Fetched,
		RunsStored:  stats.Stored,
	})
	convs, xs := e.extractor.ExtractAll(recs)
	stats.Extracted = xs.Extracted
	stats.Duplicates = xs.Duplicates
	stats.RecordSkip(xs.Skipped)

	snap := &Snapshot{
		Project:       e.opts.Project,
		LookbackDays:  e.opts.LookbackDays,
		Window:        window,
		Conversations: convs,
		Dataset:       analytics.BuildIn(e.opts.Location, convs),
		Stats:         stats,
		FetchedAt:     now,
	}
	e.report(Progress{
		Phase:         PhaseDone,
		RunsFetched:   stats.Fetched,
		RunsStored:    stats.Stored,
		Conversations: len(convs),
	})
	return snap, nil
}

// fetchStored fetches new runs into the store and reads the
// whole window back from it. Without force the fetch starts at
// the previous high-water mark minus the overlap. With force the
// stored runs are swapped for the fetched ones only after the
// fetch succeeds.
func (e *Engine) fetchStored(
	ctx context.Context, force bool, now time.Time,
	window trace.Query, stats *LoadStats,
) ([]trace.Record, error) {
	project := e.opts.Project
	q := window

	if !force {
		last, ok, err := e.db.LastFetch(ctx, project)
		if err != nil {
			return nil, err
		}
		if ok {
			if from := last.Add(-e.opts.Overlap); from.After(q.Start) {
				q.Start = from
				stats.Incremental = true
			}
		}
	}

	fetched, err := e.source.FetchRuns(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("fetching runs: %w", err)
	}
	stats.Fetched = len(fetched)

	e.report(Progress{Phase: PhaseStoring, RunsFetched: len(fetched)})
	var stored int
	if force {
		var removed int64
		removed, stored, err = e.db.ReplaceRuns(ctx, project, fetched, now)
		if err != nil {
			return nil, err
		}
		if removed > 0 {
			log.Printf("load %s: replaced %d stored runs", project, removed)
		}
	} else {
		if stored, err = e.db.UpsertRuns(ctx, project, fetched); err != nil {
			return nil, err
		}
		if err := e.db.SetLastFetch(ctx, project, now); err != nil {
			return nil, err
		}
	}
	stats.Stored = stored
	if n := len(fetched) - stored; n > 0 {
		stats.RecordSkip(n)
		stats.RecordWarning(fmt.Sprintf(
			"%d fetched run(s) lacked an id or start time", n,
		))
	}

	return e.db.ListRuns(ctx, project, window.Start, window.End)
}
