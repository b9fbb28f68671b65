package sync

// Phase describes the current load phase.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseFetching Phase = "fetching"
	PhaseStoring  Phase = "storing"
	PhaseBuilding Phase = "building"
	PhaseDone     Phase = "done"
)

// Progress reports load progress to listeners.
type Progress struct {
	Phase         Phase  `json:"phase"`
	Project       string `json:"project,omitempty"`
	RunsFetched   int    `json:"runs_fetched"`
	RunsStored    int    `json:"runs_stored"`
	Conversations int    `json:"conversations"`
}

// LoadStats summarizes one load.
//
// Fetched counts records returned by the source. Stored counts
// those written to the run store (zero without a store).
// Extracted, Skipped and Duplicates come from extraction over the
// whole window; Skipped also includes fetched records the store
// refused for lacking an ID or start time.
type LoadStats struct {
	Fetched     int      `json:"fetched"`
	Stored      int      `json:"stored"`
	Extracted   int      `json:"extracted"`
	Skipped     int      `json:"skipped"`
	Duplicates  int      `json:"duplicates"`
	Incremental bool     `json:"incremental"`
	Warnings    []string `json:"warnings,omitempty"`
}

// RecordSkip adds n to the skipped record counter.
func (s *LoadStats) RecordSkip(n int) {
	s.Skipped += n
}

// RecordWarning appends a non-fatal problem to the stats.
func (s *LoadStats) RecordWarning(msg string) {
	s.Warnings = append(s.Warnings, msg)
}

// Percent returns the share of fetched runs already stored as a
// percentage from 0 to 100.
func (p Progress) Percent() float64 {
	if p.RunsFetched == 0 {
		return 0
	}
	return float64(p.RunsStored) /
		float64(p.RunsFetched) * 100
}

// ProgressFunc is called with progress updates during a load.
type ProgressFunc func(Progress)
