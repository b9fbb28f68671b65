package sync

import (
	"context"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wesm/tracedash/internal/db"
	"github.com/wesm/tracedash/internal/trace"
)

const testProject = "counseling-bot"

func Ptr[T any](v T) *T { return &v }

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

// run builds a record that extracts into a successful
// conversation for user.
func run(t *testing.T, id, start, user string) trace.Record {
	t.Helper()
	st := mustTime(t, start)
	end := st.Add(2 * time.Second)
	return trace.Record{
		ID:        id,
		Name:      Ptr("counselor-v2"),
		StartTime: &st,
		EndTime:   &end,
		Extra:     map[string]any{"name": user},
		Inputs:    map[string]any{"user_input": "hello"},
		Outputs:   map[string]any{"output": "Consider nursing."},
	}
}

// fakeSource serves a mutable record set, honoring the query
// window the way a real backend would.
type fakeSource struct {
	mu      gosync.Mutex
	recs    []trace.Record
	err     error
	queries []trace.Query
}

func (f *fakeSource) FetchRuns(
	ctx context.Context, q trace.Query,
) ([]trace.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	var out []trace.Record
	for _, r := range f.recs {
		if r.StartTime != nil && !q.Contains(*r.StartTime) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeSource) set(recs ...trace.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = recs
}

func (f *fakeSource) calls() []trace.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]trace.Query(nil), f.queries...)
}

// clock is a settable time source.
type clock struct {
	mu  gosync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func testDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func conversationIDs(snap *Snapshot) []string {
	ids := make([]string, len(snap.Conversations))
	for i, c := range snap.Conversations {
		ids[i] = c.ConversationID
	}
	return ids
}

// waitWithTimeout fails the test with msg if ch is not closed or
// signalled within timeout.
func waitWithTimeout(t *testing.T, ch <-chan struct{}, timeout time.Duration, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatal(msg)
	}
}
