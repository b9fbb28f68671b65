package trace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func recordIDs(recs []Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func TestDirSourceFetchRuns(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.json"), `[
		{"id":"a1","start_time":"2024-06-01T09:00:00Z"},
		{"id":"a2","start_time":"2023-01-01T09:00:00Z"}
	]`)
	writeFile(t, filepath.Join(dir, "nested", "b.jsonl"),
		`{"id":"b1","start_time":"2024-06-02T09:00:00Z"}`+"\n"+
			"\n"+
			"not json\n"+
			`{"id":"b2"}`+"\n")
	writeFile(t, filepath.Join(dir, "broken.json"), `{"runs": [`)
	writeFile(t, filepath.Join(dir, "notes.txt"), `{"id":"ignored"}`)

	src := DirSource{Dir: dir}
	q := Query{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
	}
	recs, err := src.FetchRuns(context.Background(), q)
	require.NoError(t, err)

	// Out-of-window records are dropped; records without a start
	// time pass through.
	assert.Equal(t, []string{"a1", "b1", "b2"}, recordIDs(recs))
}

func TestDirSourceErrors(t *testing.T) {
	_, err := DirSource{}.FetchRuns(context.Background(), Query{})
	assert.Error(t, err)

	_, err = DirSource{Dir: filepath.Join(t.TempDir(), "missing")}.
		FetchRuns(context.Background(), Query{})
	assert.Error(t, err)

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.json"), `{"id":"a"}`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = DirSource{Dir: dir}.FetchRuns(ctx, Query{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsTraceFile(t *testing.T) {
	assert.True(t, IsTraceFile("/x/runs.json"))
	assert.True(t, IsTraceFile("/x/runs.JSONL"))
	assert.False(t, IsTraceFile("/x/runs.json.tmp"))
	assert.False(t, IsTraceFile("/x/readme.md"))
}

func TestLineReaderSkipsOversized(t *testing.T) {
	input := "short\n" + strings.Repeat("x", 100) + "\n\nlast"
	lr := newLineReader(strings.NewReader(input), 50)

	var got []string
	for {
		line, ok := lr.next()
		if !ok {
			break
		}
		got = append(got, line)
	}
	assert.Equal(t, []string{"short", "last"}, got)
}
