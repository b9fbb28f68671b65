package trace

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// DirSource reads exported runs from *.json and *.jsonl files
// under Dir. Exports carry no project, so Query.Project is
// ignored; the time window is applied to records that have a
// start time. Records without one are passed through so the
// extractor can account for them.
type DirSource struct {
	Dir string
}

// IsTraceFile reports whether path has an extension DirSource
// reads.
func IsTraceFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonl":
		return true
	}
	return false
}

// FetchRuns implements Source.
func (s DirSource) FetchRuns(
	ctx context.Context, q Query,
) ([]Record, error) {
	files, err := s.files()
	if err != nil {
		return nil, err
	}

	var out []Record
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		recs, err := readTraceFile(path)
		if err != nil {
			log.Printf("trace dir: skipping %s: %v", path, err)
			continue
		}
		for _, rec := range recs {
			if rec.StartTime != nil && !q.Contains(*rec.StartTime) {
				continue
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

// files lists trace files under Dir in lexical order so that
// repeated reads yield records in a stable order.
func (s DirSource) files() ([]string, error) {
	if s.Dir == "" {
		return nil, fmt.Errorf("trace dir not configured")
	}
	var files []string
	err := filepath.WalkDir(s.Dir,
		func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == s.Dir {
					return err
				}
				return nil // skip unreadable subtrees
			}
			if !d.IsDir() && IsTraceFile(path) {
				files = append(files, path)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", s.Dir, err)
	}
	sort.Strings(files)
	return files, nil
}

func readTraceFile(path string) ([]Record, error) {
	if strings.EqualFold(filepath.Ext(path), ".jsonl") {
		return readJSONL(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	recs, skipped, err := ParseRuns(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if skipped > 0 {
		log.Printf("trace dir: %s: %d non-object item(s) skipped",
			path, skipped)
	}
	return recs, nil
}

func readJSONL(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var recs []Record
	lr := newLineReader(f, maxLineSize)
	for {
		line, ok := lr.next()
		if !ok {
			break
		}
		if !gjson.Valid(line) {
			continue
		}
		rec, err := ParseRun(gjson.Parse(line))
		if err != nil {
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
