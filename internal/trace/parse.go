package trace

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ErrNotObject is returned when a run payload is not a JSON
// object.
var ErrNotObject = errors.New("run is not a JSON object")

// timestampLayouts are tried in order. The backend emits naive
// UTC timestamps ("2024-06-01T09:00:00.123456"), exports carry
// a zone.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses a backend timestamp. Naive values are
// taken as UTC. Returns false when no layout matches.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ParseRun decodes one run object. Missing or null attributes
// stay nil; required-field checks are left to the extractor.
func ParseRun(run gjson.Result) (Record, error) {
	if !run.IsObject() {
		return Record{}, ErrNotObject
	}

	rec := Record{
		ID:        run.Get("id").String(),
		Name:      optString(run.Get("name")),
		StartTime: optTime(run.Get("start_time")),
		EndTime:   optTime(run.Get("end_time")),
		Status:    optString(run.Get("status")),
		Error:     optString(run.Get("error")),
		Extra:     optMap(run.Get("extra")),
		Inputs:    optMap(run.Get("inputs")),
		Outputs:   optMap(run.Get("outputs")),
		SessionID: optString(run.Get("session_id")),
	}
	liftMetadata(rec.Extra)
	return rec, nil
}

// ParseRuns decodes a payload holding either a JSON array of
// runs, an object with a "runs" array, or a single run. Items
// that are not objects are counted in skipped.
func ParseRuns(data []byte) (recs []Record, skipped int, err error) {
	if !gjson.ValidBytes(data) {
		return nil, 0, fmt.Errorf("invalid JSON payload")
	}
	root := gjson.ParseBytes(data)

	var list gjson.Result
	switch {
	case root.IsArray():
		list = root
	case root.Get("runs").IsArray():
		list = root.Get("runs")
	case root.IsObject():
		rec, err := ParseRun(root)
		if err != nil {
			return nil, 1, nil
		}
		return []Record{rec}, 0, nil
	default:
		return nil, 0, ErrNotObject
	}

	list.ForEach(func(_, item gjson.Result) bool {
		rec, err := ParseRun(item)
		if err != nil {
			skipped++
			return true
		}
		recs = append(recs, rec)
		return true
	})
	return recs, skipped, nil
}

func optString(r gjson.Result) *string {
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	s := r.String()
	return &s
}

func optTime(r gjson.Result) *time.Time {
	if r.Type != gjson.String {
		return nil
	}
	t, ok := ParseTimestamp(r.Str)
	if !ok {
		return nil
	}
	return &t
}

func optMap(r gjson.Result) map[string]any {
	if !r.IsObject() {
		return nil
	}
	m, ok := r.Value().(map[string]any)
	if !ok {
		return nil
	}
	return m
}

// liftMetadata copies keys of extra.metadata to the top level of
// extra unless the top level already defines them. The backend
// nests user-supplied metadata one level down.
func liftMetadata(extra map[string]any) {
	md, ok := extra["metadata"].(map[string]any)
	if !ok {
		return
	}
	for k, v := range md {
		if _, exists := extra[k]; !exists {
			extra[k] = v
		}
	}
}
