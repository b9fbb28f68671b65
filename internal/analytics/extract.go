// Package analytics turns raw trace records into a tabular
// dataset of conversations and computes the filtered and grouped
// summaries behind the dashboard. Everything here is a pure
// function of its inputs.
package analytics

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/wesm/tracedash/internal/trace"
)

// ErrMissingField is returned when a record lacks its identifier
// or start time. Batch extraction skips such records.
var ErrMissingField = errors.New("missing required field")

// Candidate payload keys, scanned in order.
var (
	metadataNameKeys = []string{"name", "username"}
	inputNameKeys    = []string{"user_input_username", "username"}
	metadataIDKeys   = []string{"user_id", "session_id"}
	inputTextKeys    = []string{"user_input", "input"}
	outputTextKeys   = []string{"output", "response"}
)

// Conversation is the normalized form of one trace record.
type Conversation struct {
	ConversationID     string    `json:"conversation_id"`
	UserID             string    `json:"user_id"`
	UserName           string    `json:"user_name"`
	RunName            string    `json:"run_name"`
	Timestamp          time.Time `json:"timestamp"`
	LatencyMS          *float64  `json:"latency_ms"`
	TotalTokens        *int      `json:"total_tokens"`
	UserInput          string    `json:"user_input"`
	BotResponse        string    `json:"bot_response"`
	ProgramRecommended string    `json:"program_recommended"`
	Success            bool      `json:"success"`
}

// ExtractStats counts what happened to a batch.
type ExtractStats struct {
	Total      int `json:"total"`
	Extracted  int `json:"extracted"`
	Skipped    int `json:"skipped"`
	Duplicates int `json:"duplicates"`
}

// Extractor converts records to conversations using a program
// keyword table.
type Extractor struct {
	programs ProgramTable
}

// NewExtractor returns an Extractor that classifies responses
// with programs. An empty table falls back to DefaultPrograms.
func NewExtractor(programs ProgramTable) *Extractor {
	if len(programs.Rules) == 0 {
		programs = DefaultPrograms
	}
	return &Extractor{programs: programs}
}

var defaultExtractor = NewExtractor(DefaultPrograms)

// Extract converts one record with the default program table.
func Extract(rec trace.Record) (Conversation, error) {
	return defaultExtractor.Extract(rec)
}

// ExtractAll converts a batch with the default program table.
func ExtractAll(recs []trace.Record) ([]Conversation, ExtractStats) {
	return defaultExtractor.ExtractAll(recs)
}

// Extract converts one record. It fails only when the record
// has no ID or no start time; every other field has a fallback.
func (e *Extractor) Extract(rec trace.Record) (Conversation, error) {
	if rec.ID == "" {
		return Conversation{}, fmt.Errorf("%w: id", ErrMissingField)
	}
	if rec.StartTime == nil || rec.StartTime.IsZero() {
		return Conversation{}, fmt.Errorf(
			"%w: start_time (run %s)", ErrMissingField, rec.ID,
		)
	}

	c := Conversation{
		ConversationID: rec.ID,
		Timestamp:      *rec.StartTime,
	}

	// The run name identifies the bot variant, not the user.
	if rec.Name != nil {
		c.RunName = *rec.Name
	}

	c.UserName = firstText(rec.Extra, metadataNameKeys...)
	if c.UserName == "" {
		c.UserName = firstText(rec.Inputs, inputNameKeys...)
	}
	if c.UserName == "" {
		c.UserName = PlaceholderName(rec.ID)
	}

	c.UserID = firstText(rec.Extra, metadataIDKeys...)
	if c.UserID == "" && rec.SessionID != nil {
		c.UserID = *rec.SessionID
	}
	if c.UserID == "" {
		c.UserID = rec.ID
	}

	if rec.EndTime != nil && !rec.EndTime.IsZero() {
		ms := float64(rec.EndTime.Sub(*rec.StartTime)) /
			float64(time.Millisecond)
		c.LatencyMS = &ms
	}
	c.TotalTokens = usageTokens(rec.Extra)

	c.UserInput = messageText(rec.Inputs, inputTextKeys...)
	c.BotResponse = messageText(rec.Outputs, outputTextKeys...)
	c.ProgramRecommended = e.programs.Classify(c.BotResponse)

	// An empty response is a failure whatever the backend says.
	c.Success = rec.StatusOrDefault() == trace.DefaultStatus &&
		!rec.HasError() &&
		c.BotResponse != ""
	return c, nil
}

// ExtractAll converts a batch, skipping records that fail with
// ErrMissingField and dropping repeated conversation IDs (the
// first occurrence wins). Input order is preserved.
func (e *Extractor) ExtractAll(
	recs []trace.Record,
) ([]Conversation, ExtractStats) {
	stats := ExtractStats{Total: len(recs)}
	out := make([]Conversation, 0, len(recs))
	seen := make(map[string]bool, len(recs))

	for _, rec := range recs {
		c, err := e.Extract(rec)
		if err != nil {
			stats.Skipped++
			continue
		}
		if seen[c.ConversationID] {
			stats.Duplicates++
			continue
		}
		seen[c.ConversationID] = true
		out = append(out, c)
	}
	stats.Extracted = len(out)
	return out, stats
}

// PlaceholderName returns the deterministic display name used
// when a record carries no user name.
func PlaceholderName(conversationID string) string {
	return fmt.Sprintf(
		"User-%d", xxhash.Sum64String(conversationID)%10000,
	)
}

// firstText returns the text of the first key in m whose value
// is non-empty, or "".
func firstText(m map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || isEmptyValue(v) {
			continue
		}
		return toText(v)
	}
	return ""
}

// messageText reads a message body. Earlier keys are skipped
// when empty, but the last key is used whenever it holds a
// non-null value, so a literal 0 or false still shows.
func messageText(m map[string]any, keys ...string) string {
	for i, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		if i < len(keys)-1 && isEmptyValue(v) {
			continue
		}
		return toText(v)
	}
	return ""
}

// isEmptyValue reports JSON falsiness: null, zero, false and
// empty strings, objects and arrays are all empty.
func isEmptyValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case bool:
		return !x
	case float64:
		return x == 0
	case int:
		return x == 0
	case int64:
		return x == 0
	case map[string]any:
		return len(x) == 0
	case []any:
		return len(x) == 0
	}
	return false
}

// toText coerces a decoded JSON value to display text. Whole
// numbers print without a fraction; objects and arrays print as
// compact JSON.
func toText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case json.Number:
		return x.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// usageTokens reads extra.usage.total_tokens.
func usageTokens(extra map[string]any) *int {
	usage, ok := extra["usage"].(map[string]any)
	if !ok {
		return nil
	}
	var n int
	switch x := usage["total_tokens"].(type) {
	case float64:
		n = int(x)
	case int:
		n = x
	case int64:
		n = int(x)
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return nil
		}
		n = int(i)
	default:
		return nil
	}
	return &n
}
