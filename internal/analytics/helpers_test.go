package analytics

import (
	"fmt"
	"testing"
	"time"

	"github.com/wesm/tracedash/internal/trace"
)

func Ptr[T any](v T) *T { return &v }

// at parses an RFC3339 timestamp or fails the test.
func at(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t.Fatalf("parsing %q: %v", s, err)
	}
	return ts
}

// conv builds a conversation for aggregation tests.
func conv(
	id, user string, ts time.Time, opts ...func(*Conversation),
) Conversation {
	c := Conversation{
		ConversationID:     id,
		UserID:             user,
		UserName:           user,
		Timestamp:          ts,
		UserInput:          "hello",
		BotResponse:        "hi there",
		ProgramRecommended: DefaultProgram,
		Success:            true,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func failed(c *Conversation) { c.Success = false }

func latency(ms float64) func(*Conversation) {
	return func(c *Conversation) { c.LatencyMS = &ms }
}

func tokens(n int) func(*Conversation) {
	return func(c *Conversation) { c.TotalTokens = &n }
}

func program(p string) func(*Conversation) {
	return func(c *Conversation) { c.ProgramRecommended = p }
}

// record builds a raw trace record that extracts successfully.
func record(
	t *testing.T, id string, opts ...func(*trace.Record),
) trace.Record {
	t.Helper()
	start := at(t, "2024-06-03T10:00:00Z")
	r := trace.Record{
		ID:        id,
		Name:      Ptr("counselor-v2"),
		StartTime: &start,
		Inputs:    map[string]any{"user_input": "what should I study?"},
		Outputs:   map[string]any{"output": "Consider engineering."},
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// userRows builds n conversations for user starting at base,
// one minute apart, with ids prefixed by user.
func userRows(user string, n int, base time.Time) []Conversation {
	out := make([]Conversation, n)
	for i := range n {
		out[i] = conv(
			fmt.Sprintf("%s-%d", user, i), user,
			base.Add(time.Duration(i)*time.Minute),
		)
	}
	return out
}
