package summarizer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"rca-backend/internal/incident"
	"rca-backend/internal/llm"
)

type scriptedLLM struct {
	response string
	err      error
	calls    int
	last     llm.Request
}

func (s *scriptedLLM) Generate(ctx context.Context, req llm.Request) (string, error) {
	s.calls++
	s.last = req
	return s.response, s.err
}

const validResponse = `{
  "summary_markdown": "## Executive Summary\nRedis connection pool exhausted.",
  "root_cause": "Redis connection pool exhaustion (maxclients reached)",
  "recommendations": ["Recycle idle clients", " ", "Raise maxclients"],
  "evidence": ["ERR max number of clients reached"]
}`

func TestEmptyAggregateSkipsOracle(t *testing.T) {
	oracle := &scriptedLLM{}
	rec, err := New(oracle).Summarize(context.Background(), "q", map[incident.Tier]string{})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if oracle.calls != 0 {
		t.Fatalf("expected no oracle call, got %d", oracle.calls)
	}
	if rec.HasContent() {
		t.Fatalf("expected empty record, got %+v", rec)
	}
}

func TestSummarizeParsesStructuredResponse(t *testing.T) {
	oracle := &scriptedLLM{response: validResponse}
	rec, err := New(oracle).Summarize(context.Background(), "redis errors on checkout", map[incident.Tier]string{
		incident.TierCache: "Status: Critical",
		incident.TierWeb:   "Status: Healthy",
	})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if oracle.calls != 1 || !oracle.last.JSON || oracle.last.Purpose != "summarizer" {
		t.Fatalf("unexpected oracle usage: calls=%d req=%+v", oracle.calls, oracle.last)
	}
	if !strings.Contains(oracle.last.User, "=== WEB TIER ===\nStatus: Healthy\n\n=== CACHE TIER ===\nStatus: Critical") {
		t.Fatalf("prompt body not in tier order: %s", oracle.last.User)
	}
	if !strings.Contains(oracle.last.User, "Incident report: redis errors on checkout") {
		t.Fatalf("prompt missing query: %s", oracle.last.User)
	}
	want := incident.RootCauseRecord{
		Narrative:       "## Executive Summary\nRedis connection pool exhausted.",
		RootCause:       "Redis connection pool exhaustion (maxclients reached)",
		Recommendations: []string{"Recycle idle clients", "Raise maxclients"},
		Evidence:        []string{"ERR max number of clients reached"},
	}
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestParseStripsFences(t *testing.T) {
	rec, err := Parse("```json\n" + validResponse + "\n```")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if rec.RootCause == "" {
		t.Fatalf("expected root cause")
	}
}

func TestParseRejectsInvalidOutput(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "prose", raw: "The root cause is Redis."},
		{name: "empty", raw: "   "},
		{name: "missing root cause", raw: `{"summary_markdown":"x","recommendations":[],"evidence":[]}`},
		{name: "null recommendations", raw: `{"summary_markdown":"x","root_cause":"y","recommendations":null,"evidence":[]}`},
		{name: "missing evidence", raw: `{"summary_markdown":"x","root_cause":"y","recommendations":[]}`},
		{name: "wrong type", raw: `{"summary_markdown":"x","root_cause":"y","recommendations":"restart","evidence":[]}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.raw); !errors.Is(err, ErrStructuredOutput) {
				t.Fatalf("expected ErrStructuredOutput, got %v", err)
			}
		})
	}
}

func TestParseAcceptsEmptyLists(t *testing.T) {
	rec, err := Parse(`{"summary_markdown":"All healthy","root_cause":"No fault detected","recommendations":[],"evidence":[]}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if rec.Recommendations == nil || len(rec.Recommendations) != 0 {
		t.Fatalf("expected empty non-nil recommendations, got %#v", rec.Recommendations)
	}
}

func TestSummarizeDoesNotRetryOnSchemaFailure(t *testing.T) {
	oracle := &scriptedLLM{response: "not json"}
	_, err := New(oracle).Summarize(context.Background(), "", map[incident.Tier]string{incident.TierApp: "x"})
	if !errors.Is(err, ErrStructuredOutput) {
		t.Fatalf("expected ErrStructuredOutput, got %v", err)
	}
	if oracle.calls != 1 {
		t.Fatalf("expected exactly one oracle call, got %d", oracle.calls)
	}
}
