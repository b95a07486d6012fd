// Package summarizer turns aggregated tier results into a structured root-cause record.
package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"rca-backend/internal/incident"
	"rca-backend/internal/llm"
	"rca-backend/internal/shared/telemetry"
)

// ErrStructuredOutput marks an oracle response that does not satisfy the record schema.
var ErrStructuredOutput = errors.New("structured output invalid")

// Summarizer issues exactly one structured oracle call per non-empty aggregate.
type Summarizer struct {
	LLM llm.Client
}

// New returns a summarizer over client.
func New(client llm.Client) *Summarizer {
	return &Summarizer{LLM: client}
}

type structuredRCA struct {
	SummaryMarkdown string    `json:"summary_markdown"`
	RootCause       string    `json:"root_cause"`
	Recommendations *[]string `json:"recommendations"`
	Evidence        *[]string `json:"evidence"`
}

// Validate rejects blank text fields and missing or null list fields.
func (s structuredRCA) Validate() error {
	var problems []string
	if strings.TrimSpace(s.SummaryMarkdown) == "" {
		problems = append(problems, "summary_markdown is empty")
	}
	if strings.TrimSpace(s.RootCause) == "" {
		problems = append(problems, "root_cause is empty")
	}
	if s.Recommendations == nil {
		problems = append(problems, "recommendations is missing")
	}
	if s.Evidence == nil {
		problems = append(problems, "evidence is missing")
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// Summarize returns an empty record without an oracle call when aggregate is empty.
func (s *Summarizer) Summarize(ctx context.Context, query string, aggregate map[incident.Tier]string) (incident.RootCauseRecord, error) {
	if len(aggregate) == 0 {
		return incident.RootCauseRecord{}, nil
	}
	if s.LLM == nil {
		return incident.RootCauseRecord{}, fmt.Errorf("analysis oracle not configured")
	}

	system, ok := llm.PromptTemplate("summarizer_system")
	if !ok {
		return incident.RootCauseRecord{}, fmt.Errorf("summarizer prompt missing")
	}
	user, err := llm.RenderPrompt("summarizer_user", map[string]string{
		"Query":     strings.TrimSpace(query),
		"Aggregate": FormatAggregate(aggregate),
	})
	if err != nil {
		return incident.RootCauseRecord{}, err
	}

	var promptHash string
	raw, err := s.LLM.Generate(llm.WithPromptHashCapture(ctx, &promptHash), llm.Request{
		Purpose: "summarizer",
		System:  strings.TrimSpace(system),
		User:    user,
		JSON:    true,
	})
	if err != nil {
		return incident.RootCauseRecord{}, err
	}
	record, err := Parse(raw)
	if err != nil {
		telemetry.Error("summarizer.schema_mismatch", map[string]any{
			"prompt_hash":  promptHash,
			"response_len": len(raw),
			"error":        err.Error(),
		})
	}
	return record, err
}

// FormatAggregate renders present tiers in stable order under "=== <TIER> TIER ===" headers.
func FormatAggregate(aggregate map[incident.Tier]string) string {
	var sections []string
	for _, tier := range incident.OrderedTiers(aggregate) {
		sections = append(sections, tier.Header()+"\n"+aggregate[tier])
	}
	return strings.Join(sections, "\n\n")
}

// Parse decodes and validates an oracle response.
func Parse(raw string) (incident.RootCauseRecord, error) {
	body := stripFences(raw)
	if body == "" {
		return incident.RootCauseRecord{}, fmt.Errorf("%w: empty response", ErrStructuredOutput)
	}
	var out structuredRCA
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return incident.RootCauseRecord{}, fmt.Errorf("%w: %v", ErrStructuredOutput, err)
	}
	if err := out.Validate(); err != nil {
		return incident.RootCauseRecord{}, fmt.Errorf("%w: %v", ErrStructuredOutput, err)
	}
	return incident.RootCauseRecord{
		Narrative:       strings.TrimSpace(out.SummaryMarkdown),
		RootCause:       strings.TrimSpace(out.RootCause),
		Recommendations: cleanList(*out.Recommendations),
		Evidence:        cleanList(*out.Evidence),
	}, nil
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

var _ incident.Summarizer = (*Summarizer)(nil)
