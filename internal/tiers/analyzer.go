// Package tiers implements the per-tier log analyzers.
package tiers

import (
	"context"
	"fmt"
	"strings"

	"rca-backend/internal/incident"
	"rca-backend/internal/llm"
	"rca-backend/internal/retrieval"
)

const noContext = "No reference material matched these logs."

// Analyzer produces a verdict for one tier's logs. One type serves all four tiers.
type Analyzer struct {
	Tier      incident.Tier
	Retriever retrieval.Retriever
	LLM       llm.Client
	Policy    Policy
}

// New returns an analyzer for tier.
func New(tier incident.Tier, retriever retrieval.Retriever, client llm.Client, policy Policy) *Analyzer {
	return &Analyzer{Tier: tier, Retriever: retriever, LLM: client, Policy: policy}
}

// Analyze returns the tier verdict. Blank logs and override signatures are
// answered locally; every other log goes through retrieval and the oracle, and a
// healthy oracle verdict is replaced by the healthy template.
func (a *Analyzer) Analyze(ctx context.Context, logText string) (string, error) {
	if strings.TrimSpace(logText) == "" {
		return NoLogsText(a.Tier), nil
	}
	if verdict, ok := a.override(strings.ToLower(logText)); ok {
		return verdict, nil
	}
	if a.LLM == nil {
		return "", fmt.Errorf("analysis oracle not configured")
	}

	reference := noContext
	if a.Retriever != nil {
		docs, err := a.Retriever.Retrieve(ctx, truncate(logText, a.Policy.QueryChars), a.Policy.TopK)
		if err != nil {
			return "", fmt.Errorf("retrieve %s knowledge: %w", a.Tier, err)
		}
		if len(docs) > 0 {
			parts := make([]string, 0, len(docs))
			for _, d := range docs {
				parts = append(parts, d.Content)
			}
			reference = strings.Join(parts, "\n\n")
		}
	}

	system, ok := llm.PromptTemplate("tier_" + string(a.Tier) + "_system")
	if !ok {
		return "", fmt.Errorf("no system prompt for tier %s", a.Tier)
	}
	user, err := llm.RenderPrompt("tier_user", map[string]string{
		"Tier":    string(a.Tier),
		"Logs":    truncate(logText, a.Policy.PromptChars),
		"Context": reference,
	})
	if err != nil {
		return "", err
	}
	out, err := a.LLM.Generate(ctx, llm.Request{
		Purpose: "tier." + string(a.Tier),
		System:  strings.TrimSpace(system),
		User:    user,
	})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if IsHealthyVerdict(out) {
		return HealthyText(a.Tier), nil
	}
	return out, nil
}

func (a *Analyzer) override(lowerLogs string) (string, bool) {
	ov, ok := a.Policy.Overrides[a.Tier]
	if !ok {
		return "", false
	}
	if ov.CriticalText != "" && containsAny(lowerLogs, ov.Critical) {
		return ov.CriticalText, true
	}
	if ov.WarningText != "" && containsAny(lowerLogs, ov.Warning) {
		return ov.WarningText, true
	}
	return "", false
}

// NoLogsText is the sentinel result for a tier with blank logs.
func NoLogsText(tier incident.Tier) string {
	return fmt.Sprintf("No %s logs available", tier)
}

// HealthyText is the templated verdict that replaces a healthy oracle answer.
func HealthyText(tier incident.Tier) string {
	return fmt.Sprintf("Status: Healthy\nSeverity: None\nSummary: All %s tier operations successful, no errors detected.", tier)
}

// IsHealthyVerdict reports whether the oracle's status line says Healthy. List
// numbering and markdown emphasis in front of the status are ignored.
func IsHealthyVerdict(verdict string) bool {
	for _, line := range strings.Split(verdict, "\n") {
		line = strings.TrimLeft(strings.TrimSpace(line), "0123456789.)-*#> ")
		line = strings.ReplaceAll(strings.ToLower(line), "*", "")
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "status:") {
			return false
		}
		status := strings.TrimSpace(strings.TrimPrefix(line, "status:"))
		return strings.HasPrefix(status, "healthy")
	}
	return false
}

func containsAny(lower string, phrases []string) bool {
	for _, p := range phrases {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// truncate keeps the first n runes of s. n <= 0 keeps everything.
func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

var _ incident.TierAnalyzer = (*Analyzer)(nil)
