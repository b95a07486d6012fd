package tiers

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"rca-backend/internal/incident"
)

// Override maps unambiguous log signatures to canned verdicts.
type Override struct {
	Critical     []string `yaml:"critical"`
	Warning      []string `yaml:"warning"`
	CriticalText string   `yaml:"critical_text"`
	WarningText  string   `yaml:"warning_text"`
}

// Policy holds the analyzer thresholds and keyword lists.
type Policy struct {
	QueryChars   int                        `yaml:"query_chars"`
	PromptChars  int                        `yaml:"prompt_chars"`
	TopK         int                        `yaml:"top_k"`
	Overrides    map[incident.Tier]Override `yaml:"-"`
	RawOverrides map[string]Override        `yaml:"overrides"`
}

const cacheCriticalText = "Status: Critical\n" +
	"Severity: High\n" +
	"Indicators: ERR max number of clients reached, connection pool exhaustion, slow commands, blocked clients.\n" +
	"Root Cause: Redis connection pool saturated; applications hold too many connections and maxclients limit reached.\n" +
	"Immediate Remediation: Restart or recycle offending clients, increase maxclients (with OS limits), clear idle connections.\n" +
	"Prevention: Configure connection pooling with timeouts, scale cache tier, add alerts for connection count usage."

const cacheWarningText = "Status: Warning\n" +
	"Severity: Moderate\n" +
	"Indicators: Slow Redis commands and timeouts observed.\n" +
	"Root Cause: Cache under strain; potential resource contention or long-running operations.\n" +
	"Immediate Remediation: Inspect slowlog output, optimize offending commands, consider scaling cache resources.\n" +
	"Prevention: Add monitoring for slowlog, tune command usage, and provision capacity ahead of peak load."

// DefaultPolicy returns the observed production thresholds.
func DefaultPolicy() Policy {
	return Policy{
		QueryChars:  2000,
		PromptChars: 5000,
		TopK:        5,
		Overrides: map[incident.Tier]Override{
			incident.TierCache: {
				Critical:     []string{"err max number of clients reached", "max number of clients reached", "connection pool"},
				Warning:      []string{"slow command", "slowlog", "timeout"},
				CriticalText: cacheCriticalText,
				WarningText:  cacheWarningText,
			},
		},
	}
}

// LoadPolicyFile overlays a YAML policy file on base. Zero values in the file keep
// the base value; an overrides entry replaces that tier's phrase lists.
func LoadPolicyFile(path string, base Policy) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read policy file: %w", err)
	}
	var file Policy
	if err := yaml.Unmarshal(data, &file); err != nil {
		return base, fmt.Errorf("parse policy file: %w", err)
	}

	out := base.clone()
	if file.QueryChars > 0 {
		out.QueryChars = file.QueryChars
	}
	if file.PromptChars > 0 {
		out.PromptChars = file.PromptChars
	}
	if file.TopK > 0 {
		out.TopK = file.TopK
	}
	for name, ov := range file.RawOverrides {
		tier, ok := incident.ParseTier(name)
		if !ok {
			return base, fmt.Errorf("policy overrides: unknown tier %q", name)
		}
		merged := out.Overrides[tier]
		if len(ov.Critical) > 0 {
			merged.Critical = lowerAll(ov.Critical)
		}
		if len(ov.Warning) > 0 {
			merged.Warning = lowerAll(ov.Warning)
		}
		if strings.TrimSpace(ov.CriticalText) != "" {
			merged.CriticalText = strings.TrimSpace(ov.CriticalText)
		}
		if strings.TrimSpace(ov.WarningText) != "" {
			merged.WarningText = strings.TrimSpace(ov.WarningText)
		}
		out.Overrides[tier] = merged
	}
	return out, nil
}

func (p Policy) clone() Policy {
	out := p
	out.Overrides = make(map[incident.Tier]Override, len(p.Overrides))
	for tier, ov := range p.Overrides {
		out.Overrides[tier] = ov
	}
	out.RawOverrides = nil
	return out
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
