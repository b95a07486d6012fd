package incident

import (
	"strings"
)

// Tier names one of the log-producing subsystems under diagnosis.
type Tier string

const (
	TierWeb   Tier = "web"
	TierApp   Tier = "app"
	TierDB    Tier = "db"
	TierCache Tier = "cache"
)

var tierOrder = []Tier{TierWeb, TierApp, TierDB, TierCache}

// Tiers returns every tier in routing priority order.
func Tiers() []Tier {
	out := make([]Tier, len(tierOrder))
	copy(out, tierOrder)
	return out
}

// ParseTier maps a user supplied name onto a Tier.
func ParseTier(raw string) (Tier, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "web":
		return TierWeb, true
	case "app", "application":
		return TierApp, true
	case "db", "database":
		return TierDB, true
	case "cache", "redis":
		return TierCache, true
	default:
		return "", false
	}
}

// Label is the display form used in evidence lines ("Web", "App", "DB", "Cache").
func (t Tier) Label() string {
	switch t {
	case TierDB:
		return "DB"
	case "":
		return ""
	default:
		return strings.ToUpper(string(t[:1])) + string(t[1:])
	}
}

// Header is the section header used when tier results are concatenated.
func (t Tier) Header() string {
	return "=== " + strings.ToUpper(string(t)) + " TIER ==="
}

// RootCauseRecord is the structured synthesis produced once per run.
type RootCauseRecord struct {
	Narrative       string   `json:"summary"`
	RootCause       string   `json:"root_cause"`
	Recommendations []string `json:"recommendations"`
	Evidence        []string `json:"evidence"`
}

// HasContent reports whether the record carries anything worth a runbook lookup.
func (r RootCauseRecord) HasContent() bool {
	return strings.TrimSpace(r.Narrative) != "" ||
		strings.TrimSpace(r.RootCause) != "" ||
		len(r.Recommendations) > 0
}

// RunbookMatch is one retrieved remediation document.
type RunbookMatch struct {
	ActionTitle    string   `json:"action_title"`
	Steps          []string `json:"steps,omitempty"`
	SourceDocument string   `json:"source_document"`
	SourceURL      string   `json:"source_url"`
	RelevanceScore float64  `json:"relevance_score"`
	RawContent     string   `json:"raw_content,omitempty"`
}

// AnalysisState is threaded through the graph and mutated by one stage at a time.
type AnalysisState struct {
	Query     string
	AlertID   string
	ServiceID string

	Logs    map[Tier]string
	Results map[Tier]string

	Next       Stage
	Aggregated map[Tier]string

	RCA        *RootCauseRecord
	Runbooks   []RunbookMatch
	RunbookErr error
}

// NewState builds the initial state for a run.
func NewState(query string, logs map[Tier]string) *AnalysisState {
	state := &AnalysisState{
		Query:   query,
		Logs:    make(map[Tier]string, len(tierOrder)),
		Results: make(map[Tier]string, len(tierOrder)),
		Next:    StageIncidentManager,
	}
	for _, tier := range tierOrder {
		state.Logs[tier] = logs[tier]
	}
	return state
}

// Available reports whether the tier has log text worth analyzing.
func (s *AnalysisState) Available(tier Tier) bool {
	return strings.TrimSpace(s.Logs[tier]) != ""
}

// Done reports whether the tier's result slot has been written.
func (s *AnalysisState) Done(tier Tier) bool {
	return s.Results[tier] != ""
}

// SetResult writes a tier result slot. A slot can be written once per run.
func (s *AnalysisState) SetResult(tier Tier, text string) error {
	if s.Done(tier) {
		return ErrResultAlreadySet
	}
	if text == "" {
		text = "No " + string(tier) + " analysis produced"
	}
	s.Results[tier] = text
	return nil
}
