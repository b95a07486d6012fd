package incident

import "encoding/json"

// EventType tags a streamed run event.
type EventType string

const (
	EventStatus          EventType = "status"
	EventRCAComplete     EventType = "rca_complete"
	EventRunbookComplete EventType = "runbook_complete"
	EventError           EventType = "error"
)

// RCAPayload is the rca_complete body: the root-cause record plus raw tier results.
type RCAPayload struct {
	Summary         string   `json:"summary"`
	RootCause       string   `json:"root_cause"`
	Recommendations []string `json:"recommendations"`
	Evidence        []string `json:"evidence"`
	WebResult       string   `json:"web_result"`
	AppResult       string   `json:"app_result"`
	DBResult        string   `json:"db_result"`
	CacheResult     string   `json:"cache_result"`
}

// Event is one item of a run's output stream.
type Event struct {
	Type     EventType
	Message  string
	RCA      *RCAPayload
	Runbooks []RunbookMatch
	Err      error
}

// MarshalJSON keeps runbook_complete's list present even when it is empty.
func (e Event) MarshalJSON() ([]byte, error) {
	out := map[string]any{"type": e.Type}
	if e.Message != "" {
		out["message"] = e.Message
	}
	if e.RCA != nil {
		out["rca"] = e.RCA
	}
	if e.Type == EventRunbookComplete {
		runbooks := e.Runbooks
		if runbooks == nil {
			runbooks = []RunbookMatch{}
		}
		out["runbooks"] = runbooks
	}
	return json.Marshal(out)
}

// BuildRCAPayload attaches per-tier evidence lines and raw tier results to a record.
func BuildRCAPayload(record RootCauseRecord, results map[Tier]string) *RCAPayload {
	evidence := make([]string, 0, len(record.Evidence)+len(results))
	evidence = append(evidence, record.Evidence...)
	for _, tier := range tierOrder {
		if r := results[tier]; r != "" {
			evidence = append(evidence, tier.Label()+" tier: "+r)
		}
	}
	recs := record.Recommendations
	if recs == nil {
		recs = []string{}
	}
	return &RCAPayload{
		Summary:         record.Narrative,
		RootCause:       record.RootCause,
		Recommendations: recs,
		Evidence:        evidence,
		WebResult:       results[TierWeb],
		AppResult:       results[TierApp],
		DBResult:        results[TierDB],
		CacheResult:     results[TierCache],
	}
}
