package incidents

import (
	"time"

	"rca-backend/internal/incident"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Run is one persisted incident analysis.
type Run struct {
	ID           string                   `json:"id"`
	Query        string                   `json:"query"`
	AlertID      string                   `json:"alertId,omitempty"`
	ServiceID    string                   `json:"serviceId,omitempty"`
	Scenario     string                   `json:"scenario,omitempty"`
	Status       string                   `json:"status"`
	Logs         map[incident.Tier]string `json:"-"`
	RCA          *incident.RCAPayload     `json:"rca,omitempty"`
	Runbooks     []incident.RunbookMatch  `json:"runbooks,omitempty"`
	RunbookError string                   `json:"runbookError,omitempty"`
	ErrorCode    string                   `json:"errorCode,omitempty"`
	ErrorMessage string                   `json:"errorMessage,omitempty"`
	StartedAt    *time.Time               `json:"startedAt,omitempty"`
	CompletedAt  *time.Time               `json:"completedAt,omitempty"`
	CreatedAt    time.Time                `json:"createdAt"`
	UpdatedAt    time.Time                `json:"updatedAt"`
}

// Result is what a completed run stores.
type Result struct {
	RCA          *incident.RCAPayload
	Runbooks     []incident.RunbookMatch
	RunbookError string
}

func (r Run) input() incident.Input {
	return incident.Input{
		RunID:     r.ID,
		Query:     r.Query,
		AlertID:   r.AlertID,
		ServiceID: r.ServiceID,
		Logs:      r.Logs,
	}
}

// Terminal reports whether the run has finished.
func (r Run) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}
