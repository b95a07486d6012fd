package incidents

import (
	"context"
	"time"
)

// Repo defines persistence operations for incident runs.
type Repo interface {
	Create(ctx context.Context, run Run) error
	GetByID(ctx context.Context, runID string) (Run, error)
	MarkProcessing(ctx context.Context, runID string, startedAt time.Time) error
	Complete(ctx context.Context, runID string, result Result, completedAt time.Time) error
	Fail(ctx context.Context, runID, code, message string, completedAt time.Time) error
	List(ctx context.Context, limit, offset int) ([]Run, error)
}
