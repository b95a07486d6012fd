package incidents

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo stores runs in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu   sync.RWMutex
	byID map[string]Run
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]Run)}
}

// Create stores the run.
func (r *MemoryRepo) Create(ctx context.Context, run Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = run.CreatedAt
	}
	r.byID[run.ID] = run
	return nil
}

// GetByID returns a run by its ID.
func (r *MemoryRepo) GetByID(ctx context.Context, runID string) (Run, error) {
	if err := ctx.Err(); err != nil {
		return Run{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.byID[runID]
	if !ok {
		return Run{}, ErrNotFound
	}
	return run, nil
}

// MarkProcessing moves a run to processing.
func (r *MemoryRepo) MarkProcessing(ctx context.Context, runID string, startedAt time.Time) error {
	return r.update(ctx, runID, func(run *Run) {
		run.Status = StatusProcessing
		run.StartedAt = &startedAt
	})
}

// Complete stores the result of a finished run.
func (r *MemoryRepo) Complete(ctx context.Context, runID string, result Result, completedAt time.Time) error {
	return r.update(ctx, runID, func(run *Run) {
		run.Status = StatusCompleted
		run.RCA = result.RCA
		run.Runbooks = result.Runbooks
		run.RunbookError = result.RunbookError
		run.CompletedAt = &completedAt
	})
}

// Fail records a fatal failure.
func (r *MemoryRepo) Fail(ctx context.Context, runID, code, message string, completedAt time.Time) error {
	return r.update(ctx, runID, func(run *Run) {
		run.Status = StatusFailed
		run.ErrorCode = code
		run.ErrorMessage = message
		run.CompletedAt = &completedAt
	})
}

func (r *MemoryRepo) update(ctx context.Context, runID string, mutate func(*Run)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.byID[runID]
	if !ok {
		return ErrNotFound
	}
	mutate(&run)
	run.UpdatedAt = time.Now().UTC()
	r.byID[runID] = run
	return nil
}

// List returns runs newest first, with limit/offset.
func (r *MemoryRepo) List(ctx context.Context, limit, offset int) ([]Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	if limit < 0 {
		limit = 0
	}

	r.mu.RLock()
	runs := make([]Run, 0, len(r.byID))
	for _, run := range r.byID {
		runs = append(runs, run)
	}
	r.mu.RUnlock()

	if offset >= len(runs) {
		return []Run{}, nil
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})

	end := len(runs)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return runs[offset:end], nil
}

var _ Repo = (*MemoryRepo)(nil)
