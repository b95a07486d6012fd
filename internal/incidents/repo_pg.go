package incidents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rca-backend/internal/incident"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const runColumns = `id, query, alert_id, service_id, scenario, status, logs, rca, runbooks,
       runbook_error, error_code, error_message, started_at, completed_at, created_at, updated_at`

// Create inserts a new run.
func (r *PGRepo) Create(ctx context.Context, run Run) error {
	const query = `
INSERT INTO incident_runs (
	id, query, alert_id, service_id, scenario, status, logs, started_at, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`
	logs, err := marshalJSONB(run.Logs)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, query,
		run.ID,
		run.Query,
		run.AlertID,
		run.ServiceID,
		run.Scenario,
		run.Status,
		logs,
		nullTime(run.StartedAt),
		run.CreatedAt,
	)
	return err
}

// GetByID returns a run by ID.
func (r *PGRepo) GetByID(ctx context.Context, runID string) (Run, error) {
	query := `SELECT ` + runColumns + `
FROM incident_runs
WHERE id = $1
LIMIT 1`
	run, err := scanRun(r.DB.QueryRowContext(ctx, query, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	return run, err
}

// MarkProcessing moves a run to processing.
func (r *PGRepo) MarkProcessing(ctx context.Context, runID string, startedAt time.Time) error {
	const query = `
UPDATE incident_runs
SET status = $2, started_at = $3, updated_at = now()
WHERE id = $1`
	return execOne(ctx, r.DB, query, runID, StatusProcessing, startedAt)
}

// Complete stores the result of a finished run.
func (r *PGRepo) Complete(ctx context.Context, runID string, result Result, completedAt time.Time) error {
	const query = `
UPDATE incident_runs
SET status = $2, rca = $3, runbooks = $4, runbook_error = $5, completed_at = $6, updated_at = now()
WHERE id = $1`
	rca, err := marshalJSONB(result.RCA)
	if err != nil {
		return err
	}
	matches, err := marshalJSONB(result.Runbooks)
	if err != nil {
		return err
	}
	return execOne(ctx, r.DB, query, runID, StatusCompleted, rca, matches, result.RunbookError, completedAt)
}

// Fail records a fatal failure.
func (r *PGRepo) Fail(ctx context.Context, runID, code, message string, completedAt time.Time) error {
	const query = `
UPDATE incident_runs
SET status = $2, error_code = $3, error_message = $4, completed_at = $5, updated_at = now()
WHERE id = $1`
	return execOne(ctx, r.DB, query, runID, StatusFailed, code, message, completedAt)
}

// List returns runs newest first.
func (r *PGRepo) List(ctx context.Context, limit, offset int) ([]Run, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + runColumns + `
FROM incident_runs
ORDER BY created_at DESC, id DESC
LIMIT $1 OFFSET $2`
	rows, err := r.DB.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]Run, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var logs, rca, matches []byte
	var startedAt, completedAt sql.NullTime
	err := row.Scan(
		&run.ID,
		&run.Query,
		&run.AlertID,
		&run.ServiceID,
		&run.Scenario,
		&run.Status,
		&logs,
		&rca,
		&matches,
		&run.RunbookError,
		&run.ErrorCode,
		&run.ErrorMessage,
		&startedAt,
		&completedAt,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return Run{}, err
	}
	if len(logs) > 0 {
		if err := json.Unmarshal(logs, &run.Logs); err != nil {
			return Run{}, fmt.Errorf("decode logs: %w", err)
		}
	}
	if len(rca) > 0 && string(rca) != "null" {
		run.RCA = &incident.RCAPayload{}
		if err := json.Unmarshal(rca, run.RCA); err != nil {
			return Run{}, fmt.Errorf("decode rca: %w", err)
		}
	}
	if len(matches) > 0 {
		if err := json.Unmarshal(matches, &run.Runbooks); err != nil {
			return Run{}, fmt.Errorf("decode runbooks: %w", err)
		}
	}
	if startedAt.Valid {
		t := startedAt.Time
		run.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	return run, nil
}

func execOne(ctx context.Context, db *sql.DB, query string, args ...any) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalJSONB(value any) ([]byte, error) {
	if value == nil {
		return nil, nil
	}
	return json.Marshal(value)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

var _ Repo = (*PGRepo)(nil)
