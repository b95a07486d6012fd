package incidents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"rca-backend/internal/incident"
	"rca-backend/internal/llm"
	"rca-backend/internal/queue"
	"rca-backend/internal/scenarios"
	"rca-backend/internal/shared/metrics"
	"rca-backend/internal/shared/storage/object"
	"rca-backend/internal/shared/telemetry"
)

const reportPrefix = "reports/"

// Runner starts one incident analysis and streams its events.
type Runner interface {
	Run(ctx context.Context, in incident.Input) <-chan incident.Event
}

// Request is the caller's description of an incident.
type Request struct {
	Query     string            `json:"query"`
	AlertID   string            `json:"alert_id"`
	ServiceID string            `json:"service_id"`
	Scenario  string            `json:"scenario"`
	Logs      map[string]string `json:"logs"`
}

// Service contains business logic for incident runs.
type Service struct {
	Repo      Repo
	Runner    Runner
	Scenarios *scenarios.Loader
	Store     object.ObjectStore
	Queue     queue.Client
}

// Stream starts a run immediately and returns its event stream. The run is
// persisted when it ends, even if ctx is cancelled before the stream is drained.
func (s *Service) Stream(ctx context.Context, req Request) (Run, <-chan incident.Event, error) {
	if s.Runner == nil {
		return Run{}, nil, errors.New("incident runner not configured")
	}
	logs, err := s.resolveLogs(ctx, req)
	if err != nil {
		return Run{}, nil, err
	}

	now := time.Now().UTC()
	run := newRun(req, logs, StatusProcessing, now)
	run.StartedAt = &now
	if err := s.Repo.Create(ctx, run); err != nil {
		return Run{}, nil, fmt.Errorf("create run storage: %w", err)
	}
	metrics.IncRunsStarted()
	s.logStatus(ctx, run, "none->processing")

	events := s.Runner.Run(oracleContext(context.WithoutCancel(ctx), run), run.input())
	out := make(chan incident.Event)
	go func() {
		defer close(out)
		var c collector
		delivering := true
		for ev := range events {
			c.observe(ev)
			if !delivering {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				delivering = false
			}
		}
		if err := s.finish(backgroundWithRequestID(ctx), run, c); err != nil {
			telemetry.Error("incident.persist.failed", map[string]any{
				"request_id": requestIDFromContext(ctx),
				"run_id":     run.ID,
				"error":      err.Error(),
			})
		}
	}()
	return run, out, nil
}

// Enqueue records a queued run and hands it to the job queue, or processes it
// in the background when no queue is configured.
func (s *Service) Enqueue(ctx context.Context, req Request) (Run, error) {
	if s.Queue == nil && s.Runner == nil {
		return Run{}, ErrJobQueueNotConfigured
	}
	logs, err := s.resolveLogs(ctx, req)
	if err != nil {
		return Run{}, err
	}

	run := newRun(req, logs, StatusQueued, time.Now().UTC())
	if err := s.Repo.Create(ctx, run); err != nil {
		return Run{}, fmt.Errorf("create run storage: %w", err)
	}

	if s.Queue == nil {
		go func(ctx context.Context) {
			if err := s.ProcessRun(ctx, run.ID); err != nil {
				telemetry.Error("incident.process.failed", map[string]any{
					"request_id": requestIDFromContext(ctx),
					"run_id":     run.ID,
					"error":      err.Error(),
				})
			}
		}(backgroundWithRequestID(ctx))
		return run, nil
	}

	msg := queue.Message{
		RunID:      run.ID,
		RequestID:  requestIDFromContext(ctx),
		EnqueuedAt: time.Now().UTC().Format(time.RFC3339),
		Version:    1,
	}
	if err := s.Queue.Send(ctx, msg); err != nil {
		s.fail(backgroundWithRequestID(ctx), run, fmt.Errorf("enqueue run: %w", err))
		return Run{}, err
	}
	return run, nil
}

// ProcessRun executes a queued run to completion. Runs that already reached a
// terminal status are skipped so redelivered messages are harmless. Failures of
// the analysis itself are recorded on the run; only persistence errors are returned.
func (s *Service) ProcessRun(ctx context.Context, runID string) error {
	if s.Runner == nil {
		return errors.New("incident runner not configured")
	}
	run, err := s.Repo.GetByID(ctx, runID)
	if err != nil {
		return fmt.Errorf("run lookup: %w", err)
	}
	if run.Terminal() {
		telemetry.Info("incident.process.skipped", map[string]any{
			"request_id": requestIDFromContext(ctx),
			"run_id":     run.ID,
			"status":     run.Status,
		})
		return nil
	}

	startedAt := time.Now().UTC()
	if err := s.Repo.MarkProcessing(ctx, runID, startedAt); err != nil {
		return fmt.Errorf("set processing: %w", err)
	}
	run.Status = StatusProcessing
	run.StartedAt = &startedAt
	metrics.IncRunsStarted()
	s.logStatus(ctx, run, "queued->processing")

	var c collector
	for ev := range s.Runner.Run(oracleContext(ctx, run), run.input()) {
		c.observe(ev)
	}
	return s.finish(ctx, run, c)
}

// Get returns a run by ID.
func (s *Service) Get(ctx context.Context, runID string) (Run, error) {
	if strings.TrimSpace(runID) == "" {
		return Run{}, fmt.Errorf("%w: run id is required", ErrInvalidRequest)
	}
	return s.Repo.GetByID(ctx, runID)
}

// List returns runs ordered newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Run, error) {
	return s.Repo.List(ctx, limit, offset)
}

func (s *Service) resolveLogs(ctx context.Context, req Request) (map[incident.Tier]string, error) {
	inline := make(map[incident.Tier]string, len(req.Logs))
	for name, text := range req.Logs {
		tier, ok := incident.ParseTier(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown tier %q", ErrInvalidRequest, name)
		}
		if _, dup := inline[tier]; dup {
			return nil, fmt.Errorf("%w: logs name the %s tier more than once", ErrInvalidRequest, tier)
		}
		inline[tier] = text
	}

	base := map[incident.Tier]string{}
	if name := strings.TrimSpace(req.Scenario); name != "" {
		if s.Scenarios == nil {
			return nil, fmt.Errorf("%w: scenarios are not configured", ErrInvalidRequest)
		}
		loaded, err := s.Scenarios.Load(ctx, name)
		if err != nil {
			return nil, err
		}
		base = loaded
	}

	logs := scenarios.Merge(base, inline)
	if strings.TrimSpace(req.Query) == "" && !hasLogs(logs) {
		return nil, fmt.Errorf("%w: query, scenario or logs are required", ErrInvalidRequest)
	}
	return logs, nil
}

func hasLogs(logs map[incident.Tier]string) bool {
	for _, text := range logs {
		if strings.TrimSpace(text) != "" {
			return true
		}
	}
	return false
}

func newRun(req Request, logs map[incident.Tier]string, status string, now time.Time) Run {
	return Run{
		ID:        uuid.NewString(),
		Query:     strings.TrimSpace(req.Query),
		AlertID:   strings.TrimSpace(req.AlertID),
		ServiceID: strings.TrimSpace(req.ServiceID),
		Scenario:  strings.TrimSpace(req.Scenario),
		Status:    status,
		Logs:      logs,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// collector folds a run's events into its final state.
type collector struct {
	rca        *incident.RCAPayload
	runbooks   []incident.RunbookMatch
	runbookErr string
	err        error
}

func (c *collector) observe(ev incident.Event) {
	switch ev.Type {
	case incident.EventRCAComplete:
		c.rca = ev.RCA
	case incident.EventRunbookComplete:
		c.runbooks = ev.Runbooks
		if ev.Err != nil {
			c.runbookErr = ev.Err.Error()
		}
	case incident.EventError:
		c.err = ev.Err
		if c.err == nil {
			c.err = errors.New(ev.Message)
		}
	}
}

func (s *Service) finish(ctx context.Context, run Run, c collector) error {
	if c.err == nil && c.rca == nil {
		c.err = errors.New("run ended without a result")
	}
	if c.err != nil {
		return s.fail(ctx, run, c.err)
	}

	completedAt := time.Now().UTC()
	result := Result{RCA: c.rca, Runbooks: c.runbooks, RunbookError: c.runbookErr}
	if err := s.Repo.Complete(ctx, run.ID, result, completedAt); err != nil {
		return fmt.Errorf("set run result storage: %w", err)
	}
	run.Status = StatusCompleted
	run.RCA = result.RCA
	run.Runbooks = result.Runbooks
	run.RunbookError = result.RunbookError
	run.CompletedAt = &completedAt
	run.UpdatedAt = completedAt

	metrics.IncRunsCompleted()
	metrics.ObserveRunDuration(durationSeconds(run.StartedAt, &completedAt))
	s.logStatus(ctx, run, "processing->completed")
	s.archive(ctx, run)
	return nil
}

func (s *Service) fail(ctx context.Context, run Run, cause error) error {
	code, retryable := classifyFailure(cause)
	msg := sanitizeError(cause)
	completedAt := time.Now().UTC()
	metrics.IncRunsFailed(code)
	if run.StartedAt != nil {
		metrics.ObserveRunDuration(durationSeconds(run.StartedAt, &completedAt))
	}
	telemetry.Error("incident.status", map[string]any{
		"request_id":        requestIDFromContext(ctx),
		"run_id":            run.ID,
		"status":            StatusFailed,
		"status_transition": run.Status + "->failed",
		"error_code":        code,
		"retryable":         retryable,
		"error":             msg,
	})
	if err := s.Repo.Fail(ctx, run.ID, code, msg, completedAt); err != nil {
		return fmt.Errorf("set run failure storage: %w", err)
	}
	return nil
}

func (s *Service) archive(ctx context.Context, run Run) {
	if s.Store == nil {
		return
	}
	payload, err := json.MarshalIndent(run, "", "  ")
	if err == nil {
		_, err = s.Store.Put(ctx, reportPrefix+run.ID+".json", "application/json", bytes.NewReader(payload))
	}
	if err != nil {
		telemetry.Error("incident.archive.failed", map[string]any{
			"run_id": run.ID,
			"error":  err.Error(),
		})
	}
}

func (s *Service) logStatus(ctx context.Context, run Run, transition string) {
	fields := map[string]any{
		"request_id":        requestIDFromContext(ctx),
		"run_id":            run.ID,
		"status":            run.Status,
		"status_transition": transition,
	}
	if run.Scenario != "" {
		fields["scenario"] = run.Scenario
	}
	if run.CompletedAt != nil {
		fields["duration_ms"] = durationSeconds(run.StartedAt, run.CompletedAt) * 1000
	}
	telemetry.Info("incident.status", fields)
}

func durationSeconds(startedAt, completedAt *time.Time) float64 {
	if startedAt == nil || completedAt == nil {
		return 0
	}
	return completedAt.Sub(*startedAt).Seconds()
}

// oracleContext tells every oracle call which alert and service the run is about.
func oracleContext(ctx context.Context, run Run) context.Context {
	var parts []string
	if id := strings.TrimSpace(run.AlertID); id != "" {
		parts = append(parts, "alert "+id)
	}
	if id := strings.TrimSpace(run.ServiceID); id != "" {
		parts = append(parts, "service "+id)
	}
	if len(parts) == 0 {
		return ctx
	}
	return llm.WithExtraSystemMessage(ctx, "Incident context: "+strings.Join(parts, ", ")+".")
}
