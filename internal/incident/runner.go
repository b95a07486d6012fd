package incident

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rca-backend/internal/shared/telemetry"
)

// TierAnalyzer produces a natural-language verdict for one tier's logs.
type TierAnalyzer interface {
	Analyze(ctx context.Context, logText string) (string, error)
}

// Summarizer turns an aggregate of tier results into a root-cause record.
type Summarizer interface {
	Summarize(ctx context.Context, query string, aggregate map[Tier]string) (RootCauseRecord, error)
}

// RunbookResolver looks up remediation procedures for a root-cause record.
type RunbookResolver interface {
	Resolve(ctx context.Context, recommendations []string, rootCause string, maxResults int) ([]RunbookMatch, error)
}

// Input starts a run.
type Input struct {
	RunID     string
	Query     string
	AlertID   string
	ServiceID string
	Logs      map[Tier]string
}

// Runner wires analyzers, summarizer and resolver into the orchestration graph.
type Runner struct {
	Analyzers    map[Tier]TierAnalyzer
	Summarizer   Summarizer
	Runbooks     RunbookResolver
	MaxRunbooks  int
	MaxSteps     int
	StageTimeout time.Duration
}

const defaultMaxRunbooks = 3

// Run executes one incident analysis and streams its events. The channel is
// closed when the run ends. Cancelling ctx stops the walk before the next stage
// and drops any remaining events; a stage call already in flight runs on a
// detached context bounded by StageTimeout and finishes on its own.
func (r *Runner) Run(ctx context.Context, in Input) <-chan Event {
	out := make(chan Event, 8)
	go func() {
		defer close(out)
		r.run(ctx, in, &emitter{ctx: ctx, out: out})
	}()
	return out
}

// Outcome is the drained result of a run.
type Outcome struct {
	Statuses   []string
	RCA        *RCAPayload
	Runbooks   []RunbookMatch
	RunbookErr string
	Completed  bool
}

// Execute runs to completion and returns the collected outcome, or the fatal
// error. It returns ctx.Err() as soon as ctx is cancelled.
func (r *Runner) Execute(ctx context.Context, in Input) (Outcome, error) {
	var outcome Outcome
	events := r.Run(ctx, in)
loop:
	for {
		var ev Event
		select {
		case <-ctx.Done():
			return outcome, ctx.Err()
		case next, open := <-events:
			if !open {
				break loop
			}
			ev = next
		}
		switch ev.Type {
		case EventStatus:
			outcome.Statuses = append(outcome.Statuses, ev.Message)
		case EventRCAComplete:
			outcome.RCA = ev.RCA
			outcome.Completed = true
		case EventRunbookComplete:
			outcome.Runbooks = ev.Runbooks
			if ev.Err != nil {
				outcome.RunbookErr = ev.Err.Error()
			}
		case EventError:
			if ev.Err != nil {
				return outcome, ev.Err
			}
			return outcome, errors.New(ev.Message)
		}
	}
	if outcome.RCA == nil {
		return outcome, ctx.Err()
	}
	return outcome, nil
}

type emitter struct {
	ctx       context.Context
	out       chan<- Event
	abandoned bool
}

func (e *emitter) send(ev Event) {
	if e.abandoned || e.ctx.Err() != nil {
		e.abandoned = true
		return
	}
	select {
	case e.out <- ev:
	case <-e.ctx.Done():
		e.abandoned = true
	}
}

func (e *emitter) status(msg string) {
	e.send(Event{Type: EventStatus, Message: msg})
}

func (r *Runner) run(ctx context.Context, in Input, em *emitter) {
	started := time.Now()
	state := NewState(in.Query, in.Logs)
	state.AlertID = in.AlertID
	state.ServiceID = in.ServiceID

	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("panic: %v", rec)
			telemetry.Error("incident.run.panic", map[string]any{
				"run_id": in.RunID,
				"error":  err.Error(),
			})
			em.send(Event{Type: EventError, Message: err.Error(), Err: err})
		}
	}()

	graph, err := r.graph(em, in.RunID)
	if err != nil {
		em.send(Event{Type: EventError, Message: err.Error(), Err: err})
		return
	}

	if err := graph.Walk(ctx, StageIncidentManager, state); err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			telemetry.Warn("incident.run.abandoned", map[string]any{
				"run_id":      in.RunID,
				"stage":       string(state.Next),
				"duration_ms": float64(time.Since(started).Microseconds()) / 1000.0,
			})
			return
		}
		telemetry.Error("incident.run.failed", map[string]any{
			"run_id":      in.RunID,
			"error":       err.Error(),
			"duration_ms": float64(time.Since(started).Microseconds()) / 1000.0,
		})
		em.send(Event{Type: EventError, Message: fatalMessage(err), Err: err})
		return
	}

	telemetry.Info("incident.run.complete", map[string]any{
		"run_id":      in.RunID,
		"tiers":       len(state.Aggregated),
		"runbooks":    len(state.Runbooks),
		"duration_ms": float64(time.Since(started).Microseconds()) / 1000.0,
	})
}

func fatalMessage(err error) string {
	switch {
	case errors.Is(err, ErrStepLimit):
		return "Analysis aborted: " + err.Error()
	default:
		return "Analysis failed: " + err.Error()
	}
}

func (r *Runner) graph(em *emitter, runID string) (*Graph, error) {
	nodes := map[Stage]Node{
		StageIncidentManager: r.routeNode(em),
		StageAggregate:       r.aggregateNode(em),
		StageSummarizer:      r.summarizeNode(em),
		StageRunbook:         r.runbookNode(em),
	}
	edges := map[Stage]Transition{
		StageIncidentManager: func(s *AnalysisState) Stage { return s.Next },
		StageAggregate:       func(*AnalysisState) Stage { return StageSummarizer },
		StageSummarizer: func(s *AnalysisState) Stage {
			if s.RCA != nil && s.RCA.HasContent() {
				return StageRunbook
			}
			return StageEnd
		},
		StageRunbook: func(*AnalysisState) Stage { return StageEnd },
	}
	for _, tier := range tierOrder {
		nodes[ToolStage(tier)] = r.tierNode(em, tier)
		edges[ToolStage(tier)] = func(*AnalysisState) Stage { return StageIncidentManager }
	}

	observe := func(stage Stage, step int, elapsed time.Duration, err error) {
		fields := map[string]any{
			"run_id":      runID,
			"stage":       string(stage),
			"step":        step,
			"duration_ms": float64(elapsed.Microseconds()) / 1000.0,
		}
		if err != nil {
			fields["error"] = err.Error()
			telemetry.Error("incident.stage.failed", fields)
			return
		}
		telemetry.Info("incident.stage.complete", fields)
	}
	return NewGraph(nodes, edges, WithMaxSteps(r.MaxSteps), WithStepObserver(observe))
}

// stageContext detaches a stage call from caller cancellation so an in-flight
// call completes or times out on its own.
func (r *Runner) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if r.StageTimeout <= 0 {
		return context.WithCancel(detached)
	}
	return context.WithTimeout(detached, r.StageTimeout)
}

func (r *Runner) routeNode(em *emitter) Node {
	return func(ctx context.Context, state *AnalysisState) error {
		state.Next = Route(state)
		if tier, ok := TierForStage(state.Next); ok {
			em.status(fmt.Sprintf("Routing to %s analysis...", tier))
		}
		return nil
	}
}

func (r *Runner) tierNode(em *emitter, tier Tier) Node {
	return func(ctx context.Context, state *AnalysisState) error {
		em.status(fmt.Sprintf("Analyzing %s tier logs...", tier))
		analyzer := r.Analyzers[tier]
		var (
			text string
			err  error
		)
		if analyzer == nil {
			err = errors.New("no analyzer configured")
		} else {
			stageCtx, cancel := r.stageContext(ctx)
			text, err = analyzer.Analyze(stageCtx, state.Logs[tier])
			cancel()
		}
		if err != nil {
			text = fmt.Sprintf("Error analyzing %s logs: %v", tier, err)
		}
		return state.SetResult(tier, text)
	}
}

func (r *Runner) aggregateNode(em *emitter) Node {
	return func(ctx context.Context, state *AnalysisState) error {
		em.status("Aggregating analysis results...")
		state.Aggregated = Aggregate(state)
		return nil
	}
}

func (r *Runner) summarizeNode(em *emitter) Node {
	return func(ctx context.Context, state *AnalysisState) error {
		record := RootCauseRecord{}
		if len(state.Aggregated) > 0 {
			if r.Summarizer == nil {
				return errors.New("summarizer not configured")
			}
			em.status("Generating root cause analysis summary...")
			stageCtx, cancel := r.stageContext(ctx)
			var err error
			record, err = r.Summarizer.Summarize(stageCtx, state.Query, state.Aggregated)
			cancel()
			if err != nil {
				return err
			}
		}
		state.RCA = &record
		em.send(Event{Type: EventRCAComplete, RCA: BuildRCAPayload(record, state.Aggregated)})
		return nil
	}
}

func (r *Runner) runbookNode(em *emitter) Node {
	return func(ctx context.Context, state *AnalysisState) error {
		if r.Runbooks == nil {
			state.Runbooks = []RunbookMatch{}
			em.send(Event{Type: EventRunbookComplete, Runbooks: state.Runbooks})
			return nil
		}
		em.status("Searching runbooks for remediation procedures...")
		limit := r.MaxRunbooks
		if limit <= 0 {
			limit = defaultMaxRunbooks
		}
		stageCtx, cancel := r.stageContext(ctx)
		matches, err := r.Runbooks.Resolve(stageCtx, state.RCA.Recommendations, state.RCA.RootCause, limit)
		cancel()
		if err != nil {
			state.RunbookErr = err
			matches = nil
			em.status("Runbook lookup failed: " + err.Error())
		}
		if matches == nil {
			matches = []RunbookMatch{}
		}
		state.Runbooks = matches
		em.send(Event{Type: EventRunbookComplete, Runbooks: matches, Err: err})
		return nil
	}
}
