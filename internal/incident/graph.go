package incident

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"rca-backend/internal/shared/metrics"
)

// Stage names a node of the orchestration graph.
type Stage string

const (
	StageIncidentManager Stage = "incident_manager"
	StageWebTool         Stage = "web_tool"
	StageAppTool         Stage = "app_tool"
	StageDBTool          Stage = "db_tool"
	StageCacheTool       Stage = "cache_tool"
	StageAggregate       Stage = "aggregate"
	StageSummarizer      Stage = "summarizer"
	StageRunbook         Stage = "runbook"
	StageEnd             Stage = "end"
)

// DefaultMaxSteps bounds the number of node executions in one walk.
const DefaultMaxSteps = 20

// ToolStage returns the analyzer stage for a tier.
func ToolStage(tier Tier) Stage {
	return Stage(string(tier) + "_tool")
}

// TierForStage returns the tier analyzed by a tool stage.
func TierForStage(stage Stage) (Tier, bool) {
	for _, tier := range tierOrder {
		if ToolStage(tier) == stage {
			return tier, true
		}
	}
	return "", false
}

// Node mutates the state for one stage. A returned error aborts the walk.
type Node func(ctx context.Context, state *AnalysisState) error

// Transition selects the stage that follows a node.
type Transition func(state *AnalysisState) Stage

// StepObserver is notified after every node execution.
type StepObserver func(stage Stage, step int, elapsed time.Duration, err error)

// Graph is an explicit state machine over Stage values.
type Graph struct {
	nodes    map[Stage]Node
	edges    map[Stage]Transition
	maxSteps int
	observer StepObserver
}

// GraphOption configures a Graph during construction.
type GraphOption func(*Graph)

// WithMaxSteps overrides DefaultMaxSteps. Non-positive values are ignored.
func WithMaxSteps(n int) GraphOption {
	return func(g *Graph) {
		if n > 0 {
			g.maxSteps = n
		}
	}
}

// WithStepObserver registers a callback invoked after every node.
func WithStepObserver(fn StepObserver) GraphOption {
	return func(g *Graph) {
		g.observer = fn
	}
}

// NewGraph validates that every node has an outgoing transition and every
// transition source is a node.
func NewGraph(nodes map[Stage]Node, edges map[Stage]Transition, opts ...GraphOption) (*Graph, error) {
	g := &Graph{
		nodes:    nodes,
		edges:    edges,
		maxSteps: DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(g)
	}
	for stage := range nodes {
		if _, ok := edges[stage]; !ok {
			return nil, fmt.Errorf("%w: node %s has no transition", ErrUnknownStage, stage)
		}
	}
	for stage := range edges {
		if _, ok := nodes[stage]; !ok {
			return nil, fmt.Errorf("%w: transition from %s has no node", ErrUnknownStage, stage)
		}
	}
	return g, nil
}

// Walk executes nodes starting at start until a transition reaches StageEnd.
// It returns ErrStepLimit when more than MaxSteps nodes would run.
func (g *Graph) Walk(ctx context.Context, start Stage, state *AnalysisState) error {
	tracer := otel.Tracer("rca-backend/incident")
	stage := start
	steps := 0

	for stage != StageEnd {
		if err := ctx.Err(); err != nil {
			return err
		}
		if steps >= g.maxSteps {
			return fmt.Errorf("%w: cap %d reached before %s", ErrStepLimit, g.maxSteps, stage)
		}
		node, ok := g.nodes[stage]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownStage, stage)
		}
		steps++

		stageCtx, span := tracer.Start(ctx, "incident.stage")
		span.SetAttributes(
			attribute.String("stage", string(stage)),
			attribute.Int("step", steps),
		)
		started := time.Now()
		err := node(stageCtx, state)
		elapsed := time.Since(started)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.ObserveStage(string(stage), outcome, elapsed.Seconds())
		if g.observer != nil {
			g.observer(stage, steps, elapsed, err)
		}
		if err != nil {
			return &StageError{Stage: stage, Err: err}
		}

		stage = g.edges[stage](state)
		state.Next = stage
	}
	return nil
}
