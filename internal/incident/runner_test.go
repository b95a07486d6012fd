package incident

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type fakeAnalyzer struct {
	mu     sync.Mutex
	result string
	err    error
	calls  []string
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, logText string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, logText)
	return f.result, f.err
}

type fakeSummarizer struct {
	record RootCauseRecord
	err    error
	calls  int
	got    map[Tier]string
}

func (f *fakeSummarizer) Summarize(ctx context.Context, query string, aggregate map[Tier]string) (RootCauseRecord, error) {
	f.calls++
	f.got = aggregate
	return f.record, f.err
}

type fakeResolver struct {
	matches   []RunbookMatch
	err       error
	calls     int
	rootCause string
	recs      []string
	max       int
}

func (f *fakeResolver) Resolve(ctx context.Context, recommendations []string, rootCause string, maxResults int) ([]RunbookMatch, error) {
	f.calls++
	f.rootCause = rootCause
	f.recs = recommendations
	f.max = maxResults
	return f.matches, f.err
}

func newTestRunner() (*Runner, map[Tier]*fakeAnalyzer, *fakeSummarizer, *fakeResolver) {
	analyzers := map[Tier]*fakeAnalyzer{}
	wired := map[Tier]TierAnalyzer{}
	for _, tier := range Tiers() {
		a := &fakeAnalyzer{result: "Status: Healthy (" + string(tier) + ")"}
		analyzers[tier] = a
		wired[tier] = a
	}
	sum := &fakeSummarizer{record: RootCauseRecord{
		Narrative:       "## Executive Summary\nweb tier healthy",
		RootCause:       "No fault detected in the web tier",
		Recommendations: []string{"Keep monitoring latency"},
		Evidence:        []string{"200 OK responses"},
	}}
	res := &fakeResolver{matches: []RunbookMatch{{ActionTitle: "Web latency", SourceURL: "https://runbooks.gitlab.com/web"}}}
	return &Runner{Analyzers: wired, Summarizer: sum, Runbooks: res, MaxRunbooks: 2}, analyzers, sum, res
}

func collect(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func TestRunnerWebOnlyScenario(t *testing.T) {
	runner, analyzers, sum, res := newTestRunner()
	events := collect(runner.Run(context.Background(), Input{
		Query: "checkout is slow",
		Logs:  map[Tier]string{TierWeb: "[INFO] GET /checkout 200 OK"},
	}))

	var statuses []string
	for _, ev := range events {
		if ev.Type == EventStatus {
			statuses = append(statuses, ev.Message)
		}
	}
	wantStatuses := []string{
		"Routing to web analysis...",
		"Analyzing web tier logs...",
		"Aggregating analysis results...",
		"Generating root cause analysis summary...",
		"Searching runbooks for remediation procedures...",
	}
	if diff := cmp.Diff(wantStatuses, statuses); diff != "" {
		t.Fatalf("status mismatch (-want +got):\n%s", diff)
	}

	if len(analyzers[TierWeb].calls) != 1 {
		t.Fatalf("expected one web analysis, got %d", len(analyzers[TierWeb].calls))
	}
	for _, tier := range []Tier{TierApp, TierDB, TierCache} {
		if len(analyzers[tier].calls) != 0 {
			t.Fatalf("tier %s should not be analyzed", tier)
		}
	}
	if diff := cmp.Diff(map[Tier]string{TierWeb: "Status: Healthy (web)"}, sum.got); diff != "" {
		t.Fatalf("aggregate mismatch (-want +got):\n%s", diff)
	}
	if res.calls != 1 || res.rootCause != sum.record.RootCause || res.max != 2 {
		t.Fatalf("unexpected resolver call: calls=%d root=%q max=%d", res.calls, res.rootCause, res.max)
	}

	var rca *RCAPayload
	var runbooks []RunbookMatch
	for _, ev := range events {
		switch ev.Type {
		case EventRCAComplete:
			rca = ev.RCA
		case EventRunbookComplete:
			runbooks = ev.Runbooks
		}
	}
	if rca == nil {
		t.Fatalf("missing rca_complete event")
	}
	wantEvidence := []string{"200 OK responses", "Web tier: Status: Healthy (web)"}
	if diff := cmp.Diff(wantEvidence, rca.Evidence); diff != "" {
		t.Fatalf("evidence mismatch (-want +got):\n%s", diff)
	}
	if rca.WebResult != "Status: Healthy (web)" || rca.CacheResult != "" {
		t.Fatalf("unexpected tier results: %+v", rca)
	}
	if len(runbooks) != 1 {
		t.Fatalf("expected one runbook, got %d", len(runbooks))
	}
	if last := events[len(events)-1]; last.Type != EventRunbookComplete {
		t.Fatalf("expected runbook_complete last, got %s", last.Type)
	}
}

func TestRunnerWithoutLogsSkipsSynthesisAndRunbooks(t *testing.T) {
	runner, _, sum, res := newTestRunner()
	events := collect(runner.Run(context.Background(), Input{}))

	if sum.calls != 0 {
		t.Fatalf("summarizer should not be called, got %d", sum.calls)
	}
	if res.calls != 0 {
		t.Fatalf("resolver should not be called, got %d", res.calls)
	}
	want := []EventType{EventStatus, EventRCAComplete}
	if diff := cmp.Diff(want, eventTypes(events)); diff != "" {
		t.Fatalf("event types mismatch (-want +got):\n%s", diff)
	}
	if events[1].RCA.RootCause != "" || len(events[1].RCA.Evidence) != 0 {
		t.Fatalf("expected empty record, got %+v", events[1].RCA)
	}
}

func TestRunnerRecordsTierFailureAndContinues(t *testing.T) {
	runner, analyzers, sum, _ := newTestRunner()
	analyzers[TierDB].err = errors.New("retriever unavailable")

	outcome, err := runner.Execute(context.Background(), Input{Logs: map[Tier]string{
		TierWeb: "[INFO] ok",
		TierDB:  "[ERROR] deadlock detected",
	}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := sum.got[TierDB]; got != "Error analyzing db logs: retriever unavailable" {
		t.Fatalf("unexpected db result: %q", got)
	}
	if outcome.RCA == nil || outcome.RCA.DBResult == "" {
		t.Fatalf("expected db result in payload: %+v", outcome.RCA)
	}
}

func TestRunnerSummarizerFailureIsFatal(t *testing.T) {
	runner, _, sum, res := newTestRunner()
	sum.err = errors.New("structured output invalid")

	events := collect(runner.Run(context.Background(), Input{Logs: map[Tier]string{TierCache: "ERR max number of clients reached"}}))
	last := events[len(events)-1]
	if last.Type != EventError {
		t.Fatalf("expected error event last, got %s", last.Type)
	}
	if !strings.Contains(last.Message, "structured output invalid") {
		t.Fatalf("unexpected message: %q", last.Message)
	}
	for _, ev := range events {
		if ev.Type == EventRunbookComplete || ev.Type == EventRCAComplete {
			t.Fatalf("unexpected %s event after fatal summarizer failure", ev.Type)
		}
	}
	if res.calls != 0 {
		t.Fatalf("resolver must not run after fatal failure")
	}
	var stageErr *StageError
	if !errors.As(last.Err, &stageErr) || stageErr.Stage != StageSummarizer {
		t.Fatalf("expected summarizer StageError, got %v", last.Err)
	}
}

func TestRunnerRunbookFailureIsNonFatal(t *testing.T) {
	runner, _, _, res := newTestRunner()
	res.err = errors.New("weaviate down")

	outcome, err := runner.Execute(context.Background(), Input{Logs: map[Tier]string{TierApp: "[ERROR] NullPointerException"}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !outcome.Completed {
		t.Fatalf("expected completed rca")
	}
	if len(outcome.Runbooks) != 0 {
		t.Fatalf("expected no runbooks, got %d", len(outcome.Runbooks))
	}
	if outcome.RunbookErr != "weaviate down" {
		t.Fatalf("unexpected runbook error: %q", outcome.RunbookErr)
	}
	found := false
	for _, s := range outcome.Statuses {
		if s == "Runbook lookup failed: weaviate down" {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing runbook failure status in %v", outcome.Statuses)
	}
}

func TestRunnerStepLimitIsFatal(t *testing.T) {
	runner, _, _, _ := newTestRunner()
	runner.MaxSteps = 3

	_, err := runner.Execute(context.Background(), Input{Logs: map[Tier]string{
		TierWeb: "a", TierApp: "b", TierDB: "c", TierCache: "d",
	}})
	if !errors.Is(err, ErrStepLimit) {
		t.Fatalf("expected ErrStepLimit, got %v", err)
	}
}

func TestRunnerSkipsRunbookWhenRecordIsEmpty(t *testing.T) {
	runner, _, sum, res := newTestRunner()
	sum.record = RootCauseRecord{}

	events := collect(runner.Run(context.Background(), Input{Logs: map[Tier]string{TierWeb: "ok"}}))
	if res.calls != 0 {
		t.Fatalf("resolver should not be called for an empty record")
	}
	if last := events[len(events)-1]; last.Type != EventRCAComplete {
		t.Fatalf("expected rca_complete last, got %s", last.Type)
	}
}

func TestEventMarshalKeepsEmptyRunbookList(t *testing.T) {
	payload, err := json.Marshal(Event{Type: EventRunbookComplete})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(payload) != `{"runbooks":[],"type":"runbook_complete"}` {
		t.Fatalf("unexpected payload: %s", payload)
	}

	payload, err = json.Marshal(Event{Type: EventStatus, Message: "Routing to web analysis..."})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(payload) != `{"message":"Routing to web analysis...","type":"status"}` {
		t.Fatalf("unexpected payload: %s", payload)
	}
}

type cancellingAnalyzer struct {
	cancel  context.CancelFunc
	calls   int
	callErr error
}

func (c *cancellingAnalyzer) Analyze(ctx context.Context, logText string) (string, error) {
	c.calls++
	c.cancel()
	c.callErr = ctx.Err()
	return "Status: Healthy (web)", nil
}

func TestRunnerStopsAfterCancellation(t *testing.T) {
	runner, analyzers, sum, res := newTestRunner()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	web := &cancellingAnalyzer{cancel: cancel}
	runner.Analyzers[TierWeb] = web

	events := collect(runner.Run(ctx, Input{Logs: map[Tier]string{
		TierWeb: "a", TierApp: "b", TierDB: "c", TierCache: "d",
	}}))

	if web.calls != 1 || web.callErr != nil {
		t.Fatalf("in-flight call should finish on its own context: calls=%d err=%v", web.calls, web.callErr)
	}
	for _, tier := range []Tier{TierApp, TierDB, TierCache} {
		if n := len(analyzers[tier].calls); n != 0 {
			t.Fatalf("tier %s analyzed %d times after cancellation", tier, n)
		}
	}
	if sum.calls != 0 || res.calls != 0 {
		t.Fatalf("no synthesis after cancellation: summarizer=%d resolver=%d", sum.calls, res.calls)
	}
	for _, ev := range events {
		if ev.Type != EventStatus {
			t.Fatalf("unexpected %s event after cancellation", ev.Type)
		}
	}
}

func TestExecuteReturnsOnCancellation(t *testing.T) {
	runner, _, _, _ := newTestRunner()
	ctx, cancel := context.WithCancel(context.Background())
	runner.Analyzers[TierWeb] = &cancellingAnalyzer{cancel: cancel}

	_, err := runner.Execute(ctx, Input{Logs: map[Tier]string{TierWeb: "a", TierApp: "b"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type blockingAnalyzer struct{}

func (blockingAnalyzer) Analyze(ctx context.Context, logText string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestRunnerStageTimeoutBecomesTierError(t *testing.T) {
	runner, _, sum, _ := newTestRunner()
	runner.StageTimeout = 20 * time.Millisecond
	runner.Analyzers[TierApp] = blockingAnalyzer{}

	outcome, err := runner.Execute(context.Background(), Input{Logs: map[Tier]string{
		TierApp:   "[ERROR] request hung",
		TierCache: "ok",
	}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := sum.got[TierApp]; got != "Error analyzing app logs: context deadline exceeded" {
		t.Fatalf("unexpected app result: %q", got)
	}
	if sum.got[TierCache] != "Status: Healthy (cache)" || !outcome.Completed {
		t.Fatalf("run should continue past the timed out tier: %+v", outcome)
	}
}
