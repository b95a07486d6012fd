package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"rca-backend/internal/incident"
)

type scriptedRunner struct {
	events []incident.Event
	got    incident.Input
}

func (s *scriptedRunner) Run(ctx context.Context, in incident.Input) <-chan incident.Event {
	s.got = in
	out := make(chan incident.Event, len(s.events))
	for _, ev := range s.events {
		out <- ev
	}
	close(out)
	return out
}

func completedRun() *scriptedRunner {
	return &scriptedRunner{events: []incident.Event{
		{Type: incident.EventStatus, Message: "Routing to cache analysis..."},
		{Type: incident.EventRCAComplete, RCA: &incident.RCAPayload{
			Summary:         "## Executive Summary",
			RootCause:       "Redis connection pool saturated",
			Recommendations: []string{"Increase maxclients"},
			Evidence:        []string{"Cache tier: Status: Critical\nSeverity: High"},
		}},
		{Type: incident.EventRunbookComplete, Runbooks: []incident.RunbookMatch{{
			ActionTitle: "Redis connection pool",
			SourceURL:   "https://runbooks.gitlab.com/redis",
			Steps:       []string{"Check connected_clients"},
		}}},
	}}
}

func TestRunAnalyzePrintsStatusAndResult(t *testing.T) {
	var out bytes.Buffer
	runner := completedRun()
	if err := runAnalyze(context.Background(), &out, runner, incident.Input{Query: "checkout down"}, false); err != nil {
		t.Fatalf("runAnalyze: %v", err)
	}
	text := out.String()
	for _, want := range []string{
		"... Routing to cache analysis...\n",
		"Root cause: Redis connection pool saturated\n",
		"  - Increase maxclients\n",
		"  - Cache tier: Status: Critical\n",
		"  * Redis connection pool (https://runbooks.gitlab.com/redis)\n",
		"      1. Check connected_clients\n",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
	if runner.got.Query != "checkout down" {
		t.Fatalf("query not passed through: %+v", runner.got)
	}
}

func TestRunAnalyzeJSON(t *testing.T) {
	var out bytes.Buffer
	if err := runAnalyze(context.Background(), &out, completedRun(), incident.Input{}, true); err != nil {
		t.Fatalf("runAnalyze: %v", err)
	}
	var got analyzeResult
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v\n%s", err, out.String())
	}
	if got.RCA == nil || got.RCA.RootCause != "Redis connection pool saturated" {
		t.Fatalf("unexpected rca: %+v", got.RCA)
	}
	if len(got.Runbooks) != 1 {
		t.Fatalf("expected one runbook, got %d", len(got.Runbooks))
	}
	if strings.Contains(out.String(), "Routing to") {
		t.Fatalf("status lines must not be mixed into JSON output")
	}
}

func TestRunAnalyzeFatalError(t *testing.T) {
	runner := &scriptedRunner{events: []incident.Event{
		{Type: incident.EventStatus, Message: "Aggregating analysis results..."},
		{Type: incident.EventError, Message: "Analysis aborted: step limit exceeded"},
	}}
	err := runAnalyze(context.Background(), &bytes.Buffer{}, runner, incident.Input{}, false)
	if !errors.Is(err, errAnalysisFailed) {
		t.Fatalf("expected errAnalysisFailed, got %v", err)
	}
}

func TestLoadScenarioDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "redis-pool")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "cache.log"), []byte("ERR max number of clients reached"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	logs, err := loadScenarioDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("loadScenarioDir: %v", err)
	}
	want := map[incident.Tier]string{
		incident.TierWeb:   "",
		incident.TierApp:   "",
		incident.TierDB:    "",
		incident.TierCache: "ERR max number of clients reached",
	}
	if diff := cmp.Diff(want, logs); diff != "" {
		t.Fatalf("logs mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadRunbookChunksKeepsSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runbooks.json")
	body := `[{"page_content": "Restart the pgbouncer pool", "metadata": {"source": "docs/pgbouncer.md"}}]`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	chunks, err := loadRunbookChunks(path)
	if err != nil {
		t.Fatalf("loadRunbookChunks: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Source() != "docs/pgbouncer.md" {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}
}
