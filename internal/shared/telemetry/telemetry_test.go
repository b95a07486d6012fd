package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	orig := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	_ = w.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		t.Fatalf("read output: %v", err)
	}
	return buf.String()
}

func TestInfoWritesJSONLine(t *testing.T) {
	out := captureStdout(t, func() {
		Info("incident.run.complete", map[string]any{"run_id": "run-1", "tiers": 2})
	})
	var payload map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &payload); err != nil {
		t.Fatalf("decode log json: %v (%q)", err, out)
	}
	if payload["msg"] != "incident.run.complete" || payload["level"] != "info" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if payload["run_id"] != "run-1" || payload["tiers"] != float64(2) {
		t.Fatalf("missing fields: %v", payload)
	}
	if _, ok := payload["ts"]; !ok {
		t.Fatalf("missing ts")
	}
}

func TestSetLevelFiltersLowerLevels(t *testing.T) {
	SetLevel("error")
	defer SetLevel("info")

	out := captureStdout(t, func() {
		Info("dropped", nil)
		Error("kept", nil)
	})
	if strings.Contains(out, "dropped") || !strings.Contains(out, "kept") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestSetupTracingRejectsUnknownExporter(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), TracingOptions{Exporter: "carrier-pigeon"})
	if !errors.Is(err, ErrUnknownExporter) {
		t.Fatalf("expected ErrUnknownExporter, got %v", err)
	}
	if shutdown == nil {
		t.Fatalf("expected non-nil shutdown")
	}
	shutdown, err = SetupTracing(context.Background(), TracingOptions{Exporter: "none"})
	if err != nil {
		t.Fatalf("SetupTracing none: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
