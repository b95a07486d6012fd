package bootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"rca-backend/internal/incident"
	"rca-backend/internal/summarizer"
)

func newFailingOracle(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream connect error","type":"server_error"}}`))
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func TestSummarizerMakesOneOracleCallByDefault(t *testing.T) {
	server, hits := newFailingOracle(t)
	cfg := devConfig(t)
	cfg.LLMProvider = "openai"
	cfg.OpenAIAPIKey = "test-key"
	cfg.LLMModel = "gpt-4o-mini"
	cfg.OpenAIBaseURL = server.URL

	client, err := BuildLLM(cfg)
	if err != nil {
		t.Fatalf("BuildLLM: %v", err)
	}
	_, err = summarizer.New(client).Summarize(context.Background(), "checkout errors", map[incident.Tier]string{
		incident.TierCache: "Status: Critical",
	})
	if err == nil {
		t.Fatalf("expected summarizer error from failing oracle")
	}
	if got := atomic.LoadInt32(hits); got != 1 {
		t.Fatalf("expected exactly one oracle call, got %d", got)
	}
}

func TestRetryIsOptIn(t *testing.T) {
	server, hits := newFailingOracle(t)
	cfg := devConfig(t)
	cfg.LLMProvider = "openai"
	cfg.OpenAIAPIKey = "test-key"
	cfg.LLMModel = "gpt-4o-mini"
	cfg.OpenAIBaseURL = server.URL
	cfg.LLMMaxRetries = 1

	client, err := BuildLLM(cfg)
	if err != nil {
		t.Fatalf("BuildLLM: %v", err)
	}
	if _, err := summarizer.New(client).Summarize(context.Background(), "", map[incident.Tier]string{
		incident.TierWeb: "Status: Degraded",
	}); err == nil {
		t.Fatalf("expected summarizer error from failing oracle")
	}
	if got := atomic.LoadInt32(hits); got != 2 {
		t.Fatalf("expected one retry when enabled, got %d calls", got)
	}
}
