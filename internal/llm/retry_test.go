package llm

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"
)

type scriptedClient struct {
	responses []string
	errs      []error
	calls     int
}

func (s *scriptedClient) Generate(ctx context.Context, req Request) (string, error) {
	idx := s.calls
	s.calls++
	var resp string
	var err error
	if idx < len(s.responses) {
		resp = s.responses[idx]
	}
	if idx < len(s.errs) {
		err = s.errs[idx]
	}
	return resp, err
}

func noWait(context.Context, time.Duration) error { return nil }

func TestRetryingClientRetriesTransientOnce(t *testing.T) {
	base := &scriptedClient{
		responses: []string{"", "ok"},
		errs:      []error{errors.New("openai http status 503: overloaded"), nil},
	}
	client := retryingClient{base: base, policy: DefaultRetryPolicy(), wait: noWait}

	got, err := client.Generate(context.Background(), Request{Purpose: "tier.web"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "ok" || base.calls != 2 {
		t.Fatalf("expected ok after 2 calls, got %q after %d", got, base.calls)
	}
}

func TestRetryingClientDoesNotRetryPermanentErrors(t *testing.T) {
	base := &scriptedClient{errs: []error{errors.New("openai http status 400: invalid request")}}
	client := retryingClient{base: base, policy: DefaultRetryPolicy(), wait: noWait}

	if _, err := client.Generate(context.Background(), Request{}); err == nil {
		t.Fatalf("expected error")
	}
	if base.calls != 1 {
		t.Fatalf("expected a single call, got %d", base.calls)
	}
}

func TestRetryingClientStopsAfterMaxRetries(t *testing.T) {
	transient := errors.New("connection reset by peer")
	base := &scriptedClient{errs: []error{transient, transient, transient, transient}}
	policy := DefaultRetryPolicy()
	policy.MaxRetries = 2
	client := retryingClient{base: base, policy: policy, wait: noWait}

	if _, err := client.Generate(context.Background(), Request{}); !errors.Is(err, transient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if base.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", base.calls)
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "server error", err: errors.New("openai http status 502"), want: true},
		{name: "rate limited", err: errors.New("openai http status 429: rate limit"), want: true},
		{name: "eof", err: errors.New("unexpected EOF"), want: true},
		{name: "bad request", err: errors.New("openai http status 400"), want: false},
		{name: "not implemented", err: ErrNotImplemented, want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldRetry(tt.err); got != tt.want {
				t.Fatalf("ShouldRetry(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRenderPromptFillsTierTemplate(t *testing.T) {
	out, err := RenderPrompt("tier_user", map[string]string{
		"Tier":    "cache",
		"Logs":    "ERR max number of clients reached",
		"Context": "No similar incidents.",
	})
	if err != nil {
		t.Fatalf("RenderPrompt: %v", err)
	}
	if !strings.Contains(out, "ERR max number of clients reached") || !strings.Contains(out, "Analyze the cache tier logs") {
		t.Fatalf("unexpected prompt: %s", out)
	}
	if _, ok := PromptTemplate("tier_cache_system"); !ok {
		t.Fatalf("expected cache system prompt to be embedded")
	}
	if _, err := RenderPrompt("missing", nil); err == nil {
		t.Fatalf("expected error for missing prompt")
	}
}

func TestRetryingClientLogsRetryEvent(t *testing.T) {
	orig := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	base := &scriptedClient{
		responses: []string{"", "ok"},
		errs:      []error{errors.New("read tcp: connection reset by peer"), nil},
	}
	client := retryingClient{base: base, policy: DefaultRetryPolicy(), wait: noWait}
	if _, err := client.Generate(context.Background(), Request{Purpose: "summarizer"}); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	_ = w.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	line := string(out)
	if !strings.Contains(line, `"msg":"llm.retry"`) || !strings.Contains(line, `"purpose":"summarizer"`) {
		t.Fatalf("expected structured retry event, got %q", line)
	}
}
