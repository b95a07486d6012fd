package llm

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"rca-backend/internal/shared/telemetry"
)

// RetryPolicy controls how transient oracle failures are retried.
type RetryPolicy struct {
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultRetryPolicy retries once after 300ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        1,
		BaseDelay:         300 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2,
	}
}

type retryingClient struct {
	base   Client
	policy RetryPolicy
	wait   func(ctx context.Context, d time.Duration) error
}

// NewRetrying wraps base so transient failures are retried per policy.
func NewRetrying(base Client, policy RetryPolicy) Client {
	if base == nil {
		return nil
	}
	return retryingClient{base: base, policy: policy, wait: sleepContext}
}

func (r retryingClient) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := r.base.Generate(ctx, req)
	delay := r.policy.BaseDelay
	for attempt := 1; err != nil && attempt <= r.policy.MaxRetries && ShouldRetry(err); attempt++ {
		telemetry.Warn("llm.retry", map[string]any{
			"attempt": attempt,
			"purpose": req.Purpose,
			"error":   sanitizeError(err),
		})
		if waitErr := r.wait(ctx, delay); waitErr != nil {
			return "", waitErr
		}
		resp, err = r.base.Generate(ctx, req)
		delay = r.nextDelay(delay)
	}
	return resp, err
}

func (r retryingClient) nextDelay(current time.Duration) time.Duration {
	mult := r.policy.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	next := time.Duration(float64(current) * mult)
	if r.policy.MaxDelay > 0 && next > r.policy.MaxDelay {
		next = r.policy.MaxDelay
	}
	return next
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ShouldRetry reports whether an oracle error looks transient.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrNotImplemented) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "http status 5") || strings.Contains(msg, "http status 429") || strings.Contains(msg, "server_error") {
		return true
	}
	if strings.Contains(msg, "rate limit") {
		return true
	}
	if strings.Contains(msg, "timeout") && (strings.Contains(msg, "openai") || strings.Contains(msg, "llm") || strings.Contains(msg, "client.timeout")) {
		return true
	}
	if strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "tls handshake timeout") ||
		strings.Contains(msg, "eof") {
		return true
	}
	return false
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	return msg
}
