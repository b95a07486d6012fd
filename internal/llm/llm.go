package llm

import (
	"context"
	"errors"
)

// Client abstracts the analysis oracle: instructions plus context in, generated text out.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Request is one oracle call.
type Request struct {
	// Purpose labels the call for logs and metrics, e.g. "tier.cache" or "summarizer".
	Purpose string
	System  string
	User    string
	// JSON asks the provider for a single JSON object response.
	JSON bool
}

type extraSystemKey struct{}

// WithExtraSystemMessage returns a context that appends a system message to oracle calls.
func WithExtraSystemMessage(ctx context.Context, msg string) context.Context {
	return context.WithValue(ctx, extraSystemKey{}, msg)
}

// ExtraSystemMessageFromContext returns the extra system message, if any.
func ExtraSystemMessageFromContext(ctx context.Context) (string, bool) {
	msg, ok := ctx.Value(extraSystemKey{}).(string)
	return msg, ok
}

type promptHashKey struct{}

// WithPromptHashCapture stores a sink that providers fill with the sha256 of the sent prompt.
func WithPromptHashCapture(ctx context.Context, sink *string) context.Context {
	return context.WithValue(ctx, promptHashKey{}, sink)
}

// PromptHashSinkFromContext returns the prompt hash sink, if any.
func PromptHashSinkFromContext(ctx context.Context) (*string, bool) {
	sink, ok := ctx.Value(promptHashKey{}).(*string)
	return sink, ok
}

// ErrNotImplemented is returned by the placeholder client.
var ErrNotImplemented = errors.New("LLM not implemented")

// PlaceholderClient is used when no provider is configured.
type PlaceholderClient struct{}

// Generate returns ErrNotImplemented.
func (PlaceholderClient) Generate(ctx context.Context, req Request) (string, error) {
	_ = ctx
	_ = req
	return "", ErrNotImplemented
}
