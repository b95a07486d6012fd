// Package langchain adapts a langchaingo model to llm.Client.
package langchain

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"

	"rca-backend/internal/llm"
	"rca-backend/internal/shared/metrics"
	"rca-backend/internal/shared/telemetry"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// Client implements llm.Client over any langchaingo model.
type Client struct {
	model contentGenerator
	name  string
}

// New wraps an existing langchaingo model.
func New(model contentGenerator, name string) *Client {
	return &Client{model: model, name: name}
}

// NewOpenAI builds a langchaingo OpenAI-compatible model. baseURL may be empty.
func NewOpenAI(apiKey, model, baseURL string) (*Client, error) {
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("LLM_MODEL is required for langchain")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	opts := []lcopenai.Option{lcopenai.WithModel(model), lcopenai.WithToken(apiKey)}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, lcopenai.WithBaseURL(strings.TrimRight(baseURL, "/")))
	}
	m, err := lcopenai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("langchain openai: %w", err)
	}
	return New(m, model), nil
}

// Generate sends system and user parts as one request.
func (c *Client) Generate(ctx context.Context, req llm.Request) (string, error) {
	messages := make([]llms.MessageContent, 0, 3)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	if extra, ok := llm.ExtraSystemMessageFromContext(ctx); ok && strings.TrimSpace(extra) != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, extra))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.User))

	opts := []llms.CallOption{llms.WithTemperature(0)}
	if req.JSON {
		opts = append(opts, llms.WithJSONMode())
	}
	resp, err := c.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		metrics.IncOracleCalls("langchain", "error")
		return "", fmt.Errorf("langchain generate: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		metrics.IncOracleCalls("langchain", "error")
		return "", fmt.Errorf("langchain response missing choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Content)
	if content == "" {
		metrics.IncOracleCalls("langchain", "error")
		return "", fmt.Errorf("langchain response empty content")
	}
	telemetry.Info("llm.response", map[string]any{
		"provider": "langchain",
		"model":    c.name,
		"purpose":  req.Purpose,
	})
	metrics.IncOracleCalls("langchain", "ok")
	return content, nil
}

var _ llm.Client = (*Client)(nil)
