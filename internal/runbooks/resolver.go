// Package runbooks resolves remediation runbooks for a root-cause record.
package runbooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"unicode"

	"rca-backend/internal/incident"
	"rca-backend/internal/llm"
	"rca-backend/internal/retrieval"
	"rca-backend/internal/shared/telemetry"
)

// DefaultBaseURL prefixes relative runbook sources.
const DefaultBaseURL = "https://runbooks.gitlab.com"

const (
	minCandidates   = 5
	maxScanLines    = 20
	maxSteps        = 7
	minStepLen      = 10
	stepPromptChars = 2000
	rawContentChars = 500
	fallbackStep    = "Review runbook content for detailed steps"
	unknownTitle    = "Unknown"
)

// ErrRetrieval wraps failures of the underlying document retriever.
var ErrRetrieval = errors.New("runbook retrieval failed")

// Resolver searches a runbook corpus and turns hits into RunbookMatch values.
// LLM is consulted for step extraction only when LLMSteps is set.
type Resolver struct {
	Retriever retrieval.Retriever
	LLM       llm.Client
	BaseURL   string
	LLMSteps  bool
}

// New returns a resolver with the default base URL and heuristic step extraction.
func New(retriever retrieval.Retriever) *Resolver {
	return &Resolver{Retriever: retriever, BaseURL: DefaultBaseURL}
}

// BuildQuery joins the root cause and recommendations into one retriever query.
func BuildQuery(recommendations []string, rootCause string) string {
	rootCause = strings.TrimSpace(rootCause)
	var recs []string
	for _, r := range recommendations {
		if r = strings.TrimSpace(r); r != "" {
			recs = append(recs, r)
		}
	}
	actions := strings.Join(recs, ", ")
	switch {
	case rootCause != "" && actions != "":
		return rootCause + ". Recommended actions: " + actions
	case rootCause != "":
		return rootCause
	case actions != "":
		return "Recommended actions: " + actions
	default:
		return ""
	}
}

// Resolve returns at most maxResults matches, one per unique source URL, in retriever order.
func (r *Resolver) Resolve(ctx context.Context, recommendations []string, rootCause string, maxResults int) ([]incident.RunbookMatch, error) {
	query := BuildQuery(recommendations, rootCause)
	if query == "" || maxResults <= 0 {
		return []incident.RunbookMatch{}, nil
	}
	if r.Retriever == nil {
		return nil, fmt.Errorf("%w: no retriever configured", ErrRetrieval)
	}

	k := maxResults * 3
	if k < minCandidates {
		k = minCandidates
	}
	docs, err := r.Retriever.Retrieve(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrieval, err)
	}

	seen := make(map[string]struct{}, len(docs))
	out := make([]incident.RunbookMatch, 0, maxResults)
	for _, doc := range docs {
		if len(out) >= maxResults {
			break
		}
		source := doc.Source()
		if source == "" {
			continue
		}
		sourceURL := NormalizeURL(r.BaseURL, source)
		if _, dup := seen[sourceURL]; dup {
			continue
		}
		seen[sourceURL] = struct{}{}

		docTitle := doc.MetaString("title")
		if docTitle == "" {
			docTitle = TitleFromURL(sourceURL)
		}
		actionTitle, steps := r.extract(ctx, doc.Content, query, docTitle)
		out = append(out, incident.RunbookMatch{
			ActionTitle:    actionTitle,
			Steps:          steps,
			SourceDocument: docTitle,
			SourceURL:      sourceURL,
			RelevanceScore: score(doc.Metadata["score"]),
			RawContent:     truncate(doc.Content, rawContentChars),
		})
	}
	return out, nil
}

func (r *Resolver) extract(ctx context.Context, content, query, docTitle string) (string, []string) {
	if r.LLMSteps && r.LLM != nil {
		title, steps, err := r.extractWithLLM(ctx, content, query)
		if err == nil {
			if title == "" {
				title = docTitle
			}
			return title, steps
		}
		telemetry.Warn("runbook.steps.fallback", map[string]any{
			"document": docTitle,
			"error":    err.Error(),
		})
	}
	return docTitle, HeuristicSteps(content)
}

type extractedSteps struct {
	Title string   `json:"title"`
	Steps []string `json:"steps"`
}

func (r *Resolver) extractWithLLM(ctx context.Context, content, query string) (string, []string, error) {
	system, ok := llm.PromptTemplate("runbook_steps_system")
	if !ok {
		return "", nil, errors.New("runbook steps prompt missing")
	}
	user, err := llm.RenderPrompt("runbook_steps_user", map[string]string{
		"Context": query,
		"Content": truncate(content, stepPromptChars),
	})
	if err != nil {
		return "", nil, err
	}
	raw, err := r.LLM.Generate(ctx, llm.Request{
		Purpose: "runbook.steps",
		System:  strings.TrimSpace(system),
		User:    user,
		JSON:    true,
	})
	if err != nil {
		return "", nil, err
	}
	var parsed extractedSteps
	if err := json.Unmarshal([]byte(stripFences(raw)), &parsed); err != nil {
		return "", nil, fmt.Errorf("decode steps: %w", err)
	}
	var steps []string
	for _, s := range parsed.Steps {
		if s = strings.TrimSpace(s); s != "" {
			steps = append(steps, s)
		}
	}
	if len(steps) == 0 {
		return "", nil, errors.New("no steps extracted")
	}
	if len(steps) > maxSteps {
		steps = steps[:maxSteps]
	}
	return strings.TrimSpace(parsed.Title), steps, nil
}

// HeuristicSteps pulls numbered or bulleted lines from the top of a runbook.
func HeuristicSteps(content string) []string {
	lines := strings.Split(content, "\n")
	if len(lines) > maxScanLines {
		lines = lines[:maxScanLines]
	}
	var steps []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		first := rune(line[0])
		if !unicode.IsDigit(first) && first != '-' && first != '*' {
			continue
		}
		step := strings.TrimSpace(strings.TrimLeft(line, "0123456789.-* "))
		if len(step) <= minStepLen {
			continue
		}
		steps = append(steps, step)
		if len(steps) >= maxSteps {
			break
		}
	}
	if len(steps) == 0 {
		return []string{fallbackStep}
	}
	return steps
}

// NormalizeURL makes a runbook source absolute against base.
func NormalizeURL(base, source string) string {
	source = strings.TrimSpace(source)
	lower := strings.ToLower(source)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return source
	}
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return base + "/" + strings.TrimLeft(source, "/")
}

// TitleFromURL derives a readable title from the last path segment of a URL.
func TitleFromURL(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		p = u.Path
	}
	seg := path.Base(strings.TrimRight(p, "/"))
	if seg == "." || seg == "/" || seg == "" {
		return unknownTitle
	}
	seg = strings.TrimSuffix(seg, path.Ext(seg))
	words := strings.FieldsFunc(seg, func(r rune) bool { return r == '-' || r == '_' || r == ' ' })
	if len(words) == 0 {
		return unknownTitle
	}
	for i, w := range words {
		runes := []rune(w)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

func score(v any) float64 {
	switch s := v.(type) {
	case float64:
		return s
	case float32:
		return float64(s)
	case int:
		return float64(s)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f
		}
	}
	return 0
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

var _ incident.RunbookResolver = (*Resolver)(nil)
