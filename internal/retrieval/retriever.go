// Package retrieval holds the document retriever contract and its implementations:
// an in-memory BM25 index over local corpora and a Weaviate-backed BM25 search.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"rca-backend/internal/shared/lazy"
	"rca-backend/internal/shared/metrics"
)

// ErrEmptyCorpus is returned when a corpus loads no documents.
var ErrEmptyCorpus = errors.New("corpus is empty")

// Document is one ranked search result.
type Document struct {
	Content  string
	Metadata map[string]any
}

// Source returns metadata "source" as a string.
func (d Document) Source() string {
	return d.MetaString("source")
}

// MetaString returns a metadata value rendered as a string, or "".
func (d Document) MetaString(key string) string {
	switch v := d.Metadata[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Retriever returns up to k documents ranked by relevance to query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]Document, error)
}

// Lazy is a Retriever whose backing index is built on first use and shared afterwards.
type Lazy struct {
	corpus string
	handle *lazy.Handle[Retriever]
}

// NewLazy wraps a builder so the corpus is loaded at most once, on first query.
func NewLazy(corpus string, build func(context.Context) (Retriever, error)) *Lazy {
	return &Lazy{
		corpus: corpus,
		handle: lazy.New("retriever "+corpus, build),
	}
}

// Retrieve builds the index if needed and delegates to it.
func (l *Lazy) Retrieve(ctx context.Context, query string, k int) ([]Document, error) {
	r, err := l.handle.Get(ctx)
	if err != nil {
		metrics.IncRetrieverCalls(l.corpus, "error")
		return nil, fmt.Errorf("load %s corpus: %w", l.corpus, err)
	}
	docs, err := r.Retrieve(ctx, query, k)
	if err != nil {
		metrics.IncRetrieverCalls(l.corpus, "error")
		return nil, err
	}
	metrics.IncRetrieverCalls(l.corpus, "ok")
	return docs, nil
}

// Ready reports whether the corpus has been loaded.
func (l *Lazy) Ready() bool {
	return l.handle.Ready()
}

// Warm loads the corpus without querying it.
func (l *Lazy) Warm(ctx context.Context) error {
	_, err := l.handle.Get(ctx)
	return err
}

// Corpus returns the corpus label.
func (l *Lazy) Corpus() string {
	return l.corpus
}
