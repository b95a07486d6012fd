package retrieval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

// Default chunking for knowledge and runbook corpora.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

var markdownSeparators = []string{"\n## ", "\n### ", "\n\n", "\n", " ", ""}

// Splitter chunks long documents before indexing.
type Splitter struct {
	splitter textsplitter.TextSplitter
}

// NewSplitter returns a recursive character splitter tuned for markdown.
func NewSplitter(size, overlap int) Splitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}
	return Splitter{splitter: textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(overlap),
		textsplitter.WithSeparators(markdownSeparators),
	)}
}

// Split returns one Document per chunk; each chunk keeps a copy of the parent metadata
// plus its "chunk" position.
func (s Splitter) Split(docs []Document) ([]Document, error) {
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if strings.TrimSpace(doc.Content) == "" {
			continue
		}
		chunks, err := s.splitter.SplitText(doc.Content)
		if err != nil {
			return nil, fmt.Errorf("split %s: %w", doc.Source(), err)
		}
		for i, chunk := range chunks {
			if strings.TrimSpace(chunk) == "" {
				continue
			}
			meta := make(map[string]any, len(doc.Metadata)+1)
			for k, v := range doc.Metadata {
				meta[k] = v
			}
			meta["chunk"] = i
			out = append(out, Document{Content: chunk, Metadata: meta})
		}
	}
	return out, nil
}

// LoadMarkdownDir reads every *.md and *.txt file directly under dir.
func LoadMarkdownDir(dir string) ([]Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read corpus dir %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".md", ".txt":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	docs := make([]Document, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		docs = append(docs, Document{
			Content: string(data),
			Metadata: map[string]any{
				"source": name,
				"title":  strings.TrimSuffix(name, filepath.Ext(name)),
			},
		})
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyCorpus, dir)
	}
	return docs, nil
}

type corpusEntry struct {
	PageContent string         `json:"page_content"`
	Metadata    map[string]any `json:"metadata"`
}

// ParseRunbookCorpus decodes a JSON array of {page_content, metadata} records.
func ParseRunbookCorpus(data []byte) ([]Document, error) {
	var entries []corpusEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode runbook corpus: %w", err)
	}
	docs := make([]Document, 0, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e.PageContent) == "" {
			continue
		}
		meta := e.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		docs = append(docs, Document{Content: e.PageContent, Metadata: meta})
	}
	if len(docs) == 0 {
		return nil, ErrEmptyCorpus
	}
	return docs, nil
}
