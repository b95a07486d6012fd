package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// Index is an immutable in-memory BM25 index. It is safe for concurrent reads.
type Index struct {
	docs   []Document
	terms  []map[string]int
	lens   []int
	avgLen float64
	df     map[string]int
}

// NewIndex tokenizes and indexes docs.
func NewIndex(docs []Document) *Index {
	idx := &Index{
		docs:  docs,
		terms: make([]map[string]int, len(docs)),
		lens:  make([]int, len(docs)),
		df:    map[string]int{},
	}
	total := 0
	for i, doc := range docs {
		tf := map[string]int{}
		tokens := tokenize(doc.Content)
		for _, tok := range tokens {
			tf[tok]++
		}
		for term := range tf {
			idx.df[term]++
		}
		idx.terms[i] = tf
		idx.lens[i] = len(tokens)
		total += len(tokens)
	}
	if len(docs) > 0 {
		idx.avgLen = float64(total) / float64(len(docs))
	}
	return idx
}

// Len returns the number of indexed documents.
func (idx *Index) Len() int { return len(idx.docs) }

type scored struct {
	pos   int
	score float64
}

// Retrieve returns up to k documents with a positive score, best first.
// Each result carries its score in Metadata["score"].
func (idx *Index) Retrieve(ctx context.Context, query string, k int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 || len(idx.docs) == 0 {
		return []Document{}, nil
	}
	queryTerms := uniqueTokens(query)
	n := float64(len(idx.docs))

	hits := make([]scored, 0, len(idx.docs))
	for i := range idx.docs {
		var s float64
		for _, term := range queryTerms {
			tf := float64(idx.terms[i][term])
			if tf == 0 {
				continue
			}
			df := float64(idx.df[term])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			norm := tf + bm25K1*(1-bm25B+bm25B*float64(idx.lens[i])/idx.avgLen)
			s += idf * tf * (bm25K1 + 1) / norm
		}
		if s > 0 {
			hits = append(hits, scored{pos: i, score: s})
		}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].score > hits[b].score })
	if len(hits) > k {
		hits = hits[:k]
	}

	out := make([]Document, 0, len(hits))
	for _, h := range hits {
		doc := idx.docs[h.pos]
		meta := make(map[string]any, len(doc.Metadata)+1)
		for key, v := range doc.Metadata {
			meta[key] = v
		}
		meta["score"] = math.Round(h.score*1000) / 1000
		out = append(out, Document{Content: doc.Content, Metadata: meta})
	}
	return out, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func uniqueTokens(text string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, tok := range tokenize(text) {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

var _ Retriever = (*Index)(nil)
