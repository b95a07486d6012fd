package retrieval

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func runbookDocs() []Document {
	return []Document{
		{Content: "Redis maxclients reached: connection pool exhausted, recycle clients", Metadata: map[string]any{"source": "/redis/maxclients.md"}},
		{Content: "Postgres deadlock detected; inspect pg_locks", Metadata: map[string]any{"source": "/postgres/deadlocks.md"}},
		{Content: "Nginx 502 bad gateway upstream timeout", Metadata: map[string]any{"source": "/web/502.md"}},
	}
}

func TestIndexRanksMatchingDocumentsFirst(t *testing.T) {
	idx := NewIndex(runbookDocs())
	got, err := idx.Retrieve(context.Background(), "redis connection pool exhausted", 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected only the matching doc, got %d", len(got))
	}
	if got[0].Source() != "/redis/maxclients.md" {
		t.Fatalf("unexpected top hit: %s", got[0].Source())
	}
	if score, ok := got[0].Metadata["score"].(float64); !ok || score <= 0 {
		t.Fatalf("expected positive score, got %v", got[0].Metadata["score"])
	}
	if _, ok := runbookDocs()[0].Metadata["score"]; ok {
		t.Fatalf("index must not mutate source metadata")
	}
}

func TestIndexHonoursLimit(t *testing.T) {
	idx := NewIndex(runbookDocs())
	got, err := idx.Retrieve(context.Background(), "redis postgres nginx", 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got, _ := idx.Retrieve(context.Background(), "redis", 0); len(got) != 0 {
		t.Fatalf("expected no results for k=0")
	}
}

func TestParseRunbookCorpus(t *testing.T) {
	data := []byte(`[
		{"page_content": "1. Check maxclients", "metadata": {"source": "/redis/maxclients.md", "title": "Redis maxclients"}},
		{"page_content": "   ", "metadata": {"source": "/empty.md"}},
		{"page_content": "no metadata"}
	]`)
	docs, err := ParseRunbookCorpus(data)
	if err != nil {
		t.Fatalf("ParseRunbookCorpus: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 docs, got %d", len(docs))
	}
	if docs[0].MetaString("title") != "Redis maxclients" || docs[1].Metadata == nil {
		t.Fatalf("unexpected docs: %+v", docs)
	}
	if _, err := ParseRunbookCorpus([]byte(`[]`)); !errors.Is(err, ErrEmptyCorpus) {
		t.Fatalf("expected ErrEmptyCorpus, got %v", err)
	}
	if _, err := ParseRunbookCorpus([]byte(`{`)); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestSplitterChunksLongDocuments(t *testing.T) {
	long := strings.Repeat("connection pool exhaustion remediation step. ", 80)
	chunks, err := NewSplitter(200, 40).Split([]Document{{Content: long, Metadata: map[string]any{"source": "pool.md"}}})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c.Content) > 200 {
			t.Fatalf("chunk %d too long: %d", i, len(c.Content))
		}
		if c.Source() != "pool.md" || c.Metadata["chunk"] != i {
			t.Fatalf("chunk %d lost metadata: %v", i, c.Metadata)
		}
	}
}

func TestLoadMarkdownDir(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "b.md"), "# Redis\nslowlog")
	mustWrite(t, filepath.Join(dir, "a.txt"), "pool sizing")
	mustWrite(t, filepath.Join(dir, "ignore.json"), "{}")

	docs, err := LoadMarkdownDir(dir)
	if err != nil {
		t.Fatalf("LoadMarkdownDir: %v", err)
	}
	var sources []string
	for _, d := range docs {
		sources = append(sources, d.Source())
	}
	if diff := cmp.Diff([]string{"a.txt", "b.md"}, sources); diff != "" {
		t.Fatalf("sources mismatch (-want +got):\n%s", diff)
	}

	if _, err := LoadMarkdownDir(t.TempDir()); !errors.Is(err, ErrEmptyCorpus) {
		t.Fatalf("expected ErrEmptyCorpus, got %v", err)
	}
}

func TestLazyBuildsOnce(t *testing.T) {
	var builds int32
	l := NewLazy("runbooks", func(context.Context) (Retriever, error) {
		atomic.AddInt32(&builds, 1)
		return NewIndex(runbookDocs()), nil
	})
	if l.Ready() {
		t.Fatalf("expected cold retriever")
	}
	for i := 0; i < 3; i++ {
		if _, err := l.Retrieve(context.Background(), "redis", 1); err != nil {
			t.Fatalf("Retrieve: %v", err)
		}
	}
	if builds != 1 || !l.Ready() {
		t.Fatalf("expected one build, got %d", builds)
	}
}

func TestLazyReportsBuildFailure(t *testing.T) {
	l := NewLazy("web", func(context.Context) (Retriever, error) {
		return nil, ErrEmptyCorpus
	})
	if _, err := l.Retrieve(context.Background(), "q", 1); !errors.Is(err, ErrEmptyCorpus) {
		t.Fatalf("expected ErrEmptyCorpus, got %v", err)
	}
}

func TestWeaviateRetrieveParsesGraphQL(t *testing.T) {
	var gotQuery atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/graphql":
			buf := new(strings.Builder)
			_, _ = io.Copy(buf, r.Body)
			gotQuery.Store(buf.String())
			_, _ = w.Write([]byte(`{"data":{"Get":{"Runbook":[
				{"content":"1. Recycle clients","source":"/redis/maxclients.md","title":"Redis maxclients","_additional":{"score":"1.25"}},
				{"content":"2. Tune pool","source":"https://runbooks.gitlab.com/redis/pool","title":"","_additional":{"score":"0.5"}}
			]}}}`))
		case "/v1/meta":
			_, _ = w.Write([]byte(`{"version":"1.25.0"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client, err := NewWeaviateClient(server.URL)
	if err != nil {
		t.Fatalf("NewWeaviateClient: %v", err)
	}
	docs, err := NewWeaviate(client, "").Retrieve(context.Background(), "connection pool", 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 docs, got %d", len(docs))
	}
	if docs[0].Source() != "/redis/maxclients.md" || docs[0].MetaString("score") != "1.25" {
		t.Fatalf("unexpected first doc: %+v", docs[0])
	}
	q, _ := gotQuery.Load().(string)
	if !strings.Contains(q, "bm25") || !strings.Contains(q, "Runbook") {
		t.Fatalf("expected bm25 query on Runbook class, got %s", q)
	}
}

func TestObjectIDIsStable(t *testing.T) {
	doc := runbookDocs()[0]
	if objectID(doc) != objectID(doc) {
		t.Fatalf("expected deterministic object id")
	}
	if objectID(doc) == objectID(runbookDocs()[1]) {
		t.Fatalf("expected distinct ids for distinct docs")
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
