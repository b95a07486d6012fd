package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"rca-backend/internal/shared/metrics"
	"rca-backend/internal/shared/telemetry"
	"rca-backend/internal/shared/util"
)

// DefaultWeaviateClass holds runbook chunks.
const DefaultWeaviateClass = "Runbook"

const importBatchSize = 100

// NewWeaviateClient parses a URL such as http://localhost:8081 into a client.
func NewWeaviateClient(rawURL string) (*weaviate.Client, error) {
	cfg := weaviate.Config{Host: rawURL, Scheme: "http"}
	switch {
	case strings.HasPrefix(rawURL, "https://"):
		cfg.Scheme = "https"
		cfg.Host = strings.TrimPrefix(rawURL, "https://")
	case strings.HasPrefix(rawURL, "http://"):
		cfg.Host = strings.TrimPrefix(rawURL, "http://")
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Host == "" {
		return nil, fmt.Errorf("weaviate url is empty")
	}
	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return client, nil
}

// Weaviate searches a Weaviate class with BM25.
type Weaviate struct {
	client *weaviate.Client
	class  string
}

// NewWeaviate returns a retriever over class.
func NewWeaviate(client *weaviate.Client, class string) *Weaviate {
	if class == "" {
		class = DefaultWeaviateClass
	}
	return &Weaviate{client: client, class: class}
}

// Retrieve runs a BM25 query and maps objects to documents.
func (w *Weaviate) Retrieve(ctx context.Context, query string, k int) ([]Document, error) {
	if k <= 0 {
		return []Document{}, nil
	}
	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
		{Name: "title"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "score"}}},
	}
	result, err := w.client.GraphQL().Get().
		WithClassName(w.class).
		WithFields(fields...).
		WithBM25(w.client.GraphQL().Bm25ArgBuilder().WithQuery(query)).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		metrics.IncRetrieverCalls("weaviate", "error")
		return nil, fmt.Errorf("weaviate search: %w", err)
	}
	if len(result.Errors) > 0 {
		metrics.IncRetrieverCalls("weaviate", "error")
		return nil, fmt.Errorf("weaviate search: %s", result.Errors[0].Message)
	}
	metrics.IncRetrieverCalls("weaviate", "ok")

	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return []Document{}, nil
	}
	objects, ok := data[w.class].([]interface{})
	if !ok {
		return []Document{}, nil
	}
	docs := make([]Document, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		meta := map[string]any{
			"source": getString(m, "source"),
			"title":  getString(m, "title"),
		}
		if extra, ok := m["_additional"].(map[string]interface{}); ok {
			if score, ok := extra["score"]; ok && score != nil {
				meta["score"] = score
			}
		}
		docs = append(docs, Document{Content: getString(m, "content"), Metadata: meta})
	}
	return docs, nil
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// EnsureClass creates the runbook class when it does not exist.
func (w *Weaviate) EnsureClass(ctx context.Context) error {
	if _, err := w.client.Schema().ClassGetter().WithClassName(w.class).Do(ctx); err == nil {
		return nil
	}
	class := &models.Class{
		Class:       w.class,
		Description: "Runbook chunks for incident remediation lookup",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{Name: "content", DataType: []string{"text"}},
			{Name: "source", DataType: []string{"text"}, Tokenization: "field"},
			{Name: "title", DataType: []string{"text"}},
		},
	}
	if err := w.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create weaviate class %s: %w", w.class, err)
	}
	telemetry.Info("retrieval.weaviate.class_created", map[string]any{"class": w.class})
	return nil
}

// Import batch-writes documents. Object ids derive from content so re-imports overwrite.
func (w *Weaviate) Import(ctx context.Context, docs []Document) (int, error) {
	imported := 0
	for start := 0; start < len(docs); start += importBatchSize {
		end := start + importBatchSize
		if end > len(docs) {
			end = len(docs)
		}
		objects := make([]*models.Object, 0, end-start)
		for _, doc := range docs[start:end] {
			objects = append(objects, &models.Object{
				Class: w.class,
				ID:    objectID(doc),
				Properties: map[string]interface{}{
					"content": doc.Content,
					"source":  doc.Source(),
					"title":   doc.MetaString("title"),
				},
			})
		}
		resp, err := w.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
		if err != nil {
			return imported, fmt.Errorf("weaviate batch import: %w", err)
		}
		for _, item := range resp {
			if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
				telemetry.Error("retrieval.weaviate.import_item_failed", map[string]any{
					"class": w.class,
					"error": item.Result.Errors.Error[0].Message,
				})
				continue
			}
			imported++
		}
	}
	return imported, nil
}

func objectID(doc Document) strfmt.UUID {
	key := util.ContentHash(doc.Source() + "\x00" + doc.Content)
	return strfmt.UUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String())
}

var _ Retriever = (*Weaviate)(nil)
