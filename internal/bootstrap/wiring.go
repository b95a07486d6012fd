package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"rca-backend/internal/incident"
	"rca-backend/internal/llm"
	"rca-backend/internal/llm/langchain"
	openai "rca-backend/internal/llm/openai"
	"rca-backend/internal/queue"
	"rca-backend/internal/retrieval"
	"rca-backend/internal/runbooks"
	"rca-backend/internal/shared/config"
	"rca-backend/internal/shared/storage/db"
	"rca-backend/internal/shared/storage/object"
	localstore "rca-backend/internal/shared/storage/object/local"
	s3store "rca-backend/internal/shared/storage/object/s3"
	"rca-backend/internal/summarizer"
	"rca-backend/internal/tiers"
)

const runbookCorpus = "runbooks"

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if cfg.DevLike() {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	var (
		sqlDB *sql.DB
		err   error
	)
	if db.IsLambdaRuntime() {
		opts := db.OptionsFromEnv(db.DefaultLambdaOptions())
		sqlDB, err = db.GetSingleton(ctx, cfg.DatabaseURL, opts)
	} else {
		opts := db.OptionsFromEnv(db.DefaultServerOptions())
		sqlDB, err = db.Connect(ctx, cfg.DatabaseURL, opts)
	}
	if err != nil {
		if cfg.DevLike() {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}

	return sqlDB, nil
}

// BuildStore returns the local or S3 object store named by OBJECT_STORE.
func BuildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=s3 requires S3_BUCKET")
		}
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildQueue(ctx context.Context, cfg config.Config) (queue.Client, error) {
	if strings.TrimSpace(cfg.SQSQueueURL) == "" {
		return nil, nil
	}
	return queue.NewSQSClient(ctx, cfg.SQSQueueURL, cfg.AWSRegion)
}

// BuildLLM selects the oracle provider and wraps it with retry and rate limiting.
func BuildLLM(cfg config.Config) (llm.Client, error) {
	var (
		base llm.Client
		err  error
	)
	switch cfg.LLMProvider {
	case "openai":
		base, err = openai.NewClient(cfg.OpenAIAPIKey, cfg.LLMModel, cfg.OpenAIBaseURL)
	case "langchain":
		base, err = langchain.NewOpenAI(cfg.OpenAIAPIKey, cfg.LLMModel, cfg.OpenAIBaseURL)
	default:
		return llm.PlaceholderClient{}, nil
	}
	if err != nil {
		if devErr := requireDevLike(cfg, "llm provider "+cfg.LLMProvider, err); devErr != nil {
			return nil, devErr
		}
		return llm.PlaceholderClient{}, nil
	}
	return wrapLLM(cfg, base), nil
}

// wrapLLM applies rate limiting and, only when LLM_MAX_RETRIES is positive, the
// transient-error retry. By default every stage makes exactly one oracle call.
func wrapLLM(cfg config.Config, base llm.Client) llm.Client {
	client := base
	if cfg.LLMMaxRetries > 0 {
		policy := llm.DefaultRetryPolicy()
		policy.MaxRetries = cfg.LLMMaxRetries
		client = llm.NewRetrying(base, policy)
	}
	return llm.NewRateLimited(client, cfg.LLMRateLimitRPS, cfg.LLMRateLimitBurst)
}

// BuildRunner wires analyzers, summarizer and runbook resolver. The returned
// corpora are built lazily on first query.
func BuildRunner(cfg config.Config, store object.ObjectStore, client llm.Client) (*incident.Runner, []*retrieval.Lazy, error) {
	policy, err := buildPolicy(cfg)
	if err != nil {
		return nil, nil, err
	}

	splitter := retrieval.NewSplitter(retrieval.DefaultChunkSize, retrieval.DefaultChunkOverlap)
	var corpora []*retrieval.Lazy
	analyzers := make(map[incident.Tier]incident.TierAnalyzer, len(incident.Tiers()))
	for _, tier := range incident.Tiers() {
		dir := filepath.Join(cfg.KnowledgeDir, string(tier))
		corpus := retrieval.NewLazy(string(tier), func(ctx context.Context) (retrieval.Retriever, error) {
			docs, err := retrieval.LoadMarkdownDir(dir)
			if err != nil {
				return nil, err
			}
			chunks, err := splitter.Split(docs)
			if err != nil {
				return nil, err
			}
			return retrieval.NewIndex(chunks), nil
		})
		corpora = append(corpora, corpus)
		analyzers[tier] = tiers.New(tier, corpus, client, policy)
	}

	runbookRetriever, lazyRunbooks, err := buildRunbookRetriever(cfg, store, splitter)
	if err != nil {
		return nil, nil, err
	}
	if lazyRunbooks != nil {
		corpora = append(corpora, lazyRunbooks)
	}

	resolver := runbooks.New(runbookRetriever)
	if strings.TrimSpace(cfg.RunbookBaseURL) != "" {
		resolver.BaseURL = cfg.RunbookBaseURL
	}
	resolver.LLM = client
	resolver.LLMSteps = cfg.RunbookLLMSteps

	runner := &incident.Runner{
		Analyzers:    analyzers,
		Summarizer:   summarizer.New(client),
		Runbooks:     resolver,
		MaxRunbooks:  cfg.RunbookMaxResults,
		MaxSteps:     cfg.MaxSteps,
		StageTimeout: cfg.StageTimeout,
	}
	return runner, corpora, nil
}

func buildPolicy(cfg config.Config) (tiers.Policy, error) {
	policy := tiers.DefaultPolicy()
	if cfg.QueryChars > 0 {
		policy.QueryChars = cfg.QueryChars
	}
	if cfg.PromptChars > 0 {
		policy.PromptChars = cfg.PromptChars
	}
	if cfg.RetrieverTopK > 0 {
		policy.TopK = cfg.RetrieverTopK
	}
	if strings.TrimSpace(cfg.PolicyFile) == "" {
		return policy, nil
	}
	return tiers.LoadPolicyFile(cfg.PolicyFile, policy)
}

// buildRunbookRetriever prefers Weaviate; without it the JSON corpus at
// RUNBOOKS_FILE is read from the object store and indexed in memory.
func buildRunbookRetriever(cfg config.Config, store object.ObjectStore, splitter retrieval.Splitter) (retrieval.Retriever, *retrieval.Lazy, error) {
	if strings.TrimSpace(cfg.WeaviateURL) != "" {
		client, err := retrieval.NewWeaviateClient(cfg.WeaviateURL)
		if err != nil {
			return nil, nil, err
		}
		return retrieval.NewWeaviate(client, cfg.WeaviateClass), nil, nil
	}
	key := cfg.RunbooksFile
	corpus := retrieval.NewLazy(runbookCorpus, func(ctx context.Context) (retrieval.Retriever, error) {
		data, err := object.ReadAll(ctx, store, key)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		docs, err := retrieval.ParseRunbookCorpus(data)
		if err != nil {
			return nil, err
		}
		chunks, err := splitter.Split(docs)
		if err != nil {
			return nil, err
		}
		return retrieval.NewIndex(chunks), nil
	})
	return corpus, corpus, nil
}
