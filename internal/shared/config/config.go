package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port            string
	CORSAllowOrigin []string
	Env             string
	DatabaseURL     string
	LogLevel        string

	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string
	SQSQueueURL     string

	LLMProvider       string
	LLMModel          string
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	LLMRateLimitRPS   float64
	LLMRateLimitBurst int
	LLMMaxRetries     int

	KnowledgeDir  string
	RunbooksFile  string
	WeaviateURL   string
	WeaviateClass string

	MaxSteps           int
	StageTimeout       time.Duration
	QueryChars         int
	PromptChars        int
	RetrieverTopK      int
	PolicyFile         string
	RunbookMaxResults  int
	RunbookBaseURL     string
	RunbookLLMSteps    bool
	TracesExporter     string
	OTLPEndpoint       string
	HTTPRateLimitRPS   float64
	HTTPRateLimitBurst int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}

	return Config{
		Port:            getEnv("PORT", "8080"),
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		Env:             env,
		DatabaseURL:     dbURL,
		LogLevel:        getEnv("LOG_LEVEL", "info"),

		ObjectStoreType: normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:       getEnv("AWS_REGION", ""),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Prefix:        getEnv("S3_PREFIX", ""),
		SSEKMSKeyID:     getEnv("SSE_KMS_KEY_ID", ""),
		SQSQueueURL:     getEnv("RA_SQS_QUEUE_URL", ""),

		LLMProvider:       normalizeProvider(getEnv("LLM_PROVIDER", "openai")),
		LLMModel:          getEnv("LLM_MODEL", "gpt-4o-mini"),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", ""),
		LLMRateLimitRPS:   getFloat("LLM_RATE_LIMIT_RPS", 0),
		LLMRateLimitBurst: getInt("LLM_RATE_LIMIT_BURST", 1),
		LLMMaxRetries:     getInt("LLM_MAX_RETRIES", 0),

		KnowledgeDir:  getEnv("KNOWLEDGE_DIR", "./knowledge"),
		RunbooksFile:  getEnv("RUNBOOKS_FILE", "runbooks/runbooks.json"),
		WeaviateURL:   getEnv("WEAVIATE_URL", ""),
		WeaviateClass: getEnv("WEAVIATE_CLASS", "Runbook"),

		MaxSteps:           getInt("RCA_MAX_STEPS", 20),
		StageTimeout:       getDuration("RCA_STAGE_TIMEOUT", 60*time.Second),
		QueryChars:         getInt("RCA_QUERY_CHARS", 2000),
		PromptChars:        getInt("RCA_PROMPT_CHARS", 5000),
		RetrieverTopK:      getInt("RCA_RETRIEVER_TOP_K", 5),
		PolicyFile:         getEnv("RCA_POLICY_FILE", ""),
		RunbookMaxResults:  getInt("RCA_RUNBOOK_MAX_RESULTS", 3),
		RunbookBaseURL:     getEnv("RCA_RUNBOOK_BASE_URL", "https://runbooks.gitlab.com"),
		RunbookLLMSteps:    getBool("RCA_RUNBOOK_LLM_STEPS", false),
		TracesExporter:     getEnv("OTEL_TRACES_EXPORTER", "none"),
		OTLPEndpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		HTTPRateLimitRPS:   getFloat("HTTP_RATE_LIMIT_RPS", 0),
		HTTPRateLimitBurst: getInt("HTTP_RATE_LIMIT_BURST", 10),
	}
}

// DevLike reports whether in-memory fallbacks are allowed.
func (c Config) DevLike() bool {
	return c.Env == "dev" || c.Env == "local"
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		log.Printf("invalid %s=%q, using %d", key, raw, def)
		return def
	}
	return parsed
}

func getFloat(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed < 0 {
		log.Printf("invalid %s=%q, using %v", key, raw, def)
		return def
	}
	return parsed
}

func getBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return parsed
}

// getDuration accepts Go durations ("90s") or a bare number of seconds.
func getDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	log.Printf("invalid %s=%q, using %s", key, raw, def)
	return def
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}

func normalizeProvider(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "langchain":
		return "langchain"
	case "none", "off", "":
		return "none"
	default:
		return "openai"
	}
}
