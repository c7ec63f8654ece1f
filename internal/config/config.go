// Package config assembles the process-wide Config struct from environment
// variables. It is read once at startup (cmd/sinewd) and the resulting
// value is threaded explicitly into every component constructor — there is
// no package-level mutable config state.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Env is the deployment environment, selecting defaults and gating
// dev-only fallbacks (spec §6.3 APP_ENV).
type Env string

const (
	EnvDevelopment Env = "development"
	EnvStaging     Env = "staging"
	EnvProduction  Env = "production"
)

func (e Env) IsProduction() bool { return e == EnvProduction }

type AnthropicPromptCacheConfig struct {
	Enabled       bool
	CacheSystem   bool
	CacheTools    bool
	CacheMessages bool
}

type AnthropicConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	PromptCache AnthropicPromptCacheConfig
	ExtraParams map[string]any
}

type OpenAIConfig struct {
	APIKey       string
	Model        string
	BaseURL      string
	API          string // "completions" (default) or "responses"
	ExtraHeaders map[string]string
	ExtraParams  map[string]any
	LogPayloads  bool
}

type GoogleConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout int // seconds
}

// LLMConfig selects and configures the agent's LLM provider (C11).
type LLMConfig struct {
	Provider  string // "anthropic" (default) | "openai" | "google"
	Anthropic AnthropicConfig
	OpenAI    OpenAIConfig
	Google    GoogleConfig
}

// EmbeddingConfig configures the embedding client (C2).
type EmbeddingConfig struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
	// Path is the request path appended to BaseURL (e.g. "/v1/embeddings").
	Path string
	// APIHeader names the header that carries APIKey ("Authorization" sends
	// it as a Bearer token; any other name sends the raw key value).
	APIHeader string
	// Headers are additional static headers merged onto every request;
	// entries here take precedence over the APIHeader/APIKey pair.
	Headers   map[string]string
	Dimension int
	Offline   bool // EMBEDDINGS_OFFLINE
	Timeout   int  // seconds, default 30 per spec §5
}

// ChunkStoreConfig configures the chunk store (C3).
type ChunkStoreConfig struct {
	DatabaseURL string
	VectorBackend string // "postgres" (default) | "qdrant"; any other value selects pgvector
	QdrantCollection string
	VectorMetric     string // cosine|l2|ip
	MaxConns         int32
	MinConns         int32
}

// GraphStoreConfig configures the graph store (C4).
type GraphStoreConfig struct {
	URI      string
	User     string
	Password string
	// GraphWriteDelay throttles consecutive episode writes (original_source
	// graph_builder.py's rate-limit courtesy delay); 0 disables it for tests.
	GraphWriteDelay time.Duration
}

// CacheConfig configures the tenant-scoped cache (C5).
type CacheConfig struct {
	RedisURL   string // empty disables caching entirely
	DefaultTTL time.Duration
}

// IngestConfig configures the ingestion pipeline (C9/C10).
type IngestConfig struct {
	MaxWorkers             int
	StreamingThresholdByte int64
	MaxSectionSize         int
	SectionSoftTimeout     time.Duration
	StaleProcessingAfter   time.Duration
	SkipGraphBuilding      bool
}

// AgentConfig configures the agent runtime (C11).
type AgentConfig struct {
	HistoryWindow      int // "last K messages", default 10
	DisablePersistence bool
	DevTenantUUID      string
	DevSessionUUID     string
}

// MetricsConfig toggles OTel metrics exposition.
type MetricsConfig struct {
	Enabled bool
	Port    int
}

// ObsConfig configures the OTLP tracing/metrics exporters wired through
// observability.InitOTel. InitOTel returns an error for an empty OTLP
// endpoint; cmd/sinewd logs that error and runs without OTLP export.
type ObsConfig struct {
	OTLP           string
	ServiceName    string
	ServiceVersion string
	Environment    string
}

type Config struct {
	Env  Env
	Host string
	Port int

	ChunkStore ChunkStoreConfig
	GraphStore GraphStoreConfig
	Cache      CacheConfig
	Embedding  EmbeddingConfig
	LLMClient  LLMConfig
	Ingest     IngestConfig
	Agent      AgentConfig
	Obs        ObsConfig
	Metrics    MetricsConfig
}

// Load builds a Config from the environment, loading a .env file first on a
// best-effort basis (godotenv.Load-then-read: variables already set in the
// process environment are not overridden by .env; absence of .env is not an
// error).
func Load() (Config, error) {
	_ = godotenv.Load(".env")

	var cfg Config
	cfg.Env = Env(firstNonEmpty(os.Getenv("APP_ENV"), string(EnvDevelopment)))
	cfg.Host = firstNonEmpty(os.Getenv("APP_HOST"), "0.0.0.0")
	cfg.Port = envInt("APP_PORT", 8080)

	cfg.ChunkStore = ChunkStoreConfig{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		VectorBackend:    firstNonEmpty(os.Getenv("VECTOR_BACKEND"), "postgres"),
		QdrantCollection: firstNonEmpty(os.Getenv("QDRANT_COLLECTION"), "sinew_chunks"),
		VectorMetric:     firstNonEmpty(os.Getenv("VECTOR_METRIC"), "cosine"),
		MaxConns:         int32(envInt("CHUNKSTORE_MAX_CONNS", 20)),
		MinConns:         int32(envInt("CHUNKSTORE_MIN_CONNS", 5)),
	}

	cfg.GraphStore = GraphStoreConfig{
		URI:             os.Getenv("NEO4J_URI"),
		User:            os.Getenv("NEO4J_USER"),
		Password:        os.Getenv("NEO4J_PASSWORD"),
		GraphWriteDelay: envDuration("GRAPH_WRITE_DELAY_MS", 500*time.Millisecond, time.Millisecond),
	}

	cfg.Cache = CacheConfig{
		RedisURL:   os.Getenv("REDIS_URL"),
		DefaultTTL: envDuration("CACHE_DEFAULT_TTL_SECONDS", time.Hour, time.Second),
	}

	dim := envInt("VECTOR_DIMENSION", 1536)
	cfg.Embedding = EmbeddingConfig{
		Provider:  firstNonEmpty(os.Getenv("EMBEDDING_PROVIDER"), "openai"),
		APIKey:    os.Getenv("EMBEDDING_API_KEY"),
		Model:     firstNonEmpty(os.Getenv("EMBEDDING_MODEL"), "text-embedding-3-small"),
		BaseURL:   os.Getenv("EMBEDDING_BASE_URL"),
		Path:      firstNonEmpty(os.Getenv("EMBEDDING_PATH"), "/v1/embeddings"),
		APIHeader: "Authorization",
		Dimension: dim,
		Offline:   envBool("EMBEDDINGS_OFFLINE", false),
		Timeout:   envInt("EMBEDDING_TIMEOUT_SECONDS", 30),
	}

	cfg.LLMClient = LLMConfig{
		Provider: firstNonEmpty(os.Getenv("LLM_PROVIDER"), "anthropic"),
		Anthropic: AnthropicConfig{
			APIKey:  os.Getenv("LLM_API_KEY"),
			Model:   os.Getenv("LLM_CHOICE"),
			BaseURL: os.Getenv("LLM_BASE_URL"),
		},
		OpenAI: OpenAIConfig{
			APIKey:  os.Getenv("LLM_API_KEY"),
			Model:   os.Getenv("LLM_CHOICE"),
			BaseURL: os.Getenv("LLM_BASE_URL"),
		},
		Google: GoogleConfig{
			APIKey:  os.Getenv("LLM_API_KEY"),
			Model:   os.Getenv("LLM_CHOICE"),
			BaseURL: os.Getenv("LLM_BASE_URL"),
			Timeout: envInt("LLM_TIMEOUT_SECONDS", 60),
		},
	}

	cfg.Ingest = IngestConfig{
		MaxWorkers:             envInt("INGEST_MAX_WORKERS", 4),
		StreamingThresholdByte: int64(envInt("INGEST_STREAMING_THRESHOLD_BYTES", 5*1024*1024)),
		MaxSectionSize:         envInt("INGEST_MAX_SECTION_SIZE", 2000),
		SectionSoftTimeout:     envDuration("INGEST_SECTION_TIMEOUT_SECONDS", 30*time.Second, time.Second),
		StaleProcessingAfter:   envDuration("INGEST_STALE_AFTER_HOURS", 2*time.Hour, time.Hour),
	}

	cfg.Agent = AgentConfig{
		HistoryWindow:      envInt("AGENT_HISTORY_WINDOW", 10),
		DisablePersistence: envBool("DISABLE_DB_PERSISTENCE", false),
		DevTenantUUID:      os.Getenv("DEV_TENANT_UUID"),
		DevSessionUUID:     os.Getenv("DEV_SESSION_UUID"),
	}

	cfg.Metrics = MetricsConfig{
		Enabled: envBool("ENABLE_METRICS", true),
		Port:    envInt("METRICS_PORT", 9090),
	}

	cfg.Obs = ObsConfig{
		OTLP:           os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ServiceName:    firstNonEmpty(os.Getenv("OTEL_SERVICE_NAME"), "sinewd"),
		ServiceVersion: firstNonEmpty(os.Getenv("OTEL_SERVICE_VERSION"), "dev"),
		Environment:    string(cfg.Env),
	}

	if cfg.Env.IsProduction() && cfg.ChunkStore.DatabaseURL == "" {
		return cfg, fmt.Errorf("config: DATABASE_URL is required in production")
	}
	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True":
		return true
	case "0", "false", "FALSE", "False":
		return false
	default:
		return def
	}
}

func envDuration(key string, def time.Duration, unit time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(n) * unit
}
