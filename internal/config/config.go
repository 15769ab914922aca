package config

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	APIPort        string        `mapstructure:"api_port"`
	LogLevel       string        `mapstructure:"log_level"`
	RequestTimeout time.Duration `mapstructure:"api_request_timeout"`
	RateLimitRPS   float64       `mapstructure:"api_rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"api_rate_limit_burst"`
	MaxInFlight    int           `mapstructure:"api_backpressure_max_in_flight"`
	OpenAPIEnabled bool          `mapstructure:"api_openapi_validation"`

	OllamaURL      string        `mapstructure:"ollama_url"`
	OllamaTimeout  time.Duration `mapstructure:"ollama_timeout"`
	PrimaryModel   string        `mapstructure:"ollama_primary_model"`
	SecondaryModel string        `mapstructure:"ollama_secondary_model"`
	RouterModel    string        `mapstructure:"ollama_router_model"`
	SummaryModel   string        `mapstructure:"ollama_summary_model"`
	EmbedModel     string        `mapstructure:"ollama_embed_model"`

	Temperature        float64 `mapstructure:"llm_temperature"`
	MaxTokens          int     `mapstructure:"llm_max_tokens"`
	SummaryTemperature float64 `mapstructure:"summary_temperature"`
	SummaryMaxTokens   int     `mapstructure:"summary_max_tokens"`

	QdrantURL              string        `mapstructure:"qdrant_url"`
	QdrantCollectionPrefix string        `mapstructure:"qdrant_collection_prefix"`
	QdrantTimeout          time.Duration `mapstructure:"qdrant_timeout"`
	LexicalIndexDir        string        `mapstructure:"lexical_index_dir"`

	TavilyURL      string        `mapstructure:"tavily_url"`
	TavilyAPIKey   string        `mapstructure:"tavily_api_key"`
	TavilyTimeout  time.Duration `mapstructure:"tavily_timeout"`
	WebMaxResults  int           `mapstructure:"web_max_results"`
	WebSearchDepth string        `mapstructure:"web_search_depth"`

	TopKDense        int     `mapstructure:"rag_top_k_dense"`
	TopKLexical      int     `mapstructure:"rag_top_k_lexical"`
	DenseWeight      float64 `mapstructure:"rag_dense_weight"`
	LexicalWeight    float64 `mapstructure:"rag_lexical_weight"`
	FusionK          int     `mapstructure:"rag_fusion_k"`
	MaxWorkers       int     `mapstructure:"rag_max_workers"`
	MaxDocs          int     `mapstructure:"rag_max_docs"`
	MaxContextDocs   int     `mapstructure:"rag_max_context_docs"`
	ContextCharLimit int     `mapstructure:"rag_context_char_limit"`
	HistoryTurns     int     `mapstructure:"rag_history_turns"`
	NoInfoAnswer     string  `mapstructure:"no_info_answer"`
	EmptyChatSummary string  `mapstructure:"empty_conversation_summary"`

	StreamMinChunkRunes int `mapstructure:"stream_min_chunk_runes"`
	StreamBufferSize    int `mapstructure:"stream_buffer_size"`

	SourceDir       string `mapstructure:"source_dir"`
	ChunkSize       int    `mapstructure:"chunk_size"`
	ChunkOverlap    int    `mapstructure:"chunk_overlap"`
	EmbedBatchSize  int    `mapstructure:"embed_batch_size"`
	MetricsTextfile string `mapstructure:"metrics_textfile"`

	ResilienceRetryMaxAttempts    int           `mapstructure:"resilience_retry_max_attempts"`
	ResilienceRetryInitialBackoff time.Duration `mapstructure:"resilience_retry_initial_backoff"`
	ResilienceRetryMaxBackoff     time.Duration `mapstructure:"resilience_retry_max_backoff"`
	ResilienceRetryMultiplier     float64       `mapstructure:"resilience_retry_multiplier"`
	ResilienceBreakerEnabled      bool          `mapstructure:"resilience_breaker_enabled"`
	ResilienceBreakerMinRequests  uint32        `mapstructure:"resilience_breaker_min_requests"`
	ResilienceBreakerFailureRatio float64       `mapstructure:"resilience_breaker_failure_ratio"`
	ResilienceBreakerOpenTimeout  time.Duration `mapstructure:"resilience_breaker_open_timeout"`
	ResilienceBreakerHalfOpenMax  uint32        `mapstructure:"resilience_breaker_half_open_max_calls"`
}

var defaults = map[string]any{
	"api_port":                       "8080",
	"log_level":                      "info",
	"api_request_timeout":            90 * time.Second,
	"api_rate_limit_rps":             20.0,
	"api_rate_limit_burst":           40,
	"api_backpressure_max_in_flight": 32,
	"api_openapi_validation":         true,

	"ollama_url":             "http://localhost:11434",
	"ollama_timeout":         120 * time.Second,
	"ollama_primary_model":   "qwen2.5:14b",
	"ollama_secondary_model": "qwen2.5:7b",
	"ollama_router_model":    "",
	"ollama_summary_model":   "",
	"ollama_embed_model":     "bge-m3",

	"llm_temperature":     0.7,
	"llm_max_tokens":      400,
	"summary_temperature": 0.5,
	"summary_max_tokens":  1500,

	"qdrant_url":               "http://localhost:6333",
	"qdrant_collection_prefix": "tax_",
	"qdrant_timeout":           30 * time.Second,
	"lexical_index_dir":        "./data/lexical",

	"tavily_url":       "https://api.tavily.com",
	"tavily_api_key":   "",
	"tavily_timeout":   20 * time.Second,
	"web_max_results":  3,
	"web_search_depth": "basic",

	"rag_top_k_dense":            2,
	"rag_top_k_lexical":          2,
	"rag_dense_weight":           0.6,
	"rag_lexical_weight":         0.4,
	"rag_fusion_k":               60,
	"rag_max_workers":            3,
	"rag_max_docs":               8,
	"rag_max_context_docs":       4,
	"rag_context_char_limit":     600,
	"rag_history_turns":          6,
	"no_info_answer":             "관련 정보를 찾을 수 없습니다.",
	"empty_conversation_summary": "대화 내역이 없습니다.",

	"stream_min_chunk_runes": 20,
	"stream_buffer_size":     16,

	"source_dir":       "./data/statutes",
	"chunk_size":       700,
	"chunk_overlap":    120,
	"embed_batch_size": 32,
	"metrics_textfile": "",

	"resilience_retry_max_attempts":          3,
	"resilience_retry_initial_backoff":       100 * time.Millisecond,
	"resilience_retry_max_backoff":           400 * time.Millisecond,
	"resilience_retry_multiplier":            2.0,
	"resilience_breaker_enabled":             true,
	"resilience_breaker_min_requests":        10,
	"resilience_breaker_failure_ratio":       0.5,
	"resilience_breaker_open_timeout":        30 * time.Second,
	"resilience_breaker_half_open_max_calls": 2,
}

// Load layers defaults, the optional YAML file named by the "config" flag,
// environment variables (upper-cased keys) and finally the given flags.
// Flags are bound by name with dashes in place of underscores, so
// --rag-top-k-dense overrides RAG_TOP_K_DENSE.
func Load(flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if flags != nil {
		for key := range defaults {
			if flag := flags.Lookup(strings.ReplaceAll(key, "_", "-")); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", flag.Name, err)
				}
			}
		}
		if path, _ := flags.GetString("config"); path != "" {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// RegisterFlags declares the flags every command shares.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "path to a YAML config file")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("ollama-url", "", "Ollama base URL")
	flags.String("qdrant-url", "", "Qdrant base URL")
	flags.String("lexical-index-dir", "", "directory holding <partition>.bleve indexes")
}

// Validate fills derived model names, normalizes the fusion weights so they
// sum to one and rejects caps that would disable the pipeline.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.PrimaryModel) == "" {
		errs = append(errs, errors.New("ollama_primary_model is required"))
	}
	if strings.TrimSpace(c.SecondaryModel) == "" {
		c.SecondaryModel = c.PrimaryModel
	}
	if strings.TrimSpace(c.RouterModel) == "" {
		c.RouterModel = c.SecondaryModel
	}
	if strings.TrimSpace(c.SummaryModel) == "" {
		c.SummaryModel = c.SecondaryModel
	}
	if strings.TrimSpace(c.EmbedModel) == "" {
		errs = append(errs, errors.New("ollama_embed_model is required"))
	}

	c.DenseWeight, c.LexicalWeight = normalizeWeights(c.DenseWeight, c.LexicalWeight)

	positive := map[string]int{
		"rag_top_k_dense":        c.TopKDense,
		"rag_top_k_lexical":      c.TopKLexical,
		"rag_max_workers":        c.MaxWorkers,
		"rag_max_docs":           c.MaxDocs,
		"rag_max_context_docs":   c.MaxContextDocs,
		"rag_context_char_limit": c.ContextCharLimit,
		"web_max_results":        c.WebMaxResults,
		"llm_max_tokens":         c.MaxTokens,
		"summary_max_tokens":     c.SummaryMaxTokens,
		"chunk_size":             c.ChunkSize,
	}
	for _, key := range slices.Sorted(maps.Keys(positive)) {
		if positive[key] <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", key, positive[key]))
		}
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		errs = append(errs, fmt.Errorf("chunk_overlap must be in [0, chunk_size), got %d", c.ChunkOverlap))
	}
	if c.HistoryTurns < 0 {
		errs = append(errs, fmt.Errorf("rag_history_turns must not be negative, got %d", c.HistoryTurns))
	}
	switch c.WebSearchDepth {
	case "basic", "advanced":
	default:
		errs = append(errs, fmt.Errorf("web_search_depth must be basic or advanced, got %q", c.WebSearchDepth))
	}

	return errors.Join(errs...)
}

func normalizeWeights(dense, lexical float64) (float64, float64) {
	if dense < 0 {
		dense = 0
	}
	if lexical < 0 {
		lexical = 0
	}
	total := dense + lexical
	if total <= 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return 0.6, 0.4
	}
	return dense / total, lexical / total
}
