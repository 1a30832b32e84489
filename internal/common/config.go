package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config is the process-wide configuration, loaded through a default-overlay
// chain: defaults -> file1 -> file2 -> ... -> env -> CLI.
type Config struct {
	Environment string          `toml:"environment" validate:"oneof=development production"`
	Server      ServerConfig    `toml:"server"`
	Logging     LoggingConfig   `toml:"logging"`
	Storage     StorageConfig   `toml:"storage"`
	Crawler     CrawlerConfig   `toml:"crawler"`
	Jobs        JobsConfig      `toml:"jobs"`
	Embedding   EmbeddingConfig `toml:"embedding"`
	Retrieval   RetrievalConfig `toml:"retrieval"`
	LLM         LLMConfig       `toml:"llm"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type LoggingConfig struct {
	Level      string   `toml:"level"`
	Output     []string `toml:"output"` // "stdout", "file"
	TimeFormat string   `toml:"time_format"`
}

type StorageConfig struct {
	SQLitePath     string `toml:"sqlite_path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
	WALMode        bool   `toml:"wal_mode"`
	CacheSizeMB    int    `toml:"cache_size_mb"`
	BusyTimeoutMS  int    `toml:"busy_timeout_ms"`
}

// CrawlerConfig holds HTTP-scraper tunables for the plain HTTP+goquery
// scraper (no browser-automation fields; the scraper never renders JS).
type CrawlerConfig struct {
	UserAgent           string  `toml:"user_agent"`
	MaxConcurrency      int     `toml:"max_concurrency"` // detail-fetch batch size, default 10
	RequestsPerSecond   float64 `toml:"requests_per_second"`
	LoginTimeoutMS      int     `toml:"login_timeout_ms"`
	NavigationTimeoutMS int     `toml:"navigation_timeout_ms"`
	SelectorTimeoutMS   int     `toml:"selector_timeout_ms"`
	MaxSearchPages      int     `toml:"max_search_pages"` // pagination safety ceiling
}

func (c CrawlerConfig) LoginTimeout() time.Duration      { return time.Duration(c.LoginTimeoutMS) * time.Millisecond }
func (c CrawlerConfig) NavigationTimeout() time.Duration { return time.Duration(c.NavigationTimeoutMS) * time.Millisecond }
func (c CrawlerConfig) SelectorTimeout() time.Duration   { return time.Duration(c.SelectorTimeoutMS) * time.Millisecond }

// JobsConfig holds orchestrator cache/cleanup tunables.
type JobsConfig struct {
	QueryCacheHours          int    `toml:"query_cache_hours"` // IMS_QUERY_CACHE_HOURS; 0 disables cache
	QueryCacheCleanupEnabled bool   `toml:"query_cache_cleanup_enabled"`
	CleanupGraceHours        int    `toml:"cleanup_grace_hours"`
	CleanupCronSchedule      string `toml:"cleanup_cron_schedule"` // robfig/cron expression
	MaxRetries               int    `toml:"max_retries"`
}

func (c JobsConfig) CacheTTL() time.Duration {
	return time.Duration(c.QueryCacheHours) * time.Hour
}

func (c JobsConfig) CleanupCutoffAge() time.Duration {
	return time.Duration(c.QueryCacheHours+c.CleanupGraceHours) * time.Hour
}

// EmbeddingConfig holds the system-wide embedding dimensionality and the
// backing port's connection details.
type EmbeddingConfig struct {
	Dimensions int    `toml:"dimensions"` // EMBEDDING_DIMENSIONS
	OllamaURL  string `toml:"ollama_url"`
	Model      string `toml:"model"`
	BatchSize  int    `toml:"batch_size"` // ingestion phase 2 batch size, default 32
}

type RetrievalConfig struct {
	CandidateCacheTTLSeconds int     `toml:"candidate_cache_ttl_seconds"`
	BM25Weight               float64 `toml:"bm25_weight"`     // default 0.3
	SemanticWeight           float64 `toml:"semantic_weight"` // default 0.7
	MinScore                 float64 `toml:"min_score"`
	DefaultTopK              int     `toml:"default_top_k"`
	DefaultCandidateLimit    int     `toml:"default_candidate_limit"`
}

type LLMConfig struct {
	Mode               string `toml:"mode"` // "cloud", "offline", "mock"
	AnthropicModel     string `toml:"anthropic_model"`
	AnthropicAPIKeyEnv string `toml:"anthropic_api_key_env"`
	ChatTimeoutMS      int    `toml:"chat_timeout_ms"` // default 120000
}

func (c LLMConfig) ChatTimeout() time.Duration {
	return time.Duration(c.ChatTimeoutMS) * time.Millisecond
}

// NewDefaultConfig returns the zero-config baseline; files and env
// overrides are layered on top of this in LoadFromFiles.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05.000",
		},
		Storage: StorageConfig{
			SQLitePath:    "./data/imscrawl.db",
			WALMode:       true,
			CacheSizeMB:   64,
			BusyTimeoutMS: 5000,
		},
		Crawler: CrawlerConfig{
			UserAgent:           "Mozilla/5.0 (compatible; imscrawl/1.0)",
			MaxConcurrency:      10,
			RequestsPerSecond:   5,
			LoginTimeoutMS:      10_000,
			NavigationTimeoutMS: 60_000,
			SelectorTimeoutMS:   30_000,
			MaxSearchPages:      100,
		},
		Jobs: JobsConfig{
			QueryCacheHours:          24,
			QueryCacheCleanupEnabled: true,
			CleanupGraceHours:        24,
			CleanupCronSchedule:      "0 */6 * * *",
			MaxRetries:               3,
		},
		Embedding: EmbeddingConfig{
			Dimensions: 4096,
			OllamaURL:  "http://localhost:11434",
			Model:      "nomic-embed-text",
			BatchSize:  32,
		},
		Retrieval: RetrievalConfig{
			CandidateCacheTTLSeconds: 300,
			BM25Weight:               0.3,
			SemanticWeight:           0.7,
			MinScore:                 0.0,
			DefaultTopK:              10,
			DefaultCandidateLimit:    200,
		},
		LLM: LLMConfig{
			Mode:               "mock",
			AnthropicModel:     "claude-sonnet-4-5",
			AnthropicAPIKeyEnv: "ANTHROPIC_API_KEY",
			ChatTimeoutMS:      120_000,
		},
	}
}

// LoadFromFiles loads configuration from multiple TOML files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier
// ones; unset fields fall through to the default baseline.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)
	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func applyEnvOverrides(config *Config) {
	if env := os.Getenv("IMSCRAWL_ENV"); env != "" {
		config.Environment = env
	}
	if port := os.Getenv("IMSCRAWL_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("IMSCRAWL_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if hours := os.Getenv("IMS_QUERY_CACHE_HOURS"); hours != "" {
		if h, err := strconv.Atoi(hours); err == nil {
			config.Jobs.QueryCacheHours = h
		}
	}
	if enabled := os.Getenv("IMS_QUERY_CACHE_CLEANUP_ENABLED"); enabled != "" {
		config.Jobs.QueryCacheCleanupEnabled = strings.EqualFold(enabled, "true")
	}
	if ms := os.Getenv("IMS_CRAWLER_LOGIN_TIMEOUT_MS"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil {
			config.Crawler.LoginTimeoutMS = v
		}
	}
	if ms := os.Getenv("IMS_CRAWLER_NAVIGATION_TIMEOUT_MS"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil {
			config.Crawler.NavigationTimeoutMS = v
		}
	}
	if ms := os.Getenv("IMS_CRAWLER_SELECTOR_TIMEOUT_MS"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil {
			config.Crawler.SelectorTimeoutMS = v
		}
	}
	if dims := os.Getenv("EMBEDDING_DIMENSIONS"); dims != "" {
		if d, err := strconv.Atoi(dims); err == nil {
			config.Embedding.Dimensions = d
		}
	}
	if mode := os.Getenv("IMSCRAWL_LLM_MODE"); mode != "" {
		config.LLM.Mode = mode
	}
}

// ApplyFlagOverrides applies CLI flag values (highest priority) onto a
// loaded config; zero values mean "not set" and are left alone.
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
