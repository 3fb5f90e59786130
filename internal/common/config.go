package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Catalog      CatalogConfig
	LLM          LLMConfig
	RateLimit    RateLimitConfig
	Cache        CacheConfig
	Validator    ValidatorConfig
	Orchestrator OrchestratorConfig
	Document     DocumentConfig
	Monitor      MonitorConfig
}

// CatalogConfig holds reference-catalog store configuration.
type CatalogConfig struct {
	Driver       string // "postgres" or "sqlite"
	DSN          string
	PageSize     int
	StalenessTTL time.Duration
	DialTimeout  time.Duration
}

// LLMConfig holds completion-backend configuration. ExperimentModel, when
// set, runs as a weighted A/B arm against the default model.
type LLMConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	FallbackModel     string
	ExperimentModel   string
	ExperimentSplit   float64
	Temperature       float32
	Timeout           time.Duration
	MaxRequestTokens  int
	MaxResponseTokens int
}

// RateLimitConfig holds admission and backoff configuration.
type RateLimitConfig struct {
	RequestsPerMinute int
	MinInterval       time.Duration
	BackoffBase       time.Duration
	BackoffMultiplier float64
	BackoffCap        time.Duration
	MaxRetries        int
}

// CacheConfig holds the content-addressed result cache budgets.
type CacheConfig struct {
	MaxEntries    int
	MaxSizeBytes  int64
	TTL           time.Duration
	SweepInterval time.Duration
}

// ValidatorConfig holds product-code validation configuration.
type ValidatorConfig struct {
	MaxBatchSize        int
	SimilarityThreshold float64
	CacheSize           int
	CacheTTL            time.Duration
}

// OrchestratorConfig holds strategy-sequencing configuration.
type OrchestratorConfig struct {
	MinProductsMultiPage int
	ChunkConcurrency     int
	RequestTimeout       time.Duration
}

// DocumentConfig holds text-extraction bounds.
type DocumentConfig struct {
	MaxPages int
}

// MonitorConfig holds the health-check bounds. Zero fields fall back to the
// monitor's defaults.
type MonitorConfig struct {
	CriticalSuccessRate float64
	MinSuccessRate      float64
	MaxP95Latency       time.Duration
	MaxTokensPerItem    float64
	MinCacheHitRate     float64
	BurstWindow         time.Duration
	BurstFailures       int
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		Catalog: CatalogConfig{
			Driver:       getEnv("CATALOG_DRIVER", "postgres"),
			DSN:          getEnv("CATALOG_DSN", ""),
			PageSize:     getEnvAsInt("CATALOG_PAGE_SIZE", 1000),
			StalenessTTL: getEnvAsDuration("CATALOG_STALENESS_TTL", 5*time.Minute),
			DialTimeout:  getEnvAsDuration("CATALOG_DIAL_TIMEOUT", 3*time.Second),
		},
		LLM: LLMConfig{
			APIKey:            getEnv("OPENAI_API_KEY", ""),
			BaseURL:           getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Model:             getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			FallbackModel:     getEnv("OPENAI_FALLBACK_MODEL", "gpt-3.5-turbo"),
			ExperimentModel:   getEnv("OPENAI_EXPERIMENT_MODEL", ""),
			ExperimentSplit:   getEnvAsFloat64("OPENAI_EXPERIMENT_SPLIT", 0.5),
			Temperature:       getEnvAsFloat32("OPENAI_TEMPERATURE", 0.0),
			Timeout:           getEnvAsDuration("OPENAI_TIMEOUT", 30*time.Second),
			MaxRequestTokens:  getEnvAsInt("LLM_MAX_REQUEST_TOKENS", 1500),
			MaxResponseTokens: getEnvAsInt("LLM_MAX_RESPONSE_TOKENS", 1000),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_RPM", 20),
			MinInterval:       getEnvAsDuration("RATE_LIMIT_MIN_INTERVAL", 100*time.Millisecond),
			BackoffBase:       getEnvAsDuration("RATE_LIMIT_BACKOFF_BASE", time.Second),
			BackoffMultiplier: getEnvAsFloat64("RATE_LIMIT_BACKOFF_MULTIPLIER", 1.5),
			BackoffCap:        getEnvAsDuration("RATE_LIMIT_BACKOFF_CAP", 30*time.Second),
			MaxRetries:        getEnvAsInt("RATE_LIMIT_MAX_RETRIES", 5),
		},
		Cache: CacheConfig{
			MaxEntries:    getEnvAsInt("CACHE_MAX_ENTRIES", 500),
			MaxSizeBytes:  getEnvAsInt64("CACHE_MAX_SIZE_BYTES", 100*1024*1024),
			TTL:           getEnvAsDuration("CACHE_TTL", 24*time.Hour),
			SweepInterval: getEnvAsDuration("CACHE_SWEEP_INTERVAL", 5*time.Minute),
		},
		Validator: ValidatorConfig{
			MaxBatchSize:        getEnvAsInt("VALIDATOR_MAX_BATCH", 100),
			SimilarityThreshold: getEnvAsFloat64("VALIDATOR_SIMILARITY_THRESHOLD", 0.85),
			CacheSize:           getEnvAsInt("VALIDATOR_CACHE_SIZE", 10000),
			CacheTTL:            getEnvAsDuration("VALIDATOR_CACHE_TTL", 5*time.Minute),
		},
		Orchestrator: OrchestratorConfig{
			MinProductsMultiPage: getEnvAsInt("MIN_PRODUCTS_MULTIPAGE", 5),
			ChunkConcurrency:     getEnvAsInt("CHUNK_CONCURRENCY", 3),
			RequestTimeout:       getEnvAsDuration("REQUEST_TIMEOUT", 60*time.Second),
		},
		Document: DocumentConfig{
			MaxPages: getEnvAsInt("DOCUMENT_MAX_PAGES", 50),
		},
		Monitor: MonitorConfig{
			CriticalSuccessRate: getEnvAsFloat64("MONITOR_CRITICAL_SUCCESS_RATE", 0.50),
			MinSuccessRate:      getEnvAsFloat64("MONITOR_MIN_SUCCESS_RATE", 0.90),
			MaxP95Latency:       getEnvAsDuration("MONITOR_MAX_P95_LATENCY", 10*time.Second),
			MaxTokensPerItem:    getEnvAsFloat64("MONITOR_MAX_TOKENS_PER_ITEM", 500),
			MinCacheHitRate:     getEnvAsFloat64("MONITOR_MIN_CACHE_HIT_RATE", 0.20),
			BurstWindow:         getEnvAsDuration("MONITOR_BURST_WINDOW", 5*time.Minute),
			BurstFailures:       getEnvAsInt("MONITOR_BURST_FAILURES", 5),
		},
	}
}

// Validate validates the loaded configuration. The catalog DSN is not
// required here; validation-dependent components stay disabled without one.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "OPENAI_API_KEY is required", ErrInvalidInput)
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		return NewAppError("CONFIG_ERROR", "RATE_LIMIT_RPM must be positive", ErrInvalidInput)
	}
	return nil
}

// Helper functions for environment variable parsing.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
