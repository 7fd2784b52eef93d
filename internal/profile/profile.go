package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration to start the main server.
type Profile struct {
	// Mode can be "prod" or "dev"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Data is the data directory
	Data string
	// DSN points to where memora stores its own data
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Version is the current version of server
	Version string

	// Embedding provider configuration
	EmbeddingProvider   string // MEMORA_EMBEDDING_PROVIDER (default: openai)
	EmbeddingModel      string // MEMORA_EMBEDDING_MODEL (default: text-embedding-3-small)
	EmbeddingDimensions int    // MEMORA_EMBEDDING_DIMENSIONS (default: 1536)
	EmbeddingAPIKey     string // MEMORA_EMBEDDING_API_KEY
	EmbeddingBaseURL    string // MEMORA_EMBEDDING_BASE_URL

	// Generation (LLM) provider configuration
	LLMModel   string // MEMORA_LLM_MODEL (default: gpt-4o-mini)
	LLMAPIKey  string // MEMORA_LLM_API_KEY
	LLMBaseURL string // MEMORA_LLM_BASE_URL

	// ProviderTimeout bounds a single embedding or generation call.
	ProviderTimeout time.Duration // MEMORA_PROVIDER_TIMEOUT (default: 30s)

	// Engine tuning
	SimilarityThreshold float64 // same-claim match threshold (default: 0.85)
	DuplicateThreshold  float64 // content-identical threshold (default: 0.97)
	RecencyWeight       float64 // recency share of the retrieval score (default: 0.15)
	RecencyHalfLifeDays float64 // recency decay half-life in days (default: 30)
	DefaultSearchFacts  int     // default fact budget for search/think (default: 10)
	DefaultSearchTokens int     // default token budget for search/think (default: 2048)
	MaxFactsPerExtract  int     // cap on candidates per extraction call (default: 12)

	// Async ingestion
	WorkerConcurrency int // MEMORA_WORKER_CONCURRENCY (default: 4)
	RetryLimit        int // MEMORA_RETRY_LIMIT (default: 3)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// FromEnv loads configuration from MEMORA_* environment variables.
func (p *Profile) FromEnv() {
	p.EmbeddingProvider = getEnvOrDefault("MEMORA_EMBEDDING_PROVIDER", "openai")
	p.EmbeddingModel = getEnvOrDefault("MEMORA_EMBEDDING_MODEL", "text-embedding-3-small")
	p.EmbeddingDimensions = getIntEnv("MEMORA_EMBEDDING_DIMENSIONS", 1536)
	p.EmbeddingAPIKey = os.Getenv("MEMORA_EMBEDDING_API_KEY")
	p.EmbeddingBaseURL = getEnvOrDefault("MEMORA_EMBEDDING_BASE_URL", "https://api.openai.com/v1")

	p.LLMModel = getEnvOrDefault("MEMORA_LLM_MODEL", "gpt-4o-mini")
	p.LLMAPIKey = getEnvOrDefault("MEMORA_LLM_API_KEY", p.EmbeddingAPIKey)
	p.LLMBaseURL = getEnvOrDefault("MEMORA_LLM_BASE_URL", p.EmbeddingBaseURL)

	if d, err := time.ParseDuration(getEnvOrDefault("MEMORA_PROVIDER_TIMEOUT", "30s")); err == nil {
		p.ProviderTimeout = d
	}

	p.SimilarityThreshold = getFloatEnv("MEMORA_SIMILARITY_THRESHOLD", 0.85)
	p.DuplicateThreshold = getFloatEnv("MEMORA_DUPLICATE_THRESHOLD", 0.97)
	p.RecencyWeight = getFloatEnv("MEMORA_RECENCY_WEIGHT", 0.15)
	p.RecencyHalfLifeDays = getFloatEnv("MEMORA_RECENCY_HALF_LIFE_DAYS", 30)
	p.DefaultSearchFacts = getIntEnv("MEMORA_DEFAULT_SEARCH_FACTS", 10)
	p.DefaultSearchTokens = getIntEnv("MEMORA_DEFAULT_SEARCH_TOKENS", 2048)
	p.MaxFactsPerExtract = getIntEnv("MEMORA_MAX_FACTS_PER_EXTRACT", 12)

	p.WorkerConcurrency = getIntEnv("MEMORA_WORKER_CONCURRENCY", 4)
	p.RetryLimit = getIntEnv("MEMORA_RETRY_LIMIT", 3)
}

// Validate normalizes and validates the profile, filling defaults for unset
// values.
func (p *Profile) Validate() error {
	if p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}
	if p.Addr == "" {
		p.Addr = "127.0.0.1"
	}
	if p.Port == 0 {
		p.Port = 8080
	}
	if p.Driver == "" {
		p.Driver = "sqlite"
	}
	if p.Driver != "sqlite" && p.Driver != "postgres" {
		return errors.Errorf("unsupported database driver %q", p.Driver)
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		return errors.Wrapf(err, "invalid data directory %q", p.Data)
	}
	p.Data = dataDir

	if p.DSN == "" {
		if p.Driver == "postgres" {
			return errors.New("dsn is required for the postgres driver")
		}
		p.DSN = filepath.Join(p.Data, fmt.Sprintf("memora_%s.db", p.Mode))
	}

	if p.ProviderTimeout <= 0 {
		p.ProviderTimeout = 30 * time.Second
	}
	if p.SimilarityThreshold <= 0 || p.SimilarityThreshold > 1 {
		p.SimilarityThreshold = 0.85
	}
	if p.DuplicateThreshold < p.SimilarityThreshold || p.DuplicateThreshold > 1 {
		p.DuplicateThreshold = 0.97
	}
	if p.RecencyWeight <= 0 || p.RecencyWeight >= 1 {
		p.RecencyWeight = 0.15
	}
	if p.RecencyHalfLifeDays <= 0 {
		p.RecencyHalfLifeDays = 30
	}
	if p.DefaultSearchFacts <= 0 {
		p.DefaultSearchFacts = 10
	}
	if p.DefaultSearchTokens <= 0 {
		p.DefaultSearchTokens = 2048
	}
	if p.MaxFactsPerExtract <= 0 {
		p.MaxFactsPerExtract = 12
	}
	if p.WorkerConcurrency <= 0 {
		p.WorkerConcurrency = 4
	}
	if p.RetryLimit <= 0 {
		p.RetryLimit = 3
	}
	return nil
}

func checkDataDir(dataDir string) (string, error) {
	if dataDir == "" {
		dataDir = "."
	}
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies.
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrap(err, "unable to access data directory")
	}
	return dataDir, nil
}
