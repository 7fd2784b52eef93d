package ai

import (
	"errors"

	"github.com/memora-ai/memora/internal/profile"
)

// EmbeddingConfig represents vector embedding configuration.
type EmbeddingConfig struct {
	Provider   string // openai, siliconflow, or any OpenAI-compatible gateway
	Model      string // text-embedding-3-small
	Dimensions int    // 1536
	APIKey     string
	BaseURL    string
}

// LLMConfig represents generation capability configuration.
type LLMConfig struct {
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int     // default: 2048
	Temperature float32 // default: 0.2
}

// Config represents the full provider configuration.
type Config struct {
	Embedding EmbeddingConfig
	LLM       LLMConfig
}

// NewConfigFromProfile creates provider config from the runtime profile.
func NewConfigFromProfile(p *profile.Profile) *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Provider:   p.EmbeddingProvider,
			Model:      p.EmbeddingModel,
			Dimensions: p.EmbeddingDimensions,
			APIKey:     p.EmbeddingAPIKey,
			BaseURL:    p.EmbeddingBaseURL,
		},
		LLM: LLMConfig{
			Model:       p.LLMModel,
			APIKey:      p.LLMAPIKey,
			BaseURL:     p.LLMBaseURL,
			MaxTokens:   2048,
			Temperature: 0.2,
		},
	}
}

// Validate checks that the embedding configuration is usable.
func (c *Config) Validate() error {
	if c.Embedding.Model == "" {
		return errors.New("embedding model is required")
	}
	if c.Embedding.Dimensions <= 0 {
		return errors.New("embedding dimensions must be positive")
	}
	if c.Embedding.APIKey == "" && c.Embedding.BaseURL == "" {
		return errors.New("embedding provider requires an API key or a base URL")
	}
	return nil
}
