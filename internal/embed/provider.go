// Package embed converts text into fixed-length vectors.
//
// A Provider performs one upstream request; the Adapter layered on top of
// it validates input, splits work into bounded batches, rate limits per
// provider, caches vectors and restores input order.
package embed

import (
	"context"
	"time"

	"github.com/ppiankov/modref/internal/model"
)

// Provider is a single embedding backend
type Provider interface {
	// Name returns the provider name used for rate limiting and errors
	Name() string

	// ModelName returns the embedding model identifier
	ModelName() string

	// Dimensions returns the fixed vector length
	Dimensions() int

	// EmbedBatch embeds texts in a single upstream request, in input order
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Embedder is what the index and retriever consume
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Default values
const (
	DefaultDimensions    = 1536
	DefaultBatchSize     = 100
	DefaultOpenAIModel   = "text-embedding-3-small"
	DefaultOllamaModel   = "nomic-embed-text"
	DefaultOllamaBaseURL = "http://localhost:11434"
)

// Config holds embedding provider configuration
type Config struct {
	// Provider name: "openai", "ollama", "offline"
	Provider string

	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int
	Timeout    time.Duration

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// ConfigFromModel converts model.EmbeddingConfig to embed.Config
func ConfigFromModel(mc model.EmbeddingConfig) Config {
	return Config{
		Provider:   mc.Provider,
		Model:      mc.Model,
		APIKey:     mc.APIKey,
		BaseURL:    mc.BaseURL,
		Dimensions: mc.Dimensions,
		Timeout:    mc.Timeout,
		HTTPProxy:  mc.HTTPProxy,
		HTTPSProxy: mc.HTTPSProxy,
		NoProxy:    mc.NoProxy,
	}
}
