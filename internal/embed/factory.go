package embed

import (
	"fmt"
	"strings"

	"github.com/ppiankov/modref/internal/logger"
)

// NewProvider creates an embedding provider based on configuration.
// A missing OpenAI credential selects the offline provider rather than
// failing.
func NewProvider(config Config) (Provider, error) {
	provider := strings.ToLower(strings.TrimSpace(config.Provider))

	switch provider {
	case "openai":
		if config.APIKey == "" {
			logger.Warn("no OpenAI API key configured, using offline embeddings")
			return NewOfflineProvider(config.Dimensions), nil
		}
		return NewOpenAIProvider(config)

	case "ollama":
		return NewOllamaProvider(config)

	case "offline", "mock", "":
		return NewOfflineProvider(config.Dimensions), nil

	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: openai, ollama, offline)", config.Provider)
	}
}

// IsOffline reports whether p is the deterministic offline provider
func IsOffline(p Provider) bool {
	_, ok := p.(*OfflineProvider)
	return ok
}
