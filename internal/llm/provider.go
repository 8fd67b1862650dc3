package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ppiankov/modref/internal/model"
)

// Provider defines the interface for LLM providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Complete generates a reply for a single grounded prompt
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// CompletionRequest contains the input for one completion
type CompletionRequest struct {
	// System is the system instruction; SystemPrompt is used when empty
	System string

	// Prompt is the user message
	Prompt string

	// Model is the specific model to use (provider-specific)
	Model string

	// MaxTokens limits the response length
	MaxTokens int
}

// CompletionResponse contains the LLM's reply
type CompletionResponse struct {
	Text       string
	Model      string
	TokensUsed int
}

// Config holds LLM provider configuration
type Config struct {
	// Provider name: "openai", "anthropic", "ollama", ""
	Provider string

	// Model name (provider-specific)
	Model string

	// APIKey for OpenAI/Anthropic
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama)
	BaseURL string

	// Timeout for API requests
	Timeout int // seconds

	// StrictEvidence rejects replies citing sources outside the list (should always be true)
	StrictEvidence bool

	// MaxTokens for response generation
	MaxTokens int

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:       "", // Disabled by default
		Timeout:        30,
		StrictEvidence: true,
		MaxTokens:      800,
	}
}

// ConfigFromModel converts model.LLMConfig to llm.Config
func ConfigFromModel(mc model.LLMConfig) Config {
	return Config{
		Provider:       mc.Provider,
		Model:          mc.Model,
		APIKey:         mc.APIKey,
		BaseURL:        mc.BaseURL,
		Timeout:        mc.Timeout,
		StrictEvidence: mc.StrictEvidence,
		MaxTokens:      mc.MaxTokens,
		HTTPProxy:      mc.HTTPProxy,
		HTTPSProxy:     mc.HTTPSProxy,
		NoProxy:        mc.NoProxy,
	}
}

// SystemPrompt is the standing instruction sent with every completion
const SystemPrompt = "You are an assistant for Discord moderators. You answer strictly from the moderation rules you are given and never invent rules, penalties or commands."

// BuildPrompt constructs the grounded prompt from the retrieved context
// and the numbered source list the reply is allowed to cite.
func BuildPrompt(query, evidence, citations string) string {
	var b strings.Builder

	b.WriteString("Answer the moderator's question using ONLY the rule passages below.\n\n")
	b.WriteString("CRITICAL RULES:\n")
	b.WriteString("1. Cite sources with their bracketed number, e.g. [1]. Only these sources exist:\n")
	if citations == "" {
		b.WriteString("(No sources available)\n")
	} else {
		b.WriteString(citations)
		b.WriteString("\n")
	}
	b.WriteString("2. DO NOT cite any number that is not in the list above.\n")
	b.WriteString("3. If the passages do not answer the question, say so and recommend asking a senior moderator.\n")
	b.WriteString("4. Keep the answer short and practical.\n\n")

	b.WriteString("Rule passages:\n")
	b.WriteString(strings.TrimSpace(evidence))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Question: %s\n", query)
	return b.String()
}

func maxTokens(reqTokens, configTokens int) int {
	if reqTokens > 0 {
		return reqTokens
	}
	if configTokens > 0 {
		return configTokens
	}
	return 800
}

func systemPrompt(s string) string {
	if s == "" {
		return SystemPrompt
	}
	return s
}
