package model

import "time"

// Config is the complete modref configuration
type Config struct {
	Content   ContentConfig   `yaml:"content" mapstructure:"content"`
	Segment   SegmentConfig   `yaml:"segment" mapstructure:"segment"`
	Embedding EmbeddingConfig `yaml:"embedding" mapstructure:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval" mapstructure:"retrieval"`
	LLM       LLMConfig       `yaml:"llm" mapstructure:"llm"`
	Output    OutputConfig    `yaml:"output" mapstructure:"output"`
}

// ContentConfig locates the content repository
type ContentConfig struct {
	Path string `yaml:"path" mapstructure:"path"` // YAML or JSON file with the four collections
}

// SegmentConfig bounds chunk sizes (characters)
type SegmentConfig struct {
	MaxSize   int  `yaml:"max_size" mapstructure:"max_size"`
	Overlap   int  `yaml:"overlap" mapstructure:"overlap"`
	MinSize   int  `yaml:"min_size" mapstructure:"min_size"`
	KeepShort bool `yaml:"keep_short" mapstructure:"keep_short"` // Keep undersized chunks instead of dropping them
}

// EmbeddingConfig configures the embedding provider adapter
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider" mapstructure:"provider"` // openai, ollama, offline
	Model      string        `yaml:"model" mapstructure:"model"`
	APIKey     string        `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL    string        `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Dimensions int           `yaml:"dimensions" mapstructure:"dimensions"`
	BatchSize  int           `yaml:"batch_size" mapstructure:"batch_size"`
	Workers    int           `yaml:"workers" mapstructure:"workers"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`

	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" mapstructure:"burst_size"`

	Cache CacheConfig `yaml:"cache" mapstructure:"cache"`

	HTTPProxy  string `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy string `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy    string `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// CacheConfig configures the embedding cache
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// RetrievalConfig holds the retriever defaults
type RetrievalConfig struct {
	TopK             int     `yaml:"top_k" mapstructure:"top_k"`
	MinSimilarity    float64 `yaml:"min_similarity" mapstructure:"min_similarity"`
	MaxContextTokens int     `yaml:"max_context_tokens" mapstructure:"max_context_tokens"`
	UseOffline       bool    `yaml:"use_offline" mapstructure:"use_offline"`
}

// LLMConfig configures the optional answering layer
type LLMConfig struct {
	Provider       string `yaml:"provider" mapstructure:"provider"` // openai, anthropic, ollama, "" (disabled)
	Model          string `yaml:"model" mapstructure:"model"`
	APIKey         string `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL        string `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout        int    `yaml:"timeout" mapstructure:"timeout"` // seconds
	MaxTokens      int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	StrictEvidence bool   `yaml:"strict_evidence" mapstructure:"strict_evidence"`

	HTTPProxy  string `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy string `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy    string `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// OutputConfig controls report rendering
type OutputConfig struct {
	Verbose       bool `yaml:"verbose" mapstructure:"verbose"`
	IncludeChunks bool `yaml:"include_chunks" mapstructure:"include_chunks"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Content: ContentConfig{
			Path: "content.yaml",
		},
		Segment: SegmentConfig{
			MaxSize: 1000,
			Overlap: 200,
			MinSize: 100,
		},
		Embedding: EmbeddingConfig{
			Provider:          "openai",
			Model:             "text-embedding-3-small",
			Dimensions:        1536,
			BatchSize:         100,
			Workers:           2,
			Timeout:           60 * time.Second,
			RequestsPerSecond: 5,
			BurstSize:         5,
			Cache: CacheConfig{
				Enabled:   true,
				Dir:       ".modref/cache",
				MemoryTTL: time.Hour,
				DiskTTL:   30 * 24 * time.Hour,
			},
		},
		Retrieval: RetrievalConfig{
			TopK:             5,
			MinSimilarity:    0.3,
			MaxContextTokens: 2000,
		},
		LLM: LLMConfig{
			Provider:       "", // Disabled by default
			Timeout:        30,
			MaxTokens:      800,
			StrictEvidence: true,
		},
	}
}
