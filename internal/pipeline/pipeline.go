package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/modref/internal/cache"
	"github.com/ppiankov/modref/internal/content"
	"github.com/ppiankov/modref/internal/embed"
	"github.com/ppiankov/modref/internal/index"
	"github.com/ppiankov/modref/internal/llm"
	"github.com/ppiankov/modref/internal/logger"
	"github.com/ppiankov/modref/internal/model"
	"github.com/ppiankov/modref/internal/retrieve"
	"github.com/ppiankov/modref/internal/score"
	"github.com/ppiankov/modref/internal/segment"
	"github.com/ppiankov/modref/internal/worker"
)

// Retrieval modes recorded on reports
const (
	ModeAll     = "all"
	ModePenalty = "penalty"
)

// Request describes one moderator query
type Request struct {
	Query string

	// Kind restricts retrieval to one collection; empty searches all
	Kind model.SourceKind

	// Penalty fuses penalty and guide evidence; it takes precedence over Kind
	Penalty bool

	Options retrieve.Options
}

// Mode returns the report mode for the request
func (r Request) Mode() string {
	switch {
	case r.Penalty:
		return ModePenalty
	case r.Kind != "":
		return "kind:" + string(r.Kind)
	default:
		return ModeAll
	}
}

// Pipeline orchestrates retrieval, confidence assessment and the optional answer
type Pipeline struct {
	retriever *retrieve.Retriever
	scorer    *score.Scorer
	answerer  *llm.Answerer
	defaults  retrieve.Options
	config    *model.Config
	now       func() time.Time
}

// NewPipeline wires the complete stack from configuration: content
// repository, embedding adapter with rate limiting and caching, index,
// retriever, confidence model and answering layer
func NewPipeline(cfg *model.Config) (*Pipeline, error) {
	repo, err := content.Load(cfg.Content.Path)
	if err != nil {
		return nil, fmt.Errorf("load content: %w", err)
	}

	embedder, err := NewEmbedder(cfg.Embedding)
	if err != nil {
		return nil, err
	}

	// The answering layer is optional; a broken LLM setup only disables it
	var provider llm.Provider
	if cfg.LLM.Provider != "" {
		p, err := llm.NewProvider(llm.ConfigFromModel(cfg.LLM))
		if err != nil {
			logger.Warn("Failed to initialize LLM provider: %v", err)
		} else {
			provider = p
		}
	}

	return New(cfg, repo, embedder, provider), nil
}

// New assembles a pipeline from already constructed parts. provider may be nil.
func New(cfg *model.Config, source retrieve.EntitySource, embedder embed.Embedder, provider llm.Provider) *Pipeline {
	idx := index.New(embedder, SegmentConfig(cfg.Segment))
	return &Pipeline{
		retriever: retrieve.New(source, idx),
		scorer:    score.NewScorer(),
		answerer:  llm.NewAnswerer(provider, llm.ConfigFromModel(cfg.LLM)),
		defaults:  retrieve.OptionsFromConfig(cfg.Retrieval),
		config:    cfg,
		now:       time.Now,
	}
}

// NewEmbedder builds the embedding adapter described by ec
func NewEmbedder(ec model.EmbeddingConfig) (*embed.Adapter, error) {
	provider, err := embed.NewProvider(embed.ConfigFromModel(ec))
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}

	opts := embed.Options{
		BatchSize: ec.BatchSize,
		Workers:   ec.Workers,
		Limiter:   worker.NewLimiter(ec.RequestsPerSecond, ec.BurstSize),
	}
	if ec.Cache.Enabled {
		if ec.Cache.Dir != "" {
			opts.Cache = cache.NewLayeredCache(ec.Cache.MemoryTTL, ec.Cache.Dir, ec.Cache.DiskTTL)
		} else {
			opts.Cache = cache.NewMemoryCache(ec.Cache.MemoryTTL, 10*time.Minute)
		}
		opts.CacheTTL = ec.Cache.DiskTTL
	}

	logger.Debug("Embedding provider: %s/%s (%d dims)", provider.Name(), provider.ModelName(), provider.Dimensions())
	return embed.NewAdapter(provider, opts), nil
}

// SegmentConfig converts model.SegmentConfig to segment.Config
func SegmentConfig(sc model.SegmentConfig) segment.Config {
	return segment.Config{
		MaxSize:   sc.MaxSize,
		Overlap:   sc.Overlap,
		MinSize:   sc.MinSize,
		KeepShort: sc.KeepShort,
	}
}

// Defaults returns the retrieval options used when a request leaves them unset
func (p *Pipeline) Defaults() retrieve.Options {
	return p.defaults
}

// BuildIndex builds the selected index if needed and returns its statistics
func (p *Pipeline) BuildIndex(ctx context.Context, useOffline bool) (index.Stats, error) {
	logger.Section("Index")
	if err := p.retriever.EnsureBuilt(ctx, useOffline); err != nil {
		return index.Stats{}, err
	}
	stats, _ := p.retriever.IndexFor(useOffline).Stats()
	return stats, nil
}

// Ask answers query with the configured defaults
func (p *Pipeline) Ask(ctx context.Context, query string) (*model.Report, error) {
	return p.Run(ctx, Request{Query: query, Options: p.defaults})
}

// Run executes one request and builds its report. Low confidence is a
// successful outcome: the report carries the escalation instead of an answer.
func (p *Pipeline) Run(ctx context.Context, req Request) (*model.Report, error) {
	// Zero options mean the configured defaults
	opts := req.Options
	if opts.TopK == 0 && opts.MaxContextTokens == 0 {
		useOffline := opts.UseOffline
		opts = p.defaults
		opts.UseOffline = opts.UseOffline || useOffline
	}

	logger.Section("Retrieve")
	var (
		result *model.RetrievalResult
		err    error
	)
	switch {
	case req.Penalty:
		result, err = p.retriever.RetrievePenaltyContext(ctx, req.Query, opts)
	case req.Kind != "":
		result, err = p.retriever.RetrieveByKind(ctx, req.Query, req.Kind, opts)
	default:
		result, err = p.retriever.Retrieve(ctx, req.Query, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	conf := p.scorer.Calculate(result)
	logger.Info("Confidence %.2f (%s) from %d chunks", conf.Score, conf.Tier, len(result.Chunks))

	report := &model.Report{
		ID:               uuid.NewString(),
		Query:            result.Query,
		Mode:             req.Mode(),
		GeneratedAt:      p.now().UTC(),
		Offline:          opts.UseOffline || isOffline(p.retriever.Index().Embedder()),
		Chunks:           result.Chunks,
		Sources:          conf.Sources,
		Citations:        retrieve.FormatCitations(conf.Sources),
		AverageRelevance: result.AverageRelevance,
		Confidence:       conf,
		Principles:       model.DefaultPrinciples(),
	}
	if conf.ContextUsed {
		report.Context = result.Context
	}

	// The answer is produced after scoring and never changes it
	if p.answerer.Enabled() {
		logger.Section("Answer")
		answer, err := p.answerer.Answer(ctx, result.Query, result, conf)
		if err != nil {
			logger.Warn("Answer generation failed: %v", err)
			answer = &model.Answer{
				Enabled:  true,
				Model:    p.config.LLM.Model,
				Provider: p.config.LLM.Provider,
				Warnings: []string{fmt.Sprintf("Answer generation failed: %v", err)},
			}
		}
		report.Answer = answer
	}

	return report, nil
}

func isOffline(e embed.Embedder) bool {
	a, ok := e.(*embed.Adapter)
	return ok && a.Offline()
}
