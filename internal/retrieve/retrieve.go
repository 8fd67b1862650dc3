// Package retrieve turns a free-text query into a ranked, token-budgeted
// evidence bundle drawn from an evidence index.
package retrieve

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/ppiankov/modref/internal/embed"
	"github.com/ppiankov/modref/internal/index"
	"github.com/ppiankov/modref/internal/logger"
	"github.com/ppiankov/modref/internal/model"
)

// CharsPerToken approximates token counts from character counts
const CharsPerToken = 4

// Options configure a single retrieval
type Options struct {
	TopK             int
	MinSimilarity    float64
	SourceKinds      []model.SourceKind // empty means all kinds
	MaxContextTokens int
	UseOffline       bool
}

// DefaultOptions returns the reference retrieval settings
func DefaultOptions() Options {
	return Options{
		TopK:             5,
		MinSimilarity:    0.3,
		SourceKinds:      model.AllKinds(),
		MaxContextTokens: 2000,
	}
}

// OptionsFromConfig converts model.RetrievalConfig to Options
func OptionsFromConfig(rc model.RetrievalConfig) Options {
	opts := DefaultOptions()
	if rc.TopK > 0 {
		opts.TopK = rc.TopK
	}
	opts.MinSimilarity = rc.MinSimilarity
	if rc.MaxContextTokens > 0 {
		opts.MaxContextTokens = rc.MaxContextTokens
	}
	opts.UseOffline = rc.UseOffline
	return opts
}

func (o Options) normalize() Options {
	if o.TopK <= 0 {
		o.TopK = 5
	}
	if o.MaxContextTokens <= 0 {
		o.MaxContextTokens = 2000
	}
	// Scored chunks carry similarities in [0,1]
	if o.MinSimilarity < 0 {
		o.MinSimilarity = 0
	}
	if len(o.SourceKinds) == 0 {
		o.SourceKinds = model.AllKinds()
	}
	return o
}

func (o Options) wants(kind model.SourceKind) bool {
	for _, k := range o.SourceKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// EntitySource supplies the content an index is built from
type EntitySource interface {
	Entities(ctx context.Context) ([]model.Entity, error)
}

// Static is an in-memory EntitySource
type Static []model.Entity

// Entities returns the slice itself
func (s Static) Entities(ctx context.Context) ([]model.Entity, error) {
	return s, nil
}

type offliner interface {
	Offline() bool
}

// Retriever answers queries against an evidence index, building it on
// first use. Queries embedded offline run against an offline-built index
// so query and chunk vectors always share one embedding space.
type Retriever struct {
	source  EntitySource
	primary *index.Index

	mu      sync.Mutex
	offline *index.Index
}

// New creates a retriever over idx, built from source on first use
func New(source EntitySource, idx *index.Index) *Retriever {
	r := &Retriever{source: source, primary: idx}
	if o, ok := idx.Embedder().(offliner); ok && o.Offline() {
		r.offline = idx
	}
	return r
}

// WithOfflineIndex sets the index used when Options.UseOffline is true
func (r *Retriever) WithOfflineIndex(idx *index.Index) *Retriever {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offline = idx
	return r
}

// Index returns the primary index
func (r *Retriever) Index() *index.Index {
	return r.primary
}

// IndexFor returns the primary index, or the offline index when useOffline
// is set, creating it on first use
func (r *Retriever) IndexFor(useOffline bool) *index.Index {
	if !useOffline {
		return r.primary
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.offline == nil {
		r.offline = index.New(embed.NewOfflineAdapter(r.primary.Dimensions()), r.primary.SegmentConfig())
	}
	return r.offline
}

// EnsureBuilt builds the selected index if needed
func (r *Retriever) EnsureBuilt(ctx context.Context, useOffline bool) error {
	idx := r.IndexFor(useOffline)
	if idx.Built() {
		return nil
	}
	entities, err := r.source.Entities(ctx)
	if err != nil {
		return fmt.Errorf("load entities: %w", err)
	}
	return idx.Build(ctx, entities)
}

// Retrieve runs a single-channel search. An empty query returns an empty
// result without building the index or calling the provider.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts Options) (*model.RetrievalResult, error) {
	opts = opts.normalize()
	query = strings.TrimSpace(query)
	if query == "" {
		return model.EmptyResult(query), nil
	}

	idx, vec, err := r.embedQuery(ctx, query, opts.UseOffline)
	if err != nil {
		return nil, err
	}

	chunks := rank(idx, vec, opts)
	logger.Debug("retrieve: %q -> %d chunks (offline=%v)", query, len(chunks), opts.UseOffline)
	return assemble(query, chunks, opts.MaxContextTokens), nil
}

// RetrieveByKind is Retrieve restricted to one kind of source
func (r *Retriever) RetrieveByKind(ctx context.Context, query string, kind model.SourceKind, opts Options) (*model.RetrievalResult, error) {
	opts.SourceKinds = []model.SourceKind{kind}
	return r.Retrieve(ctx, query, opts)
}

// RetrievePenaltyContext fuses the top penalty chunks with the top guide
// chunks and ranks the union globally by similarity
func (r *Retriever) RetrievePenaltyContext(ctx context.Context, query string, opts Options) (*model.RetrievalResult, error) {
	opts = opts.normalize()
	query = strings.TrimSpace(query)
	if query == "" {
		return model.EmptyResult(query), nil
	}

	idx, vec, err := r.embedQuery(ctx, query, opts.UseOffline)
	if err != nil {
		return nil, err
	}

	penaltyOpts := opts
	penaltyOpts.TopK = 3
	penaltyOpts.SourceKinds = []model.SourceKind{model.KindPenalty}
	penalties := rank(idx, vec, penaltyOpts)

	guideOpts := opts
	guideOpts.TopK = 2
	guideOpts.SourceKinds = []model.SourceKind{model.KindGuide}
	guides := rank(idx, vec, guideOpts)

	merged := make([]model.ScoredChunk, 0, len(penalties)+len(guides))
	merged = append(merged, penalties...)
	merged = append(merged, guides...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Similarity > merged[j].Similarity
	})

	logger.Debug("retrieve: penalty fusion %d penalty + %d guide chunks", len(penalties), len(guides))
	return assemble(query, merged, opts.MaxContextTokens), nil
}

// embedQuery ensures the selected index is built and embeds query with
// that index's embedder
func (r *Retriever) embedQuery(ctx context.Context, query string, useOffline bool) (*index.Index, []float32, error) {
	if err := r.EnsureBuilt(ctx, useOffline); err != nil {
		return nil, nil, err
	}
	idx := r.IndexFor(useOffline)

	vec, err := idx.Embedder().Embed(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("embed query: %w", err)
	}
	return idx, vec, nil
}

// rank returns the top chunks of the wanted kinds
func rank(idx *index.Index, vec []float32, opts Options) []model.ScoredChunk {
	// Over-fetch so the kind filter still leaves topK candidates
	candidates := idx.Search(vec, opts.TopK*2, opts.MinSimilarity)

	chunks := make([]model.ScoredChunk, 0, opts.TopK)
	for _, c := range candidates {
		if !opts.wants(c.SourceKind) {
			continue
		}
		chunks = append(chunks, c)
		if len(chunks) == opts.TopK {
			break
		}
	}
	return chunks
}

func assemble(query string, chunks []model.ScoredChunk, maxContextTokens int) *model.RetrievalResult {
	return &model.RetrievalResult{
		Query:            query,
		Chunks:           chunks,
		Context:          BuildContext(chunks, maxContextTokens),
		Sources:          BuildSources(chunks),
		AverageRelevance: AverageRelevance(chunks),
	}
}

// BuildContext concatenates "[title]\n{text}\n\n" blocks in rank order,
// stopping before the first block that would exceed the character budget
// of maxTokens*CharsPerToken. Chunks are never cut.
func BuildContext(chunks []model.ScoredChunk, maxTokens int) string {
	budget := maxTokens * CharsPerToken
	var b strings.Builder
	used := 0
	for _, c := range chunks {
		block := "[" + c.Metadata.Title + "]\n" + c.Text + "\n\n"
		n := utf8.RuneCountInString(block)
		if used+n > budget {
			break
		}
		b.WriteString(block)
		used += n
	}
	return b.String()
}

// BuildSources returns one entry per source carrying its best similarity,
// ordered by that similarity descending
func BuildSources(chunks []model.ScoredChunk) []model.SourceRef {
	sources := []model.SourceRef{}
	pos := make(map[string]int)
	for _, c := range chunks {
		if i, ok := pos[c.SourceID]; ok {
			if c.Similarity > sources[i].Score {
				sources[i].Score = c.Similarity
			}
			continue
		}
		pos[c.SourceID] = len(sources)
		sources = append(sources, model.SourceRef{
			ID:       c.SourceID,
			Kind:     c.SourceKind,
			Title:    c.Metadata.Title,
			Category: c.Metadata.Category,
			Score:    c.Similarity,
		})
	}
	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].Score > sources[j].Score
	})
	return sources
}

// AverageRelevance is the mean chunk similarity, 0 without chunks
func AverageRelevance(chunks []model.ScoredChunk) float64 {
	if len(chunks) == 0 {
		return 0
	}
	var sum float64
	for _, c := range chunks {
		sum += c.Similarity
	}
	return sum / float64(len(chunks))
}

// FormatCitations renders sources as numbered lines
// "[n] Kind: Title (relevance: NN%)". No sources yield "".
func FormatCitations(sources []model.SourceRef) string {
	lines := make([]string, len(sources))
	for i, s := range sources {
		lines[i] = fmt.Sprintf("[%d] %s: %s (relevance: %d%%)", i+1, s.Kind.Label(), s.Title, int(math.Round(s.Score*100)))
	}
	return strings.Join(lines, "\n")
}
