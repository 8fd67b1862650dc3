// Package index holds the in-memory evidence index: every chunk of every
// content entity with its embedding, built once and then shared read-only.
package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ppiankov/modref/internal/embed"
	"github.com/ppiankov/modref/internal/logger"
	"github.com/ppiankov/modref/internal/model"
	"github.com/ppiankov/modref/internal/segment"
)

// State is the build state of an Index
type State int

const (
	Unbuilt State = iota
	Building
	Built
)

func (s State) String() string {
	switch s {
	case Building:
		return "building"
	case Built:
		return "built"
	default:
		return "unbuilt"
	}
}

// Stats summarizes a built index
type Stats struct {
	Entities      int                      `json:"entities"`
	Chunks        int                      `json:"chunks"`
	ByKind        map[model.SourceKind]int `json:"by_kind"`
	Dimensions    int                      `json:"dimensions"`
	BuildDuration time.Duration            `json:"build_duration"`
}

// snapshot is the immutable published content of a built index
type snapshot struct {
	chunks   []model.IndexedChunk
	byID     map[string]int
	bySource map[string][]int
	stats    Stats
}

// Index is an evidence index. Builds are serialized; queries read a
// published snapshot without locking.
type Index struct {
	embedder  embed.Embedder
	segmenter *segment.Segmenter

	mu    sync.Mutex
	state State
	group singleflight.Group
	snap  atomic.Pointer[snapshot]

	// buildCtx outlives any single caller; it is cancelled once no caller waits
	buildCtx    context.Context
	buildCancel context.CancelFunc
	waiters     int
}

// New creates an unbuilt index
func New(embedder embed.Embedder, cfg segment.Config) *Index {
	return &Index{
		embedder:  embedder,
		segmenter: segment.New(cfg),
	}
}

// State returns the current build state
func (idx *Index) State() State {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.state
}

// Built reports whether a build has completed
func (idx *Index) Built() bool {
	return idx.snap.Load() != nil
}

// Dimensions returns the embedding dimension of the index
func (idx *Index) Dimensions() int {
	return idx.embedder.Dimensions()
}

// Embedder returns the embedder used for chunks; queries must use the same one
func (idx *Index) Embedder() embed.Embedder {
	return idx.embedder
}

// SegmentConfig returns the effective segmentation bounds
func (idx *Index) SegmentConfig() segment.Config {
	return idx.segmenter.Config()
}

// Build projects, segments and embeds entities, then publishes the result.
// Concurrent callers share one in-flight build; once built, further calls
// are no-ops. A caller whose ctx ends returns ctx.Err() at once, while the
// shared build keeps running for the callers still waiting. The build is
// cancelled only when every caller has gone, and then leaves the index
// unbuilt.
func (idx *Index) Build(ctx context.Context, entities []model.Entity) error {
	if idx.Built() {
		return nil
	}

	bctx := idx.join(ctx)
	defer idx.leave()

	for {
		err := idx.await(ctx, bctx, entities)
		// A live caller that joined a build abandoned by everyone else
		// starts a fresh one under its own build context.
		if err != nil && ctx.Err() == nil && bctx.Err() == nil && errors.Is(err, context.Canceled) {
			logger.Debug("index: joined an abandoned build, retrying")
			continue
		}
		return err
	}
}

func (idx *Index) await(ctx, bctx context.Context, entities []model.Entity) error {
	ch := idx.group.DoChan("build", func() (any, error) {
		idx.mu.Lock()
		if idx.snap.Load() != nil {
			idx.mu.Unlock()
			return nil, nil
		}
		idx.state = Building
		idx.mu.Unlock()

		snap, err := idx.build(bctx, entities)

		idx.mu.Lock()
		defer idx.mu.Unlock()
		if err != nil {
			idx.state = Unbuilt
			return nil, err
		}
		idx.snap.Store(snap)
		idx.state = Built
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// join registers a waiting caller and returns the shared build context
func (idx *Index) join(ctx context.Context) context.Context {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.buildCtx == nil {
		idx.buildCtx, idx.buildCancel = context.WithCancel(context.WithoutCancel(ctx))
	}
	idx.waiters++
	return idx.buildCtx
}

// leave unregisters a caller; the last one out cancels the build context
func (idx *Index) leave() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.waiters--
	if idx.waiters == 0 {
		idx.buildCancel()
		idx.buildCtx, idx.buildCancel = nil, nil
	}
}

// TryBuild is Build, except that it returns model.ErrBuildInProgress
// instead of waiting when another build is running
func (idx *Index) TryBuild(ctx context.Context, entities []model.Entity) error {
	if idx.State() == Building {
		return model.ErrBuildInProgress
	}
	return idx.Build(ctx, entities)
}

func (idx *Index) build(ctx context.Context, entities []model.Entity) (*snapshot, error) {
	start := time.Now()
	logger.Debug("index: building from %d entities", len(entities))

	chunks := []model.IndexedChunk{}
	seen := make(map[string]bool, len(entities))
	stats := Stats{
		Entities:   len(entities),
		ByKind:     make(map[model.SourceKind]int),
		Dimensions: idx.embedder.Dimensions(),
	}

	for _, e := range entities {
		id := strings.TrimSpace(e.EntityID())
		if id == "" {
			return nil, &model.BuildError{Stage: "project", Err: fmt.Errorf("%w: %s entity without id", model.ErrValidation, e.Kind())}
		}
		if seen[id] {
			return nil, &model.BuildError{Stage: "project", Err: fmt.Errorf("%w: duplicate source id %q", model.ErrValidation, id)}
		}
		seen[id] = true

		pieces := idx.segmenter.Split(e.Project())
		meta := e.Meta()
		for ordinal, text := range pieces {
			chunks = append(chunks, model.IndexedChunk{Chunk: model.Chunk{
				ID:          model.ChunkID(id, ordinal),
				SourceID:    id,
				SourceKind:  e.Kind(),
				Text:        text,
				Ordinal:     ordinal,
				TotalChunks: len(pieces),
				Metadata:    meta,
			}})
			stats.ByKind[e.Kind()]++
		}
		if len(pieces) == 0 {
			logger.Warn("index: %s %q produced no chunks", e.Kind(), id)
		}
	}

	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i := range chunks {
			texts[i] = chunks[i].Text
		}

		vecs, err := idx.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, &model.BuildError{Stage: "embed", Err: err}
		}
		if len(vecs) != len(chunks) {
			return nil, &model.BuildError{Stage: "embed", Err: fmt.Errorf("expected %d vectors, got %d", len(chunks), len(vecs))}
		}
		for i, v := range vecs {
			if len(v) != stats.Dimensions {
				return nil, &model.BuildError{Stage: "embed", Err: fmt.Errorf("%w: chunk %s has %d dimensions, want %d", model.ErrDimensionMismatch, chunks[i].ID, len(v), stats.Dimensions)}
			}
			chunks[i].Embedding = v
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, &model.BuildError{Stage: "publish", Err: err}
	}

	snap := &snapshot{
		chunks:   chunks,
		byID:     make(map[string]int, len(chunks)),
		bySource: make(map[string][]int),
	}
	for i, c := range chunks {
		snap.byID[c.ID] = i
		snap.bySource[c.SourceID] = append(snap.bySource[c.SourceID], i)
	}
	stats.Chunks = len(chunks)
	stats.BuildDuration = time.Since(start)
	snap.stats = stats

	logger.Info("index: built %d chunks from %d entities in %s", stats.Chunks, stats.Entities, stats.BuildDuration.Round(time.Millisecond))
	return snap, nil
}

// Search scores every chunk against queryVec, keeps those with similarity
// >= minSimilarity, sorts descending (ties keep index order) and truncates
// to topK. topK <= 0 means no limit. An unbuilt index yields no results.
func (idx *Index) Search(queryVec []float32, topK int, minSimilarity float64) []model.ScoredChunk {
	snap := idx.snap.Load()
	if snap == nil {
		return []model.ScoredChunk{}
	}

	scored := make([]model.ScoredChunk, 0, len(snap.chunks))
	for _, c := range snap.chunks {
		sim := embed.CosineSimilarity(queryVec, c.Embedding)
		if sim >= minSimilarity {
			scored = append(scored, model.ScoredChunk{IndexedChunk: c, Similarity: sim})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})

	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}

// ByID returns the chunk with the given id
func (idx *Index) ByID(id string) (model.IndexedChunk, bool) {
	snap := idx.snap.Load()
	if snap == nil {
		return model.IndexedChunk{}, false
	}
	i, ok := snap.byID[id]
	if !ok {
		return model.IndexedChunk{}, false
	}
	return snap.chunks[i], true
}

// BySourceID returns all chunks of one entity ordered by ordinal
func (idx *Index) BySourceID(sourceID string) []model.IndexedChunk {
	snap := idx.snap.Load()
	if snap == nil {
		return []model.IndexedChunk{}
	}
	positions := snap.bySource[sourceID]
	out := make([]model.IndexedChunk, len(positions))
	for i, p := range positions {
		out[i] = snap.chunks[p]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out
}

// ByKeyword returns chunks having a metadata keyword that contains keyword,
// compared case-insensitively, in index order
func (idx *Index) ByKeyword(keyword string) []model.IndexedChunk {
	needle := strings.ToLower(strings.TrimSpace(keyword))
	snap := idx.snap.Load()
	if snap == nil || needle == "" {
		return []model.IndexedChunk{}
	}

	out := []model.IndexedChunk{}
	for _, c := range snap.chunks {
		for _, kw := range c.Metadata.Keywords {
			if strings.Contains(strings.ToLower(kw), needle) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// Chunks returns every indexed chunk in index order. The slice is shared
// and must not be modified.
func (idx *Index) Chunks() []model.IndexedChunk {
	snap := idx.snap.Load()
	if snap == nil {
		return []model.IndexedChunk{}
	}
	return snap.chunks
}

// Len returns the number of indexed chunks
func (idx *Index) Len() int {
	snap := idx.snap.Load()
	if snap == nil {
		return 0
	}
	return len(snap.chunks)
}

// Stats returns build statistics; ok is false until the index is built
func (idx *Index) Stats() (Stats, bool) {
	snap := idx.snap.Load()
	if snap == nil {
		return Stats{}, false
	}
	return snap.stats, true
}
