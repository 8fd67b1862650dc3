package model

import "fmt"

// Chunk is a contiguous span of text derived from exactly one entity
type Chunk struct {
	ID          string     `json:"id"`
	SourceID    string     `json:"source_id"`
	SourceKind  SourceKind `json:"source_kind"`
	Text        string     `json:"text"`
	Ordinal     int        `json:"ordinal"`
	TotalChunks int        `json:"total_chunks"`
	Metadata    Metadata   `json:"metadata"`
}

// ChunkID derives the stable chunk identifier from its source and position
func ChunkID(sourceID string, ordinal int) string {
	return fmt.Sprintf("%s-%d", sourceID, ordinal)
}

// IndexedChunk is a chunk together with its embedding
type IndexedChunk struct {
	Chunk
	Embedding []float32 `json:"-"`
}

// ScoredChunk is an indexed chunk annotated with its similarity to one query
type ScoredChunk struct {
	IndexedChunk
	Similarity float64 `json:"similarity"`
}

// SourceRef points at one source entity with its best chunk similarity
type SourceRef struct {
	ID       string     `json:"id"`
	Kind     SourceKind `json:"kind"`
	Title    string     `json:"title"`
	Category string     `json:"category,omitempty"`
	Score    float64    `json:"score"`
}

// RetrievalResult is the evidence bundle produced for one query
type RetrievalResult struct {
	Query            string        `json:"query"`
	Chunks           []ScoredChunk `json:"chunks"`
	Context          string        `json:"context"`
	Sources          []SourceRef   `json:"sources"`
	AverageRelevance float64       `json:"average_relevance"`
}

// EmptyResult returns a result with no evidence for the given query
func EmptyResult(query string) *RetrievalResult {
	return &RetrievalResult{
		Query:   query,
		Chunks:  []ScoredChunk{},
		Sources: []SourceRef{},
	}
}

// MaxSimilarity returns the highest chunk similarity, or 0 without chunks
func (r *RetrievalResult) MaxSimilarity() float64 {
	best := 0.0
	for i, c := range r.Chunks {
		if i == 0 || c.Similarity > best {
			best = c.Similarity
		}
	}
	return best
}
