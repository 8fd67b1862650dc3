package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const (
	wordWeight    = 1.0
	trigramWeight = 0.5
)

// OfflineEmbed returns a deterministic vector for text without any network
// access. Words and character trigrams are hashed with FNV-1a into dim
// signed buckets and the result is L2-normalized. Blank text yields the
// zero vector.
func OfflineEmbed(text string, dim int) []float32 {
	if dim <= 0 {
		dim = DefaultDimensions
	}
	acc := make([]float64, dim)

	for _, word := range tokenize(text) {
		addFeature(acc, "w:"+word, wordWeight)

		padded := []rune(" " + word + " ")
		for i := 0; i+3 <= len(padded); i++ {
			addFeature(acc, "t:"+string(padded[i:i+3]), trigramWeight)
		}
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	out := make([]float32, dim)
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, v := range acc {
		out[i] = float32(v / norm)
	}
	return out
}

func addFeature(acc []float64, feature string, weight float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()

	bucket := sum % uint64(len(acc))
	if sum>>63 == 1 {
		weight = -weight
	}
	acc[bucket] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// OfflineProvider serves OfflineEmbed through the Provider interface
type OfflineProvider struct {
	dimensions int
}

// NewOfflineProvider creates an offline provider; dim <= 0 uses the default
func NewOfflineProvider(dim int) *OfflineProvider {
	if dim <= 0 {
		dim = DefaultDimensions
	}
	return &OfflineProvider{dimensions: dim}
}

func (p *OfflineProvider) Name() string      { return "offline" }
func (p *OfflineProvider) ModelName() string { return "offline-fnv" }
func (p *OfflineProvider) Dimensions() int   { return p.dimensions }

// EmbedBatch never fails except on cancellation
func (p *OfflineProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = OfflineEmbed(t, p.dimensions)
	}
	return out, nil
}
