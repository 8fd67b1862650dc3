package retrieve

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/modref/internal/embed"
	"github.com/ppiankov/modref/internal/index"
	"github.com/ppiankov/modref/internal/model"
	"github.com/ppiankov/modref/internal/score"
	"github.com/ppiankov/modref/internal/segment"
)

// countingEmbedder wraps the offline embedder and counts calls
type countingEmbedder struct {
	dim       int
	calls     atomic.Int32
	failQuery bool
}

func (c *countingEmbedder) Dimensions() int { return c.dim }

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	if c.failQuery {
		return nil, &model.ProviderError{Provider: "fake", Op: "embed", Err: errors.New("quota exceeded")}
	}
	return embed.OfflineEmbed(text, c.dim), nil
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(1)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = embed.OfflineEmbed(t, c.dim)
	}
	return out, nil
}

// fill returns exactly n runes of repeated base ending in a period
func fill(base string, n int) string {
	r := []rune(strings.Repeat(base, n/utf8.RuneCountInString(base)+2))[:n-1]
	if r[n-2] == ' ' {
		r[n-2] = 'x'
	}
	return string(r) + "."
}

func spamPolicy() model.Guide {
	intro := fill("spam kuralı ihlali tekrarlanan mesaj reklam bağlantısı uyarı ", 300)
	long := fill("aynı mesajı art arda göndermek spam kuralı kapsamında susturma cezası gerektirir ", 150) +
		" " + fill("aynı mesajı art arda göndermek spam kuralı kapsamında susturma cezası gerektirir ", 449)
	return model.Guide{
		ID:       "guide-spam-policy",
		Title:    "Spam Policy",
		Category: "rules",
		Keywords: []string{"spam"},
		Content:  intro + "\n\n" + long,
	}
}

func moderationCorpus() []model.Entity {
	return []model.Entity{
		spamPolicy(),
		model.Guide{
			ID:       "guide-voice",
			Title:    "Voice Channels",
			Category: "rules",
			Content:  strings.Repeat("Sesli kanallarda bağırmak ve müzik botlarını kötüye kullanmak yasaktır. ", 4),
		},
		model.Penalty{
			ID:          "penalty-spam-mute",
			Name:        "Spam Mute",
			Code:        "P-SPAM",
			Category:    "penalties",
			Duration:    "1 saat",
			Description: "Spam kuralı ihlalinde kullanıcı susturulur.",
			Conditions:  []string{"tekrarlanan spam mesaj", "reklam bağlantısı"},
		},
		model.Penalty{
			ID:          "penalty-ban",
			Name:        "Permanent Ban",
			Category:    "penalties",
			Duration:    "kalıcı",
			Description: "Ağır ihlallerde kalıcı yasaklama uygulanır.",
		},
		model.Penalty{
			ID:          "penalty-warn",
			Name:        "Warning",
			Category:    "penalties",
			Description: "İlk spam ihlalinde yazılı uyarı verilir.",
		},
		model.Command{
			ID:          "command-purge",
			Name:        "/purge",
			Category:    "commands",
			Description: "Spam mesajları toplu olarak siler.",
			Usage:       "/purge 50",
		},
		model.Procedure{
			ID:          "procedure-spam-wave",
			Title:       "Spam Wave",
			Category:    "procedures",
			Description: "Spam dalgası sırasında kanalı yavaş moda al.",
			Steps:       "Kanalı kilitle. Spam hesaplarını yasakla.",
		},
	}
}

func newRetriever(t *testing.T, entities []model.Entity, cfg segment.Config) (*Retriever, *countingEmbedder) {
	t.Helper()
	emb := &countingEmbedder{dim: 256}
	return New(Static(entities), index.New(emb, cfg)), emb
}

func broadOptions() Options {
	opts := DefaultOptions()
	opts.TopK = 10
	opts.MinSimilarity = 0
	return opts
}

func TestRetrieve_SpamPolicyScenario(t *testing.T) {
	cfg := segment.Config{MaxSize: 500, Overlap: 50, MinSize: 100}
	idx := index.New(embed.NewOfflineAdapter(embed.DefaultDimensions), cfg)
	r := New(Static{spamPolicy()}, idx)

	opts := DefaultOptions()
	opts.UseOffline = true
	res, err := r.Retrieve(context.Background(), "  spam kuralı ", opts)
	require.NoError(t, err)

	require.Equal(t, 2, idx.Len())
	chunks := idx.BySourceID("guide-spam-policy")
	require.Len(t, chunks, 2)
	assert.LessOrEqual(t, utf8.RuneCountInString(chunks[0].Text), 500)

	assert.Equal(t, "spam kuralı", res.Query)
	require.Len(t, res.Chunks, 2)
	for _, c := range res.Chunks {
		assert.Equal(t, "guide-spam-policy", c.SourceID)
		assert.GreaterOrEqual(t, c.Similarity, 0.3)
	}
	assert.GreaterOrEqual(t, res.Chunks[0].Similarity, res.Chunks[1].Similarity)

	require.Len(t, res.Sources, 1)
	assert.Equal(t, "Spam Policy", res.Sources[0].Title)
	assert.Equal(t, res.Chunks[0].Similarity, res.Sources[0].Score)
	assert.True(t, strings.HasPrefix(res.Context, "[Spam Policy]\n"))
	assert.InDelta(t, (res.Chunks[0].Similarity+res.Chunks[1].Similarity)/2, res.AverageRelevance, 1e-12)
}

func TestRetrieve_EmptyQueryMakesNoProviderCall(t *testing.T) {
	r, emb := newRetriever(t, moderationCorpus(), segment.DefaultConfig())

	for _, q := range []string{"", "   ", "\n\t"} {
		res, err := r.Retrieve(context.Background(), q, DefaultOptions())
		require.NoError(t, err)
		assert.Empty(t, res.Chunks)
		assert.NotNil(t, res.Chunks)
		assert.Empty(t, res.Sources)
		assert.Equal(t, "", res.Context)
		assert.Zero(t, res.AverageRelevance)
	}

	res, err := r.RetrievePenaltyContext(context.Background(), " ", DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, res.Chunks)

	assert.Equal(t, int32(0), emb.calls.Load())
	assert.False(t, r.Index().Built())
}

func TestRetrieve_EmptyIndex(t *testing.T) {
	r, _ := newRetriever(t, nil, segment.DefaultConfig())

	res, err := r.Retrieve(context.Background(), "spam kuralı", broadOptions())
	require.NoError(t, err)
	assert.Empty(t, res.Chunks)
	assert.Empty(t, res.Sources)
	assert.Equal(t, "", res.Context)
	assert.Zero(t, res.AverageRelevance)

	conf := score.Confidence(res)
	assert.Zero(t, conf)
	assert.Equal(t, model.TierLow, score.TierFor(conf))
	assert.Empty(t, score.NewScorer().Calculate(res).Sources)
}

func TestRetrieve_NegativeFloorIsClamped(t *testing.T) {
	r, _ := newRetriever(t, moderationCorpus(), segment.Config{MaxSize: 120, Overlap: 10, MinSize: 20})

	opts := broadOptions()
	opts.TopK = 100
	opts.MinSimilarity = -1
	res, err := r.Retrieve(context.Background(), "kalıcı yasaklama", opts)
	require.NoError(t, err)
	require.NotEmpty(t, res.Chunks)
	for _, c := range res.Chunks {
		assert.GreaterOrEqual(t, c.Similarity, 0.0, "chunk %s", c.ID)
		assert.LessOrEqual(t, c.Similarity, 1.0+1e-9, "chunk %s", c.ID)
	}
	for _, s := range res.Sources {
		assert.GreaterOrEqual(t, s.Score, 0.0)
	}
}

func TestRetrieve_RankingOrder(t *testing.T) {
	r, _ := newRetriever(t, moderationCorpus(), segment.Config{MaxSize: 200, Overlap: 20, MinSize: 20})

	for _, q := range []string{"spam kuralı", "kalıcı yasaklama", "sesli kanal müzik", "purge komutu"} {
		res, err := r.Retrieve(context.Background(), q, broadOptions())
		require.NoError(t, err)
		require.NotEmpty(t, res.Chunks)
		assert.LessOrEqual(t, len(res.Chunks), 10)
		for i := 1; i < len(res.Chunks); i++ {
			assert.GreaterOrEqual(t, res.Chunks[i-1].Similarity, res.Chunks[i].Similarity, "query %q", q)
		}
	}
}

func TestRetrieve_BuildsOnce(t *testing.T) {
	r, emb := newRetriever(t, moderationCorpus(), segment.DefaultConfig())

	for i := 0; i < 3; i++ {
		_, err := r.Retrieve(context.Background(), "spam", DefaultOptions())
		require.NoError(t, err)
	}
	// One batch for the build plus one call per query
	assert.Equal(t, int32(4), emb.calls.Load())
}

func TestRetrieveByKind(t *testing.T) {
	r, _ := newRetriever(t, moderationCorpus(), segment.DefaultConfig())

	res, err := r.RetrieveByKind(context.Background(), "spam", model.KindPenalty, broadOptions())
	require.NoError(t, err)
	require.NotEmpty(t, res.Chunks)
	for _, c := range res.Chunks {
		assert.Equal(t, model.KindPenalty, c.SourceKind)
	}
}

func TestRetrieve_MinSimilarityFilters(t *testing.T) {
	r, _ := newRetriever(t, moderationCorpus(), segment.DefaultConfig())

	opts := broadOptions()
	opts.MinSimilarity = 0.25
	res, err := r.Retrieve(context.Background(), "spam kuralı", opts)
	require.NoError(t, err)
	for _, c := range res.Chunks {
		assert.GreaterOrEqual(t, c.Similarity, 0.25)
	}
}

func TestRetrievePenaltyContext_Fusion(t *testing.T) {
	var entities []model.Entity
	for _, e := range moderationCorpus() {
		if e.Kind() == model.KindPenalty || e.Kind() == model.KindGuide {
			entities = append(entities, e)
		}
	}
	entities = append(entities, model.Penalty{
		ID:          "penalty-timeout",
		Name:        "Timeout",
		Category:    "penalties",
		Duration:    "10 dakika",
		Description: "Kısa süreli zaman aşımı cezası.",
	})
	r, _ := newRetriever(t, entities, segment.DefaultConfig())

	res, err := r.RetrievePenaltyContext(context.Background(), "spam kuralı cezası", broadOptions())
	require.NoError(t, err)

	var penalties, guides int
	for i, c := range res.Chunks {
		switch c.SourceKind {
		case model.KindPenalty:
			penalties++
		case model.KindGuide:
			guides++
		default:
			t.Errorf("unexpected kind %s in fusion result", c.SourceKind)
		}
		if i > 0 {
			assert.GreaterOrEqual(t, res.Chunks[i-1].Similarity, c.Similarity)
		}
	}
	assert.Equal(t, 3, penalties)
	assert.GreaterOrEqual(t, guides, 1)
	assert.LessOrEqual(t, guides, 2)
	assert.Equal(t, "guide-spam-policy", firstOfKind(res.Chunks, model.KindGuide))
	assert.InDelta(t, AverageRelevance(res.Chunks), res.AverageRelevance, 1e-12)
	assert.Len(t, res.Sources, len(res.Chunks))
}

func firstOfKind(chunks []model.ScoredChunk, kind model.SourceKind) string {
	for _, c := range chunks {
		if c.SourceKind == kind {
			return c.SourceID
		}
	}
	return ""
}

func TestRetrieve_SourceDeduplication(t *testing.T) {
	r, _ := newRetriever(t, moderationCorpus(), segment.Config{MaxSize: 120, Overlap: 10, MinSize: 20})

	res, err := r.Retrieve(context.Background(), "spam kuralı", broadOptions())
	require.NoError(t, err)

	best := map[string]float64{}
	for _, c := range res.Chunks {
		if s, ok := best[c.SourceID]; !ok || c.Similarity > s {
			best[c.SourceID] = c.Similarity
		}
	}

	seen := map[string]bool{}
	for i, s := range res.Sources {
		assert.False(t, seen[s.ID], "duplicate source %s", s.ID)
		seen[s.ID] = true
		assert.Equal(t, best[s.ID], s.Score)
		if i > 0 {
			assert.GreaterOrEqual(t, res.Sources[i-1].Score, s.Score)
		}
	}
	assert.Len(t, res.Sources, len(best))
}

func TestRetrieve_ProviderOutagePropagates(t *testing.T) {
	emb := &countingEmbedder{dim: 64, failQuery: true}
	r := New(Static(moderationCorpus()), index.New(emb, segment.DefaultConfig()))

	res, err := r.Retrieve(context.Background(), "spam", DefaultOptions())
	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, model.IsProviderError(err))
}

func TestRetrieve_UseOfflineUsesOfflineIndex(t *testing.T) {
	emb := &countingEmbedder{dim: 64, failQuery: true}
	r := New(Static(moderationCorpus()), index.New(emb, segment.DefaultConfig()))

	opts := broadOptions()
	opts.UseOffline = true
	res, err := r.Retrieve(context.Background(), "spam", opts)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Chunks)
	assert.Equal(t, int32(0), emb.calls.Load())
	assert.False(t, r.Index().Built())
}

func TestRetrieve_CancelledContext(t *testing.T) {
	idx := index.New(embed.NewAdapter(embed.NewOfflineProvider(64), embed.Options{}), segment.DefaultConfig())
	r := New(Static(moderationCorpus()), idx)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := r.Retrieve(ctx, "spam", DefaultOptions())
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, idx.Built())
}

func TestBuildContext_TokenBudget(t *testing.T) {
	chunks := []model.ScoredChunk{
		scored("a", "A", strings.Repeat("x", 30), 0.9),
		scored("b", "B", strings.Repeat("y", 30), 0.8),
		scored("c", "C", strings.Repeat("z", 30), 0.7),
	}
	// Each block is "[A]\n" + 30 + "\n\n" = 36 characters
	assert.Equal(t, "", BuildContext(chunks, 0))
	assert.Equal(t, "", BuildContext(chunks, 8))

	two := BuildContext(chunks, 18) // 72 characters fit two blocks exactly
	assert.Equal(t, "[A]\n"+strings.Repeat("x", 30)+"\n\n[B]\n"+strings.Repeat("y", 30)+"\n\n", two)

	assert.Equal(t, two, BuildContext(chunks, 26), "a block is never cut")
	assert.Len(t, BuildContext(chunks, 2000), 3*36)
}

func TestFormatCitations(t *testing.T) {
	assert.Equal(t, "", FormatCitations(nil))

	got := FormatCitations([]model.SourceRef{
		{ID: "penalty-spam-mute", Kind: model.KindPenalty, Title: "Spam Mute", Score: 0.856},
		{ID: "guide-spam-policy", Kind: model.KindGuide, Title: "Spam Policy", Score: 0.5},
		{ID: "procedure-spam-wave", Kind: model.KindProcedure, Title: "Spam Wave", Score: 0.004},
	})
	want := "[1] Penalty: Spam Mute (relevance: 86%)\n" +
		"[2] Guide: Spam Policy (relevance: 50%)\n" +
		"[3] Procedure: Spam Wave (relevance: 0%)"
	assert.Equal(t, want, got)
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(model.RetrievalConfig{TopK: 8, MinSimilarity: 0.4, UseOffline: true})
	assert.Equal(t, 8, opts.TopK)
	assert.Equal(t, 0.4, opts.MinSimilarity)
	assert.Equal(t, 2000, opts.MaxContextTokens)
	assert.True(t, opts.UseOffline)
	assert.ElementsMatch(t, model.AllKinds(), opts.SourceKinds)
}

func scored(id, title, text string, sim float64) model.ScoredChunk {
	return model.ScoredChunk{
		IndexedChunk: model.IndexedChunk{Chunk: model.Chunk{
			ID:         id + "-0",
			SourceID:   id,
			SourceKind: model.KindGuide,
			Text:       text,
			Metadata:   model.Metadata{Title: title},
		}},
		Similarity: sim,
	}
}
