package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/modref/internal/embed"
	"github.com/ppiankov/modref/internal/llm"
	"github.com/ppiankov/modref/internal/model"
	"github.com/ppiankov/modref/internal/retrieve"
	"github.com/ppiankov/modref/internal/score"
	"github.com/ppiankov/modref/internal/worker"
)

const spamRule = "Repeated identical messages in general chat count as spam and earn a warning."

type mockLLM struct {
	text  string
	err   error
	calls int
}

func (m *mockLLM) Name() string { return "mock" }

func (m *mockLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &llm.CompletionResponse{Text: m.text, Model: "mock-1", TokensUsed: 42}, nil
}

func (m *mockLLM) IsAvailable(ctx context.Context) bool { return true }

func testConfig() *model.Config {
	cfg := model.DefaultConfig()
	cfg.Segment = model.SegmentConfig{MaxSize: 500, Overlap: 50, MinSize: 10}
	cfg.Embedding.Provider = "offline"
	cfg.Embedding.Dimensions = 512
	cfg.Embedding.Cache.Enabled = false
	cfg.LLM.StrictEvidence = true
	return cfg
}

func corpus() retrieve.Static {
	return retrieve.Static{
		model.Guide{ID: "guide-spam", Title: "Spam Policy", Category: "rules", Content: spamRule},
		model.Guide{ID: "guide-voice", Title: "Voice Etiquette", Category: "rules", Content: "Soundboards and music bots are not allowed in voice lobbies."},
		model.Penalty{ID: "penalty-raid", Name: "Raid", Category: "security", Duration: "permanent", Description: "Coordinated joining to disrupt the server."},
		model.Command{ID: "cmd-slowmode", Name: "/slowmode", Category: "moderation", Usage: "/slowmode 30s"},
	}
}

func newTestPipeline(t *testing.T, provider llm.Provider) *Pipeline {
	t.Helper()
	cfg := testConfig()
	if provider != nil {
		cfg.LLM.Provider = provider.Name()
	}
	return New(cfg, corpus(), embed.NewOfflineAdapter(cfg.Embedding.Dimensions), provider)
}

func TestPipeline_AnswerableQuery(t *testing.T) {
	p := newTestPipeline(t, nil)

	report, err := p.Ask(context.Background(), "  "+spamRule+"  ")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}

	if report.ID == "" {
		t.Error("Expected request id")
	}
	if report.Query != spamRule {
		t.Errorf("Expected trimmed query, got %q", report.Query)
	}
	if report.Mode != ModeAll {
		t.Errorf("Expected mode all, got %s", report.Mode)
	}
	if !report.Offline {
		t.Error("Expected offline flag for the offline embedder")
	}
	if len(report.Chunks) == 0 || report.Chunks[0].SourceID != "guide-spam" {
		t.Fatalf("Expected spam guide first, got %+v", report.Chunks)
	}
	if report.Confidence.Tier == model.TierLow || !report.Confidence.Answerable {
		t.Errorf("Expected an answerable assessment, got %+v", report.Confidence)
	}
	if !strings.HasPrefix(report.Citations, "[1] Guide: Spam Policy") {
		t.Errorf("Unexpected citations: %q", report.Citations)
	}
	if !strings.Contains(report.Context, spamRule) {
		t.Error("Expected context for an answerable report")
	}
	if report.Answer != nil {
		t.Error("Expected no answer without an LLM provider")
	}
	if !report.Principles.Deferential {
		t.Error("Expected default principles")
	}
}

func TestPipeline_EmptyQueryEscalates(t *testing.T) {
	mock := &mockLLM{text: "should not be used"}
	p := newTestPipeline(t, mock)

	report, err := p.Ask(context.Background(), "   ")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}

	if report.Confidence.Tier != model.TierLow {
		t.Errorf("Expected low tier, got %s", report.Confidence.Tier)
	}
	if report.Citations != "" || report.Context != "" {
		t.Error("Expected no citations or context for low confidence")
	}
	if mock.calls != 0 {
		t.Errorf("Expected no LLM call, got %d", mock.calls)
	}
	if report.Answer == nil || !report.Answer.Escalated || report.Answer.Text != score.EscalationMessage {
		t.Errorf("Expected escalated answer, got %+v", report.Answer)
	}
}

// weakEmbedder maps every chunk to one axis and every query to a vector
// at a fixed, low cosine to it
type weakEmbedder struct {
	similarity float32
}

func (w weakEmbedder) Dimensions() int { return 2 }

func (w weakEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{w.similarity, float32(math.Sqrt(float64(1 - w.similarity*w.similarity)))}, nil
}

func (w weakEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func TestPipeline_LowTierWithholdsSources(t *testing.T) {
	mock := &mockLLM{text: "should not be used"}
	cfg := testConfig()
	cfg.LLM.Provider = mock.Name()
	p := New(cfg, corpus(), weakEmbedder{similarity: 0.2}, mock)

	opts := retrieve.DefaultOptions()
	opts.MinSimilarity = 0.1
	report, err := p.Run(context.Background(), Request{Query: "sesli kanal spam", Options: opts})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(report.Chunks) == 0 {
		t.Fatal("Expected weakly matching chunks")
	}
	if report.Confidence.Tier != model.TierLow {
		t.Fatalf("Expected low tier, got %s (%.3f)", report.Confidence.Tier, report.Confidence.Score)
	}
	if len(report.Sources) > 1 {
		t.Errorf("Expected at most one source on a low tier, got %+v", report.Sources)
	}
	if report.Citations != "" || report.Context != "" {
		t.Error("Expected no citations or context on a low tier")
	}
	if mock.calls != 0 {
		t.Errorf("Expected no LLM call, got %d", mock.calls)
	}

	var buf bytes.Buffer
	if err := NewRenderer(false).WriteJSON(&buf, report); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	var decoded struct {
		Sources []model.SourceRef `json:"sources"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if len(decoded.Sources) > 1 {
		t.Errorf("Expected at most one source in JSON, got %d", len(decoded.Sources))
	}
}

func TestPipeline_GroundedAnswer(t *testing.T) {
	mock := &mockLLM{text: "Warn the member first [1]."}
	p := newTestPipeline(t, mock)

	report, err := p.Ask(context.Background(), spamRule)
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}

	if mock.calls != 1 {
		t.Fatalf("Expected one LLM call, got %d", mock.calls)
	}
	if report.Answer == nil || report.Answer.Text != "Warn the member first [1]." {
		t.Fatalf("Unexpected answer: %+v", report.Answer)
	}
	if !report.Answer.ContextUsed {
		t.Error("Expected answer to use context")
	}
}

func TestPipeline_AnswerFailureDegrades(t *testing.T) {
	tests := []struct {
		name string
		llm  *mockLLM
		want string
	}{
		{"provider error", &mockLLM{err: errors.New("upstream unavailable")}, "upstream unavailable"},
		{"citation leak", &mockLLM{text: "See [9]."}, "CITATION LEAK"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPipeline(t, tt.llm)

			report, err := p.Ask(context.Background(), spamRule)
			if err != nil {
				t.Fatalf("Expected graceful degradation, got %v", err)
			}
			if report.Answer == nil || report.Answer.Text != "" {
				t.Fatalf("Expected empty answer with warning, got %+v", report.Answer)
			}
			if len(report.Answer.Warnings) != 1 || !strings.Contains(report.Answer.Warnings[0], tt.want) {
				t.Errorf("Expected warning mentioning %q, got %v", tt.want, report.Answer.Warnings)
			}
			if report.Confidence.Tier == model.TierLow {
				t.Error("Answer failure must not change confidence")
			}
		})
	}
}

func TestPipeline_Modes(t *testing.T) {
	p := newTestPipeline(t, nil)

	tests := []struct {
		req  Request
		mode string
	}{
		{Request{Query: spamRule}, ModeAll},
		{Request{Query: spamRule, Kind: model.KindGuide}, "kind:guide"},
		{Request{Query: spamRule, Kind: model.KindGuide, Penalty: true}, ModePenalty},
	}

	for _, tt := range tests {
		report, err := p.Run(context.Background(), tt.req)
		if err != nil {
			t.Fatalf("Run(%s) failed: %v", tt.mode, err)
		}
		if report.Mode != tt.mode {
			t.Errorf("Expected mode %s, got %s", tt.mode, report.Mode)
		}
	}

	report, err := p.Run(context.Background(), Request{Query: spamRule, Kind: model.KindCommand})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for _, c := range report.Chunks {
		if c.SourceKind != model.KindCommand {
			t.Errorf("Expected only command chunks, got %s", c.SourceKind)
		}
	}
}

func TestPipeline_BuildIndex(t *testing.T) {
	p := newTestPipeline(t, nil)

	stats, err := p.BuildIndex(context.Background(), false)
	if err != nil {
		t.Fatalf("BuildIndex failed: %v", err)
	}
	if stats.Entities != 4 || stats.Chunks != 4 {
		t.Errorf("Expected 4 entities and 4 chunks, got %+v", stats)
	}
	if stats.Dimensions != 512 {
		t.Errorf("Expected 512 dimensions, got %d", stats.Dimensions)
	}
}

func TestPipeline_BuildIndexFailure(t *testing.T) {
	cfg := testConfig()
	source := retrieve.Static{
		model.Guide{ID: "dup", Content: spamRule},
		model.Guide{ID: "dup", Content: spamRule},
	}
	p := New(cfg, source, embed.NewOfflineAdapter(64), nil)

	_, err := p.BuildIndex(context.Background(), false)
	var buildErr *model.BuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("Expected BuildError, got %v", err)
	}

	if _, err := p.Ask(context.Background(), spamRule); err == nil {
		t.Error("Expected query against a failed build to error")
	}
}

func TestPipeline_ImplementsAsker(t *testing.T) {
	p := newTestPipeline(t, nil)
	processor := worker.NewBatchProcessor(p, 2)

	results := processor.ProcessQueries(context.Background(), []string{spamRule, "slowmode usage"})
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Error != nil {
			t.Errorf("%q failed: %v", r.Query, r.Error)
		}
	}
	if results[0].Report.Query != spamRule {
		t.Errorf("Expected results in input order, got %q first", results[0].Report.Query)
	}
}

func TestNewPipeline_FromConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "content.yaml")
	data := "guides:\n  - id: guide-spam\n    title: Spam Policy\n    content: \"" + spamRule + "\"\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write content: %v", err)
	}

	cfg := testConfig()
	cfg.Content.Path = path
	cfg.Embedding.Cache = model.CacheConfig{Enabled: true, Dir: filepath.Join(dir, "cache")}
	cfg.LLM.Provider = "unknown-llm"

	p, err := NewPipeline(cfg)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	if p.answerer.Enabled() {
		t.Error("Expected a broken LLM setup to disable answers")
	}

	report, err := p.Ask(context.Background(), spamRule)
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if len(report.Sources) != 1 || report.Sources[0].ID != "guide-spam" {
		t.Errorf("Unexpected sources: %+v", report.Sources)
	}
}

func TestNewPipeline_MissingContent(t *testing.T) {
	cfg := testConfig()
	cfg.Content.Path = filepath.Join(t.TempDir(), "missing.yaml")

	if _, err := NewPipeline(cfg); err == nil {
		t.Fatal("Expected error for missing content file")
	}
}

func TestRenderer(t *testing.T) {
	mock := &mockLLM{text: "Warn the member first [1]."}
	p := newTestPipeline(t, mock)

	report, err := p.Ask(context.Background(), spamRule)
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}

	r := NewRenderer(true)

	var js bytes.Buffer
	if err := r.WriteJSON(&js, report); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(js.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded["mode"] != ModeAll {
		t.Errorf("Expected mode in JSON, got %v", decoded["mode"])
	}
	if strings.Contains(js.String(), "embedding") {
		t.Error("Embeddings must not be serialized")
	}

	var md bytes.Buffer
	if err := r.WriteMarkdown(&md, report); err != nil {
		t.Fatalf("WriteMarkdown failed: %v", err)
	}
	for _, want := range []string{"# Moderation Reference Answer", "## Answer", "Warn the member first [1].", "## Sources", "- [1] Guide: Spam Policy", "## Confidence Signals", "## Evidence", spamRule} {
		if !strings.Contains(md.String(), want) {
			t.Errorf("Markdown missing %q", want)
		}
	}

	var summary bytes.Buffer
	r.WriteSummary(&summary, report)
	if !strings.Contains(summary.String(), "Warn the member first") {
		t.Error("Expected answer in summary")
	}
}

func TestRenderer_LowConfidenceMarkdown(t *testing.T) {
	p := newTestPipeline(t, nil)

	report, err := p.Ask(context.Background(), "")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}

	var md bytes.Buffer
	if err := NewRenderer(false).WriteMarkdown(&md, report); err != nil {
		t.Fatalf("WriteMarkdown failed: %v", err)
	}
	if !strings.Contains(md.String(), "No reliable sources") {
		t.Error("Expected escalation note for low confidence")
	}
	if strings.Contains(md.String(), "## Evidence") {
		t.Error("Expected no evidence section without chunks")
	}
}

func TestRenderer_Files(t *testing.T) {
	p := newTestPipeline(t, nil)
	report, err := p.Ask(context.Background(), spamRule)
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}

	dir := filepath.Join(t.TempDir(), "reports")
	r := NewRenderer(false)
	if err := r.RenderJSON(report, filepath.Join(dir, "r.json")); err != nil {
		t.Fatalf("RenderJSON failed: %v", err)
	}
	if err := r.RenderMarkdown(report, filepath.Join(dir, "r.md")); err != nil {
		t.Fatalf("RenderMarkdown failed: %v", err)
	}
	for _, name := range []string{"r.json", "r.md"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("Expected %s to exist: %v", name, err)
		}
	}
}
