package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/ppiankov/modref/internal/logger"
	"github.com/ppiankov/modref/internal/model"
	"github.com/ppiankov/modref/internal/retrieve"
	"github.com/ppiankov/modref/internal/score"
)

// ErrCitationLeak indicates the reply cited a source that was not offered
var ErrCitationLeak = errors.New("CITATION LEAK")

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// Answerer turns an assessed retrieval result into a grounded answer
type Answerer struct {
	provider Provider
	config   Config
}

// NewAnswerer creates an answerer; a nil provider yields disabled answers
func NewAnswerer(provider Provider, config Config) *Answerer {
	return &Answerer{provider: provider, config: config}
}

// Enabled reports whether an LLM provider is configured
func (a *Answerer) Enabled() bool {
	return a.provider != nil
}

// Answer generates the answer for query. A low-confidence assessment is
// answered with the escalation message without calling the provider, and
// no evidence context leaves the process.
func (a *Answerer) Answer(ctx context.Context, query string, result *model.RetrievalResult, conf model.Confidence) (*model.Answer, error) {
	if a.provider == nil {
		return &model.Answer{Enabled: false}, nil
	}

	answer := &model.Answer{
		Enabled:  true,
		Provider: a.provider.Name(),
		Model:    a.config.Model,
	}

	if !conf.Answerable || !conf.ContextUsed || result == nil {
		logger.Debug("Answer withheld: confidence %.2f (%s)", conf.Score, conf.Tier)
		answer.Text = score.EscalationMessage
		answer.Escalated = true
		return answer, nil
	}

	prompt := BuildPrompt(query, result.Context, retrieve.FormatCitations(conf.Sources))
	resp, err := a.provider.Complete(ctx, CompletionRequest{
		Prompt:    prompt,
		Model:     a.config.Model,
		MaxTokens: a.config.MaxTokens,
	})
	if err != nil {
		return nil, &model.ProviderError{Provider: a.provider.Name(), Op: "complete", Err: err}
	}

	cited := ExtractCitations(resp.Text)
	if a.config.StrictEvidence {
		for _, n := range cited {
			if n < 1 || n > len(conf.Sources) {
				return nil, fmt.Errorf("%w: reply cited [%d] but only %d sources exist", ErrCitationLeak, n, len(conf.Sources))
			}
		}
	}

	answer.Text = resp.Text
	answer.Model = resp.Model
	answer.ContextUsed = true
	answer.Cited = cited
	answer.TokensUsed = resp.TokensUsed
	if len(cited) == 0 {
		answer.Warnings = append(answer.Warnings, "Answer cites no sources")
	} else {
		answer.Warnings = append(answer.Warnings, fmt.Sprintf("Verified %d citations", len(cited)))
	}
	logger.Debug("Answer generated by %s: %d tokens, %d citations", answer.Provider, resp.TokensUsed, len(cited))

	return answer, nil
}

// ExtractCitations returns the distinct [n] markers in text, ascending
func ExtractCitations(text string) []int {
	seen := make(map[int]bool)
	var out []int
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}
