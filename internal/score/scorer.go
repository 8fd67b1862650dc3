// Package score turns retrieval similarities into a bounded confidence
// score, a discrete tier and the answer policy that follows from it.
package score

import (
	"fmt"
	"math"

	"github.com/ppiankov/modref/internal/model"
)

// Weights of the confidence formula
const (
	WeightAverage       = 0.5
	WeightPeak          = 0.3
	WeightCorroboration = 0.2

	// CorroborationTarget is the chunk count at which corroboration saturates
	CorroborationTarget = 5
)

// Tier thresholds
const (
	HighThreshold   = 0.7
	MediumThreshold = 0.4
)

// EscalationMessage is what the answering layer says instead of answering
const EscalationMessage = "I could not find reliable guidance for this question in the moderation rules. Please escalate it to a senior moderator or administrator."

// Confidence returns 0.5*avg + 0.3*max + 0.2*min(n/5, 1) clamped to [0,1],
// or 0 when the result has no chunks
func Confidence(result *model.RetrievalResult) float64 {
	if result == nil || len(result.Chunks) == 0 {
		return 0
	}
	n := len(result.Chunks)
	score := WeightAverage*average(result) +
		WeightPeak*result.MaxSimilarity() +
		WeightCorroboration*math.Min(float64(n)/CorroborationTarget, 1)
	return clamp(score)
}

// TierFor classifies a confidence score
func TierFor(score float64) model.Tier {
	switch {
	case score >= HighThreshold:
		return model.TierHigh
	case score >= MediumThreshold:
		return model.TierMedium
	default:
		return model.TierLow
	}
}

// Scorer builds the confidence assessment for retrieval results
type Scorer struct{}

// NewScorer creates a new scorer
func NewScorer() *Scorer {
	return &Scorer{}
}

// Calculate scores result and applies the answer policy: a low tier is not
// answerable, its context must not be used and no sources are offered.
// Low confidence is a successful assessment, never an error.
func (s *Scorer) Calculate(result *model.RetrievalResult) model.Confidence {
	if result == nil {
		result = model.EmptyResult("")
	}

	var signals []model.Signal
	if len(result.Chunks) == 0 {
		signals = append(signals, model.Signal{
			Type:        model.SignalNoEvidence,
			Severity:    model.SeverityCritical,
			Description: "No rule passages matched the query",
			Data:        map[string]interface{}{"chunks": 0},
		})
	} else {
		signals = append(signals,
			s.averageSignal(result),
			s.peakSignal(result),
			s.corroborationSignal(result),
		)
	}

	score := Confidence(result)
	tier := TierFor(score)

	conf := model.Confidence{
		Score:   score,
		Tier:    tier,
		Signals: signals,
		Sources: []model.SourceRef{},
	}

	if tier == model.TierLow {
		conf.Signals = append(conf.Signals, model.Signal{
			Type:        model.SignalEscalation,
			Severity:    model.SeverityWarning,
			Description: fmt.Sprintf("Confidence %.2f is below %.2f; escalate to a human moderator", score, MediumThreshold),
			Data: map[string]interface{}{
				"score":     score,
				"threshold": MediumThreshold,
			},
		})
		return conf
	}

	conf.Answerable = true
	conf.ContextUsed = true
	conf.Sources = append(conf.Sources, result.Sources...)
	return conf
}

func (s *Scorer) averageSignal(result *model.RetrievalResult) model.Signal {
	avg := average(result)

	severity := model.SeverityInfo
	if avg < 0.3 {
		severity = model.SeverityCritical
	} else if avg < 0.5 {
		severity = model.SeverityWarning
	}

	return model.Signal{
		Type:        model.SignalAverageRelevance,
		Severity:    severity,
		Description: fmt.Sprintf("Average relevance: %.2f", avg),
		Data: map[string]interface{}{
			"average":      avg,
			"weight":       WeightAverage,
			"contribution": WeightAverage * avg,
			"formula":      "0.5 * mean(similarity)",
		},
	}
}

func (s *Scorer) peakSignal(result *model.RetrievalResult) model.Signal {
	peak := result.MaxSimilarity()

	severity := model.SeverityInfo
	if peak < 0.5 {
		severity = model.SeverityWarning
	}

	return model.Signal{
		Type:        model.SignalPeakRelevance,
		Severity:    severity,
		Description: fmt.Sprintf("Best passage relevance: %.2f", peak),
		Data: map[string]interface{}{
			"peak":         peak,
			"weight":       WeightPeak,
			"contribution": WeightPeak * peak,
			"formula":      "0.3 * max(similarity)",
		},
	}
}

func (s *Scorer) corroborationSignal(result *model.RetrievalResult) model.Signal {
	n := len(result.Chunks)
	factor := math.Min(float64(n)/CorroborationTarget, 1)

	severity := model.SeverityInfo
	if n < 2 {
		severity = model.SeverityWarning
	}

	return model.Signal{
		Type:        model.SignalCorroboration,
		Severity:    severity,
		Description: fmt.Sprintf("%d passages from %d sources", n, len(result.Sources)),
		Data: map[string]interface{}{
			"chunks":       n,
			"sources":      len(result.Sources),
			"factor":       factor,
			"weight":       WeightCorroboration,
			"contribution": WeightCorroboration * factor,
			"formula":      "0.2 * min(chunk_count / 5, 1)",
		},
	}
}

func average(result *model.RetrievalResult) float64 {
	if len(result.Chunks) == 0 {
		return 0
	}
	var sum float64
	for _, c := range result.Chunks {
		sum += c.Similarity
	}
	return sum / float64(len(result.Chunks))
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
