package model

import "time"

// Report is the complete output of one assistant query
type Report struct {
	ID          string    `json:"id"`           // Request identifier
	Query       string    `json:"query"`        // Normalized query
	Mode        string    `json:"mode"`         // all, kind:<kind>, penalty
	GeneratedAt time.Time `json:"generated_at"` // When the query ran
	Offline     bool      `json:"offline"`      // Whether the offline embedder was used

	Chunks    []ScoredChunk `json:"chunks"`
	Sources   []SourceRef   `json:"sources"` // Citable sources; empty on a low tier
	Citations string        `json:"citations,omitempty"`
	Context   string        `json:"context,omitempty"`

	AverageRelevance float64    `json:"average_relevance"`
	Confidence       Confidence `json:"confidence"`
	Principles       Principles `json:"principles"`

	Answer *Answer `json:"answer,omitempty"` // Optional LLM answer (never affects confidence)
}

// Tier is the discrete confidence classification
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// Confidence is the trust assessment of a retrieval result
type Confidence struct {
	Score       float64     `json:"score"`        // Bounded trust score (0-1)
	Tier        Tier        `json:"tier"`         // high, medium, low
	Answerable  bool        `json:"answerable"`   // Whether an answer may be given from evidence
	ContextUsed bool        `json:"context_used"` // Whether evidence context may reach the answering layer
	Sources     []SourceRef `json:"sources"`      // Sources the answering layer may cite
	Signals     []Signal    `json:"signals"`      // Diagnostic signals with transparent data
}

// Signal represents a diagnostic signal with transparent scoring data
type Signal struct {
	Type        SignalType             `json:"type"`
	Severity    SignalSeverity         `json:"severity"`
	Description string                 `json:"description"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// SignalType classifies the type of diagnostic signal
type SignalType string

const (
	SignalAverageRelevance SignalType = "average_relevance" // Mean chunk similarity
	SignalPeakRelevance    SignalType = "peak_relevance"    // Best chunk similarity
	SignalCorroboration    SignalType = "corroboration"     // Number of agreeing chunks
	SignalNoEvidence       SignalType = "no_evidence"       // Nothing above the similarity floor
	SignalEscalation       SignalType = "escalation"        // Answer deferred to a human authority
)

// SignalSeverity indicates the importance of the signal
type SignalSeverity string

const (
	SeverityInfo     SignalSeverity = "info"
	SeverityWarning  SignalSeverity = "warning"
	SeverityCritical SignalSeverity = "critical"
)

// Principles documents which answering principles were applied
type Principles struct {
	Grounded    bool `json:"grounded"`    // Answers only from the rule corpus
	Transparent bool `json:"transparent"` // All scoring explainable
	Deferential bool `json:"deferential"` // Low confidence escalates to a human
}

// DefaultPrinciples returns the standard answering principles
func DefaultPrinciples() Principles {
	return Principles{
		Grounded:    true,
		Transparent: true,
		Deferential: true,
	}
}

// Answer contains the optional LLM-generated answer
// CRITICAL: This never affects confidence scoring and is clearly separated
type Answer struct {
	Enabled     bool     `json:"enabled"`
	Provider    string   `json:"provider,omitempty"`
	Model       string   `json:"model,omitempty"`
	Text        string   `json:"text"`
	Escalated   bool     `json:"escalated"`       // Refused and deferred to a human authority
	ContextUsed bool     `json:"context_used"`    // Whether evidence context was sent to the model
	Cited       []int    `json:"cited,omitempty"` // Citation numbers used in the text
	TokensUsed  int      `json:"tokens_used,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}
