package model

import (
	"fmt"
	"strings"
)

// SourceKind identifies which content collection an entity belongs to
type SourceKind string

const (
	KindGuide     SourceKind = "guide"
	KindPenalty   SourceKind = "penalty"
	KindCommand   SourceKind = "command"
	KindProcedure SourceKind = "procedure"
)

// AllKinds lists every source kind in indexing order
func AllKinds() []SourceKind {
	return []SourceKind{KindGuide, KindPenalty, KindCommand, KindProcedure}
}

// Label returns the human-readable label used in citations
func (k SourceKind) Label() string {
	switch k {
	case KindGuide:
		return "Guide"
	case KindPenalty:
		return "Penalty"
	case KindCommand:
		return "Command"
	case KindProcedure:
		return "Procedure"
	default:
		return "Source"
	}
}

// ParseKind converts a user-supplied kind name into a SourceKind
func ParseKind(s string) (SourceKind, error) {
	k := SourceKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllKinds() {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown source kind %q (supported: guide, penalty, command, procedure)", ErrValidation, s)
}

// Metadata is copied from the source entity onto every chunk derived from it
type Metadata struct {
	Title       string   `json:"title" yaml:"title"`
	Category    string   `json:"category" yaml:"category"`
	Subcategory string   `json:"subcategory,omitempty" yaml:"subcategory,omitempty"`
	Keywords    []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
}

// Entity is one record of the content repository.
// The set of implementations is closed: Guide, Penalty, Command, Procedure.
type Entity interface {
	EntityID() string
	Kind() SourceKind
	Meta() Metadata

	// Project renders the text that gets segmented and embedded
	Project() string

	sealed()
}

// Guide is a free-form guide article
type Guide struct {
	ID          string   `json:"id" yaml:"id"`
	Title       string   `json:"title" yaml:"title"`
	Category    string   `json:"category" yaml:"category"`
	Subcategory string   `json:"subcategory,omitempty" yaml:"subcategory,omitempty"`
	Keywords    []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Content     string   `json:"content" yaml:"content"`
	Format      string   `json:"format,omitempty" yaml:"format,omitempty"` // "text" (default) or "html"
}

// Penalty is a penalty definition
type Penalty struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	Code         string   `json:"code,omitempty" yaml:"code,omitempty"`
	Category     string   `json:"category" yaml:"category"`
	Subcategory  string   `json:"subcategory,omitempty" yaml:"subcategory,omitempty"`
	Keywords     []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Duration     string   `json:"duration,omitempty" yaml:"duration,omitempty"`
	Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
	Conditions   []string `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Alternatives []string `json:"alternatives,omitempty" yaml:"alternatives,omitempty"`
	Examples     []string `json:"examples,omitempty" yaml:"examples,omitempty"`
}

// Command is a bot command definition
type Command struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Category    string   `json:"category" yaml:"category"`
	Subcategory string   `json:"subcategory,omitempty" yaml:"subcategory,omitempty"`
	Keywords    []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Usage       string   `json:"usage,omitempty" yaml:"usage,omitempty"`
	Permissions []string `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	Examples    []string `json:"examples,omitempty" yaml:"examples,omitempty"`
}

// Procedure is a step-by-step moderation procedure
type Procedure struct {
	ID                  string   `json:"id" yaml:"id"`
	Title               string   `json:"title" yaml:"title"`
	Category            string   `json:"category" yaml:"category"`
	Subcategory         string   `json:"subcategory,omitempty" yaml:"subcategory,omitempty"`
	Keywords            []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Description         string   `json:"description,omitempty" yaml:"description,omitempty"`
	Steps               string   `json:"steps,omitempty" yaml:"steps,omitempty"`
	RequiredPermissions []string `json:"required_permissions,omitempty" yaml:"required_permissions,omitempty"`
}

func (g Guide) EntityID() string { return g.ID }
func (g Guide) Kind() SourceKind { return KindGuide }
func (g Guide) sealed()          {}

func (g Guide) Meta() Metadata {
	return Metadata{Title: g.Title, Category: g.Category, Subcategory: g.Subcategory, Keywords: g.Keywords}
}

// Project returns the article body unmodified
func (g Guide) Project() string {
	return g.Content
}

func (p Penalty) EntityID() string { return p.ID }
func (p Penalty) Kind() SourceKind { return KindPenalty }
func (p Penalty) sealed()          {}

func (p Penalty) Meta() Metadata {
	return Metadata{Title: p.Name, Category: p.Category, Subcategory: p.Subcategory, Keywords: p.Keywords}
}

func (p Penalty) Project() string {
	name := p.Name
	if p.Code != "" {
		name = fmt.Sprintf("%s (%s)", p.Name, p.Code)
	}
	return joinFields(
		name,
		labelled("Category", p.Category),
		labelled("Duration", p.Duration),
		labelled("Description", p.Description),
		labelled("Conditions", joinList(p.Conditions)),
		labelled("Alternatives", joinList(p.Alternatives)),
		labelled("Examples", joinList(p.Examples)),
	)
}

func (c Command) EntityID() string { return c.ID }
func (c Command) Kind() SourceKind { return KindCommand }
func (c Command) sealed()          {}

func (c Command) Meta() Metadata {
	return Metadata{Title: c.Name, Category: c.Category, Subcategory: c.Subcategory, Keywords: c.Keywords}
}

func (c Command) Project() string {
	return joinFields(
		c.Name,
		labelled("Description", c.Description),
		labelled("Usage", c.Usage),
		labelled("Permissions", joinList(c.Permissions)),
		labelled("Examples", joinList(c.Examples)),
	)
}

func (p Procedure) EntityID() string { return p.ID }
func (p Procedure) Kind() SourceKind { return KindProcedure }
func (p Procedure) sealed()          {}

func (p Procedure) Meta() Metadata {
	return Metadata{Title: p.Title, Category: p.Category, Subcategory: p.Subcategory, Keywords: p.Keywords}
}

func (p Procedure) Project() string {
	return joinFields(
		p.Title,
		labelled("Description", p.Description),
		labelled("Steps", p.Steps),
		labelled("Required permissions", joinList(p.RequiredPermissions)),
	)
}

// joinFields joins the non-empty fields as separate paragraphs
func joinFields(fields ...string) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			parts = append(parts, f)
		}
	}
	return strings.Join(parts, "\n\n")
}

func labelled(label, value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return label + ": " + value
}

func joinList(items []string) string {
	var kept []string
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			kept = append(kept, it)
		}
	}
	return strings.Join(kept, ", ")
}
