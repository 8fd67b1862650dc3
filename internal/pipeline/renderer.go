package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ppiankov/modref/internal/model"
)

// Renderer writes reports as JSON, Markdown and a terse terminal summary
type Renderer struct {
	includeChunks bool
}

// NewRenderer creates a renderer; includeChunks adds the matched passages to Markdown
func NewRenderer(includeChunks bool) *Renderer {
	return &Renderer{includeChunks: includeChunks}
}

// RenderJSON writes the report as indented JSON to path
func (r *Renderer) RenderJSON(report *model.Report, path string) error {
	return writeFile(path, func(w io.Writer) error { return r.WriteJSON(w, report) })
}

// RenderMarkdown writes the report as Markdown to path
func (r *Renderer) RenderMarkdown(report *model.Report, path string) error {
	return writeFile(path, func(w io.Writer) error { return r.WriteMarkdown(w, report) })
}

// WriteJSON encodes the report as indented JSON
func (r *Renderer) WriteJSON(w io.Writer, report *model.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// WriteMarkdown renders the report as Markdown
func (r *Renderer) WriteMarkdown(w io.Writer, report *model.Report) error {
	var b strings.Builder

	b.WriteString("# Moderation Reference Answer\n\n")
	fmt.Fprintf(&b, "**Query:** %s  \n", report.Query)
	fmt.Fprintf(&b, "**Mode:** %s  \n", report.Mode)
	fmt.Fprintf(&b, "**Confidence:** %d%% (%s)  \n", percent(report.Confidence.Score), report.Confidence.Tier)
	fmt.Fprintf(&b, "**Generated:** %s  \n", report.GeneratedAt.Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(&b, "**Request:** `%s`\n\n", report.ID)

	if report.Answer != nil && report.Answer.Enabled {
		b.WriteString("## Answer\n\n")
		if report.Answer.Text != "" {
			b.WriteString(report.Answer.Text)
			b.WriteString("\n\n")
		}
		if report.Answer.Provider != "" {
			fmt.Fprintf(&b, "_Generated by %s", report.Answer.Provider)
			if report.Answer.Model != "" {
				fmt.Fprintf(&b, "/%s", report.Answer.Model)
			}
			b.WriteString(". Confidence is computed from retrieval only._\n\n")
		}
		for _, w := range report.Answer.Warnings {
			fmt.Fprintf(&b, "> %s\n", w)
		}
		if len(report.Answer.Warnings) > 0 {
			b.WriteString("\n")
		}
	}

	b.WriteString("## Sources\n\n")
	if report.Citations != "" {
		for _, line := range strings.Split(report.Citations, "\n") {
			fmt.Fprintf(&b, "- %s\n", line)
		}
		b.WriteString("\n")
	} else {
		b.WriteString("_No reliable sources. Escalate this question to a senior moderator._\n\n")
	}

	b.WriteString("## Confidence Signals\n\n")
	b.WriteString("| Signal | Severity | Description |\n")
	b.WriteString("|--------|----------|-------------|\n")
	for _, s := range report.Confidence.Signals {
		fmt.Fprintf(&b, "| %s | %s | %s |\n", s.Type, s.Severity, s.Description)
	}
	b.WriteString("\n")

	if r.includeChunks && len(report.Chunks) > 0 {
		b.WriteString("## Evidence\n\n")
		for i, c := range report.Chunks {
			fmt.Fprintf(&b, "### %d. %s (part %d/%d, similarity %.2f)\n\n", i+1, c.Metadata.Title, c.Ordinal+1, c.TotalChunks, c.Similarity)
			b.WriteString(c.Text)
			b.WriteString("\n\n")
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteSummary prints a short human-readable result
func (r *Renderer) WriteSummary(w io.Writer, report *model.Report) {
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "  Query:       %s\n", report.Query)
	fmt.Fprintf(w, "  Mode:        %s\n", report.Mode)
	fmt.Fprintf(w, "  Confidence:  %d%% (%s)\n", percent(report.Confidence.Score), report.Confidence.Tier)
	fmt.Fprintf(w, "  Evidence:    %d chunks, %d citable sources\n", len(report.Chunks), len(report.Sources))
	fmt.Fprintf(w, "\n")

	if report.Answer != nil && report.Answer.Enabled && report.Answer.Text != "" {
		fmt.Fprintf(w, "%s\n\n", report.Answer.Text)
	} else if !report.Confidence.Answerable {
		fmt.Fprintf(w, "⚠️  Low confidence: escalate this question to a senior moderator.\n\n")
	}

	if report.Citations != "" {
		fmt.Fprintf(w, "%s\n\n", report.Citations)
	}
}

func percent(score float64) int {
	return int(score*100 + 0.5)
}

func writeFile(path string, render func(io.Writer) error) (err error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, closeErr)
		}
	}()

	return render(f)
}
