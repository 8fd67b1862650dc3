// Package segment splits document text into overlapping, boundary-respecting chunks.
package segment

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ppiankov/modref/internal/model"
)

// Default sizes in characters.
const (
	DefaultMaxSize = 1000
	DefaultOverlap = 200
	DefaultMinSize = 100
)

// Config bounds chunk sizes. All sizes count characters (runes), not bytes.
type Config struct {
	MaxSize int
	Overlap int
	MinSize int

	// KeepShort keeps undersized chunks instead of dropping them.
	KeepShort bool
}

// DefaultConfig returns the default segmentation bounds.
func DefaultConfig() Config {
	return Config{
		MaxSize: DefaultMaxSize,
		Overlap: DefaultOverlap,
		MinSize: DefaultMinSize,
	}
}

// normalize clamps out-of-range values so splitting always terminates.
func (c Config) normalize() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxSize
	}
	if c.Overlap < 0 {
		c.Overlap = 0
	}
	if c.Overlap >= c.MaxSize {
		c.Overlap = c.MaxSize / 4
	}
	if c.MinSize < 0 {
		c.MinSize = 0
	}
	if c.MinSize > c.MaxSize {
		c.MinSize = c.MaxSize
	}
	return c
}

// Segmenter splits text with a fixed configuration.
type Segmenter struct {
	cfg Config
}

// New creates a segmenter with the given configuration.
func New(cfg Config) *Segmenter {
	return &Segmenter{cfg: cfg.normalize()}
}

// Config returns the effective (normalized) configuration.
func (s *Segmenter) Config() Config {
	return s.cfg
}

// Split segments text. Blank input yields an empty slice.
func (s *Segmenter) Split(text string) []string {
	bodies := s.bodies(text)
	return withOverlap(bodies, s.cfg.Overlap)
}

// Split segments text with cfg. It is pure and deterministic.
func Split(text string, cfg Config) []string {
	return New(cfg).Split(text)
}

// Validate reports model.ErrValidation for blank text.
func Validate(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: text is blank", model.ErrValidation)
	}
	return nil
}

var paragraphBreak = regexp.MustCompile(`\n[ \t\r]*\n`)

const (
	paragraphSep = "\n\n"
	sentenceSep  = " "
)

// piece is a unit fed to the greedy accumulator.
type piece struct {
	text string
	sep  string // separator used when appending to a non-empty chunk
}

// bodies returns the chunks before overlap injection.
func (s *Segmenter) bodies(text string) []string {
	if strings.TrimSpace(text) == "" {
		return []string{}
	}

	var pieces []piece
	for _, para := range paragraphs(text) {
		if runeLen(para) <= s.cfg.MaxSize {
			pieces = append(pieces, piece{text: para, sep: paragraphSep})
			continue
		}
		for i, group := range sentenceGroups(para, s.cfg.MaxSize) {
			sep := sentenceSep
			if i == 0 {
				sep = paragraphSep
			}
			pieces = append(pieces, piece{text: group, sep: sep})
		}
	}

	chunks := make([]string, 0, len(pieces))
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if currentLen >= s.cfg.MinSize || s.cfg.KeepShort {
			chunks = append(chunks, current.String())
		}
		current.Reset()
		currentLen = 0
	}

	for _, p := range pieces {
		pLen := runeLen(p.text)
		if currentLen == 0 {
			current.WriteString(p.text)
			currentLen = pLen
			continue
		}
		if currentLen+runeLen(p.sep)+pLen <= s.cfg.MaxSize {
			current.WriteString(p.sep)
			current.WriteString(p.text)
			currentLen += runeLen(p.sep) + pLen
			continue
		}
		flush()
		current.WriteString(p.text)
		currentLen = pLen
	}

	// The tail survives when it is long enough or when it is the only chunk.
	if currentLen > 0 && (currentLen >= s.cfg.MinSize || len(chunks) == 0 || s.cfg.KeepShort) {
		chunks = append(chunks, current.String())
	}

	return chunks
}

// paragraphs splits on blank lines and drops empty paragraphs.
func paragraphs(text string) []string {
	raw := paragraphBreak.Split(strings.ReplaceAll(text, "\r\n", "\n"), -1)
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// sentences splits at '.', '!' or '?' followed by whitespace.
func sentences(para string) []string {
	var out []string
	runes := []rune(para)
	start := 0
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

// sentenceGroups re-accumulates the sentences of an oversized paragraph
// into groups of at most maxSize characters.
func sentenceGroups(para string, maxSize int) []string {
	var groups []string
	var current strings.Builder
	currentLen := 0

	for _, sent := range sentences(para) {
		for _, part := range hardCut(sent, maxSize) {
			pLen := runeLen(part)
			if currentLen > 0 && currentLen+len(sentenceSep)+pLen <= maxSize {
				current.WriteString(sentenceSep)
				current.WriteString(part)
				currentLen += len(sentenceSep) + pLen
				continue
			}
			if currentLen > 0 {
				groups = append(groups, current.String())
				current.Reset()
			}
			current.WriteString(part)
			currentLen = pLen
		}
	}
	if currentLen > 0 {
		groups = append(groups, current.String())
	}
	return groups
}

// hardCut splits a single sentence longer than maxSize, preferring the
// last whitespace inside the window.
func hardCut(sent string, maxSize int) []string {
	runes := []rune(sent)
	if len(runes) <= maxSize {
		return []string{sent}
	}

	var parts []string
	for len(runes) > maxSize {
		cut := maxSize
		for i := maxSize; i > maxSize/2; i-- {
			if unicode.IsSpace(runes[i]) {
				cut = i
				break
			}
		}
		if p := strings.TrimSpace(string(runes[:cut])); p != "" {
			parts = append(parts, p)
		}
		runes = []rune(strings.TrimLeftFunc(string(runes[cut:]), unicode.IsSpace))
	}
	if p := strings.TrimSpace(string(runes)); p != "" {
		parts = append(parts, p)
	}
	return parts
}

// withOverlap prepends the trailing overlap characters of each previous
// pre-overlap chunk. The tail is not word-aligned.
func withOverlap(bodies []string, overlap int) []string {
	if overlap <= 0 || len(bodies) < 2 {
		return bodies
	}
	out := make([]string, len(bodies))
	out[0] = bodies[0]
	for i := 1; i < len(bodies); i++ {
		out[i] = tail(bodies[i-1], overlap) + " " + bodies[i]
	}
	return out
}

func tail(s string, n int) string {
	runes := []rune(s)
	if n >= len(runes) {
		return s
	}
	return string(runes[len(runes)-n:])
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
