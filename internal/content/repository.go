// Package content loads the moderation content repository: guides,
// penalties, commands and procedures.
package content

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/modref/internal/logger"
	"github.com/ppiankov/modref/internal/model"
)

// File is the on-disk layout of a content repository
type File struct {
	Guides     []model.Guide     `yaml:"guides" json:"guides"`
	Penalties  []model.Penalty   `yaml:"penalties" json:"penalties"`
	Commands   []model.Command   `yaml:"commands" json:"commands"`
	Procedures []model.Procedure `yaml:"procedures" json:"procedures"`
}

// Repository holds the validated entities of one content file
type Repository struct {
	source   string
	entities []model.Entity
}

// Load reads a YAML or JSON content file. The format is chosen by
// extension; anything other than .json is parsed as YAML.
func Load(path string) (*Repository, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}

	var f File
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &f)
	} else {
		err = yaml.Unmarshal(data, &f)
	}
	if err != nil {
		return nil, fmt.Errorf("parse content %s: %w", path, err)
	}

	repo, err := FromFile(f)
	if err != nil {
		return nil, err
	}
	repo.source = path

	logger.Debug("Loaded %d entities from %s", len(repo.entities), path)
	return repo, nil
}

// FromFile validates f and builds a repository from it.
// Ids must be non-empty and unique across all collections.
func FromFile(f File) (*Repository, error) {
	var entities []model.Entity

	for _, g := range f.Guides {
		if strings.EqualFold(g.Format, "html") {
			text, err := HTMLToText(g.Content)
			if err != nil {
				return nil, fmt.Errorf("guide %q: normalize html: %w", g.ID, err)
			}
			g.Content = text
			g.Format = "text"
		}
		entities = append(entities, g)
	}
	for _, p := range f.Penalties {
		entities = append(entities, p)
	}
	for _, c := range f.Commands {
		entities = append(entities, c)
	}
	for _, p := range f.Procedures {
		entities = append(entities, p)
	}

	seen := make(map[string]model.SourceKind, len(entities))
	for i, e := range entities {
		id := strings.TrimSpace(e.EntityID())
		if id == "" {
			return nil, fmt.Errorf("%w: %s entry %d has an empty id", model.ErrValidation, e.Kind(), i)
		}
		if kind, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q (%s and %s)", model.ErrValidation, id, kind, e.Kind())
		}
		seen[id] = e.Kind()
	}

	return &Repository{entities: entities}, nil
}

// Entities returns every entity in collection order: guides, penalties,
// commands, procedures
func (r *Repository) Entities(ctx context.Context) ([]model.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]model.Entity, len(r.entities))
	copy(out, r.entities)
	return out, nil
}

// Source returns the file the repository was loaded from, "" when built in memory
func (r *Repository) Source() string {
	return r.source
}

// Counts returns the number of entities per kind
func (r *Repository) Counts() map[model.SourceKind]int {
	counts := make(map[model.SourceKind]int, 4)
	for _, e := range r.entities {
		counts[e.Kind()]++
	}
	return counts
}

// Len returns the total number of entities
func (r *Repository) Len() int {
	return len(r.entities)
}
