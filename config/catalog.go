package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/alem-hub/edu-progress/internal/domain/progress"
	"github.com/alem-hub/edu-progress/internal/domain/shared"
)

// CatalogFile is the on-disk form of the badge catalog and mastery table.
//
//	thresholds = [0, 100, 250]
//
//	[[badges]]
//	id = "memorypro"
//	display_name = "Memory Pro"
//	xp_reward = 100
//	rule = { kind = "activity_wins", activity = "memory", count = 5 }
type CatalogFile struct {
	Thresholds []int        `toml:"thresholds" yaml:"thresholds"`
	Badges     []BadgeEntry `toml:"badges" yaml:"badges"`
}

// BadgeEntry is one badge in a CatalogFile.
type BadgeEntry struct {
	ID          string            `toml:"id" yaml:"id"`
	DisplayName string            `toml:"display_name" yaml:"display_name"`
	XPReward    int               `toml:"xp_reward" yaml:"xp_reward"`
	Rule        progress.RuleSpec `toml:"rule" yaml:"rule"`
}

// Catalog is the validated static progression data.
type Catalog struct {
	Badges  *progress.Catalog
	Mastery *progress.MasteryTable
}

// DefaultCatalog returns the built-in badges and thresholds.
func DefaultCatalog() Catalog {
	return Catalog{
		Badges:  progress.DefaultCatalog(),
		Mastery: progress.DefaultMasteryTable(),
	}
}

// LoadCatalog reads a catalog file. The format is chosen by extension
// (.toml, .yaml, .yml). An empty path returns DefaultCatalog. Sections left
// out of the file fall back to their defaults.
func LoadCatalog(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog %s: %w", path, err)
	}

	var file CatalogFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&file); err != nil {
			return Catalog{}, shared.WrapError("config", "LoadCatalog", shared.ErrInvalidFormat, "decode toml", err)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&file); err != nil {
			return Catalog{}, shared.WrapError("config", "LoadCatalog", shared.ErrInvalidFormat, "decode yaml", err)
		}
	default:
		return Catalog{}, shared.NewDomainError("config", "LoadCatalog", shared.ErrInvalidFormat,
			fmt.Sprintf("unsupported catalog extension %q", ext))
	}

	return file.Build()
}

// Build validates the file contents.
func (f CatalogFile) Build() (Catalog, error) {
	out := DefaultCatalog()

	if len(f.Thresholds) > 0 {
		table, err := progress.NewMasteryTable(f.Thresholds)
		if err != nil {
			return Catalog{}, err
		}
		out.Mastery = table
	}

	if len(f.Badges) > 0 {
		badges := make([]progress.Badge, 0, len(f.Badges))
		for _, e := range f.Badges {
			rule, err := progress.RuleFromSpec(e.Rule)
			if err != nil {
				return Catalog{}, fmt.Errorf("badge %q: %w", e.ID, err)
			}
			badges = append(badges, progress.Badge{
				ID:          e.ID,
				DisplayName: e.DisplayName,
				Rule:        rule,
				XPReward:    e.XPReward,
			})
		}
		catalog, err := progress.NewCatalog(badges)
		if err != nil {
			return Catalog{}, err
		}
		out.Badges = catalog
	}

	return out, nil
}
