package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// SourceProfile is a per-source overlay of run defaults. Operators keep
// one profile_<source>.yaml per adapter; the runner merges the profile
// under any explicit run options.
type SourceProfile struct {
	Source            string         `yaml:"source" json:"source"`
	RequestsPerMinute float64        `yaml:"requests_per_minute,omitempty" json:"requests_per_minute,omitempty"`
	Burst             int            `yaml:"burst,omitempty" json:"burst,omitempty"`
	Incremental       bool           `yaml:"incremental,omitempty" json:"incremental,omitempty"`
	Limit             int            `yaml:"limit,omitempty" json:"limit,omitempty"`
	TargetEntities    []string       `yaml:"target_entities,omitempty" json:"target_entities,omitempty"`
	ExtraParams       map[string]any `yaml:"extra_params,omitempty" json:"extra_params,omitempty"`
}

const profileSchema = `{
  "type": "object",
  "required": ["source"],
  "properties": {
    "source": {"type": "string", "minLength": 1},
    "requests_per_minute": {"type": "number", "exclusiveMinimum": 0},
    "burst": {"type": "integer", "minimum": 1},
    "incremental": {"type": "boolean"},
    "limit": {"type": "integer", "minimum": 0},
    "target_entities": {"type": "array", "items": {"type": "string"}},
    "extra_params": {"type": "object"}
  },
  "additionalProperties": false
}`

var compiledProfileSchema = jsonschema.MustCompileString("source_profile.json", profileSchema)

// LoadProfile loads and validates profile_<source>.yaml from dir.
func LoadProfile(dir, source string) (*SourceProfile, error) {
	path := filepath.Join(dir, fmt.Sprintf("profile_%s.yaml", strings.ToLower(source)))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", source, err)
	}
	return parseProfile(path, data)
}

// LoadAllProfiles loads every profile_*.yaml in dir, keyed by source.
func LoadAllProfiles(dir string) (map[string]*SourceProfile, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}
	profiles := make(map[string]*SourceProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		p, err := parseProfile(path, data)
		if err != nil {
			return nil, err
		}
		profiles[p.Source] = p
	}
	return profiles, nil
}

func parseProfile(path string, data []byte) (*SourceProfile, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := compiledProfileSchema.Validate(raw); err != nil {
		return nil, fmt.Errorf("validate %s: %w", path, err)
	}

	var p SourceProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if p.Source == "" {
		p.Source = strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), "profile_"), ".yaml")
	}
	return &p, nil
}
