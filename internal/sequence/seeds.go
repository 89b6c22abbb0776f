package sequence

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultSeed is the first number issued in a namespace without a configured seed.
const DefaultSeed int64 = 1

// Seeds maps namespaces to the value their counter starts at.
type Seeds struct {
	Default int64
	byKey   map[Key]int64
}

type seedFile struct {
	Default   int64 `yaml:"default_seed"`
	Sequences []struct {
		Kind   string `yaml:"kind"`
		Prefix string `yaml:"prefix"`
		Seed   int64  `yaml:"seed"`
	} `yaml:"sequences"`
}

// NewSeeds builds seeds from explicit values.
func NewSeeds(def int64, byKey map[Key]int64) Seeds {
	s := Seeds{Default: def, byKey: make(map[Key]int64, len(byKey))}
	for k, v := range byKey {
		s.byKey[k] = v
	}
	return s
}

// For returns the seed of key.
func (s Seeds) For(key Key) int64 {
	if v, ok := s.byKey[key]; ok && v > 0 {
		return v
	}
	if s.Default > 0 {
		return s.Default
	}
	return DefaultSeed
}

// ParseSeeds decodes a YAML seed document.
func ParseSeeds(data []byte) (Seeds, error) {
	var doc seedFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Seeds{}, fmt.Errorf("sequence: parse seeds: %w", err)
	}
	seeds := Seeds{Default: doc.Default, byKey: make(map[Key]int64, len(doc.Sequences))}
	for i, entry := range doc.Sequences {
		if entry.Kind == "" {
			return Seeds{}, fmt.Errorf("sequence: seed %d: kind required", i)
		}
		if entry.Seed <= 0 {
			return Seeds{}, fmt.Errorf("sequence: seed %d (%s): must be positive", i, entry.Kind)
		}
		seeds.byKey[Key{Kind: entry.Kind, Prefix: entry.Prefix}] = entry.Seed
	}
	return seeds, nil
}

// LoadSeeds reads a YAML seed file. An empty path yields default seeds.
func LoadSeeds(path string) (Seeds, error) {
	if path == "" {
		return NewSeeds(DefaultSeed, nil), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Seeds{}, fmt.Errorf("sequence: read seeds: %w", err)
	}
	return ParseSeeds(data)
}
