// Package config - Settings shared by the pre-processing, inference and evaluation stages.
package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// DefaultPixelMeans are the per-channel means, in BGR order, subtracted from every pixel
// before an image is handed to the network.
var DefaultPixelMeans = [3]float32{102.9801, 115.9465, 122.7717}

// Group is a half-open range [Start, End) of mutually exclusive attributes.
type Group struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end"   yaml:"end"`
}

// Len returns the number of attributes in the group.
func (g Group) Len() int {
	return g.End - g.Start
}

// String implements fmt.Stringer.
func (g Group) String() string {
	return fmt.Sprintf("[%d,%d)", g.Start, g.End)
}

// DefaultGroups are the exclusive attribute groups of the 92 attribute RAP layout.
var DefaultGroups = []Group{
	{0, 1}, {1, 4}, {4, 7}, {7, 9}, {9, 11}, {11, 15}, {15, 24},
	{24, 30}, {30, 36}, {51, 55}, {63, 75}, {75, 83}, {84, 92},
}

// TestConfig controls how test images are scaled into the image pyramid.
type TestConfig struct {
	// Scales are the target lengths of the shortest image side, one pyramid level each.
	Scales []int `json:"scales"   yaml:"scales"`
	// MaxSize caps the longest image side after scaling.
	MaxSize int `json:"max_size" yaml:"max_size"`
}

// AttributeConfig describes the attribute vector produced by the network.
type AttributeConfig struct {
	// Count is the length of the attribute vector.
	Count int `json:"count"       yaml:"count"`
	// Groups are normalised in order so that exactly one attribute per group survives.
	Groups []Group `json:"groups"      yaml:"groups"`
	// Threshold binarises the normalised scores.
	Threshold float32 `json:"threshold"   yaml:"threshold"`
	// OutputName is the network output holding the fused per-level scores.
	OutputName string `json:"output_name" yaml:"output_name"`
	// ThresholdSingletons leaves groups of one attribute to the threshold instead of
	// forcing them to 1.
	ThresholdSingletons bool `json:"threshold_singletons" yaml:"threshold_singletons"`
}

// Config is the full set of evaluation settings.
type Config struct {
	// PixelMeans holds the BGR channel means.
	PixelMeans [3]float32 `json:"pixel_means" yaml:"pixel_means"`
	// Test holds the pyramid settings.
	Test TestConfig `json:"test"        yaml:"test"`
	// Attributes holds the attribute layout.
	Attributes AttributeConfig `json:"attributes"  yaml:"attributes"`
}

// Default returns the settings the pre-trained RAP network was evaluated with.
//
// Returns:
//   - Config: The default configuration.
func Default() Config {
	groups := make([]Group, len(DefaultGroups))
	copy(groups, DefaultGroups)

	return Config{
		PixelMeans: DefaultPixelMeans,
		Test: TestConfig{
			Scales:  []int{600},
			MaxSize: 1000,
		},
		Attributes: AttributeConfig{
			Count:      92,
			Groups:     groups,
			Threshold:  0.5,
			OutputName: "pred_total",
		},
	}
}

// Load reads a YAML file on top of the defaults and validates the result.
//
// Arguments:
//   - path: The YAML file to read.
//
// Returns:
//   - Config: The merged configuration.
//   - error: An error if the file cannot be read, parsed or validated.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the configuration for values the pipeline cannot work with.
//
// Returns:
//   - error: The first problem found, or nil.
func (c Config) Validate() error {
	if len(c.Test.Scales) == 0 {
		return fmt.Errorf("test.scales must not be empty")
	}
	for _, s := range c.Test.Scales {
		if s <= 0 {
			return fmt.Errorf("test.scales must be positive, got %d", s)
		}
	}
	if c.Test.MaxSize <= 0 {
		return fmt.Errorf("test.max_size must be positive, got %d", c.Test.MaxSize)
	}
	if c.Attributes.Count <= 0 {
		return fmt.Errorf("attributes.count must be positive, got %d", c.Attributes.Count)
	}
	if c.Attributes.Threshold <= 0 || c.Attributes.Threshold >= 1 {
		return fmt.Errorf("attributes.threshold must be in (0, 1), got %v", c.Attributes.Threshold)
	}
	if c.Attributes.OutputName == "" {
		return fmt.Errorf("attributes.output_name is required")
	}

	groups := make([]Group, len(c.Attributes.Groups))
	copy(groups, c.Attributes.Groups)
	sort.Slice(groups, func(i, j int) bool { return groups[i].Start < groups[j].Start })
	for i, g := range groups {
		if g.Start < 0 || g.End > c.Attributes.Count || g.Start >= g.End {
			return fmt.Errorf("attribute group %s out of range for %d attributes", g, c.Attributes.Count)
		}
		if i > 0 && g.Start < groups[i-1].End {
			return fmt.Errorf("attribute groups %s and %s overlap", groups[i-1], g)
		}
	}

	return nil
}
