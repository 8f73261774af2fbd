package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []int{600}, cfg.Test.Scales)
	assert.Equal(t, 1000, cfg.Test.MaxSize)
	assert.Equal(t, 92, cfg.Attributes.Count)
	assert.Len(t, cfg.Attributes.Groups, 13)
	assert.Equal(t, "pred_total", cfg.Attributes.OutputName)
}

func TestDefaultGroupsAreCopied(t *testing.T) {
	cfg := Default()
	cfg.Attributes.Groups[0] = Group{Start: 5, End: 6}

	assert.Equal(t, Group{Start: 0, End: 1}, DefaultGroups[0])
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	err := os.WriteFile(path, []byte(`
test:
  scales: [224, 448]
attributes:
  count: 10
  groups:
    - {start: 0, end: 3}
    - {start: 5, end: 10}
`), 0o644)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []int{224, 448}, cfg.Test.Scales)
	assert.Equal(t, 1000, cfg.Test.MaxSize, "unset fields keep their defaults")
	assert.Equal(t, DefaultPixelMeans, cfg.PixelMeans)
	assert.Equal(t, []Group{{0, 3}, {5, 10}}, cfg.Attributes.Groups)
	assert.InDelta(t, 0.5, cfg.Attributes.Threshold, 1e-6)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no scales", func(c *Config) { c.Test.Scales = nil }},
		{"negative scale", func(c *Config) { c.Test.Scales = []int{-1} }},
		{"zero max size", func(c *Config) { c.Test.MaxSize = 0 }},
		{"zero count", func(c *Config) { c.Attributes.Count = 0 }},
		{"threshold one", func(c *Config) { c.Attributes.Threshold = 1 }},
		{"empty output", func(c *Config) { c.Attributes.OutputName = "" }},
		{"group past end", func(c *Config) { c.Attributes.Groups = []Group{{90, 93}} }},
		{"empty group", func(c *Config) { c.Attributes.Groups = []Group{{4, 4}} }},
		{"overlap", func(c *Config) { c.Attributes.Groups = []Group{{5, 9}, {0, 6}} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestGroupLen(t *testing.T) {
	assert.Equal(t, 9, Group{Start: 15, End: 24}.Len())
	assert.Equal(t, "[15,24)", Group{Start: 15, End: 24}.String())
}
