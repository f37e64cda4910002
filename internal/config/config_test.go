package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func valid() Config {
	c := Default()
	c.TrainPath = "train.txt"
	c.ValidPath = "valid.txt"
	c.ModelDir = "model"
	return c
}

func TestDefaultNeedsPaths(t *testing.T) {
	c := Default()
	assert.Error(t, c.Validate())
	c = valid()
	assert.NoError(t, c.Validate())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"optimizer", func(c *Config) { c.Optimizer = "adagrad" }},
		{"batch size", func(c *Config) { c.BatchSize = 0 }},
		{"lr", func(c *Config) { c.LR = 0 }},
		{"lr decay", func(c *Config) { c.LRDecay = 1.5 }},
		{"policy", func(c *Config) { c.WordPiecePolicy = "all" }},
		{"policy without pieces", func(c *Config) { c.WordPiecePolicy = "any" }},
		{"reduction", func(c *Config) { c.Reduction = "max" }},
		{"init", func(c *Config) { c.Init = "xavier" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestResolve(t *testing.T) {
	c := valid()
	c.Resolve()
	assert.Equal(t, "valid.txt", c.GoldValidPath)
	assert.Empty(t, c.GoldTestPath)

	c.TestPath = "test.txt"
	c.Resolve()
	assert.Equal(t, "test.txt", c.GoldTestPath)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	body := "train_path: a.txt\nvalid_path: b.txt\nmodel: out\noptimizer: adam\nconsider_word_piece: true\nword_piece_policy: any-but-marker\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "adam", c.Optimizer)
	assert.Equal(t, 32, c.BatchSize, "unset keys keep their default")
	assert.NoError(t, c.Validate())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	c := valid()
	c.EvalSteps = 7
	require.NoError(t, c.Save(path))
	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c, back)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("batch_size: [1"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}
