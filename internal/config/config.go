// Package config loads and validates training configuration.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds every training option. Zero-valued paths are optional
// unless tagged required.
type Config struct {
	Seed      int64  `json:"seed" yaml:"seed"`
	Optimizer string `json:"optimizer" yaml:"optimizer" validate:"oneof=sgd adam"`

	TrainPath     string `json:"train_path" yaml:"train_path" validate:"required"`
	ValidPath     string `json:"valid_path" yaml:"valid_path" validate:"required"`
	TestPath      string `json:"test_path,omitempty" yaml:"test_path,omitempty"`
	GoldValidPath string `json:"gold_valid_path,omitempty" yaml:"gold_valid_path,omitempty"`
	GoldTestPath  string `json:"gold_test_path,omitempty" yaml:"gold_test_path,omitempty"`
	LexiconPath   string `json:"lexicon,omitempty" yaml:"lexicon,omitempty"`
	ModelDir      string `json:"model" yaml:"model" validate:"required"`
	OutputPath    string `json:"output,omitempty" yaml:"output,omitempty"`
	Script        string `json:"script" yaml:"script"`

	BatchSize int     `json:"batch_size" yaml:"batch_size" validate:"gte=1"`
	MaxEpoch  int     `json:"max_epoch" yaml:"max_epoch" validate:"gte=1"`
	WordCut   int     `json:"word_cut" yaml:"word_cut" validate:"gte=0"`
	EvalSteps int     `json:"eval_steps,omitempty" yaml:"eval_steps,omitempty" validate:"gte=0"`
	L2        float64 `json:"l2" yaml:"l2" validate:"gte=0"`
	LR        float64 `json:"lr" yaml:"lr" validate:"gt=0"`
	LRDecay   float64 `json:"lr_decay" yaml:"lr_decay" validate:"gte=0,lte=1"`
	ClipGrad  float64 `json:"clip_grad" yaml:"clip_grad" validate:"gte=0"`

	ConsiderWordPiece bool   `json:"consider_word_piece" yaml:"consider_word_piece"`
	WordPiecePolicy   string `json:"word_piece_policy" yaml:"word_piece_policy" validate:"oneof=marker any any-but-marker"`
	Reduction         string `json:"reduction" yaml:"reduction" validate:"oneof=sum mean"`
	Init              string `json:"init" yaml:"init" validate:"oneof=zero random"`
	Workers           int    `json:"workers" yaml:"workers" validate:"gte=0"`
	// LexiconMaxBytes caps the memory a loaded lexicon may reserve; 0 disables the check.
	LexiconMaxBytes   int    `json:"lexicon_max_bytes,omitempty" yaml:"lexicon_max_bytes,omitempty" validate:"gte=0"`
}

// Default returns the configuration with every tunable at its default.
func Default() Config {
	return Config{
		Seed:            1,
		Optimizer:       "sgd",
		Script:          "accuracy",
		BatchSize:       32,
		MaxEpoch:        100,
		WordCut:         5,
		L2:              0.00001,
		LR:              0.01,
		ClipGrad:        1,
		WordPiecePolicy: "marker",
		Reduction:       "sum",
		Init:            "zero",
	}
}

var validate = validator.New()

// Validate checks the struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.WordPiecePolicy != "marker" && !c.ConsiderWordPiece {
		return fmt.Errorf("config: word_piece_policy %q needs consider_word_piece", c.WordPiecePolicy)
	}
	return nil
}

// Resolve fills derived defaults: gold paths fall back to the corpus they
// score.
func (c *Config) Resolve() {
	if c.GoldValidPath == "" {
		c.GoldValidPath = c.ValidPath
	}
	if c.GoldTestPath == "" && c.TestPath != "" {
		c.GoldTestPath = c.TestPath
	}
}

// Load reads a YAML file over Default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes c as YAML.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
