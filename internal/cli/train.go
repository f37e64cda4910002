package cli

import (
	"log/slog"
	"time"

	"github.com/happyhackingspace/seqtag"
	"github.com/happyhackingspace/seqtag/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// trainFlags binds every config field to a flag. Flags the user sets
// override the config file.
func trainFlags(fs *pflag.FlagSet, cfg *config.Config) {
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "Random seed")
	fs.StringVar(&cfg.Optimizer, "optimizer", cfg.Optimizer, "Optimizer: sgd or adam")
	fs.StringVar(&cfg.TrainPath, "train", cfg.TrainPath, "Training corpus (CoNLL or annotated HTML)")
	fs.StringVar(&cfg.ValidPath, "valid", cfg.ValidPath, "Validation corpus")
	fs.StringVar(&cfg.TestPath, "test", cfg.TestPath, "Test corpus")
	fs.StringVar(&cfg.GoldValidPath, "gold-valid", cfg.GoldValidPath, "Gold file the validation score is computed against")
	fs.StringVar(&cfg.GoldTestPath, "gold-test", cfg.GoldTestPath, "Gold file the test score is computed against")
	fs.StringVar(&cfg.LexiconPath, "lexicon", cfg.LexiconPath, "Contextual feature lexicon directory")
	fs.StringVar(&cfg.ModelDir, "model", cfg.ModelDir, "Directory to save the model to")
	fs.StringVar(&cfg.OutputPath, "output", cfg.OutputPath, "Keep decoded evaluation output at this path prefix")
	fs.StringVar(&cfg.Script, "script", cfg.Script, "Scorer: accuracy, f1, or a script path")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Batch size")
	fs.IntVar(&cfg.MaxEpoch, "max-epoch", cfg.MaxEpoch, "Maximum number of epochs")
	fs.IntVar(&cfg.WordCut, "word-cut", cfg.WordCut, "Minimum word frequency kept in the dictionary")
	fs.IntVar(&cfg.EvalSteps, "eval-steps", cfg.EvalSteps, "Evaluate every n batches (0 means once per epoch)")
	fs.Float64Var(&cfg.L2, "l2", cfg.L2, "L2 regularization")
	fs.Float64Var(&cfg.LR, "lr", cfg.LR, "Learning rate")
	fs.Float64Var(&cfg.LRDecay, "lr-decay", cfg.LRDecay, "Learning rate decay per epoch (0 disables)")
	fs.Float64Var(&cfg.ClipGrad, "clip-grad", cfg.ClipGrad, "Gradient norm clip (0 disables)")
	fs.BoolVar(&cfg.ConsiderWordPiece, "consider-word-piece", cfg.ConsiderWordPiece, "Train with partial labels on -word-piece- positions")
	fs.StringVar(&cfg.WordPiecePolicy, "word-piece-policy", cfg.WordPiecePolicy, "Word-piece candidates: marker, any, any-but-marker")
	fs.StringVar(&cfg.Reduction, "reduction", cfg.Reduction, "Batch loss reduction: sum or mean")
	fs.StringVar(&cfg.Init, "init", cfg.Init, "Transition init: zero or random")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Concurrent rows per batch (0 means GOMAXPROCS)")
	fs.IntVar(&cfg.LexiconMaxBytes, "lexicon-max-bytes", cfg.LexiconMaxBytes, "Refuse a lexicon whose cache reserves more bytes than this (0 means no limit)")
}

// overlay copies the flags the user set from src onto dst.
func overlay(fs *pflag.FlagSet, dst *config.Config, src config.Config) {
	set := map[string]func(){
		"seed":                func() { dst.Seed = src.Seed },
		"optimizer":           func() { dst.Optimizer = src.Optimizer },
		"train":               func() { dst.TrainPath = src.TrainPath },
		"valid":               func() { dst.ValidPath = src.ValidPath },
		"test":                func() { dst.TestPath = src.TestPath },
		"gold-valid":          func() { dst.GoldValidPath = src.GoldValidPath },
		"gold-test":           func() { dst.GoldTestPath = src.GoldTestPath },
		"lexicon":             func() { dst.LexiconPath = src.LexiconPath },
		"model":               func() { dst.ModelDir = src.ModelDir },
		"output":              func() { dst.OutputPath = src.OutputPath },
		"script":              func() { dst.Script = src.Script },
		"batch-size":          func() { dst.BatchSize = src.BatchSize },
		"max-epoch":           func() { dst.MaxEpoch = src.MaxEpoch },
		"word-cut":            func() { dst.WordCut = src.WordCut },
		"eval-steps":          func() { dst.EvalSteps = src.EvalSteps },
		"l2":                  func() { dst.L2 = src.L2 },
		"lr":                  func() { dst.LR = src.LR },
		"lr-decay":            func() { dst.LRDecay = src.LRDecay },
		"clip-grad":           func() { dst.ClipGrad = src.ClipGrad },
		"consider-word-piece": func() { dst.ConsiderWordPiece = src.ConsiderWordPiece },
		"word-piece-policy":   func() { dst.WordPiecePolicy = src.WordPiecePolicy },
		"reduction":           func() { dst.Reduction = src.Reduction },
		"init":                func() { dst.Init = src.Init },
		"workers":             func() { dst.Workers = src.Workers },
		"lexicon-max-bytes":   func() { dst.LexiconMaxBytes = src.LexiconMaxBytes },
	}
	fs.Visit(func(f *pflag.Flag) {
		if apply, ok := set[f.Name]; ok {
			apply()
		}
	})
}

// resolveConfig loads configPath (if any) and applies the flags on top.
func resolveConfig(fs *pflag.FlagSet, configPath string, flags config.Config) (config.Config, error) {
	if configPath == "" {
		return flags, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	overlay(fs, &cfg, flags)
	return cfg, nil
}

func (c *CLI) newTrainCommand() *cobra.Command {
	var configPath string
	flags := config.Default()

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a tagger on a labelled corpus",
		Args:  cobra.NoArgs,
		Example: `  seqtag train --train train.txt --valid valid.txt --model out
  seqtag train --config train.yaml --lr 0.05 -v
  seqtag train --train train.html --valid valid.html --lexicon lex --model out --optimizer adam`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd.Flags(), configPath, flags)
			if err != nil {
				return err
			}
			slog.Info("Training tagger", "train", cfg.TrainPath, "valid", cfg.ValidPath, "model", cfg.ModelDir)
			start := time.Now()
			_, report, err := seqtag.Train(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			slog.Debug("Training completed", "duration", time.Since(start))
			slog.Info("Model saved", "path", cfg.ModelDir, "run", report.RunID,
				"best_valid", report.BestValid, "steps", report.Steps)
			if report.HasTest {
				slog.Info("Test score at best validation", "test", report.TestScore)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file; flags override its values")
	trainFlags(cmd.Flags(), &flags)
	return cmd
}
