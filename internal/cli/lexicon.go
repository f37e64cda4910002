package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/happyhackingspace/seqtag/internal/lexicon"
	"github.com/spf13/cobra"
)

func (c *CLI) newLexiconCommand() *cobra.Command {
	lexCmd := &cobra.Command{
		Use:   "lexicon",
		Short: "Build and inspect contextual feature lexicons",
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	var maxBytes int
	importCmd := &cobra.Command{
		Use:   "import <features.txt> <lexicon-dir>",
		Short: "Import precomputed per-token features from text",
		Args:  cobra.ExactArgs(2),
		Example: `  seqtag lexicon import features.txt lex
  seqtag lexicon import features.txt lex --max-bytes 1073741824`,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, dir := args[0], args[1]
			f, err := os.Open(src)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			slog.Info("Importing lexicon", "source", src, "dest", dir)
			start := time.Now()
			lex, err := lexicon.Import(f, maxBytes)
			if err != nil {
				return err
			}
			if err := lex.Save(dir); err != nil {
				return err
			}
			info := lex.Info()
			slog.Info("Lexicon saved", "sentences", lex.Entries(), "dim", info.Dim, "layers", info.Layers,
				"duration", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
	importCmd.Flags().IntVar(&maxBytes, "max-bytes", lexicon.DefaultMaxBytes, "Cache size in bytes; must exceed the feature data")

	infoCmd := &cobra.Command{
		Use:   "info <lexicon-dir>",
		Short: "Print the shape and size of a lexicon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lex, err := lexicon.Open(args[0], 0)
			if err != nil {
				return err
			}
			info := lex.Info()
			fmt.Printf("dim: %d\nlayers: %d\nsentences: %d\n", info.Dim, info.Layers, lex.Entries())
			return nil
		},
	}

	lexCmd.AddCommand(importCmd, infoCmd)
	return lexCmd
}
