package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/happyhackingspace/seqtag"
	"github.com/happyhackingspace/seqtag/internal/corpus"
	"github.com/happyhackingspace/seqtag/internal/scorer"
	"github.com/spf13/cobra"
)

func (c *CLI) newEvaluateCommand() *cobra.Command {
	var (
		modelDir    string
		lexiconPath string
		script      string
		outputPath  string
		report      bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate <gold-corpus>",
		Short: "Score a trained tagger against a labelled corpus",
		Args:  cobra.ExactArgs(1),
		Example: `  seqtag evaluate test.txt --model out
  seqtag evaluate test.txt --model out --script f1 --report
  seqtag evaluate test.txt --model out --script ./conlleval.sh --output decoded.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			goldPath := args[0]
			score, err := scorer.ByName(script)
			if err != nil {
				return err
			}
			t, err := seqtag.Load(modelDir, lexiconPath)
			if err != nil {
				return err
			}

			slog.Info("Evaluating", "gold", goldPath, "scorer", script)
			start := time.Now()
			result, err := seqtag.Evaluate(cmd.Context(), t, goldPath, score, outputPath)
			if err != nil {
				return err
			}
			slog.Debug("Evaluation completed", "duration", time.Since(start))
			fmt.Printf("Score (%s): %.2f\n", script, result)

			if !report {
				return nil
			}
			gold, err := corpus.ReadFile(goldPath)
			if err != nil {
				return err
			}
			words := make([][]string, len(gold))
			for i, s := range gold {
				words[i] = s.Words
			}
			pred, err := t.Tag(cmd.Context(), words)
			if err != nil {
				return err
			}
			confusion, classes := confusionMatrix(gold, pred)
			printClassReport(os.Stdout, confusion, classes)
			printConfusionMatrix(os.Stdout, confusion, classes)
			return nil
		},
	}

	cmd.Flags().StringVarP(&modelDir, "model", "m", "model", "Model directory")
	cmd.Flags().StringVar(&lexiconPath, "lexicon", "", "Lexicon directory (default: the one the model was trained with)")
	cmd.Flags().StringVar(&script, "script", "accuracy", "Scorer: accuracy, f1, or a script path")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Keep the decoded tags at this path")
	cmd.Flags().BoolVar(&report, "report", false, "Print per-tag metrics and the confusion matrix")
	return cmd
}

// confusionMatrix counts gold→predicted tag pairs over every token.
func confusionMatrix(gold []corpus.Sentence, pred [][]string) (map[string]map[string]int, []string) {
	confusion := make(map[string]map[string]int)
	seen := make(map[string]bool)
	for i, s := range gold {
		for j, g := range s.Labels {
			p := pred[i][j]
			if confusion[g] == nil {
				confusion[g] = make(map[string]int)
			}
			confusion[g][p]++
			seen[g], seen[p] = true, true
		}
	}
	classes := make([]string, 0, len(seen))
	for cls := range seen {
		classes = append(classes, cls)
	}
	sort.Strings(classes)
	return confusion, classes
}

func printClassReport(w io.Writer, confusion map[string]map[string]int, classes []string) {
	fmt.Fprintf(w, "\nPer-tag metrics:\n")
	fmt.Fprintf(w, "%12s  %6s  %6s  %6s  %7s\n", "tag", "prec", "recall", "f1", "support")
	for _, cls := range classes {
		support, predicted := 0, 0
		for _, v := range confusion[cls] {
			support += v
		}
		for _, row := range confusion {
			predicted += row[cls]
		}
		correct := confusion[cls][cls]
		var precision, recall, f1 float64
		if predicted > 0 {
			precision = float64(correct) / float64(predicted)
		}
		if support > 0 {
			recall = float64(correct) / float64(support)
		}
		if precision+recall > 0 {
			f1 = 2 * precision * recall / (precision + recall)
		}
		fmt.Fprintf(w, "%12s  %5.1f%%  %5.1f%%  %5.1f%%  %7d\n",
			cls, precision*100, recall*100, f1*100, support)
	}
}

func printConfusionMatrix(w io.Writer, confusion map[string]map[string]int, classes []string) {
	if len(confusion) == 0 {
		return
	}

	sort.SliceStable(classes, func(i, j int) bool {
		ti, tj := 0, 0
		for _, v := range confusion[classes[i]] {
			ti += v
		}
		for _, v := range confusion[classes[j]] {
			tj += v
		}
		return ti > tj
	})

	fmt.Fprintf(w, "\nConfusion matrix (rows=gold, cols=predicted):\n")
	fmt.Fprintf(w, "%12s", "")
	for _, c := range classes {
		fmt.Fprintf(w, " %7s", c)
	}
	fmt.Fprintf(w, "  total  acc%%\n")

	for _, goldTag := range classes {
		fmt.Fprintf(w, "%12s", goldTag)
		total := 0
		correct := 0
		for _, predTag := range classes {
			count := confusion[goldTag][predTag]
			total += count
			if goldTag == predTag {
				correct = count
			}
			if count == 0 {
				fmt.Fprintf(w, " %7s", ".")
			} else {
				fmt.Fprintf(w, " %7d", count)
			}
		}
		acc := 0.0
		if total > 0 {
			acc = float64(correct) / float64(total) * 100
		}
		fmt.Fprintf(w, "  %5d %5.1f\n", total, acc)
	}
}
