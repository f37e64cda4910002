package cli

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/happyhackingspace/seqtag"
	"github.com/happyhackingspace/seqtag/internal/corpus"
	"github.com/happyhackingspace/seqtag/internal/scorer"
	"github.com/happyhackingspace/seqtag/internal/textutil"
	"github.com/spf13/cobra"
)

func (c *CLI) newTagCommand() *cobra.Command {
	var (
		modelDir    string
		lexiconPath string
		outputPath  string
		format      string
	)

	cmd := &cobra.Command{
		Use:   "tag [file-or-url]",
		Short: "Tag a corpus file, an annotated HTML page, or plain text from stdin",
		Args:  cobra.MaximumNArgs(1),
		Example: `  # Tag a CoNLL corpus, one tag per line
  seqtag tag test.txt --model out

  # Tag sentences from an annotated HTML page
  seqtag tag https://example.com/annotated.html --model out --format conll

  # Tag plain text, one sentence per line
  echo "John lives in Paris" | seqtag tag --model out --format conll

  # Write the decoded tags to a file
  seqtag tag test.txt --model out --output decoded.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "tags" && format != "conll" {
				return fmt.Errorf("unknown format %q", format)
			}

			var (
				sentences []corpus.Sentence
				err       error
			)
			if len(args) == 0 {
				if isStdinTerminal() {
					return cmd.Help()
				}
				sentences, err = readStdin(os.Stdin)
			} else {
				slog.Debug("Reading input", "target", args[0])
				sentences, err = readInput(args[0])
			}
			if err != nil {
				return err
			}
			slog.Debug("Input read", "sentences", len(sentences))

			start := time.Now()
			t, err := seqtag.Load(modelDir, lexiconPath)
			if err != nil {
				return err
			}
			slog.Debug("Model loaded", "duration", time.Since(start))

			words := make([][]string, len(sentences))
			for i, s := range sentences {
				words[i] = s.Words
			}
			start = time.Now()
			tags, err := t.Tag(cmd.Context(), words)
			if err != nil {
				return err
			}
			slog.Debug("Tagging completed", "sentences", len(tags), "duration", time.Since(start))

			var w io.Writer = os.Stdout
			if outputPath != "" {
				f, err := os.Create(outputPath)
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				w = f
			}
			return writeTags(w, format, sentences, tags)
		},
	}

	cmd.Flags().StringVarP(&modelDir, "model", "m", "model", "Model directory")
	cmd.Flags().StringVar(&lexiconPath, "lexicon", "", "Lexicon directory (default: the one the model was trained with)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().StringVar(&format, "format", "tags", "Output format: tags (one tag per line) or conll (tag and word)")
	return cmd
}

func writeTags(w io.Writer, format string, sentences []corpus.Sentence, tags [][]string) error {
	if format == "tags" {
		return scorer.WriteDecoded(w, tags)
	}
	out := make([]corpus.Sentence, len(sentences))
	for i, s := range sentences {
		out[i] = corpus.Sentence{Words: s.Words, Labels: tags[i]}
	}
	return corpus.WriteCoNLL(w, out)
}

func isStdinTerminal() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// readInput reads a corpus file, or annotated HTML from an http(s) URL.
func readInput(target string) ([]corpus.Sentence, error) {
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		return corpus.ReadFile(target)
	}
	resp, err := http.Get(target)
	if err != nil {
		return nil, fmt.Errorf("fetch URL: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch URL: HTTP %d", resp.StatusCode)
	}
	return corpus.ReadHTML(resp.Body)
}

// readStdin reads annotated HTML when the input starts with '<', and plain
// text with one whitespace-tokenized sentence per line otherwise.
func readStdin(r io.Reader) ([]corpus.Sentence, error) {
	slog.Debug("Reading from stdin")
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	content := strings.TrimSpace(string(body))
	if content == "" {
		return nil, fmt.Errorf("stdin is empty")
	}
	if strings.HasPrefix(content, "<") {
		return corpus.ReadHTML(strings.NewReader(content))
	}

	var sentences []corpus.Sentence
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		if words := textutil.Tokenize(sc.Text()); len(words) > 0 {
			sentences = append(sentences, corpus.Sentence{Words: words})
		}
	}
	return sentences, sc.Err()
}
