// Package scorer writes decoded tag sequences and scores them against gold
// files, either with a built-in metric or an external script.
package scorer

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/happyhackingspace/seqtag/internal/corpus"
)

// Func scores the decoded file at predPath against the gold corpus at
// goldPath. Higher is better.
type Func func(ctx context.Context, goldPath, predPath string) (float64, error)

// Script runs "path goldPath predPath" and parses the last whitespace
// separated token of the last non-empty output line as the score.
func Script(path string) Func {
	return func(ctx context.Context, goldPath, predPath string) (float64, error) {
		cmd := exec.CommandContext(ctx, path, goldPath, predPath)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		out, err := cmd.Output()
		if err != nil {
			return 0, fmt.Errorf("scorer: run %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
		}
		return ParseScore(out)
	}
}

// ParseScore extracts the score from script output.
func ParseScore(out []byte) (float64, error) {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	last := strings.Fields(lines[len(lines)-1])
	if len(last) == 0 {
		return 0, fmt.Errorf("scorer: empty script output")
	}
	v, err := strconv.ParseFloat(last[len(last)-1], 64)
	if err != nil {
		return 0, fmt.Errorf("scorer: parse score: %w", err)
	}
	return v, nil
}

// ByName resolves a scorer: "accuracy" and "f1" are built in, anything
// else is taken as a script path.
func ByName(name string) (Func, error) {
	switch name {
	case "", "accuracy":
		return TokenAccuracy, nil
	case "f1":
		return ChunkF1, nil
	}
	if _, err := os.Stat(name); err != nil {
		return nil, fmt.Errorf("scorer: %w", err)
	}
	return Script(name), nil
}

// WriteDecoded writes one tag per line with a blank line after every
// sequence.
func WriteDecoded(w io.Writer, tags [][]string) error {
	bw := bufio.NewWriter(w)
	for _, seq := range tags {
		for _, tag := range seq {
			if _, err := fmt.Fprintln(bw, tag); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(bw); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadDecoded reads the format written by WriteDecoded.
func ReadDecoded(r io.Reader) ([][]string, error) {
	var (
		out [][]string
		cur []string
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		tag := strings.TrimSpace(sc.Text())
		if tag == "" {
			if len(cur) > 0 {
				out = append(out, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, tag)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out, nil
}

func readPair(goldPath, predPath string) ([]corpus.Sentence, [][]string, error) {
	gold, err := corpus.ReadFile(goldPath)
	if err != nil {
		return nil, nil, fmt.Errorf("scorer: read gold: %w", err)
	}
	f, err := os.Open(predPath)
	if err != nil {
		return nil, nil, fmt.Errorf("scorer: %w", err)
	}
	defer func() { _ = f.Close() }()
	pred, err := ReadDecoded(f)
	if err != nil {
		return nil, nil, fmt.Errorf("scorer: read predictions: %w", err)
	}
	if len(pred) != len(gold) {
		return nil, nil, fmt.Errorf("scorer: %d predicted sequences for %d gold sentences", len(pred), len(gold))
	}
	for i := range gold {
		if len(pred[i]) != len(gold[i].Labels) {
			return nil, nil, fmt.Errorf("scorer: sentence %d: %d predicted tags for %d gold labels", i, len(pred[i]), len(gold[i].Labels))
		}
	}
	return gold, pred, nil
}

// TokenAccuracy returns the percentage of tokens whose predicted tag
// equals the gold label.
func TokenAccuracy(_ context.Context, goldPath, predPath string) (float64, error) {
	gold, pred, err := readPair(goldPath, predPath)
	if err != nil {
		return 0, err
	}
	correct, total := 0, 0
	for i, s := range gold {
		for j, label := range s.Labels {
			if pred[i][j] == label {
				correct++
			}
			total++
		}
	}
	if total == 0 {
		return 0, nil
	}
	return 100 * float64(correct) / float64(total), nil
}

// ChunkF1 returns the BIO chunk F1 (in percent) of the predictions.
func ChunkF1(_ context.Context, goldPath, predPath string) (float64, error) {
	gold, pred, err := readPair(goldPath, predPath)
	if err != nil {
		return 0, err
	}
	var tp, nGold, nPred int
	for i, s := range gold {
		g := Chunks(s.Labels)
		p := Chunks(pred[i])
		nGold += len(g)
		nPred += len(p)
		for c := range p {
			if _, ok := g[c]; ok {
				tp++
			}
		}
	}
	if tp == 0 {
		return 0, nil
	}
	prec := float64(tp) / float64(nPred)
	rec := float64(tp) / float64(nGold)
	return 100 * 2 * prec * rec / (prec + rec), nil
}

// Chunk is a labelled span [Start, End).
type Chunk struct {
	Type       string
	Start, End int
}

// Chunks extracts BIO/BIOES chunks. An I- tag that does not continue a
// chunk of its type opens a new one.
func Chunks(tags []string) map[Chunk]struct{} {
	out := make(map[Chunk]struct{})
	open := -1
	typ := ""
	closeAt := func(end int) {
		if open >= 0 {
			out[Chunk{Type: typ, Start: open, End: end}] = struct{}{}
		}
		open, typ = -1, ""
	}
	for i, tag := range tags {
		prefix, t, _ := strings.Cut(tag, "-")
		if len(prefix) != 1 || t == "" {
			closeAt(i)
			continue
		}
		switch prefix {
		case "B", "S":
			closeAt(i)
			open, typ = i, t
		case "I", "E":
			if open < 0 || typ != t {
				closeAt(i)
				open, typ = i, t
			}
		default:
			closeAt(i)
			continue
		}
		if prefix == "S" || prefix == "E" {
			closeAt(i + 1)
		}
	}
	closeAt(len(tags))
	return out
}
