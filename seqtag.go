// Package seqtag tags token sequences with a linear-chain CRF over word
// and contextual-feature emissions.
//
//	t, _ := seqtag.Load("model-dir", "lexicon-dir")
//	tags, _ := t.Tag(ctx, [][]string{{"John", "lives", "in", "Paris"}})
//	fmt.Println(tags[0]) // [B-PER O O B-LOC]
package seqtag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/happyhackingspace/seqtag/internal/config"
	"github.com/happyhackingspace/seqtag/internal/corpus"
	"github.com/happyhackingspace/seqtag/internal/lexicon"
	"github.com/happyhackingspace/seqtag/internal/scorer"
	"github.com/happyhackingspace/seqtag/internal/vocab"
	"github.com/happyhackingspace/seqtag/tagger"
)

// Files in a model directory.
const (
	ModelFile  = "model.json"
	LabelFile  = "label.dic"
	WordFile   = "word.dic"
	ConfigFile = "config.yaml"
)

// Tagger wraps a trained model with the lexicon it reads features from.
type Tagger struct {
	model  *tagger.Model
	lex    *lexicon.Lexicon
	config config.Config
}

// Load reads a model directory written by Save or Train. lexiconPath may
// be empty when the model uses no contextual features or when the saved
// config names the lexicon.
func Load(dir, lexiconPath string) (*Tagger, error) {
	model, err := tagger.Load(filepath.Join(dir, ModelFile))
	if err != nil {
		return nil, fmt.Errorf("seqtag: %w", err)
	}
	cfg := config.Default()
	if _, err := os.Stat(filepath.Join(dir, ConfigFile)); err == nil {
		if cfg, err = config.Load(filepath.Join(dir, ConfigFile)); err != nil {
			return nil, fmt.Errorf("seqtag: %w", err)
		}
	}
	if err := checkLabels(filepath.Join(dir, LabelFile), model.Labels); err != nil {
		return nil, fmt.Errorf("seqtag: %w", err)
	}

	t := &Tagger{model: model, config: cfg}
	if model.Info.Dim == 0 {
		return t, nil
	}
	if lexiconPath == "" {
		lexiconPath = cfg.LexiconPath
	}
	if lexiconPath == "" {
		return nil, errors.New("seqtag: model needs a lexicon")
	}
	if t.lex, err = lexicon.Open(lexiconPath, cfg.LexiconMaxBytes); err != nil {
		return nil, fmt.Errorf("seqtag: %w", err)
	}
	return t, nil
}

// checkLabels rejects a label.dic that disagrees with the snapshot.
func checkLabels(path string, labels *vocab.Dictionary) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	onDisk, err := vocab.ReadDictionary(f, 0)
	if err != nil {
		return fmt.Errorf("%s: %w", LabelFile, err)
	}
	if !slices.Equal(onDisk.Names, labels.Names) {
		return fmt.Errorf("%s does not match %s", LabelFile, ModelFile)
	}
	return nil
}

// Save writes the model snapshot, both dictionaries and the config to dir.
func (t *Tagger) Save(dir string) error {
	if t.model == nil {
		return errors.New("seqtag: tagger not initialized")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("seqtag: %w", err)
	}
	if err := writeDictionaries(dir, t.model); err != nil {
		return fmt.Errorf("seqtag: %w", err)
	}
	if err := t.config.Save(filepath.Join(dir, ConfigFile)); err != nil {
		return fmt.Errorf("seqtag: %w", err)
	}
	if err := t.model.Save(filepath.Join(dir, ModelFile)); err != nil {
		return fmt.Errorf("seqtag: %w", err)
	}
	return nil
}

func writeDictionaries(dir string, m *tagger.Model) error {
	for name, d := range map[string]*vocab.Dictionary{LabelFile: m.Labels, WordFile: m.Words} {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if _, err := d.WriteTo(f); err != nil {
			_ = f.Close()
			return fmt.Errorf("%s: %w", name, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}

// Model returns the underlying model.
func (t *Tagger) Model() *tagger.Model { return t.model }

// Config returns the configuration the model was trained with.
func (t *Tagger) Config() config.Config { return t.config }

// Tag returns one label per word of every sentence.
func (t *Tagger) Tag(ctx context.Context, sentences [][]string) ([][]string, error) {
	in := make([]corpus.Sentence, len(sentences))
	for i, words := range sentences {
		in[i] = corpus.Sentence{Words: words}
	}
	return t.tag(ctx, in)
}

func (t *Tagger) tag(ctx context.Context, sentences []corpus.Sentence) ([][]string, error) {
	if len(sentences) == 0 {
		return [][]string{}, nil
	}
	unlabelled := make([]corpus.Sentence, len(sentences))
	for i, s := range sentences {
		unlabelled[i] = corpus.Sentence{Words: s.Words}
	}
	examples, err := t.model.Encode(unlabelled, t.lex)
	if err != nil {
		return nil, fmt.Errorf("seqtag: %w", err)
	}
	paths, err := t.model.Predict(ctx, examples, max(t.config.BatchSize, 1))
	if err != nil {
		return nil, fmt.Errorf("seqtag: %w", err)
	}
	out := make([][]string, len(paths))
	for i, p := range paths {
		out[i] = t.model.Labels.Labels(p)
	}
	return out, nil
}

// TagFile tags the corpus at path and writes the decoded tags to w, one
// per line with a blank line after every sentence.
func (t *Tagger) TagFile(ctx context.Context, path string, w io.Writer) error {
	sentences, err := corpus.ReadFile(path)
	if err != nil {
		return fmt.Errorf("seqtag: %w", err)
	}
	tags, err := t.tag(ctx, sentences)
	if err != nil {
		return err
	}
	if err := scorer.WriteDecoded(w, tags); err != nil {
		return fmt.Errorf("seqtag: %w", err)
	}
	return nil
}

// Evaluate tags the gold corpus at path, writes the decoded tags to output
// (a temporary file when empty) and scores them with score.
func Evaluate(ctx context.Context, t *Tagger, path string, score scorer.Func, output string) (float64, error) {
	sentences, err := corpus.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("seqtag: %w", err)
	}
	examples, err := t.model.Encode(sentences, t.lex)
	if err != nil {
		return 0, fmt.Errorf("seqtag: %w", err)
	}
	return evaluate(ctx, t.model, examples, max(t.config.BatchSize, 1), path, score, output)
}

// evaluate decodes examples, writes them in input order and runs score
// against goldPath.
func evaluate(ctx context.Context, m *tagger.Model, examples []tagger.Example, batchSize int, goldPath string, score scorer.Func, output string) (float64, error) {
	paths, err := m.Predict(ctx, examples, batchSize)
	if err != nil {
		return 0, fmt.Errorf("seqtag: %w", err)
	}
	tags := make([][]string, len(paths))
	for i, p := range paths {
		tags[i] = m.Labels.Labels(p)
	}

	var f *os.File
	if output != "" {
		f, err = os.Create(output)
	} else {
		f, err = os.CreateTemp("", "seqtag-*.tmp")
	}
	if err != nil {
		return 0, fmt.Errorf("seqtag: %w", err)
	}
	predPath := f.Name()
	if output == "" {
		defer func() { _ = os.Remove(predPath) }()
	}
	if err := scorer.WriteDecoded(f, tags); err != nil {
		_ = f.Close()
		return 0, fmt.Errorf("seqtag: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("seqtag: %w", err)
	}

	s, err := score(ctx, goldPath, predPath)
	if err != nil {
		return 0, fmt.Errorf("seqtag: %w", err)
	}
	return s, nil
}
