package seqtag

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/happyhackingspace/seqtag/internal/config"
	"github.com/happyhackingspace/seqtag/internal/lexicon"
	"github.com/happyhackingspace/seqtag/internal/scorer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const trainCoNLL = `D the
N cat
V sat

D a
N dog
V ran

N dog
V sat

D the
N dog

D a
N cat
V ran
`

const validCoNLL = `D the
N cat
V ran

N cat
V sat
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func toyConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.TrainPath = writeFile(t, dir, "train.txt", trainCoNLL)
	cfg.ValidPath = writeFile(t, dir, "valid.txt", validCoNLL)
	cfg.TestPath = cfg.ValidPath
	cfg.ModelDir = filepath.Join(dir, "model")
	cfg.BatchSize = 2
	cfg.MaxEpoch = 40
	cfg.WordCut = 0
	cfg.LR = 0.1
	cfg.L2 = 0
	cfg.ClipGrad = 5
	return cfg
}

func TestTrain(t *testing.T) {
	cfg := toyConfig(t)
	tg, report, err := Train(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 40, report.Epochs)
	assert.Equal(t, 3, report.EvalSteps, "defaults to one evaluation per epoch")
	assert.Equal(t, 120, report.Steps)
	assert.Equal(t, 5, report.Train.Sentences)
	assert.Equal(t, 4, report.Labels, "pad plus three tags")
	assert.InDelta(t, 100, report.BestValid, 1e-9)
	assert.True(t, report.HasTest)
	assert.InDelta(t, 100, report.TestScore, 1e-9)
	assert.Equal(t, report.RunID, tg.Model().RunID)

	for _, name := range []string{ModelFile, LabelFile, WordFile, ConfigFile} {
		assert.FileExists(t, filepath.Join(cfg.ModelDir, name))
	}

	tags, err := tg.Tag(context.Background(), [][]string{{"the", "dog", "sat"}, {"cat", "sat"}})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"D", "N", "V"}, {"N", "V"}}, tags)
}

func TestTrainRejectsInvalidConfig(t *testing.T) {
	cfg := toyConfig(t)
	cfg.Optimizer = "lbfgs"
	_, _, err := Train(context.Background(), cfg)
	assert.Error(t, err)

	cfg = toyConfig(t)
	cfg.TrainPath = filepath.Join(t.TempDir(), "missing.txt")
	_, _, err = Train(context.Background(), cfg)
	assert.Error(t, err)
}

func TestTrainCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, report, err := Train(ctx, toyConfig(t))
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Equal(t, 0, report.Epochs)
}

func TestLoadTagEvaluate(t *testing.T) {
	cfg := toyConfig(t)
	cfg.MaxEpoch = 30
	cfg.Optimizer = "adam"
	cfg.LR = 0.05
	_, _, err := Train(context.Background(), cfg)
	require.NoError(t, err)

	tg, err := Load(cfg.ModelDir, "")
	require.NoError(t, err)
	assert.Equal(t, 2, tg.Config().BatchSize)

	var out bytes.Buffer
	require.NoError(t, tg.TagFile(context.Background(), cfg.ValidPath, &out))
	assert.Equal(t, "D\nN\nV\n\nN\nV\n\n", out.String())

	output := filepath.Join(t.TempDir(), "decoded.txt")
	acc, err := Evaluate(context.Background(), tg, cfg.ValidPath, scorer.TokenAccuracy, output)
	require.NoError(t, err)
	assert.InDelta(t, 100, acc, 1e-9)
	assert.FileExists(t, output)

	empty, err := tg.Tag(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := toyConfig(t)
	cfg.MaxEpoch = 2
	tg, _, err := Train(context.Background(), cfg)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "copy")
	require.NoError(t, tg.Save(dir))
	back, err := Load(dir, "")
	require.NoError(t, err)
	assert.Equal(t, tg.Model().RunID, back.Model().RunID)
	assert.Equal(t, tg.Model().Bias, back.Model().Bias)

	words, err := os.ReadFile(filepath.Join(dir, WordFile))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(words), "the\t0\n"))
}

func TestLoadRejectsMismatchedLabels(t *testing.T) {
	cfg := toyConfig(t)
	cfg.MaxEpoch = 1
	_, _, err := Train(context.Background(), cfg)
	require.NoError(t, err)

	writeFile(t, cfg.ModelDir, LabelFile, "<pad>\t0\nX\t1\n")
	_, err = Load(cfg.ModelDir, "")
	assert.Error(t, err)
}

func TestTrainWithLexicon(t *testing.T) {
	var src strings.Builder
	src.WriteString("#info 2 2\n")
	sentences := [][]string{
		{"the", "cat", "sat"}, {"a", "dog", "ran"}, {"dog", "sat"}, {"the", "dog"}, {"a", "cat", "ran"},
		{"the", "cat", "ran"}, {"cat", "sat"},
	}
	for _, s := range sentences {
		src.WriteString(strings.Join(s, " ") + "\n")
		for i := range s {
			fmt.Fprintf(&src, "0.1 %d -0.2 %d\n", i, len(s)-i)
		}
		src.WriteString("\n")
	}
	lex, err := lexicon.Import(strings.NewReader(src.String()), 32<<20)
	require.NoError(t, err)

	cfg := toyConfig(t)
	cfg.MaxEpoch = 20
	cfg.LexiconPath = filepath.Join(t.TempDir(), "lexicon")
	require.NoError(t, lex.Save(cfg.LexiconPath))

	tg, report, err := Train(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, lexicon.Info{Dim: 2, Layers: 2}, tg.Model().Info)
	assert.Greater(t, report.BestValid, 0.0)

	_, err = Load(cfg.ModelDir, "")
	assert.NoError(t, err, "falls back to the lexicon named in config.yaml")

	_, err = tg.Tag(context.Background(), [][]string{{"unseen", "sentence"}})
	assert.ErrorIs(t, err, lexicon.ErrNotFound)
}

func TestTrainDropsStaleSnapshot(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	cfg := toyConfig(t)
	cfg.MaxEpoch = 2
	cfg.Script = writeFile(t, t.TempDir(), "never.sh", "#!/bin/sh\necho -1e9\n")
	require.NoError(t, os.Chmod(cfg.Script, 0o755))
	require.NoError(t, os.MkdirAll(cfg.ModelDir, 0o755))
	stale := writeFile(t, cfg.ModelDir, ModelFile, "{}")

	tg, report, err := Train(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrNoModel)
	assert.Nil(t, tg)
	require.NotNil(t, report)
	assert.Equal(t, 2, report.Epochs)
	assert.NoFileExists(t, stale)
}

func TestTrainRespectsLexiconLimit(t *testing.T) {
	lex, err := lexicon.Import(strings.NewReader("#info 1 1\nthe cat sat\n1\n2\n3\n"), 32<<20)
	require.NoError(t, err)

	cfg := toyConfig(t)
	cfg.LexiconPath = filepath.Join(t.TempDir(), "lexicon")
	require.NoError(t, lex.Save(cfg.LexiconPath))
	cfg.LexiconMaxBytes = 1 << 20

	_, _, err = Train(context.Background(), cfg)
	assert.ErrorIs(t, err, lexicon.ErrCapacity)
}
