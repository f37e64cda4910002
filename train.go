package seqtag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/happyhackingspace/seqtag/crf"
	"github.com/happyhackingspace/seqtag/internal/batch"
	"github.com/happyhackingspace/seqtag/internal/config"
	"github.com/happyhackingspace/seqtag/internal/corpus"
	"github.com/happyhackingspace/seqtag/internal/lexicon"
	"github.com/happyhackingspace/seqtag/internal/optim"
	"github.com/happyhackingspace/seqtag/internal/scorer"
	"github.com/happyhackingspace/seqtag/internal/telemetry"
	"github.com/happyhackingspace/seqtag/internal/vocab"
	"github.com/happyhackingspace/seqtag/tagger"
)

// noScore is below every score a scorer can report.
const noScore = -1e8

// ErrNoModel is returned when no validation score ever set a record, so no
// snapshot was written.
var ErrNoModel = errors.New("seqtag: no validation score set a record; no model was saved")

// TrainReport summarizes a training run.
type TrainReport struct {
	RunID      string
	Epochs     int
	Steps      int
	EvalSteps  int
	BestValid  float64
	TestScore  float64 // test score at the best validation point
	HasTest    bool
	FinalLR    float64
	Train      corpus.Stats
	Valid      corpus.Stats
	Test       corpus.Stats
	Labels     int
	Vocabulary int
	Duration   time.Duration
}

type split struct {
	name     string
	gold     string
	examples []tagger.Example
}

// Train fits a model on cfg.TrainPath, keeping the snapshot that scores
// best on cfg.ValidPath in cfg.ModelDir, and returns that snapshot.
func Train(ctx context.Context, cfg config.Config) (*Tagger, *TrainReport, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("seqtag: %w", err)
	}
	started := time.Now()

	score, err := scorer.ByName(cfg.Script)
	if err != nil {
		return nil, nil, fmt.Errorf("seqtag: %w", err)
	}
	opt, err := optim.New(cfg.Optimizer)
	if err != nil {
		return nil, nil, fmt.Errorf("seqtag: %w", err)
	}
	opts, err := modelOptions(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("seqtag: %w", err)
	}

	trainSet, err := corpus.ReadFile(cfg.TrainPath)
	if err != nil {
		return nil, nil, fmt.Errorf("seqtag: read train: %w", err)
	}
	if len(trainSet) == 0 {
		return nil, nil, fmt.Errorf("seqtag: no sentences in %s", cfg.TrainPath)
	}
	validSet, err := corpus.ReadFile(cfg.ValidPath)
	if err != nil {
		return nil, nil, fmt.Errorf("seqtag: read valid: %w", err)
	}
	var testSet []corpus.Sentence
	if cfg.TestPath != "" {
		if testSet, err = corpus.ReadFile(cfg.TestPath); err != nil {
			return nil, nil, fmt.Errorf("seqtag: read test: %w", err)
		}
	}

	report := &TrainReport{
		BestValid: noScore,
		TestScore: noScore,
		HasTest:   cfg.TestPath != "",
		Train:     corpus.Summarize(trainSet),
		Valid:     corpus.Summarize(validSet),
		Test:      corpus.Summarize(testSet),
	}
	slog.Info("Corpus loaded",
		"train", report.Train.Sentences, "valid", report.Valid.Sentences, "test", report.Test.Sentences)
	slog.Info("Tokens",
		"train", report.Train.Tokens, "valid", report.Valid.Tokens, "test", report.Test.Tokens)

	var (
		lex  *lexicon.Lexicon
		info lexicon.Info
	)
	if cfg.LexiconPath != "" {
		if lex, err = lexicon.Open(cfg.LexiconPath, cfg.LexiconMaxBytes); err != nil {
			return nil, nil, fmt.Errorf("seqtag: %w", err)
		}
		info = lex.Info()
		slog.Info("Lexicon opened", "dim", info.Dim, "layers", info.Layers, "entries", lex.Entries())
	}

	labels := vocab.NewLabels(cfg.ConsiderWordPiece)
	for _, s := range trainSet {
		for _, l := range s.Labels {
			labels.Add(l)
		}
	}
	labels.Freeze()
	words := vocab.BuildWords(corpus.Words(trainSet), cfg.WordCut)
	words.Freeze()
	report.Labels, report.Vocabulary = labels.Len(), words.Len()
	slog.Info("Dictionaries built", "tags", labels.Len(), "vocab", words.Len())

	model, err := tagger.New(labels, words, info, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("seqtag: %w", err)
	}
	report.RunID = model.RunID
	t := &Tagger{model: model, lex: lex, config: cfg}

	train, err := model.Encode(trainSet, lex)
	if err != nil {
		return nil, nil, fmt.Errorf("seqtag: train: %w", err)
	}
	valid := split{name: "valid", gold: cfg.GoldValidPath}
	if valid.examples, err = model.Encode(validSet, lex); err != nil {
		return nil, nil, fmt.Errorf("seqtag: valid: %w", err)
	}
	var test *split
	if report.HasTest {
		test = &split{name: "test", gold: cfg.GoldTestPath}
		if test.examples, err = model.Encode(testSet, lex); err != nil {
			return nil, nil, fmt.Errorf("seqtag: test: %w", err)
		}
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	lengths := make([]int, len(train))
	for i, ex := range train {
		lengths[i] = ex.Len()
	}
	plan, err := batch.Build(lengths, cfg.BatchSize, batch.Options{Shuffle: true, Sort: true, Rand: rng})
	if err != nil {
		return nil, nil, fmt.Errorf("seqtag: %w", err)
	}
	evalSteps := cfg.EvalSteps
	if evalSteps <= 0 || evalSteps > plan.Len() {
		evalSteps = plan.Len()
	}
	report.EvalSteps = evalSteps
	slog.Info("Batches", "count", plan.Len(), "avg_len", float64(report.Train.Tokens)/float64(len(train)), "eval_steps", evalSteps)

	// The dictionaries and config go out before the first snapshot.
	if err := os.MkdirAll(cfg.ModelDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("seqtag: %w", err)
	}
	if err := os.Remove(filepath.Join(cfg.ModelDir, ModelFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("seqtag: remove stale snapshot: %w", err)
	}
	if err := writeDictionaries(cfg.ModelDir, model); err != nil {
		return nil, nil, fmt.Errorf("seqtag: %w", err)
	}
	if err := cfg.Save(filepath.Join(cfg.ModelDir, ConfigFile)); err != nil {
		return nil, nil, fmt.Errorf("seqtag: %w", err)
	}

	lr := cfg.LR
	for epoch := range cfg.MaxEpoch {
		if err := ctx.Err(); err != nil {
			return nil, report, err
		}
		if err := t.runEpoch(ctx, epoch, lr, opt, train, plan, rng, score, valid, test, report); err != nil {
			return nil, report, err
		}
		report.Epochs = epoch + 1
		if cfg.LRDecay > 0 {
			lr *= cfg.LRDecay
		}
	}
	report.FinalLR = lr
	report.Duration = time.Since(started)

	slog.Info("Layer weights", "weights", model.LayerWeights)
	slog.Info("Training finished", "best_valid", report.BestValid, "test", report.TestScore, "duration", report.Duration.Round(time.Millisecond))

	if report.BestValid == noScore {
		return nil, report, ErrNoModel
	}
	best, err := Load(cfg.ModelDir, cfg.LexiconPath)
	if err != nil {
		return nil, report, err
	}
	return best, report, nil
}

func (t *Tagger) runEpoch(ctx context.Context, epoch int, lr float64, opt optim.Optimizer,
	train []tagger.Example, plan batch.Plan, rng *rand.Rand, score scorer.Func,
	valid split, test *split, report *TrainReport) error {
	cfg := t.config
	order := rng.Perm(plan.Len())

	var totalLoss float64
	start := time.Now()
	for i, bi := range order {
		cnt := i + 1
		idx := plan.Batches[bi]
		examples := make([]tagger.Example, len(idx))
		for j, k := range idx {
			examples[j] = train[k]
		}
		res, err := t.model.Step(ctx, examples, opt, lr)
		if err != nil {
			return fmt.Errorf("seqtag: epoch %d batch %d: %w", epoch, cnt, err)
		}
		report.Steps++
		totalLoss += res.Loss

		if cnt*cfg.BatchSize%1024 == 0 {
			slog.Info("Training",
				"epoch", epoch, "iter", cnt, "lr", lr,
				"train_ave_loss", res.CRFLoss/float64(res.Tokens),
				"time", time.Since(start).Round(time.Millisecond))
			start = time.Now()
		} else {
			slog.Debug("Step", "epoch", epoch, "iter", cnt, "loss", res.Loss, "grad_norm", res.GradNorm)
		}

		if cnt%report.EvalSteps != 0 {
			continue
		}
		validScore, err := t.score(ctx, valid, score)
		if err != nil {
			return err
		}
		slog.Info("Validation", "epoch", epoch, "iter", cnt, "lr", lr, "train_loss", totalLoss, "valid", validScore)
		if validScore <= report.BestValid {
			continue
		}
		if err := t.model.Save(filepath.Join(cfg.ModelDir, ModelFile)); err != nil {
			return fmt.Errorf("seqtag: %w", err)
		}
		slog.Info("New record achieved!", "valid", validScore, "version", res.Version)
		report.BestValid = validScore
		if test != nil {
			testScore, err := t.score(ctx, *test, score)
			if err != nil {
				return err
			}
			report.TestScore = testScore
			slog.Info("Test", "epoch", epoch, "iter", cnt, "lr", lr, "test", testScore)
		}
	}
	return nil
}

func (t *Tagger) score(ctx context.Context, s split, score scorer.Func) (float64, error) {
	if len(s.examples) == 0 {
		return 0, fmt.Errorf("seqtag: %s set is empty", s.name)
	}
	output := ""
	if t.config.OutputPath != "" {
		output = t.config.OutputPath + "." + s.name
	}
	v, err := evaluate(ctx, t.model, s.examples, t.config.BatchSize, s.gold, score, output)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", s.name, err)
	}
	telemetry.RecordScore(ctx, s.name, v)
	return v, nil
}

func modelOptions(cfg config.Config) (tagger.Options, error) {
	opts := tagger.Options{
		WordPiece: cfg.ConsiderWordPiece,
		Workers:   cfg.Workers,
		L2:        cfg.L2,
		ClipGrad:  cfg.ClipGrad,
		Seed:      cfg.Seed,
	}
	var err error
	if opts.Policy, err = tagger.ParsePolicy(cfg.WordPiecePolicy); err != nil {
		return opts, err
	}
	if opts.Reduction, err = crf.ParseReduction(cfg.Reduction); err != nil {
		return opts, err
	}
	if opts.Init, err = crf.ParseInit(cfg.Init); err != nil {
		return opts, err
	}
	if cfg.BatchSize <= 0 {
		return opts, errors.New("batch size must be positive")
	}
	return opts, nil
}
