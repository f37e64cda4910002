// Package tagger is the trainable sequence tagger: a linear emission scorer
// over word ids and precomputed contextual features, topped by a CRF.
//
// Emission scores for token t are
//
//	E[t] = W·mix(features[t]) + b + U[word[t]]
//
// where mix is the learned weighted sum of the feature layers. Without a
// lexicon the W term is absent.
package tagger

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/google/uuid"
	"github.com/happyhackingspace/seqtag/crf"
	"github.com/happyhackingspace/seqtag/internal/corpus"
	"github.com/happyhackingspace/seqtag/internal/lexicon"
	"github.com/happyhackingspace/seqtag/internal/vocab"
	"gonum.org/v1/gonum/mat"
)

// Options configures a Model.
type Options struct {
	WordPiece bool
	Policy    CandidatePolicy
	Reduction crf.Reduction
	Init      crf.Init
	Workers   int
	L2        float64
	ClipGrad  float64
	Seed      int64
}

// Model holds every learned parameter. A sync.RWMutex separates passes,
// which read parameters, from updates; Step additionally serializes with
// itself.
type Model struct {
	Labels *vocab.Dictionary
	Words  *vocab.Dictionary
	Info   lexicon.Info

	Projection   *mat.Dense // C×Dim, nil when Dim == 0
	Bias         []float64  // C
	WordScores   *mat.Dense // |V|×C
	LayerWeights []float64  // Layers
	Transitions  *crf.Transitions

	Options Options
	RunID   string

	mu     sync.RWMutex
	stepMu sync.Mutex
}

// Example is one encoded sentence.
type Example struct {
	Words    []int
	Labels   []int         // nil for unlabelled input
	Features [][][]float64 // [token][layer][dim], nil without a lexicon
}

// Len returns the number of tokens.
func (e Example) Len() int { return len(e.Words) }

// New creates an untrained model. labels must reserve id 0 for the pad
// label and, with word pieces, id 1 for the marker.
func New(labels, words *vocab.Dictionary, info lexicon.Info, opts Options) (*Model, error) {
	if labels.Label(0) != vocab.Pad {
		return nil, fmt.Errorf("tagger: label 0 must be %s, got %q", vocab.Pad, labels.Label(0))
	}
	if opts.WordPiece && labels.Label(1) != vocab.WordPiece {
		return nil, fmt.Errorf("tagger: label 1 must be %s when word pieces are considered", vocab.WordPiece)
	}
	if words.Len() == 0 {
		return nil, errors.New("tagger: empty word dictionary")
	}
	space, err := crf.NewLabelSpace(labels.Len(), 0)
	if err != nil {
		return nil, fmt.Errorf("tagger: %w", err)
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	m := &Model{
		Labels:      labels,
		Words:       words,
		Info:        info,
		Bias:        make([]float64, space.NumTags),
		WordScores:  mat.NewDense(words.Len(), space.NumTags, nil),
		Transitions: crf.NewTransitions(space, opts.Init, rng),
		Options:     opts,
		RunID:       uuid.NewString(),
	}
	if info.Dim > 0 {
		bound := 1 / math.Sqrt(float64(info.Dim))
		data := make([]float64, space.NumTags*info.Dim)
		for i := range data {
			data[i] = (2*rng.Float64() - 1) * bound
		}
		m.Projection = mat.NewDense(space.NumTags, info.Dim, data)
		m.LayerWeights = make([]float64, info.Layers)
		for i := range m.LayerWeights {
			m.LayerWeights[i] = rng.NormFloat64()
		}
	}
	return m, nil
}

// NumTags returns the size of the label space, pad included.
func (m *Model) NumTags() int { return m.Transitions.Space.NumTags }

// marker returns the word-piece marker id, or -1.
func (m *Model) marker() int {
	if !m.Options.WordPiece {
		return -1
	}
	return m.Labels.ID(vocab.WordPiece)
}

// Encode maps sentences to examples. lex may be nil only when the model
// was built without contextual features.
func (m *Model) Encode(sentences []corpus.Sentence, lex *lexicon.Lexicon) ([]Example, error) {
	if m.Info.Dim > 0 && lex == nil {
		return nil, errors.New("tagger: model needs a lexicon")
	}
	if lex != nil && m.Info.Dim > 0 && lex.Info() != m.Info {
		return nil, fmt.Errorf("tagger: lexicon shape %+v does not match model %+v", lex.Info(), m.Info)
	}
	out := make([]Example, len(sentences))
	for i, s := range sentences {
		ex := Example{Words: m.Words.IDs(s.Words)}
		if len(s.Labels) > 0 {
			if len(s.Labels) != len(s.Words) {
				return nil, fmt.Errorf("tagger: sentence %d has %d labels for %d words", i, len(s.Labels), len(s.Words))
			}
			ex.Labels = m.Labels.IDs(s.Labels)
		}
		if m.Info.Dim > 0 {
			feats, err := lex.Get(s.Words)
			if err != nil {
				return nil, fmt.Errorf("tagger: sentence %d: %w", i, err)
			}
			ex.Features = feats
		}
		out[i] = ex
	}
	return out, nil
}

func (m *Model) checkExample(i int, ex Example, needLabels bool) error {
	if ex.Len() == 0 {
		return fmt.Errorf("example %d: %w", i, crf.ErrEmptySequence)
	}
	if needLabels && len(ex.Labels) != ex.Len() {
		return fmt.Errorf("%w: example %d has %d labels for %d words", crf.ErrShape, i, len(ex.Labels), ex.Len())
	}
	for t, w := range ex.Words {
		if w < 0 || w >= m.Words.Len() {
			return fmt.Errorf("%w: example %d word id %d at %d outside vocabulary", crf.ErrShape, i, w, t)
		}
	}
	if m.Projection == nil {
		return nil
	}
	if len(ex.Features) != ex.Len() {
		return fmt.Errorf("%w: example %d has %d feature rows for %d words", crf.ErrShape, i, len(ex.Features), ex.Len())
	}
	for t, layers := range ex.Features {
		if len(layers) != m.Info.Layers {
			return fmt.Errorf("%w: example %d token %d has %d layers, want %d", crf.ErrShape, i, t, len(layers), m.Info.Layers)
		}
		for _, v := range layers {
			if len(v) != m.Info.Dim {
				return fmt.Errorf("%w: example %d token %d has width %d, want %d", crf.ErrShape, i, t, len(v), m.Info.Dim)
			}
		}
	}
	return nil
}

func (m *Model) layer() crf.Layer {
	return crf.Layer{Reduction: m.Options.Reduction, Workers: m.Options.Workers}
}
