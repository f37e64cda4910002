package tagger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/happyhackingspace/seqtag/crf"
	"github.com/happyhackingspace/seqtag/internal/lexicon"
	"github.com/happyhackingspace/seqtag/internal/vocab"
	"gonum.org/v1/gonum/mat"
)

// ErrChecksumMismatch is returned when a snapshot's parameters do not hash
// to the stored checksum.
var ErrChecksumMismatch = errors.New("tagger: snapshot checksum mismatch")

const snapshotFormat = 1

type snapshot struct {
	Format   int               `json:"format"`
	RunID    string            `json:"run_id"`
	Labels   *vocab.Dictionary `json:"labels"`
	Words    *vocab.Dictionary `json:"words"`
	Info     lexicon.Info      `json:"info"`
	Options  optionsJSON       `json:"options"`
	Checksum string            `json:"checksum"`
	Params   json.RawMessage   `json:"params"`
}

type optionsJSON struct {
	WordPiece bool    `json:"word_piece"`
	Policy    string  `json:"word_piece_policy"`
	Reduction string  `json:"reduction"`
	Init      string  `json:"init"`
	Workers   int     `json:"workers"`
	L2        float64 `json:"l2"`
	ClipGrad  float64 `json:"clip_grad"`
	Seed      int64   `json:"seed"`
}

// paramsJSON carries matrices as gonum binaries so every bit survives.
type paramsJSON struct {
	Projection   []byte           `json:"projection,omitempty"`
	Bias         []float64        `json:"bias"`
	WordScores   []byte           `json:"word_scores"`
	LayerWeights []float64        `json:"layer_weights,omitempty"`
	Transitions  *crf.Transitions `json:"transitions"`
}

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Marshal serializes the model to JSON bytes.
func (m *Model) Marshal() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p := paramsJSON{Bias: m.Bias, LayerWeights: m.LayerWeights, Transitions: m.Transitions}
	var err error
	if p.WordScores, err = m.WordScores.MarshalBinary(); err != nil {
		return nil, fmt.Errorf("tagger: encode word scores: %w", err)
	}
	if m.Projection != nil {
		if p.Projection, err = m.Projection.MarshalBinary(); err != nil {
			return nil, fmt.Errorf("tagger: encode projection: %w", err)
		}
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("tagger: %w", err)
	}
	o := m.Options
	return json.Marshal(snapshot{
		Format: snapshotFormat,
		RunID:  m.RunID,
		Labels: m.Labels,
		Words:  m.Words,
		Info:   m.Info,
		Options: optionsJSON{
			WordPiece: o.WordPiece,
			Policy:    o.Policy.String(),
			Reduction: o.Reduction.String(),
			Init:      initName(o.Init),
			Workers:   o.Workers,
			L2:        o.L2,
			ClipGrad:  o.ClipGrad,
			Seed:      o.Seed,
		},
		Checksum: checksum(raw),
		Params:   raw,
	})
}

func initName(i crf.Init) string {
	if i == crf.InitRandom {
		return "random"
	}
	return "zero"
}

// Unmarshal restores a model from Marshal output, verifying the checksum
// and every parameter shape.
func Unmarshal(data []byte) (*Model, error) {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("tagger: %w", err)
	}
	if s.Format != snapshotFormat {
		return nil, fmt.Errorf("tagger: unsupported snapshot format %d", s.Format)
	}
	if checksum(s.Params) != s.Checksum {
		return nil, ErrChecksumMismatch
	}
	if s.Labels == nil || s.Words == nil {
		return nil, errors.New("tagger: snapshot lacks dictionaries")
	}
	s.Labels.Reindex()
	s.Words.Reindex()

	opts := Options{
		WordPiece: s.Options.WordPiece,
		Workers:   s.Options.Workers,
		L2:        s.Options.L2,
		ClipGrad:  s.Options.ClipGrad,
		Seed:      s.Options.Seed,
	}
	var err error
	if opts.Policy, err = ParsePolicy(s.Options.Policy); err != nil {
		return nil, err
	}
	if opts.Reduction, err = crf.ParseReduction(s.Options.Reduction); err != nil {
		return nil, fmt.Errorf("tagger: %w", err)
	}
	if opts.Init, err = crf.ParseInit(s.Options.Init); err != nil {
		return nil, fmt.Errorf("tagger: %w", err)
	}

	var p paramsJSON
	if err := json.Unmarshal(s.Params, &p); err != nil {
		return nil, fmt.Errorf("tagger: params: %w", err)
	}
	if p.Transitions == nil {
		return nil, errors.New("tagger: snapshot lacks transitions")
	}

	m := &Model{
		Labels:       s.Labels,
		Words:        s.Words,
		Info:         s.Info,
		Bias:         p.Bias,
		LayerWeights: p.LayerWeights,
		Transitions:  p.Transitions,
		Options:      opts,
		RunID:        s.RunID,
	}
	C := s.Labels.Len()
	if m.Transitions.Space.NumTags != C {
		return nil, fmt.Errorf("%w: transitions cover %d tags, labels %d", crf.ErrShape, m.Transitions.Space.NumTags, C)
	}
	if len(m.Bias) != C {
		return nil, fmt.Errorf("%w: bias has %d entries, want %d", crf.ErrShape, len(m.Bias), C)
	}

	m.WordScores = new(mat.Dense)
	if err := m.WordScores.UnmarshalBinary(p.WordScores); err != nil {
		return nil, fmt.Errorf("tagger: decode word scores: %w", err)
	}
	if r, c := m.WordScores.Dims(); r != s.Words.Len() || c != C {
		return nil, fmt.Errorf("%w: word scores are %d×%d, want %d×%d", crf.ErrShape, r, c, s.Words.Len(), C)
	}

	if s.Info.Dim > 0 {
		m.Projection = new(mat.Dense)
		if err := m.Projection.UnmarshalBinary(p.Projection); err != nil {
			return nil, fmt.Errorf("tagger: decode projection: %w", err)
		}
		if r, c := m.Projection.Dims(); r != C || c != s.Info.Dim {
			return nil, fmt.Errorf("%w: projection is %d×%d, want %d×%d", crf.ErrShape, r, c, C, s.Info.Dim)
		}
		if len(m.LayerWeights) != s.Info.Layers {
			return nil, fmt.Errorf("%w: %d layer weights, want %d", crf.ErrShape, len(m.LayerWeights), s.Info.Layers)
		}
	}
	return m, nil
}

// Save writes the model snapshot to path.
func (m *Model) Save(path string) error {
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Load reads a model snapshot from path.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tagger: %w", err)
	}
	return Unmarshal(data)
}
