// Package crf implements the linear-chain Conditional Random Field head used
// by the sequence tagger.
//
// All scoring runs in the log domain. Forward computes the log partition
// function, Viterbi the best tag sequence, and ConstrainedForward the
// partition function restricted to per-position candidate sets (partial
// supervision). Layer and PartialLayer run these over a padded batch.
package crf

import (
	"errors"
	"fmt"
)

// Errors returned by the engine. A batch that fails with any of them is
// aborted as a whole.
var (
	ErrShape         = errors.New("crf: shape mismatch")
	ErrEmptySequence = errors.New("crf: empty sequence")
	ErrInfeasible    = errors.New("crf: infeasible lattice")
	ErrNumerical     = errors.New("crf: non-finite score")
)

// NoPad marks a label space without a reserved pad tag.
const NoPad = -1

// LabelSpace describes the tag ids seen by the CRF. Real tags and the pad
// tag live in [0, NumTags); START and END are virtual and only index the
// transition matrix.
type LabelSpace struct {
	NumTags int `json:"num_tags"`
	Pad     int `json:"pad"`
}

// NewLabelSpace returns a label space with numTags tags. pad is the reserved
// pad id, or NoPad.
func NewLabelSpace(numTags, pad int) (LabelSpace, error) {
	if numTags <= 0 {
		return LabelSpace{}, fmt.Errorf("%w: label space needs at least one tag, got %d", ErrShape, numTags)
	}
	if pad != NoPad && (pad < 0 || pad >= numTags) {
		return LabelSpace{}, fmt.Errorf("%w: pad id %d outside [0,%d)", ErrShape, pad, numTags)
	}
	return LabelSpace{NumTags: numTags, Pad: pad}, nil
}

// Start is the row index of the virtual START tag.
func (s LabelSpace) Start() int { return s.NumTags }

// End is the column index of the virtual END tag.
func (s LabelSpace) End() int { return s.NumTags + 1 }

// Size is the transition matrix dimension, NumTags+2.
func (s LabelSpace) Size() int { return s.NumTags + 2 }

// HasPad reports whether a pad tag is reserved.
func (s LabelSpace) HasPad() bool { return s.Pad != NoPad }

// Valid reports whether tag is a per-position tag id.
func (s LabelSpace) Valid(tag int) bool {
	return tag >= 0 && tag < s.NumTags
}

// Tags returns every per-position tag id in ascending order.
func (s LabelSpace) Tags() []int {
	tags := make([]int, s.NumTags)
	for i := range tags {
		tags[i] = i
	}
	return tags
}

// forbidden reports whether a transition can never be taken: anything into
// START, out of END, or touching the pad tag.
func (s LabelSpace) forbidden(from, to int) bool {
	if to == s.Start() || from == s.End() {
		return true
	}
	return s.HasPad() && (from == s.Pad || to == s.Pad)
}
