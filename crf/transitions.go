package crf

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Init selects how a fresh transition matrix is filled.
type Init int

const (
	// InitZero starts every allowed transition at 0.
	InitZero Init = iota
	// InitRandom draws allowed transitions from N(0, 0.1²).
	InitRandom
)

// ParseInit maps a config string to an Init.
func ParseInit(s string) (Init, error) {
	switch s {
	case "", "zero":
		return InitZero, nil
	case "random":
		return InitRandom, nil
	}
	return 0, fmt.Errorf("crf: unknown init %q", s)
}

// Transitions is the learned (C+2)×(C+2) transition matrix. W[a][b] scores
// the move from tag a to tag b; row C is START and column C+1 is END.
//
// A pass only reads the matrix. Updates happen between passes through
// Params and Commit, and every Commit bumps Version.
type Transitions struct {
	Space   LabelSpace
	W       *mat.Dense
	Version uint64
}

// NewTransitions creates a transition matrix for space. rng is only used by
// InitRandom and may be nil otherwise.
func NewTransitions(space LabelSpace, init Init, rng *rand.Rand) *Transitions {
	n := space.Size()
	t := &Transitions{Space: space, W: mat.NewDense(n, n, nil)}
	if init == InitRandom {
		if rng == nil {
			rng = rand.New(rand.NewSource(1))
		}
		for a := range n {
			for b := range n {
				t.W.Set(a, b, rng.NormFloat64()*0.1)
			}
		}
	}
	t.enforce()
	return t
}

// At returns the score of moving from tag a to tag b.
func (t *Transitions) At(a, b int) float64 {
	return t.W.At(a, b)
}

// Set overwrites one transition score. Forbidden transitions stay −∞.
func (t *Transitions) Set(a, b int, v float64) {
	if t.Space.forbidden(a, b) {
		return
	}
	t.W.Set(a, b, v)
}

// Params exposes the row-major backing array for an optimizer step. Callers
// must call Commit once they are done writing.
func (t *Transitions) Params() []float64 {
	return t.W.RawMatrix().Data
}

// Commit re-applies the forbidden entries and bumps Version.
func (t *Transitions) Commit() {
	t.enforce()
	t.Version++
}

// Clone returns an independent copy, including Version.
func (t *Transitions) Clone() *Transitions {
	return &Transitions{Space: t.Space, W: mat.DenseCopyOf(t.W), Version: t.Version}
}

func (t *Transitions) enforce() {
	n := t.Space.Size()
	negInf := math.Inf(-1)
	for a := range n {
		for b := range n {
			if t.Space.forbidden(a, b) {
				t.W.Set(a, b, negInf)
			}
		}
	}
}

// check rejects matrices whose shape disagrees with the label space or that
// hold NaN or +Inf.
func (t *Transitions) check() error {
	if t == nil || t.W == nil {
		return fmt.Errorf("%w: nil transition matrix", ErrShape)
	}
	r, c := t.W.Dims()
	if n := t.Space.Size(); r != n || c != n {
		return fmt.Errorf("%w: transition matrix is %dx%d, want %dx%d", ErrShape, r, c, n, n)
	}
	for a := range r {
		for b := range c {
			if v := t.W.At(a, b); math.IsNaN(v) || math.IsInf(v, 1) {
				return fmt.Errorf("%w: transition[%d][%d] = %v", ErrNumerical, a, b, v)
			}
		}
	}
	return nil
}
