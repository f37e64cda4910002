package crf

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// Reduction selects how per-row losses are combined into the batch loss.
type Reduction int

const (
	// Sum adds the per-row losses.
	Sum Reduction = iota
	// TokenMean divides the summed loss by the number of valid tokens.
	TokenMean
)

// ParseReduction maps a config string to a Reduction.
func ParseReduction(s string) (Reduction, error) {
	switch s {
	case "", "sum":
		return Sum, nil
	case "mean", "token-mean":
		return TokenMean, nil
	}
	return 0, fmt.Errorf("crf: unknown reduction %q", s)
}

// String implements fmt.Stringer.
func (r Reduction) String() string {
	if r == TokenMean {
		return "mean"
	}
	return "sum"
}

// Batch is a padded batch of emission scores. Emissions[i] has one row per
// padded position; only the first Lengths[i] rows are scored.
type Batch struct {
	Emissions [][][]float64
	Lengths   []int
}

// Tokens returns the number of valid positions in the batch.
func (b Batch) Tokens() int {
	n := 0
	for _, l := range b.Lengths {
		n += l
	}
	return n
}

func (b Batch) check(space LabelSpace) error {
	if len(b.Emissions) != len(b.Lengths) {
		return fmt.Errorf("%w: %d emission rows but %d lengths", ErrShape, len(b.Emissions), len(b.Lengths))
	}
	for i, em := range b.Emissions {
		l := b.Lengths[i]
		if l <= 0 {
			return fmt.Errorf("row %d: %w", i, ErrEmptySequence)
		}
		if l > len(em) {
			return fmt.Errorf("%w: row %d has length %d but %d positions", ErrShape, i, l, len(em))
		}
		for t := range l {
			if len(em[t]) != space.NumTags {
				return fmt.Errorf("%w: row %d position %d has %d scores, want %d", ErrShape, i, t, len(em[t]), space.NumTags)
			}
		}
	}
	return nil
}

// Gradient holds ∂loss/∂emissions per row (zero beyond the valid length) and
// ∂loss/∂transitions.
type Gradient struct {
	Emissions   [][][]float64
	Transitions *mat.Dense
}

// Result is the outcome of a loss pass.
type Result struct {
	Loss    float64
	Tokens  int
	RowLoss []float64
	Grad    *Gradient
}

// Layer is the fully supervised CRF head.
type Layer struct {
	Reduction Reduction
	// Workers bounds the rows scored concurrently; 0 means GOMAXPROCS.
	Workers int
}

// Loss returns the negative log-likelihood of the gold labels. labels[i] must
// have one entry per padded position of batch row i; entries past the valid
// length are ignored. Gradients are filled in when withGrad is set.
func (l *Layer) Loss(trans *Transitions, batch Batch, labels [][]int, withGrad bool) (*Result, error) {
	if len(labels) != len(batch.Emissions) {
		return nil, fmt.Errorf("%w: %d label rows for %d emission rows", ErrShape, len(labels), len(batch.Emissions))
	}
	return l.run(trans, batch, withGrad, func(i int) (Constraint, error) {
		if len(labels[i]) != len(batch.Emissions[i]) {
			return nil, fmt.Errorf("%w: row %d has %d labels for %d positions", ErrShape, i, len(labels[i]), len(batch.Emissions[i]))
		}
		gold := labels[i][:batch.Lengths[i]]
		for t, tag := range gold {
			if !trans.Space.Valid(tag) {
				return nil, fmt.Errorf("%w: row %d tag %d at position %d outside [0,%d)", ErrShape, i, tag, t, trans.Space.NumTags)
			}
		}
		return Gold(gold), nil
	})
}

// Decode returns the Viterbi path of every row, each as long as its valid
// length.
func (l *Layer) Decode(trans *Transitions, batch Batch) ([][]int, error) {
	if err := trans.check(); err != nil {
		return nil, err
	}
	if err := batch.check(trans.Space); err != nil {
		return nil, err
	}
	paths := make([][]int, len(batch.Emissions))
	g := new(errgroup.Group)
	g.SetLimit(l.workers())
	for i := range batch.Emissions {
		g.Go(func() error {
			path, _, err := Viterbi(trans, batch.Emissions[i][:batch.Lengths[i]])
			if err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
			paths[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

func (l *Layer) workers() int {
	if l.Workers > 0 {
		return l.Workers
	}
	return runtime.GOMAXPROCS(0)
}

type rowResult struct {
	loss   float64
	gE     [][]float64
	gTrans *mat.Dense
}

// run scores every row against the unconstrained lattice and the lattice
// restricted by constraintFor(i). The loss of a row is Z_total − Z_restricted.
func (l *Layer) run(trans *Transitions, batch Batch, withGrad bool, constraintFor func(i int) (Constraint, error)) (*Result, error) {
	if err := trans.check(); err != nil {
		return nil, err
	}
	if err := batch.check(trans.Space); err != nil {
		return nil, err
	}
	constraints := make([]Constraint, len(batch.Emissions))
	for i := range constraints {
		c, err := constraintFor(i)
		if err != nil {
			return nil, err
		}
		constraints[i] = c
	}

	space := trans.Space
	free := Unconstrain(space)
	rows := make([]rowResult, len(batch.Emissions))
	g := new(errgroup.Group)
	g.SetLimit(l.workers())
	for i := range batch.Emissions {
		g.Go(func() error {
			em := batch.Emissions[i][:batch.Lengths[i]]
			total := newLattice(trans, em, free)
			if err := total.forward(); err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
			restricted := newLattice(trans, em, constraints[i])
			if err := restricted.forward(); err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
			rows[i].loss = total.logZ - restricted.logZ
			if !withGrad {
				return nil
			}
			total.backward()
			restricted.backward()
			gE := make([][]float64, len(batch.Emissions[i]))
			for t := range gE {
				gE[t] = make([]float64, space.NumTags)
			}
			gT := mat.NewDense(space.Size(), space.Size(), nil)
			total.accumulate(1, gE, gT)
			restricted.accumulate(-1, gE, gT)
			rows[i].gE = gE
			rows[i].gTrans = gT
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Tokens: batch.Tokens(), RowLoss: make([]float64, len(rows))}
	for i, r := range rows {
		res.RowLoss[i] = r.loss
		res.Loss += r.loss
	}
	scale := 1.0
	if l.Reduction == TokenMean && res.Tokens > 0 {
		scale = 1 / float64(res.Tokens)
		res.Loss *= scale
	}
	if withGrad {
		grad := &Gradient{
			Emissions:   make([][][]float64, len(rows)),
			Transitions: mat.NewDense(space.Size(), space.Size(), nil),
		}
		// Rows are summed in order so the result does not depend on scheduling.
		for i, r := range rows {
			grad.Transitions.Add(grad.Transitions, r.gTrans)
			if scale != 1 {
				for _, row := range r.gE {
					for c := range row {
						row[c] *= scale
					}
				}
			}
			grad.Emissions[i] = r.gE
		}
		if scale != 1 {
			grad.Transitions.Scale(scale, grad.Transitions)
		}
		res.Grad = grad
	}
	return res, nil
}

// PartialLayer is the CRF head trained from per-position candidate sets.
// Decoding is unconstrained and identical to Layer.Decode.
type PartialLayer struct {
	Layer
}

// Loss returns Z_total − Z_partial summed (or averaged) over the batch.
// candidates[i] must have one set per padded position of row i; sets past
// the valid length are ignored.
func (l *PartialLayer) Loss(trans *Transitions, batch Batch, candidates [][][]int, withGrad bool) (*Result, error) {
	if len(candidates) != len(batch.Emissions) {
		return nil, fmt.Errorf("%w: %d candidate rows for %d emission rows", ErrShape, len(candidates), len(batch.Emissions))
	}
	return l.run(trans, batch, withGrad, func(i int) (Constraint, error) {
		if len(candidates[i]) != len(batch.Emissions[i]) {
			return nil, fmt.Errorf("%w: row %d has %d candidate sets for %d positions", ErrShape, i, len(candidates[i]), len(batch.Emissions[i]))
		}
		c, err := NewCandidates(trans.Space, candidates[i], batch.Lengths[i])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		return c, nil
	})
}
