package crf

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// lattice holds the log-domain forward (alpha) and backward (beta) tables of
// one sequence under a constraint. Entries for tags outside the constraint
// stay −∞.
type lattice struct {
	trans     *Transitions
	emissions [][]float64
	allowed   Constraint
	alpha     [][]float64
	beta      [][]float64
	logZ      float64
	scratch   []float64
}

func newLattice(trans *Transitions, emissions [][]float64, c Constraint) *lattice {
	return &lattice{
		trans:     trans,
		emissions: emissions,
		allowed:   c,
		scratch:   make([]float64, 0, trans.Space.NumTags),
	}
}

func negInfRow(n int) []float64 {
	row := make([]float64, n)
	for i := range row {
		row[i] = math.Inf(-1)
	}
	return row
}

// forward fills alpha and logZ.
//
//	α[0][c] = T[START][c] + E[0][c]
//	α[t][c] = E[t][c] + logsumexp_p(α[t-1][p] + T[p][c])
//	Z       = logsumexp_c(α[T-1][c] + T[c][END])
func (l *lattice) forward() error {
	n := len(l.emissions)
	if n == 0 {
		return ErrEmptySequence
	}
	space := l.trans.Space
	start, end := space.Start(), space.End()

	l.alpha = make([][]float64, n)
	l.alpha[0] = negInfRow(space.NumTags)
	for _, c := range l.allowed.Allowed(0) {
		l.alpha[0][c] = l.trans.At(start, c) + l.emissions[0][c]
	}
	if err := feasible(l.alpha[0], 0); err != nil {
		return err
	}

	for t := 1; t < n; t++ {
		l.alpha[t] = negInfRow(space.NumTags)
		prev := l.allowed.Allowed(t - 1)
		for _, c := range l.allowed.Allowed(t) {
			l.scratch = l.scratch[:0]
			for _, p := range prev {
				l.scratch = append(l.scratch, l.alpha[t-1][p]+l.trans.At(p, c))
			}
			l.alpha[t][c] = l.emissions[t][c] + floats.LogSumExp(l.scratch)
		}
		if err := feasible(l.alpha[t], t); err != nil {
			return err
		}
	}

	l.scratch = l.scratch[:0]
	for _, c := range l.allowed.Allowed(n - 1) {
		l.scratch = append(l.scratch, l.alpha[n-1][c]+l.trans.At(c, end))
	}
	l.logZ = floats.LogSumExp(l.scratch)
	switch {
	case math.IsInf(l.logZ, -1):
		return fmt.Errorf("%w: no path reaches END", ErrInfeasible)
	case math.IsNaN(l.logZ) || math.IsInf(l.logZ, 1):
		return fmt.Errorf("%w: log partition is %v", ErrNumerical, l.logZ)
	}
	return nil
}

// backward fills beta; forward must have succeeded first.
//
//	β[T-1][c] = T[c][END]
//	β[t][c]   = logsumexp_n(T[c][n] + E[t+1][n] + β[t+1][n])
func (l *lattice) backward() {
	n := len(l.emissions)
	space := l.trans.Space
	end := space.End()

	l.beta = make([][]float64, n)
	l.beta[n-1] = negInfRow(space.NumTags)
	for _, c := range l.allowed.Allowed(n - 1) {
		l.beta[n-1][c] = l.trans.At(c, end)
	}
	for t := n - 2; t >= 0; t-- {
		l.beta[t] = negInfRow(space.NumTags)
		next := l.allowed.Allowed(t + 1)
		for _, c := range l.allowed.Allowed(t) {
			l.scratch = l.scratch[:0]
			for _, nx := range next {
				l.scratch = append(l.scratch, l.trans.At(c, nx)+l.emissions[t+1][nx]+l.beta[t+1][nx])
			}
			l.beta[t][c] = floats.LogSumExp(l.scratch)
		}
	}
}

// accumulate adds sign times the expected feature counts of the lattice to
// the emission gradient gE ([T][C]) and the transition gradient gT.
func (l *lattice) accumulate(sign float64, gE [][]float64, gT *mat.Dense) {
	n := len(l.emissions)
	space := l.trans.Space
	start, end := space.Start(), space.End()

	for t := range n {
		for _, c := range l.allowed.Allowed(t) {
			m := math.Exp(l.alpha[t][c] + l.beta[t][c] - l.logZ)
			if m == 0 {
				continue
			}
			gE[t][c] += sign * m
			if t == 0 {
				gT.Set(start, c, gT.At(start, c)+sign*m)
			}
			if t == n-1 {
				gT.Set(c, end, gT.At(c, end)+sign*m)
			}
		}
	}
	for t := 1; t < n; t++ {
		for _, p := range l.allowed.Allowed(t - 1) {
			a := l.alpha[t-1][p]
			if math.IsInf(a, -1) {
				continue
			}
			for _, c := range l.allowed.Allowed(t) {
				x := math.Exp(a + l.trans.At(p, c) + l.emissions[t][c] + l.beta[t][c] - l.logZ)
				if x == 0 {
					continue
				}
				gT.Set(p, c, gT.At(p, c)+sign*x)
			}
		}
	}
}

// marginals returns P(tag_t = c) for every position and tag.
func (l *lattice) marginals() [][]float64 {
	out := make([][]float64, len(l.emissions))
	for t := range out {
		out[t] = make([]float64, l.trans.Space.NumTags)
		for _, c := range l.allowed.Allowed(t) {
			out[t][c] = math.Exp(l.alpha[t][c] + l.beta[t][c] - l.logZ)
		}
	}
	return out
}

func feasible(row []float64, t int) error {
	for _, v := range row {
		if !math.IsInf(v, -1) {
			if math.IsNaN(v) || math.IsInf(v, 1) {
				return fmt.Errorf("%w: score %v at position %d", ErrNumerical, v, t)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: every tag is unreachable at position %d", ErrInfeasible, t)
}

// Forward returns the log partition function over every tag sequence for
// emissions, whose rows are the valid positions only.
func Forward(trans *Transitions, emissions [][]float64) (float64, error) {
	return ConstrainedForward(trans, emissions, Unconstrain(trans.Space))
}

// ConstrainedForward returns the log partition function restricted to tag
// sequences admitted by c.
func ConstrainedForward(trans *Transitions, emissions [][]float64, c Constraint) (float64, error) {
	if err := checkSequence(trans, emissions); err != nil {
		return 0, err
	}
	l := newLattice(trans, emissions, c)
	if err := l.forward(); err != nil {
		return 0, err
	}
	return l.logZ, nil
}

// Marginals returns the posterior P(tag_t = c | emissions) of the
// unconstrained lattice.
func Marginals(trans *Transitions, emissions [][]float64) ([][]float64, error) {
	if err := checkSequence(trans, emissions); err != nil {
		return nil, err
	}
	l := newLattice(trans, emissions, Unconstrain(trans.Space))
	if err := l.forward(); err != nil {
		return nil, err
	}
	l.backward()
	return l.marginals(), nil
}

// GoldScore returns the score of one fully observed tag sequence. It adds
// terms in the same order as the forward recursion, so it equals
// ConstrainedForward with singleton candidate sets bit for bit.
func GoldScore(trans *Transitions, emissions [][]float64, tags []int) (float64, error) {
	if err := checkSequence(trans, emissions); err != nil {
		return 0, err
	}
	if len(tags) != len(emissions) {
		return 0, fmt.Errorf("%w: %d tags for %d positions", ErrShape, len(tags), len(emissions))
	}
	space := trans.Space
	for t, tag := range tags {
		if !space.Valid(tag) {
			return 0, fmt.Errorf("%w: tag %d at position %d outside [0,%d)", ErrShape, tag, t, space.NumTags)
		}
	}
	score := trans.At(space.Start(), tags[0]) + emissions[0][tags[0]]
	for t := 1; t < len(tags); t++ {
		score = emissions[t][tags[t]] + (score + trans.At(tags[t-1], tags[t]))
	}
	return score + trans.At(tags[len(tags)-1], space.End()), nil
}

func checkSequence(trans *Transitions, emissions [][]float64) error {
	if err := trans.check(); err != nil {
		return err
	}
	if len(emissions) == 0 {
		return ErrEmptySequence
	}
	for t, row := range emissions {
		if len(row) != trans.Space.NumTags {
			return fmt.Errorf("%w: emission row %d has %d scores, want %d", ErrShape, t, len(row), trans.Space.NumTags)
		}
		for c, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 1) {
				return fmt.Errorf("%w: emission[%d][%d] = %v", ErrNumerical, t, c, v)
			}
		}
	}
	return nil
}
