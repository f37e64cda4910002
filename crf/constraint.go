package crf

import (
	"fmt"
	"slices"
)

// Constraint supplies the tags admissible at each position of a lattice.
// Allowed must return a non-empty, ascending, duplicate-free slice that the
// caller will not modify.
type Constraint interface {
	Allowed(t int) []int
}

// Unconstrained admits every tag at every position.
type Unconstrained struct {
	tags []int
}

// Unconstrain returns the constraint that admits the whole label space.
func Unconstrain(space LabelSpace) Unconstrained {
	return Unconstrained{tags: space.Tags()}
}

// Allowed implements Constraint.
func (u Unconstrained) Allowed(int) []int { return u.tags }

// Candidates holds one explicit candidate set per position.
type Candidates [][]int

// Allowed implements Constraint.
func (c Candidates) Allowed(t int) []int { return c[t] }

// Gold turns a fully observed tag sequence into singleton candidate sets.
func Gold(tags []int) Candidates {
	c := make(Candidates, len(tags))
	for t, tag := range tags {
		c[t] = []int{tag}
	}
	return c
}

// NewCandidates validates raw per-position sets against space and returns
// them sorted and deduplicated. Only the first length positions are kept.
func NewCandidates(space LabelSpace, sets [][]int, length int) (Candidates, error) {
	if length > len(sets) {
		return nil, fmt.Errorf("%w: %d candidate sets for length %d", ErrShape, len(sets), length)
	}
	c := make(Candidates, length)
	for t := range length {
		if len(sets[t]) == 0 {
			return nil, fmt.Errorf("%w: empty candidate set at position %d", ErrShape, t)
		}
		set := slices.Clone(sets[t])
		slices.Sort(set)
		set = slices.Compact(set)
		for _, tag := range set {
			if !space.Valid(tag) {
				return nil, fmt.Errorf("%w: candidate tag %d at position %d outside [0,%d)", ErrShape, tag, t, space.NumTags)
			}
		}
		c[t] = set
	}
	return c, nil
}
