package crf

import (
	"fmt"
	"math"
)

// Viterbi returns the highest-scoring tag sequence for emissions (valid
// positions only) together with its score.
//
// Among tied optima the lexicographically smallest path wins: the
// recursion runs over suffixes, then the path is read left to right
// taking the smallest tag that still reaches the optimum.
func Viterbi(trans *Transitions, emissions [][]float64) ([]int, float64, error) {
	if err := checkSequence(trans, emissions); err != nil {
		return nil, 0, err
	}
	T := len(emissions)
	space := trans.Space
	L := space.NumTags
	start, end := space.Start(), space.End()

	// beta[t][y] = best score of a suffix starting at time t with tag y
	beta := make([][]float64, T)
	// next[t][y] = smallest successor of y on that suffix, -1 at the last step
	next := make([][]int, T)

	beta[T-1] = make([]float64, L)
	next[T-1] = make([]int, L)
	for y := range L {
		beta[T-1][y] = emissions[T-1][y] + trans.At(y, end)
		next[T-1][y] = -1
	}

	for t := T - 2; t >= 0; t-- {
		beta[t] = make([]float64, L)
		next[t] = make([]int, L)
		for y := range L {
			bestScore := math.Inf(-1)
			bestNext := -1
			for yn := range L {
				score := trans.At(y, yn) + beta[t+1][yn]
				if score > bestScore {
					bestScore = score
					bestNext = yn
				}
			}
			beta[t][y] = emissions[t][y] + bestScore
			next[t][y] = bestNext
		}
	}

	bestScore := math.Inf(-1)
	bestLabel := -1
	for y := range L {
		if score := trans.At(start, y) + beta[0][y]; score > bestScore {
			bestScore = score
			bestLabel = y
		}
	}
	if bestLabel < 0 {
		return nil, 0, fmt.Errorf("%w: no path reaches END", ErrInfeasible)
	}

	path := make([]int, T)
	path[0] = bestLabel
	for t := 1; t < T; t++ {
		path[t] = next[t-1][path[t-1]]
	}
	return path, bestScore, nil
}
