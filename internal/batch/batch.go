// Package batch groups sentences into length-sorted batches and undoes the
// sort afterwards.
package batch

import (
	"fmt"
	"math/rand"
	"sort"
)

// Options controls how sentences are grouped.
type Options struct {
	// Shuffle permutes sentences before sorting so equal-length sentences
	// land in different batches across epochs.
	Shuffle bool
	// Sort orders sentences by length, longest first.
	Sort bool
	// KeepFull cuts a batch early so all its sentences share one length.
	KeepFull bool
	// Rand drives Shuffle; nil uses a fixed seed.
	Rand *rand.Rand
}

// Plan is a batching of n sentences.
type Plan struct {
	// Batches holds sentence indices, in emission order.
	Batches [][]int
	// Order maps an original sentence index to its position in the
	// concatenation of Batches.
	Order []int
}

// Build groups len(lengths) sentences into batches of at most size.
func Build(lengths []int, size int, opts Options) (Plan, error) {
	if size <= 0 {
		return Plan{}, fmt.Errorf("batch: size must be positive, got %d", size)
	}
	n := len(lengths)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	if opts.Shuffle {
		rng := opts.Rand
		if rng == nil {
			rng = rand.New(rand.NewSource(1))
		}
		rng.Shuffle(n, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	}
	if opts.Sort {
		sort.SliceStable(idx, func(a, b int) bool { return lengths[idx[a]] > lengths[idx[b]] })
	}

	var plan Plan
	for start := 0; start < n; {
		end := min(start+size, n)
		if opts.KeepFull && lengths[idx[start]] != lengths[idx[end-1]] {
			end = start + 1
			for end < n && lengths[idx[end]] == lengths[idx[start]] {
				end++
			}
		}
		plan.Batches = append(plan.Batches, idx[start:end:end])
		start = end
	}

	plan.Order = make([]int, n)
	for pos, orig := range idx {
		plan.Order[orig] = pos
	}
	return plan, nil
}

// Len returns the number of batches.
func (p Plan) Len() int { return len(p.Batches) }

// Restore puts items produced in emission order back into original order.
func Restore[T any](order []int, items []T) ([]T, error) {
	if len(order) != len(items) {
		return nil, fmt.Errorf("batch: %d items for %d positions", len(items), len(order))
	}
	out := make([]T, len(items))
	for orig, pos := range order {
		out[orig] = items[pos]
	}
	return out, nil
}
