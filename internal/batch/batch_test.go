package batch

import (
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSorted(t *testing.T) {
	lengths := []int{2, 5, 3, 5, 1}
	plan, err := Build(lengths, 2, Options{Sort: true})
	require.NoError(t, err)
	assert.Equal(t, [][]int{{1, 3}, {2, 0}, {4}}, plan.Batches)
	assert.Equal(t, []int{3, 0, 2, 1, 4}, plan.Order)
}

func TestBuildUnsorted(t *testing.T) {
	plan, err := Build([]int{1, 2, 3}, 2, Options{})
	require.NoError(t, err)
	assert.Equal(t, [][]int{{0, 1}, {2}}, plan.Batches)
	assert.Equal(t, 2, plan.Len())
}

func TestBuildKeepFull(t *testing.T) {
	lengths := []int{3, 3, 3, 2, 2, 1}
	plan, err := Build(lengths, 4, Options{Sort: true, KeepFull: true})
	require.NoError(t, err)
	assert.Equal(t, [][]int{{0, 1, 2}, {3, 4}, {5}}, plan.Batches)
	for _, b := range plan.Batches {
		for _, i := range b {
			assert.Equal(t, lengths[b[0]], lengths[i])
		}
	}
}

func TestBuildShuffleIsSeeded(t *testing.T) {
	lengths := make([]int, 50)
	for i := range lengths {
		lengths[i] = i%4 + 1
	}
	a, err := Build(lengths, 8, Options{Shuffle: true, Sort: true, Rand: rand.New(rand.NewSource(42))})
	require.NoError(t, err)
	b, err := Build(lengths, 8, Options{Shuffle: true, Sort: true, Rand: rand.New(rand.NewSource(42))})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	var flat []int
	for _, batch := range a.Batches {
		flat = append(flat, batch...)
	}
	assert.True(t, slices.IsSortedFunc(flat, func(x, y int) int { return lengths[y] - lengths[x] }))
	slices.Sort(flat)
	for i, v := range flat {
		assert.Equal(t, i, v)
	}
}

func TestRestore(t *testing.T) {
	lengths := []int{2, 5, 3}
	plan, err := Build(lengths, 2, Options{Sort: true})
	require.NoError(t, err)

	var emitted []string
	names := []string{"a", "b", "c"}
	for _, b := range plan.Batches {
		for _, i := range b {
			emitted = append(emitted, names[i])
		}
	}
	got, err := Restore(plan.Order, emitted)
	require.NoError(t, err)
	assert.Equal(t, names, got)

	_, err = Restore(plan.Order, emitted[:1])
	assert.Error(t, err)
}

func TestBuildRejectsBadSize(t *testing.T) {
	_, err := Build([]int{1}, 0, Options{})
	assert.Error(t, err)
}

func TestBuildEmpty(t *testing.T) {
	plan, err := Build(nil, 3, Options{Sort: true})
	require.NoError(t, err)
	assert.Empty(t, plan.Batches)
	assert.Empty(t, plan.Order)
}
