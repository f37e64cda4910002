package lexicon

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feats(n, layers, dim int, base float64) [][][]float64 {
	out := make([][][]float64, n)
	for t := range out {
		out[t] = make([][]float64, layers)
		for k := range out[t] {
			out[t][k] = make([]float64, dim)
			for d := range out[t][k] {
				out[t][k][d] = base + float64(t*100+k*10+d)
			}
		}
	}
	return out
}

func TestPutGet(t *testing.T) {
	l, err := New(Info{Dim: 3, Layers: 2}, 32<<20)
	require.NoError(t, err)

	words := []string{"Mr.", "Smith", "a/b"}
	want := feats(3, 2, 3, 0.5)
	require.NoError(t, l.Put(words, want))

	got, err := l.Get(words)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, uint64(1), l.Entries())

	require.NoError(t, l.Put(words, want))
	assert.Equal(t, uint64(1), l.Entries(), "overwrite keeps the count")

	_, err = l.Get([]string{"Mr.", "Jones"})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPutShapeErrors(t *testing.T) {
	l, err := New(Info{Dim: 2, Layers: 1}, 0)
	require.NoError(t, err)

	assert.Error(t, l.Put(nil, nil))
	assert.Error(t, l.Put([]string{"a", "b"}, feats(1, 1, 2, 0)))
	assert.Error(t, l.Put([]string{"a"}, feats(1, 2, 2, 0)))
	assert.Error(t, l.Put([]string{"a"}, feats(1, 1, 3, 0)))
}

func TestNewRejectsBadShape(t *testing.T) {
	_, err := New(Info{Dim: 0, Layers: 1}, 0)
	assert.Error(t, err)
}

func TestSaveOpen(t *testing.T) {
	l, err := New(Info{Dim: 4, Layers: 3}, 32<<20)
	require.NoError(t, err)
	require.NoError(t, l.Put([]string{"x", "y"}, feats(2, 3, 4, 1)))

	dir := filepath.Join(t.TempDir(), "lex")
	require.NoError(t, l.Save(dir))

	back, err := Open(dir, 0)
	require.NoError(t, err)
	assert.Equal(t, Info{Dim: 4, Layers: 3}, back.Info())
	assert.Equal(t, uint64(1), back.Entries())

	got, err := back.Get([]string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, feats(2, 3, 4, 1), got)
}

func TestOpenRespectsLimit(t *testing.T) {
	l, err := New(Info{Dim: 1, Layers: 1}, 32<<20)
	require.NoError(t, err)
	require.NoError(t, l.Put([]string{"x"}, feats(1, 1, 1, 0)))
	dir := filepath.Join(t.TempDir(), "lex")
	require.NoError(t, l.Save(dir))

	_, err = Open(dir, 1<<20)
	assert.ErrorIs(t, err, ErrCapacity)

	back, err := Open(dir, 64<<20)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), back.Entries())
}

func TestOverflowIsReported(t *testing.T) {
	const n = 300
	l, err := New(Info{Dim: 1024, Layers: 3}, 1)
	require.NoError(t, err)

	sentence := func(i int) []string {
		words := make([]string, 20)
		for j := range words {
			words[j] = fmt.Sprintf("w%d_%d", i, j)
		}
		return words
	}
	failed := 0
	for i := range n {
		if err := l.Put(sentence(i), feats(20, 3, 1024, float64(i))); err != nil {
			require.ErrorIs(t, err, ErrCapacity)
			failed++
		}
	}

	verr := l.Verify()
	require.ErrorIs(t, verr, ErrCapacity)

	present := 0
	for i := range n {
		if _, err := l.Get(sentence(i)); err == nil {
			present++
		}
	}
	assert.Less(t, present, n)
	assert.LessOrEqual(t, present, n-failed)
	assert.Equal(t, uint64(present), l.Entries(), "only stored sentences are counted")
	assert.ErrorIs(t, l.Save(filepath.Join(t.TempDir(), "lex")), ErrCapacity)
}

func TestImportReportsOverflow(t *testing.T) {
	var src strings.Builder
	src.WriteString("#info 1024 3\n")
	row := strings.TrimSpace(strings.Repeat("0.5 ", 3072))
	for i := range 200 {
		words := make([]string, 20)
		for j := range words {
			words[j] = fmt.Sprintf("w%d_%d", i, j)
		}
		src.WriteString(strings.Join(words, " ") + "\n")
		for range words {
			src.WriteString(row + "\n")
		}
		src.WriteString("\n")
	}
	_, err := Import(strings.NewReader(src.String()), 1)
	assert.ErrorIs(t, err, ErrCapacity)
}

func TestImport(t *testing.T) {
	src := `#info 2 2
the cat
1 2 3 4
5 6 7 8

hello
0.5 -0.5 1.5 -1.5
`
	l, err := Import(strings.NewReader(src), 32<<20)
	require.NoError(t, err)
	assert.Equal(t, Info{Dim: 2, Layers: 2}, l.Info())
	assert.Equal(t, uint64(2), l.Entries())

	got, err := l.Get([]string{"the", "cat"})
	require.NoError(t, err)
	assert.Equal(t, [][][]float64{{{1, 2}, {3, 4}}, {{5, 6}, {7, 8}}}, got)

	got, err = l.Get([]string{"hello"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0.5, -0.5}, {1.5, -1.5}}, got[0])
}

func TestImportErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"no header", "the cat\n1 2\n"},
		{"bad header", "#info two 1\n"},
		{"short block", "#info 1 1\na b\n1\n"},
		{"wrong width", "#info 2 1\na\n1 2 3\n"},
		{"not a number", "#info 1 1\na\nx\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Import(strings.NewReader(tt.src), 32<<20)
			assert.Error(t, err)
		})
	}
}
