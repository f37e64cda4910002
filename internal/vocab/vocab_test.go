package vocab

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLabels(t *testing.T) {
	plain := NewLabels(false)
	assert.Equal(t, []string{Pad}, plain.Names)

	wp := NewLabels(true)
	assert.Equal(t, 0, wp.ID(Pad))
	assert.Equal(t, 1, wp.ID(WordPiece))

	wp.Add("B-PER")
	assert.Equal(t, 2, wp.ID("B-PER"))
	assert.Equal(t, 0, wp.ID("I-LOC"), "unknown label maps to pad")
	_, ok := wp.Lookup("I-LOC")
	assert.False(t, ok)
}

func TestAddIsIdempotent(t *testing.T) {
	d := New(0, "a", "b")
	assert.Equal(t, 1, d.Add("b"))
	assert.Equal(t, 2, d.Len())
}

func TestFreeze(t *testing.T) {
	d := New(0, "a")
	d.Freeze()
	assert.True(t, d.Frozen())
	assert.Equal(t, 0, d.Add("a"))
	assert.Panics(t, func() { d.Add("b") })
}

func TestLabelOutOfRange(t *testing.T) {
	d := New(0, "a")
	assert.Equal(t, "", d.Label(-1))
	assert.Equal(t, "", d.Label(1))
	assert.Equal(t, []string{"a", ""}, d.Labels([]int{0, 5}))
}

func TestDictionaryRoundTrip(t *testing.T) {
	d := NewLabels(true)
	d.Add("O")
	d.Add("B-ORG")

	var buf bytes.Buffer
	_, err := d.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, "<pad>\t0\n-word-piece-\t1\nO\t2\nB-ORG\t3\n", buf.String())

	back, err := ReadDictionary(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, d.Names, back.Names)
	assert.Equal(t, 3, back.ID("B-ORG"))
}

func TestReadDictionaryOutOfOrder(t *testing.T) {
	d, err := ReadDictionary(strings.NewReader("b\t1\na\t0\n\n"), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, d.Names)
}

func TestReadDictionaryIdeographicSpace(t *testing.T) {
	d, err := ReadDictionary(strings.NewReader("x\t0\n\t1\n"), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, d.ID("　"))
}

func TestReadDictionaryErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"bad id", "a\tx\n"},
		{"gap", "a\t0\nb\t2\n"},
		{"duplicate", "a\t0\na\t1\n"},
		{"too many fields", "a\tb\t0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadDictionary(strings.NewReader(tt.input), 0)
			assert.Error(t, err)
		})
	}
}

func TestBuildWords(t *testing.T) {
	sents := [][]string{{"the", "cat"}, {"the", "dog"}, {"the", "cat"}}
	d := BuildWords(sents, 2)
	assert.Equal(t, []string{"the", "cat", OOV, Pad}, d.Names)
	assert.Equal(t, d.ID(OOV), d.ID("dog"))

	var buf bytes.Buffer
	_, err := d.WriteTo(&buf)
	require.NoError(t, err)
	back, err := WordDictionary(&buf)
	require.NoError(t, err)
	assert.Equal(t, 2, back.ID("zebra"))
}

func TestWordDictionaryNeedsOOV(t *testing.T) {
	_, err := WordDictionary(strings.NewReader("a\t0\n"))
	assert.Error(t, err)
}
