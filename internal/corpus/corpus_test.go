package corpus

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const conll = `B-PER John
O lives
O in
B-LOC Paris

O Hello
O world
`

func TestReadCoNLL(t *testing.T) {
	got, err := ReadCoNLL(strings.NewReader(conll))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"John", "lives", "in", "Paris"}, got[0].Words)
	assert.Equal(t, []string{"B-PER", "O", "O", "B-LOC"}, got[0].Labels)
	assert.Equal(t, 2, got[1].Len())
}

func TestReadCoNLLExtraBlankLines(t *testing.T) {
	got, err := ReadCoNLL(strings.NewReader("\n\nO a\r\n\n\n\nO b\n\n"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"a"}, got[0].Words)
}

func TestReadCoNLLMalformed(t *testing.T) {
	_, err := ReadCoNLL(strings.NewReader("O a\nB-PER\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestWriteCoNLLRoundTrip(t *testing.T) {
	in, err := ReadCoNLL(strings.NewReader(conll))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCoNLL(&buf, in))
	out, err := ReadCoNLL(&buf)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	assert.Error(t, WriteCoNLL(&buf, []Sentence{{Words: []string{"a"}}}))
}

const annotated = `<html><body>
<p><span data-label="B-ORG">New York</span> <span data-label="O">Times</span></p>
<p>   </p>
<p><s><span data-label="O">hi</span></s></p>
</body></html>`

func TestReadHTML(t *testing.T) {
	got, err := ReadHTML(strings.NewReader(annotated))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"New_York", "Times"}, got[0].Words)
	assert.Equal(t, []string{"B-ORG", "O"}, got[0].Labels)
	assert.Equal(t, []string{"hi"}, got[1].Words)
}

func TestReadHTMLEmptyToken(t *testing.T) {
	_, err := ReadHTML(strings.NewReader(`<p><span data-label="O">  </span></p>`))
	assert.Error(t, err)
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "train.txt")
	htm := filepath.Join(dir, "train.HTML")
	require.NoError(t, os.WriteFile(txt, []byte(conll), 0o644))
	require.NoError(t, os.WriteFile(htm, []byte(annotated), 0o644))

	a, err := ReadFile(txt)
	require.NoError(t, err)
	assert.Len(t, a, 2)

	b, err := ReadFile(htm)
	require.NoError(t, err)
	assert.Equal(t, "New_York", b[0].Words[0])

	_, err = ReadFile(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	got, _ := ReadCoNLL(strings.NewReader(conll))
	assert.Equal(t, Stats{Sentences: 2, Tokens: 6, MaxLen: 4}, Summarize(got))
	assert.Equal(t, [][]string{got[0].Words, got[1].Words}, Words(got))
}
