// Package corpus reads labelled sentences from CoNLL-style text files and
// annotated HTML.
package corpus

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/happyhackingspace/seqtag/internal/htmlutil"
)

// Sentence is one token sequence with its per-token labels. Labels is
// empty for unlabelled input.
type Sentence struct {
	Words  []string
	Labels []string
}

// Len returns the number of tokens.
func (s Sentence) Len() int { return len(s.Words) }

// ReadCoNLL reads blank-line separated blocks of "label item" lines.
func ReadCoNLL(r io.Reader) ([]Sentence, error) {
	var (
		sentences []Sentence
		cur       Sentence
	)
	flush := func() {
		if len(cur.Words) > 0 {
			sentences = append(sentences, cur)
		}
		cur = Sentence{}
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			flush()
			continue
		}
		if len(fields) != 2 {
			return nil, fmt.Errorf("corpus: line %d: want \"label item\", got %d fields", lineNo, len(fields))
		}
		cur.Labels = append(cur.Labels, fields[0])
		cur.Words = append(cur.Words, fields[1])
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("corpus: %w", err)
	}
	flush()
	return sentences, nil
}

// WriteCoNLL writes sentences in the format ReadCoNLL reads.
func WriteCoNLL(w io.Writer, sentences []Sentence) error {
	bw := bufio.NewWriter(w)
	for _, s := range sentences {
		if len(s.Labels) != len(s.Words) {
			return fmt.Errorf("corpus: %d labels for %d words", len(s.Labels), len(s.Words))
		}
		for i, word := range s.Words {
			fmt.Fprintf(bw, "%s %s\n", s.Labels[i], word)
		}
		fmt.Fprintln(bw)
	}
	return bw.Flush()
}

// ReadHTML reads sentences from annotated HTML. Sentence elements without
// token spans are skipped. A token whose text contains whitespace is kept
// as one item with its inner whitespace replaced by underscores.
func ReadHTML(r io.Reader) ([]Sentence, error) {
	doc, err := htmlutil.LoadHTML(r)
	if err != nil {
		return nil, fmt.Errorf("corpus: parse html: %w", err)
	}
	var sentences []Sentence
	for i, sel := range htmlutil.GetSentences(doc) {
		tokens := htmlutil.GetTokens(sel)
		if len(tokens) == 0 {
			continue
		}
		s := Sentence{Words: make([]string, 0, len(tokens)), Labels: make([]string, 0, len(tokens))}
		for j, tok := range tokens {
			word := htmlutil.TokenText(tok)
			if word == "" {
				return nil, fmt.Errorf("corpus: sentence %d token %d is empty", i, j)
			}
			s.Words = append(s.Words, strings.ReplaceAll(word, " ", "_"))
			s.Labels = append(s.Labels, htmlutil.TokenLabel(tok))
		}
		sentences = append(sentences, s)
	}
	return sentences, nil
}

// ReadFile reads a corpus file, choosing the format by extension:
// .html and .htm are annotated HTML, anything else is CoNLL.
func ReadFile(path string) ([]Sentence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return ReadHTML(f)
	default:
		return ReadCoNLL(f)
	}
}

// Stats summarizes a corpus.
type Stats struct {
	Sentences int
	Tokens    int
	MaxLen    int
}

// Summarize counts sentences and tokens.
func Summarize(sentences []Sentence) Stats {
	var st Stats
	st.Sentences = len(sentences)
	for _, s := range sentences {
		st.Tokens += s.Len()
		st.MaxLen = max(st.MaxLen, s.Len())
	}
	return st
}

// Words returns the word lists of sentences.
func Words(sentences []Sentence) [][]string {
	out := make([][]string, len(sentences))
	for i, s := range sentences {
		out[i] = s.Words
	}
	return out
}
