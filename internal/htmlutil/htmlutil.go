// Package htmlutil extracts labelled token sequences from annotated HTML.
//
// An annotated document marks each sentence with a <p> or <s> element and
// each token with a <span data-label="...">:
//
//	<p><span data-label="B-PER">Ada</span> <span data-label="O">wrote</span></p>
package htmlutil

import (
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/happyhackingspace/seqtag/internal/textutil"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// LabelAttr is the token attribute holding the gold label.
const LabelAttr = "data-label"

// LoadHTML parses HTML bytes into a goquery Document.
func LoadHTML(r io.Reader) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(r)
}

// LoadHTMLString parses HTML string into a goquery Document.
func LoadHTMLString(htmlStr string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
}

// IsSentence reports whether n is a sentence container.
func IsSentence(n *html.Node) bool {
	return n != nil && n.Type == html.ElementNode && (n.DataAtom == atom.P || n.DataAtom == atom.S)
}

// GetSentences returns the innermost sentence containers in document order.
// A <p> wrapping <s> elements yields the <s> elements only.
func GetSentences(doc *goquery.Document) []*goquery.Selection {
	var sentences []*goquery.Selection
	doc.Find("p, s").Each(func(_ int, s *goquery.Selection) {
		if !IsSentence(s.Get(0)) {
			return
		}
		if s.Find("p, s").Length() > 0 {
			return
		}
		sentences = append(sentences, s)
	})
	return sentences
}

// GetTokens returns the token spans of a sentence in document order.
func GetTokens(sentence *goquery.Selection) []*goquery.Selection {
	var tokens []*goquery.Selection
	sentence.Find("span").Each(func(_ int, s *goquery.Selection) {
		if _, ok := s.Attr(LabelAttr); ok {
			tokens = append(tokens, s)
		}
	})
	return tokens
}

// TokenText returns the whitespace-normalized text of a token span.
func TokenText(token *goquery.Selection) string {
	return textutil.Clean(token.Text())
}

// TokenLabel returns the trimmed label of a token span.
func TokenLabel(token *goquery.Selection) string {
	label, _ := token.Attr(LabelAttr)
	return strings.TrimSpace(label)
}
