// Package vocab maps labels and words to dense integer ids.
package vocab

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Reserved entries.
const (
	Pad       = "<pad>"
	OOV       = "<oov>"
	WordPiece = "-word-piece-"
)

// ideographicSpace stands in for a word.dic entry whose token was stripped
// to nothing when the file was written.
const ideographicSpace = "　"

// Dictionary is a bidirectional string/id mapping with ids in [0, Len).
type Dictionary struct {
	Names   []string       `json:"names"`
	Index   map[string]int `json:"-"`
	Unknown int            `json:"unknown"`
	frozen  bool
}

// New creates a dictionary seeded with names, in order. Lookups of unknown
// entries return id unknown.
func New(unknown int, names ...string) *Dictionary {
	d := &Dictionary{Index: make(map[string]int), Unknown: unknown}
	for _, n := range names {
		d.Add(n)
	}
	return d
}

// NewLabels returns the label dictionary: <pad> is 0 and, when word pieces
// are considered, -word-piece- is 1. Unknown labels map to the pad id.
func NewLabels(wordPiece bool) *Dictionary {
	if wordPiece {
		return New(0, Pad, WordPiece)
	}
	return New(0, Pad)
}

// Add inserts name and returns its id. Existing names keep their id.
// Add panics on a frozen dictionary.
func (d *Dictionary) Add(name string) int {
	if id, ok := d.Index[name]; ok {
		return id
	}
	if d.frozen {
		panic(fmt.Sprintf("vocab: add %q to frozen dictionary", name))
	}
	id := len(d.Names)
	d.Names = append(d.Names, name)
	d.Index[name] = id
	return id
}

// Freeze forbids further additions.
func (d *Dictionary) Freeze() { d.frozen = true }

// Frozen reports whether Freeze was called.
func (d *Dictionary) Frozen() bool { return d.frozen }

// ID returns the id of name, or the unknown id.
func (d *Dictionary) ID(name string) int {
	if id, ok := d.Index[name]; ok {
		return id
	}
	return d.Unknown
}

// Lookup returns the id of name and whether it is known.
func (d *Dictionary) Lookup(name string) (int, bool) {
	id, ok := d.Index[name]
	return id, ok
}

// Label returns the name of id, or "" when id is out of range.
func (d *Dictionary) Label(id int) string {
	if id < 0 || id >= len(d.Names) {
		return ""
	}
	return d.Names[id]
}

// Len returns the number of entries.
func (d *Dictionary) Len() int { return len(d.Names) }

// IDs maps every name through ID.
func (d *Dictionary) IDs(names []string) []int {
	ids := make([]int, len(names))
	for i, n := range names {
		ids[i] = d.ID(n)
	}
	return ids
}

// Labels maps every id through Label.
func (d *Dictionary) Labels(ids []int) []string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = d.Label(id)
	}
	return names
}

// Reindex rebuilds Index from Names, after JSON decoding.
func (d *Dictionary) Reindex() {
	d.Index = make(map[string]int, len(d.Names))
	for i, n := range d.Names {
		d.Index[n] = i
	}
}

// WriteTo writes one "name<TAB>id" line per entry, ordered by id.
func (d *Dictionary) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var n int64
	for id, name := range d.Names {
		k, err := fmt.Fprintf(bw, "%s\t%d\n", name, id)
		n += int64(k)
		if err != nil {
			return n, err
		}
	}
	return n, bw.Flush()
}

// ReadDictionary parses "name<TAB>id" lines. Ids must form [0, n) once
// sorted; a line holding only an id is the ideographic space.
func ReadDictionary(r io.Reader, unknown int) (*Dictionary, error) {
	type entry struct {
		name string
		id   int
	}
	var entries []entry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(strings.TrimSpace(line), "\t")
		if len(fields) == 1 {
			fields = []string{ideographicSpace, fields[0]}
		}
		if len(fields) != 2 {
			return nil, fmt.Errorf("vocab: line %d: want name<TAB>id, got %q", lineNo, line)
		}
		id, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("vocab: line %d: %w", lineNo, err)
		}
		entries = append(entries, entry{fields[0], id})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].id < entries[j].id })
	d := New(unknown)
	for i, e := range entries {
		if e.id != i {
			return nil, fmt.Errorf("vocab: ids are not dense, expected %d got %d (%q)", i, e.id, e.name)
		}
		if _, dup := d.Index[e.name]; dup {
			return nil, fmt.Errorf("vocab: duplicate entry %q", e.name)
		}
		d.Add(e.name)
	}
	return d, nil
}

// BuildWords collects every word seen at least cut times, in first-seen
// order, then appends <oov> and <pad> if absent. Unknown words map to <oov>.
func BuildWords(sentences [][]string, cut int) *Dictionary {
	counts := make(map[string]int)
	var order []string
	for _, s := range sentences {
		for _, w := range s {
			if counts[w] == 0 {
				order = append(order, w)
			}
			counts[w]++
		}
	}
	d := New(0)
	for _, w := range order {
		if counts[w] >= cut {
			d.Add(w)
		}
	}
	d.Add(OOV)
	d.Add(Pad)
	d.Unknown = d.ID(OOV)
	return d
}

// WordDictionary re-reads a word dictionary and points unknown words at
// <oov>.
func WordDictionary(r io.Reader) (*Dictionary, error) {
	d, err := ReadDictionary(r, 0)
	if err != nil {
		return nil, err
	}
	oov, ok := d.Lookup(OOV)
	if !ok {
		return nil, fmt.Errorf("vocab: word dictionary has no %s entry", OOV)
	}
	d.Unknown = oov
	return d, nil
}
