// Package lexicon stores precomputed contextual feature vectors per sentence.
//
// Every token of a stored sentence carries Layers vectors of Dim floats.
// Entries are keyed by textutil.SentenceKey and held in a fastcache.Cache
// as little-endian float32 blobs; the whole store persists to a directory
// with SaveToFile.
package lexicon

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/happyhackingspace/seqtag/internal/textutil"
)

// DefaultMaxBytes is the cache capacity used when none is configured.
const DefaultMaxBytes = 512 << 20

var (
	// ErrNotFound is returned for a sentence missing from the lexicon.
	ErrNotFound = errors.New("lexicon: sentence not found")
	// ErrNoInfo is returned when a loaded directory lacks the header entry.
	ErrNoInfo = errors.New("lexicon: missing #info entry")
	// ErrCapacity is returned when entries do not fit the cache, or a saved
	// cache is larger than the caller allows.
	ErrCapacity = errors.New("lexicon: cache capacity exceeded")
)

// Metadata keys cannot collide with a sentence key, which never holds NUL.
// Save writes them just before persisting and checks they survived.
var (
	infoKey  = []byte("\x00#info")
	countKey = []byte("\x00#count")
)

// Info describes the shape of every stored feature vector.
type Info struct {
	Dim    int `json:"dim"`
	Layers int `json:"layers"`
}

// Width returns the number of floats stored per token.
func (i Info) Width() int { return i.Dim * i.Layers }

// Lexicon maps sentences to per-token feature tensors. It is safe for
// concurrent use.
type Lexicon struct {
	info  Info
	cache *fastcache.Cache
	mu    sync.Mutex // serializes Put so the entry count stays exact
	count uint64
	// lost counts sentences that failed to store or were evicted later.
	lost int
	// written holds the keys stored through Put, checked by Verify.
	written [][]byte
}

// New creates an empty lexicon. maxBytes bounds the cache and must exceed
// the stored data, or older entries are evicted.
func New(info Info, maxBytes int) (*Lexicon, error) {
	if info.Dim <= 0 || info.Layers <= 0 {
		return nil, fmt.Errorf("lexicon: invalid shape dim=%d layers=%d", info.Dim, info.Layers)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Lexicon{info: info, cache: fastcache.New(maxBytes)}, nil
}

// Open loads a lexicon saved with Save. A positive maxBytes rejects a
// cache that reserves more memory than that.
func Open(dir string, maxBytes int) (*Lexicon, error) {
	c, err := fastcache.LoadFromFile(dir)
	if err != nil {
		return nil, fmt.Errorf("lexicon: load %s: %w", dir, err)
	}
	if maxBytes > 0 {
		var st fastcache.Stats
		c.UpdateStats(&st)
		if st.MaxBytesSize > uint64(maxBytes) {
			c.Reset()
			return nil, fmt.Errorf("%w: %s reserves %d bytes, limit is %d", ErrCapacity, dir, st.MaxBytesSize, maxBytes)
		}
	}
	hdr, ok := c.HasGet(nil, infoKey)
	if !ok || len(hdr) != 16 {
		return nil, ErrNoInfo
	}
	info := Info{
		Dim:    int(binary.LittleEndian.Uint64(hdr[:8])),
		Layers: int(binary.LittleEndian.Uint64(hdr[8:])),
	}
	l := &Lexicon{info: info, cache: c}
	if v, ok := c.HasGet(nil, countKey); ok && len(v) == 8 {
		l.count = binary.LittleEndian.Uint64(v)
	}
	return l, nil
}

// Save persists the lexicon to dir. It fails if an entry written through
// Put has been evicted.
func (l *Lexicon) Save(dir string) error {
	l.mu.Lock()
	var hdr [16]byte
	binary.LittleEndian.PutUint64(hdr[:8], uint64(l.info.Dim))
	binary.LittleEndian.PutUint64(hdr[8:], uint64(l.info.Layers))
	l.cache.Set(infoKey, hdr[:])
	var cnt [8]byte
	binary.LittleEndian.PutUint64(cnt[:], l.count)
	l.cache.Set(countKey, cnt[:])
	l.mu.Unlock()
	if err := l.Verify(); err != nil {
		return err
	}
	if !l.cache.Has(infoKey) || !l.cache.Has(countKey) {
		return fmt.Errorf("%w: header entries were evicted", ErrCapacity)
	}
	if err := l.cache.SaveToFile(dir); err != nil {
		return fmt.Errorf("lexicon: save %s: %w", dir, err)
	}
	return nil
}

// Info returns the feature shape.
func (l *Lexicon) Info() Info { return l.info }

// Entries returns the number of stored sentences.
func (l *Lexicon) Entries() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Put stores features for words: features[t][layer] holds Dim values.
func (l *Lexicon) Put(words []string, features [][][]float64) error {
	if len(words) == 0 {
		return fmt.Errorf("lexicon: empty sentence")
	}
	if len(features) != len(words) {
		return fmt.Errorf("lexicon: %d feature rows for %d words", len(features), len(words))
	}
	buf := make([]byte, 0, len(words)*l.info.Width()*4)
	for t, layers := range features {
		if len(layers) != l.info.Layers {
			return fmt.Errorf("lexicon: token %d has %d layers, want %d", t, len(layers), l.info.Layers)
		}
		for k, vec := range layers {
			if len(vec) != l.info.Dim {
				return fmt.Errorf("lexicon: token %d layer %d has %d values, want %d", t, k, len(vec), l.info.Dim)
			}
			for _, v := range vec {
				buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(v)))
			}
		}
	}
	key := []byte(textutil.SentenceKey(words))
	l.mu.Lock()
	defer l.mu.Unlock()
	fresh := len(l.cache.GetBig(nil, key)) == 0
	l.cache.SetBig(key, buf)
	if got := l.cache.GetBig(nil, key); len(got) != len(buf) {
		l.lost++
		return fmt.Errorf("%w: %d-byte entry for %q was not stored", ErrCapacity, len(buf), key)
	}
	if fresh {
		l.count++
		l.written = append(l.written, key)
	}
	return nil
}

// Verify checks that every sentence stored through Put is still present.
// When some were evicted it corrects Entries. It keeps returning
// ErrCapacity once any sentence has been lost.
func (l *Lexicon) Verify() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var buf []byte
	kept := l.written[:0]
	for _, key := range l.written {
		buf = l.cache.GetBig(buf[:0], key)
		if len(buf) > 0 {
			kept = append(kept, key)
		}
	}
	evicted := len(l.written) - len(kept)
	l.written = kept
	l.count -= uint64(evicted)
	l.lost += evicted
	if l.lost == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d sentences were lost, %d kept; raise the cache size", ErrCapacity, l.lost, len(kept))
}

// Get returns the features of words as [token][layer][dim].
func (l *Lexicon) Get(words []string) ([][][]float64, error) {
	key := textutil.SentenceKey(words)
	blob := l.cache.GetBig(nil, []byte(key))
	if len(blob) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	width := l.info.Width()
	if len(blob) != len(words)*width*4 {
		return nil, fmt.Errorf("lexicon: entry %q holds %d bytes, want %d", key, len(blob), len(words)*width*4)
	}
	out := make([][][]float64, len(words))
	off := 0
	for t := range out {
		out[t] = make([][]float64, l.info.Layers)
		for k := range out[t] {
			vec := make([]float64, l.info.Dim)
			for d := range vec {
				vec[d] = float64(math.Float32frombits(binary.LittleEndian.Uint32(blob[off:])))
				off += 4
			}
			out[t][k] = vec
		}
	}
	return out, nil
}

// Import reads the text interchange format:
//
//	#info <dim> <layers>
//	<word> <word> ...
//	<layers*dim floats for token 0>
//	<layers*dim floats for token 1>
//	...
//	(blank line)
//
// Each float line lists layer 0 first.
func Import(r io.Reader, maxBytes int) (*Lexicon, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	lineNo := 0
	next := func() ([]string, bool) {
		for sc.Scan() {
			lineNo++
			if f := strings.Fields(sc.Text()); len(f) > 0 {
				return f, true
			}
		}
		return nil, false
	}

	hdr, ok := next()
	if !ok || len(hdr) != 3 || hdr[0] != "#info" {
		return nil, fmt.Errorf("lexicon: line %d: %w", lineNo, ErrNoInfo)
	}
	dim, err1 := strconv.Atoi(hdr[1])
	layers, err2 := strconv.Atoi(hdr[2])
	if err := errors.Join(err1, err2); err != nil {
		return nil, fmt.Errorf("lexicon: line %d: %w", lineNo, err)
	}
	l, err := New(Info{Dim: dim, Layers: layers}, maxBytes)
	if err != nil {
		return nil, err
	}

	for {
		words, ok := next()
		if !ok {
			break
		}
		feats := make([][][]float64, len(words))
		for t := range words {
			vals, ok := next()
			if !ok {
				return nil, fmt.Errorf("lexicon: line %d: sentence ends after %d of %d tokens", lineNo, t, len(words))
			}
			if len(vals) != l.info.Width() {
				return nil, fmt.Errorf("lexicon: line %d: %d values, want %d", lineNo, len(vals), l.info.Width())
			}
			feats[t] = make([][]float64, layers)
			for k := range feats[t] {
				feats[t][k] = make([]float64, dim)
				for d := range feats[t][k] {
					v, err := strconv.ParseFloat(vals[k*dim+d], 64)
					if err != nil {
						return nil, fmt.Errorf("lexicon: line %d: %w", lineNo, err)
					}
					feats[t][k][d] = v
				}
			}
		}
		if err := l.Put(words, feats); err != nil {
			return nil, fmt.Errorf("lexicon: line %d: %w", lineNo, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("lexicon: %w", err)
	}
	if err := l.Verify(); err != nil {
		return nil, err
	}
	return l, nil
}
