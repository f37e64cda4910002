package tagger

import (
	"fmt"

	"github.com/happyhackingspace/seqtag/crf"
)

// CandidatePolicy decides which tags a word-piece continuation position
// may take during partial training.
type CandidatePolicy int

const (
	// PolicyMarker keeps the marker tag as the only candidate.
	PolicyMarker CandidatePolicy = iota
	// PolicyAny admits every tag except pad.
	PolicyAny
	// PolicyAnyButMarker admits every tag except pad and the marker.
	PolicyAnyButMarker
)

// ParsePolicy maps a config string to a CandidatePolicy.
func ParsePolicy(s string) (CandidatePolicy, error) {
	switch s {
	case "", "marker":
		return PolicyMarker, nil
	case "any":
		return PolicyAny, nil
	case "any-but-marker":
		return PolicyAnyButMarker, nil
	}
	return 0, fmt.Errorf("tagger: unknown word-piece policy %q", s)
}

// String implements fmt.Stringer.
func (p CandidatePolicy) String() string {
	switch p {
	case PolicyAny:
		return "any"
	case PolicyAnyButMarker:
		return "any-but-marker"
	}
	return "marker"
}

// candidates expands gold tag ids into per-position candidate sets of the
// padded length. Positions holding marker get the policy's set.
func (p CandidatePolicy) candidates(space crf.LabelSpace, marker int, gold []int, padded int) ([][]int, error) {
	var pieceSet []int
	switch p {
	case PolicyMarker:
		pieceSet = []int{marker}
	case PolicyAny, PolicyAnyButMarker:
		for _, tag := range space.Tags() {
			if tag == space.Pad || (p == PolicyAnyButMarker && tag == marker) {
				continue
			}
			pieceSet = append(pieceSet, tag)
		}
	}
	if len(pieceSet) == 0 {
		return nil, fmt.Errorf("tagger: policy %s leaves no candidate tags", p)
	}

	sets := make([][]int, padded)
	for t, tag := range gold {
		if tag == marker {
			sets[t] = pieceSet
		} else {
			sets[t] = []int{tag}
		}
	}
	return sets, nil
}
