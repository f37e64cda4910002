package crf

import (
	"encoding/json"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// transitionsJSON is the serialized form. JSON cannot carry −∞, so the matrix
// travels as gonum's binary encoding, which also keeps every bit.
type transitionsJSON struct {
	Space   LabelSpace `json:"space"`
	Version uint64     `json:"version"`
	Matrix  []byte     `json:"matrix"`
}

// MarshalJSON implements json.Marshaler.
func (t *Transitions) MarshalJSON() ([]byte, error) {
	data, err := t.W.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return json.Marshal(transitionsJSON{Space: t.Space, Version: t.Version, Matrix: data})
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Transitions) UnmarshalJSON(data []byte) error {
	var raw transitionsJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var w mat.Dense
	if err := w.UnmarshalBinary(raw.Matrix); err != nil {
		return fmt.Errorf("crf: decode transitions: %w", err)
	}
	t.Space = raw.Space
	t.W = &w
	t.Version = raw.Version
	return t.check()
}

// MarshalTransitions serializes the transition matrix to JSON bytes.
func MarshalTransitions(t *Transitions) ([]byte, error) {
	return json.Marshal(t)
}

// UnmarshalTransitions deserializes a transition matrix from JSON bytes.
func UnmarshalTransitions(data []byte) (*Transitions, error) {
	var t Transitions
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}
