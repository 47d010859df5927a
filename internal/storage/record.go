// Package storage provides access to folders of observation sequences.
package storage

import (
	"bytes"
	"encoding/json"
	"errors"
)

// LabelSchema holds the state label mappings of a data folder.
type LabelSchema struct {
	NAValue     string            // marks an unknown state
	SimplifyMap map[string]string // fine label -> coarse label
}

// File is the on-disk structure of one sequence file.
type File struct {
	Source    string         `json:"source,omitempty"`
	Sequences []SequenceJSON `json:"sequences"`
}

// SequenceJSON is one sequence as stored.
type SequenceJSON struct {
	Observations []Step   `json:"observations,omitempty"`
	Symbols      []string `json:"symbols,omitempty"`
	Mask         []bool   `json:"mask,omitempty"`
	States       []string `json:"states,omitempty"`
}

// Step is the observation of one time step. Scalars are stored as plain
// numbers, vectors as arrays.
type Step []float64

// ErrNullStep is returned for a null observation. Missing steps are
// marked in the mask instead.
var ErrNullStep = errors.New("step is null; use mask for missing observations")

// UnmarshalJSON accepts a number or an array of numbers.
func (s *Step) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var v []*float64
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		step := make(Step, len(v))
		for i, x := range v {
			if x == nil {
				return ErrNullStep
			}
			step[i] = *x
		}
		*s = step
		return nil
	}
	var v *float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v == nil {
		return ErrNullStep
	}
	*s = Step{*v}
	return nil
}

// MarshalJSON writes single values as numbers.
func (s Step) MarshalJSON() ([]byte, error) {
	if len(s) == 1 {
		return json.Marshal(s[0])
	}
	return json.Marshal([]float64(s))
}

// Record is a single sequence read from the folder.
type Record struct {
	File         string
	Source       string
	Index        int // position within File
	Observations []Step
	Symbols      []string
	Mask         []bool
	States       []string

	// Computed
	Labeled bool
}
