// Package markov decodes observation sequences with hidden Markov models
// described in JSON or YAML model files.
//
// It wraps the batched inference engine in package hmm with named states
// and symbols:
//
//	m, _ := markov.Load("weather.yaml")
//	states, _ := m.Decode(markov.Sequence{Symbols: []string{"walk", "shop", "clean"}})
//	fmt.Println(states) // [sunny rainy rainy]
package markov

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/happyhackingspace/markov/hmm"
	"github.com/happyhackingspace/markov/tensor"
)

// DefaultModelFiles are the names New looks for.
var DefaultModelFiles = []string{"model.yaml", "model.yml", "model.json"}

// Model is a hidden Markov model with named states.
type Model struct {
	def     *Definition
	engine  *hmm.HiddenMarkovModel
	states  *Alphabet
	symbols *Alphabet // nil unless the model names its categorical symbols
}

// Sequence is one observation sequence. Observations holds one event per
// step (a single value for scalar observations). Categorical models with
// named symbols may give Symbols instead.
type Sequence struct {
	Observations [][]float64
	Symbols      []string
	Mask         []bool // optional, true marks a missing step
}

// New loads the model from the first of DefaultModelFiles found in the
// current directory, its parents up to the module root, or ModelDir.
func New(opts ...hmm.Option) (*Model, error) {
	path, err := findModel(DefaultModelFiles)
	if err != nil {
		return nil, fmt.Errorf("markov: %w", err)
	}
	return Load(path, opts...)
}

// ModelDir is the per-user directory holding a default model.
func ModelDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "markov")
	}
	return ".markov"
}

func findModel(names []string) (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		for _, name := range names {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
		// Stop at module root
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	for _, name := range names {
		path := filepath.Join(ModelDir(), name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no model file found (tried %v)", names)
}

// Load reads a model file. The format follows the file extension.
func Load(path string, opts ...hmm.Option) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("markov: %w", err)
	}
	return Parse(data, FormatFromPath(path), opts...)
}

// Parse decodes and builds a model.
func Parse(data []byte, format Format, opts ...hmm.Option) (*Model, error) {
	def, err := ParseDefinition(data, format)
	if err != nil {
		return nil, fmt.Errorf("markov: %w", err)
	}
	return FromDefinition(def, opts...)
}

// FromDefinition validates def and builds the model.
func FromDefinition(def *Definition, opts ...hmm.Option) (*Model, error) {
	engine, err := def.build(opts...)
	if err != nil {
		return nil, fmt.Errorf("markov: %w", err)
	}

	m := &Model{def: def, engine: engine}
	k := engine.NumStates()
	switch {
	case len(def.States) == 0:
		m.states = indexAlphabet(k)
	case len(def.States) != k:
		return nil, fmt.Errorf("markov: %d state names for %d states", len(def.States), k)
	default:
		m.states = NewAlphabet(def.States...)
		if m.states.Size() != k {
			return nil, fmt.Errorf("markov: duplicate state names in %v", def.States)
		}
	}
	if len(def.Observation.Symbols) > 0 {
		m.symbols = NewAlphabet(def.Observation.Symbols...)
		if m.symbols.Size() != len(def.Observation.Symbols) {
			return nil, fmt.Errorf("markov: duplicate symbol names in %v", def.Observation.Symbols)
		}
	}
	return m, nil
}

// Save writes the model file. The format follows the file extension.
func (m *Model) Save(path string) error {
	if m.def == nil {
		return fmt.Errorf("markov: model not initialized")
	}
	if err := m.def.WriteFile(path); err != nil {
		return fmt.Errorf("markov: %w", err)
	}
	return nil
}

// Definition returns the model's serialised form.
func (m *Model) Definition() *Definition {
	return m.def
}

// Engine returns the underlying batched inference engine.
func (m *Model) Engine() *hmm.HiddenMarkovModel {
	return m.engine
}

// States returns the state alphabet.
func (m *Model) States() *Alphabet {
	return m.states
}

// Symbols returns the symbol alphabet, or nil when symbols are unnamed.
func (m *Model) Symbols() *Alphabet {
	return m.symbols
}

// Decode returns the most probable state path of seq.
func (m *Model) Decode(seq Sequence) ([]string, error) {
	paths, err := m.DecodeAll([]Sequence{seq})
	if err != nil {
		return nil, err
	}
	return paths[0], nil
}

// DecodeAll decodes a batch of sequences in one pass of the engine.
func (m *Model) DecodeAll(seqs []Sequence) ([][]string, error) {
	if len(seqs) == 0 {
		return nil, nil
	}
	obs, mask, err := m.batch(seqs)
	if err != nil {
		return nil, err
	}
	mode, err := m.engine.PosteriorMode(obs, mask)
	if err != nil {
		return nil, fmt.Errorf("markov: %w", err)
	}

	steps := m.engine.NumSteps()
	ids := mode.Data()
	out := make([][]string, len(seqs))
	for i := range seqs {
		out[i] = make([]string, steps)
		for t := range steps {
			out[i][t] = m.states.Name(ids[i*steps+t])
		}
	}
	return out, nil
}

// Marginals returns, for every step of seq, the posterior probability of
// each state. Probabilities below threshold are omitted.
func (m *Model) Marginals(seq Sequence, threshold float64) ([]map[string]float64, error) {
	obs, mask, err := m.batch([]Sequence{seq})
	if err != nil {
		return nil, err
	}
	marginals, err := m.engine.PosteriorMarginals(obs, mask)
	if err != nil {
		return nil, fmt.Errorf("markov: %w", err)
	}

	k, steps := m.engine.NumStates(), m.engine.NumSteps()
	probs := marginals.Probs().Data()
	out := make([]map[string]float64, steps)
	for t := range steps {
		out[t] = make(map[string]float64, k)
		for s := range k {
			if p := probs[t*k+s]; p >= threshold && p > 0 {
				out[t][m.states.Name(s)] = p
			}
		}
	}
	return out, nil
}

// LogLikelihood returns log p(seq), marginalising the hidden states. It is
// -Inf for sequences the model cannot produce.
func (m *Model) LogLikelihood(seq Sequence) (float64, error) {
	obs, mask, err := m.batch([]Sequence{seq})
	if err != nil {
		return 0, err
	}
	lp, err := m.engine.LogProb(obs, mask)
	if err != nil {
		return 0, fmt.Errorf("markov: %w", err)
	}
	return lp.Data()[0], nil
}

// ErrSequence is returned for sequences that do not fit the model.
var ErrSequence = errors.New("markov: invalid sequence")

// batch packs sequences into observations [N, T, event...] and a mask
// [N, T].
func (m *Model) batch(seqs []Sequence) (*tensor.Tensor[float64], *tensor.Tensor[bool], error) {
	steps := m.engine.NumSteps()
	event := m.engine.Observation().EventShape()
	size := event.NumElements()

	obs := make([]float64, 0, len(seqs)*steps*size)
	mask := make([]bool, 0, len(seqs)*steps)
	for i, seq := range seqs {
		switch len(seq.Mask) {
		case 0:
			mask = append(mask, make([]bool, steps)...)
		case steps:
			mask = append(mask, seq.Mask...)
		default:
			return nil, nil, fmt.Errorf("%w %d: mask has %d steps, model has %d", ErrSequence, i, len(seq.Mask), steps)
		}

		values, err := m.values(seq, steps, size)
		if err != nil {
			return nil, nil, fmt.Errorf("%w %d: %w", ErrSequence, i, err)
		}
		obs = append(obs, values...)
	}

	shape := tensor.Shape{len(seqs), steps}
	obsT, err := tensor.New(shape.Concat(event...), obs)
	if err != nil {
		return nil, nil, err
	}
	maskT, err := tensor.New(shape, mask)
	if err != nil {
		return nil, nil, err
	}
	return obsT, maskT, nil
}

func (m *Model) values(seq Sequence, steps, size int) ([]float64, error) {
	if len(seq.Symbols) > 0 {
		if m.symbols == nil {
			return nil, fmt.Errorf("model has no symbol names")
		}
		if len(seq.Symbols) != steps {
			return nil, fmt.Errorf("%d symbols, model has %d steps", len(seq.Symbols), steps)
		}
		out := make([]float64, steps)
		for t, s := range seq.Symbols {
			id := m.symbols.Get(s)
			if id < 0 {
				if len(seq.Mask) == 0 || !seq.Mask[t] {
					return nil, fmt.Errorf("unknown symbol %q at step %d", s, t)
				}
				id = 0
			}
			out[t] = float64(id)
		}
		return out, nil
	}

	if len(seq.Observations) != steps {
		return nil, fmt.Errorf("%d observations, model has %d steps", len(seq.Observations), steps)
	}
	out := make([]float64, 0, steps*size)
	for t, x := range seq.Observations {
		if len(x) != size {
			return nil, fmt.Errorf("observation %d has %d values, want %d", t, len(x), size)
		}
		out = append(out, x...)
	}
	return out, nil
}
