package markov

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/happyhackingspace/markov/dist"
	"github.com/happyhackingspace/markov/hmm"
)

const weatherYAML = `
states: [rainy, sunny]
initial: [0.6, 0.4]
transition:
  - [0.7, 0.3]
  - [0.4, 0.6]
num_steps: 3
observation:
  type: categorical
  probs:
    - [0.1, 0.4, 0.5]
    - [0.6, 0.3, 0.1]
  symbols: [walk, shop, clean]
`

func weatherModel(t *testing.T) *Model {
	t.Helper()
	m, err := Parse([]byte(weatherYAML), FormatYAML)
	require.NoError(t, err)
	return m
}

func TestDecode(t *testing.T) {
	m := weatherModel(t)
	states, err := m.Decode(Sequence{Symbols: []string{"walk", "shop", "clean"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"sunny", "rainy", "rainy"}, states)
}

func TestLogLikelihood(t *testing.T) {
	m := weatherModel(t)
	lp, err := m.LogLikelihood(Sequence{Symbols: []string{"walk", "shop", "clean"}})
	require.NoError(t, err)
	assert.InDelta(t, 0.033612, math.Exp(lp), 1e-9)
}

func TestMarginals(t *testing.T) {
	m := weatherModel(t)
	seq := Sequence{Symbols: []string{"walk", "shop", "clean"}}
	marginals, err := m.Marginals(seq, 0)
	require.NoError(t, err)
	require.Len(t, marginals, 3)
	for _, step := range marginals {
		assert.InDelta(t, 1, step["rainy"]+step["sunny"], 1e-12)
	}
	assert.Greater(t, marginals[0]["sunny"], marginals[0]["rainy"])
	assert.Greater(t, marginals[2]["rainy"], marginals[2]["sunny"])

	filtered, err := m.Marginals(seq, 0.5)
	require.NoError(t, err)
	for _, step := range filtered {
		assert.Len(t, step, 1)
	}
}

func TestDecodeMasked(t *testing.T) {
	m := weatherModel(t)
	// A masked step may carry any symbol.
	states, err := m.Decode(Sequence{
		Symbols: []string{"walk", "?", "clean"},
		Mask:    []bool{false, true, false},
	})
	require.NoError(t, err)
	assert.Len(t, states, 3)

	lp, err := m.LogLikelihood(Sequence{Symbols: []string{"walk", "?", "?"}, Mask: []bool{false, true, true}})
	require.NoError(t, err)
	assert.InDelta(t, math.Log(0.6*0.1+0.4*0.6), lp, 1e-12)
}

func TestDecodeAll(t *testing.T) {
	m := weatherModel(t)
	paths, err := m.DecodeAll([]Sequence{
		{Symbols: []string{"walk", "shop", "clean"}},
		{Symbols: []string{"walk", "walk", "walk"}},
	})
	require.NoError(t, err)
	want := [][]string{
		{"sunny", "rainy", "rainy"},
		{"sunny", "sunny", "sunny"},
	}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("DecodeAll mismatch (-want +got):\n%s", diff)
	}

	paths, err = m.DecodeAll(nil)
	require.NoError(t, err)
	assert.Nil(t, paths)
}

func TestSequenceErrors(t *testing.T) {
	m := weatherModel(t)
	tests := []struct {
		name string
		seq  Sequence
	}{
		{"unknown symbol", Sequence{Symbols: []string{"walk", "fly", "shop"}}},
		{"too short", Sequence{Symbols: []string{"walk"}}},
		{"mask length", Sequence{Symbols: []string{"walk", "walk", "walk"}, Mask: []bool{true}}},
		{"observations length", Sequence{Observations: [][]float64{{0}}}},
		{"event size", Sequence{Observations: [][]float64{{0, 1}, {0}, {0}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Decode(tt.seq)
			assert.ErrorIs(t, err, ErrSequence)
		})
	}

	// Unnamed symbols take raw category indices.
	states, err := m.Decode(Sequence{Observations: [][]float64{{0}, {1}, {2}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"sunny", "rainy", "rainy"}, states)
}

func TestImpossibleSequence(t *testing.T) {
	m, err := Parse([]byte(`{
		"initial": [1, 0],
		"transition": [[1, 0], [0, 1]],
		"num_steps": 2,
		"observation": {"type": "categorical", "probs": [[1, 0], [0, 1]]}
	}`), FormatJSON)
	require.NoError(t, err)

	seq := Sequence{Observations: [][]float64{{0}, {1}}}
	_, err = m.Decode(seq)
	assert.ErrorIs(t, err, hmm.ErrDegenerateSequence)

	lp, err := m.LogLikelihood(seq)
	require.NoError(t, err)
	assert.True(t, math.IsInf(lp, -1))

	// Default state names are indices.
	states, err := m.Decode(Sequence{Observations: [][]float64{{0}, {0}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "0"}, states)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		def    string
		target error
	}{
		{
			name:   "probabilities out of range",
			def:    `{"initial": [1.5, -0.5], "transition": [[1, 0], [0, 1]], "num_steps": 2, "observation": {"type": "normal", "loc": [0, 1], "scale": [1]}}`,
			target: dist.ErrDomain,
		},
		{
			name:   "rows not normalised",
			def:    `{"initial": [0.5, 0.5], "transition": [[0.5, 0.6], [0, 1]], "num_steps": 2, "observation": {"type": "normal", "loc": [0, 1], "scale": [1]}}`,
			target: dist.ErrDomain,
		},
		{
			name:   "non-positive scale",
			def:    `{"initial": [0.5, 0.5], "transition": [[1, 0], [0, 1]], "num_steps": 2, "observation": {"type": "normal", "loc": [0, 1], "scale": [0]}}`,
			target: dist.ErrDomain,
		},
		{
			name:   "state count mismatch",
			def:    `{"initial": [0.5, 0.5], "transition": [[1, 0], [0, 1]], "num_steps": 2, "observation": {"type": "normal", "loc": [0, 1, 2], "scale": [1]}}`,
			target: hmm.ErrShape,
		},
		{
			name:   "no steps",
			def:    `{"initial": [0.5, 0.5], "transition": [[1, 0], [0, 1]], "num_steps": 0, "observation": {"type": "normal", "loc": [0, 1], "scale": [1]}}`,
			target: hmm.ErrDomain,
		},
		{
			name: "unknown observation type",
			def:  `{"initial": [0.5, 0.5], "transition": [[1, 0], [0, 1]], "num_steps": 2, "observation": {"type": "poisson"}}`,
		},
		{
			name: "missing normal parameters",
			def:  `{"initial": [0.5, 0.5], "transition": [[1, 0], [0, 1]], "num_steps": 2, "observation": {"type": "normal", "loc": [0, 1]}}`,
		},
		{
			name: "missing covariance",
			def:  `{"initial": [0.5, 0.5], "transition": [[1, 0], [0, 1]], "num_steps": 2, "observation": {"type": "mvn", "locs": [[0], [1]]}}`,
		},
		{
			name: "duplicate state names",
			def:  `{"states": ["a", "a"], "initial": [0.5, 0.5], "transition": [[1, 0], [0, 1]], "num_steps": 2, "observation": {"type": "normal", "loc": [0, 1], "scale": [1]}}`,
		},
		{
			name: "missing initial",
			def:  `{"transition": [[1, 0], [0, 1]], "num_steps": 2, "observation": {"type": "normal", "loc": [0, 1], "scale": [1]}}`,
		},
		{
			name: "state names",
			def:  `{"states": ["a"], "initial": [0.5, 0.5], "transition": [[1, 0], [0, 1]], "num_steps": 2, "observation": {"type": "normal", "loc": [0, 1], "scale": [1]}}`,
		},
		{
			name: "malformed",
			def:  `{"initial": `,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.def), FormatJSON)
			require.Error(t, err)
			if tt.target != nil {
				assert.True(t, errors.Is(err, tt.target), "got %v", err)
			}
		})
	}
}

func TestContinuousModels(t *testing.T) {
	normal, err := Parse([]byte(`
initial: [0.5, 0.5]
transition: [[0.9, 0.1], [0.1, 0.9]]
num_steps: 4
observation:
  type: normal
  loc: [0, 5]
  scale: [1]
`), FormatYAML)
	require.NoError(t, err)
	states, err := normal.Decode(Sequence{Observations: [][]float64{{0.2}, {-0.1}, {5.3}, {4.8}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "0", "1", "1"}, states)

	diag, err := Parse([]byte(`
states: [low, high]
initial: [0.5, 0.5]
transition: [[0.9, 0.1], [0.1, 0.9]]
num_steps: 3
observation:
  type: mvn_diag
  locs: [[0, 0], [10, 10]]
`), FormatYAML)
	require.NoError(t, err)
	states, err = diag.Decode(Sequence{Observations: [][]float64{{0, 1}, {9, 10}, {10, 11}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"low", "high", "high"}, states)

	full, err := Parse([]byte(`
states: [low, high]
initial: [0.5, 0.5]
transition: [[0.9, 0.1], [0.1, 0.9]]
num_steps: 3
observation:
  type: mvn
  locs: [[0, 0], [10, 10]]
  covariance:
    - [[1, 0.5], [0.5, 1]]
    - [[2, 0], [0, 2]]
`), FormatYAML)
	require.NoError(t, err)
	states, err = full.Decode(Sequence{Observations: [][]float64{{0, 1}, {9, 10}, {10, 11}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"low", "high", "high"}, states)

	_, err = Parse([]byte(`
initial: [0.5, 0.5]
transition: [[0.9, 0.1], [0.1, 0.9]]
num_steps: 3
observation:
  type: mvn
  locs: [[0, 0], [10, 10]]
  covariance:
    - [[1, 2], [2, 1]]
    - [[2, 0], [0, 2]]
`), FormatYAML)
	assert.ErrorIs(t, err, dist.ErrDomain)
}

func TestSaveLoad(t *testing.T) {
	m := weatherModel(t)
	dir := t.TempDir()
	for _, name := range []string{"model.json", "model.yaml"} {
		path := filepath.Join(dir, name)
		require.NoError(t, m.Save(path))

		loaded, err := Load(path)
		require.NoError(t, err)
		if diff := cmp.Diff(m.Definition(), loaded.Definition()); diff != "" {
			t.Errorf("%s round trip mismatch (-want +got):\n%s", name, diff)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, "model.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"num_steps": 3`)
}

func TestNewFindsModel(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.yaml"), []byte(weatherYAML), 0644))
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0755))
	t.Chdir(sub)

	m, err := New()
	require.NoError(t, err)
	assert.Equal(t, []string{"rainy", "sunny"}, m.States().ToStr)
	assert.Equal(t, 3, m.Symbols().Size())
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatFromPath("m.yaml"))
	assert.Equal(t, FormatYAML, FormatFromPath("M.YML"))
	assert.Equal(t, FormatJSON, FormatFromPath("m.json"))
	assert.Equal(t, FormatJSON, FormatFromPath("model"))
}
