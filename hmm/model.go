// Package hmm implements posterior inference for hidden Markov models with
// discrete hidden states and arbitrary observation models.
//
// Initial, transition and observation distributions, observations and masks
// all carry leading batch dimensions that broadcast against one another.
// Every query works in log space: forward-backward for posterior marginals
// and the log-likelihood, Viterbi for the most probable state path.
//
//	model, _ := hmm.New(initial, transition, observation, 5)
//	marginals, _ := model.PosteriorMarginals(obs, nil)
//	path, _ := model.PosteriorMode(obs, mask)
package hmm

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/happyhackingspace/markov/dist"
	"github.com/happyhackingspace/markov/tensor"
)

// HiddenMarkovModel is a fixed HMM over K hidden states and NumSteps time
// steps. It holds no mutable state and is safe for concurrent use.
type HiddenMarkovModel struct {
	initial     *dist.Categorical // batch [bi...], K categories
	transition  *dist.Categorical // batch [bt..., K], K categories
	observation dist.Distribution // batch [bo..., K]

	numSteps  int
	numStates int

	transBatch tensor.Shape // transition batch without the state axis
	obsBatch   tensor.Shape // observation batch without the state axis
	batch      tensor.Shape // broadcast of the three component batches

	validateArgs bool
	parallelism  int
	logger       *slog.Logger
}

// Option configures a HiddenMarkovModel.
type Option func(*HiddenMarkovModel)

// WithValidateArgs enables checks on query inputs (NaN observations).
// Shape agreement is always checked.
func WithValidateArgs(v bool) Option {
	return func(m *HiddenMarkovModel) { m.validateArgs = v }
}

// WithParallelism bounds the number of goroutines evaluating batch
// elements. Values below 1 select runtime.GOMAXPROCS(0).
func WithParallelism(n int) Option {
	return func(m *HiddenMarkovModel) { m.parallelism = n }
}

// WithLogger sets the logger for debug output. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *HiddenMarkovModel) { m.logger = l }
}

// New builds a hidden Markov model.
//
// initial has K categories. transition has batch shape [..., K] and K
// categories: row i of the trailing batch axis is the next-state
// distribution given current state i. observation has batch shape
// [..., K]: component s along the trailing axis emits observations in
// state s. numSteps must be at least 1.
func New(initial, transition *dist.Categorical, observation dist.Distribution, numSteps int, opts ...Option) (*HiddenMarkovModel, error) {
	if initial == nil || transition == nil || observation == nil {
		return nil, fmt.Errorf("hmm: initial, transition and observation distributions are required")
	}
	if numSteps < 1 {
		return nil, fmt.Errorf("%w: num_steps = %d, must be at least 1", ErrDomain, numSteps)
	}

	k := initial.NumCategories()
	tb := transition.BatchShape()
	ob := observation.BatchShape()
	switch {
	case len(tb) == 0:
		return nil, fmt.Errorf("%w: transition distribution must have non-scalar batches", ErrShape)
	case len(ob) == 0:
		return nil, fmt.Errorf("%w: observation distribution must have non-scalar batches", ErrShape)
	case transition.NumCategories() != k:
		return nil, fmt.Errorf("%w: initial states (%d) and transition targets (%d) must agree", ErrShape, k, transition.NumCategories())
	case tb[len(tb)-1] != k:
		return nil, fmt.Errorf("%w: initial states (%d) and transition sources (%d) must agree", ErrShape, k, tb[len(tb)-1])
	case ob[len(ob)-1] != k:
		return nil, fmt.Errorf("%w: initial states (%d) and observation states (%d) must agree", ErrShape, k, ob[len(ob)-1])
	}

	m := &HiddenMarkovModel{
		initial:     initial,
		transition:  transition,
		observation: observation,
		numSteps:    numSteps,
		numStates:   k,
		transBatch:  tb[:len(tb)-1],
		obsBatch:    ob[:len(ob)-1],
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.parallelism < 1 {
		m.parallelism = runtime.GOMAXPROCS(0)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}

	batch, err := broadcastNamed(
		namedShape{"initial batch", initial.BatchShape()},
		namedShape{"transition batch", m.transBatch},
		namedShape{"observation batch", m.obsBatch},
	)
	if err != nil {
		return nil, err
	}
	m.batch = batch
	return m, nil
}

// NumStates returns K, the number of hidden states.
func (m *HiddenMarkovModel) NumStates() int {
	return m.numStates
}

// NumSteps returns the fixed sequence length T.
func (m *HiddenMarkovModel) NumSteps() int {
	return m.numSteps
}

// BatchShape returns the broadcast batch shape of the model's components.
func (m *HiddenMarkovModel) BatchShape() tensor.Shape {
	return m.batch.Clone()
}

// EventShape returns the shape of a whole observation sequence, [T, event...].
func (m *HiddenMarkovModel) EventShape() tensor.Shape {
	return tensor.Shape{m.numSteps}.Concat(m.observation.EventShape()...)
}

// Initial returns the initial-state distribution.
func (m *HiddenMarkovModel) Initial() *dist.Categorical {
	return m.initial
}

// Transition returns the transition distribution.
func (m *HiddenMarkovModel) Transition() *dist.Categorical {
	return m.transition
}

// Observation returns the observation distribution.
func (m *HiddenMarkovModel) Observation() dist.Distribution {
	return m.observation
}
