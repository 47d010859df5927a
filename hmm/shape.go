package hmm

import (
	"fmt"
	"math"

	"github.com/happyhackingspace/markov/tensor"
)

type namedShape struct {
	name  string
	shape tensor.Shape
}

// broadcastNamed broadcasts the shapes left to right. On failure the error
// names the shape that did not fit and the first earlier shape it conflicts with.
func broadcastNamed(shapes ...namedShape) (tensor.Shape, error) {
	result := tensor.Shape{}
	for i, s := range shapes {
		next, err := tensor.Broadcast(result, s.shape)
		if err == nil {
			result = next
			continue
		}
		for _, prev := range shapes[:i] {
			if _, perr := tensor.Broadcast(prev.shape, s.shape); perr != nil {
				return nil, fmt.Errorf("%w: %s %v vs %s %v: %w", ErrShape, prev.name, prev.shape, s.name, s.shape, perr)
			}
		}
		return nil, fmt.Errorf("%w: %s %v vs combined batch %v: %w", ErrShape, s.name, s.shape, result, err)
	}
	return result, nil
}

// plan is the resolved layout of one query: the common batch shape and, for
// every input, the map from a flat batch index to that input's own index.
type plan struct {
	batch    tensor.Shape
	size     int // number of batch elements
	steps    int
	states   int
	event    int // elements per observation
	initIdx  tensor.Indexer
	transIdx tensor.Indexer
	distIdx  tensor.Indexer // observation distribution, state axis excluded
	obsIdx   tensor.Indexer
	maskIdx  tensor.Indexer
	maskTime int // 1 when the mask broadcasts along time
}

// resolve validates observations and mask against the model and computes
// the broadcast batch shape. No numeric work happens before it succeeds.
func (m *HiddenMarkovModel) resolve(obs *tensor.Tensor[float64], mask *tensor.Tensor[bool]) (*plan, error) {
	if obs == nil {
		return nil, fmt.Errorf("%w: observations are required", ErrShape)
	}
	event := m.observation.EventShape()
	xs := obs.Shape()
	r := len(xs) - len(event) - 1
	if r < 0 || !tensor.Shape(xs[r+1:]).Equal(event) {
		return nil, fmt.Errorf("%w: observations %v vs sequence shape %v", ErrShape, xs, m.EventShape())
	}
	if xs[r] != m.numSteps {
		return nil, fmt.Errorf("%w: observations %v have %d steps, model has %d", ErrShape, xs, xs[r], m.numSteps)
	}
	shapes := []namedShape{
		{"initial batch", m.initial.BatchShape()},
		{"transition batch", m.transBatch},
		{"observation batch", m.obsBatch},
		{"observations batch", xs[:r]},
	}

	maskTime := 0
	if mask != nil {
		ms := mask.Shape()
		if len(ms) == 0 {
			return nil, fmt.Errorf("%w: mask must have a time axis", ErrShape)
		}
		maskTime = ms[len(ms)-1]
		if maskTime != m.numSteps && maskTime != 1 {
			return nil, fmt.Errorf("%w: mask %v has %d steps, model has %d", ErrShape, ms, maskTime, m.numSteps)
		}
		shapes = append(shapes, namedShape{"mask batch", ms[:len(ms)-1]})
	}

	batch, err := broadcastNamed(shapes...)
	if err != nil {
		return nil, err
	}
	if batch.NumElements() == 0 {
		return nil, fmt.Errorf("%w: batch %v is empty", ErrShape, batch)
	}
	p := &plan{
		batch:    batch,
		size:     batch.NumElements(),
		steps:    m.numSteps,
		states:   m.numStates,
		event:    event.NumElements(),
		maskTime: maskTime,
	}
	if p.initIdx, err = tensor.NewIndexer(shapes[0].shape, batch); err != nil {
		return nil, err
	}
	if p.transIdx, err = tensor.NewIndexer(shapes[1].shape, batch); err != nil {
		return nil, err
	}
	if p.distIdx, err = tensor.NewIndexer(shapes[2].shape, batch); err != nil {
		return nil, err
	}
	if p.obsIdx, err = tensor.NewIndexer(shapes[3].shape, batch); err != nil {
		return nil, err
	}
	if mask != nil {
		if p.maskIdx, err = tensor.NewIndexer(shapes[4].shape, batch); err != nil {
			return nil, err
		}
	}

	if m.validateArgs {
		for i, v := range obs.Data() {
			if math.IsNaN(v) {
				return nil, fmt.Errorf("%w: observation %v is NaN", ErrDomain, tensor.Unravel(i, xs))
			}
		}
	}
	return p, nil
}

// modelPlan lays out queries that take no observations (sampling, moments).
func (m *HiddenMarkovModel) modelPlan() *plan {
	p := &plan{
		batch:  m.batch,
		size:   m.batch.NumElements(),
		steps:  m.numSteps,
		states: m.numStates,
		event:  m.observation.EventShape().NumElements(),
	}
	// Component shapes broadcast to m.batch by construction.
	p.initIdx, _ = tensor.NewIndexer(m.initial.BatchShape(), m.batch)
	p.transIdx, _ = tensor.NewIndexer(m.transBatch, m.batch)
	p.distIdx, _ = tensor.NewIndexer(m.obsBatch, m.batch)
	return p
}

// logInitial returns the initial log probabilities of batch element b.
func (m *HiddenMarkovModel) logInitial(p *plan, b int) []float64 {
	return m.initial.LogProbsRow(p.initIdx.Index(b))
}

// logTransition returns the K×K transition log matrix of batch element b,
// row-major with rows indexed by the current state.
func (m *HiddenMarkovModel) logTransition(p *plan, b int) []float64 {
	k := m.numStates
	base := p.transIdx.Index(b) * k
	out := make([]float64, k*k)
	for i := range k {
		copy(out[i*k:(i+1)*k], m.transition.LogProbsRow(base+i))
	}
	return out
}
