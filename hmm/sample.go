package hmm

import (
	"fmt"
	"math/rand/v2"

	"github.com/happyhackingspace/markov/tensor"
)

// Sample draws n joint trajectories by forward simulation. states has
// shape [n, batch..., T] and observations [n, batch..., T, event...]. A nil
// rng is seeded randomly. Sampling is sequential because rng is not safe
// for concurrent use.
func (m *HiddenMarkovModel) Sample(n int, rng *rand.Rand) (states *tensor.Tensor[int], observations *tensor.Tensor[float64], err error) {
	if n < 1 {
		return nil, nil, fmt.Errorf("%w: sample count %d, must be at least 1", ErrDomain, n)
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	p := m.modelPlan()
	k, steps := p.states, p.steps
	m.logger.Debug("Sampling trajectories", "n", n, "batch", p.batch.String(), "steps", steps)

	stateShape := tensor.Shape{n}.Concat(p.batch...).Concat(steps)
	states = tensor.Zeros[int](stateShape)
	observations = tensor.Zeros[float64](stateShape.Concat(m.observation.EventShape()...))
	sd, od := states.Data(), observations.Data()

	for i := range n {
		for b := range p.size {
			row := i*p.size + b
			transBase := p.transIdx.Index(b) * k
			distBase := p.distIdx.Index(b) * k
			s := m.initial.SampleIndex(p.initIdx.Index(b), rng)
			for t := range steps {
				if t > 0 {
					s = m.transition.SampleIndex(transBase+s, rng)
				}
				sd[row*steps+t] = s
				off := (row*steps + t) * p.event
				m.observation.SampleAt(distBase+s, rng, od[off:off+p.event])
			}
		}
	}
	return states, observations, nil
}
