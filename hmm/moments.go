package hmm

import (
	"fmt"
	"math"

	"github.com/happyhackingspace/markov/dist"
	"github.com/happyhackingspace/markov/tensor"
)

// Mean returns the expected observation at every step, shape
// [batch..., T, event...]. The observation model must implement dist.Meaner.
func (m *HiddenMarkovModel) Mean() (*tensor.Tensor[float64], error) {
	return m.moments(false)
}

// Variance returns the per-component variance of the observation at every
// step, shape [batch..., T, event...], by the law of total variance. The
// observation model must implement dist.Meaner and dist.Variancer.
func (m *HiddenMarkovModel) Variance() (*tensor.Tensor[float64], error) {
	return m.moments(true)
}

func (m *HiddenMarkovModel) moments(variance bool) (*tensor.Tensor[float64], error) {
	meaner, ok := m.observation.(dist.Meaner)
	if !ok {
		return nil, fmt.Errorf("%w: observation model has no mean", ErrUnsupported)
	}
	var variancer dist.Variancer
	if variance {
		if variancer, ok = m.observation.(dist.Variancer); !ok {
			return nil, fmt.Errorf("%w: observation model has no variance", ErrUnsupported)
		}
	}

	p := m.modelPlan()
	k, steps, e := p.states, p.steps, p.event
	out := tensor.Zeros[float64](p.batch.Concat(steps).Concat(m.observation.EventShape()...))
	data := out.Data()

	err := m.forEachBatch(p.size, func(b int) error {
		logTrans := m.logTransition(p, b)
		distBase := p.distIdx.Index(b) * k

		means := make([]float64, k*e)
		seconds := make([]float64, k*e) // E[x^2 | s]
		for s := range k {
			meaner.MeanAt(distBase+s, means[s*e:(s+1)*e])
			if variance {
				variancer.VarianceAt(distBase+s, seconds[s*e:(s+1)*e])
				for i := s * e; i < (s+1)*e; i++ {
					seconds[i] += means[i] * means[i]
				}
			}
		}

		// State marginal p(s_t) in log space, propagated by the transition.
		logMarg := make([]float64, k)
		copy(logMarg, m.logInitial(p, b))
		next := make([]float64, k)
		scratch := make([]float64, k)
		for t := range steps {
			if t > 0 {
				logMatVec(next, logTrans, logMarg, scratch, k, false)
				logMarg, next = next, logMarg
			}
			dst := data[(b*steps+t)*e : (b*steps+t+1)*e]
			for i := range e {
				var mu, sq float64
				for s := range k {
					w := math.Exp(logMarg[s])
					if w == 0 {
						continue
					}
					mu += w * means[s*e+i]
					sq += w * seconds[s*e+i]
				}
				if variance {
					dst[i] = max(sq-mu*mu, 0)
				} else {
					dst[i] = mu
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
