package hmm

import (
	"math"

	"github.com/happyhackingspace/markov/tensor"
)

// viterbi finds the most probable state path of one batch element. Ties
// go to the lowest state index, both for backpointers and for the final
// state. ok is false when every path has zero probability.
func viterbi(logInit, logTrans, ll []float64, steps, k int) (path []int, score float64, ok bool) {
	// delta[t][s] = best log score of a path ending in s at t
	delta := make([]float64, steps*k)
	// psi[t][s] = predecessor of s on that path
	psi := make([]int, steps*k)

	// t = 0
	for s := range k {
		delta[s] = logInit[s] + ll[s]
	}

	// t = 1..T-1
	for t := 1; t < steps; t++ {
		prev := delta[(t-1)*k : t*k]
		for s := range k {
			bestScore := math.Inf(-1)
			bestPrev := 0
			for sp := range k {
				score := prev[sp] + logTrans[sp*k+s]
				if score > bestScore {
					bestScore = score
					bestPrev = sp
				}
			}
			delta[t*k+s] = bestScore + ll[t*k+s]
			psi[t*k+s] = bestPrev
		}
	}

	last := delta[(steps-1)*k:]
	best, ok := argmax(last)
	if !ok {
		return nil, math.Inf(-1), false
	}

	// Backtrack
	path = make([]int, steps)
	path[steps-1] = best
	for t := steps - 2; t >= 0; t-- {
		path[t] = psi[(t+1)*k+path[t+1]]
	}
	return path, last[best], true
}

// PosteriorMode returns the most probable hidden state path for every
// batch element, shape [batch..., T]. Inputs are as for
// PosteriorMarginals. Among equally probable predecessors or final states
// the lowest state index wins. A batch element whose observations are
// impossible under the model yields a *DegenerateSequenceError.
func (m *HiddenMarkovModel) PosteriorMode(observations *tensor.Tensor[float64], mask *tensor.Tensor[bool]) (*tensor.Tensor[int], error) {
	p, err := m.resolve(observations, mask)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("Computing posterior mode", "batch", p.batch.String(), "steps", p.steps, "states", p.states)

	ll, err := m.likelihoodMatrix(p, observations, mask)
	if err != nil {
		return nil, err
	}

	k, steps := p.states, p.steps
	out := tensor.Zeros[int](p.batch.Concat(steps))
	paths := out.Data()
	err = m.forEachBatch(p.size, func(b int) error {
		rows := ll[b*steps*k : (b+1)*steps*k]
		path, _, ok := viterbi(m.logInitial(p, b), m.logTransition(p, b), rows, steps, k)
		if !ok {
			return &DegenerateSequenceError{Op: "posterior mode", Batch: tensor.Unravel(b, p.batch)}
		}
		copy(paths[b*steps:(b+1)*steps], path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
