package hmm

import (
	"math"

	"github.com/happyhackingspace/markov/dist"
	"github.com/happyhackingspace/markov/tensor"
)

// forwardBackwardResult holds the log-domain recursions of one batch element.
type forwardBackwardResult struct {
	LogZ  float64   // log partition, log p(observations)
	Alpha []float64 // [T][K] log p(x_0..x_t, s_t)
	Beta  []float64 // [T][K] log p(x_t+1..x_T-1 | s_t)
}

// forward computes alpha for one batch element. ll is [T][K].
func forward(logInit, logTrans, ll []float64, steps, k int) []float64 {
	alpha := make([]float64, steps*k)
	scratch := make([]float64, k)

	// t = 0
	for s := range k {
		alpha[s] = logInit[s] + ll[s]
	}

	// t = 1..T-1
	for t := 1; t < steps; t++ {
		cur := alpha[t*k : (t+1)*k]
		logMatVec(cur, logTrans, alpha[(t-1)*k:t*k], scratch, k, false)
		for s := range k {
			cur[s] += ll[t*k+s]
		}
	}
	return alpha
}

// backward computes beta for one batch element. beta[T-1] is zero.
func backward(logTrans, ll []float64, steps, k int) []float64 {
	beta := make([]float64, steps*k)
	scratch := make([]float64, k)
	next := make([]float64, k)

	// t = T-2..0
	for t := steps - 2; t >= 0; t-- {
		for s := range k {
			next[s] = beta[(t+1)*k+s] + ll[(t+1)*k+s]
		}
		logMatVec(beta[t*k:(t+1)*k], logTrans, next, scratch, k, true)
	}
	return beta
}

func forwardBackward(logInit, logTrans, ll []float64, steps, k int) forwardBackwardResult {
	alpha := forward(logInit, logTrans, ll, steps, k)
	return forwardBackwardResult{
		LogZ:  logSumExp(alpha[(steps-1)*k:]),
		Alpha: alpha,
		Beta:  backward(logTrans, ll, steps, k),
	}
}

// PosteriorMarginals returns p(s_t | observations) for every step as a
// categorical with batch shape [batch..., T] over the K states.
//
// observations has shape [batch..., T, event...]; mask, if non-nil, has
// shape [batch..., T] and true marks a missing observation. A batch
// element whose observations are impossible under the model yields a
// *DegenerateSequenceError.
func (m *HiddenMarkovModel) PosteriorMarginals(observations *tensor.Tensor[float64], mask *tensor.Tensor[bool]) (*dist.Categorical, error) {
	p, err := m.resolve(observations, mask)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("Computing posterior marginals", "batch", p.batch.String(), "steps", p.steps, "states", p.states)

	ll, err := m.likelihoodMatrix(p, observations, mask)
	if err != nil {
		return nil, err
	}

	k, steps := p.states, p.steps
	logits := make([]float64, p.size*steps*k)
	err = m.forEachBatch(p.size, func(b int) error {
		rows := ll[b*steps*k : (b+1)*steps*k]
		fb := forwardBackward(m.logInitial(p, b), m.logTransition(p, b), rows, steps, k)
		if math.IsInf(fb.LogZ, -1) || math.IsNaN(fb.LogZ) {
			return &DegenerateSequenceError{Op: "posterior marginals", Batch: tensor.Unravel(b, p.batch)}
		}
		out := logits[b*steps*k : (b+1)*steps*k]
		for i := range out {
			out[i] = fb.Alpha[i] + fb.Beta[i] - fb.LogZ
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	t, err := tensor.New(p.batch.Concat(steps, k), logits)
	if err != nil {
		return nil, err
	}
	return dist.NewCategoricalFromLogits(t)
}

// LogProb returns log p(observations) per batch element, marginalising the
// hidden states. Masked steps contribute no evidence. Impossible sequences
// give -Inf rather than an error.
func (m *HiddenMarkovModel) LogProb(observations *tensor.Tensor[float64], mask *tensor.Tensor[bool]) (*tensor.Tensor[float64], error) {
	p, err := m.resolve(observations, mask)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("Computing log probability", "batch", p.batch.String(), "steps", p.steps, "states", p.states)

	ll, err := m.likelihoodMatrix(p, observations, mask)
	if err != nil {
		return nil, err
	}

	k, steps := p.states, p.steps
	out := tensor.Zeros[float64](p.batch)
	logZ := out.Data()
	err = m.forEachBatch(p.size, func(b int) error {
		rows := ll[b*steps*k : (b+1)*steps*k]
		alpha := forward(m.logInitial(p, b), m.logTransition(p, b), rows, steps, k)
		logZ[b] = logSumExp(alpha[(steps-1)*k:])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
