package hmm

import "github.com/happyhackingspace/markov/tensor"

// likelihoodMatrix returns LL with LL[(b*T+t)*K+s] = log p(obs[b,t] | state s).
// Rows of masked steps are zero: the step keeps its transition but carries
// no evidence.
func (m *HiddenMarkovModel) likelihoodMatrix(p *plan, obs *tensor.Tensor[float64], mask *tensor.Tensor[bool]) ([]float64, error) {
	k, steps := p.states, p.steps
	ll := make([]float64, p.size*steps*k)
	data := obs.Data()
	var maskData []bool
	if mask != nil {
		maskData = mask.Data()
	}

	err := m.forEachBatch(p.size, func(b int) error {
		distBase := p.distIdx.Index(b) * k
		obsBase := p.obsIdx.Index(b) * steps
		maskBase := -1
		if maskData != nil {
			maskBase = p.maskIdx.Index(b) * p.maskTime
		}
		for t := range steps {
			row := ll[(b*steps+t)*k : (b*steps+t+1)*k]
			if maskBase >= 0 && maskData[maskBase+min(t, p.maskTime-1)] {
				// no evidence
				continue
			}
			off := (obsBase + t) * p.event
			x := data[off : off+p.event]
			for s := range k {
				row[s] = m.observation.LogProbAt(distBase+s, x)
			}
		}
		return nil
	})
	return ll, err
}
