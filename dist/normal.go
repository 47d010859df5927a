package dist

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/happyhackingspace/markov/tensor"
)

// Normal is a batch of univariate Gaussians with scalar events.
type Normal struct {
	batch tensor.Shape
	comps []distuv.Normal
}

// NewNormal builds a batch of Gaussians whose shape is the broadcast of
// the loc and scale shapes.
func NewNormal(loc, scale *tensor.Tensor[float64], opts ...Option) (*Normal, error) {
	o := buildOptions(opts)
	batch, err := tensor.Broadcast(loc.Shape(), scale.Shape())
	if err != nil {
		return nil, err
	}
	l, err := loc.BroadcastTo(batch)
	if err != nil {
		return nil, err
	}
	s, err := scale.BroadcastTo(batch)
	if err != nil {
		return nil, err
	}
	if err := checkFinite("loc", l.Data()); err != nil {
		return nil, err
	}
	if err := checkFinite("scale", s.Data()); err != nil {
		return nil, err
	}
	if o.validateArgs {
		if err := checkPositive("scale", s.Data()); err != nil {
			return nil, err
		}
	}
	n := &Normal{batch: batch, comps: make([]distuv.Normal, batch.NumElements())}
	for i := range n.comps {
		n.comps[i] = distuv.Normal{Mu: l.Data()[i], Sigma: s.Data()[i]}
	}
	return n, nil
}

// BatchShape implements Distribution.
func (n *Normal) BatchShape() tensor.Shape {
	return n.batch.Clone()
}

// EventShape implements Distribution.
func (n *Normal) EventShape() tensor.Shape {
	return tensor.Shape{}
}

// LogProbAt implements Distribution.
func (n *Normal) LogProbAt(b int, x []float64) float64 {
	return n.comps[b].LogProb(x[0])
}

// SampleAt implements Distribution.
func (n *Normal) SampleAt(b int, rng *rand.Rand, dst []float64) {
	c := n.comps[b]
	dst[0] = c.Mu + c.Sigma*rng.NormFloat64()
}

// MeanAt implements Meaner.
func (n *Normal) MeanAt(b int, dst []float64) {
	dst[0] = n.comps[b].Mean()
}

// VarianceAt implements Variancer.
func (n *Normal) VarianceAt(b int, dst []float64) {
	dst[0] = n.comps[b].Variance()
}
