package dist

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/happyhackingspace/markov/tensor"
)

// MultivariateNormalDiag is a batch of Gaussians over R^d with diagonal
// covariance. Events have shape [d].
type MultivariateNormalDiag struct {
	batch tensor.Shape
	dim   int
	comps []distuv.Normal // [batch..., d]
}

// NewMultivariateNormalDiag builds the batch from loc of shape
// [batch..., d] and scaleDiag broadcastable to it. A nil scaleDiag means
// unit scales.
func NewMultivariateNormalDiag(loc, scaleDiag *tensor.Tensor[float64], opts ...Option) (*MultivariateNormalDiag, error) {
	o := buildOptions(opts)
	if loc.Rank() == 0 {
		return nil, fmt.Errorf("%w: loc must have an event dimension", ErrShape)
	}
	if scaleDiag == nil {
		scaleDiag = tensor.Full(tensor.Shape{1}, 1.0)
	}
	full, err := tensor.Broadcast(loc.Shape(), scaleDiag.Shape())
	if err != nil {
		return nil, err
	}
	l, err := loc.BroadcastTo(full)
	if err != nil {
		return nil, err
	}
	s, err := scaleDiag.BroadcastTo(full)
	if err != nil {
		return nil, err
	}
	if err := checkFinite("loc", l.Data()); err != nil {
		return nil, err
	}
	if err := checkFinite("scale_diag", s.Data()); err != nil {
		return nil, err
	}
	if o.validateArgs {
		if err := checkPositive("scale_diag", s.Data()); err != nil {
			return nil, err
		}
	}
	m := &MultivariateNormalDiag{
		batch: full[:len(full)-1],
		dim:   full[len(full)-1],
		comps: make([]distuv.Normal, full.NumElements()),
	}
	for i := range m.comps {
		m.comps[i] = distuv.Normal{Mu: l.Data()[i], Sigma: s.Data()[i]}
	}
	return m, nil
}

// BatchShape implements Distribution.
func (m *MultivariateNormalDiag) BatchShape() tensor.Shape {
	return m.batch.Clone()
}

// EventShape implements Distribution.
func (m *MultivariateNormalDiag) EventShape() tensor.Shape {
	return tensor.Shape{m.dim}
}

// LogProbAt implements Distribution.
func (m *MultivariateNormalDiag) LogProbAt(b int, x []float64) float64 {
	var lp float64
	for i, c := range m.comps[b*m.dim : (b+1)*m.dim] {
		lp += c.LogProb(x[i])
	}
	return lp
}

// SampleAt implements Distribution.
func (m *MultivariateNormalDiag) SampleAt(b int, rng *rand.Rand, dst []float64) {
	for i, c := range m.comps[b*m.dim : (b+1)*m.dim] {
		dst[i] = c.Mu + c.Sigma*rng.NormFloat64()
	}
}

// MeanAt implements Meaner.
func (m *MultivariateNormalDiag) MeanAt(b int, dst []float64) {
	for i, c := range m.comps[b*m.dim : (b+1)*m.dim] {
		dst[i] = c.Mu
	}
}

// VarianceAt implements Variancer.
func (m *MultivariateNormalDiag) VarianceAt(b int, dst []float64) {
	for i, c := range m.comps[b*m.dim : (b+1)*m.dim] {
		dst[i] = c.Variance()
	}
}

// MultivariateNormal is a batch of Gaussians over R^d with full covariance.
type MultivariateNormal struct {
	batch tensor.Shape
	dim   int
	comps []*distmv.Normal
	upper []mat.Triangular // Cholesky factor U with Σ = UᵀU
	mu    [][]float64
	vars  [][]float64
}

// NewMultivariateNormal builds the batch from loc of shape [batch..., d]
// and covariance of shape [batch..., d, d]; the two batch shapes broadcast.
// Every covariance must be symmetric positive definite.
func NewMultivariateNormal(loc, covariance *tensor.Tensor[float64], opts ...Option) (*MultivariateNormal, error) {
	o := buildOptions(opts)
	ls, cs := loc.Shape(), covariance.Shape()
	if len(ls) < 1 || len(cs) < 2 {
		return nil, fmt.Errorf("%w: loc %v / covariance %v lack event dimensions", ErrShape, ls, cs)
	}
	d := ls[len(ls)-1]
	if cs[len(cs)-1] != d || cs[len(cs)-2] != d {
		return nil, fmt.Errorf("%w: covariance %v does not match loc event size %d", ErrShape, cs, d)
	}
	batch, err := tensor.Broadcast(ls[:len(ls)-1], cs[:len(cs)-2])
	if err != nil {
		return nil, err
	}
	l, err := loc.BroadcastTo(batch.Concat(d))
	if err != nil {
		return nil, err
	}
	c, err := covariance.BroadcastTo(batch.Concat(d, d))
	if err != nil {
		return nil, err
	}
	if err := checkFinite("loc", l.Data()); err != nil {
		return nil, err
	}
	if err := checkFinite("covariance", c.Data()); err != nil {
		return nil, err
	}

	n := batch.NumElements()
	m := &MultivariateNormal{
		batch: batch,
		dim:   d,
		comps: make([]*distmv.Normal, n),
		upper: make([]mat.Triangular, n),
		mu:    make([][]float64, n),
		vars:  make([][]float64, n),
	}
	for b := range n {
		mu := make([]float64, d)
		copy(mu, l.Data()[b*d:(b+1)*d])
		raw := make([]float64, d*d)
		copy(raw, c.Data()[b*d*d:(b+1)*d*d])
		if o.validateArgs {
			for i := range d {
				for j := range i {
					if raw[i*d+j] != raw[j*d+i] {
						return nil, fmt.Errorf("%w: covariance %d is not symmetric", ErrDomain, b)
					}
				}
			}
		}
		sigma := mat.NewSymDense(d, raw)
		var chol mat.Cholesky
		if ok := chol.Factorize(sigma); !ok {
			return nil, fmt.Errorf("%w: covariance %d is not positive definite", ErrDomain, b)
		}
		normal, ok := distmv.NewNormal(mu, sigma, nil)
		if !ok {
			return nil, fmt.Errorf("%w: covariance %d is not positive definite", ErrDomain, b)
		}
		vars := make([]float64, d)
		for i := range d {
			vars[i] = sigma.At(i, i)
		}
		m.comps[b] = normal
		m.upper[b] = chol.RawU()
		m.mu[b] = mu
		m.vars[b] = vars
	}
	return m, nil
}

// BatchShape implements Distribution.
func (m *MultivariateNormal) BatchShape() tensor.Shape {
	return m.batch.Clone()
}

// EventShape implements Distribution.
func (m *MultivariateNormal) EventShape() tensor.Shape {
	return tensor.Shape{m.dim}
}

// LogProbAt implements Distribution.
func (m *MultivariateNormal) LogProbAt(b int, x []float64) float64 {
	return m.comps[b].LogProb(x)
}

// SampleAt implements Distribution.
func (m *MultivariateNormal) SampleAt(b int, rng *rand.Rand, dst []float64) {
	z := make([]float64, m.dim)
	for i := range z {
		z[i] = rng.NormFloat64()
	}
	u := m.upper[b]
	for i := range m.dim {
		v := m.mu[b][i]
		for j := 0; j <= i; j++ {
			v += u.At(j, i) * z[j]
		}
		dst[i] = v
	}
}

// MeanAt implements Meaner.
func (m *MultivariateNormal) MeanAt(b int, dst []float64) {
	copy(dst, m.mu[b])
}

// VarianceAt implements Variancer.
func (m *MultivariateNormal) VarianceAt(b int, dst []float64) {
	copy(dst, m.vars[b])
}
