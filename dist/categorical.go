package dist

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"

	"github.com/happyhackingspace/markov/tensor"
)

// Categorical is a batch of distributions over {0, ..., K-1}. Its
// parameter tensor has shape [batch..., K]; events are scalars holding
// the category index as a float64.
type Categorical struct {
	batch tensor.Shape
	k     int
	logp  []float64 // [batch..., K], each row normalised in log space
}

// probTolerance bounds how far a probability row may sum from 1 under validation.
const probTolerance = 1e-6

// NewCategorical builds a categorical from probabilities of shape
// [batch..., K]. Rows are normalised; with validation enabled every entry
// must lie in [0, 1] and every row must sum to 1.
func NewCategorical(probs *tensor.Tensor[float64], opts ...Option) (*Categorical, error) {
	o := buildOptions(opts)
	batch, k, err := splitCategories(probs)
	if err != nil {
		return nil, err
	}
	p := probs.Data()
	if err := checkFinite("probs", p); err != nil {
		return nil, err
	}
	c := &Categorical{batch: batch, k: k, logp: make([]float64, len(p))}
	for row := range batch.NumElements() {
		src := p[row*k : (row+1)*k]
		if o.validateArgs {
			for i, v := range src {
				if v < 0 || v > 1 {
					return nil, fmt.Errorf("%w: probs row %d entry %d = %v, must be in [0, 1]", ErrDomain, row, i, v)
				}
			}
			if s := floats.Sum(src); math.Abs(s-1) > probTolerance {
				return nil, fmt.Errorf("%w: probs row %d sums to %v", ErrDomain, row, s)
			}
		}
		sum := floats.Sum(src)
		if !(sum > 0) {
			return nil, fmt.Errorf("%w: probs row %d has no positive mass", ErrDomain, row)
		}
		logSum := math.Log(sum)
		dst := c.logp[row*k : (row+1)*k]
		for i, v := range src {
			dst[i] = math.Log(v) - logSum
		}
	}
	return c, nil
}

// NewCategoricalFromLogits builds a categorical from unnormalised log
// probabilities of shape [batch..., K]. Entries may be -Inf.
func NewCategoricalFromLogits(logits *tensor.Tensor[float64], opts ...Option) (*Categorical, error) {
	batch, k, err := splitCategories(logits)
	if err != nil {
		return nil, err
	}
	l := logits.Data()
	if err := checkFinite("logits", l); err != nil {
		return nil, err
	}
	c := &Categorical{batch: batch, k: k, logp: make([]float64, len(l))}
	for row := range batch.NumElements() {
		src := l[row*k : (row+1)*k]
		m := floats.Max(src)
		if math.IsInf(m, -1) {
			return nil, fmt.Errorf("%w: logits row %d has no finite entry", ErrDomain, row)
		}
		if math.IsInf(m, 1) {
			return nil, fmt.Errorf("%w: logits row %d contains +Inf", ErrDomain, row)
		}
		norm := floats.LogSumExp(src)
		dst := c.logp[row*k : (row+1)*k]
		for i, v := range src {
			dst[i] = v - norm
		}
	}
	return c, nil
}

func splitCategories(t *tensor.Tensor[float64]) (tensor.Shape, int, error) {
	s := t.Shape()
	if len(s) == 0 {
		return nil, 0, fmt.Errorf("%w: categorical parameters need at least one dimension", ErrShape)
	}
	if err := s.Validate(); err != nil {
		return nil, 0, err
	}
	return s[:len(s)-1], s[len(s)-1], nil
}

// NumCategories returns K.
func (c *Categorical) NumCategories() int {
	return c.k
}

// BatchShape implements Distribution.
func (c *Categorical) BatchShape() tensor.Shape {
	return c.batch.Clone()
}

// EventShape implements Distribution. Categorical events are scalars.
func (c *Categorical) EventShape() tensor.Shape {
	return tensor.Shape{}
}

// LogProbsRow returns the normalised log probabilities of batch element b.
// The returned slice aliases internal storage and must not be modified.
func (c *Categorical) LogProbsRow(b int) []float64 {
	return c.logp[b*c.k : (b+1)*c.k]
}

// LogProbs returns a copy of the normalised log probabilities, shape [batch..., K].
func (c *Categorical) LogProbs() *tensor.Tensor[float64] {
	data := make([]float64, len(c.logp))
	copy(data, c.logp)
	return tensor.MustNew(c.batch.Concat(c.k), data)
}

// Probs returns the probabilities, shape [batch..., K].
func (c *Categorical) Probs() *tensor.Tensor[float64] {
	data := make([]float64, len(c.logp))
	for i, v := range c.logp {
		data[i] = math.Exp(v)
	}
	return tensor.MustNew(c.batch.Concat(c.k), data)
}

// LogProbAt implements Distribution. Non-integral or out-of-range values
// have log probability -Inf.
func (c *Categorical) LogProbAt(b int, x []float64) float64 {
	v := x[0]
	if v != math.Trunc(v) || v < 0 || v >= float64(c.k) {
		return math.Inf(-1)
	}
	return c.logp[b*c.k+int(v)]
}

// SampleAt implements Distribution.
func (c *Categorical) SampleAt(b int, rng *rand.Rand, dst []float64) {
	dst[0] = float64(c.SampleIndex(b, rng))
}

// SampleIndex draws a category index from batch element b.
func (c *Categorical) SampleIndex(b int, rng *rand.Rand) int {
	row := c.LogProbsRow(b)
	u := rng.Float64()
	last := 0
	for i, lp := range row {
		p := math.Exp(lp)
		if p == 0 {
			continue
		}
		last = i
		if u < p {
			return i
		}
		u -= p
	}
	// Rounding left u slightly above the total mass.
	return last
}

// Mode returns the most probable category per batch element, lowest index on ties.
func (c *Categorical) Mode() *tensor.Tensor[int] {
	out := tensor.Zeros[int](c.batch)
	data := out.Data()
	for b := range data {
		data[b] = floats.MaxIdx(c.LogProbsRow(b))
	}
	return out
}
