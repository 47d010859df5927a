// Package dist implements the batched probability distributions used as
// hidden Markov model components.
//
// Every distribution has a batch shape and an event shape. Batch elements
// are addressed by their flat row-major index, which is how the HMM engine
// evaluates a whole batch after broadcasting.
package dist

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/happyhackingspace/markov/tensor"
)

var (
	// ErrDomain is returned when a parameter lies outside its valid range.
	ErrDomain = errors.New("dist: parameter out of domain")

	// ErrShape is shared with the tensor package so errors.Is matches across packages.
	ErrShape = tensor.ErrShape
)

// Distribution is the capability the HMM engine needs from an observation model.
type Distribution interface {
	// BatchShape is the shape of independent distributions in this batch.
	BatchShape() tensor.Shape
	// EventShape is the shape of a single draw.
	EventShape() tensor.Shape
	// LogProbAt returns the log density of the event x (flattened, row-major)
	// under batch element b.
	LogProbAt(b int, x []float64) float64
	// SampleAt draws one event from batch element b into dst.
	SampleAt(b int, rng *rand.Rand, dst []float64)
}

// Meaner is implemented by distributions with a closed-form mean.
type Meaner interface {
	MeanAt(b int, dst []float64)
}

// Variancer is implemented by distributions with a closed-form per-component variance.
type Variancer interface {
	VarianceAt(b int, dst []float64)
}

// Option configures distribution construction.
type Option func(*options)

type options struct {
	validateArgs bool
}

// WithValidateArgs enables range checks of parameters at construction.
// NaN parameters are always rejected.
func WithValidateArgs(v bool) Option {
	return func(o *options) { o.validateArgs = v }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// LogProb evaluates d at every event of x. The leading dimensions of x
// (everything before the event shape) broadcast against d's batch shape.
func LogProb(d Distribution, x *tensor.Tensor[float64]) (*tensor.Tensor[float64], error) {
	event := d.EventShape()
	xs := x.Shape()
	if len(xs) < len(event) || !tensor.Shape(xs[len(xs)-len(event):]).Equal(event) {
		return nil, fmt.Errorf("%w: value shape %v does not end in event shape %v", ErrShape, xs, event)
	}
	xBatch := tensor.Shape(xs[:len(xs)-len(event)])
	out, err := tensor.Broadcast(xBatch, d.BatchShape())
	if err != nil {
		return nil, err
	}
	xIdx, err := tensor.NewIndexer(xBatch, out)
	if err != nil {
		return nil, err
	}
	dIdx, err := tensor.NewIndexer(d.BatchShape(), out)
	if err != nil {
		return nil, err
	}
	size := event.NumElements()
	data := x.Data()
	res := tensor.Zeros[float64](out)
	lp := res.Data()
	for i := range lp {
		off := xIdx.Index(i) * size
		lp[i] = d.LogProbAt(dIdx.Index(i), data[off:off+size])
	}
	return res, nil
}

func checkFinite(name string, values []float64) error {
	for i, v := range values {
		if math.IsNaN(v) {
			return fmt.Errorf("%w: %s[%d] is NaN", ErrDomain, name, i)
		}
	}
	return nil
}

func checkPositive(name string, values []float64) error {
	for i, v := range values {
		if !(v > 0) || math.IsInf(v, 1) {
			return fmt.Errorf("%w: %s[%d] = %v, must be positive and finite", ErrDomain, name, i, v)
		}
	}
	return nil
}
