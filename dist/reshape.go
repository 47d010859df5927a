package dist

import (
	"fmt"
	"math/rand/v2"

	"github.com/happyhackingspace/markov/tensor"
)

// Reshape presents a distribution's events under a different shape with
// the same number of elements. The map is a permutation-free relabelling
// of coordinates, so densities are unchanged.
type Reshape struct {
	base  Distribution
	event tensor.Shape
}

type reshapeWithMoments struct {
	*Reshape
	meaner    Meaner
	variancer Variancer
}

// NewReshape wraps base so that its events have shape event. The result
// keeps base's moments when base provides them.
func NewReshape(base Distribution, event tensor.Shape) (Distribution, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}
	if got, want := event.NumElements(), base.EventShape().NumElements(); got != want {
		return nil, fmt.Errorf("%w: cannot reshape event %v to %v", ErrShape, base.EventShape(), event)
	}
	r := &Reshape{base: base, event: event.Clone()}
	m, okM := base.(Meaner)
	v, okV := base.(Variancer)
	if okM && okV {
		return &reshapeWithMoments{Reshape: r, meaner: m, variancer: v}, nil
	}
	return r, nil
}

// BatchShape implements Distribution.
func (r *Reshape) BatchShape() tensor.Shape {
	return r.base.BatchShape()
}

// EventShape implements Distribution.
func (r *Reshape) EventShape() tensor.Shape {
	return r.event.Clone()
}

// LogProbAt implements Distribution.
func (r *Reshape) LogProbAt(b int, x []float64) float64 {
	return r.base.LogProbAt(b, x)
}

// SampleAt implements Distribution.
func (r *Reshape) SampleAt(b int, rng *rand.Rand, dst []float64) {
	r.base.SampleAt(b, rng, dst)
}

func (r *reshapeWithMoments) MeanAt(b int, dst []float64) {
	r.meaner.MeanAt(b, dst)
}

func (r *reshapeWithMoments) VarianceAt(b int, dst []float64) {
	r.variancer.VarianceAt(b, dst)
}
