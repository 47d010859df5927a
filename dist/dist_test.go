package dist

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/happyhackingspace/markov/tensor"
)

func TestCategoricalNormalises(t *testing.T) {
	probs := tensor.MustNew(tensor.Shape{2, 3}, []float64{1, 1, 2, 0, 3, 1})
	c, err := NewCategorical(probs)
	require.NoError(t, err)
	assert.Equal(t, 3, c.NumCategories())
	assert.Equal(t, "[2]", c.BatchShape().String())

	p := c.Probs()
	assert.InDeltaSlice(t, []float64{0.25, 0.25, 0.5, 0, 0.75, 0.25}, p.Data(), 1e-12)
	assert.True(t, math.IsInf(c.LogProbAt(1, []float64{0}), -1))
	assert.InDelta(t, math.Log(0.75), c.LogProbAt(1, []float64{1}), 1e-12)
	assert.True(t, math.IsInf(c.LogProbAt(0, []float64{3}), -1), "out of range")
	assert.True(t, math.IsInf(c.LogProbAt(0, []float64{0.5}), -1), "non-integral")

	assert.Equal(t, []int{2, 1}, c.Mode().Data())
}

func TestCategoricalValidation(t *testing.T) {
	tests := []struct {
		name     string
		probs    []float64
		validate bool
		wantErr  error
	}{
		{"negative", []float64{-0.1, 1.1}, true, ErrDomain},
		{"unnormalised", []float64{0.5, 0.6}, true, ErrDomain},
		{"unnormalised unchecked", []float64{0.5, 0.6}, false, nil},
		{"no mass", []float64{0, 0}, false, ErrDomain},
		{"nan", []float64{math.NaN(), 1}, false, ErrDomain},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCategorical(tensor.Vector(tt.probs...), WithValidateArgs(tt.validate))
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := NewCategorical(tensor.Full(tensor.Shape{}, 1.0))
	assert.ErrorIs(t, err, ErrShape)
}

func TestCategoricalFromLogits(t *testing.T) {
	c, err := NewCategoricalFromLogits(tensor.Vector(0, math.Log(3), math.Inf(-1)))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.25, 0.75, 0}, c.Probs().Data(), 1e-12)

	_, err = NewCategoricalFromLogits(tensor.Vector(math.Inf(-1), math.Inf(-1)))
	assert.ErrorIs(t, err, ErrDomain)
}

func TestCategoricalSampleFrequencies(t *testing.T) {
	c, err := NewCategorical(tensor.Vector(0.2, 0, 0.8))
	require.NoError(t, err)
	rng := rand.New(rand.NewPCG(1, 2))
	counts := make([]int, 3)
	const n = 20000
	for range n {
		counts[c.SampleIndex(0, rng)]++
	}
	assert.Zero(t, counts[1])
	assert.InDelta(t, 0.2, float64(counts[0])/n, 0.02)
}

func TestNormal(t *testing.T) {
	n, err := NewNormal(tensor.Vector(0.0, 1.0), tensor.Full(tensor.Shape{}, 0.5))
	require.NoError(t, err)
	assert.Equal(t, "[2]", n.BatchShape().String())
	want := -0.5*math.Log(2*math.Pi*0.25) - 0.5*(0.5*0.5)/0.25
	assert.InDelta(t, want, n.LogProbAt(1, []float64{1.5}), 1e-12)

	mean := make([]float64, 1)
	n.MeanAt(1, mean)
	assert.Equal(t, 1.0, mean[0])
	n.VarianceAt(0, mean)
	assert.InDelta(t, 0.25, mean[0], 1e-12)

	_, err = NewNormal(tensor.Vector(0.0), tensor.Vector(-1.0), WithValidateArgs(true))
	assert.ErrorIs(t, err, ErrDomain)
	_, err = NewNormal(tensor.Vector(0.0, 1.0, 2.0), tensor.Vector(1.0, 2.0))
	assert.ErrorIs(t, err, ErrShape)
}

func TestMultivariateNormalDiagMatchesFullCovariance(t *testing.T) {
	loc := tensor.MustNew(tensor.Shape{2, 2}, []float64{0, 0, 10, 10})
	scale := tensor.Vector(0.5, 2)
	diag, err := NewMultivariateNormalDiag(loc, scale)
	require.NoError(t, err)
	assert.Equal(t, "[2]", diag.BatchShape().String())
	assert.Equal(t, "[2]", diag.EventShape().String())

	cov := tensor.MustNew(tensor.Shape{2, 2}, []float64{0.25, 0, 0, 4})
	full, err := NewMultivariateNormal(loc, cov)
	require.NoError(t, err)
	assert.Equal(t, "[2]", full.BatchShape().String())

	x := []float64{9.5, 11}
	assert.InDelta(t, diag.LogProbAt(1, x), full.LogProbAt(1, x), 1e-9)

	v := make([]float64, 2)
	full.VarianceAt(0, v)
	assert.Equal(t, []float64{0.25, 4}, v)
}

func TestMultivariateNormalRejectsIndefinite(t *testing.T) {
	cov := tensor.MustNew(tensor.Shape{2, 2}, []float64{1, 2, 2, 1})
	_, err := NewMultivariateNormal(tensor.Vector(0.0, 0.0), cov)
	assert.ErrorIs(t, err, ErrDomain)

	asym := tensor.MustNew(tensor.Shape{2, 2}, []float64{1, 0.1, 0, 1})
	_, err = NewMultivariateNormal(tensor.Vector(0.0, 0.0), asym, WithValidateArgs(true))
	assert.ErrorIs(t, err, ErrDomain)
}

func TestMultivariateNormalSampleMoments(t *testing.T) {
	cov := tensor.MustNew(tensor.Shape{2, 2}, []float64{1, 0.8, 0.8, 1})
	m, err := NewMultivariateNormal(tensor.Vector(1.0, -1.0), cov)
	require.NoError(t, err)
	rng := rand.New(rand.NewPCG(3, 4))
	const n = 20000
	var sx, sy, sxy float64
	x := make([]float64, 2)
	for range n {
		m.SampleAt(0, rng, x)
		sx += x[0]
		sy += x[1]
		sxy += (x[0] - 1) * (x[1] + 1)
	}
	assert.InDelta(t, 1.0, sx/n, 0.05)
	assert.InDelta(t, -1.0, sy/n, 0.05)
	assert.InDelta(t, 0.8, sxy/n, 0.05)
}

func TestReshape(t *testing.T) {
	base, err := NewMultivariateNormalDiag(tensor.MustNew(tensor.Shape{1, 4}, []float64{1, 0, 0, 0}), nil)
	require.NoError(t, err)
	r, err := NewReshape(base, tensor.Shape{2, 2})
	require.NoError(t, err)
	assert.Equal(t, "[2 2]", r.EventShape().String())
	x := []float64{1, 0.5, 0, 0}
	assert.Equal(t, base.LogProbAt(0, x), r.LogProbAt(0, x))
	_, ok := r.(Meaner)
	assert.True(t, ok)

	_, err = NewReshape(base, tensor.Shape{3})
	assert.ErrorIs(t, err, ErrShape)

	cat, err := NewCategorical(tensor.Vector(0.5, 0.5))
	require.NoError(t, err)
	rc, err := NewReshape(cat, tensor.Shape{1})
	require.NoError(t, err)
	_, ok = rc.(Meaner)
	assert.False(t, ok)
}

func TestLogProbBroadcasts(t *testing.T) {
	c, err := NewCategorical(tensor.MustNew(tensor.Shape{2, 2}, []float64{1, 0, 0, 1}))
	require.NoError(t, err)
	lp, err := LogProb(c, tensor.MustNew(tensor.Shape{3, 1}, []float64{0, 1, 0}))
	require.NoError(t, err)
	assert.Equal(t, "[3 2]", lp.Shape().String())
	assert.Equal(t, 0.0, lp.At(0, 0))
	assert.True(t, math.IsInf(lp.At(0, 1), -1))
	assert.Equal(t, 0.0, lp.At(1, 1))

	mvn, err := NewMultivariateNormalDiag(tensor.Vector(0.0, 0.0), nil)
	require.NoError(t, err)
	_, err = LogProb(mvn, tensor.Vector(1.0, 2.0, 3.0))
	assert.ErrorIs(t, err, ErrShape)
}

func TestCategoricalRejectsEmptyAxes(t *testing.T) {
	for _, shape := range []tensor.Shape{{3, 0}, {0, 2}} {
		_, err := NewCategoricalFromLogits(tensor.Zeros[float64](shape))
		assert.ErrorIs(t, err, ErrShape, "logits %v", shape)
		_, err = NewCategorical(tensor.Zeros[float64](shape))
		assert.ErrorIs(t, err, ErrShape, "probs %v", shape)
	}
}
