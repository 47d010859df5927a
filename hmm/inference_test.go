package hmm

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/happyhackingspace/markov/tensor"
)

// enumeration is the exact posterior of one sequence, found by summing
// over every state path.
type enumeration struct {
	logZ      float64
	marginals []float64 // [T][K]
	mode      []int
}

func enumerate(initial, trans, emit []float64, obs []int, mask []bool, k, symbols int) enumeration {
	steps := len(obs)
	res := enumeration{marginals: make([]float64, steps*k)}
	total := 0.0
	best := -1.0
	path := make([]int, steps)
	for code := range int(math.Pow(float64(k), float64(steps))) {
		c := code
		for t := steps - 1; t >= 0; t-- {
			path[t] = c % k
			c /= k
		}
		p := initial[path[0]]
		for t := range steps {
			if t > 0 {
				p *= trans[path[t-1]*k+path[t]]
			}
			if !mask[t] {
				p *= emit[path[t]*symbols+obs[t]]
			}
		}
		total += p
		for t, s := range path {
			res.marginals[t*k+s] += p
		}
		if p > best {
			best = p
			res.mode = append(res.mode[:0], path...)
		}
	}
	for i := range res.marginals {
		res.marginals[i] /= total
	}
	res.logZ = math.Log(total)
	return res
}

func randomRows(rng *rand.Rand, rows, cols int) []float64 {
	out := make([]float64, rows*cols)
	for r := range rows {
		sum := 0.0
		for c := range cols {
			v := 0.05 + rng.Float64()
			out[r*cols+c] = v
			sum += v
		}
		for c := range cols {
			out[r*cols+c] /= sum
		}
	}
	return out
}

func TestInferenceMatchesEnumeration(t *testing.T) {
	const batch, k, symbols, steps = 6, 3, 4, 5
	rng := rand.New(rand.NewPCG(1, 2))

	initial := randomRows(rng, 1, k)
	trans := randomRows(rng, batch*k, k)
	emit := randomRows(rng, k, symbols)

	obs := make([]float64, batch*steps)
	mask := make([]bool, batch*steps)
	for i := range obs {
		obs[i] = float64(rng.IntN(symbols))
		mask[i] = rng.IntN(4) == 0
	}

	m, err := New(
		categorical(t, tensor.Shape{k}, initial...),
		categorical(t, tensor.Shape{batch, k, k}, trans...),
		categorical(t, tensor.Shape{k, symbols}, emit...),
		steps,
	)
	require.NoError(t, err)

	obsT := tensor.MustNew(tensor.Shape{batch, steps}, obs)
	maskT := tensor.MustNew(tensor.Shape{batch, steps}, mask)

	lp, err := m.LogProb(obsT, maskT)
	require.NoError(t, err)
	marginals, err := m.PosteriorMarginals(obsT, maskT)
	require.NoError(t, err)
	probs := marginals.Probs().Data()
	mode, err := m.PosteriorMode(obsT, maskT)
	require.NoError(t, err)

	for b := range batch {
		seq := make([]int, steps)
		for i := range seq {
			seq[i] = int(obs[b*steps+i])
		}
		want := enumerate(initial, trans[b*k*k:(b+1)*k*k], emit, seq, mask[b*steps:(b+1)*steps], k, symbols)

		assert.InDelta(t, want.logZ, lp.Data()[b], 1e-10, "batch %d", b)
		assert.InDeltaSlice(t, want.marginals, probs[b*steps*k:(b+1)*steps*k], 1e-10, "batch %d", b)
		assert.Equal(t, want.mode, mode.Data()[b*steps:(b+1)*steps], "batch %d", b)
	}
}

func TestMarginalsNormalised(t *testing.T) {
	m := highRankModel(t, 1, 0, 0)
	obs := tensor.MustNew(tensor.Shape{8, 2, 2}, highRankObservations)
	marginals, err := m.PosteriorMarginals(obs, nil)
	require.NoError(t, err)

	probs := marginals.Probs()
	data := probs.Data()
	for row := range len(data) / 4 {
		sum := 0.0
		for _, p := range data[row*4 : (row+1)*4] {
			assert.GreaterOrEqual(t, p, 0.0)
			sum += p
		}
		assert.InDelta(t, 1, sum, 1e-12, "row %d", row)
	}
}

func TestFullyMaskedSequenceFollowsPrior(t *testing.T) {
	m, err := New(
		categorical(t, tensor.Shape{2}, 0.6, 0.4),
		categorical(t, tensor.Shape{2, 2}, 0.6, 0.4, 0.3, 0.7),
		categorical(t, tensor.Shape{2, 2}, 0.9, 0.1, 0.2, 0.8),
		3,
	)
	require.NoError(t, err)

	obs := tensor.Vector(1.0, 0.0, 1.0)
	mask := tensor.Vector(true, true, true)
	lp, err := m.LogProb(obs, mask)
	require.NoError(t, err)
	assert.InDelta(t, 0, lp.Data()[0], 1e-12)

	marginals, err := m.PosteriorMarginals(obs, mask)
	require.NoError(t, err)
	// p(s_1) = [0.6, 0.4] P = [0.48, 0.52]; p(s_2) = [0.444, 0.556]
	assert.InDeltaSlice(t, []float64{0.6, 0.4, 0.48, 0.52, 0.444, 0.556}, marginals.Probs().Data(), 1e-12)
}

func TestParallelMatchesSequential(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 9))
	const batch, steps = 37, 8
	obs := make([]float64, batch*steps*4)
	for i := range obs {
		obs[i] = rng.Float64()
	}
	x := tensor.MustNew(tensor.Shape{batch, steps, 2, 2}, obs)

	seq := highRankModel(t, 0, 0, 0)
	seq.parallelism = 1
	par := highRankModel(t, 0, 0, 0)
	par.parallelism = 8

	want, err := seq.PosteriorMarginals(x, nil)
	require.NoError(t, err)
	got, err := par.PosteriorMarginals(x, nil)
	require.NoError(t, err)
	assert.Equal(t, want.Probs().Data(), got.Probs().Data())

	wantMode, err := seq.PosteriorMode(x, nil)
	require.NoError(t, err)
	gotMode, err := par.PosteriorMode(x, nil)
	require.NoError(t, err)
	assert.Equal(t, wantMode, gotMode)
}

func TestParallelReportsLowestFailingBatch(t *testing.T) {
	m, err := New(
		categorical(t, tensor.Shape{2}, 0.5, 0.5),
		categorical(t, tensor.Shape{2, 2}, 1, 0, 0, 1),
		categorical(t, tensor.Shape{2, 2}, 1, 0, 0, 1),
		2,
		WithParallelism(4),
	)
	require.NoError(t, err)

	const batch = 16
	obs := make([]float64, batch*2)
	for _, b := range []int{5, 11, 14} {
		obs[b*2+1] = 1
	}
	_, err = m.PosteriorMode(tensor.MustNew(tensor.Shape{batch, 2}, obs), nil)
	var degenerate *DegenerateSequenceError
	require.ErrorAs(t, err, &degenerate)
	assert.Equal(t, []int{5}, degenerate.Batch)
}

func TestForEachBatchPrefersLowestChunkError(t *testing.T) {
	m, err := New(
		categorical(t, tensor.Shape{2}, 0.5, 0.5),
		categorical(t, tensor.Shape{2, 2}, 0.5, 0.5, 0.5, 0.5),
		categorical(t, tensor.Shape{2, 2}, 0.5, 0.5, 0.5, 0.5),
		1,
		WithParallelism(4),
	)
	require.NoError(t, err)

	// Batch 2 only fails after batch 13 has, so the last chunk errors first.
	late := make(chan struct{})
	var visited atomic.Int32
	err = m.forEachBatch(16, func(b int) error {
		visited.Add(1)
		switch b {
		case 2:
			<-late
			return fmt.Errorf("batch %d", b)
		case 13:
			close(late)
			return fmt.Errorf("batch %d", b)
		}
		return nil
	})
	require.EqualError(t, err, "batch 2")
	assert.LessOrEqual(t, visited.Load(), int32(16))

	visited.Store(0)
	require.NoError(t, m.forEachBatch(16, func(int) error {
		visited.Add(1)
		return nil
	}))
	assert.Equal(t, int32(16), visited.Load())
}
