package hmm

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// logSumExp returns log(sum(exp(values))). A slice that is entirely -Inf
// yields -Inf, never NaN.
func logSumExp(values []float64) float64 {
	m := floats.Max(values)
	if math.IsInf(m, 0) {
		return m
	}
	var s float64
	for _, v := range values {
		s += math.Exp(v - m)
	}
	return m + math.Log(s)
}

// logMatVec combines a K×K log matrix (row-major, L[i*k+j]) with a log
// vector. Forward: dst[j] = LSE_i(v[i] + L[i,j]). Transposed:
// dst[i] = LSE_j(L[i,j] + v[j]). scratch must have length k and must not
// alias dst or v.
func logMatVec(dst, logMatrix, v, scratch []float64, k int, transpose bool) {
	for out := range k {
		for in := range k {
			if transpose {
				scratch[in] = logMatrix[out*k+in] + v[in]
			} else {
				scratch[in] = v[in] + logMatrix[in*k+out]
			}
		}
		dst[out] = logSumExp(scratch)
	}
}

// argmax returns the index of the largest value, the lowest such index on
// ties. ok is false when no entry exceeds -Inf.
func argmax(values []float64) (idx int, ok bool) {
	best := math.Inf(-1)
	for i, v := range values {
		if v > best {
			best, idx, ok = v, i, true
		}
	}
	return idx, ok
}
