// Package tensor provides the minimal dense, row-major array support the
// distributions and the HMM engine need: shapes, NumPy-style broadcasting
// and index mapping from a broadcast shape back into a source array.
package tensor

import (
	"fmt"
	"strconv"
	"strings"
)

// Shape represents the dimensions of a tensor. A nil or empty shape is a scalar.
type Shape []int

// Rank returns the number of dimensions.
func (s Shape) Rank() int {
	return len(s)
}

// NumElements returns the total number of elements.
func (s Shape) NumElements() int {
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Validate checks that every dimension is positive.
func (s Shape) Validate() error {
	for i, dim := range s {
		if dim <= 0 {
			return fmt.Errorf("%w: dimension %d of %v is %d", ErrShape, i, s, dim)
		}
	}
	return nil
}

// Equal reports whether two shapes are identical.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// Concat returns s followed by the given dimensions.
func (s Shape) Concat(dims ...int) Shape {
	out := make(Shape, 0, len(s)+len(dims))
	out = append(out, s...)
	return append(out, dims...)
}

// Strides returns row-major strides.
func (s Shape) Strides() []int {
	strides := make([]int, len(s))
	if len(s) == 0 {
		return strides
	}
	strides[len(s)-1] = 1
	for i := len(s) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * s[i+1]
	}
	return strides
}

// String renders the shape as "[3 2]".
func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = strconv.Itoa(d)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Broadcast returns the NumPy-style broadcast of a and b: trailing
// dimensions are aligned, missing ones count as 1, and each pair must be
// equal or contain a 1.
func Broadcast(a, b Shape) (Shape, error) {
	n := max(len(a), len(b))
	result := make(Shape, n)
	for i := range n {
		aDim, bDim := 1, 1
		if j := len(a) - 1 - i; j >= 0 {
			aDim = a[j]
		}
		if j := len(b) - 1 - i; j >= 0 {
			bDim = b[j]
		}
		switch {
		case aDim == bDim:
			result[n-1-i] = aDim
		case aDim == 1:
			result[n-1-i] = bDim
		case bDim == 1:
			result[n-1-i] = aDim
		default:
			return nil, fmt.Errorf("%w: %v and %v do not broadcast (dimension %d: %d vs %d)",
				ErrShape, a, b, n-1-i, aDim, bDim)
		}
	}
	return result, nil
}

// BroadcastAll folds Broadcast over every shape. A call without shapes
// returns the scalar shape.
func BroadcastAll(shapes ...Shape) (Shape, error) {
	result := Shape{}
	for _, s := range shapes {
		var err error
		if result, err = Broadcast(result, s); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Indexer maps a flat row-major index in a broadcast target shape to the
// flat index of the element it reads in a source shape.
type Indexer struct {
	dims    []int // target dims
	strides []int // source strides aligned to target dims, 0 where broadcast
	trivial bool
}

// NewIndexer builds an Indexer reading src as if broadcast to dst.
func NewIndexer(src, dst Shape) (Indexer, error) {
	if len(src) > len(dst) {
		return Indexer{}, fmt.Errorf("%w: %v has higher rank than %v", ErrShape, src, dst)
	}
	srcStrides := src.Strides()
	offset := len(dst) - len(src)
	ix := Indexer{
		dims:    []int(dst.Clone()),
		strides: make([]int, len(dst)),
		trivial: src.Equal(dst),
	}
	for i := range dst {
		j := i - offset
		if j < 0 {
			continue
		}
		switch src[j] {
		case dst[i]:
			ix.strides[i] = srcStrides[j]
		case 1:
			ix.strides[i] = 0
		default:
			return Indexer{}, fmt.Errorf("%w: %v does not broadcast to %v", ErrShape, src, dst)
		}
	}
	return ix, nil
}

// Index returns the source flat index for the target flat index.
func (ix Indexer) Index(flat int) int {
	if ix.trivial {
		return flat
	}
	src := 0
	for i := len(ix.dims) - 1; i >= 0; i-- {
		d := ix.dims[i]
		src += (flat % d) * ix.strides[i]
		flat /= d
	}
	return src
}

// Unravel converts a flat row-major index into a multi-index of shape s.
func Unravel(flat int, s Shape) []int {
	idx := make([]int, len(s))
	for i := len(s) - 1; i >= 0; i-- {
		idx[i] = flat % s[i]
		flat /= s[i]
	}
	return idx
}
