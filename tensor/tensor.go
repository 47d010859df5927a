package tensor

import (
	"errors"
	"fmt"
)

// ErrShape is returned for invalid or incompatible shapes.
var ErrShape = errors.New("tensor: invalid shape")

// Element is the set of element types a Tensor can hold.
type Element interface {
	~float64 | ~int | ~bool
}

// Tensor is a dense row-major array.
type Tensor[T Element] struct {
	shape Shape
	data  []T
}

// New wraps data in a tensor of the given shape. The data slice is not copied.
func New[T Element](shape Shape, data []T) (*Tensor[T], error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if n := shape.NumElements(); n != len(data) {
		return nil, fmt.Errorf("%w: shape %v needs %d elements, got %d", ErrShape, shape, n, len(data))
	}
	return &Tensor[T]{shape: shape.Clone(), data: data}, nil
}

// MustNew is New that panics on error. Intended for literals in tests and examples.
func MustNew[T Element](shape Shape, data []T) *Tensor[T] {
	t, err := New(shape, data)
	if err != nil {
		panic(err)
	}
	return t
}

// Zeros allocates a zero-valued tensor.
func Zeros[T Element](shape Shape) *Tensor[T] {
	return &Tensor[T]{shape: shape.Clone(), data: make([]T, shape.NumElements())}
}

// Full allocates a tensor filled with v.
func Full[T Element](shape Shape, v T) *Tensor[T] {
	t := Zeros[T](shape)
	for i := range t.data {
		t.data[i] = v
	}
	return t
}

// Vector builds a rank-1 tensor from values.
func Vector[T Element](values ...T) *Tensor[T] {
	data := make([]T, len(values))
	copy(data, values)
	return &Tensor[T]{shape: Shape{len(values)}, data: data}
}

// Matrix builds a rank-2 tensor from equal-length rows.
func Matrix[T Element](rows [][]T) (*Tensor[T], error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: empty matrix", ErrShape)
	}
	cols := len(rows[0])
	data := make([]T, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrShape, i, len(row), cols)
		}
		data = append(data, row...)
	}
	return New(Shape{len(rows), cols}, data)
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor[T]) Shape() Shape {
	return t.shape.Clone()
}

// Rank returns the number of dimensions.
func (t *Tensor[T]) Rank() int {
	return len(t.shape)
}

// Len returns the number of elements.
func (t *Tensor[T]) Len() int {
	return len(t.data)
}

// Data returns the underlying row-major storage.
func (t *Tensor[T]) Data() []T {
	return t.data
}

// At returns the element at the given multi-index.
func (t *Tensor[T]) At(idx ...int) T {
	return t.data[t.offset(idx)]
}

// Set stores v at the given multi-index.
func (t *Tensor[T]) Set(v T, idx ...int) {
	t.data[t.offset(idx)] = v
}

func (t *Tensor[T]) offset(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("tensor: index %v for shape %v", idx, t.shape))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index %v out of range for shape %v", idx, t.shape))
		}
		off = off*t.shape[i] + v
	}
	return off
}

// Reshape returns a tensor sharing storage with a new shape of equal size.
func (t *Tensor[T]) Reshape(shape Shape) (*Tensor[T], error) {
	return New(shape, t.data)
}

// BroadcastTo materialises t broadcast to shape.
func (t *Tensor[T]) BroadcastTo(shape Shape) (*Tensor[T], error) {
	ix, err := NewIndexer(t.shape, shape)
	if err != nil {
		return nil, err
	}
	out := Zeros[T](shape)
	for i := range out.data {
		out.data[i] = t.data[ix.Index(i)]
	}
	return out, nil
}
