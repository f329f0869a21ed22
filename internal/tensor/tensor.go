package tensor

import (
	"fmt"

	"github.com/pkg/errors"
)

// Tensor is a dense row-major tensor holding either float32 or int32 elements.
//
// Tensors are treated as immutable once constructed: kernels always allocate
// their results, so a tensor may be shared between goroutines.
type Tensor struct {
	shape Shape
	dtype DataType
	f32   []float32
	i32   []int32
}

// Zeros allocates a zero-filled tensor.
func Zeros(dtype DataType, shape Shape) *Tensor {
	t := &Tensor{shape: shape.Clone(), dtype: dtype}
	switch dtype {
	case Int32:
		t.i32 = make([]int32, shape.NumElements())
	default:
		t.dtype = Float32
		t.f32 = make([]float32, shape.NumElements())
	}
	return t
}

// FromFloat32 wraps data in a tensor of the given shape. The slice is not copied.
func FromFloat32(data []float32, shape Shape) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, errors.Wrap(err, "FromFloat32")
	}
	if len(data) != shape.NumElements() {
		return nil, errors.Errorf("FromFloat32: %d values do not fill shape %v", len(data), shape)
	}
	return &Tensor{shape: shape.Clone(), dtype: Float32, f32: data}, nil
}

// FromInt32 wraps data in a tensor of the given shape. The slice is not copied.
func FromInt32(data []int32, shape Shape) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, errors.Wrap(err, "FromInt32")
	}
	if len(data) != shape.NumElements() {
		return nil, errors.Errorf("FromInt32: %d values do not fill shape %v", len(data), shape)
	}
	return &Tensor{shape: shape.Clone(), dtype: Int32, i32: data}, nil
}

// MustFromFloat32 is FromFloat32 that panics on error. Intended for tests and literals.
func MustFromFloat32(data []float32, shape Shape) *Tensor {
	t, err := FromFloat32(data, shape)
	if err != nil {
		panic(err)
	}
	return t
}

// Shape returns a copy of the tensor shape.
func (t *Tensor) Shape() Shape { return t.shape.Clone() }

// DType returns the element type.
func (t *Tensor) DType() DataType { return t.dtype }

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.shape) }

// NumElements returns the number of elements.
func (t *Tensor) NumElements() int { return t.shape.NumElements() }

// Float32s returns the elements as float32. Int32 tensors are converted into a new slice;
// float32 tensors return their backing slice, which must not be modified.
func (t *Tensor) Float32s() []float32 {
	if t.dtype == Float32 {
		return t.f32
	}
	out := make([]float32, len(t.i32))
	for i, v := range t.i32 {
		out[i] = float32(v)
	}
	return out
}

// Int32s returns the elements as int32. Float32 tensors are truncated into a new slice.
func (t *Tensor) Int32s() []int32 {
	if t.dtype == Int32 {
		return t.i32
	}
	out := make([]int32, len(t.f32))
	for i, v := range t.f32 {
		out[i] = int32(v)
	}
	return out
}

// AsFloat32 returns t itself when it already holds float32, else a converted copy.
func (t *Tensor) AsFloat32() *Tensor {
	if t.dtype == Float32 {
		return t
	}
	return &Tensor{shape: t.shape.Clone(), dtype: Float32, f32: t.Float32s()}
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	c := &Tensor{shape: t.shape.Clone(), dtype: t.dtype}
	if t.f32 != nil {
		c.f32 = append([]float32(nil), t.f32...)
	}
	if t.i32 != nil {
		c.i32 = append([]int32(nil), t.i32...)
	}
	return c
}

// Reshape returns a tensor sharing t's elements with a new shape. One dimension may be -1.
func (t *Tensor) Reshape(shape Shape) (*Tensor, error) {
	resolved, err := ResolveReshape(shape, t.NumElements())
	if err != nil {
		return nil, errors.Wrap(err, "Reshape")
	}
	return &Tensor{shape: resolved, dtype: t.dtype, f32: t.f32, i32: t.i32}, nil
}

// Transpose permutes the dimensions of t. An empty permutation reverses them.
func (t *Tensor) Transpose(perm ...int) (*Tensor, error) {
	ndim := len(t.shape)
	if len(perm) == 0 {
		perm = make([]int, ndim)
		for i := range perm {
			perm[i] = ndim - 1 - i
		}
	}
	if len(perm) != ndim {
		return nil, errors.Errorf("Transpose: permutation length %d must match tensor rank %d", len(perm), ndim)
	}

	seen := make([]bool, ndim)
	newShape := make(Shape, ndim)
	for i, ax := range perm {
		if ax < 0 || ax >= ndim || seen[ax] {
			return nil, errors.Errorf("Transpose: invalid permutation %v for rank %d", perm, ndim)
		}
		seen[ax] = true
		newShape[i] = t.shape[ax]
	}

	index := transposeIndex(t.shape, newShape, perm)
	out := &Tensor{shape: newShape, dtype: t.dtype}
	if t.dtype == Int32 {
		out.i32 = make([]int32, len(t.i32))
		for dst, src := range index {
			out.i32[dst] = t.i32[src]
		}
		return out, nil
	}
	out.f32 = make([]float32, len(t.f32))
	for dst, src := range index {
		out.f32[dst] = t.f32[src]
	}
	return out, nil
}

// transposeIndex maps every flat output index to its flat input index.
func transposeIndex(oldShape, newShape Shape, perm []int) []int {
	ndim := len(oldShape)
	oldStrides := oldShape.ComputeStrides()
	total := newShape.NumElements()

	index := make([]int, total)
	idx := make([]int, ndim)
	for i := 0; i < total; i++ {
		tmp := i
		for j := ndim - 1; j >= 0; j-- {
			idx[j] = tmp % newShape[j]
			tmp /= newShape[j]
		}
		oldFlat := 0
		for j := 0; j < ndim; j++ {
			oldFlat += idx[j] * oldStrides[perm[j]]
		}
		index[i] = oldFlat
	}
	return index
}

// String returns a short description such as "float32(1, 8, 8, 3)".
func (t *Tensor) String() string {
	return fmt.Sprintf("%s%v", t.dtype, t.shape)
}
