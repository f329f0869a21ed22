// Package tensor exposes the dense channel-last tensors consumed and produced by
// imported models.
//
// Image batches are laid out as (N, H, W, C) and sequences as (N, W, C). Every
// value is stored as float32 or int32.
//
// Example:
//
//	x, err := tensor.FromFloat32(pixels, tensor.Shape{1, 224, 224, 3})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	outputs, err := model.Predict(x)
package tensor

import (
	"github.com/chaosmail/onnx-layers/internal/tensor"
)

// Tensor is a dense row-major tensor.
type Tensor = tensor.Tensor

// Shape represents tensor dimensions. -1 marks an unknown dimension in symbolic shapes.
type Shape = tensor.Shape

// DataType represents the element type of a tensor.
type DataType = tensor.DataType

// Data type constants.
const (
	Float32 DataType = tensor.Float32
	Int32   DataType = tensor.Int32
)

// Zeros returns a zero-filled tensor.
func Zeros(dtype DataType, shape Shape) *Tensor {
	return tensor.Zeros(dtype, shape)
}

// FromFloat32 wraps data in a float32 tensor. The slice is not copied.
func FromFloat32(data []float32, shape Shape) (*Tensor, error) {
	return tensor.FromFloat32(data, shape)
}

// FromInt32 wraps data in an int32 tensor. The slice is not copied.
func FromInt32(data []int32, shape Shape) (*Tensor, error) {
	return tensor.FromInt32(data, shape)
}

// MustFromFloat32 is FromFloat32 that panics on a size mismatch.
func MustFromFloat32(data []float32, shape Shape) *Tensor {
	return tensor.MustFromFloat32(data, shape)
}
