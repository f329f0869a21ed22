package tensor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaosmail/onnx-layers/tensor"
)

func TestFromFloat32(t *testing.T) {
	x, err := tensor.FromFloat32([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 2, 3}, x.Shape())
	assert.Equal(t, tensor.Float32, x.DType())
	assert.Equal(t, 6, x.NumElements())

	_, err = tensor.FromFloat32([]float32{1, 2}, tensor.Shape{3})
	assert.Error(t, err)
}

func TestFromInt32(t *testing.T) {
	x, err := tensor.FromInt32([]int32{1, 2}, tensor.Shape{2})
	require.NoError(t, err)
	assert.Equal(t, tensor.Int32, x.DType())
	assert.Equal(t, []float32{1, 2}, x.AsFloat32().Float32s())
}

func TestZeros(t *testing.T) {
	z := tensor.Zeros(tensor.Float32, tensor.Shape{2, 2})
	assert.Equal(t, []float32{0, 0, 0, 0}, z.Float32s())
}

func TestMustFromFloat32Panics(t *testing.T) {
	assert.Panics(t, func() { tensor.MustFromFloat32([]float32{1}, tensor.Shape{2}) })
}
