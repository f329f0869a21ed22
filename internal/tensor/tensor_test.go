package tensor

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seq(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i)
	}
	return out
}

func approx(t *testing.T, want, got []float32) {
	t.Helper()
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-5)); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}
}

func TestFromFloat32Validation(t *testing.T) {
	_, err := FromFloat32([]float32{1, 2, 3}, Shape{2, 2})
	assert.Error(t, err)

	_, err = FromFloat32([]float32{1}, Shape{0})
	assert.Error(t, err)

	x, err := FromFloat32([]float32{1, 2, 3, 4}, Shape{2, 2})
	require.NoError(t, err)
	assert.Equal(t, Float32, x.DType())
	assert.Equal(t, 2, x.Rank())
	assert.Equal(t, "float32(2, 2)", x.String())
}

func TestInt32Conversion(t *testing.T) {
	x, err := FromInt32([]int32{1, -2, 3}, Shape{3})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, -2, 3}, x.Float32s())
	assert.Equal(t, Float32, x.AsFloat32().DType())

	y := MustFromFloat32([]float32{1.7, -2.2}, Shape{2})
	assert.Equal(t, []int32{1, -2}, y.Int32s())
}

func TestReshape(t *testing.T) {
	x := MustFromFloat32(seq(12), Shape{3, 4})

	y, err := x.Reshape(Shape{2, -1})
	require.NoError(t, err)
	assert.Equal(t, Shape{2, 6}, y.Shape())
	assert.Equal(t, x.Float32s(), y.Float32s())

	_, err = x.Reshape(Shape{-1, -1})
	assert.Error(t, err)
	_, err = x.Reshape(Shape{5, -1})
	assert.Error(t, err)
	_, err = x.Reshape(Shape{3, 3})
	assert.Error(t, err)
}

func TestTranspose(t *testing.T) {
	x := MustFromFloat32(seq(6), Shape{2, 3})
	y, err := x.Transpose(1, 0)
	require.NoError(t, err)
	assert.Equal(t, Shape{3, 2}, y.Shape())
	assert.Equal(t, []float32{0, 3, 1, 4, 2, 5}, y.Float32s())

	// NCHW -> NHWC
	img := MustFromFloat32(seq(2*2*2), Shape{1, 2, 2, 2})
	nhwc, err := img.Transpose(0, 2, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, Shape{1, 2, 2, 2}, nhwc.Shape())
	assert.Equal(t, []float32{0, 4, 1, 5, 2, 6, 3, 7}, nhwc.Float32s())

	_, err = x.Transpose(0, 0)
	assert.Error(t, err)
	_, err = x.Transpose(0)
	assert.Error(t, err)
}

func TestShapeHelpers(t *testing.T) {
	assert.True(t, Shape{-1, 8, 8, 3}.Compatible(Shape{4, 8, 8, 3}))
	assert.False(t, Shape{-1, 8, 8, 3}.Compatible(Shape{4, 8, 8, 1}))
	assert.False(t, Shape{-1, 8}.Compatible(Shape{4, 8, 1}))
	assert.Equal(t, "(?, 8, 3)", Shape{-1, 8, 3}.String())
	assert.Equal(t, []int{12, 4, 1}, Shape{2, 3, 4}.ComputeStrides())

	out, needs, err := BroadcastShapes(Shape{3, 1}, Shape{3, 5})
	require.NoError(t, err)
	assert.True(t, needs)
	assert.Equal(t, Shape{3, 5}, out)
	_, _, err = BroadcastShapes(Shape{3, 4}, Shape{3, 5})
	assert.Error(t, err)
}
