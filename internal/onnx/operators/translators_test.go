package operators

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaosmail/onnx-layers/internal/layers"
	"github.com/chaosmail/onnx-layers/internal/onnx/onnxtest"
	"github.com/chaosmail/onnx-layers/internal/onnx/protos"
	"github.com/chaosmail/onnx-layers/internal/tensor"
)

// translate runs the last node of g against the given bound inputs.
func translate(t *testing.T, g *protos.GraphProto, inputs ...*layers.SymbolicTensor) (*Context, layers.Layer, *layers.SymbolicTensor, error) {
	t.Helper()
	ctx := NewContext(g, logr.Discard())
	layer, out, err := NewRegistry().Setup(ctx, &g.Nodes[len(g.Nodes)-1], inputs)
	return ctx, layer, out, err
}

func input(name string, shape ...int) *layers.SymbolicTensor {
	return layers.Output(layers.NewInput(name, shape))
}

func convGraph(attrs ...protos.AttributeProto) *protos.GraphProto {
	return onnxtest.NewGraph("conv").
		Initializer(onnxtest.Float32("W", []int64{4, 3, 3, 3}, onnxtest.Fill(108, 1))).
		Initializer(onnxtest.Float32("B", []int64{4}, []float32{1, 2, 3, 4})).
		Node("Conv", []string{"x", "W", "B"}, []string{"y"}, attrs...).
		Graph()
}

func TestConvTranslation(t *testing.T) {
	_, layer, out, err := translate(t, convGraph(onnxtest.Ints("kernel_shape", 3, 3)), input("x", 8, 8, 3))
	require.NoError(t, err)

	cfg := layer.Config().(layers.ConvConfig)
	assert.Equal(t, "Conv2D", layer.ClassName())
	assert.Equal(t, tensor.PaddingValid, cfg.Padding)
	assert.Equal(t, 4, cfg.Filters)
	assert.Equal(t, []int{3, 3}, cfg.KernelSize)
	assert.Equal(t, []int{1, 1}, cfg.Strides)
	assert.Equal(t, []int{1, 1}, cfg.Dilations)
	assert.True(t, cfg.UseBias)
	assert.Equal(t, tensor.Shape{3, 3, 3, 4}, cfg.Kernel.Shape())
	assert.Equal(t, tensor.Shape{-1, 6, 6, 4}, out.Shape())
}

func TestConvPadding(t *testing.T) {
	tests := []struct {
		name  string
		attrs []protos.AttributeProto
		want  tensor.Padding
		shape tensor.Shape
	}{
		{"explicit pads", []protos.AttributeProto{onnxtest.Ints("pads", 1, 1, 1, 1)}, tensor.PaddingSame, tensor.Shape{-1, 8, 8, 4}},
		{"zero pads", []protos.AttributeProto{onnxtest.Ints("pads", 0, 0, 0, 0)}, tensor.PaddingValid, tensor.Shape{-1, 6, 6, 4}},
		{"same upper", []protos.AttributeProto{onnxtest.String("auto_pad", "SAME_UPPER")}, tensor.PaddingSame, tensor.Shape{-1, 8, 8, 4}},
		{"valid", []protos.AttributeProto{onnxtest.String("auto_pad", "VALID")}, tensor.PaddingValid, tensor.Shape{-1, 6, 6, 4}},
		{"notset", []protos.AttributeProto{onnxtest.String("auto_pad", "NOTSET")}, tensor.PaddingValid, tensor.Shape{-1, 6, 6, 4}},
		{"strided", []protos.AttributeProto{onnxtest.Ints("strides", 2, 2)}, tensor.PaddingValid, tensor.Shape{-1, 3, 3, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, layer, out, err := translate(t, convGraph(tt.attrs...), input("x", 8, 8, 3))
			require.NoError(t, err)
			assert.Equal(t, tt.want, layer.Config().(layers.ConvConfig).Padding)
			assert.Equal(t, tt.shape, out.Shape())
		})
	}
}

func TestConvKernelLayout(t *testing.T) {
	// (O=2, I=1, kh=1, kw=2) -> (kh, kw, I, O)
	g := onnxtest.NewGraph("conv").
		Initializer(onnxtest.Float32("W", []int64{2, 1, 1, 2}, []float32{1, 2, 3, 4})).
		Node("Conv", []string{"x", "W"}, []string{"y"}).
		Graph()
	_, layer, _, err := translate(t, g, input("x", 4, 4, 1))
	require.NoError(t, err)

	cfg := layer.Config().(layers.ConvConfig)
	assert.False(t, cfg.UseBias)
	assert.Equal(t, []int{1, 2}, cfg.KernelSize, "kernel size read from the weight")
	assert.Equal(t, tensor.Shape{1, 2, 1, 2}, cfg.Kernel.Shape())
	assert.Equal(t, []float32{1, 3, 2, 4}, cfg.Kernel.Float32s())
}

func TestConv1D(t *testing.T) {
	g := onnxtest.NewGraph("conv").
		Initializer(onnxtest.Float32("W", []int64{2, 3, 3}, onnxtest.Seq(18))).
		Node("Conv", []string{"x", "W"}, []string{"y"}, onnxtest.Ints("kernel_shape", 3)).
		Graph()
	_, layer, out, err := translate(t, g, input("x", 10, 3))
	require.NoError(t, err)
	assert.Equal(t, "Conv1D", layer.ClassName())
	assert.Equal(t, tensor.Shape{3, 3, 2}, layer.Config().(layers.ConvConfig).Kernel.Shape())
	assert.Equal(t, tensor.Shape{-1, 8, 2}, out.Shape())
}

func TestConvRejected(t *testing.T) {
	_, _, _, err := translate(t, convGraph(onnxtest.Int("group", 3)), input("x", 8, 8, 3))
	assert.ErrorIs(t, err, protos.ErrUnimplementedOp)

	missing := onnxtest.NewGraph("conv").Node("Conv", []string{"x", "W"}, []string{"y"}).Graph()
	_, _, _, err = translate(t, missing, input("x", 8, 8, 3))
	assert.ErrorIs(t, err, protos.ErrMissingTensor)

	_, _, _, err = translate(t, convGraph(onnxtest.Ints("strides", 1, 1, 1)), input("x", 8, 8, 3))
	assert.ErrorIs(t, err, protos.ErrFormatDecode)
}

func TestPoolTranslation(t *testing.T) {
	g := onnxtest.NewGraph("pool").
		Node("MaxPool", []string{"x"}, []string{"y"}, onnxtest.Ints("kernel_shape", 2, 2), onnxtest.Ints("strides", 2, 2)).
		Graph()
	_, layer, out, err := translate(t, g, input("x", 8, 8, 3))
	require.NoError(t, err)
	assert.Equal(t, "MaxPooling2D", layer.ClassName())
	assert.Equal(t, tensor.Shape{-1, 4, 4, 3}, out.Shape())

	avg := onnxtest.NewGraph("pool").
		Node("AveragePool", []string{"x"}, []string{"y"}, onnxtest.Ints("kernel_shape", 3), onnxtest.Ints("pads", 1, 1)).
		Graph()
	_, layer, out, err = translate(t, avg, input("x", 10, 3))
	require.NoError(t, err)
	assert.Equal(t, "AveragePooling1D", layer.ClassName())
	assert.Equal(t, tensor.Shape{-1, 10, 3}, out.Shape())

	noKernel := onnxtest.NewGraph("pool").Node("MaxPool", []string{"x"}, []string{"y"}).Graph()
	_, _, _, err = translate(t, noKernel, input("x", 8, 8, 3))
	assert.ErrorIs(t, err, protos.ErrFormatDecode)
}

func TestGlobalPoolTranslation(t *testing.T) {
	g := onnxtest.NewGraph("pool").Node("GlobalAveragePool", []string{"x"}, []string{"y"}).Graph()
	_, layer, out, err := translate(t, g, input("x", 8, 8, 3))
	require.NoError(t, err)
	assert.Equal(t, "GlobalAveragePooling2D", layer.ClassName())
	assert.Equal(t, tensor.Shape{-1, 3}, out.Shape())

	g = onnxtest.NewGraph("pool").Node("GlobalMaxPool", []string{"x"}, []string{"y"}).Graph()
	_, layer, out, err = translate(t, g, input("x", 10, 5))
	require.NoError(t, err)
	assert.Equal(t, "GlobalMaxPooling1D", layer.ClassName())
	assert.Equal(t, tensor.Shape{-1, 5}, out.Shape())
}

func TestActivationTranslation(t *testing.T) {
	tests := []struct {
		op   string
		want layers.ActivationConfig
	}{
		{"Identity", layers.ActivationConfig{Activation: layers.ActivationLinear}},
		{"Relu", layers.ActivationConfig{Activation: layers.ActivationReLU}},
		{"Tanh", layers.ActivationConfig{Activation: layers.ActivationTanh}},
		{"Sigmoid", layers.ActivationConfig{Activation: layers.ActivationSigmoid}},
		{"Softplus", layers.ActivationConfig{Activation: layers.ActivationSoftplus}},
		{"Softsign", layers.ActivationConfig{Activation: layers.ActivationSoftsign}},
		{"Elu", layers.ActivationConfig{Activation: layers.ActivationElu, Alpha: 1}},
		{"HardSigmoid", layers.ActivationConfig{Activation: layers.ActivationHardSigmoid, Alpha: 0.2, Beta: 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			g := onnxtest.NewGraph("act").Node(tt.op, []string{"x"}, []string{"y"}).Graph()
			_, layer, out, err := translate(t, g, input("x", 4, 4, 2))
			require.NoError(t, err)
			assert.Equal(t, tt.want, layer.Config())
			assert.Equal(t, tensor.Shape{-1, 4, 4, 2}, out.Shape())
		})
	}

	g := onnxtest.NewGraph("act").Node("Elu", []string{"x"}, []string{"y"}, onnxtest.Float("alpha", 0.5)).Graph()
	_, layer, _, err := translate(t, g, input("x", 3))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, layer.Config().(layers.ActivationConfig).Alpha, 1e-6)
}

func TestSoftmaxAxis(t *testing.T) {
	tests := []struct {
		name  string
		attrs []protos.AttributeProto
		shape []int
		want  int
	}{
		{"default rank 2", nil, []int{10}, 1},
		{"channel rank 4", []protos.AttributeProto{onnxtest.Int("axis", 1)}, []int{4, 4, 3}, 3},
		{"last rank 4", []protos.AttributeProto{onnxtest.Int("axis", -1)}, []int{4, 4, 3}, 1},
		{"batch rank 4", []protos.AttributeProto{onnxtest.Int("axis", 0)}, []int{4, 4, 3}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := onnxtest.NewGraph("softmax").Node("Softmax", []string{"x"}, []string{"y"}, tt.attrs...).Graph()
			_, layer, _, err := translate(t, g, input("x", tt.shape...))
			require.NoError(t, err)
			assert.Equal(t, layers.SoftmaxConfig{Axis: tt.want}, layer.Config())
		})
	}

	g := onnxtest.NewGraph("softmax").Node("Softmax", []string{"x"}, []string{"y"}).Graph()
	_, _, _, err := translate(t, g)
	assert.ErrorIs(t, err, protos.ErrMissingTensor)
}

func TestDenseTranslation(t *testing.T) {
	g := onnxtest.NewGraph("fc").
		Initializer(onnxtest.Float32("W", []int64{2, 3}, []float32{1, 2, 3, 4, 5, 6})).
		Initializer(onnxtest.Float32("B", []int64{2}, []float32{0.5, -0.5})).
		Node("FC", []string{"x", "W", "B"}, []string{"y"}).
		Graph()
	_, layer, out, err := translate(t, g, input("x", 3))
	require.NoError(t, err)

	cfg := layer.Config().(layers.DenseConfig)
	assert.Equal(t, 2, cfg.Units)
	assert.True(t, cfg.UseBias)
	assert.Equal(t, tensor.Shape{3, 2}, cfg.Kernel.Shape())
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, cfg.Kernel.Float32s())
	assert.Equal(t, tensor.Shape{-1, 2}, out.Shape())
}

func TestGemmTranslation(t *testing.T) {
	transposed := onnxtest.NewGraph("gemm").
		Initializer(onnxtest.Float32("W", []int64{2, 3}, []float32{1, 2, 3, 4, 5, 6})).
		Initializer(onnxtest.Float32("C", []int64{1, 2}, []float32{1, 1})).
		Node("Gemm", []string{"x", "W", "C"}, []string{"y"},
			onnxtest.Int("transB", 1), onnxtest.Float("alpha", 2), onnxtest.Float("beta", 3)).
		Graph()
	_, layer, out, err := translate(t, transposed, input("x", 3))
	require.NoError(t, err)
	cfg := layer.Config().(layers.DenseConfig)
	assert.Equal(t, 2, cfg.Units)
	assert.Equal(t, []float32{2, 8, 4, 10, 6, 12}, cfg.Kernel.Float32s())
	assert.Equal(t, []float32{3, 3}, cfg.Bias.Float32s())
	assert.Equal(t, tensor.Shape{-1, 2}, out.Shape())

	plain := onnxtest.NewGraph("gemm").
		Initializer(onnxtest.Float32("W", []int64{3, 2}, onnxtest.Seq(6))).
		Node("Gemm", []string{"x", "W"}, []string{"y"}).
		Graph()
	_, layer, _, err = translate(t, plain, input("x", 3))
	require.NoError(t, err)
	cfg = layer.Config().(layers.DenseConfig)
	assert.Equal(t, tensor.Shape{3, 2}, cfg.Kernel.Shape())
	assert.False(t, cfg.UseBias)

	transA := onnxtest.NewGraph("gemm").
		Initializer(onnxtest.Float32("W", []int64{3, 2}, onnxtest.Seq(6))).
		Node("Gemm", []string{"x", "W"}, []string{"y"}, onnxtest.Int("transA", 1)).
		Graph()
	_, _, _, err = translate(t, transA, input("x", 3))
	assert.ErrorIs(t, err, protos.ErrUnimplementedOp)
}

func TestDropoutAndFlatten(t *testing.T) {
	g := onnxtest.NewGraph("drop").Node("Dropout", []string{"x"}, []string{"y"}, onnxtest.Float("ratio", 0.25)).Graph()
	_, layer, _, err := translate(t, g, input("x", 4))
	require.NoError(t, err)
	assert.Equal(t, layers.DropoutConfig{Rate: 0.25}, layer.Config())

	g = onnxtest.NewGraph("flat").Node("Flatten", []string{"x"}, []string{"y"}).Graph()
	_, layer, out, err := translate(t, g, input("x", 2, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, "Flatten", layer.ClassName())
	assert.Equal(t, tensor.Shape{-1, 12}, out.Shape())

	g = onnxtest.NewGraph("flat").Node("Flatten", []string{"x"}, []string{"y"}, onnxtest.Int("axis", 2)).Graph()
	_, _, _, err = translate(t, g, input("x", 2, 2, 3))
	assert.ErrorIs(t, err, protos.ErrUnimplementedOp)
}

func TestConstantTranslation(t *testing.T) {
	value := onnxtest.Float32("v", []int64{2, 3}, onnxtest.Seq(6))
	g := onnxtest.NewGraph("const").Node("Constant", nil, []string{"c"}, onnxtest.Tensor("value", value)).Graph()
	ctx, layer, out, err := translate(t, g)
	require.NoError(t, err)

	c, ok := layer.(*layers.ConstantLayer)
	require.True(t, ok)
	assert.Equal(t, tensor.Shape{3, 2}, c.Value().Shape())
	assert.Equal(t, tensor.Shape{3, 2}, out.Shape(), "constants carry no batch dimension")

	static, err := ctx.StaticTensor("c")
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 3}, static.Shape(), "static value stays channel-first")

	missing := onnxtest.NewGraph("const").Node("Constant", nil, []string{"c"}).Graph()
	_, _, _, err = translate(t, missing)
	assert.ErrorIs(t, err, protos.ErrMissingTensor)
}

func TestReshapeFoldsConstant(t *testing.T) {
	value := onnxtest.Float32("v", []int64{2, 3}, onnxtest.Seq(6))
	g := onnxtest.NewGraph("fold").
		Initializer(onnxtest.Int64("shape", []int64{2}, []int64{3, 2})).
		Node("Constant", nil, []string{"c"}, onnxtest.Tensor("value", value)).
		Node("Reshape", []string{"c", "shape"}, []string{"r"}).
		Graph()
	ctx := NewContext(g, logr.Discard())
	r := NewRegistry()

	constant, cOut, err := r.Setup(ctx, &g.Nodes[0], nil)
	require.NoError(t, err)
	layer, out, err := r.Setup(ctx, &g.Nodes[1], []*layers.SymbolicTensor{cOut})
	require.NoError(t, err)

	folded, ok := layer.(*layers.ConstantLayer)
	require.True(t, ok, "reshape of a constant is folded")
	assert.Equal(t, "r", folded.Name())
	// (3, 2) reshaped in channel-first order, then swapped to (2, 3)
	assert.Equal(t, tensor.Shape{2, 3}, out.Shape())
	assert.Equal(t, []float32{0, 2, 4, 1, 3, 5}, folded.Value().Float32s())
	assert.Equal(t, 0, layers.Consumers(constant), "the folded source is not consumed")

	static, err := ctx.StaticTensor("r")
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 2}, static.Shape())
}

func TestReshapeRuntime(t *testing.T) {
	g := onnxtest.NewGraph("reshape").
		Initializer(onnxtest.RawInt64("shape", []int64{2}, []int64{-1, 48})).
		Node("Reshape", []string{"x", "shape"}, []string{"y"}).
		Graph()
	_, layer, out, err := translate(t, g, input("x", 4, 4, 3))
	require.NoError(t, err)
	assert.Equal(t, "Reshape", layer.ClassName())
	assert.Equal(t, layers.ReshapeConfig{TargetShape: []int{48}}, layer.Config())
	assert.Equal(t, tensor.Shape{-1, 48}, out.Shape())

	attr := onnxtest.NewGraph("reshape").
		Node("Reshape", []string{"x"}, []string{"y"}, onnxtest.Ints("shape", 0, 3, 4, 4)).
		Graph()
	_, layer, out, err = translate(t, attr, input("x", 48))
	require.NoError(t, err)
	assert.Equal(t, layers.ReshapeConfig{TargetShape: []int{4, 4, 3}}, layer.Config())
	assert.Equal(t, tensor.Shape{-1, 4, 4, 3}, out.Shape())

	missing := onnxtest.NewGraph("reshape").Node("Reshape", []string{"x"}, []string{"y"}).Graph()
	_, _, _, err = translate(t, missing, input("x", 48))
	assert.ErrorIs(t, err, protos.ErrMissingTensor)
}

func TestMergeTranslation(t *testing.T) {
	g := onnxtest.NewGraph("concat").Node("Concat", []string{"a", "b"}, []string{"y"}, onnxtest.Int("axis", 1)).Graph()
	_, layer, out, err := translate(t, g, input("a", 8, 8, 3), input("b", 8, 8, 5))
	require.NoError(t, err)
	assert.Equal(t, layers.MergeConfig{Op: layers.MergeConcatenate, Axis: 3}, layer.Config())
	assert.Equal(t, tensor.Shape{-1, 8, 8, 8}, out.Shape())

	for op, want := range map[string]layers.MergeOp{
		"Add": layers.MergeAdd, "Sub": layers.MergeSubtract, "Mul": layers.MergeMultiply, "Div": layers.MergeDivide,
	} {
		g := onnxtest.NewGraph("merge").Node(op, []string{"a", "b"}, []string{"y"}).Graph()
		_, layer, out, err := translate(t, g, input("a", 4), input("b", 4))
		require.NoError(t, err, op)
		assert.Equal(t, layers.MergeConfig{Op: want}, layer.Config(), op)
		assert.Equal(t, tensor.Shape{-1, 4}, out.Shape(), op)
	}
}

func TestMergeArity(t *testing.T) {
	for _, op := range []string{"Add", "Sub", "Mul", "Div", "Concat", "MatMul"} {
		g := onnxtest.NewGraph("merge").
			Initializer(onnxtest.Float32("w", []int64{4}, onnxtest.Seq(4))).
			Node(op, []string{"a", "w"}, []string{"y"}).
			Graph()
		_, layer, _, err := translate(t, g, input("a", 4))
		assert.ErrorIs(t, err, protos.ErrMergeArity, op)
		assert.Nil(t, layer, op)
	}
}

func TestMatMulTranslation(t *testing.T) {
	a := layers.Output(layers.NewConstant("a", tensor.MustFromFloat32(onnxtest.Seq(6), tensor.Shape{1, 2, 3})))
	b := layers.Output(layers.NewConstant("b", tensor.MustFromFloat32(onnxtest.Seq(12), tensor.Shape{1, 4, 2})))
	g := onnxtest.NewGraph("mm").Node("MatMul", []string{"a", "b"}, []string{"y"}).Graph()
	_, layer, out, err := translate(t, g, a, b)
	require.NoError(t, err)
	assert.Equal(t, "MatMul", layer.ClassName())
	assert.Equal(t, tensor.Shape{1, 4, 3}, out.Shape())
}
