package operators

import (
	"sort"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaosmail/onnx-layers/internal/layers"
	"github.com/chaosmail/onnx-layers/internal/onnx/onnxtest"
	"github.com/chaosmail/onnx-layers/internal/onnx/protos"
	"github.com/chaosmail/onnx-layers/internal/tensor"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()

	essentialOps := []string{
		"Add", "AveragePool", "Concat", "Constant", "Conv", "Div", "Dropout", "Elu",
		"FC", "Flatten", "GlobalAveragePool", "GlobalMaxPool", "HardSigmoid", "MatMul",
		"MaxPool", "Mul", "Relu", "Reshape", "Sigmoid", "Softmax", "Softplus", "Softsign",
		"Sub", "Tanh", "Identity", "Gemm",
	}
	for _, op := range essentialOps {
		_, err := r.Lookup(op)
		assert.NoError(t, err, op)
	}

	ops := r.SupportedOps()
	assert.Len(t, ops, len(essentialOps))
	assert.True(t, sort.StringsAreSorted(ops))
}

func TestRegistryLookupUnknown(t *testing.T) {
	r := NewRegistry()

	_, err := r.Lookup("LSTM")
	assert.ErrorIs(t, err, protos.ErrUnimplementedOp)

	g := onnxtest.NewGraph("g").Node("LSTM", []string{"x"}, []string{"y"}).Graph()
	ctx := NewContext(g, logr.Discard())
	layer, out, err := r.Setup(ctx, &g.Nodes[0], nil)
	assert.ErrorIs(t, err, protos.ErrUnimplementedOp)
	assert.Nil(t, layer)
	assert.Nil(t, out)
}

func TestRegisterCustomOp(t *testing.T) {
	r := NewRegistry()
	r.Register("LeakyRelu", Translator{
		Config: func(_ *Context, _ *protos.NodeProto, _ []*layers.SymbolicTensor) (layers.Config, error) {
			return layers.ActivationConfig{Activation: layers.ActivationReLU}, nil
		},
	})

	g := onnxtest.NewGraph("g").Node("LeakyRelu", []string{"x"}, []string{"y"}).Graph()
	ctx := NewContext(g, logr.Discard())
	x := layers.NewInput("x", []int{4})

	layer, out, err := r.Setup(ctx, &g.Nodes[0], []*layers.SymbolicTensor{layers.Output(x)})
	require.NoError(t, err)
	assert.Equal(t, "y", layer.Name())
	assert.Equal(t, "Activation", layer.ClassName())
	assert.Equal(t, tensor.Shape{-1, 4}, out.Shape())
	assert.Contains(t, r.SupportedOps(), "LeakyRelu")
}

func TestTranslatorDefaults(t *testing.T) {
	tr := Translator{}
	a := layers.Output(layers.NewInput("a", []int{2}))
	b := layers.Output(layers.NewInput("b", []int{2}))
	assert.Equal(t, []*layers.SymbolicTensor{a, b}, tr.PrepareInputs([]*layers.SymbolicTensor{a, b}))

	node := &protos.NodeProto{OpType: "Nothing", Outputs: []string{"y"}}
	_, err := tr.BuildLayer(nil, node, nil)
	assert.Error(t, err)

	tr.Prepare = firstInput
	assert.Equal(t, []*layers.SymbolicTensor{a}, tr.PrepareInputs([]*layers.SymbolicTensor{a, b}))
	assert.Empty(t, tr.PrepareInputs(nil))
}

func TestContextBookkeeping(t *testing.T) {
	g := onnxtest.NewGraph("g").
		Initializer(onnxtest.Float32("w", []int64{2}, []float32{1, 2})).
		Initializer(onnxtest.RawInt64("shape", []int64{2}, []int64{1, -1})).
		Node("Relu", []string{"x"}, []string{"y"}).
		Graph()
	ctx := NewContext(g, logr.Discard())

	w1, err := ctx.StaticTensor("w")
	require.NoError(t, err)
	w2, err := ctx.StaticTensor("w")
	require.NoError(t, err)
	assert.Same(t, w1, w2, "initializers are decoded once")

	_, err = ctx.StaticTensor("nope")
	assert.ErrorIs(t, err, protos.ErrMissingTensor)

	shape, err := ctx.StaticInts("shape")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, -1}, shape)

	ctx.SetStatic("c", tensor.MustFromFloat32([]float32{3, 4}, tensor.Shape{2}))
	c, err := ctx.StaticInts("c")
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, c)

	x := layers.NewInput("x", []int{2})
	require.NoError(t, ctx.SetBlob("x", layers.Output(x)))
	assert.ErrorIs(t, ctx.SetBlob("x", layers.Output(x)), protos.ErrFormatDecode)

	require.NoError(t, ctx.AddLayer(x))
	assert.ErrorIs(t, ctx.AddLayer(x), protos.ErrFormatDecode)
	assert.Len(t, ctx.Layers(), 1)
	got, ok := ctx.Layer("x")
	assert.True(t, ok)
	assert.Same(t, x, got)

	node, ok := ctx.Node("y")
	require.True(t, ok)
	assert.Equal(t, "Relu", node.OpType)
	assert.True(t, ctx.IsInitializer("w"))

	resolved := ctx.ResolveInputs(&protos.NodeProto{Inputs: []string{"w", "x"}})
	require.Len(t, resolved, 1)
	assert.Equal(t, "x", resolved[0].Name())
}
