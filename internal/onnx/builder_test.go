package onnx

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/chaosmail/onnx-layers/internal/layers"
	"github.com/chaosmail/onnx-layers/internal/onnx/onnxtest"
	"github.com/chaosmail/onnx-layers/internal/onnx/operators"
	"github.com/chaosmail/onnx-layers/internal/onnx/protos"
	"github.com/chaosmail/onnx-layers/internal/tensor"
)

func layerNames(m *Model) []string {
	var names []string
	for _, l := range m.Layers() {
		names = append(names, l.Name())
	}
	return names
}

func TestBuildConvGraph(t *testing.T) {
	g := onnxtest.NewGraph("convnet").
		Input("x", 1, 3, 8, 8).
		Output("y", 1, 4, 6, 6).
		Initializer(onnxtest.Float32("W", []int64{4, 3, 3, 3}, onnxtest.Fill(108, 0.1))).
		Node("Conv", []string{"x", "W"}, []string{"y"}, onnxtest.Ints("kernel_shape", 3, 3)).
		Model()

	m, err := Build(g)
	require.NoError(t, err)

	in, ok := m.Layer("x")
	require.True(t, ok)
	assert.Equal(t, layers.InputConfig{Shape: []int{8, 8, 3}}, in.Config())

	conv, ok := m.Layer("y")
	require.True(t, ok)
	assert.Equal(t, tensor.PaddingValid, conv.Config().(layers.ConvConfig).Padding)
	assert.Equal(t, tensor.Shape{-1, 6, 6, 4}, m.Outputs()[0].Shape())
	assert.Equal(t, []string{"y"}, m.OutputNames())
	assert.Equal(t, "convnet", m.Name())
}

func TestBuildPredict(t *testing.T) {
	// 1x1 convolution summing both channels, then relu
	g := onnxtest.NewGraph("sum").
		Input("x", -1, 2, 2, 2).
		Output("y", -1, 1, 2, 2).
		Initializer(onnxtest.Float32("W", []int64{1, 2, 1, 1}, []float32{1, 1})).
		Initializer(onnxtest.Float32("B", []int64{1}, []float32{-2.5})).
		Node("Conv", []string{"x", "W", "B"}, []string{"c"}).
		Node("Relu", []string{"c"}, []string{"y"}).
		Model()

	m, err := Build(g)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "c", "y"}, layerNames(m))

	x := tensor.MustFromFloat32(onnxtest.Seq(8), tensor.Shape{1, 2, 2, 2})
	out, err := m.Predict(x)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, tensor.Shape{1, 2, 2, 1}, out[0].Shape())
	if diff := cmp.Diff([]float32{0, 2.5, 6.5, 10.5}, out[0].Float32s(), cmpopts.EquateApprox(0, 1e-6)); diff != "" {
		t.Errorf("Predict mismatch (-want +got):\n%s", diff)
	}

	_, err = m.Predict(nil)
	assert.Error(t, err)
	_, err = m.Predict(tensor.MustFromFloat32(onnxtest.Seq(8), tensor.Shape{1, 2, 4}))
	assert.Error(t, err)
}

func TestBuildPromotesConstants(t *testing.T) {
	g := onnxtest.NewGraph("promote").
		Input("x", -1, 4).
		Output("y", -1, 4).
		Initializer(onnxtest.Int64("shape", []int64{1}, []int64{4})).
		Node("Constant", nil, []string{"c"}, onnxtest.Tensor("value", onnxtest.Float32("v", []int64{2, 2}, []float32{1, 2, 3, 4}))).
		Node("Reshape", []string{"c", "shape"}, []string{"r"}).
		Node("Add", []string{"x", "r"}, []string{"y"}).
		Model()

	m, err := Build(g)
	require.NoError(t, err)

	assert.Equal(t, []string{"x", "r", "y"}, layerNames(m), "the folded constant is pruned")
	assert.Equal(t, []string{"r"}, m.ConstantInputs())
	require.Len(t, m.Inputs(), 2)
	assert.Equal(t, "x", m.Inputs()[0].Name())
	assert.Equal(t, "r", m.Inputs()[1].Name())

	x := tensor.MustFromFloat32(onnxtest.Fill(4, 1), tensor.Shape{1, 4})
	feeds := m.AllInputs(x)
	require.Len(t, feeds, 2)
	assert.Same(t, x, feeds[0])
	assert.Equal(t, []float32{1, 2, 3, 4}, feeds[1].Float32s())

	out, err := m.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 3, 4, 5}, out[0].Float32s())

	override := tensor.MustFromFloat32(onnxtest.Fill(4, 10), tensor.Shape{4})
	out, err = m.PredictWith(x, map[string]*tensor.Tensor{"r": override})
	require.NoError(t, err)
	assert.Equal(t, []float32{11, 11, 11, 11}, out[0].Float32s())

	out, err = m.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 3, 4, 5}, out[0].Float32s(), "overrides do not stick")

	_, err = m.PredictWith(x, map[string]*tensor.Tensor{"nope": override})
	assert.Error(t, err)
}

func TestBuildKeepsConstantOutputs(t *testing.T) {
	g := onnxtest.NewGraph("const").
		Input("x", -1, 2).
		Output("y", -1, 2).
		Output("c", 2).
		Node("Constant", nil, []string{"c"}, onnxtest.Tensor("value", onnxtest.Float32("v", []int64{2}, []float32{7, 8}))).
		Node("Relu", []string{"x"}, []string{"y"}).
		Model()

	m, err := Build(g)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "c", "y"}, layerNames(m))
	assert.Empty(t, m.ConstantInputs(), "unconsumed constants are not inputs")

	out, err := m.Predict(tensor.MustFromFloat32([]float32{-1, 1}, tensor.Shape{1, 2}))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, []float32{0, 1}, out[0].Float32s())
	assert.Equal(t, []float32{7, 8}, out[1].Float32s())
}

func TestBuildConcatAxis(t *testing.T) {
	g := onnxtest.NewGraph("concat").
		Input("x", 1, 3, 8, 8).
		Output("y", 1, 6, 8, 8).
		Node("Relu", []string{"x"}, []string{"a"}).
		Node("Sigmoid", []string{"x"}, []string{"b"}).
		Node("Concat", []string{"a", "b"}, []string{"y"}, onnxtest.Int("axis", 1)).
		Model()

	m, err := Build(g)
	require.NoError(t, err)
	concat, ok := m.Layer("y")
	require.True(t, ok)
	assert.Equal(t, 3, concat.Config().(layers.MergeConfig).Axis)
	assert.Equal(t, tensor.Shape{-1, 8, 8, 6}, m.Outputs()[0].Shape())
}

func TestBuildReshapeRuntime(t *testing.T) {
	g := onnxtest.NewGraph("flat").
		Input("x", -1, 3, 2, 2).
		Output("y", -1, 12).
		Initializer(onnxtest.RawInt64("shape", []int64{2}, []int64{-1, 12})).
		Node("Reshape", []string{"x", "shape"}, []string{"y"}).
		Model()

	m, err := Build(g)
	require.NoError(t, err)
	r, ok := m.Layer("y")
	require.True(t, ok)
	assert.IsType(t, &layers.ReshapeLayer{}, r)
	assert.Empty(t, m.ConstantInputs())

	out, err := m.Predict(tensor.MustFromFloat32(onnxtest.Seq(24), tensor.Shape{2, 2, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 12}, out[0].Shape())
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name  string
		model *protos.ModelProto
		want  error
	}{
		{
			name: "unimplemented op",
			model: onnxtest.NewGraph("g").Input("x", -1, 4).Output("y", -1, 4).
				Node("LSTM", []string{"x"}, []string{"y"}).Model(),
			want: protos.ErrUnimplementedOp,
		},
		{
			name: "add with one bound input",
			model: onnxtest.NewGraph("g").Input("x", -1, 4).Output("y", -1, 4).
				Initializer(onnxtest.Float32("w", []int64{4}, onnxtest.Seq(4))).
				Node("Add", []string{"x", "w"}, []string{"y"}).Model(),
			want: protos.ErrMergeArity,
		},
		{
			name: "two data inputs",
			model: onnxtest.NewGraph("g").Input("a", -1, 4).Input("b", -1, 4).Output("y", -1, 4).
				Node("Add", []string{"a", "b"}, []string{"y"}).Model(),
			want: protos.ErrFormatDecode,
		},
		{
			name: "no data input",
			model: onnxtest.NewGraph("g").Output("y", 4).
				Node("Constant", nil, []string{"y"}, onnxtest.Tensor("value", onnxtest.Float32("v", []int64{4}, onnxtest.Seq(4)))).
				Model(),
			want: protos.ErrFormatDecode,
		},
		{
			name: "missing output",
			model: onnxtest.NewGraph("g").Input("x", -1, 4).Output("z", -1, 4).
				Node("Relu", []string{"x"}, []string{"y"}).Model(),
			want: protos.ErrMissingTensor,
		},
		{
			name: "tensor produced twice",
			model: onnxtest.NewGraph("g").Input("x", -1, 4).Output("y", -1, 4).
				Node("Relu", []string{"x"}, []string{"y"}).
				Node("Tanh", []string{"x"}, []string{"y"}).Model(),
			want: protos.ErrFormatDecode,
		},
		{
			name:  "no graph",
			model: &protos.ModelProto{},
			want:  protos.ErrFormatDecode,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Build(tt.model)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, m)
		})
	}
}

func TestBuildInitializerInputsAreSkipped(t *testing.T) {
	g := onnxtest.NewGraph("fc").
		Input("W", 2, 3).
		Input("x", -1, 3).
		Output("y", -1, 2).
		Initializer(onnxtest.Float32("W", []int64{2, 3}, onnxtest.Seq(6))).
		Node("FC", []string{"x", "W"}, []string{"y"}).
		Model()

	m, err := Build(g)
	require.NoError(t, err)
	assert.Equal(t, "x", m.Inputs()[0].Name())

	out, err := m.Predict(tensor.MustFromFloat32([]float32{1, 1, 1}, tensor.Shape{1, 3}))
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 12}, out[0].Float32s())
}

func TestStrictModeListsAllUnsupported(t *testing.T) {
	g := onnxtest.NewGraph("g").Input("x", -1, 4).Output("y", -1, 4).
		Node("LSTM", []string{"x"}, []string{"a"}).
		Node("Relu", []string{"a"}, []string{"b"}).
		Node("GRU", []string{"b"}, []string{"y"}).
		Model()

	opts := DefaultOptions()
	opts.StrictMode = true
	_, err := Build(g, opts)
	require.ErrorIs(t, err, protos.ErrUnimplementedOp)
	assert.Contains(t, err.Error(), "GRU")
	assert.Contains(t, err.Error(), "LSTM")

	assert.Error(t, ValidateOperators(nil, operators.NewRegistry()))
	assert.Error(t, ValidateOperators(g.Graph, nil))
}

func TestCustomOps(t *testing.T) {
	g := onnxtest.NewGraph("g").Input("x", -1, 4).Output("y", -1, 4).
		Node("LeakyRelu", []string{"x"}, []string{"y"}).
		Model()

	opts := DefaultOptions()
	opts.CustomOps = map[string]operators.Strategy{
		"LeakyRelu": operators.Translator{
			Config: func(_ *operators.Context, _ *protos.NodeProto, _ []*layers.SymbolicTensor) (layers.Config, error) {
				return layers.ActivationConfig{Activation: layers.ActivationReLU}, nil
			},
		},
	}
	m, err := Build(g, opts)
	require.NoError(t, err)
	out, err := m.Predict(tensor.MustFromFloat32([]float32{-1, 2, -3, 4}, tensor.Shape{1, 4}))
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 2, 0, 4}, out[0].Float32s())
}

func TestBuildLogsNarrowing(t *testing.T) {
	var (
		mu    sync.Mutex
		lines []string
	)
	log := funcr.New(func(_, args string) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, args)
	}, funcr.Options{Verbosity: 1})

	g := onnxtest.NewGraph("fc").
		Input("x", -1, 2).
		Output("y", -1, 1).
		Initializer(protos.TensorProto{Name: "W", DataType: protos.TensorProtoDouble, Dims: []int64{1, 2}, DoubleData: []float64{1, 2}}).
		Node("FC", []string{"x", "W"}, []string{"y"}).
		Model()

	_, err := Build(g, Options{Logger: log})
	require.NoError(t, err)

	all := strings.Join(lines, "\n")
	assert.Contains(t, all, "narrowing tensor element type")
	assert.Contains(t, all, `"tensor"="W"`)
	assert.Contains(t, all, "translated node")
}

func TestLoad(t *testing.T) {
	data := onnxtest.NewGraph("g").Input("x", -1, 4).Output("y", -1, 4).
		Node("Tanh", []string{"x"}, []string{"y"}).
		Bytes()
	path := filepath.Join(t.TempDir(), "model.onnx")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	m, err := Load(context.Background(), path, Options{Logger: logr.Discard()})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, layerNames(m))

	m, err = LoadFromBytes(data)
	require.NoError(t, err)
	assert.NotNil(t, m)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Load(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = Load(context.Background(), filepath.Join(t.TempDir(), "missing.onnx"))
	assert.Error(t, err)

	_, err = LoadFromBytes([]byte{0xff, 0xff})
	assert.ErrorIs(t, err, protos.ErrFormatDecode)
}

func TestGetModelInfo(t *testing.T) {
	data := onnxtest.NewGraph("net").
		Input("W", 2, 4).
		Input("x", -1, 4).
		Output("y", -1, 2).
		Initializer(onnxtest.Float32("W", []int64{2, 4}, onnxtest.Seq(8))).
		Node("FC", []string{"x", "W"}, []string{"a"}).
		Node("Relu", []string{"a"}, []string{"b"}).
		Node("Relu", []string{"b"}, []string{"c"}).
		Node("LSTM", []string{"c"}, []string{"y"}).
		Bytes()

	info, err := GetModelInfo(data)
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.IRVersion)
	assert.Equal(t, int64(9), info.OpsetVersion)
	assert.Equal(t, "onnxtest", info.ProducerName)
	assert.Equal(t, "net", info.GraphName)
	assert.Equal(t, []TensorInfo{{Name: "x", DataType: "FLOAT", Shape: []int{-1, 4}}}, info.Inputs)
	assert.Equal(t, []TensorInfo{{Name: "y", DataType: "FLOAT", Shape: []int{-1, 2}}}, info.Outputs)
	assert.Equal(t, 4, info.NodeCount)
	assert.Equal(t, 1, info.WeightCount)
	assert.Equal(t, map[string]int{"FC": 1, "Relu": 2, "LSTM": 1}, info.Ops)
	assert.Equal(t, []string{"LSTM"}, info.Unsupported)
}

func TestListSupportedOps(t *testing.T) {
	ops := ListSupportedOps()
	for _, op := range []string{"Add", "Conv", "MatMul", "Relu", "Reshape", "Softmax"} {
		assert.Contains(t, ops, op)
	}
}

func TestConcurrentPredict(t *testing.T) {
	g := onnxtest.NewGraph("cls").
		Input("x", -1, 4).
		Output("y", -1, 3).
		Initializer(onnxtest.Float32("W", []int64{3, 4}, onnxtest.Seq(12))).
		Initializer(onnxtest.Float32("B", []int64{3}, []float32{0.1, 0.2, 0.3})).
		Node("FC", []string{"x", "W", "B"}, []string{"logits"}).
		Node("Softmax", []string{"logits"}, []string{"y"}).
		Model()

	m, err := Build(g)
	require.NoError(t, err)

	x := tensor.MustFromFloat32([]float32{0.1, -0.2, 0.3, 0.05}, tensor.Shape{1, 4})
	want, err := m.Predict(x)
	require.NoError(t, err)

	var eg errgroup.Group
	results := make([][]float32, 16)
	for i := range results {
		eg.Go(func() error {
			out, err := m.Predict(x)
			if err != nil {
				return err
			}
			results[i] = out[0].Float32s()
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	for _, got := range results {
		assert.Equal(t, want[0].Float32s(), got)
	}
}
