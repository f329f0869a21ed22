package operators

import (
	"github.com/pkg/errors"

	"github.com/chaosmail/onnx-layers/internal/layers"
	"github.com/chaosmail/onnx-layers/internal/layout"
	"github.com/chaosmail/onnx-layers/internal/onnx/codec"
	"github.com/chaosmail/onnx-layers/internal/onnx/protos"
	"github.com/chaosmail/onnx-layers/internal/tensor"
)

// registerCore adds dense, shape and constant operators.
func (r *Registry) registerCore() {
	r.Register("FC", Translator{Config: buildFC, Prepare: firstInput})
	r.Register("Gemm", Translator{Config: buildGemm, Prepare: firstInput})
	r.Register("Dropout", Translator{Config: buildDropout, Prepare: firstInput})
	r.Register("Flatten", Translator{Config: buildFlatten})
	r.Register("Reshape", Translator{Config: buildReshape, Layer: reshapeLayer, Prepare: firstInput})
	r.Register("Constant", Translator{Config: buildConstant, Layer: constantLayer})
}

func buildFC(ctx *Context, node *protos.NodeProto, _ []*layers.SymbolicTensor) (layers.Config, error) {
	if len(node.Inputs) < 2 {
		return nil, errors.Wrap(protos.ErrMissingTensor, "dense requires a weight operand")
	}
	weight, err := ctx.StaticTensor(node.Inputs[1])
	if err != nil {
		return nil, err
	}
	if weight.Rank() != 2 {
		return nil, errors.Wrapf(protos.ErrFormatDecode, "dense weight %v is not rank 2", weight.Shape())
	}
	// (units, in) -> (in, units)
	kernel, err := codec.ToChannelsLast(weight.AsFloat32())
	if err != nil {
		return nil, err
	}
	bias, err := denseBias(ctx, node, weight.Shape()[0], 1)
	if err != nil {
		return nil, err
	}
	return layers.DenseConfig{
		Units:   weight.Shape()[0],
		UseBias: bias != nil,
		Kernel:  kernel,
		Bias:    bias,
	}, nil
}

// buildGemm lowers Y = alpha * A B' + beta * C with A as the data operand.
func buildGemm(ctx *Context, node *protos.NodeProto, _ []*layers.SymbolicTensor) (layers.Config, error) {
	if len(node.Inputs) < 2 {
		return nil, errors.Wrap(protos.ErrMissingTensor, "gemm requires a weight operand")
	}
	transA, err := codec.IntOr(node, "transA", 0)
	if err != nil {
		return nil, err
	}
	if transA != 0 {
		return nil, errors.Wrap(protos.ErrUnimplementedOp, "gemm with transA=1")
	}
	transB, err := codec.IntOr(node, "transB", 0)
	if err != nil {
		return nil, err
	}
	alpha, err := codec.FloatOr(node, "alpha", 1)
	if err != nil {
		return nil, err
	}
	beta, err := codec.FloatOr(node, "beta", 1)
	if err != nil {
		return nil, err
	}

	weight, err := ctx.StaticTensor(node.Inputs[1])
	if err != nil {
		return nil, err
	}
	if weight.Rank() != 2 {
		return nil, errors.Wrapf(protos.ErrFormatDecode, "gemm weight %v is not rank 2", weight.Shape())
	}
	kernel := weight.AsFloat32()
	if transB != 0 {
		if kernel, err = codec.ToChannelsLast(kernel); err != nil {
			return nil, err
		}
	}
	units := kernel.Shape()[1]
	if kernel, err = scale(kernel, alpha); err != nil {
		return nil, err
	}
	bias, err := denseBias(ctx, node, units, beta)
	if err != nil {
		return nil, err
	}
	return layers.DenseConfig{
		Units:   units,
		UseBias: bias != nil,
		Kernel:  kernel,
		Bias:    bias,
	}, nil
}

// denseBias reads the optional third operand as a (units) vector. A single value is broadcast.
func denseBias(ctx *Context, node *protos.NodeProto, units int, factor float32) (*tensor.Tensor, error) {
	b, err := ctx.OptionalStaticTensor(node, 2)
	if err != nil || b == nil {
		return nil, err
	}
	data := b.AsFloat32().Float32s()
	out := make([]float32, units)
	switch len(data) {
	case units:
		copy(out, data)
	case 1:
		for i := range out {
			out[i] = data[0]
		}
	default:
		return nil, errors.Wrapf(protos.ErrFormatDecode, "bias %v does not match %d units", b.Shape(), units)
	}
	for i := range out {
		out[i] *= factor
	}
	return tensor.FromFloat32(out, tensor.Shape{units})
}

func scale(t *tensor.Tensor, factor float32) (*tensor.Tensor, error) {
	if factor == 1 {
		return t, nil
	}
	src := t.Float32s()
	out := make([]float32, len(src))
	for i, v := range src {
		out[i] = v * factor
	}
	return tensor.FromFloat32(out, t.Shape())
}

func buildDropout(_ *Context, node *protos.NodeProto, _ []*layers.SymbolicTensor) (layers.Config, error) {
	ratio, err := codec.FloatOr(node, "ratio", 0)
	if err != nil {
		return nil, err
	}
	return layers.DropoutConfig{Rate: ratio}, nil
}

func buildFlatten(_ *Context, node *protos.NodeProto, _ []*layers.SymbolicTensor) (layers.Config, error) {
	axis, err := codec.IntOr(node, "axis", 1)
	if err != nil {
		return nil, err
	}
	if axis != 1 {
		return nil, errors.Wrapf(protos.ErrUnimplementedOp, "flatten with axis=%d", axis)
	}
	return layers.FlattenConfig{}, nil
}

// reshapeTarget reads the interchange target shape from the shape attribute or
// from the static second operand.
func reshapeTarget(ctx *Context, node *protos.NodeProto) ([]int64, error) {
	if attr := node.Attribute("shape"); attr != nil {
		return codec.IntsOr(node, "shape", nil)
	}
	if len(node.Inputs) < 2 || node.Inputs[1] == "" {
		return nil, errors.Wrap(protos.ErrMissingTensor, "reshape has no target shape")
	}
	return ctx.StaticInts(node.Inputs[1])
}

// buildReshape configures a runtime reshape. The batch entry of the target is
// dropped and the rest is converted to channel-last.
func buildReshape(ctx *Context, node *protos.NodeProto, _ []*layers.SymbolicTensor) (layers.Config, error) {
	target, err := reshapeTarget(ctx, node)
	if err != nil {
		return nil, err
	}
	if len(target) == 0 {
		return nil, errors.Wrap(protos.ErrFormatDecode, "reshape target is empty")
	}
	return layers.ReshapeConfig{TargetShape: layout.InputShape(codec.Ints(target))}, nil
}

// reshapeLayer folds a reshape of a static value into a new constant and
// otherwise builds a runtime reshape.
func reshapeLayer(ctx *Context, node *protos.NodeProto, inputs []*layers.SymbolicTensor) (layers.Layer, error) {
	prepared := firstInput(inputs)
	static := len(prepared) == 0 && len(node.Inputs) > 0 && ctx.IsInitializer(node.Inputs[0])
	if len(prepared) == 1 {
		_, static = prepared[0].Layer().(*layers.ConstantLayer)
	}
	if !static {
		cfg, err := buildReshape(ctx, node, inputs)
		if err != nil {
			return nil, err
		}
		return cfg.Build(node.LayerName())
	}

	value, err := ctx.StaticTensor(node.Inputs[0])
	if err != nil {
		return nil, err
	}
	target, err := reshapeTarget(ctx, node)
	if err != nil {
		return nil, err
	}
	shape := make(tensor.Shape, len(target))
	vs := value.Shape()
	for i, d := range target {
		switch {
		case d == 0 && i < len(vs):
			shape[i] = vs[i]
		case d == 0:
			return nil, errors.Wrapf(protos.ErrFormatDecode, "reshape target %v copies a missing dimension of %v", target, vs)
		default:
			shape[i] = int(d)
		}
	}
	reshaped, err := value.Reshape(shape)
	if err != nil {
		return nil, errors.Wrapf(protos.ErrFormatDecode, "fold reshape: %v", err)
	}
	if len(node.Outputs) > 0 {
		ctx.SetStatic(node.Outputs[0], reshaped)
	}
	permuted, err := codec.ToChannelsLast(reshaped)
	if err != nil {
		return nil, err
	}
	return layers.NewConstant(node.LayerName(), permuted), nil
}

// constantValue decodes the value attribute in interchange layout and in runtime layout.
func constantValue(ctx *Context, node *protos.NodeProto) (interchange, native *tensor.Tensor, err error) {
	value, err := codec.TensorAttr(node, "value")
	if err != nil {
		return nil, nil, err
	}
	if interchange, err = codec.DecodeTensor(value, ctx.Logger()); err != nil {
		return nil, nil, err
	}
	if native, err = codec.ToChannelsLast(interchange); err != nil {
		return nil, nil, err
	}
	return interchange, native, nil
}

func buildConstant(ctx *Context, node *protos.NodeProto, _ []*layers.SymbolicTensor) (layers.Config, error) {
	_, native, err := constantValue(ctx, node)
	if err != nil {
		return nil, err
	}
	return layers.ConstantConfig{Value: native}, nil
}

// constantLayer also records the interchange value for later folding.
func constantLayer(ctx *Context, node *protos.NodeProto, _ []*layers.SymbolicTensor) (layers.Layer, error) {
	interchange, native, err := constantValue(ctx, node)
	if err != nil {
		return nil, err
	}
	for _, out := range node.Outputs {
		ctx.SetStatic(out, interchange)
	}
	return layers.NewConstant(node.LayerName(), native), nil
}
