package layers

import (
	"github.com/pkg/errors"

	"github.com/chaosmail/onnx-layers/internal/tensor"
)

// InputConfig configures an InputLayer. Shape excludes the batch dimension.
type InputConfig struct {
	Shape []int `json:"shape"`
}

// ClassName implements Config.
func (InputConfig) ClassName() string { return "InputLayer" }

// Build implements Config.
func (c InputConfig) Build(name string) (Layer, error) { return NewInput(name, c.Shape), nil }

// InputLayer is the entry point of a graph; it is fed at inference.
type InputLayer struct {
	Base
	cfg InputConfig
}

// NewInput creates an input layer for per-example shape (batch excluded).
func NewInput(name string, shape []int) *InputLayer {
	l := &InputLayer{Base: NewBase(name), cfg: InputConfig{Shape: append([]int(nil), shape...)}}
	l.output = &SymbolicTensor{name: name, shape: withBatch(shape...), layer: l}
	return l
}

func (l *InputLayer) ClassName() string { return l.cfg.ClassName() }
func (l *InputLayer) Config() Config    { return l.cfg }

func (l *InputLayer) ComputeOutputShape([]tensor.Shape) (tensor.Shape, error) {
	return l.output.Shape(), nil
}

func (l *InputLayer) Call(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	if len(inputs) != 1 || inputs[0] == nil {
		return nil, errors.Errorf("input layer %q was not fed", l.name)
	}
	return inputs[0], nil
}

// ConstantConfig configures a ConstantLayer.
type ConstantConfig struct {
	Value *tensor.Tensor `json:"-"`
}

// ClassName implements Config.
func (ConstantConfig) ClassName() string { return "Constant" }

// Build implements Config.
func (c ConstantConfig) Build(name string) (Layer, error) {
	if c.Value == nil {
		return nil, errors.Errorf("constant %q has no value", name)
	}
	return NewConstant(name, c.Value), nil
}

// ConstantLayer is a source layer holding a fixed value. When the graph promotes it
// to a model input its value can be overridden by a feed.
type ConstantLayer struct {
	Base
	value *tensor.Tensor
}

// NewConstant creates a constant source layer. The symbolic shape is the full value shape.
func NewConstant(name string, value *tensor.Tensor) *ConstantLayer {
	l := &ConstantLayer{Base: NewBase(name), value: value}
	l.output = &SymbolicTensor{name: name, shape: value.Shape(), layer: l}
	return l
}

// Value returns the constant value.
func (l *ConstantLayer) Value() *tensor.Tensor { return l.value }

func (l *ConstantLayer) ClassName() string { return "Constant" }
func (l *ConstantLayer) Config() Config    { return ConstantConfig{Value: l.value} }
func (l *ConstantLayer) CountParams() int  { return l.value.NumElements() }

func (l *ConstantLayer) ComputeOutputShape([]tensor.Shape) (tensor.Shape, error) {
	return l.value.Shape(), nil
}

// Call returns the fed value when one is given, else the stored value.
func (l *ConstantLayer) Call(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	if len(inputs) > 0 && inputs[0] != nil {
		return inputs[0], nil
	}
	return l.value, nil
}

// Activation names.
const (
	ActivationLinear      = "linear"
	ActivationReLU        = "relu"
	ActivationTanh        = "tanh"
	ActivationSigmoid     = "sigmoid"
	ActivationElu         = "elu"
	ActivationSoftplus    = "softplus"
	ActivationSoftsign    = "softsign"
	ActivationHardSigmoid = "hard_sigmoid"
)

// ActivationConfig configures an element-wise activation.
type ActivationConfig struct {
	Activation string  `json:"activation"`
	Alpha      float32 `json:"alpha,omitempty"`
	Beta       float32 `json:"beta,omitempty"`
}

// ClassName implements Config.
func (ActivationConfig) ClassName() string { return "Activation" }

// Build implements Config.
func (c ActivationConfig) Build(name string) (Layer, error) {
	switch c.Activation {
	case ActivationLinear, ActivationReLU, ActivationTanh, ActivationSigmoid,
		ActivationElu, ActivationSoftplus, ActivationSoftsign, ActivationHardSigmoid:
		return &ActivationLayer{Base: NewBase(name), cfg: c}, nil
	default:
		return nil, errors.Errorf("unknown activation %q", c.Activation)
	}
}

// ActivationLayer applies an element-wise activation.
type ActivationLayer struct {
	Base
	cfg ActivationConfig
}

func (l *ActivationLayer) ClassName() string { return l.cfg.ClassName() }
func (l *ActivationLayer) Config() Config    { return l.cfg }

func (l *ActivationLayer) ComputeOutputShape(inputs []tensor.Shape) (tensor.Shape, error) {
	if err := expectInputs("activation", len(inputs), 1); err != nil {
		return nil, err
	}
	return inputs[0].Clone(), nil
}

func (l *ActivationLayer) Call(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	if err := expectInputs("activation", len(inputs), 1); err != nil {
		return nil, err
	}
	x := inputs[0]
	switch l.cfg.Activation {
	case ActivationReLU:
		return tensor.ReLU(x)
	case ActivationTanh:
		return tensor.Tanh(x)
	case ActivationSigmoid:
		return tensor.Sigmoid(x)
	case ActivationElu:
		return tensor.Elu(x, l.cfg.Alpha)
	case ActivationSoftplus:
		return tensor.Softplus(x)
	case ActivationSoftsign:
		return tensor.Softsign(x)
	case ActivationHardSigmoid:
		return tensor.HardSigmoid(x, l.cfg.Alpha, l.cfg.Beta)
	default:
		return x, nil
	}
}

// SoftmaxConfig configures a softmax over one channel-last axis.
type SoftmaxConfig struct {
	Axis int `json:"axis"`
}

// ClassName implements Config.
func (SoftmaxConfig) ClassName() string { return "Softmax" }

// Build implements Config.
func (c SoftmaxConfig) Build(name string) (Layer, error) {
	return &SoftmaxLayer{Base: NewBase(name), cfg: c}, nil
}

// SoftmaxLayer normalizes along an axis.
type SoftmaxLayer struct {
	Base
	cfg SoftmaxConfig
}

func (l *SoftmaxLayer) ClassName() string { return l.cfg.ClassName() }
func (l *SoftmaxLayer) Config() Config    { return l.cfg }

func (l *SoftmaxLayer) ComputeOutputShape(inputs []tensor.Shape) (tensor.Shape, error) {
	if err := expectInputs("softmax", len(inputs), 1); err != nil {
		return nil, err
	}
	if l.cfg.Axis < -len(inputs[0]) || l.cfg.Axis >= len(inputs[0]) {
		return nil, errors.Errorf("softmax axis %d out of range for shape %v", l.cfg.Axis, inputs[0])
	}
	return inputs[0].Clone(), nil
}

func (l *SoftmaxLayer) Call(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	if err := expectInputs("softmax", len(inputs), 1); err != nil {
		return nil, err
	}
	return tensor.Softmax(inputs[0], l.cfg.Axis)
}

// DropoutConfig configures a dropout layer. Dropout is the identity at inference.
type DropoutConfig struct {
	Rate float32 `json:"rate"`
}

// ClassName implements Config.
func (DropoutConfig) ClassName() string { return "Dropout" }

// Build implements Config.
func (c DropoutConfig) Build(name string) (Layer, error) {
	if c.Rate < 0 || c.Rate >= 1 {
		return nil, errors.Errorf("dropout rate %v out of range [0, 1)", c.Rate)
	}
	return &DropoutLayer{Base: NewBase(name), cfg: c}, nil
}

// DropoutLayer passes its input through.
type DropoutLayer struct {
	Base
	cfg DropoutConfig
}

func (l *DropoutLayer) ClassName() string { return l.cfg.ClassName() }
func (l *DropoutLayer) Config() Config    { return l.cfg }

func (l *DropoutLayer) ComputeOutputShape(inputs []tensor.Shape) (tensor.Shape, error) {
	if err := expectInputs("dropout", len(inputs), 1); err != nil {
		return nil, err
	}
	return inputs[0].Clone(), nil
}

func (l *DropoutLayer) Call(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	if err := expectInputs("dropout", len(inputs), 1); err != nil {
		return nil, err
	}
	return inputs[0], nil
}

// DenseConfig configures a fully connected layer with fixed weights.
// Kernel is (in, units).
type DenseConfig struct {
	Units   int            `json:"units"`
	UseBias bool           `json:"useBias"`
	Kernel  *tensor.Tensor `json:"-"`
	Bias    *tensor.Tensor `json:"-"`
}

// ClassName implements Config.
func (DenseConfig) ClassName() string { return "Dense" }

// Build implements Config.
func (c DenseConfig) Build(name string) (Layer, error) {
	if c.Kernel == nil || c.Kernel.Rank() != 2 {
		return nil, errors.Errorf("dense %q requires a rank-2 kernel", name)
	}
	if c.Kernel.Shape()[1] != c.Units {
		return nil, errors.Errorf("dense %q kernel %v does not have %d units", name, c.Kernel.Shape(), c.Units)
	}
	if c.UseBias != (c.Bias != nil) {
		return nil, errors.Errorf("dense %q: useBias=%v does not match bias presence", name, c.UseBias)
	}
	return &DenseLayer{Base: NewBase(name), cfg: c}, nil
}

// DenseLayer computes x @ kernel + bias over the last axis.
type DenseLayer struct {
	Base
	cfg DenseConfig
}

func (l *DenseLayer) ClassName() string { return l.cfg.ClassName() }
func (l *DenseLayer) Config() Config    { return l.cfg }
func (l *DenseLayer) CountParams() int  { return countParams(l.cfg.Kernel, l.cfg.Bias) }

func (l *DenseLayer) ComputeOutputShape(inputs []tensor.Shape) (tensor.Shape, error) {
	if err := expectInputs("dense", len(inputs), 1); err != nil {
		return nil, err
	}
	in := inputs[0]
	if len(in) < 2 {
		return nil, errors.Errorf("dense expects rank >= 2 input, got %v", in)
	}
	if want := l.cfg.Kernel.Shape()[0]; in[len(in)-1] >= 0 && in[len(in)-1] != want {
		return nil, errors.Errorf("dense expects %d input features, got shape %v", want, in)
	}
	out := in.Clone()
	out[len(out)-1] = l.cfg.Units
	return out, nil
}

func (l *DenseLayer) Call(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	if err := expectInputs("dense", len(inputs), 1); err != nil {
		return nil, err
	}
	return tensor.Dense(inputs[0], l.cfg.Kernel, l.cfg.Bias)
}

// ReshapeConfig configures a reshape. TargetShape excludes the batch dimension;
// 0 copies the matching input dimension and -1 is inferred.
type ReshapeConfig struct {
	TargetShape []int `json:"targetShape"`
}

// ClassName implements Config.
func (ReshapeConfig) ClassName() string { return "Reshape" }

// Build implements Config.
func (c ReshapeConfig) Build(name string) (Layer, error) {
	inferred := 0
	for _, d := range c.TargetShape {
		if d == -1 {
			inferred++
		} else if d < 0 {
			return nil, errors.Errorf("reshape %q: invalid target dimension %d", name, d)
		}
	}
	if inferred > 1 {
		return nil, errors.Errorf("reshape %q: target %v has more than one -1", name, c.TargetShape)
	}
	return &ReshapeLayer{Base: NewBase(name), cfg: c}, nil
}

// ReshapeLayer reshapes every example to a fixed target.
type ReshapeLayer struct {
	Base
	cfg ReshapeConfig
}

func (l *ReshapeLayer) ClassName() string { return l.cfg.ClassName() }
func (l *ReshapeLayer) Config() Config    { return l.cfg }

// target resolves 0 entries against the input dimensions (batch first).
func (l *ReshapeLayer) target(in tensor.Shape) (tensor.Shape, error) {
	out := make(tensor.Shape, len(l.cfg.TargetShape))
	for i, d := range l.cfg.TargetShape {
		if d == 0 {
			if i+1 >= len(in) {
				return nil, errors.Errorf("reshape target %v copies a missing dimension of %v", l.cfg.TargetShape, in)
			}
			d = in[i+1]
		}
		out[i] = d
	}
	return out, nil
}

func (l *ReshapeLayer) ComputeOutputShape(inputs []tensor.Shape) (tensor.Shape, error) {
	if err := expectInputs("reshape", len(inputs), 1); err != nil {
		return nil, err
	}
	if len(inputs[0]) == 0 {
		return nil, errors.New("reshape expects a batched input")
	}
	target, err := l.target(inputs[0])
	if err != nil {
		return nil, err
	}
	known := true
	for _, d := range inputs[0][1:] {
		known = known && d >= 0
	}
	if known {
		if target, err = tensor.ResolveReshape(target, inputs[0][1:].NumElements()); err != nil {
			return nil, errors.Wrap(err, "reshape")
		}
	}
	return withBatch(target...), nil
}

func (l *ReshapeLayer) Call(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	if err := expectInputs("reshape", len(inputs), 1); err != nil {
		return nil, err
	}
	x := inputs[0]
	if x.Rank() == 0 {
		return nil, errors.New("reshape expects a batched input")
	}
	target, err := l.target(x.Shape())
	if err != nil {
		return nil, err
	}
	return x.Reshape(append(tensor.Shape{x.Shape()[0]}, target...))
}

// FlattenConfig configures a flatten layer.
type FlattenConfig struct{}

// ClassName implements Config.
func (FlattenConfig) ClassName() string { return "Flatten" }

// Build implements Config.
func (c FlattenConfig) Build(name string) (Layer, error) {
	return &FlattenLayer{Base: NewBase(name)}, nil
}

// FlattenLayer collapses every non-batch dimension.
type FlattenLayer struct {
	Base
}

func (l *FlattenLayer) ClassName() string { return "Flatten" }
func (l *FlattenLayer) Config() Config    { return FlattenConfig{} }

func (l *FlattenLayer) ComputeOutputShape(inputs []tensor.Shape) (tensor.Shape, error) {
	if err := expectInputs("flatten", len(inputs), 1); err != nil {
		return nil, err
	}
	if len(inputs[0]) == 0 {
		return nil, errors.New("flatten expects a batched input")
	}
	size := 1
	for _, d := range inputs[0][1:] {
		if d < 0 {
			return withBatch(-1), nil
		}
		size *= d
	}
	return withBatch(size), nil
}

func (l *FlattenLayer) Call(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	if err := expectInputs("flatten", len(inputs), 1); err != nil {
		return nil, err
	}
	x := inputs[0]
	if x.Rank() == 0 {
		return nil, errors.New("flatten expects a batched input")
	}
	return x.Reshape(tensor.Shape{x.Shape()[0], -1})
}
