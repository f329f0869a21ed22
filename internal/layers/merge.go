package layers

import (
	"github.com/pkg/errors"

	"github.com/chaosmail/onnx-layers/internal/tensor"
)

// MergeOp names an n-ary merge.
type MergeOp string

// Merge operations.
const (
	MergeAdd         MergeOp = "add"
	MergeSubtract    MergeOp = "subtract"
	MergeMultiply    MergeOp = "multiply"
	MergeDivide      MergeOp = "divide"
	MergeConcatenate MergeOp = "concatenate"
)

var mergeClassNames = map[MergeOp]string{
	MergeAdd:         "Add",
	MergeSubtract:    "Subtract",
	MergeMultiply:    "Multiply",
	MergeDivide:      "Divide",
	MergeConcatenate: "Concatenate",
}

var mergeBinaryOps = map[MergeOp]tensor.BinaryOp{
	MergeAdd:      tensor.OpAdd,
	MergeSubtract: tensor.OpSub,
	MergeMultiply: tensor.OpMul,
	MergeDivide:   tensor.OpDiv,
}

// MergeConfig configures an n-ary merge. Axis applies to concatenation only.
type MergeConfig struct {
	Op   MergeOp `json:"op"`
	Axis int     `json:"axis,omitempty"`
}

// ClassName implements Config.
func (c MergeConfig) ClassName() string { return mergeClassNames[c.Op] }

// Build implements Config.
func (c MergeConfig) Build(name string) (Layer, error) {
	if _, ok := mergeClassNames[c.Op]; !ok {
		return nil, errors.Errorf("merge %q: unknown op %q", name, c.Op)
	}
	return &MergeLayer{Base: NewBase(name), cfg: c}, nil
}

// MergeLayer folds two or more operands left to right: x1 op x2 op ... op xn.
// Later operands broadcast into the shape of the first.
type MergeLayer struct {
	Base
	cfg MergeConfig
}

func (l *MergeLayer) ClassName() string { return l.cfg.ClassName() }
func (l *MergeLayer) Config() Config    { return l.cfg }

func (l *MergeLayer) ComputeOutputShape(inputs []tensor.Shape) (tensor.Shape, error) {
	if len(inputs) < 2 {
		return nil, errors.Errorf("%s requires at least 2 inputs, got %d", l.ClassName(), len(inputs))
	}
	if l.cfg.Op != MergeConcatenate {
		return inputs[0].Clone(), nil
	}

	out := inputs[0].Clone()
	axis := l.cfg.Axis
	if axis < 0 {
		axis += len(out)
	}
	if axis < 0 || axis >= len(out) {
		return nil, errors.Errorf("concatenate axis %d out of range for shape %v", l.cfg.Axis, out)
	}
	for _, s := range inputs[1:] {
		if len(s) != len(out) {
			return nil, errors.Errorf("concatenate rank mismatch: %v vs %v", inputs[0], s)
		}
		if out[axis] < 0 || s[axis] < 0 {
			out[axis] = -1
			continue
		}
		out[axis] += s[axis]
	}
	return out, nil
}

func (l *MergeLayer) Call(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	if len(inputs) < 2 {
		return nil, errors.Errorf("%s requires at least 2 inputs, got %d", l.ClassName(), len(inputs))
	}
	if l.cfg.Op == MergeConcatenate {
		return tensor.Concat(inputs, l.cfg.Axis)
	}

	op := mergeBinaryOps[l.cfg.Op]
	acc := inputs[0]
	for _, x := range inputs[1:] {
		var err error
		if acc, err = tensor.Binary(op, acc, x); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

// MatMulConfig configures a batched matrix product of two rank-3 operands with batch size 1.
type MatMulConfig struct{}

// ClassName implements Config.
func (MatMulConfig) ClassName() string { return "MatMul" }

// Build implements Config.
func (MatMulConfig) Build(name string) (Layer, error) {
	return &MatMulLayer{Base: NewBase(name)}, nil
}

// MatMulLayer computes expandDims(b[0] @ a[0], 0) for inputs (a, b).
// The operand order follows the channel-last layout: both operands arrive with
// their trailing axes swapped, so the product is taken in reverse.
type MatMulLayer struct {
	Base
}

func (l *MatMulLayer) ClassName() string { return "MatMul" }
func (l *MatMulLayer) Config() Config    { return MatMulConfig{} }

func (l *MatMulLayer) ComputeOutputShape(inputs []tensor.Shape) (tensor.Shape, error) {
	if err := expectInputs("matmul", len(inputs), 2); err != nil {
		return nil, err
	}
	a, b := inputs[0], inputs[1]
	if len(a) != 3 || len(b) != 3 {
		return nil, errors.Errorf("matmul expects rank-3 operands, got %v and %v", a, b)
	}
	return tensor.Shape{a[0], b[1], a[2]}, nil
}

func (l *MatMulLayer) Call(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	if err := expectInputs("matmul", len(inputs), 2); err != nil {
		return nil, err
	}
	a, err := squeezeLeading(inputs[0])
	if err != nil {
		return nil, err
	}
	b, err := squeezeLeading(inputs[1])
	if err != nil {
		return nil, err
	}
	y, err := tensor.MatMul(b, a)
	if err != nil {
		return nil, errors.Wrap(err, "matmul")
	}
	return y.Reshape(append(tensor.Shape{1}, y.Shape()...))
}

// squeezeLeading drops a leading dimension of size 1 from a rank-3 tensor.
func squeezeLeading(x *tensor.Tensor) (*tensor.Tensor, error) {
	s := x.Shape()
	if len(s) != 3 || s[0] != 1 {
		return nil, errors.Errorf("matmul expects operands of shape (1, m, n), got %v", s)
	}
	return x.Reshape(s[1:])
}
