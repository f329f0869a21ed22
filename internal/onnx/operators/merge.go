package operators

import (
	"github.com/pkg/errors"

	"github.com/chaosmail/onnx-layers/internal/layers"
	"github.com/chaosmail/onnx-layers/internal/layout"
	"github.com/chaosmail/onnx-layers/internal/onnx/codec"
	"github.com/chaosmail/onnx-layers/internal/onnx/protos"
)

// registerMerges adds the n-ary merges and matrix multiplication.
func (r *Registry) registerMerges() {
	r.Register("Add", Translator{Config: buildMerge(layers.MergeAdd)})
	r.Register("Sub", Translator{Config: buildMerge(layers.MergeSubtract)})
	r.Register("Mul", Translator{Config: buildMerge(layers.MergeMultiply)})
	r.Register("Div", Translator{Config: buildMerge(layers.MergeDivide)})
	r.Register("Concat", Translator{Config: buildConcat})
	r.Register("MatMul", Translator{Config: buildMatMul})
}

func checkArity(node *protos.NodeProto, inputs []*layers.SymbolicTensor, minimum int) error {
	if len(inputs) < minimum {
		return errors.Wrapf(protos.ErrMergeArity, "%s needs at least %d bound inputs, got %d",
			node.OpType, minimum, len(inputs))
	}
	return nil
}

func buildMerge(op layers.MergeOp) BuildFunc {
	return func(_ *Context, node *protos.NodeProto, inputs []*layers.SymbolicTensor) (layers.Config, error) {
		if err := checkArity(node, inputs, 2); err != nil {
			return nil, err
		}
		return layers.MergeConfig{Op: op}, nil
	}
}

func buildConcat(_ *Context, node *protos.NodeProto, inputs []*layers.SymbolicTensor) (layers.Config, error) {
	if err := checkArity(node, inputs, 2); err != nil {
		return nil, err
	}
	axis, err := codec.IntOr(node, "axis", 0)
	if err != nil {
		return nil, err
	}
	return layers.MergeConfig{
		Op:   layers.MergeConcatenate,
		Axis: layout.RemapAxis(int(axis), inputs[0].Rank()),
	}, nil
}

func buildMatMul(_ *Context, node *protos.NodeProto, inputs []*layers.SymbolicTensor) (layers.Config, error) {
	if err := checkArity(node, inputs, 2); err != nil {
		return nil, err
	}
	if len(inputs) > 2 {
		return nil, errors.Wrapf(protos.ErrMergeArity, "MatMul takes 2 inputs, got %d", len(inputs))
	}
	return layers.MatMulConfig{}, nil
}
