package operators

import (
	"github.com/pkg/errors"

	"github.com/chaosmail/onnx-layers/internal/layers"
	"github.com/chaosmail/onnx-layers/internal/onnx/codec"
	"github.com/chaosmail/onnx-layers/internal/onnx/protos"
	"github.com/chaosmail/onnx-layers/internal/tensor"
)

// registerConvolutions adds convolution and pooling.
func (r *Registry) registerConvolutions() {
	r.Register("Conv", Translator{Config: buildConv, Prepare: firstInput})
	r.Register("MaxPool", Translator{Config: buildPool(tensor.MaxPool)})
	r.Register("AveragePool", Translator{Config: buildPool(tensor.AvgPool)})
	r.Register("GlobalMaxPool", Translator{Config: buildGlobalPool(tensor.MaxPool)})
	r.Register("GlobalAveragePool", Translator{Config: buildGlobalPool(tensor.AvgPool)})
}

// padding is "same" when auto_pad asks for it or any explicit pad is non-zero.
func padding(node *protos.NodeProto) (tensor.Padding, error) {
	autoPad, err := codec.StringOr(node, "auto_pad", "")
	if err != nil {
		return "", err
	}
	pads, err := codec.IntsOr(node, "pads", nil)
	if err != nil {
		return "", err
	}
	if autoPad != "" && autoPad != "VALID" && autoPad != "NOTSET" {
		return tensor.PaddingSame, nil
	}
	for _, p := range pads {
		if p != 0 {
			return tensor.PaddingSame, nil
		}
	}
	return tensor.PaddingValid, nil
}

// spatialRank is the length of kernel_shape, 2 when absent.
func spatialRank(node *protos.NodeProto) (int, error) {
	kernel, err := codec.IntsOr(node, "kernel_shape", nil)
	if err != nil {
		return 0, err
	}
	if len(kernel) == 0 {
		return 2, nil
	}
	return len(kernel), nil
}

// perAxis reads an INTS attribute with one entry per spatial axis; a missing
// attribute repeats def.
func perAxis(node *protos.NodeProto, name string, rank int, def int) ([]int, error) {
	v, err := codec.IntsOr(node, name, nil)
	if err != nil {
		return nil, err
	}
	if v == nil {
		out := make([]int, rank)
		for i := range out {
			out[i] = def
		}
		return out, nil
	}
	if len(v) != rank {
		return nil, errors.Wrapf(protos.ErrFormatDecode, "%s node %q: %s has %d entries, expected %d",
			node.OpType, node.LayerName(), name, len(v), rank)
	}
	return codec.Ints(v), nil
}

func buildConv(ctx *Context, node *protos.NodeProto, _ []*layers.SymbolicTensor) (layers.Config, error) {
	if group, err := codec.IntOr(node, "group", 1); err != nil {
		return nil, err
	} else if group != 1 {
		return nil, errors.Wrapf(protos.ErrUnimplementedOp, "grouped convolution (group=%d)", group)
	}
	if len(node.Inputs) < 2 {
		return nil, errors.Wrap(protos.ErrMissingTensor, "convolution requires a weight operand")
	}

	rank, err := spatialRank(node)
	if err != nil {
		return nil, err
	}
	if rank != 1 && rank != 2 {
		return nil, errors.Wrapf(protos.ErrUnimplementedOp, "%d-D convolution", rank)
	}

	weight, err := ctx.StaticTensor(node.Inputs[1])
	if err != nil {
		return nil, err
	}
	if weight.Rank() != rank+2 {
		return nil, errors.Wrapf(protos.ErrFormatDecode, "convolution weight %v is not rank %d", weight.Shape(), rank+2)
	}
	// (O, I, k...) -> (k..., I, O)
	perm := make([]int, 0, rank+2)
	for i := 2; i < rank+2; i++ {
		perm = append(perm, i)
	}
	perm = append(perm, 1, 0)
	kernel, err := weight.AsFloat32().Transpose(perm...)
	if err != nil {
		return nil, err
	}

	bias, err := ctx.OptionalStaticTensor(node, 2)
	if err != nil {
		return nil, err
	}
	if bias != nil {
		bias = bias.AsFloat32()
	}

	kernelSize, err := perAxis(node, "kernel_shape", rank, 0)
	if err != nil {
		return nil, err
	}
	ws := weight.Shape()
	for i, k := range kernelSize {
		if k == 0 {
			kernelSize[i] = ws[i+2]
		}
	}
	strides, err := perAxis(node, "strides", rank, 1)
	if err != nil {
		return nil, err
	}
	dilations, err := perAxis(node, "dilations", rank, 1)
	if err != nil {
		return nil, err
	}
	pad, err := padding(node)
	if err != nil {
		return nil, err
	}

	return layers.ConvConfig{
		Rank:       rank,
		Filters:    ws[0],
		KernelSize: kernelSize,
		Strides:    strides,
		Dilations:  dilations,
		Padding:    pad,
		UseBias:    bias != nil,
		Kernel:     kernel,
		Bias:       bias,
	}, nil
}

func buildPool(kind tensor.PoolKind) BuildFunc {
	return func(_ *Context, node *protos.NodeProto, _ []*layers.SymbolicTensor) (layers.Config, error) {
		kernel, err := codec.IntsOr(node, "kernel_shape", nil)
		if err != nil {
			return nil, err
		}
		if len(kernel) == 0 {
			return nil, errors.Wrap(protos.ErrFormatDecode, "pooling requires kernel_shape")
		}
		rank := len(kernel)
		strides, err := perAxis(node, "strides", rank, 1)
		if err != nil {
			return nil, err
		}
		pad, err := padding(node)
		if err != nil {
			return nil, err
		}
		return layers.PoolConfig{
			Kind:     kind,
			Rank:     rank,
			PoolSize: codec.Ints(kernel),
			Strides:  strides,
			Padding:  pad,
		}, nil
	}
}

// buildGlobalPool takes the spatial rank from the bound input, falling back to kernel_shape.
func buildGlobalPool(kind tensor.PoolKind) BuildFunc {
	return func(_ *Context, node *protos.NodeProto, inputs []*layers.SymbolicTensor) (layers.Config, error) {
		var rank int
		if len(inputs) > 0 && inputs[0].Rank() > 2 {
			rank = inputs[0].Rank() - 2
		} else {
			var err error
			if rank, err = spatialRank(node); err != nil {
				return nil, err
			}
		}
		return layers.GlobalPoolConfig{Kind: kind, Rank: rank}, nil
	}
}
