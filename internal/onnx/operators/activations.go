package operators

import (
	"github.com/pkg/errors"

	"github.com/chaosmail/onnx-layers/internal/layers"
	"github.com/chaosmail/onnx-layers/internal/layout"
	"github.com/chaosmail/onnx-layers/internal/onnx/codec"
	"github.com/chaosmail/onnx-layers/internal/onnx/protos"
)

// registerActivations adds element-wise activations and softmax.
func (r *Registry) registerActivations() {
	r.Register("Identity", activation(layers.ActivationLinear))
	r.Register("Relu", activation(layers.ActivationReLU))
	r.Register("Tanh", activation(layers.ActivationTanh))
	r.Register("Sigmoid", activation(layers.ActivationSigmoid))
	r.Register("Softplus", activation(layers.ActivationSoftplus))
	r.Register("Softsign", activation(layers.ActivationSoftsign))
	r.Register("Elu", Translator{Config: buildElu})
	r.Register("HardSigmoid", Translator{Config: buildHardSigmoid})
	r.Register("Softmax", Translator{Config: buildSoftmax})
}

func activation(name string) Translator {
	return Translator{
		Config: func(_ *Context, _ *protos.NodeProto, _ []*layers.SymbolicTensor) (layers.Config, error) {
			return layers.ActivationConfig{Activation: name}, nil
		},
	}
}

func buildElu(_ *Context, node *protos.NodeProto, _ []*layers.SymbolicTensor) (layers.Config, error) {
	alpha, err := codec.FloatOr(node, "alpha", 1)
	if err != nil {
		return nil, err
	}
	return layers.ActivationConfig{Activation: layers.ActivationElu, Alpha: alpha}, nil
}

func buildHardSigmoid(_ *Context, node *protos.NodeProto, _ []*layers.SymbolicTensor) (layers.Config, error) {
	alpha, err := codec.FloatOr(node, "alpha", 0.2)
	if err != nil {
		return nil, err
	}
	beta, err := codec.FloatOr(node, "beta", 0.5)
	if err != nil {
		return nil, err
	}
	return layers.ActivationConfig{Activation: layers.ActivationHardSigmoid, Alpha: alpha, Beta: beta}, nil
}

func buildSoftmax(_ *Context, node *protos.NodeProto, inputs []*layers.SymbolicTensor) (layers.Config, error) {
	if len(inputs) == 0 {
		return nil, errors.Wrap(protos.ErrMissingTensor, "softmax has no bound input")
	}
	axis, err := codec.IntOr(node, "axis", 0)
	if err != nil {
		return nil, err
	}
	return layers.SoftmaxConfig{Axis: layout.RemapAxis(int(axis), inputs[0].Rank())}, nil
}
