// Package operators translates ONNX nodes into runtime layers.
package operators

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/chaosmail/onnx-layers/internal/layers"
	"github.com/chaosmail/onnx-layers/internal/onnx/protos"
)

// Strategy lowers one ONNX op type.
type Strategy interface {
	// BuildConfig derives the layer configuration from the node attributes and weights.
	BuildConfig(ctx *Context, node *protos.NodeProto, inputs []*layers.SymbolicTensor) (layers.Config, error)
	// BuildLayer constructs the layer for node.
	BuildLayer(ctx *Context, node *protos.NodeProto, inputs []*layers.SymbolicTensor) (layers.Layer, error)
	// PrepareInputs selects the tensors the layer is applied to.
	PrepareInputs(inputs []*layers.SymbolicTensor) []*layers.SymbolicTensor
}

// BuildFunc derives a layer configuration for a node.
type BuildFunc func(ctx *Context, node *protos.NodeProto, inputs []*layers.SymbolicTensor) (layers.Config, error)

// LayerFunc constructs a layer for a node directly.
type LayerFunc func(ctx *Context, node *protos.NodeProto, inputs []*layers.SymbolicTensor) (layers.Layer, error)

// Translator implements Strategy from plain functions.
// A nil Layer builds from the configuration; a nil Prepare passes every input through.
type Translator struct {
	Config  BuildFunc
	Layer   LayerFunc
	Prepare func(inputs []*layers.SymbolicTensor) []*layers.SymbolicTensor
}

// BuildConfig implements Strategy.
func (t Translator) BuildConfig(ctx *Context, node *protos.NodeProto, inputs []*layers.SymbolicTensor) (layers.Config, error) {
	if t.Config == nil {
		return nil, errors.Errorf("%s has no configuration", node.OpType)
	}
	return t.Config(ctx, node, inputs)
}

// BuildLayer implements Strategy.
func (t Translator) BuildLayer(ctx *Context, node *protos.NodeProto, inputs []*layers.SymbolicTensor) (layers.Layer, error) {
	if t.Layer != nil {
		return t.Layer(ctx, node, inputs)
	}
	cfg, err := t.BuildConfig(ctx, node, inputs)
	if err != nil {
		return nil, err
	}
	return cfg.Build(node.LayerName())
}

// PrepareInputs implements Strategy.
func (t Translator) PrepareInputs(inputs []*layers.SymbolicTensor) []*layers.SymbolicTensor {
	if t.Prepare == nil {
		return inputs
	}
	return t.Prepare(inputs)
}

// firstInput keeps only the data operand; weights are read from the context.
func firstInput(inputs []*layers.SymbolicTensor) []*layers.SymbolicTensor {
	if len(inputs) == 0 {
		return inputs
	}
	return inputs[:1]
}

// Registry maps ONNX operator types to translation strategies.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry creates a registry with every supported operator.
func NewRegistry() *Registry {
	r := &Registry{
		strategies: make(map[string]Strategy),
	}

	r.registerActivations()
	r.registerConvolutions()
	r.registerCore()
	r.registerMerges()

	return r
}

// Register adds or replaces the strategy for an operator type.
func (r *Registry) Register(opType string, s Strategy) {
	r.strategies[opType] = s
}

// Lookup returns the strategy for an operator type.
func (r *Registry) Lookup(opType string) (Strategy, error) {
	s, ok := r.strategies[opType]
	if !ok {
		return nil, errors.Wrapf(protos.ErrUnimplementedOp, "%q", opType)
	}
	return s, nil
}

// SupportedOps returns the registered operator types in sorted order.
func (r *Registry) SupportedOps() []string {
	ops := make([]string, 0, len(r.strategies))
	for op := range r.strategies {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// Setup translates node and wires the resulting layer to inputs.
// Source layers (constants) are returned with their own output and are not applied.
func (r *Registry) Setup(ctx *Context, node *protos.NodeProto, inputs []*layers.SymbolicTensor) (layers.Layer, *layers.SymbolicTensor, error) {
	s, err := r.Lookup(node.OpType)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "node %q", node.LayerName())
	}

	layer, err := s.BuildLayer(ctx, node, inputs)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "%s node %q", node.OpType, node.LayerName())
	}
	if layers.IsSource(layer) {
		return layer, layers.Output(layer), nil
	}

	out, err := layers.Apply(layer, s.PrepareInputs(inputs)...)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "%s node %q", node.OpType, node.LayerName())
	}
	return layer, out, nil
}
