// Package layers is a small channel-last layer runtime.
//
// Layers are wired symbolically with Apply, which records each layer's inbound
// tensors and counts its consumers, then evaluated by a Model in topological order.
// All spatial tensors use the (N, H, W, C) or (N, L, C) layout and every symbolic
// shape carries a leading batch dimension of -1, except constants, whose shape is
// the full value shape.
package layers

import (
	"github.com/pkg/errors"

	"github.com/chaosmail/onnx-layers/internal/tensor"
)

// Config is the construction-time description of a layer.
type Config interface {
	// ClassName names the layer kind, e.g. "Conv2D".
	ClassName() string
	// Build constructs a layer with the given name from the configuration.
	Build(name string) (Layer, error)
}

// Layer is a node of the runtime graph.
type Layer interface {
	Name() string
	ClassName() string
	Config() Config

	// ComputeOutputShape infers the symbolic output shape from the inbound shapes.
	ComputeOutputShape(inputs []tensor.Shape) (tensor.Shape, error)

	// Call evaluates the layer on concrete tensors.
	Call(inputs []*tensor.Tensor) (*tensor.Tensor, error)

	base() *Base
}

// Base carries the name and graph bookkeeping shared by every layer.
// Custom layers embed it.
type Base struct {
	name     string
	inbound  []*SymbolicTensor
	output   *SymbolicTensor
	outbound int
}

// NewBase returns bookkeeping for a layer with the given name.
func NewBase(name string) Base {
	return Base{name: name}
}

// Name returns the layer name.
func (b *Base) Name() string { return b.name }

func (b *Base) base() *Base { return b }

// SymbolicTensor is the placeholder for a value flowing between layers.
type SymbolicTensor struct {
	name  string
	shape tensor.Shape
	layer Layer
}

// Name returns the name of the producing layer.
func (s *SymbolicTensor) Name() string { return s.name }

// Shape returns a copy of the symbolic shape.
func (s *SymbolicTensor) Shape() tensor.Shape { return s.shape.Clone() }

// Rank returns the number of dimensions, including the batch dimension.
func (s *SymbolicTensor) Rank() int { return len(s.shape) }

// Layer returns the producing layer.
func (s *SymbolicTensor) Layer() Layer { return s.layer }

// Apply wires layer to inputs and returns its symbolic output. A layer is applied once.
func Apply(layer Layer, inputs ...*SymbolicTensor) (*SymbolicTensor, error) {
	b := layer.base()
	if b.output != nil {
		return nil, errors.Errorf("layer %q is already applied", layer.Name())
	}

	shapes := make([]tensor.Shape, len(inputs))
	for i, in := range inputs {
		if in == nil {
			return nil, errors.Errorf("layer %q: input %d is nil", layer.Name(), i)
		}
		shapes[i] = in.Shape()
	}
	shape, err := layer.ComputeOutputShape(shapes)
	if err != nil {
		return nil, errors.WithMessagef(err, "layer %q (%s)", layer.Name(), layer.ClassName())
	}

	b.inbound = append([]*SymbolicTensor(nil), inputs...)
	b.output = &SymbolicTensor{name: layer.Name(), shape: shape, layer: layer}
	for _, in := range inputs {
		in.layer.base().outbound++
	}
	return b.output, nil
}

// Output returns the symbolic output of an applied or source layer, or nil.
func Output(layer Layer) *SymbolicTensor {
	return layer.base().output
}

// Inbound returns the tensors a layer was applied to.
func Inbound(layer Layer) []*SymbolicTensor {
	return append([]*SymbolicTensor(nil), layer.base().inbound...)
}

// Consumers returns how many applied layers read the output of layer.
func Consumers(layer Layer) int {
	return layer.base().outbound
}

// IsSource reports whether a layer produces its output without inbound tensors.
func IsSource(layer Layer) bool {
	switch layer.(type) {
	case *InputLayer, *ConstantLayer:
		return true
	default:
		return false
	}
}

// ParamCounter is implemented by layers that hold weights.
type ParamCounter interface {
	CountParams() int
}

func countParams(ts ...*tensor.Tensor) int {
	n := 0
	for _, t := range ts {
		if t != nil {
			n += t.NumElements()
		}
	}
	return n
}

func expectInputs(name string, inputs int, want int) error {
	if inputs != want {
		return errors.Errorf("%s requires %d input(s), got %d", name, want, inputs)
	}
	return nil
}

// withBatch prepends the unknown batch dimension.
func withBatch(dims ...int) tensor.Shape {
	return append(tensor.Shape{-1}, dims...)
}
