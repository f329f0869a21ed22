package operators

import (
	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/chaosmail/onnx-layers/internal/layers"
	"github.com/chaosmail/onnx-layers/internal/onnx/codec"
	"github.com/chaosmail/onnx-layers/internal/onnx/protos"
	"github.com/chaosmail/onnx-layers/internal/tensor"
)

// Context is the state shared by translators while a graph is built.
//
// Static values are kept in the interchange (channel-first) layout and keyed by
// tensor name: initializers are decoded on first use, Constant and folded Reshape
// nodes record theirs with SetStatic.
type Context struct {
	log          logr.Logger
	initializers map[string]*protos.TensorProto
	decoded      map[string]*tensor.Tensor
	static       map[string]*tensor.Tensor
	blobs        map[string]*layers.SymbolicTensor
	layers       []layers.Layer
	layerIndex   map[string]layers.Layer
	nodes        map[string]*protos.NodeProto
}

// NewContext indexes the initializers and nodes of graph.
func NewContext(graph *protos.GraphProto, log logr.Logger) *Context {
	c := &Context{
		log:          log,
		initializers: make(map[string]*protos.TensorProto, len(graph.Initializers)),
		decoded:      make(map[string]*tensor.Tensor),
		static:       make(map[string]*tensor.Tensor),
		blobs:        make(map[string]*layers.SymbolicTensor),
		layerIndex:   make(map[string]layers.Layer),
		nodes:        make(map[string]*protos.NodeProto, len(graph.Nodes)),
	}
	for i := range graph.Initializers {
		c.initializers[graph.Initializers[i].Name] = &graph.Initializers[i]
	}
	for i := range graph.Nodes {
		for _, out := range graph.Nodes[i].Outputs {
			c.nodes[out] = &graph.Nodes[i]
		}
	}
	return c
}

// Logger returns the build logger.
func (c *Context) Logger() logr.Logger { return c.log }

// IsInitializer reports whether name is a graph initializer.
func (c *Context) IsInitializer(name string) bool {
	_, ok := c.initializers[name]
	return ok
}

// StaticTensor returns the value of a static tensor in interchange layout.
func (c *Context) StaticTensor(name string) (*tensor.Tensor, error) {
	if t, ok := c.static[name]; ok {
		return t, nil
	}
	if t, ok := c.decoded[name]; ok {
		return t, nil
	}
	init, ok := c.initializers[name]
	if !ok {
		return nil, errors.Wrapf(protos.ErrMissingTensor, "no static value for %q", name)
	}
	t, err := codec.DecodeTensor(init, c.log)
	if err != nil {
		return nil, err
	}
	c.decoded[name] = t
	return t, nil
}

// OptionalStaticTensor is StaticTensor for optional operands: an empty name yields nil.
func (c *Context) OptionalStaticTensor(node *protos.NodeProto, index int) (*tensor.Tensor, error) {
	if index >= len(node.Inputs) || node.Inputs[index] == "" {
		return nil, nil
	}
	return c.StaticTensor(node.Inputs[index])
}

// StaticInts returns a static integer tensor as plain values. Initializers are read
// without the element type narrowing applied to runtime values.
func (c *Context) StaticInts(name string) ([]int64, error) {
	if t, ok := c.static[name]; ok {
		return int32sToInt64(t.Int32s()), nil
	}
	if init, ok := c.initializers[name]; ok {
		return codec.DecodeInts(init)
	}
	return nil, errors.Wrapf(protos.ErrMissingTensor, "no static value for %q", name)
}

// SetStatic records the interchange value of a tensor produced at build time.
func (c *Context) SetStatic(name string, t *tensor.Tensor) {
	c.static[name] = t
}

// Blob returns the symbolic tensor bound to name.
func (c *Context) Blob(name string) (*layers.SymbolicTensor, bool) {
	st, ok := c.blobs[name]
	return st, ok
}

// SetBlob binds name to a symbolic tensor. A name is bound once.
func (c *Context) SetBlob(name string, st *layers.SymbolicTensor) error {
	if _, ok := c.blobs[name]; ok {
		return errors.Wrapf(protos.ErrFormatDecode, "tensor %q is produced twice", name)
	}
	c.blobs[name] = st
	return nil
}

// ResolveInputs returns the bound inputs of node in order. Unbound names, such as
// initializers, are skipped.
func (c *Context) ResolveInputs(node *protos.NodeProto) []*layers.SymbolicTensor {
	var out []*layers.SymbolicTensor
	for _, name := range node.Inputs {
		if st, ok := c.blobs[name]; ok {
			out = append(out, st)
		}
	}
	return out
}

// AddLayer appends a layer to the registry. Layer names are unique.
func (c *Context) AddLayer(l layers.Layer) error {
	if _, ok := c.layerIndex[l.Name()]; ok {
		return errors.Wrapf(protos.ErrFormatDecode, "duplicate layer name %q", l.Name())
	}
	c.layerIndex[l.Name()] = l
	c.layers = append(c.layers, l)
	return nil
}

// Layers returns the registered layers in insertion order.
func (c *Context) Layers() []layers.Layer {
	return append([]layers.Layer(nil), c.layers...)
}

// Layer returns a registered layer by name.
func (c *Context) Layer(name string) (layers.Layer, bool) {
	l, ok := c.layerIndex[name]
	return l, ok
}

// Node returns the node that produces the tensor name.
func (c *Context) Node(name string) (*protos.NodeProto, bool) {
	n, ok := c.nodes[name]
	return n, ok
}

func int32sToInt64(v []int32) []int64 {
	out := make([]int64, len(v))
	for i, x := range v {
		out[i] = int64(x)
	}
	return out
}
