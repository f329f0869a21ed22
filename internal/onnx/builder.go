package onnx

import (
	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/chaosmail/onnx-layers/internal/layers"
	"github.com/chaosmail/onnx-layers/internal/layout"
	"github.com/chaosmail/onnx-layers/internal/onnx/operators"
	"github.com/chaosmail/onnx-layers/internal/onnx/protos"
)

// builder lowers one graph. It moves through three phases: bindInput creates the
// primary input layer, translateNodes processes the node list in order and
// assemble selects inputs and outputs and prunes unused constants.
type builder struct {
	graph    *protos.GraphProto
	registry *operators.Registry
	ctx      *operators.Context
	log      logr.Logger
	input    *layers.SymbolicTensor
}

func newBuilder(graph *protos.GraphProto, registry *operators.Registry, log logr.Logger) *builder {
	return &builder{
		graph:    graph,
		registry: registry,
		ctx:      operators.NewContext(graph, log),
		log:      log,
	}
}

func (b *builder) build() (*Model, error) {
	if err := b.bindInput(); err != nil {
		return nil, err
	}
	if err := b.translateNodes(); err != nil {
		return nil, err
	}
	return b.assemble()
}

// bindInput creates the input layer for the only declared input that is not an initializer.
func (b *builder) bindInput() error {
	var candidates []*protos.ValueInfoProto
	for i := range b.graph.Inputs {
		if !b.ctx.IsInitializer(b.graph.Inputs[i].Name) {
			candidates = append(candidates, &b.graph.Inputs[i])
		}
	}
	switch len(candidates) {
	case 0:
		return errors.Wrapf(protos.ErrFormatDecode, "graph %q declares no data input", b.graph.Name)
	case 1:
	default:
		names := make([]string, len(candidates))
		for i, c := range candidates {
			names[i] = c.Name
		}
		return errors.Wrapf(protos.ErrFormatDecode, "graph %q declares %d data inputs %v, only one is supported",
			b.graph.Name, len(candidates), names)
	}

	in := candidates[0]
	shape := layout.InputShape(in.Shape())
	layer := layers.NewInput(in.Name, shape)
	if err := b.ctx.AddLayer(layer); err != nil {
		return err
	}
	b.input = layers.Output(layer)
	if err := b.ctx.SetBlob(in.Name, b.input); err != nil {
		return err
	}
	b.log.V(1).Info("bound input", "name", in.Name, "declared", in.Shape(), "shape", b.input.Shape().String())
	return nil
}

func (b *builder) translateNodes() error {
	for i := range b.graph.Nodes {
		node := &b.graph.Nodes[i]
		layer, out, err := b.registry.Setup(b.ctx, node, b.ctx.ResolveInputs(node))
		if err != nil {
			return err
		}
		if err := b.ctx.AddLayer(layer); err != nil {
			return err
		}
		for _, name := range node.Outputs {
			if name == "" {
				continue
			}
			if err := b.ctx.SetBlob(name, out); err != nil {
				return err
			}
		}
		b.log.V(1).Info("translated node", "op", node.OpType, "layer", layer.Name(),
			"class", layer.ClassName(), "shape", out.Shape().String())
	}
	return nil
}

func (b *builder) assemble() (*Model, error) {
	outputs := make([]*layers.SymbolicTensor, len(b.graph.Outputs))
	outputLayers := make(map[layers.Layer]bool, len(outputs))
	for i, o := range b.graph.Outputs {
		st, ok := b.ctx.Blob(o.Name)
		if !ok {
			return nil, errors.Wrapf(protos.ErrMissingTensor, "graph output %q is not produced by any node", o.Name)
		}
		outputs[i] = st
		outputLayers[st.Layer()] = true
	}

	inputs := []*layers.SymbolicTensor{b.input}
	var (
		kept      []layers.Layer
		constants []*layers.ConstantLayer
	)
	for _, l := range b.ctx.Layers() {
		c, ok := l.(*layers.ConstantLayer)
		switch {
		case ok && layers.Consumers(c) > 0:
			inputs = append(inputs, layers.Output(c))
			constants = append(constants, c)
		case ok && !outputLayers[l]:
			b.log.V(1).Info("pruned unused constant", "layer", l.Name())
			continue
		}
		kept = append(kept, l)
	}

	runtime, err := layers.NewModel(b.graph.Name, inputs, outputs)
	if err != nil {
		return nil, errors.Wrap(protos.ErrFormatDecode, err.Error())
	}

	m := &Model{
		name:      b.graph.Name,
		inputs:    inputs,
		outputs:   outputs,
		constants: constants,
		layers:    kept,
		index:     make(map[string]layers.Layer, len(kept)),
		runtime:   runtime,
	}
	for _, l := range kept {
		m.index[l.Name()] = l
	}
	for _, o := range b.graph.Outputs {
		m.outputNames = append(m.outputNames, o.Name)
	}
	return m, nil
}
