package layers

import (
	"github.com/pkg/errors"

	"github.com/chaosmail/onnx-layers/internal/tensor"
)

// Model evaluates the layers between a set of inputs and outputs.
// It is immutable after NewModel and safe for concurrent Predict calls.
type Model struct {
	name    string
	inputs  []*SymbolicTensor
	outputs []*SymbolicTensor
	order   []Layer
}

// NewModel collects every layer reachable from outputs in topological order.
// Inputs must be outputs of source layers; every InputLayer reached must be listed.
// Constant layers that are not listed evaluate to their stored value.
func NewModel(name string, inputs, outputs []*SymbolicTensor) (*Model, error) {
	if len(outputs) == 0 {
		return nil, errors.Errorf("model %q has no outputs", name)
	}

	fed := make(map[*SymbolicTensor]bool, len(inputs))
	for _, in := range inputs {
		if in == nil || !IsSource(in.Layer()) {
			return nil, errors.Errorf("model %q: inputs must be produced by input or constant layers", name)
		}
		if fed[in] {
			return nil, errors.Errorf("model %q: input %q listed twice", name, in.Name())
		}
		fed[in] = true
	}

	m := &Model{
		name:    name,
		inputs:  append([]*SymbolicTensor(nil), inputs...),
		outputs: append([]*SymbolicTensor(nil), outputs...),
	}
	visited := make(map[Layer]bool)
	var visit func(l Layer) error
	visit = func(l Layer) error {
		if visited[l] {
			return nil
		}
		visited[l] = true
		if _, ok := l.(*InputLayer); ok && !fed[Output(l)] {
			return errors.Errorf("model %q: input layer %q is not a model input", name, l.Name())
		}
		for _, in := range l.base().inbound {
			if err := visit(in.Layer()); err != nil {
				return err
			}
		}
		m.order = append(m.order, l)
		return nil
	}
	for _, out := range outputs {
		if out == nil {
			return nil, errors.Errorf("model %q: output is nil", name)
		}
		if err := visit(out.Layer()); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Name returns the model name.
func (m *Model) Name() string { return m.name }

// Inputs returns the model inputs in feed order.
func (m *Model) Inputs() []*SymbolicTensor { return append([]*SymbolicTensor(nil), m.inputs...) }

// Outputs returns the model outputs in result order.
func (m *Model) Outputs() []*SymbolicTensor { return append([]*SymbolicTensor(nil), m.outputs...) }

// Layers returns the layers in evaluation order.
func (m *Model) Layers() []Layer { return append([]Layer(nil), m.order...) }

// Predict evaluates the model. feeds are matched to Inputs by position.
func (m *Model) Predict(feeds []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(feeds) != len(m.inputs) {
		return nil, errors.Errorf("model %q expects %d inputs, got %d", m.name, len(m.inputs), len(feeds))
	}

	values := make(map[*SymbolicTensor]*tensor.Tensor, len(m.order))
	for i, in := range m.inputs {
		if feeds[i] == nil {
			return nil, errors.Errorf("model %q: input %q is nil", m.name, in.Name())
		}
		if !in.shape.Compatible(feeds[i].Shape()) {
			return nil, errors.Errorf("model %q: input %q expects shape %v, got %v",
				m.name, in.Name(), in.shape, feeds[i].Shape())
		}
		values[in] = feeds[i]
	}

	for _, l := range m.order {
		out := Output(l)
		if _, ok := values[out]; ok {
			continue
		}
		inbound := l.base().inbound
		args := make([]*tensor.Tensor, len(inbound))
		for i, in := range inbound {
			args[i] = values[in]
		}
		y, err := l.Call(args)
		if err != nil {
			return nil, errors.WithMessagef(err, "layer %q (%s)", l.Name(), l.ClassName())
		}
		values[out] = y
	}

	results := make([]*tensor.Tensor, len(m.outputs))
	for i, out := range m.outputs {
		results[i] = values[out]
	}
	return results, nil
}

// LayerSummary describes one layer of a model.
type LayerSummary struct {
	Name        string       `json:"name"`
	ClassName   string       `json:"className"`
	OutputShape tensor.Shape `json:"outputShape"`
	Params      int          `json:"params"`
	Inbound     []string     `json:"inbound,omitempty"`
	Config      Config       `json:"config,omitempty"`
}

// Summary describes every layer in evaluation order.
func (m *Model) Summary() []LayerSummary {
	out := make([]LayerSummary, 0, len(m.order))
	for _, l := range m.order {
		s := LayerSummary{
			Name:        l.Name(),
			ClassName:   l.ClassName(),
			OutputShape: Output(l).Shape(),
			Config:      l.Config(),
		}
		if pc, ok := l.(ParamCounter); ok {
			s.Params = pc.CountParams()
		}
		for _, in := range l.base().inbound {
			s.Inbound = append(s.Inbound, in.Name())
		}
		out = append(out, s)
	}
	return out
}

// CountParams returns the total number of weight elements in the model.
func (m *Model) CountParams() int {
	n := 0
	for _, s := range m.Summary() {
		n += s.Params
	}
	return n
}
