package onnx

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/chaosmail/onnx-layers/internal/layers"
	"github.com/chaosmail/onnx-layers/internal/tensor"
)

// Model is an imported graph ready for inference.
//
// Its inputs are the primary data input followed by every constant that feeds a
// layer. Predict supplies the constants' stored values, so callers only pass the
// data input. A Model is immutable and safe for concurrent use.
type Model struct {
	name        string
	inputs      []*layers.SymbolicTensor
	outputs     []*layers.SymbolicTensor
	outputNames []string
	constants   []*layers.ConstantLayer
	layers      []layers.Layer
	index       map[string]layers.Layer
	runtime     *layers.Model
}

// Name returns the graph name.
func (m *Model) Name() string { return m.name }

// Inputs returns the symbolic inputs: the data input first, then promoted constants.
func (m *Model) Inputs() []*layers.SymbolicTensor {
	return append([]*layers.SymbolicTensor(nil), m.inputs...)
}

// Outputs returns the symbolic outputs in declaration order.
func (m *Model) Outputs() []*layers.SymbolicTensor {
	return append([]*layers.SymbolicTensor(nil), m.outputs...)
}

// OutputNames returns the declared graph output names.
func (m *Model) OutputNames() []string {
	return append([]string(nil), m.outputNames...)
}

// Layers returns the layer registry in build order.
func (m *Model) Layers() []layers.Layer {
	return append([]layers.Layer(nil), m.layers...)
}

// Layer returns a layer by name.
func (m *Model) Layer(name string) (layers.Layer, bool) {
	l, ok := m.index[name]
	return l, ok
}

// ConstantInputs returns the names of the promoted constants in input order.
func (m *Model) ConstantInputs() []string {
	names := make([]string, len(m.constants))
	for i, c := range m.constants {
		names[i] = c.Name()
	}
	return names
}

// AllInputs prepends input to the stored values of the promoted constants.
func (m *Model) AllInputs(input *tensor.Tensor) []*tensor.Tensor {
	feeds := make([]*tensor.Tensor, 0, len(m.inputs))
	feeds = append(feeds, input)
	for _, c := range m.constants {
		feeds = append(feeds, c.Value())
	}
	return feeds
}

// Predict evaluates the model on a channel-last input batch.
func (m *Model) Predict(input *tensor.Tensor) ([]*tensor.Tensor, error) {
	return m.PredictWith(input, nil)
}

// PredictWith evaluates the model, replacing promoted constants named in overrides.
func (m *Model) PredictWith(input *tensor.Tensor, overrides map[string]*tensor.Tensor) ([]*tensor.Tensor, error) {
	if input == nil {
		return nil, errors.Errorf("model %q: input is nil", m.name)
	}
	feeds := m.AllInputs(input)
	if len(overrides) > 0 {
		pos := make(map[string]int, len(m.constants))
		for i, c := range m.constants {
			pos[c.Name()] = i + 1
		}
		names := make([]string, 0, len(overrides))
		for name := range overrides {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			i, ok := pos[name]
			if !ok {
				return nil, errors.Errorf("model %q: %q is not a constant input", m.name, name)
			}
			feeds[i] = overrides[name]
		}
	}
	return m.runtime.Predict(feeds)
}

// Summary describes every layer in evaluation order.
func (m *Model) Summary() []layers.LayerSummary {
	return m.runtime.Summary()
}

// CountParams returns the number of weight elements, constants included.
func (m *Model) CountParams() int {
	return m.runtime.CountParams()
}
