package onnx

import (
	"github.com/chaosmail/onnx-layers/internal/layers"
	"github.com/chaosmail/onnx-layers/tensor"
)

// LayerSummary describes one layer of a loaded model.
type LayerSummary = layers.LayerSummary

// Model represents a loaded ONNX model ready for inference.
//
// Its runtime inputs are the data input followed by every constant that feeds a
// layer. Predict supplies the stored constants, so callers pass only the data
// input; PredictWith replaces constants by name.
//
// A Model is immutable and safe for concurrent use.
type Model interface {
	// Name returns the graph name.
	Name() string

	// Predict runs inference on a channel-last batch and returns one tensor per
	// graph output, in declaration order.
	Predict(input *tensor.Tensor) ([]*tensor.Tensor, error)

	// PredictWith runs inference with some promoted constants replaced.
	//
	// Example:
	//
	//	outputs, err := model.PredictWith(x, map[string]*tensor.Tensor{
	//	    "shape_const": override,
	//	})
	PredictWith(input *tensor.Tensor, overrides map[string]*tensor.Tensor) ([]*tensor.Tensor, error)

	// OutputNames returns the declared graph output names.
	OutputNames() []string

	// ConstantInputs returns the names of constants fed as model inputs.
	ConstantInputs() []string

	// Summary describes every layer in evaluation order.
	Summary() []LayerSummary

	// CountParams returns the number of weight elements.
	CountParams() int
}
