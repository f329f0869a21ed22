// Package onnx imports ONNX models into a channel-last layer graph and runs
// inference on them.
//
// Weights are rewritten from the channel-first ONNX layout on import, so inputs
// and outputs of a loaded model use (N, H, W, C) for images and (N, W, C) for
// sequences.
//
// # Example Usage
//
//	import (
//	    "github.com/chaosmail/onnx-layers/onnx"
//	    "github.com/chaosmail/onnx-layers/tensor"
//	)
//
//	model, err := onnx.Load(ctx, "squeezenet.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	x := tensor.MustFromFloat32(pixels, tensor.Shape{1, 224, 224, 3})
//	outputs, err := model.Predict(x)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Supported Operators
//
//   - Activation: Relu, Tanh, Sigmoid, Elu, Softplus, Softsign, HardSigmoid, Softmax, Identity
//   - Convolution: Conv (1-D and 2-D, group 1)
//   - Pooling: MaxPool, AveragePool, GlobalMaxPool, GlobalAveragePool
//   - Core: FC, Gemm, Dropout, Flatten, Reshape, Constant
//   - Merge: Add, Sub, Mul, Div, Concat, MatMul
//
// Use [ListSupportedOps] for the exact list and [Options.CustomOps] to add more.
package onnx

import (
	"context"
	"os"

	"github.com/pkg/errors"

	internalonnx "github.com/chaosmail/onnx-layers/internal/onnx"
	"github.com/chaosmail/onnx-layers/internal/onnx/operators"
	"github.com/chaosmail/onnx-layers/internal/onnx/protos"
)

// Import errors. Returned errors wrap one of these and can be tested with errors.Is.
var (
	ErrFormatDecode             = protos.ErrFormatDecode
	ErrUnsupportedAttributeKind = protos.ErrUnsupportedAttributeKind
	ErrUnsupportedDType         = protos.ErrUnsupportedDType
	ErrMissingTensor            = protos.ErrMissingTensor
	ErrUnimplementedOp          = protos.ErrUnimplementedOp
	ErrMergeArity               = protos.ErrMergeArity
)

// Options configures model loading behavior.
type Options = internalonnx.Options

// DefaultOptions returns the default options: logging discarded, lenient operator checks.
func DefaultOptions() Options {
	return internalonnx.DefaultOptions()
}

// Strategy translates one ONNX op type into a runtime layer.
type Strategy = operators.Strategy

// Translator implements Strategy from plain functions.
//
// Example:
//
//	opts := onnx.DefaultOptions()
//	opts.CustomOps = map[string]onnx.Strategy{
//	    "LeakyRelu": onnx.Translator{Config: leakyReluConfig},
//	}
type Translator = operators.Translator

// Load loads an ONNX model from a file path.
//
// Any decode or translation error aborts the import and no model is returned.
func Load(ctx context.Context, path string, opts ...Options) (Model, error) {
	m, err := internalonnx.Load(ctx, path, opts...)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// LoadFromBytes loads an ONNX model from raw bytes.
//
// This is useful when the model is embedded in the binary or fetched over the network.
func LoadFromBytes(data []byte, opts ...Options) (Model, error) {
	m, err := internalonnx.LoadFromBytes(data, opts...)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ModelInfo contains metadata about an ONNX model without building it.
type ModelInfo = internalonnx.ModelInfo

// TensorInfo describes a graph input or output.
type TensorInfo = internalonnx.TensorInfo

// GetModelInfo reads an ONNX file and summarizes it without translating any node.
//
// Example:
//
//	info, err := onnx.GetModelInfo("model.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Opset: %d\n", info.OpsetVersion)
//	fmt.Printf("Unsupported: %v\n", info.Unsupported)
//
//nolint:gosec // G304: the model path is supplied by the caller on purpose.
func GetModelInfo(path string) (*ModelInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read file")
	}
	return internalonnx.GetModelInfo(data)
}

// ListSupportedOps returns all built-in ONNX operators in sorted order.
func ListSupportedOps() []string {
	return internalonnx.ListSupportedOps()
}
