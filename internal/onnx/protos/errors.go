package protos

import "github.com/pkg/errors"

// Error kinds raised while importing a model. Callers match them with errors.Is;
// the wrapped message carries the node, attribute or tensor involved.
var (
	// ErrFormatDecode reports a malformed model buffer or inconsistent tensor payload.
	ErrFormatDecode = errors.New("malformed ONNX model")

	// ErrUnsupportedAttributeKind reports an attribute whose type tag is undefined
	// or not the kind an operator expects.
	ErrUnsupportedAttributeKind = errors.New("unsupported attribute kind")

	// ErrUnsupportedDType reports a tensor element type that cannot be narrowed
	// to a runtime type.
	ErrUnsupportedDType = errors.New("unsupported tensor data type")

	// ErrMissingTensor reports a required tensor (weights, constant value, reshape
	// target, declared output) that cannot be located.
	ErrMissingTensor = errors.New("missing tensor")

	// ErrUnimplementedOp reports a node whose op type has no translator.
	ErrUnimplementedOp = errors.New("unimplemented operator")

	// ErrMergeArity reports an element-wise merge with fewer than two operands.
	ErrMergeArity = errors.New("merge requires at least 2 inputs")
)
