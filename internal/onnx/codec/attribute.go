// Package codec decodes ONNX attributes and tensors into runtime values.
package codec

import (
	"github.com/pkg/errors"

	"github.com/chaosmail/onnx-layers/internal/onnx/protos"
)

// Kind is the tag of a decoded attribute value. It uses the ONNX attribute type numbers.
type Kind int32

// Attribute kinds.
const (
	KindFloat   Kind = protos.AttributeProtoFloat
	KindInt     Kind = protos.AttributeProtoInt
	KindString  Kind = protos.AttributeProtoString
	KindTensor  Kind = protos.AttributeProtoTensor
	KindGraph   Kind = protos.AttributeProtoGraph
	KindFloats  Kind = protos.AttributeProtoFloats
	KindInts    Kind = protos.AttributeProtoInts
	KindStrings Kind = protos.AttributeProtoStrings
	KindTensors Kind = protos.AttributeProtoTensors
	KindGraphs  Kind = protos.AttributeProtoGraphs
)

// String returns the ONNX name of the kind.
func (k Kind) String() string {
	switch k {
	case KindFloat:
		return "FLOAT"
	case KindInt:
		return "INT"
	case KindString:
		return "STRING"
	case KindTensor:
		return "TENSOR"
	case KindGraph:
		return "GRAPH"
	case KindFloats:
		return "FLOATS"
	case KindInts:
		return "INTS"
	case KindStrings:
		return "STRINGS"
	case KindTensors:
		return "TENSORS"
	case KindGraphs:
		return "GRAPHS"
	default:
		return "UNDEFINED"
	}
}

// Value is a decoded attribute. Only the field selected by Kind is meaningful.
type Value struct {
	Kind    Kind
	Float   float32
	Int     int64
	String  string
	Tensor  *protos.TensorProto
	Graph   *protos.GraphProto
	Floats  []float32
	Ints    []int64
	Strings []string
	Tensors []protos.TensorProto
	Graphs  []protos.GraphProto
}

// DecodeAttribute returns the value stored in the union member selected by the
// attribute type tag.
func DecodeAttribute(attr *protos.AttributeProto) (Value, error) {
	if attr == nil {
		return Value{}, errors.Wrap(protos.ErrUnsupportedAttributeKind, "attribute is absent")
	}
	v := Value{Kind: Kind(attr.Type)}
	switch v.Kind {
	case KindFloat:
		v.Float = attr.F
	case KindInt:
		v.Int = attr.I
	case KindString:
		v.String = string(attr.S)
	case KindTensor:
		v.Tensor = attr.T
	case KindGraph:
		v.Graph = attr.G
	case KindFloats:
		v.Floats = attr.Floats
	case KindInts:
		v.Ints = attr.Ints
	case KindStrings:
		v.Strings = make([]string, len(attr.Strings))
		for i, s := range attr.Strings {
			v.Strings[i] = string(s)
		}
	case KindTensors:
		v.Tensors = attr.Tensors
	case KindGraphs:
		v.Graphs = attr.Graphs
	default:
		return Value{}, errors.Wrapf(protos.ErrUnsupportedAttributeKind, "attribute %q has type tag %d", attr.Name, attr.Type)
	}
	return v, nil
}

// DecodeAttributeOr decodes attr, or returns def when the attribute is absent (nil).
// A present attribute with an undefined tag still fails.
func DecodeAttributeOr(attr *protos.AttributeProto, def Value) (Value, error) {
	if attr == nil {
		return def, nil
	}
	return DecodeAttribute(attr)
}

// Attributes indexes the attributes of a node by name.
func Attributes(node *protos.NodeProto) map[string]*protos.AttributeProto {
	m := make(map[string]*protos.AttributeProto, len(node.Attributes))
	for i := range node.Attributes {
		m[node.Attributes[i].Name] = &node.Attributes[i]
	}
	return m
}

// lookup decodes the named attribute of node and checks its kind. ok is false when absent.
func lookup(node *protos.NodeProto, name string, want Kind) (v Value, ok bool, err error) {
	attr := node.Attribute(name)
	if attr == nil {
		return Value{}, false, nil
	}
	v, err = DecodeAttribute(attr)
	if err != nil {
		return Value{}, false, errors.WithMessagef(err, "%s node %q", node.OpType, node.LayerName())
	}
	if v.Kind != want {
		return Value{}, false, errors.Wrapf(protos.ErrUnsupportedAttributeKind,
			"%s node %q: attribute %q is %s, expected %s", node.OpType, node.LayerName(), name, v.Kind, want)
	}
	return v, true, nil
}

// IntOr returns the INT attribute name of node, or def when absent.
func IntOr(node *protos.NodeProto, name string, def int64) (int64, error) {
	v, ok, err := lookup(node, name, KindInt)
	if err != nil || !ok {
		return def, err
	}
	return v.Int, nil
}

// IntsOr returns the INTS attribute name of node, or def when absent.
func IntsOr(node *protos.NodeProto, name string, def []int64) ([]int64, error) {
	v, ok, err := lookup(node, name, KindInts)
	if err != nil || !ok {
		return def, err
	}
	return v.Ints, nil
}

// FloatOr returns the FLOAT attribute name of node, or def when absent.
func FloatOr(node *protos.NodeProto, name string, def float32) (float32, error) {
	v, ok, err := lookup(node, name, KindFloat)
	if err != nil || !ok {
		return def, err
	}
	return v.Float, nil
}

// StringOr returns the STRING attribute name of node, or def when absent.
func StringOr(node *protos.NodeProto, name, def string) (string, error) {
	v, ok, err := lookup(node, name, KindString)
	if err != nil || !ok {
		return def, err
	}
	return v.String, nil
}

// TensorAttr returns the TENSOR attribute name of node. A missing attribute is ErrMissingTensor.
func TensorAttr(node *protos.NodeProto, name string) (*protos.TensorProto, error) {
	v, ok, err := lookup(node, name, KindTensor)
	if err != nil {
		return nil, err
	}
	if !ok || v.Tensor == nil {
		return nil, errors.Wrapf(protos.ErrMissingTensor, "%s node %q has no %q attribute",
			node.OpType, node.LayerName(), name)
	}
	return v.Tensor, nil
}

// Ints converts int64 attribute values to int.
func Ints(v []int64) []int {
	if v == nil {
		return nil
	}
	out := make([]int, len(v))
	for i, x := range v {
		out[i] = int(x)
	}
	return out
}
