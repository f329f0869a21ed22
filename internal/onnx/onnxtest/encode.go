// Package onnxtest builds ONNX models in memory for tests.
//
// Models are assembled as protos structs and encoded to the protobuf wire
// format, so tests exercise the same decoder used for real files.
package onnxtest

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/chaosmail/onnx-layers/internal/onnx/protos"
)

// Encode serializes a model to the ONNX wire format.
func Encode(m *protos.ModelProto) []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(m.IRVersion)) //nolint:gosec // G115
	b = appendString(b, 2, m.ProducerName)
	b = appendString(b, 3, m.ProducerVersion)
	b = appendString(b, 4, m.Domain)
	b = appendVarint(b, 5, uint64(m.ModelVersion)) //nolint:gosec // G115
	b = appendString(b, 6, m.DocString)
	if m.Graph != nil {
		b = appendMessage(b, 7, encodeGraph(m.Graph))
	}
	for _, op := range m.OpsetImport {
		var o []byte
		o = appendString(o, 1, op.Domain)
		o = appendVarint(o, 2, uint64(op.Version)) //nolint:gosec // G115
		b = appendMessage(b, 8, o)
	}
	for _, e := range m.MetadataProps {
		var o []byte
		o = appendString(o, 1, e.Key)
		o = appendString(o, 2, e.Value)
		b = appendMessage(b, 14, o)
	}
	return b
}

func encodeGraph(g *protos.GraphProto) []byte {
	var b []byte
	for i := range g.Nodes {
		b = appendMessage(b, 1, encodeNode(&g.Nodes[i]))
	}
	b = appendString(b, 2, g.Name)
	for i := range g.Initializers {
		b = appendMessage(b, 5, encodeTensor(&g.Initializers[i]))
	}
	for i := range g.Inputs {
		b = appendMessage(b, 11, encodeValueInfo(&g.Inputs[i]))
	}
	for i := range g.Outputs {
		b = appendMessage(b, 12, encodeValueInfo(&g.Outputs[i]))
	}
	return b
}

func encodeNode(n *protos.NodeProto) []byte {
	var b []byte
	for _, in := range n.Inputs {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, in)
	}
	for _, out := range n.Outputs {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, out)
	}
	b = appendString(b, 3, n.Name)
	b = appendString(b, 4, n.OpType)
	for i := range n.Attributes {
		b = appendMessage(b, 5, encodeAttribute(&n.Attributes[i]))
	}
	b = appendString(b, 7, n.Domain)
	return b
}

func encodeTensor(t *protos.TensorProto) []byte {
	var b []byte
	if len(t.Dims) > 0 {
		var packed []byte
		for _, d := range t.Dims {
			packed = protowire.AppendVarint(packed, uint64(d)) //nolint:gosec // G115
		}
		b = appendMessage(b, 1, packed)
	}
	b = appendVarint(b, 2, uint64(t.DataType)) //nolint:gosec // G115
	if len(t.FloatData) > 0 {
		var packed []byte
		for _, v := range t.FloatData {
			packed = protowire.AppendFixed32(packed, math.Float32bits(v))
		}
		b = appendMessage(b, 4, packed)
	}
	if len(t.Int32Data) > 0 {
		var packed []byte
		for _, v := range t.Int32Data {
			packed = protowire.AppendVarint(packed, uint64(int64(v))) //nolint:gosec // G115
		}
		b = appendMessage(b, 5, packed)
	}
	if len(t.Int64Data) > 0 {
		var packed []byte
		for _, v := range t.Int64Data {
			packed = protowire.AppendVarint(packed, uint64(v)) //nolint:gosec // G115
		}
		b = appendMessage(b, 7, packed)
	}
	b = appendString(b, 8, t.Name)
	if len(t.RawData) > 0 {
		b = appendMessage(b, 9, t.RawData)
	}
	if len(t.DoubleData) > 0 {
		var packed []byte
		for _, v := range t.DoubleData {
			packed = protowire.AppendFixed64(packed, math.Float64bits(v))
		}
		b = appendMessage(b, 10, packed)
	}
	if len(t.Uint64Data) > 0 {
		var packed []byte
		for _, v := range t.Uint64Data {
			packed = protowire.AppendVarint(packed, v)
		}
		b = appendMessage(b, 11, packed)
	}
	return b
}

func encodeValueInfo(v *protos.ValueInfoProto) []byte {
	var b []byte
	b = appendString(b, 1, v.Name)
	if v.Type != nil && v.Type.TensorType != nil {
		var tt []byte
		tt = appendVarint(tt, 1, uint64(v.Type.TensorType.ElemType)) //nolint:gosec // G115
		if v.Type.TensorType.Shape != nil {
			var shape []byte
			for _, d := range v.Type.TensorType.Shape.Dims {
				var dim []byte
				dim = appendVarint(dim, 1, uint64(d.DimValue)) //nolint:gosec // G115
				dim = appendString(dim, 2, d.DimParam)
				shape = appendMessage(shape, 1, dim)
			}
			tt = appendMessage(tt, 2, shape)
		}
		b = appendMessage(b, 2, appendMessage(nil, 1, tt))
	}
	return b
}

func encodeAttribute(a *protos.AttributeProto) []byte {
	var b []byte
	b = appendString(b, 1, a.Name)
	switch a.Type {
	case protos.AttributeProtoFloat:
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(a.F))
	case protos.AttributeProtoInt:
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.I)) //nolint:gosec // G115
	case protos.AttributeProtoString:
		b = appendMessage(b, 4, a.S)
	case protos.AttributeProtoTensor:
		if a.T != nil {
			b = appendMessage(b, 5, encodeTensor(a.T))
		}
	case protos.AttributeProtoGraph:
		if a.G != nil {
			b = appendMessage(b, 6, encodeGraph(a.G))
		}
	case protos.AttributeProtoFloats:
		for _, f := range a.Floats {
			b = protowire.AppendTag(b, 7, protowire.Fixed32Type)
			b = protowire.AppendFixed32(b, math.Float32bits(f))
		}
	case protos.AttributeProtoInts:
		var packed []byte
		for _, v := range a.Ints {
			packed = protowire.AppendVarint(packed, uint64(v)) //nolint:gosec // G115
		}
		b = appendMessage(b, 8, packed)
	case protos.AttributeProtoStrings:
		for _, s := range a.Strings {
			b = appendMessage(b, 9, s)
		}
	case protos.AttributeProtoTensors:
		for i := range a.Tensors {
			b = appendMessage(b, 10, encodeTensor(&a.Tensors[i]))
		}
	case protos.AttributeProtoGraphs:
		for i := range a.Graphs {
			b = appendMessage(b, 11, encodeGraph(&a.Graphs[i]))
		}
	}
	b = protowire.AppendTag(b, 20, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(a.Type)) //nolint:gosec // G115
	return b
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}
