package onnxtest

import (
	"encoding/binary"
	"math"

	"github.com/chaosmail/onnx-layers/internal/onnx/protos"
)

// GraphBuilder assembles a single-graph model.
type GraphBuilder struct {
	graph protos.GraphProto
}

// NewGraph starts a graph with the given name.
func NewGraph(name string) *GraphBuilder {
	return &GraphBuilder{graph: protos.GraphProto{Name: name}}
}

// Input declares a float graph input. A dim of -1 is written as the symbolic "N".
func (b *GraphBuilder) Input(name string, dims ...int64) *GraphBuilder {
	b.graph.Inputs = append(b.graph.Inputs, ValueInfo(name, dims...))
	return b
}

// Output declares a graph output.
func (b *GraphBuilder) Output(name string, dims ...int64) *GraphBuilder {
	b.graph.Outputs = append(b.graph.Outputs, ValueInfo(name, dims...))
	return b
}

// Initializer adds a weight tensor.
func (b *GraphBuilder) Initializer(t protos.TensorProto) *GraphBuilder {
	b.graph.Initializers = append(b.graph.Initializers, t)
	return b
}

// Node appends a node; the node name is left empty so layers are named after the first output.
func (b *GraphBuilder) Node(opType string, inputs, outputs []string, attrs ...protos.AttributeProto) *GraphBuilder {
	b.graph.Nodes = append(b.graph.Nodes, protos.NodeProto{
		OpType:     opType,
		Inputs:     inputs,
		Outputs:    outputs,
		Attributes: attrs,
	})
	return b
}

// Graph returns the assembled graph.
func (b *GraphBuilder) Graph() *protos.GraphProto {
	g := b.graph
	return &g
}

// Model wraps the graph in a model with opset 9.
func (b *GraphBuilder) Model() *protos.ModelProto {
	return &protos.ModelProto{
		IRVersion:       4,
		ProducerName:    "onnxtest",
		ProducerVersion: "1.0",
		OpsetImport:     []protos.OperatorSetID{{Version: 9}},
		Graph:           b.Graph(),
	}
}

// Bytes encodes the model.
func (b *GraphBuilder) Bytes() []byte {
	return Encode(b.Model())
}

// ValueInfo describes a float tensor value.
func ValueInfo(name string, dims ...int64) protos.ValueInfoProto {
	shape := &protos.TensorShapeProto{}
	for _, d := range dims {
		if d < 0 {
			shape.Dims = append(shape.Dims, protos.DimensionProto{DimParam: "N"})
			continue
		}
		shape.Dims = append(shape.Dims, protos.DimensionProto{DimValue: d})
	}
	return protos.ValueInfoProto{
		Name: name,
		Type: &protos.TypeProto{TensorType: &protos.TensorTypeProto{
			ElemType: protos.TensorProtoFloat,
			Shape:    shape,
		}},
	}
}

// Float32 builds a FLOAT tensor with inline float_data.
func Float32(name string, dims []int64, data []float32) protos.TensorProto {
	return protos.TensorProto{Name: name, DataType: protos.TensorProtoFloat, Dims: dims, FloatData: data}
}

// RawFloat32 builds a FLOAT tensor carried in raw_data.
func RawFloat32(name string, dims []int64, data []float32) protos.TensorProto {
	raw := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}
	return protos.TensorProto{Name: name, DataType: protos.TensorProtoFloat, Dims: dims, RawData: raw}
}

// Int64 builds an INT64 tensor with inline int64_data.
func Int64(name string, dims []int64, data []int64) protos.TensorProto {
	return protos.TensorProto{Name: name, DataType: protos.TensorProtoInt64, Dims: dims, Int64Data: data}
}

// RawInt64 builds an INT64 tensor carried in raw_data.
func RawInt64(name string, dims []int64, data []int64) protos.TensorProto {
	raw := make([]byte, 8*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint64(raw[8*i:], uint64(v)) //nolint:gosec // G115
	}
	return protos.TensorProto{Name: name, DataType: protos.TensorProtoInt64, Dims: dims, RawData: raw}
}

// Seq returns n float32 values 0, 1, ..., n-1.
func Seq(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i)
	}
	return out
}

// Fill returns n copies of v.
func Fill(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// Float returns a FLOAT attribute.
func Float(name string, v float32) protos.AttributeProto {
	return protos.AttributeProto{Name: name, Type: protos.AttributeProtoFloat, F: v}
}

// Int returns an INT attribute.
func Int(name string, v int64) protos.AttributeProto {
	return protos.AttributeProto{Name: name, Type: protos.AttributeProtoInt, I: v}
}

// Ints returns an INTS attribute.
func Ints(name string, v ...int64) protos.AttributeProto {
	return protos.AttributeProto{Name: name, Type: protos.AttributeProtoInts, Ints: v}
}

// Floats returns a FLOATS attribute.
func Floats(name string, v ...float32) protos.AttributeProto {
	return protos.AttributeProto{Name: name, Type: protos.AttributeProtoFloats, Floats: v}
}

// String returns a STRING attribute.
func String(name, v string) protos.AttributeProto {
	return protos.AttributeProto{Name: name, Type: protos.AttributeProtoString, S: []byte(v)}
}

// Tensor returns a TENSOR attribute.
func Tensor(name string, t protos.TensorProto) protos.AttributeProto {
	return protos.AttributeProto{Name: name, Type: protos.AttributeProtoTensor, T: &t}
}
