// Package protos holds the ONNX message types and a wire-format decoder for them.
//
// Only the subset of onnx.proto the importer reads is modelled. Unknown fields
// are skipped.
package protos

// ModelProto represents an ONNX model.
type ModelProto struct {
	IRVersion       int64               // IR version (e.g., 7, 8, 9)
	OpsetImport     []OperatorSetID     // Opset version(s)
	ProducerName    string              // Exporting framework (e.g., "pytorch")
	ProducerVersion string              // Exporting framework version
	Domain          string              // Model domain
	ModelVersion    int64               // Model version number
	DocString       string              // Model description
	Graph           *GraphProto         // Computation graph
	MetadataProps   []StringStringEntry // Key-value metadata
}

// GraphProto represents the computation graph.
//
// Nodes are expected in topological order.
type GraphProto struct {
	Name         string
	Nodes        []NodeProto
	Initializers []TensorProto
	DocString    string
	Inputs       []ValueInfoProto
	Outputs      []ValueInfoProto
	ValueInfo    []ValueInfoProto
}

// NodeProto represents a single operation.
type NodeProto struct {
	Name       string           // Node name (optional)
	OpType     string           // Operation type (e.g., "Conv", "Relu")
	Inputs     []string         // Input tensor names
	Outputs    []string         // Output tensor names
	Attributes []AttributeProto // Operation attributes
	Domain     string           // Custom domain (empty for default)
	DocString  string
}

// TensorProto is the interchange form of a tensor (initializers, constant values).
type TensorProto struct {
	Name       string
	DataType   int32
	Dims       []int64
	RawData    []byte    // Little-endian packed payload
	FloatData  []float32 // FLOAT, COMPLEX64
	Int32Data  []int32   // INT32, INT16, INT8, UINT16, UINT8, BOOL, FLOAT16
	Int64Data  []int64   // INT64
	DoubleData []float64 // DOUBLE, COMPLEX128
	Uint64Data []uint64  // UINT32, UINT64
	StringData [][]byte  // STRING
	DocString  string
}

// ValueInfoProto describes a graph input, output or intermediate value.
type ValueInfoProto struct {
	Name      string
	Type      *TypeProto
	DocString string
}

// TypeProto describes a value type. Only tensor types are modelled.
type TypeProto struct {
	TensorType *TensorTypeProto
}

// TensorTypeProto describes tensor element type and shape.
type TensorTypeProto struct {
	ElemType int32
	Shape    *TensorShapeProto
}

// TensorShapeProto describes tensor dimensions.
type TensorShapeProto struct {
	Dims []DimensionProto
}

// DimensionProto describes a single dimension.
type DimensionProto struct {
	DimValue int64  // Static dimension value (e.g., 224)
	DimParam string // Symbolic dimension name (e.g., "batch_size")
}

// AttributeProto represents a node attribute, a tagged union discriminated by Type.
type AttributeProto struct {
	Name      string
	Type      int32
	F         float32
	I         int64
	S         []byte
	T         *TensorProto
	G         *GraphProto
	Floats    []float32
	Ints      []int64
	Strings   [][]byte
	Tensors   []TensorProto
	Graphs    []GraphProto
	DocString string
}

// OperatorSetID identifies an opset version.
type OperatorSetID struct {
	Domain  string
	Version int64
}

// StringStringEntry represents key-value metadata.
type StringStringEntry struct {
	Key   string
	Value string
}

// Shape returns the declared dimensions of a value, with -1 for symbolic or
// unknown dimensions. A value without tensor shape information yields nil.
func (v *ValueInfoProto) Shape() []int {
	if v.Type == nil || v.Type.TensorType == nil || v.Type.TensorType.Shape == nil {
		return nil
	}
	dims := v.Type.TensorType.Shape.Dims
	shape := make([]int, len(dims))
	for i, d := range dims {
		if d.DimParam != "" || d.DimValue <= 0 {
			shape[i] = -1
			continue
		}
		shape[i] = int(d.DimValue)
	}
	return shape
}

// Attribute returns the attribute with the given name, or nil when absent.
func (n *NodeProto) Attribute(name string) *AttributeProto {
	for i := range n.Attributes {
		if n.Attributes[i].Name == name {
			return &n.Attributes[i]
		}
	}
	return nil
}

// LayerName returns the node name, falling back to the first output name.
func (n *NodeProto) LayerName() string {
	if n.Name != "" {
		return n.Name
	}
	if len(n.Outputs) > 0 {
		return n.Outputs[0]
	}
	return n.OpType
}

// ONNX data types (TensorProto.DataType).
const (
	TensorProtoUndefined  = 0
	TensorProtoFloat      = 1  // float32
	TensorProtoUint8      = 2  // uint8
	TensorProtoInt8       = 3  // int8
	TensorProtoUint16     = 4  // uint16
	TensorProtoInt16      = 5  // int16
	TensorProtoInt32      = 6  // int32
	TensorProtoInt64      = 7  // int64
	TensorProtoString     = 8  // string
	TensorProtoBool       = 9  // bool
	TensorProtoFloat16    = 10 // float16
	TensorProtoDouble     = 11 // float64
	TensorProtoUint32     = 12 // uint32
	TensorProtoUint64     = 13 // uint64
	TensorProtoComplex64  = 14 // complex64
	TensorProtoComplex128 = 15 // complex128
	TensorProtoBfloat16   = 16 // bfloat16
)

// ONNX attribute types (AttributeProto.Type).
const (
	AttributeProtoUndefined = 0
	AttributeProtoFloat     = 1  // FLOAT
	AttributeProtoInt       = 2  // INT
	AttributeProtoString    = 3  // STRING
	AttributeProtoTensor    = 4  // TENSOR
	AttributeProtoGraph     = 5  // GRAPH
	AttributeProtoFloats    = 6  // FLOATS
	AttributeProtoInts      = 7  // INTS
	AttributeProtoStrings   = 8  // STRINGS
	AttributeProtoTensors   = 9  // TENSORS
	AttributeProtoGraphs    = 10 // GRAPHS
)

// DataTypeName returns the ONNX name of a TensorProto data type tag.
func DataTypeName(dt int32) string {
	switch dt {
	case TensorProtoFloat:
		return "FLOAT"
	case TensorProtoUint8:
		return "UINT8"
	case TensorProtoInt8:
		return "INT8"
	case TensorProtoUint16:
		return "UINT16"
	case TensorProtoInt16:
		return "INT16"
	case TensorProtoInt32:
		return "INT32"
	case TensorProtoInt64:
		return "INT64"
	case TensorProtoString:
		return "STRING"
	case TensorProtoBool:
		return "BOOL"
	case TensorProtoFloat16:
		return "FLOAT16"
	case TensorProtoDouble:
		return "DOUBLE"
	case TensorProtoUint32:
		return "UINT32"
	case TensorProtoUint64:
		return "UINT64"
	case TensorProtoComplex64:
		return "COMPLEX64"
	case TensorProtoComplex128:
		return "COMPLEX128"
	case TensorProtoBfloat16:
		return "BFLOAT16"
	default:
		return "UNDEFINED"
	}
}
