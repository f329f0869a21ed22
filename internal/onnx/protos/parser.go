package protos

import (
	"math"
	"os"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// ParseFile parses an ONNX model from file.
//
//nolint:gosec // G304: the model path is supplied by the caller on purpose.
func ParseFile(path string) (*ModelProto, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read file")
	}
	return Parse(data)
}

// Parse parses an ONNX model from bytes.
func Parse(data []byte) (*ModelProto, error) {
	model := &ModelProto{}
	if err := walk(data, model.field); err != nil {
		return nil, errors.WithMessage(err, "failed to parse model")
	}
	return model, nil
}

// fieldFunc consumes the value of one field and reports how many bytes it read.
// Returning 0 leaves the field to be skipped.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

// walk iterates over the fields of an encoded message.
func walk(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return wireError(0, n)
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return wireError(num, m)
			}
		}
		b = b[m:]
	}
	return nil
}

func wireError(num protowire.Number, n int) error {
	return errors.Wrapf(ErrFormatDecode, "field %d: %v", num, protowire.ParseError(n))
}

func typeError(num protowire.Number, typ protowire.Type) error {
	return errors.Wrapf(ErrFormatDecode, "field %d: unexpected wire type %d", num, typ)
}

func consumeBytes(num protowire.Number, typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, typeError(num, typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, wireError(num, n)
	}
	return v, n, nil
}

func consumeString(num protowire.Number, typ protowire.Type, b []byte, dst *string) (int, error) {
	v, n, err := consumeBytes(num, typ, b)
	if err != nil {
		return 0, err
	}
	*dst = string(v)
	return n, nil
}

func consumeVarint(num protowire.Number, typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, typeError(num, typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, wireError(num, n)
	}
	return v, n, nil
}

func consumeInt64(num protowire.Number, typ protowire.Type, b []byte, dst *int64) (int, error) {
	v, n, err := consumeVarint(num, typ, b)
	if err != nil {
		return 0, err
	}
	*dst = int64(v) //nolint:gosec // G115: two's complement varint.
	return n, nil
}

func consumeInt32(num protowire.Number, typ protowire.Type, b []byte, dst *int32) (int, error) {
	v, n, err := consumeVarint(num, typ, b)
	if err != nil {
		return 0, err
	}
	*dst = int32(int64(v)) //nolint:gosec // G115: int32 fields are sign-extended varints.
	return n, nil
}

// consumeMessage decodes an embedded message with fn.
func consumeMessage(num protowire.Number, typ protowire.Type, b []byte, fn fieldFunc) (int, error) {
	v, n, err := consumeBytes(num, typ, b)
	if err != nil {
		return 0, err
	}
	if err := walk(v, fn); err != nil {
		return 0, err
	}
	return n, nil
}

// consumeVarints decodes a repeated varint field in packed or unpacked form.
func consumeVarints(num protowire.Number, typ protowire.Type, b []byte, add func(uint64)) (int, error) {
	if typ == protowire.VarintType {
		v, n, err := consumeVarint(num, typ, b)
		if err != nil {
			return 0, err
		}
		add(v)
		return n, nil
	}
	packed, n, err := consumeBytes(num, typ, b)
	if err != nil {
		return 0, err
	}
	for len(packed) > 0 {
		v, m := protowire.ConsumeVarint(packed)
		if m < 0 {
			return 0, wireError(num, m)
		}
		add(v)
		packed = packed[m:]
	}
	return n, nil
}

// consumeFixed32s decodes a repeated float field in packed or unpacked form.
func consumeFixed32s(num protowire.Number, typ protowire.Type, b []byte, add func(uint32)) (int, error) {
	if typ == protowire.Fixed32Type {
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return 0, wireError(num, n)
		}
		add(v)
		return n, nil
	}
	packed, n, err := consumeBytes(num, typ, b)
	if err != nil {
		return 0, err
	}
	for len(packed) > 0 {
		v, m := protowire.ConsumeFixed32(packed)
		if m < 0 {
			return 0, wireError(num, m)
		}
		add(v)
		packed = packed[m:]
	}
	return n, nil
}

// consumeFixed64s decodes a repeated double field in packed or unpacked form.
func consumeFixed64s(num protowire.Number, typ protowire.Type, b []byte, add func(uint64)) (int, error) {
	if typ == protowire.Fixed64Type {
		v, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return 0, wireError(num, n)
		}
		add(v)
		return n, nil
	}
	packed, n, err := consumeBytes(num, typ, b)
	if err != nil {
		return 0, err
	}
	for len(packed) > 0 {
		v, m := protowire.ConsumeFixed64(packed)
		if m < 0 {
			return 0, wireError(num, m)
		}
		add(v)
		packed = packed[m:]
	}
	return n, nil
}

//nolint:gocyclo,cyclop // one case per ModelProto field.
func (m *ModelProto) field(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	switch num {
	case 1: // ir_version
		return consumeInt64(num, typ, b, &m.IRVersion)
	case 2: // producer_name
		return consumeString(num, typ, b, &m.ProducerName)
	case 3: // producer_version
		return consumeString(num, typ, b, &m.ProducerVersion)
	case 4: // domain
		return consumeString(num, typ, b, &m.Domain)
	case 5: // model_version
		return consumeInt64(num, typ, b, &m.ModelVersion)
	case 6: // doc_string
		return consumeString(num, typ, b, &m.DocString)
	case 7: // graph
		m.Graph = &GraphProto{}
		return consumeMessage(num, typ, b, m.Graph.field)
	case 8: // opset_import
		m.OpsetImport = append(m.OpsetImport, OperatorSetID{})
		return consumeMessage(num, typ, b, m.OpsetImport[len(m.OpsetImport)-1].field)
	case 14: // metadata_props
		m.MetadataProps = append(m.MetadataProps, StringStringEntry{})
		return consumeMessage(num, typ, b, m.MetadataProps[len(m.MetadataProps)-1].field)
	}
	return 0, nil
}

func (g *GraphProto) field(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	switch num {
	case 1: // node
		g.Nodes = append(g.Nodes, NodeProto{})
		return consumeMessage(num, typ, b, g.Nodes[len(g.Nodes)-1].field)
	case 2: // name
		return consumeString(num, typ, b, &g.Name)
	case 5: // initializer
		g.Initializers = append(g.Initializers, TensorProto{})
		return consumeMessage(num, typ, b, g.Initializers[len(g.Initializers)-1].field)
	case 10: // doc_string
		return consumeString(num, typ, b, &g.DocString)
	case 11: // input
		g.Inputs = append(g.Inputs, ValueInfoProto{})
		return consumeMessage(num, typ, b, g.Inputs[len(g.Inputs)-1].field)
	case 12: // output
		g.Outputs = append(g.Outputs, ValueInfoProto{})
		return consumeMessage(num, typ, b, g.Outputs[len(g.Outputs)-1].field)
	case 13: // value_info
		g.ValueInfo = append(g.ValueInfo, ValueInfoProto{})
		return consumeMessage(num, typ, b, g.ValueInfo[len(g.ValueInfo)-1].field)
	}
	return 0, nil
}

func (n *NodeProto) field(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	switch num {
	case 1, 2: // input, output
		var s string
		m, err := consumeString(num, typ, b, &s)
		if err != nil {
			return 0, err
		}
		if num == 1 {
			n.Inputs = append(n.Inputs, s)
		} else {
			n.Outputs = append(n.Outputs, s)
		}
		return m, nil
	case 3: // name
		return consumeString(num, typ, b, &n.Name)
	case 4: // op_type
		return consumeString(num, typ, b, &n.OpType)
	case 5: // attribute
		n.Attributes = append(n.Attributes, AttributeProto{})
		return consumeMessage(num, typ, b, n.Attributes[len(n.Attributes)-1].field)
	case 6: // doc_string
		return consumeString(num, typ, b, &n.DocString)
	case 7: // domain
		return consumeString(num, typ, b, &n.Domain)
	}
	return 0, nil
}

//nolint:gocyclo,cyclop // one case per TensorProto field.
func (t *TensorProto) field(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	switch num {
	case 1: // dims
		return consumeVarints(num, typ, b, func(v uint64) {
			t.Dims = append(t.Dims, int64(v)) //nolint:gosec // G115: two's complement varint.
		})
	case 2: // data_type
		return consumeInt32(num, typ, b, &t.DataType)
	case 4: // float_data
		return consumeFixed32s(num, typ, b, func(v uint32) {
			t.FloatData = append(t.FloatData, math.Float32frombits(v))
		})
	case 5: // int32_data
		return consumeVarints(num, typ, b, func(v uint64) {
			t.Int32Data = append(t.Int32Data, int32(int64(v))) //nolint:gosec // G115: sign-extended varint.
		})
	case 6: // string_data
		v, n, err := consumeBytes(num, typ, b)
		if err != nil {
			return 0, err
		}
		t.StringData = append(t.StringData, v)
		return n, nil
	case 7: // int64_data
		return consumeVarints(num, typ, b, func(v uint64) {
			t.Int64Data = append(t.Int64Data, int64(v)) //nolint:gosec // G115: two's complement varint.
		})
	case 8: // name
		return consumeString(num, typ, b, &t.Name)
	case 9: // raw_data
		v, n, err := consumeBytes(num, typ, b)
		if err != nil {
			return 0, err
		}
		t.RawData = v
		return n, nil
	case 10: // double_data
		return consumeFixed64s(num, typ, b, func(v uint64) {
			t.DoubleData = append(t.DoubleData, math.Float64frombits(v))
		})
	case 11: // uint64_data
		return consumeVarints(num, typ, b, func(v uint64) {
			t.Uint64Data = append(t.Uint64Data, v)
		})
	case 12: // doc_string
		return consumeString(num, typ, b, &t.DocString)
	}
	return 0, nil
}

func (v *ValueInfoProto) field(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	switch num {
	case 1: // name
		return consumeString(num, typ, b, &v.Name)
	case 2: // type
		v.Type = &TypeProto{}
		return consumeMessage(num, typ, b, v.Type.field)
	case 3: // doc_string
		return consumeString(num, typ, b, &v.DocString)
	}
	return 0, nil
}

func (t *TypeProto) field(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	if num == 1 { // tensor_type
		t.TensorType = &TensorTypeProto{}
		return consumeMessage(num, typ, b, t.TensorType.field)
	}
	return 0, nil
}

func (t *TensorTypeProto) field(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	switch num {
	case 1: // elem_type
		return consumeInt32(num, typ, b, &t.ElemType)
	case 2: // shape
		t.Shape = &TensorShapeProto{}
		return consumeMessage(num, typ, b, t.Shape.field)
	}
	return 0, nil
}

func (s *TensorShapeProto) field(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	if num == 1 { // dim
		s.Dims = append(s.Dims, DimensionProto{})
		return consumeMessage(num, typ, b, s.Dims[len(s.Dims)-1].field)
	}
	return 0, nil
}

func (d *DimensionProto) field(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	switch num {
	case 1: // dim_value
		return consumeInt64(num, typ, b, &d.DimValue)
	case 2: // dim_param
		return consumeString(num, typ, b, &d.DimParam)
	}
	return 0, nil
}

//nolint:gocyclo,cyclop // one case per AttributeProto field.
func (a *AttributeProto) field(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	switch num {
	case 1: // name
		return consumeString(num, typ, b, &a.Name)
	case 2: // f
		if typ != protowire.Fixed32Type {
			return 0, typeError(num, typ)
		}
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return 0, wireError(num, n)
		}
		a.F = math.Float32frombits(v)
		return n, nil
	case 3: // i
		return consumeInt64(num, typ, b, &a.I)
	case 4: // s
		v, n, err := consumeBytes(num, typ, b)
		if err != nil {
			return 0, err
		}
		a.S = v
		return n, nil
	case 5: // t
		a.T = &TensorProto{}
		return consumeMessage(num, typ, b, a.T.field)
	case 6: // g
		a.G = &GraphProto{}
		return consumeMessage(num, typ, b, a.G.field)
	case 7: // floats
		return consumeFixed32s(num, typ, b, func(v uint32) {
			a.Floats = append(a.Floats, math.Float32frombits(v))
		})
	case 8: // ints
		return consumeVarints(num, typ, b, func(v uint64) {
			a.Ints = append(a.Ints, int64(v)) //nolint:gosec // G115: two's complement varint.
		})
	case 9: // strings
		v, n, err := consumeBytes(num, typ, b)
		if err != nil {
			return 0, err
		}
		a.Strings = append(a.Strings, v)
		return n, nil
	case 10: // tensors
		a.Tensors = append(a.Tensors, TensorProto{})
		return consumeMessage(num, typ, b, a.Tensors[len(a.Tensors)-1].field)
	case 11: // graphs
		a.Graphs = append(a.Graphs, GraphProto{})
		return consumeMessage(num, typ, b, a.Graphs[len(a.Graphs)-1].field)
	case 13: // doc_string
		return consumeString(num, typ, b, &a.DocString)
	case 20: // type
		return consumeInt32(num, typ, b, &a.Type)
	}
	return 0, nil
}

func (o *OperatorSetID) field(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	switch num {
	case 1: // domain
		return consumeString(num, typ, b, &o.Domain)
	case 2: // version
		return consumeInt64(num, typ, b, &o.Version)
	}
	return 0, nil
}

func (e *StringStringEntry) field(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	switch num {
	case 1: // key
		return consumeString(num, typ, b, &e.Key)
	case 2: // value
		return consumeString(num, typ, b, &e.Value)
	}
	return 0, nil
}
