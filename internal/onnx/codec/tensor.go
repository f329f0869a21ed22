package codec

import (
	"encoding/binary"
	"math"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/chaosmail/onnx-layers/internal/layout"
	"github.com/chaosmail/onnx-layers/internal/onnx/protos"
	"github.com/chaosmail/onnx-layers/internal/tensor"
)

// DecodeTensor converts an interchange tensor to a runtime tensor in the same
// (channel-first) layout.
//
// float32 and int32 are native. int8, int16, float16 and double are narrowed with a
// logged warning; int64 is narrowed only when it is stored inline and every value fits
// int32. Every other element type is rejected with ErrUnsupportedDType.
func DecodeTensor(t *protos.TensorProto, log logr.Logger) (*tensor.Tensor, error) {
	shape, err := tensorShape(t)
	if err != nil {
		return nil, err
	}

	switch t.DataType {
	case protos.TensorProtoFloat:
		data, err := float32Payload(t)
		if err != nil {
			return nil, err
		}
		return fromFloat32(t, data, shape)

	case protos.TensorProtoDouble:
		data, err := float64Payload(t)
		if err != nil {
			return nil, err
		}
		warnNarrowing(log, t, tensor.Float32)
		out := make([]float32, len(data))
		for i, v := range data {
			out[i] = float32(v)
		}
		return fromFloat32(t, out, shape)

	case protos.TensorProtoFloat16:
		bits, err := intPayload(t, 2, false)
		if err != nil {
			return nil, err
		}
		warnNarrowing(log, t, tensor.Float32)
		out := make([]float32, len(bits))
		for i, b := range bits {
			out[i] = float16.Frombits(uint16(b)).Float32() //nolint:gosec // G115: float16 bit pattern.
		}
		return fromFloat32(t, out, shape)

	case protos.TensorProtoInt32, protos.TensorProtoInt16, protos.TensorProtoInt8:
		width := map[int32]int{protos.TensorProtoInt32: 4, protos.TensorProtoInt16: 2, protos.TensorProtoInt8: 1}[t.DataType]
		values, err := intPayload(t, width, true)
		if err != nil {
			return nil, err
		}
		if t.DataType != protos.TensorProtoInt32 {
			warnNarrowing(log, t, tensor.Int32)
		}
		return fromInt32(t, values, shape)

	case protos.TensorProtoInt64:
		if len(t.Int64Data) == 0 {
			return nil, errors.Wrapf(protos.ErrUnsupportedDType,
				"tensor %q: INT64 values are only supported inline in int64_data", t.Name)
		}
		values := make([]int64, len(t.Int64Data))
		for i, v := range t.Int64Data {
			if v < math.MinInt32 || v > math.MaxInt32 {
				return nil, errors.Wrapf(protos.ErrUnsupportedDType,
					"tensor %q: INT64 value %d does not fit int32", t.Name, v)
			}
			values[i] = v
		}
		warnNarrowing(log, t, tensor.Int32)
		return fromInt32(t, values, shape)

	default:
		return nil, errors.Wrapf(protos.ErrUnsupportedDType, "tensor %q has element type %s",
			t.Name, protos.DataTypeName(t.DataType))
	}
}

// DecodeInts reads an INT64 or INT32 tensor as plain integers, from inline data or
// raw bytes. It is used for shape-valued operands, which never become runtime tensors.
func DecodeInts(t *protos.TensorProto) ([]int64, error) {
	shape, err := tensorShape(t)
	if err != nil {
		return nil, err
	}

	var values []int64
	switch t.DataType {
	case protos.TensorProtoInt64:
		if len(t.Int64Data) > 0 {
			values = append(values, t.Int64Data...)
		} else {
			if values, err = rawInts(t, 8, true); err != nil {
				return nil, err
			}
		}
	case protos.TensorProtoInt32:
		if values, err = intPayload(t, 4, true); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Wrapf(protos.ErrUnsupportedDType, "tensor %q: expected integer values, got %s",
			t.Name, protos.DataTypeName(t.DataType))
	}
	if len(values) != shape.NumElements() {
		return nil, errors.Wrapf(protos.ErrFormatDecode, "tensor %q: %d values for shape %v",
			t.Name, len(values), shape)
	}
	return values, nil
}

// ToChannelsLast permutes a channel-first value to the runtime layout.
// Ranks other than 2, 3 and 4 are returned unchanged.
func ToChannelsLast(t *tensor.Tensor) (*tensor.Tensor, error) {
	switch t.Rank() {
	case 2, 3, 4:
		return t.Transpose(layout.Permutation(t.Rank())...)
	default:
		return t, nil
	}
}

func tensorShape(t *protos.TensorProto) (tensor.Shape, error) {
	shape := make(tensor.Shape, len(t.Dims))
	for i, d := range t.Dims {
		if d <= 0 {
			return nil, errors.Wrapf(protos.ErrFormatDecode, "tensor %q: invalid dimension %d", t.Name, d)
		}
		shape[i] = int(d)
	}
	return shape, nil
}

func fromFloat32(t *protos.TensorProto, data []float32, shape tensor.Shape) (*tensor.Tensor, error) {
	out, err := tensor.FromFloat32(data, shape)
	if err != nil {
		return nil, errors.Wrapf(protos.ErrFormatDecode, "tensor %q: %v", t.Name, err)
	}
	return out, nil
}

func fromInt32(t *protos.TensorProto, values []int64, shape tensor.Shape) (*tensor.Tensor, error) {
	data := make([]int32, len(values))
	for i, v := range values {
		data[i] = int32(v) //nolint:gosec // G115: range checked by the caller or the source width.
	}
	out, err := tensor.FromInt32(data, shape)
	if err != nil {
		return nil, errors.Wrapf(protos.ErrFormatDecode, "tensor %q: %v", t.Name, err)
	}
	return out, nil
}

func warnNarrowing(log logr.Logger, t *protos.TensorProto, to tensor.DataType) {
	log.Info("warning: narrowing tensor element type", "tensor", t.Name,
		"from", protos.DataTypeName(t.DataType), "to", to.String())
}

// float32Payload prefers float_data over raw_data.
func float32Payload(t *protos.TensorProto) ([]float32, error) {
	if len(t.FloatData) > 0 {
		return t.FloatData, nil
	}
	if len(t.RawData)%4 != 0 {
		return nil, errors.Wrapf(protos.ErrFormatDecode, "tensor %q: raw_data length %d is not a multiple of 4",
			t.Name, len(t.RawData))
	}
	out := make([]float32, len(t.RawData)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.RawData[4*i:]))
	}
	return out, nil
}

// float64Payload prefers double_data over raw_data.
func float64Payload(t *protos.TensorProto) ([]float64, error) {
	if len(t.DoubleData) > 0 {
		return t.DoubleData, nil
	}
	if len(t.RawData)%8 != 0 {
		return nil, errors.Wrapf(protos.ErrFormatDecode, "tensor %q: raw_data length %d is not a multiple of 8",
			t.Name, len(t.RawData))
	}
	out := make([]float64, len(t.RawData)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(t.RawData[8*i:]))
	}
	return out, nil
}

// intPayload reads values stored inline in int32_data, or raw little-endian
// integers of the given byte width.
func intPayload(t *protos.TensorProto, width int, signed bool) ([]int64, error) {
	if len(t.Int32Data) > 0 {
		out := make([]int64, len(t.Int32Data))
		for i, v := range t.Int32Data {
			out[i] = int64(v)
		}
		return out, nil
	}
	return rawInts(t, width, signed)
}

func rawInts(t *protos.TensorProto, width int, signed bool) ([]int64, error) {
	if len(t.RawData)%width != 0 {
		return nil, errors.Wrapf(protos.ErrFormatDecode, "tensor %q: raw_data length %d is not a multiple of %d",
			t.Name, len(t.RawData), width)
	}
	out := make([]int64, len(t.RawData)/width)
	for i := range out {
		b := t.RawData[width*i:]
		switch width {
		case 1:
			if signed {
				out[i] = int64(int8(b[0]))
			} else {
				out[i] = int64(b[0])
			}
		case 2:
			v := binary.LittleEndian.Uint16(b)
			if signed {
				out[i] = int64(int16(v)) //nolint:gosec // G115: reinterpret bits.
			} else {
				out[i] = int64(v)
			}
		case 4:
			v := binary.LittleEndian.Uint32(b)
			if signed {
				out[i] = int64(int32(v)) //nolint:gosec // G115: reinterpret bits.
			} else {
				out[i] = int64(v)
			}
		default:
			out[i] = int64(binary.LittleEndian.Uint64(b)) //nolint:gosec // G115: reinterpret bits.
		}
	}
	return out, nil
}
