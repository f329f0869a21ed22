// Package tensor provides the dense channel-last tensor and reference CPU kernels
// used by the layer runtime.
package tensor

// DataType represents runtime type information for tensors.
type DataType int

// Runtime data types. Every interchange dtype is narrowed to one of these on import.
const (
	Float32 DataType = iota
	Int32
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32, Int32:
		return 4
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Int32:
		return "int32"
	default:
		return "unknown"
	}
}
