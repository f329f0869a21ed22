package tensor

import (
	"math"

	"github.com/pkg/errors"

	"github.com/chaosmail/onnx-layers/internal/parallel"
)

// unary applies fn element-wise, always producing float32.
func unary(name string, x *Tensor, fn func(float32) float32) (*Tensor, error) {
	if x == nil {
		return nil, errors.Errorf("%s: input tensor is nil", name)
	}
	in := x.Float32s()
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = fn(v)
	}
	return &Tensor{shape: x.shape.Clone(), dtype: Float32, f32: out}, nil
}

// ReLU applies max(x, 0) element-wise.
func ReLU(x *Tensor) (*Tensor, error) {
	return unary("ReLU", x, func(v float32) float32 {
		if v > 0 {
			return v
		}
		return 0
	})
}

// Tanh applies the hyperbolic tangent element-wise.
func Tanh(x *Tensor) (*Tensor, error) {
	return unary("Tanh", x, func(v float32) float32 {
		return float32(math.Tanh(float64(v)))
	})
}

// Sigmoid applies 1 / (1 + exp(-x)) element-wise.
func Sigmoid(x *Tensor) (*Tensor, error) {
	return unary("Sigmoid", x, func(v float32) float32 {
		return float32(1 / (1 + math.Exp(-float64(v))))
	})
}

// Elu applies x for x > 0 and alpha*(exp(x)-1) otherwise.
func Elu(x *Tensor, alpha float32) (*Tensor, error) {
	return unary("Elu", x, func(v float32) float32 {
		if v > 0 {
			return v
		}
		return alpha * float32(math.Expm1(float64(v)))
	})
}

// Softplus applies log(1 + exp(x)) element-wise.
func Softplus(x *Tensor) (*Tensor, error) {
	return unary("Softplus", x, func(v float32) float32 {
		return float32(math.Log1p(math.Exp(float64(v))))
	})
}

// Softsign applies x / (1 + |x|) element-wise.
func Softsign(x *Tensor) (*Tensor, error) {
	return unary("Softsign", x, func(v float32) float32 {
		return v / (1 + float32(math.Abs(float64(v))))
	})
}

// HardSigmoid applies max(0, min(1, alpha*x + beta)) element-wise.
func HardSigmoid(x *Tensor, alpha, beta float32) (*Tensor, error) {
	return unary("HardSigmoid", x, func(v float32) float32 {
		return min(max(alpha*v+beta, 0), 1)
	})
}

// Softmax applies softmax along the specified axis.
func Softmax(x *Tensor, axis int) (*Tensor, error) {
	if x == nil {
		return nil, errors.New("Softmax: input tensor is nil")
	}
	shape := x.shape
	if axis < 0 {
		axis += len(shape)
	}
	if axis < 0 || axis >= len(shape) {
		return nil, errors.Errorf("Softmax: axis %d out of range for tensor with %d dimensions", axis, len(shape))
	}

	in := x.Float32s()
	out := make([]float32, len(in))
	outer, axisSize, inner := splitAxis(shape, axis)
	for o := 0; o < outer; o++ {
		for n := 0; n < inner; n++ {
			base := o*axisSize*inner + n
			maxVal := float32(-math.MaxFloat32)
			for a := 0; a < axisSize; a++ {
				maxVal = max(maxVal, in[base+a*inner])
			}
			sum := float32(0)
			for a := 0; a < axisSize; a++ {
				idx := base + a*inner
				out[idx] = float32(math.Exp(float64(in[idx] - maxVal)))
				sum += out[idx]
			}
			for a := 0; a < axisSize; a++ {
				out[base+a*inner] /= sum
			}
		}
	}
	return &Tensor{shape: shape.Clone(), dtype: Float32, f32: out}, nil
}

// splitAxis returns the element counts before, along and after axis.
func splitAxis(shape Shape, axis int) (outer, size, inner int) {
	outer, inner = 1, 1
	for i := 0; i < axis; i++ {
		outer *= shape[i]
	}
	for i := axis + 1; i < len(shape); i++ {
		inner *= shape[i]
	}
	return outer, shape[axis], inner
}

// BinaryOp is an element-wise arithmetic operation.
type BinaryOp int

// Element-wise arithmetic operations.
const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
)

// String returns the operation name.
func (op BinaryOp) String() string {
	switch op {
	case OpAdd:
		return "Add"
	case OpSub:
		return "Sub"
	case OpMul:
		return "Mul"
	case OpDiv:
		return "Div"
	default:
		return "Unknown"
	}
}

func (op BinaryOp) apply(a, b float32) float32 {
	switch op {
	case OpSub:
		return a - b
	case OpMul:
		return a * b
	case OpDiv:
		return a / b
	default:
		return a + b
	}
}

// Binary computes a op b element-wise. b is broadcast into a's shape; the result
// always has a's shape, so b may not be larger than a along any dimension.
func Binary(op BinaryOp, a, b *Tensor) (*Tensor, error) {
	if a == nil || b == nil {
		return nil, errors.Errorf("%s: input tensor is nil", op)
	}
	out, _, err := BroadcastShapes(a.shape, b.shape)
	if err != nil {
		return nil, errors.Wrap(err, op.String())
	}
	if !out.Equal(a.shape) {
		return nil, errors.Errorf("%s: operand %v does not broadcast into %v", op, b.shape, a.shape)
	}

	av, bv := a.Float32s(), b.Float32s()
	result := make([]float32, len(av))
	if len(bv) == len(av) {
		for i := range av {
			result[i] = op.apply(av[i], bv[i])
		}
		return &Tensor{shape: a.shape.Clone(), dtype: Float32, f32: result}, nil
	}

	// Strides of b aligned to a's rank, 0 along broadcast dimensions.
	rank := len(a.shape)
	bStrides := make([]int, rank)
	offset := rank - len(b.shape)
	bs := b.shape.ComputeStrides()
	for i := range b.shape {
		if b.shape[i] != 1 {
			bStrides[offset+i] = bs[i]
		}
	}
	idx := make([]int, rank)
	for i := range av {
		tmp := i
		bFlat := 0
		for j := rank - 1; j >= 0; j-- {
			idx[j] = tmp % a.shape[j]
			tmp /= a.shape[j]
			bFlat += idx[j] * bStrides[j]
		}
		result[i] = op.apply(av[i], bv[bFlat])
	}
	return &Tensor{shape: a.shape.Clone(), dtype: Float32, f32: result}, nil
}

// Concat joins tensors along axis. All other dimensions must match.
func Concat(tensors []*Tensor, axis int) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, errors.New("Concat: no input tensors")
	}
	first := tensors[0].shape
	rank := len(first)
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return nil, errors.Errorf("Concat: axis %d out of range for rank %d", axis, rank)
	}

	outShape := first.Clone()
	outShape[axis] = 0
	for _, t := range tensors {
		if len(t.shape) != rank {
			return nil, errors.Errorf("Concat: rank mismatch %v vs %v", t.shape, first)
		}
		for d := range t.shape {
			if d != axis && t.shape[d] != first[d] {
				return nil, errors.Errorf("Concat: shape mismatch %v vs %v at dimension %d", t.shape, first, d)
			}
		}
		outShape[axis] += t.shape[axis]
	}

	outer, _, inner := splitAxis(outShape, axis)
	out := make([]float32, 0, outShape.NumElements())
	data := make([][]float32, len(tensors))
	for i, t := range tensors {
		data[i] = t.Float32s()
	}
	for o := 0; o < outer; o++ {
		for i, t := range tensors {
			chunk := t.shape[axis] * inner
			out = append(out, data[i][o*chunk:(o+1)*chunk]...)
		}
	}
	return &Tensor{shape: outShape, dtype: Float32, f32: out}, nil
}

// MatMul multiplies two rank-2 tensors: (m, k) x (k, n) -> (m, n).
func MatMul(a, b *Tensor) (*Tensor, error) {
	if a == nil || b == nil {
		return nil, errors.New("MatMul: input tensor is nil")
	}
	if len(a.shape) != 2 || len(b.shape) != 2 {
		return nil, errors.Errorf("MatMul: expected rank-2 operands, got %v and %v", a.shape, b.shape)
	}
	m, k, n := a.shape[0], a.shape[1], b.shape[1]
	if b.shape[0] != k {
		return nil, errors.Errorf("MatMul: inner dimensions differ: %v x %v", a.shape, b.shape)
	}

	av, bv := a.Float32s(), b.Float32s()
	out := make([]float32, m*n)
	parallel.For(m, func(i int) {
		dst := out[i*n : (i+1)*n]
		for p := 0; p < k; p++ {
			aip := av[i*k+p]
			if aip == 0 {
				continue
			}
			for j, v := range bv[p*n : (p+1)*n] {
				dst[j] += aip * v
			}
		}
	}, workers)
	return &Tensor{shape: Shape{m, n}, dtype: Float32, f32: out}, nil
}
