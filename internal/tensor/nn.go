package tensor

import (
	"math"

	"github.com/pkg/errors"

	"github.com/chaosmail/onnx-layers/internal/parallel"
)

// workers splits large kernels across goroutines.
var workers = parallel.DefaultConfig()

// Padding selects how sliding windows treat borders.
type Padding string

// Padding modes.
const (
	PaddingValid Padding = "valid"
	PaddingSame  Padding = "same"
)

// OutputSize returns the number of window positions along one spatial dimension.
// Unknown input sizes (-1) stay unknown.
func OutputSize(in, kernel, stride, dilation int, padding Padding) int {
	if in < 0 {
		return -1
	}
	out, _ := window(in, kernel, stride, dilation, padding)
	return out
}

// window returns the output size and the leading pad along one dimension.
// Same padding splits the total pad with the smaller half first.
func window(in, kernel, stride, dilation int, padding Padding) (out, padBefore int) {
	effective := (kernel-1)*dilation + 1
	if padding == PaddingSame {
		out = (in + stride - 1) / stride
		total := max((out-1)*stride+effective-in, 0)
		return out, total / 2
	}
	if in < effective {
		return 0, 0
	}
	return (in-effective)/stride + 1, 0
}

// ConvOptions configures Conv.
type ConvOptions struct {
	Strides   []int
	Dilations []int
	Padding   Padding
}

// Conv computes a channel-last convolution.
//
// For 2-D: x is (N, H, W, C), kernel is (KH, KW, C, O) and the result is (N, OH, OW, O).
// For 1-D: x is (N, L, C), kernel is (K, C, O) and the result is (N, OL, O).
// bias may be nil.
func Conv(x, kernel, bias *Tensor, opts ConvOptions) (*Tensor, error) {
	if x == nil || kernel == nil {
		return nil, errors.New("Conv: input tensor is nil")
	}
	oneD := x.Rank() == 3
	if !oneD && x.Rank() != 4 {
		return nil, errors.Errorf("Conv: expected rank 3 or 4 input, got %v", x.shape)
	}
	if kernel.Rank() != x.Rank() {
		return nil, errors.Errorf("Conv: kernel %v does not match input %v", kernel.shape, x.shape)
	}

	x4, k4, strides, dilations := x.shape, kernel.shape, opts.Strides, opts.Dilations
	if oneD {
		x4 = Shape{x.shape[0], 1, x.shape[1], x.shape[2]}
		k4 = Shape{1, kernel.shape[0], kernel.shape[1], kernel.shape[2]}
		strides = append([]int{1}, pad1(strides)...)
		dilations = append([]int{1}, pad1(dilations)...)
	}
	strides, dilations = pad2(strides), pad2(dilations)

	n, h, w, c := x4[0], x4[1], x4[2], x4[3]
	kh, kw, kc, o := k4[0], k4[1], k4[2], k4[3]
	if kc != c {
		return nil, errors.Errorf("Conv: kernel expects %d input channels, got %d", kc, c)
	}
	if bias != nil && bias.NumElements() != o {
		return nil, errors.Errorf("Conv: bias has %d elements, expected %d", bias.NumElements(), o)
	}

	oh, padT := window(h, kh, strides[0], dilations[0], opts.Padding)
	ow, padL := window(w, kw, strides[1], dilations[1], opts.Padding)
	if oh <= 0 || ow <= 0 {
		return nil, errors.Errorf("Conv: kernel %v larger than input %v", kernel.shape, x.shape)
	}

	xv, kv := x.Float32s(), kernel.Float32s()
	out := make([]float32, n*oh*ow*o)
	// output rows are disjoint, so (batch, row) pairs run in parallel
	parallel.ForBatch(n, oh, func(b, y int) {
		for xx := 0; xx < ow; xx++ {
			dst := out[((b*oh+y)*ow+xx)*o : ((b*oh+y)*ow+xx+1)*o]
			for i := 0; i < kh; i++ {
				iy := y*strides[0] - padT + i*dilations[0]
				if iy < 0 || iy >= h {
					continue
				}
				for j := 0; j < kw; j++ {
					ix := xx*strides[1] - padL + j*dilations[1]
					if ix < 0 || ix >= w {
						continue
					}
					src := xv[((b*h+iy)*w+ix)*c : ((b*h+iy)*w+ix+1)*c]
					kOff := (i*kw + j) * c * o
					for ci, v := range src {
						if v == 0 {
							continue
						}
						row := kv[kOff+ci*o : kOff+(ci+1)*o]
						for oc, kvv := range row {
							dst[oc] += v * kvv
						}
					}
				}
			}
		}
	}, workers)
	if bias != nil {
		addBias(out, bias.Float32s())
	}

	shape := Shape{n, oh, ow, o}
	if oneD {
		shape = Shape{n, ow, o}
	}
	return &Tensor{shape: shape, dtype: Float32, f32: out}, nil
}

// PoolKind selects the pooling reduction.
type PoolKind int

// Pooling reductions.
const (
	MaxPool PoolKind = iota
	AvgPool
)

// PoolOptions configures Pool.
type PoolOptions struct {
	Kind    PoolKind
	Kernel  []int
	Strides []int
	Padding Padding
}

// Pool computes channel-last max or average pooling over (N, H, W, C) or (N, L, C).
// Average pooling with same padding only counts elements inside the input.
func Pool(x *Tensor, opts PoolOptions) (*Tensor, error) {
	if x == nil {
		return nil, errors.New("Pool: input tensor is nil")
	}
	oneD := x.Rank() == 3
	if !oneD && x.Rank() != 4 {
		return nil, errors.Errorf("Pool: expected rank 3 or 4 input, got %v", x.shape)
	}

	x4, kernel, strides := x.shape, opts.Kernel, opts.Strides
	if oneD {
		x4 = Shape{x.shape[0], 1, x.shape[1], x.shape[2]}
		kernel = append([]int{1}, kernel...)
		strides = append([]int{1}, pad1(strides)...)
	}
	if len(kernel) != 2 {
		return nil, errors.Errorf("Pool: kernel %v does not match input %v", opts.Kernel, x.shape)
	}
	strides = pad2(strides)

	n, h, w, c := x4[0], x4[1], x4[2], x4[3]
	oh, padT := window(h, kernel[0], strides[0], 1, opts.Padding)
	ow, padL := window(w, kernel[1], strides[1], 1, opts.Padding)
	if oh <= 0 || ow <= 0 {
		return nil, errors.Errorf("Pool: window %v larger than input %v", opts.Kernel, x.shape)
	}

	xv := x.Float32s()
	out := make([]float32, n*oh*ow*c)
	for b := 0; b < n; b++ {
		for y := 0; y < oh; y++ {
			for xx := 0; xx < ow; xx++ {
				for ch := 0; ch < c; ch++ {
					acc := float32(0)
					if opts.Kind == MaxPool {
						acc = -math.MaxFloat32
					}
					count := 0
					for i := 0; i < kernel[0]; i++ {
						iy := y*strides[0] - padT + i
						if iy < 0 || iy >= h {
							continue
						}
						for j := 0; j < kernel[1]; j++ {
							ix := xx*strides[1] - padL + j
							if ix < 0 || ix >= w {
								continue
							}
							v := xv[((b*h+iy)*w+ix)*c+ch]
							if opts.Kind == MaxPool {
								acc = max(acc, v)
							} else {
								acc += v
							}
							count++
						}
					}
					if opts.Kind == AvgPool && count > 0 {
						acc /= float32(count)
					}
					out[((b*oh+y)*ow+xx)*c+ch] = acc
				}
			}
		}
	}

	shape := Shape{n, oh, ow, c}
	if oneD {
		shape = Shape{n, ow, c}
	}
	return &Tensor{shape: shape, dtype: Float32, f32: out}, nil
}

// GlobalPool reduces every spatial dimension of a channel-last tensor: (N, ..., C) -> (N, C).
func GlobalPool(x *Tensor, kind PoolKind) (*Tensor, error) {
	if x == nil {
		return nil, errors.New("GlobalPool: input tensor is nil")
	}
	if x.Rank() < 3 {
		return nil, errors.Errorf("GlobalPool: expected rank >= 3 input, got %v", x.shape)
	}
	n, c := x.shape[0], x.shape[x.Rank()-1]
	spatial := x.NumElements() / (n * c)

	xv := x.Float32s()
	out := make([]float32, n*c)
	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			acc := float32(0)
			if kind == MaxPool {
				acc = -math.MaxFloat32
			}
			for s := 0; s < spatial; s++ {
				v := xv[(b*spatial+s)*c+ch]
				if kind == MaxPool {
					acc = max(acc, v)
				} else {
					acc += v
				}
			}
			if kind == AvgPool {
				acc /= float32(spatial)
			}
			out[b*c+ch] = acc
		}
	}
	return &Tensor{shape: Shape{n, c}, dtype: Float32, f32: out}, nil
}

// Dense computes x @ kernel + bias over the last dimension of x.
// kernel is (in, units); bias may be nil.
func Dense(x, kernel, bias *Tensor) (*Tensor, error) {
	if x == nil || kernel == nil {
		return nil, errors.New("Dense: input tensor is nil")
	}
	if kernel.Rank() != 2 {
		return nil, errors.Errorf("Dense: kernel must be rank 2, got %v", kernel.shape)
	}
	in, units := kernel.shape[0], kernel.shape[1]
	if x.Rank() == 0 || x.shape[x.Rank()-1] != in {
		return nil, errors.Errorf("Dense: input %v does not match kernel %v", x.shape, kernel.shape)
	}

	rows := x.NumElements() / in
	flat := &Tensor{shape: Shape{rows, in}, dtype: Float32, f32: x.Float32s()}
	y, err := MatMul(flat, kernel)
	if err != nil {
		return nil, errors.Wrap(err, "Dense")
	}
	if bias != nil {
		if bias.NumElements() != units {
			return nil, errors.Errorf("Dense: bias has %d elements, expected %d", bias.NumElements(), units)
		}
		addBias(y.f32, bias.Float32s())
	}
	shape := x.shape.Clone()
	shape[len(shape)-1] = units
	y.shape = shape
	return y, nil
}

// addBias adds bias to every trailing channel vector of data.
func addBias(data, bias []float32) {
	for i := 0; i < len(data); i += len(bias) {
		for j, v := range bias {
			data[i+j] += v
		}
	}
}

// pad1 defaults a one-element parameter list to [1].
func pad1(v []int) []int {
	if len(v) == 0 {
		return []int{1}
	}
	return v[:1]
}

// pad2 defaults a missing two-element parameter list to [1, 1].
func pad2(v []int) []int {
	switch len(v) {
	case 0:
		return []int{1, 1}
	case 1:
		return []int{v[0], v[0]}
	default:
		return v[:2]
	}
}
