package layers

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/chaosmail/onnx-layers/internal/tensor"
)

// ConvConfig configures a 1-D or 2-D channel-last convolution with fixed weights.
// Kernel is (k..., inChannels, Filters).
type ConvConfig struct {
	Rank       int            `json:"rank"`
	Filters    int            `json:"filters"`
	KernelSize []int          `json:"kernelSize"`
	Strides    []int          `json:"strides"`
	Dilations  []int          `json:"dilationRate"`
	Padding    tensor.Padding `json:"padding"`
	UseBias    bool           `json:"useBias"`
	Kernel     *tensor.Tensor `json:"-"`
	Bias       *tensor.Tensor `json:"-"`
}

// ClassName implements Config.
func (c ConvConfig) ClassName() string { return fmt.Sprintf("Conv%dD", c.Rank) }

// Build implements Config.
func (c ConvConfig) Build(name string) (Layer, error) {
	if c.Rank != 1 && c.Rank != 2 {
		return nil, errors.Errorf("conv %q: unsupported rank %d", name, c.Rank)
	}
	if len(c.KernelSize) != c.Rank || len(c.Strides) != c.Rank || len(c.Dilations) != c.Rank {
		return nil, errors.Errorf("conv %q: kernel %v, strides %v and dilations %v must have %d entries",
			name, c.KernelSize, c.Strides, c.Dilations, c.Rank)
	}
	if c.Kernel == nil || c.Kernel.Rank() != c.Rank+2 {
		return nil, errors.Errorf("conv %q requires a rank-%d kernel", name, c.Rank+2)
	}
	if c.UseBias != (c.Bias != nil) {
		return nil, errors.Errorf("conv %q: useBias=%v does not match bias presence", name, c.UseBias)
	}
	return &ConvLayer{Base: NewBase(name), cfg: c}, nil
}

// ConvLayer is a channel-last convolution.
type ConvLayer struct {
	Base
	cfg ConvConfig
}

func (l *ConvLayer) ClassName() string { return l.cfg.ClassName() }
func (l *ConvLayer) Config() Config    { return l.cfg }
func (l *ConvLayer) CountParams() int  { return countParams(l.cfg.Kernel, l.cfg.Bias) }

func (l *ConvLayer) ComputeOutputShape(inputs []tensor.Shape) (tensor.Shape, error) {
	if err := expectInputs("conv", len(inputs), 1); err != nil {
		return nil, err
	}
	in := inputs[0]
	if len(in) != l.cfg.Rank+2 {
		return nil, errors.Errorf("%s expects rank-%d input, got %v", l.ClassName(), l.cfg.Rank+2, in)
	}
	kshape := l.cfg.Kernel.Shape()
	if c := in[len(in)-1]; c >= 0 && c != kshape[l.cfg.Rank] {
		return nil, errors.Errorf("%s kernel expects %d channels, input %v", l.ClassName(), kshape[l.cfg.Rank], in)
	}
	out := tensor.Shape{in[0]}
	for i := 0; i < l.cfg.Rank; i++ {
		out = append(out, tensor.OutputSize(in[i+1], l.cfg.KernelSize[i], l.cfg.Strides[i], l.cfg.Dilations[i], l.cfg.Padding))
	}
	return append(out, l.cfg.Filters), nil
}

func (l *ConvLayer) Call(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	if err := expectInputs("conv", len(inputs), 1); err != nil {
		return nil, err
	}
	return tensor.Conv(inputs[0], l.cfg.Kernel, l.cfg.Bias, tensor.ConvOptions{
		Strides:   l.cfg.Strides,
		Dilations: l.cfg.Dilations,
		Padding:   l.cfg.Padding,
	})
}

// PoolConfig configures windowed max or average pooling.
type PoolConfig struct {
	Kind     tensor.PoolKind `json:"-"`
	Rank     int             `json:"rank"`
	PoolSize []int           `json:"poolSize"`
	Strides  []int           `json:"strides"`
	Padding  tensor.Padding  `json:"padding"`
}

// ClassName implements Config.
func (c PoolConfig) ClassName() string {
	if c.Kind == tensor.AvgPool {
		return fmt.Sprintf("AveragePooling%dD", c.Rank)
	}
	return fmt.Sprintf("MaxPooling%dD", c.Rank)
}

// Build implements Config.
func (c PoolConfig) Build(name string) (Layer, error) {
	if c.Rank != 1 && c.Rank != 2 {
		return nil, errors.Errorf("pool %q: unsupported rank %d", name, c.Rank)
	}
	if len(c.PoolSize) != c.Rank || len(c.Strides) != c.Rank {
		return nil, errors.Errorf("pool %q: pool size %v and strides %v must have %d entries",
			name, c.PoolSize, c.Strides, c.Rank)
	}
	return &PoolLayer{Base: NewBase(name), cfg: c}, nil
}

// PoolLayer is a channel-last pooling layer.
type PoolLayer struct {
	Base
	cfg PoolConfig
}

func (l *PoolLayer) ClassName() string { return l.cfg.ClassName() }
func (l *PoolLayer) Config() Config    { return l.cfg }

func (l *PoolLayer) ComputeOutputShape(inputs []tensor.Shape) (tensor.Shape, error) {
	if err := expectInputs("pool", len(inputs), 1); err != nil {
		return nil, err
	}
	in := inputs[0]
	if len(in) != l.cfg.Rank+2 {
		return nil, errors.Errorf("%s expects rank-%d input, got %v", l.ClassName(), l.cfg.Rank+2, in)
	}
	out := tensor.Shape{in[0]}
	for i := 0; i < l.cfg.Rank; i++ {
		out = append(out, tensor.OutputSize(in[i+1], l.cfg.PoolSize[i], l.cfg.Strides[i], 1, l.cfg.Padding))
	}
	return append(out, in[len(in)-1]), nil
}

func (l *PoolLayer) Call(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	if err := expectInputs("pool", len(inputs), 1); err != nil {
		return nil, err
	}
	return tensor.Pool(inputs[0], tensor.PoolOptions{
		Kind:    l.cfg.Kind,
		Kernel:  l.cfg.PoolSize,
		Strides: l.cfg.Strides,
		Padding: l.cfg.Padding,
	})
}

// GlobalPoolConfig configures global max or average pooling.
type GlobalPoolConfig struct {
	Kind tensor.PoolKind `json:"-"`
	Rank int             `json:"rank"`
}

// ClassName implements Config.
func (c GlobalPoolConfig) ClassName() string {
	if c.Kind == tensor.AvgPool {
		return fmt.Sprintf("GlobalAveragePooling%dD", c.Rank)
	}
	return fmt.Sprintf("GlobalMaxPooling%dD", c.Rank)
}

// Build implements Config.
func (c GlobalPoolConfig) Build(name string) (Layer, error) {
	return &GlobalPoolLayer{Base: NewBase(name), cfg: c}, nil
}

// GlobalPoolLayer reduces all spatial dimensions: (N, ..., C) -> (N, C).
type GlobalPoolLayer struct {
	Base
	cfg GlobalPoolConfig
}

func (l *GlobalPoolLayer) ClassName() string { return l.cfg.ClassName() }
func (l *GlobalPoolLayer) Config() Config    { return l.cfg }

func (l *GlobalPoolLayer) ComputeOutputShape(inputs []tensor.Shape) (tensor.Shape, error) {
	if err := expectInputs("global pool", len(inputs), 1); err != nil {
		return nil, err
	}
	in := inputs[0]
	if len(in) < 3 {
		return nil, errors.Errorf("%s expects rank >= 3 input, got %v", l.ClassName(), in)
	}
	return tensor.Shape{in[0], in[len(in)-1]}, nil
}

func (l *GlobalPoolLayer) Call(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	if err := expectInputs("global pool", len(inputs), 1); err != nil {
		return nil, err
	}
	return tensor.GlobalPool(inputs[0], l.cfg.Kind)
}
