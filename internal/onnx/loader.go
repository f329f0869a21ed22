// Package onnx imports ONNX models into the channel-last layer runtime.
//
// Import runs in three steps: the protobuf file is decoded into message structs
// (package protos), each node is lowered to a runtime layer by an op-specific
// translator (package operators), and the layers are assembled into a Model whose
// inputs are the data input plus every constant that feeds a layer.
//
// Example usage:
//
//	model, err := onnx.Load(ctx, "squeezenet.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	outputs, err := model.Predict(batch) // batch is (N, H, W, C)
package onnx

import (
	"context"
	"sort"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/chaosmail/onnx-layers/internal/onnx/operators"
	"github.com/chaosmail/onnx-layers/internal/onnx/protos"
)

// Options configures model loading behavior.
type Options struct {
	// Logger receives build progress at V(1) and element type narrowing warnings.
	Logger logr.Logger

	// StrictMode checks every operator before building and reports all
	// unsupported ones at once. Without it the build stops at the first one.
	StrictMode bool

	// CustomOps adds or replaces translators by op type.
	CustomOps map[string]operators.Strategy
}

// DefaultOptions returns default loading options.
func DefaultOptions() Options {
	return Options{
		Logger: logr.Discard(),
	}
}

func pickOptions(opts []Options) Options {
	if len(opts) > 0 {
		return opts[0]
	}
	return DefaultOptions()
}

// Load reads an ONNX file and builds it.
func Load(ctx context.Context, path string, opts ...Options) (*Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	proto, err := protos.ParseFile(path)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to parse ONNX file")
	}
	return Build(proto, opts...)
}

// LoadFromBytes decodes an ONNX model and builds it.
func LoadFromBytes(data []byte, opts ...Options) (*Model, error) {
	proto, err := protos.Parse(data)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to parse ONNX data")
	}
	return Build(proto, opts...)
}

// Build lowers a decoded model. Any error aborts the build and no model is returned.
func Build(proto *protos.ModelProto, opts ...Options) (*Model, error) {
	opt := pickOptions(opts)
	if proto == nil || proto.Graph == nil {
		return nil, errors.Wrap(protos.ErrFormatDecode, "model has no graph")
	}

	registry := operators.NewRegistry()
	for opType, s := range opt.CustomOps {
		registry.Register(opType, s)
	}

	if opt.StrictMode {
		if err := ValidateOperators(proto.Graph, registry); err != nil {
			return nil, err
		}
	}

	m, err := newBuilder(proto.Graph, registry, opt.Logger).build()
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to build graph %q", proto.Graph.Name)
	}
	return m, nil
}

// ValidateOperators checks that every node has a translator and lists all
// unsupported op types in the error.
func ValidateOperators(graph *protos.GraphProto, registry *operators.Registry) error {
	if graph == nil {
		return errors.Wrap(protos.ErrFormatDecode, "model has no graph")
	}
	if registry == nil {
		return errors.New("registry is nil")
	}

	seen := make(map[string]bool)
	var unsupported []string
	for i := range graph.Nodes {
		op := graph.Nodes[i].OpType
		if seen[op] {
			continue
		}
		seen[op] = true
		if _, err := registry.Lookup(op); err != nil {
			unsupported = append(unsupported, op)
		}
	}

	if len(unsupported) > 0 {
		sort.Strings(unsupported)
		return errors.Wrapf(protos.ErrUnimplementedOp, "unsupported operators %v", unsupported)
	}
	return nil
}

// TensorInfo names a graph input or output and its declared shape; -1 marks a dynamic dimension.
type TensorInfo struct {
	Name     string `json:"name"`
	DataType string `json:"dataType"`
	Shape    []int  `json:"shape"`
}

// ModelInfo contains basic information about an ONNX model without building it.
type ModelInfo struct {
	IRVersion       int64          `json:"irVersion"`
	OpsetVersion    int64          `json:"opsetVersion"`
	ProducerName    string         `json:"producerName"`
	ProducerVersion string         `json:"producerVersion"`
	GraphName       string         `json:"graphName"`
	Inputs          []TensorInfo   `json:"inputs"`
	Outputs         []TensorInfo   `json:"outputs"`
	NodeCount       int            `json:"nodeCount"`
	WeightCount     int            `json:"weightCount"`
	Ops             map[string]int `json:"ops"`
	Unsupported     []string       `json:"unsupported,omitempty"`
}

// GetModelInfo decodes an ONNX model and summarizes it.
func GetModelInfo(data []byte) (*ModelInfo, error) {
	proto, err := protos.Parse(data)
	if err != nil {
		return nil, err
	}

	info := &ModelInfo{
		IRVersion:       proto.IRVersion,
		ProducerName:    proto.ProducerName,
		ProducerVersion: proto.ProducerVersion,
		Ops:             make(map[string]int),
	}

	for _, opset := range proto.OpsetImport {
		if opset.Domain == "" || opset.Domain == "ai.onnx" {
			info.OpsetVersion = opset.Version
			break
		}
	}

	if proto.Graph == nil {
		return info, nil
	}
	g := proto.Graph
	info.GraphName = g.Name

	initNames := make(map[string]bool)
	for i := range g.Initializers {
		initNames[g.Initializers[i].Name] = true
	}
	for i := range g.Inputs {
		if !initNames[g.Inputs[i].Name] {
			info.Inputs = append(info.Inputs, tensorInfo(&g.Inputs[i]))
		}
	}
	for i := range g.Outputs {
		info.Outputs = append(info.Outputs, tensorInfo(&g.Outputs[i]))
	}

	registry := operators.NewRegistry()
	for i := range g.Nodes {
		op := g.Nodes[i].OpType
		if _, ok := info.Ops[op]; !ok {
			if _, err := registry.Lookup(op); err != nil {
				info.Unsupported = append(info.Unsupported, op)
			}
		}
		info.Ops[op]++
	}
	sort.Strings(info.Unsupported)

	info.NodeCount = len(g.Nodes)
	info.WeightCount = len(g.Initializers)
	return info, nil
}

func tensorInfo(v *protos.ValueInfoProto) TensorInfo {
	ti := TensorInfo{Name: v.Name, Shape: v.Shape()}
	if v.Type != nil && v.Type.TensorType != nil {
		ti.DataType = protos.DataTypeName(v.Type.TensorType.ElemType)
	}
	return ti
}

// ListSupportedOps returns all supported ONNX operators in sorted order.
func ListSupportedOps() []string {
	return operators.NewRegistry().SupportedOps()
}
