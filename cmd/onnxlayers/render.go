package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"

	"github.com/chaosmail/onnx-layers/onnx"
)

func checkFormat(format string) error {
	switch format {
	case "text", "json", "yaml":
		return nil
	}
	return errors.Errorf("invalid output format %q, want text, json or yaml", format)
}

// render writes v as json or yaml, or calls text for the table form.
func render(w io.Writer, format string, v any, text func(io.Writer) error) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		b, err := yaml.Marshal(v)
		if err != nil {
			return errors.Wrap(err, "failed to encode yaml")
		}
		_, err = w.Write(b)
		return err
	case "text":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		if err := text(tw); err != nil {
			return err
		}
		return tw.Flush()
	}
	return checkFormat(format)
}

func writeInfo(w io.Writer, info *onnx.ModelInfo) error {
	fmt.Fprintf(w, "Graph:\t%s\n", info.GraphName)
	fmt.Fprintf(w, "Producer:\t%s %s\n", info.ProducerName, info.ProducerVersion)
	fmt.Fprintf(w, "IR version:\t%d\n", info.IRVersion)
	fmt.Fprintf(w, "Opset:\t%d\n", info.OpsetVersion)
	for _, in := range info.Inputs {
		fmt.Fprintf(w, "Input:\t%s\t%s\t%v\n", in.Name, in.DataType, in.Shape)
	}
	for _, out := range info.Outputs {
		fmt.Fprintf(w, "Output:\t%s\t%s\t%v\n", out.Name, out.DataType, out.Shape)
	}
	fmt.Fprintf(w, "Nodes:\t%d\n", info.NodeCount)
	fmt.Fprintf(w, "Weights:\t%d\n", info.WeightCount)
	for _, op := range sortedKeys(info.Ops) {
		fmt.Fprintf(w, "  %s\t%d\n", op, info.Ops[op])
	}
	if len(info.Unsupported) > 0 {
		fmt.Fprintf(w, "Unsupported:\t%s\n", strings.Join(info.Unsupported, ", "))
	}
	return nil
}

func writeSummary(w io.Writer, s summary) error {
	fmt.Fprintln(w, "Layer\tClass\tOutput shape\tParams\tInbound")
	for _, l := range s.Layers {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", l.Name, l.ClassName, l.OutputShape, l.Params, strings.Join(l.Inbound, ","))
	}
	fmt.Fprintf(w, "Total params:\t%d\n", s.TotalParams)
	return nil
}
