package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/go-logr/zapr"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chaosmail/onnx-layers/onnx"
	"github.com/chaosmail/onnx-layers/tensor"
)

// version is set at link time.
var version = "v0.0.1-dev"

type rootOptions struct {
	cfg    Config
	log    *zap.Logger
	output string
	strict bool
}

func newRootCmd(cfg Config, log *zap.Logger) *cobra.Command {
	o := &rootOptions{cfg: cfg, log: log}
	cmd := &cobra.Command{
		Use:           "onnxlayers",
		Short:         "onnxlayers imports ONNX models into a channel-last layer runtime",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return checkFormat(o.output)
		},
	}
	cmd.PersistentFlags().StringVarP(&o.output, "output", "o", cfg.Output, "Output format: text, json or yaml")
	cmd.PersistentFlags().BoolVar(&o.strict, "strict", false, "Report every unsupported operator before building")

	cmd.AddCommand(
		newOpsCmd(o),
		newInspectCmd(o),
		newSummaryCmd(o),
		newPredictCmd(o),
	)
	return cmd
}

func (o *rootOptions) loadOptions() onnx.Options {
	opts := onnx.DefaultOptions()
	opts.Logger = zapr.NewLogger(o.log)
	opts.StrictMode = o.strict
	return opts
}

func newOpsCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ops",
		Short: "List supported ONNX operators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ops := onnx.ListSupportedOps()
			return render(cmd.OutOrStdout(), o.output, ops, func(w io.Writer) error {
				for _, op := range ops {
					fmt.Fprintln(w, op)
				}
				return nil
			})
		},
	}
}

func newInspectCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE",
		Short: "Print model metadata without building it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := onnx.GetModelInfo(args[0])
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), o.output, info, func(w io.Writer) error {
				return writeInfo(w, info)
			})
		},
	}
}

type summary struct {
	Name           string              `json:"name"`
	Outputs        []string            `json:"outputs"`
	ConstantInputs []string            `json:"constantInputs,omitempty"`
	Layers         []onnx.LayerSummary `json:"layers"`
	TotalParams    int                 `json:"totalParams"`
}

func newSummaryCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "summary FILE",
		Short: "Build a model and print its layers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := onnx.Load(cmd.Context(), args[0], o.loadOptions())
			if err != nil {
				return err
			}
			s := summary{
				Name:           m.Name(),
				Outputs:        m.OutputNames(),
				ConstantInputs: m.ConstantInputs(),
				Layers:         m.Summary(),
				TotalParams:    m.CountParams(),
			}
			return render(cmd.OutOrStdout(), o.output, s, func(w io.Writer) error {
				return writeSummary(w, s)
			})
		},
	}
}

// tensorJSON is the file and output form of a tensor in native layout.
type tensorJSON struct {
	Name  string    `json:"name,omitempty"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

type prediction struct {
	Input   string       `json:"input"`
	Outputs []tensorJSON `json:"outputs"`
}

func newPredictCmd(o *rootOptions) *cobra.Command {
	var inputs []string
	cmd := &cobra.Command{
		Use:   "predict FILE --input INPUT.json...",
		Short: "Run a model on channel-last JSON inputs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(inputs) == 0 {
				return errors.New("at least one --input is required")
			}
			m, err := onnx.Load(cmd.Context(), args[0], o.loadOptions())
			if err != nil {
				return err
			}
			results, err := predictAll(cmd.Context(), o, m, inputs)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		},
	}
	cmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, `JSON file holding {"shape": [...], "data": [...]}`)
	return cmd
}

// predictAll runs every input through m, at most cfg.MaxParallel at a time.
func predictAll(ctx context.Context, o *rootOptions, m onnx.Model, paths []string) ([]prediction, error) {
	results := make([]prediction, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxParallel)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			x, err := readTensor(path)
			if err != nil {
				return err
			}
			outs, err := m.Predict(x)
			if err != nil {
				return errors.WithMessagef(err, "input %s", path)
			}
			p := prediction{Input: path}
			names := m.OutputNames()
			for j, out := range outs {
				p.Outputs = append(p.Outputs, tensorJSON{Name: names[j], Shape: out.Shape(), Data: out.Float32s()})
			}
			results[i] = p
			o.log.Debug("predicted", zap.String("input", path), zap.Int("outputs", len(outs)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

//nolint:gosec // G304: input paths are supplied on the command line.
func readTensor(path string) (*tensor.Tensor, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read input")
	}
	var tj tensorJSON
	if err := json.Unmarshal(b, &tj); err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", path)
	}
	x, err := tensor.FromFloat32(tj.Data, tj.Shape)
	if err != nil {
		return nil, errors.WithMessagef(err, "input %s", path)
	}
	return x, nil
}

func sortedKeys(m map[string]int) []string {
	return slices.Sorted(maps.Keys(m))
}
