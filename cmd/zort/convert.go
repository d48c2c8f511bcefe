package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zerfoo/zort/internal/buildinfo"
	"github.com/zerfoo/zort/pkg/converter"
	"github.com/zerfoo/zort/pkg/inspector"
	"github.com/zerfoo/zort/pkg/report"
	"github.com/zerfoo/zort/pkg/verifier"
)

// optimizer hands the converter a runtime that is only opened once the input
// and output paths have been checked.
type optimizer struct{ a *app }

func (o optimizer) Optimize(ctx context.Context, req converter.OptimizeRequest) error {
	rt, err := o.a.runtime()
	if err != nil {
		return err
	}
	return rt.Optimize(ctx, req)
}

// convert runs one conversion and prints the success line.
func (a *app) convert(ctx context.Context, input string, opts converter.Options) (*converter.Result, error) {
	c := converter.New(optimizer{a}, converter.WithLogger(a.log), converter.WithClock(a.now))
	res, err := c.Convert(ctx, input, opts)
	if err != nil {
		return nil, err
	}
	if _, err := fmt.Fprintln(a.stdout, converter.SuccessMessage(res.OutputPath)); err != nil {
		return nil, err
	}
	return res, nil
}

func (a *app) convertCommand() *cobra.Command {
	var (
		output     string
		verify     bool
		reportPath string
		levelFlag  = converter.LevelExtended
	)
	cmd := &cobra.Command{
		Use:   "convert [input.onnx]",
		Short: "Convert an ONNX model to the ORT format",
		Long: "Convert loads an ONNX model into ONNX Runtime with graph optimizations\n" +
			"enabled and saves the optimized graph in the ORT format.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := converter.DefaultInputPath
			if len(args) == 1 {
				input = args[0]
			}
			level, err := a.cfg.Runtime.OptimizationLevel()
			if err != nil {
				return err
			}
			res, err := a.convert(cmd.Context(), input, converter.Options{
				OutputPath:     output,
				Level:          level,
				IntraOpThreads: a.cfg.Runtime.IntraOpThreads,
				InterOpThreads: a.cfg.Runtime.InterOpThreads,
			})
			if err != nil {
				return err
			}
			if reportPath != "" {
				if err := a.writeReport(reportPath, res); err != nil {
					return err
				}
			}
			if verify {
				return a.verify(cmd.Context(), res.OutputPath, 1)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&output, "output", "o", "", "Path for the ORT file (default: input with .ort extension)")
	f.Var(&levelFlag, "level", "Graph optimization level: disable, basic, extended or all")
	f.Int("intra-op-threads", 0, "Intra-op thread count for the optimizing session (0: runtime default)")
	f.Int("inter-op-threads", 0, "Inter-op thread count for the optimizing session (0: runtime default)")
	f.BoolVar(&verify, "verify", false, "Run the evaluation probe against the converted model")
	f.StringVar(&reportPath, "report", "", "Write a YAML conversion report to this path")
	return cmd
}

func (a *app) writeReport(path string, res *converter.Result) error {
	summary, err := inspector.InspectONNX(res.InputPath)
	if err != nil {
		a.log.WithError(err).Warn("could not inspect input model, report will omit its header")
		summary = nil
	}
	if err := report.Write(path, report.New(buildinfo.String(), a.now(), res, summary)); err != nil {
		return err
	}
	a.log.WithField("report", path).Info("report written")
	return nil
}

func (a *app) verify(ctx context.Context, modelPath string, batch int) error {
	rt, err := a.runtime()
	if err != nil {
		return err
	}
	rep, err := verifier.Verify(ctx, rt, modelPath, batch)
	if err != nil {
		return err
	}
	return verifier.Print(a.stdout, rep)
}
