package main

import (
	"github.com/spf13/cobra"

	"github.com/zerfoo/zort/pkg/inspector"
)

func (a *app) inspectCommand() *cobra.Command {
	var (
		fileType   string
		useRuntime bool
	)
	cmd := &cobra.Command{
		Use:   "inspect <model>",
		Short: "Print a summary of an ONNX or ORT model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			kind, err := inspector.DetectType(path, fileType)
			if err != nil {
				return err
			}
			switch kind {
			case inspector.TypeONNX:
				s, err := inspector.InspectONNX(path)
				if err != nil {
					return err
				}
				inspector.PrintONNX(a.stdout, s)
			case inspector.TypeORT:
				s, err := inspector.InspectORT(path)
				if err != nil {
					return err
				}
				inspector.PrintORT(a.stdout, s)
			}
			if !useRuntime {
				return nil
			}
			rt, err := a.runtime()
			if err != nil {
				return err
			}
			ios, err := rt.ReadIO(path)
			if err != nil {
				return err
			}
			inspector.PrintIO(a.stdout, ios)
			return nil
		},
	}
	cmd.Flags().StringVar(&fileType, "type", "", "Model type: onnx or ort (default: from extension)")
	cmd.Flags().BoolVar(&useRuntime, "runtime", false, "Also list inputs and outputs as ONNX Runtime reports them")
	return cmd
}

func (a *app) verifyCommand() *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "verify <model.ort>",
		Short: "Run a zero batch through a model and check its outputs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.verify(cmd.Context(), args[0], batch)
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 1, "Number of probe rows")
	return cmd
}
