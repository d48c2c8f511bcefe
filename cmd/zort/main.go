// Command zort converts ONNX models into the ORT format.
//
// Run without arguments it converts nine_pebbles.onnx in the working
// directory into nine_pebbles.ort.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zerfoo/zort/internal/buildinfo"
	"github.com/zerfoo/zort/internal/config"
	"github.com/zerfoo/zort/internal/logging"
	"github.com/zerfoo/zort/internal/onnx"
	"github.com/zerfoo/zort/pkg/converter"
	"github.com/zerfoo/zort/pkg/inspector"
	"github.com/zerfoo/zort/pkg/verifier"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(openONNXRuntime, os.Stdout, os.Stderr)
	if err := a.execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// Runtime is everything the commands need from an inference runtime.
type Runtime interface {
	converter.Runtime
	verifier.Evaluator
	inspector.IOReader
	Close() error
}

// RuntimeFactory opens a Runtime. It is called at most once per invocation
// and only by commands that need one.
type RuntimeFactory func(cfg config.RuntimeConfig, log logrus.FieldLogger) (Runtime, error)

func openONNXRuntime(cfg config.RuntimeConfig, log logrus.FieldLogger) (Runtime, error) {
	rt, err := onnx.Open(onnx.Config{LibraryPath: cfg.LibraryPath, Logger: log})
	if err != nil {
		return nil, err
	}
	return rt, nil
}

type app struct {
	openRuntime RuntimeFactory
	stdout      io.Writer
	stderr      io.Writer
	now         func() time.Time

	cfg *config.Config
	log *logrus.Logger
	rt  Runtime
}

func newApp(open RuntimeFactory, stdout, stderr io.Writer) *app {
	return &app{
		openRuntime: open,
		stdout:      stdout,
		stderr:      stderr,
		now:         time.Now,
	}
}

// execute runs the command line args and releases the runtime afterwards.
func (a *app) execute(ctx context.Context, args []string) (err error) {
	defer func() {
		if a.rt == nil {
			return
		}
		if cerr := a.rt.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "failed to close runtime")
		}
		a.rt = nil
	}()

	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	return root.ExecuteContext(ctx)
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "zort",
		Short: "Convert ONNX models to the optimized ORT format",
		Long: "zort converts ONNX models into the ORT format used by ONNX Runtime.\n" +
			"Without a subcommand it converts " + converter.DefaultInputPath + " into " +
			converter.DefaultOutputPath + " at the extended optimization level.",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := converter.DefaultOptions()
			opts.IntraOpThreads = a.cfg.Runtime.IntraOpThreads
			opts.InterOpThreads = a.cfg.Runtime.InterOpThreads
			_, err := a.convert(cmd.Context(), converter.DefaultInputPath, opts)
			return err
		},
	}

	pf := root.PersistentFlags()
	pf.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	pf.String("log-format", "text", "Log format: text or json")
	pf.String("ort-library", "", "Path to the onnxruntime shared library")

	root.AddCommand(
		a.convertCommand(),
		a.inspectCommand(),
		a.verifyCommand(),
		a.downloadCommand(),
		a.versionCommand(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logging.New(cfg.Logger, a.stderr)
	return nil
}

// runtime opens the runtime on first use.
func (a *app) runtime() (Runtime, error) {
	if a.rt != nil {
		return a.rt, nil
	}
	rt, err := a.openRuntime(a.cfg.Runtime, a.log)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open ONNX Runtime")
	}
	a.rt = rt
	return rt, nil
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(a.stdout, buildinfo.String())
			return err
		},
	}
}
