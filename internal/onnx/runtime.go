// Package onnx binds the converter, verifier and inspector to the ONNX
// Runtime shared library through onnxruntime_go.
package onnx

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/zerfoo/zort/pkg/converter"
	"github.com/zerfoo/zort/pkg/inspector"
	"github.com/zerfoo/zort/pkg/verifier"
)

// Config locates the shared library.
type Config struct {
	// LibraryPath is the onnxruntime shared library. Empty leaves the
	// binding's platform default in place.
	LibraryPath string
	Logger      logrus.FieldLogger
}

// Runtime owns the process-wide ORT environment. Close must be called once
// the runtime is no longer needed.
type Runtime struct {
	log       logrus.FieldLogger
	closeOnce sync.Once
}

// Open initializes the ORT environment.
func Open(cfg Config) (*Runtime, error) {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, errors.Wrap(err, "failed to initialize ONNX Runtime environment")
		}
	}
	log.WithField("library", cfg.LibraryPath).Debug("onnxruntime environment ready")
	return &Runtime{log: log}, nil
}

// Close destroys the ORT environment.
func (r *Runtime) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = errors.Wrap(ort.DestroyEnvironment(), "failed to destroy ONNX Runtime environment")
	})
	return err
}

// Optimize loads req.InputPath into a session configured to serialize the
// optimized graph to req.OutputPath. The session exists only to trigger that
// write and is destroyed before Optimize returns.
func (r *Runtime) Optimize(ctx context.Context, req converter.OptimizeRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	inputs, outputs, err := ort.GetInputOutputInfo(req.InputPath)
	if err != nil {
		return errors.Wrapf(err, "failed to read inputs and outputs of %s", req.InputPath)
	}

	options, err := newSessionOptions(req.Level, req.IntraOpThreads, req.InterOpThreads)
	if err != nil {
		return err
	}
	defer func() { _ = options.Destroy() }()
	if err := options.SetOptimizedModelFilePath(req.OutputPath); err != nil {
		return errors.Wrap(err, "failed to set optimized model path")
	}

	r.log.WithFields(logrus.Fields{
		"input":   req.InputPath,
		"scratch": req.OutputPath,
		"inputs":  len(inputs),
		"outputs": len(outputs),
	}).Debug("creating optimizing session")

	session, err := ort.NewDynamicAdvancedSession(req.InputPath, names(inputs), names(outputs), options)
	if err != nil {
		return errors.Wrapf(err, "failed to create session for %s", req.InputPath)
	}
	return errors.Wrap(session.Destroy(), "failed to destroy session")
}

// Evaluate runs batch through the model with the tensor names the game
// engine uses, letting the runtime allocate outputs so their real shapes can
// be checked.
func (r *Runtime) Evaluate(ctx context.Context, modelPath string, batch verifier.Batch) (*verifier.Evaluation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// The engine evaluates single-threaded.
	options, err := newSessionOptions(converter.LevelDisable, 1, 1)
	if err != nil {
		return nil, err
	}
	defer func() { _ = options.Destroy() }()

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{verifier.InputName},
		[]string{verifier.ValueOutputName, verifier.PolicyOutputName},
		options)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create session for %s", modelPath)
	}
	defer func() { _ = session.Destroy() }()

	input, err := ort.NewTensor(ort.NewShape(int64(batch.Size), verifier.NumFeatures), batch.Features)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create input tensor")
	}
	defer func() { _ = input.Destroy() }()

	outputs := []ort.Value{nil, nil}
	if err := session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, errors.Wrap(err, "failed to run session")
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				_ = o.Destroy()
			}
		}
	}()

	value, err := float32Output(verifier.ValueOutputName, outputs[0])
	if err != nil {
		return nil, err
	}
	policy, err := float32Output(verifier.PolicyOutputName, outputs[1])
	if err != nil {
		return nil, err
	}
	return &verifier.Evaluation{
		ValueShape:  append([]int64(nil), value.GetShape()...),
		Values:      append([]float32(nil), value.GetData()...),
		PolicyShape: append([]int64(nil), policy.GetShape()...),
		Policies:    append([]float32(nil), policy.GetData()...),
	}, nil
}

// ReadIO reports the model's inputs and outputs as the runtime sees them.
func (r *Runtime) ReadIO(path string) (*inspector.IOSummary, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get input/output info of %s", path)
	}
	return &inspector.IOSummary{
		Inputs:  tensorInfos(inputs),
		Outputs: tensorInfos(outputs),
	}, nil
}

func newSessionOptions(level converter.Level, intra, inter int) (*ort.SessionOptions, error) {
	ortLevel, err := graphOptimizationLevel(level)
	if err != nil {
		return nil, err
	}
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create session options")
	}
	if err := options.SetGraphOptimizationLevel(ortLevel); err != nil {
		_ = options.Destroy()
		return nil, errors.Wrap(err, "failed to set graph optimization level")
	}
	if intra > 0 {
		if err := options.SetIntraOpNumThreads(intra); err != nil {
			_ = options.Destroy()
			return nil, errors.Wrap(err, "failed to set intra-op threads")
		}
	}
	if inter > 0 {
		if err := options.SetInterOpNumThreads(inter); err != nil {
			_ = options.Destroy()
			return nil, errors.Wrap(err, "failed to set inter-op threads")
		}
	}
	return options, nil
}

func graphOptimizationLevel(level converter.Level) (ort.GraphOptimizationLevel, error) {
	switch level {
	case converter.LevelDisable:
		return ort.GraphOptimizationLevelDisableAll, nil
	case converter.LevelBasic:
		return ort.GraphOptimizationLevelEnableBasic, nil
	case converter.LevelExtended:
		return ort.GraphOptimizationLevelEnableExtended, nil
	case converter.LevelAll:
		return ort.GraphOptimizationLevelEnableAll, nil
	}
	return 0, errors.Wrapf(converter.ErrUnknownLevel, "%v", level)
}

func float32Output(name string, v ort.Value) (*ort.Tensor[float32], error) {
	t, ok := v.(*ort.Tensor[float32])
	if !ok {
		return nil, errors.Wrapf(verifier.ErrContract, "%s is %T, want a float32 tensor", name, v)
	}
	return t, nil
}

func names(infos []ort.InputOutputInfo) []string {
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.Name
	}
	return out
}

func tensorInfos(infos []ort.InputOutputInfo) []inspector.TensorInfo {
	out := make([]inspector.TensorInfo, len(infos))
	for i, info := range infos {
		out[i] = inspector.TensorInfo{
			Name:     info.Name,
			DataType: fmt.Sprint(info.DataType),
			Shape:    append([]int64(nil), info.Dimensions...),
		}
	}
	return out
}
