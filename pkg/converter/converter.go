// Package converter turns ONNX models into the optimized ORT format by asking
// an inference runtime to load the model and write out the optimized graph.
package converter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Paths used when the converter runs without arguments.
const (
	DefaultInputPath  = "nine_pebbles.onnx"
	DefaultOutputPath = "nine_pebbles.ort"
)

// Options configures a single conversion.
type Options struct {
	// OutputPath is where the optimized model ends up. Empty means the input
	// path with its extension replaced by ".ort".
	OutputPath string
	Level      Level
	// Thread counts handed to the runtime session; 0 keeps the runtime default.
	IntraOpThreads int
	InterOpThreads int
}

// DefaultOptions returns the nine pebbles output path at the extended level.
func DefaultOptions() Options {
	return Options{OutputPath: DefaultOutputPath, Level: LevelExtended}
}

// OptimizeRequest is what the converter asks of a Runtime. OutputPath is a
// scratch file next to the final destination, not the destination itself.
type OptimizeRequest struct {
	InputPath      string
	OutputPath     string
	Level          Level
	IntraOpThreads int
	InterOpThreads int
}

// Runtime builds an inference session for a model with options that make it
// save the optimized graph to OutputPath.
type Runtime interface {
	Optimize(ctx context.Context, req OptimizeRequest) error
}

// Result describes a finished conversion.
type Result struct {
	RunID      string
	InputPath  string
	OutputPath string
	Level      Level
	Size       int64
	SHA256     string
	Duration   time.Duration
}

// Converter drives a Runtime and owns the filesystem side of a conversion.
type Converter struct {
	rt    Runtime
	log   logrus.FieldLogger
	now   func() time.Time
	newID func() string
}

// Option customizes a Converter.
type Option func(*Converter)

// WithLogger sets the logger conversion steps are reported to.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Converter) { c.log = l }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Converter) { c.now = now }
}

// New creates a Converter backed by rt.
func New(rt Runtime, opts ...Option) *Converter {
	c := &Converter{
		rt:    rt,
		log:   logrus.StandardLogger(),
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Convert optimizes the model at inputPath and stores it at opts.OutputPath.
//
// The runtime writes into a temporary file in the destination directory that
// is renamed into place only once it exists and is non-empty, so a failed
// conversion leaves no output behind and a repeated one replaces the previous
// output whole.
func (c *Converter) Convert(ctx context.Context, inputPath string, opts Options) (*Result, error) {
	if opts.OutputPath == "" {
		opts.OutputPath = OutputPathFor(inputPath)
	}
	runID := c.newID()
	log := c.log.WithFields(logrus.Fields{
		"run_id":    runID,
		"input":     inputPath,
		"output":    opts.OutputPath,
		"opt_level": opts.Level.String(),
	})

	if err := checkInput(inputPath); err != nil {
		return nil, err
	}
	if err := checkOutput(inputPath, opts.OutputPath); err != nil {
		return nil, err
	}

	scratch, err := reserveScratch(opts.OutputPath)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rerr := os.Remove(scratch); rerr != nil && !os.IsNotExist(rerr) {
			log.WithError(rerr).Warn("failed to remove scratch file")
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "conversion cancelled")
	}

	start := c.now()
	log.Debug("optimizing model")
	err = c.rt.Optimize(ctx, OptimizeRequest{
		InputPath:      inputPath,
		OutputPath:     scratch,
		Level:          opts.Level,
		IntraOpThreads: opts.IntraOpThreads,
		InterOpThreads: opts.InterOpThreads,
	})
	if err != nil {
		return nil, &Error{Op: "optimize", Path: inputPath, Kind: ErrRuntime, Err: err}
	}

	info, err := os.Stat(scratch)
	if err != nil {
		return nil, &Error{Op: "stat", Path: scratch, Kind: ErrEmptyOutput, Err: err}
	}
	if info.Size() == 0 {
		return nil, &Error{Op: "stat", Path: scratch, Kind: ErrEmptyOutput}
	}
	sum, err := fileSHA256(scratch)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to hash %s", scratch)
	}
	if err := os.Rename(scratch, opts.OutputPath); err != nil {
		return nil, &Error{Op: "rename", Path: opts.OutputPath, Kind: ErrOutputNotWritable, Err: err}
	}
	committed = true

	res := &Result{
		RunID:      runID,
		InputPath:  inputPath,
		OutputPath: opts.OutputPath,
		Level:      opts.Level,
		Size:       info.Size(),
		SHA256:     sum,
		Duration:   c.now().Sub(start),
	}
	log.WithFields(logrus.Fields{
		"bytes":    res.Size,
		"duration": res.Duration,
	}).Info("model converted")
	return res, nil
}

// OutputPathFor returns inputPath with its extension replaced by ".ort".
func OutputPathFor(inputPath string) string {
	return strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + ".ort"
}

// SuccessMessage is the line printed once a conversion has finished.
func SuccessMessage(outputPath string) string {
	return fmt.Sprintf("Model converted successfully to %s", outputPath)
}

func checkInput(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return &Error{Op: "open", Path: path, Kind: ErrInputNotFound}
	}
	if err != nil {
		return &Error{Op: "open", Path: path, Kind: ErrInvalidInput, Err: err}
	}
	if info.IsDir() {
		return &Error{Op: "open", Path: path, Kind: ErrInvalidInput, Err: errors.New("is a directory")}
	}
	f, err := os.Open(path)
	if err != nil {
		return &Error{Op: "open", Path: path, Kind: ErrInvalidInput, Err: err}
	}
	return f.Close()
}

// checkOutput rejects outputs that are directories or that name the input
// itself.
func checkOutput(inputPath, path string) error {
	if samePath(inputPath, path) {
		return &Error{Op: "create", Path: path, Kind: ErrOutputNotWritable, Err: errors.New("output would overwrite input")}
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil
	}
	if info.IsDir() {
		return &Error{Op: "create", Path: path, Kind: ErrOutputNotWritable, Err: errors.New("is a directory")}
	}
	if in, err := os.Stat(inputPath); err == nil && os.SameFile(in, info) {
		return &Error{Op: "create", Path: path, Kind: ErrOutputNotWritable, Err: errors.New("output would overwrite input")}
	}
	return nil
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}

// reserveScratch creates an empty ".ort" file beside path. The runtime picks
// the serialization format from the extension, so the scratch name ends in
// ".ort" whatever the final name is.
func reserveScratch(path string) (string, error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	f, err := os.CreateTemp(dir, "."+strings.TrimSuffix(base, filepath.Ext(base))+".*.ort")
	if err != nil {
		return "", &Error{Op: "create", Path: path, Kind: ErrOutputNotWritable, Err: err}
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", &Error{Op: "create", Path: path, Kind: ErrOutputNotWritable, Err: err}
	}
	return name, nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
