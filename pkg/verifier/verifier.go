// Package verifier checks that a converted nine pebbles model still honours
// the input/output contract the game engine evaluates it with.
package verifier

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/pkg/errors"
)

// Tensor names and sizes the engine binds when it evaluates a batch of game
// states.
const (
	InputName        = "input_1"
	ValueOutputName  = "value_output"
	PolicyOutputName = "policy_output"

	NumFeatures = 47
	NumMoves    = 9
)

var (
	// ErrContract is returned when the model's outputs do not have the shapes
	// or values the engine expects.
	ErrContract = errors.New("model output contract violated")
	// ErrBatchSize is returned for non-positive batch sizes.
	ErrBatchSize = errors.New("batch size must be positive")
)

// Batch is a row-major [Size, NumFeatures] input.
type Batch struct {
	Size     int
	Features []float32
}

// ZeroBatch returns a batch of n all-zero rows, the encoding the engine uses
// for empty slots in a batch.
func ZeroBatch(n int) Batch {
	return Batch{Size: n, Features: make([]float32, n*NumFeatures)}
}

// Evaluation holds the raw outputs of one run.
type Evaluation struct {
	ValueShape  []int64
	Values      []float32
	PolicyShape []int64
	Policies    []float32
}

// Evaluator runs a batch through the model stored at modelPath.
type Evaluator interface {
	Evaluate(ctx context.Context, modelPath string, batch Batch) (*Evaluation, error)
}

// Row is the model's answer for one input row.
type Row struct {
	Value  float32
	Policy []float32
}

// BestMove is the index of the highest policy entry.
func (r Row) BestMove() int {
	best := 0
	for i, p := range r.Policy {
		if p > r.Policy[best] {
			best = i
		}
	}
	return best
}

// Report is the outcome of a successful verification.
type Report struct {
	ModelPath string
	Rows      []Row
}

// Verify feeds batchSize zero rows to the model and checks the outputs.
func Verify(ctx context.Context, ev Evaluator, modelPath string, batchSize int) (*Report, error) {
	if batchSize <= 0 {
		return nil, errors.Wrapf(ErrBatchSize, "got %d", batchSize)
	}
	out, err := ev.Evaluate(ctx, modelPath, ZeroBatch(batchSize))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to evaluate %s", modelPath)
	}
	if err := checkValues(out, batchSize); err != nil {
		return nil, err
	}
	if err := checkPolicies(out, batchSize); err != nil {
		return nil, err
	}

	rep := &Report{ModelPath: modelPath, Rows: make([]Row, batchSize)}
	for i := range rep.Rows {
		rep.Rows[i] = Row{
			Value:  out.Values[i],
			Policy: out.Policies[i*NumMoves : (i+1)*NumMoves],
		}
	}
	return rep, nil
}

// Print writes one line per row.
func Print(w io.Writer, rep *Report) error {
	if _, err := fmt.Fprintf(w, "Verified %s with %d probe row(s).\n", rep.ModelPath, len(rep.Rows)); err != nil {
		return err
	}
	for i, row := range rep.Rows {
		if _, err := fmt.Fprintf(w, "  row %d: value=%.4f best_move=%d policy=%v\n", i, row.Value, row.BestMove(), row.Policy); err != nil {
			return err
		}
	}
	return nil
}

// checkValues accepts [n] or [n, 1].
func checkValues(out *Evaluation, n int) error {
	s := out.ValueShape
	ok := (len(s) == 1 && s[0] == int64(n)) || (len(s) == 2 && s[0] == int64(n) && s[1] == 1)
	if !ok {
		return errors.Wrapf(ErrContract, "%s has shape %v, want [%d 1]", ValueOutputName, s, n)
	}
	if len(out.Values) != n {
		return errors.Wrapf(ErrContract, "%s has %d values, want %d", ValueOutputName, len(out.Values), n)
	}
	return checkFinite(ValueOutputName, out.Values)
}

func checkPolicies(out *Evaluation, n int) error {
	s := out.PolicyShape
	if len(s) != 2 || s[0] != int64(n) || s[1] != NumMoves {
		return errors.Wrapf(ErrContract, "%s has shape %v, want [%d %d]", PolicyOutputName, s, n, NumMoves)
	}
	if len(out.Policies) != n*NumMoves {
		return errors.Wrapf(ErrContract, "%s has %d values, want %d", PolicyOutputName, len(out.Policies), n*NumMoves)
	}
	return checkFinite(PolicyOutputName, out.Policies)
}

func checkFinite(name string, xs []float32) error {
	for i, x := range xs {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return errors.Wrapf(ErrContract, "%s[%d] is %v", name, i, x)
		}
	}
	return nil
}
