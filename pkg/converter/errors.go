package converter

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors for classifying conversion failures with errors.Is.
var (
	ErrInputNotFound     = errors.New("input model not found")
	ErrInvalidInput      = errors.New("invalid input model")
	ErrOutputNotWritable = errors.New("output location not writable")
	ErrRuntime           = errors.New("runtime conversion failed")
	ErrEmptyOutput       = errors.New("runtime produced an empty model")
)

// Error records which step of a conversion failed, on which path, and why.
type Error struct {
	Op   string
	Path string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel this error was classified as.
func (e *Error) Is(target error) bool { return target == e.Kind }
