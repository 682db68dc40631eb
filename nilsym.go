package nilsym

import (
	"fmt"

	"github.com/pkg/errors"
)

// MaxUnroll is the default number of times a single path may visit the
// same (function, block) location.
const MaxUnroll = 5

// DefaultMaxCallDepth is the default inlining depth when call inlining is enabled.
const DefaultMaxCallDepth = 4

var (
	ErrNoFrameAvailable = errors.New("nilsym: no frame available")

	ErrSolverTimeout       = errors.New("Solver timeout")
	ErrSolverCanceled      = errors.New("Solver canceled")
	ErrSolverResourceLimit = errors.New("Solver resource limit")
	ErrSolverUnknown       = errors.New("Solver unknown error")
)

var (
	ErrUnboundPlace = errors.New("place is not bound")
	ErrMovedPlace   = errors.New("place was moved out")
)

// UnsupportedError is returned when a function uses a construct outside of
// the supported subset. It aborts the analysis of that function only.
type UnsupportedError struct {
	Construct string
	Detail    string
}

// Error returns the error message.
func (e *UnsupportedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("unsupported %s", e.Construct)
	}
	return fmt.Sprintf("unsupported %s: %s", e.Construct, e.Detail)
}

// unsupported returns a new UnsupportedError with a formatted detail message.
func unsupported(construct, format string, args ...interface{}) error {
	return &UnsupportedError{Construct: construct, Detail: fmt.Sprintf(format, args...)}
}

// IsUnsupported returns true if the cause of err is an UnsupportedError.
func IsUnsupported(err error) bool {
	_, ok := errors.Cause(err).(*UnsupportedError)
	return ok
}

// assert panics if condition is false.
func assert(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("assert: "+format, args...))
	}
}
