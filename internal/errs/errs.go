// Package errs defines the error taxonomy shared by every learning-engine
// component. Components wrap a sentinel with context via fmt.Errorf("...: %w")
// so callers can still errors.Is/errors.As against the kind.
package errs

import "errors"

var (
	// ErrValidation covers out-of-range input, wrong dimensions, duplicate
	// patterns, and quality scores below the acceptance threshold.
	ErrValidation = errors.New("validation error")

	// ErrReadOnly is returned when a mutating operation is attempted on a
	// store opened read-only.
	ErrReadOnly = errors.New("store is read-only")

	// ErrRollbackLoop is returned when the same checkpoint is rolled back to
	// twice in a row.
	ErrRollbackLoop = errors.New("rollback loop detected")

	// ErrNotFound covers missing trajectories, baseline deletions, and
	// unknown layers.
	ErrNotFound = errors.New("not found")

	// ErrIO covers file and rename failures that survived bounded retry.
	ErrIO = errors.New("io error")

	// ErrGradientAnomaly is returned when a weight update produces NaN/Inf.
	ErrGradientAnomaly = errors.New("gradient anomaly")

	// ErrTimeout is returned when a bounded wait (e.g. force-training) expires.
	ErrTimeout = errors.New("timeout exceeded")
)

// CorruptionWarning is not an error kind returned to callers — checksum
// mismatches and truncated records are logged and decoding continues. It is
// kept here only as a named constant for log messages.
const CorruptionWarning = "corruption warning"
