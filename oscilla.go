// Package oscilla couples a phase-synchronization oscillator network with an
// online Koopman spectral analyzer and closes the loop through a stability
// feedback controller. The subpackages are consumed as a library: phase holds
// the oscillator graph, buffer the streaming state history, koopman the EDMD
// estimator, lyapunov the stability certificate, control the feedback law,
// and engine/monitoring the batch and live closed-loop harnesses.
package oscilla

import "errors"

// Sentinel errors shared across subpackages. Callers distinguish recoverable
// conditions (insufficient data during warm-up, numerical degeneracy) from
// programmer errors (dimension mismatch, invalid configuration) with
// errors.Is.
var (
	// ErrDimensionMismatch reports a snapshot or matrix whose shape is
	// inconsistent with the already established dimension. The failed
	// operation leaves its receiver unchanged.
	ErrDimensionMismatch = errors.New("oscilla: dimension mismatch")

	// ErrInsufficientData reports that not enough samples are available
	// for the requested operation. Expected during warm-up; analysis
	// cycles should be skipped, not aborted.
	ErrInsufficientData = errors.New("oscilla: insufficient data")

	// ErrDegenerate reports a numerically degenerate analysis: effective
	// rank zero or non-finite eigenvalues. Results carrying this error
	// still expose their diagnostics; controllers hold the previous
	// feedback value instead of propagating the degenerate index.
	ErrDegenerate = errors.New("oscilla: numerically degenerate analysis")

	// ErrInvalidConfig reports an invalid configuration value. Surfaced
	// immediately and never retried.
	ErrInvalidConfig = errors.New("oscilla: invalid configuration")
)
