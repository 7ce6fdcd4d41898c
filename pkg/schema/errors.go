package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	// Structural document defects. Deterministic and caller-fixable.
	ErrCodeDuplicateStepID       = "DUPLICATE_STEP_ID"
	ErrCodeDuplicateSaveAsKey    = "DUPLICATE_SAVE_AS_KEY"
	ErrCodeEmptySaveAsKey        = "EMPTY_SAVE_AS_KEY"
	ErrCodeUnknownStateReference = "UNKNOWN_STATE_REFERENCE"
	ErrCodeSelfDependency        = "SELF_DEPENDENCY"
	ErrCodeUnknownDependency     = "UNKNOWN_DEPENDENCY"
	ErrCodeCycleDetected         = "CYCLE_DETECTED"
	ErrCodeEmptyPatternSteps     = "EMPTY_PATTERN_STEPS"
	ErrCodeMissingFork           = "MISSING_FORK"
	ErrCodeMissingJoin           = "MISSING_JOIN"
	ErrCodeEmptyForkBranches     = "EMPTY_FORK_BRANCHES"
	ErrCodeDuplicatePatternID    = "DUPLICATE_PATTERN_ID"
	ErrCodeUnknownPatternID      = "UNKNOWN_PATTERN_ID"

	// Executor misuse or faults inside a job body.
	ErrCodeInvalidParallelism  = "INVALID_PARALLELISM"
	ErrCodeWorkerPanicked      = "WORKER_PANICKED"
	ErrCodeOutputCountMismatch = "OUTPUT_COUNT_MISMATCH"

	ErrCodeValidation = "VALIDATION_ERROR"
	ErrCodeExecution  = "EXECUTION_ERROR"
	ErrCodeCancelled  = "CANCELLED"
	ErrCodeNotFound   = "NOT_FOUND"
	ErrCodeStore      = "STORE_ERROR"
)

// FlowplanError is the structured error type for all flowplan operations.
type FlowplanError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	StepID  string         `json:"step_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *FlowplanError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FlowplanError) Unwrap() error {
	return e.Cause
}

// NewError creates a new FlowplanError.
func NewError(code, message string) *FlowplanError {
	return &FlowplanError{Code: code, Message: message}
}

// NewErrorf creates a new FlowplanError with a formatted message.
func NewErrorf(code, format string, args ...any) *FlowplanError {
	return &FlowplanError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step ID to the error.
func (e *FlowplanError) WithStep(stepID string) *FlowplanError {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause.
func (e *FlowplanError) WithCause(err error) *FlowplanError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FlowplanError) WithDetails(details map[string]any) *FlowplanError {
	e.Details = details
	return e
}

// HasCode reports whether err (or anything it wraps) is a FlowplanError
// carrying the given code.
func HasCode(err error, code string) bool {
	var fe *FlowplanError
	if !errors.As(err, &fe) {
		return false
	}
	return fe.Code == code
}

// CodeOf returns the code of the first FlowplanError in err's chain, or "".
func CodeOf(err error) string {
	var fe *FlowplanError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// AsFlowplanError returns the first FlowplanError in err's chain, or wraps
// err as an EXECUTION_ERROR.
func AsFlowplanError(err error) *FlowplanError {
	var fe *FlowplanError
	if errors.As(err, &fe) {
		return fe
	}
	return NewError(ErrCodeExecution, err.Error()).WithCause(err)
}
