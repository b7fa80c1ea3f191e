package state

import (
	"errors"
	"fmt"
	"strings"

	"pidigits/internal/arena"
	"pidigits/internal/dag"
)

var (
	// ErrNotFound is returned by Load when no checkpoint exists.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrCorrupt is matched by every *CorruptCheckpointError and
	// *UnsupportedSchemaError.
	ErrCorrupt = errors.New("checkpoint corrupt")
)

// CorruptCheckpointError reports a checkpoint that exists but cannot be
// trusted. The caller restarts from term 0 rather than use it.
type CorruptCheckpointError struct {
	Path  string
	Cause error
}

func (e *CorruptCheckpointError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("corrupt checkpoint %s: %v", e.Path, e.Cause)
}

func (e *CorruptCheckpointError) Unwrap() error { return e.Cause }

func (e *CorruptCheckpointError) Is(target error) bool { return target == ErrCorrupt }

// UnsupportedSchemaError reports a checkpoint written with a schema version
// this build does not understand.
type UnsupportedSchemaError struct {
	Path    string
	Version int
}

func (e *UnsupportedSchemaError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("checkpoint %s: unsupported schema_version %d (want %d)", e.Path, e.Version, SchemaVersion)
}

func (e *UnsupportedSchemaError) Is(target error) bool { return target == ErrCorrupt }

type FailureClass string

const (
	FailureClassOverflow  FailureClass = "overflow"
	FailureClassTask      FailureClass = "task"
	FailureClassCancelled FailureClass = "cancelled"
	FailureClassSystem    FailureClass = "system"
)

// Failure is the recorded termination reason of a run that left a
// checkpoint behind.
//
// Schema constraints: failure_class, error_code, error_message and resumable
// are required; range is set when a single task failed.
type Failure struct {
	FailureClass FailureClass `json:"failure_class"`
	Range        *string      `json:"range,omitempty"`
	ErrorCode    string       `json:"error_code"`
	ErrorMessage string       `json:"error_message"`
	Resumable    bool         `json:"resumable"`
}

func (f Failure) Validate() error {
	var errs []error
	switch f.FailureClass {
	case FailureClassOverflow, FailureClassTask, FailureClassCancelled, FailureClassSystem:
		// ok
	default:
		errs = append(errs, fmt.Errorf("invalid failure_class %q", f.FailureClass))
	}
	if f.Range != nil && strings.TrimSpace(*f.Range) == "" {
		errs = append(errs, errors.New("range must not be empty when provided"))
	}
	if strings.TrimSpace(f.ErrorCode) == "" {
		errs = append(errs, errors.New("error_code is required"))
	}
	if strings.TrimSpace(f.ErrorMessage) == "" {
		errs = append(errs, errors.New("error_message is required"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// failureFromError classifies a terminal engine error.
//
// An overflow is not resumable: the same ceiling is hit again on resume.
// Task failures and cancellation resume from the last checkpoint.
func failureFromError(err error) (Failure, error) {
	if err == nil {
		return Failure{}, errors.New("nil error")
	}

	var rangePtr *string
	var tf *dag.TaskFailure
	if errors.As(err, &tf) && tf != nil {
		r := tf.Range.String()
		rangePtr = &r
	}

	var oe *arena.OverflowError
	switch {
	case errors.As(err, &oe):
		return Failure{
			FailureClass: FailureClassOverflow,
			Range:        rangePtr,
			ErrorCode:    "Overflow",
			ErrorMessage: oe.Error(),
			Resumable:    false,
		}, nil
	case tf != nil:
		return Failure{
			FailureClass: FailureClassTask,
			Range:        rangePtr,
			ErrorCode:    "TaskFailure",
			ErrorMessage: tf.Error(),
			Resumable:    true,
		}, nil
	case errors.Is(err, dag.ErrCancelled):
		return Failure{
			FailureClass: FailureClassCancelled,
			ErrorCode:    "Cancelled",
			ErrorMessage: err.Error(),
			Resumable:    true,
		}, nil
	}

	return Failure{
		FailureClass: FailureClassSystem,
		ErrorCode:    "UnknownError",
		ErrorMessage: err.Error(),
		Resumable:    true,
	}, nil
}
