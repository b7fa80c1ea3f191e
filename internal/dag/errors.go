package dag

import (
	"errors"
	"fmt"

	"pidigits/internal/series"
)

var (
	ErrInvalidGraph = errors.New("invalid task graph")

	// ErrTaskFailed is matched by every *TaskFailure.
	ErrTaskFailed = errors.New("task failed")

	// ErrCancelled is returned by Reducer.Run after the context is done and
	// in-flight tasks have drained.
	ErrCancelled = errors.New("reduction cancelled")
)

// GraphError wraps deterministic graph validation failures.
type GraphError struct {
	Kind error
	Msg  string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

func invalidf(format string, args ...any) error {
	return &GraphError{Kind: ErrInvalidGraph, Msg: fmt.Sprintf(format, args...)}
}

// TaskFailure is the single error surfaced when a leaf evaluation or merge
// fails or panics. Err keeps the cause, so an arena overflow is still
// reachable through errors.As.
type TaskFailure struct {
	Node  NodeID
	Range series.Range
	Merge bool
	Err   error
}

func (e *TaskFailure) Error() string {
	if e == nil {
		return ""
	}
	kind := "leaf"
	if e.Merge {
		kind = "merge"
	}
	return fmt.Sprintf("%s %s (node %d) failed: %v", kind, e.Range, e.Node, e.Err)
}

func (e *TaskFailure) Unwrap() error { return e.Err }

func (e *TaskFailure) Is(target error) bool { return target == ErrTaskFailed }

// panicError carries a recovered worker panic.
type panicError struct {
	value any
}

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }
