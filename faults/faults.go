// Package faults defines the workflow error taxonomy and the retry policy
// applied around action execution.
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a workflow error.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindAction         Kind = "action"
	KindTimeout        Kind = "timeout"
	KindRetryExhausted Kind = "retry_exhausted"
	KindCancelled      Kind = "cancelled"
	KindUnknown        Kind = "unknown"
)

// WorkflowError is a typed error carrying its kind, the node it originated
// from and whether the retry machinery may attempt it again.
type WorkflowError struct {
	Kind        Kind
	NodeID      string
	Message     string
	Recoverable bool
	Err         error
}

func (e *WorkflowError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.NodeID != "" {
		return fmt.Sprintf("%s: node %s: %s", e.Kind, e.NodeID, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *WorkflowError) Unwrap() error { return e.Err }

// NewValidation creates a non-recoverable validation error.
func NewValidation(nodeID, format string, args ...any) *WorkflowError {
	return &WorkflowError{Kind: KindValidation, NodeID: nodeID, Message: fmt.Sprintf(format, args...)}
}

// NewAction wraps a handler failure; recoverable.
func NewAction(nodeID string, err error) *WorkflowError {
	return &WorkflowError{Kind: KindAction, NodeID: nodeID, Recoverable: true, Err: err}
}

// NewTimeout marks a bounded wait that was exceeded; recoverable.
func NewTimeout(nodeID, msg string) *WorkflowError {
	return &WorkflowError{Kind: KindTimeout, NodeID: nodeID, Recoverable: true, Message: msg}
}

// NewCancelled marks a run stopped by cancellation.
func NewCancelled(nodeID string) *WorkflowError {
	return &WorkflowError{Kind: KindCancelled, NodeID: nodeID, Message: "execution cancelled"}
}

// Exhausted wraps the last failure after all retry attempts were spent.
func Exhausted(nodeID string, attempts int, last error) *WorkflowError {
	return &WorkflowError{
		Kind:    KindRetryExhausted,
		NodeID:  nodeID,
		Message: fmt.Sprintf("failed after %d attempts", attempts),
		Err:     last,
	}
}

// Coerce returns err as a *WorkflowError, wrapping foreign errors as
// KindUnknown. Unknown failures stay recoverable so they still get a
// bounded number of retries.
func Coerce(nodeID string, err error) *WorkflowError {
	if err == nil {
		return nil
	}
	var werr *WorkflowError
	if errors.As(err, &werr) {
		return werr
	}
	return &WorkflowError{Kind: KindUnknown, NodeID: nodeID, Recoverable: true, Err: err}
}

// KindOf reports the kind of err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var werr *WorkflowError
	if errors.As(err, &werr) {
		return werr.Kind
	}
	return KindUnknown
}

// IsRecoverable reports whether err may be retried. Foreign errors count
// as recoverable unknowns.
func IsRecoverable(err error) bool {
	var werr *WorkflowError
	if errors.As(err, &werr) {
		return werr.Recoverable
	}
	return err != nil
}
