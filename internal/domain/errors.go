// Package domain defines the core types, wire shapes, and errors shared by the
// workflow compiler and both computation engines.
package domain

import (
	"fmt"
	"strings"
)

// NotFoundError indicates a resource (dataset, field definition) was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input, such as a malformed expression or filter.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// DomainError reports a value outside a transform's valid domain. It is never
// fatal: the offending value is dropped from the derived field.
type DomainError struct {
	Op    string
	Field string
	Value interface{}
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: value %v of field %q is outside the transform domain", e.Op, e.Value, e.Field)
}

// CyclicFieldReferenceError reports a derived field whose reference chain
// loops back onto itself.
type CyclicFieldReferenceError struct {
	Chain []string
}

func (e *CyclicFieldReferenceError) Error() string {
	return "cyclic field reference: " + strings.Join(e.Chain, " -> ")
}

// Join path failure reasons.
const (
	JoinPathNoPath    = "no_path"
	JoinPathAmbiguous = "ambiguous"
	JoinPathCycle     = "cycle"
)

// JoinPathError reports that a dataset cannot be combined with the primary
// dataset. Candidates lists the competing shortest paths for an ambiguous join
// so the caller can ask the user to pick one.
type JoinPathError struct {
	From       string
	To         string
	Reason     string
	Candidates [][]JoinHop
}

func (e *JoinPathError) Error() string {
	switch e.Reason {
	case JoinPathAmbiguous:
		return fmt.Sprintf("ambiguous join path from %q to %q (%d shortest paths)", e.From, e.To, len(e.Candidates))
	case JoinPathCycle:
		return fmt.Sprintf("relationship cycle reachable from %q", e.From)
	default:
		return fmt.Sprintf("no join path from %q to %q", e.From, e.To)
	}
}

// UnknownFieldError reports a workflow that references a field the executing
// backend does not know.
type UnknownFieldError struct {
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field %q", e.Field)
}

// TransportError wraps a network or remote-service failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
