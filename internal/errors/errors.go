// Package errors maps failures of the inference service onto HTTP status
// codes and JSON-RPC error codes, and carries the stack of where they were
// raised.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"

	"github.com/copyleftdev/laplace/internal/optimization"
)

// Kind classifies an error for the API layer.
type Kind int

const (
	// KindInternal is an unexpected failure.
	KindInternal Kind = iota
	// KindInvalid is a malformed or inconsistent request.
	KindInvalid
	// KindNotFound is a reference to an unknown session.
	KindNotFound
	// KindConflict is an operation that needs state the session lacks.
	KindConflict
	// KindUnprocessable is a well-formed request the solver could not handle.
	KindUnprocessable
)

var kindNames = map[Kind]string{
	KindInternal:      "internal",
	KindInvalid:       "invalid",
	KindNotFound:      "not_found",
	KindConflict:      "conflict",
	KindUnprocessable: "unprocessable",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// HTTPStatus returns the HTTP status code for k.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalid:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnprocessable:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// RPCCode returns the JSON-RPC 2.0 error code for k.
func (k Kind) RPCCode() int {
	switch k {
	case KindInvalid:
		return -32602
	case KindNotFound:
		return -32004
	case KindConflict:
		return -32009
	case KindUnprocessable:
		return -32022
	}
	return -32603
}

// Error represents an error with context and stack trace.
type Error struct {
	// The underlying error that was returned
	Err error
	// A human-readable message describing the error
	Message string
	// The operation that was being performed when the error occurred
	Operation string
	// The API classification of the error
	Kind Kind
	// The stack trace
	Stack []string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var builder strings.Builder

	if e.Message != "" {
		builder.WriteString(e.Message)
	}

	if e.Operation != "" {
		if builder.Len() > 0 {
			builder.WriteString(": ")
		}
		builder.WriteString("operation=")
		builder.WriteString(e.Operation)
	}

	if e.Err != nil {
		if builder.Len() > 0 {
			builder.WriteString(": ")
		}
		builder.WriteString(e.Err.Error())
	}

	return builder.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithOperation adds an operation to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// StackTrace returns the stack trace as a slice of strings.
func (e *Error) StackTrace() []string {
	return e.Stack
}

// New creates a new error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{
		Message: msg,
		Kind:    kind,
		Stack:   stackTrace(),
	}
}

// Errorf creates a new error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Message: fmt.Sprintf(format, args...),
		Kind:    kind,
		Stack:   stackTrace(),
	}
}

// Wrap wraps err with a message, classifying it with KindOf.
func Wrap(err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Err:     err,
		Message: msg,
		Kind:    KindOf(err),
		Stack:   stackTrace(),
	}
}

// WrapKind wraps err with an explicit kind.
func WrapKind(err error, kind Kind, msg string) *Error {
	if err == nil {
		return nil
	}
	e := Wrap(err, msg)
	e.Kind = kind
	return e
}

// KindOf classifies err. An *Error in the chain decides; otherwise the
// inference sentinels are mapped and anything else is internal.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	switch {
	case err == nil:
		return KindInternal
	case stderrors.Is(err, optimization.ErrDimensionMismatch),
		stderrors.Is(err, optimization.ErrInvalidParameter):
		return KindInvalid
	case stderrors.Is(err, optimization.ErrNotFitted):
		return KindConflict
	}
	if _, ok := optimization.IsOptimizationError(err); ok {
		return KindUnprocessable
	}
	return KindInternal
}

// stackTrace returns the current stack trace as a slice of strings.
func stackTrace() []string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	stack := make([]string, 0, n)

	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") && !strings.Contains(frame.File, "internal/errors") {
			stack = append(stack, fmt.Sprintf("%s\n\t%s:%d", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}

	return stack
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// Unwrap returns the result of calling the Unwrap method on err, if any.
func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}
