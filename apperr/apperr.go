// Package apperr defines the error taxonomy shared by every layer of the
// insight engine: a fixed set of kinds, each carrying a retry policy and a
// localized user-facing message.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Kind classifies a failure.
type Kind string

const (
	KindNetwork    Kind = "network"
	KindAPI        Kind = "api"
	KindValidation Kind = "validation"
	KindStorage    Kind = "storage"
	KindCache      Kind = "cache"
	KindUnknown    Kind = "unknown"
)

// Kinds lists every kind in a stable order.
var Kinds = []Kind{KindNetwork, KindAPI, KindValidation, KindStorage, KindCache, KindUnknown}

// Context carries the operation that failed and the inputs it was given.
type Context struct {
	Operation string            `json:"operation,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// Error is the engine's error record. It is not mutated after construction
// except through Resolve, which fills UserMessage.
type Error struct {
	Kind        Kind      `json:"type"`
	Message     string    `json:"message"`
	Context     Context   `json:"context"`
	Retryable   bool      `json:"isRetryable"`
	UserMessage string    `json:"userMessage,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Cause       error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Context.Operation != "" {
		return fmt.Sprintf("%s error in %s: %s", e.Kind, e.Context.Operation, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Option customizes an Error at construction.
type Option func(*Error)

// WithOperation records the failing operation name.
func WithOperation(op string) Option {
	return func(e *Error) { e.Context.Operation = op }
}

// WithDetail adds one key/value pair to the error's details.
func WithDetail(key, value string) Option {
	return func(e *Error) {
		if e.Context.Details == nil {
			e.Context.Details = make(map[string]string)
		}
		e.Context.Details[key] = value
	}
}

// WithCause attaches the underlying error.
func WithCause(cause error) Option {
	return func(e *Error) { e.Cause = cause }
}

// New builds an Error of the given kind. Retryable follows the kind's policy.
func New(kind Kind, message string, opts ...Option) *Error {
	e := &Error{
		Kind:      kind,
		Message:   message,
		Retryable: PolicyFor(kind).Retryable,
		Timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func Network(message string, opts ...Option) *Error { return New(KindNetwork, message, opts...) }
func API(message string, opts ...Option) *Error     { return New(KindAPI, message, opts...) }
func Storage(message string, opts ...Option) *Error { return New(KindStorage, message, opts...) }
func Cache(message string, opts ...Option) *Error   { return New(KindCache, message, opts...) }
func Unknown(message string, opts ...Option) *Error { return New(KindUnknown, message, opts...) }

func Validation(message string, opts ...Option) *Error {
	return New(KindValidation, message, opts...)
}

// KindOf reports the kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// Normalize maps any error into the taxonomy. Errors that already are
// *Error pass through untouched.
func Normalize(err error, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	opts = append(opts, WithCause(err))
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		return Network(err.Error(), opts...)
	case errors.Is(err, context.Canceled):
		return Unknown(err.Error(), opts...)
	case strings.Contains(err.Error(), "connection refused"):
		return Network(err.Error(), opts...)
	default:
		return Unknown(err.Error(), opts...)
	}
}
