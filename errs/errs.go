// Package errs provides structured error types and helpers for the flow runtime.
package errs

import (
	"sort"
	"strconv"
	"strings"
)

// Code identifies a node-level error category (§7 of the design).
type Code string

const (
	// CodeConfig indicates missing or malformed node configuration. Fatal at startup.
	CodeConfig Code = "config_error"
	// CodeLoad indicates an application archive could not be loaded. The archive is skipped.
	CodeLoad Code = "load_error"
	// CodeDispatchMiss indicates no handler matched an event's runtime variant.
	CodeDispatchMiss Code = "dispatch_miss"
	// CodeUserHandler indicates a failure inside user PE code (onCreate/handler/onRemove).
	CodeUserHandler Code = "user_handler_error"
	// CodeTransport indicates a send/recv failure at the comm-layer boundary.
	CodeTransport Code = "transport_error"
	// CodeQueueOverflow indicates a bounded stream queue rejected an event.
	CodeQueueOverflow Code = "queue_overflow"
	// CodeInvalid indicates invalid input supplied by a caller.
	CodeInvalid Code = "invalid_request"
	// CodeNotFound indicates a missing resource (stream, prototype, instance).
	CodeNotFound Code = "not_found"
	// CodeConflict indicates a concurrent-mutation conflict (e.g. duplicate registration).
	CodeConflict Code = "conflict"
	// CodeUnavailable indicates the component is shutting down or saturated.
	CodeUnavailable Code = "unavailable"
	// CodeStorage indicates a failure in the optional, non-durable snapshot sink.
	CodeStorage Code = "storage_error"
)

// E captures structured error information produced across the flow stack.
type E struct {
	Op      string
	Code    Code
	Message string

	// PE/event context, populated for CodeDispatchMiss and CodeUserHandler per §7.
	PEClass string
	Key     string
	Variant string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the given operation and code.
func New(op string, code Code, opts ...Option) *E {
	e := &E{
		Op:   strings.TrimSpace(op),
		Code: code,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) { e.Message = trimmed }
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) { e.cause = err }
}

// WithPEContext attaches PE class, key and event variant context, per the
// UserHandlerError and DispatchMiss logging contract in §7.
func WithPEContext(class, key, variant string) Option {
	return func(e *E) {
		e.PEClass = strings.TrimSpace(class)
		e.Key = strings.TrimSpace(key)
		e.Variant = strings.TrimSpace(variant)
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	parts := make([]string, 0, 8)

	op := strings.TrimSpace(e.Op)
	if op == "" {
		op = "unknown"
	}
	parts = append(parts, "op="+op)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.PEClass != "" {
		parts = append(parts, "pe_class="+strconv.Quote(e.PEClass))
	}
	if e.Key != "" {
		parts = append(parts, "key="+strconv.Quote(e.Key))
	}
	if e.Variant != "" {
		parts = append(parts, "variant="+strconv.Quote(e.Variant))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// Is reports whether target is an *E with the same Code, supporting errors.Is.
func (e *E) Is(target error) bool {
	other, ok := target.(*E)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// SortedKeys returns the keys of m in lexical order, used when rendering
// metadata maps deterministically in logs.
func SortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
