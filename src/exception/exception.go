package exception

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind is the closed set of failure categories surfaced to tool callers.
type Kind string

const (
	KindConfiguration       Kind = "ConfigurationError"
	KindValidation          Kind = "ValidationError"
	KindSymbolNotFound      Kind = "SymbolNotFoundError"
	KindInsufficientBalance Kind = "InsufficientBalanceError"
	KindInvalidPrice        Kind = "InvalidPriceError"
	KindOrderRejected       Kind = "OrderRejectedError"
	KindConnection          Kind = "ExchangeConnectionError"
	KindResponse            Kind = "ExchangeResponseError"
)

// Error is the typed error carried from the adapter up to the transport.
// Op and Symbol are context added by each layer; Kind never changes once set.
type Error struct {
	Kind    Kind
	Op      string
	Symbol  string
	Message string
	Cause   error

	// Timeout is set when the exchange did not answer before the deadline.
	Timeout bool
	// OutcomeUnknown is set when a side-effecting request timed out and the
	// exchange may still have registered it.
	OutcomeUnknown bool
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(" in ")
		b.WriteString(e.Op)
	}
	if e.Symbol != "" {
		b.WriteString(" [")
		b.WriteString(e.Symbol)
		b.WriteString("]")
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether a caller may retry with backoff.
func (e *Error) Retryable() bool {
	return e.Kind == KindConnection && !e.OutcomeUnknown
}

func newError(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func Configuration(format string, args ...interface{}) *Error {
	return newError(KindConfiguration, nil, format, args...)
}

func Validation(format string, args ...interface{}) *Error {
	return newError(KindValidation, nil, format, args...)
}

func SymbolNotFound(symbol string, cause error) *Error {
	if symbol == "" {
		return newError(KindSymbolNotFound, cause, "unknown symbol")
	}
	e := newError(KindSymbolNotFound, cause, "unknown symbol %s", symbol)
	e.Symbol = symbol
	return e
}

func InsufficientBalance(cause error, format string, args ...interface{}) *Error {
	return newError(KindInsufficientBalance, cause, format, args...)
}

func InvalidPrice(format string, args ...interface{}) *Error {
	return newError(KindInvalidPrice, nil, format, args...)
}

func OrderRejected(cause error, format string, args ...interface{}) *Error {
	return newError(KindOrderRejected, cause, format, args...)
}

func Connection(cause error, format string, args ...interface{}) *Error {
	return newError(KindConnection, cause, format, args...)
}

func Response(cause error, format string, args ...interface{}) *Error {
	return newError(KindResponse, cause, format, args...)
}

// Timeout builds the connection error used when a deadline expires. When
// sideEffect is true the request may have reached the exchange.
func Timeout(cause error, sideEffect bool, format string, args ...interface{}) *Error {
	e := newError(KindConnection, cause, format, args...)
	e.Timeout = true
	e.OutcomeUnknown = sideEffect
	if sideEffect {
		e.Message += "; the order may have been registered, verify with a positions or balance fetch before retrying"
	}
	return e
}

// WithContext fills in op and symbol without touching the kind. Values that
// are already set are kept, so the innermost layer wins.
func WithContext(err error, op, symbol string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if !errors.As(err, &e) {
		return err
	}
	if e.Op == "" {
		e.Op = op
	}
	if e.Symbol == "" {
		e.Symbol = symbol
	}
	return err
}

// FromContext converts a context failure into the taxonomy. Any other error
// is returned untouched.
func FromContext(err error, sideEffect bool) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout(err, sideEffect, "exchange did not answer before the deadline")
	case errors.Is(err, context.Canceled):
		return Timeout(err, sideEffect, "request was canceled before the exchange answered")
	}
	return err
}

// KindOf returns the kind of err, or KindResponse for errors outside the taxonomy.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindResponse
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
