// Package apierr defines the closed error taxonomy shared by every
// component. Components return *Error so callers can switch on Kind
// instead of matching strings.
package apierr

import "fmt"

// Kind is one of the eight error kinds from the error handling design.
type Kind string

const (
	InvalidInput      Kind = "invalid_input"
	NotFound          Kind = "not_found"
	InvalidOperation  Kind = "invalid_operation"
	InsufficientStock Kind = "insufficient_stock"
	PaymentDeclined   Kind = "payment_declined"
	ExternalService   Kind = "external_service"
	RateLimited       Kind = "rate_limited"
	Internal          Kind = "internal"
)

// Error is the machine-readable error every component returns for
// expected failure modes. Param identifies the offending field, when
// applicable; it is empty otherwise.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Param   string
	// Retryable hints that a caller may retry the operation (set for
	// ExternalService and RateLimited).
	Retryable bool
	// Cause, when set, is wrapped and returned by Unwrap.
	Cause error
}

func (e *Error) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (param=%s)", e.Code, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus maps Kind to the status code a future transport layer
// would surface. No HTTP layer in this module consumes it directly.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case InvalidInput:
		return 400
	case NotFound:
		return 404
	case InvalidOperation:
		return 409
	case InsufficientStock:
		return 409
	case PaymentDeclined:
		return 402
	case ExternalService:
		return 502
	case RateLimited:
		return 429
	default:
		return 500
	}
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

func WithParam(kind Kind, code, message, param string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Param: param}
}

func Invalid(code, message, param string) *Error {
	return &Error{Kind: InvalidInput, Code: code, Message: message, Param: param}
}

func NotFoundf(code, message string) *Error {
	return &Error{Kind: NotFound, Code: code, Message: message}
}

func InvalidOp(code, message string) *Error {
	return &Error{Kind: InvalidOperation, Code: code, Message: message}
}

func InsufficientStockf(code, message string) *Error {
	return &Error{Kind: InsufficientStock, Code: code, Message: message}
}

func Declined(code, message string) *Error {
	return &Error{Kind: PaymentDeclined, Code: code, Message: message}
}

func External(code, message string, cause error) *Error {
	return &Error{Kind: ExternalService, Code: code, Message: message, Retryable: true, Cause: cause}
}

func RateLimitedf(code, message string) *Error {
	return &Error{Kind: RateLimited, Code: code, Message: message, Retryable: true}
}

func Internalf(code, message string, cause error) *Error {
	return &Error{Kind: Internal, Code: code, Message: message, Cause: cause}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	ae, ok := err.(*Error)
	return ok && ae.Kind == kind
}
