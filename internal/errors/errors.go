// Package errors provides error handling utilities.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Type identifies the category of error
type Type string

const (
	// TypeInvalidRequest indicates a malformed or incomplete calculation request
	TypeInvalidRequest Type = "INVALID_REQUEST"

	// TypeInvalidFormula indicates a formula that does not parse or evaluate
	TypeInvalidFormula Type = "INVALID_FORMULA"

	// TypeUnknownVariable indicates a formula referencing a variable missing from the context
	TypeUnknownVariable Type = "UNKNOWN_VARIABLE"

	// TypeDivisionByZero indicates a formula dividing by zero
	TypeDivisionByZero Type = "DIVISION_BY_ZERO"

	// TypeOperationNotConfigured indicates a missing or inactive operation norm
	TypeOperationNotConfigured Type = "OPERATION_NOT_CONFIGURED"

	// TypeServiceUnavailable indicates a missing or inactive service
	TypeServiceUnavailable Type = "SERVICE_UNAVAILABLE"

	// TypeMissingSpecification indicates a mandatory specification field was not supplied
	TypeMissingSpecification Type = "MISSING_SPECIFICATION"

	// TypeUnsupportedSpecification indicates a specification value the catalog cannot serve
	TypeUnsupportedSpecification Type = "UNSUPPORTED_SPECIFICATION"

	// TypeInvalidQuantity indicates a non-positive quantity anywhere in the pipeline
	TypeInvalidQuantity Type = "INVALID_QUANTITY"

	// TypeCurrencyMismatch indicates catalog entries priced in different currencies
	TypeCurrencyMismatch Type = "CURRENCY_MISMATCH"

	// TypeConfig indicates a configuration error
	TypeConfig Type = "CONFIG_ERROR"

	// TypeNotFound indicates a resource not found error
	TypeNotFound Type = "NOT_FOUND"

	// TypeInternal indicates an internal error
	TypeInternal Type = "INTERNAL_ERROR"
)

// Class groups error types by who can fix them.
type Class string

const (
	// ClassUser errors are correctable by the caller (400-class).
	ClassUser Class = "user"

	// ClassConfiguration errors come from admin-authored catalog data (500-class).
	ClassConfiguration Class = "configuration"

	// ClassInternal errors are everything else.
	ClassInternal Class = "internal"
)

// Class returns the class of the error type
func (t Type) Class() Class {
	switch t {
	case TypeInvalidRequest, TypeMissingSpecification, TypeUnsupportedSpecification, TypeInvalidQuantity, TypeNotFound:
		return ClassUser
	case TypeInvalidFormula, TypeUnknownVariable, TypeDivisionByZero,
		TypeOperationNotConfigured, TypeServiceUnavailable, TypeCurrencyMismatch, TypeConfig:
		return ClassConfiguration
	default:
		return ClassInternal
	}
}

// HTTPStatus maps the error type to a response status
func (t Type) HTTPStatus() int {
	switch {
	case t == TypeNotFound:
		return http.StatusNotFound
	case t.Class() == ClassUser:
		return http.StatusBadRequest
	case t.Class() == ClassConfiguration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error represents a domain error with context
type Error struct {
	Type    Type                   `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if the error is of a specific type
func (e *Error) Is(t Type) bool {
	return e.Type == t
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// With returns a copy of the error carrying an extra context entry. Use it on
// errors that may be shared, such as cached formula parse errors.
func (e *Error) With(key string, value interface{}) *Error {
	out := *e
	out.Context = make(map[string]interface{}, len(e.Context)+1)
	for k, v := range e.Context {
		out.Context[k] = v
	}
	out.Context[key] = value
	return &out
}

// New creates a new error
func New(errType Type, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// Newf creates a new formatted error
func Newf(errType Type, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with context
func Wrap(errType Type, message string, cause error) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Cause:   cause,
	}
}

// Wrapf wraps an error with formatted context
func Wrapf(errType Type, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// As returns the first *Error in err's chain
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// TypeOf returns the type of the first *Error in err's chain, or TypeInternal
func TypeOf(err error) Type {
	if e, ok := As(err); ok {
		return e.Type
	}
	return TypeInternal
}

// IsType checks if an error is of a specific type
func IsType(err error, t Type) bool {
	if e, ok := As(err); ok {
		return e.Type == t
	}
	return false
}

// InvalidRequest creates a request validation error
func InvalidRequest(message string) *Error {
	return New(TypeInvalidRequest, message)
}

// InvalidFormula creates a formula syntax error at a byte position
func InvalidFormula(position int, reason string) *Error {
	return Newf(TypeInvalidFormula, "invalid formula at position %d: %s", position, reason).
		WithContext("position", position).
		WithContext("reason", reason)
}

// UnknownVariable creates an unknown formula variable error
func UnknownVariable(name string) *Error {
	return Newf(TypeUnknownVariable, "unknown variable %q", name).WithContext("variable", name)
}

// DivisionByZero creates a formula division by zero error
func DivisionByZero() *Error {
	return New(TypeDivisionByZero, "division by zero")
}

// OperationNotConfigured creates an error for a missing operation norm
func OperationNotConfigured(productType, operation string) *Error {
	return Newf(TypeOperationNotConfigured, "operation %q is not configured for product %q", operation, productType).
		WithContext("product_type", productType).
		WithContext("operation", operation)
}

// ServiceUnavailable creates an error for a missing or inactive service
func ServiceUnavailable(serviceID string) *Error {
	return Newf(TypeServiceUnavailable, "service %q is unavailable", serviceID).WithContext("service_id", serviceID)
}

// MissingSpecification creates an error for an absent specification field
func MissingSpecification(field string) *Error {
	return Newf(TypeMissingSpecification, "specification field %q is required", field).WithContext("field", field)
}

// UnsupportedSpecification creates an error for a specification value the catalog cannot price
func UnsupportedSpecification(field string, value interface{}) *Error {
	return Newf(TypeUnsupportedSpecification, "unsupported value %v for specification field %q", value, field).
		WithContext("field", field).
		WithContext("value", value)
}

// InvalidQuantity creates a non-positive quantity error
func InvalidQuantity(what string, quantity float64) *Error {
	return Newf(TypeInvalidQuantity, "%s must be positive, got %v", what, quantity).WithContext("quantity", quantity)
}

// CurrencyMismatch creates an error for a catalog entry priced in a foreign currency
func CurrencyMismatch(ref, got, want string) *Error {
	return Newf(TypeCurrencyMismatch, "%s is priced in %s, expected %s", ref, got, want)
}

// Config creates a configuration error
func Config(message string, cause error) *Error {
	return Wrap(TypeConfig, message, cause)
}

// NotFound creates a not found error
func NotFound(resourceType, identifier string) *Error {
	return Newf(TypeNotFound, "%s not found: %s", resourceType, identifier)
}

// Internal creates an internal error
func Internal(message string, cause error) *Error {
	return Wrap(TypeInternal, message, cause)
}
