package domain

import (
	"net/http"
)

// ErrorCode classifies an API-facing failure.
type ErrorCode int

const (
	ErrorCodeInternalProcess ErrorCode = iota
	ErrorCodeParameterInvalid
	ErrorCodeResourceNotFound
	ErrorCodeAuthPermissionDenied
	ErrorCodeAuthNotAuthenticated
	ErrorCodeRemoteProcess
)

// DomainError carries a classified error code, a client-safe message and
// optional structured detail alongside the wrapped cause.
type DomainError struct {
	code      ErrorCode
	err       error
	clientMsg string
	detail    map[string]interface{}
}

// Option mutates a DomainError during construction.
type Option func(*DomainError)

// WithMsg sets the client-facing message.
func WithMsg(msg string) Option {
	return func(e *DomainError) { e.clientMsg = msg }
}

// WithDetail attaches structured detail for the response body.
func WithDetail(detail map[string]interface{}) Option {
	return func(e *DomainError) { e.detail = detail }
}

// NewError wraps err with a code and options.
func NewError(code ErrorCode, err error, opts ...Option) DomainError {
	e := DomainError{code: code, err: err}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

func (e DomainError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return e.clientMsg
}

func (e DomainError) Unwrap() error { return e.err }

// Name returns the stable identifier used in response code mapping.
func (e DomainError) Name() string {
	switch e.code {
	case ErrorCodeParameterInvalid:
		return "PARAMETER_INVALID"
	case ErrorCodeResourceNotFound:
		return "RESOURCE_NOT_FOUND"
	case ErrorCodeAuthPermissionDenied:
		return "AUTH_PERMISSION_DENIED"
	case ErrorCodeAuthNotAuthenticated:
		return "AUTH_NOT_AUTHENTICATED"
	case ErrorCodeRemoteProcess:
		return "REMOTE_PROCESS_ERROR"
	default:
		return "INTERNAL_PROCESS"
	}
}

// ClientMsg returns the message safe to surface to API clients.
func (e DomainError) ClientMsg() string { return e.clientMsg }

// Detail returns structured error detail, nil when absent.
func (e DomainError) Detail() map[string]interface{} { return e.detail }

// HTTPStatus maps the code to a response status.
func (e DomainError) HTTPStatus() int {
	switch e.code {
	case ErrorCodeParameterInvalid:
		return http.StatusBadRequest
	case ErrorCodeResourceNotFound:
		return http.StatusNotFound
	case ErrorCodeAuthPermissionDenied:
		return http.StatusForbidden
	case ErrorCodeAuthNotAuthenticated:
		return http.StatusUnauthorized
	case ErrorCodeRemoteProcess:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
