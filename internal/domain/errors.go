/**
 * @description
 * This file defines the error taxonomy shared by the validators, the linking
 * orchestrator and the balance synchronizer. Every provider specific failure is
 * normalized into a ValidationError before it leaves those components.
 *
 * @notes
 * - Diagnostic carries the raw provider response for logs only. It is never written
 *   to an HTTP response.
 * - ToServiceError converts the taxonomy into a go-errors envelope used by the API layer.
 */
package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// ErrorKind classifies a failure independently of the provider that produced it.
type ErrorKind string

const (
	ErrInvalidInput        ErrorKind = "INVALID_INPUT"
	ErrInvalidCredentials  ErrorKind = "INVALID_CREDENTIALS"
	ErrForbidden           ErrorKind = "FORBIDDEN"
	ErrRateLimited         ErrorKind = "RATE_LIMITED"
	ErrServiceUnavailable  ErrorKind = "SERVICE_UNAVAILABLE"
	ErrNetwork             ErrorKind = "NETWORK_ERROR"
	ErrTimeout             ErrorKind = "TIMEOUT"
	ErrUnsupportedProvider ErrorKind = "UNSUPPORTED_PROVIDER"
	ErrPermissionDenied    ErrorKind = "PERMISSION_DENIED"
	ErrNotFound            ErrorKind = "NOT_FOUND"
	ErrInternal            ErrorKind = "INTERNAL_ERROR"
)

// HTTPStatus is the default response code for the kind.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case ErrInvalidInput, ErrUnsupportedProvider:
		return http.StatusBadRequest
	case ErrInvalidCredentials:
		return http.StatusUnauthorized
	case ErrForbidden, ErrPermissionDenied:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrServiceUnavailable:
		return http.StatusServiceUnavailable
	case ErrNetwork:
		return http.StatusBadGateway
	case ErrTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (k ErrorKind) category() goerrors.Category {
	switch k {
	case ErrInvalidInput, ErrUnsupportedProvider:
		return goerrors.CategoryBadInput
	case ErrInvalidCredentials:
		return goerrors.CategoryAuth
	case ErrForbidden, ErrPermissionDenied:
		return goerrors.CategoryAuthz
	case ErrNotFound:
		return goerrors.CategoryNotFound
	case ErrRateLimited:
		return goerrors.CategoryRateLimit
	case ErrServiceUnavailable, ErrNetwork, ErrTimeout:
		return goerrors.CategoryExternal
	default:
		return goerrors.CategoryInternal
	}
}

// ValidationError is the normalized failure returned by validators and services.
type ValidationError struct {
	Kind       ErrorKind
	Provider   Provider
	Message    string
	Diagnostic string
	Cause      error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(string(e.Provider))
		b.WriteString(": ")
	}
	b.WriteString(strings.ToLower(string(e.Kind)))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// ToServiceError builds the go-errors envelope written by the API layer.
func (e *ValidationError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{"kind": string(e.Kind)}
	if e.Provider != "" {
		metadata["provider"] = string(e.Provider)
	}
	return goerrors.New(e.Message, e.Kind.category()).
		WithCode(e.Kind.HTTPStatus()).
		WithTextCode(string(e.Kind)).
		WithMetadata(metadata)
}

// NewError builds a ValidationError with a formatted message.
func NewError(kind ErrorKind, provider Provider, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Provider: provider, Message: fmt.Sprintf(format, args...)}
}

// WrapTransportError classifies a failed outbound call as Timeout or NetworkError.
func WrapTransportError(provider Provider, err error) *ValidationError {
	if err == nil {
		return nil
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ValidationError{Kind: ErrTimeout, Provider: provider, Message: "provider did not respond in time", Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ValidationError{Kind: ErrTimeout, Provider: provider, Message: "provider did not respond in time", Cause: err}
	}
	return &ValidationError{Kind: ErrNetwork, Provider: provider, Message: "could not reach provider", Cause: err}
}

// KindOf extracts the ErrorKind of err, defaulting to InternalError.
func KindOf(err error) ErrorKind {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Kind
	}
	return ErrInternal
}
