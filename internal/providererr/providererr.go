// Package providererr classifies failures from AI provider backends into a closed set of error kinds.
package providererr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// Kind is the classified category of a provider failure.
type Kind string

const (
	KindAPIKeyMissing        Kind = "API_KEY_MISSING"
	KindAPIUnavailable       Kind = "API_UNAVAILABLE"
	KindRateLimitExceeded    Kind = "RATE_LIMIT_EXCEEDED"
	KindInvalidRequest       Kind = "INVALID_REQUEST"
	KindResponseParsingError Kind = "RESPONSE_PARSING_ERROR"
	KindNetworkError         Kind = "NETWORK_ERROR"
	KindUnknownError         Kind = "UNKNOWN_ERROR"
)

// Sentinel causes recognized by Classify.
var (
	// ErrMissingAPIKey marks a call attempted without credentials.
	ErrMissingAPIKey = errors.New("api key is required")
	// ErrMalformedResponse marks a 2xx response whose body could not be used.
	ErrMalformedResponse = errors.New("malformed response body")
)

// Error is a classified provider failure.
type Error struct {
	Kind     Kind
	Provider string
	Message  string
	Cause    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Provider, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a classified error without a cause.
func New(kind Kind, provider, message string) *Error {
	return &Error{Kind: kind, Provider: provider, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, provider, format string, args ...any) *Error {
	return New(kind, provider, fmt.Sprintf(format, args...))
}

// StatusError is a non-success HTTP response captured from a vendor endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	status := http.StatusText(e.StatusCode)
	if status == "" {
		status = "status"
	}
	if e.Body == "" {
		return fmt.Sprintf("%d %s", e.StatusCode, status)
	}
	return fmt.Sprintf("%d %s: %s", e.StatusCode, status, e.Body)
}

// KindForStatus maps an HTTP status code to an error kind.
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimitExceeded
	case status >= 400 && status < 500:
		return KindInvalidRequest
	case status >= 500 && status < 600:
		return KindAPIUnavailable
	case status >= 200 && status < 300:
		// A failure reported alongside a success status means the body was unusable.
		return KindResponseParsingError
	default:
		return KindUnknownError
	}
}

// Classify maps any failure to a classified *Error. It never returns nil for a non-nil err.
func Classify(provider string, err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		if classified.Provider == "" && provider != "" {
			out := *classified
			out.Provider = provider
			return &out
		}
		return classified
	}

	return &Error{
		Kind:     classifyKind(err),
		Provider: provider,
		Message:  err.Error(),
		Cause:    err,
	}
}

// KindOf returns the kind of a classified error, or UNKNOWN_ERROR.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindUnknownError
}

// Is reports whether err is a classified error of the given kind.
func Is(err error, kind Kind) bool {
	var classified *Error
	return errors.As(err, &classified) && classified.Kind == kind
}

func classifyKind(err error) Kind {
	if errors.Is(err, ErrMissingAPIKey) {
		return KindAPIKeyMissing
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return KindForStatus(statusErr.StatusCode)
	}

	if errors.Is(err, ErrMalformedResponse) || errors.Is(err, io.ErrUnexpectedEOF) {
		return KindResponseParsingError
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return KindResponseParsingError
	}

	// No response reached the transport.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindNetworkError
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return KindNetworkError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetworkError
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindNetworkError
	}
	if strings.Contains(strings.ToLower(err.Error()), "connection refused") {
		return KindNetworkError
	}

	return KindUnknownError
}
