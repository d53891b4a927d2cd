package storyblok

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrUnauthorized means the token was rejected or lacks access to the space.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound means the space, story or asset does not exist.
	ErrNotFound = errors.New("not found")
)

// NetworkError is a transport failure or a 5xx response. Retriable.
type NetworkError struct {
	Method  string
	URL     string
	Wrapped error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error on %s %s: %v", e.Method, e.URL, e.Wrapped)
}

func (e *NetworkError) Unwrap() error {
	return e.Wrapped
}

// RateLimitError is a 429 response. Retriable after RetryAfter when known.
type RateLimitError struct {
	URL        string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited on %s, retry after %v", e.URL, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited on %s", e.URL)
}

// APIError is any other non-2xx response.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s %s: HTTP %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Unwrap lets errors.Is match ErrUnauthorized and ErrNotFound.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return nil
	}
}

// ParseError indicates a response body that could not be decoded
type ParseError struct {
	URL     string
	Message string
	Wrapped error
}

func (e *ParseError) Error() string {
	if e.Wrapped == nil {
		return fmt.Sprintf("failed to parse response from %s: %s", e.URL, e.Message)
	}
	return fmt.Sprintf("failed to parse %s response from %s: %v", e.Message, e.URL, e.Wrapped)
}

func (e *ParseError) Unwrap() error {
	return e.Wrapped
}

// IsRetriable reports whether a request may succeed when repeated.
func IsRetriable(err error) bool {
	var netErr *NetworkError
	var rlErr *RateLimitError
	return errors.As(err, &netErr) || errors.As(err, &rlErr)
}
