package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

type ErrorKind string

const (
	ErrorKindTimeout          ErrorKind = "timeout"
	ErrorKindCanceled         ErrorKind = "canceled"
	ErrorKindConnection       ErrorKind = "connection"
	ErrorKindHTTPStatus       ErrorKind = "http_status"
	ErrorKindDecode           ErrorKind = "decode"
	ErrorKindUnexpectedFormat ErrorKind = "unexpected_format"
)

// Error is returned for every failed generateContent call. Body is truncated
// for logging; Raw holds the full body of a well-formed JSON response that
// had an unexpected shape.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Body       string
	Raw        json.RawMessage
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrorKindHTTPStatus:
		return fmt.Sprintf("gemini: HTTP %d: %s", e.StatusCode, e.Body)
	case ErrorKindUnexpectedFormat:
		return "gemini: unexpected response format"
	}
	if e.Err != nil {
		return fmt.Sprintf("gemini: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("gemini: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether repeating the same request may succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case ErrorKindTimeout, ErrorKindConnection:
		return true
	case ErrorKindHTTPStatus:
		return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
	}
	return false
}

// KindOf returns the kind of a gemini error, or "" for other errors.
func KindOf(err error) ErrorKind {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return ""
}

func classifyTransportError(ctx context.Context, err error) *Error {
	// url.Error carries the full request URL; keep only the cause.
	var uerr *url.Error
	if errors.As(err, &uerr) {
		err = uerr.Err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: ErrorKindTimeout, Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return &Error{Kind: ErrorKindCanceled, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: ErrorKindTimeout, Err: err}
	}
	return &Error{Kind: ErrorKindConnection, Err: err}
}
