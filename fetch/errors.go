package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrTimeout indicates a fetch attempt exceeded its hard timeout.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrHTTP indicates a non-success HTTP status.
type ErrHTTP struct {
	Status int
	Err    error
}

func (e ErrHTTP) Error() string {
	return fmt.Sprintf("http status %d", e.Status)
}

func (e ErrHTTP) Unwrap() error {
	return e.Err
}

// Classify wraps a raw transport failure in the matching typed error.
func Classify(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode >= 400 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		return ErrHTTP{Status: statusCode, Err: wrapped}
	}

	if err == nil {
		return nil
	}
	return ErrConnection{Err: err}
}

// Label maps a transport error to a stable metrics label.
func Label(err error) string {
	if err == nil {
		return "none"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var httpErr ErrHTTP
	if errors.As(err, &httpErr) {
		return "http_error"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	return "other"
}

// IsTransport reports whether err is one of the transport error kinds.
func IsTransport(err error) bool {
	var timeout ErrTimeout
	var conn ErrConnection
	var httpErr ErrHTTP
	return errors.As(err, &timeout) || errors.As(err, &conn) || errors.As(err, &httpErr)
}
