package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

var (
	// ErrEmptyTurn is returned when a turn has neither text nor images.
	ErrEmptyTurn = errors.New("message content cannot be empty")

	// ErrAuthExpired matches every error caused by stale cookies or tokens.
	ErrAuthExpired = errors.New("gemini credentials expired or invalid")

	errBodyRead = errors.New("response body interrupted")
)

const authRemediation = "re-login at https://gemini.google.com and refresh __Secure-1PSID, __Secure-1PSIDTS, SNlM0e and push_id"

// AuthExpiredError reports stale credentials detected during a request stage.
type AuthExpiredError struct {
	Stage      string
	StatusCode int
	Detail     string
}

func (e *AuthExpiredError) Error() string {
	msg := "gemini " + e.Stage + ": credentials expired"
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg + "; " + authRemediation
}

func (e *AuthExpiredError) Is(target error) bool {
	return target == ErrAuthExpired
}

// TransientNetworkError is returned once connection-level retries run out.
type TransientNetworkError struct {
	Attempts int
	Err      error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("network connection failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransientNetworkError) Unwrap() error {
	return e.Err
}

// UpstreamHTTPError is a non-2xx response from the service. It is never
// retried.
type UpstreamHTTPError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamHTTPError) Error() string {
	return fmt.Sprintf("upstream returned HTTP %d", e.StatusCode)
}

// Is lets 401/403 responses match ErrAuthExpired.
func (e *UpstreamHTTPError) Is(target error) bool {
	return target == ErrAuthExpired &&
		(e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden)
}

// isTransient reports whether err is a connection-level failure worth
// retrying. HTTP status errors, cancellation and timeouts are not.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *UpstreamHTTPError
	if errors.As(err, &httpErr) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	for _, target := range []error{
		syscall.ECONNRESET,
		syscall.ECONNABORTED,
		syscall.ECONNREFUSED,
		syscall.EPIPE,
		io.ErrUnexpectedEOF,
		io.EOF,
		errBodyRead,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return !opErr.Timeout()
	}
	return false
}
