package api

import (
	"errors"
	"fmt"
)

// Gateway failure classes. Every call resolves to exactly one of these so
// the sync engine can pick a retry policy without inspecting the transport.
var (
	// ErrNetwork is a transport-level failure. Safe to retry later.
	ErrNetwork = errors.New("network unavailable")

	// ErrDecoding means the response shape did not match. Never retried; the
	// payload is treated as permanently unprocessable.
	ErrDecoding = errors.New("response decoding failed")

	// ErrNotAuthenticated means no credential is stored. Raised before any
	// network call is attempted.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// HTTPError is a non-2xx response. The caller decides the retry policy
// based on the status code.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("http %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("http %d", e.Status)
}

// IsRetryable reports whether the failure should be retried on a later
// sync pass. Decoding failures and client-side 4xx rejections are permanent.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrNetwork) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status >= 500
	}
	return false
}
