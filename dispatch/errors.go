package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

// ErrQuotaExhausted signals that no selected sender account has remaining
// daily quota. The orchestrator treats it as a skip, not a failure of a
// downstream service.
var ErrQuotaExhausted = errors.New("all sender accounts have exhausted their daily quota")

// ValidationError is a precondition violation. It is fatal to the whole run
// and raised before any network call is made.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Message)
}

// NetworkError is a connectivity-class failure: the request never produced an
// HTTP response. This is the class that triggers the proxy relay fallback.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error calling %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError is a request that exceeded its deadline. Treated as
// network-class for the proxy fallback decision.
type TimeoutError struct {
	URL     string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request to %s timed out after %s", e.URL, e.Timeout)
}

// HTTPStatusError is a completed request that returned a non-2xx status. It
// is not network-class: the endpoint is reachable, so no proxy retry.
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d", e.URL, e.StatusCode)
}

// ContentShapeError is a webhook response that arrived but did not contain
// the required {subject, body} string fields. Never retried.
type ContentShapeError struct {
	Reason string
}

func (e *ContentShapeError) Error() string {
	return fmt.Sprintf("malformed webhook response: %s", e.Reason)
}

// classifyTransportError maps an error returned by http.Client.Do to the
// typed taxonomy so callers can pattern-match instead of sniffing message
// strings.
func classifyTransportError(err error, targetURL string, timeout time.Duration) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{URL: targetURL, Timeout: timeout}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{URL: targetURL, Timeout: timeout}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &NetworkError{URL: targetURL, Err: urlErr.Err}
	}
	return &NetworkError{URL: targetURL, Err: err}
}

// isNetworkClass reports whether err warrants the one-shot proxy relay
// retry: connectivity failures and timeouts qualify, HTTP status and content
// shape errors do not.
func isNetworkClass(err error) bool {
	var ne *NetworkError
	var te *TimeoutError
	return errors.As(err, &ne) || errors.As(err, &te)
}
