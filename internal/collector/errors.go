package collector

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/baebong3/fruitbasket-legal/internal/model"
)

// NetworkError is a transient failure: connection error, timeout, 429 or 5xx.
type NetworkError struct {
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ClientError is a terminal rejection of a request: HTTP 4xx or an API-level
// error result code.
type ClientError struct {
	StatusCode int
	ResultCode string
	Message    string
}

func (e *ClientError) Error() string {
	if e.ResultCode != "" {
		return fmt.Sprintf("client error: result code %s: %s", e.ResultCode, e.Message)
	}
	return fmt.Sprintf("client error: status %d: %s", e.StatusCode, e.Message)
}

// MalformedResponseError means the body did not decode into the expected envelope.
type MalformedResponseError struct {
	Page int
	Err  error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response for page %d: %v", e.Page, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// IsRetryable reports whether err should be retried.
func IsRetryable(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsTransientHTTPStatus reports whether an HTTP status is worth retrying.
func IsTransientHTTPStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// FailureKind maps a page error to the kind counted in the run report.
func FailureKind(err error) model.PageFailureKind {
	var ce *ClientError
	var me *MalformedResponseError
	switch {
	case errors.As(err, &ce):
		return model.PageClient
	case errors.As(err, &me):
		return model.PageMalformed
	default:
		return model.PageNetwork
	}
}
