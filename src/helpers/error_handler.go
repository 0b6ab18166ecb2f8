package helpers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

type QueueSyncError struct {
	Message string
	Cause   error
}

func (e *QueueSyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *QueueSyncError) Unwrap() error {
	return e.Cause
}

// Distinct error kinds for errors.As
type ConfigurationError struct{ QueueSyncError }
type ConnectivityError struct{ QueueSyncError }
type DatabaseError struct{ QueueSyncError }

// SelectionError is a local precondition failure; no request was sent.
type SelectionError struct{ QueueSyncError }

// RequestError is a failed preview or submit call.
type RequestError struct {
	QueueSyncError
	Status int
	Detail string
}

// AuthError is a 401/403 from the backend. Callers redirect to sign-in.
type AuthError struct {
	RequestError
}

// -----------------------------------------------------------------------------
// Sentinels
// -----------------------------------------------------------------------------

var (
	ErrIncompleteSelection = &SelectionError{QueueSyncError{Message: "selection needs a date, at least one service and a queue"}}
	ErrPastDate            = &SelectionError{QueueSyncError{Message: "selected date is in the past"}}
	ErrQueueUnavailable    = &SelectionError{QueueSyncError{Message: "selected queue is no longer available"}}
	ErrSubmitInProgress    = &SelectionError{QueueSyncError{Message: "a booking request is already in flight"}}

	ErrRateLimited            = errors.New("refresh rate limit exceeded")
	ErrPersistentConnectivity = &ConnectivityError{QueueSyncError{Message: "live updates unavailable, reconnect attempts exhausted"}}
)

const genericRequestFailure = "request failed, please try again"

// -----------------------------------------------------------------------------

// NewRequestError builds a typed failure from a status code and a detail
// message. An empty detail falls back to a generic message.
func NewRequestError(status int, detail string, cause error) error {
	if detail == "" {
		detail = genericRequestFailure
	}
	re := RequestError{
		QueueSyncError: QueueSyncError{Message: detail, Cause: cause},
		Status:         status,
		Detail:         detail,
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return &AuthError{RequestError: re}
	}
	return &re
}

// -----------------------------------------------------------------------------

// ClassifyStatus maps a non-2xx response to a typed error, preferring the
// server's "detail" (or "message"/"error") field.
func ClassifyStatus(status int, body []byte) error {
	return NewRequestError(status, ExtractDetail(body), nil)
}

// -----------------------------------------------------------------------------

// ExtractDetail pulls a human-readable message out of an error body.
func ExtractDetail(body []byte) string {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}

	for _, key := range []string{"detail", "message", "error"} {
		switch v := payload[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case []interface{}:
			// validation errors: [{"msg": "..."}]
			var parts []string
			for _, item := range v {
				if m, ok := item.(map[string]interface{}); ok {
					if msg, ok := m["msg"].(string); ok {
						parts = append(parts, msg)
					}
				}
			}
			if len(parts) > 0 {
				return strings.Join(parts, "; ")
			}
		}
	}
	return ""
}

// -----------------------------------------------------------------------------

// IsAuthError reports whether err requires the user to re-authenticate.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// -----------------------------------------------------------------------------
// Retry Logic
// -----------------------------------------------------------------------------

// Backoff returns min(initial * 2^(attempt-1), max) for a 1-based attempt.
func Backoff(attempt int, initial, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max || delay <= 0 {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// -----------------------------------------------------------------------------

// RetryWithBackoff runs fn up to maxRetries+1 times, sleeping with
// exponential backoff between attempts. Errors for which retryable returns
// false are returned immediately.
func RetryWithBackoff(ctx context.Context, maxRetries int, baseDelay time.Duration, retryable func(error) bool, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := Backoff(attempt, baseDelay, 30*time.Second)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
	}

	return lastErr
}
