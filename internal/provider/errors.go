package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors shared by every provider. Use errors.Is to check.
var (
	ErrAuth             = errors.New("provider: authentication failed")
	ErrRateLimited      = errors.New("provider: rate limited")
	ErrNotFound         = errors.New("provider: not found")
	ErrNetwork          = errors.New("provider: network error")
	ErrQuotaExceeded    = errors.New("provider: quota exceeded")
	ErrChecksumMismatch = errors.New("provider: checksum mismatch")
	ErrUnsupported      = errors.New("provider: operation not supported")
	ErrStopList         = errors.New("provider: stop listing")
)

// RateLimitError carries the provider's suggested backoff.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider: rate limited (retry after %s): %s", e.RetryAfter, e.Message)
	}

	return "provider: rate limited: " + e.Message
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// APIError wraps a taxonomy sentinel with the HTTP details of the failed call.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// ClassifyStatus maps an HTTP status code onto the error taxonomy.
// Returns nil for codes that do not belong to any class.
func ClassifyStatus(code int) error {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuth
	case http.StatusNotFound, http.StatusGone:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusInsufficientStorage:
		return ErrQuotaExceeded
	case http.StatusRequestTimeout:
		return ErrNetwork
	default:
		// 509 Bandwidth Limit Exceeded (SharePoint).
		const statusBandwidthExceeded = 509
		if code == statusBandwidthExceeded {
			return ErrRateLimited
		}

		if code >= http.StatusInternalServerError {
			return ErrNetwork
		}

		return nil
	}
}

// StatusError builds the error for a non-success response. Rate-limited
// responses become a *RateLimitError honoring the Retry-After header.
// A 403 is read by its reason: Google APIs report throttling and storage
// quota that way, and only the remaining 403s are authorization failures.
func StatusError(name string, resp *http.Response, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}

	sentinel := ClassifyStatus(resp.StatusCode)
	if resp.StatusCode == http.StatusForbidden {
		sentinel = classifyForbidden(msg)
	}

	if errors.Is(sentinel, ErrRateLimited) {
		return &APIError{
			Provider:   name,
			StatusCode: resp.StatusCode,
			Message:    msg,
			Err: &RateLimitError{
				RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
				Message:    msg,
			},
		}
	}

	if sentinel == nil {
		sentinel = errRequestFailed
	}

	return &APIError{Provider: name, StatusCode: resp.StatusCode, Message: msg, Err: sentinel}
}

var errRequestFailed = errors.New("provider: request failed")

const maxErrorBody = 512

// classifyForbidden maps a 403 body onto the taxonomy. Storage reasons are
// checked first because rate-limit messages may also mention "quota".
func classifyForbidden(msg string) error {
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "storagequotaexceeded"), strings.Contains(lower, "storagelimitexceeded"):
		return ErrQuotaExceeded
	case strings.Contains(lower, "ratelimitexceeded"), strings.Contains(lower, "usagelimits"):
		// rateLimitExceeded, userRateLimitExceeded and the usageLimits domain.
		return ErrRateLimited
	case strings.Contains(lower, "quota"):
		return ErrQuotaExceeded
	default:
		return ErrAuth
	}
}

// ParseRetryAfter accepts both delta-seconds and HTTP-date forms.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}

	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}

	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}

	return 0
}

// RetryAfter extracts the provider-suggested delay from err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter, true
	}

	return 0, false
}

// IsRetryable reports whether err belongs to a transient class.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrNetwork)
}

// IsFatal reports whether err must stop the whole run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrQuotaExceeded)
}

// NetworkError marks a transport-level failure as retryable.
func NetworkError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrNetwork, err)
}
