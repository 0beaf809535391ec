// Package aierrors classifies upstream failures into a small taxonomy (Auth,
// RateLimit, QuotaExhausted, EndpointError, ClientProtocol, Internal) and
// parses server-provided retry hints out of error bodies, using
// errors.As-based sentinel types and regexp-based string matching.
package aierrors

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Kind is the coarse classification of an upstream failure.
type Kind string

const (
	KindAuth           Kind = "auth"
	KindRateLimit      Kind = "rate_limit"
	KindQuotaExhausted Kind = "quota_exhausted"
	KindEndpointError  Kind = "endpoint_error"
	KindClientProtocol Kind = "client_protocol"
	KindInternal       Kind = "internal"
)

// UpstreamError carries the raw HTTP status/body from a failed upstream
// call plus its classification.
type UpstreamError struct {
	StatusCode int
	Body       string
	Kind       Kind
}

func (e *UpstreamError) Error() string {
	return "upstream error: status=" + strconv.Itoa(e.StatusCode) + " kind=" + string(e.Kind)
}

// NonFallbackError marks an error as ineligible for model fallback — used
// once partial output has already reached the client on a stream.
type NonFallbackError struct {
	Err error
}

func (e *NonFallbackError) Error() string { return e.Err.Error() }
func (e *NonFallbackError) Unwrap() error { return e.Err }

// Classify assigns a Kind to a raw (status, body) upstream response pair.
func Classify(statusCode int, body string) Kind {
	lower := strings.ToLower(body)
	if statusCode == 429 || strings.Contains(lower, "resource_exhausted") {
		if strings.Contains(lower, "quota_exhausted") || strings.Contains(lower, "quota") {
			return KindQuotaExhausted
		}
		return KindRateLimit
	}
	if statusCode == 401 || statusCode == 403 ||
		strings.Contains(lower, "invalid_grant") || strings.Contains(lower, "unauthorized") {
		return KindAuth
	}
	if statusCode == 500 || statusCode == 503 || statusCode == 529 {
		return KindEndpointError
	}
	if statusCode >= 400 && statusCode < 500 {
		return KindClientProtocol
	}
	if statusCode == 0 {
		// Network-level failure with no status: treated as endpoint error so
		// the upstream client can advance to the next endpoint.
		return KindEndpointError
	}
	return KindInternal
}

// IsRetryableOnAnotherEndpoint reports whether the upstream client should
// advance to the next configured endpoint.
func IsRetryableOnAnotherEndpoint(statusCode int) bool {
	switch statusCode {
	case 429, 500, 503, 529, 0:
		return true
	default:
		return false
	}
}

// --- server-hint retry-delay parsing ---

var retryTextPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)try again in (\d+)m\s*(\d+(?:\.\d+)?)s`),
	regexp.MustCompile(`(?i)try again in (\d+(?:\.\d+)?)s`),
	regexp.MustCompile(`(?i)retry after (\d+(?:\.\d+)?)\s*seconds?`),
	regexp.MustCompile(`(?i)wait (\d+(?:\.\d+)?)s`),
}

// ParseRetryHintMillis inspects an upstream error body for a structured
// retry duration, checking retryDelay, quotaResetDelay, then retry_after
// (all JSON fields, gjson-probed without decoding the whole body), falling
// back to a small set of regex patterns over the free-text message.
// Returns (millis, true) on a hit, (0, false) on a miss.
func ParseRetryHintMillis(body string) (int64, bool) {
	for _, field := range []string{"retryDelay", "error.retryDelay", "quotaResetDelay", "error.quotaResetDelay", "retry_after", "error.retry_after"} {
		if v := gjson.Get(body, field); v.Exists() {
			if ms, ok := durationFieldToMillis(v); ok {
				return ms, true
			}
		}
	}

	lower := strings.ToLower(body)
	if m := retryTextPatterns[0].FindStringSubmatch(lower); m != nil {
		mins, _ := strconv.ParseFloat(m[1], 64)
		secs, _ := strconv.ParseFloat(m[2], 64)
		return int64((mins*60 + secs) * 1000), true
	}
	for _, re := range retryTextPatterns[1:] {
		if m := re.FindStringSubmatch(lower); m != nil {
			secs, _ := strconv.ParseFloat(m[1], 64)
			return int64(secs * 1000), true
		}
	}
	return 0, false
}

// durationFieldToMillis interprets a gjson value that may be a bare number
// of seconds (retry_after-style) or a protobuf Duration string like "12s"
// or "1.5s" (retryDelay-style, as Google APIs emit it).
func durationFieldToMillis(v gjson.Result) (int64, bool) {
	switch v.Type {
	case gjson.Number:
		return int64(v.Float() * 1000), true
	case gjson.String:
		s := strings.TrimSpace(v.String())
		if strings.HasSuffix(s, "s") {
			secs, err := strconv.ParseFloat(strings.TrimSuffix(s, "s"), 64)
			if err == nil {
				return int64(secs * 1000), true
			}
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(n * 1000), true
		}
	}
	return 0, false
}

// PreDeltaError wraps an error that occurred before any assistant output
// reached the client, so other packages can decide whether a stream
// failure is still retryable.
type PreDeltaError struct{ Err error }

func (e *PreDeltaError) Error() string {
	if e == nil || e.Err == nil {
		return "pre-delta error"
	}
	return e.Err.Error()
}
func (e *PreDeltaError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func IsPreDeltaError(err error) bool {
	var pde *PreDeltaError
	return errors.As(err, &pde)
}

// IsNonFallbackError reports whether err (or any error it wraps) is a
// NonFallbackError.
func IsNonFallbackError(err error) bool {
	var nfe *NonFallbackError
	return errors.As(err, &nfe)
}
