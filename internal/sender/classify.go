package sender

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/rcatullo/talazo-kg/internal/dispatch"
)

const maxMessageBytes = 512

// Error types that mean the request itself is wrong and will not improve
// with another attempt.
var terminalErrorTypes = map[string]struct{}{
	"invalid_request_error": {},
	"authentication_error":  {},
	"permission_error":      {},
	"not_found_error":       {},
	"insufficient_quota":    {},
	"request_too_large":     {},
}

// Fragments of an error type, code or message that denote rate limiting or
// overload.
var rateLimitMarkers = []string{"rate_limit", "rate limit", "ratelimit", "overloaded", "too many requests"}

// classifyResponse maps an HTTP status and body to an Outcome.
func classifyResponse(status int, header http.Header, body []byte, now time.Time) dispatch.Outcome {
	switch {
	case status == http.StatusTooManyRequests:
		return dispatch.RateLimited(httpError(dispatch.KindRateLimit, status, body), parseRetryAfter(header, now))

	case status == http.StatusRequestTimeout || status >= 500:
		attemptErr := httpError(dispatch.KindServer, status, body)
		if isRateLimitSignal(gjson.GetBytes(body, "error")) {
			attemptErr.Kind = dispatch.KindRateLimit
			return dispatch.RateLimited(attemptErr, parseRetryAfter(header, now))
		}
		return dispatch.Retry(attemptErr)

	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return dispatch.Fail(httpError(dispatch.KindAuth, status, body))

	case status >= 400:
		return dispatch.Fail(httpError(dispatch.KindClient, status, body))

	case status >= 200 && status < 300:
		return classifyBody(status, header, body, now)

	default:
		attemptErr := httpError(dispatch.KindServer, status, body)
		attemptErr.Message = fmt.Sprintf("unexpected status %d: %s", status, attemptErr.Message)
		return dispatch.Retry(attemptErr)
	}
}

// classifyBody handles 2xx responses, which can still carry an error member.
func classifyBody(status int, header http.Header, body []byte, now time.Time) dispatch.Outcome {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return dispatch.Retry(&dispatch.AttemptError{
			Kind:    dispatch.KindDecode,
			Status:  status,
			Message: "response body is not valid JSON: " + truncate(string(body)),
		})
	}

	errObj := gjson.GetBytes(body, "error")
	if !errObj.Exists() || errObj.Type == gjson.Null {
		out := dispatch.Succeeded(body)
		out.Status = status
		return out
	}

	attemptErr := &dispatch.AttemptError{
		Kind:    dispatch.KindAPI,
		Status:  status,
		Message: errorMessage(errObj),
		Detail:  []byte(errObj.Raw),
	}

	switch {
	case isRateLimitSignal(errObj):
		attemptErr.Kind = dispatch.KindRateLimit
		return dispatch.RateLimited(attemptErr, parseRetryAfter(header, now))
	case isTerminalSignal(errObj):
		return dispatch.Fail(attemptErr)
	default:
		return dispatch.Retry(attemptErr)
	}
}

// classifyTransportError maps a failed round trip. Every transport failure
// is retryable.
func classifyTransportError(ctx context.Context, err error) dispatch.Outcome {
	kind := dispatch.KindTransport
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(ctx.Err(), context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		kind = dispatch.KindTimeout
	case errors.Is(err, context.Canceled):
		kind = dispatch.KindCanceled
	}

	return dispatch.Retry(&dispatch.AttemptError{
		Kind:    kind,
		Message: truncate(err.Error()),
	})
}

func httpError(kind dispatch.ErrorKind, status int, body []byte) *dispatch.AttemptError {
	attemptErr := &dispatch.AttemptError{
		Kind:    kind,
		Status:  status,
		Message: http.StatusText(status),
	}

	if len(body) == 0 {
		return attemptErr
	}
	if !gjson.ValidBytes(body) {
		if text := strings.TrimSpace(string(body)); text != "" {
			attemptErr.Message = truncate(text)
		}
		return attemptErr
	}

	if errObj := gjson.GetBytes(body, "error"); errObj.Exists() {
		attemptErr.Detail = []byte(errObj.Raw)
		if msg := errorMessage(errObj); msg != "" {
			attemptErr.Message = msg
		}
		return attemptErr
	}

	attemptErr.Detail = body
	return attemptErr
}

// errorMessage reads an OpenAI-style error, which is either an object with a
// message member or a bare string.
func errorMessage(errObj gjson.Result) string {
	if errObj.Type == gjson.String {
		return truncate(errObj.Str)
	}
	if msg := errObj.Get("message"); msg.Type == gjson.String {
		return truncate(msg.Str)
	}
	return truncate(errObj.Raw)
}

func isRateLimitSignal(errObj gjson.Result) bool {
	if !errObj.Exists() {
		return false
	}
	if errObj.Get("type").Str == "insufficient_quota" || errObj.Get("code").Str == "insufficient_quota" {
		return false
	}
	fields := []string{
		errObj.Get("type").Str,
		errObj.Get("code").Str,
		errObj.Get("message").Str,
	}
	if errObj.Type == gjson.String {
		fields = append(fields, errObj.Str)
	}
	for _, field := range fields {
		lower := strings.ToLower(field)
		for _, marker := range rateLimitMarkers {
			if strings.Contains(lower, marker) {
				return true
			}
		}
	}
	return false
}

func isTerminalSignal(errObj gjson.Result) bool {
	if _, ok := terminalErrorTypes[errObj.Get("type").Str]; ok {
		return true
	}
	_, ok := terminalErrorTypes[errObj.Get("code").Str]
	return ok
}

// parseRetryAfter reads retry-after-ms (OpenAI) or Retry-After in seconds or
// as an HTTP date. Zero means no usable hint.
func parseRetryAfter(header http.Header, now time.Time) time.Duration {
	if header == nil {
		return 0
	}
	if ms := header.Get("Retry-After-Ms"); ms != "" {
		if v, err := strconv.ParseFloat(ms, 64); err == nil && v > 0 {
			return time.Duration(v * float64(time.Millisecond))
		}
	}

	value := strings.TrimSpace(header.Get("Retry-After"))
	if value == "" {
		return 0
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds * float64(time.Second))
	}
	if at, err := http.ParseTime(value); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

func truncate(s string) string {
	if len(s) <= maxMessageBytes {
		return s
	}
	n := maxMessageBytes
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
