package dispatch

import (
	"encoding/json"
	"fmt"
	"time"
)

// OutcomeKind classifies the result of a single attempt.
type OutcomeKind int

// Outcome kinds.
const (
	OutcomeSuccess OutcomeKind = iota + 1
	OutcomeRetryable
	OutcomeTerminal
)

// String returns the lowercase outcome name.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Outcome is produced once per attempt by a Sender.
//
// Success carries Response. Retryable and Terminal carry Err. RateLimited and
// RetryAfter are only meaningful for Retryable outcomes.
type Outcome struct {
	Err         *AttemptError
	Response    json.RawMessage
	Kind        OutcomeKind
	RetryAfter  time.Duration
	Status      int
	RateLimited bool
}

// Succeeded builds a success outcome.
func Succeeded(response json.RawMessage) Outcome {
	return Outcome{Kind: OutcomeSuccess, Response: response, Status: 200}
}

// Retry builds a retryable outcome.
func Retry(err *AttemptError) Outcome {
	return Outcome{Kind: OutcomeRetryable, Err: err, Status: err.Status}
}

// RateLimited builds a retryable outcome that also pauses admission.
// retryAfter is the server's hint, zero if it sent none.
func RateLimited(err *AttemptError, retryAfter time.Duration) Outcome {
	return Outcome{
		Kind:        OutcomeRetryable,
		Err:         err,
		Status:      err.Status,
		RateLimited: true,
		RetryAfter:  retryAfter,
	}
}

// Fail builds a terminal outcome.
func Fail(err *AttemptError) Outcome {
	return Outcome{Kind: OutcomeTerminal, Err: err, Status: err.Status}
}

// ErrorKind is the coarse category of an attempt error.
type ErrorKind string

// Error kinds recorded in result files.
const (
	KindTransport      ErrorKind = "transport"
	KindTimeout        ErrorKind = "timeout"
	KindRateLimit      ErrorKind = "rate_limit"
	KindServer         ErrorKind = "server"
	KindClient         ErrorKind = "client"
	KindAuth           ErrorKind = "auth"
	KindDecode         ErrorKind = "decode"
	KindAPI            ErrorKind = "api"
	KindInvalidPayload ErrorKind = "invalid_payload"
	KindCanceled       ErrorKind = "canceled"
)

// AttemptError describes why one attempt failed. It serializes as
// {"error": {...}} so result consumers can detect failures the same way they
// detect API error bodies.
type AttemptError struct {
	// Detail is the remote error object or body, when it was valid JSON.
	Detail  json.RawMessage
	Message string
	Kind    ErrorKind
	Attempt int
	Status  int
}

// Error implements the error interface.
func (e *AttemptError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("attempt %d: %s (status %d): %s", e.Attempt, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("attempt %d: %s: %s", e.Attempt, e.Kind, e.Message)
}

type attemptErrorBody struct {
	Detail  json.RawMessage `json:"detail,omitempty"`
	Message string          `json:"message"`
	Kind    ErrorKind       `json:"kind"`
	Attempt int             `json:"attempt"`
	Status  int             `json:"status,omitempty"`
}

type attemptErrorEnvelope struct {
	Error attemptErrorBody `json:"error"`
}

// MarshalJSON implements json.Marshaler.
func (e *AttemptError) MarshalJSON() ([]byte, error) {
	body := attemptErrorBody{
		Message: e.Message,
		Kind:    e.Kind,
		Attempt: e.Attempt,
		Status:  e.Status,
	}
	if len(e.Detail) > 0 && json.Valid(e.Detail) {
		body.Detail = e.Detail
	}
	return json.Marshal(attemptErrorEnvelope{Error: body})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *AttemptError) UnmarshalJSON(data []byte) error {
	var env attemptErrorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	*e = AttemptError{
		Detail:  env.Error.Detail,
		Message: env.Error.Message,
		Kind:    env.Error.Kind,
		Attempt: env.Error.Attempt,
		Status:  env.Error.Status,
	}
	return nil
}
