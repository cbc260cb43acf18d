package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// RecordStatus is the terminal state of a work item.
type RecordStatus string

// Record statuses.
const (
	StatusSuccess   RecordStatus = "success"
	StatusFailed    RecordStatus = "failed"
	StatusExhausted RecordStatus = "exhausted"
)

// ErrMalformedRecord is returned when a result line is not a
// [payload, result, metadata] triple.
var ErrMalformedRecord = errors.New("dispatch: malformed result record")

// ResultRecord is the single terminal record written for a work item.
//
// Response is set for StatusSuccess. Errors holds one error for StatusFailed
// and every attempt's error, oldest first, for StatusExhausted.
type ResultRecord struct {
	Payload  json.RawMessage
	Response json.RawMessage
	Metadata json.RawMessage
	Status   RecordStatus
	Errors   []*AttemptError
	Seq      int64
	Attempts int
}

// Result returns the second element of the serialized triple: the response,
// a single error object, or the array of attempt errors.
func (r ResultRecord) Result() (json.RawMessage, error) {
	switch r.Status {
	case StatusSuccess:
		return rawOrNull(r.Response), nil
	case StatusFailed:
		if len(r.Errors) == 0 {
			return nil, fmt.Errorf("%w: failed record %d has no error", ErrMalformedRecord, r.Seq)
		}
		return json.Marshal(r.Errors[len(r.Errors)-1])
	case StatusExhausted:
		return json.Marshal(r.Errors)
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrMalformedRecord, r.Status)
	}
}

// MarshalJSON encodes the record as [payload, result, metadata].
func (r ResultRecord) MarshalJSON() ([]byte, error) {
	result, err := r.Result()
	if err != nil {
		return nil, err
	}
	return json.Marshal([]json.RawMessage{rawOrNull(r.Payload), result, rawOrNull(r.Metadata)})
}

// UnmarshalJSON decodes a [payload, result, metadata] triple. The status is
// inferred from the shape of the result: a non-empty array of error
// envelopes means exhausted retries, a single envelope means a terminal
// failure, anything else is a success. A successful response that
// itself has one of the failure shapes reads back as a failure; the triple
// does not carry the status, so that cannot be told apart.
// Seq is not part of the triple and is left zero.
func (r *ResultRecord) UnmarshalJSON(data []byte) error {
	var triple []json.RawMessage
	if err := json.Unmarshal(data, &triple); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}
	if len(triple) != 3 {
		return fmt.Errorf("%w: want 3 elements, got %d", ErrMalformedRecord, len(triple))
	}

	rec := ResultRecord{
		Payload:  triple[0],
		Metadata: nullToNil(triple[2]),
	}

	result := bytes.TrimSpace(triple[1])
	var (
		errs       []*AttemptError
		attemptErr AttemptError
	)
	switch {
	case isErrorList(result) && json.Unmarshal(result, &errs) == nil:
		rec.Status = StatusExhausted
		rec.Errors = errs
		rec.Attempts = len(errs)
	case isErrorObject(result) && json.Unmarshal(result, &attemptErr) == nil:
		rec.Status = StatusFailed
		rec.Errors = []*AttemptError{&attemptErr}
		rec.Attempts = attemptErr.Attempt
	default:
		rec.Status = StatusSuccess
		rec.Response = result
	}

	*r = rec
	return nil
}

func isErrorObject(raw json.RawMessage) bool {
	if len(raw) == 0 || raw[0] != '{' {
		return false
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	_, ok := probe["error"]
	return ok
}

func isErrorList(raw json.RawMessage) bool {
	if len(raw) == 0 || raw[0] != '[' {
		return false
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil || len(elems) == 0 {
		return false
	}
	for _, elem := range elems {
		if !isErrorObject(bytes.TrimSpace(elem)) {
			return false
		}
	}
	return true
}

func rawOrNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}

func nullToNil(raw json.RawMessage) json.RawMessage {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	return raw
}
