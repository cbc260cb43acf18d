package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid matches every *ValidationError with errors.Is.
var ErrInvalid = errors.New("config: invalid")

// ValidationError lists every problem Validate found, each prefixed with the
// dotted key it concerns (e.g. "limits.max_requests_per_minute ...").
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "config validation failed"
	case 1:
		return "config validation failed: " + e.Errors[0]
	}
	return fmt.Sprintf("config validation failed with %d errors:\n  - %s",
		len(e.Errors), strings.Join(e.Errors, "\n  - "))
}

// Is reports whether target is ErrInvalid.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

// Add records a problem.
func (e *ValidationError) Add(msg string) {
	e.Errors = append(e.Errors, msg)
}

// Addf records a formatted problem.
func (e *ValidationError) Addf(format string, args ...any) {
	e.Add(fmt.Sprintf(format, args...))
}

// Keys returns the config keys with at least one problem, in first-seen order.
func (e *ValidationError) Keys() []string {
	seen := make(map[string]bool, len(e.Errors))
	var keys []string
	for _, msg := range e.Errors {
		key, _, _ := strings.Cut(msg, " ")
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys
}

// ToError returns e, or nil when nothing was recorded.
func (e *ValidationError) ToError() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}
