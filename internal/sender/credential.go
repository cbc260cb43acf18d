package sender

import (
	"errors"
	"fmt"
	"unicode"
)

// Sentinel errors for sender construction.
var (
	// ErrMissingCredential is returned when no credential is configured.
	ErrMissingCredential = errors.New("sender: credential is empty")

	// ErrInvalidCredential is returned when a credential cannot be sent in a header.
	ErrInvalidCredential = errors.New("sender: credential contains whitespace or control characters")

	// ErrInvalidURL is returned when the endpoint is not an absolute http(s) URL.
	ErrInvalidURL = errors.New("sender: endpoint url must be an absolute http or https url")
)

// ValidateCredential rejects empty credentials and credentials containing
// whitespace or control characters.
func ValidateCredential(credential string) error {
	if credential == "" {
		return ErrMissingCredential
	}
	for i, r := range credential {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w (position %d)", ErrInvalidCredential, i)
		}
	}
	return nil
}
