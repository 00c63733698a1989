package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidObservation is matched by every *ValidationError via errors.Is.
var ErrInvalidObservation = errors.New("invalid observation")

// Field names reported in validation errors. They match the JSON request keys.
const (
	FieldEmail       = "email"
	FieldPhoneNumber = "phoneNumber"
)

// minPhoneDigits is the fewest digits a phone number may carry once
// punctuation is stripped.
const minPhoneDigits = 7

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9\s\-()]+$`)
)

// ValidationError reports an observation field that failed format checks.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Is lets callers test for ErrInvalidObservation without a type assertion.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidObservation
}

// Observation is one incoming identify request: an email, a phone number, or
// both. Empty strings mean the field was not given.
type Observation struct {
	Email       string
	PhoneNumber string
}

// Normalize trims both fields and lower-cases the email, which is the form
// contacts are stored and matched in.
func (o Observation) Normalize() Observation {
	return Observation{
		Email:       strings.ToLower(strings.TrimSpace(o.Email)),
		PhoneNumber: strings.TrimSpace(o.PhoneNumber),
	}
}

// HasEmail reports whether an email was given.
func (o Observation) HasEmail() bool { return o.Email != "" }

// HasPhoneNumber reports whether a phone number was given.
func (o Observation) HasPhoneNumber() bool { return o.PhoneNumber != "" }

// Fingerprints returns the lock keys for the given fields.
func (o Observation) Fingerprints() []string {
	keys := make([]string, 0, 2)
	if o.HasEmail() {
		keys = append(keys, "email:"+o.Email)
	}
	if o.HasPhoneNumber() {
		keys = append(keys, "phone:"+o.PhoneNumber)
	}
	return keys
}

// ValidateObservation checks that at least one field is present and that each
// present field is well-formed. It expects a normalized observation.
func ValidateObservation(o Observation) error {
	if !o.HasEmail() && !o.HasPhoneNumber() {
		return &ValidationError{
			Field:  FieldEmail + "," + FieldPhoneNumber,
			Reason: "at least one of email or phoneNumber must be provided",
		}
	}
	if o.HasEmail() && !IsValidEmail(o.Email) {
		return &ValidationError{Field: FieldEmail, Reason: "invalid email format"}
	}
	if o.HasPhoneNumber() && !IsValidPhoneNumber(o.PhoneNumber) {
		return &ValidationError{Field: FieldPhoneNumber, Reason: "invalid phone number format"}
	}
	return nil
}

// IsValidEmail reports whether s has the local@domain.tld shape.
func IsValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// IsValidPhoneNumber reports whether s uses only digits, an optional leading
// '+', dashes, parentheses and spaces, and carries at least seven digits.
func IsValidPhoneNumber(s string) bool {
	if !phonePattern.MatchString(s) {
		return false
	}
	digits := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= minPhoneDigits
}
