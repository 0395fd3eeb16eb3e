package domain

import (
	"net/mail"
	"strings"
)

// ValidateName trims name and rejects it when empty.
func ValidateName(field, name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", &ValidationError{Field: field, Err: ErrInvalidName}
	}
	return trimmed, nil
}

// ValidateEmail accepts an empty address or a single well-formed one.
func ValidateEmail(email string) (string, error) {
	trimmed := strings.TrimSpace(email)
	if trimmed == "" {
		return "", nil
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", &ValidationError{Field: "email", Err: ErrInvalidEmail}
	}
	return trimmed, nil
}

// ValidatePoints rejects negative awards. Round caps are not enforced here.
func ValidatePoints(points int) error {
	if points < 0 {
		return &ValidationError{Field: "points", Err: ErrNegativePoints}
	}
	return nil
}

// ValidateMaxPoints accepts nil (unlimited) or a non-negative cap.
func ValidateMaxPoints(max *int) error {
	if max != nil && *max < 0 {
		return &ValidationError{Field: "maxPoints", Err: ErrInvalidMaxPoints}
	}
	return nil
}
