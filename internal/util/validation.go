package util

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	// ErrInvalidUUID is returned when a value is not a UUID v4.
	ErrInvalidUUID = errors.New("invalid uuid v4")
	// ErrInvalidEmail is returned when an email address cannot be parsed.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrInvalidExternalID is returned when an external source identifier is malformed.
	ErrInvalidExternalID = errors.New("invalid external source id")
	// ErrInvalidSlug indicates a slug is not lowercase kebab-case.
	ErrInvalidSlug = errors.New("invalid slug")
	// ErrNoIdentifier is returned when a request carries no identifying field.
	ErrNoIdentifier = errors.New("at least one identifying field is required")
)

var (
	externalIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,128}$`)
	slugPattern       = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
)

// ParseUUIDv4 parses and validates a UUID string, ensuring it is version 4.
func ParseUUIDv4(value string) (uuid.UUID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return uuid.UUID{}, fmt.Errorf("%w: value is empty", ErrInvalidUUID)
	}

	u, err := uuid.Parse(trimmed)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("%w: %v", ErrInvalidUUID, err)
	}

	if u.Version() != 4 {
		return uuid.UUID{}, fmt.Errorf("%w: expected version 4", ErrInvalidUUID)
	}

	return u, nil
}

// NormalizeInternalID validates an optional internal id. Empty input is
// returned as empty; anything else must be a UUID v4 and is lowercased.
func NormalizeInternalID(value string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return "", nil
	}
	u, err := ParseUUIDv4(value)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// NormalizeEmail validates and normalizes an optional email address. The
// returned value is lowercased and stripped of surrounding whitespace.
func NormalizeEmail(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", nil
	}

	addr, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEmail, err)
	}

	// Disallow display names to keep lookups deterministic.
	if addr.Name != "" || addr.Address == "" {
		return "", fmt.Errorf("%w: must not include display name", ErrInvalidEmail)
	}

	if addr.Address != trimmed {
		return "", fmt.Errorf("%w: unexpected formatting", ErrInvalidEmail)
	}

	return strings.ToLower(addr.Address), nil
}

// NormalizeExternalID validates an optional identifier assigned by an external
// source system.
func NormalizeExternalID(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", nil
	}
	if !externalIDPattern.MatchString(trimmed) {
		return "", fmt.Errorf("%w: %q", ErrInvalidExternalID, trimmed)
	}
	return trimmed, nil
}

// NormalizeSlug validates an optional slug, lowercasing it first.
func NormalizeSlug(value string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return "", nil
	}
	if utf8.RuneCountInString(trimmed) > 96 || !slugPattern.MatchString(trimmed) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSlug, trimmed)
	}
	return trimmed, nil
}

// RequireOne fails with ErrNoIdentifier unless at least one value is non-empty.
func RequireOne(values ...string) error {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return nil
		}
	}
	return ErrNoIdentifier
}

// EnsureMaxRunes ensures a string is not longer than the provided rune count.
func EnsureMaxRunes(field, value string, max int) error {
	if max <= 0 {
		return nil
	}
	length := utf8.RuneCountInString(value)
	if length > max {
		return fmt.Errorf("%s exceeds maximum length of %d characters", field, max)
	}
	return nil
}
