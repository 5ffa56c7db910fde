package domain

import (
	"fmt"
	"strings"
	"time"
)

const maxAccountIDLength = 64

type AccountID string

// ParseAccountID trims raw and rejects identifiers that cannot double as a
// single path component.
func ParseAccountID(raw string) (AccountID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: account id is required", ErrInvalidAccountID)
	}
	if len(trimmed) > maxAccountIDLength {
		return "", fmt.Errorf("%w: account id longer than %d bytes", ErrInvalidAccountID, maxAccountIDLength)
	}
	if trimmed == "." || trimmed == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidAccountID, raw)
	}
	for _, r := range trimmed {
		if !isAccountIDRune(r) {
			return "", fmt.Errorf("%w: unexpected character %q in %q", ErrInvalidAccountID, r, trimmed)
		}
	}

	return AccountID(trimmed), nil
}

func isAccountIDRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-', r == '_', r == '.':
		return true
	default:
		return false
	}
}

// Account is the durable record of an account that has reached Active at
// least once. Sessions themselves are never persisted.
type Account struct {
	ID                 AccountID
	CredentialLocation string
	LastState          SessionState
	CreatedAt          time.Time
	LastActiveAt       time.Time
}
