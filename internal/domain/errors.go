package domain

import "errors"

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrInvalidAccountID = errors.New("invalid account id")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionEnded     = errors.New("session terminated")
	ErrRegistryClosed   = errors.New("session registry closed")
	ErrObserverGone     = errors.New("observer detached")
)
