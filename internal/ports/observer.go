package ports

import "github.com/bnema/whatsapp-accounts-broker/internal/domain"

// Observer is the push side of an observer transport. Deliver must not
// block; it returns domain.ErrObserverGone once the transport is closed.
type Observer interface {
	ID() string
	Deliver(event domain.Event) error
}
