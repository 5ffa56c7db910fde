package ports

import (
	"context"

	"github.com/bnema/whatsapp-accounts-broker/internal/domain"
)

// ProtocolClient prepares a connection for one account. Connect must not
// block on the network; setup failures (credential store, client
// construction) are returned here.
type ProtocolClient interface {
	Connect(ctx context.Context, id domain.AccountID, credentialLocation string) (ProtocolHandle, error)
}

// ProtocolHandle is one live connection attempt. Callbacks are registered
// before Start and may be invoked from any goroutine, including
// synchronously from Start. End releases the connection and every
// registered callback; it is idempotent and safe while Start is in flight.
type ProtocolHandle interface {
	OnStateChange(func(domain.ConnectionUpdate))
	OnChallenge(func(challenge string))
	OnMessage(func(domain.InboundMessage))
	Start(ctx context.Context) error
	End()
}

// Logouter is implemented by handles that can unlink the device on the
// server before ending.
type Logouter interface {
	Logout(ctx context.Context) error
}
