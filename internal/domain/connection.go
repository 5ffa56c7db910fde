package domain

import "time"

type ConnectionStatus string

const (
	ConnectionAuthenticated ConnectionStatus = "authenticated"
	ConnectionOpen          ConnectionStatus = "open"
	ConnectionClosed        ConnectionStatus = "closed"
)

type CloseReason string

const (
	CloseLoggedOut      CloseReason = "logged-out"
	CloseUnauthorized   CloseReason = "unauthorized"
	CloseConnectionLost CloseReason = "connection-lost"
	CloseReplaced       CloseReason = "replaced"
	// The account is barred for a while or the client must be upgraded;
	// the stored device stays valid.
	CloseTemporaryBan   CloseReason = "temporary-ban"
	CloseClientOutdated CloseReason = "client-outdated"

	// Reasons produced by the broker itself rather than the protocol client.
	CloseLogout         CloseReason = "logout"
	CloseRestart        CloseReason = "restart"
	CloseShutdown       CloseReason = "shutdown"
	CloseSetupFailed    CloseReason = "setup-failed"
	CloseConnectFailed  CloseReason = "connect-failed"
	CloseReconnectLimit CloseReason = "reconnect-limit"
	CloseScanTimeout    CloseReason = "scan-timeout"
	CloseInternalError  CloseReason = "internal-error"
)

// Terminal reports whether a close reported by the protocol client rules
// out reconnecting.
func (r CloseReason) Terminal() bool {
	switch r {
	case CloseLoggedOut, CloseUnauthorized, CloseTemporaryBan, CloseClientOutdated, CloseInternalError:
		return true
	default:
		return false
	}
}

// PurgesCredentials reports whether the stored credentials are known to be
// dead once a session ends for this reason.
func (r CloseReason) PurgesCredentials() bool {
	switch r {
	case CloseLoggedOut, CloseUnauthorized, CloseLogout:
		return true
	default:
		return false
	}
}

type ConnectionUpdate struct {
	Status ConnectionStatus
	Reason CloseReason
}

// InboundMessage is relayed verbatim; the broker never interprets Text.
type InboundMessage struct {
	ID        string
	SenderID  string
	ChatID    string
	Text      string
	Timestamp time.Time
}
