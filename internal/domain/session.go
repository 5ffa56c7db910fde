package domain

type SessionState string

const (
	SessionIdle          SessionState = "idle"
	SessionAwaitingScan  SessionState = "awaiting_scan"
	SessionAuthenticated SessionState = "authenticated"
	SessionActive        SessionState = "active"
	SessionReconnecting  SessionState = "reconnecting"
	SessionTerminated    SessionState = "terminated"
)

func (s SessionState) Live() bool {
	return s != SessionTerminated && s != ""
}

// Authenticated reports whether credentials were accepted at some point in
// the current connection cycle.
func (s SessionState) Authenticated() bool {
	switch s {
	case SessionAuthenticated, SessionActive, SessionReconnecting:
		return true
	default:
		return false
	}
}

func (s SessionState) Label() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionAwaitingScan:
		return "awaiting scan"
	case SessionAuthenticated:
		return "authenticated"
	case SessionActive:
		return "active"
	case SessionReconnecting:
		return "reconnecting"
	case SessionTerminated:
		return "terminated"
	default:
		return string(s)
	}
}
