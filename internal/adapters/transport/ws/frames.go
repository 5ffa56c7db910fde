package ws

import (
	"github.com/bnema/whatsapp-accounts-broker/internal/application"
	"github.com/bnema/whatsapp-accounts-broker/internal/domain"
)

type RequestType string

const (
	RequestSession RequestType = "request-session"
	LogoutSession  RequestType = "logout-session"
	ListSessions   RequestType = "list-sessions"

	// legacyCreateSession is accepted as an alias of RequestSession.
	legacyCreateSession RequestType = "create-session"
)

const resultFrameType = "result"

// Request is a client frame. SessionID is read as a fallback for AccountID.
type Request struct {
	ID        string      `json:"id,omitempty"`
	Type      RequestType `json:"type"`
	AccountID string      `json:"accountId,omitempty"`
	SessionID string      `json:"sessionId,omitempty"`
	Restart   bool        `json:"restart,omitempty"`
}

func (r Request) account() string {
	if r.AccountID != "" {
		return r.AccountID
	}
	return r.SessionID
}

// Response answers exactly one Request and carries its id.
type Response struct {
	ID     string `json:"id,omitempty"`
	Type   string `json:"type"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Result any    `json:"result,omitempty"`
}

type SessionResult struct {
	AccountID domain.AccountID    `json:"accountId"`
	State     domain.SessionState `json:"state"`
	QRCode    string              `json:"qrCode,omitempty"`
}

type LogoutResult struct {
	AccountID domain.AccountID `json:"accountId"`
}

type ListResult struct {
	Sessions []application.SessionSummary `json:"sessions"`
}

func okResponse(id string, result any) Response {
	return Response{ID: id, Type: resultFrameType, OK: true, Result: result}
}

func errorResponse(id string, err error) Response {
	return Response{ID: id, Type: resultFrameType, Error: err.Error()}
}
