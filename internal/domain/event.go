package domain

import "time"

type EventType string

const (
	EventChallengeIssued EventType = "qr"
	EventAuthenticated   EventType = "authenticated"
	EventReady           EventType = "ready"
	EventMessage         EventType = "message"
	EventDisconnected    EventType = "disconnected"
	EventError           EventType = "error"
	EventState           EventType = "state"
)

// Event is the public vocabulary delivered to observers. Only the fields
// relevant to Type are set.
type Event struct {
	Type      EventType     `json:"type"`
	AccountID AccountID     `json:"accountId"`
	QRCode    string        `json:"qrCode,omitempty"`
	State     SessionState  `json:"state,omitempty"`
	Reason    CloseReason   `json:"reason,omitempty"`
	Error     string        `json:"error,omitempty"`
	Message   *MessageEvent `json:"message,omitempty"`
	Time      time.Time     `json:"time"`
}

type MessageEvent struct {
	ID        string    `json:"id,omitempty"`
	SenderID  string    `json:"senderId"`
	ChatID    string    `json:"chatId,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

func NewMessageEvent(msg InboundMessage) *MessageEvent {
	return &MessageEvent{
		ID:        msg.ID,
		SenderID:  msg.SenderID,
		ChatID:    msg.ChatID,
		Text:      msg.Text,
		Timestamp: msg.Timestamp,
	}
}
