package whatsapp

import (
	"github.com/bnema/whatsapp-accounts-broker/internal/domain"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
)

// translated is what one library event means to the session: a connection
// update, an inbound message, or nothing.
type translated struct {
	update  *domain.ConnectionUpdate
	message *domain.InboundMessage
}

func status(s domain.ConnectionStatus) *domain.ConnectionUpdate {
	return &domain.ConnectionUpdate{Status: s}
}

func closed(reason domain.CloseReason) *domain.ConnectionUpdate {
	return &domain.ConnectionUpdate{Status: domain.ConnectionClosed, Reason: reason}
}

func translate(evt interface{}) translated {
	switch evt := evt.(type) {
	case *events.PairSuccess:
		return translated{update: status(domain.ConnectionAuthenticated)}
	case *events.Connected:
		return translated{update: status(domain.ConnectionOpen)}
	case *events.LoggedOut:
		return translated{update: closed(domain.CloseLoggedOut)}
	case *events.ConnectFailure:
		if evt.Reason.IsLoggedOut() {
			return translated{update: closed(domain.CloseUnauthorized)}
		}
		return translated{update: closed(domain.CloseConnectionLost)}
	case *events.TemporaryBan:
		return translated{update: closed(domain.CloseTemporaryBan)}
	case *events.ClientOutdated:
		return translated{update: closed(domain.CloseClientOutdated)}
	case *events.StreamReplaced:
		return translated{update: closed(domain.CloseReplaced)}
	case *events.Disconnected:
		return translated{update: closed(domain.CloseConnectionLost)}
	case *events.Message:
		if evt.Info.IsFromMe {
			return translated{}
		}
		return translated{message: &domain.InboundMessage{
			ID:        string(evt.Info.ID),
			SenderID:  evt.Info.Sender.ToNonAD().String(),
			ChatID:    evt.Info.Chat.String(),
			Text:      messageText(evt.Message),
			Timestamp: evt.Info.Timestamp,
		}}
	default:
		return translated{}
	}
}

func messageText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if text := msg.GetConversation(); text != "" {
		return text
	}
	if text := msg.GetExtendedTextMessage().GetText(); text != "" {
		return text
	}
	if caption := msg.GetImageMessage().GetCaption(); caption != "" {
		return caption
	}
	if caption := msg.GetVideoMessage().GetCaption(); caption != "" {
		return caption
	}

	return msg.GetDocumentMessage().GetCaption()
}

// translateQR maps an item of the pairing channel. Codes become challenges.
// Items that mirror a client event (disconnects, outdated client,
// unexpected connection events) yield nothing: the main event handler is
// registered first and has already reported the precise close.
func translateQR(item whatsmeow.QRChannelItem) (challenge string, update *domain.ConnectionUpdate) {
	switch item.Event {
	case whatsmeow.QRChannelEventCode:
		return item.Code, nil
	case whatsmeow.QRChannelTimeout.Event:
		return "", closed(domain.CloseScanTimeout)
	case whatsmeow.QRChannelEventError:
		return "", closed(domain.CloseConnectionLost)
	default:
		// success, client-outdated, err-unexpected-state, and
		// err-scanned-without-multidevice, after which pairing goes on.
		return "", nil
	}
}
