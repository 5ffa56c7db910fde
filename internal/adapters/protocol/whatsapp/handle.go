package whatsapp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bnema/whatsapp-accounts-broker/internal/domain"
	"github.com/bnema/whatsapp-accounts-broker/internal/ports"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"
)

var (
	errHandleEnded   = errors.New("connection handle already ended")
	errHandleStarted = errors.New("connection handle already started")
)

type handle struct {
	account domain.AccountID
	client  *whatsmeow.Client
	db      *sql.DB
	logger  *slog.Logger
	endOnce sync.Once
	// lost is set once the client reports a dropped socket. The pairing
	// channel turns the same drop into a timeout item, which must not
	// override connection-lost.
	lost atomic.Bool

	mu        sync.Mutex
	onState   func(domain.ConnectionUpdate)
	onQR      func(string)
	onMessage func(domain.InboundMessage)
	handlerID uint32
	cancel    context.CancelFunc
	started   bool
	ended     bool
}

var (
	_ ports.ProtocolHandle = (*handle)(nil)
	_ ports.Logouter       = (*handle)(nil)
)

func newHandle(account domain.AccountID, client *whatsmeow.Client, db *sql.DB, logger *slog.Logger) *handle {
	return &handle{account: account, client: client, db: db, logger: logger}
}

func (h *handle) OnStateChange(fn func(domain.ConnectionUpdate)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onState = fn
}

func (h *handle) OnChallenge(fn func(string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onQR = fn
}

func (h *handle) OnMessage(fn func(domain.InboundMessage)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onMessage = fn
}

// Start subscribes to client events, opens the pairing channel when the
// device has never been linked, and dials in the background.
func (h *handle) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.ended {
		h.mu.Unlock()
		return errHandleEnded
	}
	if h.started {
		h.mu.Unlock()
		return errHandleStarted
	}
	h.started = true
	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.handlerID = h.client.AddEventHandler(h.dispatch)
	h.mu.Unlock()

	if h.client.Store.ID == nil {
		items, err := h.client.GetQRChannel(runCtx)
		if err != nil {
			return fmt.Errorf("open pairing channel: %w", err)
		}
		go h.pumpQR(runCtx, items)
	}

	go h.connect()
	return nil
}

func (h *handle) connect() {
	defer h.recoverPanic("connect")

	err := h.client.Connect()
	if h.isEnded() {
		h.client.Disconnect()
		return
	}
	if err != nil {
		h.logger.Warn("whatsapp connect failed", "error", err)
		h.emitState(domain.ConnectionUpdate{Status: domain.ConnectionClosed, Reason: domain.CloseConnectionLost})
	}
}

func (h *handle) pumpQR(ctx context.Context, items <-chan whatsmeow.QRChannelItem) {
	defer h.recoverPanic("pairing")

	for item := range items {
		if ctx.Err() != nil {
			return
		}
		h.handleQR(item)
	}
}

func (h *handle) handleQR(item whatsmeow.QRChannelItem) {
	if item.Error != nil {
		h.logger.Warn("pairing channel error", "event", item.Event, "error", item.Error)
	}
	if item.Event == whatsmeow.QRChannelScannedWithoutMultidevice.Event {
		h.logger.Warn("code scanned by a phone without multi-device support")
	}

	challenge, update := translateQR(item)
	if challenge != "" {
		h.emitChallenge(challenge)
	}
	if update == nil {
		return
	}
	if update.Reason == domain.CloseScanTimeout && h.lost.Load() {
		h.logger.Debug("pairing timeout follows a dropped connection")
		return
	}
	h.emitState(*update)
}

func (h *handle) dispatch(evt interface{}) {
	defer h.recoverPanic("event")

	if _, ok := evt.(*events.Disconnected); ok {
		h.lost.Store(true)
	}

	result := translate(evt)
	if result.update != nil {
		h.emitState(*result.update)
	}
	if result.message != nil {
		h.emitMessage(*result.message)
	}
}

// Logout unlinks this device from the phone. The handle still has to be
// ended afterwards.
func (h *handle) Logout(ctx context.Context) error {
	if h.isEnded() {
		return errHandleEnded
	}
	if err := h.client.Logout(ctx); err != nil {
		return fmt.Errorf("logout device: %w", err)
	}

	return nil
}

func (h *handle) End() {
	h.endOnce.Do(func() {
		h.mu.Lock()
		h.ended = true
		h.onState = nil
		h.onQR = nil
		h.onMessage = nil
		cancel := h.cancel
		started := h.started
		handlerID := h.handlerID
		h.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if started {
			h.client.RemoveEventHandler(handlerID)
		}
		h.client.Disconnect()

		if err := h.db.Close(); err != nil {
			h.logger.Debug("close device store", "error", err)
		}
	})
}

func (h *handle) isEnded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ended
}

func (h *handle) emitState(update domain.ConnectionUpdate) {
	h.mu.Lock()
	fn := h.onState
	h.mu.Unlock()

	if fn != nil {
		fn(update)
	}
}

func (h *handle) emitChallenge(challenge string) {
	h.mu.Lock()
	fn := h.onQR
	h.mu.Unlock()

	if fn != nil {
		fn(challenge)
	}
}

func (h *handle) emitMessage(message domain.InboundMessage) {
	h.mu.Lock()
	fn := h.onMessage
	h.mu.Unlock()

	if fn != nil {
		fn(message)
	}
}

func (h *handle) recoverPanic(where string) {
	if recovered := recover(); recovered != nil {
		h.logger.Error("whatsapp callback panicked", "where", where, "panic", recovered)
		h.emitState(domain.ConnectionUpdate{Status: domain.ConnectionClosed, Reason: domain.CloseInternalError})
	}
}
