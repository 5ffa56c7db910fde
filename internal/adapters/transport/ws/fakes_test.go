package ws

import (
	"context"
	"sync"

	"github.com/bnema/whatsapp-accounts-broker/internal/domain"
	"github.com/bnema/whatsapp-accounts-broker/internal/ports"
)

type stubClient struct {
	mu      sync.Mutex
	handles map[domain.AccountID]*stubHandle
}

var _ ports.ProtocolClient = (*stubClient)(nil)

func (c *stubClient) Connect(_ context.Context, id domain.AccountID, _ string) (ports.ProtocolHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handles == nil {
		c.handles = map[domain.AccountID]*stubHandle{}
	}
	handle := &stubHandle{}
	c.handles[id] = handle
	return handle, nil
}

func (c *stubClient) handle(id domain.AccountID) *stubHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handles[id]
}

type stubHandle struct {
	mu      sync.Mutex
	onState func(domain.ConnectionUpdate)
	onQR    func(string)
	ended   bool
}

func (h *stubHandle) OnStateChange(fn func(domain.ConnectionUpdate)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onState = fn
}

func (h *stubHandle) OnChallenge(fn func(string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onQR = fn
}

func (h *stubHandle) OnMessage(func(domain.InboundMessage)) {}

func (h *stubHandle) Start(context.Context) error { return nil }

func (h *stubHandle) End() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ended = true
}

func (h *stubHandle) Ended() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ended
}

func (h *stubHandle) challenge(code string) {
	h.mu.Lock()
	fn := h.onQR
	h.mu.Unlock()
	fn(code)
}

func (h *stubHandle) open() {
	h.mu.Lock()
	fn := h.onState
	h.mu.Unlock()
	fn(domain.ConnectionUpdate{Status: domain.ConnectionOpen})
}

type stubLocator struct{}

func (stubLocator) Locate(_ context.Context, id domain.AccountID) (string, error) {
	return "/var/lib/wab/sessions/" + string(id), nil
}

func (stubLocator) Purge(context.Context, domain.AccountID) error { return nil }

type stubRenderer struct{}

func (stubRenderer) Render(challenge string) (string, error) {
	return "data:" + challenge, nil
}
