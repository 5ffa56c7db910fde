package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/whatsapp-accounts-broker/internal/domain"
	"github.com/bnema/whatsapp-accounts-broker/internal/ports"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type connectCall struct {
	id       domain.AccountID
	location string
}

type fakeClient struct {
	mu         sync.Mutex
	calls      []connectCall
	handles    []*fakeHandle
	connectErr error
	startErr   error
	logoutErr  error
	onStart    func(h *fakeHandle)
}

var _ ports.ProtocolClient = (*fakeClient)(nil)

func (c *fakeClient) Connect(_ context.Context, id domain.AccountID, location string) (ports.ProtocolHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, connectCall{id: id, location: location})
	if c.connectErr != nil {
		return nil, c.connectErr
	}

	handle := &fakeHandle{id: id, startErr: c.startErr, logoutErr: c.logoutErr, onStart: c.onStart}
	c.handles = append(c.handles, handle)
	return handle, nil
}

func (c *fakeClient) Calls() []connectCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]connectCall(nil), c.calls...)
}

func (c *fakeClient) ConnectCount() int {
	return len(c.Calls())
}

// Handle returns the n-th handle handed out, counting from zero.
func (c *fakeClient) Handle(n int) *fakeHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n >= len(c.handles) {
		return nil
	}
	return c.handles[n]
}

// For returns the latest handle handed out for id.
func (c *fakeClient) For(id domain.AccountID) *fakeHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.handles) - 1; i >= 0; i-- {
		if c.handles[i].id == id {
			return c.handles[i]
		}
	}
	return nil
}

func (c *fakeClient) Last() *fakeHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.handles) == 0 {
		return nil
	}
	return c.handles[len(c.handles)-1]
}

// fakeHandle lets tests play the protocol side. Callbacks survive End so
// tests can replay events from a superseded attempt.
type fakeHandle struct {
	id        domain.AccountID
	startErr  error
	logoutErr error
	onStart   func(h *fakeHandle)

	mu        sync.Mutex
	onState   func(domain.ConnectionUpdate)
	onQR      func(string)
	onMessage func(domain.InboundMessage)
	started   bool
	ends      int
	logouts   int
}

var (
	_ ports.ProtocolHandle = (*fakeHandle)(nil)
	_ ports.Logouter       = (*fakeHandle)(nil)
)

func (h *fakeHandle) OnStateChange(fn func(domain.ConnectionUpdate)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onState = fn
}

func (h *fakeHandle) OnChallenge(fn func(string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onQR = fn
}

func (h *fakeHandle) OnMessage(fn func(domain.InboundMessage)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onMessage = fn
}

func (h *fakeHandle) Start(context.Context) error {
	if h.startErr != nil {
		return h.startErr
	}

	h.mu.Lock()
	h.started = true
	h.mu.Unlock()

	if h.onStart != nil {
		h.onStart(h)
	}
	return nil
}

func (h *fakeHandle) End() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ends++
}

func (h *fakeHandle) Logout(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logouts++
	return h.logoutErr
}

func (h *fakeHandle) Ends() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ends
}

func (h *fakeHandle) Logouts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.logouts
}

func (h *fakeHandle) EmitChallenge(challenge string) {
	h.mu.Lock()
	fn := h.onQR
	h.mu.Unlock()
	if fn != nil {
		fn(challenge)
	}
}

func (h *fakeHandle) EmitStatus(status domain.ConnectionStatus, reason domain.CloseReason) {
	h.mu.Lock()
	fn := h.onState
	h.mu.Unlock()
	if fn != nil {
		fn(domain.ConnectionUpdate{Status: status, Reason: reason})
	}
}

func (h *fakeHandle) EmitMessage(msg domain.InboundMessage) {
	h.mu.Lock()
	fn := h.onMessage
	h.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

type fakeLocator struct {
	root      string
	locateErr error

	mu      sync.Mutex
	located []domain.AccountID
	purged  []domain.AccountID
}

var _ ports.CredentialLocator = (*fakeLocator)(nil)

func (l *fakeLocator) Locate(_ context.Context, id domain.AccountID) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locateErr != nil {
		return "", l.locateErr
	}
	l.located = append(l.located, id)
	return l.root + "/" + string(id), nil
}

func (l *fakeLocator) Purge(_ context.Context, id domain.AccountID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.purged = append(l.purged, id)
	return nil
}

func (l *fakeLocator) Located() []domain.AccountID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.AccountID(nil), l.located...)
}

func (l *fakeLocator) Purged() []domain.AccountID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.AccountID(nil), l.purged...)
}

type fakeRenderer struct {
	err error
}

func (r fakeRenderer) Render(challenge string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return "rendered:" + challenge, nil
}

type recordingObserver struct {
	id string

	mu     sync.Mutex
	events []domain.Event
	gone   bool
}

var _ ports.Observer = (*recordingObserver)(nil)

func newObserver(id string) *recordingObserver {
	return &recordingObserver{id: id}
}

func (o *recordingObserver) ID() string { return o.id }

func (o *recordingObserver) Deliver(event domain.Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gone {
		return domain.ErrObserverGone
	}
	o.events = append(o.events, event)
	return nil
}

func (o *recordingObserver) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gone = true
}

// Events returns everything delivered except the bind-time state events.
func (o *recordingObserver) Events() []domain.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	var events []domain.Event
	for _, event := range o.events {
		if event.Type != domain.EventState {
			events = append(events, event)
		}
	}
	return events
}

func (o *recordingObserver) States() []domain.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	var states []domain.Event
	for _, event := range o.events {
		if event.Type == domain.EventState {
			states = append(states, event)
		}
	}
	return states
}

func (o *recordingObserver) Types() []domain.EventType {
	events := o.Events()
	types := make([]domain.EventType, 0, len(events))
	for _, event := range events {
		types = append(types, event.Type)
	}
	return types
}

func (o *recordingObserver) Count(eventType domain.EventType) int {
	n := 0
	for _, event := range o.Events() {
		if event.Type == eventType {
			n++
		}
	}
	return n
}

// failingObserver rejects every delivery with a transport error.
type failingObserver struct {
	id string
}

func (o failingObserver) ID() string { return o.id }

func (o failingObserver) Deliver(domain.Event) error {
	return errors.New("write: broken pipe")
}

type memoryAccounts struct {
	mu       sync.Mutex
	accounts map[domain.AccountID]domain.Account
	listErr  error
}

var _ ports.AccountRepository = (*memoryAccounts)(nil)

func newMemoryAccounts(accounts ...domain.Account) *memoryAccounts {
	repo := &memoryAccounts{accounts: map[domain.AccountID]domain.Account{}}
	for _, account := range accounts {
		repo.accounts[account.ID] = account
	}
	return repo
}

func (r *memoryAccounts) GetByID(_ context.Context, id domain.AccountID) (domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return domain.Account{}, fmt.Errorf("get account %s: %w", id, domain.ErrAccountNotFound)
	}
	return account, nil
}

func (r *memoryAccounts) List(context.Context) ([]domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	accounts := make([]domain.Account, 0, len(r.accounts))
	for _, account := range r.accounts {
		accounts = append(accounts, account)
	}
	return accounts, nil
}

func (r *memoryAccounts) Save(_ context.Context, account domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[account.ID] = account
	return nil
}

func (r *memoryAccounts) Delete(_ context.Context, id domain.AccountID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[id]; !ok {
		return domain.ErrAccountNotFound
	}
	delete(r.accounts, id)
	return nil
}

func (r *memoryAccounts) Has(id domain.AccountID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.accounts[id]
	return ok
}

type testBroker struct {
	registry *Registry
	client   *fakeClient
	locator  *fakeLocator
	accounts *memoryAccounts
}

type brokerOption func(*fakeClient, *fakeLocator, *fakeRenderer, *RegistryConfig)

func newTestBroker(opts ...brokerOption) *testBroker {
	client := &fakeClient{}
	locator := &fakeLocator{root: "/var/lib/wab/credentials"}
	renderer := &fakeRenderer{}
	accounts := newMemoryAccounts()
	cfg := RegistryConfig{
		Accounts:                 accounts,
		Clock:                    fixedClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		MaxConsecutiveReconnects: DefaultMaxConsecutiveReconnects,
	}
	for _, opt := range opts {
		opt(client, locator, renderer, &cfg)
	}

	return &testBroker{
		registry: NewRegistry(client, locator, *renderer, nil, cfg),
		client:   client,
		locator:  locator,
		accounts: accounts,
	}
}

func (b *testBroker) state(id domain.AccountID) domain.SessionState {
	snapshot, ok := b.registry.Snapshot(id)
	if !ok {
		return domain.SessionTerminated
	}
	return snapshot.State
}
