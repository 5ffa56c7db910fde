package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bnema/whatsapp-accounts-broker/internal/domain"
	"github.com/bnema/whatsapp-accounts-broker/internal/ports"
)

const (
	logoutTimeout  = 10 * time.Second
	journalTimeout = 5 * time.Second
)

type signal interface{}

type startSignal struct{}

type connectionSignal struct {
	generation uint64
	update     domain.ConnectionUpdate
}

type challengeSignal struct {
	generation uint64
	challenge  string
}

type messageSignal struct {
	generation uint64
	message    domain.InboundMessage
}

type stopSignal struct {
	reason domain.CloseReason
	logout bool
	// when, if set, is checked against the session at processing time;
	// skipped is closed instead of terminating when it reports false.
	when    func(SessionSnapshot) bool
	skipped chan struct{}
}

// SessionSnapshot is a point-in-time view of one session.
type SessionSnapshot struct {
	AccountID domain.AccountID
	State     domain.SessionState
	QRCode    string
	Since     time.Time
}

// SessionSummary is the listing view of a session, as served over HTTP.
type SessionSummary struct {
	AccountID domain.AccountID    `json:"id"`
	State     domain.SessionState `json:"state"`
	Ready     bool                `json:"ready"`
	Since     time.Time           `json:"since"`
}

func (s SessionSnapshot) Summary() SessionSummary {
	return SessionSummary{
		AccountID: s.AccountID,
		State:     s.State,
		Ready:     s.State == domain.SessionActive,
		Since:     s.Since,
	}
}

// Session owns the lifecycle of one account: its state machine and its
// single protocol handle. Every transition happens on the session's own
// goroutine, fed by its mailbox.
type Session struct {
	id       domain.AccountID
	serial   uint64
	registry *Registry
	logger   *slog.Logger
	inbox    *mailbox
	done     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc

	mu            sync.Mutex
	state         domain.SessionState
	since         time.Time
	lastQR        string
	handle        ports.ProtocolHandle
	generation    uint64
	location      string
	reconnects    int
	stopRequested bool
}

func newSession(r *Registry, id domain.AccountID, serial uint64) *Session {
	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		id:       id,
		serial:   serial,
		registry: r,
		logger:   r.logger.With("account", id),
		inbox:    newMailbox(),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		state:    domain.SessionIdle,
		since:    r.clock.Now(),
	}
}

func (s *Session) ID() domain.AccountID { return s.id }

// Done is closed once the session has terminated and released its handle.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() SessionSnapshot {
	return SessionSnapshot{
		AccountID: s.id,
		State:     s.state,
		QRCode:    s.lastQR,
		Since:     s.since,
	}
}

// attach binds observer and hands it a state event first. Binding under the
// session lock guarantees the observer sees every event emitted after the
// snapshot and none before it.
func (s *Session) attach(observer ports.Observer) (SessionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == domain.SessionTerminated || s.stopRequested {
		return SessionSnapshot{}, domain.ErrSessionEnded
	}

	snapshot := s.snapshotLocked()
	if observer != nil {
		s.registry.router.Bind(s.id, s.serial, observer)
		s.publishLocked(domain.Event{
			Type:      domain.EventState,
			AccountID: s.id,
			State:     snapshot.State,
			QRCode:    snapshot.QRCode,
			Time:      s.registry.clock.Now(),
		})
	}

	return snapshot, nil
}

func (s *Session) start() {
	go s.run()
	s.inbox.post(startSignal{})
}

// stop asks the session to terminate and waits until its handle is released.
func (s *Session) stop(ctx context.Context, reason domain.CloseReason, logout bool) error {
	s.mu.Lock()
	if s.state == domain.SessionTerminated {
		s.mu.Unlock()
		return nil
	}
	s.stopRequested = true
	s.mu.Unlock()

	s.inbox.post(stopSignal{reason: reason, logout: logout})

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop session %s: %w", s.id, ctx.Err())
	}
}

// stopIf terminates the session only if when still holds once every signal
// queued before it has been processed. It reports whether the session ended
// while the request was pending.
func (s *Session) stopIf(ctx context.Context, reason domain.CloseReason, when func(SessionSnapshot) bool) (bool, error) {
	skipped := make(chan struct{})
	if !s.inbox.post(stopSignal{reason: reason, when: when, skipped: skipped}) {
		<-s.done
		return false, nil
	}

	select {
	case <-s.done:
		return true, nil
	case <-skipped:
		return false, nil
	case <-ctx.Done():
		return false, fmt.Errorf("stop session %s: %w", s.id, ctx.Err())
	}
}

func (s *Session) run() {
	defer close(s.done)

	for {
		sig, ok := s.inbox.next()
		if !ok {
			return
		}
		if s.dispatch(sig) {
			return
		}
	}
}

// dispatch processes one signal and reports whether the session is over.
func (s *Session) dispatch(sig signal) (ended bool) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error("session handler panicked", "panic", recovered)
			s.mu.Lock()
			s.publishLocked(s.errorEvent(fmt.Sprintf("internal error: %v", recovered)))
			s.terminateLocked(domain.CloseInternalError, false)
			s.mu.Unlock()
			ended = true
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	switch sig := sig.(type) {
	case startSignal:
		s.handleStartLocked()
	case connectionSignal:
		if s.currentLocked(sig.generation) {
			s.handleConnectionLocked(sig.update)
		}
	case challengeSignal:
		if s.currentLocked(sig.generation) {
			s.handleChallengeLocked(sig.challenge)
		}
	case messageSignal:
		if s.currentLocked(sig.generation) {
			s.publishLocked(domain.Event{
				Type:      domain.EventMessage,
				AccountID: s.id,
				Message:   domain.NewMessageEvent(sig.message),
				Time:      s.registry.clock.Now(),
			})
		}
	case stopSignal:
		if sig.when != nil && !sig.when(s.snapshotLocked()) {
			close(sig.skipped)
			break
		}
		s.terminateLocked(sig.reason, sig.logout)
	default:
		s.logger.Warn("unknown session signal", "signal", fmt.Sprintf("%T", sig))
	}

	return s.state == domain.SessionTerminated
}

func (s *Session) currentLocked(generation uint64) bool {
	if s.state == domain.SessionTerminated {
		return false
	}
	if generation != s.generation {
		s.logger.Debug("dropping event from stale connection attempt", "generation", generation, "current", s.generation)
		return false
	}

	return true
}

func (s *Session) handleStartLocked() {
	if s.state != domain.SessionIdle || s.stopRequested {
		return
	}

	location, err := s.registry.locator.Locate(s.ctx, s.id)
	if err != nil {
		s.failLocked(domain.CloseSetupFailed, fmt.Errorf("locate credential store: %w", err))
		return
	}
	s.location = location

	if err := s.connectLocked(); err != nil {
		s.failLocked(closeReasonFor(err), err)
	}
}

var errStart = errors.New("start connection")

func closeReasonFor(err error) domain.CloseReason {
	if errors.Is(err, errStart) {
		return domain.CloseConnectFailed
	}

	return domain.CloseSetupFailed
}

// connectLocked opens a new connection attempt on the stored credential
// location. The previous handle must already be released.
func (s *Session) connectLocked() error {
	s.generation++
	generation := s.generation

	handle, err := s.registry.client.Connect(s.ctx, s.id, s.location)
	if err != nil {
		return fmt.Errorf("connect protocol client: %w", err)
	}
	s.handle = handle

	handle.OnStateChange(func(update domain.ConnectionUpdate) {
		s.inbox.post(connectionSignal{generation: generation, update: update})
	})
	handle.OnChallenge(func(challenge string) {
		s.inbox.post(challengeSignal{generation: generation, challenge: challenge})
	})
	handle.OnMessage(func(message domain.InboundMessage) {
		s.inbox.post(messageSignal{generation: generation, message: message})
	})

	if err := handle.Start(s.ctx); err != nil {
		return fmt.Errorf("%w: %w", errStart, err)
	}

	s.logger.Debug("connection attempt started", "generation", generation, "location", s.location)
	return nil
}

func (s *Session) handleConnectionLocked(update domain.ConnectionUpdate) {
	switch update.Status {
	case domain.ConnectionAuthenticated:
		switch s.state {
		case domain.SessionIdle, domain.SessionAwaitingScan, domain.SessionReconnecting:
			s.markAuthenticatedLocked()
		default:
			s.logger.Debug("ignoring authenticated report", "state", s.state)
		}
	case domain.ConnectionOpen:
		switch s.state {
		case domain.SessionActive:
			return
		case domain.SessionAwaitingScan:
			s.markAuthenticatedLocked()
		}
		s.markActiveLocked()
	case domain.ConnectionClosed:
		s.handleCloseLocked(update.Reason)
	default:
		s.logger.Warn("unknown connection status", "status", update.Status)
	}
}

func (s *Session) markAuthenticatedLocked() {
	s.lastQR = ""
	s.transitionLocked(domain.SessionAuthenticated)
	s.publishLocked(domain.Event{Type: domain.EventAuthenticated, AccountID: s.id, Time: s.registry.clock.Now()})
}

func (s *Session) markActiveLocked() {
	s.lastQR = ""
	s.reconnects = 0
	s.transitionLocked(domain.SessionActive)
	s.publishLocked(domain.Event{Type: domain.EventReady, AccountID: s.id, Time: s.registry.clock.Now()})
	s.recordActiveLocked()
}

func (s *Session) handleCloseLocked(reason domain.CloseReason) {
	if reason == "" {
		reason = domain.CloseConnectionLost
	}

	if reason.Terminal() {
		s.terminateLocked(reason, false)
		return
	}

	switch s.state {
	case domain.SessionIdle:
		s.failLocked(domain.CloseConnectFailed, fmt.Errorf("connection closed before authentication: %s", reason))
	case domain.SessionAwaitingScan:
		s.terminateLocked(reason, false)
	default:
		s.reconnectLocked(reason)
	}
}

// reconnectLocked makes exactly one new connection attempt for one close
// report.
func (s *Session) reconnectLocked(reason domain.CloseReason) {
	s.reconnects++
	if limit := s.registry.maxReconnects; limit > 0 && s.reconnects > limit {
		s.logger.Warn("reconnect limit reached", "attempts", s.reconnects-1, "reason", reason)
		s.terminateLocked(domain.CloseReconnectLimit, false)
		return
	}

	s.logger.Info("connection lost, reconnecting", "reason", reason, "attempt", s.reconnects)
	s.releaseHandleLocked()
	s.transitionLocked(domain.SessionReconnecting)

	if err := s.connectLocked(); err != nil {
		s.failLocked(closeReasonFor(err), err)
	}
}

func (s *Session) handleChallengeLocked(challenge string) {
	rendered, err := s.registry.renderer.Render(challenge)
	if err != nil {
		s.logger.Warn("render challenge failed", "error", err)
		s.publishLocked(s.errorEvent(fmt.Sprintf("render challenge: %v", err)))
		return
	}

	s.lastQR = rendered
	s.transitionLocked(domain.SessionAwaitingScan)
	s.publishLocked(domain.Event{
		Type:      domain.EventChallengeIssued,
		AccountID: s.id,
		QRCode:    rendered,
		Time:      s.registry.clock.Now(),
	})
}

func (s *Session) failLocked(reason domain.CloseReason, err error) {
	s.logger.Error("session failed", "reason", reason, "error", err)
	s.publishLocked(s.errorEvent(err.Error()))
	s.terminateLocked(reason, false)
}

// terminateLocked releases the handle exactly once, forgets the session and
// tells the observer, in that order, so a replacement can never overlap the
// old connection.
func (s *Session) terminateLocked(reason domain.CloseReason, logout bool) {
	if s.state == domain.SessionTerminated {
		return
	}

	if logout && s.state.Authenticated() {
		s.logoutLocked()
	}
	s.releaseHandleLocked()

	if reason.PurgesCredentials() {
		s.purgeLocked()
	}

	s.lastQR = ""
	s.transitionLocked(domain.SessionTerminated)
	s.cancel()
	s.registry.forget(s)

	s.publishLocked(domain.Event{
		Type:      domain.EventDisconnected,
		AccountID: s.id,
		Reason:    reason,
		Time:      s.registry.clock.Now(),
	})
	s.registry.router.Release(s.id, s.serial)
	s.inbox.close()

	s.logger.Info("session terminated", "reason", reason)
}

func (s *Session) logoutLocked() {
	logouter, ok := s.handle.(ports.Logouter)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, logoutTimeout)
	defer cancel()

	if err := logouter.Logout(ctx); err != nil {
		s.logger.Warn("protocol logout failed", "error", err)
		s.publishLocked(s.errorEvent(fmt.Sprintf("logout: %v", err)))
	}
}

func (s *Session) releaseHandleLocked() {
	if s.handle == nil {
		return
	}

	handle := s.handle
	s.handle = nil
	handle.End()
}

func (s *Session) purgeLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()

	if s.location != "" {
		if err := s.registry.locator.Purge(ctx, s.id); err != nil {
			s.logger.Warn("purge credential store failed", "error", err)
		}
	}

	if s.registry.accounts == nil {
		return
	}
	if err := s.registry.accounts.Delete(ctx, s.id); err != nil && !errors.Is(err, domain.ErrAccountNotFound) {
		s.logger.Warn("remove account record failed", "error", err)
	}
}

func (s *Session) recordActiveLocked() {
	if s.registry.accounts == nil {
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, journalTimeout)
	defer cancel()

	now := s.registry.clock.Now()
	account, err := s.registry.accounts.GetByID(ctx, s.id)
	if err != nil {
		if !errors.Is(err, domain.ErrAccountNotFound) {
			s.logger.Warn("load account record failed", "error", err)
			return
		}
		account = domain.Account{ID: s.id, CreatedAt: now}
	}

	account.CredentialLocation = s.location
	account.LastState = domain.SessionActive
	account.LastActiveAt = now

	if err := s.registry.accounts.Save(ctx, account); err != nil {
		s.logger.Warn("save account record failed", "error", err)
	}
}

func (s *Session) transitionLocked(next domain.SessionState) {
	if s.state == next {
		return
	}

	s.logger.Debug("session transition", "from", s.state, "to", next)
	s.state = next
	s.since = s.registry.clock.Now()
}

func (s *Session) publishLocked(event domain.Event) {
	s.registry.router.Publish(s.serial, event)
}

func (s *Session) errorEvent(message string) domain.Event {
	return domain.Event{
		Type:      domain.EventError,
		AccountID: s.id,
		Error:     message,
		Time:      s.registry.clock.Now(),
	}
}
