package application

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"

	"github.com/bnema/whatsapp-accounts-broker/internal/domain"
	"github.com/bnema/whatsapp-accounts-broker/internal/ports"
	"golang.org/x/sync/errgroup"
)

const DefaultMaxConsecutiveReconnects = 5

type RegistryConfig struct {
	// Accounts journals accounts that reached Active. Optional.
	Accounts ports.AccountRepository
	Clock    ports.Clock
	Logger   *slog.Logger
	// MaxConsecutiveReconnects bounds reconnect attempts that never reach
	// Active. Zero disables the bound.
	MaxConsecutiveReconnects int
}

// Registry maps account ids to their live session. It is the only shared
// mutable state of the broker; its lock covers map operations only.
type Registry struct {
	client        ports.ProtocolClient
	locator       ports.CredentialLocator
	renderer      ports.ChallengeRenderer
	router        *Router
	accounts      ports.AccountRepository
	clock         ports.Clock
	logger        *slog.Logger
	maxReconnects int

	mu       sync.Mutex
	sessions map[domain.AccountID]*Session
	serial   uint64
	closed   bool
}

func NewRegistry(client ports.ProtocolClient, locator ports.CredentialLocator, renderer ports.ChallengeRenderer, router *Router, cfg RegistryConfig) *Registry {
	if cfg.Clock == nil {
		cfg.Clock = ports.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if router == nil {
		router = NewRouter(cfg.Logger)
	}

	return &Registry{
		client:        client,
		locator:       locator,
		renderer:      renderer,
		router:        router,
		accounts:      cfg.Accounts,
		clock:         cfg.Clock,
		logger:        cfg.Logger,
		maxReconnects: cfg.MaxConsecutiveReconnects,
		sessions:      map[domain.AccountID]*Session{},
	}
}

func (r *Registry) Router() *Router {
	return r.router
}

// GetOrCreate returns the live session for id, binding observer to it, or
// creates one and starts its connection sequence. Concurrent callers for
// the same id all end up with the same session. A nil observer leaves the
// current binding untouched.
func (r *Registry) GetOrCreate(ctx context.Context, id domain.AccountID, observer ports.Observer) (SessionSnapshot, error) {
	id, err := domain.ParseAccountID(string(id))
	if err != nil {
		return SessionSnapshot{}, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return SessionSnapshot{}, err
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return SessionSnapshot{}, domain.ErrRegistryClosed
		}
		session, ok := r.sessions[id]
		created := false
		if !ok {
			r.serial++
			session = newSession(r, id, r.serial)
			r.sessions[id] = session
			created = true
		}
		r.mu.Unlock()

		snapshot, err := session.attach(observer)
		if created {
			r.logger.Info("session created", "account", id)
			session.start()
		}
		if errors.Is(err, domain.ErrSessionEnded) {
			// The previous session is still releasing its handle; the
			// replacement must not start before it is gone.
			select {
			case <-session.Done():
			case <-ctx.Done():
				return SessionSnapshot{}, ctx.Err()
			}
			r.forget(session)
			continue
		}
		if err != nil {
			return SessionSnapshot{}, err
		}

		return snapshot, nil
	}
}

// Replace terminates any live session for id and starts a fresh one.
func (r *Registry) Replace(ctx context.Context, id domain.AccountID, observer ports.Observer) (SessionSnapshot, error) {
	id, err := domain.ParseAccountID(string(id))
	if err != nil {
		return SessionSnapshot{}, err
	}
	if err := r.Terminate(ctx, id, domain.CloseRestart); err != nil {
		return SessionSnapshot{}, fmt.Errorf("terminate previous session: %w", err)
	}

	return r.GetOrCreate(ctx, id, observer)
}

// Terminate drives the session for id to Terminated and waits for its
// handle to be released. Unknown ids are a no-op.
func (r *Registry) Terminate(ctx context.Context, id domain.AccountID, reason domain.CloseReason) error {
	r.mu.Lock()
	session, ok := r.sessions[id]
	r.mu.Unlock()

	if !ok {
		return nil
	}

	if err := session.stop(ctx, reason, reason == domain.CloseLogout); err != nil {
		return err
	}
	r.forget(session)

	return nil
}

// TerminateIf terminates the session for id only if when still holds for
// its state at the moment the request is processed, and reports whether it
// ended. Unknown ids are a no-op.
func (r *Registry) TerminateIf(ctx context.Context, id domain.AccountID, reason domain.CloseReason, when func(SessionSnapshot) bool) (bool, error) {
	r.mu.Lock()
	session, ok := r.sessions[id]
	r.mu.Unlock()

	if !ok {
		return false, nil
	}

	ended, err := session.stopIf(ctx, reason, when)
	if err != nil {
		return false, err
	}
	if ended {
		r.forget(session)
	}

	return ended, nil
}

// Logout unlinks the account when possible and terminates its session.
func (r *Registry) Logout(ctx context.Context, id domain.AccountID) error {
	return r.Terminate(ctx, id, domain.CloseLogout)
}

func (r *Registry) Snapshot(id domain.AccountID) (SessionSnapshot, bool) {
	r.mu.Lock()
	session, ok := r.sessions[id]
	r.mu.Unlock()

	if !ok {
		return SessionSnapshot{}, false
	}

	snapshot := session.Snapshot()
	if !snapshot.State.Live() {
		return SessionSnapshot{}, false
	}

	return snapshot, true
}

// Snapshots returns the live sessions ordered by account id.
func (r *Registry) Snapshots() []SessionSnapshot {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.mu.Unlock()

	snapshots := make([]SessionSnapshot, 0, len(sessions))
	for _, session := range sessions {
		snapshot := session.Snapshot()
		if snapshot.State.Live() {
			snapshots = append(snapshots, snapshot)
		}
	}

	slices.SortFunc(snapshots, func(a, b SessionSnapshot) int {
		return cmp.Compare(a.AccountID, b.AccountID)
	})

	return snapshots
}

// List captures the live sessions now and yields them lazily. The sequence
// can be iterated any number of times and always replays the same capture.
func (r *Registry) List() iter.Seq2[domain.AccountID, domain.SessionState] {
	snapshots := r.Snapshots()

	return func(yield func(domain.AccountID, domain.SessionState) bool) {
		for _, snapshot := range snapshots {
			if !yield(snapshot.AccountID, snapshot.State) {
				return
			}
		}
	}
}

// Restore starts a headless session for every journaled account.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	if r.accounts == nil {
		return 0, nil
	}

	accounts, err := r.accounts.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list journaled accounts: %w", err)
	}

	restored := 0
	var errs []error
	for _, account := range accounts {
		if _, err := r.GetOrCreate(ctx, account.ID, nil); err != nil {
			errs = append(errs, fmt.Errorf("restore account %s: %w", account.ID, err))
			continue
		}
		restored++
	}

	return restored, errors.Join(errs...)
}

// Close terminates every session, keeping stored credentials, and rejects
// further requests.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.mu.Unlock()

	group, groupCtx := errgroup.WithContext(ctx)
	for _, session := range sessions {
		group.Go(func() error {
			if err := session.stop(groupCtx, domain.CloseShutdown, false); err != nil {
				return err
			}
			r.forget(session)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return fmt.Errorf("drain sessions: %w", err)
	}

	return nil
}

// forget removes session from the map if it is still the current entry.
func (r *Registry) forget(session *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.sessions[session.id]; ok && current == session {
		delete(r.sessions, session.id)
	}
}
