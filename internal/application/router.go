package application

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/bnema/whatsapp-accounts-broker/internal/domain"
	"github.com/bnema/whatsapp-accounts-broker/internal/ports"
)

type binding struct {
	owner    uint64
	observer ports.Observer
}

// Router relays session events to the one observer bound to each account.
// A binding is a relation only: dropping it never affects the session.
type Router struct {
	logger *slog.Logger

	mu       sync.Mutex
	bindings map[domain.AccountID]binding
}

func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Router{
		logger:   logger,
		bindings: map[domain.AccountID]binding{},
	}
}

// Bind makes observer the recipient of events published by owner for id,
// replacing any previous observer.
func (r *Router) Bind(id domain.AccountID, owner uint64, observer ports.Observer) {
	if observer == nil {
		return
	}

	r.mu.Lock()
	previous, had := r.bindings[id]
	r.bindings[id] = binding{owner: owner, observer: observer}
	r.mu.Unlock()

	if had && previous.observer.ID() != observer.ID() {
		r.logger.Debug("observer rebound", "account", id, "previous", previous.observer.ID(), "observer", observer.ID())
	}
}

// Release drops the binding for id if it still belongs to owner.
func (r *Router) Release(id domain.AccountID, owner uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.bindings[id]; ok && current.owner == owner {
		delete(r.bindings, id)
	}
}

// UnbindObserver removes every binding held by observer. Sessions keep
// running.
func (r *Router) UnbindObserver(observer ports.Observer) []domain.AccountID {
	if observer == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var released []domain.AccountID
	for id, current := range r.bindings {
		if current.observer.ID() == observer.ID() {
			delete(r.bindings, id)
			released = append(released, id)
		}
	}

	return released
}

func (r *Router) Observer(id domain.AccountID) (ports.Observer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.bindings[id]
	if !ok {
		return nil, false
	}

	return current.observer, true
}

// Publish delivers event to the observer bound to event.AccountID by owner.
// Events from a stale owner, or with nobody bound, are dropped. A failed
// delivery detaches the observer silently.
func (r *Router) Publish(owner uint64, event domain.Event) {
	r.mu.Lock()
	current, ok := r.bindings[event.AccountID]
	r.mu.Unlock()

	if !ok || current.owner != owner {
		return
	}

	err := current.observer.Deliver(event)
	if err == nil {
		return
	}

	r.mu.Lock()
	if latest, ok := r.bindings[event.AccountID]; ok && latest.owner == owner && latest.observer.ID() == current.observer.ID() {
		delete(r.bindings, event.AccountID)
	}
	r.mu.Unlock()

	if !errors.Is(err, domain.ErrObserverGone) {
		r.logger.Warn("observer delivery failed, detaching", "account", event.AccountID, "observer", current.observer.ID(), "error", err)
	}
}
