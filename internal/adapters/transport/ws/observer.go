package ws

import (
	"sync"

	"github.com/bnema/whatsapp-accounts-broker/internal/domain"
	"github.com/bnema/whatsapp-accounts-broker/internal/ports"
)

const DefaultQueueSize = 64

// connObserver queues events for one socket. Deliver never blocks: an
// observer whose queue overflows is treated as gone, and the router drops
// its bindings on the next delivery attempt.
type connObserver struct {
	id    string
	queue chan domain.Event
	gone  chan struct{}

	mu       sync.Mutex
	closed   bool
	overflow bool
}

var _ ports.Observer = (*connObserver)(nil)

func newConnObserver(id string, size int) *connObserver {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &connObserver{
		id:    id,
		queue: make(chan domain.Event, size),
		gone:  make(chan struct{}),
	}
}

func (o *connObserver) ID() string { return o.id }

func (o *connObserver) Deliver(event domain.Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return domain.ErrObserverGone
	}

	select {
	case o.queue <- event:
		return nil
	default:
		o.overflow = true
		o.closeLocked()
		return domain.ErrObserverGone
	}
}

func (o *connObserver) Events() <-chan domain.Event {
	return o.queue
}

// Gone is closed once the observer stops accepting events.
func (o *connObserver) Gone() <-chan struct{} {
	return o.gone
}

func (o *connObserver) Overflowed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.overflow
}

func (o *connObserver) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closeLocked()
}

func (o *connObserver) closeLocked() {
	if !o.closed {
		o.closed = true
		close(o.gone)
	}
}
