package feed

import (
	"sync"

	"github.com/google/uuid"

	"marketpulse/logger"
	"marketpulse/models"
)

// Listener receives normalized market events. Events are immutable
// snapshots; listeners must not retain and mutate them.
type Listener func(models.MarketEvent)

// Handle identifies one registered listener. Releasing it removes the
// listener; Release is idempotent and safe to call after the Fanout is gone.
type Handle struct {
	id      string
	release func(string)
	once    sync.Once
}

// ID returns the opaque listener identifier.
func (h *Handle) ID() string {
	return h.id
}

// Release removes the listener from the fan-out. Subsequent events are no
// longer delivered to it.
func (h *Handle) Release() {
	h.once.Do(func() {
		if h.release != nil {
			h.release(h.id)
		}
	})
}

// Fanout delivers each event synchronously to all registered listeners in
// registration order. A panicking listener is isolated: the panic is logged
// and delivery continues with the remaining listeners.
type Fanout struct {
	mu        sync.RWMutex
	order     []string
	listeners map[string]Listener
	log       *logger.Entry
}

func NewFanout() *Fanout {
	return &Fanout{
		listeners: make(map[string]Listener),
		log:       logger.GetLogger().WithComponent("feed.fanout"),
	}
}

// Register adds a listener and returns its handle. Nil listeners are
// rejected with a nil handle.
func (f *Fanout) Register(listener Listener) *Handle {
	if listener == nil {
		return nil
	}

	id := uuid.NewString()
	f.mu.Lock()
	f.listeners[id] = listener
	f.order = append(f.order, id)
	f.mu.Unlock()

	return &Handle{id: id, release: f.remove}
}

func (f *Fanout) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.listeners[id]; !ok {
		return
	}
	delete(f.listeners, id)
	for i, existing := range f.order {
		if existing == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}

// Publish delivers the event to every listener before returning, so events
// from a single connection are never interleaved across listeners.
func (f *Fanout) Publish(event models.MarketEvent) {
	f.mu.RLock()
	ids := make([]string, len(f.order))
	copy(ids, f.order)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, f.listeners[id])
	}
	f.mu.RUnlock()

	for i, listener := range listeners {
		f.deliver(ids[i], listener, event)
	}
}

func (f *Fanout) deliver(id string, listener Listener, event models.MarketEvent) {
	defer func() {
		if r := recover(); r != nil {
			f.log.WithFields(logger.Fields{
				"listener": id,
				"panic":    r,
			}).Error("listener panicked during event delivery")
		}
	}()
	listener(event)
}

// Len returns the number of registered listeners.
func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.listeners)
}
