package feed

import "sync"

// Registry tracks the set of symbols currently subscribed to so that
// subscriptions can be replayed after authentication or reconnection, and so
// duplicate subscribe calls are suppressed at the wire level. It survives
// manual disconnects: a later Connect replays it in full.
type Registry struct {
	mu    sync.Mutex
	order []string
	subs  map[string]Subscription
}

func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]Subscription)}
}

// Add tracks a subscription. It returns false when the symbol is already
// tracked, in which case no wire frame must be sent.
func (r *Registry) Add(sub Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[sub.Symbol]; ok {
		return false
	}
	r.subs[sub.Symbol] = sub
	r.order = append(r.order, sub.Symbol)
	return true
}

// Remove stops tracking a symbol. It returns the removed subscription and
// false when the symbol was not tracked, in which case unsubscribing is a
// no-op.
func (r *Registry) Remove(symbol string) (Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[symbol]
	if !ok {
		return Subscription{}, false
	}
	delete(r.subs, symbol)
	for i, s := range r.order {
		if s == symbol {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return sub, true
}

// Snapshot returns all tracked subscriptions in the order they were first
// added. The result is a copy; callers may not mutate registry state through
// it.
func (r *Registry) Snapshot() []Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Subscription, 0, len(r.order))
	for _, symbol := range r.order {
		out = append(out, r.subs[symbol])
	}
	return out
}

// Len returns the number of tracked symbols.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Clear drops all tracked subscriptions.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.order = nil
	r.subs = make(map[string]Subscription)
	r.mu.Unlock()
}
