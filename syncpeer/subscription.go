package syncpeer

import "sync"

// Subscriptions tracks long-running filters a responder is streaming to a
// subscriber: each local append that falls within a subscribed filter's
// scope should trigger a wakeup via NotifyLocalUpdate (§4.8).
type Subscriptions struct {
	mu     sync.Mutex
	active map[string]Filter
	wake   map[string]chan struct{}
}

func NewSubscriptions() *Subscriptions {
	return &Subscriptions{active: make(map[string]Filter), wake: make(map[string]chan struct{})}
}

// Add registers a subscription and returns the channel its loop should
// select on to wake immediately on a local update.
func (s *Subscriptions) Add(f Filter) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[f.ID] = f
	ch := make(chan struct{}, 1)
	s.wake[f.ID] = ch
	return ch
}

// Remove cancels a subscription (Unsubscribe or session teardown); any
// in-flight batch for it is the caller's responsibility to discard.
func (s *Subscriptions) Remove(filterID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, filterID)
	delete(s.wake, filterID)
}

// NotifyLocalUpdate is called by the engine after every local append; it
// wakes every subscription loop so it can re-check whether the update
// falls within its scope.
func (s *Subscriptions) NotifyLocalUpdate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.wake {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *Subscriptions) Filters() []Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Filter, 0, len(s.active))
	for _, f := range s.active {
		out = append(out, f)
	}
	return out
}
