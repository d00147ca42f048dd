package core

import "sync"

// Emitter broadcasts in-process events to subscribers. Slow consumers
// drop events rather than block the pipeline.
type Emitter struct {
	mu   sync.RWMutex
	subs []chan Event
}

// Events returns a new subscriber channel.
func (e *Emitter) Events() <-chan Event {
	ch := make(chan Event, 100)
	e.mu.Lock()
	e.subs = append(e.subs, ch)
	e.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel created by Events().
// The channel is not closed; callers must stop reading before calling
// Unsubscribe.
func (e *Emitter) Unsubscribe(ch <-chan Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, sub := range e.subs {
		if sub == ch {
			e.subs = append(e.subs[:i], e.subs[i+1:]...)
			return
		}
	}
}

// Emit emits an event to all subscribers.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	subs := make([]chan Event, len(e.subs))
	copy(subs, e.subs)
	e.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			// Drop if full - this prevents blocking on slow consumers
		}
	}
}
