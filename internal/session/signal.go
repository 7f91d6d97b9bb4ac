package session

import (
	"sync"
)

// Expiry describes a session that can no longer be refreshed automatically.
type Expiry struct {
	// OperationID identifies the refresh operation that failed.
	OperationID string
	// Cause is the refresh error (a *refresh.Failure or a client fault).
	Cause error
}

// Signal fans out session expiry events to subscribers.
// Subscribers are called synchronously, in subscription order.
type Signal struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscriber
}

type subscriber struct {
	id uint64
	fn func(Expiry)
}

// NewSignal creates a Signal without subscribers.
func NewSignal() *Signal {
	return &Signal{}
}

// Subscribe registers fn and returns a function that removes it again.
func (s *Signal) Subscribe(fn func(Expiry)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// emit delivers e to all current subscribers. Subscribers may call
// Subscribe or unsubscribe from within the callback.
func (s *Signal) emit(e Expiry) {
	s.mu.Lock()
	subs := make([]subscriber, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(e)
	}
}
