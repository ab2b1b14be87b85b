package lanebus

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Callback processes one notification. It receives the set id recorded at
// subscribe time, mutable access to the subscriber's state, the event key
// and the payload. At most one callback runs per subscriber at a time.
type Callback[K comparable, S, P any] func(set SetID, state *S, key K, payload P)

// registration remembers one engine entry for close-time cleanup.
type registration[K comparable] struct {
	key    K
	handle *Handle
}

// Subscriber owns user state of type S and a callback, and registers itself
// in an engine under one or more (key, lane) pairs. The engine observes it
// through the Receiver interface and never keeps it alive: Close marks the
// subscriber dead before removing its registrations, so deliveries already
// queued on a lane find it dead and become no-ops.
type Subscriber[K comparable, S, P any] struct {
	id     string
	engine *Engine[K, P]

	// stateMu serializes callbacks and guards state and cb. Close holds it
	// briefly so that no callback can begin or still be running once Close
	// returns.
	stateMu sync.Mutex
	state   S
	cb      Callback[K, S, P]

	closed atomic.Bool

	regMu sync.Mutex
	regs  []registration[K]
}

// NewSubscriber creates a subscriber bound to engine, owning the given
// initial state. Set a callback with SetCallback before subscribing.
func NewSubscriber[K comparable, S, P any](engine *Engine[K, P], state S) *Subscriber[K, S, P] {
	return &Subscriber[K, S, P]{
		id:     uuid.New().String(),
		engine: engine,
		state:  state,
	}
}

// ID returns the subscriber's unique identifier.
func (s *Subscriber[K, S, P]) ID() string { return s.id }

// SetCallback installs the callback. It must be called before the first
// Subscribe; changing the callback after a subscription exists is refused.
func (s *Subscriber[K, S, P]) SetCallback(cb Callback[K, S, P]) error {
	if cb == nil {
		return ErrCallbackNil
	}
	s.regMu.Lock()
	subscribed := len(s.regs) > 0
	s.regMu.Unlock()
	if subscribed {
		return ErrCallbackBound
	}

	s.stateMu.Lock()
	s.cb = cb
	s.stateMu.Unlock()
	return nil
}

// Subscribe registers this subscriber for key, delivering on the given
// lane. The set id is echoed back to the callback. A subscriber may hold
// any number of registrations, including several for the same key.
func (s *Subscriber[K, S, P]) Subscribe(lane Lane, set SetID, key K) error {
	if s.closed.Load() {
		return ErrSubscriberClosed
	}
	s.stateMu.Lock()
	hasCallback := s.cb != nil
	s.stateMu.Unlock()
	if !hasCallback {
		return ErrCallbackNotSet
	}

	h, err := s.engine.Subscribe(lane, set, key, s)
	if err != nil {
		return err
	}

	s.regMu.Lock()
	s.regs = append(s.regs, registration[K]{key: key, handle: h})
	s.regMu.Unlock()
	return nil
}

// Unsubscribe removes every registration this subscriber holds for key.
func (s *Subscriber[K, S, P]) Unsubscribe(key K) {
	s.regMu.Lock()
	kept := s.regs[:0]
	var drop []registration[K]
	for _, reg := range s.regs {
		if reg.key == key {
			drop = append(drop, reg)
			continue
		}
		kept = append(kept, reg)
	}
	s.regs = kept
	s.regMu.Unlock()

	for _, reg := range drop {
		s.engine.Unsubscribe(reg.key, reg.handle)
	}
}

// Close releases the subscriber. It marks the subscriber dead, waits for a
// callback in flight to finish, then removes every registration from the
// engine. Deliveries still queued on a lane become no-ops. Idempotent.
func (s *Subscriber[K, S, P]) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	// Barrier: a callback running right now completes before Close returns;
	// any delivery arriving later observes the closed flag.
	s.stateMu.Lock()
	s.stateMu.Unlock() //nolint:staticcheck // empty critical section is the barrier

	s.regMu.Lock()
	regs := s.regs
	s.regs = nil
	s.regMu.Unlock()

	for _, reg := range regs {
		s.engine.Unsubscribe(reg.key, reg.handle)
	}
}

// WithState runs fn with exclusive access to the subscriber's state, under
// the same lock callbacks hold.
func (s *Subscriber[K, S, P]) WithState(fn func(state *S)) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	fn(&s.state)
}

// ReceiverID implements Receiver.
func (s *Subscriber[K, S, P]) ReceiverID() string { return s.id }

// Live implements Receiver.
func (s *Subscriber[K, S, P]) Live() bool { return !s.closed.Load() }

// Receive implements Receiver. It is invoked on the lane chosen at
// subscribe time.
func (s *Subscriber[K, S, P]) Receive(set SetID, key K, payload P) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.closed.Load() || s.cb == nil {
		return
	}
	s.cb(set, &s.state, key, payload)
}
