package lanebus

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
)

// SetID is a caller-chosen tag grouping related subscriptions. It is echoed
// back to the callback so a subscriber can tell which logical registration
// fired.
type SetID int

// Receiver is the delivery target held by an engine. Engines observe
// liveness through Live and never extend the receiver's lifetime: a record
// whose receiver reports dead is swept lazily, and queued closures re-check
// Live at execution time so a receiver closed while a delivery was in flight
// sees nothing.
type Receiver[K comparable, P any] interface {
	// ReceiverID returns a stable identifier used in logs and lifecycle
	// events.
	ReceiverID() string

	// Live reports whether the receiver still accepts deliveries.
	Live() bool

	// Receive delivers one notification.
	Receive(set SetID, key K, payload P)
}

// record is one subscription entry in an engine's registry.
type record[K comparable, P any] struct {
	lane Lane
	set  SetID
	recv Receiver[K, P]
}

// Handle addresses a single subscription for removal. Handles are single
// use: unsubscribing through the same handle twice is a no-op.
type Handle struct {
	elem  *list.Element
	spent atomic.Bool
}

// Engine is the subscription registry for one (event key, payload) family.
// Notify and Size take a shared lock so publishers on different goroutines
// fan out concurrently; Subscribe and Unsubscribe take the exclusive lock
// and are expected to be rarer.
type Engine[K comparable, P any] struct {
	disp Dispatcher
	set  settings

	mu   sync.RWMutex
	subs map[K]*list.List
}

// NewEngine creates an engine delivering through the given dispatcher.
func NewEngine[K comparable, P any](disp Dispatcher, opts ...Option) *Engine[K, P] {
	return &Engine[K, P]{
		disp: disp,
		set:  newSettings(opts),
		subs: make(map[K]*list.List),
	}
}

// Dispatcher returns the dispatcher this engine delivers through.
func (e *Engine[K, P]) Dispatcher() Dispatcher { return e.disp }

// Subscribe appends a registration for key, delivering on the given lane.
// The returned handle removes exactly this registration.
func (e *Engine[K, P]) Subscribe(lane Lane, set SetID, key K, recv Receiver[K, P]) (*Handle, error) {
	if recv == nil {
		return nil, ErrReceiverNil
	}
	if err := CheckLane(e.disp, lane); err != nil {
		return nil, err
	}

	e.mu.Lock()
	l, ok := e.subs[key]
	if !ok {
		l = list.New()
		e.subs[key] = l
	}
	elem := l.PushBack(record[K, P]{lane: lane, set: set, recv: recv})
	e.mu.Unlock()

	if !ok {
		e.set.emit(context.Background(), EventTypeKeyCreated, map[string]any{"key": key})
	}
	e.set.emit(context.Background(), EventTypeSubscriptionCreated, map[string]any{
		"key":      key,
		"lane":     int(lane),
		"set":      int(set),
		"receiver": recv.ReceiverID(),
	})
	return &Handle{elem: elem}, nil
}

// Unsubscribe erases the registration addressed by handle. Safe to call
// twice; the second call is a no-op. The key entry is removed from the
// registry once its last registration is gone.
func (e *Engine[K, P]) Unsubscribe(key K, h *Handle) {
	if h == nil || !h.spent.CompareAndSwap(false, true) {
		return
	}

	e.mu.Lock()
	removed, keyGone := e.removeLocked(key, h.elem)
	e.mu.Unlock()

	if removed {
		rec := h.elem.Value.(record[K, P])
		e.set.emit(context.Background(), EventTypeSubscriptionRemoved, map[string]any{
			"key":      key,
			"receiver": rec.recv.ReceiverID(),
		})
	}
	if keyGone {
		e.set.emit(context.Background(), EventTypeKeyRemoved, map[string]any{"key": key})
	}
}

// removeLocked erases elem from key's list if it is still linked there.
// Caller holds the exclusive lock.
func (e *Engine[K, P]) removeLocked(key K, elem *list.Element) (removed, keyGone bool) {
	l, ok := e.subs[key]
	if !ok {
		return false, false
	}
	before := l.Len()
	l.Remove(elem)
	removed = l.Len() < before
	if l.Len() == 0 {
		delete(e.subs, key)
		keyGone = true
	}
	return removed, keyGone
}

// Size reports the number of registrations for key.
func (e *Engine[K, P]) Size(key K) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if l, ok := e.subs[key]; ok {
		return l.Len()
	}
	return 0
}

// TotalSize reports the number of registrations across all keys.
func (e *Engine[K, P]) TotalSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	total := 0
	for _, l := range e.subs {
		total += l.Len()
	}
	return total
}

// Notify fans the payload out to every live subscriber of key. The live
// records are snapshotted under the shared lock, then one closure per
// record is submitted to the record's lane; each closure re-checks receiver
// liveness at execution time. Records whose receiver is already dead are
// swept afterwards under the exclusive lock.
//
// Notify never blocks on delivery when a pool dispatcher is used and has no
// failure mode visible to the publisher.
func (e *Engine[K, P]) Notify(key K, payload P) {
	e.mu.RLock()
	l, ok := e.subs[key]
	if !ok {
		e.mu.RUnlock()
		return
	}
	live := make([]record[K, P], 0, l.Len())
	var dead []*list.Element
	for elem := l.Front(); elem != nil; elem = elem.Next() {
		rec := elem.Value.(record[K, P])
		if !rec.recv.Live() {
			dead = append(dead, elem)
			continue
		}
		live = append(live, rec)
	}
	e.mu.RUnlock()

	for _, rec := range live {
		recv := rec.recv
		set := rec.set
		e.disp.Add(rec.lane, func() {
			if recv.Live() {
				recv.Receive(set, key, payload)
			}
		})
	}

	if len(dead) > 0 {
		e.sweep(key, dead)
	}
}

// sweep erases records found dead during a Notify pass.
func (e *Engine[K, P]) sweep(key K, dead []*list.Element) {
	keyGone := false
	e.mu.Lock()
	if l, ok := e.subs[key]; ok {
		for _, elem := range dead {
			l.Remove(elem)
		}
		if l.Len() == 0 {
			delete(e.subs, key)
			keyGone = true
		}
	}
	e.mu.Unlock()

	e.set.log.Debug().Int("count", len(dead)).Msg("swept dead subscriptions")
	if keyGone {
		e.set.emit(context.Background(), EventTypeKeyRemoved, map[string]any{"key": key})
	}
}
