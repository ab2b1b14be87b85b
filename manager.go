package lanebus

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// engineKey indexes memoized engines by their (event key type, payload type)
// signature.
type engineKey struct {
	key     reflect.Type
	payload reflect.Type
}

func (k engineKey) String() string {
	return fmt.Sprintf("%s/%s", k.key, k.payload)
}

// counter is the non-generic view the manager keeps of each engine.
type counter interface {
	TotalSize() int
}

// Manager owns the dispatcher and a type-indexed collection of engines.
// Engines are created lazily on first request and memoized, so repeated
// EngineOf calls with the same type parameters return the same engine.
type Manager struct {
	disp Dispatcher
	set  settings

	mu      sync.Mutex
	engines map[engineKey]counter

	disposeOnce sync.Once
}

// NewManager creates a manager owning the given dispatcher.
func NewManager(disp Dispatcher, opts ...Option) *Manager {
	return &Manager{
		disp:    disp,
		set:     newSettings(opts),
		engines: make(map[engineKey]counter),
	}
}

// Dispatcher returns the dispatcher owned by this manager.
func (m *Manager) Dispatcher() Dispatcher { return m.disp }

// Dispose stops the dispatcher lanes, then drops all engines. Idempotent.
func (m *Manager) Dispose() {
	m.disposeOnce.Do(func() {
		m.disp.Dispose()

		m.mu.Lock()
		m.engines = make(map[engineKey]counter)
		m.mu.Unlock()

		m.set.emit(context.Background(), EventTypeManagerDisposed, nil)
	})
}

// ManagerStats aggregates lane counters and per-engine subscription counts.
type ManagerStats struct {
	Lanes   []LaneStats    `json:"lanes"`
	Engines map[string]int `json:"engines"`
}

// Stats returns a snapshot of the dispatcher lanes and every engine's total
// registration count, keyed by the engine's type signature.
func (m *Manager) Stats() ManagerStats {
	stats := ManagerStats{
		Lanes:   m.disp.Stats(),
		Engines: make(map[string]int),
	}
	m.mu.Lock()
	for ek, eng := range m.engines {
		stats.Engines[ek.String()] = eng.TotalSize()
	}
	m.mu.Unlock()
	return stats
}

// EngineOf returns the manager's engine for the (K, P) family, creating it
// on first request.
func EngineOf[K comparable, P any](m *Manager) *Engine[K, P] {
	ek := engineKey{key: typeOf[K](), payload: typeOf[P]()}

	m.mu.Lock()
	defer m.mu.Unlock()
	if eng, ok := m.engines[ek]; ok {
		return eng.(*Engine[K, P])
	}
	eng := NewEngine[K, P](m.disp, m.set.asOptions()...)
	m.engines[ek] = eng
	return eng
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

var (
	defaultOnce sync.Once
	defaultMgr  *Manager
)

// Default returns the process-wide manager, creating it on first access
// with DefaultConfig. Prefer constructing and injecting a Manager; the
// accessor exists as a convenience at the application entry point. Dispose
// it at process shutdown after all subscriber handles are closed.
func Default() *Manager {
	defaultOnce.Do(func() {
		disp, err := NewPoolDispatcher(DefaultConfig())
		if err != nil {
			// DefaultConfig always validates.
			panic(err)
		}
		defaultMgr = NewManager(disp)
	})
	return defaultMgr
}
