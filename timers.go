package lanebus

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// TimerService publishes notifications on a schedule: recurring publishes
// driven by cron expressions and one-shot delayed publishes routed through
// a dispatcher lane. It is the timer/retry consumer of the delayed-delivery
// facility.
type TimerService[K comparable, P any] struct {
	engine *Engine[K, P]
	cron   *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// NewTimerService creates a timer service publishing through engine.
func NewTimerService[K comparable, P any](engine *Engine[K, P]) *TimerService[K, P] {
	return &TimerService[K, P]{
		engine:  engine,
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
	}
}

// Start begins running recurring timers.
func (t *TimerService[K, P]) Start() {
	t.cron.Start()
}

// Stop halts recurring timers and waits for a tick in flight to finish.
// One-shot timers already handed to the dispatcher are unaffected.
func (t *TimerService[K, P]) Stop() {
	<-t.cron.Stop().Done()
}

// Every schedules a recurring publish of key. spec is a standard cron
// expression (robfig/cron syntax, "@every 5s" included); payload is
// evaluated at each tick. Returns an id for Cancel.
func (t *TimerService[K, P]) Every(spec string, key K, payload func() P) (string, error) {
	entryID, err := t.cron.AddFunc(spec, func() {
		t.engine.Notify(key, payload())
	})
	if err != nil {
		return "", fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}

	id := uuid.New().String()
	t.mu.Lock()
	t.entries[id] = entryID
	t.mu.Unlock()
	return id, nil
}

// Cancel removes a recurring timer. Unknown ids are ignored.
func (t *TimerService[K, P]) Cancel(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entryID, ok := t.entries[id]; ok {
		t.cron.Remove(entryID)
		delete(t.entries, id)
	}
}

// After publishes key once, no sooner than delay from now, scheduling the
// publish on the given dispatcher lane. The delay is a lower bound.
func (t *TimerService[K, P]) After(lane Lane, delay time.Duration, key K, payload func() P) error {
	if err := CheckLane(t.engine.Dispatcher(), lane); err != nil {
		return err
	}
	t.engine.Dispatcher().AddDelayed(lane, delay, func() {
		t.engine.Notify(key, payload())
	})
	return nil
}
