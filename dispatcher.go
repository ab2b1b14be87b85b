package lanebus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Lane names one of the dispatcher's worker lanes. Valid values are in
// [0, LaneCount).
type Lane int

// Dispatcher routes tasks to execution lanes. The pool variant owns one
// worker goroutine per lane; the sync variant runs tasks inline on the
// caller's goroutine.
//
// Add and AddDelayed panic when the lane is out of range — lane indices are
// fixed at construction time and a bad index is a programmer error. After
// Dispose both return silently without running the task.
type Dispatcher interface {
	// Add routes task to the given lane for immediate execution. Tasks
	// submitted to the same lane run in submission order.
	Add(lane Lane, task Task)

	// AddDelayed routes task to the given lane to run no sooner than delay
	// from now. The delay is a lower bound.
	AddDelayed(lane Lane, delay time.Duration, task Task)

	// LaneCount reports the fixed number of lanes.
	LaneCount() int

	// Stats returns a snapshot of per-lane counters.
	Stats() []LaneStats

	// Dispose stops all lanes and waits for their workers to exit. No new
	// tasks are accepted afterwards. Idempotent.
	Dispose()
}

// CheckLane reports whether lane is valid for the dispatcher, returning
// ErrLaneOutOfRange when it is not. Subscription entry points use it to
// reject bad lanes before any task is routed.
func CheckLane(d Dispatcher, lane Lane) error {
	if lane < 0 || int(lane) >= d.LaneCount() {
		return fmt.Errorf("%w: lane %d, have %d lanes", ErrLaneOutOfRange, lane, d.LaneCount())
	}
	return nil
}

// PoolDispatcher owns a fixed set of single-threaded worker lanes.
type PoolDispatcher struct {
	lanes           []*laneWorker
	shutdownTimeout time.Duration
	disposed        atomic.Bool
	disposeOnce     sync.Once
	set             settings
}

// NewPoolDispatcher creates a dispatcher with cfg.Lanes worker lanes. A nil
// cfg uses DefaultConfig.
func NewPoolDispatcher(cfg *Config, opts ...Option) (*PoolDispatcher, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &PoolDispatcher{
		lanes:           make([]*laneWorker, cfg.Lanes),
		shutdownTimeout: cfg.ShutdownTimeout,
		set:             newSettings(opts),
	}
	for i := range d.lanes {
		d.lanes[i] = newLaneWorker(i, cfg.QueueCapacity, d.set.log)
	}
	return d, nil
}

// Add routes task to the given lane for immediate execution.
func (d *PoolDispatcher) Add(lane Lane, task Task) {
	d.AddDelayed(lane, 0, task)
}

// AddDelayed routes task to the given lane to run no sooner than delay from
// now.
func (d *PoolDispatcher) AddDelayed(lane Lane, delay time.Duration, task Task) {
	d.mustLane(lane)
	if d.disposed.Load() {
		return
	}
	d.lanes[lane].push(delay, task)
}

// LaneCount reports the fixed number of lanes.
func (d *PoolDispatcher) LaneCount() int { return len(d.lanes) }

// Stats returns a snapshot of per-lane counters.
func (d *PoolDispatcher) Stats() []LaneStats {
	stats := make([]LaneStats, len(d.lanes))
	for i, w := range d.lanes {
		stats[i] = w.stats()
	}
	return stats
}

// Dispose stops all lanes. It returns once every worker goroutine has
// exited, or after the configured shutdown timeout. Pending tasks are
// dropped; in-flight tasks complete first.
func (d *PoolDispatcher) Dispose() {
	d.disposeOnce.Do(func() {
		d.disposed.Store(true)
		for _, w := range d.lanes {
			w.signalStop()
		}

		joined := make(chan struct{})
		go func() {
			for _, w := range d.lanes {
				<-w.done
			}
			close(joined)
		}()

		if d.shutdownTimeout <= 0 {
			<-joined
		} else {
			select {
			case <-joined:
			case <-time.After(d.shutdownTimeout):
				d.set.log.Warn().Dur("timeout", d.shutdownTimeout).Msg("dispatcher dispose timed out")
			}
		}

		d.set.emit(context.Background(), EventTypeDispatcherDisposed, map[string]any{
			"lanes": len(d.lanes),
		})
	})
}

func (d *PoolDispatcher) mustLane(lane Lane) {
	if lane < 0 || int(lane) >= len(d.lanes) {
		panic(fmt.Sprintf("lanebus: lane %d out of range [0,%d)", lane, len(d.lanes)))
	}
}

// SyncDispatcher executes every task inline on the caller's goroutine.
// Delays are ignored. It exists for deterministic tests: once Notify
// returns, all callbacks have completed.
type SyncDispatcher struct {
	lanes    int
	disposed atomic.Bool
	executed atomic.Uint64
	panics   atomic.Uint64
	set      settings
}

// NewSyncDispatcher creates an inline dispatcher reporting the given lane
// count. Zero or negative uses DefaultLaneCount.
func NewSyncDispatcher(lanes int, opts ...Option) *SyncDispatcher {
	if lanes <= 0 {
		lanes = DefaultLaneCount
	}
	return &SyncDispatcher{lanes: lanes, set: newSettings(opts)}
}

// Add runs task inline on the caller's goroutine.
func (d *SyncDispatcher) Add(lane Lane, task Task) {
	if lane < 0 || int(lane) >= d.lanes {
		panic(fmt.Sprintf("lanebus: lane %d out of range [0,%d)", lane, d.lanes))
	}
	if d.disposed.Load() || task == nil {
		return
	}
	d.invoke(task)
}

// AddDelayed runs task inline, ignoring the delay.
func (d *SyncDispatcher) AddDelayed(lane Lane, _ time.Duration, task Task) {
	d.Add(lane, task)
}

// LaneCount reports the configured lane count.
func (d *SyncDispatcher) LaneCount() int { return d.lanes }

// Stats returns a single aggregate row; the sync dispatcher has no worker
// lanes of its own.
func (d *SyncDispatcher) Stats() []LaneStats {
	return []LaneStats{{
		Lane:     0,
		Executed: d.executed.Load(),
		Panics:   d.panics.Load(),
	}}
}

// Dispose stops accepting tasks. Idempotent.
func (d *SyncDispatcher) Dispose() {
	d.disposed.Store(true)
}

func (d *SyncDispatcher) invoke(task Task) {
	defer func() {
		if r := recover(); r != nil {
			d.panics.Add(1)
			d.set.log.Error().Interface("panic", r).Msg("task panicked")
		}
	}()
	task()
	d.executed.Add(1)
}
