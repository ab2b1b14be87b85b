package lanebus

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Task is a unit of work routed to a lane.
type Task func()

// LaneStats is a snapshot of one lane's counters.
type LaneStats struct {
	Lane     int    `json:"lane"`
	Executed uint64 `json:"executed"`
	Dropped  uint64 `json:"dropped"`
	Panics   uint64 `json:"panics"`
	Pending  int    `json:"pending"`
}

// timedTask is a queued task with its scheduled run time. Immediate tasks
// carry runAt = enqueue time, so ordering by (runAt, seq) keeps pushes FIFO
// while delayed tasks interleave in deadline order, ties broken by enqueue
// order.
type timedTask struct {
	runAt time.Time
	seq   uint64
	fn    Task
}

type taskQueue []*timedTask

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if !q[i].runAt.Equal(q[j].runAt) {
		return q[i].runAt.Before(q[j].runAt)
	}
	return q[i].seq < q[j].seq
}

func (q taskQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *taskQueue) Push(x any) { *q = append(*q, x.(*timedTask)) }

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return t
}

// laneWorker is a single-threaded FIFO worker with delayed-task support.
// One goroutine drains the queue; the lock is released while a task runs so
// publishers can enqueue concurrently.
type laneWorker struct {
	id       int
	capacity int

	mu      sync.Mutex
	pending taskQueue
	seq     uint64
	stopped bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}

	stopOnce sync.Once

	executed atomic.Uint64
	dropped  atomic.Uint64
	panics   atomic.Uint64

	log zerolog.Logger
}

func newLaneWorker(id, capacity int, log zerolog.Logger) *laneWorker {
	w := &laneWorker{
		id:       id,
		capacity: capacity,
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		log:      log,
	}
	go w.run()
	return w
}

// push enqueues a task to run after delay (zero for immediate execution).
// After the worker is disposed the task is silently discarded.
func (w *laneWorker) push(delay time.Duration, fn Task) {
	if fn == nil {
		return
	}
	var droppedOldest bool
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.seq++
	heap.Push(&w.pending, &timedTask{runAt: time.Now().Add(delay), seq: w.seq, fn: fn})
	if w.capacity > 0 && w.pending.Len() > w.capacity {
		// The heap is ordered by deadline; the oldest task is the one with
		// the lowest enqueue sequence.
		oldest := 0
		for i, t := range w.pending {
			if t.seq < w.pending[oldest].seq {
				oldest = i
			}
		}
		heap.Remove(&w.pending, oldest)
		w.dropped.Add(1)
		droppedOldest = true
	}
	w.mu.Unlock()

	if droppedOldest {
		w.log.Warn().Int("lane", w.id).Msg("lane queue full, dropped oldest task")
	}
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *laneWorker) run() {
	defer close(w.done)

	for {
		w.mu.Lock()
		if w.stopped {
			w.mu.Unlock()
			return
		}
		if w.pending.Len() > 0 && !w.pending[0].runAt.After(time.Now()) {
			t := heap.Pop(&w.pending).(*timedTask)
			w.mu.Unlock()
			w.invoke(t.fn)
			continue
		}
		var next time.Time
		hasNext := w.pending.Len() > 0
		if hasNext {
			next = w.pending[0].runAt
		}
		w.mu.Unlock()

		if hasNext {
			timer := time.NewTimer(time.Until(next))
			select {
			case <-w.wake:
			case <-timer.C:
			case <-w.quit:
			}
			timer.Stop()
		} else {
			select {
			case <-w.wake:
			case <-w.quit:
			}
		}
	}
}

// invoke runs a task, recovering panics so the lane survives misbehaving
// callbacks.
func (w *laneWorker) invoke(fn Task) {
	defer func() {
		if r := recover(); r != nil {
			w.panics.Add(1)
			w.log.Error().Int("lane", w.id).Interface("panic", r).Msg("task panicked")
		}
	}()
	fn()
	w.executed.Add(1)
}

// signalStop flags the worker to exit without waiting for it.
func (w *laneWorker) signalStop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.stopped = true
		w.mu.Unlock()
		close(w.quit)
	})
}

// dispose stops the worker and blocks until its goroutine has exited.
// Pending tasks are dropped; the task in flight, if any, completes first.
// Idempotent.
func (w *laneWorker) dispose() {
	w.signalStop()
	<-w.done
}

func (w *laneWorker) stats() LaneStats {
	w.mu.Lock()
	pending := w.pending.Len()
	w.mu.Unlock()
	return LaneStats{
		Lane:     w.id,
		Executed: w.executed.Load(),
		Dropped:  w.dropped.Load(),
		Panics:   w.panics.Load(),
		Pending:  pending,
	}
}
