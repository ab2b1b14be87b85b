package lanebus

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// logEntry records one delivery for ordering assertions.
type logEntry struct {
	key   nodeEvent
	value int
}

func TestEngineEchoInPublishOrder(t *testing.T) {
	d := NewSyncDispatcher(DefaultLaneCount)
	defer d.Dispose()
	e := NewEngine[nodeEvent, int](d)

	sub := NewSubscriber(e, []logEntry(nil))
	err := sub.SetCallback(func(_ SetID, state *[]logEntry, key nodeEvent, v int) {
		*state = append(*state, logEntry{key, v})
	})
	if err != nil {
		t.Fatalf("set callback: %v", err)
	}
	for _, key := range []nodeEvent{onProposal, onBlock, onCommit} {
		if err := sub.Subscribe(laneConsensus, 0, key); err != nil {
			t.Fatalf("subscribe %v: %v", key, err)
		}
	}
	defer sub.Close()

	e.Notify(onProposal, 1)
	e.Notify(onBlock, 2)
	e.Notify(onProposal, 3)

	want := []logEntry{{onProposal, 1}, {onBlock, 2}, {onProposal, 3}}
	sub.WithState(func(state *[]logEntry) {
		if len(*state) != len(want) {
			t.Fatalf("got %d deliveries, want %d", len(*state), len(want))
		}
		for i, entry := range want {
			if (*state)[i] != entry {
				t.Fatalf("delivery %d: got %+v want %+v", i, (*state)[i], entry)
			}
		}
	})
}

func TestEngineFanoutAcrossLanes(t *testing.T) {
	d := newTestPool(t, nil)
	e := NewEngine[string, string](d)

	newStringSub := func() *Subscriber[string, []string, string] {
		sub := NewSubscriber(e, []string(nil))
		if err := sub.SetCallback(func(_ SetID, state *[]string, _ string, v string) {
			*state = append(*state, v)
		}); err != nil {
			t.Fatalf("set callback: %v", err)
		}
		return sub
	}

	first := newStringSub()
	second := newStringSub()
	defer first.Close()
	defer second.Close()
	if err := first.Subscribe(laneConsensus, 0, "X"); err != nil {
		t.Fatalf("subscribe first: %v", err)
	}
	if err := second.Subscribe(laneMetrics, 0, "X"); err != nil {
		t.Fatalf("subscribe second: %v", err)
	}

	if got := e.Size("X"); got != 2 {
		t.Fatalf("size(X) = %d, want 2", got)
	}

	e.Notify("X", "hi")

	for i, sub := range []*Subscriber[string, []string, string]{first, second} {
		sub := sub
		waitFor(t, 2*time.Second, func() bool {
			var n int
			sub.WithState(func(state *[]string) { n = len(*state) })
			return n == 1
		}, fmt.Sprintf("subscriber %d delivered", i))
		sub.WithState(func(state *[]string) {
			if (*state)[0] != "hi" {
				t.Fatalf("subscriber %d observed %q, want %q", i, (*state)[0], "hi")
			}
		})
	}
}

func TestEngineLazyCleanupOfDeadReceivers(t *testing.T) {
	d := NewSyncDispatcher(DefaultLaneCount)
	defer d.Dispose()
	e := NewEngine[nodeEvent, int](d)

	recv := newTestReceiver[nodeEvent, int]("r1")
	if _, err := e.Subscribe(laneConsensus, 0, onBlock, recv); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if got := e.Size(onBlock); got != 1 {
		t.Fatalf("size = %d, want 1", got)
	}

	// The receiver dies without unsubscribing.
	recv.dead.Store(true)

	e.Notify(onBlock, 7)
	if got := len(recv.payloads()); got != 0 {
		t.Fatalf("dead receiver observed %d deliveries", got)
	}
	if got := e.Size(onBlock); got != 0 {
		t.Fatalf("size after lazy cleanup = %d, want 0", got)
	}
}

func TestEnginePayloadFidelity(t *testing.T) {
	type proposal struct {
		Height uint64
		Round  int
		Hash   string
	}

	d := NewSyncDispatcher(DefaultLaneCount)
	defer d.Dispose()
	e := NewEngine[nodeEvent, proposal](d)

	var got proposal
	sub := NewSubscriber(e, struct{}{})
	if err := sub.SetCallback(func(_ SetID, _ *struct{}, _ nodeEvent, p proposal) {
		got = p
	}); err != nil {
		t.Fatalf("set callback: %v", err)
	}
	if err := sub.Subscribe(laneProposal, 0, onProposal); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	want := proposal{Height: 10, Round: 2, Hash: "abc"}
	e.Notify(onProposal, want)
	if got != want {
		t.Fatalf("payload mangled: got %+v want %+v", got, want)
	}
}

func TestEngineSetIDEcho(t *testing.T) {
	d := NewSyncDispatcher(DefaultLaneCount)
	defer d.Dispose()
	e := NewEngine[nodeEvent, int](d)

	var sets []SetID
	sub := NewSubscriber(e, struct{}{})
	if err := sub.SetCallback(func(set SetID, _ *struct{}, _ nodeEvent, _ int) {
		sets = append(sets, set)
	}); err != nil {
		t.Fatalf("set callback: %v", err)
	}
	if err := sub.Subscribe(laneConsensus, 7, onBlock); err != nil {
		t.Fatalf("subscribe set 7: %v", err)
	}
	if err := sub.Subscribe(laneConsensus, 9, onBlock); err != nil {
		t.Fatalf("subscribe set 9: %v", err)
	}
	defer sub.Close()

	e.Notify(onBlock, 1)
	if len(sets) != 2 || sets[0] != 7 || sets[1] != 9 {
		t.Fatalf("set ids echoed wrong: %v", sets)
	}
}

func TestEngineUnsubscribeIdempotent(t *testing.T) {
	d := NewSyncDispatcher(DefaultLaneCount)
	defer d.Dispose()
	e := NewEngine[nodeEvent, int](d)

	keep := newTestReceiver[nodeEvent, int]("keep")
	gone := newTestReceiver[nodeEvent, int]("gone")
	if _, err := e.Subscribe(laneConsensus, 0, onBlock, keep); err != nil {
		t.Fatalf("subscribe keep: %v", err)
	}
	h, err := e.Subscribe(laneConsensus, 0, onBlock, gone)
	if err != nil {
		t.Fatalf("subscribe gone: %v", err)
	}

	e.Unsubscribe(onBlock, h)
	e.Unsubscribe(onBlock, h) // second call is a no-op
	e.Unsubscribe(onBlock, nil)

	if got := e.Size(onBlock); got != 1 {
		t.Fatalf("size = %d, want 1", got)
	}
	e.Notify(onBlock, 5)
	if got := len(keep.payloads()); got != 1 {
		t.Fatalf("surviving receiver got %d deliveries, want 1", got)
	}
	if got := len(gone.payloads()); got != 0 {
		t.Fatalf("unsubscribed receiver got %d deliveries", got)
	}
}

func TestEngineKeyEntryRemovedWhenEmpty(t *testing.T) {
	d := NewSyncDispatcher(DefaultLaneCount)
	defer d.Dispose()
	e := NewEngine[nodeEvent, int](d)

	recv := newTestReceiver[nodeEvent, int]("r1")
	h, err := e.Subscribe(laneConsensus, 0, onCommit, recv)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	e.Unsubscribe(onCommit, h)

	e.mu.RLock()
	_, present := e.subs[onCommit]
	e.mu.RUnlock()
	if present {
		t.Fatal("empty key entry should be removed from the registry")
	}
}

func TestEngineSubscribeRejectsBadInput(t *testing.T) {
	d := NewSyncDispatcher(2)
	defer d.Dispose()
	e := NewEngine[nodeEvent, int](d)

	if _, err := e.Subscribe(Lane(2), 0, onBlock, newTestReceiver[nodeEvent, int]("r")); err == nil {
		t.Fatal("expected lane range error")
	}
	if _, err := e.Subscribe(laneConsensus, 0, onBlock, nil); err == nil {
		t.Fatal("expected nil receiver error")
	}
}

func TestEngineReentrantNotify(t *testing.T) {
	d := newTestPool(t, nil)
	e := NewEngine[nodeEvent, int](d)

	var mu sync.Mutex
	var order []string

	inner := NewSubscriber(e, struct{}{})
	if err := inner.SetCallback(func(_ SetID, _ *struct{}, _ nodeEvent, _ int) {
		mu.Lock()
		order = append(order, "B")
		mu.Unlock()
	}); err != nil {
		t.Fatalf("set inner callback: %v", err)
	}
	if err := inner.Subscribe(laneConsensus, 0, onBlock); err != nil {
		t.Fatalf("subscribe inner: %v", err)
	}
	defer inner.Close()

	outer := NewSubscriber(e, struct{}{})
	if err := outer.SetCallback(func(_ SetID, _ *struct{}, _ nodeEvent, _ int) {
		// Publishing from inside a callback enqueues; the nested delivery
		// runs after this callback returns.
		e.Notify(onBlock, 2)
		mu.Lock()
		order = append(order, "A")
		mu.Unlock()
	}); err != nil {
		t.Fatalf("set outer callback: %v", err)
	}
	if err := outer.Subscribe(laneConsensus, 0, onProposal); err != nil {
		t.Fatalf("subscribe outer: %v", err)
	}
	defer outer.Close()

	e.Notify(onProposal, 1)

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, "both callbacks delivered")

	mu.Lock()
	defer mu.Unlock()
	if order[0] != "A" || order[1] != "B" {
		t.Fatalf("nested publish must be delivered after the outer callback returns: %v", order)
	}
}
