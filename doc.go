// Package lanebus is a strongly-typed in-process publish/subscribe runtime.
//
// Components publish keyed events carrying typed payloads; other components
// subscribe to those keys and receive callbacks on a caller-selected worker
// lane. The package provides a family of typed engines (one per event-key and
// payload type pair), a dispatcher owning a fixed pool of single-threaded
// lanes with delayed-task support, a subscription registry with automatic
// cleanup of closed subscribers, and helpers for timers, metrics export and
// lifecycle event emission.
//
// A minimal setup:
//
//	disp, _ := lanebus.NewPoolDispatcher(lanebus.DefaultConfig())
//	mgr := lanebus.NewManager(disp)
//	defer mgr.Dispose()
//
//	sub, _ := lanebus.Listen(mgr, BlockCommitted, LaneConsensus,
//	    func(set lanebus.SetID, state *CommitLog, key BlockEvent, height uint64) {
//	        state.Heights = append(state.Heights, height)
//	    })
//	defer sub.Close()
//
//	lanebus.EngineOf[BlockEvent, uint64](mgr).Notify(BlockCommitted, 42)
//
// Publishing never blocks on delivery when the pool dispatcher is used:
// Notify snapshots the live subscribers for the key and enqueues one closure
// per subscriber on its lane. Tasks on the same lane run in submission order;
// no order is guaranteed across lanes. SyncDispatcher delivers inline on the
// publisher goroutine and exists for deterministic tests.
package lanebus
