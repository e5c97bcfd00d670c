// Package registry provides the node registry for the control plane.
//
// # Overview
//
// The Registry tracks every worker node that has registered with the control
// plane, keyed by node name. Records are created by registration, refreshed by
// heartbeats, reclassified by periodic sweeps and removed only on request.
// Every operation holds a single mutex for its whole body and never across I/O.
//
// # Basic Usage
//
//	reg := registry.New()
//	reg.Upsert(registry.NodeState{
//	    Name:       "worker-1",
//	    Peer:       "10.0.0.7:53122",
//	    LastSeenMs: liveness.NowMillis(),
//	    Status:     liveness.StatusReady,
//	})
//
//	reg.Touch("worker-1", liveness.NowMillis()) // heartbeat
//	reg.Touch("ghost", liveness.NowMillis())    // no-op, returns false
//
// Reclassify idle nodes:
//
//	for _, tr := range reg.Sweep(liveness.NowMillis(), 3000, 10000) {
//	    fmt.Printf("%s: %s -> %s\n", tr.Name, tr.From, tr.To)
//	}
//
// # Sweep Order
//
// Sweep checks the not-ready threshold before the suspect threshold. With the
// library defaults (suspect 30s, not-ready 10s) a node therefore goes straight
// from READY to NOT_READY and SUSPECT is never assigned. Pass a suspect timeout
// below the not-ready timeout to get a READY -> SUSPECT -> NOT_READY ladder.
// See liveness.Thresholds.SuspectReachable.
//
// # Watching
//
//	events, _ := reg.Watch()
//	for ev := range events {
//	    switch ev.Type {
//	    case registry.EventAdded:
//	    case registry.EventStatusChanged:
//	        fmt.Printf("%s %s -> %s\n", ev.Node.Name, ev.Previous, ev.Node.Status)
//	    }
//	}
//
// Event delivery never blocks registry operations; events are dropped when a
// watcher's buffer is full.
package registry
