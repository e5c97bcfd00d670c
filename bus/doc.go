// Package bus provides the pub/sub transport used for bus-delivered
// heartbeats and registry snapshot publication.
//
// Two implementations exist: NATSBus over a core NATS connection and
// MemoryBus for tests and single-process deployments. Subjects match
// exactly; wildcards are not interpreted by MemoryBus.
//
//	b, _ := bus.NewNATSBus(bus.DefaultNATSConfig())
//	sub, _ := b.Subscribe(bus.SubjectHeartbeat)
//	for msg := range sub.Messages() {
//	    // decode heartbeat
//	}
//
// Delivery is best effort: a subscriber whose buffer is full loses messages.
package bus
