package registry

import (
	"sync"

	"github.com/vinayprograms/controlplane/liveness"
)

// watchBuffer is the capacity of each watcher channel.
const watchBuffer = 64

// Registry is the concurrent name -> NodeState map.
// Construct one with New and share it by pointer.
type Registry struct {
	mu       sync.Mutex
	nodes    map[string]NodeState
	watchers []chan Event
	closed   bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		nodes:    make(map[string]NodeState),
		watchers: make([]chan Event, 0),
	}
}

// Upsert inserts or fully replaces the record for state.Name.
func (r *Registry) Upsert(state NodeState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.nodes[state.Name]
	r.nodes[state.Name] = state

	eventType := EventAdded
	if exists {
		eventType = EventUpdated
	}
	r.notifyWatchers(Event{Type: eventType, Node: state})
}

// Touch refreshes a registered node: LastSeenMs = nowMs, Status = READY.
// Unknown names are ignored; heartbeats never register a node.
// Returns whether the node was present.
func (r *Registry) Touch(name string, nowMs int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[name]
	if !ok {
		return false
	}

	previous := node.Status
	node.LastSeenMs = nowMs
	node.Status = liveness.StatusReady
	r.nodes[name] = node

	if previous != liveness.StatusReady {
		r.notifyWatchers(Event{Type: EventStatusChanged, Node: node, Previous: previous})
	}
	return true
}

// Remove deletes the record for name. Returns whether one was deleted.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[name]
	if !ok {
		return false
	}
	delete(r.nodes, name)
	r.notifyWatchers(Event{Type: EventRemoved, Node: node})
	return true
}

// Exists reports whether name is registered.
func (r *Registry) Exists(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.nodes[name]
	return ok
}

// Size returns the number of registered nodes.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.nodes)
}

// Snapshot returns an independent copy of every record, in no particular order.
func (r *Registry) Snapshot() []NodeState {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make([]NodeState, 0, len(r.nodes))
	for _, node := range r.nodes {
		snapshot = append(snapshot, node)
	}
	return snapshot
}

// Sweep reclassifies every record from its idle time. NOT_READY is checked
// before SUSPECT regardless of the threshold values; records inside both
// thresholds keep their status. Sweep never deletes.
func (r *Registry) Sweep(nowMs, suspectTimeoutMs, notReadyTimeoutMs int64) []Transition {
	thresholds := liveness.Thresholds{
		SuspectTimeoutMs:  suspectTimeoutMs,
		NotReadyTimeoutMs: notReadyTimeoutMs,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var transitions []Transition
	for name, node := range r.nodes {
		next := liveness.Classify(nowMs, node.LastSeenMs, node.Status, thresholds)
		if next == node.Status {
			continue
		}

		previous := node.Status
		node.Status = next
		r.nodes[name] = node

		transitions = append(transitions, Transition{Name: name, From: previous, To: next})
		r.notifyWatchers(Event{Type: EventStatusChanged, Node: node, Previous: previous})
	}
	return transitions
}

// Watch returns a channel of registry events.
// The channel is closed when the registry is closed.
func (r *Registry) Watch() (<-chan Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}

	ch := make(chan Event, watchBuffer)
	r.watchers = append(r.watchers, ch)
	return ch, nil
}

// Close closes all watcher channels. Registry operations keep working.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	for _, ch := range r.watchers {
		close(ch)
	}
	r.watchers = nil
	return nil
}

// notifyWatchers sends an event to all watchers without blocking.
// Must be called with lock held.
func (r *Registry) notifyWatchers(event Event) {
	for _, ch := range r.watchers {
		select {
		case ch <- event:
		default:
			// Channel full, skip
		}
	}
}
