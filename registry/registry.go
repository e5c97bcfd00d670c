package registry

import (
	"errors"

	"github.com/vinayprograms/controlplane/liveness"
)

// Common errors.
var (
	ErrClosed = errors.New("registry closed")
)

// NodeState is the health record for one node.
type NodeState struct {
	// Name uniquely identifies the node. Assigned by the registering agent.
	Name string `json:"name"`

	// Peer is the observed network origin of the registration call.
	Peer string `json:"peer"`

	// LastSeenMs is the server receipt time of the last registration or
	// heartbeat, in epoch milliseconds.
	LastSeenMs int64 `json:"last_seen_ms"`

	// Status is the derived health classification.
	Status liveness.Status `json:"status"`
}

// IsHealthy reports whether the node is READY.
func (n NodeState) IsHealthy() bool {
	return n.Status == liveness.StatusReady
}

// IsSuspect reports whether the node has been idle longer than timeoutMs.
func (n NodeState) IsSuspect(nowMs, timeoutMs int64) bool {
	return liveness.IsSuspect(nowMs, n.LastSeenMs, timeoutMs)
}

// IsNotReady reports whether the node has been idle longer than timeoutMs.
func (n NodeState) IsNotReady(nowMs, timeoutMs int64) bool {
	return liveness.IsNotReady(nowMs, n.LastSeenMs, timeoutMs)
}

// Transition records a status change applied by Sweep.
type Transition struct {
	Name string
	From liveness.Status
	To   liveness.Status
}

// EventType represents the type of registry event.
type EventType string

const (
	EventAdded         EventType = "added"
	EventUpdated       EventType = "updated"
	EventRemoved       EventType = "removed"
	EventStatusChanged EventType = "status_changed"
)

// Event represents a change in the registry.
type Event struct {
	// Type indicates what happened.
	Type EventType

	// Node is the record after the change.
	// For removal events, this is the last known state.
	Node NodeState

	// Previous is the status before a status change.
	Previous liveness.Status
}
