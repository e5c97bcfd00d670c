// Package liveness classifies node health from elapsed time since last contact.
//
// Everything here is a pure function of (now, last seen, thresholds), kept
// apart from the registry's locking so the policy can be tested on its own.
package liveness

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common errors.
var (
	ErrInvalidThreshold = errors.New("liveness thresholds must be positive")
	ErrSuspectShadowed  = errors.New("suspect timeout is not below not-ready timeout; SUSPECT can never be assigned")
	ErrUnknownStatus    = errors.New("unknown node status")
)

// Status is the health classification of a node.
type Status uint8

const (
	// StatusReserved marks externally reserved slots. Never assigned here.
	StatusReserved Status = iota
	StatusReady
	StatusNotReady
	StatusSuspect
	StatusUnknown
)

var statusNames = map[Status]string{
	StatusReserved: "RESERVED",
	StatusReady:    "READY",
	StatusNotReady: "NOT_READY",
	StatusSuspect:  "SUSPECT",
	StatusUnknown:  "UNKNOWN",
}

// String returns the canonical upper-case name.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if _, ok := statusNames[s]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStatus, uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus parses a status name, case-insensitively.
func ParseStatus(name string) (Status, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for status, n := range statusNames {
		if n == upper {
			return status, nil
		}
	}
	return StatusUnknown, fmt.Errorf("%w: %q", ErrUnknownStatus, name)
}

// Default thresholds, in milliseconds.
const (
	DefaultSuspectTimeoutMs  int64 = 30000
	DefaultNotReadyTimeoutMs int64 = 10000
)

// Thresholds holds the two independent staleness knobs.
type Thresholds struct {
	// SuspectTimeoutMs is the idle time after which a node counts as SUSPECT.
	SuspectTimeoutMs int64

	// NotReadyTimeoutMs is the idle time after which a node counts as NOT_READY.
	// This condition is evaluated first.
	NotReadyTimeoutMs int64
}

// DefaultThresholds returns the library defaults (30s suspect, 10s not-ready).
func DefaultThresholds() Thresholds {
	return Thresholds{
		SuspectTimeoutMs:  DefaultSuspectTimeoutMs,
		NotReadyTimeoutMs: DefaultNotReadyTimeoutMs,
	}
}

// Validate checks that both thresholds are positive.
func (t Thresholds) Validate() error {
	if t.SuspectTimeoutMs <= 0 || t.NotReadyTimeoutMs <= 0 {
		return ErrInvalidThreshold
	}
	return nil
}

// SuspectReachable reports whether Classify can ever return StatusSuspect.
//
// NOT_READY is checked first, so any elapsed time that exceeds the suspect
// threshold also exceeds the not-ready threshold unless suspect < not-ready.
func (t Thresholds) SuspectReachable() bool {
	return t.SuspectTimeoutMs < t.NotReadyTimeoutMs
}

// CheckLadder returns ErrSuspectShadowed when SUSPECT is unreachable.
func (t Thresholds) CheckLadder() error {
	if !t.SuspectReachable() {
		return fmt.Errorf("%w (suspect=%dms, not_ready=%dms)",
			ErrSuspectShadowed, t.SuspectTimeoutMs, t.NotReadyTimeoutMs)
	}
	return nil
}

// IsNotReady reports whether now-lastSeen exceeds the not-ready timeout.
func IsNotReady(nowMs, lastSeenMs, notReadyTimeoutMs int64) bool {
	return nowMs-lastSeenMs > notReadyTimeoutMs
}

// IsSuspect reports whether now-lastSeen exceeds the suspect timeout.
func IsSuspect(nowMs, lastSeenMs, suspectTimeoutMs int64) bool {
	return nowMs-lastSeenMs > suspectTimeoutMs
}

// Classify derives the status of an idle node. First match wins:
// NOT_READY, then SUSPECT, otherwise the current status is kept.
func Classify(nowMs, lastSeenMs int64, current Status, t Thresholds) Status {
	if IsNotReady(nowMs, lastSeenMs, t.NotReadyTimeoutMs) {
		return StatusNotReady
	}
	if IsSuspect(nowMs, lastSeenMs, t.SuspectTimeoutMs) {
		return StatusSuspect
	}
	return current
}

// NowMillis returns the current wall-clock time in epoch milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
