package monitor

import (
	"fmt"

	"github.com/vinayprograms/controlplane/liveness"
	"github.com/vinayprograms/controlplane/registry"
)

// FormatSince renders the time since last contact. Each tier truncates.
func FormatSince(nowMs, lastSeenMs int64) string {
	elapsed := nowMs - lastSeenMs
	switch {
	case elapsed < 1000:
		return "just now"
	case elapsed < 60_000:
		return fmt.Sprintf("%ds ago", elapsed/1000)
	case elapsed < 3_600_000:
		return fmt.Sprintf("%dm ago", elapsed/60_000)
	default:
		return fmt.Sprintf("%dh ago", elapsed/3_600_000)
	}
}

// StatusLabel renders a status with its indicator.
func StatusLabel(s liveness.Status) string {
	switch s {
	case liveness.StatusReady:
		return "🟢 READY"
	case liveness.StatusSuspect:
		return "🟡 SUSPECT"
	case liveness.StatusNotReady:
		return "🔴 NOT_READY"
	default:
		return "⚪ " + s.String()
	}
}

// Summary counts nodes by status.
type Summary struct {
	Total    int `json:"total"`
	Ready    int `json:"ready"`
	Suspect  int `json:"suspect"`
	NotReady int `json:"not_ready"`
	Other    int `json:"other"`
}

// Summarize counts nodes by status.
func Summarize(nodes []registry.NodeState) Summary {
	s := Summary{Total: len(nodes)}
	for _, n := range nodes {
		switch n.Status {
		case liveness.StatusReady:
			s.Ready++
		case liveness.StatusSuspect:
			s.Suspect++
		case liveness.StatusNotReady:
			s.NotReady++
		default:
			s.Other++
		}
	}
	return s
}

func (s Summary) String() string {
	return fmt.Sprintf("%d nodes: %d ready, %d suspect, %d not ready, %d other",
		s.Total, s.Ready, s.Suspect, s.NotReady, s.Other)
}
