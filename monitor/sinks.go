package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vinayprograms/controlplane/bus"
	"github.com/vinayprograms/controlplane/liveness"
	"github.com/vinayprograms/controlplane/logging"
	"github.com/vinayprograms/controlplane/registry"
)

// byName returns a copy of nodes sorted by name for display.
func byName(nodes []registry.NodeState) []registry.NodeState {
	sorted := make([]registry.NodeState, len(nodes))
	copy(sorted, nodes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return sorted
}

// --- Console table ---

// TableSink prints the cluster table to a writer.
type TableSink struct {
	w io.Writer
}

// NewTableSink creates a table sink writing to w.
func NewTableSink(w io.Writer) *TableSink {
	return &TableSink{w: w}
}

// Observe implements Sink.
func (s *TableSink) Observe(ctx context.Context, nodes []registry.NodeState, nowMs int64) error {
	fmt.Fprintf(s.w, "\n📊 Cluster status at %s\n", time.UnixMilli(nowMs).UTC().Format(time.RFC3339))
	if len(nodes) == 0 {
		_, err := fmt.Fprintln(s.w, "   (no nodes registered)")
		return err
	}

	tw := tabwriter.NewWriter(s.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tSTATUS\tLAST SEEN\tPEER")
	for _, n := range byName(nodes) {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", n.Name, StatusLabel(n.Status), FormatSince(nowMs, n.LastSeenMs), n.Peer)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(s.w, Summarize(nodes))
	return err
}

// --- Log ---

// LogSink logs the per-cycle summary, and every node at DEBUG.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a log sink.
func NewLogSink(logger *logging.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Observe implements Sink.
func (s *LogSink) Observe(ctx context.Context, nodes []registry.NodeState, nowMs int64) error {
	sum := Summarize(nodes)
	s.logger.Info("cluster_status", map[string]interface{}{
		"total":     sum.Total,
		"ready":     sum.Ready,
		"suspect":   sum.Suspect,
		"not_ready": sum.NotReady,
		"other":     sum.Other,
	})
	for _, n := range byName(nodes) {
		s.logger.Debug("node_status", map[string]interface{}{
			"node":      n.Name,
			"status":    n.Status.String(),
			"last_seen": FormatSince(nowMs, n.LastSeenMs),
		})
	}
	return nil
}

// --- Bus ---

// NodeView is a node as published in a snapshot.
type NodeView struct {
	registry.NodeState
	Since string `json:"since"`
}

// Snapshot is the payload published on the snapshot subject.
type Snapshot struct {
	NowMs   int64      `json:"now_ms"`
	Summary Summary    `json:"summary"`
	Nodes   []NodeView `json:"nodes"`
}

// BusSink publishes each snapshot as JSON.
type BusSink struct {
	bus     bus.MessageBus
	subject string
}

// NewBusSink creates a bus sink. An empty subject uses bus.SubjectSnapshot.
func NewBusSink(b bus.MessageBus, subject string) (*BusSink, error) {
	if subject == "" {
		subject = bus.SubjectSnapshot
	}
	if err := bus.ValidateSubject(subject); err != nil {
		return nil, err
	}
	return &BusSink{bus: b, subject: subject}, nil
}

// Observe implements Sink.
func (s *BusSink) Observe(ctx context.Context, nodes []registry.NodeState, nowMs int64) error {
	snap := Snapshot{NowMs: nowMs, Summary: Summarize(nodes), Nodes: make([]NodeView, 0, len(nodes))}
	for _, n := range byName(nodes) {
		snap.Nodes = append(snap.Nodes, NodeView{NodeState: n, Since: FormatSince(nowMs, n.LastSeenMs)})
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.bus.Publish(s.subject, data)
}

// --- Prometheus ---

// MetricsSink exports node counts by status and per-node contact age.
type MetricsSink struct {
	nodes *prometheus.GaugeVec
	age   *prometheus.GaugeVec
}

// NewMetricsSink creates the gauges and registers them with reg.
func NewMetricsSink(reg prometheus.Registerer) *MetricsSink {
	s := &MetricsSink{
		nodes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "controlplane",
			Name:      "nodes",
			Help:      "Registered nodes by status.",
		}, []string{"status"}),
		age: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "controlplane",
			Name:      "node_last_seen_age_seconds",
			Help:      "Seconds since each node was last heard from.",
		}, []string{"node"}),
	}
	if reg != nil {
		reg.MustRegister(s.nodes, s.age)
	}
	return s
}

// Observe implements Sink.
func (s *MetricsSink) Observe(ctx context.Context, nodes []registry.NodeState, nowMs int64) error {
	sum := Summarize(nodes)
	s.nodes.WithLabelValues(liveness.StatusReady.String()).Set(float64(sum.Ready))
	s.nodes.WithLabelValues(liveness.StatusSuspect.String()).Set(float64(sum.Suspect))
	s.nodes.WithLabelValues(liveness.StatusNotReady.String()).Set(float64(sum.NotReady))
	s.nodes.WithLabelValues("OTHER").Set(float64(sum.Other))

	// Removed nodes must not linger.
	s.age.Reset()
	for _, n := range nodes {
		s.age.WithLabelValues(n.Name).Set(float64(nowMs-n.LastSeenMs) / 1000)
	}
	return nil
}
