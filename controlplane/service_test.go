package controlplane

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cperrors "github.com/vinayprograms/controlplane/errors"
	"github.com/vinayprograms/controlplane/heartbeat"
	"github.com/vinayprograms/controlplane/liveness"
	"github.com/vinayprograms/controlplane/logging"
	"github.com/vinayprograms/controlplane/registry"
)

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// sliceStream replays heartbeats then returns end.
type sliceStream struct {
	items  []*heartbeat.Heartbeat
	end    error
	onRecv func(i int)
	i      int
}

func (s *sliceStream) Recv(ctx context.Context) (*heartbeat.Heartbeat, error) {
	if s.i >= len(s.items) {
		return nil, s.end
	}
	if s.onRecv != nil {
		s.onRecv(s.i)
	}
	hb := s.items[s.i]
	s.i++
	return hb, nil
}

// blockingStream blocks until ctx is done.
type blockingStream struct{}

func (blockingStream) Recv(ctx context.Context) (*heartbeat.Heartbeat, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newTestService(t *testing.T) (*Service, *registry.Registry, *fakeClock, *Metrics, *bytes.Buffer) {
	t.Helper()
	reg := registry.New()
	t.Cleanup(func() { reg.Close() })

	var logs bytes.Buffer
	logger := logging.New()
	logger.SetOutput(&logs)
	logger.SetLevel(logging.LevelDebug)

	clock := newFakeClock()
	metrics := NewMetrics(prometheus.NewRegistry())
	svc := NewService(reg, WithClock(clock.Now), WithLogger(logger), WithMetrics(metrics))
	return svc, reg, clock, metrics, &logs
}

func TestRegisterNode_EmptyNameRejected(t *testing.T) {
	svc, reg, _, metrics, logs := newTestService(t)

	resp := svc.RegisterNode(context.Background(), "", "10.0.0.7:5000")

	assert.False(t, resp.Accepted)
	assert.Equal(t, "Node name cannot be empty", resp.Reason)
	assert.Equal(t, 0, reg.Size())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Registrations.WithLabelValues("rejected")))
	assert.Contains(t, logs.String(), "registration_rejected")
}

func TestRegisterNode_Accepted(t *testing.T) {
	svc, reg, clock, metrics, _ := newTestService(t)

	resp := svc.RegisterNode(context.Background(), "worker-1", "10.0.0.7:5000")

	assert.True(t, resp.Accepted)
	assert.Equal(t, "Welcome to the cluster!", resp.Reason)
	assert.True(t, reg.Exists("worker-1"))

	nodes := reg.Snapshot()
	require.Len(t, nodes, 1)
	assert.Equal(t, liveness.StatusReady, nodes[0].Status)
	assert.Equal(t, "10.0.0.7:5000", nodes[0].Peer)
	assert.Equal(t, clock.Now().UnixMilli(), nodes[0].LastSeenMs)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Registrations.WithLabelValues("accepted")))
}

func TestRegisterNode_ReregistrationOverwrites(t *testing.T) {
	svc, reg, clock, _, logs := newTestService(t)
	ctx := context.Background()

	svc.RegisterNode(ctx, "worker-1", "10.0.0.7:5000")
	reg.Sweep(clock.Now().UnixMilli()+60_000, 30_000, 10_000)
	clock.Advance(time.Minute)

	resp := svc.RegisterNode(ctx, "worker-1", "10.0.0.8:6000")
	require.True(t, resp.Accepted)

	nodes := reg.Snapshot()
	require.Len(t, nodes, 1)
	assert.Equal(t, "10.0.0.8:6000", nodes[0].Peer)
	assert.Equal(t, liveness.StatusReady, nodes[0].Status)
	assert.Equal(t, clock.Now().UnixMilli(), nodes[0].LastSeenMs)
	assert.Contains(t, logs.String(), "node_reregistered")
}

func TestRegisterThenSweep(t *testing.T) {
	svc, reg, clock, _, _ := newTestService(t)
	svc.RegisterNode(context.Background(), "worker-1", "peer")
	registered := clock.Now().UnixMilli()

	reg.Sweep(registered+15_000, 30_000, 10_000)
	assert.Equal(t, liveness.StatusNotReady, reg.Snapshot()[0].Status)

	// Past both thresholds: NOT_READY is checked first and wins.
	reg.Sweep(registered+40_000, 30_000, 10_000)
	assert.Equal(t, liveness.StatusNotReady, reg.Snapshot()[0].Status)
}

func TestStreamHeartbeats_UnknownNodeIgnored(t *testing.T) {
	svc, reg, _, metrics, _ := newTestService(t)

	stream := &sliceStream{
		items: []*heartbeat.Heartbeat{{NodeName: "ghost-node", ClientTimestampMs: 1}},
		end:   io.EOF,
	}
	summary, err := svc.StreamHeartbeats(context.Background(), stream)

	require.NoError(t, err)
	assert.Equal(t, 0, reg.Size())
	assert.False(t, reg.Exists("ghost-node"))
	assert.Equal(t, 1, summary.Received)
	assert.Equal(t, 1, summary.Ignored)
	assert.Equal(t, 0, summary.Applied)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Heartbeats.WithLabelValues("ignored")))
}

func TestStreamHeartbeats_TouchesWithReceiptTime(t *testing.T) {
	svc, reg, clock, _, _ := newTestService(t)
	svc.RegisterNode(context.Background(), "worker-1", "peer")
	reg.Sweep(clock.Now().UnixMilli()+20_000, 30_000, 10_000)
	require.Equal(t, liveness.StatusNotReady, reg.Snapshot()[0].Status)

	// The client clock is far in the past; only the server clock counts.
	stream := &sliceStream{
		items: []*heartbeat.Heartbeat{
			{NodeName: "worker-1", ClientTimestampMs: 42},
			{NodeName: "ghost-node", ClientTimestampMs: 43},
			{NodeName: "worker-1", ClientTimestampMs: 44},
		},
		end:    io.EOF,
		onRecv: func(int) { clock.Advance(time.Second) },
	}
	summary, err := svc.StreamHeartbeats(context.Background(), stream)
	require.NoError(t, err)

	node := reg.Snapshot()[0]
	assert.Equal(t, liveness.StatusReady, node.Status)
	assert.Equal(t, clock.Now().UnixMilli(), node.LastSeenMs)
	assert.Equal(t, "peer", node.Peer)

	assert.Equal(t, 3, summary.Received)
	assert.Equal(t, 2, summary.Applied)
	assert.Equal(t, 1, summary.Ignored)
	assert.NotEmpty(t, summary.Session)
	assert.Equal(t, 3*time.Second, summary.Duration)
}

func TestStreamHeartbeats_DropReturnsError(t *testing.T) {
	svc, reg, clock, _, logs := newTestService(t)
	svc.RegisterNode(context.Background(), "worker-1", "peer")

	stream := &sliceStream{
		items:  []*heartbeat.Heartbeat{{NodeName: "worker-1"}},
		end:    cperrors.StreamClosed(cperrors.WithCause(errors.New("connection reset"))),
		onRecv: func(int) { clock.Advance(time.Second) },
	}
	summary, err := svc.StreamHeartbeats(context.Background(), stream)

	require.Error(t, err)
	assert.True(t, cperrors.Is(err, cperrors.ErrCodeStreamClosed))
	assert.Equal(t, 1, summary.Applied)

	// The touch applied before the drop is kept.
	assert.Equal(t, clock.Now().UnixMilli(), reg.Snapshot()[0].LastSeenMs)
	assert.Contains(t, logs.String(), "stream_closed")
}

func TestStreamHeartbeats_Cancellation(t *testing.T) {
	svc, _, _, metrics, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := svc.StreamHeartbeats(ctx, blockingStream{})
		done <- err
	}()

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.ActiveStreams) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("StreamHeartbeats did not observe cancellation")
	}
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.ActiveStreams))
}

func TestStreamHeartbeats_ConcurrentStreams(t *testing.T) {
	svc, reg, clock, _, _ := newTestService(t)
	ctx := context.Background()
	svc.RegisterNode(ctx, "worker-1", "a")
	svc.RegisterNode(ctx, "worker-2", "b")
	clock.Advance(5 * time.Second)

	var wg sync.WaitGroup
	for _, name := range []string{"worker-1", "worker-2"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			items := make([]*heartbeat.Heartbeat, 100)
			for i := range items {
				items[i] = &heartbeat.Heartbeat{NodeName: name}
			}
			_, err := svc.StreamHeartbeats(ctx, &sliceStream{items: items, end: io.EOF})
			assert.NoError(t, err)
		}(name)
	}
	wg.Wait()

	for _, node := range reg.Snapshot() {
		assert.Equal(t, clock.Now().UnixMilli(), node.LastSeenMs, node.Name)
	}
}
