package apns

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastWorkerConfig() WorkerConfig {
	cfg := DefaultWorkerConfig()
	cfg.DequeueTimeout = 10 * time.Millisecond
	cfg.WriteReadyPoll = 50 * time.Millisecond
	cfg.CloseTimeout = 2 * time.Second
	cfg.ConnectTimeout = time.Second
	return cfg
}

type recordingSink struct {
	mu       sync.Mutex
	rejected []*Notification
	statuses []Status
}

func (s *recordingSink) Rejected(n *Notification, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected = append(s.rejected, n)
	s.statuses = append(s.statuses, status)
}

func (s *recordingSink) snapshot() ([]*Notification, []Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Notification(nil), s.rejected...), append([]Status(nil), s.statuses...)
}

func TestWorkerStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "terminated", StateTerminated.String())
	assert.Equal(t, "state(9)", WorkerState(9).String())
}

func TestHandleRejectionReportsOneAndReclaimsTheRest(t *testing.T) {
	t.Parallel()

	q := NewQueue(10, 1)
	sink := &recordingSink{}
	q.setRejectionSink(sink)

	w := NewWorker(1, newTestHost(nil), q, fastWorkerConfig(), nil)
	list := newTestNotifications(t, 10, 4)
	for _, n := range list {
		w.cache.Add(n)
	}

	// 10 was accepted; 11 is rejected; 12 and 13 were sent after it
	w.handleRejection(Rejection{Command: CommandRejection, Status: StatusInvalidToken, ID: 11})

	rejected, statuses := sink.snapshot()
	require.Len(t, rejected, 1)
	assert.Equal(t, uint32(11), rejected[0].ID())
	assert.Equal(t, []Status{StatusInvalidToken}, statuses)

	assert.Equal(t, []uint32{12, 13}, ids(q.SnapshotRemaining()))
	assert.Zero(t, w.cache.Len())
	assert.True(t, w.terminating.Load())
	assert.Equal(t, uint64(2), w.GetStats().Reclaimed)
}

func TestHandleRejectionCacheMissReclaimsNothing(t *testing.T) {
	t.Parallel()

	q := NewQueue(10, 1)
	sink := &recordingSink{}
	q.setRejectionSink(sink)

	w := NewWorker(1, newTestHost(nil), q, fastWorkerConfig(), nil)
	for _, n := range newTestNotifications(t, 1, 3) {
		w.cache.Add(n)
	}

	w.handleRejection(Rejection{Command: CommandRejection, Status: StatusInvalidToken, ID: 99})

	rejected, _ := sink.snapshot()
	assert.Empty(t, rejected)
	assert.Empty(t, q.SnapshotRemaining())
	assert.True(t, w.terminating.Load())
}

func TestWorkerDeliversAndFlushes(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	host := newTestHost(gw)
	q := NewQueue(300, 1)

	for _, n := range newTestNotifications(t, 1, 45) {
		require.NoError(t, q.Enqueue(context.Background(), n))
	}

	w := NewWorker(1, host, q, fastWorkerConfig(), nil)
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	// 45 is not a multiple of the batch size; the idle flush delivers the tail
	require.Eventually(t, func() bool { return gw.distinct() == 45 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateActive, w.State())

	w.Terminate()
	require.NoError(t, <-done)
	assert.Same(t, w, <-host.terminated)
	assert.Equal(t, StateTerminated, w.State())
	assert.Equal(t, uint64(45), w.GetStats().Written)
	assert.Zero(t, q.Pending())
	gw.wait(t)
}

func TestWorkerRejectionReclaimsLaterNotifications(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	gw.rejectID = 50
	gw.rejectAfter = 10 // the gateway reads 51..60 before answering

	host := newTestHost(gw)
	q := NewQueue(300, 1)
	sink := &recordingSink{}
	q.setRejectionSink(sink)

	for _, n := range newTestNotifications(t, 1, 60) {
		require.NoError(t, q.Enqueue(context.Background(), n))
	}

	w := NewWorker(1, host, q, fastWorkerConfig(), nil)
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	require.NoError(t, <-done)
	<-host.terminated
	gw.wait(t)

	rejected, statuses := sink.snapshot()
	require.Len(t, rejected, 1)
	assert.Equal(t, uint32(50), rejected[0].ID())
	assert.Equal(t, []Status{StatusInvalidToken}, statuses)

	working, reclaim := q.Len()
	assert.Zero(t, working)
	assert.Equal(t, 10, reclaim)
	assert.ElementsMatch(t, idRange(51, 60), ids(q.SnapshotRemaining()))
}

func TestWorkerConnectFailureTerminates(t *testing.T) {
	t.Parallel()

	dialErr := &net.OpError{Op: "dial", Net: "tcp", Err: assert.AnError}
	host := newTestHost(DialerFunc(func(context.Context, string) (net.Conn, error) {
		return nil, dialErr
	}))
	q := NewQueue(10, 1)

	w := NewWorker(1, host, q, fastWorkerConfig(), nil)
	err := w.Run(context.Background())

	require.ErrorIs(t, err, assert.AnError)
	assert.Same(t, w, <-host.terminated)
	assert.Equal(t, StateTerminated, w.State())
}

func TestWorkerWriteFailureReclaimsInFlight(t *testing.T) {
	t.Parallel()

	// a gateway that hangs up after reading 5 frames
	var wg sync.WaitGroup
	host := newTestHost(DialerFunc(func(context.Context, string) (net.Conn, error) {
		client, server := net.Pipe()
		wg.Go(func() {
			defer server.Close()
			for range 5 {
				if _, err := DecodeFrame(server); err != nil {
					return
				}
			}
		})
		return client, nil
	}))

	q := NewQueue(300, 1)
	for _, n := range newTestNotifications(t, 1, 40) {
		require.NoError(t, q.Enqueue(context.Background(), n))
	}

	cfg := fastWorkerConfig()
	cfg.BatchSize = 4
	w := NewWorker(1, host, q, cfg, nil)
	require.NoError(t, w.Run(context.Background()))
	<-host.terminated
	wg.Wait()

	// The first batch (1-4) was flushed and stays cached as sent. The second
	// batch failed mid-flush, so all of it (5-8) is reclaimed even though the
	// gateway read frame 5; everything after it never left the queue.
	assert.ElementsMatch(t, idRange(5, 40), ids(q.SnapshotRemaining()))
	assert.Equal(t, 4, w.cache.Len())
}

// failingConn accepts no writes; reads block until Close.
type failingConn struct {
	net.Conn
}

func (c failingConn) Write([]byte) (int, error) { return 0, assert.AnError }

func TestWorkerFlushFailureReclaimsWholeBatch(t *testing.T) {
	t.Parallel()

	host := newTestHost(DialerFunc(func(context.Context, string) (net.Conn, error) {
		client, server := net.Pipe()
		t.Cleanup(func() { _ = server.Close() })
		return failingConn{Conn: client}, nil
	}))

	q := NewQueue(300, 1)
	for _, n := range newTestNotifications(t, 1, 5) {
		require.NoError(t, q.Enqueue(context.Background(), n))
	}

	cfg := fastWorkerConfig()
	require.Greater(t, cfg.BatchSize, 5, "batch must hold every frame before the flush")
	w := NewWorker(1, host, q, cfg, nil)
	require.NoError(t, w.Run(context.Background()))
	<-host.terminated

	assert.ElementsMatch(t, idRange(1, 5), ids(q.SnapshotRemaining()))
	assert.Zero(t, w.cache.Len(), "nothing may stay behind in the dead worker")
	assert.GreaterOrEqual(t, w.GetStats().Reclaimed, uint64(5))
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	host := newTestHost(gw)
	q := NewQueue(10, 1)

	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(1, host, q, fastWorkerConfig(), nil)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return w.State() == StateActive }, time.Second, 5*time.Millisecond)
	cancel()

	require.NoError(t, <-done)
	<-host.terminated
	gw.wait(t)
}
