package producer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuyaodong/APNPush/internal/apns"
	"github.com/liuyaodong/APNPush/internal/observability/metrics"
)

type recordingQueue struct {
	mu    sync.Mutex
	items []*apns.Notification
	err   error
}

func (q *recordingQueue) Enqueue(_ context.Context, n *apns.Notification) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.items = append(q.items, n)
	return nil
}

func (q *recordingQueue) tokens() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.items))
	for _, n := range q.items {
		out = append(out, n.Token().String())
	}
	return out
}

type staticKnownBad struct {
	bad map[string]bool
	err error
}

func (s staticKnownBad) IsKnownBad(_ context.Context, token string) (bool, error) {
	return s.bad[token], s.err
}

func token(i int) string {
	return fmt.Sprintf("%064x", i)
}

func TestRunSkipsInvalidTokens(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		token(1),
		"",
		"   " + token(2) + "  ",
		"not-a-token",
		token(3)[:63],
		strings.ToUpper(token(4)),
		"<" + token(5)[:8] + " " + token(5)[8:] + ">",
		strings.Repeat("zz", 32),
	}, "\n")

	q := &recordingQueue{}
	p := New(q, Config{Payload: []byte(`{"aps":{}}`)}, WithIDGenerator(&apns.IDGenerator{}))

	stats, err := p.Run(t.Context(), strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, Stats{Read: 7, Enqueued: 4, SkippedInvalid: 3}, stats)
	assert.Equal(t, []string{token(1), token(2), token(4), token(5)}, q.tokens())
}

func TestRunBuildsNotifications(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	q := &recordingQueue{}
	payload := []byte(`{"aps":{"alert":"hi"}}`)
	p := New(q,
		Config{Payload: payload, Priority: apns.PriorityPowerSaving, ExpirationTTL: time.Hour},
		WithIDGenerator(&apns.IDGenerator{}),
		WithClock(func() time.Time { return now }))

	_, err := p.Run(t.Context(), strings.NewReader(token(1)+"\n"+token(2)+"\n"))
	require.NoError(t, err)
	require.Len(t, q.items, 2)

	for i, n := range q.items {
		assert.Equal(t, uint32(i+1), n.ID())
		assert.Equal(t, payload, n.Payload())
		assert.Equal(t, uint8(apns.PriorityPowerSaving), n.Priority())
		assert.Equal(t, now.Add(time.Hour).Unix(), n.Expiration().Unix())
	}
}

func TestRunDefaultPriority(t *testing.T) {
	t.Parallel()

	q := &recordingQueue{}
	_, err := New(q, Config{}).Run(t.Context(), strings.NewReader(token(9)))
	require.NoError(t, err)
	require.Len(t, q.items, 1)
	assert.Equal(t, uint8(apns.PriorityImmediate), q.items[0].Priority())
	assert.True(t, q.items[0].Expiration().IsZero())
}

func TestRunSkipsKnownBad(t *testing.T) {
	t.Parallel()

	m, err := metrics.NewDeliveryMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	q := &recordingQueue{}
	p := New(q, Config{},
		WithKnownBad(staticKnownBad{bad: map[string]bool{token(2): true}}),
		WithMetrics(m))

	stats, err := p.Run(t.Context(), strings.NewReader(token(1)+"\n"+token(2)+"\n"+token(3)+"\nbad\n"))
	require.NoError(t, err)

	assert.Equal(t, Stats{Read: 4, Enqueued: 2, SkippedInvalid: 1, SkippedKnownBad: 1}, stats)
	assert.InDelta(t, 2, testutil.ToFloat64(m.TokensProduced.WithLabelValues(metrics.TokenEnqueued)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.TokensProduced.WithLabelValues(metrics.TokenKnownBad)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.TokensProduced.WithLabelValues(metrics.TokenInvalid)), 0)
}

func TestRunKnownBadLookupFailureSends(t *testing.T) {
	t.Parallel()

	q := &recordingQueue{}
	p := New(q, Config{}, WithKnownBad(staticKnownBad{err: assert.AnError}))

	stats, err := p.Run(t.Context(), strings.NewReader(token(1)))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Enqueued)
}

func TestRunStopsWhenQueueCloses(t *testing.T) {
	t.Parallel()

	q := apns.NewQueue(1, 1)
	q.Close()

	stats, err := New(q, Config{}).Run(t.Context(), strings.NewReader(token(1)+"\n"+token(2)))
	require.Error(t, err)
	assert.ErrorIs(t, err, apns.ErrQueueClosed)
	assert.Equal(t, 0, stats.Enqueued)
}

func TestRunCancelledWhileBlocked(t *testing.T) {
	t.Parallel()

	// capacity 1 * (1+1) = 2, the third enqueue blocks
	q := apns.NewQueue(1, 1)
	ctx, cancel := context.WithCancel(t.Context())

	done := make(chan error, 1)
	go func() {
		_, err := New(q, Config{}).Run(ctx, strings.NewReader(token(1)+"\n"+token(2)+"\n"+token(3)))
		done <- err
	}()

	require.Eventually(t, func() bool { return q.Pending() == 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("producer did not observe cancellation")
	}
}

func TestRunFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tokens.txt")
	require.NoError(t, os.WriteFile(path, []byte(token(1)+"\r\n"+token(2)+"\r\n"), 0o600))

	q := &recordingQueue{}
	stats, err := New(q, Config{}).RunFile(t.Context(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Enqueued)

	_, err = New(q, Config{}).RunFile(t.Context(), filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}
