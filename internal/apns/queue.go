package apns

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/liuyaodong/APNPush/internal/errors"
	"github.com/liuyaodong/APNPush/internal/logger"
	"github.com/liuyaodong/APNPush/internal/observability/metrics"
)

// RejectionSink receives notifications the gateway refused permanently.
type RejectionSink interface {
	Rejected(n *Notification, status Status)
}

// RejectionSinkFunc adapts a function to RejectionSink.
type RejectionSinkFunc func(n *Notification, status Status)

// Rejected implements RejectionSink.
func (f RejectionSinkFunc) Rejected(n *Notification, status Status) { f(n, status) }

// Queue is the pair of partitions shared by the producer and all workers.
// The working partition carries fresh notifications and applies backpressure
// to the producer. The reclaim partition carries notifications returned by
// workers and is always drained first.
type Queue struct {
	working chan *Notification
	reclaim chan *Notification

	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	front    []*Notification // working notifications that lost a race to a reclaim
	overflow []*Notification
	sink     RejectionSink

	metrics *metrics.DeliveryMetrics
	log     logger.Logger
}

// QueueOption customises a Queue.
type QueueOption func(*Queue)

// WithQueueMetrics records queue depth and reclaim counts.
func WithQueueMetrics(m *metrics.DeliveryMetrics) QueueOption {
	return func(q *Queue) { q.metrics = m }
}

// WithQueueLogger overrides the module logger.
func WithQueueLogger(l logger.Logger) QueueOption {
	return func(q *Queue) { q.log = l }
}

// QueueCapacity returns the partition size for the given pool shape:
// one cache worth of notifications for every worker plus one.
func QueueCapacity(cacheCapacity, workers int) int {
	return max(cacheCapacity, 1) * (max(workers, 1) + 1)
}

// NewQueue creates a queue sized by QueueCapacity.
func NewQueue(cacheCapacity, workers int, opts ...QueueOption) *Queue {
	size := QueueCapacity(cacheCapacity, workers)
	q := &Queue{
		working: make(chan *Notification, size),
		reclaim: make(chan *Notification, size),
		closed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.log == nil {
		q.log = GetLogger().Module("queue")
	}
	return q
}

// Enqueue adds a fresh notification, blocking while the working partition is
// full. It fails with ErrQueueClosed after Close or with ctx's error.
func (q *Queue) Enqueue(ctx context.Context, n *Notification) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}

	select {
	case q.working <- n:
		q.updateDepth()
		return nil
	case <-q.closed:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue returns the next notification, preferring the reclaim partition.
// It waits at most timeout and reports false when nothing arrived.
func (q *Queue) Dequeue(timeout time.Duration) (*Notification, bool) {
	if n, ok := q.tryReclaim(); ok {
		return n, true
	}
	if n, ok := q.popFront(); ok {
		return n, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case n := <-q.reclaim:
		q.updateDepth()
		return n, true
	case n := <-q.working:
		// select picks at random when both partitions became ready
		if r, ok := q.tryReclaim(); ok {
			q.pushFront(n)
			return r, true
		}
		q.updateDepth()
		return n, true
	case <-timer.C:
		return nil, false
	}
}

func (q *Queue) tryReclaim() (*Notification, bool) {
	select {
	case n := <-q.reclaim:
		q.updateDepth()
		return n, true
	default:
		return nil, false
	}
}

// pushFront parks a working notification ahead of the working partition.
func (q *Queue) pushFront(n *Notification) {
	q.mu.Lock()
	q.front = append(q.front, n)
	q.mu.Unlock()
}

func (q *Queue) popFront() (*Notification, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.front) == 0 {
		return nil, false
	}
	n := q.front[0]
	q.front = q.front[1:]
	return n, true
}

// Reclaim returns n to the reclaim partition without blocking. A full
// partition means the queue was sized too small for the pool; the
// notification is then parked for the shutdown snapshot and
// ErrReclaimOverflow is returned.
func (q *Queue) Reclaim(n *Notification) error {
	select {
	case q.reclaim <- n:
		q.metrics.RecordReclaimed(1)
		q.updateDepth()
		return nil
	default:
	}

	q.mu.Lock()
	q.overflow = append(q.overflow, n)
	parked := len(q.overflow)
	q.mu.Unlock()

	q.log.Error("reclaim partition full, notification parked until shutdown",
		logger.Uint32("notification_id", n.id),
		logger.Int("capacity", cap(q.reclaim)),
		logger.Int("parked", parked))

	return errors.New(ErrReclaimOverflow).
		Component(componentName).
		Category(errors.CategoryQueue).
		Priority(errors.PriorityCritical).
		Context("capacity", cap(q.reclaim)).
		Build()
}

// ReclaimAll reclaims every notification in order and returns the first error.
func (q *Queue) ReclaimAll(list []*Notification) error {
	var firstErr error
	for _, n := range list {
		if err := q.Reclaim(n); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ReportRejected forwards a permanently rejected notification to the sink.
func (q *Queue) ReportRejected(n *Notification, status Status) {
	q.mu.Lock()
	sink := q.sink
	q.mu.Unlock()

	if sink != nil {
		sink.Rejected(n, status)
	}
}

func (q *Queue) setRejectionSink(sink RejectionSink) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sink = sink
}

// SnapshotRemaining returns the notifications currently held by both
// partitions and any parked overflow. It is not atomic across partitions.
func (q *Queue) SnapshotRemaining() []*Notification {
	reclaimed := drainChannel(q.reclaim)
	q.mu.Lock()
	front := slices.Clone(q.front)
	q.mu.Unlock()
	working := drainChannel(q.working)

	out := make([]*Notification, 0, len(reclaimed)+len(front)+len(working))
	out = append(out, reclaimed...)
	out = append(out, front...)
	out = append(out, working...)

	var unplaced []*Notification
	unplaced = append(unplaced, refill(q.reclaim, reclaimed)...)
	unplaced = append(unplaced, refill(q.working, working)...)

	q.mu.Lock()
	out = append(out, q.overflow...)
	q.overflow = append(q.overflow, unplaced...)
	q.mu.Unlock()

	q.updateDepth()
	return out
}

func drainChannel(ch chan *Notification) []*Notification {
	var out []*Notification
	for {
		select {
		case n := <-ch:
			out = append(out, n)
		default:
			return out
		}
	}
}

// refill pushes list back into ch and returns what no longer fits.
func refill(ch chan *Notification, list []*Notification) []*Notification {
	for i, n := range list {
		select {
		case ch <- n:
		default:
			return list[i:]
		}
	}
	return nil
}

// Len returns the current depth of the working and reclaim partitions.
func (q *Queue) Len() (working, reclaim int) {
	return len(q.working), len(q.reclaim)
}

// Pending returns the total number of notifications not yet taken by a worker.
func (q *Queue) Pending() int {
	q.mu.Lock()
	parked := len(q.front) + len(q.overflow)
	q.mu.Unlock()
	return len(q.working) + len(q.reclaim) + parked
}

// Close stops accepting new notifications. Dequeue keeps draining.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

func (q *Queue) updateDepth() {
	if q.metrics == nil {
		return
	}
	q.metrics.SetQueueDepth(len(q.working), len(q.reclaim))
}
