package apns

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/liuyaodong/APNPush/internal/errors"
	"github.com/liuyaodong/APNPush/internal/logger"
	"github.com/liuyaodong/APNPush/internal/observability/metrics"
)

// WorkerState is the lifecycle position of a connection worker.
type WorkerState int32

const (
	StateConnecting WorkerState = iota
	StateActive
	StateClosing
	StateTerminated
)

// String returns a readable state name
func (s WorkerState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// WorkerHost is what a worker needs from its owner.
type WorkerHost interface {
	Dialer() Dialer
	GatewayAddress() string
	WorkerTerminated(w *Worker)
}

// WorkerConfig holds the tuning knobs of one connection worker
type WorkerConfig struct {
	// CacheCapacity bounds the sent-notification cache and so the retry window
	CacheCapacity int
	// BatchSize is the number of frames written between flushes
	BatchSize int
	// DequeueTimeout bounds each queue wait; an empty wait triggers a flush
	DequeueTimeout time.Duration
	// WriteReadyPoll is how often a blocked hand-off re-checks termination
	WriteReadyPoll time.Duration
	// WriteTimeout is the socket write deadline per frame
	WriteTimeout   time.Duration
	ConnectTimeout time.Duration
	CloseTimeout   time.Duration
}

// DefaultWorkerConfig returns default configuration
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		CacheCapacity:  300,
		BatchSize:      32,
		DequeueTimeout: 50 * time.Millisecond,
		WriteReadyPoll: 5 * time.Second,
		WriteTimeout:   30 * time.Second,
		ConnectTimeout: 30 * time.Second,
		CloseTimeout:   10 * time.Second,
	}
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	d := DefaultWorkerConfig()
	if c.CacheCapacity <= 0 {
		c.CacheCapacity = d.CacheCapacity
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.DequeueTimeout <= 0 {
		c.DequeueTimeout = d.DequeueTimeout
	}
	if c.WriteReadyPoll <= 0 {
		c.WriteReadyPoll = d.WriteReadyPoll
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = d.CloseTimeout
	}
	return c
}

// WorkerStats is a point-in-time view of a worker's counters.
type WorkerStats struct {
	ID        int
	State     WorkerState
	Written   uint64
	Rejected  uint64
	Reclaimed uint64
	Evicted   uint64
}

// Worker owns one gateway connection. A send loop hands notifications to a
// writer goroutine, which batches frames into the socket, while a reader
// goroutine decodes rejections. Any error ends the worker; its host replaces it.
type Worker struct {
	id      int
	host    WorkerHost
	queue   *Queue
	cfg     WorkerConfig
	cache   *SentCache
	metrics *metrics.DeliveryMetrics
	log     logger.Logger

	state       atomic.Int32
	terminating atomic.Bool
	closing     chan struct{}
	closeOnce   sync.Once
	done        chan struct{}

	connMu     sync.Mutex
	conn       net.Conn
	out        chan *Notification // nil entries ask the writer to flush
	writerDone chan struct{}
	readerDone chan struct{}
	rejected   atomic.Bool

	written      atomic.Uint64
	rejectCount  atomic.Uint64
	reclaimCount atomic.Uint64
}

// NewWorker creates a worker in the connecting state. m may be nil.
func NewWorker(id int, host WorkerHost, queue *Queue, cfg WorkerConfig, m *metrics.DeliveryMetrics) *Worker {
	cfg = cfg.withDefaults()
	w := &Worker{
		id:         id,
		host:       host,
		queue:      queue,
		cfg:        cfg,
		metrics:    m,
		log:        GetLogger().Module("worker").With(logger.Int("worker_id", id)),
		closing:    make(chan struct{}),
		done:       make(chan struct{}),
		out:        make(chan *Notification, cfg.BatchSize),
		writerDone: make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	w.cache = NewSentCache(cfg.CacheCapacity, func(*Notification) { m.RecordCacheEviction() })
	return w
}

// ID returns the worker's identifier within its pool.
func (w *Worker) ID() int { return w.id }

// State returns the current lifecycle state.
func (w *Worker) State() WorkerState { return WorkerState(w.state.Load()) }

// Done is closed once the worker has terminated.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Terminate asks the worker to stop at the next loop iteration. It does not wait.
func (w *Worker) Terminate() { w.requestTermination() }

// GetStats returns the worker's counters.
func (w *Worker) GetStats() WorkerStats {
	return WorkerStats{
		ID:        w.id,
		State:     w.State(),
		Written:   w.written.Load(),
		Rejected:  w.rejectCount.Load(),
		Reclaimed: w.reclaimCount.Load(),
		Evicted:   w.cache.Evicted(),
	}
}

// Run connects and delivers until termination is requested, an I/O error
// occurs, a rejection arrives or ctx ends. The host is notified on exit.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.done)
	defer w.host.WorkerTerminated(w)

	stop := context.AfterFunc(ctx, w.requestTermination)
	defer stop()

	if err := w.connect(ctx); err != nil {
		w.setState(StateTerminated)
		return err
	}

	w.setState(StateActive)
	w.metrics.WorkerUp(true)
	w.log.Info("worker active", logger.String("gateway", w.host.GatewayAddress()))

	go w.writeLoop()
	go w.readLoop()

	for !w.terminating.Load() {
		n, ok := w.queue.Dequeue(w.cfg.DequeueTimeout)
		if !ok {
			w.requestFlush()
			continue
		}
		if !w.submit(n) {
			break
		}
	}

	w.close()
	return nil
}

func (w *Worker) connect(ctx context.Context) error {
	w.setState(StateConnecting)
	address := w.host.GatewayAddress()

	dialCtx, cancel := context.WithTimeout(ctx, w.cfg.ConnectTimeout)
	defer cancel()

	start := time.Now()
	conn, err := w.host.Dialer().DialContext(dialCtx, address)
	elapsed := time.Since(start)
	w.metrics.RecordConnect(err == nil, elapsed.Seconds())
	if err != nil {
		w.log.Warn("gateway connection failed",
			logger.String("gateway", address),
			logger.Duration("elapsed", elapsed),
			logger.Error(err))
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryNetwork).
			GatewayContext(address, w.id).
			Timing("connect_gateway", elapsed).
			Build()
	}

	w.connMu.Lock()
	w.conn = conn
	w.connMu.Unlock()
	return nil
}

// submit records n as in flight and hands it to the writer, waiting for
// room with a periodic termination check. On failure n is reclaimed.
func (w *Worker) submit(n *Notification) bool {
	w.cache.Add(n)

	timer := time.NewTimer(w.cfg.WriteReadyPoll)
	defer timer.Stop()

	for {
		select {
		case w.out <- n:
			return true
		case <-w.closing:
			w.reclaimIfCached(n)
			return false
		case <-timer.C:
			if w.terminating.Load() {
				w.reclaimIfCached(n)
				return false
			}
			w.log.Debug("connection not write-ready, waiting",
				logger.Uint32("notification_id", n.id),
				logger.Int("buffered", len(w.out)))
			timer.Reset(w.cfg.WriteReadyPoll)
		}
	}
}

func (w *Worker) requestFlush() {
	select {
	case w.out <- nil:
	default:
	}
}

func (w *Worker) writeLoop() {
	defer close(w.writerDone)

	bw := bufio.NewWriterSize(w.conn, w.cfg.BatchSize*maxConventionalFrameSize)
	// frames handed to bw since the last successful flush
	unflushed := make([]*Notification, 0, w.cfg.BatchSize)

	// bufio keeps the first write error, so a failure loses the whole batch.
	fail := func(err error) {
		w.writeFailed(unflushed, err)
		unflushed = unflushed[:0]
	}

	flush := func() {
		if len(unflushed) == 0 {
			return
		}
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
		if err := bw.Flush(); err != nil {
			fail(err)
			return
		}
		w.metrics.RecordFlush()
		unflushed = unflushed[:0]
	}

	for {
		select {
		case n := <-w.out:
			if n == nil {
				flush()
				continue
			}
			if w.terminating.Load() {
				w.reclaimIfCached(n)
				continue
			}
			_ = w.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
			unflushed = append(unflushed, n)
			if _, err := bw.Write(Encode(n)); err != nil {
				fail(err)
				continue
			}
			w.written.Add(1)
			w.metrics.RecordFrames(1)
			if len(unflushed) >= w.cfg.BatchSize {
				flush()
			}
		case <-w.closing:
			for _, n := range drainChannel(w.out) {
				if n != nil {
					w.reclaimIfCached(n)
				}
			}
			// After a rejection the gateway ignores everything that follows.
			if !w.rejected.Load() {
				flush()
			}
			return
		}
	}
}

// writeFailed reclaims every frame that may not have reached the gateway
// and ends the worker.
func (w *Worker) writeFailed(lost []*Notification, err error) {
	if w.terminating.Load() {
		w.log.Debug("write after termination failed",
			logger.Int("reclaimed", len(lost)),
			logger.Error(err))
	} else {
		werr := errors.New(err).
			Component(componentName).
			Category(errors.CategoryNetwork).
			GatewayContext(w.host.GatewayAddress(), w.id).
			Context("operation", "write_frame").
			Context("unflushed", len(lost)).
			Build()
		w.log.Warn("gateway write failed",
			logger.Int("reclaimed", len(lost)),
			logger.Error(werr))
	}
	w.requestTermination()
	for _, n := range lost {
		w.reclaimIfCached(n)
	}
}

func (w *Worker) readLoop() {
	defer close(w.readerDone)

	decoder := NewRejectionDecoder(w.log)
	buf := make([]byte, 512)
	for {
		nr, err := w.conn.Read(buf)
		if nr > 0 {
			if rejections := decoder.Feed(buf[:nr]); len(rejections) > 0 {
				if len(rejections) > 1 {
					w.log.Warn("multiple rejections in one read, handling the first",
						logger.Int("count", len(rejections)))
				}
				w.handleRejection(rejections[0])
				return
			}
		}
		if err != nil {
			if !w.terminating.Load() {
				w.log.Info("gateway closed connection", logger.Error(err))
				w.requestTermination()
			}
			return
		}
	}
}

// handleRejection resolves a rejection against the cache: the referenced
// notification is reported, everything written after it is reclaimed.
func (w *Worker) handleRejection(r Rejection) {
	// Terminate before reclaiming so this connection never re-sends them.
	w.rejected.Store(true)
	w.requestTermination()
	w.rejectCount.Add(1)
	w.metrics.RecordRejection(r.Status.String())

	entries := w.cache.TakeAllFromIDInclusive(r.ID)
	if len(entries) == 0 {
		w.metrics.RecordCacheMiss()
		w.log.Error("rejection for notification not in sent cache",
			logger.Uint32("notification_id", r.ID),
			logger.String("status", r.Status.String()))
		return
	}

	rejected, rest := entries[0], entries[1:]
	w.log.Info("notification rejected by gateway",
		logger.Uint32("notification_id", r.ID),
		logger.String("status", r.Status.String()),
		logger.String("token", logger.MaskToken(rejected.token.String())),
		logger.Int("reclaimed", len(rest)))

	w.queue.ReportRejected(rejected, r.Status)
	w.reclaimCount.Add(uint64(len(rest)))
	if err := w.queue.ReclaimAll(rest); err != nil {
		w.log.Error("failed to reclaim notifications after rejection", logger.Error(err))
	}
}

// reclaimIfCached returns n to the queue unless someone already resolved it.
func (w *Worker) reclaimIfCached(n *Notification) {
	if _, ok := w.cache.TakeByID(n.id); !ok {
		return
	}
	w.reclaimCount.Add(1)
	if err := w.queue.Reclaim(n); err != nil {
		w.log.Error("failed to reclaim in-flight notification",
			logger.Uint32("notification_id", n.id),
			logger.Error(err))
	}
}

func (w *Worker) requestTermination() {
	w.closeOnce.Do(func() {
		w.terminating.Store(true)
		close(w.closing)
	})
}

// close drains the writer, closes the socket and waits for the reader,
// each bounded by CloseTimeout.
func (w *Worker) close() {
	w.setState(StateClosing)
	w.requestTermination()

	if waitTimeout(w.writerDone, w.cfg.CloseTimeout) {
		// frames handed over after the writer stopped
		for _, n := range drainChannel(w.out) {
			if n != nil {
				w.reclaimIfCached(n)
			}
		}
	} else {
		w.log.Warn("writer did not finish before close timeout")
	}
	if err := w.conn.Close(); err != nil {
		w.log.Debug("connection close", logger.Error(err))
	}
	if !waitTimeout(w.readerDone, w.cfg.CloseTimeout) {
		w.log.Warn("reader did not finish before close timeout")
	}

	w.metrics.WorkerUp(false)
	w.setState(StateTerminated)
	w.log.Info("worker terminated",
		logger.Uint64("written", w.written.Load()),
		logger.Uint64("reclaimed", w.reclaimCount.Load()))
}

// forceClose closes the socket to unblock a stuck writer or reader.
func (w *Worker) forceClose() {
	w.requestTermination()
	w.connMu.Lock()
	conn := w.conn
	w.connMu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (w *Worker) setState(s WorkerState) {
	w.state.Store(int32(s))
}

func waitTimeout(ch <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}
