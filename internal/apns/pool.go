package apns

import (
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/liuyaodong/APNPush/internal/errors"
	"github.com/liuyaodong/APNPush/internal/logger"
	"github.com/liuyaodong/APNPush/internal/observability/metrics"
)

// UnsentSink receives whatever is left in the queue when the pool stops.
type UnsentSink interface {
	Unsent(remaining []*Notification)
}

// UnsentSinkFunc adapts a function to UnsentSink.
type UnsentSinkFunc func(remaining []*Notification)

// Unsent implements UnsentSink.
func (f UnsentSinkFunc) Unsent(remaining []*Notification) { f(remaining) }

// DialerFactory loads credentials and returns the dialer shared by all workers.
type DialerFactory func() (Dialer, error)

// PoolConfig holds the pool shape and its shutdown policy.
type PoolConfig struct {
	Workers int
	Worker  WorkerConfig
	// StopGrace is how long Stop waits for workers before forcing them closed
	StopGrace time.Duration
	// RespawnInterval is the minimum spacing between worker replacements
	RespawnInterval time.Duration
	RespawnBurst    int
}

// DefaultPoolConfig returns default configuration
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:         10,
		Worker:          DefaultWorkerConfig(),
		StopGrace:       60 * time.Second,
		RespawnInterval: 200 * time.Millisecond,
		RespawnBurst:    10,
	}
}

// Pool keeps a fixed number of connection workers running against one gateway.
type Pool struct {
	cfg       PoolConfig
	address   string
	factory   DialerFactory
	queue     *Queue
	rejection RejectionSink
	unsent    UnsentSink
	metrics   *metrics.DeliveryMetrics
	log       logger.Logger
	limiter   *rate.Limiter

	dialer Dialer

	ctx        context.Context
	cancel     context.CancelFunc
	stopCtx    context.Context
	stopCancel context.CancelFunc

	mu       sync.Mutex
	workers  map[int]*Worker
	nextID   int
	stopping bool
	wg       sync.WaitGroup

	started  atomic.Bool
	stopOnce sync.Once
}

// PoolOption customises a Pool.
type PoolOption func(*Pool)

// WithRejectionSink sets where permanently rejected notifications go.
func WithRejectionSink(s RejectionSink) PoolOption {
	return func(p *Pool) { p.rejection = s }
}

// WithUnsentSink sets the receiver of the shutdown snapshot.
func WithUnsentSink(s UnsentSink) PoolOption {
	return func(p *Pool) { p.unsent = s }
}

// WithPoolMetrics records connects, respawns and unsent counts.
func WithPoolMetrics(m *metrics.DeliveryMetrics) PoolOption {
	return func(p *Pool) { p.metrics = m }
}

// WithPoolLogger overrides the module logger.
func WithPoolLogger(l logger.Logger) PoolOption {
	return func(p *Pool) { p.log = l }
}

// NewPool creates a pool delivering queue to address. The pool becomes the
// queue's rejection sink and forwards to the configured RejectionSink.
func NewPool(address string, factory DialerFactory, queue *Queue, cfg PoolConfig, opts ...PoolOption) *Pool {
	d := DefaultPoolConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = d.Workers
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = d.StopGrace
	}
	if cfg.RespawnInterval <= 0 {
		cfg.RespawnInterval = d.RespawnInterval
	}
	if cfg.RespawnBurst <= 0 {
		cfg.RespawnBurst = cfg.Workers
	}
	cfg.Worker = cfg.Worker.withDefaults()

	p := &Pool{
		cfg:     cfg,
		address: address,
		factory: factory,
		queue:   queue,
		log:     GetLogger().Module("pool"),
		limiter: rate.NewLimiter(rate.Every(cfg.RespawnInterval), cfg.RespawnBurst),
		workers: make(map[int]*Worker, cfg.Workers),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.stopCtx, p.stopCancel = context.WithCancel(context.Background())
	queue.setRejectionSink(p)
	return p
}

// Start loads the credentials once and spawns the workers. A credential
// failure is returned and nothing is started.
func (p *Pool) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrPoolStarted
	}

	p.mu.Lock()
	stopping := p.stopping
	p.mu.Unlock()
	if stopping {
		return ErrPoolStopped
	}

	dialer, err := p.factory()
	if err != nil {
		p.log.Error("failed to load client credentials", logger.Error(err))
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryCertificate).
			Priority(errors.PriorityCritical).
			Context("operation", "load_credentials").
			Build()
	}
	p.dialer = dialer

	p.mu.Lock()
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	p.log.Info("starting connection pool",
		logger.String("gateway", p.address),
		logger.Int("workers", p.cfg.Workers),
		logger.Int("cache_capacity", p.cfg.Worker.CacheCapacity),
		logger.Int("batch_size", p.cfg.Worker.BatchSize))

	for range p.cfg.Workers {
		p.spawn()
	}
	return nil
}

func (p *Pool) spawn() {
	p.mu.Lock()
	if p.stopping || p.ctx.Err() != nil {
		p.mu.Unlock()
		return
	}
	p.nextID++
	w := NewWorker(p.nextID, p, p.queue, p.cfg.Worker, p.metrics)
	p.workers[w.id] = w
	ctx := p.ctx
	// registered under the lock so a concurrent Stop waits for it
	p.wg.Go(func() { _ = w.Run(ctx) })
	p.mu.Unlock()
}

// Dialer implements WorkerHost.
func (p *Pool) Dialer() Dialer { return p.dialer }

// GatewayAddress implements WorkerHost.
func (p *Pool) GatewayAddress() string { return p.address }

// WorkerTerminated implements WorkerHost: a replacement is spawned unless the
// pool is stopping. Replacements are rate limited so an unreachable gateway
// does not turn into a dial loop.
func (p *Pool) WorkerTerminated(w *Worker) {
	p.mu.Lock()
	delete(p.workers, w.id)
	stopping := p.stopping
	p.mu.Unlock()

	if stopping {
		return
	}
	if err := p.limiter.Wait(p.stopCtx); err != nil {
		return
	}
	p.metrics.RecordRespawn()
	p.log.Debug("respawning worker", logger.Int("replaced_worker_id", w.id))
	p.spawn()
}

// Rejected implements RejectionSink by forwarding to the configured sink.
func (p *Pool) Rejected(n *Notification, status Status) {
	if p.rejection != nil {
		p.rejection.Rejected(n, status)
	}
}

// ActiveWorkers returns the number of live workers.
func (p *Pool) ActiveWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Stats returns the counters of every live worker ordered by ID.
func (p *Pool) Stats() []WorkerStats {
	p.mu.Lock()
	workers := slices.Collect(maps.Values(p.workers))
	p.mu.Unlock()

	stats := make([]WorkerStats, 0, len(workers))
	for _, w := range workers {
		stats = append(stats, w.GetStats())
	}
	slices.SortFunc(stats, func(a, b WorkerStats) int { return a.ID - b.ID })
	return stats
}

// Stop terminates all workers and hands the remaining notifications to the
// unsent sink exactly once. Workers get StopGrace (or until ctx ends) to
// finish; stragglers have their connections closed. Later calls are no-ops.
func (p *Pool) Stop(ctx context.Context) {
	p.stopOnce.Do(func() { p.stop(ctx) })
}

func (p *Pool) stop(ctx context.Context) {
	p.mu.Lock()
	p.stopping = true
	workers := slices.Collect(maps.Values(p.workers))
	p.mu.Unlock()

	p.log.Info("stopping connection pool", logger.Int("workers", len(workers)))
	p.queue.Close()
	p.stopCancel()
	for _, w := range workers {
		w.Terminate()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	grace := time.NewTimer(p.cfg.StopGrace)
	defer grace.Stop()

	select {
	case <-done:
	case <-grace.C:
		p.forceStop(done, "grace period elapsed")
	case <-ctx.Done():
		p.forceStop(done, "stop context done")
	}

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	remaining := p.queue.SnapshotRemaining()
	p.metrics.SetUnsent(len(remaining))
	p.log.Info("connection pool stopped", logger.Int("unsent", len(remaining)))
	if p.unsent != nil {
		p.unsent.Unsent(remaining)
	}
}

func (p *Pool) forceStop(done <-chan struct{}, reason string) {
	p.mu.Lock()
	stragglers := slices.Collect(maps.Values(p.workers))
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	p.log.Warn("forcing workers closed",
		logger.String("reason", reason),
		logger.Int("stragglers", len(stragglers)))
	for _, w := range stragglers {
		w.forceClose()
	}

	if !waitTimeout(done, p.cfg.Worker.CloseTimeout) {
		p.log.Error("workers still running after forced close",
			logger.Int("stragglers", len(stragglers)))
	}
}
