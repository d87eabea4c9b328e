// Package push runs one bulk delivery: it wires the token producer, the
// connection pool and the run logs together and reports what happened.
package push

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/liuyaodong/APNPush/internal/apns"
	"github.com/liuyaodong/APNPush/internal/conf"
	"github.com/liuyaodong/APNPush/internal/errors"
	"github.com/liuyaodong/APNPush/internal/logger"
	"github.com/liuyaodong/APNPush/internal/mqtt"
	"github.com/liuyaodong/APNPush/internal/notify"
	"github.com/liuyaodong/APNPush/internal/observability"
	"github.com/liuyaodong/APNPush/internal/observability/metrics"
	"github.com/liuyaodong/APNPush/internal/payload"
	"github.com/liuyaodong/APNPush/internal/producer"
	"github.com/liuyaodong/APNPush/internal/runlog"
)

const (
	defaultDrainPoll = 2 * time.Second
	// recordTimeout bounds a single token store write issued from a
	// rejection or feedback callback.
	recordTimeout = 10 * time.Second
)

// Result summarises a push run.
type Result struct {
	RunID       string
	Environment apns.Environment
	Started     time.Time
	Duration    time.Duration
	Tokens      producer.Stats
	Rejected    int
	Unsent      int
	Feedback    int
}

// Runner executes push and feedback runs for one run directory.
type Runner struct {
	settings  *conf.Settings
	runDir    *runlog.RunDir
	env       apns.Environment
	endpoints apns.Endpoints
	factory   apns.DialerFactory
	metrics   *observability.Metrics
	recorder  TokenRecorder
	knownBad  producer.KnownBadChecker
	publisher EventPublisher
	notifier  SummaryNotifier
	runID     string
	now       func() time.Time
	drainPoll time.Duration
	log       logger.Logger

	background sync.WaitGroup
	rejected   atomic.Int64
}

// New prepares a Runner. Nothing is dialled until Push or Feedback.
func New(settings *conf.Settings, runDir *runlog.RunDir, opts ...Option) (*Runner, error) {
	env, err := apns.ParseEnvironment(settings.ResolvedEnvironment())
	if err != nil {
		return nil, errors.New(err).
			Component("push").
			Category(errors.CategoryConfiguration).
			Context("environment", settings.APNs.Environment).
			Build()
	}

	r := &Runner{
		settings:  settings,
		runDir:    runDir,
		env:       env,
		endpoints: env.Endpoints(),
		now:       time.Now,
		drainPoll: defaultDrainPoll,
	}
	r.factory = r.certificateDialer
	for _, opt := range opts {
		opt(r)
	}
	if r.runID == "" {
		r.runID = uuid.NewString()
	}
	r.log = GetLogger().With(logger.String("run_id", r.runID))
	return r, nil
}

// RunID returns the identifier of this run.
func (r *Runner) RunID() string { return r.runID }

func (r *Runner) certificateDialer() (apns.Dialer, error) {
	cert, err := conf.LoadClientCertificate(r.settings.APNs.Certificate)
	if err != nil {
		return nil, err
	}
	return apns.NewTLSDialer(cert, nil), nil
}

func (r *Runner) deliveryMetrics() *metrics.DeliveryMetrics {
	if r.metrics == nil {
		return nil
	}
	return r.metrics.Delivery
}

// Push sends the configured payload to every token in the token file. It
// returns once the pool has stopped and the unsent tokens are written. A
// cancelled ctx stops delivery immediately; the result is still filled in.
func (r *Runner) Push(ctx context.Context) (*Result, error) {
	started := r.now()
	result := &Result{RunID: r.runID, Environment: r.env, Started: started}
	ctx = logger.WithRunID(ctx, r.runID)

	body, err := payload.Encode(r.settings.Payload)
	if err != nil {
		return result, err
	}

	invalid, err := runlog.NewInvalidTokenLog(
		r.runDir.File(conf.InvalidTokenFile),
		runlog.WithDedupeTTL(r.settings.Tokens.RejectCacheTTL),
		runlog.WithRecordedHook(r.rejectionRecorded(ctx)),
	)
	if err != nil {
		return result, err
	}
	defer func() {
		if cerr := invalid.Close(); cerr != nil {
			r.log.Warn("failed to close invalid token log", logger.Error(cerr))
		}
	}()
	unsent := runlog.NewUnsentLog(r.runDir.File(conf.UnsentTokenFile))

	apnsCfg := r.settings.APNs
	queue := apns.NewQueue(apnsCfg.CacheCapacity, apnsCfg.Workers,
		apns.WithQueueMetrics(r.deliveryMetrics()),
		apns.WithQueueLogger(apns.GetLogger().Module("queue").WithContext(ctx)))
	pool := apns.NewPool(r.endpoints.Gateway, r.factory, queue, r.poolConfig(),
		apns.WithRejectionSink(apns.RejectionSinkFunc(func(n *apns.Notification, status apns.Status) {
			r.rejected.Add(1)
			invalid.Rejected(n, status)
		})),
		apns.WithUnsentSink(unsent),
		apns.WithPoolMetrics(r.deliveryMetrics()),
		apns.WithPoolLogger(apns.GetLogger().Module("pool").WithContext(ctx)),
	)

	r.log.Info("push run starting",
		logger.String("environment", string(r.env)),
		logger.String("gateway", r.endpoints.Gateway),
		logger.String("run_dir", r.runDir.Path()),
		logger.Int("payload_bytes", len(body)))

	if err := pool.Start(ctx); err != nil {
		return result, err
	}

	prod := producer.New(queue, producer.Config{
		Payload:       body,
		Priority:      uint8(apnsCfg.Priority), //nolint:gosec // validated to 5 or 10
		ExpirationTTL: apnsCfg.ExpirationTTL,
	}, r.producerOptions()...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		stats, err := prod.RunFile(gctx, r.settings.Tokens.File)
		result.Tokens = stats
		if err != nil {
			return err
		}
		r.drain(gctx, queue, pool)
		return nil
	})
	runErr := g.Wait()

	if ctx.Err() != nil {
		r.log.Warn("push run interrupted, stopping immediately")
	}
	pool.Stop(context.WithoutCancel(ctx))
	r.background.Wait()

	result.Rejected = int(r.rejected.Load())
	result.Unsent = unsent.Written()
	if err := unsent.Err(); err != nil && runErr == nil {
		runErr = err
	}

	if r.settings.Feedback.Enabled && ctx.Err() == nil {
		n, err := r.Feedback(ctx)
		result.Feedback = n
		if err != nil {
			r.log.Error("feedback read failed", logger.Error(err))
		}
	}

	result.Duration = r.now().Sub(started)
	r.report(ctx, result, runErr)
	return result, runErr
}

func (r *Runner) poolConfig() apns.PoolConfig {
	a := r.settings.APNs
	return apns.PoolConfig{
		Workers:   a.Workers,
		StopGrace: a.StopGrace,
		Worker: apns.WorkerConfig{
			CacheCapacity:  a.CacheCapacity,
			BatchSize:      a.BatchSize,
			DequeueTimeout: a.DequeueTimeout,
			WriteReadyPoll: a.WriteReadyPoll,
			WriteTimeout:   a.WriteTimeout,
			ConnectTimeout: a.ConnectTimeout,
			CloseTimeout:   a.CloseTimeout,
		},
	}
}

func (r *Runner) producerOptions() []producer.Option {
	opts := []producer.Option{producer.WithMetrics(r.deliveryMetrics()), producer.WithClock(r.now)}
	if r.settings.Tokens.SkipKnownBad && r.knownBad != nil {
		opts = append(opts, producer.WithKnownBad(r.knownBad))
	}
	return opts
}

// drain waits for the drain delay to pass, or for the queue to be empty
// with no frames written over a whole poll interval.
func (r *Runner) drain(ctx context.Context, queue *apns.Queue, pool *apns.Pool) {
	delay := r.settings.APNs.DrainDelay
	r.log.Info("all tokens enqueued, draining", logger.Duration("drain_delay", delay))

	deadline := time.NewTimer(delay)
	defer deadline.Stop()
	ticker := time.NewTicker(r.drainPoll)
	defer ticker.Stop()

	lastWritten := uint64(0)
	settled := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			r.log.Info("drain delay elapsed", logger.Int("pending", queue.Pending()))
			return
		case <-ticker.C:
			if queue.Pending() > 0 {
				settled = false
				continue
			}
			written := totalWritten(pool.Stats())
			if settled && written == lastWritten {
				r.log.Info("queue drained and workers idle")
				return
			}
			lastWritten, settled = written, true
		}
	}
}

func totalWritten(stats []apns.WorkerStats) uint64 {
	var total uint64
	for _, s := range stats {
		total += s.Written
	}
	return total
}

// rejectionRecorded forwards newly logged invalid tokens to the token store
// and the event publisher. Store writes run off the worker's reader goroutine.
func (r *Runner) rejectionRecorded(ctx context.Context) runlog.RecordedFunc {
	storeCtx := context.WithoutCancel(ctx)
	return func(token string, status apns.Status) {
		if r.publisher != nil {
			r.publisher.Rejected(token, status)
		}
		if r.recorder == nil {
			return
		}
		r.background.Go(func() {
			wctx, cancel := context.WithTimeout(storeCtx, recordTimeout)
			defer cancel()
			if err := r.recorder.RecordRejection(wctx, token, status); err != nil {
				r.log.Warn("failed to store rejected token",
					logger.String("token", logger.MaskToken(token)),
					logger.Error(err))
			}
		})
	}
}

// Feedback reads the feedback service once, writing every tuple to the
// feedback log, the token store and the event publisher.
func (r *Runner) Feedback(ctx context.Context) (int, error) {
	dialer, err := r.factory()
	if err != nil {
		return 0, errors.New(err).
			Component("push").
			Category(errors.CategoryCertificate).
			Context("operation", "load_credentials").
			Build()
	}

	now := r.now()
	flog, err := runlog.NewFeedbackLog(r.runDir.File(runlog.FeedbackFileName(now)), now)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := flog.Close(); cerr != nil {
			r.log.Warn("failed to close feedback log", logger.Error(cerr))
		}
	}()

	reader := apns.NewFeedbackReader(dialer, r.endpoints.Feedback,
		apns.WithFeedbackReadTimeout(r.settings.Feedback.ReadTimeout),
		apns.WithFeedbackMetrics(r.deliveryMetrics()))

	n, err := reader.Read(ctx, func(t apns.FeedbackTuple) {
		if werr := flog.Record(t); werr != nil {
			r.log.Error("failed to write feedback tuple", logger.Error(werr))
		}
		if r.recorder != nil {
			if rerr := r.recorder.RecordFeedback(ctx, t); rerr != nil {
				r.log.Warn("failed to store feedback token",
					logger.String("token", logger.MaskToken(t.TokenHex())),
					logger.Error(rerr))
			}
		}
		if r.publisher != nil {
			r.publisher.Feedback(t)
		}
	})
	r.log.Info("feedback stored", logger.Int("tuples", n), logger.String("path", r.runDir.Path()))
	return n, err
}

// report logs the result and hands it to the publisher and notifier.
// Failures there never change the run outcome.
func (r *Runner) report(ctx context.Context, res *Result, runErr error) {
	r.log.Info("push run finished",
		logger.Int("read", res.Tokens.Read),
		logger.Int("enqueued", res.Tokens.Enqueued),
		logger.Int("skipped_invalid", res.Tokens.SkippedInvalid),
		logger.Int("skipped_known_bad", res.Tokens.SkippedKnownBad),
		logger.Int("rejected", res.Rejected),
		logger.Int("unsent", res.Unsent),
		logger.Int("feedback", res.Feedback),
		logger.Duration("duration", res.Duration))

	if r.publisher != nil {
		if err := r.publisher.Summary(res.event()); err != nil {
			r.log.Warn("failed to publish run summary", logger.Error(err))
		}
	}
	if r.notifier != nil {
		nctx := context.WithoutCancel(ctx)
		if err := r.notifier.Send(nctx, res.Summary(r.settings.Main.Name, runErr)); err != nil {
			r.log.Warn("failed to send run summary", logger.Error(err))
		}
	}
}

// Summary converts the result for the notifier.
func (res *Result) Summary(sender string, runErr error) notify.Summary {
	return notify.Summary{
		RunID:           res.RunID,
		Sender:          sender,
		Environment:     string(res.Environment),
		Started:         res.Started,
		Duration:        res.Duration,
		Read:            res.Tokens.Read,
		Enqueued:        res.Tokens.Enqueued,
		SkippedInvalid:  res.Tokens.SkippedInvalid,
		SkippedKnownBad: res.Tokens.SkippedKnownBad,
		Rejected:        res.Rejected,
		Unsent:          res.Unsent,
		Feedback:        res.Feedback,
		Err:             runErr,
	}
}

func (res *Result) event() mqtt.RunSummaryEvent {
	return mqtt.RunSummaryEvent{
		Environment:     string(res.Environment),
		Read:            res.Tokens.Read,
		Enqueued:        res.Tokens.Enqueued,
		SkippedInvalid:  res.Tokens.SkippedInvalid,
		SkippedKnownBad: res.Tokens.SkippedKnownBad,
		Rejected:        res.Rejected,
		Unsent:          res.Unsent,
		Feedback:        res.Feedback,
		Duration:        res.Duration,
	}
}
