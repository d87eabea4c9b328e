// Package producer turns a line-oriented token file into notifications on the
// delivery queue.
package producer

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/liuyaodong/APNPush/internal/apns"
	"github.com/liuyaodong/APNPush/internal/errors"
	"github.com/liuyaodong/APNPush/internal/logger"
	"github.com/liuyaodong/APNPush/internal/observability/metrics"
)

// maxLineLength bounds a single token file line.
const maxLineLength = 64 * 1024

// Enqueuer accepts notifications for delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, n *apns.Notification) error
}

// KnownBadChecker reports whether a token was previously rejected or
// reported by the feedback service.
type KnownBadChecker interface {
	IsKnownBad(ctx context.Context, token string) (bool, error)
}

// Config holds what every produced notification shares.
type Config struct {
	Payload       []byte
	Priority      uint8
	ExpirationTTL time.Duration // zero means no expiration
}

// Stats counts what a run did with the input lines.
type Stats struct {
	Read            int
	Enqueued        int
	SkippedInvalid  int
	SkippedKnownBad int
}

// Producer reads tokens and enqueues one notification per valid token.
type Producer struct {
	queue    Enqueuer
	cfg      Config
	ids      *apns.IDGenerator
	knownBad KnownBadChecker
	metrics  *metrics.DeliveryMetrics
	now      func() time.Time
	log      logger.Logger
}

// Option customises a Producer.
type Option func(*Producer)

// WithKnownBad skips tokens the checker reports as known bad.
func WithKnownBad(c KnownBadChecker) Option {
	return func(p *Producer) { p.knownBad = c }
}

// WithMetrics counts tokens by outcome.
func WithMetrics(m *metrics.DeliveryMetrics) Option {
	return func(p *Producer) { p.metrics = m }
}

// WithIDGenerator replaces the process-wide identifier sequence.
func WithIDGenerator(g *apns.IDGenerator) Option {
	return func(p *Producer) { p.ids = g }
}

// WithClock sets the time source used for expiration.
func WithClock(now func() time.Time) Option {
	return func(p *Producer) { p.now = now }
}

// New creates a producer feeding q.
func New(q Enqueuer, cfg Config, opts ...Option) *Producer {
	if cfg.Priority == 0 {
		cfg.Priority = apns.PriorityImmediate
	}
	p := &Producer{
		queue: q,
		cfg:   cfg,
		now:   time.Now,
		log:   GetLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunFile opens path and calls Run with it.
func (p *Producer) RunFile(ctx context.Context, path string) (Stats, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return Stats{}, errors.New(err).
			Component("producer").
			Category(errors.CategoryFileIO).
			Context("token_file", path).
			Context("operation", "open_token_file").
			Build()
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			p.log.Warn("failed to close token file", logger.Error(cerr))
		}
	}()

	p.log.Info("reading tokens", logger.String("token_file", path))
	return p.Run(ctx, f)
}

// Run enqueues a notification for every valid token in r. It stops early
// when ctx ends or the queue closes and returns the counts so far.
func (p *Producer) Run(ctx context.Context, r io.Reader) (Stats, error) {
	var stats Stats
	opts := p.notificationOptions()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineLength)

	defer func() {
		p.log.Info("token production finished",
			logger.Int("read", stats.Read),
			logger.Int("enqueued", stats.Enqueued),
			logger.Int("skipped_invalid", stats.SkippedInvalid),
			logger.Int("skipped_known_bad", stats.SkippedKnownBad))
	}()

	for scanner.Scan() {
		raw := normalizeLine(scanner.Text())
		if raw == "" {
			continue
		}
		stats.Read++

		token, err := apns.ParseToken(raw)
		if err != nil {
			stats.SkippedInvalid++
			p.metrics.RecordToken(metrics.TokenInvalid)
			p.log.Warn("illegal token skipped", logger.String("token", logger.MaskToken(raw)))
			continue
		}

		if p.isKnownBad(ctx, token.String()) {
			stats.SkippedKnownBad++
			p.metrics.RecordToken(metrics.TokenKnownBad)
			continue
		}

		n, err := apns.NewNotification(p.nextID(), token, p.cfg.Payload, opts...)
		if err != nil {
			return stats, err
		}
		if err := p.queue.Enqueue(ctx, n); err != nil {
			return stats, errors.New(err).
				Component("producer").
				Category(errors.CategoryQueue).
				Context("operation", "enqueue").
				Context("enqueued", stats.Enqueued).
				Build()
		}
		stats.Enqueued++
		p.metrics.RecordToken(metrics.TokenEnqueued)
	}

	if err := scanner.Err(); err != nil {
		return stats, errors.New(err).
			Component("producer").
			Category(errors.CategoryFileIO).
			Context("operation", "scan_tokens").
			Context("line", stats.Read+1).
			Build()
	}
	return stats, nil
}

func (p *Producer) notificationOptions() []apns.NotificationOption {
	opts := []apns.NotificationOption{apns.WithPriority(p.cfg.Priority)}
	if p.cfg.ExpirationTTL > 0 {
		opts = append(opts, apns.WithExpiration(p.now().Add(p.cfg.ExpirationTTL)))
	}
	return opts
}

func (p *Producer) nextID() uint32 {
	if p.ids != nil {
		return p.ids.Next()
	}
	return apns.NextID()
}

// isKnownBad treats lookup failures as unknown so a broken store never
// blocks delivery.
func (p *Producer) isKnownBad(ctx context.Context, token string) bool {
	if p.knownBad == nil {
		return false
	}
	bad, err := p.knownBad.IsKnownBad(ctx, token)
	if err != nil {
		p.log.Warn("known-bad lookup failed, sending anyway", logger.Error(err))
		return false
	}
	return bad
}

// normalizeLine strips whitespace, including spaces inside the token, and
// the angle brackets of the <xxxxxxxx xxxxxxxx> device description form.
func normalizeLine(line string) string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "<")
	line = strings.TrimSuffix(line, ">")
	return strings.ReplaceAll(line, " ", "")
}
