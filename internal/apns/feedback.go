package apns

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/liuyaodong/APNPush/internal/errors"
	"github.com/liuyaodong/APNPush/internal/logger"
	"github.com/liuyaodong/APNPush/internal/observability/metrics"
)

const (
	DefaultFeedbackReadTimeout    = 30 * time.Second
	DefaultFeedbackConnectTimeout = 30 * time.Second
)

// FeedbackReader drains the feedback service once per Read call.
type FeedbackReader struct {
	dialer         Dialer
	address        string
	readTimeout    time.Duration
	connectTimeout time.Duration
	metrics        *metrics.DeliveryMetrics
	log            logger.Logger
}

// FeedbackOption customises a FeedbackReader.
type FeedbackOption func(*FeedbackReader)

// WithFeedbackReadTimeout sets how long the reader waits for the next bytes
// before treating the stream as finished.
func WithFeedbackReadTimeout(d time.Duration) FeedbackOption {
	return func(r *FeedbackReader) {
		if d > 0 {
			r.readTimeout = d
		}
	}
}

// WithFeedbackMetrics counts decoded tuples.
func WithFeedbackMetrics(m *metrics.DeliveryMetrics) FeedbackOption {
	return func(r *FeedbackReader) { r.metrics = m }
}

// NewFeedbackReader creates a reader for the feedback endpoint at address.
func NewFeedbackReader(dialer Dialer, address string, opts ...FeedbackOption) *FeedbackReader {
	r := &FeedbackReader{
		dialer:         dialer,
		address:        address,
		readTimeout:    DefaultFeedbackReadTimeout,
		connectTimeout: DefaultFeedbackConnectTimeout,
		log:            GetLogger().Module("feedback"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Read connects, calls fn for every tuple until the service closes the
// stream or stays silent for the read timeout, and returns the tuple count.
// There is no retry.
func (r *FeedbackReader) Read(ctx context.Context, fn func(FeedbackTuple)) (int, error) {
	dialCtx, cancel := context.WithTimeout(ctx, r.connectTimeout)
	conn, err := r.dialer.DialContext(dialCtx, r.address)
	cancel()
	if err != nil {
		return 0, errors.New(err).
			Component(componentName).
			Category(errors.CategoryNetwork).
			Context("feedback", r.address).
			Context("operation", "connect_feedback").
			Build()
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			r.log.Debug("feedback connection close", logger.Error(cerr))
		}
	}()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	r.log.Info("reading feedback", logger.String("address", r.address))

	decoder := NewFeedbackDecoder()
	buf := make([]byte, 4096)
	count := 0
	for {
		_ = conn.SetReadDeadline(time.Now().Add(r.readTimeout))
		n, err := conn.Read(buf)
		for _, tuple := range decoder.Feed(buf[:n]) {
			count++
			r.metrics.RecordFeedbackTuple()
			fn(tuple)
		}

		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return count, ctx.Err()
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			r.log.Info("feedback stream idle, finishing", logger.Duration("timeout", r.readTimeout))
			break
		}
		if !errors.Is(err, io.EOF) {
			return count, errors.New(err).
				Component(componentName).
				Category(errors.CategoryNetwork).
				Context("feedback", r.address).
				Context("operation", "read_feedback").
				Build()
		}
		break
	}

	if decoder.Pending() {
		r.log.Warn("feedback stream ended inside a tuple")
	}
	r.log.Info("feedback complete", logger.Int("tuples", count))
	return count, nil
}
