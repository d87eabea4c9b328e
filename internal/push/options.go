package push

import (
	"context"
	"time"

	"github.com/liuyaodong/APNPush/internal/apns"
	"github.com/liuyaodong/APNPush/internal/mqtt"
	"github.com/liuyaodong/APNPush/internal/notify"
	"github.com/liuyaodong/APNPush/internal/observability"
	"github.com/liuyaodong/APNPush/internal/producer"
)

// TokenRecorder persists tokens the gateway or the feedback service reported.
type TokenRecorder interface {
	RecordRejection(ctx context.Context, token string, status apns.Status) error
	RecordFeedback(ctx context.Context, tuple apns.FeedbackTuple) error
}

// EventPublisher forwards run events to an external bus.
type EventPublisher interface {
	Rejected(token string, status apns.Status)
	Feedback(t apns.FeedbackTuple)
	Summary(ev mqtt.RunSummaryEvent) error
}

// SummaryNotifier delivers the run summary to people.
type SummaryNotifier interface {
	Send(ctx context.Context, s notify.Summary) error
}

// Option customises a Runner.
type Option func(*Runner)

// WithDialerFactory replaces the certificate based TLS dialer.
func WithDialerFactory(f apns.DialerFactory) Option {
	return func(r *Runner) { r.factory = f }
}

// WithEndpoints overrides the environment's gateway and feedback addresses.
func WithEndpoints(e apns.Endpoints) Option {
	return func(r *Runner) { r.endpoints = e }
}

// WithMetrics wires the Prometheus collectors.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithTokenRecorder records rejected and expired tokens.
func WithTokenRecorder(t TokenRecorder) Option {
	return func(r *Runner) { r.recorder = t }
}

// WithKnownBad lets the producer skip tokens recorded by earlier runs.
func WithKnownBad(c producer.KnownBadChecker) Option {
	return func(r *Runner) { r.knownBad = c }
}

// WithPublisher publishes rejected, feedback and summary events.
func WithPublisher(p EventPublisher) Option {
	return func(r *Runner) { r.publisher = p }
}

// WithNotifier sends the summary when a push run ends.
func WithNotifier(n SummaryNotifier) Option {
	return func(r *Runner) { r.notifier = n }
}

// WithRunID sets the identifier carried by events and summaries.
func WithRunID(id string) Option {
	return func(r *Runner) { r.runID = id }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithDrainPoll sets how often the drain phase checks for an idle pool.
func WithDrainPoll(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.drainPoll = d
		}
	}
}
