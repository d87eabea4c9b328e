package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/liuyaodong/APNPush/internal/apns"
	"github.com/liuyaodong/APNPush/internal/errors"
	"github.com/liuyaodong/APNPush/internal/logger"
	"github.com/liuyaodong/APNPush/internal/observability/metrics"
)

const defaultPublishBuffer = 1024

// ErrPublisherClosed is returned for events sent after Close.
var ErrPublisherClosed = errors.NewStd("mqtt publisher closed")

type message struct {
	event   string
	topic   string
	payload []byte
}

// Publisher sends run events to the broker from a single goroutine so that
// callers on delivery paths never block on the network. Events that do not
// fit in the buffer are dropped and counted.
type Publisher struct {
	client  Client
	prefix  string
	sender  string
	runID   string
	metrics *metrics.MQTTMetrics
	log     logger.Logger
	now     func() time.Time

	ch      chan message
	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Int64
}

// PublisherOption customises a Publisher.
type PublisherOption func(*Publisher)

// WithBufferSize sets the number of events held while the broker is slow.
func WithBufferSize(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.ch = make(chan message, n)
		}
	}
}

// WithPublisherMetrics records published events.
func WithPublisherMetrics(m *metrics.MQTTMetrics) PublisherOption {
	return func(p *Publisher) { p.metrics = m }
}

// WithSender sets the sender name carried in every event.
func WithSender(name string) PublisherOption {
	return func(p *Publisher) { p.sender = name }
}

// NewPublisher creates a publisher writing to <prefix>/<event> and starts its
// send loop. Close must be called to release it.
func NewPublisher(client Client, prefix, runID string, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		client: client,
		prefix: strings.TrimSuffix(prefix, "/"),
		runID:  runID,
		log:    GetLogger(),
		now:    time.Now,
		ch:     make(chan message, defaultPublishBuffer),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	go p.loop()
	return p
}

// Topic returns the topic for event.
func (p *Publisher) Topic(event string) string {
	if p.prefix == "" {
		return event
	}
	return p.prefix + "/" + event
}

// Rejected publishes a rejected token. Its signature matches the invalid
// token log hook.
func (p *Publisher) Rejected(token string, status apns.Status) {
	ev := newRejectedTokenEvent(token, status)
	ev.Envelope = p.envelope(EventRejected)
	p.logFailure(p.publish(EventRejected, ev))
}

// Feedback publishes a feedback tuple.
func (p *Publisher) Feedback(t apns.FeedbackTuple) {
	ev := newFeedbackEvent(t)
	ev.Envelope = p.envelope(EventFeedback)
	p.logFailure(p.publish(EventFeedback, ev))
}

// Summary publishes the run summary.
func (p *Publisher) Summary(ev RunSummaryEvent) error {
	ev.Envelope = p.envelope(EventSummary)
	return p.publish(EventSummary, ev)
}

// Dropped returns how many events were discarded because the buffer was full.
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

func (p *Publisher) envelope(event string) Envelope {
	return Envelope{Event: event, RunID: p.runID, Sender: p.sender, Timestamp: p.now().UTC()}
}

func (p *Publisher) publish(event string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("event", event).
			Context("operation", "marshal_event").
			Build()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}
	select {
	case p.ch <- message{event: event, topic: p.Topic(event), payload: payload}:
		return nil
	default:
		p.dropped.Add(1)
		p.metrics.IncrementErrors()
		return errors.Newf("mqtt publish buffer full, %s event dropped", event).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("event", event).
			Build()
	}
}

func (p *Publisher) logFailure(err error) {
	if err != nil && !errors.Is(err, ErrPublisherClosed) {
		p.log.Debug("mqtt event not queued", logger.Error(err))
	}
}

func (p *Publisher) loop() {
	defer close(p.done)
	for msg := range p.ch {
		if !p.client.IsConnected() {
			p.dropped.Add(1)
			p.log.Debug("mqtt not connected, event dropped", logger.String("topic", msg.topic))
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), DefaultConfig().PublishTimeout)
		err := p.client.Publish(ctx, msg.topic, msg.payload)
		cancel()
		if err != nil {
			p.log.Warn("failed to publish event",
				logger.String("topic", msg.topic),
				logger.Error(err))
			continue
		}
		p.metrics.RecordPublished(msg.event, len(msg.payload))
	}
}

// Close stops accepting events and waits until the buffered ones are sent or
// ctx ends. It is safe to call more than once.
func (p *Publisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		if n := p.dropped.Load(); n > 0 {
			p.log.Warn("mqtt events dropped", logger.Int64("count", n))
		}
		return nil
	case <-ctx.Done():
		return errors.New(ctx.Err()).
			Component("mqtt").
			Category(errors.CategoryTimeout).
			Context("operation", "close_publisher").
			Context("pending", len(p.ch)).
			Build()
	}
}
