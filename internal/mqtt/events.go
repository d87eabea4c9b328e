package mqtt

import (
	"time"

	"github.com/liuyaodong/APNPush/internal/apns"
)

// Event types, also used as the last topic segment.
const (
	EventRejected = "rejected"
	EventFeedback = "feedback"
	EventSummary  = "summary"
)

// Envelope carries the fields common to every published event.
type Envelope struct {
	Event     string    `json:"event"`
	RunID     string    `json:"run_id"`
	Sender    string    `json:"sender,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RejectedTokenEvent is published when the gateway rejects a token.
type RejectedTokenEvent struct {
	Envelope
	Token      string `json:"token"`
	Status     uint8  `json:"status"`
	StatusName string `json:"status_name"`
}

// FeedbackEvent is published for every feedback service tuple.
type FeedbackEvent struct {
	Envelope
	Token         string    `json:"token"`
	UninstalledAt time.Time `json:"uninstalled_at"`
}

// RunSummaryEvent is published once at the end of a push run.
type RunSummaryEvent struct {
	Envelope
	Environment     string        `json:"environment"`
	Read            int           `json:"read"`
	Enqueued        int           `json:"enqueued"`
	SkippedInvalid  int           `json:"skipped_invalid"`
	SkippedKnownBad int           `json:"skipped_known_bad"`
	Rejected        int           `json:"rejected"`
	Unsent          int           `json:"unsent"`
	Feedback        int           `json:"feedback"`
	Duration        time.Duration `json:"duration_ns"`
}

func newRejectedTokenEvent(token string, status apns.Status) RejectedTokenEvent {
	return RejectedTokenEvent{
		Envelope:   Envelope{Event: EventRejected},
		Token:      token,
		Status:     uint8(status),
		StatusName: status.String(),
	}
}

func newFeedbackEvent(t apns.FeedbackTuple) FeedbackEvent {
	return FeedbackEvent{
		Envelope:      Envelope{Event: EventFeedback},
		Token:         t.TokenHex(),
		UninstalledAt: t.Timestamp.UTC(),
	}
}
