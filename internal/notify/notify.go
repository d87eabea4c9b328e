// Package notify sends a run summary through shoutrrr services such as
// Telegram, Slack or a generic webhook.
package notify

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"slices"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/liuyaodong/APNPush/internal/conf"
	"github.com/liuyaodong/APNPush/internal/errors"
	"github.com/liuyaodong/APNPush/internal/logger"
)

const defaultTitle = "APNPush run"

// Summary describes one finished push run.
type Summary struct {
	RunID           string
	Sender          string
	Environment     string
	Started         time.Time
	Duration        time.Duration
	Read            int
	Enqueued        int
	SkippedInvalid  int
	SkippedKnownBad int
	Rejected        int
	Unsent          int
	Feedback        int
	Err             error // run failure, nil on success
}

// Message renders the summary as plain text.
func (s Summary) Message() string {
	var b strings.Builder
	status := "completed"
	if s.Err != nil {
		status = "failed"
	}
	fmt.Fprintf(&b, "Push run %s %s", s.RunID, status)
	if s.Sender != "" {
		fmt.Fprintf(&b, " on %s", s.Sender)
	}
	fmt.Fprintf(&b, " (%s)\n", s.Environment)
	fmt.Fprintf(&b, "started: %s\n", s.Started.Format(time.RFC3339))
	fmt.Fprintf(&b, "duration: %s\n", s.Duration.Round(time.Second))
	fmt.Fprintf(&b, "tokens read: %d, enqueued: %d\n", s.Read, s.Enqueued)
	if s.SkippedInvalid > 0 || s.SkippedKnownBad > 0 {
		fmt.Fprintf(&b, "skipped: %d invalid, %d known bad\n", s.SkippedInvalid, s.SkippedKnownBad)
	}
	fmt.Fprintf(&b, "rejected: %d, unsent: %d", s.Rejected, s.Unsent)
	if s.Feedback > 0 {
		fmt.Fprintf(&b, ", feedback: %d", s.Feedback)
	}
	if s.Err != nil {
		fmt.Fprintf(&b, "\nerror: %s", logger.RedactSensitiveData(s.Err.Error()))
	}
	return b.String()
}

// Notifier delivers summaries to every configured service URL.
type Notifier struct {
	urls   []string
	title  string
	sender *router.ServiceRouter
	log    logger.Logger
}

// New validates the service URLs and builds a Notifier.
func New(settings conf.NotifySettings) (*Notifier, error) {
	if len(settings.URLs) == 0 {
		return nil, errors.Newf("at least one notify URL is required").
			Component("notify").
			Category(errors.CategoryConfiguration).
			Build()
	}

	sender, err := shoutrrr.CreateSender(settings.URLs...)
	if err != nil {
		// service URLs carry credentials
		return nil, errors.Newf("invalid notify URL: %s", logger.RedactSensitiveData(err.Error())).
			Component("notify").
			Category(errors.CategoryConfiguration).
			Context("urls", len(settings.URLs)).
			Build()
	}
	if settings.Timeout > 0 {
		sender.Timeout = settings.Timeout
	}
	sender.SetLogger(stdlog.New(io.Discard, "", 0))

	title := settings.Title
	if title == "" {
		title = defaultTitle
	}
	return &Notifier{
		urls:   slices.Clone(settings.URLs),
		title:  title,
		sender: sender,
		log:    GetLogger(),
	}, nil
}

// Send delivers s to all services. Every service is attempted; the failures
// are joined.
func (n *Notifier) Send(ctx context.Context, s Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := stypes.Params{}
	params.SetTitle(n.title)

	var failed []error
	for i, err := range n.sender.Send(s.Message(), &params) {
		if err == nil {
			continue
		}
		n.log.Warn("notification service failed",
			logger.Int("service", i),
			logger.String("error", logger.RedactSensitiveData(err.Error())))
		failed = append(failed, errors.NewStd(logger.RedactSensitiveData(err.Error())))
	}
	if len(failed) > 0 {
		return errors.New(errors.Join(failed...)).
			Component("notify").
			Category(errors.CategoryNotification).
			Context("failed_services", len(failed)).
			Context("services", len(n.urls)).
			Build()
	}

	n.log.Info("run summary sent", logger.Int("services", len(n.urls)))
	return nil
}
