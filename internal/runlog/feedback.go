package runlog

import (
	"bufio"
	"os"
	"sync"
	"time"

	"github.com/liuyaodong/APNPush/internal/apns"
	"github.com/liuyaodong/APNPush/internal/errors"
)

// FeedbackLog appends the expired tokens reported by the feedback service,
// one token-timestamp line per tuple, under a header for each session.
type FeedbackLog struct {
	path string

	mu    sync.Mutex
	file  *os.File
	w     *bufio.Writer
	count int
}

// NewFeedbackLog opens path for appending and writes the session header.
func NewFeedbackLog(path string, now time.Time) (*FeedbackLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) //nolint:gosec // path is inside the log directory
	if err != nil {
		return nil, errors.New(err).
			Component("runlog").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Context("operation", "open_feedback_log").
			Build()
	}

	l := &FeedbackLog{path: path, file: f, w: bufio.NewWriter(f)}
	_, _ = l.w.WriteString("=======" + now.Format(headerTimeLayout) + "==========\n")
	return l, nil
}

// Record appends one tuple.
func (l *FeedbackLog) Record(t apns.FeedbackTuple) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return errors.Newf("feedback log is closed").
			Component("runlog").
			Category(errors.CategoryState).
			Context("path", l.path).
			Build()
	}
	_, err := l.w.WriteString(t.TokenHex() + "-" + t.Timestamp.UTC().Format(time.RFC3339) + "\n")
	if err != nil {
		return errors.New(err).
			Component("runlog").
			Category(errors.CategoryFileIO).
			Context("path", l.path).
			Context("operation", "write_feedback").
			Build()
	}
	l.count++
	return nil
}

// Count returns the number of tuples written.
func (l *FeedbackLog) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Close flushes and closes the file.
func (l *FeedbackLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return nil
	}
	ferr := l.w.Flush()
	cerr := l.file.Close()
	l.w = nil
	return errors.Join(ferr, cerr)
}
