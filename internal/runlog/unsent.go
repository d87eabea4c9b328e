package runlog

import (
	"bufio"
	"os"
	"sync"
	"time"

	"github.com/liuyaodong/APNPush/internal/apns"
	"github.com/liuyaodong/APNPush/internal/errors"
	"github.com/liuyaodong/APNPush/internal/logger"
)

const unsentFooter = "============= end ============"

// UnsentLog writes the tokens still queued at shutdown. It implements
// apns.UnsentSink.
type UnsentLog struct {
	path string
	now  func() time.Time

	mu      sync.Mutex
	written int
	err     error
}

// NewUnsentLog returns a writer for path. Nothing is created until the
// snapshot arrives.
func NewUnsentLog(path string) *UnsentLog {
	return &UnsentLog{path: path, now: time.Now}
}

// Unsent implements apns.UnsentSink. Failures are logged and kept for Err.
func (l *UnsentLog) Unsent(remaining []*apns.Notification) {
	if err := l.Write(remaining); err != nil {
		GetLogger().Error("failed to write unsent tokens",
			logger.String("path", l.path),
			logger.Int("unsent", len(remaining)),
			logger.Error(err))
	}
}

// Write replaces the file with a timestamped header, one token per line and
// a footer. An empty snapshot still produces the header and footer.
func (l *UnsentLog) Write(remaining []*apns.Notification) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.write(remaining)
	l.err = err
	if err == nil {
		l.written = len(remaining)
		GetLogger().Info("unsent tokens written",
			logger.String("path", l.path),
			logger.Int("unsent", len(remaining)))
	}
	return err
}

func (l *UnsentLog) write(remaining []*apns.Notification) error {
	f, err := os.Create(l.path) //nolint:gosec // path is inside the run directory
	if err != nil {
		return errors.New(err).
			Component("runlog").
			Category(errors.CategoryFileIO).
			Context("path", l.path).
			Context("operation", "create_unsent_log").
			Build()
	}

	w := bufio.NewWriter(f)
	_, _ = w.WriteString("\n=========" + l.now().Format(headerTimeLayout) + "=========\n")
	for _, n := range remaining {
		_, _ = w.WriteString(n.Token().String())
		_ = w.WriteByte('\n')
	}
	_, _ = w.WriteString(unsentFooter + "\n")

	if err := w.Flush(); err != nil {
		_ = f.Close()
		return errors.New(err).
			Component("runlog").
			Category(errors.CategoryFileIO).
			Context("path", l.path).
			Context("operation", "write_unsent_log").
			Build()
	}
	if err := f.Close(); err != nil {
		return errors.New(err).
			Component("runlog").
			Category(errors.CategoryFileIO).
			Context("path", l.path).
			Context("operation", "close_unsent_log").
			Build()
	}
	return nil
}

// Written returns how many tokens the last successful Write recorded.
func (l *UnsentLog) Written() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.written
}

// Err returns the error of the last Write.
func (l *UnsentLog) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}
