package runlog

import (
	"bufio"
	"os"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/liuyaodong/APNPush/internal/apns"
	"github.com/liuyaodong/APNPush/internal/errors"
	"github.com/liuyaodong/APNPush/internal/logger"
)

// DefaultDedupeTTL is how long a recorded token suppresses repeats.
const DefaultDedupeTTL = 10 * time.Minute

// RecordedFunc is called once for every token newly written to the log.
type RecordedFunc func(token string, status apns.Status)

// InvalidTokenLog appends the tokens the gateway rejected as invalid. Only
// token-related reasons are recorded; a token rejected again within the
// dedupe window is written once. It implements apns.RejectionSink.
type InvalidTokenLog struct {
	path  string
	seen  *cache.Cache
	hooks []RecordedFunc
	log   logger.Logger

	mu    sync.Mutex
	file  *os.File
	w     *bufio.Writer
	count int
}

// InvalidOption customises an InvalidTokenLog.
type InvalidOption func(*invalidOptions)

type invalidOptions struct {
	ttl   time.Duration
	hooks []RecordedFunc
}

// WithDedupeTTL sets the duplicate suppression window.
func WithDedupeTTL(d time.Duration) InvalidOption {
	return func(o *invalidOptions) {
		if d > 0 {
			o.ttl = d
		}
	}
}

// WithRecordedHook registers fn to run after a token is written.
func WithRecordedHook(fn RecordedFunc) InvalidOption {
	return func(o *invalidOptions) { o.hooks = append(o.hooks, fn) }
}

// NewInvalidTokenLog opens path for appending.
func NewInvalidTokenLog(path string, opts ...InvalidOption) (*InvalidTokenLog, error) {
	o := invalidOptions{ttl: DefaultDedupeTTL}
	for _, opt := range opts {
		opt(&o)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) //nolint:gosec // path is inside the run directory
	if err != nil {
		return nil, errors.New(err).
			Component("runlog").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Context("operation", "open_invalid_token_log").
			Build()
	}

	return &InvalidTokenLog{
		path: path,
		// no janitor goroutine; expired entries are replaced on the next Add
		seen:  cache.New(o.ttl, 0),
		hooks: o.hooks,
		log:   GetLogger().Module("invalid"),
		file:  f,
		w:     bufio.NewWriter(f),
	}, nil
}

// Rejected implements apns.RejectionSink.
func (l *InvalidTokenLog) Rejected(n *apns.Notification, status apns.Status) {
	if !status.IsTokenRelated() {
		l.log.Warn("notification rejected",
			logger.Uint32("id", n.ID()),
			logger.String("token", logger.MaskToken(n.Token().String())),
			logger.String("reason", status.String()))
		return
	}
	if _, err := l.Record(n.Token().String(), status); err != nil {
		l.log.Error("failed to record invalid token", logger.Error(err))
	}
}

// Record writes token with its reason unless it was recorded within the
// dedupe window. It reports whether the token was written.
func (l *InvalidTokenLog) Record(token string, status apns.Status) (bool, error) {
	// Add fails while the token is present and unexpired
	if l.seen.Add(token, struct{}{}, cache.DefaultExpiration) != nil {
		return false, nil
	}

	l.mu.Lock()
	if l.w == nil {
		l.mu.Unlock()
		return false, errors.Newf("invalid token log is closed").
			Component("runlog").
			Category(errors.CategoryState).
			Context("path", l.path).
			Build()
	}
	_, _ = l.w.WriteString(token + " " + status.String() + "\n")
	err := l.w.Flush()
	if err == nil {
		l.count++
	}
	l.mu.Unlock()

	if err != nil {
		return false, errors.New(err).
			Component("runlog").
			Category(errors.CategoryFileIO).
			Context("path", l.path).
			Context("operation", "write_invalid_token").
			Build()
	}

	for _, hook := range l.hooks {
		hook(token, status)
	}
	return true, nil
}

// Count returns the number of tokens written.
func (l *InvalidTokenLog) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Close flushes and closes the file. Later records fail.
func (l *InvalidTokenLog) Close() error {
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
