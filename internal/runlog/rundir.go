// Package runlog writes the per-run files of a push: the unsent tokens, the
// tokens the gateway rejected as invalid and the feedback service report.
package runlog

import (
	"os"
	"path/filepath"
	"time"

	"github.com/liuyaodong/APNPush/internal/errors"
	"github.com/liuyaodong/APNPush/internal/logger"
)

const (
	runDirPrefix     = "apn_"
	runDirLayout     = "20060102_150405"
	feedbackLayout   = "2006_01_02_15"
	headerTimeLayout = time.RFC1123
)

// RunDir is the directory holding the files of one push run.
type RunDir struct {
	path    string
	started time.Time
}

// NewRunDir creates base/apn_YYYYMMDD_HHMMSS for a run started at now. It
// fails if the directory already exists so two runs never share files.
func NewRunDir(base string, now time.Time) (*RunDir, error) {
	if base == "" {
		base = "."
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, errors.New(err).
			Component("runlog").
			Category(errors.CategoryFileIO).
			Context("path", base).
			Context("operation", "create_log_path").
			Build()
	}

	path := filepath.Join(base, runDirPrefix+now.Format(runDirLayout))
	if err := os.Mkdir(path, 0o755); err != nil {
		return nil, errors.New(err).
			Component("runlog").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Context("operation", "create_run_dir").
			Build()
	}

	GetLogger().Debug("created run directory", logger.String("path", path))
	return &RunDir{path: path, started: now}, nil
}

// OpenRunDir wraps an existing directory, used by commands that append to a
// previous run.
func OpenRunDir(path string) *RunDir {
	return &RunDir{path: path, started: time.Now()}
}

// Path returns the directory path.
func (d *RunDir) Path() string { return d.path }

// Started returns the run start time.
func (d *RunDir) Started() time.Time { return d.started }

// File returns the path of name inside the run directory.
func (d *RunDir) File(name string) string {
	return filepath.Join(d.path, name)
}

// FeedbackFileName returns feedback_YYYY_MM_DD_HH.txt for t.
func FeedbackFileName(t time.Time) string {
	return "feedback_" + t.Format(feedbackLayout) + ".txt"
}
