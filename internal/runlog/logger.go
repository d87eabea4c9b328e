package runlog

import "github.com/liuyaodong/APNPush/internal/logger"

// GetLogger returns the runlog package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("runlog")
}
