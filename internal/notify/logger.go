package notify

import "github.com/liuyaodong/APNPush/internal/logger"

// GetLogger returns the notify package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("notify")
}
