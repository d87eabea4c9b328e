package push

import "github.com/liuyaodong/APNPush/internal/logger"

// GetLogger returns the push package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("push")
}
