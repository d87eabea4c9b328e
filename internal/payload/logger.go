package payload

import "github.com/liuyaodong/APNPush/internal/logger"

// GetLogger returns the payload package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("payload")
}
