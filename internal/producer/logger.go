package producer

import "github.com/liuyaodong/APNPush/internal/logger"

// GetLogger returns the producer package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("producer")
}
