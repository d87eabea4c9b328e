package tokenstore

import "github.com/liuyaodong/APNPush/internal/logger"

// GetLogger returns the token store logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("tokenstore")
}
