package apns

import "github.com/liuyaodong/APNPush/internal/logger"

// GetLogger returns the apns module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module(componentName)
}
