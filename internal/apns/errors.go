// Package apns implements bulk delivery over the legacy binary APNs interface:
// the frame codec, the sent-notification cache, the dual notification queue,
// connection workers and the pool that keeps them running, and the one-shot
// feedback reader.
package apns

import "github.com/liuyaodong/APNPush/internal/errors"

// Common errors returned by the delivery engine
var (
	ErrQueueClosed      = errors.NewStd("notification queue is closed")
	ErrReclaimOverflow  = errors.NewStd("reclaim queue overflow: cache capacity or worker count misconfigured")
	ErrPoolStopped      = errors.NewStd("connection pool has been stopped")
	ErrPoolStarted      = errors.NewStd("connection pool already started")
	ErrInvalidToken     = errors.NewStd("device token must be 64 hexadecimal characters")
	ErrPayloadTooLarge  = errors.NewStd("payload exceeds maximum item length")
	ErrMalformedFrame   = errors.NewStd("malformed notification frame")
	ErrWorkerTerminated = errors.NewStd("worker terminated")
)

const componentName = "apns"
