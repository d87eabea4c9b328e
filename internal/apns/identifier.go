package apns

import "sync/atomic"

// IDGenerator hands out notification identifiers. The counter wraps at
// 2^32; identifiers only need to be unique within one sent-cache window.
type IDGenerator struct {
	n atomic.Uint32
}

// Next returns the next identifier.
func (g *IDGenerator) Next() uint32 {
	return g.n.Add(1)
}

var processIDs IDGenerator

// NextID returns the next process-wide notification identifier.
func NextID() uint32 {
	return processIDs.Next()
}
