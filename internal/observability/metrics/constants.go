// Package metrics provides constants used across metric definitions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Label values shared by several collectors.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"

	PartitionWorking = "working"
	PartitionReclaim = "reclaim"

	TokenEnqueued = "enqueued"
	TokenInvalid  = "invalid"
	TokenKnownBad = "known_bad"
)

// Token store operation names.
const (
	OpRecordToken = "record_token"
	OpLookupToken = "lookup_token"
	OpListTokens  = "list_tokens"
)

// ShutdownTimeout bounds the metrics HTTP server shutdown.
const ShutdownTimeout = 5 * time.Second

// Histogram bucket layouts.
var (
	// connect and TLS handshake latency: 10ms .. ~20s
	connectBuckets = prometheus.ExponentialBuckets(0.01, 2, 12)
	// sqlite operations: 0.1ms .. ~400ms
	storeBuckets = prometheus.ExponentialBuckets(0.0001, 2, 12)
)
