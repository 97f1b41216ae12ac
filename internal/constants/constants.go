// Package constants provides shared configuration values used across the stackscope application.
package constants

import "time"

// Configuration file defaults
const (
	// DefaultConfigFile is the default configuration filename
	DefaultConfigFile = "stackscope.yaml"

	// DefaultAPIHost is the default host for the API server
	DefaultAPIHost = "127.0.0.1"

	// DefaultAPIPort is the default port for the API server
	DefaultAPIPort = 5656

	// DefaultAPIAddress is the default API address for client connections
	DefaultAPIAddress = "http://127.0.0.1:5656"

	// DefaultSessionName is used when a config declares no sessions
	DefaultSessionName = "default"
)

// Wire transport defaults
const (
	// DefaultTransportAddress is the default address of the record transport
	DefaultTransportAddress = "127.0.0.1:7575"

	// DefaultBackoffInitial is the first reconnect delay
	DefaultBackoffInitial = 100 * time.Millisecond

	// DefaultBackoffMax caps the reconnect delay
	DefaultBackoffMax = 10 * time.Second

	// MinHealthySession is how long a silent peer session must last before
	// the reconnect backoff is reset
	MinHealthySession = time.Second

	// DefaultDialTimeout bounds a single outbound connection attempt
	DefaultDialTimeout = 5 * time.Second
)

// Timeout and duration defaults
const (
	// DefaultRequestTimeout is the default timeout for API requests
	DefaultRequestTimeout = 30 * time.Second

	// DefaultShutdownTimeout is the default timeout for graceful shutdown
	DefaultShutdownTimeout = 10 * time.Second

	// DefaultFollowInterval is how often a followed file is polled for growth
	DefaultFollowInterval = 250 * time.Millisecond
)

// Record listing
const (
	// DefaultRecordLimit is the default number of records to return
	DefaultRecordLimit = 100

	// MaxRecordLimit is the maximum number of records that can be requested
	// to prevent memory exhaustion (DoS protection)
	MaxRecordLimit = 10000

	// DefaultDisplayCap is the counter value shown as "N+" once exceeded
	DefaultDisplayCap = 99
)

// Buffer sizes
const (
	// DefaultSubscriptionBuffer is the default size for subscription buffers
	DefaultSubscriptionBuffer = 100

	// ScannerBufferSize is the initial buffer size for log line scanning
	ScannerBufferSize = 64 * 1024 // 64KB

	// ScannerMaxBufferSize is the maximum buffer size for log line scanning
	ScannerMaxBufferSize = 1024 * 1024 // 1MB
)
