package domain

import "errors"

// Domain errors
var (
	ErrShortBuffer     = errors.New("buffer shorter than record frame")
	ErrNotConnected    = errors.New("no peer connected")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already registered")
	ErrRecordNotFound  = errors.New("record not found")
	ErrNodeNotFound    = errors.New("tree node not found")
	ErrNoTransport     = errors.New("session has no transport")
	ErrInvalidSeverity = errors.New("invalid severity")
	ErrConfigNotFound  = errors.New("config file not found")
	ErrInvalidConfig   = errors.New("invalid configuration")
)

// Error codes for API responses
const (
	ErrCodeSessionNotFound = "SESSION_NOT_FOUND"
	ErrCodeRecordNotFound  = "RECORD_NOT_FOUND"
	ErrCodeNodeNotFound    = "NODE_NOT_FOUND"
	ErrCodeNotConnected    = "NOT_CONNECTED"
	ErrCodeNoTransport     = "NO_TRANSPORT"
	ErrCodeInvalidSeverity = "INVALID_SEVERITY"

	// API-only codes with no sentinel error
	ErrCodeInvalidRequest        = "INVALID_REQUEST"
	ErrCodeStreamingNotSupported = "STREAMING_NOT_SUPPORTED"
)

// ErrorCode returns the API error code for a domain error
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return ErrCodeSessionNotFound
	case errors.Is(err, ErrRecordNotFound):
		return ErrCodeRecordNotFound
	case errors.Is(err, ErrNodeNotFound):
		return ErrCodeNodeNotFound
	case errors.Is(err, ErrNotConnected):
		return ErrCodeNotConnected
	case errors.Is(err, ErrNoTransport):
		return ErrCodeNoTransport
	case errors.Is(err, ErrInvalidSeverity):
		return ErrCodeInvalidSeverity
	default:
		return "INTERNAL_ERROR"
	}
}
