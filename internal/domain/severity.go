package domain

import "strings"

// Severity is the normalized level of a log record
type Severity int

const (
	// SeverityUnknown marks text whose level could not be determined.
	// It never reaches a store.
	SeverityUnknown Severity = iota - 1
	SeverityInfo
	SeverityWarning
	SeverityError
)

// Severities lists the storable severities in display order
var Severities = []Severity{SeverityInfo, SeverityWarning, SeverityError}

// String returns the string representation of Severity
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Valid reports whether s can be stored
func (s Severity) Valid() bool {
	return s >= SeverityInfo && s <= SeverityError
}

// ParseSeverity converts a level name to a Severity.
// Assert, exception, fatal and critical levels normalize to SeverityError.
func ParseSeverity(level string) Severity {
	normalized := strings.ToUpper(strings.TrimSpace(level))

	switch normalized {
	case "V", "D", "I", "LOG", "INFO", "INFORMATION", "INF", "DEBUG", "DBG", "TRACE", "VERBOSE":
		return SeverityInfo
	case "W", "WARN", "WARNING", "WRN":
		return SeverityWarning
	case "E", "F", "A", "ERROR", "ERR", "ASSERT", "EXCEPTION", "FATAL", "CRITICAL", "CRIT", "PANIC":
		return SeverityError
	}
	if len(normalized) >= 4 {
		switch normalized[:4] {
		case "INFO", "DEBU", "TRAC":
			return SeverityInfo
		case "WARN":
			return SeverityWarning
		case "ERRO", "FATA", "CRIT", "EXCE", "ASSE":
			return SeverityError
		}
	}
	return SeverityUnknown
}

// Counts holds per-severity occurrence counters
type Counts struct {
	Info    int `json:"info"`
	Warning int `json:"warning"`
	Error   int `json:"error"`
}

// Add increments the counter for severity by n
func (c *Counts) Add(severity Severity, n int) {
	switch severity {
	case SeverityInfo:
		c.Info += n
	case SeverityWarning:
		c.Warning += n
	case SeverityError:
		c.Error += n
	}
}

// Get returns the counter for severity
func (c Counts) Get(severity Severity) int {
	switch severity {
	case SeverityInfo:
		return c.Info
	case SeverityWarning:
		return c.Warning
	case SeverityError:
		return c.Error
	}
	return 0
}

// Total returns the sum of all counters
func (c Counts) Total() int {
	return c.Info + c.Warning + c.Error
}
