package config

import (
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/charliek/stackscope/internal/domain"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var validSources = map[string]bool{
	SourceTransport: true,
	SourceLogcat:    true,
	SourceFile:      true,
	SourceStream:    true,
	SourceManual:    true,
}

var validFormats = map[string]bool{
	"":           true,
	"inprocess":  true,
	"in-process": true,
	"device":     true,
	"logcat":     true,
	"logfile":    true,
	"file":       true,
}

// Validate checks the configuration for errors
func Validate(config *Config) error {
	var errs []string

	// Validate API config
	if config.API.Port < 0 || config.API.Port > 65535 {
		errs = append(errs, fmt.Sprintf("api.port: must be between 0 and 65535, got %d", config.API.Port))
	}

	errs = append(errs, validateTransport("transport", config.Transport)...)

	if config.Store.SubscriptionBuffer < 0 {
		errs = append(errs, "store.subscription_buffer: must be non-negative")
	}
	if config.Store.DisplayCap < 0 {
		errs = append(errs, "store.display_cap: must be non-negative")
	}

	if len(config.Sessions) == 0 {
		errs = append(errs, "sessions: at least one session must be defined")
	}

	// sorted for stable error messages
	names := make([]string, 0, len(config.Sessions))
	for name := range config.Sessions {
		names = append(names, name)
	}
	sort.Strings(names)

	listeners := make(map[string]string)
	for _, name := range names {
		sess := config.Sessions[name]
		field := "sessions." + name

		if err := ValidateSessionName(name); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %s", field, err.Error()))
		}
		if !validSources[sess.Source] {
			errs = append(errs, fmt.Sprintf("%s.source: unknown source %q", field, sess.Source))
			continue
		}
		if !validFormats[strings.ToLower(sess.Format)] {
			errs = append(errs, fmt.Sprintf("%s.format: unknown frame format %q", field, sess.Format))
		}

		switch sess.Source {
		case SourceFile:
			if sess.Path == "" {
				errs = append(errs, fmt.Sprintf("%s.path: path is required", field))
			}
		case SourceLogcat, SourceStream:
			if sess.Cmd == "" && sess.Path == "" {
				errs = append(errs, fmt.Sprintf("%s.cmd: cmd or path is required", field))
			}
			if sess.Cmd != "" && sess.Path != "" {
				errs = append(errs, fmt.Sprintf("%s: cmd and path are mutually exclusive", field))
			}
		case SourceTransport:
			tc := config.TransportFor(name)
			if sess.Transport != nil {
				errs = append(errs, validateTransport(field+".transport", tc)...)
			}
			if strings.EqualFold(tc.Mode, "server") {
				if other, dup := listeners[tc.Address]; dup {
					errs = append(errs, fmt.Sprintf("%s.transport.address: %s already used by session %s", field, tc.Address, other))
				}
				listeners[tc.Address] = name
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

func validateTransport(field string, tc TransportConfig) []string {
	var errs []string

	switch strings.ToLower(tc.Mode) {
	case "server", "client":
	default:
		errs = append(errs, fmt.Sprintf("%s.mode: must be client or server, got %q", field, tc.Mode))
	}

	if _, _, err := net.SplitHostPort(tc.Address); err != nil {
		errs = append(errs, fmt.Sprintf("%s.address: %v", field, err))
	}

	for key, value := range map[string]string{"initial": tc.Backoff.Initial, "max": tc.Backoff.Max} {
		if value == "" {
			continue
		}
		if d, err := time.ParseDuration(value); err != nil || d <= 0 {
			errs = append(errs, fmt.Sprintf("%s.backoff.%s: invalid duration %q", field, key, value))
		}
	}
	if tc.Backoff.MaxRetries < 0 {
		errs = append(errs, fmt.Sprintf("%s.backoff.max_retries: must be non-negative", field))
	}

	sort.Strings(errs)
	return errs
}

// ValidateSessionName checks if a session name is valid
func ValidateSessionName(name string) error {
	if name == "" {
		return &ValidationError{Field: "name", Message: "session name cannot be empty"}
	}
	if strings.ContainsAny(name, " \t\n/\\") {
		return &ValidationError{Field: "name", Message: "session name cannot contain whitespace or path separators"}
	}
	return nil
}
