package cli

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charliek/stackscope/internal/config"
)

// homeDir returns the per-user directory (~/.stackscope)
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stackscope"
	}
	return filepath.Join(home, ".stackscope")
}

// tokenPath returns the path to the token file
func tokenPath() string {
	return filepath.Join(homeDir(), "token")
}

// generateToken generates a cryptographically secure random token
func generateToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// saveToken saves the token to ~/.stackscope/token
func saveToken(token string) error {
	if err := os.MkdirAll(homeDir(), 0700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	// Owner read/write only
	if err := os.WriteFile(tokenPath(), []byte(token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	return nil
}

// loadToken loads the token from ~/.stackscope/token
func loadToken() (string, error) {
	data, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// isLocalhost checks if the host is a localhost address
func isLocalhost(host string) bool {
	return host == "" || host == "127.0.0.1" || host == "localhost" || host == "::1"
}

// isAuthRequired determines if authentication should be enabled based on config
func isAuthRequired(cfg *config.Config) bool {
	// Explicit config takes precedence
	if cfg.API.Auth != nil {
		return *cfg.API.Auth
	}
	// Auth is required unless binding to localhost only
	return !isLocalhost(cfg.API.Host)
}
