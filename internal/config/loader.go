package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment keys that override YAML settings
const (
	EnvAPIHost          = "STACKSCOPE_API_HOST"
	EnvAPIPort          = "STACKSCOPE_API_PORT"
	EnvTransportAddress = "STACKSCOPE_TRANSPORT_ADDRESS"
	EnvTransportMode    = "STACKSCOPE_TRANSPORT_MODE"
)

// LoadEnvFile reads a .env file and returns the variables as a map
func LoadEnvFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("env file not found: %s", path)
	}

	env, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("reading env file %s: %w", path, err)
	}

	return env, nil
}

// MergeEnv merges multiple environment maps in order, with later maps taking precedence
func MergeEnv(envMaps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, env := range envMaps {
		for k, v := range env {
			result[k] = v
		}
	}
	return result
}

// LoadSessionEnv loads and merges environment variables for a session command.
// Priority (lowest to highest):
// 1. Global env_file
// 2. Session env variables
func LoadSessionEnv(globalEnvFile string, sessionEnv map[string]string, configDir string) (map[string]string, error) {
	var globalEnv map[string]string
	if globalEnvFile != "" {
		var err error
		globalEnv, err = LoadEnvFile(resolvePath(globalEnvFile, configDir))
		if err != nil {
			return nil, fmt.Errorf("loading global env file: %w", err)
		}
	}
	return MergeEnv(globalEnv, sessionEnv), nil
}

// ProcessEnv returns the STACKSCOPE_* variables of the current process
func ProcessEnv() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(k, "STACKSCOPE_") {
			env[k] = v
		}
	}
	return env
}

// ApplyEnv overrides settings from STACKSCOPE_* variables and revalidates
func ApplyEnv(config *Config, env map[string]string) error {
	if v := env[EnvAPIHost]; v != "" {
		config.API.Host = v
	}
	if v := env[EnvAPIPort]; v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid port %q", EnvAPIPort, v)
		}
		config.API.Port = port
	}
	if v := env[EnvTransportAddress]; v != "" {
		config.Transport.Address = v
	}
	if v := env[EnvTransportMode]; v != "" {
		config.Transport.Mode = strings.ToLower(v)
	}
	return Validate(config)
}

// LoadWithEnv loads a config file and applies overrides from its env_file
// and then from the process environment
func LoadWithEnv(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	var fileEnv map[string]string
	if cfg.EnvFile != "" {
		fileEnv, err = LoadEnvFile(resolvePath(cfg.EnvFile, filepath.Dir(path)))
		if err != nil {
			return nil, err
		}
	}

	if err := ApplyEnv(cfg, MergeEnv(fileEnv, ProcessEnv())); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolvePath resolves a potentially relative path against a base directory
func resolvePath(path, baseDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	candidates := []string{
		"stackscope.yaml",
		"stackscope.yml",
		".stackscope.yaml",
		".stackscope.yml",
	}

	for _, name := range candidates {
		if _, err := os.Stat(name); err == nil {
			return name, nil
		}
	}

	return "", fmt.Errorf("no config file found (tried: %v)", candidates)
}

// CheckFilePermissions checks if a file has secure permissions.
// On Unix-like systems, it verifies the file is not world-writable.
// Returns an error if the file has insecure permissions.
func CheckFilePermissions(path string) error {
	// Skip permission check on Windows
	if runtime.GOOS == "windows" {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("checking file permissions: %w", err)
	}

	// World-writable = others have write (0002)
	if info.Mode().Perm()&0002 != 0 {
		return fmt.Errorf("config file %s has insecure permissions: world-writable files can be modified by any user. Please run: chmod o-w %s", path, path)
	}

	return nil
}
