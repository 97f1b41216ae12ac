// Package daemon tracks the running stackscope instance of a working
// directory: an exclusive lock, a state file clients use to discover the API
// and the ingestion endpoints, and detaching into the background.
package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// StateDirName is the name of the directory storing runtime state
	StateDirName = ".stackscope"
	// StateFileName is the name of the state file
	StateFileName = "stackscope.state"
	// LockFileName is the name of the instance lock file
	LockFileName = "stackscope.pid"
	// LogFileName is the name of the detached instance log file
	LogFileName = "stackscope.log"
)

// Endpoint records where a session receives records
type Endpoint struct {
	Session string `json:"session"`
	Kind    string `json:"kind"`
	// Address is set for transport sessions
	Address string `json:"address,omitempty"`
	Mode    string `json:"mode,omitempty"`
}

// State holds the runtime state of a running instance.
//
// The serving process writes it once at startup; clients only read it.
type State struct {
	PID        int        `json:"pid"`
	Port       int        `json:"port"`
	Host       string     `json:"host"`
	StartedAt  time.Time  `json:"started_at"`
	ConfigFile string     `json:"config_file"`
	Endpoints  []Endpoint `json:"endpoints,omitempty"`
}

// APIAddress returns the base URL of the instance's API
func (s *State) APIAddress() string {
	return fmt.Sprintf("http://%s:%d", s.Host, s.Port)
}

func (s *State) validate() error {
	if s.PID <= 0 {
		return fmt.Errorf("invalid PID: %d", s.PID)
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("invalid port: %d", s.Port)
	}
	if s.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	return nil
}

// Write stores the state in dir's state directory. The file is replaced
// atomically so readers never observe a partial write.
func (s *State) Write(dir string) error {
	if err := s.validate(); err != nil {
		return err
	}
	if err := EnsureStateDir(dir); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	tmp, err := os.CreateTemp(StateDir(dir), StateFileName+".*")
	if err != nil {
		return fmt.Errorf("creating state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), StatePath(dir)); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}

// LoadState reads the state file in dir
func LoadState(dir string) (*State, error) {
	data, err := os.ReadFile(StatePath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshaling state: %w", err)
	}
	return &state, nil
}

// StateDir returns the state directory under dir, or under the working
// directory when dir is empty
func StateDir(dir string) string {
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			return StateDirName
		}
	}
	return filepath.Join(dir, StateDirName)
}

// StatePath returns the full path to the state file
func StatePath(dir string) string {
	return filepath.Join(StateDir(dir), StateFileName)
}

// LockPath returns the full path to the lock file
func LockPath(dir string) string {
	return filepath.Join(StateDir(dir), LockFileName)
}

// LogPath returns the full path to the detached instance log
func LogPath(dir string) string {
	return filepath.Join(StateDir(dir), LogFileName)
}

// EnsureStateDir creates the state directory if needed
func EnsureStateDir(dir string) error {
	if err := os.MkdirAll(StateDir(dir), 0700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	return nil
}

// Cleanup removes the state and lock files. The log is kept.
func Cleanup(dir string) error {
	for _, path := range []string{StatePath(dir), LockPath(dir)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}
