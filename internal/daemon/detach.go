package daemon

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// DetachEnvVar marks the re-executed background child
const DetachEnvVar = "_STACKSCOPE_DETACHED"

// IsDetachedChild reports whether this process is the background child
func IsDetachedChild() bool {
	return os.Getenv(DetachEnvVar) == "1"
}

// Detach re-executes the current binary with args in a new session and
// returns the child's PID. The caller is expected to exit afterwards.
func Detach(args []string) (int, error) {
	executable, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("getting executable path: %w", err)
	}

	cmd := exec.Command(executable, args...)
	cmd.Env = append(os.Environ(), DetachEnvVar+"=1")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("starting background process: %w", err)
	}
	pid := cmd.Process.Pid
	// The child outlives us; drop our handle on it.
	_ = cmd.Process.Release()
	return pid, nil
}

// RedirectOutput points stdout and stderr at the instance log in dir.
// The returned file must stay open for the life of the process.
func RedirectOutput(dir string) (*os.File, error) {
	if err := EnsureStateDir(dir); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(LogPath(dir), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	os.Stdout = f
	os.Stderr = f
	return f, nil
}

// IsRunning reports whether an instance serves dir. It is best effort:
// the instance may stop right after the check.
func IsRunning(dir string) bool {
	if IsLocked(LockPath(dir)) {
		return true
	}
	state, err := LoadState(dir)
	if err != nil {
		return false
	}
	return ProcessExists(state.PID)
}

// Running returns the state of the instance serving dir, or ErrNotRunning
func Running(dir string) (*State, error) {
	if !IsRunning(dir) {
		return nil, ErrNotRunning
	}
	return LoadState(dir)
}

// CleanupStale removes files left behind by an instance that died without
// cleaning up. It returns ErrAlreadyRunning when the instance is alive.
func CleanupStale(dir string) error {
	if IsLocked(LockPath(dir)) {
		return ErrAlreadyRunning
	}
	state, err := LoadState(dir)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return nil
		}
		return err
	}
	if ProcessExists(state.PID) {
		return ErrAlreadyRunning
	}
	return Cleanup(dir)
}
