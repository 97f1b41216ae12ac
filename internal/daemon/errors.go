package daemon

import "errors"

var (
	// ErrStateNotFound is returned when no state file exists
	ErrStateNotFound = errors.New("state file not found")
	// ErrAlreadyRunning is returned when another instance serves the directory
	ErrAlreadyRunning = errors.New("stackscope is already running")
	// ErrNotRunning is returned when no instance serves the directory
	ErrNotRunning = errors.New("stackscope is not running")
	// ErrLocked is returned when the instance lock is held by another process
	ErrLocked = errors.New("instance lock is held by another process")
)
