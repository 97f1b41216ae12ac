package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLock_AcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pid")
	lock := NewLock(path)

	if err := lock.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !lock.Held() {
		t.Error("expected lock to be held")
	}
	if !IsLocked(path) {
		t.Error("expected IsLocked to report the held lock")
	}

	pid, err := ReadPID(path)
	if err != nil {
		t.Fatalf("ReadPID failed: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("PID = %d, want %d", pid, os.Getpid())
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if lock.Held() {
		t.Error("expected lock to be released")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("lock file should be removed on release")
	}
	if IsLocked(path) {
		t.Error("expected IsLocked to be false after release")
	}
}

func TestLock_Contended(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pid")
	first := NewLock(path)
	if err := first.Acquire(); err != nil {
		t.Fatal(err)
	}
	defer first.Release()

	second := NewLock(path)
	if err := second.Acquire(); !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked, got %v", err)
	}
}

func TestLock_ReleaseUnheld(t *testing.T) {
	lock := NewLock(filepath.Join(t.TempDir(), "test.pid"))
	if err := lock.Release(); err != nil {
		t.Errorf("Release of unheld lock should be a no-op, got %v", err)
	}
}

func TestIsLocked_MissingFile(t *testing.T) {
	if IsLocked(filepath.Join(t.TempDir(), "missing.pid")) {
		t.Error("missing file should not be locked")
	}
}

func TestReadPID_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pid")
	if err := os.WriteFile(path, []byte("not-a-pid\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadPID(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestProcessExists(t *testing.T) {
	if !ProcessExists(os.Getpid()) {
		t.Error("current process should exist")
	}
	if ProcessExists(1 << 22) {
		t.Error("PID beyond pid_max should not exist")
	}
}
