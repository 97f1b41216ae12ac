package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestState_Write_Validation(t *testing.T) {
	tests := []struct {
		name    string
		state   State
		wantErr bool
	}{
		{"valid", State{PID: 1, Port: 5656, Host: "127.0.0.1"}, false},
		{"valid max port", State{PID: 1, Port: 65535, Host: "127.0.0.1"}, false},
		{"zero port", State{PID: 1, Port: 0, Host: "127.0.0.1"}, true},
		{"port too high", State{PID: 1, Port: 65536, Host: "127.0.0.1"}, true},
		{"zero PID", State{PID: 0, Port: 5656, Host: "127.0.0.1"}, true},
		{"negative PID", State{PID: -1, Port: 5656, Host: "127.0.0.1"}, true},
		{"empty host", State{PID: 1, Port: 5656}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.state.Write(t.TempDir())
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestState_WriteAndLoad(t *testing.T) {
	dir := t.TempDir()
	original := &State{
		PID:        12345,
		Port:       5656,
		Host:       "127.0.0.1",
		StartedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		ConfigFile: "stackscope.yaml",
		Endpoints: []Endpoint{
			{Session: "editor", Kind: "transport", Address: "127.0.0.1:7575", Mode: "server"},
			{Session: "device", Kind: "logcat"},
		},
	}

	if err := original.Write(dir); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	loaded, err := LoadState(dir)
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if loaded.PID != original.PID || loaded.Port != original.Port || loaded.Host != original.Host {
		t.Errorf("loaded state %+v does not match %+v", loaded, original)
	}
	if !loaded.StartedAt.Equal(original.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", loaded.StartedAt, original.StartedAt)
	}
	if len(loaded.Endpoints) != 2 || loaded.Endpoints[0].Address != "127.0.0.1:7575" {
		t.Errorf("unexpected endpoints: %+v", loaded.Endpoints)
	}
	if got := loaded.APIAddress(); got != "http://127.0.0.1:5656" {
		t.Errorf("APIAddress = %q", got)
	}
}

func TestState_WriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	state := &State{PID: 1, Port: 5656, Host: "127.0.0.1"}
	for range 3 {
		if err := state.Write(dir); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	entries, err := os.ReadDir(StateDir(dir))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != StateFileName {
		t.Errorf("unexpected state dir contents: %v", entries)
	}

	info, err := os.Stat(StatePath(dir))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("state file permissions = %o, want 600", perm)
	}
}

func TestLoadState_Errors(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		_, err := LoadState(t.TempDir())
		if !errors.Is(err, ErrStateNotFound) {
			t.Errorf("expected ErrStateNotFound, got %v", err)
		}
	})

	t.Run("corrupt", func(t *testing.T) {
		dir := t.TempDir()
		if err := EnsureStateDir(dir); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(StatePath(dir), []byte("{not json"), 0600); err != nil {
			t.Fatal(err)
		}
		_, err := LoadState(dir)
		if err == nil || errors.Is(err, ErrStateNotFound) {
			t.Errorf("expected unmarshal error, got %v", err)
		}
	})
}

func TestPaths(t *testing.T) {
	dir := "/work"
	if got := StateDir(dir); got != filepath.Join(dir, ".stackscope") {
		t.Errorf("StateDir = %q", got)
	}
	if got := StatePath(dir); got != filepath.Join(dir, ".stackscope", "stackscope.state") {
		t.Errorf("StatePath = %q", got)
	}
	if got := LockPath(dir); got != filepath.Join(dir, ".stackscope", "stackscope.pid") {
		t.Errorf("LockPath = %q", got)
	}
	if got := LogPath(dir); got != filepath.Join(dir, ".stackscope", "stackscope.log") {
		t.Errorf("LogPath = %q", got)
	}
}

func TestCleanup(t *testing.T) {
	dir := t.TempDir()
	state := &State{PID: 1, Port: 5656, Host: "127.0.0.1"}
	if err := state.Write(dir); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(LockPath(dir), []byte("1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(LogPath(dir), []byte("log\n"), 0600); err != nil {
		t.Fatal(err)
	}

	if err := Cleanup(dir); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if _, err := os.Stat(StatePath(dir)); !os.IsNotExist(err) {
		t.Error("state file should be removed")
	}
	if _, err := os.Stat(LockPath(dir)); !os.IsNotExist(err) {
		t.Error("lock file should be removed")
	}
	if _, err := os.Stat(LogPath(dir)); err != nil {
		t.Error("log file should be kept")
	}

	// Idempotent
	if err := Cleanup(dir); err != nil {
		t.Errorf("second Cleanup failed: %v", err)
	}
}
