package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charliek/stackscope/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_SimpleForm(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "testdata", "configs", "simple.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 5656, cfg.API.Port)
	assert.Equal(t, "127.0.0.1", cfg.API.Host)
	assert.Equal(t, "server", cfg.Transport.Mode)
	assert.Equal(t, "127.0.0.1:7575", cfg.Transport.Address)
	assert.Len(t, cfg.Sessions, 2)

	assert.Equal(t, SourceLogcat, cfg.Sessions["device"].Source)
	assert.Equal(t, "adb logcat -v time", cfg.Sessions["device"].Cmd)
	assert.Equal(t, SourceTransport, cfg.Sessions["editor"].Source)
	assert.Equal(t, 100, cfg.Store.SubscriptionBuffer)
	assert.Equal(t, 99, cfg.Store.DisplayCap)
}

func TestLoad_ExpandedForm(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "testdata", "configs", "expanded.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, "0.0.0.0", cfg.API.Host)
	assert.Equal(t, ".env", cfg.EnvFile)
	assert.Len(t, cfg.Sessions, 4)

	assert.Equal(t, "client", cfg.Transport.Mode)
	assert.Equal(t, 200*time.Millisecond, cfg.Transport.Backoff.InitialDuration())
	assert.Equal(t, 5*time.Second, cfg.Transport.Backoff.MaxDuration())
	assert.Equal(t, 10, cfg.Transport.Backoff.MaxRetries)

	editor := cfg.TransportFor("editor")
	assert.Equal(t, "server", editor.Mode)
	assert.Equal(t, "127.0.0.1:7576", editor.Address)
	assert.Equal(t, cfg.Transport, cfg.TransportFor("player"))

	device := cfg.Sessions["device"]
	assert.Equal(t, "emulator-5554", device.Env["ANDROID_SERIAL"])

	playerLog := cfg.Sessions["player-log"]
	assert.Equal(t, SourceFile, playerLog.Source)
	assert.True(t, playerLog.Follow)
	assert.Equal(t, "logfile", playerLog.Format)

	assert.Equal(t, 256, cfg.Store.SubscriptionBuffer)
	assert.Equal(t, 999, cfg.Store.DisplayCap)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		file     string
		contains string
	}{
		{"invalid_source.yaml", "unknown source"},
		{"invalid_port.yaml", "api.port"},
		{"invalid_file.yaml", "path is required"},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			_, err := Load(filepath.Join("..", "..", "testdata", "configs", tt.file))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfigNotFound)
}

func TestLoad_WorldWritable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stackscope.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sessions: {}\n"), 0o644))
	require.NoError(t, os.Chmod(path, 0o666))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "world-writable")
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("sessions: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing yaml")
}

func TestParse_EmptyUsesDefaultSession(t *testing.T) {
	cfg, err := Parse([]byte(""))
	require.NoError(t, err)

	require.Len(t, cfg.Sessions, 1)
	assert.Equal(t, SourceTransport, cfg.Sessions["default"].Source)
	assert.Equal(t, Default(), cfg)
}

func TestParse_SourceInference(t *testing.T) {
	cfg, err := Parse([]byte(`
sessions:
  tail:
    path: device.log
  wire: {}
`))
	require.NoError(t, err)

	assert.Equal(t, SourceLogcat, cfg.Sessions["tail"].Source)
	assert.Equal(t, SourceTransport, cfg.Sessions["wire"].Source)
}

func TestParse_InvalidSessionType(t *testing.T) {
	_, err := Parse([]byte("sessions:\n  bad: 42\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid session configuration type")
}

func TestBackoffDefaults(t *testing.T) {
	var b BackoffConfig
	assert.Equal(t, 100*time.Millisecond, b.InitialDuration())
	assert.Equal(t, 10*time.Second, b.MaxDuration())
}
