package session

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/charliek/stackscope/internal/assembler"
	"github.com/charliek/stackscope/internal/config"
	"github.com/charliek/stackscope/internal/source"
	"github.com/charliek/stackscope/internal/stackframe"
	"github.com/charliek/stackscope/internal/transport"
)

// FromConfig builds a registry with one session per configured entry.
// configDir resolves relative paths and the env_file.
func FromConfig(cfg *config.Config, configDir string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	reg := NewRegistry()

	for name, sc := range cfg.Sessions {
		opts, err := optionsFor(cfg, name, sc, configDir, logger)
		if err != nil {
			return nil, fmt.Errorf("session %q: %w", name, err)
		}
		if err := reg.Register(New(opts)); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func optionsFor(cfg *config.Config, name string, sc config.SessionConfig, configDir string, logger *slog.Logger) (Options, error) {
	opts := Options{
		Name:               name,
		Kind:               Kind(sc.Source),
		SubscriptionBuffer: cfg.Store.SubscriptionBuffer,
		Logger:             logger,
	}

	switch opts.Kind {
	case KindTransport:
		tc := cfg.TransportFor(name)
		mode, err := transport.ParseMode(tc.Mode)
		if err != nil {
			return Options{}, err
		}
		opts.Format = stackframe.FormatInProcess
		opts.Transport = &transport.Config{
			Mode:    mode,
			Address: tc.Address,
			Backoff: transport.BackoffConfig{
				Initial:    tc.Backoff.InitialDuration(),
				Max:        tc.Backoff.MaxDuration(),
				MaxRetries: tc.Backoff.MaxRetries,
			},
		}

	case KindLogcat, KindFile, KindStream:
		src := lineSource(opts.Kind)
		opts.Format = assembler.New(src).Format()

		if sc.Cmd != "" {
			env, err := config.LoadSessionEnv(cfg.EnvFile, sc.Env, configDir)
			if err != nil {
				return Options{}, err
			}
			opts.Source = &source.Command{Cmd: sc.Cmd, Env: env, Source: src, Logger: logger}
		} else {
			opts.Source = &source.File{
				Path:   resolve(sc.Path, configDir),
				Source: src,
				Follow: sc.Follow,
				Logger: logger,
			}
		}

	case KindManual:
		opts.Format = stackframe.FormatInProcess

	default:
		return Options{}, fmt.Errorf("unknown source %q", sc.Source)
	}

	if sc.Format != "" {
		format, ok := stackframe.ParseFormat(strings.ToLower(sc.Format))
		if !ok {
			return Options{}, fmt.Errorf("unknown frame format %q", sc.Format)
		}
		opts.Format = format
	}

	return opts, nil
}

func lineSource(kind Kind) assembler.Source {
	switch kind {
	case KindFile:
		return assembler.SourceLogFile
	case KindStream:
		return assembler.SourceStream
	default:
		return assembler.SourceLogcat
	}
}

func resolve(path, dir string) string {
	if path == "" || filepath.IsAbs(path) || dir == "" {
		return path
	}
	return filepath.Join(dir, path)
}
