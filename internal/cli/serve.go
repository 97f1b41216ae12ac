package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/charliek/stackscope/internal/api"
	"github.com/charliek/stackscope/internal/config"
	"github.com/charliek/stackscope/internal/constants"
	"github.com/charliek/stackscope/internal/daemon"
	"github.com/charliek/stackscope/internal/domain"
	"github.com/charliek/stackscope/internal/session"
)

// Serve command flags
var (
	servePort   int
	serveDetach bool
	servePrint  bool
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run ingestion sessions and the API server",
	Long: `Run every configured session and serve the HTTP API.

Without a config file a single transport session listens on the default
wire address.

Examples:
  stackscope serve            # Run in the foreground
  stackscope serve --print    # Also print incoming records
  stackscope serve -d         # Run in the background`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "API port (overrides config)")
	serveCmd.Flags().BoolVarP(&serveDetach, "detach", "d", false, "Run in the background")
	serveCmd.Flags().BoolVar(&servePrint, "print", false, "Print incoming records to stdout")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	if daemon.IsDetachedChild() {
		logFile, err := daemon.RedirectOutput(cwd)
		if err != nil {
			return err
		}
		defer logFile.Close()
		setupLogging(verbose)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if servePort > 0 {
		if servePort > 65535 {
			return fmt.Errorf("invalid port: %d (must be 1-65535)", servePort)
		}
		cfg.API.Port = servePort
	}

	if err := daemon.CleanupStale(cwd); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			return fmt.Errorf("%w in %s", err, cwd)
		}
		return err
	}

	if serveDetach && !daemon.IsDetachedChild() {
		return detach(cmd, cfg)
	}

	return serve(cmd, cfg, cwd)
}

// detach starts the background child and waits for its API to answer
func detach(cmd *cobra.Command, cfg *config.Config) error {
	pid, err := daemon.Detach(os.Args[1:])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "stackscope started (pid %d)\n", pid)

	client := NewClient(fmt.Sprintf("http://%s:%d", cfg.API.Host, cfg.API.Port))
	if err := client.waitReady(5 * time.Second); err != nil {
		return fmt.Errorf("background server did not become ready (see %s): %w", daemon.LogPath(""), err)
	}
	return nil
}

func serve(cmd *cobra.Command, cfg *config.Config, cwd string) error {
	out := cmd.OutOrStdout()

	if err := daemon.EnsureStateDir(cwd); err != nil {
		return err
	}
	lock := daemon.NewLock(daemon.LockPath(cwd))
	if err := lock.Acquire(); err != nil {
		if errors.Is(err, daemon.ErrLocked) {
			return daemon.ErrAlreadyRunning
		}
		return err
	}
	defer func() {
		if err := daemon.Cleanup(cwd); err != nil {
			slog.Warn("removing state files", "error", err)
		}
	}()
	defer lock.Release()

	reg, err := session.FromConfig(cfg, configDir(), slog.Default())
	if err != nil {
		return err
	}
	defer reg.Close()

	authEnabled := isAuthRequired(cfg)
	var token string
	if authEnabled {
		token, err = generateToken()
		if err != nil {
			return fmt.Errorf("generating auth token: %w", err)
		}
		if err := saveToken(token); err != nil {
			return fmt.Errorf("saving auth token: %w", err)
		}
	} else if !isLocalhost(cfg.API.Host) {
		slog.Warn("auth disabled while binding to a non-local interface", "host", cfg.API.Host)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var requested atomic.Bool
	shutdownFn := func() {
		requested.Store(true)
		cancel()
	}

	handlers := api.NewHandlers(reg, configPath, shutdownFn).WithDisplayCap(cfg.Store.DisplayCap)
	apiServer := api.NewServer(api.ServerConfig{
		Host:        cfg.API.Host,
		Port:        cfg.API.Port,
		AuthEnabled: authEnabled,
		Token:       token,
	}, handlers)

	// bind transports first so the state file carries resolved addresses
	if err := reg.Start(ctx); err != nil {
		slog.Warn("session failed to start", "error", err)
		fmt.Fprintf(out, "Warning: %v\n", err)
	}

	state := &daemon.State{
		PID:        os.Getpid(),
		Host:       cfg.API.Host,
		Port:       cfg.API.Port,
		StartedAt:  time.Now(),
		ConfigFile: configPath,
		Endpoints:  endpoints(reg),
	}
	if err := state.Write(cwd); err != nil {
		return err
	}

	fmt.Fprintf(out, "API server: http://%s", apiServer.Addr())
	if authEnabled {
		fmt.Fprintf(out, " (auth enabled, token saved to %s)", tokenPath())
	}
	fmt.Fprintln(out)
	for _, ep := range state.Endpoints {
		if ep.Address != "" {
			fmt.Fprintf(out, "Session %s: %s %s on %s\n", ep.Session, ep.Kind, ep.Mode, ep.Address)
		} else {
			fmt.Fprintf(out, "Session %s: %s\n", ep.Session, ep.Kind)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return reg.Run(gctx)
	})
	g.Go(func() error {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultShutdownTimeout)
		defer cancel()
		return apiServer.Shutdown(shutdownCtx)
	})
	if servePrint {
		printer := NewPrinter(out)
		for _, s := range reg.Sessions() {
			g.Go(func() error {
				printRecords(gctx, s, printer)
				return nil
			})
		}
	}

	err = g.Wait()
	if requested.Load() {
		fmt.Fprintln(out, "Shutdown requested via API")
	}
	fmt.Fprintln(out, "Shutdown complete")
	return err
}

// printRecords prints a session's new records until ctx is done
func printRecords(ctx context.Context, s *session.Session, printer *Printer) {
	store := s.Store()
	id, ch := store.Subscribe(domain.DefaultFilterState())
	defer store.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case record, ok := <-ch:
			if !ok {
				return
			}
			printer.PrintSessionRecord(s.Name(), api.ToRecordResponse(record, 1))
		}
	}
}

// endpoints describes where each session receives records
func endpoints(reg *session.Registry) []daemon.Endpoint {
	sessions := reg.Sessions()
	out := make([]daemon.Endpoint, len(sessions))
	for i, s := range sessions {
		st := s.Status()
		out[i] = daemon.Endpoint{Session: st.Name, Kind: string(st.Kind)}
		if st.Transport != nil {
			out[i].Address = st.Transport.Address
			out[i].Mode = st.Transport.Mode
		}
	}
	return out
}

// configDir resolves relative paths in the config file
func configDir() string {
	if abs, err := filepath.Abs(configPath); err == nil {
		return filepath.Dir(abs)
	}
	return filepath.Dir(configPath)
}
