package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/charliek/stackscope/internal/config"
	"github.com/charliek/stackscope/internal/constants"
	"github.com/charliek/stackscope/internal/daemon"
	"github.com/charliek/stackscope/internal/domain"
)

// Version is set during build
var Version = "dev"

// Global flags
var (
	configPath           string
	apiAddr              string
	apiAddrExplicitlySet bool
	verbose              bool
)

// clientAnnotation marks commands that talk to a running server
const clientAnnotation = "client"

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "stackscope",
	Short: "Collect, collapse and analyse application logs",
	Long: `stackscope ingests log records from a running application, a device
log stream or log files, and indexes them for inspection. It supports:
  - A framed TCP transport to and from a running application
  - Multi-line record assembly for logcat output, log files and text streams
  - Duplicate collapsing with per-severity counters
  - An inverted call tree aggregating records by stack frame
  - Filtering, live streaming and text export over an HTTP API`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(verbose)

		if cmd.Flags().Changed("addr") {
			apiAddrExplicitlySet = true
		}
		if _, ok := cmd.Annotations[clientAnnotation]; ok && !apiAddrExplicitlySet {
			apiAddr = discoverAPIAddress()
		}
	},
}

// Execute runs the root command and returns the process exit code
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "stackscope version %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", constants.DefaultConfigFile, "Config file")
	rootCmd.PersistentFlags().StringVar(&apiAddr, "addr", constants.DefaultAPIAddress, "API address for client commands")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.SetVersionTemplate("stackscope version {{.Version}}\n")

	rootCmd.AddCommand(versionCmd)
}

// setupLogging installs a text handler on stderr as the default logger
func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// loadConfig reads the config file. A missing file at the default path
// yields the default configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithEnv(configPath)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, domain.ErrConfigNotFound) && configPath == constants.DefaultConfigFile {
		slog.Debug("no config file, using defaults", "path", configPath)
		cfg = config.Default()
		if err := config.ApplyEnv(cfg, config.ProcessEnv()); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return nil, err
}

// loadAPIAddrFromConfig reads the API address from the config file.
// Returns empty string if config doesn't exist or can't be read.
func loadAPIAddrFromConfig() string {
	cfg, err := config.Load(configPath)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("http://%s:%d", cfg.API.Host, cfg.API.Port)
}

// discoverAPIAddress finds the API of a running server.
// Priority:
// 1. State file (.stackscope/stackscope.state) of a running instance
// 2. Config file (stackscope.yaml)
// 3. Default address
func discoverAPIAddress() string {
	if cwd, err := os.Getwd(); err == nil {
		if state, err := daemon.LoadState(cwd); err == nil {
			return state.APIAddress()
		}
	}

	if addr := loadAPIAddrFromConfig(); addr != "" {
		return addr
	}

	return constants.DefaultAPIAddress
}
