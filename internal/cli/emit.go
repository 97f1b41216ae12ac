package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/charliek/stackscope/internal/constants"
	"github.com/charliek/stackscope/internal/domain"
	"github.com/charliek/stackscope/internal/transport"
	"github.com/charliek/stackscope/internal/wire"
)

// Emit command flags
var (
	emitAddress   string
	emitListen    bool
	emitStack     string
	emitStackFile string
	emitSeverity  string
	emitCount     int
	emitRetries   int
	emitTimeout   time.Duration
)

var emitCmd = &cobra.Command{
	Use:   "emit <message>",
	Short: "Send a record over the wire transport",
	Long: `Act as the application side of a transport session and send records
in the wire format.

By default emit dials a listening session. With --listen it waits for a
session in client mode to connect instead.

Examples:
  stackscope emit "Player died" --severity error --stack-file trace.txt
  stackscope emit hello --address 127.0.0.1:7575 --count 5
  stackscope emit hello --listen --address 127.0.0.1:7576`,
	Args: cobra.ExactArgs(1),
	RunE: runEmit,
}

func init() {
	emitCmd.Flags().StringVar(&emitAddress, "address", constants.DefaultTransportAddress, "Transport address")
	emitCmd.Flags().BoolVar(&emitListen, "listen", false, "Wait for a client-mode session to connect")
	emitCmd.Flags().StringVar(&emitStack, "stack", "", "Raw stack trace text")
	emitCmd.Flags().StringVar(&emitStackFile, "stack-file", "", "Read the stack trace from a file")
	emitCmd.Flags().StringVar(&emitSeverity, "severity", "info", "Record severity")
	emitCmd.Flags().IntVar(&emitCount, "count", 1, "Number of copies to send")
	emitCmd.Flags().IntVar(&emitRetries, "retries", 5, "Connection attempts before giving up (0 retries forever)")
	emitCmd.Flags().DurationVar(&emitTimeout, "timeout", 10*time.Second, "Overall time to wait for a peer")
	rootCmd.AddCommand(emitCmd)
}

func runEmit(cmd *cobra.Command, args []string) error {
	severity := domain.ParseSeverity(emitSeverity)
	if !severity.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidSeverity, emitSeverity)
	}
	stack := emitStack
	if emitStackFile != "" {
		data, err := os.ReadFile(emitStackFile)
		if err != nil {
			return fmt.Errorf("reading stack file: %w", err)
		}
		stack = string(data)
	}
	if emitCount < 1 {
		return fmt.Errorf("invalid count: %d", emitCount)
	}

	mode := transport.ModeClient
	if emitListen {
		mode = transport.ModeServer
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), emitTimeout)
	defer cancel()

	record := wire.NewRecord(args[0], stack, severity)
	sent, err := emit(ctx, mode, emitAddress, emitRetries, record, emitCount)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sent %d record(s) to %s\n", sent, emitAddress)
	return nil
}

// emit waits for a peer on a transport channel and sends count copies of
// record. It returns the number of records written.
func emit(ctx context.Context, mode transport.Mode, address string, retries int, record wire.Record, count int) (int, error) {
	connected := make(chan struct{}, 1)
	failed := make(chan error, 1)

	ch := transport.New(transport.Config{
		Mode:    mode,
		Address: address,
		Backoff: transport.BackoffConfig{MaxRetries: retries},
		OnConnect: func(string) {
			select {
			case connected <- struct{}{}:
			default:
			}
		},
		OnDisconnect: func(remote string, err error) {
			// An empty remote means the worker gave up
			if remote == "" && err != nil {
				select {
				case failed <- err:
				default:
				}
			}
		},
		Logger: slog.Default(),
	})
	if err := ch.Start(ctx); err != nil {
		return 0, err
	}
	defer ch.Close()

	select {
	case <-connected:
	case err := <-failed:
		return 0, fmt.Errorf("connecting to %s: %w", address, err)
	case <-ctx.Done():
		return 0, fmt.Errorf("waiting for peer on %s: %w", address, ctx.Err())
	}

	for i := range count {
		if err := ch.Send(record); err != nil {
			return i, err
		}
	}
	return count, nil
}
