package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/charliek/stackscope/internal/api"
	"github.com/charliek/stackscope/internal/domain"
)

// Client command flags
var (
	jsonOutput bool

	recordsFilter filterFlags
	recordsFollow bool
	recordsStacks bool

	treeSort     string
	treeAsc      bool
	treeSearch   string
	treeExpand   []int
	treeCollapse []int

	exportFilter filterFlags
	exportOutput string

	recordStack    string
	recordSeverity string
)

var statusCmd = clientCommand(&cobra.Command{
	Use:   "status",
	Short: "Show server and session status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
})

var recordsCmd = clientCommand(&cobra.Command{
	Use:   "records [session]",
	Short: "Show a filtered view of a session's records",
	Long: `Show a filtered view of a session's records.

Examples:
  stackscope records                      # Last 100 records of the default session
  stackscope records editor -s error      # Errors only
  stackscope records --collapse           # Identical records folded with counts
  stackscope records -f --search Player   # Follow new records mentioning Player`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRecords,
})

var treeCmd = clientCommand(&cobra.Command{
	Use:   "tree [session]",
	Short: "Show the call tree aggregated from stack traces",
	Long: `Show the inverted call tree of a session. Each row counts the records
whose stack passes through that frame, outermost frame first.

Examples:
  stackscope tree --expand 1 --sort error   # Expand node 1, most errors first
  stackscope tree --search Update           # Flat list of matching frames`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTree,
})

var exportCmd = clientCommand(&cobra.Command{
	Use:   "export [session]",
	Short: "Export records as text",
	Long: `Export a session's records as text. Without filter flags the full
history is exported.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExport,
})

var clearCmd = clientCommand(&cobra.Command{
	Use:   "clear [session]",
	Short: "Discard a session's records",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := sessionArg(args)
		if err := NewClient(apiAddr).Clear(name); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared session: %s\n", name)
		return nil
	},
})

var sendCmd = clientCommand(&cobra.Command{
	Use:   "send <session> <message>",
	Short: "Send a record to a session's transport peer",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := api.RecordRequest{Message: args[1], Stack: recordStack, Severity: recordSeverity}
		if err := NewClient(apiAddr).Send(args[0], req); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Sent to %s\n", args[0])
		return nil
	},
})

var addCmd = clientCommand(&cobra.Command{
	Use:   "add <session> <message>",
	Short: "Add a record directly to a session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := api.RecordRequest{Message: args[1], Stack: recordStack, Severity: recordSeverity}
		record, err := NewClient(apiAddr).AddRecord(args[0], req)
		if err != nil {
			return err
		}
		NewPrinter(cmd.OutOrStdout()).PrintRecord(*record)
		return nil
	},
})

var selectCmd = clientCommand(&cobra.Command{
	Use:   "select <session> <seq>",
	Short: "Select a record and show its frames",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		seq, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid record number %q", args[1])
		}
		record, err := NewClient(apiAddr).SelectRecord(args[0], seq)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return json.NewEncoder(out).Encode(record)
		}
		NewPrinter(out).PrintRecord(*record)
		printFrames(out, record.Frames)
		return nil
	},
})

var stopCmd = clientCommand(&cobra.Command{
	Use:   "stop",
	Short: "Stop the running server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := NewClient(apiAddr).Shutdown(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Shutdown initiated")
		return nil
	},
})

func init() {
	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	recordsFilter.register(recordsCmd, true)
	recordsCmd.Flags().BoolVarP(&recordsFollow, "follow", "f", false, "Follow new records")
	recordsCmd.Flags().BoolVar(&recordsStacks, "stacks", false, "Show raw stack traces")
	recordsCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	treeCmd.Flags().StringVar(&treeSort, "sort", "", "Sort children by column (total, info, warning, error)")
	treeCmd.Flags().BoolVar(&treeAsc, "asc", false, "Sort ascending")
	treeCmd.Flags().StringVar(&treeSearch, "search", "", "Show frames whose label matches (empty string ends a search)")
	treeCmd.Flags().IntSliceVar(&treeExpand, "expand", nil, "Node ids to expand")
	treeCmd.Flags().IntSliceVar(&treeCollapse, "collapse", nil, "Node ids to collapse")
	treeCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	exportFilter.register(exportCmd, false)
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to file instead of stdout")

	for _, cmd := range []*cobra.Command{sendCmd, addCmd} {
		cmd.Flags().StringVar(&recordStack, "stack", "", "Raw stack trace text")
		cmd.Flags().StringVar(&recordSeverity, "severity", "info", "Record severity")
	}
	selectCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	rootCmd.AddCommand(statusCmd, recordsCmd, treeCmd, exportCmd, clearCmd, sendCmd, addCmd, selectCmd, stopCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	client := NewClient(apiAddr)

	status, err := client.GetStatus()
	if err != nil {
		return fmt.Errorf("%w\nIs stackscope running? Try 'stackscope serve' first", err)
	}
	sessions, err := client.GetSessions()
	if err != nil {
		return err
	}

	if jsonOutput {
		return json.NewEncoder(out).Encode(map[string]interface{}{
			"status":   status,
			"sessions": sessions.Sessions,
		})
	}

	fmt.Fprintf(out, "Status: %s\n", status.Status)
	fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Duration(status.UptimeSeconds)*time.Second))
	fmt.Fprintf(out, "Config: %s\n", status.ConfigFile)
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tKIND\tRECORDS\tINFO\tWARN\tERROR\tTRANSPORT")
	fmt.Fprintln(w, "-------\t----\t-------\t----\t----\t-----\t---------")
	for _, s := range sessions.Sessions {
		transport := "-"
		if s.Transport != nil {
			transport = fmt.Sprintf("%s %s (%s)", s.Transport.Mode, s.Transport.Address, s.Transport.State)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			s.Name, s.Kind, s.Records,
			s.Counts.Display[domain.SeverityInfo.String()],
			s.Counts.Display[domain.SeverityWarning.String()],
			s.Counts.Display[domain.SeverityError.String()],
			transport)
	}
	return w.Flush()
}

func runRecords(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	name := sessionArg(args)
	client := NewClient(apiAddr)
	printer := NewPrinter(out)
	printer.Stacks = recordsStacks
	params := recordsFilter.params()

	emit := func(r api.RecordResponse) {
		if jsonOutput {
			if err := json.NewEncoder(out).Encode(r); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to encode record: %v\n", err)
			}
			return
		}
		printer.PrintRecord(r)
	}

	if recordsFollow {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return client.StreamRecords(ctx, name, params, emit)
	}

	resp, err := client.GetRecords(name, params)
	if err != nil {
		return err
	}
	if jsonOutput {
		return json.NewEncoder(out).Encode(resp)
	}

	for _, r := range resp.Records {
		emit(r)
	}
	if len(resp.Records) < resp.FilteredCount {
		fmt.Fprintf(out, "\n(showing %d of %d matching records, %d total)\n", len(resp.Records), resp.FilteredCount, resp.TotalCount)
	}
	printer.PrintCounts(resp.Counts)
	return nil
}

func runTree(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	name := sessionArg(args)
	client := NewClient(apiAddr)

	for _, id := range treeExpand {
		if err := client.SetExpanded(name, id, true); err != nil {
			return err
		}
	}
	for _, id := range treeCollapse {
		if err := client.SetExpanded(name, id, false); err != nil {
			return err
		}
	}

	params := TreeParams{Sort: treeSort, Ascending: treeAsc}
	if cmd.Flags().Changed("search") {
		params.Search = &treeSearch
	}
	tree, err := client.GetTree(name, params)
	if err != nil {
		return err
	}

	if jsonOutput {
		return json.NewEncoder(out).Encode(tree)
	}
	printTree(out, tree)
	return nil
}

func printTree(out io.Writer, tree *api.TreeResponse) {
	printer := NewPrinter(out)
	printer.PrintTreeHeader()
	for _, row := range tree.Rows {
		printer.PrintTreeRow(row)
	}
	if tree.Search != "" {
		fmt.Fprintf(out, "\n(search: %q)\n", tree.Search)
	}
	fmt.Fprintf(out, "%d records\n", tree.Total)
}

func runExport(cmd *cobra.Command, args []string) error {
	name := sessionArg(args)

	var params RecordParams
	if anyChanged(cmd, "severity", "collapse", "search", "regex") {
		params = exportFilter.params()
	}

	out := cmd.OutOrStdout()
	if exportOutput != "" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("creating export file: %w", err)
		}
		defer f.Close()
		out = f
	}

	if err := NewClient(apiAddr).Export(name, params, out); err != nil {
		return err
	}
	if exportOutput != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %s to %s\n", name, exportOutput)
	}
	return nil
}

func anyChanged(cmd *cobra.Command, names ...string) bool {
	for _, n := range names {
		if cmd.Flags().Changed(n) {
			return true
		}
	}
	return false
}

func printFrames(out io.Writer, frames []domain.StackFrame) {
	for i, f := range frames {
		location := "(no source)"
		if f.HasSource() {
			location = fmt.Sprintf("%s:%d", f.FilePath, f.LineNumber)
		}
		fmt.Fprintf(out, "  %2d  %s  %s\n", i, f.Label(), dimStyle.Render(location))
	}
}

// formatDuration formats a duration nicely
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

