package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/charliek/stackscope/internal/analysis"
	"github.com/charliek/stackscope/internal/api"
	"github.com/charliek/stackscope/internal/assembler"
	"github.com/charliek/stackscope/internal/domain"
	"github.com/charliek/stackscope/internal/logs"
	"github.com/charliek/stackscope/internal/source"
	"github.com/charliek/stackscope/internal/stackframe"
)

// Import command flags
var (
	importSource  string
	importFormat  string
	importFilter  filterFlags
	importRecords bool
	importDepth   int
	importSort    string
	importExport  string
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Analyse a log file offline",
	Long: `Assemble a log file into records and print a summary, without a server.

Examples:
  stackscope import app.log                        # Counts and top-level call tree
  stackscope import device.txt --source logcat     # Parse logcat output
  stackscope import app.log --records --collapse   # Distinct records with counts
  stackscope import app.log --depth 3 --sort error # Deeper tree, most errors first
  stackscope import app.log --export errors.txt -s error`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&importSource, "source", "logfile", "Line format (logfile, logcat, stream)")
	importCmd.Flags().StringVar(&importFormat, "format", "", "Stack frame format (inprocess, device, logfile); defaults per source")
	importFilter.register(importCmd, false)
	importCmd.Flags().BoolVar(&importRecords, "records", false, "Print the filtered records")
	importCmd.Flags().IntVar(&importDepth, "depth", 1, "Tree levels to show (0 hides the tree)")
	importCmd.Flags().StringVar(&importSort, "sort", "total", "Sort tree children by column (total, info, warning, error)")
	importCmd.Flags().StringVarP(&importExport, "export", "o", "", "Export the filtered records to a file")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	src, ok := assembler.ParseSource(importSource)
	if !ok {
		return fmt.Errorf("unknown source %q", importSource)
	}
	format := assembler.New(src).Format()
	if importFormat != "" {
		if format, ok = stackframe.ParseFormat(importFormat); !ok {
			return fmt.Errorf("unknown format %q", importFormat)
		}
	}
	column, ok := analysis.ParseColumn(importSort)
	if !ok {
		return fmt.Errorf("unknown sort column %q", importSort)
	}

	store := logs.NewStore(logs.Config{Format: format, Logger: slog.Default()})
	defer store.Close()

	dropped := 0
	file := &source.File{Path: args[0], Source: src, Logger: slog.Default()}
	err := file.Run(cmd.Context(), func(e assembler.Entry) {
		if _, err := store.Add(e.Message, e.Stack, e.Severity); err != nil {
			dropped++
		}
	})
	if err != nil {
		return err
	}

	state, err := importState()
	if err != nil {
		return err
	}

	printer := NewPrinter(out)
	fmt.Fprintf(out, "%s: %d records, %d distinct", args[0], store.Len(), store.CollapsedLen())
	if dropped > 0 {
		fmt.Fprintf(out, ", %d dropped", dropped)
	}
	fmt.Fprintln(out)
	printer.PrintCounts(api.ToCountsResponse(store.Counts(), logs.DefaultDisplayCap))

	if importRecords {
		fmt.Fprintln(out)
		for _, item := range store.Items(state, false) {
			printer.PrintRecord(api.ToRecordResponse(item.Record, item.Count))
		}
	}

	if importDepth > 0 {
		fmt.Fprintln(out)
		tree := importTree(store, column, importDepth)
		printTree(out, &tree)
	}

	if importExport != "" {
		if err := store.ExportFile(importExport, &state); err != nil {
			return err
		}
		fmt.Fprintf(out, "\nExported to %s\n", importExport)
	}
	return nil
}

func importState() (domain.FilterState, error) {
	state := domain.DefaultFilterState()
	if err := state.SetSeverities(importFilter.severities); err != nil {
		return state, err
	}
	state.Collapse = importFilter.collapse
	state.SearchText = importFilter.search
	state.UseRegex = importFilter.regex
	return state, nil
}

// importTree sorts the tree and expands it down to depth levels
func importTree(store *logs.Store, column analysis.Column, depth int) api.TreeResponse {
	var resp api.TreeResponse
	_ = store.WithTree(func(t *analysis.Tree) error {
		t.Sort(column, false)
		t.Walk(func(n *analysis.Node) bool {
			n.Expanded = n.Depth < depth
			return true
		})

		rows := t.Rows()
		resp = api.TreeResponse{Total: t.Total(), Rows: make([]api.TreeRowResponse, len(rows))}
		for i, row := range rows {
			resp.Rows[i] = api.ToTreeRowResponse(row)
		}
		return nil
	})
	return resp
}
