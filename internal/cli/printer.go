package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/charliek/stackscope/internal/api"
)

var (
	infoColor    = lipgloss.Color("12") // Blue
	warningColor = lipgloss.Color("11") // Yellow
	errorColor   = lipgloss.Color("9")  // Red
	dimColor     = lipgloss.Color("8")  // Gray

	dimStyle   = lipgloss.NewStyle().Foreground(dimColor)
	labelStyle = lipgloss.NewStyle().Bold(true)
)

func severityStyle(severity string) lipgloss.Style {
	style := lipgloss.NewStyle().Bold(true)
	switch severity {
	case "error":
		return style.Foreground(errorColor)
	case "warning":
		return style.Foreground(warningColor)
	default:
		return style.Foreground(infoColor)
	}
}

// Printer writes records, counters and tree rows to a terminal.
// Records may be printed from several goroutines.
type Printer struct {
	mu  sync.Mutex
	out io.Writer
	// Stacks includes raw stack text under each record
	Stacks bool
}

// NewPrinter creates a Printer writing to out
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// PrintRecord prints one record as "#seq [SEVERITY] message (xN)"
func (p *Printer) PrintRecord(r api.RecordResponse) {
	p.printRecord("", r)
}

// PrintSessionRecord prints a record prefixed with its session name
func (p *Printer) PrintSessionRecord(session string, r api.RecordResponse) {
	p.printRecord(session, r)
}

func (p *Printer) printRecord(session string, r api.RecordResponse) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tag := severityStyle(r.Severity).Render(fmt.Sprintf("[%-7s]", strings.ToUpper(r.Severity)))
	line := fmt.Sprintf("%s %s %s", dimStyle.Render(fmt.Sprintf("#%-5d", r.Seq)), tag, r.Message)
	if session != "" {
		line = labelStyle.Render(fmt.Sprintf("%-10s", session)) + " " + line
	}
	if r.Count > 1 {
		line += dimStyle.Render(fmt.Sprintf(" (x%d)", r.Count))
	}
	fmt.Fprintln(p.out, line)

	if p.Stacks && r.RawStack != "" {
		for _, frame := range strings.Split(strings.TrimRight(r.RawStack, "\n"), "\n") {
			fmt.Fprintln(p.out, dimStyle.Render("        "+strings.TrimSpace(frame)))
		}
	}
}

// PrintCounts prints the capped per-severity counters
func (p *Printer) PrintCounts(c api.CountsResponse) {
	fmt.Fprintf(p.out, "%s %s  %s %s  %s %s\n",
		severityStyle("info").Render("info"), c.Display["info"],
		severityStyle("warning").Render("warning"), c.Display["warning"],
		severityStyle("error").Render("error"), c.Display["error"])
}

// PrintTreeRow prints one aggregation tree row, indented by depth
func (p *Printer) PrintTreeRow(row api.TreeRowResponse) {
	marker := "  "
	if !row.Leaf {
		marker = "+ "
		if row.Expanded {
			marker = "- "
		}
	}
	label := strings.Repeat("  ", row.Depth) + marker + row.Label
	fmt.Fprintf(p.out, "%s %s %s %s %s  %s\n",
		dimStyle.Render(fmt.Sprintf("%4d", row.ID)),
		labelStyle.Render(fmt.Sprintf("%6d", row.Total)),
		severityStyle("info").Render(fmt.Sprintf("%5d", row.Info)),
		severityStyle("warning").Render(fmt.Sprintf("%5d", row.Warning)),
		severityStyle("error").Render(fmt.Sprintf("%5d", row.Error)),
		label)
}

// PrintTreeHeader prints the column titles for PrintTreeRow
func (p *Printer) PrintTreeHeader() {
	fmt.Fprintln(p.out, dimStyle.Render(fmt.Sprintf("%4s %6s %5s %5s %5s  %s", "ID", "TOTAL", "INFO", "WARN", "ERR", "FRAME")))
}
