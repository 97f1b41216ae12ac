package logs

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charliek/stackscope/internal/domain"
)

// Export writes records as human-readable text blocks. A nil state exports
// the full history; otherwise the view selected by state is written.
func (s *Store) Export(w io.Writer, state *domain.FilterState) error {
	selected := domain.DefaultFilterState()
	if state != nil {
		selected = *state
	}
	items := s.Snapshot(selected)

	bw := bufio.NewWriter(w)
	for _, item := range items {
		writeBlock(bw, item)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("export records: %w", err)
	}
	return nil
}

// ExportFile writes Export output to path, overwriting any existing file
func (s *Store) ExportFile(path string, state *domain.FilterState) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}

	if err := s.Export(f, state); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close export file: %w", err)
	}
	return nil
}

func writeBlock(w *bufio.Writer, item Item) {
	r := item.Record
	fmt.Fprintf(w, "[%s] %s", strings.ToUpper(r.Severity.String()), r.Message)
	if item.Count > 1 {
		fmt.Fprintf(w, " (x%d)", item.Count)
	}
	w.WriteByte('\n')

	for _, line := range strings.Split(r.RawStack, "\n") {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		w.WriteString(line)
		w.WriteByte('\n')
	}
	w.WriteByte('\n')
}
