package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charliek/stackscope/internal/assembler"
	"github.com/charliek/stackscope/internal/constants"
)

// File reads a log file through an assembler. With Follow set it keeps
// polling for appended lines and restarts from the top when the file shrinks.
type File struct {
	Path   string
	Source assembler.Source
	Follow bool
	// FromEnd skips existing content when following
	FromEnd  bool
	Interval time.Duration
	Logger   *slog.Logger
}

// Run reads the file. Without Follow it returns at EOF; otherwise it returns
// when ctx is done.
func (f *File) Run(ctx context.Context, sink Sink) error {
	fh, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Path, err)
	}
	defer fh.Close()

	asm := assembler.New(f.Source)
	if !f.Follow {
		return Pump(ctx, fh, asm, sink)
	}
	return f.follow(ctx, fh, asm, sink)
}

func (f *File) follow(ctx context.Context, fh *os.File, asm *assembler.Assembler, sink Sink) error {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := f.Interval
	if interval <= 0 {
		interval = constants.DefaultFollowInterval
	}

	if f.FromEnd {
		if _, err := fh.Seek(0, io.SeekEnd); err != nil {
			return fmt.Errorf("seek %s: %w", f.Path, err)
		}
	}
	logger.Info("following file", "path", f.Path)

	reader := bufio.NewReaderSize(fh, constants.ScannerBufferSize)
	var partial strings.Builder
	idle := false

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		chunk, err := reader.ReadString('\n')
		partial.WriteString(chunk)
		if err == nil {
			feed(asm, partial.String(), sink)
			partial.Reset()
			idle = false
			continue
		}
		if !errors.Is(err, io.EOF) {
			return fmt.Errorf("read %s: %w", f.Path, err)
		}

		// A quiet file ends the record in progress
		if idle {
			if e, ok := asm.Flush(); ok {
				sink(e)
			}
		}
		idle = true

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}

		info, serr := fh.Stat()
		if serr != nil {
			continue
		}
		pos, _ := fh.Seek(0, io.SeekCurrent)
		if info.Size() < pos-int64(reader.Buffered()) {
			logger.Info("file truncated, restarting", "path", f.Path)
			if _, err := fh.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("seek %s: %w", f.Path, err)
			}
			reader.Reset(fh)
			partial.Reset()
			asm.Reset()
		}
	}
}
