// Package source feeds raw log lines from files and subprocesses through a
// line assembler and hands completed records to a sink.
package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/charliek/stackscope/internal/assembler"
	"github.com/charliek/stackscope/internal/constants"
)

// Sink receives completed entries
type Sink func(assembler.Entry)

// Pump reads r line by line through asm until EOF or ctx is done.
// The record in progress at EOF is flushed. Lines longer than
// constants.ScannerMaxBufferSize are logged and skipped.
func Pump(ctx context.Context, r io.Reader, asm *assembler.Assembler, sink Sink) error {
	reader := bufio.NewReaderSize(r, constants.ScannerBufferSize)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, skipped, err := readLine(reader, constants.ScannerMaxBufferSize)
		switch {
		case skipped > 0:
			slog.Warn("skipping oversize line", "bytes", skipped, "limit", constants.ScannerMaxBufferSize)
		case err == nil || line != "":
			feed(asm, line, sink)
		}

		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading lines: %w", err)
		}
	}

	if e, ok := asm.Flush(); ok {
		sink(e)
	}
	return nil
}

// readLine returns the next line without its terminator. A line over limit
// is consumed up to the next newline and reported by its length in skipped.
func readLine(r *bufio.Reader, limit int) (line string, skipped int, err error) {
	var buf []byte
	for {
		chunk, rerr := r.ReadSlice('\n')
		if skipped > 0 {
			skipped += len(chunk)
		} else {
			buf = append(buf, chunk...)
			if n := len(bytes.TrimSuffix(buf, []byte("\n"))); n > limit {
				skipped, buf = len(buf), nil
			}
		}
		if errors.Is(rerr, bufio.ErrBufferFull) {
			continue
		}
		if skipped > 0 {
			return "", skipped, rerr
		}
		buf = bytes.TrimSuffix(buf, []byte("\n"))
		buf = bytes.TrimSuffix(buf, []byte("\r"))
		return string(buf), 0, rerr
	}
}

func feed(asm *assembler.Assembler, line string, sink Sink) {
	if e, ok := asm.Feed(line); ok {
		sink(e)
	}
}
