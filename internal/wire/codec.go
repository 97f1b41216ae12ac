// Package wire encodes log records into the fixed-size binary frame used by
// the TCP transport.
//
// Frame layout, little-endian:
//
//	offset  size  field
//	0       4     log type (int32)
//	4       512   message, UTF-8, NUL padded
//	516     1024  stack, UTF-8, NUL padded
//
// There is no length prefix and no version field; every frame is FrameSize bytes.
// A field ends at its first NUL, so NUL bytes are stripped from text on encode.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/charliek/stackscope/internal/domain"
)

// Field widths and offsets
const (
	TypeOffset    = 0
	TypeSize      = 4
	MessageOffset = TypeOffset + TypeSize
	MessageSize   = 512
	StackOffset   = MessageOffset + MessageSize
	StackSize     = 1024
	FrameSize     = StackOffset + StackSize
)

// LogType is the severity tag carried on the wire
type LogType int32

// Wire tags as emitted by the in-process hook
const (
	LogTypeError     LogType = 0
	LogTypeAssert    LogType = 1
	LogTypeWarning   LogType = 2
	LogTypeLog       LogType = 3
	LogTypeException LogType = 4
)

// Severity normalizes the wire tag. Assert and Exception are errors.
func (t LogType) Severity() domain.Severity {
	switch t {
	case LogTypeError, LogTypeAssert, LogTypeException:
		return domain.SeverityError
	case LogTypeWarning:
		return domain.SeverityWarning
	case LogTypeLog:
		return domain.SeverityInfo
	default:
		return domain.SeverityUnknown
	}
}

// LogTypeFor returns the canonical wire tag for a severity
func LogTypeFor(severity domain.Severity) LogType {
	switch severity {
	case domain.SeverityError:
		return LogTypeError
	case domain.SeverityWarning:
		return LogTypeWarning
	default:
		return LogTypeLog
	}
}

// Record is one decoded frame. Type keeps the raw tag so that re-encoding a
// decoded frame reproduces it.
type Record struct {
	Type    LogType
	Message string
	Stack   string
}

// NewRecord builds a wire record from a severity
func NewRecord(message, stack string, severity domain.Severity) Record {
	return Record{Type: LogTypeFor(severity), Message: message, Stack: stack}
}

// Severity returns the normalized severity of the record
func (r Record) Severity() domain.Severity {
	return r.Type.Severity()
}

// Truncate shortens s to at most n bytes without splitting a UTF-8 sequence.
// Invalid input with no rune start near n is cut at n.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for cut := n; cut >= 0 && cut > n-utf8.UTFMax; cut-- {
		if utf8.RuneStart(s[cut]) {
			return s[:cut]
		}
	}
	return s[:n]
}

// Encode writes the record into a new frame, silently truncating fields
// that exceed their width
func Encode(r Record) []byte {
	buf := make([]byte, FrameSize)
	EncodeInto(buf, r)
	return buf
}

// EncodeInto writes the record into buf, which must be at least FrameSize long
func EncodeInto(buf []byte, r Record) {
	binary.LittleEndian.PutUint32(buf[TypeOffset:], uint32(r.Type))
	putField(buf[MessageOffset:MessageOffset+MessageSize], r.Message)
	putField(buf[StackOffset:StackOffset+StackSize], r.Stack)
}

func putField(field []byte, s string) {
	s = strings.ReplaceAll(s, "\x00", "")
	n := copy(field, Truncate(s, len(field)))
	clear(field[n:])
}

// Decode reads one record from the start of buf. Buffers shorter than a
// frame are rejected with domain.ErrShortBuffer.
func Decode(buf []byte) (Record, error) {
	if len(buf) < FrameSize {
		return Record{}, fmt.Errorf("decode %d bytes: %w", len(buf), domain.ErrShortBuffer)
	}
	return Record{
		Type:    LogType(int32(binary.LittleEndian.Uint32(buf[TypeOffset:]))),
		Message: field(buf[MessageOffset : MessageOffset+MessageSize]),
		Stack:   field(buf[StackOffset : StackOffset+StackSize]),
	}, nil
}

func field(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// ReadFrame reads exactly one frame from r and decodes it. A stream that
// ends mid-frame yields io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader, buf []byte) (Record, error) {
	if len(buf) < FrameSize {
		buf = make([]byte, FrameSize)
	}
	if _, err := io.ReadFull(r, buf[:FrameSize]); err != nil {
		return Record{}, err
	}
	return Decode(buf)
}

// WriteFrame encodes the record and writes it to w
func WriteFrame(w io.Writer, r Record) error {
	_, err := w.Write(Encode(r))
	return err
}
