package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"testing"

	"github.com/charliek/stackscope/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayout(t *testing.T) {
	assert.Equal(t, 4, MessageOffset)
	assert.Equal(t, 516, StackOffset)
	assert.Equal(t, 1540, FrameSize)

	buf := Encode(Record{Type: LogTypeWarning, Message: "hi", Stack: "s"})
	require.Len(t, buf, FrameSize)
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(buf[0:4]))
	assert.Equal(t, []byte("hi\x00"), buf[4:7])
	assert.Equal(t, byte('s'), buf[516])
	assert.Equal(t, byte(0), buf[517])
}

func TestRoundTripBytes(t *testing.T) {
	cases := []Record{
		{Type: LogTypeLog, Message: "hello"},
		{Type: LogTypeException, Message: "NullReferenceException", Stack: "Foo:Bar () (at Assets/Foo.cs:1)"},
		{Type: LogTypeAssert, Message: strings.Repeat("m", MessageSize), Stack: strings.Repeat("s", StackSize)},
		{Type: LogType(42), Message: "ünïcödé ✓"},
		{Type: LogType(-1)},
	}

	for _, c := range cases {
		frame := Encode(c)
		decoded, err := Decode(frame)
		require.NoError(t, err)
		assert.Equal(t, c, decoded)
		assert.Equal(t, frame, Encode(decoded))
	}
}

func TestOversizedFieldsTruncate(t *testing.T) {
	long := strings.Repeat("x", MessageSize+100)
	stack := strings.Repeat("y", StackSize*2)

	decoded, err := Decode(Encode(Record{Type: LogTypeError, Message: long, Stack: stack}))
	require.NoError(t, err)
	assert.Equal(t, Truncate(long, MessageSize), decoded.Message)
	assert.Len(t, decoded.Message, MessageSize)
	assert.Len(t, decoded.Stack, StackSize)
}

func TestTruncateRuneBoundary(t *testing.T) {
	s := strings.Repeat("a", 511) + "é"
	got := Truncate(s, 512)
	assert.Equal(t, strings.Repeat("a", 511), got)

	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "", Truncate("é", 1))
}

func TestTruncateInvalidUTF8(t *testing.T) {
	junk := strings.Repeat("\x80", MessageSize+88)
	assert.Len(t, Truncate(junk, MessageSize), MessageSize)

	decoded, err := Decode(Encode(Record{Message: junk}))
	require.NoError(t, err)
	assert.Len(t, decoded.Message, MessageSize)
}

func TestEncodeStripsNUL(t *testing.T) {
	decoded, err := Decode(Encode(Record{Message: "a\x00b", Stack: "\x00Foo:Bar ()"}))
	require.NoError(t, err)
	assert.Equal(t, "ab", decoded.Message)
	assert.Equal(t, "Foo:Bar ()", decoded.Stack)
}

func TestDecodeShortBuffer(t *testing.T) {
	_, err := Decode(make([]byte, FrameSize-1))
	assert.ErrorIs(t, err, domain.ErrShortBuffer)

	_, err = Decode(nil)
	assert.ErrorIs(t, err, domain.ErrShortBuffer)
}

func TestSeverityMapping(t *testing.T) {
	assert.Equal(t, domain.SeverityError, LogTypeError.Severity())
	assert.Equal(t, domain.SeverityError, LogTypeAssert.Severity())
	assert.Equal(t, domain.SeverityError, LogTypeException.Severity())
	assert.Equal(t, domain.SeverityWarning, LogTypeWarning.Severity())
	assert.Equal(t, domain.SeverityInfo, LogTypeLog.Severity())
	assert.Equal(t, domain.SeverityUnknown, LogType(9).Severity())

	for _, sev := range domain.Severities {
		assert.Equal(t, sev, NewRecord("m", "", sev).Severity())
	}
}

func TestReadWriteFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, Record{Type: LogTypeLog, Message: "one"}))
	require.NoError(t, WriteFrame(&buf, Record{Type: LogTypeError, Message: "two"}))
	buf.Write([]byte{1, 2, 3})

	scratch := make([]byte, FrameSize)
	r, err := ReadFrame(&buf, scratch)
	require.NoError(t, err)
	assert.Equal(t, "one", r.Message)

	r, err = ReadFrame(&buf, scratch)
	require.NoError(t, err)
	assert.Equal(t, "two", r.Message)

	_, err = ReadFrame(&buf, scratch)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = ReadFrame(&buf, nil)
	assert.ErrorIs(t, err, io.EOF)
}
