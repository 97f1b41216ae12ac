// Package assembler rebuilds multi-line log records from line-oriented
// output such as device logcat, plain log files and text streams.
package assembler

import (
	"regexp"
	"strings"

	"github.com/charliek/stackscope/internal/domain"
	"github.com/charliek/stackscope/internal/stackframe"
)

// RecordSeparator is the explicit end-of-record line accepted by sources
// that support a sentinel
const RecordSeparator = "\x1e"

// Source identifies the kind of line stream being assembled
type Source int

const (
	// SourceLogcat reads device logcat output ("MM-DD HH:MM:SS.mmm L/Tag: msg")
	SourceLogcat Source = iota
	// SourceLogFile reads plain log files ("YYYY-MM-DD HH:MM:SS LEVEL msg")
	SourceLogFile
	// SourceStream reads tagged text streams ("[LEVEL] HH:MM:SS msg")
	SourceStream
)

// String returns the config name of the source
func (s Source) String() string {
	switch s {
	case SourceLogcat:
		return "logcat"
	case SourceLogFile:
		return "logfile"
	case SourceStream:
		return "stream"
	default:
		return "unknown"
	}
}

// ParseSource converts a config name to a Source
func ParseSource(name string) (Source, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "logcat", "device":
		return SourceLogcat, true
	case "logfile", "file":
		return SourceLogFile, true
	case "stream":
		return SourceStream, true
	}
	return SourceLogcat, false
}

var (
	logcatHeader = regexp.MustCompile(
		`^(?P<date>\d{2}-\d{2})\s+(?P<time>\d{2}:\d{2}:\d{2}\.\d{3})\s+(?:\d+\s+\d+\s+)?(?P<level>[VDIWEFA])[/ ]\s*(?P<tag>[^:]*?)\s*(?:\(\s*\d+\))?\s*:\s?(?P<msg>.*)$`)

	logFileHeader = regexp.MustCompile(
		`^(?P<date>\d{4}-\d{2}-\d{2})[ T](?P<time>\d{2}:\d{2}:\d{2}(?:[.,]\d+)?)\s+\[?(?P<level>[A-Za-z]+)\]?:?\s?(?P<msg>.*)$`)

	streamHeader = regexp.MustCompile(
		`^\[(?P<level>[A-Za-z]+)\]\s*(?:(?P<time>\d{2}:\d{2}:\d{2}(?:\.\d+)?)\s+)?(?P<msg>.*)$`)
)

// Entry is one completed multi-line record
type Entry struct {
	Severity  domain.Severity
	Timestamp string
	Tag       string
	Message   string
	Stack     string
}

type profile struct {
	header *regexp.Regexp
	format stackframe.Format
	// sentinel terminates a record in addition to blank lines
	sentinel bool
	// sameTagContinues treats header lines repeating the current tag and
	// level as body lines of the current record
	sameTagContinues bool
	// dropBareInfo discards info records that carry no stack
	dropBareInfo bool
}

var profiles = map[Source]profile{
	SourceLogcat:  {header: logcatHeader, format: stackframe.FormatDevice, sentinel: true, sameTagContinues: true},
	SourceLogFile: {header: logFileHeader, format: stackframe.FormatLogFile, dropBareInfo: true},
	SourceStream:  {header: streamHeader, format: stackframe.FormatInProcess, sentinel: true},
}

type state int

const (
	awaitingHeader state = iota
	collectingMessage
	collectingStack
)

// Assembler is the per-source state machine. It is not safe for concurrent use.
type Assembler struct {
	source  Source
	profile profile
	state   state
	current Entry
	message []string
	stack   []string
}

// New creates an assembler for source
func New(source Source) *Assembler {
	p, ok := profiles[source]
	if !ok {
		p = profiles[SourceLogcat]
	}
	return &Assembler{source: source, profile: p}
}

// Source returns the source the assembler was built for
func (a *Assembler) Source() Source {
	return a.source
}

// Format returns the frame format used by records of this source
func (a *Assembler) Format() stackframe.Format {
	return a.profile.format
}

// Feed consumes one line. It returns a completed entry when the line
// terminated a record that is worth keeping.
func (a *Assembler) Feed(line string) (Entry, bool) {
	line = strings.TrimRight(line, "\r\n")

	if a.isTerminator(line) {
		if a.state == awaitingHeader {
			return Entry{}, false
		}
		return a.finish()
	}

	if h, ok := a.parseHeader(line); ok {
		if a.state == awaitingHeader {
			a.start(h)
			return Entry{}, false
		}
		if a.profile.sameTagContinues && h.Tag == a.current.Tag && h.Severity == a.current.Severity {
			if strings.TrimSpace(h.Message) == "" {
				return a.finish()
			}
			a.appendBody(h.Message)
			return Entry{}, false
		}
		out, ok := a.finish()
		a.start(h)
		return out, ok
	}

	if a.state == awaitingHeader {
		return Entry{}, false
	}
	a.appendBody(line)
	return Entry{}, false
}

// Flush terminates the record in progress, as a blank line would
func (a *Assembler) Flush() (Entry, bool) {
	if a.state == awaitingHeader {
		return Entry{}, false
	}
	return a.finish()
}

// Reset drops the record in progress
func (a *Assembler) Reset() {
	a.state = awaitingHeader
	a.current = Entry{}
	a.message = a.message[:0]
	a.stack = a.stack[:0]
}

func (a *Assembler) isTerminator(line string) bool {
	if strings.TrimSpace(line) == "" {
		return true
	}
	return a.profile.sentinel && line == RecordSeparator
}

func (a *Assembler) parseHeader(line string) (Entry, bool) {
	re := a.profile.header
	m := re.FindStringSubmatch(line)
	if m == nil {
		return Entry{}, false
	}
	group := func(name string) string {
		if idx := re.SubexpIndex(name); idx >= 0 {
			return m[idx]
		}
		return ""
	}

	ts := group("time")
	if date := group("date"); date != "" {
		ts = date + " " + ts
	}
	return Entry{
		Severity:  domain.ParseSeverity(group("level")),
		Timestamp: strings.TrimSpace(ts),
		Tag:       strings.TrimSpace(group("tag")),
		Message:   group("msg"),
	}, true
}

func (a *Assembler) start(h Entry) {
	// A header with no text carries nothing to assemble
	if strings.TrimSpace(h.Message) == "" {
		return
	}
	a.current = h
	a.message = append(a.message[:0], h.Message)
	a.stack = a.stack[:0]
	a.state = collectingMessage
}

func (a *Assembler) appendBody(text string) {
	if a.state == collectingMessage && stackframe.IsFrameLine(text, a.profile.format) {
		a.state = collectingStack
	}
	if a.state == collectingStack {
		a.stack = append(a.stack, text)
		return
	}
	a.message = append(a.message, text)
}

func (a *Assembler) finish() (Entry, bool) {
	out := a.current
	out.Message = strings.Join(a.message, "\n")
	out.Stack = strings.Join(a.stack, "\n")
	a.Reset()

	if out.Severity == domain.SeverityUnknown {
		return Entry{}, false
	}
	if a.profile.dropBareInfo && out.Stack == "" && out.Severity == domain.SeverityInfo {
		return Entry{}, false
	}
	return out, true
}
