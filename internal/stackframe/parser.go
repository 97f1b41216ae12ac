// Package stackframe extracts structured call-site references from
// free-form stack text.
package stackframe

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/charliek/stackscope/internal/domain"
)

// Format selects the frame pattern used to parse stack text
type Format int

const (
	// FormatInProcess matches "Class:Method() (at path/File.ext:line)".
	// Engine frames without a location still match, with an unknown line.
	FormatInProcess Format = iota
	// FormatDevice matches "Class.Nested.Method(...)" anywhere on a line,
	// without file or line information
	FormatDevice
	// FormatLogFile matches "Class.Method(...)" occupying a whole line,
	// optionally followed by "(at path:line)"
	FormatLogFile
)

// String returns the config name of the format
func (f Format) String() string {
	switch f {
	case FormatInProcess:
		return "inprocess"
	case FormatDevice:
		return "device"
	case FormatLogFile:
		return "logfile"
	default:
		return "unknown"
	}
}

// ParseFormat converts a config name to a Format
func ParseFormat(name string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "inprocess", "in-process", "":
		return FormatInProcess, true
	case "device", "logcat":
		return FormatDevice, true
	case "logfile", "file":
		return FormatLogFile, true
	}
	return FormatInProcess, false
}

const (
	classChars  = "[\\w$<>+`/.]"
	methodChars = "[\\w$<>`]"
	location    = `\(at (?P<path>[^)\n]*?):(?P<line>[^:)\n]*)\)`
)

var (
	inProcessPattern = regexp.MustCompile(
		`(?P<class>` + classChars + `+):(?P<method>[\w$<>` + "`" + `.]+)[ \t]*\((?P<args>[^)\n]*)\)(?:[ \t]*` + location + `)?`)

	devicePattern = regexp.MustCompile(
		`(?:\bat[ \t]+)?(?P<class>` + methodChars + `+(?:\.` + methodChars + `+)*)[.:](?P<method>` + methodChars + `+)[ \t]*\((?P<args>[^)\n]*)\)`)

	logFilePattern = regexp.MustCompile(
		`(?m)^[ \t]*(?:at[ \t]+)?(?P<class>` + methodChars + `+(?:\.` + methodChars + `+)*)[.:](?P<method>` + methodChars + `+)[ \t]*\((?P<args>[^)\n]*)\)(?:[ \t]*` + location + `)?[ \t]*\r?$`)
)

func pattern(format Format) *regexp.Regexp {
	switch format {
	case FormatDevice:
		return devicePattern
	case FormatLogFile:
		return logFilePattern
	default:
		return inProcessPattern
	}
}

// Parse extracts every frame from text in match order and returns the
// text left over once the matches are removed, trimmed.
// Matches are non-overlapping and scanned left to right.
func Parse(text string, format Format) ([]domain.StackFrame, string) {
	if text == "" {
		return nil, ""
	}

	re := pattern(format)
	matches := re.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil, strings.TrimSpace(text)
	}

	frames := make([]domain.StackFrame, 0, len(matches))
	var residual strings.Builder
	last := 0
	for _, m := range matches {
		residual.WriteString(text[last:m[0]])
		last = m[1]
		frames = append(frames, frameFromMatch(re, text, m))
	}
	residual.WriteString(text[last:])

	return frames, strings.TrimSpace(residual.String())
}

// IsFrameLine reports whether line contains a frame in the given format
func IsFrameLine(line string, format Format) bool {
	return pattern(format).MatchString(line)
}

func frameFromMatch(re *regexp.Regexp, text string, m []int) domain.StackFrame {
	group := func(name string) string {
		idx := re.SubexpIndex(name)
		if idx < 0 || m[2*idx] < 0 {
			return ""
		}
		return text[m[2*idx]:m[2*idx+1]]
	}

	frame := domain.StackFrame{
		ClassName:  group("class"),
		MethodName: group("method"),
		FilePath:   strings.TrimSpace(group("path")),
		LineNumber: domain.UnknownLine,
		FullText:   strings.TrimSpace(text[m[0]:m[1]]),
	}
	if line, err := strconv.Atoi(strings.TrimSpace(group("line"))); err == nil {
		frame.LineNumber = line
	}
	return frame
}
