package domain

import (
	"fmt"
	"path"
	"slices"
	"strings"
)

// UnknownLine is the line number of a frame whose location could not be parsed
const UnknownLine = -1

// StackFrame is one parsed call-site reference
type StackFrame struct {
	ClassName  string `json:"class_name"`
	MethodName string `json:"method_name"`
	FilePath   string `json:"file_path,omitempty"`
	LineNumber int    `json:"line_number"`
	FullText   string `json:"full_text"`
}

// FileName returns the base name of FilePath, accepting either slash style
func (f StackFrame) FileName() string {
	if f.FilePath == "" {
		return ""
	}
	return path.Base(strings.ReplaceAll(f.FilePath, "\\", "/"))
}

// Label returns the "Class.Method" display name of the frame
func (f StackFrame) Label() string {
	if f.ClassName == "" {
		return f.MethodName
	}
	return f.ClassName + "." + f.MethodName
}

// SameCall reports whether both frames name the same class and method
func (f StackFrame) SameCall(other StackFrame) bool {
	return f.ClassName == other.ClassName && f.MethodName == other.MethodName
}

// HasSource reports whether the frame resolved to a file location
func (f StackFrame) HasSource() bool {
	return f.FilePath != "" && f.LineNumber != UnknownLine
}

// RecordKey is the identity of a log record and the collapse key
type RecordKey struct {
	Message  string
	RawStack string
	Severity Severity
}

// LogRecord is one observed diagnostic event
type LogRecord struct {
	Seq      int          `json:"seq"`
	Message  string       `json:"message"`
	RawStack string       `json:"raw_stack,omitempty"`
	Frames   []StackFrame `json:"frames,omitempty"`
	Extra    string       `json:"extra,omitempty"`
	Severity Severity     `json:"severity"`
	Selected bool         `json:"selected,omitempty"`
}

// Key returns the identity triple of the record
func (r LogRecord) Key() RecordKey {
	return RecordKey{Message: r.Message, RawStack: r.RawStack, Severity: r.Severity}
}

// Clone returns a copy that shares no slices with r
func (r LogRecord) Clone() LogRecord {
	r.Frames = slices.Clone(r.Frames)
	return r
}

// Equal reports whether both records share the same identity
func (r LogRecord) Equal(other LogRecord) bool {
	return r.Key() == other.Key()
}

// CollapseEntry aggregates identical records
type CollapseEntry struct {
	Representative *LogRecord
	Count          int
}

// FilterState selects which records a view shows.
// It is a comparable value; two views are the same view iff their states are equal.
type FilterState struct {
	Collapse    bool   `json:"collapse"`
	ShowInfo    bool   `json:"show_info"`
	ShowWarning bool   `json:"show_warning"`
	ShowError   bool   `json:"show_error"`
	SearchText  string `json:"search_text,omitempty"`
	UseRegex    bool   `json:"use_regex,omitempty"`
}

// DefaultFilterState shows every severity, uncollapsed, without search
func DefaultFilterState() FilterState {
	return FilterState{ShowInfo: true, ShowWarning: true, ShowError: true}
}

// ShowsSeverity reports whether the severity mask admits severity
func (f FilterState) ShowsSeverity(severity Severity) bool {
	switch severity {
	case SeverityInfo:
		return f.ShowInfo
	case SeverityWarning:
		return f.ShowWarning
	case SeverityError:
		return f.ShowError
	}
	return false
}

// SetSeverities replaces the severity mask with the named levels.
// An empty list leaves the mask unchanged.
func (f *FilterState) SetSeverities(names []string) error {
	if len(names) == 0 {
		return nil
	}
	f.ShowInfo, f.ShowWarning, f.ShowError = false, false, false
	for _, name := range names {
		switch ParseSeverity(name) {
		case SeverityInfo:
			f.ShowInfo = true
		case SeverityWarning:
			f.ShowWarning = true
		case SeverityError:
			f.ShowError = true
		default:
			return fmt.Errorf("%w: %q", ErrInvalidSeverity, name)
		}
	}
	return nil
}
