package logs

import (
	"regexp"
	"strings"

	"github.com/charliek/stackscope/internal/domain"
)

// Filter applies a FilterState to log records
type Filter struct {
	state  domain.FilterState
	needle string
	regex  *regexp.Regexp
}

// NewFilter creates a filter from a FilterState. A search text that does not
// compile as a regex degrades to substring matching.
func NewFilter(state domain.FilterState) *Filter {
	f := &Filter{
		state:  state,
		needle: strings.ToLower(state.SearchText),
	}

	if state.UseRegex && state.SearchText != "" {
		if re, err := regexp.Compile(state.SearchText); err == nil {
			f.regex = re
		}
	}

	return f
}

// State returns the FilterState the filter was built from
func (f *Filter) State() domain.FilterState {
	return f.state
}

// ShouldDisplay returns true if the record passes the severity mask and the search
func (f *Filter) ShouldDisplay(record *domain.LogRecord) bool {
	if !f.state.ShowsSeverity(record.Severity) {
		return false
	}
	return f.MatchesText(record.Message)
}

// MatchesText applies only the search part of the filter
func (f *Filter) MatchesText(text string) bool {
	if f.needle == "" {
		return true
	}
	if strings.Contains(strings.ToLower(text), f.needle) {
		return true
	}
	return f.regex != nil && f.regex.MatchString(text)
}

// FilterRecords returns the records of a list that pass the filter, in order
func FilterRecords(records []*domain.LogRecord, state domain.FilterState) []*domain.LogRecord {
	f := NewFilter(state)
	result := make([]*domain.LogRecord, 0, len(records))
	for _, r := range records {
		if f.ShouldDisplay(r) {
			result = append(result, r)
		}
	}
	return result
}
