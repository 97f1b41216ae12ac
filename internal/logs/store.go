// Package logs holds the per-session log store: full and collapsed history,
// per-severity counters, cached filtered views, the aggregation tree and
// live subscriptions.
package logs

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/charliek/stackscope/internal/analysis"
	"github.com/charliek/stackscope/internal/constants"
	"github.com/charliek/stackscope/internal/domain"
	"github.com/charliek/stackscope/internal/stackframe"
)

// DefaultDisplayCap is the counter value above which DisplayCount abbreviates
const DefaultDisplayCap = constants.DefaultDisplayCap

// Config configures a Store
type Config struct {
	// Format selects the frame syntax used to parse raw stacks
	Format stackframe.Format
	// SubscriptionBuffer is the channel size of each subscription
	SubscriptionBuffer int
	Logger             *slog.Logger
}

// Item is one row of a filtered view
type Item struct {
	Record domain.LogRecord `json:"record"`
	// Count is the number of occurrences of the record's key in a collapsed
	// view, and 1 otherwise
	Count int `json:"count"`
}

type view struct {
	filter  *Filter
	records []*domain.LogRecord
}

// Store is a thread-safe collapsed index of log records.
// A single mutex guards every mutable field including the tree.
type Store struct {
	mu        sync.Mutex
	format    stackframe.Format
	history   []*domain.LogRecord
	collapsed []*domain.LogRecord
	entries   map[domain.RecordKey]*domain.CollapseEntry
	counts    domain.Counts
	tree      *analysis.Tree
	view      *view
	selected  *domain.LogRecord
	subs      *SubscriptionManager
	logger    *slog.Logger
}

// NewStore creates an empty store
func NewStore(cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		format:  cfg.Format,
		entries: make(map[domain.RecordKey]*domain.CollapseEntry),
		tree:    analysis.NewTree(),
		subs:    NewSubscriptionManager(cfg.SubscriptionBuffer, logger),
		logger:  logger,
	}
}

// Format returns the frame syntax the store parses stacks with
func (s *Store) Format() stackframe.Format {
	return s.format
}

// Add constructs a record from its parts and indexes it. The stack is parsed
// into frames; text that is not a frame is kept as Extra.
func (s *Store) Add(message, stack string, severity domain.Severity) (domain.LogRecord, error) {
	if !severity.Valid() {
		return domain.LogRecord{}, fmt.Errorf("add record: %w: %d", domain.ErrInvalidSeverity, severity)
	}

	frames, extra := stackframe.Parse(stack, s.format)

	s.mu.Lock()
	defer s.mu.Unlock()

	record := &domain.LogRecord{
		Seq:      len(s.history),
		Message:  message,
		RawStack: stack,
		Frames:   frames,
		Extra:    extra,
		Severity: severity,
	}

	s.history = append(s.history, record)
	s.counts.Add(severity, 1)

	key := record.Key()
	entry, seen := s.entries[key]
	if seen {
		entry.Count++
	} else {
		s.entries[key] = &domain.CollapseEntry{Representative: record, Count: 1}
		s.collapsed = append(s.collapsed, record)
	}

	s.tree.Insert(record)

	if s.view != nil && (!s.view.filter.State().Collapse || !seen) {
		if s.view.filter.ShouldDisplay(record) {
			s.view.records = append(s.view.records, record)
		}
	}

	s.subs.Broadcast(record.Clone(), !seen)

	return record.Clone(), nil
}

// Clear discards all records, counters, the tree, the cached view and the selection
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = nil
	s.collapsed = nil
	s.entries = make(map[domain.RecordKey]*domain.CollapseEntry)
	s.counts = domain.Counts{}
	s.tree.Reset()
	s.view = nil
	s.selected = nil
	s.logger.Debug("store cleared")
}

// Filtered returns the records visible under state, in arrival order.
// The view is cached and only recomputed when state changes or force is set.
func (s *Store) Filtered(state domain.FilterState, force bool) []domain.LogRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.materialize(state, force)
	result := make([]domain.LogRecord, len(records))
	for i, r := range records {
		result[i] = r.Clone()
	}
	return result
}

// Items is Filtered with per-row occurrence counts
func (s *Store) Items(state domain.FilterState, force bool) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.items(s.materialize(state, force), state.Collapse)
}

// Snapshot returns the items visible under state without touching the
// cached view
func (s *Store) Snapshot(state domain.FilterState) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	source := s.history
	if state.Collapse {
		source = s.collapsed
	}
	return s.items(FilterRecords(source, state), state.Collapse)
}

// items must be called with the lock held
func (s *Store) items(records []*domain.LogRecord, collapse bool) []Item {
	result := make([]Item, len(records))
	for i, r := range records {
		count := 1
		if collapse {
			count = s.entries[r.Key()].Count
		}
		result[i] = Item{Record: r.Clone(), Count: count}
	}
	return result
}

// materialize must be called with the lock held
func (s *Store) materialize(state domain.FilterState, force bool) []*domain.LogRecord {
	if !force && s.view != nil && s.view.filter.State() == state {
		return s.view.records
	}

	source := s.history
	if state.Collapse {
		source = s.collapsed
	}

	s.view = &view{
		filter:  NewFilter(state),
		records: FilterRecords(source, state),
	}
	return s.view.records
}

// Counts returns the unbounded per-severity counters
func (s *Store) Counts() domain.Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts
}

// Len returns the number of records in the full history
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// CollapsedLen returns the number of distinct record keys
func (s *Store) CollapsedLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.collapsed)
}

// Occurrences returns how many times a key was added
func (s *Store) Occurrences(key domain.RecordKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[key]; ok {
		return entry.Count
	}
	return 0
}

// Record returns a copy of the record with the given sequence number
func (s *Store) Record(seq int) (domain.LogRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.lookup(seq)
	if err != nil {
		return domain.LogRecord{}, err
	}
	return r.Clone(), nil
}

func (s *Store) lookup(seq int) (*domain.LogRecord, error) {
	if seq < 0 || seq >= len(s.history) {
		return nil, fmt.Errorf("%w: %d", domain.ErrRecordNotFound, seq)
	}
	return s.history[seq], nil
}

// Select marks one record as the current selection
func (s *Store) Select(seq int) (domain.LogRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.lookup(seq)
	if err != nil {
		return domain.LogRecord{}, err
	}
	if s.selected != nil {
		s.selected.Selected = false
	}
	r.Selected = true
	s.selected = r
	return r.Clone(), nil
}

// Selected returns the current selection, if any
func (s *Store) Selected() (domain.LogRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return domain.LogRecord{}, false
	}
	return *s.selected, true
}

// Source returns the file location of one frame of a record
func (s *Store) Source(seq, frame int) (path string, line int, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.lookup(seq)
	if err != nil {
		return "", domain.UnknownLine, false, err
	}
	if frame < 0 || frame >= len(r.Frames) {
		return "", domain.UnknownLine, false, fmt.Errorf("%w: frame %d of record %d", domain.ErrRecordNotFound, frame, seq)
	}
	f := r.Frames[frame]
	return f.FilePath, f.LineNumber, f.HasSource(), nil
}

// WithTree runs fn with exclusive access to the aggregation tree
func (s *Store) WithTree(fn func(t *analysis.Tree) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.tree)
}

// Subscribe registers a viewer for newly added records matching state.
// A collapsing viewer only receives the first record of each key.
func (s *Store) Subscribe(state domain.FilterState) (string, <-chan domain.LogRecord) {
	return s.subs.Subscribe(state)
}

// Unsubscribe removes a viewer
func (s *Store) Unsubscribe(id string) {
	s.subs.Unsubscribe(id)
}

// SubscriberCount returns the number of live viewers
func (s *Store) SubscriberCount() int {
	return s.subs.Count()
}

// Close ends every subscription
func (s *Store) Close() {
	s.subs.Close()
}

// DisplayCount renders a counter for presentation, saturating at limit
// ("99+" for the default cap). A non-positive limit disables saturation.
func DisplayCount(n, limit int) string {
	if limit > 0 && n > limit {
		return strconv.Itoa(limit) + "+"
	}
	return strconv.Itoa(n)
}
