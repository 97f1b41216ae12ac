package logs

import (
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/charliek/stackscope/internal/domain"
)

// Subscription is a viewer receiving newly ingested records
type Subscription struct {
	id     string
	ch     chan domain.LogRecord
	filter *Filter
	closed atomic.Bool
	logger *slog.Logger
}

func newSubscription(id uint64, state domain.FilterState, bufferSize int, logger *slog.Logger) *Subscription {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscription{
		id:     "sub-" + strconv.FormatUint(id, 10),
		ch:     make(chan domain.LogRecord, bufferSize),
		filter: NewFilter(state),
		logger: logger,
	}
}

// ID returns the subscription ID
func (s *Subscription) ID() string {
	return s.id
}

// Channel returns the channel for receiving records
func (s *Subscription) Channel() <-chan domain.LogRecord {
	return s.ch
}

// Send attempts to deliver a record to the subscriber. firstSeen tells a
// collapsing subscriber whether the record is the first of its key.
// Returns false if the channel is full or closed.
func (s *Subscription) Send(record domain.LogRecord, firstSeen bool) bool {
	if s.closed.Load() {
		return false
	}

	if s.filter.state.Collapse && !firstSeen {
		return true
	}
	if !s.filter.ShouldDisplay(&record) {
		return true // filtered out, but not a failure
	}

	select {
	case s.ch <- record:
		return true
	default:
		s.logger.Debug("subscription channel full, dropping record", "subscription", s.id, "seq", record.Seq)
		return false
	}
}

// Close closes the subscription
func (s *Subscription) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// SubscriptionManager manages multiple subscriptions
type SubscriptionManager struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	bufferSize    int
	nextID        atomic.Uint64
	logger        *slog.Logger
}

// NewSubscriptionManager creates a new subscription manager
func NewSubscriptionManager(bufferSize int, logger *slog.Logger) *SubscriptionManager {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionManager{
		subscriptions: make(map[string]*Subscription),
		bufferSize:    bufferSize,
		logger:        logger,
	}
}

// Subscribe creates a new subscription
func (m *SubscriptionManager) Subscribe(state domain.FilterState) (string, <-chan domain.LogRecord) {
	sub := newSubscription(m.nextID.Add(1), state, m.bufferSize, m.logger)

	m.mu.Lock()
	m.subscriptions[sub.id] = sub
	m.mu.Unlock()

	return sub.id, sub.ch
}

// Unsubscribe removes a subscription
func (m *SubscriptionManager) Unsubscribe(id string) {
	m.mu.Lock()
	sub, ok := m.subscriptions[id]
	if ok {
		delete(m.subscriptions, id)
	}
	m.mu.Unlock()

	if ok {
		sub.Close()
	}
}

// Broadcast sends a record to all subscribers
func (m *SubscriptionManager) Broadcast(record domain.LogRecord, firstSeen bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.subscriptions {
		sub.Send(record, firstSeen)
	}
}

// Count returns the number of active subscriptions
func (m *SubscriptionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close closes all subscriptions
func (m *SubscriptionManager) Close() {
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	m.subscriptions = make(map[string]*Subscription)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}
