// Package session ties an ingestion source to a log store. Sessions are
// held by an explicit Registry built once at startup.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/charliek/stackscope/internal/assembler"
	"github.com/charliek/stackscope/internal/domain"
	"github.com/charliek/stackscope/internal/logs"
	"github.com/charliek/stackscope/internal/source"
	"github.com/charliek/stackscope/internal/stackframe"
	"github.com/charliek/stackscope/internal/transport"
	"github.com/charliek/stackscope/internal/wire"
)

// Kind names where a session's records come from
type Kind string

// Session kinds
const (
	KindTransport Kind = "transport"
	KindLogcat    Kind = "logcat"
	KindFile      Kind = "file"
	KindStream    Kind = "stream"
	KindManual    Kind = "manual"
)

// Runner is a line source that blocks until done
type Runner interface {
	Run(ctx context.Context, sink source.Sink) error
}

// Options configures a Session
type Options struct {
	Name   string
	Kind   Kind
	Format stackframe.Format
	// Transport is set for transport sessions
	Transport *transport.Config
	// Source is set for line-based sessions
	Source             Runner
	SubscriptionBuffer int
	Logger             *slog.Logger
}

// Status is a point-in-time view of a session
type Status struct {
	Name        string          `json:"name"`
	Kind        Kind            `json:"kind"`
	Format      string          `json:"format"`
	Records     int             `json:"records"`
	Distinct    int             `json:"distinct"`
	Counts      domain.Counts   `json:"counts"`
	Subscribers int             `json:"subscribers"`
	Transport   *TransportState `json:"transport,omitempty"`
	Dropped     int64           `json:"dropped"`
	Running     bool            `json:"running"`
	LastError   string          `json:"last_error,omitempty"`
}

// TransportState describes a session's wire endpoint
type TransportState struct {
	Mode    string `json:"mode"`
	Address string `json:"address"`
	State   string `json:"state"`
	Peer    string `json:"peer,omitempty"`
}

// Session is one named ingestion context with its own store
type Session struct {
	name    string
	kind    Kind
	store   *logs.Store
	channel *transport.Channel
	source  Runner
	logger  *slog.Logger

	dropped atomic.Int64
	running atomic.Bool
	started atomic.Bool

	mu      sync.Mutex
	peer    string
	lastErr error
	bindErr error
}

// New creates a session. Nothing runs until Run.
func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session", opts.Name)

	s := &Session{
		name:   opts.Name,
		kind:   opts.Kind,
		source: opts.Source,
		logger: logger,
		store: logs.NewStore(logs.Config{
			Format:             opts.Format,
			SubscriptionBuffer: opts.SubscriptionBuffer,
			Logger:             logger,
		}),
	}

	if opts.Transport != nil {
		cfg := *opts.Transport
		cfg.Logger = logger
		cfg.OnRecord = s.receive
		cfg.OnConnect = s.connected
		cfg.OnDisconnect = s.disconnected
		s.channel = transport.New(cfg)
	}

	return s
}

// Name returns the session name
func (s *Session) Name() string {
	return s.name
}

// Kind returns the session kind
func (s *Session) Kind() Kind {
	return s.kind
}

// Store returns the session's log store
func (s *Session) Store() *logs.Store {
	return s.store
}

// Channel returns the session's transport, or nil
func (s *Session) Channel() *transport.Channel {
	return s.channel
}

// Ingest adds an assembled entry to the store
func (s *Session) Ingest(e assembler.Entry) {
	if _, err := s.store.Add(e.Message, e.Stack, e.Severity); err != nil {
		s.dropped.Add(1)
		s.logger.Debug("entry dropped", "error", err)
	}
}

func (s *Session) receive(r wire.Record) {
	if _, err := s.store.Add(r.Message, r.Stack, r.Severity()); err != nil {
		s.dropped.Add(1)
		s.logger.Debug("wire record dropped", "type", int32(r.Type), "error", err)
	}
}

func (s *Session) connected(remote string) {
	s.mu.Lock()
	s.peer = remote
	s.mu.Unlock()
}

func (s *Session) disconnected(_ string, err error) {
	s.mu.Lock()
	s.peer = ""
	if err != nil {
		s.lastErr = err
	}
	s.mu.Unlock()
}

// Send encodes a record and sends it to the transport peer
func (s *Session) Send(message, stack string, severity domain.Severity) error {
	if s.channel == nil {
		return fmt.Errorf("session %s: %w", s.name, domain.ErrNoTransport)
	}
	return s.channel.Send(wire.NewRecord(message, stack, severity))
}

// Start binds the session's transport, so a server listener is resolved and
// bind errors surface before Run. Later calls return the first result.
// Sessions without a transport start in Run.
func (s *Session) Start(ctx context.Context) error {
	if s.channel == nil {
		return nil
	}
	if !s.started.CompareAndSwap(false, true) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.bindErr
	}

	if err := s.channel.Start(ctx); err != nil {
		err = fmt.Errorf("session %s: %w", s.name, err)
		s.mu.Lock()
		s.lastErr = err
		s.bindErr = err
		s.mu.Unlock()
		return err
	}
	return nil
}

// Run ingests until ctx is done or the source ends. A line source that
// finishes on its own (a file read once) leaves the store populated.
func (s *Session) Run(ctx context.Context) error {
	s.running.Store(true)
	defer s.running.Store(false)

	switch {
	case s.channel != nil:
		if err := s.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return s.channel.Close()

	case s.source != nil:
		s.logger.Info("session source started", "kind", string(s.kind))
		err := s.source.Run(ctx, s.Ingest)
		if err != nil && ctx.Err() == nil {
			s.setErr(err)
			s.logger.Warn("session source ended", "error", err)
			return fmt.Errorf("session %s: %w", s.name, err)
		}
		return nil

	default:
		<-ctx.Done()
		return nil
	}
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// Status returns a snapshot of the session
func (s *Session) Status() Status {
	st := Status{
		Name:        s.name,
		Kind:        s.kind,
		Format:      s.store.Format().String(),
		Records:     s.store.Len(),
		Distinct:    s.store.CollapsedLen(),
		Counts:      s.store.Counts(),
		Subscribers: s.store.SubscriberCount(),
		Dropped:     s.dropped.Load(),
		Running:     s.running.Load(),
	}

	s.mu.Lock()
	peer := s.peer
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	s.mu.Unlock()

	if s.channel != nil {
		st.Transport = &TransportState{
			Mode:    s.channel.Mode().String(),
			Address: s.channel.Addr(),
			State:   s.channel.State().String(),
			Peer:    peer,
		}
	}
	return st
}

// Close stops the transport and ends all subscriptions
func (s *Session) Close() error {
	var err error
	if s.channel != nil {
		err = s.channel.Close()
	}
	s.store.Close()
	return err
}
