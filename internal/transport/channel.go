// Package transport carries wire-encoded log records over TCP.
//
// A Channel runs in client mode (dial out, reconnect on loss) or server mode
// (listen, serve one peer at a time, re-accept on loss). Receiving happens on
// a single worker goroutine; decoded records are handed to the OnRecord
// callback on that goroutine, in per-connection FIFO order.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/charliek/stackscope/internal/constants"
	"github.com/charliek/stackscope/internal/domain"
	"github.com/charliek/stackscope/internal/wire"
)

var errUnstablePeer = errors.New("peer keeps closing the connection")

// Mode selects the direction the channel connects in
type Mode int

// Channel modes
const (
	ModeServer Mode = iota
	ModeClient
)

func (m Mode) String() string {
	if m == ModeClient {
		return "client"
	}
	return "server"
}

// ParseMode parses "client" or "server"; empty defaults to server
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "server", "listen":
		return ModeServer, nil
	case "client", "connect":
		return ModeClient, nil
	default:
		return ModeServer, fmt.Errorf("unknown transport mode %q", s)
	}
}

// State is the connection state of a channel
type State int

// Channel states
const (
	StateDisconnected State = iota
	StateConnecting
	StateListening
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "disconnected"
	}
}

// BackoffConfig bounds the delay between reconnect or re-accept attempts
type BackoffConfig struct {
	Initial time.Duration
	Max     time.Duration
	// MaxRetries stops the worker after this many consecutive failures.
	// Zero retries forever.
	MaxRetries int
}

func (b BackoffConfig) policy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.Initial
	if eb.InitialInterval <= 0 {
		eb.InitialInterval = constants.DefaultBackoffInitial
	}
	eb.MaxInterval = b.Max
	if eb.MaxInterval <= 0 {
		eb.MaxInterval = constants.DefaultBackoffMax
	}
	eb.MaxElapsedTime = 0
	eb.Reset()

	var policy backoff.BackOff = eb
	if b.MaxRetries > 0 {
		policy = backoff.WithMaxRetries(policy, uint64(b.MaxRetries))
	}
	return backoff.WithContext(policy, ctx)
}

// Config configures a Channel
type Config struct {
	Mode    Mode
	Address string
	Backoff BackoffConfig
	// DialTimeout bounds one client connection attempt
	DialTimeout time.Duration

	// OnRecord receives every decoded record
	OnRecord func(wire.Record)
	// OnConnect is called when a peer session starts
	OnConnect func(remote string)
	// OnDisconnect is called when a peer session ends. err is nil on a clean close.
	OnDisconnect func(remote string, err error)

	Logger *slog.Logger
}

// Channel is a TCP record transport
type Channel struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	conn     net.Conn
	listener net.Listener
	started  bool
	cancel   context.CancelFunc

	writeMu   sync.Mutex
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a channel. Nothing happens on the network until Start.
func New(cfg Config) *Channel {
	if cfg.Address == "" {
		cfg.Address = constants.DefaultTransportAddress
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = constants.DefaultDialTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		cfg:    cfg,
		logger: logger.With("transport", cfg.Mode.String(), "address", cfg.Address),
	}
}

// NewServer creates a listening channel
func NewServer(cfg Config) *Channel {
	cfg.Mode = ModeServer
	return New(cfg)
}

// NewClient creates a dialing channel
func NewClient(cfg Config) *Channel {
	cfg.Mode = ModeClient
	return New(cfg)
}

// Start launches the worker goroutine. In server mode the listener is bound
// before Start returns, so bind errors are reported here. The worker stops
// when ctx is cancelled or Close is called.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return fmt.Errorf("start transport: channel closed")
	}
	if c.started {
		return fmt.Errorf("start transport: already started")
	}

	ctx, cancel := context.WithCancel(ctx)

	if c.cfg.Mode == ModeServer {
		var lc net.ListenConfig
		ln, err := lc.Listen(ctx, "tcp", c.cfg.Address)
		if err != nil {
			cancel()
			return fmt.Errorf("listen on %s: %w", c.cfg.Address, err)
		}
		c.listener = ln
		c.state = StateListening
		c.logger.Info("transport listening", "bound", ln.Addr().String())
	}

	c.started = true
	c.cancel = cancel

	// unblock Accept and Read when the parent context ends
	stop := context.AfterFunc(ctx, c.interrupt)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer stop()
		if c.cfg.Mode == ModeServer {
			c.acceptLoop(ctx)
		} else {
			c.dialLoop(ctx)
		}
	}()

	return nil
}

func (c *Channel) acceptLoop(ctx context.Context) {
	policy := c.cfg.Backoff.policy(ctx)

	for {
		conn, err := c.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("accept failed", "error", err)
			if !c.wait(ctx, policy) {
				if ctx.Err() == nil {
					c.giveUp(err)
				}
				return
			}
			continue
		}

		healthy := c.session(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		c.setState(StateListening)
		if !c.settle(ctx, policy, healthy) {
			return
		}
	}
}

func (c *Channel) dialLoop(ctx context.Context) {
	policy := c.cfg.Backoff.policy(ctx)
	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}

	for {
		c.setState(StateConnecting)
		conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Address)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Debug("connect failed", "error", err)
			c.setState(StateReconnecting)
			if !c.wait(ctx, policy) {
				if ctx.Err() == nil {
					c.giveUp(err)
				}
				return
			}
			continue
		}

		healthy := c.session(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		c.setState(StateReconnecting)
		if !c.settle(ctx, policy, healthy) {
			return
		}
	}
}

// wait sleeps for the next backoff interval. Returns false when retries are
// exhausted or ctx is done.
func (c *Channel) wait(ctx context.Context, policy backoff.BackOff) bool {
	d := policy.NextBackOff()
	if d == backoff.Stop {
		return false
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// settle runs after a peer session ends. A healthy session resets the
// backoff; a peer that drops straight away is treated as a failed attempt.
func (c *Channel) settle(ctx context.Context, policy backoff.BackOff, healthy bool) bool {
	if healthy {
		policy.Reset()
		return true
	}
	if c.wait(ctx, policy) {
		return true
	}
	if ctx.Err() == nil {
		c.giveUp(errUnstablePeer)
	}
	return false
}

func (c *Channel) giveUp(err error) {
	c.logger.Error("transport giving up", "error", err)
	c.setState(StateDisconnected)
	if c.cfg.OnDisconnect != nil {
		c.cfg.OnDisconnect("", err)
	}
}

// session services one peer until it disconnects. It reports whether the
// session delivered a frame or outlived constants.MinHealthySession.
func (c *Channel) session(ctx context.Context, conn net.Conn) bool {
	if !c.attach(ctx, conn) {
		_ = conn.Close()
		return false
	}
	started := time.Now()

	remote := conn.RemoteAddr().String()
	c.logger.Info("peer connected", "remote", remote)
	if c.cfg.OnConnect != nil {
		c.cfg.OnConnect(remote)
	}

	frames, err := c.receive(conn)
	healthy := frames > 0 || time.Since(started) >= constants.MinHealthySession

	c.detach(conn)
	_ = conn.Close()

	if ctx.Err() != nil {
		return healthy
	}
	if err != nil {
		c.logger.Warn("peer disconnected", "remote", remote, "error", err)
	} else {
		c.logger.Info("peer disconnected", "remote", remote)
	}
	if c.cfg.OnDisconnect != nil {
		c.cfg.OnDisconnect(remote, err)
	}
	return healthy
}

func (c *Channel) receive(conn net.Conn) (int, error) {
	reader := bufio.NewReaderSize(conn, wire.FrameSize*4)
	buf := make([]byte, wire.FrameSize)

	frames := 0
	for {
		record, err := wire.ReadFrame(reader, buf)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return frames, nil
			}
			return frames, err
		}
		frames++
		if c.cfg.OnRecord != nil {
			c.cfg.OnRecord(record)
		}
	}
}

func (c *Channel) attach(ctx context.Context, conn net.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil || c.state == StateClosed {
		return false
	}
	c.conn = conn
	c.state = StateConnected
	return true
}

func (c *Channel) detach(conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
	}
	if c.state == StateConnected {
		c.state = StateDisconnected
	}
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateClosed {
		c.state = s
	}
}

// interrupt closes the active peer and then the listener
func (c *Channel) interrupt() {
	c.mu.Lock()
	conn, ln := c.conn, c.listener
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if ln != nil {
		_ = ln.Close()
	}
}

// Send encodes a record and writes it to the connected peer.
// Without a peer the record is dropped and ErrNotConnected is returned.
func (c *Channel) Send(record wire.Record) error {
	return c.SendData(wire.Encode(record))
}

// SendData writes raw bytes to the connected peer
func (c *Channel) SendData(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		c.logger.Warn("send dropped, no peer connected", "bytes", len(data))
		return domain.ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := conn.Write(data); err != nil {
		c.logger.Warn("send failed", "error", err)
		return fmt.Errorf("send to %s: %w", conn.RemoteAddr(), err)
	}
	return nil
}

// State returns the current connection state
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether a peer is attached
func (c *Channel) Connected() bool {
	return c.State() == StateConnected
}

// Mode returns the channel direction
func (c *Channel) Mode() Mode {
	return c.cfg.Mode
}

// Addr returns the bound listen address in server mode after Start,
// and the configured address otherwise
func (c *Channel) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener != nil {
		return c.listener.Addr().String()
	}
	return c.cfg.Address
}

// Close tears the channel down: the peer socket is closed, the worker is
// joined and the listener released. Safe to call more than once.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		cancel := c.cancel
		c.state = StateClosed
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		c.interrupt()
		c.wg.Wait()
		c.logger.Debug("transport closed")
	})
	return nil
}
