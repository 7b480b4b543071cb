// Package connection maintains the agent's link to the controller: dialing
// with bounded retries, the handshake, heartbeats and reconnect after a drop.
package connection

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/kiosk/internal/clock"
	"github.com/eliteGoblin/focusd/kiosk/internal/domain"
	"github.com/eliteGoblin/focusd/kiosk/internal/protocol"
)

var (
	// ErrFatalConnectivity is returned when the attempt ceiling is reached.
	ErrFatalConnectivity = errors.New("unable to reach controller")

	// ErrNotConnected is returned by Send while no connection is up.
	ErrNotConnected = errors.New("not connected")

	errReconnectRequested = errors.New("reconnect requested")
)

// Config holds connection manager configuration.
type Config struct {
	Host              string
	Port              int
	ReconnectAttempts int           // Attempts per cycle; <= 0 retries forever
	ReconnectDelay    time.Duration // Pause between attempts
	DialTimeout       time.Duration // Bound on a single dial
	HeartbeatInterval time.Duration // 0 disables heartbeats
	WriteTimeout      time.Duration // Defaults to HeartbeatInterval
	DebounceDelay     time.Duration // Pause before a new cycle after a drop
	MaxLineSize       int
}

// DefaultConfig returns the defaults of the plain controller protocol.
func DefaultConfig() Config {
	return Config{
		Port:              5000,
		ReconnectAttempts: 5,
		ReconnectDelay:    2 * time.Second,
		DialTimeout:       5 * time.Second,
		HeartbeatInterval: 5 * time.Second,
		DebounceDelay:     time.Second,
		MaxLineSize:       protocol.DefaultMaxLineSize,
	}
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) writeTimeout() time.Duration {
	switch {
	case c.WriteTimeout > 0:
		return c.WriteTimeout
	case c.HeartbeatInterval > 0:
		return c.HeartbeatInterval
	default:
		return 5 * time.Second
	}
}

// Dialer opens network connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Handshaker produces the encoded records sent right after connecting.
// The first record must announce localAddr.
type Handshaker interface {
	HandshakeRecords(localAddr string) ([][]byte, error)
}

// AddressHandshake sends only the {"client_ip": ...} record.
type AddressHandshake struct{}

func (AddressHandshake) HandshakeRecords(localAddr string) ([][]byte, error) {
	line, err := protocol.EncodeHandshake(protocol.Handshake{ClientIP: localAddr})
	if err != nil {
		return nil, err
	}
	return [][]byte{line}, nil
}

// Event is delivered to the agent by Run.
type Event interface{ isEvent() }

// StatusEvent reports a change of the connection status.
type StatusEvent struct {
	Connection domain.Connection
}

// MessageEvent carries a decoded controller message.
type MessageEvent struct {
	Message protocol.Message
}

func (StatusEvent) isEvent()  {}
func (MessageEvent) isEvent() {}

// Manager owns the controller connection. Only Run dials; Send and
// Reconnect are safe to call from any goroutine.
type Manager struct {
	cfg        Config
	dialer     Dialer
	handshaker Handshaker
	clock      clock.Clock
	logger     *zap.Logger

	mu       sync.Mutex
	conn     *Conn
	status   domain.Connection
	events   chan<- Event
	clientID string

	reconnect chan struct{}
}

// NewManager creates a new connection manager.
func NewManager(cfg Config, dialer Dialer, handshaker Handshaker, clk clock.Clock, logger *zap.Logger) *Manager {
	if handshaker == nil {
		handshaker = AddressHandshake{}
	}
	return &Manager{
		cfg:        cfg,
		dialer:     dialer,
		handshaker: handshaker,
		clock:      clk,
		logger:     logger,
		status:     domain.Connection{Status: domain.StatusDisconnected},
		reconnect:  make(chan struct{}, 1),
	}
}

// Status returns the current connection status.
func (m *Manager) Status() domain.Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// SetClientID sets the client id stamped on outgoing heartbeats.
func (m *Manager) SetClientID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clientID = id
}

func (m *Manager) currentClientID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clientID
}

// Send encodes msg and hands it to the current connection's writer.
// It never blocks; the result only says whether the record was queued.
func (m *Manager) Send(msg protocol.Message) error {
	line, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", msg.Kind(), err)
	}

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		m.logger.Debug("dropping message while disconnected", zap.String("kind", string(msg.Kind())))
		return ErrNotConnected
	}
	if err := conn.Send(line); err != nil {
		m.logger.Warn("failed to queue message",
			zap.String("kind", string(msg.Kind())),
			zap.Error(err))
		return err
	}
	return nil
}

// Reconnect asks Run to drop the current connection and start a new cycle.
// Requests made while one is pending are coalesced.
func (m *Manager) Reconnect() {
	select {
	case m.reconnect <- struct{}{}:
	default:
	}
}

// Run connects, then keeps reconnecting after every drop until ctx is
// canceled or a cycle exhausts its attempts (ErrFatalConnectivity).
// Status changes and decoded messages are sent on events.
func (m *Manager) Run(ctx context.Context, events chan<- Event) error {
	m.mu.Lock()
	m.events = events
	m.mu.Unlock()

	for {
		// A request made before this cycle began is stale.
		select {
		case <-m.reconnect:
		default:
		}

		conn, err := m.Connect(ctx)
		if err != nil {
			return err
		}

		cause := m.serve(ctx, conn)
		switch {
		case ctx.Err() != nil:
			conn.Close()
			m.disconnected(ctx, conn)
			return ctx.Err()

		case errors.Is(cause, errReconnectRequested):
			m.logger.Info("dropping controller connection for reconnect")
			conn.fail(errReconnectRequested)

		default:
			m.logger.Warn("controller connection lost", zap.Error(cause))
		}

		m.disconnected(ctx, conn)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.clock.After(m.cfg.DebounceDelay):
		}
	}
}

// serve forwards conn's messages to the agent until the connection drops,
// a reconnect is requested or ctx ends. Those are checked before every
// message, so nothing read on a superseded connection is delivered.
func (m *Manager) serve(ctx context.Context, conn *Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-conn.Done():
			return conn.Err()
		case <-m.reconnect:
			return errReconnectRequested
		default:
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-conn.Done():
			return conn.Err()
		case <-m.reconnect:
			return errReconnectRequested
		case msg := <-conn.inbox:
			if !m.deliver(ctx, MessageEvent{Message: msg}) {
				return ctx.Err()
			}
		}
	}
}

// Connect runs one connection cycle: up to ReconnectAttempts dials spaced
// by ReconnectDelay, then the handshake. The returned Conn is live.
func (m *Manager) Connect(ctx context.Context) (*Conn, error) {
	addr := m.cfg.Address()
	var lastErr error

	for attempt := 1; m.cfg.ReconnectAttempts <= 0 || attempt <= m.cfg.ReconnectAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-m.clock.After(m.cfg.ReconnectDelay):
			}
		}

		m.setStatus(ctx, domain.Connection{
			Status:       domain.StatusConnecting,
			AttemptCount: attempt,
			LastError:    errString(lastErr),
		})

		conn, err := m.dial(ctx, addr)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			m.logger.Warn("connection attempt failed",
				zap.String("address", addr),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()

		m.logger.Info("connected to controller",
			zap.String("address", addr),
			zap.String("local_addr", conn.LocalAddr()),
			zap.Int("attempt", attempt))

		m.setStatus(ctx, domain.Connection{
			Status:       domain.StatusConnected,
			AttemptCount: attempt,
			LocalAddr:    conn.LocalAddr(),
		})

		conn.start(ctx, m.cfg.MaxLineSize)
		return conn, nil
	}

	m.setStatus(ctx, domain.Connection{
		Status:       domain.StatusDisconnected,
		AttemptCount: m.cfg.ReconnectAttempts,
		LastError:    errString(lastErr),
	})
	return nil, fmt.Errorf("%w at %s after %d attempts: %w", ErrFatalConnectivity, addr, m.cfg.ReconnectAttempts, lastErr)
}

// dial opens the socket and sends the handshake records.
func (m *Manager) dial(ctx context.Context, addr string) (*Conn, error) {
	dialCtx := ctx
	if m.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, m.cfg.DialTimeout)
		defer cancel()
	}

	nc, err := m.dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	local := localIP(nc)
	records, err := m.handshaker.HandshakeRecords(local)
	if err != nil {
		_ = nc.Close()
		return nil, fmt.Errorf("failed to build handshake: %w", err)
	}

	conn := newConn(nc, local, m.cfg, m.currentClientID, m.clock, m.logger)
	for _, rec := range records {
		if err := conn.write(rec); err != nil {
			_ = nc.Close()
			return nil, fmt.Errorf("failed to send handshake: %w", err)
		}
	}
	return conn, nil
}

func (m *Manager) disconnected(ctx context.Context, conn *Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()

	m.setStatus(ctx, domain.Connection{
		Status:    domain.StatusDisconnected,
		LastError: errString(conn.Err()),
	})
}

func (m *Manager) setStatus(ctx context.Context, status domain.Connection) {
	m.mu.Lock()
	m.status = status
	m.mu.Unlock()

	m.deliver(ctx, StatusEvent{Connection: status})
}

// deliver blocks until the agent takes the event or ctx ends.
func (m *Manager) deliver(ctx context.Context, ev Event) bool {
	m.mu.Lock()
	events := m.events
	m.mu.Unlock()

	if events == nil {
		return true
	}
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// localIP returns the address of the local end of the connection, which is
// the interface address the controller sees.
func localIP(nc net.Conn) string {
	addr := nc.LocalAddr().String()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
