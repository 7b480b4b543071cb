package connection

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/kiosk/internal/clock"
	"github.com/eliteGoblin/focusd/kiosk/internal/protocol"
)

var (
	// ErrClosed is the disconnect cause of a Conn closed by the agent.
	ErrClosed = errors.New("connection closed")

	// ErrQueueFull is returned by Send when the writer is not keeping up.
	ErrQueueFull = errors.New("send queue full")
)

const sendQueueSize = 64

// Conn is one established controller connection. A reader goroutine hands
// decoded records to inbox and a writer goroutine drains the send queue
// and emits heartbeats. Any I/O failure closes the Conn exactly once.
type Conn struct {
	nc        net.Conn
	localAddr string
	out       chan []byte
	inbox     chan protocol.Message
	done      chan struct{}
	once      sync.Once
	err       error

	heartbeat    time.Duration
	writeTimeout time.Duration
	clientID     func() string
	clock        clock.Clock
	logger       *zap.Logger
}

func newConn(nc net.Conn, localAddr string, cfg Config, clientID func() string, clk clock.Clock, logger *zap.Logger) *Conn {
	return &Conn{
		nc:           nc,
		localAddr:    localAddr,
		out:          make(chan []byte, sendQueueSize),
		inbox:        make(chan protocol.Message),
		done:         make(chan struct{}),
		heartbeat:    cfg.HeartbeatInterval,
		writeTimeout: cfg.writeTimeout(),
		clientID:     clientID,
		clock:        clk,
		logger:       logger.With(zap.String("remote", nc.RemoteAddr().String())),
	}
}

// start launches the reader and writer goroutines.
func (c *Conn) start(ctx context.Context, maxLine int) {
	go c.readLoop(maxLine)
	go c.writeLoop(ctx)
}

// LocalAddr is the address announced in the handshake.
func (c *Conn) LocalAddr() string { return c.localAddr }

// Done is closed once the connection is gone.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns the disconnect cause after Done is closed.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close drops the connection.
func (c *Conn) Close() { c.fail(ErrClosed) }

// Send enqueues an encoded record without blocking.
func (c *Conn) Send(line []byte) error {
	select {
	case <-c.done:
		return c.err
	default:
	}

	select {
	case c.out <- line:
		return nil
	default:
		return ErrQueueFull
	}
}

// fail records the first disconnect cause and tears the socket down. Later
// calls are no-ops, so a Conn reports its disconnect once.
func (c *Conn) fail(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
		_ = c.nc.Close()
	})
}

// readLoop stops handing out records as soon as the Conn has failed, even
// when more lines are still buffered.
func (c *Conn) readLoop(maxLine int) {
	reader := protocol.NewReader(c.nc, maxLine)
	for {
		msg, err := reader.Next()
		if err != nil {
			var decodeErr *protocol.DecodeError
			if errors.As(err, &decodeErr) {
				c.logger.Warn("discarding malformed record",
					zap.String("record", decodeErr.Record),
					zap.Error(decodeErr.Err))
				continue
			}
			c.fail(err)
			return
		}

		if _, ok := msg.(protocol.Heartbeat); ok {
			c.logger.Debug("heartbeat received")
		}

		select {
		case c.inbox <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) writeLoop(ctx context.Context) {
	var beats <-chan time.Time
	if c.heartbeat > 0 {
		ticker := c.clock.NewTicker(c.heartbeat)
		defer ticker.Stop()
		beats = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			c.fail(ctx.Err())
			return

		case <-c.done:
			return

		case line := <-c.out:
			if err := c.write(line); err != nil {
				c.fail(err)
				return
			}

		case <-beats:
			line, err := protocol.Encode(protocol.Heartbeat{Header: protocol.NewHeader(c.clientID(), c.clock.Now())})
			if err != nil {
				c.logger.Error("failed to encode heartbeat", zap.Error(err))
				continue
			}
			if err := c.write(line); err != nil {
				c.fail(err)
				return
			}
		}
	}
}

// write is bounded by the write timeout; the deadline is wall-clock time
// because the socket enforces it.
func (c *Conn) write(line []byte) error {
	if err := c.nc.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	_, err := c.nc.Write(line)
	return err
}
