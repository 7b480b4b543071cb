package connection

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/kiosk/internal/clock"
	"github.com/eliteGoblin/focusd/kiosk/internal/domain"
	"github.com/eliteGoblin/focusd/kiosk/internal/protocol"
)

// pipeDialer hands out in-memory connections; the server ends are
// published on servers.
type pipeDialer struct {
	mu      sync.Mutex
	dials   int
	fail    error
	servers chan net.Conn
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{servers: make(chan net.Conn, 4)}
}

func (d *pipeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	d.dials++
	fail := d.fail
	d.mu.Unlock()

	if fail != nil {
		return nil, fail
	}
	client, server := net.Pipe()
	d.servers <- server
	return client, nil
}

func (d *pipeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.HeartbeatInterval = 0
	cfg.WriteTimeout = 2 * time.Second
	return cfg
}

func newTestManager(cfg Config, d Dialer) (*Manager, *clock.FakeClock) {
	clk := clock.Fake(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
	return NewManager(cfg, d, nil, clk, zap.NewNop()), clk
}

// peer is the controller side of a pipe.
type peer struct {
	conn net.Conn
	r    *bufio.Reader
}

func acceptPeer(t *testing.T, d *pipeDialer) *peer {
	t.Helper()
	select {
	case c := <-d.servers:
		return &peer{conn: c, r: bufio.NewReader(c)}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

func (p *peer) readRecord(t *testing.T) map[string]any {
	t.Helper()
	require.NoError(t, p.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := p.r.ReadBytes('\n')
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(line, &rec))
	return rec
}

func (p *peer) write(t *testing.T, line string) {
	t.Helper()
	require.NoError(t, p.conn.SetWriteDeadline(time.Now().Add(2*time.Second)))
	_, err := p.conn.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func nextEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func nextStatus(t *testing.T, events <-chan Event) domain.Connection {
	t.Helper()
	for {
		if st, ok := nextEvent(t, events).(StatusEvent); ok {
			return st.Connection
		}
	}
}

func TestConnect_ExhaustsAttemptsWithDelay(t *testing.T) {
	d := newPipeDialer()
	d.fail = errors.New("connection refused")
	m, clk := newTestManager(testConfig(), d)

	errc := make(chan error, 1)
	go func() {
		_, err := m.Connect(context.Background())
		errc <- err
	}()

	for attempt := 1; attempt < 5; attempt++ {
		clk.WaitForTimers(1)
		assert.Equal(t, attempt, d.count())

		clk.Advance(1900 * time.Millisecond)
		assert.Equal(t, 1, clk.Pending(), "next attempt must wait the full delay")
		assert.Equal(t, attempt, d.count())

		clk.Advance(100 * time.Millisecond)
	}

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrFatalConnectivity)
		assert.Contains(t, err.Error(), "connection refused")
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not give up")
	}

	assert.Equal(t, 5, d.count(), "no sixth attempt")
	assert.Equal(t, 0, clk.Pending())
	assert.Equal(t, domain.StatusDisconnected, m.Status().Status)
}

func TestConnect_SendsHandshakeFirst(t *testing.T) {
	d := newPipeDialer()
	m, _ := newTestManager(testConfig(), d)

	connc := make(chan *Conn, 1)
	go func() {
		conn, err := m.Connect(context.Background())
		assert.NoError(t, err)
		connc <- conn
	}()

	p := acceptPeer(t, d)
	rec := p.readRecord(t)

	assert.Equal(t, map[string]any{"client_ip": "pipe"}, rec)

	conn := <-connc
	require.NotNil(t, conn)
	assert.Equal(t, domain.StatusConnected, m.Status().Status)
	conn.Close()
}

func TestConnect_SucceedsOnLaterAttempt(t *testing.T) {
	d := newPipeDialer()
	d.fail = errors.New("connection refused")
	m, clk := newTestManager(testConfig(), d)

	connc := make(chan *Conn, 1)
	go func() {
		conn, _ := m.Connect(context.Background())
		connc <- conn
	}()

	clk.WaitForTimers(1)
	d.mu.Lock()
	d.fail = nil
	d.mu.Unlock()
	clk.Advance(2 * time.Second)

	p := acceptPeer(t, d)
	p.readRecord(t)

	conn := <-connc
	require.NotNil(t, conn)
	assert.Equal(t, 2, m.Status().AttemptCount)
	conn.Close()
}

func TestConnect_CanceledWhileWaiting(t *testing.T) {
	d := newPipeDialer()
	d.fail = errors.New("connection refused")
	m, clk := newTestManager(testConfig(), d)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := m.Connect(ctx)
		errc <- err
	}()

	clk.WaitForTimers(1)
	cancel()

	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.Equal(t, 1, d.count())
}

func TestRun_DeliversMessagesAndSkipsMalformed(t *testing.T) {
	d := newPipeDialer()
	m, _ := newTestManager(testConfig(), d)
	events := make(chan Event, 16)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- m.Run(ctx, events) }()

	assert.Equal(t, domain.StatusConnecting, nextStatus(t, events).Status)
	p := acceptPeer(t, d)
	p.readRecord(t)
	assert.Equal(t, domain.StatusConnected, nextStatus(t, events).Status)

	p.write(t, `not json`)
	p.write(t, `{"type":"session_pause","timestamp":"2024-01-15T10:30:00.000000"}`)

	ev := nextEvent(t, events)
	msgEv, ok := ev.(MessageEvent)
	require.True(t, ok, "got %T", ev)
	assert.IsType(t, protocol.SessionPause{}, msgEv.Message)

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}

func TestRun_ReconnectsAfterPeerClose(t *testing.T) {
	d := newPipeDialer()
	m, clk := newTestManager(testConfig(), d)
	events := make(chan Event, 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx, events) }()

	nextStatus(t, events)
	p := acceptPeer(t, d)
	p.readRecord(t)
	nextStatus(t, events)

	require.NoError(t, p.conn.Close())

	st := nextStatus(t, events)
	assert.Equal(t, domain.StatusDisconnected, st.Status)
	assert.NotEmpty(t, st.LastError)

	clk.WaitForTimers(1)
	clk.Advance(time.Second)

	st = nextStatus(t, events)
	assert.Equal(t, domain.StatusConnecting, st.Status)
	assert.Equal(t, 1, st.AttemptCount)

	p2 := acceptPeer(t, d)
	assert.Contains(t, p2.readRecord(t), "client_ip")
	assert.Equal(t, domain.StatusConnected, nextStatus(t, events).Status)
	assert.Equal(t, 2, d.count())
}

func TestRun_ReconnectDropsConnection(t *testing.T) {
	d := newPipeDialer()
	m, _ := newTestManager(testConfig(), d)
	events := make(chan Event, 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx, events) }()

	nextStatus(t, events)
	p := acceptPeer(t, d)
	p.readRecord(t)
	nextStatus(t, events)

	m.Reconnect()
	m.Reconnect()

	st := nextStatus(t, events)
	assert.Equal(t, domain.StatusDisconnected, st.Status)
	assert.Equal(t, errReconnectRequested.Error(), st.LastError)

	_, err := p.r.ReadByte()
	assert.Error(t, err, "peer sees the drop")
}

func TestRun_FatalAfterCeiling(t *testing.T) {
	d := newPipeDialer()
	d.fail = errors.New("no route to host")
	cfg := testConfig()
	cfg.ReconnectAttempts = 2
	m, clk := newTestManager(cfg, d)
	events := make(chan Event, 16)

	errc := make(chan error, 1)
	go func() { errc <- m.Run(context.Background(), events) }()

	clk.WaitForTimers(1)
	clk.Advance(2 * time.Second)

	assert.ErrorIs(t, <-errc, ErrFatalConnectivity)
	assert.Equal(t, 2, d.count())
}

func TestConn_SendsHeartbeats(t *testing.T) {
	d := newPipeDialer()
	cfg := testConfig()
	cfg.HeartbeatInterval = 5 * time.Second
	m, clk := newTestManager(cfg, d)
	m.SetClientID("kiosk-1")

	connc := make(chan *Conn, 1)
	go func() {
		conn, _ := m.Connect(context.Background())
		connc <- conn
	}()

	p := acceptPeer(t, d)
	p.readRecord(t)
	conn := <-connc
	require.NotNil(t, conn)
	defer conn.Close()

	clk.WaitForTimers(1)
	clk.Advance(5 * time.Second)

	rec := p.readRecord(t)
	assert.Equal(t, "heartbeat", rec["type"])
	assert.Equal(t, "kiosk-1", rec["client_id"])
}

func TestSend_QueuesOnConnection(t *testing.T) {
	d := newPipeDialer()
	m, _ := newTestManager(testConfig(), d)

	assert.ErrorIs(t, m.Send(protocol.Heartbeat{}), ErrNotConnected)

	connc := make(chan *Conn, 1)
	go func() {
		conn, _ := m.Connect(context.Background())
		connc <- conn
	}()
	p := acceptPeer(t, d)
	p.readRecord(t)
	conn := <-connc
	defer conn.Close()

	remaining := 42
	require.NoError(t, m.Send(protocol.ClientStatus{State: domain.StateActive, RemainingTime: &remaining}))

	rec := p.readRecord(t)
	assert.Equal(t, "client_status", rec["type"])
	assert.Equal(t, "active", rec["state"])
	assert.Equal(t, float64(42), rec["remaining_time"])
}

func TestConn_CloseIsReportedOnce(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	c := newConn(client, "pipe", testConfig(), func() string { return "" }, clock.Real(), zap.NewNop())
	c.fail(errors.New("first"))
	c.fail(errors.New("second"))
	c.Close()

	<-c.Done()
	assert.EqualError(t, c.Err(), "first")
	assert.Error(t, c.Send([]byte("x\n")))
}

func TestRun_NothingDeliveredFromDroppedConnection(t *testing.T) {
	d := newPipeDialer()
	m, _ := newTestManager(testConfig(), d)
	events := make(chan Event)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx, events) }()

	nextStatus(t, events)
	p := acceptPeer(t, d)
	p.readRecord(t)
	assert.Equal(t, domain.StatusConnected, nextStatus(t, events).Status)

	// Both records reach the agent's read buffer in one write.
	p.write(t, `{"type":"session_end"}`+"\n"+`{"type":"session_start","duration":600}`)
	m.Reconnect()

	var kinds []protocol.Kind
	for {
		ev := nextEvent(t, events)
		if st, ok := ev.(StatusEvent); ok {
			require.Equal(t, domain.StatusDisconnected, st.Connection.Status)
			break
		}
		kinds = append(kinds, ev.(MessageEvent).Message.Kind())
	}
	assert.NotContains(t, kinds, protocol.KindSessionStart)

	select {
	case ev := <-events:
		t.Fatalf("event after disconnect: %#v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestConn_StalledSendIsAFault(t *testing.T) {
	d := newPipeDialer()
	cfg := testConfig()
	cfg.WriteTimeout = 0
	cfg.HeartbeatInterval = 200 * time.Millisecond
	m, _ := newTestManager(cfg, d)

	connc := make(chan *Conn, 1)
	go func() {
		conn, _ := m.Connect(context.Background())
		connc <- conn
	}()

	p := acceptPeer(t, d)
	p.readRecord(t)
	conn := <-connc
	require.NotNil(t, conn)

	// The peer stops reading, so the write blocks.
	start := time.Now()
	require.NoError(t, m.Send(protocol.ClientStatus{State: domain.StateInactive}))

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("blocked send did not fault the connection")
	}
	assert.ErrorIs(t, conn.Err(), os.ErrDeadlineExceeded)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestRun_HeartbeatFailureReconnects(t *testing.T) {
	d := newPipeDialer()
	cfg := testConfig()
	cfg.HeartbeatInterval = 5 * time.Second
	cfg.WriteTimeout = 200 * time.Millisecond
	m, clk := newTestManager(cfg, d)
	events := make(chan Event, 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx, events) }()

	nextStatus(t, events)
	p := acceptPeer(t, d)
	p.readRecord(t)
	assert.Equal(t, domain.StatusConnected, nextStatus(t, events).Status)

	// The peer never reads the heartbeat.
	clk.WaitForTimers(1)
	clk.Advance(5 * time.Second)

	st := nextStatus(t, events)
	assert.Equal(t, domain.StatusDisconnected, st.Status)
	assert.Contains(t, st.LastError, "timeout")

	// Nothing is dialed until the debounce delay passes.
	assert.Equal(t, 1, d.count())
	require.Eventually(t, func() bool {
		clk.Advance(time.Second)
		select {
		case ev := <-events:
			st, ok := ev.(StatusEvent)
			return ok && st.Connection.Status == domain.StatusConnecting
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	p2 := acceptPeer(t, d)
	assert.Contains(t, p2.readRecord(t), "client_ip")
	assert.Equal(t, 2, d.count())
}
