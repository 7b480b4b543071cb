// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"
)

// Record is one line received from an agent.
type Record struct {
	Conn   int // 1-based index of the connection it arrived on
	Raw    string
	Fields map[string]any
}

// Type returns the record's "type" field, empty for the handshake.
func (r Record) Type() string {
	t, _ := r.Fields["type"].(string)
	return t
}

// FakeController is a TCP controller speaking newline-delimited JSON. It
// records everything agents send and lets tests push lines to the most
// recent connection.
type FakeController struct {
	ln      net.Listener
	records chan Record

	mu    sync.Mutex
	conns []net.Conn
	wg    sync.WaitGroup
}

// NewFakeController listens on a free loopback port.
func NewFakeController() (*FakeController, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	c := &FakeController{ln: ln, records: make(chan Record, 256)}
	c.wg.Add(1)
	go c.accept()
	return c, nil
}

// Host returns the listen address host.
func (c *FakeController) Host() string {
	return c.ln.Addr().(*net.TCPAddr).IP.String()
}

// Port returns the listen port.
func (c *FakeController) Port() int {
	return c.ln.Addr().(*net.TCPAddr).Port
}

// Connections returns how many agents have connected so far.
func (c *FakeController) Connections() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

// Next returns the next received record, waiting up to timeout.
func (c *FakeController) Next(timeout time.Duration) (Record, error) {
	select {
	case r := <-c.records:
		return r, nil
	case <-time.After(timeout):
		return Record{}, errors.New("no record received")
	}
}

// NextOfType skips records until one of the given type arrives.
func (c *FakeController) NextOfType(typ string, timeout time.Duration) (Record, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Record{}, errors.New("no " + typ + " record received")
		}
		r, err := c.Next(remaining)
		if err != nil {
			return Record{}, errors.New("no " + typ + " record received")
		}
		if r.Type() == typ {
			return r, nil
		}
	}
}

// Send writes line plus a newline to the latest connection.
func (c *FakeController) Send(line string) error {
	c.mu.Lock()
	var conn net.Conn
	if len(c.conns) > 0 {
		conn = c.conns[len(c.conns)-1]
	}
	c.mu.Unlock()

	if conn == nil {
		return errors.New("no agent connected")
	}
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err := conn.Write([]byte(line + "\n"))
	return err
}

// DropAll closes every agent connection; the listener stays up.
func (c *FakeController) DropAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, conn := range c.conns {
		_ = conn.Close()
	}
}

// Close stops listening and drops every connection.
func (c *FakeController) Close() error {
	err := c.ln.Close()
	c.DropAll()
	c.wg.Wait()
	return err
}

func (c *FakeController) accept() {
	defer c.wg.Done()
	for {
		conn, err := c.ln.Accept()
		if err != nil {
			return
		}

		c.mu.Lock()
		c.conns = append(c.conns, conn)
		index := len(c.conns)
		c.mu.Unlock()

		c.wg.Add(1)
		go c.read(conn, index)
	}
}

func (c *FakeController) read(conn net.Conn, index int) {
	defer c.wg.Done()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		fields := make(map[string]any)
		if err := json.Unmarshal([]byte(line), &fields); err != nil {
			continue
		}
		select {
		case c.records <- Record{Conn: index, Raw: line, Fields: fields}:
		default:
		}
	}
}
