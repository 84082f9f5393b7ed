// Package testclient is a minimal UDP counterpart to internal/transport,
// adapted from networking/client/client.go's connect/send/receive loop.
// It exists to drive internal/transport and cmd/zoneserver from
// integration tests as a real peer talking the wire protocol, not as a
// production game client — prediction, reconciliation, and room
// matchmaking (the teacher's actual client concerns) are out of scope
// here and are not reproduced.
package testclient

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Core packet subtypes, mirrored from internal/transport/wire.go since
// a client has no business importing a server-internal package.
const (
	coreMarker    byte = 0x00
	subReliable   byte = 0x03
	subAck        byte = 0x04
	subDisconnect byte = 0x07
)

// Client is a single UDP peer connection to a zone server, used by
// tests to exercise reliable delivery, acking, and disconnect without
// standing up a full game client.
type Client struct {
	conn *net.UDPConn

	mu      sync.Mutex
	s2cn    uint32 // next sequence number this client assigns outbound
	pending map[uint32]chan struct{}

	recvMu   sync.Mutex
	received [][]byte

	stopOnce sync.Once
	stop     chan struct{}

	stats Stats
}

// Stats counts traffic for test assertions.
type Stats struct {
	Sent     uint64
	Recv     uint64
	Acks     uint64
	Reliable uint64
}

// Dial opens a UDP socket to addr and starts the receive loop.
func Dial(addr *net.UDPAddr) (*Client, error) {
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("testclient: dial %s: %w", addr, err)
	}
	c := &Client{
		conn:    conn,
		pending: make(map[uint32]chan struct{}),
		stop:    make(chan struct{}),
	}
	go c.receiveLoop()
	return c, nil
}

// Close stops the receive loop and releases the socket.
func (c *Client) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.conn.Close()
}

// SendUnreliable writes an application packet with no core framing, the
// same shape HandleDatagram treats as a direct application dispatch.
func (c *Client) SendUnreliable(appData []byte) error {
	_, err := c.conn.Write(appData)
	if err == nil {
		atomic.AddUint64(&c.stats.Sent, 1)
	}
	return err
}

// SendReliable wraps appData in a 0x03 reliable envelope and blocks
// until the server's ack arrives or timeout elapses.
func (c *Client) SendReliable(appData []byte, timeout time.Duration) error {
	c.mu.Lock()
	seq := c.s2cn
	c.s2cn++
	acked := make(chan struct{})
	c.pending[seq] = acked
	c.mu.Unlock()

	wire := make([]byte, 2+4+len(appData))
	wire[0] = coreMarker
	wire[1] = subReliable
	binary.LittleEndian.PutUint32(wire[2:6], seq)
	copy(wire[6:], appData)

	if _, err := c.conn.Write(wire); err != nil {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
		return err
	}
	atomic.AddUint64(&c.stats.Sent, 1)

	select {
	case <-acked:
		return nil
	case <-time.After(timeout):
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
		return fmt.Errorf("testclient: reliable seq %d not acked within %s", seq, timeout)
	}
}

// Disconnect sends the core disconnect notification so the server tears
// the peer down immediately rather than waiting out its drop timeout.
func (c *Client) Disconnect() error {
	_, err := c.conn.Write([]byte{coreMarker, subDisconnect})
	return err
}

// Recv returns application packets the server has delivered so far,
// oldest first, draining the buffer.
func (c *Client) Recv() [][]byte {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	out := c.received
	c.received = nil
	return out
}

// Stats reports a snapshot of traffic counters.
func (c *Client) Stats() Stats {
	return Stats{
		Sent:     atomic.LoadUint64(&c.stats.Sent),
		Recv:     atomic.LoadUint64(&c.stats.Recv),
		Acks:     atomic.LoadUint64(&c.stats.Acks),
		Reliable: atomic.LoadUint64(&c.stats.Reliable),
	}
}

func (c *Client) receiveLoop() {
	buf := make([]byte, 2048)
	for {
		select {
		case <-c.stop:
			return
		default:
		}
		c.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, err := c.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		c.handleDatagram(append([]byte(nil), buf[:n]...))
	}
}

func (c *Client) handleDatagram(data []byte) {
	atomic.AddUint64(&c.stats.Recv, 1)
	if len(data) == 0 {
		return
	}
	if data[0] != coreMarker {
		c.recvMu.Lock()
		c.received = append(c.received, data)
		c.recvMu.Unlock()
		return
	}
	if len(data) < 2 {
		return
	}
	switch data[1] {
	case subAck:
		if len(data) < 6 {
			return
		}
		seq := binary.LittleEndian.Uint32(data[2:6])
		atomic.AddUint64(&c.stats.Acks, 1)
		c.mu.Lock()
		if acked, ok := c.pending[seq]; ok {
			delete(c.pending, seq)
			close(acked)
		}
		c.mu.Unlock()
	case subReliable:
		if len(data) < 6 {
			return
		}
		atomic.AddUint64(&c.stats.Reliable, 1)
		inner := append([]byte(nil), data[6:]...)
		// Ack immediately; a real session would also track c2s ordering,
		// but tests only need the round trip, not delivery of server
		// pushes back to the server.
		seq := binary.LittleEndian.Uint32(data[2:6])
		ack := []byte{coreMarker, subAck, 0, 0, 0, 0}
		binary.LittleEndian.PutUint32(ack[2:6], seq)
		c.conn.Write(ack)
		c.recvMu.Lock()
		c.received = append(c.received, inner)
		c.recvMu.Unlock()
	}
}
