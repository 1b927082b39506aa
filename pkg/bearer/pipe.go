package bearer

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// Condition simulates an unreliable medium on a Pipe.
type Condition struct {
	// DropRate is the probability of dropping a datagram (0.0 - 1.0).
	DropRate float64
	// DuplicateRate is the probability of sending a datagram twice.
	DuplicateRate float64
	// Drop, if set, drops every datagram it returns true for. It sees the
	// framed datagram and the sending endpoint.
	Drop func(frame []byte, from int) bool
}

// Pipe is an in-memory link between two packet endpoints built on pion's
// test.Bridge. Datagrams are delivered by a background ticker.
type Pipe struct {
	bridge *test.Bridge
	conns  [2]*PipeConn

	mu        sync.RWMutex
	condition Condition
	rng       *rand.Rand
	closed    bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewPipe creates a pipe delivering queued datagrams every millisecond.
func NewPipe() *Pipe {
	p := &Pipe{
		bridge: test.NewBridge(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		stopCh: make(chan struct{}),
	}
	p.conns[0] = &PipeConn{conn: p.bridge.GetConn0(), id: 0, pipe: p}
	p.conns[1] = &PipeConn{conn: p.bridge.GetConn1(), id: 1, pipe: p}
	p.wg.Add(1)
	go p.run()
	return p
}

func (p *Pipe) run() {
	defer p.wg.Done()
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.bridge.Tick()
		}
	}
}

// Conn returns endpoint 0 or 1.
func (p *Pipe) Conn(id int) *PipeConn { return p.conns[id] }

// Addr returns the address of endpoint id, used as a UDP bearer peer.
func (p *Pipe) Addr(id int) net.Addr { return PipeAddr(id) }

func (p *Pipe) SetCondition(c Condition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.condition = c
}

func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stopCh)
	p.mu.Unlock()
	p.wg.Wait()

	err := p.conns[0].conn.Close()
	if err1 := p.conns[1].conn.Close(); err == nil {
		err = err1
	}
	return err
}

// PipeAddr addresses a Pipe endpoint.
type PipeAddr int

func (a PipeAddr) Network() string { return "pipe" }
func (a PipeAddr) String() string  { return fmt.Sprintf("pipe:%d", int(a)) }

// PipeConn adapts a Pipe endpoint to net.PacketConn so the UDP bearer can
// run on it. Writes ignore the destination; the pipe has one peer.
type PipeConn struct {
	conn net.Conn
	id   int
	pipe *Pipe
}

func (c *PipeConn) ReadFrom(b []byte) (int, net.Addr, error) {
	n, err := c.conn.Read(b)
	return n, PipeAddr(1 - c.id), err
}

func (c *PipeConn) WriteTo(b []byte, _ net.Addr) (int, error) {
	c.pipe.mu.RLock()
	cond := c.pipe.condition
	rng := c.pipe.rng
	c.pipe.mu.RUnlock()

	if cond.Drop != nil && cond.Drop(b, c.id) {
		return len(b), nil
	}
	if cond.DropRate > 0 && rng.Float64() < cond.DropRate {
		return len(b), nil
	}
	if cond.DuplicateRate > 0 && rng.Float64() < cond.DuplicateRate {
		if _, err := c.conn.Write(b); err != nil {
			return 0, err
		}
	}
	return c.conn.Write(b)
}

func (c *PipeConn) Close() error                       { return c.conn.Close() }
func (c *PipeConn) LocalAddr() net.Addr                { return PipeAddr(c.id) }
func (c *PipeConn) SetDeadline(t time.Time) error      { return c.conn.SetDeadline(t) }
func (c *PipeConn) SetReadDeadline(t time.Time) error  { return c.conn.SetReadDeadline(t) }
func (c *PipeConn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }

var _ net.PacketConn = (*PipeConn)(nil)

// NewUDPPair connects two UDP bearers through p. The bearers are not
// started.
func NewUDPPair(p *Pipe, handlers [2]Handler) ([2]*UDP, error) {
	var out [2]*UDP
	for i := range out {
		u, err := NewUDP(UDPConfig{
			Conn:    p.Conn(i),
			Peers:   []net.Addr{p.Addr(1 - i)},
			Handler: handlers[i],
		})
		if err != nil {
			return out, err
		}
		out[i] = u
	}
	return out, nil
}
