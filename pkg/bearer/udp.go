package bearer

import (
	"net"
	"slices"
	"sync"
	"time"

	"github.com/pion/logging"
)

// UDP is an IP bearer: every PDU is sent as one datagram, type octet first,
// to each configured peer.
type UDP struct {
	conn    net.PacketConn
	handler Handler
	closeCh chan struct{}
	wg      sync.WaitGroup
	log     logging.LeveledLogger

	mu      sync.RWMutex
	peers   []net.Addr
	started bool
	closed  bool
}

// UDPConfig configures the UDP bearer.
type UDPConfig struct {
	// Conn is an optional pre-existing PacketConn, e.g. one end of a Pipe.
	// If nil, a new connection is created on ListenAddr.
	Conn net.PacketConn

	// ListenAddr is the address to listen on. Ignored if Conn is set.
	ListenAddr string

	// Peers receive every sent PDU.
	Peers []net.Addr

	// Handler is called for each received PDU. It may instead be set with
	// SetHandler before Start.
	Handler Handler

	LoggerFactory logging.LoggerFactory
}

func NewUDP(config UDPConfig) (*UDP, error) {
	u := &UDP{
		conn:    config.Conn,
		handler: config.Handler,
		peers:   slices.Clone(config.Peers),
		closeCh: make(chan struct{}),
	}
	if config.LoggerFactory != nil {
		u.log = config.LoggerFactory.NewLogger("bearer-udp")
	}
	if u.conn == nil {
		addr := config.ListenAddr
		if addr == "" {
			addr = ":0"
		}
		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			return nil, err
		}
		u.conn = conn
	}
	return u, nil
}

// SetHandler replaces the receive callback. It has no effect once the
// bearer is started.
func (u *UDP) SetHandler(h Handler) {
	u.mu.Lock()
	if !u.started {
		u.handler = h
	}
	u.mu.Unlock()
}

// Start begins the read loop.
func (u *UDP) Start() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return ErrClosed
	}
	if u.started {
		u.mu.Unlock()
		return ErrAlreadyStarted
	}
	if u.handler == nil {
		u.mu.Unlock()
		return ErrNoHandler
	}
	u.started = true
	u.mu.Unlock()

	if u.log != nil {
		u.log.Infof("starting UDP bearer on %s", u.conn.LocalAddr())
	}
	u.wg.Add(1)
	go u.readLoop()
	return nil
}

// Close stops the read loop and closes the connection.
func (u *UDP) Close() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil
	}
	u.closed = true
	u.mu.Unlock()

	close(u.closeCh)
	u.conn.SetReadDeadline(time.Now())
	err := u.conn.Close()
	u.wg.Wait()
	return err
}

// AddPeer adds a destination for sent PDUs.
func (u *UDP) AddPeer(addr net.Addr) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, p := range u.peers {
		if p.String() == addr.String() {
			return
		}
	}
	u.peers = append(u.peers, addr)
}

func (u *UDP) Peers() []net.Addr {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return slices.Clone(u.peers)
}

func (u *UDP) LocalAddr() net.Addr { return u.conn.LocalAddr() }

// Send writes the PDU to every peer. The first write error is returned
// after all peers were tried.
func (u *UDP) Send(pdu []byte, t PduType) error {
	u.mu.RLock()
	if u.closed {
		u.mu.RUnlock()
		return ErrClosed
	}
	peers := u.peers
	u.mu.RUnlock()

	frame, err := EncodeFrame(pdu, t)
	if err != nil {
		return err
	}
	var first error
	for _, p := range peers {
		if _, err := u.conn.WriteTo(frame, p); err != nil {
			if u.log != nil {
				u.log.Warnf("send %s to %s failed: %v", t, p, err)
			}
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (u *UDP) readLoop() {
	defer u.wg.Done()
	buf := make([]byte, 1+MaxPDUSize)

	for {
		select {
		case <-u.closeCh:
			return
		default:
		}

		n, addr, err := u.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-u.closeCh:
				return
			default:
				if u.log != nil {
					u.log.Warnf("UDP read error: %v", err)
				}
				continue
			}
		}

		pdu, t, err := DecodeFrame(buf[:n])
		if err != nil {
			if u.log != nil {
				u.log.Debugf("dropping %d byte datagram from %v: %v", n, addr, err)
			}
			continue
		}
		u.handler(slices.Clone(pdu), t)
	}
}

var _ Transmitter = (*UDP)(nil)
