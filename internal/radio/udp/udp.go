// Package udp carries link frames as LAN broadcast datagrams.
//
// Every datagram is the sender's 6-byte link address followed by the frame.
// All frames go to the configured broadcast address; receivers discard their
// own datagrams and, like a radio MAC, frames addressed to somebody else.
package udp

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/nerrad567/guestlink-core/internal/link"
)

// Default endpoints.
const (
	DefaultListen    = ":4210"
	DefaultBroadcast = "255.255.255.255:4210"
)

// maxDatagram is the largest datagram read; anything beyond a frame is
// truncated by the codec anyway.
const maxDatagram = link.AddressSize + link.FrameSize + 64

// Read error backoff bounds. A socket that keeps failing is retried at most
// once per readRetryMax.
const (
	readRetryMin = 10 * time.Millisecond
	readRetryMax = time.Second
)

// Errors returned by the UDP backend.
var (
	ErrClosed    = errors.New("udp: radio closed")
	ErrNoAddress = errors.New("udp: no hardware address found")
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Config holds the UDP backend settings.
type Config struct {
	// Listen is the local bind address. Default: ":4210".
	Listen string

	// Broadcast is the destination of every datagram.
	// Default: "255.255.255.255:4210".
	Broadcast string

	// Address overrides the link address. When zero, the hardware address of
	// the first non-loopback interface is used.
	Address link.Address

	Logger Logger
}

// packetConn is the part of *net.UDPConn the radio uses.
type packetConn interface {
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
	LocalAddr() net.Addr
	Close() error
}

// Radio is a link.Radio over UDP broadcast.
type Radio struct {
	conn      packetConn
	broadcast *net.UDPAddr
	addr      link.Address
	logger    Logger

	mu     sync.Mutex
	cb     link.Callbacks
	peers  map[link.Address]struct{}
	closed bool

	done chan struct{} // closed by Close
	wg   sync.WaitGroup
}

// Open binds the socket and resolves the link address.
//
// Returns:
//   - *Radio: Ready radio (Start must still be called)
//   - error: If the socket cannot be bound or no address is available
func Open(cfg Config) (*Radio, error) {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.Broadcast == "" {
		cfg.Broadcast = DefaultBroadcast
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	addr := cfg.Address
	if addr.IsZero() {
		hw, err := hardwareAddress()
		if err != nil {
			return nil, err
		}
		addr = hw
	}

	laddr, err := net.ResolveUDPAddr("udp4", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("resolving listen address %q: %w", cfg.Listen, err)
	}
	baddr, err := net.ResolveUDPAddr("udp4", cfg.Broadcast)
	if err != nil {
		return nil, fmt.Errorf("resolving broadcast address %q: %w", cfg.Broadcast, err)
	}

	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("binding %s: %w", cfg.Listen, err)
	}

	return newRadio(conn, baddr, addr, logger), nil
}

func newRadio(conn packetConn, broadcast *net.UDPAddr, addr link.Address, logger Logger) *Radio {
	return &Radio{
		conn:      conn,
		broadcast: broadcast,
		addr:      addr,
		logger:    logger,
		peers:     make(map[link.Address]struct{}),
		done:      make(chan struct{}),
	}
}

// hardwareAddress returns the MAC of the first up, non-loopback interface.
func hardwareAddress() (link.Address, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return link.Address{}, fmt.Errorf("listing interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if len(iface.HardwareAddr) != link.AddressSize {
			continue
		}
		var a link.Address
		copy(a[:], iface.HardwareAddr)
		return a, nil
	}
	return link.Address{}, ErrNoAddress
}

// LocalUDPAddr returns the bound socket address.
func (r *Radio) LocalUDPAddr() *net.UDPAddr {
	return r.conn.LocalAddr().(*net.UDPAddr) //nolint:errcheck // ListenUDP always yields *UDPAddr
}

// Ready implements link.Radio. The socket is bound by Open.
func (r *Radio) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed
}

// Start implements link.Radio and launches the read loop.
func (r *Radio) Start(cb link.Callbacks) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.cb = cb
	r.wg.Add(1)
	go r.readLoop(cb)
	return nil
}

// LocalAddress implements link.Radio.
func (r *Radio) LocalAddress() link.Address { return r.addr }

// AddPeer implements link.Radio. Broadcast datagrams need no peer state; the
// table only backs HasPeer.
func (r *Radio) AddPeer(addr link.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[addr] = struct{}{}
	return nil
}

// HasPeer implements link.Radio.
func (r *Radio) HasPeer(addr link.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.peers[addr]
	return ok
}

// Transmit implements link.Radio. Completion is reported as soon as the
// kernel accepts the datagram.
func (r *Radio) Transmit(dst link.Address, frame []byte) error {
	r.mu.Lock()
	closed := r.closed
	cb := r.cb
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}

	buf := make([]byte, 0, link.AddressSize+len(frame))
	buf = append(buf, r.addr[:]...)
	buf = append(buf, frame...)

	if _, err := r.conn.WriteToUDP(buf, r.broadcast); err != nil {
		return fmt.Errorf("writing datagram to %s: %w", r.broadcast, err)
	}

	if cb.SendComplete != nil {
		cb.SendComplete(true)
	}
	return nil
}

// Close stops the read loop and closes the socket.
func (r *Radio) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.done)
	r.mu.Unlock()

	err := r.conn.Close()
	r.wg.Wait()
	return err
}

func (r *Radio) readLoop(cb link.Callbacks) {
	defer r.wg.Done()

	buf := make([]byte, maxDatagram)
	retry := time.Duration(0)
	for {
		n, from, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			retry = min(max(2*retry, readRetryMin), readRetryMax)
			r.logger.Warn("udp read failed", "error", err, "retry_in", retry.String())
			select {
			case <-r.done:
				return
			case <-time.After(retry):
			}
			continue
		}
		retry = 0

		// Without a source address the datagram cannot be attributed.
		if n < link.AddressSize {
			r.logger.Debug("runt datagram ignored", "from", from.String(), "bytes", n)
			continue
		}

		var src link.Address
		copy(src[:], buf[:link.AddressSize])
		if src == r.addr {
			continue
		}

		// Short frames are handed on so the transport counts them as
		// malformed; only frames with a full destination can be filtered.
		frame := buf[link.AddressSize:n]
		if len(frame) >= link.AddressSize {
			var dst link.Address
			copy(dst[:], frame[:link.AddressSize])
			if !dst.IsBroadcast() && dst != r.addr {
				continue
			}
		}

		if cb.Receive != nil {
			cb.Receive(src, frame)
		}
	}
}
