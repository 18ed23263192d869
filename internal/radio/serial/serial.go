// Package serial drives a USB radio dongle over a serial line protocol.
//
// The dongle owns the actual radio; the host exchanges newline-terminated
// ASCII lines with it:
//
//	host   -> dongle:  PEER <mac>            register a send target
//	host   -> dongle:  TX <dst> <frame-hex>  transmit a frame
//	dongle -> host:    READY <mac>           bring-up complete, own address
//	dongle -> host:    ST 1 | ST 0           completion of the last TX
//	dongle -> host:    RX <src> <frame-hex>  frame received
//	dongle -> host:    ERR <text>            dongle-side error
//
// MACs are 12 hex digits without separators.
package serial

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/nerrad567/guestlink-core/internal/link"
)

// Defaults.
const (
	DefaultBaud         = 115200
	DefaultReadyTimeout = 5 * time.Second
)

// Errors returned by the serial backend.
var (
	ErrNotReady = errors.New("serial: dongle did not report READY")
	ErrClosed   = errors.New("serial: port closed")
	ErrProtocol = errors.New("serial: protocol error")
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Config holds the serial backend settings.
type Config struct {
	// Port is the device path, e.g. /dev/ttyUSB0.
	Port string

	// Baud rate. Default: 115200.
	Baud int

	// ReadyTimeout bounds the wait for the dongle's READY line.
	// Default: 5s.
	ReadyTimeout time.Duration

	Logger Logger
}

// Radio is a link.Radio backed by a serial dongle.
type Radio struct {
	port   io.ReadWriteCloser
	logger Logger

	writeMu sync.Mutex

	mu     sync.Mutex
	addr   link.Address
	ready  bool
	closed bool
	cb     link.Callbacks
	peers  map[link.Address]struct{}

	readyCh   chan struct{}
	readyOnce sync.Once
	done      chan struct{}
}

// Open opens the serial port and waits for the dongle to come up.
func Open(cfg Config) (*Radio, error) {
	if cfg.Baud <= 0 {
		cfg.Baud = DefaultBaud
	}
	port, err := serial.OpenPort(&serial.Config{Name: cfg.Port, Baud: cfg.Baud})
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", cfg.Port, err)
	}

	r, err := New(port, cfg)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return r, nil
}

// New runs the line protocol over an already open stream and waits up to
// cfg.ReadyTimeout for READY.
func New(port io.ReadWriteCloser, cfg Config) (*Radio, error) {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	r := &Radio{
		port:    port,
		logger:  logger,
		peers:   make(map[link.Address]struct{}),
		readyCh: make(chan struct{}),
		done:    make(chan struct{}),
	}

	go r.readLoop()

	timer := time.NewTimer(cfg.ReadyTimeout)
	defer timer.Stop()

	select {
	case <-r.readyCh:
		logger.Info("serial dongle ready", "port", cfg.Port, "address", r.LocalAddress().String())
		return r, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w within %v", ErrNotReady, cfg.ReadyTimeout)
	case <-r.done:
		return nil, fmt.Errorf("%w: stream ended during bring-up", ErrNotReady)
	}
}

// Ready implements link.Radio.
func (r *Radio) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready && !r.closed
}

// Start implements link.Radio. Frames received before Start are discarded.
func (r *Radio) Start(cb link.Callbacks) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.cb = cb
	return nil
}

// LocalAddress implements link.Radio.
func (r *Radio) LocalAddress() link.Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addr
}

// AddPeer implements link.Radio.
func (r *Radio) AddPeer(addr link.Address) error {
	if err := r.writeLine("PEER " + formatMAC(addr)); err != nil {
		return err
	}
	r.mu.Lock()
	r.peers[addr] = struct{}{}
	r.mu.Unlock()
	return nil
}

// HasPeer implements link.Radio.
func (r *Radio) HasPeer(addr link.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.peers[addr]
	return ok
}

// Transmit implements link.Radio. The dongle answers with an ST line.
func (r *Radio) Transmit(dst link.Address, frame []byte) error {
	return r.writeLine("TX " + formatMAC(dst) + " " + strings.ToUpper(hex.EncodeToString(frame)))
}

// Close closes the port. The read loop exits once the stream ends.
func (r *Radio) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	return r.port.Close()
}

func (r *Radio) writeLine(line string) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if _, err := io.WriteString(r.port, line+"\n"); err != nil {
		return fmt.Errorf("writing to dongle: %w", err)
	}
	return nil
}

func (r *Radio) readLoop() {
	defer close(r.done)

	reader := bufio.NewReader(r.port)
	frame := make([]byte, link.FrameSize)

	for {
		line, isPrefix, err := reader.ReadLine()
		if err != nil {
			r.mu.Lock()
			closed := r.closed
			r.mu.Unlock()
			if !closed && !errors.Is(err, io.EOF) {
				r.logger.Warn("serial read failed", "error", err)
			}
			return
		}
		if isPrefix {
			r.logger.Warn("serial line too long, discarded", "prefix", string(line))
			for isPrefix && err == nil {
				_, isPrefix, err = reader.ReadLine()
			}
			continue
		}

		trimmed := strings.TrimSpace(string(line))
		if trimmed == "" {
			continue
		}
		if err := r.handleLine(trimmed, frame); err != nil {
			r.logger.Debug("unexpected dongle line", "line", trimmed, "error", err)
		}
	}
}

// handleLine dispatches one dongle line. buf is reused for frame decoding.
func (r *Radio) handleLine(line string, buf []byte) error {
	verb, rest, _ := strings.Cut(line, " ")

	switch verb {
	case "READY":
		addr, err := parseMAC(rest)
		if err != nil {
			return err
		}
		r.mu.Lock()
		r.addr = addr
		r.ready = true
		r.mu.Unlock()
		r.readyOnce.Do(func() { close(r.readyCh) })
		return nil

	case "ST":
		cb := r.callbacks()
		switch rest {
		case "1":
			if cb.SendComplete != nil {
				cb.SendComplete(true)
			}
		case "0":
			if cb.SendComplete != nil {
				cb.SendComplete(false)
			}
		default:
			return fmt.Errorf("%w: bad status %q", ErrProtocol, rest)
		}
		return nil

	case "RX":
		srcHex, frameHex, ok := strings.Cut(rest, " ")
		if !ok {
			return fmt.Errorf("%w: RX without frame", ErrProtocol)
		}
		src, err := parseMAC(srcHex)
		if err != nil {
			return err
		}
		if hex.DecodedLen(len(frameHex)) > len(buf) {
			frameHex = frameHex[:hex.EncodedLen(len(buf))]
		}
		n, err := hex.Decode(buf, []byte(frameHex))
		if err != nil {
			return fmt.Errorf("%w: frame hex: %w", ErrProtocol, err)
		}
		if cb := r.callbacks(); cb.Receive != nil {
			cb.Receive(src, buf[:n])
		}
		return nil

	case "ERR":
		r.logger.Warn("dongle reported error", "message", rest)
		return nil

	default:
		return fmt.Errorf("%w: unknown verb %q", ErrProtocol, verb)
	}
}

func (r *Radio) callbacks() link.Callbacks {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cb
}

func formatMAC(a link.Address) string {
	return strings.ToUpper(hex.EncodeToString(a[:]))
}

func parseMAC(s string) (link.Address, error) {
	var a link.Address
	if len(s) != 2*link.AddressSize {
		return a, fmt.Errorf("%w: %q", link.ErrInvalidAddress, s)
	}
	if _, err := hex.Decode(a[:], []byte(s)); err != nil {
		return a, fmt.Errorf("%w: %q", link.ErrInvalidAddress, s)
	}
	return a, nil
}
