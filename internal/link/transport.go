package link

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Forever disables the timeout on Send and Receive.
const Forever time.Duration = -1

// Transport defaults.
const (
	// DefaultQueueSize is the capacity of the ingress queue.
	DefaultQueueSize = 10

	// defaultDrainTimeout bounds the wait for a late completion left over
	// from a previous send that timed out.
	defaultDrainTimeout = 100 * time.Millisecond
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Transport. Zero values select defaults.
type Options struct {
	// QueueSize is the ingress queue capacity. Default: 10.
	QueueSize int

	// DrainTimeout bounds how long Send waits for a stale completion from a
	// previous timed-out send before transmitting. Default: 100ms.
	DrainTimeout time.Duration

	// Logger receives transport events. Default: no-op.
	Logger Logger
}

// Stats holds operational statistics.
type Stats struct {
	FramesTx        uint64
	FramesRx        uint64
	FramesDropped   uint64 // Dropped because the ingress queue was full
	FramesMalformed uint64 // Shorter than the frame header
	SendTimeouts    uint64
	SendFailures    uint64
	LastActivity    time.Time
	Initialized     bool
}

// active is the single transport whose callbacks the radio reaches.
var active atomic.Pointer[Transport]

// onReceive is the receive trampoline handed to the radio.
func onReceive(src Address, data []byte) {
	if t := active.Load(); t != nil {
		t.handleReceive(src, data)
	}
}

// onSendComplete is the send-completion trampoline handed to the radio.
func onSendComplete(ok bool) {
	if t := active.Load(); t != nil {
		t.handleSendComplete(ok)
	}
}

// Transport turns the radio's fire-and-forget primitive into a synchronous,
// acknowledged Send and a blocking Receive.
//
// Thread Safety:
//   - Send is serialised by an internal mutex; at most one transmission is
//     in flight.
//   - Receive may be called from several goroutines; each package is
//     delivered to exactly one of them.
//   - The radio callbacks never block, allocate or lock.
type Transport struct {
	radio  Radio
	opts   Options
	logger Logger

	initMu      sync.Mutex
	initialized atomic.Bool
	self        Address

	// Peer table
	peers  map[Address]struct{}
	peerMu sync.Mutex

	// Send path: sendMu serialises callers; completion is the binary
	// semaphore raised by the radio. outstanding is true while a completion
	// from a timed-out send may still arrive (guarded by sendMu).
	sendMu      sync.Mutex
	completion  chan bool
	outstanding bool

	// Receive path
	queue chan Package

	// Shutdown
	done      chan struct{}
	closeOnce sync.Once

	// Statistics (atomic, written from the radio context)
	framesTx        atomic.Uint64
	framesRx        atomic.Uint64
	framesDropped   atomic.Uint64
	framesMalformed atomic.Uint64
	sendTimeouts    atomic.Uint64
	sendFailures    atomic.Uint64
	lastActivity    atomic.Int64 // Unix nanoseconds

	// Loss counters already reported in the log
	droppedLogged   atomic.Uint64
	malformedLogged atomic.Uint64
}

// NewTransport creates an uninitialised transport over radio.
func NewTransport(radio Radio, opts Options) *Transport {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaultDrainTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Transport{
		radio:      radio,
		opts:       opts,
		logger:     logger,
		peers:      make(map[Address]struct{}),
		completion: make(chan bool, 1),
		queue:      make(chan Package, opts.QueueSize),
		done:       make(chan struct{}),
	}
}

// Initialize starts the radio primitive and registers this transport as the
// active callback target.
//
// It is idempotent: once the transport is ready, further calls return nil.
// Calling it while the radio is not up is a programming error and panics.
//
// Returns:
//   - error: ErrInstanceActive if another transport is open,
//     ErrRadioStart (unrecoverable) if the primitive refused to start
func (t *Transport) Initialize() error {
	t.initMu.Lock()
	defer t.initMu.Unlock()

	if t.initialized.Load() {
		return nil
	}

	if !t.radio.Ready() {
		panic("link: radio interface is not active; bring-up must complete before Initialize")
	}

	if !active.CompareAndSwap(nil, t) {
		return ErrInstanceActive
	}

	t.self = t.radio.LocalAddress()

	if err := t.radio.Start(Callbacks{Receive: onReceive, SendComplete: onSendComplete}); err != nil {
		active.CompareAndSwap(t, nil)
		return fmt.Errorf("%w: %w", ErrRadioStart, err)
	}

	if err := t.RegisterPeer(Broadcast); err != nil {
		active.CompareAndSwap(t, nil)
		return fmt.Errorf("%w: %w", ErrRadioStart, err)
	}

	t.initialized.Store(true)
	t.lastActivity.Store(time.Now().UnixNano())
	t.logger.Info("link transport initialised", "address", t.self.String(), "queue_size", t.opts.QueueSize)
	return nil
}

// LocalAddress returns this device's own address (zero before Initialize).
func (t *Transport) LocalAddress() Address {
	t.initMu.Lock()
	defer t.initMu.Unlock()
	return t.self
}

// RegisterPeer adds addr as a send target. It is a no-op for known peers.
func (t *Transport) RegisterPeer(addr Address) error {
	t.peerMu.Lock()
	defer t.peerMu.Unlock()

	if _, ok := t.peers[addr]; ok {
		return nil
	}

	if !t.radio.HasPeer(addr) {
		if err := t.radio.AddPeer(addr); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrPeerRegistration, addr, err)
		}
	}

	t.peers[addr] = struct{}{}
	t.logger.Debug("peer registered", "address", addr.String())
	return nil
}

// Send transmits pkg and blocks until the radio reports completion or
// timeout elapses.
//
// Before transmitting, any stale completion left by an earlier timed-out send
// is drained (waiting at most DrainTimeout), so the status observed here
// belongs to this transmission.
//
// Parameters:
//   - pkg: Package to send; its destination is registered as a peer if needed
//   - timeout: Maximum wait for completion, or Forever
//
// Returns:
//   - error: nil on acknowledged delivery, ErrSendTimeout if no completion
//     arrived, ErrSendFailed if the radio reported failure
func (t *Transport) Send(pkg Package, timeout time.Duration) error {
	if !t.initialized.Load() {
		return ErrNotInitialized
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	if t.isClosed() {
		return ErrClosed
	}

	dst := pkg.Destination()
	if err := t.RegisterPeer(dst); err != nil {
		return err
	}

	t.clearCompletion()

	frame := Encode(pkg)
	if err := t.radio.Transmit(dst, frame[:]); err != nil {
		t.sendFailures.Add(1)
		return fmt.Errorf("%w: transmit %s to %s: %w", ErrSendFailed, pkg.Command(), dst, err)
	}
	t.outstanding = true

	return t.awaitCompletion(pkg, timeout)
}

// clearCompletion discards completions that do not belong to the next
// transmission. Must be called with sendMu held.
func (t *Transport) clearCompletion() {
	if t.outstanding {
		timer := time.NewTimer(t.opts.DrainTimeout)
		select {
		case <-t.completion:
		case <-timer.C:
			t.logger.Debug("stale send completion never arrived", "waited", t.opts.DrainTimeout.String())
		}
		timer.Stop()
		t.outstanding = false
	}

	select {
	case <-t.completion:
	default:
	}
}

// awaitCompletion blocks for the completion of the current transmission.
// Must be called with sendMu held.
func (t *Transport) awaitCompletion(pkg Package, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case ok := <-t.completion:
		t.outstanding = false
		t.lastActivity.Store(time.Now().UnixNano())
		if !ok {
			t.sendFailures.Add(1)
			return fmt.Errorf("%w: %s to %s", ErrSendFailed, pkg.Command(), pkg.Destination())
		}
		t.framesTx.Add(1)
		return nil
	case <-expired:
		t.sendTimeouts.Add(1)
		return fmt.Errorf("%w: %s to %s after %v", ErrSendTimeout, pkg.Command(), pkg.Destination(), timeout)
	case <-t.done:
		return ErrClosed
	}
}

// Receive pops the next package from the ingress queue.
//
// Parameters:
//   - timeout: Maximum wait, or Forever
//
// Returns:
//   - Package: The received package
//   - bool: false on timeout or once the transport is closed
func (t *Transport) Receive(timeout time.Duration) (Package, bool) {
	t.reportLosses()

	select {
	case pkg := <-t.queue:
		return pkg, true
	default:
	}
	if timeout == 0 {
		return Package{}, false
	}

	var expired <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case pkg := <-t.queue:
		return pkg, true
	case <-expired:
		return Package{}, false
	case <-t.done:
		return Package{}, false
	}
}

// handleReceive runs in the radio context. It must not block, allocate or
// lock: the frame is decoded on the stack and pushed without waiting.
func (t *Transport) handleReceive(src Address, data []byte) {
	if len(data) < HeaderSize {
		t.framesMalformed.Add(1)
		return
	}

	var f Frame
	n := copy(f[:], data)
	pkg := Decode(f, n, src, t.self)

	select {
	case t.queue <- pkg:
		t.framesRx.Add(1)
		t.lastActivity.Store(time.Now().UnixNano())
	default:
		t.framesDropped.Add(1)
	}
}

// handleSendComplete runs in the radio context and only raises the
// completion semaphore. A completion with nobody waiting for it replaces
// nothing: the slot already holds one.
func (t *Transport) handleSendComplete(ok bool) {
	select {
	case t.completion <- ok:
	default:
	}
}

// reportLosses logs frames dropped or rejected by the radio context since the
// last report. Logging happens here because the callbacks cannot.
func (t *Transport) reportLosses() {
	if dropped := t.framesDropped.Load(); dropped != t.droppedLogged.Load() {
		prev := t.droppedLogged.Swap(dropped)
		if dropped > prev {
			t.logger.Warn("ingress queue full, frames dropped",
				"dropped", dropped-prev,
				"total", dropped,
				"queue_size", t.opts.QueueSize,
			)
		}
	}

	if malformed := t.framesMalformed.Load(); malformed != t.malformedLogged.Load() {
		prev := t.malformedLogged.Swap(malformed)
		if malformed > prev {
			t.logger.Warn("short frames rejected",
				"rejected", malformed-prev,
				"total", malformed,
				"min_length", HeaderSize,
			)
		}
	}
}

// isClosed returns true if the transport has been closed.
func (t *Transport) isClosed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed when the transport is closed.
func (t *Transport) Done() <-chan struct{} { return t.done }

// Close releases the active-instance registration and unblocks pending
// Receive and Send calls. The radio itself is owned by the caller.
// Safe to call multiple times.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		active.CompareAndSwap(t, nil)
		t.logger.Info("link transport closed")
	})
	return nil
}

// Stats returns current operational statistics.
func (t *Transport) Stats() Stats {
	return Stats{
		FramesTx:        t.framesTx.Load(),
		FramesRx:        t.framesRx.Load(),
		FramesDropped:   t.framesDropped.Load(),
		FramesMalformed: t.framesMalformed.Load(),
		SendTimeouts:    t.sendTimeouts.Load(),
		SendFailures:    t.sendFailures.Load(),
		LastActivity:    time.Unix(0, t.lastActivity.Load()),
		Initialized:     t.initialized.Load(),
	}
}
