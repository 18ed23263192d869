package link

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// completionPlan describes how the fake radio answers one Transmit.
type completionPlan struct {
	delay time.Duration
	ok    bool
	never bool
}

// fakeRadio is a controllable Radio for transport tests.
type fakeRadio struct {
	mu       sync.Mutex
	ready    bool
	startErr error
	addErr   error
	addr     Address
	peers    map[Address]bool
	cb       Callbacks
	plans    []completionPlan
	sent     [][]byte
	dsts     []Address
	addCalls int
}

func newFakeRadio() *fakeRadio {
	return &fakeRadio{
		ready: true,
		addr:  testSelf,
		peers: make(map[Address]bool),
	}
}

func (r *fakeRadio) Ready() bool { return r.ready }

func (r *fakeRadio) Start(cb Callbacks) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	r.cb = cb
	return nil
}

func (r *fakeRadio) LocalAddress() Address { return r.addr }

func (r *fakeRadio) AddPeer(addr Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addCalls++
	if r.addErr != nil {
		return r.addErr
	}
	r.peers[addr] = true
	return nil
}

func (r *fakeRadio) HasPeer(addr Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peers[addr]
}

// plan queues the completion behaviour for the next Transmit calls.
func (r *fakeRadio) plan(p ...completionPlan) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans = append(r.plans, p...)
}

func (r *fakeRadio) Transmit(dst Address, frame []byte) error {
	r.mu.Lock()
	sent := make([]byte, len(frame))
	copy(sent, frame)
	r.sent = append(r.sent, sent)
	r.dsts = append(r.dsts, dst)

	p := completionPlan{ok: true}
	if len(r.plans) > 0 {
		p = r.plans[0]
		r.plans = r.plans[1:]
	}
	cb := r.cb
	r.mu.Unlock()

	if p.never {
		return nil
	}
	if p.delay == 0 {
		cb.SendComplete(p.ok)
		return nil
	}
	go func() {
		time.Sleep(p.delay)
		cb.SendComplete(p.ok)
	}()
	return nil
}

func (r *fakeRadio) Close() error { return nil }

// deliver simulates a datagram arriving from src.
func (r *fakeRadio) deliver(src Address, data []byte) {
	r.mu.Lock()
	cb := r.cb
	r.mu.Unlock()
	cb.Receive(src, data)
}

func (r *fakeRadio) transmitted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

// newTestTransport initialises a transport over a fresh fake radio and
// closes it when the test ends. Transports are process-wide singletons, so
// these tests must not run in parallel.
func newTestTransport(t *testing.T, opts Options) (*Transport, *fakeRadio) {
	t.Helper()
	radio := newFakeRadio()
	tr := NewTransport(radio, opts)
	if err := tr.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr, radio
}

func TestInitialize(t *testing.T) {
	tr, radio := newTestTransport(t, Options{})

	if got := tr.LocalAddress(); got != testSelf {
		t.Errorf("LocalAddress() = %v, want %v", got, testSelf)
	}
	if !radio.HasPeer(Broadcast) {
		t.Error("broadcast peer not registered during Initialize")
	}
	if !tr.Stats().Initialized {
		t.Error("Stats().Initialized = false")
	}

	// Idempotent.
	if err := tr.Initialize(); err != nil {
		t.Errorf("second Initialize() error = %v", err)
	}
	if radio.addCalls != 1 {
		t.Errorf("AddPeer called %d times, want 1", radio.addCalls)
	}
}

func TestInitialize_PanicsWhenRadioDown(t *testing.T) {
	radio := newFakeRadio()
	radio.ready = false
	tr := NewTransport(radio, Options{})
	defer tr.Close()

	defer func() {
		if recover() == nil {
			t.Error("Initialize() did not panic with radio down")
		}
	}()
	_ = tr.Initialize()
}

func TestInitialize_StartFailure(t *testing.T) {
	radio := newFakeRadio()
	radio.startErr = errors.New("no memory")
	tr := NewTransport(radio, Options{})
	defer tr.Close()

	err := tr.Initialize()
	if !errors.Is(err, ErrRadioStart) {
		t.Fatalf("Initialize() error = %v, want ErrRadioStart", err)
	}

	// The failed transport must not hold the active slot.
	next, _ := newTestTransport(t, Options{})
	if !next.Stats().Initialized {
		t.Error("replacement transport not initialised")
	}
}

func TestInitialize_SecondInstance(t *testing.T) {
	newTestTransport(t, Options{})

	other := NewTransport(newFakeRadio(), Options{})
	defer other.Close()

	if err := other.Initialize(); !errors.Is(err, ErrInstanceActive) {
		t.Errorf("Initialize() error = %v, want ErrInstanceActive", err)
	}
}

func TestInitialize_AfterClose(t *testing.T) {
	first := NewTransport(newFakeRadio(), Options{})
	if err := first.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	newTestTransport(t, Options{})
}

func TestSend_NotInitialized(t *testing.T) {
	tr := NewTransport(newFakeRadio(), Options{})
	err := tr.Send(NewPackage(Broadcast, MustCommandID("CDSC"), nil), time.Second)
	if !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Send() error = %v, want ErrNotInitialized", err)
	}
}

func TestSend(t *testing.T) {
	tests := []struct {
		name    string
		plan    completionPlan
		timeout time.Duration
		wantErr error
	}{
		{name: "acknowledged", plan: completionPlan{ok: true}, timeout: time.Second},
		{name: "acknowledged late", plan: completionPlan{ok: true, delay: 10 * time.Millisecond}, timeout: time.Second},
		{name: "acknowledged without timeout", plan: completionPlan{ok: true, delay: 5 * time.Millisecond}, timeout: Forever},
		{name: "delivery failed", plan: completionPlan{ok: false}, timeout: time.Second, wantErr: ErrSendFailed},
		{name: "no completion", plan: completionPlan{never: true}, timeout: 20 * time.Millisecond, wantErr: ErrSendTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, radio := newTestTransport(t, Options{DrainTimeout: 10 * time.Millisecond})
			radio.plan(tt.plan)

			err := tr.Send(NewPackage(testPeer, MustCommandID("RDSC"), nil), tt.timeout)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Send() error = %v", err)
				}
				if tr.Stats().FramesTx != 1 {
					t.Errorf("FramesTx = %d, want 1", tr.Stats().FramesTx)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Send() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSend_RegistersPeerOnce(t *testing.T) {
	tr, radio := newTestTransport(t, Options{})

	for i := 0; i < 3; i++ {
		if err := tr.Send(NewPackage(testPeer, MustCommandID("RDSC"), nil), time.Second); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	if !radio.HasPeer(testPeer) {
		t.Error("destination not registered as peer")
	}
	// Broadcast at Initialize plus testPeer once.
	if radio.addCalls != 2 {
		t.Errorf("AddPeer called %d times, want 2", radio.addCalls)
	}
}

func TestSend_PeerRegistrationFailure(t *testing.T) {
	tr, radio := newTestTransport(t, Options{})
	radio.addErr = errors.New("peer list full")

	err := tr.Send(NewPackage(testPeer, MustCommandID("RDSC"), nil), time.Second)
	if !errors.Is(err, ErrPeerRegistration) {
		t.Errorf("Send() error = %v, want ErrPeerRegistration", err)
	}
	if radio.transmitted() != 0 {
		t.Errorf("transmitted %d frames, want 0", radio.transmitted())
	}
}

func TestSend_StaleCompletionNotObserved(t *testing.T) {
	tr, radio := newTestTransport(t, Options{DrainTimeout: 200 * time.Millisecond})

	// First send times out; its success arrives late.
	// Second send fails and must report its own failure.
	radio.plan(
		completionPlan{ok: true, delay: 40 * time.Millisecond},
		completionPlan{ok: false, delay: 5 * time.Millisecond},
	)

	pkg := NewPackage(testPeer, MustCommandID("RDSC"), nil)

	if err := tr.Send(pkg, 10*time.Millisecond); !errors.Is(err, ErrSendTimeout) {
		t.Fatalf("first Send() error = %v, want ErrSendTimeout", err)
	}

	if err := tr.Send(pkg, time.Second); !errors.Is(err, ErrSendFailed) {
		t.Fatalf("second Send() error = %v, want ErrSendFailed", err)
	}

	stats := tr.Stats()
	if stats.SendTimeouts != 1 || stats.SendFailures != 1 || stats.FramesTx != 0 {
		t.Errorf("stats = %+v, want 1 timeout, 1 failure, 0 tx", stats)
	}
}

func TestSend_EncodesFrame(t *testing.T) {
	tr, radio := newTestTransport(t, Options{})

	pkg := NewPackage(testPeer, MustCommandID("RSCR"), Int32Payload(42))
	if err := tr.Send(pkg, time.Second); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	radio.mu.Lock()
	defer radio.mu.Unlock()
	if len(radio.sent) != 1 {
		t.Fatalf("transmitted %d frames, want 1", len(radio.sent))
	}
	if len(radio.sent[0]) != FrameSize {
		t.Errorf("frame length = %d, want %d", len(radio.sent[0]), FrameSize)
	}
	if radio.dsts[0] != testPeer {
		t.Errorf("transmit destination = %v, want %v", radio.dsts[0], testPeer)
	}
	want := Encode(pkg)
	if string(radio.sent[0]) != string(want[:]) {
		t.Errorf("frame = %x, want %x", radio.sent[0], want)
	}
}

func TestSend_AfterClose(t *testing.T) {
	tr, _ := newTestTransport(t, Options{})
	_ = tr.Close()

	err := tr.Send(NewPackage(testPeer, MustCommandID("RDSC"), nil), time.Second)
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Send() error = %v, want ErrClosed", err)
	}
}

func TestReceive(t *testing.T) {
	tr, radio := newTestTransport(t, Options{})

	sent := NewPackage(testSelf, MustCommandID("CBUT"), Uint32Payload(5))
	frame := Encode(sent)
	radio.deliver(testPeer, frame[:])

	pkg, ok := tr.Receive(time.Second)
	if !ok {
		t.Fatal("Receive() ok = false")
	}
	if pkg.Source() != testPeer {
		t.Errorf("Source() = %v, want %v", pkg.Source(), testPeer)
	}
	if !pkg.IsOnlyForMe() {
		t.Error("IsOnlyForMe() = false for a frame addressed to self")
	}
	if v, ok := pkg.Uint32(); !ok || v != 5 {
		t.Errorf("Uint32() = %d, %t, want 5, true", v, ok)
	}
	if tr.Stats().FramesRx != 1 {
		t.Errorf("FramesRx = %d, want 1", tr.Stats().FramesRx)
	}
}

func TestReceive_Timeout(t *testing.T) {
	tr, _ := newTestTransport(t, Options{})

	start := time.Now()
	if _, ok := tr.Receive(20 * time.Millisecond); ok {
		t.Fatal("Receive() ok = true on empty queue")
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("Receive() returned after %v, want about 20ms", elapsed)
	}
}

func TestReceive_ZeroTimeoutPolls(t *testing.T) {
	tr, radio := newTestTransport(t, Options{})

	if _, ok := tr.Receive(0); ok {
		t.Fatal("Receive(0) ok = true on empty queue")
	}

	frame := Encode(NewPackage(Broadcast, MustCommandID("CDSC"), nil))
	radio.deliver(testPeer, frame[:])

	if _, ok := tr.Receive(0); !ok {
		t.Error("Receive(0) ok = false with a queued package")
	}
}

func TestReceive_QueueOverflowDrops(t *testing.T) {
	tr, radio := newTestTransport(t, Options{QueueSize: 2})

	for i := 0; i < 5; i++ {
		frame := Encode(NewPackage(Broadcast, MustCommandID("CDSC"), []byte{byte(i)}))
		radio.deliver(testPeer, frame[:])
	}

	stats := tr.Stats()
	if stats.FramesRx != 2 {
		t.Errorf("FramesRx = %d, want 2", stats.FramesRx)
	}
	if stats.FramesDropped != 3 {
		t.Errorf("FramesDropped = %d, want 3", stats.FramesDropped)
	}

	// Oldest packages survive; later arrivals were dropped.
	for want := 0; want < 2; want++ {
		pkg, ok := tr.Receive(0)
		if !ok {
			t.Fatalf("Receive() #%d ok = false", want)
		}
		if got := pkg.Payload()[0]; int(got) != want {
			t.Errorf("Receive() #%d payload = %d, want %d", want, got, want)
		}
	}
}

func TestReceive_ShortFrameRejected(t *testing.T) {
	tr, radio := newTestTransport(t, Options{})

	radio.deliver(testPeer, []byte{0xFF, 0xFF, 0xFF})

	if _, ok := tr.Receive(0); ok {
		t.Error("Receive() ok = true after a short frame")
	}
	if tr.Stats().FramesMalformed != 1 {
		t.Errorf("FramesMalformed = %d, want 1", tr.Stats().FramesMalformed)
	}
}

func TestReceive_ShortPayloadKeepsLength(t *testing.T) {
	tr, radio := newTestTransport(t, Options{})

	// Header plus a two byte counter: shorter than a full frame.
	frame := Encode(NewPackage(testSelf, MustCommandID("CBUT"), []byte{5, 0}))
	radio.deliver(testPeer, frame[:HeaderSize+2])

	pkg, ok := tr.Receive(time.Second)
	if !ok {
		t.Fatal("Receive() ok = false")
	}
	if pkg.PayloadLen() != 2 {
		t.Errorf("PayloadLen() = %d, want 2", pkg.PayloadLen())
	}
	if _, ok := pkg.Uint32(); ok {
		t.Error("Uint32() ok = true for a two byte payload")
	}
}

func TestReceive_UnblocksOnClose(t *testing.T) {
	tr, _ := newTestTransport(t, Options{})

	done := make(chan bool, 1)
	go func() {
		_, ok := tr.Receive(Forever)
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	_ = tr.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("Receive() ok = true after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("Receive() did not return after Close")
	}
}

type recordingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Info(string, ...any)  {}
func (l *recordingLogger) Error(string, ...any) {}
func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func TestReceive_ReportsLossesOnce(t *testing.T) {
	logger := &recordingLogger{}
	tr, radio := newTestTransport(t, Options{QueueSize: 1, Logger: logger})

	frame := Encode(NewPackage(Broadcast, MustCommandID("CDSC"), nil))
	radio.deliver(testPeer, frame[:])
	radio.deliver(testPeer, frame[:])
	radio.deliver(testPeer, []byte{1})

	tr.Receive(0)
	tr.Receive(0)

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.warns) != 2 {
		t.Errorf("logged %d warnings, want 2 (one drop, one malformed): %v", len(logger.warns), logger.warns)
	}
}
