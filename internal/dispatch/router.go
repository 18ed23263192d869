package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/guestlink-core/internal/history"
	"github.com/nerrad567/guestlink-core/internal/link"
)

// Defaults.
const (
	// DefaultSendTimeout bounds each outgoing reply or score.
	DefaultSendTimeout = 100 * time.Millisecond

	// receivePoll is how long Run blocks in Receive before re-checking ctx.
	receivePoll = 500 * time.Millisecond
)

// Transport is the part of the link transport the router drives.
type Transport interface {
	Send(pkg link.Package, timeout time.Duration) error
	Receive(timeout time.Duration) (link.Package, bool)
	Done() <-chan struct{}
}

// Registry receives guest reports.
type Registry interface {
	ReportGuest(mac link.Address, counter uint32) bool
}

// Recorder is told about every report the registry accepted.
type Recorder interface {
	Record(r history.Report) bool
}

// Metrics counts dispatch outcomes.
type Metrics interface {
	ObserveDispatch(command, result string)
}

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

// Options configures a Router. Zero values select defaults.
type Options struct {
	// SendTimeout bounds discovery replies and score sends. Default: 100ms.
	SendTimeout time.Duration

	// Recorder, if set, receives accepted reports.
	Recorder Recorder

	// Metrics, if set, counts dispatch outcomes.
	Metrics Metrics

	Logger Logger

	// Now replaces time.Now for report timestamps.
	Now func() time.Time
}

// Router dispatches received packages and sends device-originated commands.
type Router struct {
	transport Transport
	registry  Registry
	opts      Options
	logger    Logger
	routes    []Route

	// mu serialises handlers.
	mu sync.Mutex
}

// New creates a router over transport that reports into registry.
func New(transport Transport, registry Registry, opts Options) *Router {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Router{
		transport: transport,
		registry:  registry,
		opts:      opts,
		logger:    logger,
		routes:    defaultRoutes(),
	}
}

// Routes returns a copy of the route table.
func (r *Router) Routes() []Route {
	out := make([]Route, len(r.routes))
	copy(out, r.routes)
	return out
}

// Run consumes the ingress queue until ctx is done or the transport closes.
func (r *Router) Run(ctx context.Context) error {
	r.logger.Info("command router started", "routes", len(r.routes))
	defer r.logger.Info("command router stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.transport.Done():
			return nil
		default:
		}

		pkg, ok := r.transport.Receive(receivePoll)
		if !ok {
			continue
		}
		r.Dispatch(pkg)
	}
}

// Dispatch matches pkg against the route table and runs the handler of the
// first route with the same command id, if its address class accepts.
func (r *Router) Dispatch(pkg link.Package) Result {
	result := r.dispatch(pkg)
	if r.opts.Metrics != nil {
		r.opts.Metrics.ObserveDispatch(commandLabel(pkg, result), result.String())
	}
	return result
}

// commandLabel bounds the metric label set to the route table. Command
// bytes of unknown packages come straight off the air and may not be UTF-8.
func commandLabel(pkg link.Package, result Result) string {
	if result == Unknown {
		return OtherCommand
	}
	return pkg.Command().String()
}

func (r *Router) dispatch(pkg link.Package) Result {
	for _, route := range r.routes {
		if route.Command != pkg.Command() {
			continue
		}

		if !route.Class.Accepts(pkg) {
			r.logger.Debug("package rejected by address class",
				"command", pkg.Command().String(),
				"source", pkg.Source().String(),
				"class", route.Class.String(),
				"broadcast", pkg.IsBroadcast(),
				"for_me", pkg.IsForMe(),
			)
			return Rejected
		}

		r.mu.Lock()
		route.handle(r, pkg)
		r.mu.Unlock()
		return Handled
	}

	r.logger.Warn("unknown command",
		"command", pkg.Command().String(),
		"source", pkg.Source().String(),
		"payload_len", pkg.PayloadLen(),
	)
	return Unknown
}

// handleDiscovery registers the sender and acknowledges it.
func (r *Router) handleDiscovery(pkg link.Package) {
	src := pkg.Source()
	if r.registry.ReportGuest(src, 0) {
		r.record(pkg, 0)
	}

	reply := link.NewPackage(src, CmdDiscoveryAck, nil)
	if err := r.transport.Send(reply, r.opts.SendTimeout); err != nil {
		r.logger.Warn("discovery acknowledgment failed", "destination", src.String(), "error", err)
		return
	}
	r.logger.Debug("discovery acknowledged", "destination", src.String())
}

// handleButton stores the reported button counter.
func (r *Router) handleButton(pkg link.Package) {
	counter, ok := pkg.Uint32()
	if !ok {
		r.logger.Warn("button report payload too short, dropped",
			"source", pkg.Source().String(),
			"payload_len", pkg.PayloadLen(),
		)
		return
	}

	if r.registry.ReportGuest(pkg.Source(), counter) {
		r.record(pkg, counter)
	}
}

func (r *Router) record(pkg link.Package, presses uint32) {
	if r.opts.Recorder == nil {
		return
	}
	r.opts.Recorder.Record(history.Report{
		MAC:           pkg.Source(),
		Command:       pkg.Command().String(),
		ButtonPresses: presses,
		ReceivedAt:    r.opts.Now().UTC(),
	})
}

// SendScore pushes a score to one guest and waits for delivery.
//
// Parameters:
//   - addr: Unicast guest address
//   - score: Signed score value
//
// Returns:
//   - error: ErrInvalidTarget for broadcast or zero addresses, otherwise the
//     transport's send error (link.ErrSendTimeout, link.ErrSendFailed)
func (r *Router) SendScore(addr link.Address, score int32) error {
	if addr.IsBroadcast() || addr.IsZero() {
		return fmt.Errorf("%w: %s", ErrInvalidTarget, addr)
	}

	pkg := link.NewPackage(addr, CmdScore, link.Int32Payload(score))
	if err := r.transport.Send(pkg, r.opts.SendTimeout); err != nil {
		return fmt.Errorf("sending score to %s: %w", addr, err)
	}

	r.logger.Info("score sent", "destination", addr.String(), "score", score)
	return nil
}
