package history

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Recorder defaults.
const (
	DefaultBufferSize = 256

	// writeTimeout bounds a single insert.
	writeTimeout = 5 * time.Second

	// pruneInterval is how often retention is enforced.
	pruneInterval = time.Hour
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

// Metrics counts reports the recorder had to drop.
type Metrics interface {
	HistoryDropped()
}

// RecorderOptions configures a Recorder. Zero values select defaults.
type RecorderOptions struct {
	// BufferSize is the capacity of the pending-report queue. Default: 256.
	BufferSize int

	// Retention, if positive, prunes reports older than this once an hour.
	Retention time.Duration

	Metrics Metrics
	Logger  Logger
}

// RecorderStats holds recorder counters.
type RecorderStats struct {
	Recorded uint64
	Dropped  uint64
	Failed   uint64
	Pruned   uint64
}

// Recorder writes reports to a Repository from a background goroutine.
//
// Record never blocks: when the queue is full the report is dropped and
// counted. Run drains the queue until Close, then flushes what is left.
// Close may also be called without Run, in which case it flushes itself.
type Recorder struct {
	repo   Repository
	opts   RecorderOptions
	logger Logger

	queue    chan Report
	done     chan struct{}
	finished chan struct{}

	mu      sync.Mutex
	running bool
	closed  bool

	recorded atomic.Uint64
	dropped  atomic.Uint64
	failed   atomic.Uint64
	pruned   atomic.Uint64
}

// NewRecorder creates a recorder writing to repo.
func NewRecorder(repo Repository, opts RecorderOptions) *Recorder {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Recorder{
		repo:     repo,
		opts:     opts,
		logger:   logger,
		queue:    make(chan Report, opts.BufferSize),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// Record queues r for writing.
//
// Returns:
//   - bool: false if the queue was full or the recorder closed
func (rec *Recorder) Record(r Report) bool {
	select {
	case <-rec.done:
		return false
	default:
	}

	select {
	case rec.queue <- r:
		return true
	default:
		n := rec.dropped.Add(1)
		if rec.opts.Metrics != nil {
			rec.opts.Metrics.HistoryDropped()
		}
		rec.logger.Warn("history queue full, report dropped",
			"mac", r.MAC.String(),
			"command", r.Command,
			"dropped_total", n,
		)
		return false
	}
}

// Run writes queued reports until ctx is done or Close is called. Reports
// still queued at that point are flushed before Run returns.
func (rec *Recorder) Run(ctx context.Context) error {
	rec.mu.Lock()
	if rec.closed {
		rec.mu.Unlock()
		return nil
	}
	rec.running = true
	rec.mu.Unlock()
	defer close(rec.finished)

	var prune <-chan time.Time
	if rec.opts.Retention > 0 {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		prune = ticker.C
		rec.prune(ctx)
	}

	rec.logger.Info("history recorder started", "buffer_size", rec.opts.BufferSize)

	for {
		select {
		case r := <-rec.queue:
			rec.write(context.WithoutCancel(ctx), r)
		case <-prune:
			rec.prune(ctx)
		case <-ctx.Done():
			rec.flush(context.WithoutCancel(ctx))
			return ctx.Err()
		case <-rec.done:
			rec.flush(context.WithoutCancel(ctx))
			return nil
		}
	}
}

// Close stops accepting reports and waits for Run to flush the queue. If
// Run was never started the queue is flushed here. Safe to call twice.
func (rec *Recorder) Close() error {
	rec.mu.Lock()
	if rec.closed {
		rec.mu.Unlock()
		if rec.running {
			<-rec.finished
		}
		return nil
	}
	rec.closed = true
	close(rec.done)
	running := rec.running
	rec.mu.Unlock()

	if running {
		<-rec.finished
		return nil
	}
	rec.flush(context.Background())
	return nil
}

// Stats returns recorder counters.
func (rec *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Recorded: rec.recorded.Load(),
		Dropped:  rec.dropped.Load(),
		Failed:   rec.failed.Load(),
		Pruned:   rec.pruned.Load(),
	}
}

func (rec *Recorder) flush(ctx context.Context) {
	for {
		select {
		case r := <-rec.queue:
			rec.write(ctx, r)
		default:
			return
		}
	}
}

func (rec *Recorder) write(ctx context.Context, r Report) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := rec.repo.Record(ctx, r); err != nil {
		rec.failed.Add(1)
		rec.logger.Error("recording guest report", "mac", r.MAC.String(), "error", err)
		return
	}
	rec.recorded.Add(1)
}

func (rec *Recorder) prune(ctx context.Context) {
	n, err := rec.repo.Prune(ctx, rec.opts.Retention)
	if err != nil {
		rec.logger.Warn("pruning report history", "error", err)
		return
	}
	if n > 0 {
		rec.pruned.Add(uint64(n)) //nolint:gosec // RowsAffected is never negative
		rec.logger.Info("report history pruned", "deleted", n, "retention", rec.opts.Retention.String())
	}
}
