package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/guestlink-core/internal/guest"
	"github.com/nerrad567/guestlink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/guestlink-core/internal/link"
)

// Registry is the guest registry as seen by the bridge.
type Registry interface {
	Snapshot() []guest.Guest
	SnapshotJSON() ([]byte, error)
	Watch() *guest.Watcher
}

// Publisher publishes guest state and carries score commands over MQTT.
// *mqtt.Client satisfies this interface.
type Publisher interface {
	PublishGuestState(mac string, state []byte) error
	PublishSnapshot(snapshot []byte) error
	SubscribeScores(qos byte, handler mqtt.MessageHandler) error
	UnsubscribeScores() error
}

// ActivityWriter records time-series points.
// *influxdb.Client satisfies this interface.
type ActivityWriter interface {
	WriteGuestActivity(mac string, presses int, at time.Time)
	WriteScore(mac string, score int32, at time.Time)
}

// Scorer sends a score to a guest.
type Scorer interface {
	SendScore(addr link.Address, score int32) error
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

// Options configures a Bridge. Nil fields disable the matching feature.
type Options struct {
	Publisher Publisher
	Writer    ActivityWriter
	Scorer    Scorer
	Logger    Logger

	// QoS for the score command subscription, used as given (0..2).
	QoS byte

	now func() time.Time
}

// Bridge forwards registry changes to MQTT and InfluxDB.
type Bridge struct {
	registry Registry
	opts     Options
	logger   Logger

	mu   sync.Mutex
	last map[link.Address]guest.Guest // Last published state per guest
}

// ScoreCommand is the payload accepted on the score command topic.
type ScoreCommand struct {
	MAC   string `json:"mac"`
	Score int32  `json:"score"`
}

// New creates a Bridge over registry.
func New(registry Registry, opts Options) *Bridge {
	if opts.now == nil {
		opts.now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Bridge{
		registry: registry,
		opts:     opts,
		logger:   logger,
		last:     make(map[link.Address]guest.Guest),
	}
}

// Start subscribes to score commands. It is a no-op without a Publisher.
func (b *Bridge) Start() error {
	if b.opts.Publisher == nil {
		return nil
	}
	if err := b.opts.Publisher.SubscribeScores(b.opts.QoS, b.handleScore); err != nil {
		return fmt.Errorf("subscribing to score commands: %w", err)
	}
	b.logger.Info("bridge subscribed", "topic", mqtt.Topics{}.ScoreCommand(), "qos", b.opts.QoS)
	return nil
}

// Stop unsubscribes from score commands. A broker that is already gone
// has dropped the subscription itself, so ErrNotConnected is not an error.
func (b *Bridge) Stop() error {
	if b.opts.Publisher == nil {
		return nil
	}
	err := b.opts.Publisher.UnsubscribeScores()
	if err != nil && !errors.Is(err, mqtt.ErrNotConnected) {
		return fmt.Errorf("unsubscribing from score commands: %w", err)
	}
	return nil
}

// Run publishes the current registry, then republishes on every update
// until ctx is done.
//
// Returns:
//   - error: ctx.Err() once the context is cancelled
func (b *Bridge) Run(ctx context.Context) error {
	w := b.registry.Watch()
	b.Sync()

	for {
		if !w.WaitForUpdate(ctx, -1) {
			if err := ctx.Err(); err != nil {
				return err
			}
			continue
		}
		b.Sync()
	}
}

// Sync publishes every guest that changed since the previous pass and,
// when any did, the full snapshot.
//
// Returns the number of guests published.
func (b *Bridge) Sync() int {
	changed := b.diff(b.registry.Snapshot())
	if len(changed) == 0 {
		return 0
	}

	for _, g := range changed {
		mac := g.MAC.String()

		if b.opts.Publisher != nil {
			payload, err := json.Marshal(g)
			if err != nil {
				b.logger.Error("encoding guest state", "mac", mac, "error", err)
				continue
			}
			if err := b.opts.Publisher.PublishGuestState(mac, payload); err != nil {
				b.logger.Warn("publishing guest state", "mac", mac, "error", err)
			}
		}

		if b.opts.Writer != nil {
			b.opts.Writer.WriteGuestActivity(mac, int(g.ButtonPresses), g.LastMessageTime)
		}
	}

	if b.opts.Publisher != nil {
		snapshot, err := b.registry.SnapshotJSON()
		if err != nil {
			b.logger.Error("encoding guest snapshot", "error", err)
		} else if err := b.opts.Publisher.PublishSnapshot(snapshot); err != nil {
			b.logger.Warn("publishing guest snapshot", "error", err)
		}
	}

	b.logger.Debug("bridge synced", "changed", len(changed))
	return len(changed)
}

// diff returns the guests whose time or counter differ from the last pass
// and records the new state.
func (b *Bridge) diff(snapshot []guest.Guest) []guest.Guest {
	b.mu.Lock()
	defer b.mu.Unlock()

	var changed []guest.Guest
	for _, g := range snapshot {
		prev, seen := b.last[g.MAC]
		if seen && prev.ButtonPresses == g.ButtonPresses && prev.LastMessageTime.Equal(g.LastMessageTime) {
			continue
		}
		b.last[g.MAC] = g
		changed = append(changed, g)
	}
	return changed
}

// handleScore is the MQTT handler for score commands.
func (b *Bridge) handleScore(_ string, payload []byte) error {
	var cmd ScoreCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	addr, err := link.ParseAddress(cmd.MAC)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	if b.opts.Scorer == nil {
		return ErrNoScorer
	}

	if err := b.opts.Scorer.SendScore(addr, cmd.Score); err != nil {
		return fmt.Errorf("score command for %s: %w", addr, err)
	}

	if b.opts.Writer != nil {
		b.opts.Writer.WriteScore(addr.String(), cmd.Score, b.opts.now())
	}
	return nil
}
