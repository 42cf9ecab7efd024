package visibility

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"kazoku/internal/debounce"
	"kazoku/internal/models"
)

const DefaultDelay = 300 * time.Millisecond

// Config holds the actions the coordinator drives. A nil action is skipped.
type Config struct {
	Delay time.Duration
	// Resync pulls a fresh snapshot into the reconciler.
	Resync func(ctx context.Context) error
	// Announce re-publishes this client's presence record.
	Announce func(ctx context.Context) error
	// Withdraw removes this client's presence record.
	Withdraw func(ctx context.Context) error
}

// Coordinator turns bursts of host visibility signals into one debounced
// action for the last signalled state.
type Coordinator struct {
	cfg       Config
	debouncer *debounce.Debouncer

	mu    sync.Mutex
	state models.Visibility

	// Serializes debounced actions so presence track/untrack apply in order.
	actMu sync.Mutex
}

func New(cfg Config) *Coordinator {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	return &Coordinator{
		cfg:       cfg,
		debouncer: debounce.New(cfg.Delay),
		state:     models.Foreground,
	}
}

// Run consumes visibility signals until ctx is done or signals is closed.
// Pending timers are cleared on return, and Run waits for an action that
// is already running.
func (c *Coordinator) Run(ctx context.Context, signals <-chan models.Visibility) error {
	defer c.debouncer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case v, ok := <-signals:
			if !ok {
				return nil
			}
			c.signal(ctx, v)
		}
	}
}

// State is the last signalled visibility.
func (c *Coordinator) State() models.Visibility {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) signal(ctx context.Context, v models.Visibility) {
	c.mu.Lock()
	c.state = v
	c.mu.Unlock()

	slog.Debug("visibility changed", "state", v)
	c.debouncer.Trigger(func() { c.fire(ctx) })
}

func (c *Coordinator) fire(ctx context.Context) {
	c.actMu.Lock()
	defer c.actMu.Unlock()

	if ctx.Err() != nil {
		return
	}

	v := c.State()
	switch v {
	case models.Foreground:
		run(ctx, "resync", c.cfg.Resync)
		run(ctx, "announce", c.cfg.Announce)
	case models.Background:
		run(ctx, "withdraw", c.cfg.Withdraw)
	}
}

func run(ctx context.Context, name string, action func(context.Context) error) {
	if action == nil {
		return
	}
	if err := action(ctx); err != nil {
		slog.Warn("visibility action failed", "action", name, "error", err)
	}
}
