package natsbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"kazoku/internal/models"

	"github.com/nats-io/nats.go"
)

// channel mirrors the presence bucket and turns every change into a full
// state sync, the way the websocket relay does.
type channel struct {
	kv      nats.KeyValue
	watcher nats.KeyWatcher
	key     string
	events  chan models.PresenceEvent

	mu     sync.Mutex
	record []byte // last tracked record, refreshed by heartbeat

	done chan struct{}
	once sync.Once
}

func newChannel(kv nats.KeyValue, watcher nats.KeyWatcher, key string) *channel {
	return &channel{
		kv:      kv,
		watcher: watcher,
		key:     key,
		events:  make(chan models.PresenceEvent, 16),
		done:    make(chan struct{}),
	}
}

func (c *channel) Events() <-chan models.PresenceEvent {
	return c.events
}

func (c *channel) Track(ctx context.Context, record models.PresenceRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed() {
		return models.ErrClosed
	}
	if _, err := c.kv.Put(c.key, raw); err != nil {
		return err
	}
	c.record = raw
	return nil
}

func (c *channel) Untrack(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed() {
		return models.ErrClosed
	}
	c.record = nil
	return c.kv.Delete(c.key)
}

func (c *channel) Close() error {
	var err error
	c.once.Do(func() {
		c.mu.Lock()
		close(c.done)
		c.mu.Unlock()
		err = c.watcher.Stop()
	})
	return err
}

func (c *channel) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *channel) watch() {
	defer close(c.events)

	mirror := make(map[string][]byte)
	initialized := false
	for {
		select {
		case <-c.done:
			return
		case entry, ok := <-c.watcher.Updates():
			if !ok {
				return
			}
			// nil marks the end of the initial values.
			if entry == nil {
				initialized = true
				if !c.emit(models.PresenceEvent{Kind: models.PresenceEventReady}) {
					return
				}
				if !c.emit(models.PresenceEvent{Kind: models.PresenceEventSync, State: buildState(mirror)}) {
					return
				}
				continue
			}

			switch entry.Operation() {
			case nats.KeyValuePut:
				mirror[entry.Key()] = entry.Value()
			case nats.KeyValueDelete, nats.KeyValuePurge:
				delete(mirror, entry.Key())
			}
			if initialized && !c.emit(models.PresenceEvent{Kind: models.PresenceEventSync, State: buildState(mirror)}) {
				return
			}
		}
	}
}

func (c *channel) emit(ev models.PresenceEvent) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

// heartbeat re-puts the tracked record so the bucket TTL only expires
// records of clients that are gone.
func (c *channel) heartbeat() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.record != nil && !c.closed() {
				if _, err := c.kv.Put(c.key, c.record); err != nil {
					slog.Warn("presence heartbeat failed", "key", c.key, "error", err)
				}
			}
			c.mu.Unlock()
		}
	}
}
