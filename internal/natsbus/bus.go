package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"kazoku/internal/metrics"
	"kazoku/internal/models"
	"kazoku/internal/presence"
	"kazoku/internal/session"

	"github.com/nats-io/nats.go"
)

const (
	// presenceTTL expires records of clients that vanish without untracking.
	presenceTTL       = 45 * time.Second
	heartbeatInterval = 15 * time.Second
)

// Bus carries a room's change events and presence over NATS.
type Bus struct {
	nc   *nats.Conn
	js   nats.JetStreamContext
	room string
}

// Connect dials NATS the way every kazoku process does.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

func New(nc *nats.Conn, room string) (*Bus, error) {
	if room == "" {
		return nil, errors.New("room is required")
	}
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}
	return &Bus{nc: nc, js: js, room: room}, nil
}

// Publish sends a change event to every subscriber of the room.
func (b *Bus) Publish(ev models.ChangeEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to marshal change event", "message_id", ev.Row.ID, "error", err)
		return
	}
	if err := b.nc.Publish(changeSubject(b.room), data); err != nil {
		slog.Error("failed to publish change event", "room", b.room, "message_id", ev.Row.ID, "error", err)
	}
}

type stream struct {
	sub    *nats.Subscription
	events chan models.ChangeEvent
	done   chan struct{}
	once   sync.Once
}

func (s *stream) Events() <-chan models.ChangeEvent {
	return s.events
}

func (s *stream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.sub.Unsubscribe()
		close(s.done)
	})
	return err
}

func (b *Bus) SubscribeChanges(ctx context.Context) (session.Stream, error) {
	msgs := make(chan *nats.Msg, 64)
	sub, err := b.nc.ChanSubscribe(changeSubject(b.room), msgs)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", changeSubject(b.room), err)
	}

	s := &stream{sub: sub, events: make(chan models.ChangeEvent, 64), done: make(chan struct{})}
	go s.pump(msgs)
	return s, nil
}

// pump decodes NATS messages into change events until the stream closes.
func (s *stream) pump(msgs <-chan *nats.Msg) {
	defer close(s.events)
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var ev models.ChangeEvent
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				slog.Warn("dropping undecodable change event", "subject", msg.Subject, "error", err)
				metrics.StreamEventsDropped.WithLabelValues("malformed").Inc()
				continue
			}
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		}
	}
}

func (b *Bus) presenceBucket() (nats.KeyValue, error) {
	name := bucketName(b.room)
	kv, err := b.js.KeyValue(name)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, nats.ErrBucketNotFound) {
		return nil, fmt.Errorf("failed to bind presence bucket %s: %w", name, err)
	}

	kv, err = b.js.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:  name,
		History: 1,
		TTL:     presenceTTL,
		Storage: nats.MemoryStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create presence bucket %s: %w", name, err)
	}
	return kv, nil
}

// JoinPresence joins the room's presence bucket under key with a fresh
// connection id.
func (b *Bus) JoinPresence(ctx context.Context, key string) (presence.Channel, error) {
	if !validToken(key) {
		return nil, fmt.Errorf("presence key %q: only letters, digits, '-', '_' and '=' allowed", key)
	}

	kv, err := b.presenceBucket()
	if err != nil {
		return nil, err
	}

	watcher, err := kv.WatchAll()
	if err != nil {
		return nil, fmt.Errorf("failed to watch presence bucket: %w", err)
	}

	ch := newChannel(kv, watcher, presenceKey(key, newConnID()))
	go ch.watch()
	go ch.heartbeat()
	return ch, nil
}
