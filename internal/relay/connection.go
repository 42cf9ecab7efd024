package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"kazoku/internal/models"
)

type wsConnection interface {
	Close() error
	WriteJSON(v any) error
	ReadJSON(v any) error
}

type presenceHub interface {
	JoinPresence(key string) (string, <-chan models.PresenceEvent)
	Track(connID string, record []byte)
	Untrack(connID string)
	LeavePresence(connID string)
}

type streamHub interface {
	SubscribeChanges() (string, <-chan models.ChangeEvent)
	UnsubscribeChanges(id string)
}

// connection pumps client frames to handle and hub events to the socket
// until either side stops.
type connection[T any] struct {
	ws         wsConnection
	fromServer <-chan T
	handle     func(models.PresenceFrame)
	fromClient chan models.PresenceFrame
	errorCh    chan error
}

func newConnection[T any](ws wsConnection, fromServer <-chan T, handle func(models.PresenceFrame)) *connection[T] {
	return &connection[T]{
		ws:         ws,
		fromServer: fromServer,
		handle:     handle,
		fromClient: make(chan models.PresenceFrame),
		errorCh:    make(chan error, 2),
	}
}

func (c *connection[T]) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	_ = c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (c *connection[T]) pumpMessages(ctx context.Context) error {
	for {
		var frame models.PresenceFrame
		if err := c.ws.ReadJSON(&frame); err != nil {
			return err
		}
		select {
		case c.fromClient <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *connection[T]) mainLoop(ctx context.Context) error {
	for {
		select {
		case frame := <-c.fromClient:
			c.handle(frame)
		case ev, ok := <-c.fromServer:
			if !ok {
				return models.ErrClosed
			}
			if err := c.ws.WriteJSON(ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// ServeStream relays change events to ws until the client goes away.
func ServeStream(ctx context.Context, hub streamHub, ws wsConnection) error {
	id, events := hub.SubscribeChanges()
	defer hub.UnsubscribeChanges(id)

	conn := newConnection(ws, events, func(frame models.PresenceFrame) {
		slog.Debug("ignoring frame on stream connection", "type", frame.Kind)
	})
	return conn.Handle(ctx)
}

// ServePresence joins ws to the presence group under key. The connection's
// record is removed when it disconnects.
func ServePresence(ctx context.Context, hub presenceHub, ws wsConnection, key string) error {
	connID, events := hub.JoinPresence(key)
	defer hub.LeavePresence(connID)

	conn := newConnection(ws, events, func(frame models.PresenceFrame) {
		switch frame.Kind {
		case models.PresenceFrameTrack:
			hub.Track(connID, frame.Record)
		case models.PresenceFrameUntrack:
			hub.Untrack(connID)
		default:
			slog.Warn("unknown presence frame", "conn_id", connID, "type", frame.Kind)
		}
	})
	return conn.Handle(ctx)
}
