package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"kazoku/internal/metrics"
	"kazoku/internal/models"
	"kazoku/internal/presence"
	"kazoku/internal/session"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// socket owns one websocket and its lifecycle. Only one goroutine reads;
// writes are serialized.
type socket struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

func newSocket(conn *websocket.Conn) *socket {
	return &socket{conn: conn, done: make(chan struct{})}
}

func (s *socket) closing() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *socket) writeJSON(ctx context.Context, v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closing() {
		return models.ErrClosed
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeTimeout)
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteJSON(v)
}

func (s *socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		close(s.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

// readLoop decodes frames into T and hands them to out until the socket
// fails or is closed. Undecodable frames are skipped.
func readLoop[T any](s *socket, out chan<- T, kind string) {
	defer close(out)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closing() && !isClosedErr(err) {
				slog.Warn("websocket read failed", "endpoint", kind, "error", err)
			}
			return
		}

		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			slog.Warn("dropping undecodable frame", "endpoint", kind, "error", err)
			metrics.StreamEventsDropped.WithLabelValues("malformed").Inc()
			continue
		}

		select {
		case out <- v:
		case <-s.done:
			return
		}
	}
}

// Stream is a websocket subscription to message changes.
type Stream struct {
	*socket
	events chan models.ChangeEvent
}

func (s *Stream) Events() <-chan models.ChangeEvent {
	return s.events
}

func (c *Client) SubscribeChanges(ctx context.Context) (session.Stream, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.wsURL("/api/stream"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial message stream: %w", err)
	}

	s := &Stream{socket: newSocket(conn), events: make(chan models.ChangeEvent, 64)}
	go readLoop(s.socket, s.events, "stream")
	return s, nil
}

// PresenceChannel is a websocket connection to the room's presence group.
type PresenceChannel struct {
	*socket
	events chan models.PresenceEvent
}

func (p *PresenceChannel) Events() <-chan models.PresenceEvent {
	return p.events
}

func (p *PresenceChannel) Track(ctx context.Context, record models.PresenceRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return p.writeJSON(ctx, models.PresenceFrame{Kind: models.PresenceFrameTrack, Record: raw})
}

func (p *PresenceChannel) Untrack(ctx context.Context) error {
	return p.writeJSON(ctx, models.PresenceFrame{Kind: models.PresenceFrameUntrack})
}

func (c *Client) JoinPresence(ctx context.Context, key string) (presence.Channel, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.wsURL("/api/presence?key="+url.QueryEscape(key)), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial presence channel: %w", err)
	}

	p := &PresenceChannel{socket: newSocket(conn), events: make(chan models.PresenceEvent, 16)}
	go readLoop(p.socket, p.events, "presence")
	return p, nil
}
