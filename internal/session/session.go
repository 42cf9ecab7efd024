package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"kazoku/internal/metrics"
	"kazoku/internal/models"
	"kazoku/internal/presence"
	"kazoku/internal/profiles"
	"kazoku/internal/reconcile"
	"kazoku/internal/subscriber"
	"kazoku/internal/visibility"

	"golang.org/x/sync/errgroup"
)

const closeTimeout = 5 * time.Second

// Stream is a live subscription to message collection changes.
type Stream interface {
	Events() <-chan models.ChangeEvent
	Close() error
}

// Transport is everything a chat-room session needs from the remote service.
type Transport interface {
	Snapshot(ctx context.Context) ([]models.Message, error)
	Profile(ctx context.Context, id string) (models.Profile, error)
	SubscribeChanges(ctx context.Context) (Stream, error)
	JoinPresence(ctx context.Context, key string) (presence.Channel, error)
}

type Config struct {
	Transport  Transport
	Self       models.PresenceRecord
	Debounce   time.Duration
	ProfileTTL time.Duration

	// OnMessages receives the merged list after every change.
	OnMessages func([]models.Message)
	// OnRoster receives every rebuilt roster.
	OnRoster func(presence.Roster)
}

// Session is one open chat room. It exclusively owns one message stream
// subscription and one presence channel from Open until Close.
type Session struct {
	transport Transport
	rec       *reconcile.Reconciler
	tracker   *presence.Tracker
	coord     *visibility.Coordinator
	stream    Stream

	signals chan models.Visibility
	ctx     context.Context
	cancel  context.CancelFunc
	g       *errgroup.Group

	closeOnce sync.Once
	closeErr  error
}

// Open acquires the stream and the presence channel, loads the initial
// snapshot and starts the session loops. The session ends when ctx is
// done or Close is called; Close must be called either way.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Transport == nil {
		return nil, errors.New("session needs a transport")
	}

	// Subscribe before the first snapshot so nothing written in between is missed.
	stream, err := cfg.Transport.SubscribeChanges(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to message changes: %w", err)
	}

	ch, err := cfg.Transport.JoinPresence(ctx, cfg.Self.UserID)
	if err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("failed to join presence channel: %w", err)
	}

	tracker, err := presence.NewTracker(ch, cfg.Self)
	if err != nil {
		_ = ch.Close()
		_ = stream.Close()
		return nil, err
	}
	tracker.OnRoster = cfg.OnRoster

	rec := reconcile.New(nil)
	rec.OnChange = cfg.OnMessages

	runCtx, cancel := context.WithCancel(ctx)
	g, gCtx := errgroup.WithContext(runCtx)

	s := &Session{
		transport: cfg.Transport,
		rec:       rec,
		tracker:   tracker,
		stream:    stream,
		signals:   make(chan models.Visibility, 16),
		ctx:       runCtx,
		cancel:    cancel,
		g:         g,
	}
	s.coord = visibility.New(visibility.Config{
		Delay:    cfg.Debounce,
		Resync:   s.Resync,
		Announce: tracker.Announce,
		Withdraw: tracker.Withdraw,
	})

	_ = s.Resync(ctx)

	lookup := profiles.NewCache(runCtx, cfg.Transport, cfg.ProfileTTL)
	sub := subscriber.New(lookup, rec)

	g.Go(func() error {
		err := sub.Run(gCtx, stream.Events())
		if gCtx.Err() == nil {
			slog.Warn("message stream ended", "user_id", cfg.Self.UserID)
		}
		return err
	})
	g.Go(func() error {
		return tracker.Run(gCtx)
	})
	g.Go(func() error {
		return s.coord.Run(gCtx, s.signals)
	})

	return s, nil
}

// Resync fetches a fresh snapshot and merges it. Failures are logged and
// leave the list as it is.
func (s *Session) Resync(ctx context.Context) error {
	rows, err := s.transport.Snapshot(ctx)
	metrics.ObserveResync(err)
	if err != nil {
		slog.Warn("snapshot fetch failed", "error", err)
		return err
	}
	s.rec.LoadSnapshot(rows)
	return nil
}

// Visibility passes a host foreground/background signal to the coordinator.
func (s *Session) Visibility(v models.Visibility) {
	select {
	case s.signals <- v:
	case <-s.ctx.Done():
	}
}

func (s *Session) SetTyping(ctx context.Context, typing bool) error {
	return s.tracker.SetTyping(ctx, typing)
}

func (s *Session) Messages() []models.Message {
	return s.rec.Messages()
}

// Message looks up one held message by id.
func (s *Session) Message(id string) (models.Message, bool) {
	return s.rec.Get(id)
}

func (s *Session) Roster() presence.Roster {
	return s.tracker.Roster()
}

func (s *Session) Self() models.PresenceRecord {
	return s.tracker.Self()
}

// Done is closed once the session's loops have been asked to stop.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Close stops the loops and pending timers, untracks presence, and
// releases both connections. Calling it again returns the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		loopErr := s.g.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()

		presenceErr := s.tracker.Close(ctx)
		streamErr := s.stream.Close()
		s.closeErr = errors.Join(loopErr, presenceErr, streamErr)
	})
	return s.closeErr
}
