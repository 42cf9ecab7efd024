package subscriber

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"kazoku/internal/metrics"
	"kazoku/internal/models"
	"kazoku/internal/profiles"
)

var (
	ErrMalformedEvent = errors.New("malformed change event")
	ErrAuthorMissing  = errors.New("author profile not found")
)

type admitter interface {
	AdmitInsert(msg models.Message) bool
	AdmitDelete(id string) bool
}

// Subscriber feeds message stream events into the reconciler. Inserts are
// admitted only once their author profile has been resolved.
type Subscriber struct {
	profiles profiles.Lookup
	rec      admitter

	mu      sync.Mutex
	pending map[string][]*pendingInsert
}

// pendingInsert is an insert whose author lookup has not finished yet.
type pendingInsert struct {
	deleted bool
}

func New(lookup profiles.Lookup, rec admitter) *Subscriber {
	return &Subscriber{profiles: lookup, rec: rec, pending: make(map[string][]*pendingInsert)}
}

// Run consumes events until the channel closes or ctx is done. Each insert
// resolves its author in its own goroutine so later events are not held up
// by a slow lookup. A delete that arrives while its insert is still being
// resolved wins, so stream order is kept. Run returns after in-flight
// lookups finish.
func (s *Subscriber) Run(ctx context.Context, events <-chan models.ChangeEvent) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Kind == models.ChangeKindInsert && ev.Row.ID != "" {
				p := s.begin(ev.Row.ID)
				wg.Go(func() { s.logDrop(ev, s.insertAsync(ctx, ev, p)) })
				continue
			}
			if ev.Kind == models.ChangeKindDelete {
				s.cancel(ev.Row.ID)
			}
			s.logDrop(ev, s.Handle(ctx, ev))
		}
	}
}

// Handle applies one event. A non-nil error means the event was dropped.
func (s *Subscriber) Handle(ctx context.Context, ev models.ChangeEvent) error {
	metrics.StreamEvents.WithLabelValues(string(ev.Kind)).Inc()

	if ev.Row.ID == "" {
		return fmt.Errorf("%w: row without id", ErrMalformedEvent)
	}

	switch ev.Kind {
	case models.ChangeKindDelete:
		s.rec.AdmitDelete(ev.Row.ID)
		return nil
	case models.ChangeKindInsert:
		msg, err := s.resolve(ctx, ev.Row)
		if err != nil {
			return err
		}
		s.rec.AdmitInsert(msg)
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedEvent, ev.Kind)
	}
}

func (s *Subscriber) insertAsync(ctx context.Context, ev models.ChangeEvent, p *pendingInsert) error {
	metrics.StreamEvents.WithLabelValues(string(ev.Kind)).Inc()

	msg, err := s.resolve(ctx, ev.Row)
	if s.finish(ev.Row.ID, p) {
		slog.Debug("insert deleted before its author resolved", "message_id", ev.Row.ID)
		return nil
	}
	if err != nil {
		return err
	}
	s.rec.AdmitInsert(msg)
	return nil
}

func (s *Subscriber) resolve(ctx context.Context, row models.ChangeRow) (models.Message, error) {
	if row.AuthorID == "" {
		return models.Message{}, fmt.Errorf("%w: insert without author", ErrMalformedEvent)
	}

	author, err := s.profiles.Profile(ctx, row.AuthorID)
	if errors.Is(err, models.ErrNotFound) || (err == nil && author.ID == "") {
		return models.Message{}, fmt.Errorf("%w: %s", ErrAuthorMissing, row.AuthorID)
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to resolve author %s: %w", row.AuthorID, err)
	}

	msg := row.Message(author)
	if err := msg.Validate(); err != nil {
		return models.Message{}, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	return msg, nil
}

func (s *Subscriber) begin(id string) *pendingInsert {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &pendingInsert{}
	s.pending[id] = append(s.pending[id], p)
	return p
}

// cancel marks every insert of id still being resolved as deleted.
func (s *Subscriber) cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pending[id] {
		p.deleted = true
	}
}

// finish reports whether the insert was deleted while its lookup ran.
func (s *Subscriber) finish(id string, p *pendingInsert) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rest := slices.DeleteFunc(s.pending[id], func(q *pendingInsert) bool { return q == p })
	if len(rest) == 0 {
		delete(s.pending, id)
	} else {
		s.pending[id] = rest
	}
	return p.deleted
}

func (s *Subscriber) logDrop(ev models.ChangeEvent, err error) {
	if err == nil {
		return
	}

	reason := "author_lookup_failed"
	switch {
	case errors.Is(err, ErrMalformedEvent):
		reason = "malformed"
	case errors.Is(err, ErrAuthorMissing):
		reason = "author_missing"
	case errors.Is(err, context.Canceled):
		reason = "canceled"
	}
	metrics.StreamEventsDropped.WithLabelValues(reason).Inc()
	slog.Warn("dropping stream event", "kind", ev.Kind, "message_id", ev.Row.ID, "author_id", ev.Row.AuthorID, "reason", reason, "error", err)
}
