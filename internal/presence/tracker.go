package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"kazoku/internal/content"
	"kazoku/internal/metrics"
	"kazoku/internal/models"
)

// Channel is a joined presence group.
type Channel interface {
	Events() <-chan models.PresenceEvent
	Track(ctx context.Context, record models.PresenceRecord) error
	Untrack(ctx context.Context) error
	Close() error
}

// Tracker publishes this client's presence record and keeps the roster
// built from the channel's full-state syncs.
type Tracker struct {
	ch Channel

	// OnRoster receives every rebuilt roster.
	OnRoster func(Roster)

	pubMu     sync.Mutex
	self      models.PresenceRecord
	ready     bool
	visible   bool
	announced bool
	closed    bool

	rosterMu sync.RWMutex
	roster   Roster
}

func NewTracker(ch Channel, self models.PresenceRecord) (*Tracker, error) {
	if self.UserID == "" {
		return nil, errors.New("presence record needs a user id")
	}
	name, err := content.NormalizeDisplayName(self.Username)
	if err != nil {
		return nil, fmt.Errorf("invalid presence username: %w", err)
	}
	self.Username = name
	self.IsTyping = false

	return &Tracker{
		ch:      ch,
		self:    self,
		visible: true,
		roster:  make(Roster),
	}, nil
}

// Run consumes channel events until ctx is done or the channel's event
// stream ends.
func (t *Tracker) Run(ctx context.Context) error {
	events := t.ch.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			t.handle(ctx, ev)
		}
	}
}

func (t *Tracker) handle(ctx context.Context, ev models.PresenceEvent) {
	switch ev.Kind {
	case models.PresenceEventReady:
		t.pubMu.Lock()
		t.ready = true
		err := t.publishLocked(ctx)
		t.pubMu.Unlock()
		if err != nil {
			slog.Warn("failed to track presence", "user_id", t.self.UserID, "error", err)
		}
	case models.PresenceEventSync:
		roster := BuildRoster(ev.State)
		t.rosterMu.Lock()
		t.roster = roster
		t.rosterMu.Unlock()
		if t.OnRoster != nil {
			t.OnRoster(maps.Clone(roster))
		}
	default:
		slog.Debug("ignoring presence event", "kind", ev.Kind)
	}
}

// Announce makes the record visible again and tracks it once the channel is ready.
func (t *Tracker) Announce(ctx context.Context) error {
	t.pubMu.Lock()
	defer t.pubMu.Unlock()
	t.visible = true
	return t.publishLocked(ctx)
}

// Withdraw untracks the record. It stays withdrawn until the next Announce.
func (t *Tracker) Withdraw(ctx context.Context) error {
	t.pubMu.Lock()
	defer t.pubMu.Unlock()
	t.visible = false
	return t.untrackLocked(ctx)
}

// SetTyping updates the typing flag and re-publishes the record if it is
// currently tracked.
func (t *Tracker) SetTyping(ctx context.Context, typing bool) error {
	t.pubMu.Lock()
	defer t.pubMu.Unlock()
	if t.self.IsTyping == typing {
		return nil
	}
	t.self.IsTyping = typing
	return t.publishLocked(ctx)
}

func (t *Tracker) Self() models.PresenceRecord {
	t.pubMu.Lock()
	defer t.pubMu.Unlock()
	return t.self
}

func (t *Tracker) Roster() Roster {
	t.rosterMu.RLock()
	defer t.rosterMu.RUnlock()
	return maps.Clone(t.roster)
}

// Close untracks the record and releases the channel. Safe to call twice.
func (t *Tracker) Close(ctx context.Context) error {
	t.pubMu.Lock()
	defer t.pubMu.Unlock()
	if t.closed {
		return nil
	}

	untrackErr := t.untrackLocked(ctx)
	t.closed = true
	t.ready = false
	closeErr := t.ch.Close()
	return errors.Join(untrackErr, closeErr)
}

func (t *Tracker) publishLocked(ctx context.Context) error {
	if t.closed || !t.ready || !t.visible {
		return nil
	}
	err := t.ch.Track(ctx, t.self)
	metrics.ObservePublish("track", err)
	if err != nil {
		return fmt.Errorf("failed to track presence: %w", err)
	}
	t.announced = true
	return nil
}

func (t *Tracker) untrackLocked(ctx context.Context) error {
	if t.closed || !t.announced {
		return nil
	}
	err := t.ch.Untrack(ctx)
	metrics.ObservePublish("untrack", err)
	if err != nil {
		return fmt.Errorf("failed to untrack presence: %w", err)
	}
	t.announced = false
	return nil
}
