package relay

import (
	"encoding/json"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"kazoku/internal/metrics"
	"kazoku/internal/models"

	"github.com/google/uuid"
)

const (
	streamBuffer   = 100
	presenceBuffer = 64
)

type member struct {
	key    string
	record json.RawMessage // nil while untracked
	ch     chan models.PresenceEvent
}

// Hub fans message changes out to stream subscribers and keeps one presence
// group for the room.
type Hub struct {
	// Map of subscription id -> change channel
	subscribers map[string]chan models.ChangeEvent

	// Map of presence connection id -> member
	members map[string]*member

	mu sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]chan models.ChangeEvent),
		members:     make(map[string]*member),
	}
}

func (h *Hub) SubscribeChanges() (string, <-chan models.ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan models.ChangeEvent, streamBuffer)
	h.subscribers[id] = ch
	metrics.RelayStreamSubscribers.Set(float64(len(h.subscribers)))
	return id, ch
}

func (h *Hub) UnsubscribeChanges(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
	metrics.RelayStreamSubscribers.Set(float64(len(h.subscribers)))
}

func (h *Hub) StreamSubscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Publish delivers ev to every subscriber. A subscriber whose buffer is
// full misses the event.
func (h *Hub) Publish(ev models.ChangeEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			slog.Warn("stream subscriber too slow, event dropped", "subscription_id", id, "message_id", ev.Row.ID)
		}
	}
}

// JoinPresence adds a connection to the presence group. The returned
// channel first yields a ready event and the current state.
func (h *Hub) JoinPresence(key string) (string, <-chan models.PresenceEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := uuid.NewString()
	m := &member{key: key, ch: make(chan models.PresenceEvent, presenceBuffer)}
	h.members[id] = m
	metrics.RelayPresenceMembers.Set(float64(len(h.members)))

	m.ch <- models.PresenceEvent{Kind: models.PresenceEventReady}
	m.ch <- models.PresenceEvent{Kind: models.PresenceEventSync, State: h.stateLocked()}
	return id, m.ch
}

// Track stores the connection's raw record as is and syncs the group.
func (h *Hub) Track(connID string, record []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.members[connID]
	if !ok {
		return
	}
	if len(record) == 0 {
		record = json.RawMessage("null")
	}
	m.record = record
	h.syncLocked()
}

func (h *Hub) Untrack(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.members[connID]
	if !ok || m.record == nil {
		return
	}
	m.record = nil
	h.syncLocked()
}

// LeavePresence drops the connection and its record.
func (h *Hub) LeavePresence(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.members[connID]
	if !ok {
		return
	}
	close(m.ch)
	delete(h.members, connID)
	metrics.RelayPresenceMembers.Set(float64(len(h.members)))

	if m.record != nil {
		h.syncLocked()
	}
}

func (h *Hub) PresenceState() models.PresenceState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stateLocked()
}

func (h *Hub) stateLocked() models.PresenceState {
	state := make(models.PresenceState)
	// Stable order inside a key keeps last-record-wins deterministic.
	for _, id := range slices.Sorted(maps.Keys(h.members)) {
		m := h.members[id]
		if m.record == nil {
			continue
		}
		state[m.key] = append(state[m.key], m.record)
	}
	return state
}

func (h *Hub) syncLocked() {
	ev := models.PresenceEvent{Kind: models.PresenceEventSync, State: h.stateLocked()}
	for id, m := range h.members {
		select {
		case m.ch <- ev:
		default:
			slog.Warn("presence member too slow, sync dropped", "conn_id", id)
		}
	}
}
