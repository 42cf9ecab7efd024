package reconcile

import (
	"cmp"
	"log/slog"
	"slices"
	"sync"

	"kazoku/internal/metrics"
	"kazoku/internal/models"
)

type entry struct {
	msg     models.Message
	arrival uint64
}

// Reconciler owns the merged message list: unique by ID, ascending by
// CreatedAt, ties kept in arrival order.
type Reconciler struct {
	entries []entry
	index   map[string]int
	arrival uint64

	// OnChange receives a copy of the list after every effective mutation.
	OnChange func(messages []models.Message)

	mux sync.RWMutex
}

func New(initial []models.Message) *Reconciler {
	r := &Reconciler{
		index: make(map[string]int),
	}
	r.merge(initial)
	return r
}

// LoadSnapshot merges a fetched batch into the list. Fetched rows overwrite
// held rows with the same ID. A nil or empty batch is a no-op.
func (r *Reconciler) LoadSnapshot(rows []models.Message) {
	if len(rows) == 0 {
		return
	}

	r.mux.Lock()
	changed := r.merge(rows)
	view := r.snapshotLocked(changed)
	r.mux.Unlock()

	r.notify(view)
}

func (r *Reconciler) merge(rows []models.Message) bool {
	changed := false
	for _, msg := range rows {
		if err := msg.Validate(); err != nil {
			slog.Warn("skipping invalid snapshot row", "message_id", msg.ID, "error", err)
			metrics.SnapshotRowsSkipped.Inc()
			continue
		}
		if i, ok := r.index[msg.ID]; ok {
			r.entries[i].msg = msg
		} else {
			r.arrival++
			r.entries = append(r.entries, entry{msg: msg, arrival: r.arrival})
			r.index[msg.ID] = len(r.entries) - 1
		}
		changed = true
	}
	if !changed {
		return false
	}

	slices.SortStableFunc(r.entries, compareEntries)
	r.reindex()
	return true
}

// AdmitInsert adds a message with a resolved author. It returns false when
// the ID is already present or the message is invalid.
func (r *Reconciler) AdmitInsert(msg models.Message) bool {
	if err := msg.Validate(); err != nil {
		slog.Warn("rejecting invalid message", "message_id", msg.ID, "error", err)
		return false
	}

	r.mux.Lock()
	if _, ok := r.index[msg.ID]; ok {
		r.mux.Unlock()
		metrics.DuplicatesAbsorbed.Inc()
		return false
	}

	r.arrival++
	e := entry{msg: msg, arrival: r.arrival}
	// Insert after every entry that sorts before or ties with the new one.
	pos, _ := slices.BinarySearchFunc(r.entries, e, compareEntries)
	r.entries = slices.Insert(r.entries, pos, e)
	r.reindex()
	view := r.snapshotLocked(true)
	r.mux.Unlock()

	r.notify(view)
	return true
}

// AdmitDelete removes the message with the given ID. It returns false when
// no such message is held.
func (r *Reconciler) AdmitDelete(id string) bool {
	r.mux.Lock()
	i, ok := r.index[id]
	if !ok {
		r.mux.Unlock()
		return false
	}

	r.entries = slices.Delete(r.entries, i, i+1)
	delete(r.index, id)
	r.reindex()
	view := r.snapshotLocked(true)
	r.mux.Unlock()

	r.notify(view)
	return true
}

func (r *Reconciler) Messages() []models.Message {
	r.mux.RLock()
	defer r.mux.RUnlock()
	return r.snapshotLocked(true)
}

func (r *Reconciler) Get(id string) (models.Message, bool) {
	r.mux.RLock()
	defer r.mux.RUnlock()

	i, ok := r.index[id]
	if !ok {
		return models.Message{}, false
	}
	return r.entries[i].msg, true
}

func (r *Reconciler) reindex() {
	for i, e := range r.entries {
		r.index[e.msg.ID] = i
	}
}

func (r *Reconciler) snapshotLocked(changed bool) []models.Message {
	if !changed {
		return nil
	}
	result := make([]models.Message, len(r.entries))
	for i, e := range r.entries {
		result[i] = e.msg
	}
	return result
}

func (r *Reconciler) notify(view []models.Message) {
	if view != nil && r.OnChange != nil {
		r.OnChange(view)
	}
}

func compareEntries(a, b entry) int {
	if c := a.msg.CreatedAt.Compare(b.msg.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.arrival, b.arrival)
}
