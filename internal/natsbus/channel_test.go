package natsbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"kazoku/internal/models"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

type mockEntry struct {
	key   string
	value []byte
	op    nats.KeyValueOp
}

func (e *mockEntry) Bucket() string             { return "KAZOKU_PRESENCE_TEST" }
func (e *mockEntry) Key() string                { return e.key }
func (e *mockEntry) Value() []byte              { return e.value }
func (e *mockEntry) Revision() uint64           { return 1 }
func (e *mockEntry) Created() time.Time         { return time.Time{} }
func (e *mockEntry) Delta() uint64              { return 0 }
func (e *mockEntry) Operation() nats.KeyValueOp { return e.op }

type mockWatcher struct {
	updates chan nats.KeyValueEntry
	stopped bool
}

func (w *mockWatcher) Context() context.Context           { return context.Background() }
func (w *mockWatcher) Updates() <-chan nats.KeyValueEntry { return w.updates }
func (w *mockWatcher) Stop() error {
	w.stopped = true
	return nil
}

func put(key, value string) nats.KeyValueEntry {
	return &mockEntry{key: key, value: []byte(value), op: nats.KeyValuePut}
}

func remove(key string, op nats.KeyValueOp) nats.KeyValueEntry {
	return &mockEntry{key: key, op: op}
}

const (
	alice      = `{"userId":"a","username":"Alice"}`
	aliceTyped = `{"userId":"a","username":"Alice","isTyping":true}`
	bob        = `{"userId":"b","username":"Bob"}`
)

func ready() models.PresenceEvent {
	return models.PresenceEvent{Kind: models.PresenceEventReady}
}

func syncEvent(state models.PresenceState) models.PresenceEvent {
	return models.PresenceEvent{Kind: models.PresenceEventSync, State: state}
}

func records(s ...string) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(s))
	for _, r := range s {
		out = append(out, json.RawMessage(r))
	}
	return out
}

func TestChannelWatch(t *testing.T) {
	tests := []struct {
		name    string
		entries []nats.KeyValueEntry
		want    []models.PresenceEvent
	}{
		{
			name:    "initial values then ready and sync",
			entries: []nats.KeyValueEntry{put("b.c1", bob), put("a.c1", alice), nil},
			want: []models.PresenceEvent{
				ready(),
				syncEvent(models.PresenceState{"a": records(alice), "b": records(bob)}),
			},
		},
		{
			name:    "nothing before the initial values end",
			entries: []nats.KeyValueEntry{put("a.c1", alice), put("b.c1", bob)},
			want:    nil,
		},
		{
			name: "every change after ready is a full sync",
			entries: []nats.KeyValueEntry{
				nil,
				put("a.c1", alice),
				put("a.c2", aliceTyped),
				remove("a.c1", nats.KeyValueDelete),
				remove("a.c2", nats.KeyValuePurge),
			},
			want: []models.PresenceEvent{
				ready(),
				syncEvent(models.PresenceState{}),
				syncEvent(models.PresenceState{"a": records(alice)}),
				syncEvent(models.PresenceState{"a": records(alice, aliceTyped)}),
				syncEvent(models.PresenceState{"a": records(aliceTyped)}),
				syncEvent(models.PresenceState{}),
			},
		},
		{
			name:    "put overwrites the mirrored record",
			entries: []nats.KeyValueEntry{put("a.c1", alice), nil, put("a.c1", aliceTyped)},
			want: []models.PresenceEvent{
				ready(),
				syncEvent(models.PresenceState{"a": records(alice)}),
				syncEvent(models.PresenceState{"a": records(aliceTyped)}),
			},
		},
		{
			name:    "keys without a connection id are ignored",
			entries: []nats.KeyValueEntry{nil, put("bogus", bob)},
			want: []models.PresenceEvent{
				ready(),
				syncEvent(models.PresenceState{}),
				syncEvent(models.PresenceState{}),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &mockWatcher{updates: make(chan nats.KeyValueEntry, len(tt.entries))}
			for _, e := range tt.entries {
				w.updates <- e
			}
			close(w.updates)

			ch := newChannel(nil, w, "a.self")
			ch.watch()

			var got []models.PresenceEvent
			for ev := range ch.Events() {
				got = append(got, ev)
			}
			require.Equal(t, tt.want, got)
		})
	}
}

func TestChannelClose(t *testing.T) {
	w := &mockWatcher{updates: make(chan nats.KeyValueEntry)}
	ch := newChannel(nil, w, "a.self")

	exited := make(chan struct{})
	go func() {
		ch.watch()
		close(exited)
	}()

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())

	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("watch did not stop after Close")
	}
	_, ok := <-ch.Events()
	require.False(t, ok)
	require.True(t, w.stopped)

	ctx := context.Background()
	require.ErrorIs(t, ch.Track(ctx, models.PresenceRecord{UserID: "a", Username: "Alice"}), models.ErrClosed)
	require.ErrorIs(t, ch.Untrack(ctx), models.ErrClosed)
}

func TestStreamPump(t *testing.T) {
	data, err := json.Marshal(models.ChangeEvent{Kind: models.ChangeKindDelete, Row: models.ChangeRow{ID: "m1"}})
	require.NoError(t, err)

	msgs := make(chan *nats.Msg, 3)
	msgs <- &nats.Msg{Subject: "kazoku.test.changes", Data: data}
	msgs <- &nats.Msg{Subject: "kazoku.test.changes", Data: []byte("{not json")}
	msgs <- &nats.Msg{Subject: "kazoku.test.changes", Data: data}
	close(msgs)

	s := &stream{events: make(chan models.ChangeEvent, 4), done: make(chan struct{})}
	s.pump(msgs)

	var got []string
	for ev := range s.Events() {
		require.Equal(t, models.ChangeKindDelete, ev.Kind)
		got = append(got, ev.Row.ID)
	}
	require.Equal(t, []string{"m1", "m1"}, got)
}

func TestStreamPump_StopsWhenClosed(t *testing.T) {
	data, err := json.Marshal(models.ChangeEvent{Kind: models.ChangeKindDelete, Row: models.ChangeRow{ID: "m1"}})
	require.NoError(t, err)

	msgs := make(chan *nats.Msg, 1)
	msgs <- &nats.Msg{Data: data}
	// Nobody reads events, so the pump blocks delivering until done closes.
	s := &stream{events: make(chan models.ChangeEvent), done: make(chan struct{})}

	exited := make(chan struct{})
	go func() {
		s.pump(msgs)
		close(exited)
	}()

	close(s.done)
	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("pump did not stop")
	}
	_, ok := <-s.Events()
	require.False(t, ok)
}
