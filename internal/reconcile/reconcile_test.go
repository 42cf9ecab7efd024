package reconcile

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"kazoku/internal/models"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func msgAt(id string, sec float64) models.Message {
	return models.Message{
		ID:        id,
		AuthorID:  "u1",
		Author:    models.Profile{ID: "u1", DisplayName: "Alice"},
		Content:   "msg " + id,
		CreatedAt: t0.Add(time.Duration(sec * float64(time.Second))),
	}
}

func ids(msgs []models.Message) []string {
	result := make([]string, len(msgs))
	for i, m := range msgs {
		result[i] = m.ID
	}
	return result
}

func assertSorted(t *testing.T, msgs []models.Message) {
	t.Helper()
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Fatalf("list not sorted at %d: %v", i, ids(msgs))
		}
	}
}

func TestReconciler_Scenario(t *testing.T) {
	r := New([]models.Message{msgAt("A", 1), msgAt("C", 3)})

	r.LoadSnapshot([]models.Message{msgAt("A", 1), msgAt("B", 2), msgAt("C", 3)})
	if got := ids(r.Messages()); !slices.Equal(got, []string{"A", "B", "C"}) {
		t.Fatalf("after snapshot: got %v", got)
	}

	r.AdmitDelete("B")
	if got := ids(r.Messages()); !slices.Equal(got, []string{"A", "C"}) {
		t.Fatalf("after delete: got %v", got)
	}

	r.AdmitInsert(msgAt("D", 2.5))
	if got := ids(r.Messages()); !slices.Equal(got, []string{"A", "D", "C"}) {
		t.Fatalf("after insert: got %v", got)
	}
}

func TestReconciler_IdempotentInsert(t *testing.T) {
	r := New(nil)

	if !r.AdmitInsert(msgAt("X", 1)) {
		t.Fatal("first insert rejected")
	}
	if r.AdmitInsert(msgAt("X", 1)) {
		t.Error("duplicate insert accepted")
	}
	if len(r.Messages()) != 1 {
		t.Errorf("expected 1 message, got %d", len(r.Messages()))
	}
}

func TestReconciler_DeleteBeforeInsert(t *testing.T) {
	r := New([]models.Message{msgAt("A", 1)})

	if r.AdmitDelete("X") {
		t.Error("delete of unknown id reported a change")
	}
	if got := ids(r.Messages()); !slices.Equal(got, []string{"A"}) {
		t.Fatalf("list changed: %v", got)
	}

	if !r.AdmitInsert(msgAt("X", 2)) {
		t.Error("insert after early delete rejected")
	}
	if got := ids(r.Messages()); !slices.Equal(got, []string{"A", "X"}) {
		t.Errorf("got %v", got)
	}
}

func TestReconciler_SnapshotOverwrite(t *testing.T) {
	r := New(nil)
	r.AdmitInsert(msgAt("X", 1))

	fetched := msgAt("X", 1)
	fetched.Author.DisplayName = "Alice Renamed"
	r.LoadSnapshot([]models.Message{fetched})

	got, ok := r.Get("X")
	if !ok {
		t.Fatal("X missing after snapshot")
	}
	if got.Author.DisplayName != "Alice Renamed" {
		t.Errorf("expected snapshot copy to win, got %q", got.Author.DisplayName)
	}
	if len(r.Messages()) != 1 {
		t.Errorf("expected 1 message, got %d", len(r.Messages()))
	}
}

func TestReconciler_EmptySnapshot(t *testing.T) {
	r := New([]models.Message{msgAt("A", 1)})
	calls := 0
	r.OnChange = func([]models.Message) { calls++ }

	r.LoadSnapshot(nil)
	r.LoadSnapshot([]models.Message{})

	if len(r.Messages()) != 1 {
		t.Errorf("expected list untouched, got %d entries", len(r.Messages()))
	}
	if calls != 0 {
		t.Errorf("expected no change notifications, got %d", calls)
	}
}

func TestReconciler_SnapshotIsMergeNotReplace(t *testing.T) {
	r := New([]models.Message{msgAt("A", 1), msgAt("Z", 9)})
	r.LoadSnapshot([]models.Message{msgAt("B", 2)})

	if got := ids(r.Messages()); !slices.Equal(got, []string{"A", "B", "Z"}) {
		t.Errorf("got %v", got)
	}
}

func TestReconciler_TiesKeepArrivalOrder(t *testing.T) {
	r := New(nil)
	r.AdmitInsert(msgAt("first", 5))
	r.AdmitInsert(msgAt("second", 5))
	r.LoadSnapshot([]models.Message{msgAt("third", 5), msgAt("first", 5)})
	r.AdmitInsert(msgAt("fourth", 5))

	want := []string{"first", "second", "third", "fourth"}
	if got := ids(r.Messages()); !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestReconciler_RejectsInvalid(t *testing.T) {
	r := New(nil)

	empty := msgAt("E", 1)
	empty.Content = ""
	if r.AdmitInsert(empty) {
		t.Error("message without content or attachment admitted")
	}

	r.LoadSnapshot([]models.Message{empty, msgAt("ok", 2)})
	if got := ids(r.Messages()); !slices.Equal(got, []string{"ok"}) {
		t.Errorf("got %v", got)
	}
}

func TestReconciler_OrderInvariant(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	r := New(nil)

	for i := 0; i < 500; i++ {
		id := fmt.Sprintf("m%d", rng.IntN(60))
		at := float64(rng.IntN(40))
		switch rng.IntN(4) {
		case 0:
			batch := make([]models.Message, rng.IntN(6))
			for j := range batch {
				batch[j] = msgAt(fmt.Sprintf("m%d", rng.IntN(60)), float64(rng.IntN(40)))
			}
			r.LoadSnapshot(batch)
		case 1:
			r.AdmitDelete(id)
		default:
			r.AdmitInsert(msgAt(id, at))
		}

		msgs := r.Messages()
		assertSorted(t, msgs)

		seen := make(map[string]bool, len(msgs))
		for _, m := range msgs {
			if seen[m.ID] {
				t.Fatalf("duplicate id %s in %v", m.ID, ids(msgs))
			}
			seen[m.ID] = true
		}
	}
}

func TestReconciler_OnChange(t *testing.T) {
	r := New(nil)
	var last []models.Message
	calls := 0
	r.OnChange = func(msgs []models.Message) {
		calls++
		last = msgs
	}

	r.AdmitInsert(msgAt("A", 1))
	r.AdmitInsert(msgAt("A", 1))
	r.AdmitDelete("missing")
	r.AdmitInsert(msgAt("B", 2))

	if calls != 2 {
		t.Errorf("expected 2 notifications, got %d", calls)
	}
	if !slices.Equal(ids(last), []string{"A", "B"}) {
		t.Errorf("last view %v", ids(last))
	}

	// The callback gets a copy.
	last[0].Content = "mutated"
	if m, _ := r.Get("A"); m.Content == "mutated" {
		t.Error("OnChange view aliases internal state")
	}
}
