package main

import (
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"kazoku/internal/models"
	"kazoku/internal/view"
)

// terminal prints the room to out. Callbacks arrive from several session
// goroutines.
type terminal struct {
	out  io.Writer
	self string

	mu     sync.Mutex
	shown  map[string]models.Message
	typing string
	online string
}

func newTerminal(out io.Writer, self string) *terminal {
	return &terminal{out: out, self: self, shown: make(map[string]models.Message)}
}

// Messages prints messages not seen before and notes removed ones.
func (t *terminal) Messages(messages []models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := make(map[string]bool, len(messages))
	for _, m := range messages {
		current[m.ID] = true
		if _, ok := t.shown[m.ID]; ok {
			continue
		}
		t.shown[m.ID] = m
		fmt.Fprintf(t.out, "%s  #%s\n", view.Line(m, t.self, time.Local), m.ID)
	}

	var removed []string
	for id := range t.shown {
		if !current[id] {
			removed = append(removed, id)
		}
	}
	slices.Sort(removed)
	for _, id := range removed {
		delete(t.shown, id)
		fmt.Fprintf(t.out, "-- message #%s was deleted\n", id)
	}
}

// Roster prints the online and typing lines when they change.
func (t *terminal) Roster(others, typing []models.PresenceRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if online := view.OnlineText(others); online != t.online {
		t.online = online
		fmt.Fprintf(t.out, "-- online: %s\n", online)
	}
	if text := view.TypingText(typing); text != t.typing {
		t.typing = text
		if text != "" {
			fmt.Fprintf(t.out, "-- %s\n", text)
		}
	}
}

func (t *terminal) Printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "-- "+format+"\n", args...)
}
