package view

import (
	"fmt"
	"strings"
	"time"

	"kazoku/internal/models"
)

// Lines renders messages as terminal lines in the given location.
func Lines(messages []models.Message, selfID string, loc *time.Location) []string {
	if loc == nil {
		loc = time.Local
	}
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, Line(m, selfID, loc))
	}
	return lines
}

func Line(m models.Message, selfID string, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", m.CreatedAt.In(loc).Format("15:04"), displayName(m))
	if m.AuthorID == selfID {
		b.WriteString(" (you)")
	}
	b.WriteString(":")
	if m.Content != "" {
		b.WriteString(" ")
		b.WriteString(m.Content)
	}
	if m.Attachment != nil {
		fmt.Fprintf(&b, " [%s] %s", m.Attachment.Kind, m.Attachment.URL)
	}
	return b.String()
}

func displayName(m models.Message) string {
	if m.Author.DisplayName != "" {
		return m.Author.DisplayName
	}
	return m.AuthorID
}

// TypingText describes who is typing. records must already exclude self.
func TypingText(records []models.PresenceRecord) string {
	switch n := len(records); n {
	case 0:
		return ""
	case 1:
		return records[0].Username + " is typing"
	case 2:
		return records[0].Username + " and " + records[1].Username + " are typing"
	default:
		others := "others"
		if n-2 == 1 {
			others = "other"
		}
		return fmt.Sprintf("%s, %s and %d %s are typing", records[0].Username, records[1].Username, n-2, others)
	}
}

// OnlineText lists who else is in the room.
func OnlineText(records []models.PresenceRecord) string {
	if len(records) == 0 {
		return "only you"
	}
	names := make([]string, len(records))
	for i, r := range records {
		names[i] = r.Username
	}
	return strings.Join(names, ", ")
}
