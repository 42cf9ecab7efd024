package api

import (
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"kazoku/internal/content"
	"kazoku/internal/models"
)

var transcriptTemplate = template.Must(template.New("transcript").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Transcript</title></head>
<body>
{{range .}}<article id="{{.ID}}">
<header><strong>{{.Author}}</strong> <time datetime="{{.Time}}">{{.Clock}}</time></header>
{{.Body}}
{{with .Attachment}}<p><a href="{{.URL}}">[{{.Kind}}]</a></p>{{end}}
</article>
{{end}}</body>
</html>
`))

type transcriptEntry struct {
	ID         string
	Author     string
	Time       string
	Clock      string
	Body       template.HTML
	Attachment *models.Attachment
}

// TranscriptHandler renders the log as HTML with markdown message bodies.
func (a *API) TranscriptHandler(w http.ResponseWriter, r *http.Request) {
	messages, err := a.store.ListMessages()
	if err != nil {
		http.Error(w, "Failed to list messages", http.StatusInternalServerError)
		return
	}

	entries := make([]transcriptEntry, 0, len(messages))
	for _, m := range messages {
		body, err := content.Render(m.Content)
		if err != nil {
			slog.Warn("failed to render message", "message_id", m.ID, "error", err)
			body = template.HTML(content.Escape(m.Content))
		}
		entry := transcriptEntry{
			ID:     m.ID,
			Author: m.Author.DisplayName,
			Time:   m.CreatedAt.Format(time.RFC3339),
			Clock:  m.CreatedAt.Format("15:04"),
			Body:   body,

			Attachment: m.Attachment,
		}
		entries = append(entries, entry)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := transcriptTemplate.Execute(w, entries); err != nil {
		slog.Error("failed to render transcript", "error", err)
	}
}
