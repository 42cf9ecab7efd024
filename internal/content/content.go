package content

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"unicode/utf8"

	"kazoku/internal/models"

	"github.com/h2non/filetype"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

const (
	MaxDisplayNameLength = 20
	// MaxUploadSize limits attachment uploads.
	MaxUploadSize = 50 << 20
	// SniffLen is how many leading bytes DetectAttachmentKind needs.
	SniffLen = 262
)

var (
	ErrUnsupportedAttachment = errors.New("only image and video attachments are supported")

	policy   = bluemonday.UGCPolicy()
	markdown = goldmark.New()
)

// Sanitize removes unsafe HTML from the input string using a strict policy.
// It is used for sanitizing user inputs like display names and messages.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// Escape escapes special characters like "<" to become "&lt;".
func Escape(input string) string {
	return template.HTMLEscapeString(input)
}

// NormalizeDisplayName sanitizes and trims a display name and checks that it
// is between 1 and MaxDisplayNameLength characters long.
func NormalizeDisplayName(name string) (string, error) {
	name = strings.TrimSpace(Sanitize(name))
	if name == "" {
		return "", errors.New("display name cannot be empty")
	}
	if n := utf8.RuneCountInString(name); n > MaxDisplayNameLength {
		return "", fmt.Errorf("display name is %d characters long, at most %d allowed", n, MaxDisplayNameLength)
	}
	return name, nil
}

// NormalizeMessageText trims and sanitizes message text. The result may be
// empty, in which case the message needs an attachment.
func NormalizeMessageText(text string) string {
	return strings.TrimSpace(Sanitize(text))
}

// DetectAttachmentKind reports whether the content starting with head is an
// image or a video. Anything else is rejected.
func DetectAttachmentKind(head []byte) (models.AttachmentKind, string, error) {
	kind, err := filetype.Match(head)
	if err != nil || kind == filetype.Unknown {
		return "", "", ErrUnsupportedAttachment
	}
	switch {
	case filetype.IsImage(head):
		return models.AttachmentKindImage, kind.MIME.Value, nil
	case filetype.IsVideo(head):
		return models.AttachmentKindVideo, kind.MIME.Value, nil
	}
	return "", "", ErrUnsupportedAttachment
}

// Render converts markdown message text into sanitized HTML.
func Render(text string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return template.HTML(policy.SanitizeBytes(buf.Bytes())), nil
}
