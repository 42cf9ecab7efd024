package content

import (
	"strings"
	"testing"

	"kazoku/internal/models"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Plain text", "Hello World", "Hello World"},
		{"HTML tags", "Hello <b>World</b>", "Hello <b>World</b>"},
		{"Script tag", "<script>alert('xss')</script>Hello", "Hello"},
		{"Complex HTML", "<a href='javascript:alert(1)'>Click me</a>", "Click me"},
		{"Emoji", "I am 🤖", "I am 🤖"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.input); got != tt.expected {
				t.Errorf("Sanitize() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestEscape(t *testing.T) {
	if got := Escape("<div>Hello</div>"); got != "&lt;div&gt;Hello&lt;/div&gt;" {
		t.Errorf("Escape() = %v", got)
	}
}

func TestNormalizeDisplayName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"Simple", "Alice", "Alice", false},
		{"Trimmed", "  Bob  ", "Bob", false},
		{"Twenty characters", strings.Repeat("a", 20), strings.Repeat("a", 20), false},
		{"Too long", strings.Repeat("a", 21), "", true},
		{"Multibyte counts runes", strings.Repeat("家", 20), strings.Repeat("家", 20), false},
		{"Empty", "", "", true},
		{"Only markup", "<script>x</script>", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeDisplayName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizeDisplayName() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("NormalizeDisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectAttachmentKind(t *testing.T) {
	png := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0x0D, 0x49, 0x48, 0x44, 0x52}
	webm := []byte{0x1A, 0x45, 0xDF, 0xA3, 0x93, 0x42, 0x82, 0x88, 0x6D, 0x61, 0x74, 0x72, 0x6F, 0x73, 0x6B, 0x61}
	pdf := []byte("%PDF-1.7\n")

	kind, mime, err := DetectAttachmentKind(png)
	if err != nil || kind != models.AttachmentKindImage || mime != "image/png" {
		t.Errorf("png: got %q %q %v", kind, mime, err)
	}

	kind, _, err = DetectAttachmentKind(webm)
	if err != nil || kind != models.AttachmentKindVideo {
		t.Errorf("mkv: got %q %v", kind, err)
	}

	if _, _, err := DetectAttachmentKind(pdf); err != ErrUnsupportedAttachment {
		t.Errorf("pdf: expected ErrUnsupportedAttachment, got %v", err)
	}
	if _, _, err := DetectAttachmentKind([]byte("hello")); err != ErrUnsupportedAttachment {
		t.Errorf("text: expected ErrUnsupportedAttachment, got %v", err)
	}
}

func TestRender(t *testing.T) {
	html, err := Render("**hi** <script>alert(1)</script>")
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(string(html), "<strong>hi</strong>") {
		t.Errorf("expected bold markup, got %s", html)
	}
	if strings.Contains(string(html), "<script>") {
		t.Errorf("script survived rendering: %s", html)
	}
}
