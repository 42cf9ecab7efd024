package filestore

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"kazoku/internal/models"
)

func TestLocalFileStore(t *testing.T) {
	store, err := NewLocalFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	hash, size, err := Put(store, strings.NewReader("hello attachment"), 1024)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if size != 16 {
		t.Errorf("expected size 16, got %d", size)
	}
	if len(hash) != 64 {
		t.Errorf("expected sha256 hex, got %q", hash)
	}

	// Same content, same hash, no error.
	hash2, _, err := Put(store, strings.NewReader("hello attachment"), 1024)
	if err != nil || hash2 != hash {
		t.Errorf("expected idempotent put, got %q %v", hash2, err)
	}

	rc, err := store.Get(hash)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer func() { _ = rc.Close() }()
	data, _ := io.ReadAll(rc)
	if string(data) != "hello attachment" {
		t.Errorf("unexpected content %q", data)
	}

	missing := strings.Repeat("ab", 32)
	if _, err := store.Get(missing); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing hash, got %v", err)
	}
}

func TestLocalFileStore_InvalidHash(t *testing.T) {
	store, err := NewLocalFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	for _, hash := range []string{"", "missing", "../../etc/passwd", strings.Repeat("AB", 32), strings.Repeat("zz", 32)} {
		if _, err := store.Get(hash); !errors.Is(err, ErrInvalidHash) {
			t.Errorf("Get(%q): expected ErrInvalidHash, got %v", hash, err)
		}
		if err := store.Save(strings.NewReader("x"), hash); !errors.Is(err, ErrInvalidHash) {
			t.Errorf("Save(%q): expected ErrInvalidHash, got %v", hash, err)
		}
	}
}

func TestPut_TooLarge(t *testing.T) {
	store, err := NewLocalFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = Put(store, bytes.NewReader(make([]byte, 11)), 10)
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}

	_, size, err := Put(store, bytes.NewReader(make([]byte, 10)), 10)
	if err != nil {
		t.Fatalf("upload at limit rejected: %v", err)
	}
	if size != 10 {
		t.Errorf("unexpected size %d", size)
	}
}
