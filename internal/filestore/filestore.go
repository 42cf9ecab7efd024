package filestore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

var ErrTooLarge = errors.New("file too large")

// FileStore stores and retrieves attachment bytes by content hash.
type FileStore interface {
	// Save stores content under hash. Saving an existing hash is a no-op.
	Save(r io.Reader, hash string) error

	Get(hash string) (io.ReadCloser, error)
}

// Put reads at most limit bytes from r and stores them under their sha256.
func Put(fs FileStore, r io.Reader, limit int64) (hash string, size int64, err error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, limit+1))
	if err != nil {
		return "", 0, fmt.Errorf("failed to read upload: %w", err)
	}
	if n > limit {
		return "", 0, ErrTooLarge
	}

	sum := sha256.Sum256(buf.Bytes())
	hash = hex.EncodeToString(sum[:])
	if err := fs.Save(&buf, hash); err != nil {
		return "", 0, err
	}
	return hash, n, nil
}
