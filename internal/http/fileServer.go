package http

import (
	"io"
	"log"
	"net/http"
	"strconv"

	"kazoku/internal/filestore"
	"kazoku/internal/storage"
)

// NewFileServerHandler serves uploaded attachments by content hash.
func NewFileServerHandler(files filestore.FileStore, store *storage.BboltStorage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hash := r.PathValue("hash")
		meta, err := store.GetFileMetadata(hash)
		if err != nil {
			http.NotFound(w, r)
			return
		}

		f, err := files.Get(hash)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		defer func() { _ = f.Close() }()

		w.Header().Set("Content-Type", meta.MimeType)
		w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
		// Content never changes for a given hash.
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		if _, err := io.Copy(w, f); err != nil {
			log.Printf("failed to serve file %s: %v", hash, err)
		}
	}
}
