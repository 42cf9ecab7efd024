package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"time"

	"kazoku/internal/content"
	"kazoku/internal/filestore"
	"kazoku/internal/models"
	"kazoku/internal/storage"

	"github.com/google/uuid"
)

type ChangePublisher interface {
	Publish(ev models.ChangeEvent)
}

// Fanout publishes every change to each of its publishers in order.
type Fanout []ChangePublisher

func (f Fanout) Publish(ev models.ChangeEvent) {
	for _, p := range f {
		p.Publish(ev)
	}
}

type API struct {
	store *storage.BboltStorage
	files filestore.FileStore
	hub   ChangePublisher
	now   func() time.Time
}

func New(store *storage.BboltStorage, files filestore.FileStore, hub ChangePublisher) *API {
	return &API{
		store: store,
		files: files,
		hub:   hub,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

type PostMessageRequest struct {
	AuthorID   string             `json:"authorId"`
	Content    string             `json:"content"`
	Attachment *models.Attachment `json:"attachment,omitempty"`
}

type PutProfileRequest struct {
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

type UploadResponse struct {
	URL  string                `json:"url"`
	Kind models.AttachmentKind `json:"kind"`
	Size int64                 `json:"size"`
}

// MessagesHandler returns the whole log ascending by creation time.
func (a *API) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	messages, err := a.store.ListMessages()
	if err != nil {
		slog.Error("failed to list messages", "error", err)
		http.Error(w, "Failed to list messages", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

func (a *API) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	msg := models.Message{
		ID:         uuid.NewString(),
		AuthorID:   req.AuthorID,
		Content:    content.NormalizeMessageText(req.Content),
		Attachment: req.Attachment,
		CreatedAt:  a.now(),
	}
	if err := msg.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	author, err := a.store.GetProfile(msg.AuthorID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			http.Error(w, "Unknown author", http.StatusBadRequest)
			return
		}
		slog.Error("failed to get author", "author_id", msg.AuthorID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if err := a.store.InsertMessage(msg); err != nil {
		slog.Error("failed to insert message", "message_id", msg.ID, "error", err)
		http.Error(w, "Failed to store message", http.StatusInternalServerError)
		return
	}

	// Subscribers only get the author id and must resolve the profile.
	a.hub.Publish(models.ChangeEvent{
		Kind: models.ChangeKindInsert,
		Row: models.ChangeRow{
			ID:         msg.ID,
			AuthorID:   msg.AuthorID,
			Content:    msg.Content,
			Attachment: msg.Attachment,
			CreatedAt:  msg.CreatedAt,
		},
	})

	msg.Author = author
	writeJSON(w, http.StatusCreated, msg)
}

func (a *API) DeleteMessageHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.store.DeleteMessage(id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			http.Error(w, "Message not found", http.StatusNotFound)
			return
		}
		slog.Error("failed to delete message", "message_id", id, "error", err)
		http.Error(w, "Failed to delete message", http.StatusInternalServerError)
		return
	}

	a.hub.Publish(models.ChangeEvent{
		Kind: models.ChangeKindDelete,
		Row:  models.ChangeRow{ID: id},
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) GetProfileHandler(w http.ResponseWriter, r *http.Request) {
	profile, err := a.store.GetProfile(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			http.Error(w, "Profile not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (a *API) PutProfileHandler(w http.ResponseWriter, r *http.Request) {
	var req PutProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	profile, err := a.upsertProfile(r.PathValue("id"), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (a *API) upsertProfile(id string, req PutProfileRequest) (models.Profile, error) {
	name, err := content.NormalizeDisplayName(req.DisplayName)
	if err != nil {
		return models.Profile{}, err
	}

	profile := models.Profile{
		ID:          id,
		DisplayName: name,
		AvatarURL:   req.AvatarURL,
		UpdatedAt:   a.now(),
	}
	if err := a.store.UpsertProfile(profile); err != nil {
		return models.Profile{}, err
	}
	return profile, nil
}

// UploadHandler stores an image or video sent as the raw request body.
func (a *API) UploadHandler(w http.ResponseWriter, r *http.Request) {
	authorID := r.URL.Query().Get("authorId")
	if _, err := a.store.GetProfile(authorID); err != nil {
		http.Error(w, "Unknown author", http.StatusBadRequest)
		return
	}

	body := bufio.NewReaderSize(http.MaxBytesReader(w, r.Body, content.MaxUploadSize+1), content.SniffLen)
	head, err := body.Peek(content.SniffLen)
	if err != nil && len(head) == 0 {
		http.Error(w, "Empty upload", http.StatusBadRequest)
		return
	}

	kind, mime, err := content.DetectAttachmentKind(head)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
		return
	}

	hash, size, err := filestore.Put(a.files, body, content.MaxUploadSize)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.Is(err, filestore.ErrTooLarge) || errors.As(err, &maxErr) {
			http.Error(w, "File too large", http.StatusRequestEntityTooLarge)
			return
		}
		slog.Error("failed to save upload", "author_id", authorID, "error", err)
		http.Error(w, "Failed to save file", http.StatusInternalServerError)
		return
	}

	meta := storage.FileMetadata{
		Hash:      hash,
		MimeType:  mime,
		Kind:      string(kind),
		Size:      size,
		CreatedAt: a.now().Unix(),
		AuthorID:  authorID,
	}
	if err := a.store.UpsertFileMetadata(meta); err != nil {
		slog.Error("failed to save file metadata", "hash", hash, "error", err)
		http.Error(w, "Failed to save file", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, UploadResponse{
		URL:  "/api/files/" + hash,
		Kind: kind,
		Size: size,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}
