package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"kazoku/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketProfiles     = []byte("profiles")
	bucketMessages     = []byte("messages")
	bucketMessageIndex = []byte("message_index")
	bucketFiles        = []byte("files")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketProfiles, bucketMessages, bucketMessageIndex, bucketFiles} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// UpsertProfile stores a new or updated profile.
func (s *BboltStorage) UpsertProfile(p models.Profile) error {
	if p.ID == "" {
		return errors.New("profile missing id")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbProfile := &DBProfile{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			AvatarURL:   p.AvatarURL,
			UpdatedAt:   p.UpdatedAt.UnixNano(),
		}
		data, err := dbProfile.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketProfiles).Put(dbProfile.Key(), data)
	})
}

func (s *BboltStorage) GetProfile(id string) (models.Profile, error) {
	var p models.Profile
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		p, err = getProfile(tx, id)
		return err
	})
	return p, err
}

// ListProfiles returns all profiles in id order.
func (s *BboltStorage) ListProfiles() ([]models.Profile, error) {
	var profiles []models.Profile
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketProfiles).ForEach(func(k, v []byte) error {
			var dbProfile DBProfile
			if err := dbProfile.UnmarshalBinary(v); err != nil {
				return err
			}
			profiles = append(profiles, dbProfile.toModel())
			return nil
		})
	})
	return profiles, err
}

// InsertMessage stores a message. The author must exist.
func (s *BboltStorage) InsertMessage(m models.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.CreatedAt.IsZero() {
		return errors.New("message missing createdAt")
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := getProfile(tx, m.AuthorID); err != nil {
			return fmt.Errorf("author %s: %w", m.AuthorID, err)
		}

		index := tx.Bucket(bucketMessageIndex)
		if index.Get([]byte(m.ID)) != nil {
			return fmt.Errorf("message %s already exists", m.ID)
		}

		dbMessage := &DBMessage{
			ID:        m.ID,
			AuthorID:  m.AuthorID,
			Content:   m.Content,
			CreatedAt: m.CreatedAt.UnixNano(),
		}
		if m.Attachment != nil {
			dbMessage.Attachment = &DBAttachment{URL: m.Attachment.URL, Kind: string(m.Attachment.Kind)}
		}

		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		key := dbMessage.Key()
		if err := tx.Bucket(bucketMessages).Put(key, data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}
		return index.Put([]byte(m.ID), key)
	})
}

// DeleteMessage hard-deletes a message.
func (s *BboltStorage) DeleteMessage(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		index := tx.Bucket(bucketMessageIndex)
		key := index.Get([]byte(id))
		if key == nil {
			return fmt.Errorf("message %s: %w", id, models.ErrNotFound)
		}
		if err := tx.Bucket(bucketMessages).Delete(key); err != nil {
			return err
		}
		return index.Delete([]byte(id))
	})
}

// ListMessages returns every message ascending by creation time, joined
// with its author's current profile. Rows whose author is gone are left out.
func (s *BboltStorage) ListMessages() ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		authors := make(map[string]models.Profile)
		return tx.Bucket(bucketMessages).ForEach(func(k, v []byte) error {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}

			author, ok := authors[dbMsg.AuthorID]
			if !ok {
				var err error
				author, err = getProfile(tx, dbMsg.AuthorID)
				if err != nil {
					slog.Warn("skipping message without author", "message_id", dbMsg.ID, "author_id", dbMsg.AuthorID)
					return nil
				}
				authors[dbMsg.AuthorID] = author
			}

			msg := models.Message{
				ID:        dbMsg.ID,
				AuthorID:  dbMsg.AuthorID,
				Author:    author,
				Content:   dbMsg.Content,
				CreatedAt: time.Unix(0, dbMsg.CreatedAt).UTC(),
			}
			if dbMsg.Attachment != nil {
				msg.Attachment = &models.Attachment{
					URL:  dbMsg.Attachment.URL,
					Kind: models.AttachmentKind(dbMsg.Attachment.Kind),
				}
			}
			messages = append(messages, msg)
			return nil
		})
	})
	return messages, err
}

func getProfile(tx *bbolt.Tx, id string) (models.Profile, error) {
	data := tx.Bucket(bucketProfiles).Get([]byte(id))
	if data == nil {
		return models.Profile{}, fmt.Errorf("profile %s: %w", id, models.ErrNotFound)
	}
	var dbProfile DBProfile
	if err := dbProfile.UnmarshalBinary(data); err != nil {
		return models.Profile{}, err
	}
	return dbProfile.toModel(), nil
}

func (p *DBProfile) toModel() models.Profile {
	return models.Profile{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		AvatarURL:   p.AvatarURL,
		UpdatedAt:   time.Unix(0, p.UpdatedAt).UTC(),
	}
}
