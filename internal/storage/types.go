package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBProfile struct {
	ID          string `msgpack:"id"`
	DisplayName string `msgpack:"displayName"`
	AvatarURL   string `msgpack:"avatarUrl"`
	UpdatedAt   int64  `msgpack:"updatedAt"` // Unix nanoseconds
}

func (p *DBProfile) Key() []byte {
	return []byte(p.ID)
}

func (p *DBProfile) MarshalBinary() (data []byte, err error) {
	type alias DBProfile
	return msgpack.Marshal((*alias)(p))
}

func (p *DBProfile) UnmarshalBinary(data []byte) error {
	type alias DBProfile
	return msgpack.Unmarshal(data, (*alias)(p))
}

type DBMessage struct {
	ID         string        `msgpack:"id"`
	AuthorID   string        `msgpack:"authorId"`
	Content    string        `msgpack:"content"`
	Attachment *DBAttachment `msgpack:"attachment,omitempty"`
	CreatedAt  int64         `msgpack:"createdAt"` // Unix nanoseconds
}

type DBAttachment struct {
	URL  string `msgpack:"url"`
	Kind string `msgpack:"kind"`
}

// Key orders messages by creation time; the id suffix keeps keys unique
// when two messages share a timestamp.
func (m *DBMessage) Key() []byte {
	key := make([]byte, 8, 8+len(m.ID))
	binary.BigEndian.PutUint64(key, uint64(m.CreatedAt))
	return append(key, m.ID...)
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}
