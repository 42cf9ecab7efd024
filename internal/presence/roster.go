package presence

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"kazoku/internal/metrics"
	"kazoku/internal/models"
)

var ErrMalformedRecord = errors.New("malformed presence record")

// Roster maps user id to that user's presence record.
type Roster map[string]models.PresenceRecord

// ParseRecord checks a raw record against the expected shape: userId and
// username are required non-empty strings, avatarUrl must be a string and
// isTyping a boolean when present.
func ParseRecord(raw json.RawMessage) (models.PresenceRecord, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return models.PresenceRecord{}, fmt.Errorf("%w: not an object", ErrMalformedRecord)
	}

	var rec models.PresenceRecord
	var ok bool
	if rec.UserID, ok = fields["userId"].(string); !ok || rec.UserID == "" {
		return models.PresenceRecord{}, fmt.Errorf("%w: missing userId", ErrMalformedRecord)
	}
	if rec.Username, ok = fields["username"].(string); !ok || rec.Username == "" {
		return models.PresenceRecord{}, fmt.Errorf("%w: missing username", ErrMalformedRecord)
	}
	if v, present := fields["avatarUrl"]; present && v != nil {
		if rec.AvatarURL, ok = v.(string); !ok {
			return models.PresenceRecord{}, fmt.Errorf("%w: avatarUrl is not a string", ErrMalformedRecord)
		}
	}
	if v, present := fields["isTyping"]; present && v != nil {
		if rec.IsTyping, ok = v.(bool); !ok {
			return models.PresenceRecord{}, fmt.Errorf("%w: isTyping is not a boolean", ErrMalformedRecord)
		}
	}
	return rec, nil
}

// BuildRoster rebuilds the roster from a full presence state. Malformed
// records are left out. A user tracked from several connections appears
// once and counts as typing if any of the connections is typing.
func BuildRoster(state models.PresenceState) Roster {
	roster := make(Roster, len(state))

	// Visit keys in order so the record kept for a multi-connection user is stable.
	for _, key := range slices.Sorted(maps.Keys(state)) {
		for _, raw := range state[key] {
			rec, err := ParseRecord(raw)
			if err != nil {
				slog.Debug("excluding presence record", "key", key, "error", err)
				metrics.PresenceRecordsRejected.Inc()
				continue
			}
			if prev, ok := roster[rec.UserID]; ok && prev.IsTyping {
				rec.IsTyping = true
			}
			roster[rec.UserID] = rec
		}
	}
	return roster
}

// Others lists everyone except selfID, sorted by username.
func (r Roster) Others(selfID string) []models.PresenceRecord {
	return r.filter(selfID, func(models.PresenceRecord) bool { return true })
}

// Typing lists everyone except selfID who is typing, sorted by username.
func (r Roster) Typing(selfID string) []models.PresenceRecord {
	return r.filter(selfID, func(rec models.PresenceRecord) bool { return rec.IsTyping })
}

func (r Roster) filter(selfID string, keep func(models.PresenceRecord) bool) []models.PresenceRecord {
	var result []models.PresenceRecord
	for id, rec := range r {
		if id != selfID && keep(rec) {
			result = append(result, rec)
		}
	}
	slices.SortFunc(result, func(a, b models.PresenceRecord) int {
		if c := strings.Compare(a.Username, b.Username); c != 0 {
			return c
		}
		return strings.Compare(a.UserID, b.UserID)
	})
	return result
}
