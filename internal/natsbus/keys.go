package natsbus

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"

	"kazoku/internal/models"

	"github.com/google/uuid"
)

func changeSubject(room string) string {
	return "kazoku." + sanitize(room) + ".changes"
}

func bucketName(room string) string {
	return "KAZOKU_PRESENCE_" + strings.ToUpper(sanitize(room))
}

// presenceKey is "<userId>.<connId>".
func presenceKey(userID, connID string) string {
	return userID + "." + connID
}

func splitPresenceKey(key string) (userID, connID string, ok bool) {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func newConnID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// buildState groups the mirrored records by user, connections in key order.
func buildState(mirror map[string][]byte) models.PresenceState {
	state := make(models.PresenceState)
	for _, key := range slices.Sorted(maps.Keys(mirror)) {
		userID, _, ok := splitPresenceKey(key)
		if !ok {
			continue
		}
		state[userID] = append(state[userID], json.RawMessage(mirror[key]))
	}
	return state
}

func validToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !isTokenRune(r) {
			return false
		}
	}
	return true
}

func isTokenRune(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' || r == '='
}

// sanitize maps a room name onto characters valid in subjects and bucket names.
func sanitize(room string) string {
	return strings.Map(func(r rune) rune {
		if r == '=' || !isTokenRune(r) {
			return '_'
		}
		return r
	}, room)
}
