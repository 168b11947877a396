package session

import (
	"math/rand"
	"strings"
)

const (
	roomPrefix   = "ft-"
	roomIDLength = 9
	base36       = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// GenerateRoomID returns a fresh room id of the form "ft-xxxxxxxxx".
func GenerateRoomID() string {
	var b strings.Builder
	b.Grow(len(roomPrefix) + roomIDLength)
	b.WriteString(roomPrefix)
	for i := 0; i < roomIDLength; i++ {
		b.WriteByte(base36[rand.Intn(len(base36))])
	}
	return b.String()
}

// ValidRoomID reports whether id has the shape GenerateRoomID produces.
func ValidRoomID(id string) bool {
	rest, ok := strings.CutPrefix(id, roomPrefix)
	if !ok || len(rest) != roomIDLength {
		return false
	}
	for i := 0; i < len(rest); i++ {
		if strings.IndexByte(base36, rest[i]) < 0 {
			return false
		}
	}
	return true
}
