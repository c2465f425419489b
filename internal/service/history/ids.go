package history

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// GenerateID returns a time-ordered unique id for sessions and messages.
func GenerateID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Entropy exhaustion; millisecond timestamp plus random suffix still avoids collisions.
		buf := make([]byte, 6)
		_, _ = rand.Read(buf)
		return strconv.FormatInt(time.Now().UnixMilli(), 10) + hex.EncodeToString(buf)
	}
	return id.String()
}
