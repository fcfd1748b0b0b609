package utils

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// FallbackID returns a best-effort locally-unique message identifier. Used in
// place of a durable-store id when a save fails: the message still needs a
// stable id to round-trip to other connections. Always negative, so it can
// never collide with the store's AUTOINCREMENT id space.
func FallbackID() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err == nil {
		n := int64(binary.BigEndian.Uint64(buf[:]) >> 1)
		if n == 0 {
			n = 1
		}
		return -n
	}

	// Fallback to timestamp if crypto/rand is unavailable.
	return -time.Now().UnixNano()
}
