// Package idgen generates sortable unique identifiers for records and
// transaction log entries. Lexicographic order of generated ids matches
// creation order within a process, which is what breaks timestamp ties
// during consolidation.
package idgen

import (
	"crypto/rand"
	"sync/atomic"
	"time"
)

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

var counter atomic.Uint64

// New returns a 16-character id: 8 chars of millisecond timestamp, 4 of a
// process-local sequence, 4 of randomness.
func New() string {
	buf := make([]byte, 16)
	encodePadded(buf[0:8], uint64(time.Now().UnixMilli()))
	encodePadded(buf[8:12], counter.Add(1)%(62*62*62*62))
	randomTail(buf[12:16])
	return string(buf)
}

func encodePadded(dst []byte, n uint64) {
	for i := len(dst) - 1; i >= 0; i-- {
		dst[i] = alphabet[n%62]
		n /= 62
	}
}

func randomTail(dst []byte) {
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		// fall back to the counter; uniqueness still holds per process
		encodePadded(dst, counter.Add(1))
		return
	}
	for i := range dst {
		dst[i] = alphabet[int(raw[i])%62]
	}
}
