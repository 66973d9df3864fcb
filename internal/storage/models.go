package storage

import "time"

// DedupEntry is one claimed idempotency key.
type DedupEntry struct {
	Key       string
	ClaimedAt time.Time
	ExpiresAt time.Time
}
