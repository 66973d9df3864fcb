// Package dedup suppresses repeated deliveries of the same event within a TTL window.
package dedup

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long a key blocks re-delivery.
const DefaultTTL = 5 * time.Minute

// Store provides atomic claim semantics over keys with an expiry.
type Store interface {
	// Claim inserts key owned by token with the given ttl. It returns false when an unexpired entry exists.
	Claim(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// Release removes key only while token still owns it, so a later delivery is treated as new.
	Release(ctx context.Context, key, token string) error
}

// Sweeper is implemented by stores that can prune expired entries in bulk.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// Pinger is implemented by stores backed by a remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Result describes the outcome of CheckAndMark.
type Result struct {
	Key       string
	Token     string
	Duplicate bool
}

// Deduplicator derives keys and claims them in a Store.
type Deduplicator struct {
	store Store
	ttl   time.Duration
}

// New constructs a Deduplicator. A non-positive ttl uses DefaultTTL.
func New(store Store, ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Deduplicator{store: store, ttl: ttl}
}

// TTL returns the configured window.
func (d *Deduplicator) TTL() time.Duration {
	return d.ttl
}

// CheckAndMark claims the key for body. A duplicate leaves the store untouched.
func (d *Deduplicator) CheckAndMark(ctx context.Context, body []byte, explicitKey string) (Result, error) {
	key := Key(body, explicitKey)
	token := uuid.NewString()
	claimed, err := d.store.Claim(ctx, key, token, d.ttl)
	if err != nil {
		return Result{Key: key}, fmt.Errorf("claim dedup key: %w", err)
	}
	if !claimed {
		return Result{Key: key, Duplicate: true}, nil
	}
	return Result{Key: key, Token: token}, nil
}

// Release forgets a claim made by CheckAndMark. A key re-claimed by a later
// delivery after expiry is left alone.
func (d *Deduplicator) Release(ctx context.Context, mark Result) error {
	if mark.Duplicate || mark.Token == "" {
		return nil
	}
	if err := d.store.Release(ctx, mark.Key, mark.Token); err != nil {
		return fmt.Errorf("release dedup key: %w", err)
	}
	return nil
}

// Key returns the caller-supplied idempotency key, or a content hash of body.
// JSON bodies are re-encoded first so key order and whitespace do not matter.
func Key(body []byte, explicitKey string) string {
	if k := strings.TrimSpace(explicitKey); k != "" {
		return "idem:" + k
	}
	sum := sha256.Sum256(canonical(body))
	return "sha256:" + hex.EncodeToString(sum[:])
}

func canonical(body []byte) []byte {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return body
	}
	out, err := json.Marshal(v)
	if err != nil {
		return body
	}
	return out
}
