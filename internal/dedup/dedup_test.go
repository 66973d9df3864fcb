package dedup

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)}
}

func TestKeyPrefersExplicitKey(t *testing.T) {
	if got := Key([]byte(`{"a":1}`), " k1 "); got != "idem:k1" {
		t.Fatalf("Key = %q", got)
	}
}

func TestKeyHashIsCanonical(t *testing.T) {
	a := Key([]byte(`{"b": 2, "a": {"y": 1.50, "x": "s"}}`), "")
	b := Key([]byte(`{"a":{"x":"s","y":1.50},"b":2}`), "")
	if a != b {
		t.Fatalf("reordered JSON should hash identically: %s vs %s", a, b)
	}
	if c := Key([]byte(`{"a":{"x":"s","y":1.5},"b":3}`), ""); c == a {
		t.Fatal("different bodies must not collide")
	}
	if Key([]byte("not json"), "") == Key([]byte("not json!"), "") {
		t.Fatal("raw bodies should hash by bytes")
	}
}

func TestCheckAndMarkWithinAndAfterTTL(t *testing.T) {
	clock := newClock()
	store := NewMemoryStore(clock.Now)
	d := New(store, 5*time.Minute)
	ctx := context.Background()

	first, err := d.CheckAndMark(ctx, []byte(`{}`), "k1")
	if err != nil || first.Duplicate {
		t.Fatalf("first delivery should be new: %+v %v", first, err)
	}

	clock.Advance(4*time.Minute + 59*time.Second)
	second, err := d.CheckAndMark(ctx, []byte(`{"other":true}`), "k1")
	if err != nil || !second.Duplicate {
		t.Fatalf("repeat within TTL should be duplicate: %+v %v", second, err)
	}

	clock.Advance(time.Second)
	third, err := d.CheckAndMark(ctx, []byte(`{}`), "k1")
	if err != nil || third.Duplicate {
		t.Fatalf("repeat after TTL should be new: %+v %v", third, err)
	}
}

func TestDuplicateDoesNotExtendWindow(t *testing.T) {
	clock := newClock()
	d := New(NewMemoryStore(clock.Now), time.Minute)
	ctx := context.Background()

	_, _ = d.CheckAndMark(ctx, nil, "k")
	clock.Advance(30 * time.Second)
	if r, _ := d.CheckAndMark(ctx, nil, "k"); !r.Duplicate {
		t.Fatal("expected duplicate")
	}
	clock.Advance(30 * time.Second)
	if r, _ := d.CheckAndMark(ctx, nil, "k"); r.Duplicate {
		t.Fatal("duplicate lookups must not refresh the expiry")
	}
}

func TestReleaseForgetsKey(t *testing.T) {
	d := New(NewMemoryStore(nil), 0)
	ctx := context.Background()
	r, _ := d.CheckAndMark(ctx, nil, "k")
	if r.Token == "" {
		t.Fatal("a fresh claim should carry a token")
	}
	if err := d.Release(ctx, r); err != nil {
		t.Fatal(err)
	}
	if again, _ := d.CheckAndMark(ctx, nil, "k"); again.Duplicate {
		t.Fatal("released key should be claimable again")
	}
	if d.TTL() != DefaultTTL {
		t.Fatalf("default ttl = %s", d.TTL())
	}
}

func TestReleaseKeepsNewerClaim(t *testing.T) {
	clock := newClock()
	d := New(NewMemoryStore(clock.Now), time.Minute)
	ctx := context.Background()

	stale, _ := d.CheckAndMark(ctx, nil, "k")
	clock.Advance(2 * time.Minute)
	fresh, _ := d.CheckAndMark(ctx, nil, "k")
	if fresh.Duplicate || fresh.Token == stale.Token {
		t.Fatalf("expired key should be re-claimed with a new token: %+v", fresh)
	}

	if err := d.Release(ctx, stale); err != nil {
		t.Fatal(err)
	}
	if r, _ := d.CheckAndMark(ctx, nil, "k"); !r.Duplicate {
		t.Fatal("releasing a stale claim must not drop the newer one")
	}

	dup, _ := d.CheckAndMark(ctx, nil, "k")
	if err := d.Release(ctx, dup); err != nil {
		t.Fatal(err)
	}
	if r, _ := d.CheckAndMark(ctx, nil, "k"); !r.Duplicate {
		t.Fatal("releasing a duplicate result is a no-op")
	}

	if err := d.Release(ctx, fresh); err != nil {
		t.Fatal(err)
	}
	if r, _ := d.CheckAndMark(ctx, nil, "k"); r.Duplicate {
		t.Fatal("owner release should free the key")
	}
}

func TestMemoryStoreSweep(t *testing.T) {
	clock := newClock()
	store := NewMemoryStore(clock.Now)
	ctx := context.Background()

	_, _ = store.Claim(ctx, "short", "t1", time.Second)
	_, _ = store.Claim(ctx, "long", "t2", time.Hour)
	clock.Advance(time.Minute)

	removed, err := store.Sweep(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("Sweep removed %d (%v), want 1", removed, err)
	}
	if store.Len() != 1 {
		t.Fatalf("Len = %d", store.Len())
	}
}

func TestMemoryStoreConcurrentClaimIsAtomic(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()

	var winners int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := store.Claim(ctx, "same", "t", time.Minute); ok {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("exactly one claim should win, got %d", winners)
	}
}

func TestMemoryStoreRespectsCancelledContext(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Claim(ctx, "k", "t", time.Minute); err == nil {
		t.Fatal("cancelled claim should fail")
	}
	if store.Len() != 0 {
		t.Fatal("cancelled claim must not leave an entry")
	}
}

func TestRedisStoreClaim(t *testing.T) {
	url := os.Getenv("WHALERELAY_TEST_REDIS_URL")
	if url == "" {
		t.Skip("WHALERELAY_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	store, err := NewRedisStore(ctx, url, "whale-relay-test:")
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	defer store.Close()

	key := "k-" + time.Now().Format(time.RFC3339Nano)
	defer store.Release(ctx, key, "b")

	if ok, err := store.Claim(ctx, key, "a", time.Minute); err != nil || !ok {
		t.Fatalf("first claim should win: %v %v", ok, err)
	}
	if ok, err := store.Claim(ctx, key, "b", time.Minute); err != nil || ok {
		t.Fatalf("second claim should lose: %v %v", ok, err)
	}
	if err := store.Release(ctx, key, "b"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := store.Claim(ctx, key, "c", time.Minute); ok {
		t.Fatal("release with a foreign token must keep the key")
	}
	if err := store.Release(ctx, key, "a"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := store.Claim(ctx, key, "b", time.Minute); !ok {
		t.Fatal("released key should be claimable")
	}
}
