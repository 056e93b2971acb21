package tiered_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/adapter/tiered"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/cache/cachetest"
)

// memCache is a simple in-memory cache for testing.
type memCache struct {
	data map[string][]byte
	ttls map[string]time.Duration
}

// brokenCache fails every call, standing in for an unreachable L2.
type brokenCache struct{}

var errDown = errors.New("l2 down")

func (brokenCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, errDown }
func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errDown
}
func (brokenCache) Delete(context.Context, string) error { return errDown }

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (m *memCache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func TestTiered_L1Hit(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	ctx := context.Background()

	// Set only in L1
	l1.data["key1"] = []byte("val1")

	val, found, err := c.Get(ctx, "key1")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected L1 hit")
	}
	if string(val) != "val1" {
		t.Fatalf("expected val1, got %s", val)
	}
}

func TestTiered_L2HitWithBackfill(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	ctx := context.Background()

	// Set only in L2
	l2.data["key2"] = []byte("val2")

	val, found, err := c.Get(ctx, "key2")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected L2 hit")
	}
	if string(val) != "val2" {
		t.Fatalf("expected val2, got %s", val)
	}

	// Verify backfill into L1
	l1Val, ok := l1.data["key2"]
	if !ok {
		t.Fatal("expected L1 backfill")
	}
	if string(l1Val) != "val2" {
		t.Fatalf("expected backfilled val2, got %s", l1Val)
	}
}

func TestTiered_Miss(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	ctx := context.Background()

	_, found, err := c.Get(ctx, "missing")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected miss")
	}
}

func TestTiered_SetBoth(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	ctx := context.Background()

	if err := c.Set(ctx, "key3", []byte("val3"), time.Minute); err != nil {
		t.Fatal(err)
	}

	if _, ok := l1.data["key3"]; !ok {
		t.Fatal("expected key3 in L1")
	}
	if _, ok := l2.data["key3"]; !ok {
		t.Fatal("expected key3 in L2")
	}
}

func TestTiered_DeleteBoth(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	ctx := context.Background()

	l1.data["key4"] = []byte("val4")
	l2.data["key4"] = []byte("val4")

	if err := c.Delete(ctx, "key4"); err != nil {
		t.Fatal(err)
	}

	if _, ok := l1.data["key4"]; ok {
		t.Fatal("expected key4 deleted from L1")
	}
	if _, ok := l2.data["key4"]; ok {
		t.Fatal("expected key4 deleted from L2")
	}
}

func TestTiered_Compliance(t *testing.T) {
	cachetest.RunComplianceTests(t, tiered.New(newMemCache(), newMemCache(), time.Minute))
}

func TestTiered_NilL2(t *testing.T) {
	cachetest.RunComplianceTests(t, tiered.New(newMemCache(), nil, time.Minute))
}

func TestTiered_L2FailureDegrades(t *testing.T) {
	l1 := newMemCache()
	c := tiered.New(l1, brokenCache{}, time.Minute)
	ctx := context.Background()

	if err := c.Set(ctx, "payment:0x1", []byte("p"), time.Hour); err != nil {
		t.Fatalf("l2 set failure must not fail Set: %v", err)
	}
	val, found, err := c.Get(ctx, "payment:0x1")
	if err != nil || !found || string(val) != "p" {
		t.Fatalf("expected L1 hit, got %q found=%v err=%v", val, found, err)
	}

	_, found, err = c.Get(ctx, "payment:0x2")
	if err != nil {
		t.Fatalf("l2 get failure must read as a miss, got %v", err)
	}
	if found {
		t.Fatal("expected miss")
	}
}

func TestTiered_L1TTLCapped(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, time.Minute)

	_ = c.Set(context.Background(), "k", []byte("v"), 24*time.Hour)

	if l1.ttls["k"] != time.Minute {
		t.Errorf("expected L1 TTL capped at 1m, got %v", l1.ttls["k"])
	}
	if l2.ttls["k"] != 24*time.Hour {
		t.Errorf("expected L2 TTL 24h, got %v", l2.ttls["k"])
	}
}
