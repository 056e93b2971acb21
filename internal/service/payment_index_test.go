package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/dispute"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/payment"
)

func TestPaymentIndexFallsBackToLedger(t *testing.T) {
	l := newFakeLedger()
	key := testKey(t, 0)
	l.addDispute(key, 0)
	store := newMemStore()
	idx := NewPaymentIndex(l, newMemCache(), store, time.Minute)

	for range 3 {
		info, err := idx.Get(context.Background(), strings.ToUpper(strings.TrimPrefix(testPaymentHash, "0x")))
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if info.Payer != "0xpayer" {
			t.Errorf("payer = %q", info.Payer)
		}
	}
	if l.paymentReads != 1 {
		t.Errorf("ledger reads = %d, want 1", l.paymentReads)
	}
	if n, _ := store.CountPayments(context.Background()); n != 1 {
		t.Errorf("store not backfilled, count = %d", n)
	}
}

func TestPaymentIndexPrefersStore(t *testing.T) {
	l := newFakeLedger()
	store := newMemStore()
	_ = store.UpsertPayment(context.Background(), payment.Info{Hash: testPaymentHash, Payer: "0xstored", Receiver: "0xr", Amount: "1"})
	idx := NewPaymentIndex(l, nil, store, time.Minute)

	info, err := idx.Get(context.Background(), testPaymentHash)
	if err != nil {
		t.Fatal(err)
	}
	if info.Payer != "0xstored" || l.paymentReads != 0 {
		t.Errorf("expected store hit, got %+v reads=%d", info, l.paymentReads)
	}
}

func TestPaymentIndexStoreErrorFallsBack(t *testing.T) {
	l := newFakeLedger()
	l.addDispute(testKey(t, 0), 0)
	store := newMemStore()
	store.getErr = errors.New("connection refused")
	idx := NewPaymentIndex(l, nil, store, time.Minute)

	if _, err := idx.Get(context.Background(), testPaymentHash); err != nil {
		t.Fatalf("expected ledger fallback, got %v", err)
	}
}

func TestPaymentIndexCorruptCacheEntry(t *testing.T) {
	l := newFakeLedger()
	l.addDispute(testKey(t, 0), 0)
	c := newMemCache()
	_ = c.Set(context.Background(), "payment:"+testPaymentHash, []byte("{not json"), time.Minute)
	idx := NewPaymentIndex(l, c, nil, time.Minute)

	info, err := idx.Get(context.Background(), testPaymentHash)
	if err != nil {
		t.Fatal(err)
	}
	if info.Receiver != "0xreceiver" {
		t.Errorf("receiver = %q", info.Receiver)
	}
}

func TestPaymentIndexForDispute(t *testing.T) {
	l := newFakeLedger()
	key := testKey(t, 3)
	l.addDispute(key, 3)
	idx := NewPaymentIndex(l, nil, nil, time.Minute)

	info, err := idx.ForDispute(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if info.Hash != testPaymentHash {
		t.Errorf("hash = %s", info.Hash)
	}
	if _, err := idx.ForDispute(context.Background(), testKey(t, 4)); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPaymentIndexRebuild(t *testing.T) {
	l := newFakeLedger()
	known := testKey(t, 0)
	l.addDispute(known, 0)
	store := newMemStore()
	idx := NewPaymentIndex(l, nil, store, time.Minute)

	n, err := idx.Rebuild(context.Background(), []dispute.Key{known, testKey(t, 1)})
	if n != 1 {
		t.Errorf("indexed = %d, want 1", n)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected joined ErrNotFound, got %v", err)
	}
	if got, _ := store.GetPayment(context.Background(), testPaymentHash); got == nil || got.IndexedAt.IsZero() {
		t.Errorf("rebuilt payment missing IndexedAt: %+v", got)
	}
}
