// Package cache defines the port interface for the arbiter's byte caches.
// Every cache in the arbiter is non-authoritative: a miss means "not cached",
// never "does not exist".
package cache

import (
	"context"
	"time"
)

// Cache is the port interface for key-value caching.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Key namespaces.
const (
	evidencePrefix = "evidence:"
	paymentPrefix  = "payment:"
)

// EvidenceKey is the cache key for resolved content of a content address.
func EvidenceKey(identifier string) string { return evidencePrefix + identifier }

// PaymentKey is the cache key for a payment record by its hash.
func PaymentKey(hash string) string { return paymentPrefix + hash }
