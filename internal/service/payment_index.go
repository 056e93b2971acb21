package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/dispute"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/payment"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/cache"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/database"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/ledger"
)

// PaymentIndex resolves payment records for refunds. Lookups go cache, then
// the payments table, then the ledger, backfilling on the way out. Neither
// layer is authoritative: a miss means "not cached", never "does not exist".
type PaymentIndex struct {
	ledger ledger.Ledger
	cache  cache.Cache
	store  database.Store
	ttl    time.Duration
}

// NewPaymentIndex creates an index. cache and store may be nil.
func NewPaymentIndex(l ledger.Ledger, c cache.Cache, store database.Store, ttl time.Duration) *PaymentIndex {
	return &PaymentIndex{ledger: l, cache: c, store: store, ttl: ttl}
}

// Get returns the payment record behind hash.
func (p *PaymentIndex) Get(ctx context.Context, hash string) (*payment.Info, error) {
	hash = payment.NormalizeHash(hash)
	key := cache.PaymentKey(hash)

	if p.cache != nil {
		if data, ok, err := p.cache.Get(ctx, key); err == nil && ok {
			var info payment.Info
			if err := json.Unmarshal(data, &info); err == nil {
				return &info, nil
			}
			slog.Warn("payments: dropping undecodable cache entry", "hash", hash)
			_ = p.cache.Delete(ctx, key)
		}
	}

	if p.store != nil {
		info, err := p.store.GetPayment(ctx, hash)
		switch {
		case err == nil:
			p.cacheInfo(ctx, info)
			return info, nil
		case !errors.Is(err, domain.ErrNotFound):
			slog.Warn("payments: store lookup failed, falling back to ledger", "hash", hash, "error", err)
		}
	}

	info, err := p.ledger.GetPaymentInfo(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("payment %s: %w", hash, err)
	}
	p.remember(ctx, info)
	return info, nil
}

// ForDispute returns the payment record a dispute refers to.
func (p *PaymentIndex) ForDispute(ctx context.Context, key dispute.Key) (*payment.Info, error) {
	d, err := p.ledger.GetDispute(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("dispute %s: %w", key, err)
	}
	return p.Get(ctx, d.PaymentInfoHash)
}

// Rebuild re-reads the payment behind each dispute from the ledger and
// refreshes every layer. It returns the number of payments indexed.
func (p *PaymentIndex) Rebuild(ctx context.Context, keys []dispute.Key) (int, error) {
	var (
		indexed int
		errs    []error
	)
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return indexed, err
		}
		d, err := p.ledger.GetDispute(ctx, k)
		if err != nil {
			errs = append(errs, fmt.Errorf("dispute %s: %w", k, err))
			continue
		}
		info, err := p.ledger.GetPaymentInfo(ctx, d.PaymentInfoHash)
		if err != nil {
			errs = append(errs, fmt.Errorf("payment %s: %w", d.PaymentInfoHash, err))
			continue
		}
		p.remember(ctx, info)
		indexed++
	}
	return indexed, errors.Join(errs...)
}

// remember writes info to the store and cache, best effort.
func (p *PaymentIndex) remember(ctx context.Context, info *payment.Info) {
	if info.IndexedAt.IsZero() {
		info.IndexedAt = time.Now().UTC()
	}
	if p.store != nil {
		if err := p.store.UpsertPayment(ctx, *info); err != nil {
			slog.Warn("payments: store backfill failed", "hash", info.Hash, "error", err)
		}
	}
	p.cacheInfo(ctx, info)
}

func (p *PaymentIndex) cacheInfo(ctx context.Context, info *payment.Info) {
	if p.cache == nil {
		return
	}
	data, err := json.Marshal(info)
	if err != nil {
		return
	}
	if err := p.cache.Set(ctx, cache.PaymentKey(payment.NormalizeHash(info.Hash)), data, p.ttl); err != nil {
		slog.Debug("payments: cache set failed", "hash", info.Hash, "error", err)
	}
}
