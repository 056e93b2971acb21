package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/dispute"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/prompt"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/logger"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/cache"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/evidencestore"
)

// unavailableFormat is rendered in place of content that could not be fetched.
const unavailableFormat = "[evidence unavailable: failed to retrieve %s]"

// UnavailableSentinel returns the placeholder rendered for an unfetchable identifier.
func UnavailableSentinel(identifier string) string {
	return fmt.Sprintf(unavailableFormat, identifier)
}

type addressKind int

const (
	addressText addressKind = iota
	addressJSON
	addressIPFS
	addressBlob
)

var (
	cidV0Pattern = regexp.MustCompile(`^Qm[1-9A-HJ-NP-Za-km-z]{44}$`)
	cidV1Pattern = regexp.MustCompile(`^b[a-z2-7]{58,}$`)
	blobPattern  = regexp.MustCompile(`^sha256:[0-9a-f]{64}$`)
)

// classify decides how an evidence identifier is turned into content.
func classify(identifier string) addressKind {
	trimmed := strings.TrimSpace(identifier)
	switch {
	case trimmed == "":
		return addressText
	case json.Valid([]byte(trimmed)):
		return addressJSON
	case strings.HasPrefix(trimmed, "ipfs://"), cidV0Pattern.MatchString(trimmed), cidV1Pattern.MatchString(trimmed):
		return addressIPFS
	case blobPattern.MatchString(trimmed):
		return addressBlob
	}
	return addressText
}

// EvidenceResolver turns evidence identifiers into prompt content.
// Inline JSON and free text pass through; content addresses are fetched and
// cached. Fetch failures never fail resolution.
type EvidenceResolver struct {
	ipfs        evidencestore.Fetcher
	blobs       evidencestore.Fetcher
	cache       cache.Cache
	cacheTTL    time.Duration
	concurrency int
}

// NewEvidenceResolver creates a resolver. Any of ipfs, blobs and c may be nil.
func NewEvidenceResolver(ipfs, blobs evidencestore.Fetcher, c cache.Cache, cacheTTL time.Duration, concurrency int) *EvidenceResolver {
	if concurrency < 1 {
		concurrency = 1
	}
	return &EvidenceResolver{
		ipfs:        ipfs,
		blobs:       blobs,
		cache:       c,
		cacheTTL:    cacheTTL,
		concurrency: concurrency,
	}
}

// Resolve returns the content for identifier.
func (r *EvidenceResolver) Resolve(ctx context.Context, identifier string) string {
	switch classify(identifier) {
	case addressJSON, addressText:
		return identifier
	}

	data, err := r.Fetch(ctx, identifier)
	if err != nil {
		slog.Warn("resolver: evidence fetch failed",
			append([]any{"identifier", identifier, "error", err}, logger.Attrs(ctx)...)...)
		return UnavailableSentinel(identifier)
	}
	return string(data)
}

// Fetch retrieves the raw bytes behind a content address, consulting the
// cache first. Content addresses are immutable, so cached bytes never go stale.
func (r *EvidenceResolver) Fetch(ctx context.Context, identifier string) ([]byte, error) {
	id := strings.TrimSpace(identifier)

	var fetcher evidencestore.Fetcher
	switch classify(id) {
	case addressIPFS:
		fetcher = r.ipfs
	case addressBlob:
		fetcher = r.blobs
	default:
		return nil, fmt.Errorf("%w: %q is not a content address", domain.ErrInvalidInput, identifier)
	}
	if fetcher == nil {
		return nil, fmt.Errorf("no store configured for %q", identifier)
	}

	key := cache.EvidenceKey(id)
	if r.cache != nil {
		if data, ok, err := r.cache.Get(ctx, key); err == nil && ok {
			return data, nil
		}
	}

	data, err := fetcher.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, data, r.cacheTTL); err != nil {
			slog.Debug("resolver: cache set failed", "identifier", id, "error", err)
		}
	}
	return data, nil
}

// ResolveAll resolves entries concurrently and returns them in input order.
func (r *EvidenceResolver) ResolveAll(ctx context.Context, entries []dispute.EvidenceEntry) []prompt.Resolved {
	out := make([]prompt.Resolved, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i, e := range entries {
		g.Go(func() error {
			out[i] = prompt.Resolved{Entry: e, Content: r.Resolve(gctx, e.Identifier)}
			return nil
		})
	}
	// Resolve never fails; Wait only joins.
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("resolver: unexpected group error", "error", err)
	}
	return out
}
