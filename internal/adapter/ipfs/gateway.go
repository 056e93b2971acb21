// Package ipfs fetches content-addressed evidence through an IPFS HTTP gateway.
package ipfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/evidencestore"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/resilience"
)

// Scheme is the URI prefix for IPFS identifiers.
const Scheme = "ipfs://"

// Gateway is an evidencestore.Fetcher backed by a path-style gateway
// (GET {base}/ipfs/{cid}).
type Gateway struct {
	baseURL    string
	maxBytes   int64
	httpClient *http.Client
	breaker    *resilience.Breaker
}

var _ evidencestore.Fetcher = (*Gateway)(nil)

// NewGateway creates a gateway fetcher. maxBytes bounds a single object.
func NewGateway(baseURL string, timeout time.Duration, maxBytes int64) *Gateway {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	return &Gateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxBytes:   maxBytes,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SetBreaker attaches a circuit breaker to gateway requests.
func (g *Gateway) SetBreaker(b *resilience.Breaker) {
	g.breaker = b
}

// CID strips the ipfs:// scheme from identifier.
func CID(identifier string) string {
	return strings.TrimPrefix(strings.TrimSpace(identifier), Scheme)
}

// Fetch returns the raw bytes of the object behind identifier.
func (g *Gateway) Fetch(ctx context.Context, identifier string) ([]byte, error) {
	cid := CID(identifier)
	if cid == "" || strings.ContainsAny(cid, "?# ") {
		return nil, fmt.Errorf("%w: invalid cid %q", domain.ErrInvalidInput, identifier)
	}

	var result []byte
	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/ipfs/"+cid, http.NoBody)
		if err != nil {
			return resilience.Permanent(fmt.Errorf("create request: %w", err))
		}

		resp, err := g.httpClient.Do(req)
		if err != nil {
			return domain.Wrap(domain.KindTransient, "ipfs gateway request", err)
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return resilience.Permanent(fmt.Errorf("ipfs %s: %w", cid, domain.ErrNotFound))
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return domain.Errorf(domain.KindTransient, "ipfs gateway error %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return resilience.Permanent(domain.Errorf(domain.KindInvalidInput, "ipfs gateway rejected %s: %d", cid, resp.StatusCode))
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, g.maxBytes+1))
		if err != nil {
			return domain.Wrap(domain.KindTransient, "read ipfs object", err)
		}
		if int64(len(data)) > g.maxBytes {
			return resilience.Permanent(fmt.Errorf("ipfs %s exceeds %d bytes", cid, g.maxBytes))
		}
		result = data
		return nil
	}

	var err error
	if g.breaker != nil {
		err = g.breaker.Execute(call)
	} else {
		err = call()
		var perm *resilience.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, domain.Wrap(domain.KindTransient, "ipfs gateway unavailable", err)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}
