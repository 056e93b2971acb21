// Package payment holds the escrow payment context a dispute refers to.
package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain"
)

// Info is the full payment record addressed by its hash. The arbiter treats
// it as opaque beyond passing it to the ledger when executing a refund.
type Info struct {
	Hash      string    `json:"hash"`
	Payer     string    `json:"payer"`
	Receiver  string    `json:"receiver"`
	Token     string    `json:"token"`
	Amount    string    `json:"amount"` // base units, decimal string
	Operator  string    `json:"operator"`
	Salt      string    `json:"salt"`
	IndexedAt time.Time `json:"indexed_at"`
}

// Validate checks the fields the refund call depends on.
func (i Info) Validate() error {
	if strings.TrimSpace(i.Hash) == "" {
		return fmt.Errorf("%w: payment hash is required", domain.ErrInvalidInput)
	}
	if i.Payer == "" || i.Receiver == "" {
		return fmt.Errorf("%w: payment %s is missing parties", domain.ErrInvalidInput, i.Hash)
	}
	if i.Amount == "" {
		return fmt.Errorf("%w: payment %s is missing amount", domain.ErrInvalidInput, i.Hash)
	}
	return nil
}

// NormalizeHash lowercases and 0x-prefixes a payment hash for use as a key.
func NormalizeHash(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if !strings.HasPrefix(h, "0x") {
		h = "0x" + h
	}
	return h
}
