// Package dispute defines refund disputes filed against the escrow ledger and
// the evidence submitted for them.
package dispute

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain"
)

// Status is the ledger lifecycle state of a dispute.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusDenied    Status = "denied"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further ruling can be applied.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusDenied, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s.IsTerminal()
}

// Key identifies a dispute: 0x-prefixed lowercase hex of
// keccak256(paymentInfoHash ‖ uint256(nonce)).
type Key string

// NewKey derives the dispute key from the payment info hash and refund nonce.
func NewKey(paymentInfoHash string, nonce uint64) (Key, error) {
	ph, err := decodeHash32(paymentInfoHash)
	if err != nil {
		return "", fmt.Errorf("payment info hash: %w", err)
	}

	var buf [64]byte
	copy(buf[:32], ph)
	binary.BigEndian.PutUint64(buf[56:], nonce)

	h := sha3.NewLegacyKeccak256()
	h.Write(buf[:])
	return Key("0x" + hex.EncodeToString(h.Sum(nil))), nil
}

// ParseKey validates and normalizes a dispute key.
func ParseKey(s string) (Key, error) {
	b, err := decodeHash32(s)
	if err != nil {
		return "", fmt.Errorf("dispute key: %w", err)
	}
	return Key("0x" + hex.EncodeToString(b)), nil
}

func (k Key) String() string { return string(k) }

func decodeHash32(s string) ([]byte, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if len(raw) != 64 {
		return nil, fmt.Errorf("%w: expected 32-byte hex, got %d hex chars", domain.ErrInvalidInput, len(raw))
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return b, nil
}

// Dispute is a refund request as read from the ledger.
type Dispute struct {
	Key             Key       `json:"key"`
	PaymentInfoHash string    `json:"payment_info_hash"`
	Nonce           uint64    `json:"nonce"`
	Status          Status    `json:"status"`
	RequestedAt     time.Time `json:"requested_at"`
}
