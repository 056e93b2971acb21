// Package ledger defines the port to the escrow ledger that owns disputes,
// their evidence and the payments behind them.
package ledger

import (
	"context"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/dispute"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/payment"
)

// BlockRange is an inclusive range of block numbers.
type BlockRange struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

// Recent returns the range of the last lookback blocks ending at head.
func Recent(head, lookback uint64) BlockRange {
	if lookback >= head {
		return BlockRange{From: 0, To: head}
	}
	return BlockRange{From: head - lookback, To: head}
}

// Ledger is the escrow contract surface the arbiter reads and writes.
// Write methods return a transaction reference. A write rejected because the
// desired end state already holds returns an error wrapping domain.ErrConflict.
type Ledger interface {
	GetAllEvidence(ctx context.Context, key dispute.Key) ([]dispute.EvidenceEntry, error)
	SubmitEvidence(ctx context.Context, key dispute.Key, content string) (string, error)
	Approve(ctx context.Context, key dispute.Key) (string, error)
	Deny(ctx context.Context, key dispute.Key) (string, error)
	ExecuteRefund(ctx context.Context, info payment.Info) (string, error)
	GetStatus(ctx context.Context, key dispute.Key) (dispute.Status, error)
	ListRecentDisputeKeys(ctx context.Context, r BlockRange) ([]dispute.Key, error)

	LatestBlock(ctx context.Context) (uint64, error)
	GetDispute(ctx context.Context, key dispute.Key) (*dispute.Dispute, error)
	GetPaymentInfo(ctx context.Context, paymentInfoHash string) (*payment.Info, error)
}
