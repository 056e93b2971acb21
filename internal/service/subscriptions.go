package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/dispute"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/logger"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/messagequeue"
)

// SubscribeLedgerEvents feeds indexer events into the scheduler so new
// disputes are picked up before the next tick. Payments referenced by new
// refund requests are warmed into the index. payments may be nil.
func SubscribeLedgerEvents(ctx context.Context, q messagequeue.Queue, s *Scheduler, payments *PaymentIndex) (func(), error) {
	cancelRefund, err := q.Subscribe(ctx, messagequeue.SubjectRefundRequested, func(hctx context.Context, _ string, data []byte) error {
		var p messagequeue.RefundRequestedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decode refund request: %w", err)
		}
		key, err := refundKey(p)
		if err != nil {
			return err
		}
		slog.Info("events: refund requested", append([]any{"dispute", key, "block", p.BlockNumber}, logger.Attrs(hctx)...)...)
		s.Notify(key)

		if payments != nil && p.PaymentInfoHash != "" {
			if _, err := payments.Get(hctx, p.PaymentInfoHash); err != nil {
				slog.Debug("events: payment warm-up failed", "hash", p.PaymentInfoHash, "error", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", messagequeue.SubjectRefundRequested, err)
	}

	cancelEvidence, err := q.Subscribe(ctx, messagequeue.SubjectEvidenceAdded, func(hctx context.Context, _ string, data []byte) error {
		var p messagequeue.EvidenceAddedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decode evidence event: %w", err)
		}
		key, err := dispute.ParseKey(p.DisputeKey)
		if err != nil {
			return err
		}
		slog.Debug("events: evidence added", append([]any{
			"dispute", key, "role", dispute.Role(p.Role).Label(),
		}, logger.Attrs(hctx)...)...)
		s.Notify(key)
		return nil
	})
	if err != nil {
		cancelRefund()
		return nil, fmt.Errorf("subscribe %s: %w", messagequeue.SubjectEvidenceAdded, err)
	}

	return func() {
		cancelRefund()
		cancelEvidence()
	}, nil
}

// refundKey returns the dispute key of a refund request, deriving it from
// the payment hash and nonce when the indexer did not supply one.
func refundKey(p messagequeue.RefundRequestedPayload) (dispute.Key, error) {
	if p.DisputeKey != "" {
		return dispute.ParseKey(p.DisputeKey)
	}
	return dispute.NewKey(p.PaymentInfoHash, p.Nonce)
}
