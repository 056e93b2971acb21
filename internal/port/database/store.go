// Package database defines the database store port (interface).
package database

import (
	"context"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/evaluation"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/payment"
)

// Store is the port interface for database operations. Payments are a
// rebuildable cache of ledger data; evaluations are an operator audit trail.
// Neither is consulted to decide whether a dispute was ruled.
type Store interface {
	// Payments
	GetPayment(ctx context.Context, hash string) (*payment.Info, error)
	UpsertPayment(ctx context.Context, info payment.Info) error
	CountPayments(ctx context.Context) (int64, error)

	// Evaluations
	SaveEvaluation(ctx context.Context, r *evaluation.Result) error
	ListEvaluations(ctx context.Context, disputeKey string, limit int) ([]evaluation.Result, error)
}
