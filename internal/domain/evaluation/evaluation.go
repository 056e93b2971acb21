// Package evaluation defines the outcome of one arbitration attempt.
package evaluation

import (
	"time"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/commitment"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/ruling"
)

// Status of an evaluation attempt.
type Status string

const (
	StatusEvaluated    Status = "evaluated"     // ruling computed and submitted
	StatusAlreadyRuled Status = "already_ruled" // an arbiter entry was already on the ledger
	StatusResumed      Status = "resumed"       // a recorded ruling was submitted without re-evaluating
	StatusClosed       Status = "closed"        // the dispute was no longer pending
	StatusFailed       Status = "failed"        // audit rows only
)

// Result is returned by an evaluation and persisted as an audit row.
type Result struct {
	ID          string                 `json:"id"`
	DisputeKey  string                 `json:"dispute_key"`
	Status      Status                 `json:"status"`
	Ruling      *ruling.Ruling         `json:"ruling,omitempty"`
	Outcome     ruling.Outcome         `json:"outcome,omitempty"`
	Commitment  *commitment.Commitment `json:"commitment,omitempty"`
	Record      *commitment.Record     `json:"record,omitempty"` // prior arbiter record when already ruled
	Model       string                 `json:"model,omitempty"`
	EvidenceTx  string                 `json:"evidence_tx,omitempty"`
	RulingTx    string                 `json:"ruling_tx,omitempty"`
	RefundTx    string                 `json:"refund_tx,omitempty"`
	Warnings    []string               `json:"warnings,omitempty"`
	ErrorKind   string                 `json:"error_kind,omitempty"`
	Error       string                 `json:"error,omitempty"`
	EvaluatedAt time.Time              `json:"evaluated_at"`
}

// Warn appends a non-fatal warning.
func (r *Result) Warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}
