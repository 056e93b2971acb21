// Package ruling turns raw model output into a ruling and decides the
// outcome enacted on the ledger.
//
// The confidence threshold only gates approval. A low-confidence approve is
// enacted as deny; a deny is always enacted as deny.
package ruling

import (
	"fmt"
)

// Decision is the model's stated verdict.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDeny    Decision = "deny"
)

// Outcome is the ruling actually submitted to the ledger.
type Outcome string

const (
	OutcomeApprove Outcome = "approve"
	OutcomeDeny    Outcome = "deny"
)

// Ruling is the structured form of a model answer.
type Ruling struct {
	Decision   Decision `json:"decision"`
	Reasoning  string   `json:"reasoning"`
	Confidence float64  `json:"confidence"`
}

// Enact applies the confidence threshold.
func Enact(r Ruling, threshold float64) Outcome {
	if r.Decision == DecisionApprove && r.Confidence >= threshold {
		return OutcomeApprove
	}
	return OutcomeDeny
}

// Decide parses raw and enacts the result.
func Decide(raw string, threshold float64) (Ruling, Outcome, error) {
	r, err := Parse(raw)
	if err != nil {
		return Ruling{}, "", err
	}
	return r, Enact(r, threshold), nil
}

func (r Ruling) String() string {
	return fmt.Sprintf("%s (confidence %.2f)", r.Decision, r.Confidence)
}
