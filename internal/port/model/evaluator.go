// Package model defines the port to the language model that evaluates disputes.
package model

import "context"

// Evaluator returns the model's raw text for a prompt. Output must be
// deterministic for a fixed seed and fixed inputs, within the provider's
// documented guarantee.
type Evaluator interface {
	Evaluate(ctx context.Context, systemPrompt, userPrompt string, seed uint64) (string, error)
	Name() string
}
