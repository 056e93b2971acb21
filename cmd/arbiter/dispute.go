package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/commitment"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/dispute"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/evaluation"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/service"
)

// withApp loads config, wires the arbiter and runs fn against the parsed key.
func withApp(g *globalFlags, cmd *cobra.Command, rawKey string, fn func(context.Context, *app, dispute.Key) error) error {
	key, err := dispute.ParseKey(rawKey)
	if err != nil {
		return err
	}
	cfg, err := g.load(cmd)
	if err != nil {
		return err
	}
	defer setupLogging(cfg)()

	a, err := newApp(cmd.Context(), cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()
	return fn(cmd.Context(), a, key)
}

func newEvaluateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate <dispute-key>",
		Short: "Arbitrate a pending dispute and submit the ruling to the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(g, cmd, args[0], func(ctx context.Context, a *app, key dispute.Key) error {
				res, err := a.arbiter.Evaluate(ctx, key)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), g.output, res, func() []row { return resultRows(res) })
			})
		},
	}
}

func newReplayCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <dispute-key>",
		Short: "Re-run a dispute's evaluation without writing to the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(g, cmd, args[0], func(ctx context.Context, a *app, key dispute.Key) error {
				res, err := a.verifier.Replay(ctx, key)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), g.output, res, func() []row { return replayRows(res) })
			})
		},
	}
}

func newVerifyCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <dispute-key>",
		Short: "Replay a dispute and compare it with the commitment on the ledger",
		Long: `Replay a dispute and compare it with the commitment on the ledger.

Exits non-zero when the replayed commitment does not match.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(g, cmd, args[0], func(ctx context.Context, a *app, key dispute.Key) error {
				v, err := a.verifier.Verify(ctx, key)
				if err != nil {
					return err
				}
				rows := func() []row {
					return append(replayRows(&v.ReplayResult),
						row{"prompt_match", v.PromptMatch},
						row{"model_match", v.ModelMatch},
						row{"match", v.Match},
					)
				}
				if err := render(cmd.OutOrStdout(), g.output, v, rows); err != nil {
					return err
				}
				if !v.Match {
					return fmt.Errorf("commitment mismatch for %s", key)
				}
				return nil
			})
		},
	}
}

func newCommitmentCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "commitment <dispute-key>",
		Short: "Print the arbiter commitment record submitted for a dispute",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(g, cmd, args[0], func(ctx context.Context, a *app, key dispute.Key) error {
				rec, err := a.arbiter.GetCommitment(ctx, key)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), g.output, rec, func() []row { return recordRows(rec) })
			})
		},
	}
}

func resultRows(r *evaluation.Result) []row {
	rows := []row{
		{"dispute_key", r.DisputeKey},
		{"status", string(r.Status)},
		{"outcome", string(r.Outcome)},
		{"model", r.Model},
	}
	if r.Ruling != nil {
		rows = append(rows,
			row{"decision", string(r.Ruling.Decision)},
			row{"confidence", r.Ruling.Confidence},
		)
	}
	if r.Commitment != nil {
		rows = append(rows, row{"commitment_hash", r.Commitment.CommitmentHash}, row{"seed", r.Commitment.Seed})
	}
	rows = append(rows,
		row{"evidence_tx", r.EvidenceTx},
		row{"ruling_tx", r.RulingTx},
		row{"refund_tx", r.RefundTx},
	)
	for _, w := range r.Warnings {
		rows = append(rows, row{"warning", w})
	}
	return rows
}

func replayRows(r *service.ReplayResult) []row {
	rows := []row{
		{"dispute_key", r.DisputeKey},
		{"seed", r.Commitment.Seed},
		{"seed_source", r.SeedSource},
		{"model", r.Model},
		{"prompt_hash", r.Commitment.PromptHash},
		{"commitment_hash", r.Commitment.CommitmentHash},
	}
	if r.Ruling != nil {
		rows = append(rows,
			row{"decision", string(r.Ruling.Decision)},
			row{"confidence", r.Ruling.Confidence},
		)
	}
	if r.Original != nil {
		rows = append(rows, row{"recorded_commitment", r.Original.CommitmentHash})
	}
	return rows
}

func recordRows(r *commitment.Record) []row {
	return []row{
		{"decision", r.Decision},
		{"enacted", r.Enacted},
		{"confidence", r.Confidence},
		{"model", r.Model},
		{"seed", r.Seed},
		{"prompt_hash", r.PromptHash},
		{"response_hash", r.ResponseHash},
		{"commitment_hash", r.CommitmentHash},
		{"evaluated_at", r.EvaluatedAt},
		{"reasoning", r.Reasoning},
	}
}
