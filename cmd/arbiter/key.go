package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain/dispute"
)

func newKeyCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "key <payment-info-hash> <nonce>",
		Short: "Derive a dispute key from a payment info hash and refund nonce",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			nonce, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("nonce: %w", err)
			}
			key, err := dispute.NewKey(args[0], nonce)
			if err != nil {
				return err
			}
			out := struct {
				DisputeKey string `json:"dispute_key"`
			}{key.String()}
			return render(cmd.OutOrStdout(), g.output, out, func() []row {
				return []row{{"dispute_key", key.String()}}
			})
		},
	}
}
