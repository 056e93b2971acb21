package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/config"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configFile string
	logLevel   string
	ledgerURL  string
	modelURL   string
	dsn        string
	natsURL    string
	output     string
}

// overrides turns the flags that were actually set into config overrides.
func (g *globalFlags) overrides(cmd *cobra.Command) config.Overrides {
	var o config.Overrides
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		o.LogLevel = &g.logLevel
	}
	if flags.Changed("ledger-url") {
		o.LedgerURL = &g.ledgerURL
	}
	if flags.Changed("model-url") {
		o.ModelURL = &g.modelURL
	}
	if flags.Changed("database-url") {
		o.DSN = &g.dsn
	}
	if flags.Changed("nats-url") {
		o.NatsURL = &g.natsURL
	}
	return o
}

func (g *globalFlags) load(cmd *cobra.Command) (*config.Config, error) {
	return config.LoadWithOverrides(g.configFile, g.overrides(cmd))
}

// NewRootCmd creates the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "arbiter",
		Short: "AI arbiter for x402r escrow refund disputes",
		Long: `arbiter - AI arbiter for x402r escrow refund disputes

The arbiter reads the evidence both parties submitted for a refund request,
asks a model for a ruling, commits the prompt, seed and response hashes to the
ledger and enacts the ruling. Anyone can replay an evaluation and check it
against the on-ledger commitment.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configFile, "config", "c", "", "YAML config file (default arbiter.yaml or $ARBITER_CONFIG)")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&g.ledgerURL, "ledger-url", "", "ledger relayer gateway URL")
	pf.StringVar(&g.modelURL, "model-url", "", "inference endpoint URL")
	pf.StringVar(&g.dsn, "database-url", "", "PostgreSQL DSN")
	pf.StringVar(&g.natsURL, "nats-url", "", "NATS server URL")
	pf.StringVarP(&g.output, "output", "o", "", "output format: json or table (default: table on a terminal)")

	root.AddCommand(
		newServeCmd(g),
		newEvaluateCmd(g),
		newReplayCmd(g),
		newVerifyCmd(g),
		newCommitmentCmd(g),
		newKeyCmd(g),
		newMigrateCmd(g),
	)
	return root
}

// Execute runs the root command with the given output writers.
func Execute(stdout, stderr io.Writer) error {
	root := NewRootCmd()
	root.SetOut(stdout)
	root.SetErr(stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return root.ExecuteContext(ctx)
}
