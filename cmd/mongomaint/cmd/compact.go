package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/mongomaint/internal/compact"
	"github.com/Aman-CERP/mongomaint/internal/state"
	"github.com/Aman-CERP/mongomaint/internal/ui"
)

func newCompactCmd() *cobra.Command {
	var skipCheck bool

	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Compact a database's collections across the replica set",
		Long: `Compact each collection of the target database node by node: secondaries
first, alternating until measurements converge, then the primary after a
step-down. The deployment keeps a serving primary throughout.

On MongoDB 8.0+ with compact.auto_compact enabled, the server-managed
background compaction job runs per node instead.

Compaction requires a replica set: a standalone server has no node that
can take over while another compacts.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCompact(cmd.Context(), cmd, skipCheck)
		},
	}

	cmd.Flags().BoolVar(&skipCheck, "skip-check", false, "Skip preflight checks")

	return cmd
}

func runCompact(ctx context.Context, cmd *cobra.Command, skipCheck bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close(context.Background()) }()
	logTarget(ctx, client, cfg)

	if !skipCheck {
		if err := runPreflight(ctx, cmd, client, cfg, true); err != nil {
			return err
		}
	}

	store := state.NewStore(cfg.State.Dir)
	renderer := newRenderer(cmd, fmt.Sprintf("compact %s", cfg.Target.Database))
	if err := renderer.Start(ctx); err != nil {
		return err
	}

	orch := compact.NewOrchestrator(compact.Adapt(client), cfg, store, newConfirmer(cmd, cfg), renderer, log)
	rep, runErr := orch.Run(ctx)
	_ = renderer.Stop()

	if rep != nil {
		ui.PrintSummary(cmd.OutOrStdout(), rep, ui.DetectNoColor())
	}
	return runErr
}
