package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/mongomaint/internal/rebuild"
	"github.com/Aman-CERP/mongomaint/internal/state"
	"github.com/Aman-CERP/mongomaint/internal/ui"
)

func newRebuildCmd() *cobra.Command {
	var skipCheck bool

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild every secondary index of a database in place",
		Long: `Rebuild the secondary indexes of the target database without a window
where queries lose their index: each index gets a disposable covering
index built first, is then dropped and recreated, and the covering index
is removed last.

Progress is checkpointed after every completed index. An interrupted run
resumes from the checkpoint; already-rebuilt indexes are skipped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRebuild(cmd.Context(), cmd, skipCheck)
		},
	}

	cmd.Flags().BoolVar(&skipCheck, "skip-check", false, "Skip preflight checks")

	return cmd
}

func runRebuild(ctx context.Context, cmd *cobra.Command, skipCheck bool) error {
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
		if err := runPreflight(ctx, cmd, client, cfg, false); err != nil {
			return err
		}
	}

	store := state.NewStore(cfg.State.Dir)
	renderer := newRenderer(cmd, fmt.Sprintf("rebuild %s", cfg.Target.Database))
	if err := renderer.Start(ctx); err != nil {
		return err
	}

	orch := rebuild.NewOrchestrator(client, cfg, store, newConfirmer(cmd, cfg), renderer, log)
	rep, runErr := orch.Run(ctx)
	_ = renderer.Stop()

	if rep != nil {
		ui.PrintSummary(cmd.OutOrStdout(), rep, ui.DetectNoColor())
	}
	return runErr
}
