package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/mongomaint/internal/cluster"
	"github.com/Aman-CERP/mongomaint/internal/config"
	"github.com/Aman-CERP/mongomaint/internal/rebuild"
	"github.com/Aman-CERP/mongomaint/internal/state"
)

func newCleanupCmd() *cobra.Command {
	var aggressive bool
	var skipCheck bool

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove leftover covering indexes",
		Long: `Remove covering indexes left behind by interrupted rebuild runs.

With a checkpoint on disk the cleanup is strict: a covering index is
removed only when the checkpoint proves its original finished. Without
one it is aggressive and removes every index carrying the covering
suffix; --aggressive forces that even when a checkpoint exists.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCleanup(cmd.Context(), cmd, aggressive, skipCheck)
		},
	}

	cmd.Flags().BoolVar(&aggressive, "aggressive", false, "Remove every covering index, ignoring the checkpoint")
	cmd.Flags().BoolVar(&skipCheck, "skip-check", false, "Skip preflight checks")

	return cmd
}

func runCleanup(ctx context.Context, cmd *cobra.Command, aggressive, skipCheck bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close(context.Background()) }()

	if !skipCheck {
		if err := runPreflight(ctx, cmd, client, cfg, false); err != nil {
			return err
		}
	}

	store := state.NewStore(cfg.State.Dir)
	clusterName := resolveClusterName(ctx, client, cfg)

	// No checkpoint (or --aggressive) means aggressive mode: every
	// suffix-matching index is a leftover.
	var cp *state.Checkpoint
	if !aggressive {
		cp, err = store.Load(clusterName)
		if err != nil {
			return err
		}
	}

	collections, err := targetCollections(ctx, client, cfg.Target.Database)
	if err != nil {
		return err
	}

	reclaimer := rebuild.NewReclaimer(client, cfg.Target.Database, cfg.Rebuild.CoverSuffix,
		newConfirmer(cmd, cfg), log)
	removed, err := reclaimer.Reclaim(ctx, collections, cp)
	if err != nil {
		return err
	}

	if len(removed) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No leftover covering indexes found")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d leftover covering indexes:\n", len(removed))
	for _, o := range removed {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s.%s\n", o.Collection, o.Name)
	}
	return nil
}

// resolveClusterName matches the orchestrators' naming: explicit config,
// else the replica-set name, else "standalone".
func resolveClusterName(ctx context.Context, client *cluster.Client, cfg *config.Config) string {
	if cfg.Target.ClusterName != "" {
		return cfg.Target.ClusterName
	}
	if name, err := client.ReplicaSetName(ctx); err == nil && name != "" {
		return name
	}
	return "standalone"
}

// targetCollections lists the database's collections minus system namespaces.
func targetCollections(ctx context.Context, client *cluster.Client, db string) ([]string, error) {
	all, err := client.ListCollections(ctx, db)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, name := range all {
		if strings.HasPrefix(name, "system.") {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}
