package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/mongomaint/internal/state"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show checkpoint state without touching the cluster",
		Long: `Display the on-disk rebuild checkpoints: session history, completed
indexes per collection, and recorded failures. Reads only local state;
the cluster is never contacted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output checkpoints as JSON")

	return cmd
}

func runStatus(cmd *cobra.Command, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store := state.NewStore(cfg.State.Dir)
	clusters, err := store.ListClusters()
	if err != nil {
		return err
	}
	if len(clusters) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No checkpoints in %s\n", cfg.State.Dir)
		return nil
	}
	sort.Strings(clusters)

	checkpoints := make([]*state.Checkpoint, 0, len(clusters))
	for _, name := range clusters {
		cp, err := store.Load(name)
		if err != nil {
			return err
		}
		if cp != nil {
			checkpoints = append(checkpoints, cp)
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(checkpoints)
	}

	for i, cp := range checkpoints {
		if i > 0 {
			fmt.Fprintln(cmd.OutOrStdout())
		}
		printCheckpoint(cmd.OutOrStdout(), cp)
	}
	return nil
}

func printCheckpoint(w io.Writer, cp *state.Checkpoint) {
	fmt.Fprintf(w, "Cluster: %s\n", cp.Cluster)
	fmt.Fprintf(w, "  Completed indexes: %d\n", cp.TotalCompleted())

	collections := make([]string, 0, len(cp.Completed))
	for name := range cp.Completed {
		collections = append(collections, name)
	}
	sort.Strings(collections)
	for _, name := range collections {
		fmt.Fprintf(w, "    %s: %d\n", name, len(cp.Completed[name]))
	}

	if cp.CumulativeLog != nil {
		if n := cp.CumulativeLog.FailedIndexCount(); n > 0 {
			fmt.Fprintf(w, "  Failed indexes: %d\n", n)
		}
		for _, warning := range cp.CumulativeLog.Warnings {
			fmt.Fprintf(w, "  Warning: %s\n", warning)
		}
	}

	if len(cp.Sessions) > 0 {
		fmt.Fprintf(w, "  Sessions:\n")
		for _, s := range cp.Sessions {
			elapsed := time.Duration(s.TotalTimeSeconds * float64(time.Second)).Round(time.Second)
			fmt.Fprintf(w, "    %s  %-11s  %d indexes  %s\n",
				s.StartTime.Format("2006-01-02 15:04"), s.Status, s.IndexesRebuilt, elapsed)
		}
	}
}
