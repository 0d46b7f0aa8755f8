// Package cmd provides the CLI commands for mongomaint.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/mongomaint/internal/cluster"
	"github.com/Aman-CERP/mongomaint/internal/config"
	"github.com/Aman-CERP/mongomaint/internal/logging"
	"github.com/Aman-CERP/mongomaint/internal/preflight"
	"github.com/Aman-CERP/mongomaint/internal/ui"
	"github.com/Aman-CERP/mongomaint/pkg/version"
)

// Global flags, applied on top of the layered config.
var (
	flagURI    string
	flagDB     string
	flagConfig string
	debugMode  bool
	assumeYes  bool
	noTUI      bool
)

// log is the process logger. Discard until PersistentPreRunE wires the log
// file, so subcommands built directly in tests never hit a nil logger.
var (
	log            = logging.Discard()
	loggingCleanup func()
)

// NewRootCmd creates the root command for the mongomaint CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mongomaint",
		Short: "Online index rebuilds and compaction for MongoDB",
		Long: `mongomaint reclaims disk space from MongoDB deployments while they keep
serving traffic: it rebuilds secondary indexes in place behind disposable
covering indexes, and compacts collections across a replica set one node
at a time.

Interrupted runs resume from a checkpoint; nothing is dropped before its
replacement is verified.`,
		Version: version.Version,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.SetVersionTemplate("mongomaint version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&flagURI, "uri", "", "MongoDB connection string (or MONGOMAINT_URI)")
	cmd.PersistentFlags().StringVar(&flagDB, "db", "", "Target database")
	cmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to an explicit config file")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.mongomaint/logs/")
	cmd.PersistentFlags().BoolVar(&assumeYes, "yes", false, "Answer every confirmation prompt with yes")
	cmd.PersistentFlags().BoolVar(&noTUI, "no-tui", false, "Plain progress output even on a terminal")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newRebuildCmd())
	cmd.AddCommand(newCompactCmd())
	cmd.AddCommand(newCleanupCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command under the given context.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// startLogging opens the rotating log file. Log lines go to the file only;
// stderr belongs to prompts and stdout to progress output.
func startLogging(_ *cobra.Command, _ []string) error {
	lcfg := logging.DefaultConfig()
	lcfg.WriteToStderr = false
	if debugMode {
		lcfg.Level = "debug"
	}

	logger, cleanup, err := logging.Setup(lcfg)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	log = logger
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

// stopLogging flushes and closes the log file.
func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// loadConfig layers defaults, files, and environment, then applies the
// command-line flags on top (highest precedence).
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if flagConfig != "" {
		cfg, err = config.LoadFile(flagConfig)
	} else {
		cfg, err = config.Load(".")
	}
	if err != nil {
		return nil, err
	}

	if flagURI != "" {
		cfg.Target.URI = flagURI
	}
	if flagDB != "" {
		cfg.Target.Database = flagDB
	}
	if assumeYes {
		cfg.AssumeYes = true
	}
	return cfg, nil
}

// connect dials the configured deployment.
func connect(ctx context.Context, cfg *config.Config) (*cluster.Client, error) {
	if cfg.Target.Database == "" {
		return nil, fmt.Errorf("no target database: pass --db or set target.database")
	}
	return cluster.Connect(ctx, cfg.Target.URI, cfg.Target.ConnectTimeoutDuration(), log)
}

// logTarget records what the run is pointed at. A seed connection that did
// not land on a primary is worth a warning: index and compact commands need
// one, and a URI pinned to a secondary fails in less obvious ways later.
func logTarget(ctx context.Context, client *cluster.Client, cfg *config.Config) {
	if stats, err := client.DBStats(ctx, cfg.Target.Database); err == nil {
		log.Info("target database",
			slog.String("database", cfg.Target.Database),
			slog.Int64("collections", stats.Collections),
			slog.String("data_size", humanize.IBytes(uint64(stats.DataSizeBytes))),
			slog.String("storage_size", humanize.IBytes(uint64(stats.StorageSizeBytes))),
			slog.String("index_size", humanize.IBytes(uint64(stats.IndexSizeBytes))))
	}
	if primary, err := client.IsPrimary(ctx); err == nil && !primary {
		log.Warn("seed connection did not land on the primary",
			slog.String("uri_database", cfg.Target.Database))
	}
}

// runPreflight runs the checks a maintenance run depends on and fails fast
// with the printed results when a required one does not pass.
func runPreflight(ctx context.Context, cmd *cobra.Command, target preflight.Target,
	cfg *config.Config, needReplicaSet bool) error {

	checker := preflight.New(target, cfg.Target.Database, cfg.State.Dir,
		preflight.WithReplicaSetRequired(needReplicaSet),
		preflight.WithOutput(cmd.ErrOrStderr()))

	results := checker.RunAll(ctx)
	if checker.HasCriticalFailures(results) {
		checker.PrintResults(results)
		return fmt.Errorf("preflight checks failed")
	}
	return nil
}

// newRenderer picks the progress renderer for this run.
func newRenderer(cmd *cobra.Command, title string) ui.Renderer {
	return ui.NewRenderer(ui.Config{
		Output:     cmd.OutOrStdout(),
		ForcePlain: noTUI,
		NoColor:    ui.DetectNoColor(),
		Title:      title,
	})
}

// newConfirmer builds the confirmation collaborator: auto-yes for --yes and
// non-interactive runs, a terminal prompt otherwise. Prompts go to stderr so
// they survive stdout pipes.
func newConfirmer(cmd *cobra.Command, cfg *config.Config) ui.Confirmer {
	if cfg.AssumeYes {
		return ui.AutoConfirmer{Answer: ui.AnswerYes}
	}
	if f, ok := cmd.InOrStdin().(*os.File); ok && !ui.IsTTY(f) {
		return ui.AutoConfirmer{Answer: ui.AnswerYes}
	}
	return ui.NewTerminalConfirmer(cmd.InOrStdin(), cmd.ErrOrStderr())
}
