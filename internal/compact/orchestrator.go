package compact

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/Aman-CERP/mongomaint/internal/cluster"
	"github.com/Aman-CERP/mongomaint/internal/config"
	"github.com/Aman-CERP/mongomaint/internal/coordinator"
	merrors "github.com/Aman-CERP/mongomaint/internal/errors"
	"github.com/Aman-CERP/mongomaint/internal/report"
	"github.com/Aman-CERP/mongomaint/internal/state"
	"github.com/Aman-CERP/mongomaint/internal/ui"
)

// Orchestrator runs a whole database compaction: version probe, strategy
// selection (manual per-collection vs 8.0+ background job), then the chosen
// path collection by collection or node by node.
//
// Compaction keeps no checkpoint: the work is idempotent and at-least-once,
// so an interrupted run is simply re-run. Only the run report is persisted,
// through the same store directory the rebuild uses.
type Orchestrator struct {
	cluster Cluster
	cfg     *config.Config
	store   *state.Store
	confirm ui.Confirmer
	coord   coordinator.Coordinator
	log     *slog.Logger
}

// NewOrchestrator wires a compaction orchestrator. The coordinator is wrapped
// so hook panics never reach the engines.
func NewOrchestrator(c Cluster, cfg *config.Config, store *state.Store,
	confirm ui.Confirmer, coord coordinator.Coordinator, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cluster: c,
		cfg:     cfg,
		store:   store,
		confirm: confirm,
		coord:   coordinator.Safe(coord, log),
		log:     log,
	}
}

// Run executes the compaction and returns its report. Unexpected panics are
// caught once here, recorded with a stack trace, and returned as internal
// errors.
func (o *Orchestrator) Run(ctx context.Context) (rep *report.RunReport, err error) {
	start := time.Now()
	db := o.cfg.Target.Database
	clusterName := "unknown"
	dbLog := report.NewDatabaseLog(db)

	defer func() {
		if r := recover(); r != nil {
			err = merrors.InternalError(fmt.Sprintf("panic during compaction: %v", r), nil)
			rep = report.NewRunReport(clusterName, "compact", dbLog)
			rep.TotalSeconds = time.Since(start).Seconds()
			rep.Error = err.Error()
			rep.Stack = string(debug.Stack())
			o.writeReport(rep)
			o.log.Error("compaction panicked", slog.String("panic", fmt.Sprint(r)))
		}
	}()

	version, err := o.cluster.ServerVersion(ctx)
	if err != nil {
		return nil, err
	}
	o.log.Info("server version detected", slog.String("version", version.String()))
	clusterName = o.clusterName(ctx)

	collections, err := o.collections(ctx)
	if err != nil {
		return nil, err
	}
	if len(collections) == 0 {
		o.log.Info("no collections to compact", slog.String("database", db))
		rep = report.NewRunReport(clusterName, "compact", dbLog)
		o.writeReport(rep)
		return rep, nil
	}

	useAuto, err := o.chooseStrategy(version, dbLog)
	if err != nil {
		return o.finish(clusterName, db, dbLog, start, err)
	}

	ans, err := o.confirm.Confirm(fmt.Sprintf("Compact %d collections in %s?", len(collections), db))
	if err != nil {
		return o.finish(clusterName, db, dbLog, start, err)
	}
	switch ans {
	case ui.AnswerYes:
	case ui.AnswerSkip:
		o.log.Info("compaction skipped by operator", slog.String("database", db))
		return o.finish(clusterName, db, dbLog, start, nil)
	default:
		return o.finish(clusterName, db, dbLog, start, merrors.ErrAborted)
	}

	o.coord.OnRunStart(db, len(collections))

	var runErr error
	if useAuto {
		runErr = o.runAuto(ctx, collections, dbLog)
	} else {
		runErr = o.runManual(ctx, version, collections, dbLog)
	}
	return o.finish(clusterName, db, dbLog, start, runErr)
}

// chooseStrategy decides between the manual per-collection path and the 8.0+
// background job. The node-level job ignores collection filters, so when
// filters are configured the operator is asked; a plain yes (including the
// non-interactive auto-yes) keeps the filtered manual path — filter fidelity
// outranks convenience.
func (o *Orchestrator) chooseStrategy(version cluster.Version, dbLog *report.DatabaseLog) (bool, error) {
	c := o.cfg.Compact
	if c.ForceManual || !c.AutoCompact {
		return false, nil
	}
	if !version.AtLeast(8, 0) {
		o.log.Warn("background compaction requires server 8.0+, using the manual path",
			slog.String("server", version.String()))
		return false, nil
	}
	if len(c.Include)+len(c.Exclude) == 0 {
		return true, nil
	}

	ans, err := o.confirm.Confirm(
		"Background compaction runs per node and ignores collection filters. Fall back to the filtered manual path?")
	if err != nil {
		return false, err
	}
	if ans == ui.AnswerNo {
		dbLog.Warn("collection filters ignored: background compaction runs per node")
		return true, nil
	}
	return false, nil
}

// runManual compacts each collection through the convergence engine.
// Collection-level trouble is recorded and the run continues; only abort,
// cancellation, and fatal errors stop it.
func (o *Orchestrator) runManual(ctx context.Context, version cluster.Version, collections []string, dbLog *report.DatabaseLog) error {
	engine := NewEngine(o.cluster, o.cfg.Target.Database, version, o.cfg.Compact, o.log)
	for _, coll := range collections {
		o.coord.OnCollectionStart(coll, 0)
		cl, cerr := engine.Compact(ctx, coll)
		if cl != nil {
			dbLog.SetCollection(coll, cl)
			o.coord.OnCollectionComplete(coll, cl.ReclaimedMB(), cl.ElapsedSeconds)
		}
		if cerr == nil {
			continue
		}
		if merrors.IsAborted(cerr) || isCancellation(cerr) || merrors.IsFatal(cerr) {
			return cerr
		}
		dbLog.Warn(fmt.Sprintf("%s: %v", coll, cerr))
		o.coord.OnError(cerr.Error(), coll)
	}
	return nil
}

// runAuto measures the target collections, runs the background job across
// the nodes, and re-measures. Per-collection logs carry the seed-connection
// sizes; the job itself reports nothing finer-grained than node completion.
func (o *Orchestrator) runAuto(ctx context.Context, collections []string, dbLog *report.DatabaseLog) error {
	db := o.cfg.Target.Database

	before := make(map[string]int64, len(collections))
	for _, coll := range collections {
		if stats, err := o.cluster.CollStats(ctx, db, coll); err == nil {
			before[coll] = stats.StorageSizeMB()
		}
	}

	hosts, err := NewAutoCompactor(o.cluster, o.cfg.Compact, o.log).Run(ctx)
	if len(hosts) > 0 {
		o.log.Info("background compaction visited nodes", slog.Any("nodes", hosts))
	}
	if err != nil {
		return err
	}

	for _, coll := range collections {
		cl := report.NewCollectionLog()
		cl.InitialSizeMB = before[coll]
		cl.FinalSizeMB = cl.InitialSizeMB
		if stats, serr := o.cluster.CollStats(ctx, db, coll); serr == nil {
			cl.FinalSizeMB = stats.StorageSizeMB()
		}
		cl.ElapsedSeconds = time.Since(cl.StartTime).Seconds()
		dbLog.SetCollection(coll, cl)
		o.coord.OnCollectionComplete(coll, cl.ReclaimedMB(), cl.ElapsedSeconds)
	}
	return nil
}

// finish assembles and persists the run report. Called on every exit path.
func (o *Orchestrator) finish(clusterName, db string, dbLog *report.DatabaseLog,
	start time.Time, runErr error) (*report.RunReport, error) {

	dbLog.ElapsedSeconds = time.Since(start).Seconds()

	rep := report.NewRunReport(clusterName, "compact", dbLog)
	rep.TotalSeconds = dbLog.ElapsedSeconds
	if runErr != nil {
		rep.Error = runErr.Error()
	}
	o.writeReport(rep)

	success := runErr == nil
	o.coord.OnRunComplete(db, dbLog.ReclaimedMB(), dbLog.ElapsedSeconds, success, strings.Join(dbLog.Warnings, "; "))
	o.log.Info("compaction finished",
		slog.String("cluster", clusterName),
		slog.Int64("reclaimed_mb", dbLog.ReclaimedMB()),
		slog.Int("warnings", len(dbLog.Warnings)),
		slog.Bool("success", success))
	return rep, runErr
}

func (o *Orchestrator) writeReport(rep *report.RunReport) {
	if !o.cfg.State.PerformanceLogEnabled() {
		return
	}
	path := report.Path(o.store.Dir(), rep.Cluster, rep.Operation, rep.GeneratedAt)
	if err := rep.Write(path); err != nil {
		o.log.Warn("could not write performance report", slog.String("error", err.Error()))
		return
	}
	o.log.Info("performance report written", slog.String("path", path))
}

// clusterName resolves the name that scopes report files: explicit config,
// else the replica-set name, else "standalone".
func (o *Orchestrator) clusterName(ctx context.Context) string {
	if o.cfg.Target.ClusterName != "" {
		return o.cfg.Target.ClusterName
	}
	if name, err := o.cluster.ReplicaSetName(ctx); err == nil && name != "" {
		return name
	}
	return "standalone"
}

// collections lists the run's target collections: system namespaces out,
// then the configured include/exclude filter.
func (o *Orchestrator) collections(ctx context.Context) ([]string, error) {
	all, err := o.cluster.ListCollections(ctx, o.cfg.Target.Database)
	if err != nil {
		return nil, err
	}
	filter := config.NewNameFilter(o.cfg.Compact.Include, o.cfg.Compact.Exclude)
	var out []string
	for _, name := range all {
		if strings.HasPrefix(name, "system.") {
			continue
		}
		if filter.Allows(name) {
			out = append(out, name)
		}
	}
	return out, nil
}
