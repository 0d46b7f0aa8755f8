package rebuild

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/Aman-CERP/mongomaint/internal/config"
	"github.com/Aman-CERP/mongomaint/internal/coordinator"
	merrors "github.com/Aman-CERP/mongomaint/internal/errors"
	"github.com/Aman-CERP/mongomaint/internal/report"
	"github.com/Aman-CERP/mongomaint/internal/state"
	"github.com/Aman-CERP/mongomaint/internal/ui"
)

// Orchestrator runs a whole database rebuild: version probe, checkpoint
// session, index backup, orphan cleanup, then one collection at a time.
type Orchestrator struct {
	target  Target
	cfg     *config.Config
	store   *state.Store
	confirm ui.Confirmer
	coord   coordinator.Coordinator
	log     *slog.Logger
}

// NewOrchestrator wires a rebuild orchestrator. The coordinator is wrapped
// so hook panics never reach the engines.
func NewOrchestrator(target Target, cfg *config.Config, store *state.Store,
	confirm ui.Confirmer, coord coordinator.Coordinator, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		target:  target,
		cfg:     cfg,
		store:   store,
		confirm: confirm,
		coord:   coordinator.Safe(coord, log),
		log:     log,
	}
}

// Run executes the rebuild and returns its report. The checkpoint is deleted
// only when the run finishes with zero remaining work; aborts and failures
// leave it in place for a later resume. Unexpected panics are caught once
// here, recorded with a stack trace, and returned as internal errors.
func (o *Orchestrator) Run(ctx context.Context) (rep *report.RunReport, err error) {
	start := time.Now()
	db := o.cfg.Target.Database
	clusterName := "unknown"
	dbLog := report.NewDatabaseLog(db)

	defer func() {
		if r := recover(); r != nil {
			err = merrors.InternalError(fmt.Sprintf("panic during rebuild: %v", r), nil)
			rep = report.NewRunReport(clusterName, "rebuild", dbLog)
			rep.TotalSeconds = time.Since(start).Seconds()
			rep.Error = err.Error()
			rep.Stack = string(debug.Stack())
			o.writeReport(rep)
			o.log.Error("rebuild panicked", slog.String("panic", fmt.Sprint(r)))
		}
	}()

	version, err := o.target.ServerVersion(ctx)
	if err != nil {
		return nil, err
	}
	o.log.Info("server version detected", slog.String("version", version.String()))

	clusterName = o.clusterName(ctx)
	cp, err := o.store.LoadOrCreate(clusterName)
	if err != nil {
		return nil, err
	}
	if cp.TotalCompleted() > 0 {
		o.log.Info("resuming from checkpoint",
			slog.String("cluster", clusterName),
			slog.Int("already_completed", cp.TotalCompleted()))
	}
	sessionID := cp.BeginSession()
	if err := o.store.Save(cp); err != nil {
		return nil, err
	}
	completedBefore := cp.TotalCompleted()

	collections, err := o.collections(ctx)
	if err != nil {
		return o.finish(cp, sessionID, dbLog, start, err)
	}

	// Snapshot before any mutation. A resumed run keeps the first session's
	// pristine snapshot instead of re-capturing covering indexes.
	backupPath := o.store.BackupPath(clusterName)
	if _, statErr := os.Stat(backupPath); os.IsNotExist(statErr) {
		if err := WriteBackup(ctx, o.target, db, collections, backupPath, o.log); err != nil {
			return o.finish(cp, sessionID, dbLog, start, err)
		}
	}

	// Strict-mode cleanup of leftovers from interrupted prior sessions.
	reclaimer := NewReclaimer(o.target, db, o.cfg.Rebuild.CoverSuffix, o.confirm, o.log)
	if _, err := reclaimer.Reclaim(ctx, collections, cp); err != nil {
		return o.finish(cp, sessionID, dbLog, start, err)
	}

	o.coord.OnRunStart(db, len(collections))

	engine := NewEngine(o.target, db, version, o.cfg.Rebuild, o.log)
	var runErr error
	for _, coll := range collections {
		ce := NewCollectionEngine(o.target, engine, cp, o.store, o.confirm, o.coord, o.cfg.Rebuild, db, o.log)
		cl, cerr := ce.Rebuild(ctx, coll)
		if cl != nil {
			dbLog.SetCollection(coll, cl)
			o.coord.OnCollectionComplete(coll, cl.ReclaimedMB(), cl.ElapsedSeconds)
		}
		if cerr == nil {
			continue
		}
		if merrors.IsAborted(cerr) || stderrors.Is(cerr, context.Canceled) || merrors.IsFatal(cerr) {
			runErr = cerr
			break
		}
		// Collection-level trouble (stats or listing failed): record it and
		// keep going, the other collections are unaffected.
		dbLog.Warn(fmt.Sprintf("%s: %v", coll, cerr))
		o.coord.OnError(cerr.Error(), coll)
	}

	rebuilt := cp.TotalCompleted() - completedBefore
	rep, err = o.finish(cp, sessionID, dbLog, start, runErr)

	success := runErr == nil && dbLog.FailedIndexCount() == 0
	if success {
		// Zero remaining work: retire the checkpoint (and normally the
		// backup) so the next run starts fresh.
		if derr := o.store.Delete(clusterName); derr != nil {
			o.log.Warn("could not delete finished checkpoint", slog.String("error", derr.Error()))
		}
		if !o.cfg.State.KeepBackupOnSuccess {
			_ = os.Remove(backupPath)
		}
	}

	warning := ""
	if n := dbLog.FailedIndexCount(); n > 0 {
		warning = fmt.Sprintf("%d indexes failed, checkpoint retained", n)
	}
	o.coord.OnRunComplete(db, dbLog.ReclaimedMB(), time.Since(start).Seconds(), success, warning)
	o.log.Info("rebuild finished",
		slog.String("cluster", clusterName),
		slog.Int("indexes_rebuilt", rebuilt),
		slog.Int("indexes_failed", dbLog.FailedIndexCount()),
		slog.Int64("reclaimed_mb", dbLog.ReclaimedMB()),
		slog.Bool("success", success))
	return rep, err
}

// finish closes the session, merges the cumulative log, persists the
// checkpoint, and writes the run report. Called on every exit path.
func (o *Orchestrator) finish(cp *state.Checkpoint, sessionID string, dbLog *report.DatabaseLog,
	start time.Time, runErr error) (*report.RunReport, error) {

	dbLog.ElapsedSeconds = time.Since(start).Seconds()

	status := state.SessionCompleted
	switch {
	case runErr == nil && dbLog.FailedIndexCount() > 0:
		status = state.SessionFailed
	case merrors.IsAborted(runErr) || stderrors.Is(runErr, context.Canceled):
		status = state.SessionInterrupted
	case runErr != nil:
		status = state.SessionFailed
	}

	rebuilt := 0
	for _, cl := range dbLog.Collections {
		for _, il := range cl.Indexes {
			if il.Status == report.StatusCompleted {
				rebuilt++
			}
		}
	}

	cp.MergeLog(dbLog)
	cp.EndSession(sessionID, status, rebuilt)
	if err := o.store.Save(cp); err != nil {
		o.log.Error("could not persist checkpoint at run end", slog.String("error", err.Error()))
		if runErr == nil {
			runErr = err
		}
	}

	rep := report.NewRunReport(cp.Cluster, "rebuild", dbLog)
	rep.TotalSeconds = dbLog.ElapsedSeconds
	if runErr != nil {
		rep.Error = runErr.Error()
	}
	o.writeReport(rep)

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

// clusterName resolves the name that scopes checkpoint and report files:
// explicit config, else the replica-set name, else "standalone".
func (o *Orchestrator) clusterName(ctx context.Context) string {
	if o.cfg.Target.ClusterName != "" {
		return o.cfg.Target.ClusterName
	}
	if name, err := o.target.ReplicaSetName(ctx); err == nil && name != "" {
		return name
	}
	return "standalone"
}

// collections lists the run's target collections: system namespaces out,
// then the configured include/exclude filter.
func (o *Orchestrator) collections(ctx context.Context) ([]string, error) {
	all, err := o.target.ListCollections(ctx, o.cfg.Target.Database)
	if err != nil {
		return nil, err
	}
	filter := config.NewNameFilter(o.cfg.Rebuild.Include, o.cfg.Rebuild.Exclude)
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
