package rebuild

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Aman-CERP/mongomaint/internal/config"
	"github.com/Aman-CERP/mongomaint/internal/coordinator"
	"github.com/Aman-CERP/mongomaint/internal/indexes"
	"github.com/Aman-CERP/mongomaint/internal/report"
	"github.com/Aman-CERP/mongomaint/internal/state"
	"github.com/Aman-CERP/mongomaint/internal/ui"
)

// CollectionEngine sequences index rebuilds within one collection:
// discovery, filtering, sizing, ordering, dispatch, final re-measurement.
type CollectionEngine struct {
	cluster    Cluster
	engine     *Engine
	checkpoint *state.Checkpoint
	store      *state.Store
	confirm    ui.Confirmer
	coord      coordinator.Coordinator
	cfg        config.RebuildConfig
	db         string
	log        *slog.Logger
}

// NewCollectionEngine wires a collection engine. confirm may be nil for
// unattended runs; coord is expected to be Safe-wrapped by the caller.
func NewCollectionEngine(c Cluster, engine *Engine, cp *state.Checkpoint, store *state.Store,
	confirm ui.Confirmer, coord coordinator.Coordinator, cfg config.RebuildConfig, db string,
	log *slog.Logger) *CollectionEngine {
	return &CollectionEngine{
		cluster:    c,
		engine:     engine,
		checkpoint: cp,
		store:      store,
		confirm:    confirm,
		coord:      coord,
		cfg:        cfg,
		db:         db,
		log:        log,
	}
}

// Rebuild processes one collection. The returned log is always non-nil when
// work was attempted; the error return carries aborts, cancellation, and
// fatal state-write failures only. A failed index is recorded in the log and
// the remaining indexes still run.
func (ce *CollectionEngine) Rebuild(ctx context.Context, coll string) (*report.CollectionLog, error) {
	l := report.NewCollectionLog()

	stats, err := ce.cluster.CollStats(ctx, ce.db, coll)
	if err != nil {
		return nil, err
	}
	l.InitialSizeMB = stats.TotalSizeMB()

	descs, err := ce.cluster.ListIndexes(ctx, ce.db, coll)
	if err != nil {
		return nil, err
	}
	targets := ce.targets(coll, descs)

	if len(targets) == 0 {
		l.FinalSizeMB = l.InitialSizeMB
		ce.log.Debug("no indexes to rebuild", slog.String("collection", coll))
		return l, nil
	}

	ce.coord.OnCollectionStart(coll, len(targets))

	perIndex := false
	if ce.confirm != nil {
		ans, err := ce.confirm.Confirm(fmt.Sprintf("Rebuild %d indexes in %s.%s?", len(targets), ce.db, coll))
		if err != nil {
			l.Status = report.StatusSkipped
			return l, err
		}
		switch ans {
		case ui.AnswerYes:
		case ui.AnswerSpecify:
			perIndex = true
		default:
			// No and skip both end the collection with zero side effects.
			l.Status = report.StatusSkipped
			l.FinalSizeMB = l.InitialSizeMB
			return l, nil
		}
	}

	for _, d := range targets {
		if perIndex {
			ans, err := ce.confirm.Confirm(fmt.Sprintf("Rebuild index %s on %s.%s?", d.Name, ce.db, coll))
			if err != nil {
				return ce.finish(ctx, coll, l), err
			}
			if ans != ui.AnswerYes {
				l.SetIndex(d.Name, &report.IndexLog{
					StartTime:     time.Now().UTC(),
					InitialSizeMB: d.SizeBytes / mbBytes,
					Status:        report.StatusSkipped,
				})
				continue
			}
		}

		ce.coord.OnIndexStart(coll, d.Name, d.SizeBytes/mbBytes)
		il, err := ce.engine.Rebuild(ctx, coll, d)
		l.SetIndex(d.Name, il)
		completed := il.Status == report.StatusCompleted
		ce.coord.OnIndexComplete(coll, d.Name, il.ElapsedSeconds, completed)
		if err != nil {
			return ce.finish(ctx, coll, l), err
		}

		if completed {
			// Persist immediately: if the process dies right here, the next
			// run resumes past this index.
			ce.checkpoint.MarkCompleted(coll, d.Name)
			if err := ce.store.Save(ce.checkpoint); err != nil {
				return ce.finish(ctx, coll, l), err
			}
		} else {
			l.Warn(fmt.Sprintf("index %s failed after %d retries: %s", d.Name, il.Retries, il.LastError))
			ce.coord.OnError(il.LastError, coll+"."+d.Name)
		}
	}

	return ce.finish(ctx, coll, l), nil
}

// finish closes the collection log: one size measurement for the whole
// collection after all indexes are done (rebuild-then-measure, avoiding
// transient mid-build size artifacts), final status, elapsed time.
func (ce *CollectionEngine) finish(ctx context.Context, coll string, l *report.CollectionLog) *report.CollectionLog {
	if final, err := ce.cluster.CollStats(ctx, ce.db, coll); err == nil {
		l.FinalSizeMB = final.TotalSizeMB()
		for name, il := range l.Indexes {
			if il.Status == report.StatusCompleted {
				il.FinalSizeMB = final.IndexSizes[name] / mbBytes
			}
		}
	} else {
		l.Warn(fmt.Sprintf("final size measurement failed: %v", err))
	}

	if len(l.FailedIndexes()) > 0 {
		l.Status = report.StatusFailed
	}
	l.ElapsedSeconds = time.Since(l.StartTime).Seconds()
	return l
}

// targets filters the collection's descriptors down to the indexes this run
// rebuilds, largest first so the most expensive build fails fast.
func (ce *CollectionEngine) targets(coll string, descs []indexes.Descriptor) []indexes.Descriptor {
	done := ce.checkpoint.CompletedSet(coll)

	var out []indexes.Descriptor
	for _, d := range descs {
		switch {
		case d.IsIdentity():
			// The _id index cannot be dropped.
		case d.IsUnique():
			// A covering duplicate cannot enforce uniqueness during the
			// swap; unique indexes take a separate path.
			ce.log.Debug("skipping unique index",
				slog.String("collection", coll), slog.String("index", d.Name))
		case d.HasSuffix(ce.cfg.CoverSuffix):
			// Leftover cover; the reclaimer owns these.
		case ce.ignored(d.Name):
			ce.log.Debug("skipping ignored index",
				slog.String("collection", coll), slog.String("index", d.Name))
		default:
			if _, ok := done[d.Name]; ok {
				continue
			}
			out = append(out, d)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SizeBytes > out[j].SizeBytes
	})
	return out
}

func (ce *CollectionEngine) ignored(name string) bool {
	for _, p := range ce.cfg.IgnoreIndexes {
		if config.MatchesPattern(p, name) {
			return true
		}
	}
	return false
}
