package rebuild

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	merrors "github.com/Aman-CERP/mongomaint/internal/errors"
	"github.com/Aman-CERP/mongomaint/internal/state"
	"github.com/Aman-CERP/mongomaint/internal/ui"
)

// OrphanedIndex is one covering index left behind by an interrupted or
// superseded prior run. Recomputed fresh each run, never persisted.
type OrphanedIndex struct {
	Collection string
	Name       string
}

// Reclaimer finds and removes leftover covering indexes.
type Reclaimer struct {
	cluster Cluster
	db      string
	suffix  string
	confirm ui.Confirmer
	log     *slog.Logger
}

// NewReclaimer creates a reclaimer for one database. confirm may be nil to
// remove without prompting.
func NewReclaimer(c Cluster, db, suffix string, confirm ui.Confirmer, log *slog.Logger) *Reclaimer {
	return &Reclaimer{cluster: c, db: db, suffix: suffix, confirm: confirm, log: log}
}

// Reclaim removes leftover covering indexes and returns what it dropped.
//
// With a checkpoint supplied it runs in strict mode: a suffix-matching index
// is removed only when its suffix-stripped original is already recorded
// completed, proof the original finished and this is a true leftover. During
// an active multi-session run a suffix-named index may be mid-build from the
// current run, so unconditional removal would destroy live work.
//
// Without a checkpoint (standalone cleanup) it runs in aggressive mode and
// removes every match.
func (r *Reclaimer) Reclaim(ctx context.Context, collections []string, cp *state.Checkpoint) ([]OrphanedIndex, error) {
	var candidates []OrphanedIndex
	for _, coll := range collections {
		descs, err := r.cluster.ListIndexes(ctx, r.db, coll)
		if err != nil {
			return nil, err
		}
		for _, d := range descs {
			if !d.HasSuffix(r.suffix) {
				continue
			}
			if cp != nil {
				original := strings.TrimSuffix(d.Name, r.suffix)
				if !cp.IsCompleted(coll, original) {
					r.log.Debug("keeping covering index, original not completed",
						slog.String("collection", coll),
						slog.String("index", d.Name))
					continue
				}
			}
			candidates = append(candidates, OrphanedIndex{Collection: coll, Name: d.Name})
		}
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	if r.confirm != nil {
		ans, err := r.confirm.Confirm(fmt.Sprintf("Remove %d leftover covering indexes from %s?", len(candidates), r.db))
		if err != nil {
			return nil, err
		}
		switch ans {
		case ui.AnswerYes:
		case ui.AnswerSkip:
			return nil, nil
		default:
			return nil, merrors.ErrAborted
		}
	}

	removed := make([]OrphanedIndex, 0, len(candidates))
	for _, o := range candidates {
		if err := r.cluster.DropIndex(ctx, r.db, o.Collection, o.Name); err != nil {
			return removed, err
		}
		r.log.Info("removed orphaned covering index",
			slog.String("collection", o.Collection),
			slog.String("index", o.Name))
		removed = append(removed, o)
	}
	return removed, nil
}
