package rebuild

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/errgroup"

	merrors "github.com/Aman-CERP/mongomaint/internal/errors"
)

// backupConcurrency bounds the parallel listIndexes fan-out of the snapshot
// pass. Discovery is read-only; actual rebuilds stay strictly sequential.
const backupConcurrency = 4

// WriteBackup snapshots every collection's full index descriptors to path,
// as extended JSON, before any mutation. The file is what an operator
// restores from if a run leaves a collection without an intended index.
func WriteBackup(ctx context.Context, c Cluster, db string, collections []string, path string, log *slog.Logger) error {
	snapshots := make([]bson.A, len(collections))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(backupConcurrency)
	for i, coll := range collections {
		i, coll := i, coll
		g.Go(func() error {
			descs, err := c.ListIndexes(gctx, db, coll)
			if err != nil {
				return err
			}
			docs := make(bson.A, 0, len(descs))
			for _, d := range descs {
				docs = append(docs, d.Raw)
			}
			snapshots[i] = docs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return merrors.New(merrors.ErrCodeBackupWrite, "failed to snapshot index definitions", err)
	}

	byCollection := bson.M{}
	total := 0
	for i, coll := range collections {
		byCollection[coll] = snapshots[i]
		total += len(snapshots[i])
	}
	doc := bson.M{
		"database":     db,
		"generated_at": time.Now().UTC(),
		"collections":  byCollection,
	}

	data, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return merrors.New(merrors.ErrCodeBackupWrite, "failed to encode index backup", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return merrors.New(merrors.ErrCodeBackupWrite, "failed to write index backup", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return merrors.New(merrors.ErrCodeBackupWrite, "failed to save index backup", err)
	}

	log.Info("index backup written",
		slog.String("path", path),
		slog.Int("collections", len(collections)),
		slog.Int("indexes", total))
	return nil
}
