// Package rebuild implements in-place secondary index rebuilds: a disposable
// covering index is built before the real one is ever dropped, so queries
// stay served through the swap. The per-index state machine is crash
// recoverable; a checkpoint persisted after every completed index lets a
// multi-hour run resume where it stopped.
package rebuild

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/Aman-CERP/mongomaint/internal/cluster"
	"github.com/Aman-CERP/mongomaint/internal/indexes"
)

const mbBytes = 1024 * 1024

// Cluster is the database access the per-collection engines need.
// *cluster.Client satisfies it; tests use in-memory fakes.
type Cluster interface {
	ListCollections(ctx context.Context, db string) ([]string, error)
	ListIndexes(ctx context.Context, db, coll string) ([]indexes.Descriptor, error)
	CreateIndex(ctx context.Context, db, coll, name string, keys bson.D, opts bson.M) error
	DropIndex(ctx context.Context, db, coll, name string) error
	IndexStats(ctx context.Context, db, coll string) ([]string, error)
	CollStats(ctx context.Context, db, coll string) (cluster.CollStats, error)
}

// Target adds the orchestrator-level probes on top of Cluster.
type Target interface {
	Cluster
	ServerVersion(ctx context.Context) (cluster.Version, error)
	ReplicaSetName(ctx context.Context) (string, error)
}
