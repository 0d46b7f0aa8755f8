// Package compact reclaims space freed by deleted documents across a
// replica set without an availability outage. Secondaries are compacted
// iteratively until the observed storage size converges; the primary is
// stepped down and compacted last. On 8.0+ servers the server-managed
// background compaction job can take over per node.
//
// Compaction is deliberately non-resumable: the work is idempotent and
// at-least-once, so an interrupted run is simply re-run. There is no
// compaction checkpoint.
package compact

import (
	"context"

	"github.com/Aman-CERP/mongomaint/internal/cluster"
)

const mbBytes = 1024 * 1024

// Node is a direct connection to one replica-set member.
// *cluster.Client (after DialDirect) satisfies it.
type Node interface {
	Host() string
	Compact(ctx context.Context, db, coll string) error
	CompactEstimate(ctx context.Context, db, coll string) (int64, error)
	CollStats(ctx context.Context, db, coll string) (cluster.CollStats, error)
	EnableAutoCompact(ctx context.Context, freeSpaceTargetMB int64) error
	DisableAutoCompact(ctx context.Context) error
	AutoCompactRunning(ctx context.Context) (bool, error)
	Close(ctx context.Context) error
}

// Cluster is the seed-connection surface the compaction engines need.
type Cluster interface {
	ListCollections(ctx context.Context, db string) ([]string, error)
	CollStats(ctx context.Context, db, coll string) (cluster.CollStats, error)
	Members(ctx context.Context) ([]cluster.Member, error)
	DialDirect(ctx context.Context, host string) (Node, error)
	StepDown(ctx context.Context, seconds int) error
	ServerVersion(ctx context.Context) (cluster.Version, error)
	ReplicaSetName(ctx context.Context) (string, error)
}

// clientCluster adapts *cluster.Client to the Cluster interface; the only
// impedance is DialDirect's concrete return type.
type clientCluster struct {
	*cluster.Client
}

func (c clientCluster) DialDirect(ctx context.Context, host string) (Node, error) {
	return c.Client.DialDirect(ctx, host)
}

// Adapt wraps a connected client for use by the compaction engines.
func Adapt(c *cluster.Client) Cluster {
	return clientCluster{c}
}
