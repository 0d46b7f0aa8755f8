package compact

import (
	"context"
	"log/slog"
	"time"

	"github.com/Aman-CERP/mongomaint/internal/cluster"
	"github.com/Aman-CERP/mongomaint/internal/config"
	merrors "github.com/Aman-CERP/mongomaint/internal/errors"
)

// AutoCompactor drives the server-managed background compaction job (8.0+):
// one-shot enable per node, poll the active-operation list until the job
// disappears, then a guaranteed disable. The job compacts every collection on
// the node, so collection filters do not apply here.
type AutoCompactor struct {
	cluster Cluster
	cfg     config.CompactConfig
	log     *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewAutoCompactor wires the background-compaction driver.
func NewAutoCompactor(c Cluster, cfg config.CompactConfig, log *slog.Logger) *AutoCompactor {
	return &AutoCompactor{
		cluster: c,
		cfg:     cfg,
		log:     log,
		sleep:   sleepCtx,
	}
}

// Run visits every data-bearing node sequentially (primary first, then one
// secondary per zone) and runs the one-shot job to completion on each.
// Returns the hosts that finished. A node failure stops the run: the job is
// idempotent, so the operator simply re-runs after fixing the node.
func (a *AutoCompactor) Run(ctx context.Context) ([]string, error) {
	members, err := a.cluster.Members(ctx)
	if err != nil {
		return nil, err
	}
	hosts := autoCompactOrder(members)
	if len(hosts) == 0 {
		return nil, merrors.New(merrors.ErrCodeNotReplicaSet, "no healthy data-bearing members found", nil)
	}

	var done []string
	for _, host := range hosts {
		if err := a.runNode(ctx, host); err != nil {
			return done, err
		}
		done = append(done, host)
	}
	return done, nil
}

// runNode enables the job on one node, waits it out, and disables it again.
// The disable runs no matter how the wait ends; if the context died, a fresh
// short-lived one carries the cleanup so the node is never left with the job
// switched on.
func (a *AutoCompactor) runNode(ctx context.Context, host string) error {
	node, err := a.cluster.DialDirect(ctx, host)
	if err != nil {
		return err
	}
	defer func() {
		cctx := ctx
		if ctx.Err() != nil {
			var cancel context.CancelFunc
			cctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
		}
		if derr := node.DisableAutoCompact(cctx); derr != nil {
			a.log.Warn("could not disable background compaction",
				slog.String("node", host),
				slog.String("error", derr.Error()))
		}
		_ = node.Close(cctx)
	}()

	a.log.Info("enabling background compaction",
		slog.String("node", host),
		slog.Int64("free_space_target_mb", a.cfg.FreeSpaceTargetMB))
	if err := node.EnableAutoCompact(ctx, a.cfg.FreeSpaceTargetMB); err != nil {
		return err
	}
	return a.awaitDone(ctx, node, host)
}

// awaitDone polls the node until its active-operation list no longer shows
// the job. A one-shot job that already finished looks identical to one that
// never registered, and both mean done.
func (a *AutoCompactor) awaitDone(ctx context.Context, node Node, host string) error {
	delay := 2 * time.Second
	for {
		running, err := node.AutoCompactRunning(ctx)
		if err != nil {
			return err
		}
		if !running {
			a.log.Info("background compaction finished", slog.String("node", host))
			return nil
		}
		a.log.Debug("background compaction still running",
			slog.String("node", host),
			slog.Duration("next_poll", delay))
		if serr := a.sleep(ctx, delay); serr != nil {
			return serr
		}
		delay *= 2
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
	}
}

// autoCompactOrder lists the nodes to visit: the primary first (writers see
// the benefit soonest), then one healthy secondary per zone, then untagged
// secondaries.
func autoCompactOrder(members []cluster.Member) []string {
	var hosts []string
	for _, m := range members {
		if m.Healthy && m.IsPrimary() {
			hosts = append(hosts, m.Host)
		}
	}
	seenZones := map[string]bool{}
	for _, m := range members {
		if !m.Healthy || !m.IsSecondary() {
			continue
		}
		if z := m.Zone(); z != "" {
			if seenZones[z] {
				continue
			}
			seenZones[z] = true
		}
		hosts = append(hosts, m.Host)
	}
	return hosts
}
