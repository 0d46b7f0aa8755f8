package compact

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Aman-CERP/mongomaint/internal/cluster"
	"github.com/Aman-CERP/mongomaint/internal/config"
	merrors "github.com/Aman-CERP/mongomaint/internal/errors"
	"github.com/Aman-CERP/mongomaint/internal/report"
)

// Engine compacts one collection at a time across the replica set: estimate,
// skip-if-not-worthwhile, iterate on secondaries until the storage size
// converges, then step the primary down and compact it as a secondary. One
// engine serves a whole run; execution is strictly sequential.
type Engine struct {
	cluster Cluster
	db      string
	version cluster.Version
	cfg     config.CompactConfig
	log     *slog.Logger

	// sleep and retryDelay are swapped out by tests so loops run instantly.
	sleep      func(ctx context.Context, d time.Duration) error
	retryDelay time.Duration
}

// NewEngine creates a compaction engine for one database on one server release.
func NewEngine(c Cluster, db string, version cluster.Version, cfg config.CompactConfig, log *slog.Logger) *Engine {
	return &Engine{
		cluster:    c,
		db:         db,
		version:    version,
		cfg:        cfg,
		log:        log,
		sleep:      sleepCtx,
		retryDelay: 5 * time.Second,
	}
}

// Compact runs the full convergence loop for one collection. Trouble on a
// node is recorded in the returned log, not as an error: one bad collection
// must not abort the run. The error return is reserved for cancellation.
// Non-convergence within the iteration cap is a warning, never an error.
func (e *Engine) Compact(ctx context.Context, coll string) (*report.CollectionLog, error) {
	l := report.NewCollectionLog()

	stats, err := e.cluster.CollStats(ctx, e.db, coll)
	if err != nil {
		return nil, err
	}
	l.InitialSizeMB = stats.StorageSizeMB()
	l.FinalSizeMB = l.InitialSizeMB

	members, err := e.cluster.Members(ctx)
	if err != nil {
		return nil, err
	}
	secondaries := pickSecondaries(members)
	primary := primaryHost(members)

	estMB := e.estimateMB(ctx, coll, stats, secondaries)
	if estMB < e.cfg.MinSavingsMB {
		l.Status = report.StatusSkipped
		l.ElapsedSeconds = time.Since(l.StartTime).Seconds()
		e.log.Info("estimated savings below floor, skipping",
			slog.String("collection", coll),
			slog.String("estimated", humanize.IBytes(uint64(estMB)*mbBytes)),
			slog.Int64("floor_mb", e.cfg.MinSavingsMB))
		return l, nil
	}

	if len(secondaries) == 0 {
		l.Status = report.StatusSkipped
		l.Warn("no healthy secondary available, collection left uncompacted")
		l.ElapsedSeconds = time.Since(l.StartTime).Seconds()
		e.log.Warn("no healthy secondary available", slog.String("collection", coll))
		return l, nil
	}

	e.log.Info("compacting collection",
		slog.String("collection", coll),
		slog.String("size", humanize.IBytes(uint64(stats.StorageSizeBytes))),
		slog.String("estimated_savings", humanize.IBytes(uint64(estMB)*mbBytes)),
		slog.Any("secondaries", secondaries))

	// The pre-compaction size opens the measurement sequence.
	l.MeasurementsMB = append(l.MeasurementsMB, l.InitialSizeMB)
	converged := false
	for i := 0; i < e.cfg.MaxIterations; i++ {
		host := secondaries[i%len(secondaries)]
		sizeMB, cerr := e.compactOn(ctx, host, coll)
		if cerr != nil {
			return e.fail(l, coll, cerr)
		}
		l.MeasurementsMB = append(l.MeasurementsMB, sizeMB)
		e.log.Info("compaction iteration finished",
			slog.String("collection", coll),
			slog.String("node", host),
			slog.Int("iteration", i+1),
			slog.Int64("size_mb", sizeMB))
		if Converged(l.MeasurementsMB, e.cfg.Tolerance, e.cfg.MinConvergenceMB) {
			converged = true
			break
		}
	}
	if !converged {
		l.Warn(fmt.Sprintf("secondaries did not converge after %d iterations", e.cfg.MaxIterations))
		e.log.Warn("compaction did not converge on secondaries",
			slog.String("collection", coll),
			slog.Any("measurements_mb", l.MeasurementsMB))
	}

	// A primary cannot reclaim its own freed pages while serving writes, so
	// it steps down and gets the same treatment as a secondary.
	if primary != "" {
		if perr := e.compactFormerPrimary(ctx, primary, coll, l); perr != nil {
			if isCancellation(perr) {
				l.ElapsedSeconds = time.Since(l.StartTime).Seconds()
				return l, perr
			}
			l.Warn(fmt.Sprintf("primary pass failed: %v", perr))
			e.log.Warn("primary compaction pass failed",
				slog.String("collection", coll),
				slog.String("node", primary),
				slog.String("error", perr.Error()))
		}
	}

	// Re-measure through the seed connection once everything settled.
	if final, serr := e.cluster.CollStats(ctx, e.db, coll); serr == nil {
		l.FinalSizeMB = final.StorageSizeMB()
	}
	l.ElapsedSeconds = time.Since(l.StartTime).Seconds()
	e.log.Info("collection compacted",
		slog.String("collection", coll),
		slog.Int64("reclaimed_mb", l.ReclaimedMB()),
		slog.Bool("converged", converged))
	return l, nil
}

// fail closes the log for a collection whose compaction broke. Cancellation
// propagates; everything else is recorded and swallowed.
func (e *Engine) fail(l *report.CollectionLog, coll string, err error) (*report.CollectionLog, error) {
	l.ElapsedSeconds = time.Since(l.StartTime).Seconds()
	if isCancellation(err) {
		return l, err
	}
	l.Status = report.StatusFailed
	l.Warn(err.Error())
	e.log.Error("compaction failed",
		slog.String("collection", coll),
		slog.String("error", err.Error()))
	return l, nil
}

// estimateMB estimates reclaimable space: a dry-run compact where the server
// supports one (8.0+), otherwise the collStats free-storage gap. The dry run
// is best-effort; any trouble falls back to the gap.
func (e *Engine) estimateMB(ctx context.Context, coll string, stats cluster.CollStats, secondaries []string) int64 {
	if e.version.AtLeast(8, 0) && len(secondaries) > 0 {
		node, err := e.cluster.DialDirect(ctx, secondaries[0])
		if err == nil {
			defer node.Close(ctx)
			if freed, ferr := node.CompactEstimate(ctx, e.db, coll); ferr == nil {
				return freed / mbBytes
			}
		}
		e.log.Debug("dry-run estimate unavailable, using collStats gap",
			slog.String("collection", coll))
	}
	return stats.ReclaimableBytes() / mbBytes
}

// compactOn compacts the collection on one node and returns the storage size
// it reports afterwards. A transient command failure gets one retry after a
// short fixed delay, matching the per-index rebuild policy.
func (e *Engine) compactOn(ctx context.Context, host, coll string) (int64, error) {
	retryCfg := merrors.RetryConfig{
		MaxRetries:   1,
		InitialDelay: e.retryDelay,
		MaxDelay:     e.retryDelay,
		Multiplier:   1.0,
	}
	return merrors.RetryWithResult(ctx, retryCfg, func() (int64, error) {
		return e.compactOnce(ctx, host, coll)
	})
}

func (e *Engine) compactOnce(ctx context.Context, host, coll string) (int64, error) {
	node, err := e.cluster.DialDirect(ctx, host)
	if err != nil {
		return 0, err
	}
	defer node.Close(ctx)

	if err := node.Compact(ctx, e.db, coll); err != nil {
		return 0, err
	}
	stats, err := node.CollStats(ctx, e.db, coll)
	if err != nil {
		return 0, err
	}
	return stats.StorageSizeMB(), nil
}

// compactFormerPrimary steps the primary down, waits for the set to settle,
// then runs a fresh convergence sequence on the former primary. Its
// measurements merge into the collection log after the secondary ones.
func (e *Engine) compactFormerPrimary(ctx context.Context, host, coll string, l *report.CollectionLog) error {
	if err := e.stepDownAndSettle(ctx, host); err != nil {
		return err
	}

	start, err := e.nodeSizeMB(ctx, host, coll)
	if err != nil {
		return err
	}
	ms := []int64{start}
	l.MeasurementsMB = append(l.MeasurementsMB, start)

	for i := 0; i < e.cfg.MaxIterations; i++ {
		sizeMB, cerr := e.compactOn(ctx, host, coll)
		if cerr != nil {
			return cerr
		}
		ms = append(ms, sizeMB)
		l.MeasurementsMB = append(l.MeasurementsMB, sizeMB)
		e.log.Info("compaction iteration finished",
			slog.String("collection", coll),
			slog.String("node", host),
			slog.Int("iteration", i+1),
			slog.Int64("size_mb", sizeMB))
		if Converged(ms, e.cfg.Tolerance, e.cfg.MinConvergenceMB) {
			return nil
		}
	}
	l.Warn(fmt.Sprintf("former primary %s did not converge after %d iterations", host, e.cfg.MaxIterations))
	return nil
}

// stepDownAndSettle asks the primary to step down and polls the member list
// until another node holds the primary role and the former primary reports
// secondary, bounded by the configured settlement wait.
func (e *Engine) stepDownAndSettle(ctx context.Context, formerPrimary string) error {
	e.log.Info("stepping down primary",
		slog.String("node", formerPrimary),
		slog.Int("seconds", e.cfg.StepDownSeconds))
	if err := e.cluster.StepDown(ctx, e.cfg.StepDownSeconds); err != nil {
		return err
	}

	deadline := time.Now().Add(e.cfg.StepDownWaitDuration())
	delay := 2 * time.Second
	for {
		members, err := e.cluster.Members(ctx)
		if err == nil && settled(members, formerPrimary) {
			e.log.Info("replica set settled after step-down",
				slog.String("former_primary", formerPrimary))
			return nil
		}
		if time.Now().After(deadline) {
			return merrors.New(merrors.ErrCodeStepDown,
				fmt.Sprintf("replica set did not settle within %s after step-down", e.cfg.StepDownWaitDuration()), err)
		}
		if serr := e.sleep(ctx, delay); serr != nil {
			return serr
		}
		delay *= 2
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
	}
}

// settled reports whether a new primary was elected and the former one
// finished its transition to secondary.
func settled(members []cluster.Member, formerPrimary string) bool {
	newPrimary, formerIsSecondary := false, false
	for _, m := range members {
		if m.IsPrimary() && m.Host != formerPrimary {
			newPrimary = true
		}
		if m.Host == formerPrimary && m.IsSecondary() {
			formerIsSecondary = true
		}
	}
	return newPrimary && formerIsSecondary
}

// nodeSizeMB reads the collection's storage size as one node sees it.
func (e *Engine) nodeSizeMB(ctx context.Context, host, coll string) (int64, error) {
	node, err := e.cluster.DialDirect(ctx, host)
	if err != nil {
		return 0, err
	}
	defer node.Close(ctx)
	stats, err := node.CollStats(ctx, e.db, coll)
	if err != nil {
		return 0, err
	}
	return stats.StorageSizeMB(), nil
}

// pickSecondaries orders the healthy secondaries to compact against:
// zone-tagged members first (one per zone, so iterations spread across
// failure domains), then untagged ones, capped at two distinct nodes.
func pickSecondaries(members []cluster.Member) []string {
	var tagged, untagged []string
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
			tagged = append(tagged, m.Host)
		} else {
			untagged = append(untagged, m.Host)
		}
	}
	hosts := append(tagged, untagged...)
	if len(hosts) > 2 {
		hosts = hosts[:2]
	}
	return hosts
}

// primaryHost returns the current primary's host, empty when the set has none.
func primaryHost(members []cluster.Member) string {
	for _, m := range members {
		if m.IsPrimary() {
			return m.Host
		}
	}
	return ""
}

func isCancellation(err error) bool {
	return stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
