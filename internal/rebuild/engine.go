package rebuild

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/Aman-CERP/mongomaint/internal/cluster"
	"github.com/Aman-CERP/mongomaint/internal/config"
	merrors "github.com/Aman-CERP/mongomaint/internal/errors"
	"github.com/Aman-CERP/mongomaint/internal/indexes"
	"github.com/Aman-CERP/mongomaint/internal/report"
)

// StepState is the per-index state machine position, logged at each
// transition so an interrupted run's last step is visible in the log file.
type StepState int

const (
	StatePlanning StepState = iota
	StateCovering
	StateCovered
	StateSwapping
	StateSwapped
	StateVerifying
	StateDone
	StateFailed
)

// String returns the state name.
func (s StepState) String() string {
	switch s {
	case StatePlanning:
		return "PLANNING"
	case StateCovering:
		return "COVERING"
	case StateCovered:
		return "COVERED"
	case StateSwapping:
		return "SWAPPING"
	case StateSwapped:
		return "SWAPPED"
	case StateVerifying:
		return "VERIFYING"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Engine rebuilds one index at a time through the cover/swap/verify state
// machine. One engine serves a whole run; it is not safe for concurrent use
// and never needs to be (execution is strictly sequential).
type Engine struct {
	cluster Cluster
	db      string
	version cluster.Version
	cfg     config.RebuildConfig
	log     *slog.Logger

	// sleep is swapped out by tests so polling loops run instantly.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates a rebuild engine for one database on one server release.
func NewEngine(c Cluster, db string, version cluster.Version, cfg config.RebuildConfig, log *slog.Logger) *Engine {
	return &Engine{
		cluster: c,
		db:      db,
		version: version,
		cfg:     cfg,
		log:     log,
		sleep:   sleepCtx,
	}
}

// Rebuild runs the full state machine for one index, retrying per
// configuration. An index that exhausts its retries is reported failed in
// the returned log, not as an error: one bad index must not abort its
// collection. The error return is reserved for cancellation.
func (e *Engine) Rebuild(ctx context.Context, coll string, desc indexes.Descriptor) (*report.IndexLog, error) {
	l := &report.IndexLog{
		StartTime:     time.Now().UTC(),
		InitialSizeMB: desc.SizeBytes / mbBytes,
	}

	coverName := desc.Name + e.cfg.CoverSuffix
	attempts := 0

	retryCfg := merrors.RetryConfig{
		MaxRetries:   e.cfg.RetryAttempts,
		InitialDelay: e.cfg.RetryDelayDuration(),
		MaxDelay:     e.cfg.RetryDelayDuration(),
		Multiplier:   1.0,
		PreRetry: func(ctx context.Context, attempt int, cause error) error {
			// A half-built covering index from the failed attempt would
			// confuse the reuse check, so drop it before going again.
			e.log.Warn("rebuild attempt failed, cleaning up before retry",
				slog.String("collection", coll),
				slog.String("index", desc.Name),
				slog.Int("attempt", attempt),
				slog.String("error", cause.Error()))
			return e.cluster.DropIndex(ctx, e.db, coll, coverName)
		},
	}

	err := merrors.Retry(ctx, retryCfg, func() error {
		attempts++
		return e.rebuildOnce(ctx, coll, desc)
	})

	l.ElapsedSeconds = time.Since(l.StartTime).Seconds()
	l.Retries = attempts - 1
	if l.Retries < 0 {
		l.Retries = 0
	}

	if err != nil {
		l.Status = report.StatusFailed
		l.LastError = err.Error()
		e.log.Error("index rebuild failed",
			slog.String("collection", coll),
			slog.String("index", desc.Name),
			slog.Int("retries", l.Retries),
			slog.String("error", err.Error()))
		if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
			return l, err
		}
		return l, nil
	}

	l.Status = report.StatusCompleted
	e.log.Info("index rebuilt",
		slog.String("collection", coll),
		slog.String("index", desc.Name),
		slog.Float64("seconds", l.ElapsedSeconds))
	return l, nil
}

// rebuildOnce runs steps of the state machine exactly once.
func (e *Engine) rebuildOnce(ctx context.Context, coll string, desc indexes.Descriptor) error {
	coverName := desc.Name + e.cfg.CoverSuffix
	coverKeys := coveringKeys(desc.Keys, e.cfg.CoverField)
	coverOpts := coveringOptions(desc.Options)

	e.logStep(coll, desc.Name, StatePlanning)

	// Crash recovery: a valid leftover covering index from an interrupted run
	// is reused instead of rebuilt.
	existing, err := e.find(ctx, coll, coverName)
	if err != nil {
		return err
	}
	reuse := false
	if existing != nil {
		if !existing.Building &&
			indexes.KeysEqual(existing.Keys, coverKeys) &&
			indexes.OptionsEqual(existing.Options, coverOpts) {
			e.log.Info("reusing leftover covering index",
				slog.String("collection", coll),
				slog.String("index", coverName))
			reuse = true
		} else {
			e.log.Warn("leftover covering index does not match, dropping",
				slog.String("collection", coll),
				slog.String("index", coverName))
			if err := e.cluster.DropIndex(ctx, e.db, coll, coverName); err != nil {
				return err
			}
		}
	}

	if !reuse {
		e.logStep(coll, desc.Name, StateCovering)
		if err := e.cluster.CreateIndex(ctx, e.db, coll, coverName, coverKeys, coverOpts); err != nil {
			return err
		}
		if err := e.awaitAndVerify(ctx, coll, coverName, coverKeys, coverOpts); err != nil {
			return err
		}
	}
	e.logStep(coll, desc.Name, StateCovered)

	// The covering index now serves queries; the original can go.
	e.logStep(coll, desc.Name, StateSwapping)
	if err := e.cluster.DropIndex(ctx, e.db, coll, desc.Name); err != nil {
		return err
	}

	finalOpts, removed := indexes.FilterOptions(e.version.Major, e.version.Minor, desc.Options)
	if len(removed) > 0 {
		e.log.Warn("dropping index options the server does not support",
			slog.String("collection", coll),
			slog.String("index", desc.Name),
			slog.String("server", e.version.String()),
			slog.Any("removed", removed))
	}
	if err := e.cluster.CreateIndex(ctx, e.db, coll, desc.Name, desc.Keys, finalOpts); err != nil {
		return err
	}
	e.logStep(coll, desc.Name, StateSwapped)

	e.logStep(coll, desc.Name, StateVerifying)
	if err := e.awaitAndVerify(ctx, coll, desc.Name, desc.Keys, finalOpts); err != nil {
		return err
	}

	if err := e.cluster.DropIndex(ctx, e.db, coll, coverName); err != nil {
		return err
	}

	e.logStep(coll, desc.Name, StateDone)
	return nil
}

// awaitAndVerify waits for an index build to finish and then checks the
// result matches the requested key and options exactly. A mismatch is never
// silently accepted: it would leave the collection without its intended
// index.
func (e *Engine) awaitAndVerify(ctx context.Context, coll, name string, keys bson.D, opts bson.M) error {
	ready, err := e.waitReady(ctx, coll, name)
	if err != nil {
		return err
	}
	if !ready {
		return merrors.New(merrors.ErrCodeIndexBuilding,
			fmt.Sprintf("index %s on %s.%s still building after %s", name, e.db, coll, e.cfg.BuildTimeout), nil)
	}

	found, err := e.find(ctx, coll, name)
	if err != nil {
		return err
	}
	if found == nil {
		return merrors.New(merrors.ErrCodeIndexMissing,
			fmt.Sprintf("index %s vanished from %s.%s", name, e.db, coll), nil)
	}
	if found.Building {
		return merrors.New(merrors.ErrCodeIndexBuilding,
			fmt.Sprintf("index %s on %s.%s reports a build in progress", name, e.db, coll), nil)
	}
	if !indexes.KeysEqual(found.Keys, keys) {
		return merrors.New(merrors.ErrCodeIndexMismatch,
			fmt.Sprintf("index %s on %s.%s has an unexpected key specification", name, e.db, coll), nil)
	}
	if !indexes.OptionsEqual(found.Options, opts) {
		return merrors.New(merrors.ErrCodeIndexMismatch,
			fmt.Sprintf("index %s on %s.%s has unexpected options", name, e.db, coll), nil)
	}
	return nil
}

// waitReady polls until the index reports ready, the context is cancelled,
// or the build timeout expires. Timeout expiry returns (false, nil): "not
// yet" is an outcome, not an error; the retry policy above decides what to
// do with it.
//
// Readiness combines two signals: the descriptor's build-in-progress marker
// and a best-effort $indexStats probe. Either alone is authoritative when
// the other is unavailable.
func (e *Engine) waitReady(ctx context.Context, coll, name string) (bool, error) {
	deadline := time.Now().Add(e.cfg.BuildTimeoutDuration())
	delay := e.cfg.PollInitialDuration()
	maxDelay := e.cfg.PollMaxDuration()

	for {
		found, err := e.find(ctx, coll, name)
		if err != nil {
			return false, err
		}
		if found == nil {
			return false, merrors.New(merrors.ErrCodeIndexMissing,
				fmt.Sprintf("index %s vanished from %s.%s while waiting for its build", name, e.db, coll), nil)
		}
		if !found.Building && e.statsReady(ctx, coll, name) {
			return true, nil
		}

		if time.Now().After(deadline) {
			return false, nil
		}
		e.log.Debug("index still building",
			slog.String("collection", coll),
			slog.String("index", name),
			slog.Duration("next_poll", delay))
		if err := e.sleep(ctx, delay); err != nil {
			return false, err
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// statsReady checks whether $indexStats sees the index. Restricted tiers
// deny the aggregation; the descriptor signal stands alone then.
func (e *Engine) statsReady(ctx context.Context, coll, name string) bool {
	names, err := e.cluster.IndexStats(ctx, e.db, coll)
	if err != nil {
		e.log.Debug("$indexStats unavailable, trusting the descriptor",
			slog.String("collection", coll),
			slog.String("error", err.Error()))
		return true
	}
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// find returns the named index's current descriptor, or nil when absent.
func (e *Engine) find(ctx context.Context, coll, name string) (*indexes.Descriptor, error) {
	descs, err := e.cluster.ListIndexes(ctx, e.db, coll)
	if err != nil {
		return nil, err
	}
	for i := range descs {
		if descs[i].Name == name {
			return &descs[i], nil
		}
	}
	return nil, nil
}

func (e *Engine) logStep(coll, index string, s StepState) {
	e.log.Debug("rebuild step",
		slog.String("collection", coll),
		slog.String("index", index),
		slog.String("state", s.String()))
}

// coveringKeys builds the covering key specification: the original keys plus
// one synthetic ascending field, so the cover is a distinct index the server
// will accept alongside the original.
func coveringKeys(keys bson.D, coverField string) bson.D {
	out := make(bson.D, 0, len(keys)+1)
	out = append(out, keys...)
	out = append(out, bson.E{Key: coverField, Value: int32(1)})
	return out
}

// coveringOptions carries over only the partial-filter predicate: a cover
// with a different filter would not serve the same queries. Everything else
// (TTL, uniqueness, hidden) must not apply to the temporary index.
func coveringOptions(opts bson.M) bson.M {
	out := bson.M{}
	if pfe, ok := opts["partialFilterExpression"]; ok {
		out["partialFilterExpression"] = pfe
	}
	return out
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
