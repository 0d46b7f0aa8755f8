package compact

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/mongomaint/internal/cluster"
	"github.com/Aman-CERP/mongomaint/internal/config"
	"github.com/Aman-CERP/mongomaint/internal/coordinator"
	merrors "github.com/Aman-CERP/mongomaint/internal/errors"
	"github.com/Aman-CERP/mongomaint/internal/logging"
	"github.com/Aman-CERP/mongomaint/internal/state"
	"github.com/Aman-CERP/mongomaint/internal/ui"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Target.Database = "appdb"
	cfg.State.Dir = t.TempDir()
	cfg.Compact.StepDownWait = "10ms"
	return cfg
}

func testOrchestrator(t *testing.T, f *fakeCluster, cfg *config.Config, confirm ui.Confirmer) (*Orchestrator, *state.Store) {
	t.Helper()
	store := state.NewStore(cfg.State.Dir)
	return NewOrchestrator(f, cfg, store, confirm, nil, logging.Discard()), store
}

// seedConverging sets up one collection that converges in one iteration on
// sec1, with no primary in the set so no step-down interferes.
func seedConverging(f *fakeCluster) {
	f.addCollection("users", 6000, 2000)
	secondariesOnly(f)
	f.schedule("sec1:27017", "users", 6000, 5100)
}

func TestOrchestrator_ManualRun(t *testing.T) {
	// Given: one converging collection
	f := newFakeCluster()
	seedConverging(f)
	cfg := testConfig(t)
	o, _ := testOrchestrator(t, f, cfg, ui.AutoConfirmer{Answer: ui.AnswerYes})

	// When: running
	rep, err := o.Run(context.Background())

	// Then: the collection was compacted and the report landed on disk
	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.Equal(t, "compact", rep.Operation)
	assert.Equal(t, "rs0", rep.Cluster)
	assert.Contains(t, rep.Log.Collections, "users")
	assert.NotEmpty(t, f.compactCalls)

	reports, _ := filepath.Glob(filepath.Join(cfg.State.Dir, "rs0-compact-*.json"))
	assert.NotEmpty(t, reports)
}

// hookRecorder captures the run-level coordinator notifications.
type hookRecorder struct {
	coordinator.Base
	startDB         string
	collections     int
	completed       bool
	completeSuccess bool
}

func (h *hookRecorder) OnRunStart(database string, collections int) {
	h.startDB = database
	h.collections = collections
}

func (h *hookRecorder) OnRunComplete(database string, reclaimedMB int64, seconds float64, success bool, warning string) {
	h.completed = true
	h.completeSuccess = success
}

func TestOrchestrator_NotifiesCoordinatorLifecycle(t *testing.T) {
	// Given: a coordinator observing a manual compaction run
	f := newFakeCluster()
	seedConverging(f)
	cfg := testConfig(t)
	rec := &hookRecorder{}
	store := state.NewStore(cfg.State.Dir)
	o := NewOrchestrator(f, cfg, store, ui.AutoConfirmer{Answer: ui.AnswerYes}, rec, logging.Discard())

	// When: running
	_, err := o.Run(context.Background())

	// Then: the run-level hooks fired with the target database
	require.NoError(t, err)
	assert.Equal(t, "appdb", rec.startDB)
	assert.Equal(t, 1, rec.collections)
	assert.True(t, rec.completed)
	assert.True(t, rec.completeSuccess)
}

func TestOrchestrator_SkipAnswerEndsRunCleanly(t *testing.T) {
	f := newFakeCluster()
	seedConverging(f)
	cfg := testConfig(t)
	o, _ := testOrchestrator(t, f, cfg, ui.AutoConfirmer{Answer: ui.AnswerSkip})

	rep, err := o.Run(context.Background())

	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.Empty(t, f.compactCalls)
	assert.Empty(t, rep.Log.Collections)
}

func TestOrchestrator_NoAnswerAborts(t *testing.T) {
	f := newFakeCluster()
	seedConverging(f)
	cfg := testConfig(t)
	o, _ := testOrchestrator(t, f, cfg, ui.AutoConfirmer{Answer: ui.AnswerNo})

	_, err := o.Run(context.Background())

	assert.True(t, merrors.IsAborted(err))
	assert.Empty(t, f.compactCalls)
}

func TestOrchestrator_CollectionFilter(t *testing.T) {
	f := newFakeCluster()
	seedConverging(f)
	f.addCollection("logs_2026", 6000, 2000)
	cfg := testConfig(t)
	cfg.Compact.Exclude = []string{"logs_*"}
	o, _ := testOrchestrator(t, f, cfg, ui.AutoConfirmer{Answer: ui.AnswerYes})

	rep, err := o.Run(context.Background())

	require.NoError(t, err)
	assert.NotContains(t, rep.Log.Collections, "logs_2026")
	for _, call := range f.compactCalls {
		assert.NotContains(t, call, "logs_2026")
	}
}

func TestOrchestrator_AutoPathOn80(t *testing.T) {
	// Given: an 8.0 server, auto-compaction opted in, no filters
	f := newFakeCluster()
	f.addCollection("users", 6000, 2000)
	replicaSet(f)
	f.version = cluster.Version{Major: 8, Minor: 0, Full: "8.0.1"}
	cfg := testConfig(t)
	cfg.Compact.AutoCompact = true
	o, _ := testOrchestrator(t, f, cfg, ui.AutoConfirmer{Answer: ui.AnswerYes})

	// When: running
	rep, err := o.Run(context.Background())

	// Then: the background job ran per node, no manual compacts were issued
	require.NoError(t, err)
	assert.Equal(t, []string{"prim:27017", "sec1:27017", "sec2:27017"}, f.enabled)
	assert.Empty(t, f.compactCalls)
	assert.Contains(t, rep.Log.Collections, "users")
	assert.Equal(t, "completed", rep.Log.Collections["users"].Status)
}

func TestOrchestrator_FiltersPreferManualOverAuto(t *testing.T) {
	// Given: auto-compaction opted in but filters configured; the operator
	// (or the non-interactive auto-yes) accepts the fallback
	f := newFakeCluster()
	seedConverging(f)
	f.version = cluster.Version{Major: 8, Minor: 0, Full: "8.0.1"}
	cfg := testConfig(t)
	cfg.Compact.AutoCompact = true
	cfg.Compact.Include = []string{"users"}
	o, _ := testOrchestrator(t, f, cfg, ui.AutoConfirmer{Answer: ui.AnswerYes})

	// When: running
	_, err := o.Run(context.Background())

	// Then: the filtered manual path ran
	require.NoError(t, err)
	assert.Empty(t, f.enabled)
	assert.NotEmpty(t, f.compactCalls)
}

func TestOrchestrator_OperatorMayInsistOnAuto(t *testing.T) {
	// Given: filters configured, operator explicitly declines the fallback
	f := newFakeCluster()
	f.addCollection("users", 6000, 2000)
	replicaSet(f)
	f.version = cluster.Version{Major: 8, Minor: 0, Full: "8.0.1"}
	cfg := testConfig(t)
	cfg.Compact.AutoCompact = true
	cfg.Compact.Include = []string{"users"}
	confirm := &scriptConfirmer{answers: []ui.Answer{ui.AnswerNo, ui.AnswerYes}}
	o, _ := testOrchestrator(t, f, cfg, confirm)

	// When: running
	rep, err := o.Run(context.Background())

	// Then: the node-level job ran anyway, with the caveat on record
	require.NoError(t, err)
	assert.NotEmpty(t, f.enabled)
	assert.Empty(t, f.compactCalls)
	require.NotEmpty(t, rep.Warnings)
	assert.Contains(t, rep.Warnings[0], "filters ignored")
}

func TestOrchestrator_AutoCompactNeedsServer80(t *testing.T) {
	// Given: auto-compaction opted in against a 7.0 server
	f := newFakeCluster()
	seedConverging(f)
	cfg := testConfig(t)
	cfg.Compact.AutoCompact = true
	o, _ := testOrchestrator(t, f, cfg, ui.AutoConfirmer{Answer: ui.AnswerYes})

	// When: running
	_, err := o.Run(context.Background())

	// Then: quietly the manual path
	require.NoError(t, err)
	assert.Empty(t, f.enabled)
	assert.NotEmpty(t, f.compactCalls)
}

func TestOrchestrator_ForceManualWins(t *testing.T) {
	f := newFakeCluster()
	seedConverging(f)
	f.version = cluster.Version{Major: 8, Minor: 0, Full: "8.0.1"}
	cfg := testConfig(t)
	cfg.Compact.AutoCompact = true
	cfg.Compact.ForceManual = true
	o, _ := testOrchestrator(t, f, cfg, ui.AutoConfirmer{Answer: ui.AnswerYes})

	_, err := o.Run(context.Background())

	require.NoError(t, err)
	assert.Empty(t, f.enabled)
	assert.NotEmpty(t, f.compactCalls)
}

func TestOrchestrator_ExplicitClusterName(t *testing.T) {
	f := newFakeCluster()
	seedConverging(f)
	cfg := testConfig(t)
	cfg.Target.ClusterName = "prod-eu"
	o, _ := testOrchestrator(t, f, cfg, ui.AutoConfirmer{Answer: ui.AnswerYes})

	rep, err := o.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "prod-eu", rep.Cluster)
}
