package compact

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/mongomaint/internal/cluster"
	"github.com/Aman-CERP/mongomaint/internal/logging"
)

func testAutoCompactor(f *fakeCluster) *AutoCompactor {
	a := NewAutoCompactor(f, testCompactConfig(), logging.Discard())
	a.sleep = instantSleep
	return a
}

func TestAutoCompactor_VisitsPrimaryThenSecondaries(t *testing.T) {
	// Given: a healthy set where sec1's job takes two polls to finish
	f := newFakeCluster()
	replicaSet(f)
	f.running["sec1:27017"] = 2

	// When: running the background job
	done, err := testAutoCompactor(f).Run(context.Background())

	// Then: every node ran the job, primary first, and each got disabled
	require.NoError(t, err)
	assert.Equal(t, []string{"prim:27017", "sec1:27017", "sec2:27017"}, done)
	assert.Equal(t, done, f.enabled)
	assert.ElementsMatch(t, done, f.disabled)
}

func TestAutoCompactor_DisableGuaranteedOnCancellation(t *testing.T) {
	// Given: a job that never finishes and a caller that gave up
	f := newFakeCluster()
	replicaSet(f)
	f.running["prim:27017"] = 1 << 30

	a := NewAutoCompactor(f, testCompactConfig(), logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// When: running
	done, err := a.Run(ctx)

	// Then: the run stops, but the node is not left with the job switched on
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, done)
	assert.Contains(t, f.enabled, "prim:27017")
	assert.Contains(t, f.disabled, "prim:27017")
}

func TestAutoCompactor_NodeFailureStopsRun(t *testing.T) {
	// Given: the second node cannot be dialed
	f := newFakeCluster()
	replicaSet(f)
	f.dialErr["sec1:27017"] = assert.AnError

	// When: running
	done, err := testAutoCompactor(f).Run(context.Background())

	// Then: the first node finished, the run reports the failure
	require.Error(t, err)
	assert.Equal(t, []string{"prim:27017"}, done)
	assert.Equal(t, []string{"prim:27017"}, f.disabled)
}

func TestAutoCompactor_NoDataBearingMembers(t *testing.T) {
	f := newFakeCluster()
	f.members = []cluster.Member{
		{Host: "arb:27017", State: "ARBITER", Healthy: true},
	}

	_, err := testAutoCompactor(f).Run(context.Background())

	require.Error(t, err)
}

func TestAutoCompactOrder_OneSecondaryPerZone(t *testing.T) {
	members := []cluster.Member{
		{Host: "s1", State: "SECONDARY", Healthy: true, Tags: map[string]string{"az": "1"}},
		{Host: "s2", State: "SECONDARY", Healthy: true, Tags: map[string]string{"az": "1"}},
		{Host: "s3", State: "SECONDARY", Healthy: true, Tags: map[string]string{"az": "2"}},
		{Host: "u1", State: "SECONDARY", Healthy: true},
		{Host: "p", State: "PRIMARY", Healthy: true, Tags: map[string]string{"az": "2"}},
	}

	assert.Equal(t, []string{"p", "s1", "s3", "u1"}, autoCompactOrder(members))
}
