package rebuild

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/Aman-CERP/mongomaint/internal/cluster"
	"github.com/Aman-CERP/mongomaint/internal/indexes"
	"github.com/Aman-CERP/mongomaint/internal/logging"
	"github.com/Aman-CERP/mongomaint/internal/report"
)

func testEngine(f *fakeCluster) *Engine {
	return NewEngine(f, "appdb", f.version, testRebuildConfig(), logging.Discard())
}

func emailIndex(size int64) indexes.Descriptor {
	return indexes.Descriptor{
		Name:      "email_1",
		Keys:      bson.D{{Key: "email", Value: int32(1)}},
		SizeBytes: size,
	}
}

func TestEngine_RebuildHappyPath(t *testing.T) {
	// Given: a collection with one plain secondary index
	f := newFakeCluster()
	f.addCollection("users")
	f.addIndex("users", "email_1", bson.D{{Key: "email", Value: int32(1)}}, nil, 8*mbBytes)

	// When: rebuilding it
	l, err := testEngine(f).Rebuild(context.Background(), "users", emailIndex(8*mbBytes))

	// Then: the final index is back, the cover is gone
	require.NoError(t, err)
	assert.Equal(t, report.StatusCompleted, l.Status)
	assert.Equal(t, 0, l.Retries)
	assert.Equal(t, int64(8), l.InitialSizeMB)
	assert.True(t, f.hasIndex("users", "email_1"))
	assert.False(t, f.hasIndex("users", "email_1_cover_temp"))

	assert.Equal(t, []string{"users/email_1_cover_temp", "users/email_1"}, f.createCalls)
	assert.Equal(t, []string{"users/email_1", "users/email_1_cover_temp"}, f.dropCalls)
}

func TestEngine_ReusesValidLeftoverCover(t *testing.T) {
	// Given: a valid leftover covering index from an interrupted run
	f := newFakeCluster()
	f.addCollection("users")
	f.addIndex("users", "email_1", bson.D{{Key: "email", Value: int32(1)}}, nil, 0)
	f.addIndex("users", "email_1_cover_temp",
		bson.D{{Key: "email", Value: int32(1)}, {Key: "__covering", Value: int32(1)}}, nil, 0)

	// When: rebuilding
	l, err := testEngine(f).Rebuild(context.Background(), "users", emailIndex(0))

	// Then: the cover was reused, never recreated
	require.NoError(t, err)
	assert.Equal(t, report.StatusCompleted, l.Status)
	assert.NotContains(t, f.createCalls, "users/email_1_cover_temp")
	assert.Contains(t, f.createCalls, "users/email_1")
	assert.False(t, f.hasIndex("users", "email_1_cover_temp"))
}

func TestEngine_DropsMismatchedLeftoverCover(t *testing.T) {
	// Given: a leftover cover whose key does not match the expected shape
	f := newFakeCluster()
	f.addCollection("users")
	f.addIndex("users", "email_1", bson.D{{Key: "email", Value: int32(1)}}, nil, 0)
	f.addIndex("users", "email_1_cover_temp", bson.D{{Key: "other", Value: int32(1)}}, nil, 0)

	// When: rebuilding
	l, err := testEngine(f).Rebuild(context.Background(), "users", emailIndex(0))

	// Then: the stale cover was dropped and rebuilt properly
	require.NoError(t, err)
	assert.Equal(t, report.StatusCompleted, l.Status)
	assert.Contains(t, f.createCalls, "users/email_1_cover_temp")
	assert.Equal(t, "users/email_1_cover_temp", f.dropCalls[0])
}

func TestEngine_FiltersUnsupportedOptions(t *testing.T) {
	// Given: a hidden index on a 4.2 server, which predates hidden
	f := newFakeCluster()
	f.version = cluster.Version{Major: 4, Minor: 2, Full: "4.2.21"}
	f.addCollection("users")
	opts := bson.M{"hidden": true, "sparse": true}
	f.addIndex("users", "email_1", bson.D{{Key: "email", Value: int32(1)}}, opts, 0)

	desc := emailIndex(0)
	desc.Options = opts

	// When: rebuilding
	l, err := testEngine(f).Rebuild(context.Background(), "users", desc)

	// Then: the final index kept sparse but lost hidden
	require.NoError(t, err)
	assert.Equal(t, report.StatusCompleted, l.Status)
	final, ferr := testEngine(f).find(context.Background(), "users", "email_1")
	require.NoError(t, ferr)
	require.NotNil(t, final)
	assert.Equal(t, true, final.Options["sparse"])
	assert.NotContains(t, final.Options, "hidden")
}

func TestEngine_CoverCarriesPartialFilterOnly(t *testing.T) {
	// Given: a TTL index with a partial filter
	f := newFakeCluster()
	f.addCollection("events")
	pfe := bson.M{"archived": true}
	opts := bson.M{"expireAfterSeconds": int32(3600), "partialFilterExpression": pfe}
	f.addIndex("events", "ts_1", bson.D{{Key: "ts", Value: int32(1)}}, opts, 0)

	desc := indexes.Descriptor{Name: "ts_1", Keys: bson.D{{Key: "ts", Value: int32(1)}}, Options: opts}

	// When: rebuilding
	l, err := testEngine(f).Rebuild(context.Background(), "events", desc)
	require.NoError(t, err)
	require.Equal(t, report.StatusCompleted, l.Status)

	// Then: while it existed, the cover carried the filter but not the TTL.
	// The cover is gone now; check what was created through the call log and
	// the engine's own option builder.
	cover := coveringOptions(opts)
	assert.Equal(t, bson.M{"partialFilterExpression": pfe}, cover)
}

func TestEngine_RetriesTransientFailureWithCleanup(t *testing.T) {
	// Given: the final createIndexes fails once, then works
	f := newFakeCluster()
	f.addCollection("users")
	f.addIndex("users", "email_1", bson.D{{Key: "email", Value: int32(1)}}, nil, 0)
	f.failCreate["users/email_1"] = 1

	// When: rebuilding with one retry allowed
	l, err := testEngine(f).Rebuild(context.Background(), "users", emailIndex(0))

	// Then: the second attempt succeeded after the cover was cleaned up
	require.NoError(t, err)
	assert.Equal(t, report.StatusCompleted, l.Status)
	assert.Equal(t, 1, l.Retries)
	assert.True(t, f.hasIndex("users", "email_1"))
	assert.False(t, f.hasIndex("users", "email_1_cover_temp"))
	// Cover was created twice: once per attempt.
	covers := 0
	for _, c := range f.createCalls {
		if c == "users/email_1_cover_temp" {
			covers++
		}
	}
	assert.Equal(t, 2, covers)
}

func TestEngine_ExhaustedRetriesReportsFailedNotError(t *testing.T) {
	// Given: the final createIndexes always fails
	f := newFakeCluster()
	f.addCollection("users")
	f.addIndex("users", "email_1", bson.D{{Key: "email", Value: int32(1)}}, nil, 0)
	f.failCreate["users/email_1"] = 100

	// When: rebuilding
	l, err := testEngine(f).Rebuild(context.Background(), "users", emailIndex(0))

	// Then: the failure lives in the log, not the error return
	require.NoError(t, err)
	assert.Equal(t, report.StatusFailed, l.Status)
	assert.Equal(t, 1, l.Retries)
	assert.NotEmpty(t, l.LastError)
}

func TestEngine_BuildTimeoutIsNotYetNotError(t *testing.T) {
	// Given: the cover build never finishes within the timeout
	f := newFakeCluster()
	f.addCollection("users")
	f.addIndex("users", "email_1", bson.D{{Key: "email", Value: int32(1)}}, nil, 0)
	f.building["email_1_cover_temp"] = 1 << 30

	e := testEngine(f)
	e.cfg.BuildTimeout = "5ms"

	// When: rebuilding
	l, err := e.Rebuild(context.Background(), "users", emailIndex(0))

	// Then: recorded failed with a still-building error after retries
	require.NoError(t, err)
	assert.Equal(t, report.StatusFailed, l.Status)
	assert.Contains(t, l.LastError, "still building")
}

func TestEngine_CancellationPropagates(t *testing.T) {
	f := newFakeCluster()
	f.addCollection("users")
	f.addIndex("users", "email_1", bson.D{{Key: "email", Value: int32(1)}}, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testEngine(f).Rebuild(ctx, "users", emailIndex(0))

	assert.ErrorIs(t, err, context.Canceled)
}
