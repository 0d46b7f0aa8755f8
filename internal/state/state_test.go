package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/mongomaint/internal/report"
)

func TestCheckpoint_MarkCompleted(t *testing.T) {
	// Given: an empty checkpoint
	cp := NewCheckpoint("rs0")

	// When: marking two indexes, one twice
	cp.MarkCompleted("users", "email_1")
	cp.MarkCompleted("users", "age_1")
	cp.MarkCompleted("users", "email_1")

	// Then: completion is idempotent and queryable
	assert.True(t, cp.IsCompleted("users", "email_1"))
	assert.True(t, cp.IsCompleted("users", "age_1"))
	assert.False(t, cp.IsCompleted("users", "other_1"))
	assert.False(t, cp.IsCompleted("orders", "email_1"))
	assert.Equal(t, []string{"age_1", "email_1"}, cp.Completed["users"])
	assert.Equal(t, 2, cp.TotalCompleted())
}

func TestCheckpoint_CompletedSet(t *testing.T) {
	cp := NewCheckpoint("rs0")
	cp.MarkCompleted("users", "email_1")

	set := cp.CompletedSet("users")
	assert.Contains(t, set, "email_1")
	assert.Empty(t, cp.CompletedSet("orders"))
}

func TestCheckpoint_SessionLifecycle(t *testing.T) {
	// Given: a checkpoint with a running session
	cp := NewCheckpoint("rs0")
	id := cp.BeginSession()
	require.Len(t, cp.Sessions, 1)
	assert.Equal(t, SessionRunning, cp.Sessions[0].Status)
	assert.Nil(t, cp.Sessions[0].EndTime)

	// When: ending it
	cp.EndSession(id, SessionCompleted, 7)

	// Then: the record carries end time, duration, and counts
	rec := cp.Sessions[0]
	assert.Equal(t, SessionCompleted, rec.Status)
	require.NotNil(t, rec.EndTime)
	assert.Equal(t, 7, rec.IndexesRebuilt)
	assert.GreaterOrEqual(t, rec.TotalTimeSeconds, float64(0))
}

func TestCheckpoint_EndSessionUnknownID(t *testing.T) {
	cp := NewCheckpoint("rs0")
	cp.BeginSession()
	cp.EndSession("nope", SessionFailed, 0)
	assert.Equal(t, SessionRunning, cp.Sessions[0].Status)
}

func TestCheckpoint_MergeLog(t *testing.T) {
	// Given: two session logs
	cp := NewCheckpoint("rs0")
	first := report.NewDatabaseLog("appdb")
	first.ElapsedSeconds = 10
	second := report.NewDatabaseLog("appdb")
	second.ElapsedSeconds = 5

	// When: merging both
	cp.MergeLog(first)
	cp.MergeLog(second)
	cp.MergeLog(nil)

	// Then: the cumulative log adds up
	require.NotNil(t, cp.CumulativeLog)
	assert.Equal(t, float64(15), cp.CumulativeLog.ElapsedSeconds)
}
