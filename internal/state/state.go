// Package state persists the per-cluster rebuild checkpoint: which indexes
// are durably rebuilt, the session history, and the cumulative performance
// log. The checkpoint is what lets a multi-hour run resume after a restart.
//
// Single-writer access is assumed; running two instances against the same
// cluster concurrently is unsupported.
package state

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/mongomaint/internal/report"
)

// Session statuses.
const (
	SessionRunning     = "running"
	SessionCompleted   = "completed"
	SessionInterrupted = "interrupted"
	SessionFailed      = "failed"
)

// SessionRecord is one run's entry in the checkpoint's session history.
type SessionRecord struct {
	ID               string     `json:"session_id"`
	StartTime        time.Time  `json:"start_time"`
	EndTime          *time.Time `json:"end_time,omitempty"`
	TotalTimeSeconds float64    `json:"total_time_seconds"`
	IndexesRebuilt   int        `json:"indexes_rebuilt"`
	Status           string     `json:"status"`
}

// Checkpoint is the persisted rebuild state for one cluster.
//
// Invariant: an index name appears in Completed iff its final, non-covering
// index has been verified present with its original key and options.
type Checkpoint struct {
	Cluster       string              `json:"cluster"`
	Completed     map[string][]string `json:"completed"`
	Sessions      []SessionRecord     `json:"sessions"`
	CumulativeLog *report.DatabaseLog `json:"cumulative_log,omitempty"`
}

// NewCheckpoint creates an empty checkpoint for a cluster.
func NewCheckpoint(cluster string) *Checkpoint {
	return &Checkpoint{
		Cluster:   cluster,
		Completed: make(map[string][]string),
	}
}

// IsCompleted reports whether an index was durably rebuilt in a prior pass.
func (c *Checkpoint) IsCompleted(collection, index string) bool {
	for _, name := range c.Completed[collection] {
		if name == index {
			return true
		}
	}
	return false
}

// MarkCompleted records an index as durably rebuilt. Idempotent.
func (c *Checkpoint) MarkCompleted(collection, index string) {
	if c.IsCompleted(collection, index) {
		return
	}
	if c.Completed == nil {
		c.Completed = make(map[string][]string)
	}
	c.Completed[collection] = append(c.Completed[collection], index)
	sort.Strings(c.Completed[collection])
}

// CompletedSet returns the completed index names of one collection as a set.
func (c *Checkpoint) CompletedSet(collection string) map[string]struct{} {
	set := make(map[string]struct{}, len(c.Completed[collection]))
	for _, name := range c.Completed[collection] {
		set[name] = struct{}{}
	}
	return set
}

// TotalCompleted counts completed indexes across all collections.
func (c *Checkpoint) TotalCompleted() int {
	n := 0
	for _, names := range c.Completed {
		n += len(names)
	}
	return n
}

// BeginSession appends a new running session record and returns its ID.
func (c *Checkpoint) BeginSession() string {
	rec := SessionRecord{
		ID:        uuid.NewString(),
		StartTime: time.Now().UTC(),
		Status:    SessionRunning,
	}
	c.Sessions = append(c.Sessions, rec)
	return rec.ID
}

// EndSession closes the identified session with a final status.
func (c *Checkpoint) EndSession(id, status string, indexesRebuilt int) {
	for i := range c.Sessions {
		if c.Sessions[i].ID != id {
			continue
		}
		now := time.Now().UTC()
		c.Sessions[i].EndTime = &now
		c.Sessions[i].TotalTimeSeconds = now.Sub(c.Sessions[i].StartTime).Seconds()
		c.Sessions[i].IndexesRebuilt = indexesRebuilt
		c.Sessions[i].Status = status
		return
	}
}

// MergeLog folds a session's database log into the cumulative record.
func (c *Checkpoint) MergeLog(l *report.DatabaseLog) {
	if l == nil {
		return
	}
	if c.CumulativeLog == nil {
		c.CumulativeLog = &report.DatabaseLog{}
	}
	c.CumulativeLog.Merge(l)
}
