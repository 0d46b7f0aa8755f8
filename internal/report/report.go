// Package report builds the nested database→collection→index performance
// record a run leaves behind. Logs are append-only and merge additively, so
// a multi-session run accumulates one cumulative record.
package report

import (
	"time"
)

// Run statuses recorded on index and collection logs.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// IndexLog records one index rebuild attempt chain.
type IndexLog struct {
	StartTime      time.Time `json:"start_time"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	InitialSizeMB  int64     `json:"initial_size_mb"`
	FinalSizeMB    int64     `json:"final_size_mb"`
	Retries        int       `json:"retries,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
	Status         string    `json:"status"`
}

// CollectionLog records one collection pass: its index logs, sizes measured
// before and after, and (for compaction) the observed size per iteration.
type CollectionLog struct {
	StartTime      time.Time            `json:"start_time"`
	ElapsedSeconds float64              `json:"elapsed_seconds"`
	InitialSizeMB  int64                `json:"initial_size_mb"`
	FinalSizeMB    int64                `json:"final_size_mb"`
	Status         string               `json:"status"`
	Indexes        map[string]*IndexLog `json:"indexes,omitempty"`
	Warnings       []string             `json:"warnings,omitempty"`
	MeasurementsMB []int64              `json:"measurements_mb,omitempty"`
}

// NewCollectionLog starts a collection record at the current time.
func NewCollectionLog() *CollectionLog {
	return &CollectionLog{
		StartTime: time.Now().UTC(),
		Status:    StatusCompleted,
		Indexes:   make(map[string]*IndexLog),
	}
}

// SetIndex records the log for one index, replacing any earlier attempt.
func (c *CollectionLog) SetIndex(name string, l *IndexLog) {
	if c.Indexes == nil {
		c.Indexes = make(map[string]*IndexLog)
	}
	c.Indexes[name] = l
}

// Warn appends a warning to the collection record.
func (c *CollectionLog) Warn(msg string) {
	c.Warnings = append(c.Warnings, msg)
}

// FailedIndexes returns the names of indexes whose last attempt failed.
func (c *CollectionLog) FailedIndexes() []string {
	var failed []string
	for name, l := range c.Indexes {
		if l.Status == StatusFailed {
			failed = append(failed, name)
		}
	}
	return failed
}

// ReclaimedMB returns how much the collection shrank over the pass.
func (c *CollectionLog) ReclaimedMB() int64 {
	d := c.InitialSizeMB - c.FinalSizeMB
	if d < 0 {
		return 0
	}
	return d
}

// DatabaseLog is the top of the nested record.
type DatabaseLog struct {
	Database       string                    `json:"database"`
	StartTime      time.Time                 `json:"start_time"`
	ElapsedSeconds float64                   `json:"elapsed_seconds"`
	InitialSizeMB  int64                     `json:"initial_size_mb"`
	FinalSizeMB    int64                     `json:"final_size_mb"`
	Collections    map[string]*CollectionLog `json:"collections,omitempty"`
	Warnings       []string                  `json:"warnings,omitempty"`
}

// NewDatabaseLog starts a database record at the current time.
func NewDatabaseLog(database string) *DatabaseLog {
	return &DatabaseLog{
		Database:    database,
		StartTime:   time.Now().UTC(),
		Collections: make(map[string]*CollectionLog),
	}
}

// SetCollection records the log for one collection and rolls its sizes and
// warnings up into the database totals.
func (d *DatabaseLog) SetCollection(name string, l *CollectionLog) {
	if d.Collections == nil {
		d.Collections = make(map[string]*CollectionLog)
	}
	d.Collections[name] = l
	d.InitialSizeMB += l.InitialSizeMB
	d.FinalSizeMB += l.FinalSizeMB
	for _, w := range l.Warnings {
		d.Warnings = append(d.Warnings, name+": "+w)
	}
}

// Warn appends a warning to the database record.
func (d *DatabaseLog) Warn(msg string) {
	d.Warnings = append(d.Warnings, msg)
}

// ReclaimedMB returns how much the database shrank over the run.
func (d *DatabaseLog) ReclaimedMB() int64 {
	r := d.InitialSizeMB - d.FinalSizeMB
	if r < 0 {
		return 0
	}
	return r
}

// FailedIndexCount counts indexes whose last attempt failed, across all
// collections.
func (d *DatabaseLog) FailedIndexCount() int {
	n := 0
	for _, c := range d.Collections {
		n += len(c.FailedIndexes())
	}
	return n
}

// Merge folds other into d additively: elapsed times and retry counts sum,
// the earliest start and initial size win, the latest final size wins, and
// warnings accumulate. Used to build one cumulative log across sessions.
func (d *DatabaseLog) Merge(other *DatabaseLog) {
	if other == nil {
		return
	}
	if d.Database == "" {
		d.Database = other.Database
	}
	if d.StartTime.IsZero() || (!other.StartTime.IsZero() && other.StartTime.Before(d.StartTime)) {
		d.StartTime = other.StartTime
	}
	d.ElapsedSeconds += other.ElapsedSeconds
	d.Warnings = append(d.Warnings, other.Warnings...)

	if d.Collections == nil {
		d.Collections = make(map[string]*CollectionLog)
	}
	for name, oc := range other.Collections {
		dc, ok := d.Collections[name]
		if !ok {
			d.Collections[name] = oc
			continue
		}
		dc.merge(oc)
	}

	// Recompute totals from the merged collection set.
	d.InitialSizeMB = 0
	d.FinalSizeMB = 0
	for _, c := range d.Collections {
		d.InitialSizeMB += c.InitialSizeMB
		d.FinalSizeMB += c.FinalSizeMB
	}
}

func (c *CollectionLog) merge(other *CollectionLog) {
	if c.StartTime.IsZero() || (!other.StartTime.IsZero() && other.StartTime.Before(c.StartTime)) {
		c.StartTime = other.StartTime
	}
	c.ElapsedSeconds += other.ElapsedSeconds
	if c.InitialSizeMB == 0 {
		c.InitialSizeMB = other.InitialSizeMB
	}
	if other.FinalSizeMB != 0 {
		c.FinalSizeMB = other.FinalSizeMB
	}
	if other.Status != "" {
		c.Status = other.Status
	}
	c.Warnings = append(c.Warnings, other.Warnings...)
	c.MeasurementsMB = append(c.MeasurementsMB, other.MeasurementsMB...)

	if c.Indexes == nil {
		c.Indexes = make(map[string]*IndexLog)
	}
	for name, ol := range other.Indexes {
		il, ok := c.Indexes[name]
		if !ok {
			c.Indexes[name] = ol
			continue
		}
		il.ElapsedSeconds += ol.ElapsedSeconds
		il.Retries += ol.Retries
		if il.InitialSizeMB == 0 {
			il.InitialSizeMB = ol.InitialSizeMB
		}
		if ol.FinalSizeMB != 0 {
			il.FinalSizeMB = ol.FinalSizeMB
		}
		if ol.LastError != "" {
			il.LastError = ol.LastError
		}
		if ol.Status != "" {
			il.Status = ol.Status
		}
	}
}
