package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	merrors "github.com/Aman-CERP/mongomaint/internal/errors"
)

// RunReport is the performance log file written once per run. On a fatal
// failure the error and, when available, a stack trace ride along for
// post-mortem reading.
type RunReport struct {
	Cluster      string       `json:"cluster"`
	Operation    string       `json:"operation"` // rebuild or compact
	GeneratedAt  time.Time    `json:"generated_at"`
	TotalSeconds float64      `json:"total_seconds"`
	InitialMB    int64        `json:"initial_mb"`
	FinalMB      int64        `json:"final_mb"`
	ReclaimedMB  int64        `json:"reclaimed_mb"`
	Log          *DatabaseLog `json:"log,omitempty"`
	Warnings     []string     `json:"warnings,omitempty"`
	Error        string       `json:"error,omitempty"`
	Stack        string       `json:"stack,omitempty"`
}

// NewRunReport assembles the per-run report from a finished database log.
func NewRunReport(cluster, operation string, log *DatabaseLog) *RunReport {
	r := &RunReport{
		Cluster:     cluster,
		Operation:   operation,
		GeneratedAt: time.Now().UTC(),
		Log:         log,
	}
	if log != nil {
		r.TotalSeconds = log.ElapsedSeconds
		r.InitialMB = log.InitialSizeMB
		r.FinalMB = log.FinalSizeMB
		r.ReclaimedMB = log.ReclaimedMB()
		r.Warnings = log.Warnings
	}
	return r
}

// Write persists the report atomically (temp file + rename).
func (r *RunReport) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return merrors.New(merrors.ErrCodeStateWrite, "failed to create report directory", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return merrors.New(merrors.ErrCodeStateWrite, "failed to marshal report", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return merrors.New(merrors.ErrCodeStateWrite, "failed to write report file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return merrors.New(merrors.ErrCodeStateWrite, "failed to save report file", err)
	}
	return nil
}

// Path builds the report file name for one run.
func Path(dir, cluster, operation string, at time.Time) string {
	name := fmt.Sprintf("%s-%s-%s.json", cluster, operation, at.UTC().Format("20060102-150405"))
	return filepath.Join(dir, name)
}
