package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/mongomaint/internal/cluster"
)

// CheckStatus represents the result of a preflight check.
type CheckStatus int

const (
	// StatusPass indicates the check passed successfully.
	StatusPass CheckStatus = iota
	// StatusWarn indicates a non-critical warning.
	StatusWarn
	// StatusFail indicates the check failed.
	StatusFail
)

// String returns the string representation of a CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// CheckResult holds the result of a single preflight check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical returns true if this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Target is the slice of cluster access the checks need.
type Target interface {
	Ping(ctx context.Context) error
	ServerVersion(ctx context.Context) (cluster.Version, error)
	DatabaseExists(ctx context.Context, name string) (bool, error)
	ReplicaSetName(ctx context.Context) (string, error)
}

// Checker performs preflight validation before a maintenance run.
type Checker struct {
	target         Target
	database       string
	stateDir       string
	needReplicaSet bool
	verbose        bool
	output         io.Writer
}

// Option configures a Checker.
type Option func(*Checker)

// WithReplicaSetRequired marks the replica-set check as critical.
// Compaction steps down primaries, so it refuses standalone targets.
func WithReplicaSetRequired(required bool) Option {
	return func(c *Checker) {
		c.needReplicaSet = required
	}
}

// WithVerbose enables verbose output.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) {
		c.verbose = verbose
	}
}

// WithOutput sets the output writer.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) {
		c.output = w
	}
}

// New creates a Checker against the given target.
func New(target Target, database, stateDir string, opts ...Option) *Checker {
	c := &Checker{
		target:   target,
		database: database,
		stateDir: stateDir,
		output:   os.Stdout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs all preflight checks and returns the results. Checks are
// ordered so that failures read naturally: can't reach the server, wrong
// version, missing database, and so on.
func (c *Checker) RunAll(ctx context.Context) []CheckResult {
	var results []CheckResult

	conn := c.CheckConnectivity(ctx)
	results = append(results, conn)

	// Remote checks are pointless when the server is unreachable.
	if conn.Status != StatusFail {
		results = append(results, c.CheckServerVersion(ctx))
		results = append(results, c.CheckDatabase(ctx))
		results = append(results, c.CheckReplicaSet(ctx))
	}

	results = append(results, c.CheckStateDir())

	return results
}

// HasCriticalFailures returns true if any required check failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus returns a summary status string for the results.
func (c *Checker) SummaryStatus(results []CheckResult) string {
	hasWarnings := false
	hasCriticalFailure := false

	for _, r := range results {
		if r.IsCritical() {
			hasCriticalFailure = true
		}
		if r.Status == StatusWarn || (r.Status == StatusFail && !r.Required) {
			hasWarnings = true
		}
	}

	if hasCriticalFailure {
		return "failed"
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults prints check results to the configured output.
func (c *Checker) PrintResults(results []CheckResult) {
	_, _ = fmt.Fprintln(c.output, "Preflight Check")
	_, _ = fmt.Fprintln(c.output, "===============")
	_, _ = fmt.Fprintln(c.output)

	for _, r := range results {
		_, _ = fmt.Fprintf(c.output, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if c.verbose && r.Details != "" {
			_, _ = fmt.Fprintf(c.output, "      %s\n", r.Details)
		}
	}

	_, _ = fmt.Fprintln(c.output)
	status := c.SummaryStatus(results)
	_, _ = fmt.Fprintf(c.output, "Status: %s\n", strings.ToUpper(status))

	var warnings, errors []string
	for _, r := range results {
		if r.IsCritical() {
			errors = append(errors, r.Name+": "+r.Message)
		} else if r.Status == StatusWarn {
			warnings = append(warnings, r.Name+": "+r.Message)
		}
	}

	if len(errors) > 0 {
		_, _ = fmt.Fprintln(c.output)
		_, _ = fmt.Fprintf(c.output, "%d error(s):\n", len(errors))
		for _, e := range errors {
			_, _ = fmt.Fprintf(c.output, "  - %s\n", e)
		}
	}

	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(c.output)
		_, _ = fmt.Fprintf(c.output, "%d warning(s):\n", len(warnings))
		for _, w := range warnings {
			_, _ = fmt.Fprintf(c.output, "  - %s\n", w)
		}
	}
}

// CheckConnectivity verifies the server answers a ping.
func (c *Checker) CheckConnectivity(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:     "connectivity",
		Required: true,
	}

	if err := c.target.Ping(ctx); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("server unreachable: %v", err)
		return result
	}

	result.Status = StatusPass
	result.Message = "OK"
	return result
}

// CheckServerVersion verifies the server is a release the option filter
// knows about. Unparseable versions already fell back to the baseline
// inside the probe, so only genuinely ancient servers fail here.
func (c *Checker) CheckServerVersion(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:     "server_version",
		Required: true,
	}

	v, err := c.target.ServerVersion(ctx)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("buildInfo failed: %v", err)
		return result
	}

	if !v.AtLeast(3, 6) {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("server %s is too old, need 3.6+", v)
		return result
	}

	result.Status = StatusPass
	result.Message = v.String()
	return result
}

// CheckDatabase verifies the target database exists.
func (c *Checker) CheckDatabase(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:     "database",
		Required: true,
	}

	exists, err := c.target.DatabaseExists(ctx, c.database)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("listDatabases failed: %v", err)
		return result
	}
	if !exists {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("database %q not found", c.database)
		return result
	}

	result.Status = StatusPass
	result.Message = c.database
	return result
}

// CheckReplicaSet reports whether the target is a replica set member.
// Critical only when the run needs step-downs.
func (c *Checker) CheckReplicaSet(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:     "replica_set",
		Required: c.needReplicaSet,
	}

	name, err := c.target.ReplicaSetName(ctx)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("hello failed: %v", err)
		return result
	}
	if name == "" {
		result.Status = StatusFail
		result.Message = "target is a standalone server, not a replica set"
		return result
	}

	result.Status = StatusPass
	result.Message = name
	return result
}

// CheckStateDir verifies checkpoints and reports can be written.
func (c *Checker) CheckStateDir() CheckResult {
	result := CheckResult{
		Name:     "state_dir",
		Required: true,
	}

	if err := os.MkdirAll(c.stateDir, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create %s: %v", c.stateDir, err)
		return result
	}

	testFile := filepath.Join(c.stateDir, ".mongomaint-preflight")
	f, err := os.Create(testFile)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot write to %s: %v", c.stateDir, err)
		return result
	}
	_ = f.Close()
	_ = os.Remove(testFile)

	result.Status = StatusPass
	result.Message = c.stateDir
	return result
}
