// Package config loads mongomaint configuration.
//
// Configuration is applied in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/mongomaint/config.yaml)
//  3. Project config (.mongomaint.yaml in the working directory)
//  4. Environment variables (MONGOMAINT_*)
//  5. Command-line flags (applied by the cmd layer)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete mongomaint configuration.
type Config struct {
	Version int `yaml:"version" json:"version"`
	// AssumeYes answers every confirmation prompt with yes.
	AssumeYes bool          `yaml:"assume_yes" json:"assume_yes"`
	Target    TargetConfig  `yaml:"target" json:"target"`
	Rebuild   RebuildConfig `yaml:"rebuild" json:"rebuild"`
	Compact   CompactConfig `yaml:"compact" json:"compact"`
	State     StateConfig   `yaml:"state" json:"state"`
	Logging   LoggingConfig `yaml:"logging" json:"logging"`
}

// TargetConfig identifies the MongoDB deployment to maintain.
type TargetConfig struct {
	// URI is the MongoDB connection string.
	URI string `yaml:"uri" json:"uri"`
	// Database is the database to operate on.
	Database string `yaml:"database" json:"database"`
	// ClusterName names the checkpoint and report files. Defaults to the
	// replica-set name the server reports.
	ClusterName string `yaml:"cluster_name" json:"cluster_name"`
	// ConnectTimeout is the server selection timeout (e.g. "10s").
	ConnectTimeout string `yaml:"connect_timeout" json:"connect_timeout"`
}

// RebuildConfig tunes the covering-index rebuild engine.
type RebuildConfig struct {
	// CoverSuffix is appended to an index name to form its covering index name.
	CoverSuffix string `yaml:"cover_suffix" json:"cover_suffix"`
	// CoverField is the synthetic trailing key added to covering indexes.
	CoverField string `yaml:"cover_field" json:"cover_field"`
	// RetryAttempts is how many times a failed per-index rebuild is retried.
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts"`
	// RetryDelay is the fixed pause between per-index attempts (e.g. "5s").
	RetryDelay string `yaml:"retry_delay" json:"retry_delay"`
	// PollInitial is the first delay when waiting for an index build (e.g. "2s").
	PollInitial string `yaml:"poll_initial" json:"poll_initial"`
	// PollMax caps the delay between build polls (e.g. "30s").
	PollMax string `yaml:"poll_max" json:"poll_max"`
	// BuildTimeout bounds the total wait for one index build (e.g. "12h").
	BuildTimeout string `yaml:"build_timeout" json:"build_timeout"`
	// Include restricts the run to matching collections. Patterns support a
	// trailing wildcard ("logs_*"). A non-empty include list overrides Exclude.
	Include []string `yaml:"include" json:"include"`
	// Exclude lists collection patterns to skip.
	Exclude []string `yaml:"exclude" json:"exclude"`
	// IgnoreIndexes lists index name patterns that are never rebuilt.
	IgnoreIndexes []string `yaml:"ignore_indexes" json:"ignore_indexes"`
}

// CompactConfig tunes the compaction engine.
type CompactConfig struct {
	// MinSavingsMB skips collections whose estimated reclaimable space is
	// below this floor.
	MinSavingsMB int64 `yaml:"min_savings_mb" json:"min_savings_mb"`
	// Tolerance is the relative size-change fraction under which repeated
	// measurements count as converged (0.20 means within 20%).
	Tolerance float64 `yaml:"tolerance" json:"tolerance"`
	// MinConvergenceMB is the size floor below which tolerance comparisons
	// are skipped; tiny collections never converge by tolerance.
	MinConvergenceMB int64 `yaml:"min_convergence_mb" json:"min_convergence_mb"`
	// MaxIterations bounds compact rounds per node.
	MaxIterations int `yaml:"max_iterations" json:"max_iterations"`
	// StepDownSeconds is passed to replSetStepDown before compacting a primary.
	StepDownSeconds int `yaml:"stepdown_seconds" json:"stepdown_seconds"`
	// StepDownWait bounds the wait for topology settlement after a step-down
	// (e.g. "5m").
	StepDownWait string `yaml:"stepdown_wait" json:"stepdown_wait"`
	// FreeSpaceTargetMB is passed to the background compaction job (8.0+):
	// nodes with less reclaimable space than this are left alone.
	FreeSpaceTargetMB int64 `yaml:"free_space_target_mb" json:"free_space_target_mb"`
	// AutoCompact opts in to the server-managed background compaction job on
	// servers that support it (8.0+).
	AutoCompact bool `yaml:"auto_compact" json:"auto_compact"`
	// ForceManual keeps the manual per-collection path even when AutoCompact
	// is set and the server supports it.
	ForceManual bool `yaml:"force_manual" json:"force_manual"`
	// Include restricts the run to matching collections; overrides Exclude.
	Include []string `yaml:"include" json:"include"`
	// Exclude lists collection patterns to skip.
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// StateConfig locates checkpoint, report, and backup files.
type StateConfig struct {
	// Dir is the directory for run state. Defaults to ~/.mongomaint/state.
	Dir string `yaml:"dir" json:"dir"`
	// PerformanceLog toggles writing the per-run JSON performance report.
	// A pointer so an explicit false in a config file survives merging;
	// unset means enabled. Read it through PerformanceLogEnabled.
	PerformanceLog *bool `yaml:"performance_log" json:"performance_log"`
	// KeepBackupOnSuccess retains the index backup file after a fully
	// successful run instead of deleting it.
	KeepBackupOnSuccess bool `yaml:"keep_backup_on_success" json:"keep_backup_on_success"`
}

// LoggingConfig configures the log file.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	File      string `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Target: TargetConfig{
			URI:            "mongodb://localhost:27017",
			Database:       "",
			ConnectTimeout: "10s",
		},
		Rebuild: RebuildConfig{
			CoverSuffix:   "_cover_temp",
			CoverField:    "__covering",
			RetryAttempts: 1,
			RetryDelay:    "5s",
			PollInitial:   "2s",
			PollMax:       "30s",
			BuildTimeout:  "12h",
		},
		Compact: CompactConfig{
			MinSavingsMB:     100,
			Tolerance:        0.20,
			MinConvergenceMB: 1000,
			MaxIterations:    5,
			StepDownSeconds:  120,
			StepDownWait:     "5m",
			AutoCompact:      false,
			ForceManual:      false,
		},
		State: StateConfig{
			Dir:            defaultStateDir(),
			PerformanceLog: boolPtr(true),
		},
		Logging: LoggingConfig{
			Level:     "info",
			File:      "", // Empty uses the default path under ~/.mongomaint/logs
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// defaultStateDir returns the default run-state directory.
func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".mongomaint", "state")
	}
	return filepath.Join(home, ".mongomaint", "state")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/mongomaint/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/mongomaint/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "mongomaint", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "mongomaint", "config.yaml")
	}
	return filepath.Join(home, ".config", "mongomaint", "config.yaml")
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()

	if !fileExists(configPath) {
		return nil, nil // No user config is fine
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// Load loads configuration starting from the specified directory.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	// Step 1: user/global config (if exists)
	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	// Step 2: project config (overrides user config)
	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	// Step 3: environment variable overrides (highest precedence)
	cfg.applyEnvOverrides()

	// Step 4: validate the final configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFile loads configuration from an explicit file (--config), skipping
// discovery. Defaults apply underneath and environment overrides on top.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFromFile attempts to load configuration from .mongomaint.yaml or .mongomaint.yml.
func (c *Config) loadFromFile(dir string) error {
	// Try .yaml first (takes precedence)
	yamlPath := filepath.Join(dir, ".mongomaint.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	// Try .yml as fallback
	ymlPath := filepath.Join(dir, ".mongomaint.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	// No config file is fine - use defaults
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// Parse into a scratch struct to detect type errors before merging
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.AssumeYes {
		c.AssumeYes = true
	}

	// Target
	if other.Target.URI != "" {
		c.Target.URI = other.Target.URI
	}
	if other.Target.Database != "" {
		c.Target.Database = other.Target.Database
	}
	if other.Target.ClusterName != "" {
		c.Target.ClusterName = other.Target.ClusterName
	}
	if other.Target.ConnectTimeout != "" {
		c.Target.ConnectTimeout = other.Target.ConnectTimeout
	}

	// Rebuild
	if other.Rebuild.CoverSuffix != "" {
		c.Rebuild.CoverSuffix = other.Rebuild.CoverSuffix
	}
	if other.Rebuild.CoverField != "" {
		c.Rebuild.CoverField = other.Rebuild.CoverField
	}
	if other.Rebuild.RetryAttempts != 0 {
		c.Rebuild.RetryAttempts = other.Rebuild.RetryAttempts
	}
	if other.Rebuild.RetryDelay != "" {
		c.Rebuild.RetryDelay = other.Rebuild.RetryDelay
	}
	if other.Rebuild.PollInitial != "" {
		c.Rebuild.PollInitial = other.Rebuild.PollInitial
	}
	if other.Rebuild.PollMax != "" {
		c.Rebuild.PollMax = other.Rebuild.PollMax
	}
	if other.Rebuild.BuildTimeout != "" {
		c.Rebuild.BuildTimeout = other.Rebuild.BuildTimeout
	}
	if len(other.Rebuild.Include) > 0 {
		c.Rebuild.Include = other.Rebuild.Include
	}
	if len(other.Rebuild.Exclude) > 0 {
		// Merge with existing exclusions rather than replace
		c.Rebuild.Exclude = append(c.Rebuild.Exclude, other.Rebuild.Exclude...)
	}
	if len(other.Rebuild.IgnoreIndexes) > 0 {
		c.Rebuild.IgnoreIndexes = append(c.Rebuild.IgnoreIndexes, other.Rebuild.IgnoreIndexes...)
	}

	// Compact
	if other.Compact.MinSavingsMB != 0 {
		c.Compact.MinSavingsMB = other.Compact.MinSavingsMB
	}
	if other.Compact.Tolerance != 0 {
		c.Compact.Tolerance = other.Compact.Tolerance
	}
	if other.Compact.MinConvergenceMB != 0 {
		c.Compact.MinConvergenceMB = other.Compact.MinConvergenceMB
	}
	if other.Compact.MaxIterations != 0 {
		c.Compact.MaxIterations = other.Compact.MaxIterations
	}
	if other.Compact.StepDownSeconds != 0 {
		c.Compact.StepDownSeconds = other.Compact.StepDownSeconds
	}
	if other.Compact.StepDownWait != "" {
		c.Compact.StepDownWait = other.Compact.StepDownWait
	}
	if other.Compact.FreeSpaceTargetMB != 0 {
		c.Compact.FreeSpaceTargetMB = other.Compact.FreeSpaceTargetMB
	}
	if other.Compact.AutoCompact {
		c.Compact.AutoCompact = true
	}
	if other.Compact.ForceManual {
		c.Compact.ForceManual = true
	}
	if len(other.Compact.Include) > 0 {
		c.Compact.Include = other.Compact.Include
	}
	if len(other.Compact.Exclude) > 0 {
		c.Compact.Exclude = append(c.Compact.Exclude, other.Compact.Exclude...)
	}

	// State
	if other.State.Dir != "" {
		c.State.Dir = other.State.Dir
	}
	if other.State.PerformanceLog != nil {
		c.State.PerformanceLog = other.State.PerformanceLog
	}
	if other.State.KeepBackupOnSuccess {
		c.State.KeepBackupOnSuccess = true
	}

	// Logging
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.File != "" {
		c.Logging.File = other.Logging.File
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}
}

// applyEnvOverrides applies MONGOMAINT_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MONGOMAINT_URI"); v != "" {
		c.Target.URI = v
	}
	if v := os.Getenv("MONGOMAINT_DATABASE"); v != "" {
		c.Target.Database = v
	}
	if v := os.Getenv("MONGOMAINT_STATE_DIR"); v != "" {
		c.State.Dir = v
	}
	if v := os.Getenv("MONGOMAINT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MONGOMAINT_ASSUME_YES"); v != "" {
		c.AssumeYes = strings.ToLower(v) == "true" || v == "1"
	}

	if v := os.Getenv("MONGOMAINT_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Rebuild.RetryAttempts = n
		}
	}

	if v := os.Getenv("MONGOMAINT_COMPACT_TOLERANCE"); v != "" {
		if t, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && t >= 0 && t < 1 {
			c.Compact.Tolerance = t
		}
	}
	if v := os.Getenv("MONGOMAINT_COMPACT_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Compact.MaxIterations = n
		}
	}
	if v := os.Getenv("MONGOMAINT_STEPDOWN_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Compact.StepDownSeconds = n
		}
	}
}

// PerformanceLogEnabled reports whether the per-run JSON report should be
// written. Unset counts as enabled.
func (s StateConfig) PerformanceLogEnabled() bool {
	return s.PerformanceLog == nil || *s.PerformanceLog
}

// ConnectTimeoutDuration returns the parsed connection timeout.
func (t TargetConfig) ConnectTimeoutDuration() time.Duration {
	return parseDuration(t.ConnectTimeout, 10*time.Second)
}

// RetryDelayDuration returns the parsed pause between per-index attempts.
func (r RebuildConfig) RetryDelayDuration() time.Duration {
	return parseDuration(r.RetryDelay, 5*time.Second)
}

// PollInitialDuration returns the parsed initial poll delay.
func (r RebuildConfig) PollInitialDuration() time.Duration {
	return parseDuration(r.PollInitial, 2*time.Second)
}

// PollMaxDuration returns the parsed poll delay cap.
func (r RebuildConfig) PollMaxDuration() time.Duration {
	return parseDuration(r.PollMax, 30*time.Second)
}

// BuildTimeoutDuration returns the parsed per-build wait bound.
func (r RebuildConfig) BuildTimeoutDuration() time.Duration {
	return parseDuration(r.BuildTimeout, 12*time.Hour)
}

// StepDownWaitDuration returns the parsed topology-settlement bound.
func (c CompactConfig) StepDownWaitDuration() time.Duration {
	return parseDuration(c.StepDownWait, 5*time.Minute)
}

// parseDuration parses s, falling back when empty or malformed.
// Validate reports malformed durations, so the fallback only matters for
// configs built in code.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Target.URI == "" {
		return fmt.Errorf("target.uri must not be empty")
	}
	if !strings.HasPrefix(c.Target.URI, "mongodb://") && !strings.HasPrefix(c.Target.URI, "mongodb+srv://") {
		return fmt.Errorf("target.uri must start with mongodb:// or mongodb+srv://, got %s", c.Target.URI)
	}

	for name, value := range map[string]string{
		"target.connect_timeout": c.Target.ConnectTimeout,
		"rebuild.retry_delay":    c.Rebuild.RetryDelay,
		"rebuild.poll_initial":   c.Rebuild.PollInitial,
		"rebuild.poll_max":       c.Rebuild.PollMax,
		"rebuild.build_timeout":  c.Rebuild.BuildTimeout,
		"compact.stepdown_wait":  c.Compact.StepDownWait,
	} {
		if value == "" {
			continue
		}
		if d, err := time.ParseDuration(value); err != nil || d <= 0 {
			return fmt.Errorf("%s must be a positive duration, got %q", name, value)
		}
	}

	if c.Rebuild.CoverSuffix == "" {
		return fmt.Errorf("rebuild.cover_suffix must not be empty")
	}
	if c.Rebuild.CoverField == "" {
		return fmt.Errorf("rebuild.cover_field must not be empty")
	}
	if strings.HasPrefix(c.Rebuild.CoverField, "$") || strings.Contains(c.Rebuild.CoverField, ".") {
		return fmt.Errorf("rebuild.cover_field must not start with $ or contain dots, got %q", c.Rebuild.CoverField)
	}
	if c.Rebuild.RetryAttempts < 0 {
		return fmt.Errorf("rebuild.retry_attempts must be non-negative, got %d", c.Rebuild.RetryAttempts)
	}

	if c.Compact.Tolerance < 0 || c.Compact.Tolerance >= 1 {
		return fmt.Errorf("compact.tolerance must be in [0, 1), got %f", c.Compact.Tolerance)
	}
	if c.Compact.MinSavingsMB < 0 {
		return fmt.Errorf("compact.min_savings_mb must be non-negative, got %d", c.Compact.MinSavingsMB)
	}
	if c.Compact.MinConvergenceMB < 0 {
		return fmt.Errorf("compact.min_convergence_mb must be non-negative, got %d", c.Compact.MinConvergenceMB)
	}
	if c.Compact.MaxIterations < 1 {
		return fmt.Errorf("compact.max_iterations must be at least 1, got %d", c.Compact.MaxIterations)
	}
	if c.Compact.StepDownSeconds < 1 {
		return fmt.Errorf("compact.stepdown_seconds must be at least 1, got %d", c.Compact.StepDownSeconds)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func boolPtr(b bool) *bool { return &b }

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
