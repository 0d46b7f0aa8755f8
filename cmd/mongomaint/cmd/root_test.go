package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetFlags restores the package-level flag state after a test mutated it.
func resetFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		flagURI = ""
		flagDB = ""
		flagConfig = ""
		debugMode = false
		assumeYes = false
		noTUI = false
	})
}

// isolateConfig keeps the user config and environment out of the test.
func isolateConfig(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("MONGOMAINT_URI", "")
	t.Setenv("MONGOMAINT_DATABASE", "")
	t.Setenv("MONGOMAINT_STATE_DIR", "")
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	// Given: the root command
	root := NewRootCmd()

	// Then: every maintenance surface is registered
	for _, name := range []string{"rebuild", "compact", "cleanup", "status", "version"} {
		sub, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}
}

func TestRootCmd_GlobalFlags(t *testing.T) {
	root := NewRootCmd()

	for _, name := range []string{"uri", "db", "config", "debug", "yes", "no-tui"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(name), name)
	}
}

func TestRunCmds_HaveSkipCheckFlag(t *testing.T) {
	assert.NotNil(t, newRebuildCmd().Flags().Lookup("skip-check"))
	assert.NotNil(t, newCompactCmd().Flags().Lookup("skip-check"))
	assert.NotNil(t, newCleanupCmd().Flags().Lookup("skip-check"))
	assert.NotNil(t, newCleanupCmd().Flags().Lookup("aggressive"))
}

func TestLoadConfig_FlagsBeatEnvironment(t *testing.T) {
	// Given: conflicting URI settings from env and flag
	resetFlags(t)
	isolateConfig(t)
	t.Setenv("MONGOMAINT_URI", "mongodb://envhost:27017")
	flagURI = "mongodb://flaghost:27017"
	flagDB = "appdb"

	// When: loading
	cfg, err := loadConfig()

	// Then: the flag wins and the database lands in the target
	require.NoError(t, err)
	assert.Equal(t, "mongodb://flaghost:27017", cfg.Target.URI)
	assert.Equal(t, "appdb", cfg.Target.Database)
}

func TestLoadConfig_ExplicitFile(t *testing.T) {
	// Given: an explicit --config file
	resetFlags(t)
	isolateConfig(t)
	path := filepath.Join(t.TempDir(), "maint.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"target:\n  uri: mongodb://filehost:27017\n  database: filedb\n"), 0o644))
	flagConfig = path

	// When: loading
	cfg, err := loadConfig()

	// Then: the file's settings apply
	require.NoError(t, err)
	assert.Equal(t, "mongodb://filehost:27017", cfg.Target.URI)
	assert.Equal(t, "filedb", cfg.Target.Database)
}

func TestLoadConfig_YesFlagSetsAssumeYes(t *testing.T) {
	resetFlags(t)
	isolateConfig(t)
	assumeYes = true

	cfg, err := loadConfig()

	require.NoError(t, err)
	assert.True(t, cfg.AssumeYes)
}
