package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"run", "serve", "status", "requeue"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "translate-runner", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRootCommand_PersistentFlags(t *testing.T) {
	c := rootCmd.PersistentFlags().Lookup("config")
	require.NotNil(t, c)
	assert.Equal(t, "c", c.Shorthand)
	require.NotNil(t, rootCmd.PersistentFlags().Lookup("log-level"))
	assert.Equal(t, version, rootCmd.Version)
}

func withFlags(t *testing.T, path, level string) {
	t.Helper()
	origPath, origLevel, origCfg := configPath, logLevel, cfg
	configPath, logLevel = path, level
	t.Cleanup(func() { configPath, logLevel, cfg = origPath, origLevel, origCfg })
}

func TestLoadConfig_FileAndLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runner.yaml")
	require.NoError(t, os.WriteFile(path, []byte("run:\n  max_rows: 7\nsheet:\n  names: [prod, dev]\n"), 0o600))
	withFlags(t, path, "debug")

	require.NoError(t, loadConfig(runCmd))
	require.NotNil(t, cfg)
	assert.Equal(t, 7, cfg.Run.MaxRows)
	assert.Equal(t, []string{"prod", "dev"}, cfg.Sheet.Names)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	withFlags(t, filepath.Join(t.TempDir(), "absent.yaml"), "")

	err := loadConfig(runCmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestLoadConfig_BadLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runner.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  format: json\n"), 0o600))
	withFlags(t, path, "loud")

	err := loadConfig(runCmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init logger")
}

func TestRunCommand_Flags(t *testing.T) {
	flag := runCmd.Flags().Lookup("max-rows")
	require.NotNil(t, flag, "run command should have --max-rows flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestRequeueCommand_Flags(t *testing.T) {
	sheet := requeueCmd.Flags().Lookup("sheet")
	require.NotNil(t, sheet)
	assert.Equal(t, []string{"true"}, sheet.Annotations["cobra_annotation_bash_completion_one_required_flag"])

	rows := requeueCmd.Flags().Lookup("rows")
	require.NotNil(t, rows)
	assert.Equal(t, "intSlice", rows.Value.Type())
}
