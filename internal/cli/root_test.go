package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/laurels/internal/config"
	"github.com/roach88/laurels/internal/engine"
	"github.com/roach88/laurels/internal/testutil"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "laurels", cmd.Use)
	assert.Contains(t, cmd.Long, "founder ranks")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"validate"}, {"catalog"}, {"run"}, {"badges"}, {"next"}, {"pools"},
		{"deadletter", "list"}, {"deadletter", "retry"}, {"admin", "correct"},
	}

	for _, path := range commands {
		t.Run(path[len(path)-1], func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, path[len(path)-1], subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	for _, name := range []string{"config", "env-file", "db", "catalog"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestInvalidFormat(t *testing.T) {
	_, _, err := execute(t, &RootOptions{}, "--format", "xml", "validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad")))
	assert.Equal(t, ExitFailure, GetExitCode(WrapExitError(ExitFailure, "failed", os.ErrNotExist)))
	assert.Equal(t, ExitFailure, GetExitCode(os.ErrNotExist))
}

// clearEnv unsets every config override for the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		config.EnvDatabase, config.EnvCatalog, config.EnvUsers,
		config.EnvWorkers, config.EnvMaxAttempts, config.EnvPoolReport,
	} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, opts *RootOptions, args ...string) (string, string, error) {
	t.Helper()
	clearEnv(t)

	var stdout, stderr bytes.Buffer
	cmd := newRootCommand(opts)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// deterministic returns options with a stepping clock and sequential ids.
func deterministic() *RootOptions {
	return &RootOptions{EngineOptions: []engine.Option{
		engine.WithClock(testutil.NewDeterministicClock()),
		engine.WithTraceGenerator(testutil.NewSequenceGenerator("trace")),
	}}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
