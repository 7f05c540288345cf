package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	names := make([]string, 0)
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Subset(t, names, []string{"serve", "migrate", "version"})

	for _, flag := range []string{"config", "log-level", "log-output-path", "db"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestServeCmd_Flags(t *testing.T) {
	serve, _, err := newRootCmd().Find([]string{"serve"})
	require.NoError(t, err)

	for _, flag := range []string{"host", "port", "http-host", "http-port", "no-http", "timezone"} {
		assert.NotNil(t, serve.Flags().Lookup(flag), flag)
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "chatline "+semVersion)
}

func TestMigrateCmd(t *testing.T) {
	db := filepath.Join(t.TempDir(), "migrate.db")
	logs := filepath.Join(t.TempDir(), "chatline.log")

	out, err := execute(t, "migrate", "--db", db, "-o", logs)
	require.NoError(t, err)
	assert.Equal(t, "applied 001\n", out)

	// Re-running against the same file is a no-op
	out, err = execute(t, "migrate", "--db", db, "-o", logs)
	require.NoError(t, err)
	assert.Equal(t, "applied 001\n", out)
}

func TestMigrateCmd_InvalidLogLevel(t *testing.T) {
	_, err := execute(t, "migrate", "--db", filepath.Join(t.TempDir(), "x.db"), "-l", "chatty")
	assert.Error(t, err)
}

func TestServeCmd_InvalidConfigFile(t *testing.T) {
	_, err := execute(t, "serve", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
