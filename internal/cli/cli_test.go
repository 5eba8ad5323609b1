package cli

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCLI_HasExpectedSubcommands(t *testing.T) {
	cmd := BuildCLI()
	require.NotNil(t, cmd)
	assert.Equal(t, "jobresultproc", cmd.Use)

	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}

	assert.True(t, names["run"])
	assert.True(t, names["status"])
	assert.True(t, names["migrate"])
	assert.True(t, names["simulate"])
	assert.Len(t, cmd.Commands(), 4)
}

func TestBuildCLI_ConfigFlagDefaultsToDefaultYaml(t *testing.T) {
	cmd := BuildCLI()
	flag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "configs/default.yaml", flag.DefValue)
}

func TestBuildSimulateCommand_CountFlagDefault(t *testing.T) {
	cmd := buildSimulateCommand()
	flag := cmd.Flags().Lookup("count")
	require.NotNil(t, flag)
	assert.Equal(t, "10", flag.DefValue)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("warn"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("bogus"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel(""))
}
