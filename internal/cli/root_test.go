package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "ditl", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"info", "ls", "trace", "rm", "unlock", "merge", "filter", "window", "ccs", "run"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
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

	storeFlag := cmd.PersistentFlags().Lookup("store")
	require.NotNil(t, storeFlag)
	assert.Equal(t, "", storeFlag.DefValue)
}

func TestConversionFlags(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"merge", "filter", "window"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		typeFlag := sub.Flags().Lookup("type")
		require.NotNil(t, typeFlag, name)
		assert.Equal(t, "edges", typeFlag.DefValue)
		assert.NotNil(t, sub.Flags().Lookup("overwrite"), name)
		assert.NotNil(t, sub.Flags().Lookup("snapshot-interval"), name)
	}

	ccs, _, err := cmd.Find([]string{"ccs"})
	require.NoError(t, err)
	assert.Nil(t, ccs.Flags().Lookup("type"))
}
