package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := rootCmd()

	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}

	assert.ElementsMatch(t, []string{"serve", "sweep", "flush", "digest", "version"}, names)
}

func TestFlushCmd_Flags(t *testing.T) {
	cmd := flushCmd()

	require.NotNil(t, cmd.Flags().Lookup("all"))
	assert.Equal(t, "1m0s", cmd.Flags().Lookup("timeout").DefValue)
}
