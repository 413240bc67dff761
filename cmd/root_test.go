package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebell/carebell-go/internal/conf"
)

func TestRootCommandSubcommands(t *testing.T) {
	root := RootCommand(&conf.Settings{})
	require.NotNil(t, root)
	assert.Equal(t, "carebell-go", root.Use)

	var names []string
	for _, sub := range root.Commands() {
		names = append(names, sub.Name())
	}
	assert.Subset(t, names, []string{"serve", "history", "backup", "support"})
}

func TestRootCommandGlobalFlags(t *testing.T) {
	root := RootCommand(&conf.Settings{})

	require.NotNil(t, root.PersistentFlags().Lookup("debug"))
	require.NotNil(t, root.PersistentFlags().Lookup("name"))
}
