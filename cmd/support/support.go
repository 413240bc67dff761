package support

import (
	"github.com/spf13/cobra"

	"github.com/carebell/carebell-go/internal/conf"
)

// Command creates the support parent command
func Command(settings *conf.Settings) *cobra.Command {
	supportCmd := &cobra.Command{
		Use:   "support",
		Short: "Commands related to support operations in CareBell-Go",
	}

	supportCmd.AddCommand(CollectCommand(settings))

	return supportCmd
}
