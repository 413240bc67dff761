// Package backup provides the backup command for CareBell-Go
package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/carebell/carebell-go/internal/backup"
	"github.com/carebell/carebell-go/internal/conf"
)

// Command creates and returns the backup command
func Command(settings *conf.Settings) *cobra.Command {
	var validateOnly bool

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the call history to the configured backup targets",
		Long:  "Backup command uses the configured backup settings to store an immediate snapshot of the call history file on every enabled target.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(settings, validateOnly)
		},
	}

	cmd.Flags().BoolVar(&validateOnly, "validate", false, "Only check that every enabled target is reachable and writable")

	return cmd
}

func runBackup(settings *conf.Settings, validateOnly bool) error {
	if !settings.Backup.Enabled {
		return fmt.Errorf("backup functionality is not enabled in configuration")
	}

	manager, err := backup.NewManager(&settings.Backup, settings.History.Path)
	if err != nil {
		return fmt.Errorf("failed to create backup manager: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if validateOnly {
		if err := manager.ValidateTargets(ctx); err != nil {
			return fmt.Errorf("target validation failed: %w", err)
		}
		fmt.Printf("All backup targets are reachable: %v\n", manager.Targets())
		return nil
	}

	if err := manager.RunBackup(ctx); err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}

	fmt.Println("Backup completed successfully")
	return nil
}
