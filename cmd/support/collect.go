package support

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/carebell/carebell-go/internal/conf"
	"github.com/carebell/carebell-go/internal/diagnostics"
)

// CollectCommand creates the support data collection subcommand
func CollectCommand(settings *conf.Settings) *cobra.Command {
	var (
		outDir    string
		logWindow time.Duration
	)

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect system diagnostics for troubleshooting",
		Long:  "Write a zip archive with the redacted configuration, recent logs and system information, suitable for attaching to a bug report.",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Collecting support data...")

			configPath, err := conf.FindConfigFile()
			if err != nil {
				return fmt.Errorf("no configuration file found: %w", err)
			}

			opts := []diagnostics.CollectorOption{
				diagnostics.WithNodeName(settings.Main.Name),
			}
			if dir := filepath.Dir(settings.Main.Log.Path); dir != "" {
				opts = append(opts, diagnostics.WithLogDirs(dir, "logs"))
			}

			collector := diagnostics.NewCollector(configPath, settings.Version, opts...)

			collectOpts := diagnostics.DefaultOptions()
			if logWindow > 0 {
				collectOpts.LogWindow = logWindow
			}
			// The CLI runs outside the pipeline, there is no live status to dump.
			collectOpts.IncludeStatus = false

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			path, err := collector.CreateArchiveFile(ctx, outDir, collectOpts)
			if err != nil {
				fmt.Printf("Error collecting support data: %v\n", err)
				os.Exit(1)
			}

			fmt.Printf("Support data collected and saved to: %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&outDir, "out", ".", "Directory the support archive is written to")
	cmd.Flags().DurationVar(&logWindow, "log-window", 0, "How far back to include logs, e.g. 72h (default one week)")

	return cmd
}
