package serve

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/carebell/carebell-go/internal/conf"
	"github.com/carebell/carebell-go/internal/node"
)

// Command creates the serve command, which runs the full call pipeline
// until interrupted.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the nurse call console",
		Long:  "Start the call pipeline: event feeds, call tracking, announcement playback, notifications and the HTTP API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return node.Run(settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the serve command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.Feeds.TCP.Listen, "feed-listen", viper.GetString("feeds.tcp.listen"), "Address and port the TCP event feed listens on")
	cmd.Flags().BoolVar(&settings.Feeds.Stdin.Enabled, "stdin", viper.GetBool("feeds.stdin.enabled"), "Read events from standard input")
	cmd.Flags().StringVar(&settings.WebServer.Port, "port", viper.GetString("webserver.port"), "Port for the HTTP API server")
	cmd.Flags().StringVar(&settings.Registry.Path, "registry", viper.GetString("registry.path"), "Path to the code registry file")
	cmd.Flags().BoolVar(&settings.Telemetry.Enabled, "telemetry", viper.GetBool("telemetry.enabled"), "Enable Prometheus telemetry endpoint")
	cmd.Flags().StringVar(&settings.Telemetry.Listen, "listen", viper.GetString("telemetry.listen"), "Listen address and port of the telemetry endpoint")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
