package main

import (
	"fmt"
	"os"

	"github.com/carebell/carebell-go/cmd"
	"github.com/carebell/carebell-go/internal/conf"
	"github.com/carebell/carebell-go/internal/logging"
)

// version and buildDate are injected at build time with
// -ldflags "-X main.version=... -X main.buildDate=...".
var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	logging.Init()

	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		return 1
	}
	settings.Version = version
	settings.BuildDate = buildDate

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	return 0
}
