package main

import (
	"context"
	"fmt"
	"os"

	"github.com/tphakala/birdnet-edge/cmd"
	"github.com/tphakala/birdnet-edge/internal/conf"
	"github.com/tphakala/birdnet-edge/internal/logger"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	settings := &conf.Settings{}

	rootCmd := cmd.RootCommand(settings, version)
	err := rootCmd.ExecuteContext(context.Background())

	_ = logger.Global().Flush()

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
