package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
)

// version/buildStamp are set at build time via -ldflags; zero values are
// fine for a source build.
var (
	version    = "dev"
	buildStamp = "unknown"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := Execute(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
