package main

import (
	"context"

	"github.com/spf13/cobra"
)

func Execute(ctx context.Context) error {
	root := &cobra.Command{Use: "mdcollector", Short: "Real-time cryptocurrency market-data collector"}
	root.PersistentFlags().String("config", "config.yaml", "path to the YAML configuration file")

	root.AddCommand(serveCmd(ctx))
	root.AddCommand(healthCmd(ctx))
	root.AddCommand(versionCmd())

	return root.ExecuteContext(ctx)
}
