package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the collector version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("mdcollector %s (%s)\n", version, buildStamp)
			return nil
		},
	}
}
