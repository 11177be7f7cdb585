package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func healthCmd(ctx context.Context) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query a running collector's /health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "admin HTTP base address")
	return cmd
}

func runHealth(ctx context.Context, addr string) error {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, addr+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("query health endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var pretty map[string]interface{}
	if err := json.Unmarshal(body, &pretty); err != nil {
		fmt.Println(string(body))
		return nil
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Println(string(out))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("collector reported unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}
