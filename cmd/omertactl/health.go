package main

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var healthAddr string

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe a running node's health and readiness endpoints",
}

var healthCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "GET /healthz and /readyz from a running node and print the responses",
	RunE:  runHealthCheck,
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.AddCommand(healthCheckCmd)

	healthCheckCmd.Flags().StringVar(&healthAddr, "addr", "http://127.0.0.1:8080", "base address of the node's health server")
}

func runHealthCheck(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := client.Get(healthAddr + path)
		if err != nil {
			return fmt.Errorf("GET %s: %w", path, err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("read %s response: %w", path, err)
		}

		fmt.Printf("%s [%s]\n%s\n\n", path, resp.Status, body)
	}
	return nil
}
