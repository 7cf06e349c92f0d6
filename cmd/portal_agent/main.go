// Package main provides the entry point for the portal agent HTTP server.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "portal_agent",
	Short: "Attendance portal automation server",
	Long:  "Portal agent drives third-party web portals through a headless browser to produce attendance reports and session cookies, and converts PDFs and images via REST API.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
