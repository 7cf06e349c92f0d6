package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/octacer/portal-agent/internal/config"
	"github.com/octacer/portal-agent/internal/server"
)

var (
	servePort       int
	serveConfigPath string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Start an HTTP server that exposes report generation, cookie extraction and document conversion endpoints.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides PORT and config file)")
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to a JSON config file")
	rootCmd.AddCommand(serveCmd)
}

// runServe resolves configuration flag > environment > file > defaults,
// then runs the server until interrupted.
func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.FromEnv()

	if serveConfigPath != "" {
		fromFile, err := config.LoadConfig(serveConfigPath)
		if err != nil {
			return err
		}
		merged := cfg.MergeWithDefaults(*fromFile)
		cfg = &merged
	}
	if servePort != 0 {
		cfg.Port = servePort
	}

	final := cfg.Finalize()
	if err := final.Validate(); err != nil {
		return err
	}

	srv, err := server.New(final)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Start()
}
