package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/octacer/portal-agent/internal/artifacts"
	"github.com/octacer/portal-agent/internal/config"
	"github.com/octacer/portal-agent/internal/workspace"
)

var sweepMaxAge time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove stale workspaces and store entries",
	Long:  `Delete scratch workspaces and stored artifacts older than the given age. The server does this on startup; this command does it on demand.`,
	RunE:  runSweep,
}

func init() {
	sweepCmd.Flags().DurationVar(&sweepMaxAge, "max-age", 24*time.Hour, "Delete entries older than this")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(_ *cobra.Command, _ []string) error {
	cfg := config.FromEnv().Finalize()

	workspaces, err := workspace.NewManager(cfg.ScratchDir)
	if err != nil {
		return err
	}
	store, err := artifacts.NewStore(cfg.StoreDir)
	if err != nil {
		return err
	}

	removedWorkspaces := workspaces.SweepStale(sweepMaxAge)
	removedArtifacts := store.SweepStale(sweepMaxAge)

	fmt.Printf("Removed %d stale workspaces and %d stale store entries\n", removedWorkspaces, removedArtifacts)
	return nil
}
