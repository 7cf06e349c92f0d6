package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/octacer/portal-agent/internal/artifacts"
	"github.com/octacer/portal-agent/internal/browser"
	"github.com/octacer/portal-agent/internal/config"
	"github.com/octacer/portal-agent/internal/convert"
	"github.com/octacer/portal-agent/internal/debugstore"
	"github.com/octacer/portal-agent/internal/expiry"
	"github.com/octacer/portal-agent/internal/jobs"
	"github.com/octacer/portal-agent/internal/workspace"
)

var (
	reportCompanyCode string
	reportUsername    string
	reportPassword    string
	reportDate        string
	reportOut         string
	reportHeadful     bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate one attendance report from the command line",
	Long:  `Run a single report-generation job against the portal and write the spreadsheet to a local file.`,
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportCompanyCode, "company-code", "", "Portal company code (defaults to PORTAL_DEFAULT_COMPANY_CODE)")
	reportCmd.Flags().StringVar(&reportUsername, "username", "", "Portal username (defaults to PORTAL_DEFAULT_USERNAME)")
	reportCmd.Flags().StringVar(&reportPassword, "password", "", "Portal password (defaults to PORTAL_DEFAULT_PASSWORD)")
	reportCmd.Flags().StringVar(&reportDate, "date", "", "Report date as YYYY-MM-DD (defaults to today)")
	reportCmd.Flags().StringVar(&reportOut, "out", "", "Output file path (defaults to attendance_report_<date>.xlsx)")
	reportCmd.Flags().BoolVar(&reportHeadful, "headful", false, "Run Chrome with a visible window")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, _ []string) error {
	cfg := config.FromEnv().Finalize()

	creds := jobs.ReportRequest{
		CompanyCode: reportCompanyCode,
		Username:    reportUsername,
		Password:    reportPassword,
		ReportDate:  reportDate,
	}
	if creds.CompanyCode == "" {
		creds.CompanyCode = cfg.DefaultCompanyCode
	}
	if creds.Username == "" {
		creds.Username = cfg.DefaultUsername
	}
	if creds.Password == "" {
		creds.Password = cfg.DefaultPassword
	}
	if creds.Password == "" {
		return fmt.Errorf("no password given: set --password or PORTAL_DEFAULT_PASSWORD")
	}

	orch, scheduler, err := buildOrchestrator(cfg, !reportHeadful)
	if err != nil {
		return err
	}
	defer scheduler.Stop()

	direct, err := orch.GenerateReportDirect(cmd.Context(), creds)
	if err != nil {
		return err
	}
	defer direct.Close()

	out := reportOut
	if out == "" {
		out = direct.Filename
	}
	if err := copyToFile(direct.Path, out); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}

	fmt.Printf("Report for %s written to %s\n", direct.ReportDate, out)
	return nil
}

// buildOrchestrator assembles the same collaborators the server uses,
// rooted in the configured directories.
func buildOrchestrator(cfg config.Config, headless bool) (*jobs.Orchestrator, *expiry.Scheduler, error) {
	workspaces, err := workspace.NewManager(cfg.ScratchDir)
	if err != nil {
		return nil, nil, err
	}
	store, err := artifacts.NewStore(cfg.StoreDir)
	if err != nil {
		return nil, nil, err
	}
	debug, err := debugstore.NewIndex(cfg.DebugDir, cfg.MaxDebugSessions)
	if err != nil {
		return nil, nil, err
	}

	driver := browser.NewDriver(browser.Config{
		PortalURL:      cfg.PortalURL,
		VollnaLoginURL: cfg.VollnaLoginURL,
		MaxSessions:    int64(cfg.MaxBrowserSessions),
		Headless:       headless,
	})

	var text jobs.TextExtractor
	if cfg.GeminiAPIKey != "" {
		extractor, err := convert.NewGeminiExtractor(context.Background(), cfg.GeminiAPIKey, convert.DefaultOCRModel)
		if err != nil {
			return nil, nil, err
		}
		text = extractor
	}

	scheduler := expiry.New()
	orch := jobs.New(jobs.Options{
		Workspaces:    workspaces,
		Store:         store,
		Registry:      artifacts.NewRegistry(),
		Scheduler:     scheduler,
		Debug:         debug,
		Reports:       driver,
		Cookies:       driver,
		Raster:        convert.PopplerRasterizer{},
		Text:          text,
		ArtifactTTL:   cfg.ArtifactTTL(),
		ConversionTTL: cfg.ConversionTTL(),
	})
	return orch, scheduler, nil
}

func copyToFile(src, dest string) error {
	if dir := filepath.Dir(dest); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
