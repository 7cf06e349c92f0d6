// Package browser drives headless Chrome sessions against third-party
// portals that expose no API. Requires Chrome/Chromium on the system.
//
// The DOM selectors and click sequences in this package are brittle by
// nature; they mirror the portals' current UI and live here, isolated from
// the job lifecycle core.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"
)

// Diagnostic file names written into the workspace when a session fails.
// The orchestrator hands these paths to the debug index explicitly.
const (
	ScreenshotName = "failure_screenshot.png"
	PageDumpName   = "failure_page.html"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config holds portal endpoints and timing for browser sessions.
type Config struct {
	PortalURL      string // attendance portal base URL
	VollnaLoginURL string // vollna login page

	SessionTimeout  time.Duration // whole automation sequence
	ElementTimeout  time.Duration // single element wait
	DownloadTimeout time.Duration // spreadsheet download completion

	MaxSessions int64 // concurrent Chrome instances
	Headless    bool
}

// Credentials are the portal login fields, passed through per request and
// never stored.
type Credentials struct {
	CompanyCode string
	Username    string
	Password    string
}

// Error is a failed automation stage, optionally with diagnostic files
// captured from the live session before it was torn down.
type Error struct {
	Stage       string
	Timeout     bool
	Diagnostics []string // workspace paths, may be empty
	Cause       error
}

func (e *Error) Error() string {
	if e.Timeout {
		return fmt.Sprintf("automation timeout at %s: %v", e.Stage, e.Cause)
	}
	return fmt.Sprintf("automation failed at %s: %v", e.Stage, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Driver creates browser sessions, capping how many run at once.
type Driver struct {
	cfg Config
	sem *semaphore.Weighted
}

// NewDriver returns a Driver with defaults filled in.
func NewDriver(cfg Config) *Driver {
	if cfg.PortalURL == "" {
		cfg.PortalURL = "https://cloud.sekure-id.com"
	}
	if cfg.VollnaLoginURL == "" {
		cfg.VollnaLoginURL = "https://www.vollna.com/login"
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 3 * time.Minute
	}
	if cfg.ElementTimeout <= 0 {
		cfg.ElementTimeout = 10 * time.Second
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 30 * time.Second
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 2
	}
	return &Driver{cfg: cfg, sem: semaphore.NewWeighted(cfg.MaxSessions)}
}

// withSession acquires a browser slot, starts Chrome, routes downloads to
// scratchDir, and runs flow. On failure it captures a screenshot and page
// dump into scratchDir and attaches their paths to the returned *Error.
func (d *Driver) withSession(ctx context.Context, scratchDir string, flow func(ctx context.Context) error) error {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return &Error{Stage: "session", Cause: err}
	}
	defer d.sem.Release(1)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, d.allocatorOptions()...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	if scratchDir != "" {
		err := chromedp.Run(browserCtx,
			cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllow).
				WithDownloadPath(scratchDir),
		)
		if err != nil {
			return &Error{Stage: "session", Cause: err}
		}
	}

	// The flow gets a bounded context; the session context stays alive so
	// diagnostics can still be captured after a flow timeout.
	flowCtx, cancelFlow := context.WithTimeout(browserCtx, d.cfg.SessionTimeout)
	defer cancelFlow()

	if err := flow(flowCtx); err != nil {
		autoErr := asError(err)
		if errors.Is(err, context.DeadlineExceeded) {
			autoErr.Timeout = true
		}
		autoErr.Diagnostics = captureDiagnostics(browserCtx, scratchDir)
		return autoErr
	}
	return nil
}

func (d *Driver) allocatorOptions() []chromedp.ExecAllocatorOption {
	return append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", d.cfg.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-software-rasterizer", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(userAgent),
	)
}

// runStage executes actions with the per-stage element timeout and labels
// failures with the stage name.
func (d *Driver) runStage(ctx context.Context, stage string, actions ...chromedp.Action) error {
	stageCtx, cancel := context.WithTimeout(ctx, d.cfg.ElementTimeout)
	defer cancel()

	if err := chromedp.Run(stageCtx, actions...); err != nil {
		return &Error{
			Stage:   stage,
			Timeout: errors.Is(err, context.DeadlineExceeded),
			Cause:   err,
		}
	}
	return nil
}

// captureDiagnostics writes a screenshot and page-source dump of the
// current session state into dir. Best effort; returns whatever succeeded.
func captureDiagnostics(ctx context.Context, dir string) []string {
	if dir == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var paths []string

	var shot []byte
	if err := chromedp.Run(ctx, chromedp.FullScreenshot(&shot, 80)); err == nil {
		path := filepath.Join(dir, ScreenshotName)
		if writeErr := os.WriteFile(path, shot, 0o644); writeErr == nil {
			paths = append(paths, path)
		}
	} else {
		log.Printf("[browser] screenshot capture failed: %v", err)
	}

	var html string
	if err := chromedp.Run(ctx, chromedp.OuterHTML("html", &html)); err == nil && html != "" {
		path := filepath.Join(dir, PageDumpName)
		if writeErr := os.WriteFile(path, []byte(html), 0o644); writeErr == nil {
			paths = append(paths, path)
		}
	} else if err != nil {
		log.Printf("[browser] page dump capture failed: %v", err)
	}

	return paths
}

func asError(err error) *Error {
	var autoErr *Error
	if errors.As(err, &autoErr) {
		return autoErr
	}
	return &Error{Stage: "automation", Cause: err}
}
