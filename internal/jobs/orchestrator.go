package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/octacer/portal-agent/internal/artifacts"
	"github.com/octacer/portal-agent/internal/browser"
	"github.com/octacer/portal-agent/internal/convert"
	"github.com/octacer/portal-agent/internal/debugstore"
	"github.com/octacer/portal-agent/internal/expiry"
	"github.com/octacer/portal-agent/internal/fetch"
	"github.com/octacer/portal-agent/internal/workspace"
)

const (
	// DefaultArtifactTTL is how long a generated report stays downloadable.
	DefaultArtifactTTL = time.Hour
	// DefaultConversionTTL is how long converted page images stay served.
	DefaultConversionTTL = time.Hour

	reportDateLayout = "2006-01-02"
)

// ReportGenerator drives the attendance portal and downloads a spreadsheet
// into the scratch directory.
type ReportGenerator interface {
	GenerateReport(ctx context.Context, scratchDir string, creds browser.Credentials, reportDate string) (string, error)
}

// CookieExtractor logs into a third-party site and reads its session cookies.
type CookieExtractor interface {
	ExtractCookies(ctx context.Context, scratchDir, email, password, finalURL string) (string, int, error)
}

// Rasterizer renders PDF pages to image files.
type Rasterizer interface {
	PDFToImages(ctx context.Context, pdfPath, outDir string) ([]string, error)
}

// TextExtractor reads the text out of a raster image.
type TextExtractor interface {
	ExtractImageText(ctx context.Context, data []byte, format string) (string, error)
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Workspaces *workspace.Manager
	Store      *artifacts.Store
	Registry   *artifacts.Registry
	Scheduler  *expiry.Scheduler
	Debug      *debugstore.Index

	Reports ReportGenerator
	Cookies CookieExtractor
	Raster  Rasterizer
	Text    TextExtractor

	ArtifactTTL   time.Duration
	ConversionTTL time.Duration
}

// Orchestrator runs jobs through their lifecycle: validate, acquire a
// workspace, make exactly one external call, then either relocate the
// result into the stable store or salvage diagnostics, and always delete
// the workspace. No automatic retries; a retried job is a brand-new job.
type Orchestrator struct {
	opts Options
}

// New returns an Orchestrator with TTL defaults applied.
func New(opts Options) *Orchestrator {
	if opts.ArtifactTTL <= 0 {
		opts.ArtifactTTL = DefaultArtifactTTL
	}
	if opts.ConversionTTL <= 0 {
		opts.ConversionTTL = DefaultConversionTTL
	}
	return &Orchestrator{opts: opts}
}

// ArtifactTTL returns the configured report TTL.
func (o *Orchestrator) ArtifactTTL() time.Duration {
	return o.opts.ArtifactTTL
}

// ResolveArtifact looks up a registered artifact by file id. Expired or
// backing-file-less entries surface as artifacts.ErrExpired.
func (o *Orchestrator) ResolveArtifact(fileID string) (artifacts.Artifact, error) {
	return o.opts.Registry.Resolve(fileID)
}

// ReportRequest are the portal credentials plus an optional report date.
type ReportRequest struct {
	CompanyCode string
	Username    string
	Password    string
	ReportDate  string // 2006-01-02, empty means today
}

// ReportResult is a registered, downloadable report artifact.
type ReportResult struct {
	FileID      string
	ReportDate  string
	GeneratedAt time.Time
	ExpiresIn   int // seconds
}

// GenerateReport runs a report job and registers the produced spreadsheet.
func (o *Orchestrator) GenerateReport(ctx context.Context, req ReportRequest) (*ReportResult, error) {
	date, err := normalizeReportDate(req.ReportDate)
	if err != nil {
		return nil, err
	}

	ws, err := o.acquireWorkspace()
	if err != nil {
		return nil, err
	}
	defer ws.Release()

	downloaded, err := o.opts.Reports.GenerateReport(ctx, ws.Path, credentials(req), date)
	if err != nil {
		return nil, o.jobFailure("report generation", err)
	}

	fileID, dest, err := o.opts.Store.Put(downloaded, "report", filepath.Ext(downloaded))
	if err != nil {
		return nil, fmt.Errorf("failed to store report: %w", err)
	}
	// Move first, register second: a registered artifact always has a real
	// backing file.
	if err := o.opts.Registry.Register(fileID, dest, date, o.opts.ArtifactTTL); err != nil {
		_ = os.Remove(dest)
		return nil, fmt.Errorf("failed to register report: %w", err)
	}
	o.opts.Scheduler.Schedule(o.opts.ArtifactTTL, func() {
		o.opts.Registry.Evict(fileID)
	})

	log.Printf("[report] generated %s for %s, expires in %s", fileID, date, o.opts.ArtifactTTL)
	return &ReportResult{
		FileID:      fileID,
		ReportDate:  date,
		GeneratedAt: time.Now(),
		ExpiresIn:   int(o.opts.ArtifactTTL.Seconds()),
	}, nil
}

// DirectReport is a report served straight from its workspace. Close
// releases the workspace; callers must call it after streaming the file.
type DirectReport struct {
	Path       string
	Filename   string
	ReportDate string

	ws *workspace.Handle
}

// Close deletes the backing workspace.
func (r *DirectReport) Close() {
	r.ws.Release()
}

// GenerateReportDirect runs a report job and returns the spreadsheet for
// immediate streaming. Nothing is registered; the file lives only until
// Close.
func (o *Orchestrator) GenerateReportDirect(ctx context.Context, req ReportRequest) (*DirectReport, error) {
	date, err := normalizeReportDate(req.ReportDate)
	if err != nil {
		return nil, err
	}

	ws, err := o.acquireWorkspace()
	if err != nil {
		return nil, err
	}

	downloaded, err := o.opts.Reports.GenerateReport(ctx, ws.Path, credentials(req), date)
	if err != nil {
		failure := o.jobFailure("report generation", err)
		ws.Release()
		return nil, failure
	}

	return &DirectReport{
		Path:       downloaded,
		Filename:   fmt.Sprintf("attendance_report_%s.xlsx", date),
		ReportDate: date,
		ws:         ws,
	}, nil
}

// CookieRequest identifies a vollna login and the page whose cookies are
// wanted.
type CookieRequest struct {
	Email    string
	Password string
	FinalURL string
}

// CookieResult is the extracted cookie header.
type CookieResult struct {
	Cookies     string
	CookieCount int
	ExtractedAt time.Time
}

// ExtractCookies runs a cookie-extraction job.
func (o *Orchestrator) ExtractCookies(ctx context.Context, req CookieRequest) (*CookieResult, error) {
	if err := fetch.ValidateURL(req.FinalURL); err != nil {
		return nil, &ValidationError{Field: "final_url", Message: "must be an absolute http(s) URL"}
	}

	ws, err := o.acquireWorkspace()
	if err != nil {
		return nil, err
	}
	defer ws.Release()

	header, count, err := o.opts.Cookies.ExtractCookies(ctx, ws.Path, req.Email, req.Password, req.FinalURL)
	if err != nil {
		return nil, o.jobFailure("cookie extraction", err)
	}

	log.Printf("[cookies] extracted %d cookies", count)
	return &CookieResult{
		Cookies:     header,
		CookieCount: count,
		ExtractedAt: time.Now(),
	}, nil
}

// PageImage is one converted PDF page in the stable store.
type PageImage struct {
	Page     int
	Filename string
}

// ConversionResult is a stored set of page images with a scheduled expiry.
type ConversionResult struct {
	ConversionID string
	Pages        []PageImage
	TotalPages   int
	GeneratedAt  time.Time
	ExpiresIn    int // seconds
}

// ConvertPDF downloads a PDF and renders each page to PNG under a
// per-conversion store directory.
func (o *Orchestrator) ConvertPDF(ctx context.Context, pdfURL string) (*ConversionResult, error) {
	data, _, err := fetch.Download(ctx, pdfURL, nil)
	if err != nil {
		return nil, err
	}
	if convert.Sniff(data) != convert.KindPDF {
		return nil, &ValidationError{Field: "pdf_url", Message: "content is not a PDF"}
	}

	ws, err := o.acquireWorkspace()
	if err != nil {
		return nil, err
	}
	defer ws.Release()

	input := filepath.Join(ws.Path, "input.pdf")
	if err := os.WriteFile(input, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write conversion input: %w", err)
	}

	rendered, err := o.opts.Raster.PDFToImages(ctx, input, ws.Path)
	if err != nil {
		return nil, o.jobFailure("pdf conversion", err)
	}

	conversionID := uuid.NewString()
	if _, err := o.opts.Store.ConversionDir(conversionID); err != nil {
		return nil, err
	}

	pages := make([]PageImage, 0, len(rendered))
	for i, src := range rendered {
		name, err := o.opts.Store.AddPage(conversionID, i+1, src)
		if err != nil {
			o.opts.Store.RemoveConversionDir(conversionID)
			return nil, err
		}
		pages = append(pages, PageImage{Page: i + 1, Filename: name})
	}

	o.opts.Scheduler.Schedule(o.opts.ConversionTTL, func() {
		o.opts.Store.RemoveConversionDir(conversionID)
	})

	log.Printf("[convert] conversion %s produced %d pages", conversionID, len(pages))
	return &ConversionResult{
		ConversionID: conversionID,
		Pages:        pages,
		TotalPages:   len(pages),
		GeneratedAt:  time.Now(),
		ExpiresIn:    int(o.opts.ConversionTTL.Seconds()),
	}, nil
}

// TextResult is an inline extraction result; the text is never persisted.
type TextResult struct {
	Text             string
	Language         string
	ExtractionMethod string
	SourceType       string
	TotalPages       int
	ExtractedAt      time.Time
	RequestID        string
}

// ExtractText downloads an image or PDF and returns its text. PDFs are
// rasterized page by page and the per-page results joined.
func (o *Orchestrator) ExtractText(ctx context.Context, srcURL string) (*TextResult, error) {
	data, _, err := fetch.Download(ctx, srcURL, nil)
	if err != nil {
		return nil, err
	}

	kind := convert.Sniff(data)
	if kind != convert.KindPDF && !kind.IsImage() {
		return nil, &ValidationError{Field: "url", Message: "content is neither an image nor a PDF"}
	}

	ws, err := o.acquireWorkspace()
	if err != nil {
		return nil, err
	}
	defer ws.Release()

	var text string
	var totalPages int
	sourceType := "image"

	if kind.IsImage() {
		totalPages = 1
		text, err = o.opts.Text.ExtractImageText(ctx, data, kind.ImageFormat())
		if err != nil {
			return nil, o.jobFailure("text extraction", err)
		}
	} else {
		sourceType = "pdf"
		input := filepath.Join(ws.Path, "input.pdf")
		if err := os.WriteFile(input, data, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write extraction input: %w", err)
		}
		rendered, err := o.opts.Raster.PDFToImages(ctx, input, ws.Path)
		if err != nil {
			return nil, o.jobFailure("pdf rasterization", err)
		}
		totalPages = len(rendered)

		var sections []string
		for _, page := range rendered {
			pageBytes, err := os.ReadFile(page)
			if err != nil {
				return nil, fmt.Errorf("failed to read rendered page: %w", err)
			}
			pageText, err := o.opts.Text.ExtractImageText(ctx, pageBytes, "png")
			if err != nil {
				return nil, o.jobFailure("text extraction", err)
			}
			sections = append(sections, pageText)
		}
		text = strings.Join(sections, "\n\n")
	}

	return &TextResult{
		Text:             text,
		Language:         "auto",
		ExtractionMethod: "gemini-vision",
		SourceType:       sourceType,
		TotalPages:       totalPages,
		ExtractedAt:      time.Now(),
		RequestID:        uuid.NewString(),
	}, nil
}

func (o *Orchestrator) acquireWorkspace() (*workspace.Handle, error) {
	ws, err := o.opts.Workspaces.Acquire()
	if err != nil {
		return nil, &ResourceExhaustedError{Cause: err}
	}
	return ws, nil
}

// jobFailure turns an external-call error into the job's terminal error.
// Browser failures that captured diagnostics get a debug session; the
// session holds copies, so it survives the workspace deletion that follows.
func (o *Orchestrator) jobFailure(stage string, err error) error {
	var autoErr *browser.Error
	if errors.As(err, &autoErr) {
		failure := &AutomationError{Stage: autoErr.Stage, Timeout: autoErr.Timeout, Cause: err}
		if len(autoErr.Diagnostics) > 0 && o.opts.Debug != nil {
			debugID, names, createErr := o.opts.Debug.Create(autoErr.Diagnostics)
			if createErr != nil {
				log.Printf("[jobs] failed to create debug session: %v", createErr)
			} else {
				log.Printf("[jobs] captured debug session %s (%d files)", debugID, len(names))
				failure.Debug = &DebugInfo{DebugID: debugID, Files: names}
			}
		}
		return failure
	}
	return &AutomationError{Stage: stage, Cause: err}
}

func credentials(req ReportRequest) browser.Credentials {
	return browser.Credentials{
		CompanyCode: req.CompanyCode,
		Username:    req.Username,
		Password:    req.Password,
	}
}

// normalizeReportDate validates the strict calendar format before any
// workspace is created; empty selects today.
func normalizeReportDate(date string) (string, error) {
	if date == "" {
		return time.Now().Format(reportDateLayout), nil
	}
	if _, err := time.Parse(reportDateLayout, date); err != nil {
		return "", &ValidationError{Field: "report_date", Message: "invalid date format, use YYYY-MM-DD"}
	}
	return date, nil
}
