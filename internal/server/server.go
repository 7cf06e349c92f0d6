// Package server provides the HTTP API for the portal agent.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/octacer/portal-agent/internal/artifacts"
	"github.com/octacer/portal-agent/internal/browser"
	"github.com/octacer/portal-agent/internal/config"
	"github.com/octacer/portal-agent/internal/convert"
	"github.com/octacer/portal-agent/internal/debugstore"
	"github.com/octacer/portal-agent/internal/expiry"
	"github.com/octacer/portal-agent/internal/jobs"
	"github.com/octacer/portal-agent/internal/server/ratelimit"
	"github.com/octacer/portal-agent/internal/workspace"
)

// staleSweepAge is how old a leftover workspace or store file must be
// before the startup sweep removes it.
const staleSweepAge = 24 * time.Hour

// Server represents the HTTP server
type Server struct {
	httpServer  *http.Server
	cfg         config.Config
	orch        *jobs.Orchestrator
	registry    *artifacts.Registry
	store       *artifacts.Store
	debug       *debugstore.Index
	workspaces  *workspace.Manager
	scheduler   *expiry.Scheduler
	rateLimiter *ratelimit.Limiter
	validate    *validator.Validate
	ocr         *convert.GeminiExtractor // nil when no API key is configured
	ocrEnabled  bool
}

// New creates a new server instance with all collaborators wired up.
func New(cfg config.Config) (*Server, error) {
	workspaces, err := workspace.NewManager(cfg.ScratchDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace manager: %w", err)
	}
	store, err := artifacts.NewStore(cfg.StoreDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact store: %w", err)
	}
	debug, err := debugstore.NewIndex(cfg.DebugDir, cfg.MaxDebugSessions)
	if err != nil {
		return nil, fmt.Errorf("failed to create debug index: %w", err)
	}

	// Leftovers from a previous run have no registry entries and would
	// otherwise live forever.
	if n := workspaces.SweepStale(staleSweepAge); n > 0 {
		log.Printf("[sweep] removed %d stale workspaces", n)
	}
	if n := store.SweepStale(staleSweepAge); n > 0 {
		log.Printf("[sweep] removed %d stale store entries", n)
	}

	headless := cfg.Headless == nil || *cfg.Headless
	driver := browser.NewDriver(browser.Config{
		PortalURL:      cfg.PortalURL,
		VollnaLoginURL: cfg.VollnaLoginURL,
		MaxSessions:    int64(cfg.MaxBrowserSessions),
		Headless:       headless,
	})

	var ocr *convert.GeminiExtractor
	var text jobs.TextExtractor
	if cfg.GeminiAPIKey != "" {
		ocr, err = convert.NewGeminiExtractor(context.Background(), cfg.GeminiAPIKey, convert.DefaultOCRModel)
		if err != nil {
			return nil, fmt.Errorf("failed to create OCR extractor: %w", err)
		}
		text = ocr
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

	s := newServer(cfg, orch, workspaces, store, debug, scheduler)
	s.ocr = ocr
	s.ocrEnabled = ocr != nil
	return s, nil
}

// newServer wires routing and middleware around already-built
// collaborators.
func newServer(cfg config.Config, orch *jobs.Orchestrator, workspaces *workspace.Manager, store *artifacts.Store, debug *debugstore.Index, scheduler *expiry.Scheduler) *Server {
	s := &Server{
		cfg:        cfg,
		orch:       orch,
		store:      store,
		debug:      debug,
		workspaces: workspaces,
		scheduler:  scheduler,
		validate:   validator.New(),
	}
	s.rateLimiter = ratelimit.NewLimiter(ratelimit.LoadConfig())

	mux := http.NewServeMux()
	mux.HandleFunc("POST /generate-report", s.handleGenerateReport)
	mux.HandleFunc("POST /generate-report-direct", s.handleGenerateReportDirect)
	mux.HandleFunc("GET /get-report-default", s.handleReportDefault)
	mux.HandleFunc("GET /get-report-default-direct", s.handleReportDefaultDirect)
	mux.HandleFunc("GET /download/{file_id}", s.handleDownload)

	mux.HandleFunc("POST /pdf-to-png", s.handlePDFToPNG)
	mux.HandleFunc("POST /extract-text", s.handleExtractText)

	mux.HandleFunc("GET /get-vollna-cookies", s.handleVollnaCookies)

	mux.HandleFunc("GET /debug", s.handleListDebug)
	mux.HandleFunc("GET /debug/{debug_id}", s.handleGetDebug)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	// Conversion images and debug diagnostics are served read-only,
	// straight from their directories.
	mux.Handle("GET /files/", http.StripPrefix("/files/", http.FileServer(http.Dir(store.Dir()))))
	mux.Handle("GET /debug-files/", http.StripPrefix("/debug-files/", http.FileServer(http.Dir(debug.Dir()))))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.withRateLimit(s.withLogging(s.withCORS(mux))),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // browser jobs run for minutes
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins listening for requests and blocks until shutdown.
func (s *Server) Start() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.cleanup()

	log.Println("Server stopped")
	return nil
}

// cleanup releases background resources once the HTTP server has drained.
// No request can hold a workspace at this point, so the whole scratch root
// is swept instead of waiting out the startup sweep's age threshold.
func (s *Server) cleanup() {
	s.scheduler.Stop()
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.ocr != nil {
		_ = s.ocr.Close()
	}
	if n := s.workspaces.SweepStale(0); n > 0 {
		log.Printf("[sweep] removed %d workspaces at shutdown", n)
	}
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withRateLimit adds rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := s.extractClientID(r)
		allowed, info := s.rateLimiter.Allow(clientID, r.URL.Path, r.Method)

		s.setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log.Printf("[%s] %s %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
		log.Printf("[%s] %s completed in %v", r.Method, r.URL.Path, time.Since(start))
	})
}

// extractClientID extracts the client identifier (IP address) from the
// request.
func (s *Server) extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", info.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", info.Remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", info.ResetTime.Unix()))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response.
func (s *Server) rateLimitResponse(w http.ResponseWriter, info ratelimit.Info) {
	response := map[string]interface{}{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
		"reset_at":  info.ResetTime.Format(time.RFC3339),
	}
	if info.RetryAfter > 0 {
		response["retry_after"] = int(info.RetryAfter.Seconds())
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(info.RetryAfter.Seconds())))
	}

	log.Printf("[rate-limit] Rate limit exceeded: Limit=%d Remaining=%d Reset=%s",
		info.Limit, info.Remaining, info.ResetTime.Format(time.RFC3339))

	s.jsonResponse(w, http.StatusTooManyRequests, response)
}
