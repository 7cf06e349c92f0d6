package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/octacer/portal-agent/internal/jobs"
)

// GenerateReportRequest represents the request body for /generate-report.
type GenerateReportRequest struct {
	CompanyCode string `json:"company_code" validate:"required"`
	Username    string `json:"username" validate:"required"`
	Password    string `json:"password" validate:"required"`
	ReportDate  string `json:"report_date,omitempty"`
}

// ConvertRequest represents the request body for /pdf-to-png.
type ConvertRequest struct {
	PDFURL string `json:"pdf_url" validate:"required,url"`
}

// ExtractTextRequest represents the request body for /extract-text.
type ExtractTextRequest struct {
	URL string `json:"url" validate:"required,url"`
}

// handleGenerateReport runs a report job and returns a download link.
func (s *Server) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	var req GenerateReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	result, err := s.orch.GenerateReport(r.Context(), jobs.ReportRequest{
		CompanyCode: req.CompanyCode,
		Username:    req.Username,
		Password:    req.Password,
		ReportDate:  req.ReportDate,
	})
	if err != nil {
		s.jobErrorResponse(w, err)
		return
	}
	s.reportResponse(w, result)
}

// handleReportDefault runs a report job with the built-in credentials.
func (s *Server) handleReportDefault(w http.ResponseWriter, r *http.Request) {
	req, ok := s.defaultReportRequest(w, r)
	if !ok {
		return
	}
	result, err := s.orch.GenerateReport(r.Context(), req)
	if err != nil {
		s.jobErrorResponse(w, err)
		return
	}
	s.reportResponse(w, result)
}

// handleGenerateReportDirect runs a report job and streams the spreadsheet.
func (s *Server) handleGenerateReportDirect(w http.ResponseWriter, r *http.Request) {
	var req GenerateReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}
	s.serveDirectReport(w, r, jobs.ReportRequest{
		CompanyCode: req.CompanyCode,
		Username:    req.Username,
		Password:    req.Password,
		ReportDate:  req.ReportDate,
	})
}

// handleReportDefaultDirect streams a report using the built-in credentials.
func (s *Server) handleReportDefaultDirect(w http.ResponseWriter, r *http.Request) {
	req, ok := s.defaultReportRequest(w, r)
	if !ok {
		return
	}
	s.serveDirectReport(w, r, req)
}

func (s *Server) defaultReportRequest(w http.ResponseWriter, r *http.Request) (jobs.ReportRequest, bool) {
	if s.cfg.DefaultPassword == "" {
		s.errorResponse(w, http.StatusInternalServerError, "Default credentials are not configured")
		return jobs.ReportRequest{}, false
	}
	return jobs.ReportRequest{
		CompanyCode: s.cfg.DefaultCompanyCode,
		Username:    s.cfg.DefaultUsername,
		Password:    s.cfg.DefaultPassword,
		ReportDate:  r.URL.Query().Get("report_date"),
	}, true
}

func (s *Server) reportResponse(w http.ResponseWriter, result *jobs.ReportResult) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"report_url":   "/download/" + result.FileID,
		"file_id":      result.FileID,
		"report_date":  result.ReportDate,
		"generated_at": result.GeneratedAt.UTC().Format(time.RFC3339),
		"expires_in":   result.ExpiresIn,
	})
}

func (s *Server) serveDirectReport(w http.ResponseWriter, r *http.Request, req jobs.ReportRequest) {
	direct, err := s.orch.GenerateReportDirect(r.Context(), req)
	if err != nil {
		s.jobErrorResponse(w, err)
		return
	}
	defer direct.Close()

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", direct.Filename))
	http.ServeFile(w, r, direct.Path)
}

// handleDownload serves a previously generated artifact by file id.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	fileID := r.PathValue("file_id")

	art, err := s.orch.ResolveArtifact(fileID)
	if err != nil {
		s.jobErrorResponse(w, err)
		return
	}

	filename := fmt.Sprintf("attendance_report_%s.xlsx", art.LogicalDate)
	s.serveArtifact(w, r, art.Path, filename)
}

// serveArtifact streams an artifact's backing file as an attachment. The
// scheduled eviction can delete the file between the registry lookup and
// serving; that window gets the same JSON 410 a lazy expiry produces, not
// ServeFile's plain-text 404.
func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request, path, filename string) {
	if _, err := os.Stat(path); err != nil {
		s.errorResponse(w, http.StatusGone, "Artifact has expired")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	http.ServeFile(w, r, path)
}

// handlePDFToPNG converts a remote PDF into page images.
func (s *Server) handlePDFToPNG(w http.ResponseWriter, r *http.Request) {
	var req ConvertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	result, err := s.orch.ConvertPDF(r.Context(), req.PDFURL)
	if err != nil {
		s.jobErrorResponse(w, err)
		return
	}

	images := make([]map[string]any, 0, len(result.Pages))
	for _, page := range result.Pages {
		images = append(images, map[string]any{
			"page":     page.Page,
			"filename": page.Filename,
			"url":      fmt.Sprintf("/files/conv_%s/%s", result.ConversionID, page.Filename),
		})
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"images":        images,
		"total_pages":   result.TotalPages,
		"conversion_id": result.ConversionID,
		"generated_at":  result.GeneratedAt.UTC().Format(time.RFC3339),
		"expires_in":    result.ExpiresIn,
	})
}

// handleExtractText OCRs a remote image or PDF and returns the text inline.
func (s *Server) handleExtractText(w http.ResponseWriter, r *http.Request) {
	if !s.ocrEnabled {
		s.errorResponse(w, http.StatusServiceUnavailable, "Text extraction is not configured (missing API key)")
		return
	}

	var req ExtractTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	result, err := s.orch.ExtractText(r.Context(), req.URL)
	if err != nil {
		s.jobErrorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"text":              result.Text,
		"language":          result.Language,
		"extraction_method": result.ExtractionMethod,
		"source_type":       result.SourceType,
		"total_pages":       result.TotalPages,
		"extracted_at":      result.ExtractedAt.UTC().Format(time.RFC3339),
		"request_id":        result.RequestID,
	})
}

// handleVollnaCookies logs into vollna and returns its session cookies.
func (s *Server) handleVollnaCookies(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	req := jobs.CookieRequest{
		Email:    query.Get("email"),
		Password: query.Get("password"),
		FinalURL: query.Get("final_url"),
	}
	if req.Email == "" || req.Password == "" || req.FinalURL == "" {
		s.errorResponse(w, http.StatusBadRequest, "email, password and final_url are required")
		return
	}

	result, err := s.orch.ExtractCookies(r.Context(), req)
	if err != nil {
		s.jobErrorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"cookies":      result.Cookies,
		"cookie_count": result.CookieCount,
		"extracted_at": result.ExtractedAt.UTC().Format(time.RFC3339),
	})
}

// handleListDebug lists failure-diagnostic sessions, newest first.
func (s *Server) handleListDebug(w http.ResponseWriter, _ *http.Request) {
	sessions, err := s.debug.List()
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to list debug sessions: "+err.Error())
		return
	}

	out := make([]map[string]any, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, map[string]any{
			"debug_id":   session.DebugID,
			"created_at": session.CreatedAt.UTC().Format(time.RFC3339),
			"file_count": session.FileCount,
		})
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"sessions": out,
		"total":    len(out),
	})
}

// handleGetDebug lists the files of one debug session.
func (s *Server) handleGetDebug(w http.ResponseWriter, r *http.Request) {
	debugID := r.PathValue("debug_id")

	files, err := s.debug.Get(debugID)
	if err != nil {
		s.errorResponse(w, jobs.HTTPStatus(err), "Debug session not found: "+debugID)
		return
	}

	out := make([]map[string]any, 0, len(files))
	for _, f := range files {
		entry := map[string]any{
			"name": f.Name,
			"url":  fmt.Sprintf("/debug-files/%s/%s", debugID, f.Name),
			"type": f.Type,
			"size": f.Size,
		}
		if f.Title != "" {
			entry["title"] = f.Title
		}
		out = append(out, entry)
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"debug_id": debugID,
		"files":    out,
	})
}

// handleHealth returns server liveness.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleRoot describes the service.
func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"service": "portal-agent",
		"endpoints": map[string]string{
			"generate_report":        "POST /generate-report",
			"generate_report_direct": "POST /generate-report-direct",
			"report_default":         "GET /get-report-default",
			"report_default_direct":  "GET /get-report-default-direct",
			"download":               "GET /download/{file_id}",
			"pdf_to_png":             "POST /pdf-to-png",
			"extract_text":           "POST /extract-text",
			"vollna_cookies":         "GET /get-vollna-cookies",
			"debug_sessions":         "GET /debug",
			"health":                 "GET /health",
		},
	})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// jobErrorResponse maps a job error to its HTTP status. Automation
// failures that captured diagnostics get the debug session id and
// per-file URLs attached.
func (s *Server) jobErrorResponse(w http.ResponseWriter, err error) {
	status := jobs.HTTPStatus(err)
	body := map[string]any{"error": err.Error()}

	var autoErr *jobs.AutomationError
	if errors.As(err, &autoErr) && autoErr.Debug != nil {
		urls := make([]string, 0, len(autoErr.Debug.Files))
		for _, name := range autoErr.Debug.Files {
			urls = append(urls, fmt.Sprintf("/debug-files/%s/%s", autoErr.Debug.DebugID, name))
		}
		body["debug_id"] = autoErr.Debug.DebugID
		body["debug_files"] = urls
	}

	s.jsonResponse(w, status, body)
}
