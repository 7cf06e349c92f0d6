package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octacer/portal-agent/internal/artifacts"
	"github.com/octacer/portal-agent/internal/browser"
	"github.com/octacer/portal-agent/internal/config"
	"github.com/octacer/portal-agent/internal/debugstore"
	"github.com/octacer/portal-agent/internal/expiry"
	"github.com/octacer/portal-agent/internal/jobs"
	"github.com/octacer/portal-agent/internal/workspace"
)

type stubReporter struct {
	fail       bool
	writeDiags bool
}

func (f *stubReporter) GenerateReport(_ context.Context, scratchDir string, _ browser.Credentials, _ string) (string, error) {
	if f.fail {
		var diags []string
		if f.writeDiags {
			for _, name := range []string{browser.ScreenshotName, browser.PageDumpName} {
				path := filepath.Join(scratchDir, name)
				if err := os.WriteFile(path, []byte("diag"), 0o644); err == nil {
					diags = append(diags, path)
				}
			}
		}
		return "", &browser.Error{Stage: "login", Diagnostics: diags, Cause: errors.New("element not found")}
	}
	path := filepath.Join(scratchDir, "Daily Attendance.xlsx")
	if err := os.WriteFile(path, []byte("spreadsheet"), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

type stubCookies struct{}

func (stubCookies) ExtractCookies(_ context.Context, _, _, _, _ string) (string, int, error) {
	return "session=abc; csrf=xyz", 2, nil
}

type stubRasterizer struct{}

func (stubRasterizer) PDFToImages(_ context.Context, _, outDir string) ([]string, error) {
	var out []string
	for i := 1; i <= 2; i++ {
		path := filepath.Join(outDir, fmt.Sprintf("page-%02d.png", i))
		if err := os.WriteFile(path, []byte(fmt.Sprintf("png %d", i)), 0o644); err != nil {
			return nil, err
		}
		out = append(out, path)
	}
	return out, nil
}

type stubText struct{}

func (stubText) ExtractImageText(_ context.Context, _ []byte, _ string) (string, error) {
	return "extracted text", nil
}

type testServer struct {
	srv      *Server
	registry *artifacts.Registry
	ts       *httptest.Server
	scratch  string
}

func newTestServer(t *testing.T, reporter jobs.ReportGenerator) *testServer {
	t.Helper()
	t.Setenv("RATE_LIMIT_ENABLED", "false")

	scratch := filepath.Join(t.TempDir(), "scratch")
	workspaces, err := workspace.NewManager(scratch)
	require.NoError(t, err)
	store, err := artifacts.NewStore(filepath.Join(t.TempDir(), "store"))
	require.NoError(t, err)
	debug, err := debugstore.NewIndex(filepath.Join(t.TempDir(), "debug"), 0)
	require.NoError(t, err)

	registry := artifacts.NewRegistry()
	scheduler := expiry.New()
	t.Cleanup(scheduler.Stop)

	orch := jobs.New(jobs.Options{
		Workspaces: workspaces,
		Store:      store,
		Registry:   registry,
		Scheduler:  scheduler,
		Debug:      debug,
		Reports:    reporter,
		Cookies:    stubCookies{},
		Raster:     stubRasterizer{},
		Text:       stubText{},
	})

	cfg := config.Config{
		DefaultCompanyCode: "85",
		DefaultUsername:    "default.user",
		DefaultPassword:    "default-pass",
	}
	srv := newServer(cfg, orch, workspaces, store, debug, scheduler)
	srv.ocrEnabled = true

	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return &testServer{srv: srv, registry: registry, ts: ts, scratch: scratch}
}

func (e *testServer) postJSON(t *testing.T, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(e.ts.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func (e *testServer) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(e.ts.URL + path)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealth(t *testing.T) {
	env := newTestServer(t, &stubReporter{})

	resp, body := env.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestRoot(t *testing.T) {
	env := newTestServer(t, &stubReporter{})

	resp, body := env.get(t, "/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "portal-agent", body["service"])
}

func TestGenerateReport(t *testing.T) {
	env := newTestServer(t, &stubReporter{})

	resp, body := env.postJSON(t, "/generate-report", `{
		"company_code": "85",
		"username": "user",
		"password": "pass",
		"report_date": "2024-03-15"
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	fileID, _ := body["file_id"].(string)
	require.NotEmpty(t, fileID)
	assert.Equal(t, "/download/"+fileID, body["report_url"])
	assert.Equal(t, "2024-03-15", body["report_date"])
	assert.Equal(t, float64(3600), body["expires_in"])

	// The link works and serves an attachment.
	dlResp, err := http.Get(env.ts.URL + "/download/" + fileID)
	require.NoError(t, err)
	defer dlResp.Body.Close()
	assert.Equal(t, http.StatusOK, dlResp.StatusCode)
	assert.Contains(t, dlResp.Header.Get("Content-Disposition"), "attendance_report_2024-03-15.xlsx")
}

func TestGenerateReport_BadRequests(t *testing.T) {
	env := newTestServer(t, &stubReporter{})

	t.Run("malformed body", func(t *testing.T) {
		resp, _ := env.postJSON(t, "/generate-report", `{not json`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("missing credentials", func(t *testing.T) {
		resp, _ := env.postJSON(t, "/generate-report", `{"company_code": "85"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("bad date", func(t *testing.T) {
		resp, body := env.postJSON(t, "/generate-report", `{
			"company_code": "85", "username": "u", "password": "p",
			"report_date": "15-03-2024"
		}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, body["error"], "report_date")
	})
}

func TestGenerateReport_FailureCarriesDebugInfo(t *testing.T) {
	env := newTestServer(t, &stubReporter{fail: true, writeDiags: true})

	resp, body := env.postJSON(t, "/generate-report", `{
		"company_code": "85", "username": "u", "password": "p"
	}`)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	debugID, _ := body["debug_id"].(string)
	require.NotEmpty(t, debugID)
	files, _ := body["debug_files"].([]any)
	require.Len(t, files, 2)
	assert.Contains(t, files[0], "/debug-files/"+debugID+"/")

	// The session is listable and its files fetchable.
	listResp, listBody := env.get(t, "/debug")
	assert.Equal(t, http.StatusOK, listResp.StatusCode)
	assert.Equal(t, float64(1), listBody["total"])

	getResp, getBody := env.get(t, "/debug/"+debugID)
	assert.Equal(t, http.StatusOK, getResp.StatusCode)
	gotFiles, _ := getBody["files"].([]any)
	assert.Len(t, gotFiles, 2)

	fileResp, err := http.Get(env.ts.URL + files[0].(string))
	require.NoError(t, err)
	defer fileResp.Body.Close()
	assert.Equal(t, http.StatusOK, fileResp.StatusCode)
}

func TestDebug_UnknownSession(t *testing.T) {
	env := newTestServer(t, &stubReporter{})

	resp, _ := env.get(t, "/debug/no-such-session")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDownload_UnknownAndExpired(t *testing.T) {
	env := newTestServer(t, &stubReporter{})

	resp, _ := env.get(t, "/download/never-registered")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// A registered artifact whose backing file vanished reads as expired.
	path := filepath.Join(t.TempDir(), "report.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.NoError(t, env.registry.Register("gone-file", path, "2024-03-15", time.Hour))
	require.NoError(t, os.Remove(path))

	resp, _ = env.get(t, "/download/gone-file")
	assert.Equal(t, http.StatusGone, resp.StatusCode)
}

func TestServeArtifact_FileVanishedAfterResolve(t *testing.T) {
	env := newTestServer(t, &stubReporter{})

	// Eviction deleting the file after the registry lookup succeeded must
	// still produce the JSON 410, not a plain-text 404 from ServeFile.
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/download/abc", nil)
	env.srv.serveArtifact(rr, req, filepath.Join(t.TempDir(), "vanished.xlsx"), "attendance_report_2024-03-15.xlsx")

	assert.Equal(t, http.StatusGone, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "expired")
}

func TestCleanup_SweepsScratchRoot(t *testing.T) {
	env := newTestServer(t, &stubReporter{})

	// Workspaces abandoned mid-job must not outlive the process.
	for i := 0; i < 2; i++ {
		_, err := env.srv.workspaces.Acquire()
		require.NoError(t, err)
	}
	entries, err := os.ReadDir(env.scratch)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	env.srv.cleanup()

	entries, err = os.ReadDir(env.scratch)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReportDefault(t *testing.T) {
	env := newTestServer(t, &stubReporter{})

	resp, body := env.get(t, "/get-report-default?report_date=2024-03-15")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2024-03-15", body["report_date"])
}

func TestReportDefault_NoPasswordConfigured(t *testing.T) {
	env := newTestServer(t, &stubReporter{})
	env.srv.cfg.DefaultPassword = ""

	resp, _ := env.get(t, "/get-report-default")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestGenerateReportDirect(t *testing.T) {
	env := newTestServer(t, &stubReporter{})

	resp, err := http.Post(env.ts.URL+"/generate-report-direct", "application/json", strings.NewReader(`{
		"company_code": "85", "username": "u", "password": "p",
		"report_date": "2024-03-15"
	}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attendance_report_2024-03-15.xlsx")

	// Workspace is released after the stream ends.
	entries, err := os.ReadDir(env.scratch)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPDFToPNG(t *testing.T) {
	env := newTestServer(t, &stubReporter{})
	pdf := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("%PDF-1.4\nbody"))
	}))
	defer pdf.Close()

	resp, body := env.postJSON(t, "/pdf-to-png", fmt.Sprintf(`{"pdf_url": %q}`, pdf.URL))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["total_pages"])

	images, _ := body["images"].([]any)
	require.Len(t, images, 2)
	first := images[0].(map[string]any)
	assert.Equal(t, "page_1.png", first["filename"])

	// Converted pages are served from the public files path.
	imgResp, err := http.Get(env.ts.URL + first["url"].(string))
	require.NoError(t, err)
	defer imgResp.Body.Close()
	assert.Equal(t, http.StatusOK, imgResp.StatusCode)
}

func TestPDFToPNG_BadInput(t *testing.T) {
	env := newTestServer(t, &stubReporter{})

	t.Run("missing url", func(t *testing.T) {
		resp, _ := env.postJSON(t, "/pdf-to-png", `{}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("not a pdf", func(t *testing.T) {
		notPDF := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("<html>nope</html>"))
		}))
		defer notPDF.Close()

		resp, _ := env.postJSON(t, "/pdf-to-png", fmt.Sprintf(`{"pdf_url": %q}`, notPDF.URL))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestExtractText(t *testing.T) {
	env := newTestServer(t, &stubReporter{})
	pdf := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("%PDF-1.4\nbody"))
	}))
	defer pdf.Close()

	resp, body := env.postJSON(t, "/extract-text", fmt.Sprintf(`{"url": %q}`, pdf.URL))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pdf", body["source_type"])
	assert.Equal(t, "gemini-vision", body["extraction_method"])
	assert.Equal(t, float64(2), body["total_pages"])
	assert.NotEmpty(t, body["request_id"])
}

func TestExtractText_NotConfigured(t *testing.T) {
	env := newTestServer(t, &stubReporter{})
	env.srv.ocrEnabled = false

	resp, _ := env.postJSON(t, "/extract-text", `{"url": "https://example.com/a.png"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestVollnaCookies(t *testing.T) {
	env := newTestServer(t, &stubReporter{})

	resp, body := env.get(t, "/get-vollna-cookies?email=a%40b.com&password=secret&final_url=https%3A%2F%2Fwww.vollna.com%2Fdashboard")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "session=abc; csrf=xyz", body["cookies"])
	assert.Equal(t, float64(2), body["cookie_count"])
}

func TestVollnaCookies_MissingParams(t *testing.T) {
	env := newTestServer(t, &stubReporter{})

	resp, _ := env.get(t, "/get-vollna-cookies?email=a%40b.com")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
