package convert

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// RasterizeTimeout bounds a single pdftoppm invocation.
	RasterizeTimeout = 120 * time.Second
	// rasterDPI keeps page images readable without producing huge files.
	rasterDPI = "150"
)

// ConversionError indicates the conversion engine itself failed, as opposed
// to a bad caller input.
type ConversionError struct {
	Message string
	Cause   error
}

func (e *ConversionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("conversion failed: %s: %v", e.Message, e.Cause)
	}
	return "conversion failed: " + e.Message
}

func (e *ConversionError) Unwrap() error {
	return e.Cause
}

// PopplerRasterizer renders PDF pages to PNG files with pdftoppm, the same
// poppler tool the hosted deployment ships in its container image.
type PopplerRasterizer struct{}

// PDFToImages renders every page of pdfPath into outDir and returns the
// resulting PNG paths in page order.
func (PopplerRasterizer) PDFToImages(ctx context.Context, pdfPath, outDir string) ([]string, error) {
	if _, err := exec.LookPath("pdftoppm"); err != nil {
		return nil, &ConversionError{
			Message: "pdftoppm not found in PATH, install poppler-utils",
			Cause:   err,
		}
	}

	ctx, cancel := context.WithTimeout(ctx, RasterizeTimeout)
	defer cancel()

	prefix := filepath.Join(outDir, "page")
	cmd := exec.CommandContext(ctx, "pdftoppm", "-png", "-r", rasterDPI, pdfPath, prefix)
	if out, err := cmd.CombinedOutput(); err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = "pdftoppm failed"
		}
		return nil, &ConversionError{Message: msg, Cause: err}
	}

	pages, err := collectPages(outDir)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, &ConversionError{Message: "pdftoppm produced no pages"}
	}
	return pages, nil
}

// collectPages lists the page-*.png files pdftoppm wrote, in page order.
// pdftoppm zero-pads page numbers, so a lexicographic sort is page order.
func collectPages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &ConversionError{Message: "cannot read output dir", Cause: err}
	}

	var pages []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, "page") && strings.HasSuffix(name, ".png") {
			pages = append(pages, filepath.Join(dir, name))
		}
	}
	sort.Strings(pages)
	return pages, nil
}
