// Package convert provides the document conversion capabilities: PDF
// rasterization to page images and image-to-text extraction.
package convert

import (
	"net/http"
	"strings"
)

// Kind is the detected file kind of an input payload.
type Kind string

const (
	KindPDF     Kind = "pdf"
	KindPNG     Kind = "png"
	KindJPEG    Kind = "jpeg"
	KindGIF     Kind = "gif"
	KindWebP    Kind = "webp"
	KindUnknown Kind = "unknown"
)

// Sniff detects the kind of data by inspecting its leading bytes. Inputs
// arrive from arbitrary external URLs, so filename extensions and declared
// content types are never trusted.
func Sniff(data []byte) Kind {
	if len(data) >= 5 && string(data[:5]) == "%PDF-" {
		return KindPDF
	}

	switch http.DetectContentType(data) {
	case "image/png":
		return KindPNG
	case "image/jpeg":
		return KindJPEG
	case "image/gif":
		return KindGIF
	case "image/webp":
		return KindWebP
	}
	return KindUnknown
}

// IsImage reports whether k is a supported raster image kind.
func (k Kind) IsImage() bool {
	switch k {
	case KindPNG, KindJPEG, KindGIF, KindWebP:
		return true
	}
	return false
}

// MIMEType returns the MIME type for k, or empty if unknown.
func (k Kind) MIMEType() string {
	switch k {
	case KindPDF:
		return "application/pdf"
	case KindUnknown:
		return ""
	}
	return "image/" + string(k)
}

// ImageFormat returns the short format name the OCR engine expects for an
// image kind ("png", "jpeg", ...).
func (k Kind) ImageFormat() string {
	if !k.IsImage() {
		return ""
	}
	return strings.TrimPrefix(k.MIMEType(), "image/")
}
