package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownload_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("%PDF-1.4 content"))
	}))
	defer server.Close()

	body, contentType, err := Download(context.Background(), server.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 content", string(body))
	assert.Equal(t, "application/pdf", contentType)
}

func TestDownload_InvalidURL(t *testing.T) {
	_, _, err := Download(context.Background(), "not-a-valid-url", nil)
	require.Error(t, err)

	var dlErr *Error
	assert.ErrorAs(t, err, &dlErr)
	assert.Contains(t, err.Error(), "invalid URL")
}

func TestDownload_UnsupportedScheme(t *testing.T) {
	_, _, err := Download(context.Background(), "ftp://example.com/file.pdf", nil)
	require.Error(t, err)

	var dlErr *Error
	assert.ErrorAs(t, err, &dlErr)
}

func TestDownload_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, _, err := Download(context.Background(), server.URL, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestDownload_BodyTooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(make([]byte, 2048))
	}))
	defer server.Close()

	opts := DefaultOptions()
	opts.MaxBytes = 1024
	_, _, err := Download(context.Background(), server.URL, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestValidateURL(t *testing.T) {
	assert.NoError(t, ValidateURL("https://example.com/doc.pdf"))
	assert.NoError(t, ValidateURL("http://localhost:8080/x"))
	assert.Error(t, ValidateURL(""))
	assert.Error(t, ValidateURL("example.com/doc.pdf"))
	assert.Error(t, ValidateURL("file:///etc/passwd"))
}
