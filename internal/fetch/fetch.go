// Package fetch downloads caller-supplied URLs.
//
// Failures here are the caller's fault (bad URL, unreachable host, oversized
// body) and are reported as *Error so the HTTP layer can answer 400 instead
// of the 500 an automation failure would produce.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 30 * time.Second

// DefaultUserAgent is the user agent string for HTTP requests.
const DefaultUserAgent = "Mozilla/5.0 (compatible; PortalAgent/1.0)"

// MaxBodyBytes caps how much of a caller-supplied URL we are willing to
// read. Inputs arrive from arbitrary external URLs.
const MaxBodyBytes = 50 << 20

// Error represents a failure to download a caller-supplied URL.
type Error struct {
	URL     string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("download error for %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("download error for %s: %s", e.URL, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Options configures the download behavior.
type Options struct {
	Timeout   time.Duration
	UserAgent string
	MaxBytes  int64
}

// DefaultOptions returns sensible defaults for downloading.
func DefaultOptions() *Options {
	return &Options{
		Timeout:   DefaultTimeout,
		UserAgent: DefaultUserAgent,
		MaxBytes:  MaxBodyBytes,
	}
}

// ValidateURL checks that urlStr is an absolute http(s) URL.
func ValidateURL(urlStr string) error {
	parsed, err := url.Parse(urlStr)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return &Error{URL: urlStr, Message: "invalid URL", Cause: err}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return &Error{URL: urlStr, Message: fmt.Sprintf("unsupported scheme %q", parsed.Scheme)}
	}
	return nil
}

// Download retrieves the body of urlStr and returns it with the declared
// Content-Type. The declared type is informational only; callers must sniff
// actual byte content before trusting it.
func Download(ctx context.Context, urlStr string, opts *Options) ([]byte, string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	if err := ValidateURL(urlStr); err != nil {
		return nil, "", err
	}

	client := &http.Client{Timeout: opts.Timeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, "", &Error{URL: urlStr, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("User-Agent", opts.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", &Error{URL: urlStr, Message: "HTTP request failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, "", &Error{URL: urlStr, Message: fmt.Sprintf("HTTP status %d", resp.StatusCode)}
	}

	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = MaxBodyBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, "", &Error{URL: urlStr, Message: "failed to read response body", Cause: err}
	}
	if int64(len(body)) > maxBytes {
		return nil, "", &Error{URL: urlStr, Message: fmt.Sprintf("body exceeds %d bytes", maxBytes)}
	}

	return body, resp.Header.Get("Content-Type"), nil
}
