// Package fetch retrieves remote source images over HTTP with size and
// content-type preflight.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

// DefaultMaxSize caps fetched content at 20 MiB.
const DefaultMaxSize int64 = 20 * 1024 * 1024

// Sentinel errors.
var (
	// ErrUnsupportedType is returned when the remote content type is not
	// convertible.
	ErrUnsupportedType = errors.New("fetch: unsupported content type")

	// ErrTooLarge is returned when the remote content exceeds the size
	// limit.
	ErrTooLarge = errors.New("fetch: content too large")

	// ErrStatus is returned for non-success HTTP responses.
	ErrStatus = errors.New("fetch: unexpected status")
)

// supportedTypes lists non-image content types accepted for conversion.
// Any image/* type is always accepted.
var supportedTypes = []string{
	"application/octet-stream",
	"application/pdf",
}

// Client fetches source images.
type Client struct {
	http    *http.Client
	maxSize int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for requests. Request timeouts
// belong to this client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Client) {
		f.http = c
	}
}

// WithMaxSize caps the fetched content size in bytes.
func WithMaxSize(n int64) Option {
	return func(f *Client) {
		f.maxSize = n
	}
}

// NewClient creates a fetcher.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:    http.DefaultClient,
		maxSize: DefaultMaxSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	if c.maxSize <= 0 {
		c.maxSize = DefaultMaxSize
	}
	return c
}

// Fetch performs a HEAD preflight then downloads the content. It returns
// the body and the declared content type.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	contentType, err := c.preflight(ctx, rawURL)
	if err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: %s", ErrStatus, resp.Status)
	}

	// Read one byte past the limit so an undeclared oversize body is
	// still caught.
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	if int64(len(body)) > c.maxSize {
		return nil, "", fmt.Errorf("%w: body exceeds %d bytes", ErrTooLarge, c.maxSize)
	}
	return body, contentType, nil
}

// preflight checks the declared content type and length with a HEAD
// request before committing to the download.
func (c *Client) preflight(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("preflight %s: %w", rawURL, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("preflight %s: %w", rawURL, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	contentType := resp.Header.Get("Content-Type")
	if !supported(contentType) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}
	if resp.ContentLength > c.maxSize {
		return "", fmt.Errorf("%w: declared %d bytes, limit %d", ErrTooLarge, resp.ContentLength, c.maxSize)
	}
	return contentType, nil
}

func supported(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	if strings.HasPrefix(mediaType, "image/") {
		return true
	}
	for _, t := range supportedTypes {
		if mediaType == t {
			return true
		}
	}
	return false
}
