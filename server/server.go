// Package server exposes the converter over HTTP: an API endpoint for URL
// and upload conversions, and direct artifact serving by fingerprint.
//
// The server is a thin boundary over the resolver. Cache semantics live in
// the resolver and below; this layer only maps requests to sources,
// results to responses, and errors to status codes.
package server

import (
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	avif "github.com/oittaa/avif-converter"
	"github.com/oittaa/avif-converter/cache"
	"github.com/oittaa/avif-converter/convert"
	"github.com/oittaa/avif-converter/fetch"
)

//go:embed index.html
var indexHTML string

var indexTemplate = template.Must(template.New("index").Parse(indexHTML))

// DefaultMaxUploadSize caps multipart uploads at 20 MiB.
const DefaultMaxUploadSize int64 = 20 * 1024 * 1024

// Server handles the HTTP surface.
type Server struct {
	resolver  *avif.Resolver
	cache     *cache.ContentCache
	title     string
	apiURL    string
	maxAge    time.Duration
	maxUpload int64
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithTitle sets the index page title.
func WithTitle(title string) Option {
	return func(s *Server) {
		s.title = title
	}
}

// WithBaseURL sets the service's external base URL, used to reject
// recursive conversion requests that point back at this service.
func WithBaseURL(base string) Option {
	return func(s *Server) {
		if base != "" {
			s.apiURL = strings.TrimSuffix(base, "/") + "/api"
		}
	}
}

// WithCacheMaxAge sets the Cache-Control max-age on served artifacts.
func WithCacheMaxAge(d time.Duration) Option {
	return func(s *Server) {
		s.maxAge = d
	}
}

// WithMaxUploadSize caps the accepted upload size in bytes.
func WithMaxUploadSize(n int64) Option {
	return func(s *Server) {
		s.maxUpload = n
	}
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a server over the resolver and the cache it resolves
// against.
func New(resolver *avif.Resolver, cc *cache.ContentCache, opts ...Option) *Server {
	s := &Server{
		resolver:  resolver,
		cache:     cc,
		title:     "AVIF Converter",
		maxAge:    avif.DefaultTTL,
		maxUpload: DefaultMaxUploadSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api", s.handleAPIGet)
	mux.HandleFunc("POST /api", s.handleAPIPost)
	mux.HandleFunc("GET /{artifact}", s.handleArtifact)
	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if len(r.URL.Query()) > 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, struct{ Title string }{s.title}); err != nil {
		s.log().Error("render index", "error", err)
	}
}

func (s *Server) handleAPIGet(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	for param := range query {
		if param != "url" && param != "quality" {
			http.Error(w, "unknown parameter "+param, http.StatusBadRequest)
			return
		}
	}
	url := query.Get("url")
	if url == "" {
		http.Error(w, "missing url parameter", http.StatusBadRequest)
		return
	}
	if s.isRecursive(r, url) {
		http.Error(w, "recursive conversion request", http.StatusBadRequest)
		return
	}
	opts, err := parseOptions(query.Get("quality"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.resolver.Resolve(r.Context(), avif.Source{URL: url}, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeResult(w, r, result)
}

func (s *Server) handleAPIPost(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "read upload: "+err.Error(), http.StatusBadRequest)
		return
	}
	opts, err := parseOptions(r.FormValue("quality"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.resolver.Resolve(r.Context(), avif.Source{Data: data, Name: header.Filename}, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeResult(w, r, result)
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	if len(r.URL.Query()) > 0 {
		http.NotFound(w, r)
		return
	}
	key := r.PathValue("artifact")
	fp, ok := avif.ParseArtifactKey(key)
	if !ok {
		http.NotFound(w, r)
		return
	}
	value, ok := s.cache.Get(r.Context(), key)
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.serveArtifact(w, r, `"`+string(fp)+`"`, value)
}

// writeResult emits either a redirect to the stored artifact or the
// converted bytes inline.
func (s *Server) writeResult(w http.ResponseWriter, r *http.Request, result *avif.Result) {
	if result.Kind == avif.CacheReference {
		http.Redirect(w, r, result.Path(), http.StatusFound)
		return
	}
	s.serveArtifact(w, r, result.ETag(), result.Bytes)
}

func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request, etag string, value []byte) {
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(s.maxAge.Seconds())))
	if match := r.Header.Get("If-None-Match"); match != "" && strings.Contains(match, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "image/avif")
	w.Header().Set("Content-Length", strconv.Itoa(len(value)))
	if _, err := w.Write(value); err != nil {
		s.log().Debug("write response", "error", err)
	}
}

// isRecursive reports whether url points back at this service's own API
// endpoint.
func (s *Server) isRecursive(r *http.Request, url string) bool {
	if s.apiURL != "" && strings.HasPrefix(url, s.apiURL) {
		return true
	}
	if r.Host == "" {
		return false
	}
	return strings.HasPrefix(url, "https://"+r.Host+"/api") ||
		strings.HasPrefix(url, "http://"+r.Host+"/api")
}

func parseOptions(quality string) (convert.Options, error) {
	if quality == "" {
		return convert.Options{}, nil
	}
	q, err := strconv.Atoi(quality)
	if err != nil {
		return convert.Options{}, fmt.Errorf("invalid quality %q", quality)
	}
	return convert.Options{Quality: q}, nil
}

// writeError maps resolver errors to status codes. Store failures never
// reach this point: the resolver degrades them to inline responses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, fetch.ErrTooLarge) {
		status = http.StatusNotAcceptable
	}
	s.log().Warn("request failed", "path", r.URL.Path, "status", status, "error", err)
	http.Error(w, http.StatusText(status), status)
}
