package avif

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/oittaa/avif-converter/cache"
	"github.com/oittaa/avif-converter/convert"
	"github.com/oittaa/avif-converter/digest"
)

// Sentinel errors.
var (
	// ErrInvalidInput is returned for malformed source descriptors or
	// option values, before any cache or store interaction.
	ErrInvalidInput = errors.New("avif: invalid input")

	// ErrConversionFailed is returned when the converter rejects or
	// crashes on the input. Conversions are not retried: a deterministic
	// encoder failing once fails identically on retry.
	ErrConversionFailed = errors.New("avif: conversion failed")

	// ErrSourceRead is returned when the source bytes cannot be read.
	ErrSourceRead = errors.New("avif: source read failed")
)

// ErrStoreUnavailable is re-exported from cache for callers matching the
// full error taxonomy in one place.
var ErrStoreUnavailable = cache.ErrStoreUnavailable

// artifactExt is the fixed suffix on every artifact key. Indirection keys
// are bare fingerprints, so the two key families never overlap in the flat
// key namespace.
const artifactExt = ".avif"

// DefaultTTL is the default record expiry for stored artifacts.
const DefaultTTL = 43200 * time.Second

// ArtifactKey builds the storage key for the artifact identified by fp.
func ArtifactKey(fp digest.Fingerprint) string {
	return string(fp) + artifactExt
}

// ParseArtifactKey validates s as an artifact key and extracts its
// fingerprint.
func ParseArtifactKey(s string) (digest.Fingerprint, bool) {
	name, ok := strings.CutSuffix(s, artifactExt)
	if !ok {
		return "", false
	}
	return digest.Parse(name)
}

// Source describes what to convert: either a remote URL or inline bytes.
type Source struct {
	// URL is a remote http(s) source, fetched via the resolver's
	// fetcher.
	URL string

	// Data is an inline byte source, such as an upload.
	Data []byte

	// Name optionally carries the original filename of an inline
	// source; only its extension is used, as a format hint.
	Name string
}

// ResultKind discriminates how a resolution is fulfilled.
type ResultKind uint8

const (
	// CacheReference means the artifact is already stored; respond with
	// a reference to its key.
	CacheReference ResultKind = iota

	// InlineBytes means the converted bytes accompany the result
	// directly, because no store accepted them.
	InlineBytes
)

func (k ResultKind) String() string {
	switch k {
	case CacheReference:
		return "cache-reference"
	case InlineBytes:
		return "inline-bytes"
	default:
		return "unknown"
	}
}

// Result is the outcome of a resolution.
type Result struct {
	Kind ResultKind

	// Fingerprint is always the content fingerprint, whether or not the
	// bytes are inline. It is stable across processes and doubles as
	// the artifact's entity tag.
	Fingerprint digest.Fingerprint

	// Bytes holds the converted artifact for InlineBytes results.
	Bytes []byte
}

// Path returns the reference path for the artifact.
func (r *Result) Path() string {
	return "/" + ArtifactKey(r.Fingerprint)
}

// ETag returns the strong entity tag for conditional requests.
func (r *Result) ETag() string {
	return `"` + string(r.Fingerprint) + `"`
}

// Fetcher retrieves a remote source. Size and content-type preflight are
// the fetcher's responsibility.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (body []byte, contentType string, err error)
}

// Resolver executes the resolution protocol: request fingerprint →
// indirection record → artifact, converting and storing only on a miss.
//
// Resolutions for distinct requests run concurrently without cross-request
// locking; content addressing makes concurrent writers of the same
// artifact idempotent.
type Resolver struct {
	cache     *cache.ContentCache
	converter convert.Converter
	fetcher   Fetcher
	ttl       time.Duration
	logger    *slog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithFetcher sets the fetcher used for URL sources.
func WithFetcher(f Fetcher) ResolverOption {
	return func(r *Resolver) {
		r.fetcher = f
	}
}

// WithTTL sets the record expiry passed to the store. Zero means records
// never expire.
func WithTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.ttl = ttl
	}
}

// WithLogger sets the resolver's logger.
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates a resolver over the given cache and converter.
func NewResolver(cc *cache.ContentCache, converter convert.Converter, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		cache:     cc,
		converter: converter,
		ttl:       DefaultTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) log() *slog.Logger {
	if r.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.logger
}

// Resolve turns a source plus options into either a reference to an
// existing artifact or freshly converted bytes.
//
// A cache-write failure never fails the request: the bytes are returned
// inline instead. A stale indirection record falls through to a fresh
// conversion. Converter failure is terminal.
func (r *Resolver) Resolve(ctx context.Context, src Source, opts convert.Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	opts = opts.Normalize()

	var (
		requestKey string
		data       []byte
		hint       string
	)
	switch {
	case src.URL != "":
		if !strings.HasPrefix(src.URL, "https://") && !strings.HasPrefix(src.URL, "http://") {
			return nil, fmt.Errorf("%w: url scheme must be http or https", ErrInvalidInput)
		}
		requestKey = string(digest.SumBytes([]byte(src.URL), opts.Canonical()))

		if result, ok := r.checkIndirection(ctx, requestKey); ok {
			return result, nil
		}

		if r.fetcher == nil {
			return nil, fmt.Errorf("%w: no fetcher configured for url sources", ErrInvalidInput)
		}
		body, contentType, err := r.fetcher.Fetch(ctx, src.URL)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", src.URL, err)
		}
		r.log().Info("fetched source", "url", src.URL, "content_type", contentType, "size", len(body))
		data = body
		hint = extensionHint(contentType, src.URL)

	case src.Data != nil:
		data = src.Data
		hint = convert.SanitizeExt(src.Name)

	default:
		return nil, fmt.Errorf("%w: empty source", ErrInvalidInput)
	}

	fp, err := digest.Sum(bytes.NewReader(data), opts.Canonical())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceRead, err)
	}
	artifactKey := ArtifactKey(fp)

	// The artifact may already exist under a different locator; content
	// addressing finds it before paying for a conversion.
	if r.cache.Has(ctx, artifactKey) {
		r.log().Info("cache hit artifact", "key", artifactKey)
		r.storeIndirection(ctx, requestKey, artifactKey)
		return &Result{Kind: CacheReference, Fingerprint: fp}, nil
	}
	r.log().Info("cache miss artifact", "key", artifactKey)

	converted, err := r.converter.Convert(ctx, data, hint, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConversionFailed, err)
	}

	if err := r.cache.Set(ctx, artifactKey, converted, r.ttl); err != nil {
		// Serving inline keeps the request successful; only future
		// requests pay for the lost cache write.
		r.log().Warn("artifact write failed, serving inline", "key", artifactKey, "error", err)
		return &Result{Kind: InlineBytes, Fingerprint: fp, Bytes: converted}, nil
	}

	r.storeIndirection(ctx, requestKey, artifactKey)
	return &Result{Kind: CacheReference, Fingerprint: fp}, nil
}

// checkIndirection resolves the request fingerprint through its advisory
// indirection record. The record is only trusted after the referenced
// artifact is confirmed to exist; a stale pointer is treated exactly like a
// miss.
func (r *Resolver) checkIndirection(ctx context.Context, requestKey string) (*Result, bool) {
	value, ok := r.cache.Get(ctx, requestKey)
	if !ok {
		r.log().Info("cache miss request", "key", requestKey)
		return nil, false
	}

	artifactKey := string(value)
	fp, valid := ParseArtifactKey(artifactKey)
	if !valid {
		r.log().Warn("malformed indirection record", "key", requestKey)
		return nil, false
	}
	if !r.cache.Has(ctx, artifactKey) {
		r.log().Info("stale indirection record", "key", requestKey, "artifact", artifactKey)
		return nil, false
	}
	r.log().Info("cache hit request", "key", requestKey, "artifact", artifactKey)
	return &Result{Kind: CacheReference, Fingerprint: fp}, true
}

// extensionHint derives a converter format hint from the declared content
// type, falling back to the URL path's extension.
func extensionHint(contentType, rawURL string) string {
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return convert.SanitizeExt(exts[0])
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return convert.SanitizeExt(path.Base(u.Path))
}

// storeIndirection records requestKey → artifactKey, best effort. Failure
// only costs a future cache miss; the artifact is already durably keyed by
// its own fingerprint.
func (r *Resolver) storeIndirection(ctx context.Context, requestKey, artifactKey string) {
	if requestKey == "" {
		return
	}
	if err := r.cache.Set(ctx, requestKey, []byte(artifactKey), r.ttl); err != nil {
		r.log().Warn("indirection write failed", "key", requestKey, "error", err)
	}
}
