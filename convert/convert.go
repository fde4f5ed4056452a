// Package convert defines the image conversion contract and its
// ImageMagick-backed implementation.
//
// Conversion options participate in cache key derivation: Options.Canonical
// is the single encoding used for both request and content fingerprints, so
// requests that are equivalent under the defaulting rules always collide to
// the same fingerprint.
package convert

import (
	"context"
	"errors"
	"fmt"
)

// DefaultQuality is the encoder quality used when none is requested.
const DefaultQuality = 50

// ErrInvalidQuality is returned for quality values outside 1..100.
var ErrInvalidQuality = errors.New("convert: quality out of range")

// Options control the conversion. The zero value requests defaults.
type Options struct {
	// Quality is the encoder quality, 1..100. Zero means DefaultQuality.
	Quality int
}

// Validate checks option values before any cache or store interaction.
func (o Options) Validate() error {
	if o.Quality != 0 && (o.Quality < 1 || o.Quality > 100) {
		return fmt.Errorf("%w: %d", ErrInvalidQuality, o.Quality)
	}
	return nil
}

// Normalize substitutes defaults for unset options.
func (o Options) Normalize() Options {
	if o.Quality == 0 {
		o.Quality = DefaultQuality
	}
	return o
}

// Canonical returns the canonical encoding mixed into fingerprints.
//
// The encoding is always emitted in normalized form: an absent option and an
// explicitly supplied default hash identically.
func (o Options) Canonical() []byte {
	o = o.Normalize()
	return fmt.Appendf(nil, "q=%d", o.Quality)
}

// Converter transforms source image bytes into AVIF bytes.
//
// hint is an optional filename extension for the input (".png"); it may be
// empty. Implementations report both deterministic failures (unsupported
// format) and transient ones (encoder crash) as errors; callers do not
// retry.
type Converter interface {
	Convert(ctx context.Context, input []byte, hint string, opts Options) ([]byte, error)
}
