package convert

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// maxExtLen caps filename extension hints taken from untrusted input.
const maxExtLen = 16

var nonWord = regexp.MustCompile(`[^0-9A-Za-z]+`)

// Magick converts images by shelling out to ImageMagick.
//
// Inputs that are already AVIF are passed through unmodified. Everything
// else goes through `convert <in>[0] avif:<out>`; the [0] frame selector
// keeps multi-page inputs (PDF, GIF) to a single output image.
type Magick struct {
	identifyBin string
	convertBin  string
	logger      *slog.Logger
}

// MagickOption configures a Magick converter.
type MagickOption func(*Magick)

// WithIdentifyBin overrides the `identify` binary path.
func WithIdentifyBin(path string) MagickOption {
	return func(m *Magick) {
		m.identifyBin = path
	}
}

// WithConvertBin overrides the `convert` binary path.
func WithConvertBin(path string) MagickOption {
	return func(m *Magick) {
		m.convertBin = path
	}
}

// WithLogger sets the logger used for conversion timing and sizes.
func WithLogger(logger *slog.Logger) MagickOption {
	return func(m *Magick) {
		m.logger = logger
	}
}

// NewMagick creates an ImageMagick-backed converter.
func NewMagick(opts ...MagickOption) *Magick {
	m := &Magick{
		identifyBin: "identify",
		convertBin:  "convert",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Magick) log() *slog.Logger {
	if m.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return m.logger
}

// Convert implements Converter.
func (m *Magick) Convert(ctx context.Context, input []byte, hint string, opts Options) ([]byte, error) {
	opts = opts.Normalize()

	dir, err := os.MkdirTemp("", "avifconv")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in"+SanitizeExt(hint))
	if err := os.WriteFile(in, input, 0o600); err != nil {
		return nil, fmt.Errorf("write input: %w", err)
	}

	format := m.identify(ctx, in)
	if format == "AVIF" {
		m.log().Debug("input already AVIF, passing through", "size", len(input))
		return input, nil
	}

	out := filepath.Join(dir, "out.avif")
	start := time.Now()
	cmd := exec.CommandContext(ctx, m.convertBin,
		in+"[0]", "-quality", strconv.Itoa(opts.Quality), "avif:"+out)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("convert %q: %w: %s", format, err, strings.TrimSpace(stderr.String()))
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	m.log().Info("converted image",
		"format", format,
		"quality", opts.Quality,
		"input_size", len(input),
		"output_size", len(data),
		"elapsed", time.Since(start))
	return data, nil
}

// identify probes the input's magick format. An empty string means the
// probe failed; conversion is still attempted.
func (m *Magick) identify(ctx context.Context, path string) string {
	out, err := exec.CommandContext(ctx, m.identifyBin, "-format", "%[magick]", path).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// SanitizeExt extracts a filename extension safe to use in temp file names:
// non-alphanumeric characters are stripped and the result is length-capped.
// Returns "" when the path carries no usable extension.
func SanitizeExt(path string) string {
	ext := nonWord.ReplaceAllString(filepath.Ext(path), "")
	if ext == "" {
		return ""
	}
	if len(ext) > maxExtLen {
		ext = ext[:maxExtLen]
	}
	return "." + ext
}
