// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the service configuration. All values come from the
// environment; zero values select the documented defaults.
type Config struct {
	// Port is the HTTP listen port.
	Port int `env:"PORT" envDefault:"8080"`

	// Bucket names the GCS bucket used as the remote blob store. When
	// empty and CacheDir is also empty, the service runs without a
	// cache and converts every request fresh.
	Bucket string `env:"GCP_BUCKET"`

	// CacheDir selects an embedded Badger store instead of GCS.
	CacheDir string `env:"CACHE_DIR"`

	// CacheTimeout is the record expiry in seconds. Zero means records
	// never expire.
	CacheTimeout int `env:"CACHE_TIMEOUT" envDefault:"43200"`

	// FetchMaxSize caps fetched and uploaded content in bytes.
	FetchMaxSize int64 `env:"GET_MAX_SIZE" envDefault:"20971520"`

	// FetchTimeout bounds each remote fetch request.
	FetchTimeout time.Duration `env:"REMOTE_REQUEST_TIMEOUT" envDefault:"10s"`

	// Title is the index page title.
	Title string `env:"TITLE" envDefault:"AVIF Converter"`

	// BaseURL is the service's external base URL, used to reject
	// recursive conversion requests.
	BaseURL string `env:"URL"`

	// AcceleratorSize bounds the in-process cache entry count.
	AcceleratorSize int `env:"LOCAL_CACHE_SIZE" envDefault:"300"`
}

// Load parses the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// TTL returns the record expiry as a duration.
func (c Config) TTL() time.Duration {
	return time.Duration(c.CacheTimeout) * time.Second
}
