package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EngineWorker = "worker"
	EngineHTTP   = "http"
)

// Config is read from ATTENDO_* environment variables; command-line flags override it.
type Config struct {
	Environment string `envconfig:"ENV" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Storage
	DataDir     string `envconfig:"DATA_DIR" default:"./data"`
	GallerySeed string `envconfig:"GALLERY_SEED"`
	DatabaseURL string `envconfig:"DATABASE_URL"`

	// Normalization
	MaxEdge     int `envconfig:"MAX_EDGE" default:"1024"`
	JPEGQuality int `envconfig:"JPEG_QUALITY" default:"85"`

	// Engine
	Engine            string        `envconfig:"ENGINE" default:"worker"`
	EnginePython      string        `envconfig:"ENGINE_PYTHON" default:"python3"`
	EngineScript      string        `envconfig:"ENGINE_SCRIPT" default:"python/engine_worker.py"`
	EngineURL         string        `envconfig:"ENGINE_URL" default:"http://localhost:5005"`
	EngineTimeout     time.Duration `envconfig:"ENGINE_TIMEOUT" default:"60s"`
	LivenessThreshold *float64      `envconfig:"LIVENESS_THRESHOLD"`

	// HTTP surface
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8080"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("attendo", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Engine {
	case EngineWorker, EngineHTTP:
	default:
		return fmt.Errorf("unknown engine %q (supported: %s, %s)", c.Engine, EngineWorker, EngineHTTP)
	}
	if c.MaxEdge < 1 {
		return fmt.Errorf("max edge must be >= 1, got %d", c.MaxEdge)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("jpeg quality must be between 1 and 100, got %d", c.JPEGQuality)
	}
	if c.EngineTimeout <= 0 {
		return fmt.Errorf("engine timeout must be positive, got %s", c.EngineTimeout)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data dir must not be empty")
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// GalleryPath is the location of the persisted encoding gallery.
func (c *Config) GalleryPath() string {
	return filepath.Join(c.DataDir, "encodings.pkl")
}

// ProfilesDir holds one <name>.jpg per registered user.
func (c *Config) ProfilesDir() string {
	return filepath.Join(c.DataDir, "profiles")
}

// TempDir holds per-run normalized images.
func (c *Config) TempDir() string {
	return filepath.Join(c.DataDir, "tmp")
}
