package app

import (
	"path/filepath"
	"time"

	"github.com/raysh454/siteaudit/internal/alert"
	"github.com/raysh454/siteaudit/internal/analyzer"
	"github.com/raysh454/siteaudit/internal/metrics"
	"github.com/raysh454/siteaudit/internal/render"
	"github.com/raysh454/siteaudit/internal/scan"
	"github.com/raysh454/siteaudit/internal/store"
	"github.com/raysh454/siteaudit/internal/watchdog"
	"github.com/raysh454/siteaudit/internal/webclient"
)

// Config is the full runtime configuration. It is loaded by viper in the
// CLI; every nested struct keeps its package defaults for unset keys.
type Config struct {
	// DataDir holds the SQLite database and the screenshot blobs unless
	// Store.DSN or Blobs.Root point elsewhere.
	DataDir string `mapstructure:"data_dir"`

	Server    ServerConfig     `mapstructure:"server"`
	Log       LogConfig        `mapstructure:"log"`
	Store     store.Config     `mapstructure:"store"`
	Blobs     BlobConfig       `mapstructure:"blobs"`
	Client    webclient.Config `mapstructure:"http_client"`
	Render    render.Config    `mapstructure:"render"`
	Scan      scan.Config      `mapstructure:"scan"`
	Analyzers analyzer.Config  `mapstructure:"analyzers"`
	Watchdog  WatchdogConfig   `mapstructure:"watchdog"`
	Alert     AlertConfig      `mapstructure:"alert"`
	Metrics   metrics.Config   `mapstructure:"metrics"`
	Features  FeaturesConfig   `mapstructure:"features"`
	Jobs      JobsConfig       `mapstructure:"jobs"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	ListenAddr        string        `mapstructure:"listen_addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	// AllowedOrigins feeds the CORS header; "*" allows any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type BlobConfig struct {
	Root string `mapstructure:"root"`
}

// WatchdogConfig embeds the scheduler settings plus the switch that starts
// it with the server.
type WatchdogConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	watchdog.Config `mapstructure:",squash"`
}

// AlertConfig selects the delivery channels. The log channel is always on.
type AlertConfig struct {
	WebhookURL     string           `mapstructure:"webhook_url"`
	WebhookRetries int              `mapstructure:"webhook_retries"`
	WebhookBackoff time.Duration    `mapstructure:"webhook_backoff"`
	SMTP           alert.SMTPConfig `mapstructure:"smtp"`
}

type FeaturesConfig struct {
	// CatalogueFile is an optional YAML plan catalogue applied on top of
	// the built-in plans.
	CatalogueFile string `mapstructure:"catalogue_file"`
}

type JobsConfig struct {
	// Retention is how long finished jobs stay queryable in memory. The
	// persisted task row is kept regardless.
	Retention time.Duration `mapstructure:"retention"`
	Language  string        `mapstructure:"language"`
}

// DefaultConfig returns a Config populated with development defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "~/.config/siteaudit",
		Server: ServerConfig{
			ListenAddr:        ":8080",
			ReadHeaderTimeout: 15 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			AllowedOrigins:    []string{"*"},
		},
		Log:       LogConfig{Level: "info", Format: "json"},
		Store:     store.Config{Driver: store.DriverSQLite},
		Client:    webclient.DefaultConfig(),
		Render:    render.DefaultConfig(),
		Scan:      scan.DefaultConfig(),
		Analyzers: analyzer.DefaultConfig(),
		Watchdog:  WatchdogConfig{Enabled: true, Config: watchdog.DefaultConfig()},
		Alert:     AlertConfig{WebhookRetries: 3, WebhookBackoff: time.Second},
		Metrics:   metrics.DefaultConfig(),
		Jobs:      JobsConfig{Retention: 10 * time.Minute, Language: "en"},
	}
}

// resolvePaths fills the store DSN and blob root from DataDir.
func (c *Config) resolvePaths() error {
	dir, err := expandPath(c.DataDir)
	if err != nil {
		return err
	}
	c.DataDir = dir
	if c.Store.Driver == "" {
		c.Store.Driver = store.DriverSQLite
	}
	if c.Store.DSN == "" && c.Store.Driver == store.DriverSQLite {
		c.Store.DSN = filepath.Join(dir, "siteaudit.db")
	}
	if c.Blobs.Root == "" {
		c.Blobs.Root = filepath.Join(dir, "screenshots")
	}
	c.Blobs.Root, err = expandPath(c.Blobs.Root)
	return err
}
