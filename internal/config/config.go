package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/dvloznov/paysync/internal/domain"
)

// Storage backends for the durable queue and session token.
const (
	StorageFile     = "file"
	StorageMemory   = "memory"
	StorageGCS      = "gcs"
	StoragePostgres = "postgres"
)

// Config is the process configuration for paysync binaries.
// Values come from PAYSYNC_* environment variables; cmd/ binaries overlay flags.
type Config struct {
	APIBaseURL string `env:"PAYSYNC_API_BASE_URL" envDefault:"http://localhost:8000/api"`
	AuthToken  string `env:"PAYSYNC_AUTH_TOKEN"`

	// ProbeURL defaults to the backend health endpoint under APIBaseURL.
	ProbeURL      string        `env:"PAYSYNC_PROBE_URL"`
	ProbeInterval time.Duration `env:"PAYSYNC_PROBE_INTERVAL" envDefault:"30s"`
	ProbeTimeout  time.Duration `env:"PAYSYNC_PROBE_TIMEOUT" envDefault:"5s"`
	Confirmations int           `env:"PAYSYNC_PROBE_CONFIRMATIONS" envDefault:"1"`

	CallTimeout       time.Duration `env:"PAYSYNC_CALL_TIMEOUT" envDefault:"10s"`
	MaxSubmitAttempts int           `env:"PAYSYNC_MAX_SUBMIT_ATTEMPTS" envDefault:"3"`
	RetryBaseDelay    time.Duration `env:"PAYSYNC_RETRY_BASE_DELAY" envDefault:"5s"`
	RetryMaxDelay     time.Duration `env:"PAYSYNC_RETRY_MAX_DELAY" envDefault:"2m"`

	PollInterval    time.Duration `env:"PAYSYNC_POLL_INTERVAL" envDefault:"5s"`
	PollMaxAttempts int           `env:"PAYSYNC_POLL_MAX_ATTEMPTS" envDefault:"24"`

	Storage     string `env:"PAYSYNC_STORAGE" envDefault:"file"`
	DataDir     string `env:"PAYSYNC_DATA_DIR"`
	GCSBucket   string `env:"PAYSYNC_GCS_BUCKET"`
	GCSPrefix   string `env:"PAYSYNC_GCS_PREFIX" envDefault:"paysync/"`
	PostgresDSN string `env:"PAYSYNC_POSTGRES_DSN"`

	EnableHistory  bool   `env:"PAYSYNC_ENABLE_HISTORY" envDefault:"false"`
	HistoryProject string `env:"PAYSYNC_HISTORY_PROJECT"`
	HistoryDataset string `env:"PAYSYNC_HISTORY_DATASET" envDefault:"paysync"`
	HistoryTable   string `env:"PAYSYNC_HISTORY_TABLE" envDefault:"submission_history"`

	HTTPAddr      string `env:"PAYSYNC_HTTP_ADDR" envDefault:"127.0.0.1:8787"`
	ControlKey    string `env:"PAYSYNC_CONTROL_KEY"`
	AllowedOrigin string `env:"PAYSYNC_ALLOWED_ORIGIN"`
	LogLevel      string `env:"PAYSYNC_LOG_LEVEL" envDefault:"info"`
	LogConsole    bool   `env:"PAYSYNC_LOG_CONSOLE" envDefault:"true"`
}

// Load reads configuration from the environment, applying defaults.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("Load: %w", err)
	}

	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	if cfg.ProbeURL == "" {
		cfg.ProbeURL = cfg.APIBaseURL + "/health/"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}
	cfg.Storage = strings.ToLower(strings.TrimSpace(cfg.Storage))
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	var errs []error

	if c.APIBaseURL == "" {
		errs = append(errs, errors.New("api base url is required"))
	}
	if c.ProbeURL == "" {
		errs = append(errs, errors.New("probe url is required"))
	}
	if c.ProbeTimeout <= 0 || c.ProbeTimeout > c.ProbeInterval {
		errs = append(errs, fmt.Errorf("probe timeout %s must be positive and not exceed the probe interval %s", c.ProbeTimeout, c.ProbeInterval))
	}
	if c.CallTimeout < 5*time.Second || c.CallTimeout > 10*time.Second {
		errs = append(errs, fmt.Errorf("call timeout %s must be between 5s and 10s", c.CallTimeout))
	}
	if c.MaxSubmitAttempts <= 0 || c.MaxSubmitAttempts > domain.DefaultMaxAttempts {
		errs = append(errs, fmt.Errorf("max submit attempts %d must be between 1 and %d", c.MaxSubmitAttempts, domain.DefaultMaxAttempts))
	}
	if c.PollInterval <= 0 || c.PollMaxAttempts <= 0 {
		errs = append(errs, errors.New("poll interval and max attempts must be positive"))
	}

	switch c.Storage {
	case StorageFile:
		if c.DataDir == "" {
			errs = append(errs, errors.New("data dir is required for file storage"))
		}
	case StorageGCS:
		if c.GCSBucket == "" {
			errs = append(errs, errors.New("gcs bucket is required for gcs storage"))
		}
	case StoragePostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres dsn is required for postgres storage"))
		}
	case StorageMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage))
	}

	if c.EnableHistory && c.HistoryProject == "" {
		errs = append(errs, errors.New("history project is required when history is enabled"))
	}

	return errors.Join(errs...)
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".paysync"
	}
	return dir + string(os.PathSeparator) + "paysync"
}
