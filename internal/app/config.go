package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tickbars/internal/consolidate"
	"tickbars/internal/ingest"
	"tickbars/internal/model"
)

// S3Config holds the optional bucket mirroring DataDir.
type S3Config struct {
	Bucket          string `yaml:"bucket" env:"BUCKET"`
	Region          string `yaml:"region" env:"REGION"`
	Endpoint        string `yaml:"endpoint" env:"ENDPOINT"`
	Prefix          string `yaml:"prefix" env:"PREFIX"`
	AccessKeyID     string `yaml:"access_key_id" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"SECRET_ACCESS_KEY"`
	PathStyle       bool   `yaml:"path_style" env:"PATH_STYLE"`
}

// Config holds application configuration. Values come from defaults, then
// the YAML file, then the environment.
type Config struct {
	Mode       string `yaml:"mode" env:"MODE" validate:"oneof=api file"`
	APIKey     string `yaml:"coinapi_api_key" env:"COINAPI_API_KEY" validate:"required_if=Mode api"`
	APIBaseURL string `yaml:"coinapi_base_url" env:"COINAPI_BASE_URL"`
	SourceFile string `yaml:"source_file" env:"SOURCE_FILE" validate:"required_if=Mode file"`

	DataDir     string   `yaml:"data_dir" env:"DATA_DIR" validate:"required"`
	Exchange    string   `yaml:"exchange" env:"EXCHANGE" validate:"required"`
	Tickers     []string `yaml:"tickers" env:"TICKERS" envSeparator:","`
	TickersFile string   `yaml:"tickers_file" env:"TICKERS_FILE"`
	FromDate    string   `yaml:"from_date" env:"FROM_DATE" validate:"required"`
	ToDate      string   `yaml:"to_date" env:"TO_DATE"`

	SaveFormat        string        `yaml:"save_format" env:"SAVE_FORMAT" validate:"omitempty,oneof=csv json parquet"`
	Resolutions       string        `yaml:"resolutions" env:"RESOLUTIONS"`
	DownloadBatchSize int           `yaml:"download_batch_size" env:"DOWNLOAD_BATCH_SIZE" validate:"gt=0"`
	PersistBatchSize  int           `yaml:"persist_batch_size" env:"PERSIST_BATCH_SIZE" validate:"gt=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND" validate:"gte=0"`
	Workers           int           `yaml:"workers" env:"WORKERS" validate:"gte=1"`
	UnitRetries       int           `yaml:"unit_retries" env:"UNIT_RETRIES" validate:"gte=0"`
	RetryDelay        time.Duration `yaml:"retry_delay" env:"RETRY_DELAY" validate:"gte=0"`

	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL"` // debug | info | warn | error
	LogFile     string `yaml:"log_file" env:"LOG_FILE"`
	LogMaxAge   int    `yaml:"log_max_age" env:"LOG_MAX_AGE" validate:"gte=0"`
	MetricsAddr string `yaml:"metrics_addr" env:"METRICS_ADDR"`

	S3 S3Config `yaml:"s3" envPrefix:"S3_"`

	Follow          bool `yaml:"follow" env:"FOLLOW"`
	FollowRunHour   int  `yaml:"follow_run_hour" env:"FOLLOW_RUN_HOUR" validate:"gte=0,lte=23"`
	FollowRunMinute int  `yaml:"follow_run_minute" env:"FOLLOW_RUN_MINUTE" validate:"gte=0,lte=59"`
}

var dateLayouts = []string{"2006-01-02", "20060102", "20060102-15:04:05"}

func defaultConfig() *Config {
	return &Config{
		Mode:              "api",
		DataDir:           "data",
		Resolutions:       "tick,second,minute,hour,daily",
		DownloadBatchSize: 1000,
		PersistBatchSize:  100000,
		RequestsPerSecond: 1,
		Workers:           2,
		UnitRetries:       2,
		RetryDelay:        30 * time.Second,
		LogLevel:          "info",
		LogMaxAge:         7,
		FollowRunHour:     0,
		FollowRunMinute:   30,
	}
}

// LoadConfig reads .env (if present), then the YAML file at path (if not
// empty), then the environment, and validates the result.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.SaveFormat == "" {
		cfg.SaveFormat = getSaveFormat()
	}
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every value needed before ingestion starts.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	var errs []error
	if len(c.Tickers) == 0 && c.TickersFile == "" {
		errs = append(errs, errors.New("TICKERS or TICKERS_FILE must be set"))
	}
	if _, _, err := c.DateRange(); err != nil {
		errs = append(errs, err)
	}
	if rs, err := c.ResolutionList(); err != nil {
		errs = append(errs, err)
	} else if _, err := consolidate.NewSet(model.TradeKind, rs); err != nil {
		errs = append(errs, fmt.Errorf("RESOLUTIONS: %w", err))
	}
	if err := c.IngestOptions().Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func getSaveFormat() string {
	switch os.Getenv("PROFILE") {
	case "dev", "development":
		return "csv"
	default:
		return "parquet"
	}
}

// ParseDate accepts 2006-01-02, 20060102 and 20060102-15:04:05 and returns
// the UTC day.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return model.Daily.BucketStart(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q (use YYYY-MM-DD)", s)
}

// DateRange returns the inclusive UTC day range. ToDate defaults to FromDate.
func (c *Config) DateRange() (time.Time, time.Time, error) {
	from, err := ParseDate(c.FromDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("FROM_DATE: %w", err)
	}
	if c.ToDate == "" {
		return from, from, nil
	}
	to, err := ParseDate(c.ToDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("TO_DATE: %w", err)
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("TO_DATE %s is before FROM_DATE %s", c.ToDate, c.FromDate)
	}
	return from, to, nil
}

// ResolutionList parses Resolutions.
func (c *Config) ResolutionList() ([]model.Resolution, error) {
	return model.ParseResolutions(c.Resolutions)
}

// IngestOptions returns the batch sizes of the ingest loop.
func (c *Config) IngestOptions() ingest.Options {
	return ingest.Options{DownloadBatchSize: c.DownloadBatchSize, PersistBatchSize: c.PersistBatchSize}
}

// SaveBaseDir returns the root of the bar files.
func (c *Config) SaveBaseDir() string {
	return c.DataDir
}

// ProgressPath returns path to .progress.json. It sits in the exchange
// directory of the bar files, so each exchange resumes on its own.
func (c *Config) ProgressPath() string {
	return filepath.Join(c.SaveBaseDir(), strings.ToLower(c.Exchange), ".progress.json")
}
