package app

import (
	"context"
	"fmt"
	"log/slog"

	"tickbars/internal/ingest"
	"tickbars/internal/metrics"
	"tickbars/internal/provider/coinapi"
	"tickbars/internal/provider/csvfile"
	"tickbars/internal/saver"
	"tickbars/internal/slogx"
	"tickbars/internal/store"
)

// ConfigPath is the optional YAML config file (for Wire).
type ConfigPath string

// ProvideConfig loads and validates config (for Wire).
func ProvideConfig(path ConfigPath) (*Config, error) {
	return LoadConfig(string(path))
}

// ProvideLogger builds the logger from LOG_LEVEL and LOG_FILE and makes it the default.
func ProvideLogger(cfg *Config) (*slog.Logger, error) {
	l, err := slogx.New(cfg.LogLevel, cfg.LogFile, cfg.LogMaxAge)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(l)
	return l, nil
}

// ProvideMetrics creates the metrics recorder (for Wire).
func ProvideMetrics() *metrics.Recorder {
	return metrics.New("tickbars")
}

// ProvideCodec creates the bar codec from config (for Wire).
// Returns error if SaveFormat is not supported.
func ProvideCodec(cfg *Config) (saver.Codec, error) {
	c := saver.NewCodec(cfg.SaveFormat)
	if c == nil {
		return nil, fmt.Errorf("unsupported SAVE_FORMAT %q (use: csv, parquet, json)", cfg.SaveFormat)
	}
	return c, nil
}

// ProvideMirror creates the S3 mirror, or nil when S3_BUCKET is not set.
func ProvideMirror(cfg *Config) (store.Mirror, error) {
	if cfg.S3.Bucket == "" {
		return nil, nil
	}
	m, err := store.NewS3Mirror(context.Background(), store.S3Config{
		Bucket:          cfg.S3.Bucket,
		Region:          cfg.S3.Region,
		Endpoint:        cfg.S3.Endpoint,
		Prefix:          cfg.S3.Prefix,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		PathStyle:       cfg.S3.PathStyle,
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ProvideCoinAPIClient creates the REST client; nil in file mode.
func ProvideCoinAPIClient(cfg *Config, logger *slog.Logger) (*coinapi.Client, error) {
	if cfg.Mode != "api" {
		return nil, nil
	}
	return coinapi.NewClient(coinapi.Config{
		BaseURL:           cfg.APIBaseURL,
		APIKey:            cfg.APIKey,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Logger:            logger,
	})
}

// ProvideBackend wires sources and sinks per stream (for Wire).
func ProvideBackend(cfg *Config, client *coinapi.Client, codec saver.Codec, mirror store.Mirror, logger *slog.Logger) ingest.Backend {
	return NewBackend(cfg, client, codec, mirror, logger)
}

// ProvideRunner creates the ingest runner (for Wire).
func ProvideRunner(cfg *Config, backend ingest.Backend, logger *slog.Logger, rec *metrics.Recorder) (*ingest.Runner, error) {
	rs, err := cfg.ResolutionList()
	if err != nil {
		return nil, err
	}
	return &ingest.Runner{
		Backend:      backend,
		Resolutions:  rs,
		Options:      cfg.IngestOptions(),
		Workers:      cfg.Workers,
		Retries:      cfg.UnitRetries,
		RetryDelay:   cfg.RetryDelay,
		ProgressPath: cfg.ProgressPath(),
		ReportDir:    cfg.SaveBaseDir(),
		Logger:       logger,
		Metrics:      rec,
	}, nil
}

// ProvideConverter creates the file-mode converter for the first ticker; nil
// in API mode.
func ProvideConverter(cfg *Config, codec saver.Codec, mirror store.Mirror, logger *slog.Logger, rec *metrics.Recorder) (*csvfile.Converter, error) {
	if cfg.Mode != "file" {
		return nil, nil
	}
	rs, err := cfg.ResolutionList()
	if err != nil {
		return nil, err
	}
	tickers, err := LoadTickers(cfg)
	if err != nil {
		return nil, err
	}
	if len(tickers) == 0 {
		return nil, fmt.Errorf("no ticker for file conversion")
	}
	return &csvfile.Converter{
		Sink:         store.NewFileSink(cfg.SaveBaseDir(), cfg.Exchange, tickers[0], codec, mirror, logger.With("ticker", tickers[0])),
		Resolutions:  rs,
		PersistEvery: cfg.PersistBatchSize,
		Logger:       logger,
		Metrics:      rec,
	}, nil
}
