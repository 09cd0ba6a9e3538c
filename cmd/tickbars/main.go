package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"tickbars/internal/app"
	"tickbars/internal/slogx"
)

func init() {
	slog.SetDefault(slogx.NewDefault("info"))
}

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	a, err := InitializeApp(app.ConfigPath(*configPath))
	if err != nil {
		slog.Error("failed to initialize app", "error", err)
		os.Exit(1)
	}
	cfg := a.Config

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		slog.Error("failed to create data dir", "error", err)
		os.Exit(1)
	}
	slog.Info("save dir", "dir", cfg.SaveBaseDir(), "format", cfg.SaveFormat, "exchange", cfg.Exchange)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.MetricsAddr != "" {
		a.Metrics.Serve(ctx, cfg.MetricsAddr)
	}

	if cfg.Mode == "file" {
		if err := app.RunConvert(ctx, cfg, a.Converter); err != nil {
			slog.Error("conversion failed", "error", err)
			os.Exit(1)
		}
		return
	}

	tickers, err := app.LoadTickers(cfg)
	if err != nil {
		slog.Error("failed to get tickers", "error", err)
		os.Exit(1)
	}
	if len(tickers) == 0 {
		slog.Error("no tickers to ingest")
		os.Exit(1)
	}
	slog.Info("got tickers", "count", len(tickers))

	if err := app.RunFlow(ctx, cfg, a.Runner, tickers); err != nil {
		slog.Error("ingest finished with failures", "error", err)
		os.Exit(1)
	}
}
