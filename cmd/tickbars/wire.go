//go:build wireinject
// +build wireinject

package main

import (
	"log/slog"

	"tickbars/internal/app"
	"tickbars/internal/ingest"
	"tickbars/internal/metrics"
	"tickbars/internal/provider/csvfile"

	"github.com/google/wire"
)

// App holds application dependencies built by Wire.
type App struct {
	Config    *app.Config
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
	Runner    *ingest.Runner
	Converter *csvfile.Converter
}

// InitializeApp builds App from the config file at path (may be empty).
func InitializeApp(path app.ConfigPath) (*App, error) {
	wire.Build(
		app.ProvideConfig,
		app.ProvideLogger,
		app.ProvideMetrics,
		app.ProvideCodec,
		app.ProvideMirror,
		app.ProvideCoinAPIClient,
		app.ProvideBackend,
		app.ProvideRunner,
		app.ProvideConverter,
		wire.Struct(new(App), "*"),
	)
	return nil, nil
}
