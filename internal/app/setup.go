package app

import (
	"fmt"
	"log/slog"
	"strings"

	"tickbars/internal/ingest"
	"tickbars/internal/model"
	"tickbars/internal/provider"
	"tickbars/internal/provider/coinapi"
	"tickbars/internal/saver"
	"tickbars/internal/store"
)

// NewBackend opens, per (symbol, kind) stream, a CoinAPI source and a file
// sink under the exchange directory.
func NewBackend(cfg *Config, client *coinapi.Client, codec saver.Codec, mirror store.Mirror, logger *slog.Logger) ingest.Backend {
	exchange := strings.ToUpper(cfg.Exchange)
	return func(symbol string, kind model.Kind) (ingest.Source, ingest.Sink, error) {
		if client == nil {
			return nil, nil, fmt.Errorf("no API client (MODE=%s)", cfg.Mode)
		}
		src := coinapi.NewSource(client, coinapi.SymbolID(exchange, symbol))
		sink := store.NewFileSink(cfg.SaveBaseDir(), exchange, symbol, codec, mirror, logger.With("ticker", symbol))
		return src, sink, nil
	}
}

// LoadTickers returns TICKERS, or the tickers of TICKERS_FILE when TICKERS is empty.
func LoadTickers(cfg *Config) ([]string, error) {
	if len(cfg.Tickers) > 0 {
		return provider.NormalizeTickers(cfg.Tickers), nil
	}
	slog.Info("reading tickers from file", "path", cfg.TickersFile)
	return provider.LoadTickersFromFile(cfg.TickersFile)
}
