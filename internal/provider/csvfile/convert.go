package csvfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"tickbars/internal/consolidate"
	"tickbars/internal/ingest"
	"tickbars/internal/metrics"
	"tickbars/internal/model"
)

// Stats summarizes one conversion.
type Stats struct {
	Rows int
	Late int
	Bars map[model.Kind]map[model.Resolution]int
}

// Converter consolidates a minute-bar export into trade and quote bars at
// every configured resolution of at least one minute.
type Converter struct {
	Sink         ingest.Sink
	Resolutions  []model.Resolution
	PersistEvery int // rows between snapshots; 0 persists once at the end
	Logger       *slog.Logger
	Metrics      *metrics.Recorder
}

// usableResolutions keeps the members of rs a one-minute input can feed.
func usableResolutions(rs []model.Resolution) []model.Resolution {
	var out []model.Resolution
	for _, r := range rs {
		if r.Duration() >= time.Minute {
			out = append(out, r)
		}
	}
	return out
}

// Convert reads every row of r. A malformed row aborts the conversion; bars
// already snapshotted stay in the sink and are rewritten by a later run.
func (c *Converter) Convert(ctx context.Context, r io.Reader) (Stats, error) {
	log := c.Logger
	if log == nil {
		log = slog.Default()
	}
	rs := usableResolutions(c.Resolutions)
	if len(rs) == 0 {
		return Stats{}, fmt.Errorf("no resolution of a minute or coarser in %v", c.Resolutions)
	}
	trades, err := consolidate.NewSet(model.TradeKind, rs)
	if err != nil {
		return Stats{}, err
	}
	quotes, err := consolidate.NewSet(model.QuoteKind, rs)
	if err != nil {
		return Stats{}, err
	}
	rd, err := NewReader(r)
	if err != nil {
		return Stats{}, err
	}

	st := Stats{Bars: map[model.Kind]map[model.Resolution]int{
		model.TradeKind: {},
		model.QuoteKind: {},
	}}
	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		b, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return st, err
		}
		if err := trades.Consolidate(b); err != nil {
			return st, fmt.Errorf("%w %d: %v", ErrMalformedRow, rd.line, err)
		}
		if err := quotes.Consolidate(QuoteFromTrade(b)); err != nil {
			return st, fmt.Errorf("%w %d: %v", ErrMalformedRow, rd.line, err)
		}
		st.Rows++
		c.Metrics.Event(model.TradeKind)
		if c.PersistEvery > 0 && st.Rows%c.PersistEvery == 0 {
			if err := c.persist(ctx, trades.SnapshotAll(), model.TradeKind, &st); err != nil {
				return st, err
			}
			if err := c.persist(ctx, quotes.SnapshotAll(), model.QuoteKind, &st); err != nil {
				return st, err
			}
			log.Debug("convert checkpoint", "rows", st.Rows, "last", b.Start)
		}
	}

	if err := c.persist(ctx, trades.FlushAll(), model.TradeKind, &st); err != nil {
		return st, err
	}
	if err := c.persist(ctx, quotes.FlushAll(), model.QuoteKind, &st); err != nil {
		return st, err
	}
	for _, n := range trades.Late() {
		if n > st.Late {
			st.Late = n
		}
	}
	if st.Late > 0 {
		log.Warn("out-of-order rows folded into open buckets", "late", trades.Late())
	}
	log.Info("convert done", "rows", st.Rows, "trade_bars", st.Bars[model.TradeKind], "quote_bars", st.Bars[model.QuoteKind])
	return st, nil
}

func (c *Converter) persist(ctx context.Context, batches []consolidate.Batch, kind model.Kind, st *Stats) error {
	for _, b := range batches {
		if len(b.Bars) == 0 {
			continue
		}
		if err := c.Sink.Persist(ctx, b.Resolution, kind, b.Bars); err != nil {
			c.Metrics.PersistError(kind, b.Resolution)
			return fmt.Errorf("persist %s %s: %w", b.Resolution, kind, err)
		}
		st.Bars[kind][b.Resolution] += len(b.Bars)
		c.Metrics.BarsPersisted(kind, b.Resolution, len(b.Bars))
	}
	return nil
}
