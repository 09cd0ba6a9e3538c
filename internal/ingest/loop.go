package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tickbars/internal/consolidate"
	"tickbars/internal/metrics"
	"tickbars/internal/model"
)

// Source yields events of one instrument in non-decreasing exchange time.
// Fetch must not return events before start and must not re-yield events it
// already returned at the start boundary. An empty result means exhaustion.
type Source interface {
	Fetch(ctx context.Context, kind model.Kind, start time.Time, max int) ([]model.Event, error)
}

// Resetter is implemented by sources that keep paging state between calls.
// Loop resets the source at the start of every unit, so a rerun of the same
// unit reads it again from the beginning.
type Resetter interface {
	Reset(kind model.Kind)
}

// Sink stores bars of one instrument. Persist must be idempotent by bar start
// (and Seq for native bars): a later write of the same bucket replaces it.
type Sink interface {
	Persist(ctx context.Context, res model.Resolution, kind model.Kind, bars []model.Bar) error
}

// Options sizes the fetch and checkpoint batches.
type Options struct {
	DownloadBatchSize int
	PersistBatchSize  int
}

// Validate requires PersistBatchSize to be a positive multiple of DownloadBatchSize.
func (o Options) Validate() error {
	if o.DownloadBatchSize <= 0 {
		return fmt.Errorf("download batch size must be positive, got %d", o.DownloadBatchSize)
	}
	if o.PersistBatchSize < o.DownloadBatchSize || o.PersistBatchSize%o.DownloadBatchSize != 0 {
		return fmt.Errorf("persist batch size %d must be a multiple of download batch size %d",
			o.PersistBatchSize, o.DownloadBatchSize)
	}
	return nil
}

// Unit is one (day, kind) slice of work for one instrument: events in [Start, End).
type Unit struct {
	Kind  model.Kind
	Start time.Time
	End   time.Time
}

// DayUnit returns the unit covering the UTC calendar day of day.
func DayUnit(kind model.Kind, day time.Time) Unit {
	start := model.Daily.BucketStart(day)
	return Unit{Kind: kind, Start: start, End: start.AddDate(0, 0, 1)}
}

func (u Unit) String() string {
	return fmt.Sprintf("%s %s", u.Kind, u.Start.Format("2006-01-02"))
}

// Result describes what one Run consumed and wrote.
type Result struct {
	Events      int
	Late        int
	Fetches     int
	Checkpoints int
	Bars        map[model.Resolution]int
	// Cursor is the exchange time of the last event covered by a successful
	// checkpoint. It never moves past data that failed to persist.
	Cursor time.Time
}

type state int

const (
	stateFetching state = iota
	stateDispatching
	statePersisting
	stateDone
)

// Loop runs units of work against one source and one sink.
type Loop struct {
	src         Source
	sink        Sink
	resolutions []model.Resolution
	opts        Options
	log         *slog.Logger
	metrics     *metrics.Recorder
}

// NewLoop validates opts and resolutions. rec may be nil.
func NewLoop(src Source, sink Sink, resolutions []model.Resolution, opts Options, logger *slog.Logger, rec *metrics.Recorder) (*Loop, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if _, err := consolidate.NewSet(model.TradeKind, resolutions); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{src: src, sink: sink, resolutions: resolutions, opts: opts, log: logger, metrics: rec}, nil
}

// Run drives one unit to completion. Fetch and persist errors are returned
// as-is (wrapped); the caller may rerun the unit, which rewrites the same
// buckets. Cancellation is honoured between batches.
func (l *Loop) Run(ctx context.Context, u Unit) (Result, error) {
	set, err := consolidate.NewSet(u.Kind, l.resolutions)
	if err != nil {
		return Result{}, err
	}
	log := l.log.With("kind", u.Kind.String(), "date", u.Start.Format("2006-01-02"))
	if r, ok := l.src.(Resetter); ok {
		r.Reset(u.Kind)
	}

	res := Result{Cursor: u.Start, Bars: make(map[model.Resolution]int)}
	cursor := u.Start
	var lastEventTime time.Time
	var batch []model.Event
	final, due := false, false

	for st := stateFetching; ; {
		switch st {
		case stateFetching:
			if err := ctx.Err(); err != nil {
				return res, err
			}
			batch, err = l.src.Fetch(ctx, u.Kind, cursor, l.opts.DownloadBatchSize)
			res.Fetches++
			if err != nil {
				l.metrics.FetchError(u.Kind)
				return res, fmt.Errorf("fetch %s from %s: %w", u.Kind, cursor.Format(time.RFC3339Nano), err)
			}
			if len(batch) == 0 {
				log.Debug("source exhausted", "cursor", cursor)
				final = true
				st = statePersisting
				continue
			}
			st = stateDispatching

		case stateDispatching:
			for _, ev := range batch {
				if !ev.ExchangeTime.Before(u.End) {
					cursor = u.End
					break
				}
				if ev.ExchangeTime.Before(u.Start) {
					return res, fmt.Errorf("source returned %s event at %s before unit start %s",
						ev.Kind, ev.ExchangeTime.Format(time.RFC3339Nano), u.Start.Format(time.RFC3339Nano))
				}
				if res.Events > 0 && ev.EventTime.Before(lastEventTime) {
					res.Late++
					l.metrics.LateEvent(u.Kind)
					log.Debug("late event", "event_time", ev.EventTime, "previous", lastEventTime)
				} else {
					lastEventTime = ev.EventTime
				}
				if err := set.Update(ev); err != nil {
					return res, fmt.Errorf("event at %s: %w", ev.ExchangeTime.Format(time.RFC3339Nano), err)
				}
				l.metrics.Event(u.Kind)
				// out-of-order events never move the cursor back
				if ev.ExchangeTime.After(cursor) {
					cursor = ev.ExchangeTime
				}
				res.Events++
				if res.Events%l.opts.PersistBatchSize == 0 {
					due = true
				}
			}
			if !cursor.Before(u.End) {
				final = true
			}
			if final || due {
				st = statePersisting
			} else {
				st = stateFetching
			}

		case statePersisting:
			var batches []consolidate.Batch
			if final {
				batches = set.FlushAll()
			} else {
				batches = set.SnapshotAll()
			}
			for _, b := range batches {
				if len(b.Bars) == 0 {
					continue
				}
				if err := l.sink.Persist(ctx, b.Resolution, u.Kind, b.Bars); err != nil {
					l.metrics.PersistError(u.Kind, b.Resolution)
					return res, fmt.Errorf("persist %s %s: %w", b.Resolution, u.Kind, err)
				}
				res.Bars[b.Resolution] += len(b.Bars)
				l.metrics.BarsPersisted(u.Kind, b.Resolution, len(b.Bars))
			}
			res.Checkpoints++
			res.Cursor = cursor
			l.metrics.Checkpoint(u.Kind, cursor)
			log.Debug("checkpoint", "cursor", cursor, "events", res.Events, "final", final)
			due = false
			if final {
				st = stateDone
			} else {
				st = stateFetching
			}

		case stateDone:
			if res.Late > 0 {
				log.Warn("late events folded into open buckets", "late", res.Late, "per_resolution", set.Late())
			}
			return res, nil
		}
	}
}
