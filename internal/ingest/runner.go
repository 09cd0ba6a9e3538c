// Package ingest pulls events from a source, consolidates them and persists
// the bars, one (instrument, day, kind) unit of work at a time.
package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tickbars/internal/metrics"
	"tickbars/internal/model"
)

// Job is one (symbol, kind) stream over the UTC days From..To inclusive.
type Job struct {
	Symbol string
	Kind   model.Kind
	From   time.Time
	To     time.Time
}

// JobResult is sent by workers for fan-in, one per unit of work.
type JobResult struct {
	Ok     bool
	Key    string
	Date   string
	Reason string
	Events int
	Bars   int
}

// Backend opens the source and sink for one (symbol, kind) stream.
type Backend func(symbol string, kind model.Kind) (Source, Sink, error)

// Runner executes jobs. Streams run concurrently up to Workers; the days of a
// stream run in order so progress only advances over contiguous successes.
//
// Resume works at day granularity: a retried or restarted day is ingested
// again from its start and the sink overwrites the bars it already holds.
// Result.Cursor is reported for logging only.
type Runner struct {
	Backend      Backend
	Resolutions  []model.Resolution
	Options      Options
	Workers      int
	Retries      int
	RetryDelay   time.Duration
	Heartbeat    time.Duration
	ProgressPath string
	ReportDir    string
	Logger       *slog.Logger
	Metrics      *metrics.Recorder
}

// Summary is the outcome of one Run.
type Summary struct {
	RunID   string
	Success int
	Failed  int
	Events  int
	Bars    int
}

type tally struct {
	mu          sync.Mutex
	summary     Summary
	successList []string
	failedList  []failedEntry
}

func (t *tally) collect(results <-chan JobResult) {
	for r := range results {
		t.mu.Lock()
		if r.Ok {
			t.summary.Success++
			t.summary.Events += r.Events
			t.summary.Bars += r.Bars
			t.successList = appendSuccess(t.successList, r.Key)
		} else {
			t.summary.Failed++
			t.failedList = append(t.failedList, failedEntry{Key: r.Key, Date: r.Date, Reason: r.Reason})
		}
		t.mu.Unlock()
	}
}

func (t *tally) snapshot() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.summary
}

// Run executes every job and blocks until all are done or ctx is cancelled.
// A failed unit is reported and never stops other units.
func (r *Runner) Run(ctx context.Context, jobs []Job) (Summary, error) {
	runID := uuid.NewString()
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("run_id", runID)

	totalUnits := 0
	for _, j := range jobs {
		totalUnits += int(j.To.Sub(j.From).Hours()/24) + 1
	}
	logger.Info("ingest start", "jobs", len(jobs), "units", totalUnits)

	updates := make(chan ProgressUpdate, 256)
	var progressWg sync.WaitGroup
	progressWg.Add(1)
	go func() {
		defer progressWg.Done()
		if r.ProgressPath == "" {
			for range updates {
			}
			return
		}
		RunProgressWriter(r.ProgressPath, updates)
	}()

	results := make(chan JobResult, 64)
	t := &tally{summary: Summary{RunID: runID}}
	var resWg sync.WaitGroup
	resWg.Add(1)
	go func() {
		defer resWg.Done()
		t.collect(results)
	}()

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	interval := r.Heartbeat
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go runHeartbeat(hbCtx, interval, totalUnits, t, logger)

	var g errgroup.Group
	workers := r.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			r.runJob(ctx, job, logger, results, updates)
			return nil
		})
	}
	_ = g.Wait()
	stopHeartbeat()
	close(results)
	resWg.Wait()
	close(updates)
	progressWg.Wait()

	summary := t.snapshot()
	logger.Info("summary", "success", summary.Success, "failed", summary.Failed, "events", summary.Events, "bars", summary.Bars)
	if len(t.failedList) > 0 {
		logger.Info("summary failed", "count", len(t.failedList), "reasons", joinFailedReasons(t.failedList))
	}
	if r.ReportDir != "" {
		if err := writeRunReport(r.ReportDir, runID, t.successList, t.failedList); err != nil {
			logger.Warn("could not write run report", "error", err)
		}
	}
	return summary, ctx.Err()
}

func (r *Runner) runJob(ctx context.Context, job Job, logger *slog.Logger, results chan<- JobResult, updates chan<- ProgressUpdate) {
	key := ProgressKey(job.Symbol, job.Kind)
	log := logger.With("ticker", job.Symbol, "kind", job.Kind.String())

	src, sink, err := r.Backend(job.Symbol, job.Kind)
	var loop *Loop
	if err == nil {
		loop, err = NewLoop(src, sink, r.Resolutions, r.Options, log, r.Metrics)
	}
	if err != nil {
		log.Error("cannot open job", "error", err)
		results <- JobResult{Key: key, Date: job.From.Format(dateLayout) + ".." + job.To.Format(dateLayout), Reason: err.Error()}
		return
	}

	broken := false
	for d := job.From; !d.After(job.To); d = d.AddDate(0, 0, 1) {
		if ctx.Err() != nil {
			return
		}
		date := d.Format(dateLayout)
		res, err := r.runUnit(ctx, loop, DayUnit(job.Kind, d), log)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("unit aborted", "date", date, "cursor", res.Cursor)
				return
			}
			log.Error("unit failed", "date", date, "cursor", res.Cursor, "error", err)
			r.Metrics.Unit(job.Kind, "failed")
			results <- JobResult{Key: key, Date: date, Reason: err.Error()}
			broken = true
			continue
		}
		bars := 0
		for _, n := range res.Bars {
			bars += n
		}
		log.Info("unit ok", "date", date, "events", res.Events, "bars", bars, "fetches", res.Fetches, "late", res.Late)
		r.Metrics.Unit(job.Kind, "ok")
		results <- JobResult{Ok: true, Key: key, Date: date, Events: res.Events, Bars: bars}
		if !broken {
			updates <- ProgressUpdate{Key: key, Date: date}
		}
	}
}

// runUnit retries a unit from its start. Bars rewritten on retry replace the
// ones from the failed attempt.
func (r *Runner) runUnit(ctx context.Context, loop *Loop, u Unit, log *slog.Logger) (Result, error) {
	var res Result
	var err error
	for attempt := 0; attempt <= r.Retries; attempt++ {
		if attempt > 0 {
			log.Warn("retrying unit", "date", u.Start.Format(dateLayout), "attempt", attempt+1, "error", err)
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-time.After(r.RetryDelay):
			}
		}
		res, err = loop.Run(ctx, u)
		if err == nil || ctx.Err() != nil {
			return res, err
		}
	}
	return res, err
}

func runHeartbeat(ctx context.Context, interval time.Duration, totalUnits int, t *tally, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := t.snapshot()
			logger.Info("heartbeat", "done", s.Success+s.Failed, "total", totalUnits, "success", s.Success, "failed", s.Failed, "bars", s.Bars)
		}
	}
}
