package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tickbars/internal/ingest"
	"tickbars/internal/model"
	"tickbars/internal/provider/csvfile"
)

// RunFlow ingests the configured range, then, in follow mode, waits for the
// daily run time and ingests each newly completed day: trigger → run → done →
// wait → trigger. SIGINT/SIGTERM stop it; an interrupted day is redone on the
// next start.
func RunFlow(parent context.Context, cfg *Config, runner *ingest.Runner, tickers []string) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	from, to, err := cfg.DateRange()
	if err != nil {
		return err
	}
	for {
		jobs := ingest.PlanJobs(tickers, model.Kinds, ingest.LoadProgress(cfg.ProgressPath()), from, to)
		if len(jobs) == 0 {
			slog.Info("nothing to ingest", "from", from.Format("2006-01-02"), "to", to.Format("2006-01-02"))
		} else {
			summary, err := runner.Run(ctx, jobs)
			if err != nil {
				slog.Info("run interrupted", "run_id", summary.RunID, "error", err)
				return nil
			}
			if !cfg.Follow && summary.Failed > 0 {
				return fmt.Errorf("%d units failed, see %s", summary.Failed, cfg.SaveBaseDir())
			}
		}
		if !cfg.Follow {
			return nil
		}

		nextRun := nextRunTime(time.Now().UTC(), cfg.FollowRunHour, cfg.FollowRunMinute)
		slog.Info("done, wait until next run", "until", nextRun.Format("2006-01-02 15:04"))
		timer := time.NewTimer(time.Until(nextRun))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			slog.Info("received signal, stopping", "restart_at", nextRun.Format("2006-01-02 15:04"))
			return nil
		}
		to = lastCompleteDay(time.Now().UTC())
	}
}

// RunConvert converts SOURCE_FILE with conv.
func RunConvert(parent context.Context, cfg *Config, conv *csvfile.Converter) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	f, err := os.Open(cfg.SourceFile)
	if err != nil {
		return fmt.Errorf("open source file: %w", err)
	}
	defer f.Close()
	slog.Info("start reading", "path", cfg.SourceFile)
	if _, err := conv.Convert(ctx, f); err != nil {
		return fmt.Errorf("convert %s: %w", cfg.SourceFile, err)
	}
	return nil
}

func nextRunTime(now time.Time, hour, min int) time.Time {
	targetToday := time.Date(now.Year(), now.Month(), now.Day(), hour, min, 0, 0, time.UTC)
	if now.Before(targetToday) {
		return targetToday
	}
	return targetToday.AddDate(0, 0, 1)
}

// lastCompleteDay is the UTC day before now's.
func lastCompleteDay(now time.Time) time.Time {
	return model.Daily.BucketStart(now).AddDate(0, 0, -1)
}
