package ingest

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"tickbars/internal/model"
)

const dateLayout = "2006-01-02"

// ProgressUpdate marks Date as the last day of Key whose bars are durably
// persisted, with every earlier day of the range persisted too.
type ProgressUpdate struct {
	Key  string
	Date string
}

// ProgressKey identifies one (symbol, kind) stream in the progress file.
func ProgressKey(symbol string, kind model.Kind) string {
	return symbol + "/" + kind.String()
}

// LoadProgress reads the progress file. A missing or corrupt file means no progress.
func LoadProgress(path string) map[string]string {
	data, err := os.ReadFile(path)
	if err != nil {
		return make(map[string]string)
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		slog.Warn("ignoring unreadable progress file", "path", path, "error", err)
		return make(map[string]string)
	}
	return m
}

// RunProgressWriter receives updates and persists them until updates is closed.
func RunProgressWriter(path string, updates <-chan ProgressUpdate) {
	m := LoadProgress(path)
	for u := range updates {
		if prev, ok := m[u.Key]; ok && prev >= u.Date {
			continue
		}
		m[u.Key] = u.Date
		if err := writeJSONAtomic(path, m); err != nil {
			slog.Warn("progress write error", "path", path, "error", err)
		}
	}
}

// PlanJobs returns one job per (ticker, kind) covering the days in [from, to]
// that are not yet recorded in progress.
func PlanJobs(tickers []string, kinds []model.Kind, progress map[string]string, from, to time.Time) []Job {
	from = model.Daily.BucketStart(from)
	to = model.Daily.BucketStart(to)

	var jobs []Job
	for _, t := range tickers {
		for _, k := range kinds {
			start := from
			if last, ok := progress[ProgressKey(t, k)]; ok {
				if d, err := time.ParseInLocation(dateLayout, last, time.UTC); err == nil {
					if next := d.AddDate(0, 0, 1); next.After(start) {
						start = next
					}
				}
			}
			if start.After(to) {
				continue
			}
			jobs = append(jobs, Job{Symbol: t, Kind: k, From: start, To: to})
		}
	}
	return jobs
}

func writeJSONAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
