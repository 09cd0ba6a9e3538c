package ingest

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

type failedEntry struct {
	Key    string `json:"key"`
	Date   string `json:"date"`
	Reason string `json:"reason"`
}

type successReport struct {
	RunID    string    `json:"run_id"`
	Finished time.Time `json:"finished"`
	Keys     []string  `json:"keys"`
}

type failedReport struct {
	RunID    string        `json:"run_id"`
	Finished time.Time     `json:"finished"`
	Failed   []failedEntry `json:"failed"`
}

func writeRunReport(dir, runID string, successList []string, failedList []failedEntry) error {
	now := time.Now().UTC()
	if len(successList) > 0 {
		p := filepath.Join(dir, ".lastrun.success.json")
		if err := writeJSONAtomic(p, successReport{RunID: runID, Finished: now, Keys: successList}); err != nil {
			return err
		}
		slog.Info("report wrote success", "path", p, "keys", len(successList))
	}
	if len(failedList) > 0 {
		p := filepath.Join(dir, ".lastrun.failed.json")
		if err := writeJSONAtomic(p, failedReport{RunID: runID, Finished: now, Failed: failedList}); err != nil {
			return err
		}
		slog.Info("report wrote failed", "path", p, "count", len(failedList))
	}
	return nil
}

func appendSuccess(list []string, key string) []string {
	for _, k := range list {
		if k == key {
			return list
		}
	}
	return append(list, key)
}

func joinFailedReasons(failedList []failedEntry) string {
	var b strings.Builder
	for i, f := range failedList {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(f.Key)
		b.WriteString(" ")
		b.WriteString(f.Date)
		b.WriteString(": ")
		b.WriteString(f.Reason)
		if i >= 4 && len(failedList) > 6 {
			b.WriteString(fmt.Sprintf(" (+%d more)", len(failedList)-5))
			break
		}
	}
	return b.String()
}
