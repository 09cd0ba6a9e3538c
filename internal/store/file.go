// Package store persists bars as files, one file per (resolution, symbol,
// kind, day) for intraday resolutions and one per (resolution, symbol, kind)
// for hour and daily bars. Writes merge into existing files, so persisting the
// same bar twice leaves one copy holding the latest values.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"tickbars/internal/model"
	"tickbars/internal/saver"
)

// Mirror receives every file after it is written locally.
type Mirror interface {
	Upload(ctx context.Context, key, path string) error
}

// FileSink stores the bars of one symbol. It is safe for concurrent use.
type FileSink struct {
	root   string
	base   string
	symbol string
	codec  saver.Codec
	mirror Mirror
	log    *slog.Logger

	mu sync.Mutex
}

// NewFileSink returns a sink writing under base/<market>. mirror may be nil.
func NewFileSink(base, market, symbol string, codec saver.Codec, mirror Mirror, logger *slog.Logger) *FileSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSink{
		root:   filepath.Join(base, strings.ToLower(market)),
		base:   base,
		symbol: strings.ToLower(symbol),
		codec:  codec,
		mirror: mirror,
		log:    logger,
	}
}

// Path returns the file holding the bar of res and kind starting at start.
func (s *FileSink) Path(res model.Resolution, kind model.Kind, start time.Time) string {
	ext := s.codec.Extension()
	switch res {
	case model.Hour, model.Daily:
		return filepath.Join(s.root, res.String(), fmt.Sprintf("%s_%s.%s", s.symbol, kind, ext))
	default:
		return filepath.Join(s.root, res.String(), s.symbol,
			fmt.Sprintf("%s_%s.%s", start.UTC().Format("20060102"), kind, ext))
	}
}

type rowKey struct {
	t   int64
	seq int
}

// Persist merges bars into their files. Bars replace stored rows with the same
// start and Seq.
func (s *FileSink) Persist(ctx context.Context, res model.Resolution, kind model.Kind, bars []model.Bar) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byPath := make(map[string][]model.Bar)
	var paths []string
	for _, b := range bars {
		if b.Kind != kind {
			return fmt.Errorf("%w: %s bar in %s batch", model.ErrKindMismatch, b.Kind, kind)
		}
		p := s.Path(res, kind, b.Start)
		if _, ok := byPath[p]; !ok {
			paths = append(paths, p)
		}
		byPath[p] = append(byPath[p], b)
	}
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.merge(p, byPath[p]); err != nil {
			return fmt.Errorf("write %s: %w", p, err)
		}
		if s.mirror != nil {
			key, err := filepath.Rel(s.base, p)
			if err != nil {
				return err
			}
			if err := s.mirror.Upload(ctx, filepath.ToSlash(key), p); err != nil {
				return fmt.Errorf("mirror %s: %w", p, err)
			}
		}
	}
	return nil
}

func (s *FileSink) merge(path string, bars []model.Bar) error {
	rows := make(map[rowKey]saver.Row)
	if _, err := os.Stat(path); err == nil {
		existing, err := s.codec.Load(path)
		if err != nil {
			return fmt.Errorf("load existing: %w", err)
		}
		for _, r := range existing {
			rows[rowKey{r.Time, r.Seq}] = r
		}
	}
	for _, b := range bars {
		r := saver.FromBar(b)
		rows[rowKey{r.Time, r.Seq}] = r
	}

	out := make([]saver.Row, 0, len(rows))
	for _, r := range rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Time == out[j].Time {
			return out[i].Seq < out[j].Seq
		}
		return out[i].Time < out[j].Time
	})

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := s.codec.Save(out, tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	s.log.Debug("bars written", "path", path, "rows", len(out), "new", len(bars))
	return nil
}

// Read returns the stored bars of res and kind in the file covering day, in
// start order. A missing file yields no bars.
func (s *FileSink) Read(res model.Resolution, kind model.Kind, day time.Time) ([]model.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(res, kind, day)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	rows, err := s.codec.Load(path)
	if err != nil {
		return nil, err
	}
	out := make([]model.Bar, 0, len(rows))
	for _, r := range rows {
		b, err := r.ToBar(kind, res.Duration())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, b)
	}
	return out, nil
}
