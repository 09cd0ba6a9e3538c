package ingest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tickbars/internal/model"
)

var errBoom = errors.New("boom")

var day0 = time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)

func at(h, m, s int) time.Time {
	return day0.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func trade(t time.Time, price, size string) model.Event {
	return model.NewTradeEvent(t, dec(price), dec(size))
}

// sliceSource serves events from memory. It resumes after the last delivered
// event when asked for the latest delivered time again, and rewinds otherwise.
type sliceSource struct {
	mu        sync.Mutex
	events    []model.Event
	next      int
	delivered bool
	lastTime  time.Time
	calls     int
	fail      func(start time.Time, call int) error
}

func (s *sliceSource) Fetch(_ context.Context, kind model.Kind, start time.Time, max int) ([]model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail != nil {
		if err := s.fail(start, s.calls); err != nil {
			return nil, err
		}
	}
	if !s.delivered || !start.Equal(s.lastTime) {
		s.next = sort.Search(len(s.events), func(i int) bool {
			return !s.events[i].ExchangeTime.Before(start)
		})
	}
	var out []model.Event
	for s.next < len(s.events) && len(out) < max {
		ev := s.events[s.next]
		s.next++
		if ev.Kind != kind {
			continue
		}
		out = append(out, ev)
	}
	for _, ev := range out {
		if !s.delivered || ev.ExchangeTime.After(s.lastTime) {
			s.lastTime = ev.ExchangeTime
		}
		s.delivered = true
	}
	return out, nil
}

type barKey struct {
	start time.Time
	seq   int
}

type streamKey struct {
	res  model.Resolution
	kind model.Kind
}

// memSink keeps the latest version of every bar, keyed like the file sink.
type memSink struct {
	mu    sync.Mutex
	bars  map[streamKey]map[barKey]model.Bar
	calls int
	fail  func(call int, res model.Resolution) error
}

func newMemSink() *memSink {
	return &memSink{bars: make(map[streamKey]map[barKey]model.Bar)}
}

func (m *memSink) Persist(_ context.Context, res model.Resolution, kind model.Kind, bars []model.Bar) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.fail != nil {
		if err := m.fail(m.calls, res); err != nil {
			return err
		}
	}
	k := streamKey{res, kind}
	if m.bars[k] == nil {
		m.bars[k] = make(map[barKey]model.Bar)
	}
	for _, b := range bars {
		m.bars[k][barKey{b.Start, b.Seq}] = b.Clone()
	}
	return nil
}

func (m *memSink) sorted(res model.Resolution, kind model.Kind) []model.Bar {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Bar
	for _, b := range m.bars[streamKey{res, kind}] {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].Seq < out[j].Seq
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}
