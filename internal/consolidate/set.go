package consolidate

import (
	"fmt"

	"tickbars/internal/model"
)

// Batch is the output of one aggregator.
type Batch struct {
	Resolution model.Resolution
	Bars       []model.Bar
}

// Set fans events of one kind out to one aggregator per resolution.
type Set struct {
	kind model.Kind
	aggs []*Aggregator
}

// NewSet builds a set for kind. Resolutions must be strictly coarsening, so
// Native, when present, comes first.
func NewSet(kind model.Kind, resolutions []model.Resolution) (*Set, error) {
	if len(resolutions) == 0 {
		return nil, fmt.Errorf("no resolutions for %s set", kind)
	}
	s := &Set{kind: kind}
	for i, r := range resolutions {
		if i > 0 && r.Duration() <= resolutions[i-1].Duration() {
			return nil, fmt.Errorf("resolutions not in coarsening order: %s after %s", r, resolutions[i-1])
		}
		a, err := NewAggregator(kind, r)
		if err != nil {
			return nil, err
		}
		s.aggs = append(s.aggs, a)
	}
	return s, nil
}

func (s *Set) Kind() model.Kind { return s.kind }

// Resolutions returns the members' resolutions in construction order.
func (s *Set) Resolutions() []model.Resolution {
	out := make([]model.Resolution, len(s.aggs))
	for i, a := range s.aggs {
		out[i] = a.resolution
	}
	return out
}

// Update feeds ev to every member. Validation happens once up front so that a
// rejected event leaves every member untouched.
func (s *Set) Update(ev model.Event) error {
	in, err := s.aggs[0].pointBar(ev)
	if err != nil {
		return err
	}
	for _, a := range s.aggs {
		a.fold(in.Clone())
	}
	return nil
}

// Consolidate feeds a pre-aggregated bar to every member.
func (s *Set) Consolidate(b model.Bar) error {
	for _, a := range s.aggs {
		if err := a.accepts(b); err != nil {
			return fmt.Errorf("%s: %w", a.resolution, err)
		}
	}
	for _, a := range s.aggs {
		a.fold(b.Clone())
	}
	return nil
}

// FlushAll flushes every member in construction order.
func (s *Set) FlushAll() []Batch {
	out := make([]Batch, 0, len(s.aggs))
	for _, a := range s.aggs {
		out = append(out, Batch{Resolution: a.resolution, Bars: a.Flush()})
	}
	return out
}

// SnapshotAll snapshots every member in construction order.
func (s *Set) SnapshotAll() []Batch {
	out := make([]Batch, 0, len(s.aggs))
	for _, a := range s.aggs {
		out = append(out, Batch{Resolution: a.resolution, Bars: a.Snapshot()})
	}
	return out
}

// Late returns the late-event count per resolution.
func (s *Set) Late() map[model.Resolution]int {
	out := make(map[model.Resolution]int, len(s.aggs))
	for _, a := range s.aggs {
		out[a.resolution] = a.late
	}
	return out
}
