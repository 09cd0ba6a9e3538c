// Package consolidate folds market events into OHLC bars at fixed resolutions.
//
// Aggregators are pull-based: Update and Consolidate only mutate state, and
// finished bars are collected with Flush or Snapshot. Callers must deliver
// input in non-decreasing time order; late input is folded into the open
// bucket and counted.
package consolidate

import (
	"fmt"
	"time"

	"tickbars/internal/model"
)

// Aggregator holds the open bucket of one resolution for one event kind.
// It is not safe for concurrent use.
type Aggregator struct {
	kind       model.Kind
	resolution model.Resolution

	current time.Time  // start of the open bucket, valid iff partial != nil
	partial *model.Bar // open bucket
	pending []model.Bar

	late int

	// native only
	lastNative time.Time
	seenNative bool
	seq        int
	lateSeq    int
}

// lateSeqBase offsets the Seq of native bars for late events so they never
// share (Start, Seq) with an in-order bar at the same instant.
const lateSeqBase = 1 << 30

// NewAggregator returns an empty aggregator.
func NewAggregator(kind model.Kind, resolution model.Resolution) (*Aggregator, error) {
	switch kind {
	case model.TradeKind, model.QuoteKind:
	default:
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownKind, kind)
	}
	if resolution < model.Native || resolution > model.Daily {
		return nil, fmt.Errorf("unknown resolution %d", int(resolution))
	}
	return &Aggregator{kind: kind, resolution: resolution}, nil
}

func (a *Aggregator) Kind() model.Kind             { return a.kind }
func (a *Aggregator) Resolution() model.Resolution { return a.resolution }

// Late returns how many events arrived for a bucket older than the open one.
func (a *Aggregator) Late() int { return a.late }

// Update folds one event. A quote with neither side set carries no price and
// is ignored.
func (a *Aggregator) Update(ev model.Event) error {
	in, err := a.pointBar(ev)
	if err != nil {
		return err
	}
	if in.Kind == model.QuoteKind && in.Quote.Bid == nil && in.Quote.Ask == nil {
		return nil
	}
	a.fold(in)
	return nil
}

// Consolidate folds a pre-aggregated bar, e.g. a minute bar read from a file
// into an hour aggregator.
func (a *Aggregator) Consolidate(b model.Bar) error {
	if err := a.accepts(b); err != nil {
		return err
	}
	a.fold(b.Clone())
	return nil
}

// Flush closes the open bucket regardless of whether its interval has elapsed
// and hands over every finished bar. A second call without an Update in
// between returns nil.
func (a *Aggregator) Flush() []model.Bar {
	if a.partial != nil {
		a.pending = append(a.pending, *a.partial)
		a.partial = nil
	}
	out := a.pending
	a.pending = nil
	return out
}

// Snapshot hands over finished bars plus a copy of the open bucket. The open
// bucket stays open, so a later Snapshot or Flush returns a fuller version of
// the same bucket that supersedes this one.
func (a *Aggregator) Snapshot() []model.Bar {
	out := a.pending
	a.pending = nil
	if a.partial != nil {
		out = append(out, a.partial.Clone())
	}
	return out
}

func (a *Aggregator) accepts(b model.Bar) error {
	if b.Kind != a.kind {
		return fmt.Errorf("%w: %s aggregator got %s bar", model.ErrKindMismatch, a.kind, b.Kind)
	}
	if err := b.Validate(); err != nil {
		return err
	}
	if a.resolution != model.Native && b.Period > a.resolution.Duration() {
		return fmt.Errorf("cannot consolidate %s bar into %s", b.Period, a.resolution)
	}
	return nil
}

func (a *Aggregator) pointBar(ev model.Event) (model.Bar, error) {
	if ev.Kind != a.kind {
		return model.Bar{}, fmt.Errorf("%w: %s aggregator got %s event", model.ErrKindMismatch, a.kind, ev.Kind)
	}
	if err := ev.Validate(); err != nil {
		return model.Bar{}, err
	}
	b := model.Bar{Start: ev.EventTime, Kind: ev.Kind}
	switch ev.Kind {
	case model.TradeKind:
		b.Trade = &model.TradeBar{OHLC: model.PointOHLC(ev.Trade.Price), Volume: ev.Trade.Size}
	case model.QuoteKind:
		q := &model.QuoteBar{}
		if !ev.Quote.BidPrice.IsZero() {
			bid := model.PointOHLC(ev.Quote.BidPrice)
			q.Bid = &bid
			q.LastBidSize = ev.Quote.BidSize
		}
		if !ev.Quote.AskPrice.IsZero() {
			ask := model.PointOHLC(ev.Quote.AskPrice)
			q.Ask = &ask
			q.LastAskSize = ev.Quote.AskSize
		}
		b.Quote = q
	}
	return b, nil
}

func (a *Aggregator) fold(in model.Bar) {
	if a.resolution == model.Native {
		a.passThrough(in)
		return
	}
	start := a.resolution.BucketStart(in.Start)
	switch {
	case a.partial == nil:
		a.open(start, in)
	case start.Equal(a.current):
		merge(a.partial, in)
	case start.After(a.current):
		a.pending = append(a.pending, *a.partial)
		a.open(start, in)
	default:
		a.late++
		merge(a.partial, in)
	}
}

func (a *Aggregator) open(start time.Time, in model.Bar) {
	in.Start = start
	in.Period = a.resolution.Duration()
	in.Seq = 0
	a.current = start
	a.partial = &in
}

func (a *Aggregator) passThrough(in model.Bar) {
	start := in.Start.UTC()
	switch {
	case !a.seenNative || start.After(a.lastNative):
		a.seq = 0
		a.lastNative = start
	case start.Equal(a.lastNative):
		a.seq++
	default:
		a.late++
		in.Start = start
		in.Period = 0
		in.Seq = lateSeqBase + a.lateSeq
		a.lateSeq++
		a.pending = append(a.pending, in)
		return
	}
	a.seenNative = true
	in.Start = start
	in.Period = 0
	in.Seq = a.seq
	a.pending = append(a.pending, in)
}

func merge(dst *model.Bar, in model.Bar) {
	switch dst.Kind {
	case model.TradeKind:
		dst.Trade.OHLC.Merge(in.Trade.OHLC)
		dst.Trade.Volume = dst.Trade.Volume.Add(in.Trade.Volume)
	case model.QuoteKind:
		if mergeSide(&dst.Quote.Bid, in.Quote.Bid) {
			dst.Quote.LastBidSize = in.Quote.LastBidSize
		}
		if mergeSide(&dst.Quote.Ask, in.Quote.Ask) {
			dst.Quote.LastAskSize = in.Quote.LastAskSize
		}
	}
}

// mergeSide reports whether in carried a price for the side.
func mergeSide(dst **model.OHLC, in *model.OHLC) bool {
	if in == nil {
		return false
	}
	if *dst == nil {
		c := *in
		*dst = &c
		return true
	}
	(*dst).Merge(*in)
	return true
}
