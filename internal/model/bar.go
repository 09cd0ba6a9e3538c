package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OHLC is the open/high/low/close of one price series over an interval.
type OHLC struct {
	Open  decimal.Decimal
	High  decimal.Decimal
	Low   decimal.Decimal
	Close decimal.Decimal
}

// PointOHLC returns the OHLC of a single observation.
func PointOHLC(p decimal.Decimal) OHLC {
	return OHLC{Open: p, High: p, Low: p, Close: p}
}

// Merge folds a later sample into o: open is kept, high/low widen, close moves.
func (o *OHLC) Merge(next OHLC) {
	if next.High.GreaterThan(o.High) {
		o.High = next.High
	}
	if next.Low.LessThan(o.Low) {
		o.Low = next.Low
	}
	o.Close = next.Close
}

// TradeBar is the OHLCV of trades in one bucket.
type TradeBar struct {
	OHLC
	Volume decimal.Decimal
}

// QuoteBar holds the bid and ask OHLC of one bucket. A side that never had a
// non-zero price is nil.
type QuoteBar struct {
	Bid         *OHLC
	Ask         *OHLC
	LastBidSize decimal.Decimal
	LastAskSize decimal.Decimal
}

// Bar is a finished or snapshotted aggregate over [Start, Start+Period).
// Period is zero for native (per-event) bars; Seq orders native bars that share
// a timestamp and is zero everywhere else.
type Bar struct {
	Start  time.Time
	Period time.Duration
	Seq    int
	Kind   Kind
	Trade  *TradeBar
	Quote  *QuoteBar
}

// End returns the exclusive end of the bar interval.
func (b Bar) End() time.Time {
	return b.Start.Add(b.Period)
}

// Clone returns a deep copy so that snapshots do not alias live state.
func (b Bar) Clone() Bar {
	c := b
	if b.Trade != nil {
		t := *b.Trade
		c.Trade = &t
	}
	if b.Quote != nil {
		q := *b.Quote
		if b.Quote.Bid != nil {
			bid := *b.Quote.Bid
			q.Bid = &bid
		}
		if b.Quote.Ask != nil {
			ask := *b.Quote.Ask
			q.Ask = &ask
		}
		c.Quote = &q
	}
	return c
}

// Validate checks the payload against Kind and the low ≤ open,close ≤ high invariant.
func (b Bar) Validate() error {
	switch b.Kind {
	case TradeKind:
		if b.Trade == nil || b.Quote != nil {
			return fmt.Errorf("%w: %s bar", ErrKindMismatch, b.Kind)
		}
		return b.Trade.OHLC.check("trade")
	case QuoteKind:
		if b.Quote == nil || b.Trade != nil {
			return fmt.Errorf("%w: %s bar", ErrKindMismatch, b.Kind)
		}
		if b.Quote.Bid != nil {
			if err := b.Quote.Bid.check("bid"); err != nil {
				return err
			}
		}
		if b.Quote.Ask != nil {
			return b.Quote.Ask.check("ask")
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKind, b.Kind)
	}
}

func (o OHLC) check(side string) error {
	if o.Low.GreaterThan(o.Open) || o.Low.GreaterThan(o.Close) ||
		o.High.LessThan(o.Open) || o.High.LessThan(o.Close) {
		return fmt.Errorf("%s ohlc out of range: o=%s h=%s l=%s c=%s", side, o.Open, o.High, o.Low, o.Close)
	}
	return nil
}
