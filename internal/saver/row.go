package saver

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tickbars/internal/model"
)

// Row is the flat, encoding-neutral form of one bar. Prices and sizes are
// decimal strings; an empty string marks an absent value, e.g. a quote side
// that was never quoted.
type Row struct {
	Time        int64  `json:"t"` // bar start, unix nanoseconds
	Seq         int    `json:"seq,omitempty"`
	Open        string `json:"o,omitempty"`
	High        string `json:"h,omitempty"`
	Low         string `json:"l,omitempty"`
	Close       string `json:"c,omitempty"`
	Volume      string `json:"v,omitempty"`
	BidOpen     string `json:"bo,omitempty"`
	BidHigh     string `json:"bh,omitempty"`
	BidLow      string `json:"bl,omitempty"`
	BidClose    string `json:"bc,omitempty"`
	LastBidSize string `json:"bs,omitempty"`
	AskOpen     string `json:"ao,omitempty"`
	AskHigh     string `json:"ah,omitempty"`
	AskLow      string `json:"al,omitempty"`
	AskClose    string `json:"ac,omitempty"`
	LastAskSize string `json:"as,omitempty"`
}

// FromBar flattens b.
func FromBar(b model.Bar) Row {
	r := Row{Time: b.Start.UnixNano(), Seq: b.Seq}
	switch b.Kind {
	case model.TradeKind:
		r.Open, r.High, r.Low, r.Close = ohlcStrings(b.Trade.OHLC)
		r.Volume = b.Trade.Volume.String()
	case model.QuoteKind:
		if b.Quote.Bid != nil {
			r.BidOpen, r.BidHigh, r.BidLow, r.BidClose = ohlcStrings(*b.Quote.Bid)
			r.LastBidSize = b.Quote.LastBidSize.String()
		}
		if b.Quote.Ask != nil {
			r.AskOpen, r.AskHigh, r.AskLow, r.AskClose = ohlcStrings(*b.Quote.Ask)
			r.LastAskSize = b.Quote.LastAskSize.String()
		}
	}
	return r
}

// ToBar rebuilds a bar of kind and period from r.
func (r Row) ToBar(kind model.Kind, period time.Duration) (model.Bar, error) {
	b := model.Bar{Start: time.Unix(0, r.Time).UTC(), Period: period, Seq: r.Seq, Kind: kind}
	switch kind {
	case model.TradeKind:
		o, err := parseOHLC(r.Open, r.High, r.Low, r.Close)
		if err != nil {
			return model.Bar{}, err
		}
		if o == nil {
			return model.Bar{}, fmt.Errorf("trade row at %d has no prices", r.Time)
		}
		v, err := parseDecimal(r.Volume)
		if err != nil {
			return model.Bar{}, err
		}
		b.Trade = &model.TradeBar{OHLC: *o, Volume: v}
	case model.QuoteKind:
		q := &model.QuoteBar{}
		var err error
		if q.Bid, err = parseOHLC(r.BidOpen, r.BidHigh, r.BidLow, r.BidClose); err != nil {
			return model.Bar{}, err
		}
		if q.Ask, err = parseOHLC(r.AskOpen, r.AskHigh, r.AskLow, r.AskClose); err != nil {
			return model.Bar{}, err
		}
		if q.LastBidSize, err = parseDecimal(r.LastBidSize); err != nil {
			return model.Bar{}, err
		}
		if q.LastAskSize, err = parseDecimal(r.LastAskSize); err != nil {
			return model.Bar{}, err
		}
		b.Quote = q
	default:
		return model.Bar{}, fmt.Errorf("%w: %s", model.ErrUnknownKind, kind)
	}
	return b, nil
}

func ohlcStrings(o model.OHLC) (string, string, string, string) {
	return o.Open.String(), o.High.String(), o.Low.String(), o.Close.String()
}

// parseOHLC returns nil when all four fields are empty.
func parseOHLC(open, high, low, close string) (*model.OHLC, error) {
	if open == "" && high == "" && low == "" && close == "" {
		return nil, nil
	}
	var o model.OHLC
	var err error
	for _, f := range []struct {
		dst *decimal.Decimal
		s   string
	}{{&o.Open, open}, {&o.High, high}, {&o.Low, low}, {&o.Close, close}} {
		if *f.dst, err = decimal.NewFromString(f.s); err != nil {
			return nil, fmt.Errorf("parse price %q: %w", f.s, err)
		}
	}
	return &o, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse size %q: %w", s, err)
	}
	return d, nil
}
