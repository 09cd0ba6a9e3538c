// Package csvfile reads pre-aggregated one-minute bars from a ';'-delimited
// export and converts them into consolidated trade and quote bars.
package csvfile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tickbars/internal/model"
)

// ErrMalformedRow is wrapped by every row-level parse error.
var ErrMalformedRow = errors.New("malformed row")

// TimeLayout is the fixed timestamp format of the export.
const TimeLayout = "2006-01-02T15:04:05.0000000Z"

// Column names pulled from the header.
const (
	ColPeriodStart = "time_period_start"
	ColOpen        = "price_open"
	ColHigh        = "price_high"
	ColLow         = "price_low"
	ColClose       = "price_close"
	ColVolume      = "volume_traded"
)

var requiredColumns = []string{ColPeriodStart, ColOpen, ColHigh, ColLow, ColClose, ColVolume}

// Reader yields one trade bar per row. Columns are located by header name,
// so their order in the file does not matter.
type Reader struct {
	r      *csv.Reader
	header map[string]int
	line   int
	period time.Duration
}

// NewReader reads the header line.
func NewReader(r io.Reader) (*Reader, error) {
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.ReuseRecord = true

	names, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty file: no header")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	header := make(map[string]int, len(names))
	for i, n := range names {
		header[strings.TrimSpace(strings.TrimPrefix(n, "\ufeff"))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := header[c]; !ok {
			return nil, fmt.Errorf("header is missing column %q", c)
		}
	}
	// every data row must have as many fields as the header
	cr.FieldsPerRecord = len(names)
	return &Reader{r: cr, header: header, line: 1, period: time.Minute}, nil
}

// Next returns the next bar, or io.EOF after the last row.
func (r *Reader) Next() (model.Bar, error) {
	rec, err := r.r.Read()
	r.line++
	if err != nil {
		if errors.Is(err, io.EOF) {
			return model.Bar{}, io.EOF
		}
		return model.Bar{}, fmt.Errorf("%w %d: %v", ErrMalformedRow, r.line, err)
	}

	start, err := time.Parse(TimeLayout, r.field(rec, ColPeriodStart))
	if err != nil {
		return model.Bar{}, fmt.Errorf("%w %d: %s: %v", ErrMalformedRow, r.line, ColPeriodStart, err)
	}
	var vals [5]decimal.Decimal
	for i, c := range []string{ColOpen, ColHigh, ColLow, ColClose, ColVolume} {
		vals[i], err = decimal.NewFromString(r.field(rec, c))
		if err != nil {
			return model.Bar{}, fmt.Errorf("%w %d: %s: %v", ErrMalformedRow, r.line, c, err)
		}
	}

	b := model.Bar{
		Start:  start.UTC(),
		Period: r.period,
		Kind:   model.TradeKind,
		Trade: &model.TradeBar{
			OHLC:   model.OHLC{Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3]},
			Volume: vals[4],
		},
	}
	if err := b.Validate(); err != nil {
		return model.Bar{}, fmt.Errorf("%w %d: %v", ErrMalformedRow, r.line, err)
	}
	if vals[4].IsNegative() {
		return model.Bar{}, fmt.Errorf("%w %d: negative volume %s", ErrMalformedRow, r.line, vals[4])
	}
	return b, nil
}

func (r *Reader) field(rec []string, name string) string {
	return strings.TrimSpace(rec[r.header[name]])
}

// QuoteFromTrade synthesizes a quote bar whose bid and ask sides both equal
// the trade bar's prices. The export carries no book sizes, so sizes are zero.
func QuoteFromTrade(b model.Bar) model.Bar {
	bid := b.Trade.OHLC
	ask := b.Trade.OHLC
	return model.Bar{
		Start:  b.Start,
		Period: b.Period,
		Kind:   model.QuoteKind,
		Quote:  &model.QuoteBar{Bid: &bid, Ask: &ask},
	}
}
