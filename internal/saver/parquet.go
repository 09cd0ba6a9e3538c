package saver

import (
	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"
)

// parquetRow stores prices as doubles, so values round-trip through float64.
type parquetRow struct {
	T           int64    `parquet:"t"`
	Seq         int64    `parquet:"seq"`
	Open        *float64 `parquet:"o,optional"`
	High        *float64 `parquet:"h,optional"`
	Low         *float64 `parquet:"l,optional"`
	Close       *float64 `parquet:"c,optional"`
	Volume      *float64 `parquet:"v,optional"`
	BidOpen     *float64 `parquet:"bo,optional"`
	BidHigh     *float64 `parquet:"bh,optional"`
	BidLow      *float64 `parquet:"bl,optional"`
	BidClose    *float64 `parquet:"bc,optional"`
	LastBidSize *float64 `parquet:"bs,optional"`
	AskOpen     *float64 `parquet:"ao,optional"`
	AskHigh     *float64 `parquet:"ah,optional"`
	AskLow      *float64 `parquet:"al,optional"`
	AskClose    *float64 `parquet:"ac,optional"`
	LastAskSize *float64 `parquet:"as,optional"`
}

// ParquetCodec stores rows as Parquet.
type ParquetCodec struct{}

func (ParquetCodec) Extension() string { return "parquet" }

func (ParquetCodec) Save(rows []Row, path string) error {
	out := make([]parquetRow, len(rows))
	for i, r := range rows {
		p := parquetRow{T: r.Time, Seq: int64(r.Seq)}
		for _, f := range []struct {
			dst **float64
			s   string
		}{
			{&p.Open, r.Open}, {&p.High, r.High}, {&p.Low, r.Low}, {&p.Close, r.Close}, {&p.Volume, r.Volume},
			{&p.BidOpen, r.BidOpen}, {&p.BidHigh, r.BidHigh}, {&p.BidLow, r.BidLow}, {&p.BidClose, r.BidClose},
			{&p.LastBidSize, r.LastBidSize},
			{&p.AskOpen, r.AskOpen}, {&p.AskHigh, r.AskHigh}, {&p.AskLow, r.AskLow}, {&p.AskClose, r.AskClose},
			{&p.LastAskSize, r.LastAskSize},
		} {
			v, err := toFloat(f.s)
			if err != nil {
				return err
			}
			*f.dst = v
		}
		out[i] = p
	}
	return parquet.WriteFile(path, out)
}

func (ParquetCodec) Load(path string) ([]Row, error) {
	in, err := parquet.ReadFile[parquetRow](path)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, len(in))
	for i, p := range in {
		rows[i] = Row{
			Time:        p.T,
			Seq:         int(p.Seq),
			Open:        fromFloat(p.Open),
			High:        fromFloat(p.High),
			Low:         fromFloat(p.Low),
			Close:       fromFloat(p.Close),
			Volume:      fromFloat(p.Volume),
			BidOpen:     fromFloat(p.BidOpen),
			BidHigh:     fromFloat(p.BidHigh),
			BidLow:      fromFloat(p.BidLow),
			BidClose:    fromFloat(p.BidClose),
			LastBidSize: fromFloat(p.LastBidSize),
			AskOpen:     fromFloat(p.AskOpen),
			AskHigh:     fromFloat(p.AskHigh),
			AskLow:      fromFloat(p.AskLow),
			AskClose:    fromFloat(p.AskClose),
			LastAskSize: fromFloat(p.LastAskSize),
		}
	}
	return rows, nil
}

func toFloat(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	f, _ := d.Float64()
	return &f, nil
}

func fromFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return decimal.NewFromFloat(*f).String()
}
