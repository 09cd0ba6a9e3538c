package saver

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
)

var csvHeader = []string{"t", "seq", "o", "h", "l", "c", "v", "bo", "bh", "bl", "bc", "bs", "ao", "ah", "al", "ac", "as"}

// CSVCodec stores rows as CSV with a fixed header; absent values are empty cells.
type CSVCodec struct{}

func (CSVCodec) Extension() string { return "csv" }

func (CSVCodec) Save(rows []Row, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		f.Close()
		return err
	}
	for _, r := range rows {
		if err := w.Write([]string{
			strconv.FormatInt(r.Time, 10),
			strconv.Itoa(r.Seq),
			r.Open, r.High, r.Low, r.Close, r.Volume,
			r.BidOpen, r.BidHigh, r.BidLow, r.BidClose, r.LastBidSize,
			r.AskOpen, r.AskHigh, r.AskLow, r.AskClose, r.LastAskSize,
		}); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (CSVCodec) Load(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cr := csv.NewReader(f)
	cr.FieldsPerRecord = len(csvHeader)
	recs, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	rows := make([]Row, 0, len(recs)-1)
	for i, rec := range recs[1:] {
		t, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, i+2, err)
		}
		seq, err := strconv.Atoi(rec[1])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, i+2, err)
		}
		rows = append(rows, Row{
			Time: t, Seq: seq,
			Open: rec[2], High: rec[3], Low: rec[4], Close: rec[5], Volume: rec[6],
			BidOpen: rec[7], BidHigh: rec[8], BidLow: rec[9], BidClose: rec[10], LastBidSize: rec[11],
			AskOpen: rec[12], AskHigh: rec[13], AskLow: rec[14], AskClose: rec[15], LastAskSize: rec[16],
		})
	}
	return rows, nil
}
