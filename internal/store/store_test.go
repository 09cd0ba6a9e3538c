package store

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickbars/internal/model"
	"tickbars/internal/saver"
)

var day0 = time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func tradeBar(start time.Time, period time.Duration, seq int, price, vol string) model.Bar {
	return model.Bar{
		Start:  start,
		Period: period,
		Seq:    seq,
		Kind:   model.TradeKind,
		Trade:  &model.TradeBar{OHLC: model.PointOHLC(dec(price)), Volume: dec(vol)},
	}
}

type fakeMirror struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (m *fakeMirror) Upload(_ context.Context, key, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := os.Stat(path); err != nil {
		return err
	}
	m.keys = append(m.keys, key)
	return m.err
}

func TestPathLayout(t *testing.T) {
	s := NewFileSink("/data", "BINANCE", "ETH_USDT", saver.CSVCodec{}, nil, nil)
	ts := day0.Add(13 * time.Hour)
	assert.Equal(t, filepath.FromSlash("/data/binance/minute/eth_usdt/20190101_trade.csv"), s.Path(model.Minute, model.TradeKind, ts))
	assert.Equal(t, filepath.FromSlash("/data/binance/tick/eth_usdt/20190101_quote.csv"), s.Path(model.Native, model.QuoteKind, ts))
	assert.Equal(t, filepath.FromSlash("/data/binance/hour/eth_usdt_trade.csv"), s.Path(model.Hour, model.TradeKind, ts))
	assert.Equal(t, filepath.FromSlash("/data/binance/daily/eth_usdt_quote.csv"), s.Path(model.Daily, model.QuoteKind, ts))
}

func TestPersistOverwritesSameBucket(t *testing.T) {
	for _, format := range []string{"csv", "json", "parquet"} {
		t.Run(format, func(t *testing.T) {
			s := NewFileSink(t.TempDir(), "BINANCE", "ETH_USDT", saver.NewCodec(format), nil, nil)
			ctx := context.Background()

			require.NoError(t, s.Persist(ctx, model.Minute, model.TradeKind, []model.Bar{
				tradeBar(day0.Add(time.Minute), time.Minute, 0, "10", "1"),
				tradeBar(day0, time.Minute, 0, "9", "2"),
			}))
			// a fuller version of the 00:01 bucket and a new bucket
			require.NoError(t, s.Persist(ctx, model.Minute, model.TradeKind, []model.Bar{
				tradeBar(day0.Add(time.Minute), time.Minute, 0, "10", "5"),
				tradeBar(day0.Add(2*time.Minute), time.Minute, 0, "11", "1"),
			}))

			bars, err := s.Read(model.Minute, model.TradeKind, day0)
			require.NoError(t, err)
			require.Len(t, bars, 3)
			assert.Equal(t, day0, bars[0].Start)
			assert.Equal(t, time.Minute, bars[0].Period)
			assert.True(t, dec("5").Equal(bars[1].Trade.Volume))
			assert.True(t, dec("11").Equal(bars[2].Trade.Close))
		})
	}
}

func TestPersistKeepsNativeSeq(t *testing.T) {
	s := NewFileSink(t.TempDir(), "X", "Y", saver.JSONCodec{}, nil, nil)
	ts := day0.Add(time.Hour)
	bars := []model.Bar{
		tradeBar(ts, 0, 0, "1", "1"),
		tradeBar(ts, 0, 1, "2", "1"),
		tradeBar(ts, 0, 2, "3", "1"),
	}
	require.NoError(t, s.Persist(context.Background(), model.Native, model.TradeKind, bars))
	require.NoError(t, s.Persist(context.Background(), model.Native, model.TradeKind, bars))

	got, err := s.Read(model.Native, model.TradeKind, ts)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, b := range got {
		assert.Equal(t, i, b.Seq)
	}
}

func TestPersistSplitsDays(t *testing.T) {
	s := NewFileSink(t.TempDir(), "X", "Y", saver.CSVCodec{}, nil, nil)
	require.NoError(t, s.Persist(context.Background(), model.Minute, model.TradeKind, []model.Bar{
		tradeBar(day0.Add(23*time.Hour+59*time.Minute), time.Minute, 0, "1", "1"),
		tradeBar(day0.AddDate(0, 0, 1), time.Minute, 0, "2", "1"),
	}))
	a, err := s.Read(model.Minute, model.TradeKind, day0)
	require.NoError(t, err)
	b, err := s.Read(model.Minute, model.TradeKind, day0.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Len(t, a, 1)
	assert.Len(t, b, 1)
}

func TestPersistRejectsKindMismatch(t *testing.T) {
	s := NewFileSink(t.TempDir(), "X", "Y", saver.CSVCodec{}, nil, nil)
	err := s.Persist(context.Background(), model.Minute, model.QuoteKind, []model.Bar{tradeBar(day0, time.Minute, 0, "1", "1")})
	assert.ErrorIs(t, err, model.ErrKindMismatch)
}

func TestReadMissingFile(t *testing.T) {
	s := NewFileSink(t.TempDir(), "X", "Y", saver.CSVCodec{}, nil, nil)
	bars, err := s.Read(model.Daily, model.QuoteKind, day0)
	require.NoError(t, err)
	assert.Empty(t, bars)
}

func TestPersistMirrorsFiles(t *testing.T) {
	m := &fakeMirror{}
	s := NewFileSink(t.TempDir(), "BINANCE", "ETH_USDT", saver.CSVCodec{}, m, nil)
	require.NoError(t, s.Persist(context.Background(), model.Daily, model.TradeKind, []model.Bar{tradeBar(day0, 24*time.Hour, 0, "1", "1")}))
	assert.Equal(t, []string{"binance/daily/eth_usdt_trade.csv"}, m.keys)

	m.err = errors.New("denied")
	err := s.Persist(context.Background(), model.Daily, model.TradeKind, []model.Bar{tradeBar(day0, 24*time.Hour, 0, "1", "1")})
	assert.ErrorContains(t, err, "denied")
}

type fakeS3 struct {
	in   *s3.PutObjectInput
	body []byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	var err error
	f.body, err = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, err
}

func TestS3MirrorUpload(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bars.csv")
	require.NoError(t, os.WriteFile(p, []byte("t,seq\n"), 0644))

	api := &fakeS3{}
	m := &S3Mirror{client: api, bucket: "market-data", prefix: "bars"}
	require.NoError(t, m.Upload(context.Background(), "binance/daily/eth_usdt_trade.csv", p))
	assert.Equal(t, "market-data", aws.ToString(api.in.Bucket))
	assert.Equal(t, "bars/binance/daily/eth_usdt_trade.csv", aws.ToString(api.in.Key))
	assert.Equal(t, "text/csv", aws.ToString(api.in.ContentType))
	assert.Equal(t, "t,seq\n", string(api.body))
}
