package coinapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickbars/internal/model"
)

var day0 = time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeTrade struct {
	t     time.Time
	price string
}

// historyServer serves trades with time_exchange >= time_start, oldest first.
func historyServer(t *testing.T, trades []fakeTrade, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if r.Header.Get(apiKeyHeader) != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"Invalid API key"}`)
			return
		}
		start, err := time.Parse(time.RFC3339Nano, r.URL.Query().Get("time_start"))
		require.NoError(t, err)
		limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
		require.NoError(t, err)

		out := []map[string]any{}
		for _, tr := range trades {
			if tr.t.Before(start) || len(out) >= limit {
				continue
			}
			out = append(out, map[string]any{
				"symbol_id":     "BINANCE_SPOT_ETH_USDT",
				"time_exchange": tr.t.Format(timeLayout),
				"time_coinapi":  tr.t.Add(time.Millisecond).Format(timeLayout),
				"price":         json.Number(tr.price),
				"size":          0.5,
				"taker_side":    "BUY",
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}))
}

func newTestClient(t *testing.T, url, key string) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: url, APIKey: key, MaxRetries: 3, RetryDelay: time.Millisecond})
	require.NoError(t, err)
	return c
}

func TestTradesDecoding(t *testing.T) {
	var calls int32
	srv := historyServer(t, []fakeTrade{{day0.Add(time.Second), "123.456789"}}, &calls)
	defer srv.Close()

	c := newTestClient(t, srv.URL, "secret")
	evs, err := c.Trades(context.Background(), "BINANCE_SPOT_ETH_USDT", day0, 10)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	ev := evs[0]
	assert.Equal(t, model.TradeKind, ev.Kind)
	assert.True(t, day0.Add(time.Second).Equal(ev.ExchangeTime))
	assert.Equal(t, ev.ExchangeTime, ev.EventTime)
	assert.True(t, decimal.RequireFromString("123.456789").Equal(ev.Trade.Price))
	assert.True(t, decimal.RequireFromString("0.5").Equal(ev.Trade.Size))
	assert.NoError(t, ev.Validate())
}

func TestQuotesDecodingKeepsMissingSideZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/quotes/BITSTAMP_SPOT_BTC_USD/history", r.URL.Path)
		fmt.Fprint(w, `[{"symbol_id":"BITSTAMP_SPOT_BTC_USD","time_exchange":"2019-01-01T00:00:01.0000000Z",`+
			`"time_coinapi":"2019-01-01T00:00:01.1000000Z","ask_price":3700.5,"ask_size":2}]`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "secret")
	evs, err := c.Quotes(context.Background(), "BITSTAMP_SPOT_BTC_USD", day0, 5)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	q := evs[0].Quote
	require.NotNil(t, q)
	assert.True(t, q.BidPrice.IsZero())
	assert.True(t, decimal.RequireFromString("3700.5").Equal(q.AskPrice))
}

func TestRetriesOnRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":"Too many requests"}`)
			return
		}
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "secret")
	evs, err := c.Trades(context.Background(), "X", day0, 5)
	require.NoError(t, err)
	assert.Empty(t, evs)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "secret")
	_, err := c.Trades(context.Background(), "X", day0, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := historyServer(t, nil, &calls)
	defer srv.Close()

	c := newTestClient(t, srv.URL, "wrong")
	_, err := c.Trades(context.Background(), "X", day0, 5)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.Equal(t, "Invalid API key", se.Body)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestSourceSkipsEventsAlreadyHandedOut(t *testing.T) {
	ts := func(s int) time.Time { return day0.Add(time.Duration(s) * time.Second) }
	trades := []fakeTrade{
		{ts(1), "1"}, {ts(2), "2"}, {ts(2), "3"}, {ts(2), "4"}, {ts(3), "5"}, {ts(4), "6"},
	}
	var calls int32
	srv := historyServer(t, trades, &calls)
	defer srv.Close()

	src := NewSource(newTestClient(t, srv.URL, "secret"), "BINANCE_SPOT_ETH_USDT")
	ctx := context.Background()

	var got []string
	cursor := day0
	for i := 0; i < 10; i++ {
		page, err := src.Fetch(ctx, model.TradeKind, cursor, 2)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, ev := range page {
			got = append(got, ev.Trade.Price.String())
		}
		cursor = page[len(page)-1].ExchangeTime
	}
	assert.Equal(t, []string{"1", "2", "3", "4", "5", "6"}, got)

	// a fresh start after Reset reads from the beginning again
	src.Reset(model.TradeKind)
	page, err := src.Fetch(ctx, model.TradeKind, day0, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "1", page[0].Trade.Price.String())
}

func TestSourceResumesAfterLatestTimeOfPage(t *testing.T) {
	ts := func(s int) time.Time { return day0.Add(time.Duration(s) * time.Second) }
	var calls int32
	srv := historyServer(t, []fakeTrade{{ts(1), "1"}, {ts(3), "3"}, {ts(2), "2"}}, &calls)
	defer srv.Close()

	src := NewSource(newTestClient(t, srv.URL, "secret"), "BINANCE_SPOT_ETH_USDT")
	ctx := context.Background()

	page, err := src.Fetch(ctx, model.TradeKind, day0, 5)
	require.NoError(t, err)
	require.Len(t, page, 3)

	page, err = src.Fetch(ctx, model.TradeKind, ts(3), 5)
	require.NoError(t, err)
	assert.Empty(t, page, "the event at 3s was already handed out")
}

func TestSymbolID(t *testing.T) {
	assert.Equal(t, "BINANCE_SPOT_ETH_USDT", SymbolID("BINANCE", "ETH_USDT"))
}
