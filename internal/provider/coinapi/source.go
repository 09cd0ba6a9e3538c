package coinapi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tickbars/internal/model"
)

type boundary struct {
	at    time.Time
	count int // events at `at` already handed out
	valid bool
}

// Source pages through the history of one symbol. The API filters with an
// inclusive time_start, so a page that resumes at the previous page's last
// timestamp repeats the events already handed out at that instant; Source
// drops them.
type Source struct {
	client   *Client
	symbolID string

	mu    sync.Mutex
	state map[model.Kind]boundary
}

// NewSource returns a Source for the CoinAPI symbol id, e.g. BINANCE_SPOT_ETH_USDT.
func NewSource(client *Client, symbolID string) *Source {
	return &Source{client: client, symbolID: symbolID, state: make(map[model.Kind]boundary)}
}

// SymbolID builds the CoinAPI symbol id for a spot pair on exchange.
func SymbolID(exchange, ticker string) string {
	return exchange + "_SPOT_" + ticker
}

// Reset forgets the page boundary of kind so the next Fetch starts fresh.
func (s *Source) Reset(kind model.Kind) {
	s.mu.Lock()
	delete(s.state, kind)
	s.mu.Unlock()
}

// Fetch returns up to max events of kind with exchange time >= start.
func (s *Source) Fetch(ctx context.Context, kind model.Kind, start time.Time, max int) ([]model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	skip := 0
	if b := s.state[kind]; b.valid && b.at.Equal(start) {
		skip = b.count
	}
	limit := max + skip
	if limit > maxLimit {
		return nil, fmt.Errorf("%d events share %s; page limit %d exceeded", skip, start.Format(time.RFC3339Nano), maxLimit)
	}

	var events []model.Event
	var err error
	switch kind {
	case model.TradeKind:
		events, err = s.client.Trades(ctx, s.symbolID, start, limit)
	case model.QuoteKind:
		events, err = s.client.Quotes(ctx, s.symbolID, start, limit)
	default:
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownKind, kind)
	}
	if err != nil {
		return nil, err
	}

	dropped := 0
	for dropped < skip && dropped < len(events) && events[dropped].ExchangeTime.Equal(start) {
		dropped++
	}
	events = events[dropped:]
	if len(events) > max {
		events = events[:max]
	}
	if len(events) == 0 {
		return nil, nil
	}

	// the caller resumes at the latest exchange time of the page
	last := events[0].ExchangeTime
	for _, ev := range events[1:] {
		if ev.ExchangeTime.After(last) {
			last = ev.ExchangeTime
		}
	}
	n := 0
	for _, ev := range events {
		if ev.ExchangeTime.Equal(last) {
			n++
		}
	}
	if last.Equal(start) {
		n += dropped
	}
	s.state[kind] = boundary{at: last, count: n, valid: true}
	return events, nil
}
