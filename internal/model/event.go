package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownKind is returned when an event or bar carries a kind that no
	// adapter or aggregator knows how to handle.
	ErrUnknownKind = errors.New("unknown event kind")
	// ErrKindMismatch is returned when the populated payload does not match Kind.
	ErrKindMismatch = errors.New("payload does not match event kind")
)

// Kind tags the payload carried by an Event or a Bar.
type Kind int

const (
	TradeKind Kind = iota + 1
	QuoteKind
)

// Kinds lists every supported kind in processing order (trade before quote).
var Kinds = []Kind{TradeKind, QuoteKind}

func (k Kind) String() string {
	switch k {
	case TradeKind:
		return "trade"
	case QuoteKind:
		return "quote"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind converts "trade" / "quote" to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trade", "trades":
		return TradeKind, nil
	case "quote", "quotes":
		return QuoteKind, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Trade is a single execution.
type Trade struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Quote is a top-of-book update. A zero price means the side is unset.
type Quote struct {
	BidPrice decimal.Decimal
	BidSize  decimal.Decimal
	AskPrice decimal.Decimal
	AskSize  decimal.Decimal
}

// Event is one market event. Exactly one of Trade or Quote is set, selected by Kind.
type Event struct {
	EventTime    time.Time
	ExchangeTime time.Time
	Kind         Kind
	Trade        *Trade
	Quote        *Quote
}

// NewTradeEvent builds a trade event stamped with the exchange time.
func NewTradeEvent(t time.Time, price, size decimal.Decimal) Event {
	return Event{
		EventTime:    t,
		ExchangeTime: t,
		Kind:         TradeKind,
		Trade:        &Trade{Price: price, Size: size},
	}
}

// NewQuoteEvent builds a quote event stamped with the exchange time.
func NewQuoteEvent(t time.Time, bidPrice, bidSize, askPrice, askSize decimal.Decimal) Event {
	return Event{
		EventTime:    t,
		ExchangeTime: t,
		Kind:         QuoteKind,
		Quote: &Quote{
			BidPrice: bidPrice,
			BidSize:  bidSize,
			AskPrice: askPrice,
			AskSize:  askSize,
		},
	}
}

// Validate checks that the payload matches Kind.
func (e Event) Validate() error {
	switch e.Kind {
	case TradeKind:
		if e.Trade == nil || e.Quote != nil {
			return fmt.Errorf("%w: %s", ErrKindMismatch, e.Kind)
		}
		if !e.Trade.Price.IsPositive() || e.Trade.Size.IsNegative() {
			return fmt.Errorf("invalid trade at %s: price=%s size=%s", e.EventTime.Format(time.RFC3339Nano), e.Trade.Price, e.Trade.Size)
		}
	case QuoteKind:
		if e.Quote == nil || e.Trade != nil {
			return fmt.Errorf("%w: %s", ErrKindMismatch, e.Kind)
		}
		q := e.Quote
		if q.BidPrice.IsNegative() || q.BidSize.IsNegative() || q.AskPrice.IsNegative() || q.AskSize.IsNegative() {
			return fmt.Errorf("invalid quote at %s: negative field", e.EventTime.Format(time.RFC3339Nano))
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKind, e.Kind)
	}
	return nil
}
