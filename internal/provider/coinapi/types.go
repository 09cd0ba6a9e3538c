package coinapi

import (
	"time"

	"github.com/shopspring/decimal"

	"tickbars/internal/model"
)

// TradeRaw is one element of the trades history response.
type TradeRaw struct {
	SymbolID     string          `json:"symbol_id"`
	TimeExchange time.Time       `json:"time_exchange"`
	TimeCoinAPI  time.Time       `json:"time_coinapi"`
	UUID         string          `json:"uuid"`
	Price        decimal.Decimal `json:"price"`
	Size         decimal.Decimal `json:"size"`
	TakerSide    string          `json:"taker_side"`
}

// ToEvent converts to a trade event stamped with the exchange time.
func (r TradeRaw) ToEvent() model.Event {
	return model.NewTradeEvent(r.TimeExchange.UTC(), r.Price, r.Size)
}

// QuoteRaw is one element of the quotes history response. Missing sides
// decode as zero, which the consolidation engine treats as unset.
type QuoteRaw struct {
	SymbolID     string          `json:"symbol_id"`
	TimeExchange time.Time       `json:"time_exchange"`
	TimeCoinAPI  time.Time       `json:"time_coinapi"`
	AskPrice     decimal.Decimal `json:"ask_price"`
	AskSize      decimal.Decimal `json:"ask_size"`
	BidPrice     decimal.Decimal `json:"bid_price"`
	BidSize      decimal.Decimal `json:"bid_size"`
}

// ToEvent converts to a quote event stamped with the exchange time.
func (r QuoteRaw) ToEvent() model.Event {
	return model.NewQuoteEvent(r.TimeExchange.UTC(), r.BidPrice, r.BidSize, r.AskPrice, r.AskSize)
}

// APIError is the error body CoinAPI returns with non-2xx statuses.
type APIError struct {
	Message string `json:"error"`
}
