// Package backtest replays historical order-book and trade data through
// the same transport fabric the live pipeline uses (§4.13), so pricing,
// strategy, and simulator components run unmodified against recorded
// history. Grounded on mm_backtest.
package backtest

import (
	"errors"

	"github.com/marketflow/cryptomm/pkg/wire"
)

// ErrNoData is returned when a data directory yields zero events in the
// requested time range.
var ErrNoData = errors.New("backtest: no data available")

// OrderBookUpdate is one historical L2 snapshot or delta.
type OrderBookUpdate struct {
	TimestampNs uint64
	Symbol      string
	Bids        []PriceQty
	Asks        []PriceQty
}

// PriceQty is a raw (price, quantity) pair as read from CSV, ahead of
// fixed-point conversion at the transport-encoding boundary.
type PriceQty struct {
	Price float64
	Qty   float64
}

// TradeEvent is one historical executed trade.
type TradeEvent struct {
	TimestampNs uint64
	Symbol      string
	TradeID     uint64
	Price       float64
	Quantity    float64
	Side        wire.Side
	IsAggressor bool
}

// EventKind discriminates HistoricalEvent's two variants.
type EventKind int

const (
	EventOrderBook EventKind = iota
	EventTrade
)

// HistoricalEvent is the unified replay unit: exactly one of OrderBook or
// Trade is populated, selected by Kind.
type HistoricalEvent struct {
	Kind      EventKind
	OrderBook OrderBookUpdate
	Trade     TradeEvent
}

// Timestamp returns the event's nanosecond timestamp regardless of kind.
func (e HistoricalEvent) Timestamp() uint64 {
	if e.Kind == EventOrderBook {
		return e.OrderBook.TimestampNs
	}
	return e.Trade.TimestampNs
}
