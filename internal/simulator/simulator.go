// Package simulator provides a paper-trading execution venue: it accepts
// quotes from the strategy engine as virtual resting orders, applies a
// configurable placement/cancellation latency, and fills them against the
// live order book and trade tape instead of a real exchange. Grounded on
// mm_sim_executor::OrderBookSimulator.
package simulator

import (
	"log/slog"
	"sync"

	"github.com/marketflow/cryptomm/internal/marketdata"
	"github.com/marketflow/cryptomm/internal/position"
	"github.com/marketflow/cryptomm/internal/strategy"
	"github.com/marketflow/cryptomm/pkg/fixedpoint"
	"github.com/marketflow/cryptomm/pkg/wire"
)

// Order is a resting virtual order.
type Order struct {
	OrderID           uint64
	Side              wire.Side
	Price             fixedpoint.FixedPoint
	RemainingQuantity fixedpoint.FixedPoint
	OriginalQuantity  fixedpoint.FixedPoint
	ActiveAtNs        uint64
}

// Fill is one simulated execution event.
type Fill struct {
	OrderID   uint64
	Side      wire.Side
	Price     fixedpoint.FixedPoint
	Quantity  fixedpoint.FixedPoint
	IsMaker   bool
	Timestamp uint64
}

// Config tunes the fidelity of the simulation.
type Config struct {
	// OrderPlacementLatencyUs is the delay before a placed order becomes
	// eligible to fill, in microseconds.
	OrderPlacementLatencyUs uint64
	// OrderCancellationLatencyUs is the delay before a cancellation takes
	// effect, in microseconds. Currently advisory: Cancel removes the
	// order immediately, matching the teacher's simplification.
	OrderCancellationLatencyUs uint64
	// FillProbabilityFactor scales how much of an eligible order's
	// remaining quantity fills per market update, in [0, 1].
	FillProbabilityFactor float64
	// TrackQueuePosition enables queue-aware partial fills. Unimplemented
	// placeholder carried from the teacher for forward compatibility.
	TrackQueuePosition bool
}

// DefaultConfig mirrors SimulatorConfig::default().
func DefaultConfig() Config {
	return Config{
		OrderPlacementLatencyUs:    10_000,
		OrderCancellationLatencyUs: 5_000,
		FillProbabilityFactor:     0.8,
		TrackQueuePosition:        false,
	}
}

// Book is the subset of marketdata.Book the simulator needs to evaluate
// fill conditions.
type Book interface {
	BestBid() (fixedpoint.FixedPoint, fixedpoint.FixedPoint, bool)
	BestAsk() (fixedpoint.FixedPoint, fixedpoint.FixedPoint, bool)
}

var _ Book = (*marketdata.Book)(nil)

// Venue is a simulated order book matching engine. It owns a live
// position, so fills flow straight into P&L accounting.
type Venue struct {
	mu sync.Mutex

	cfg         Config
	nextOrderID uint64
	active      map[uint64]*Order
	pos         *position.Position
	fills       []Fill

	logger *slog.Logger
}

// NewVenue creates a simulator wired to pos, which it mutates on every fill.
func NewVenue(cfg Config, pos *position.Position, logger *slog.Logger) *Venue {
	return &Venue{
		cfg:         cfg,
		nextOrderID: 1,
		active:      make(map[uint64]*Order),
		pos:         pos,
		logger:      logger.With("component", "simulator"),
	}
}

// Position returns the venue's live position.
func (v *Venue) Position() *position.Position {
	return v.pos
}

// DrainFills returns and clears all fills recorded since the last call.
func (v *Venue) DrainFills() []Fill {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := v.fills
	v.fills = nil
	return out
}

// PlaceOrdersFromQuote places the non-zero sides of q as resting orders.
func (v *Venue) PlaceOrdersFromQuote(q strategy.Quote, timestamp uint64) []uint64 {
	var ids []uint64
	if q.BidSize.Cmp(fixedpoint.Zero) > 0 {
		ids = append(ids, v.PlaceOrder(wire.SideBid, q.BidPrice, q.BidSize, timestamp))
	}
	if q.AskSize.Cmp(fixedpoint.Zero) > 0 {
		ids = append(ids, v.PlaceOrder(wire.SideAsk, q.AskPrice, q.AskSize, timestamp))
	}
	return ids
}

// PlaceOrder submits a single resting order, active after the configured
// placement latency.
func (v *Venue) PlaceOrder(side wire.Side, price, quantity fixedpoint.FixedPoint, timestamp uint64) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	orderID := v.nextOrderID
	v.nextOrderID++

	activeAtNs := timestamp + v.cfg.OrderPlacementLatencyUs*1000

	v.active[orderID] = &Order{
		OrderID:           orderID,
		Side:              side,
		Price:             price,
		RemainingQuantity: quantity,
		OriginalQuantity:  quantity,
		ActiveAtNs:        activeAtNs,
	}

	v.logger.Debug("placed order", "id", orderID, "side", side, "price", price.ToFloat64(), "qty", quantity.ToFloat64(), "active_at_ns", activeAtNs)
	return orderID
}

// CancelOrder removes a resting order, reporting whether it existed.
func (v *Venue) CancelOrder(orderID uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.active[orderID]; !ok {
		return false
	}
	delete(v.active, orderID)
	v.logger.Debug("cancelled order", "id", orderID)
	return true
}

// CancelAllOrders clears every resting order.
func (v *Venue) CancelAllOrders() {
	v.mu.Lock()
	defer v.mu.Unlock()

	count := len(v.active)
	v.active = make(map[uint64]*Order)
	if count > 0 {
		v.logger.Debug("cancelled all orders", "count", count)
	}
}

// ActiveOrderCount returns the number of resting orders.
func (v *Venue) ActiveOrderCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.active)
}

// UpdateMarketData evaluates every resting order against current market
// state, filling it (fully or partially) when the fill condition holds,
// and removes orders once fully filled.
func (v *Venue) UpdateMarketData(book Book, timestamp uint64, lastTradePrice fixedpoint.FixedPoint, hasLastTrade bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	bestBid, _, hasBid := book.BestBid()
	bestAsk, _, hasAsk := book.BestAsk()

	var toRemove []uint64

	for orderID, order := range v.active {
		if timestamp < order.ActiveAtNs {
			continue
		}

		shouldFill := false
		switch order.Side {
		case wire.SideBid:
			if hasLastTrade {
				shouldFill = lastTradePrice.Cmp(order.Price) <= 0
			} else if hasAsk {
				shouldFill = bestAsk.Cmp(order.Price) <= 0
			}
		case wire.SideAsk:
			if hasLastTrade {
				shouldFill = lastTradePrice.Cmp(order.Price) >= 0
			} else if hasBid {
				shouldFill = bestBid.Cmp(order.Price) >= 0
			}
		}

		if !shouldFill {
			continue
		}

		fillQty := calculateFillQuantity(v.cfg.FillProbabilityFactor, order)
		if fillQty.Cmp(fixedpoint.Zero) <= 0 {
			continue
		}

		v.fills = append(v.fills, Fill{
			OrderID:   orderID,
			Side:      order.Side,
			Price:     order.Price,
			Quantity:  fillQty,
			IsMaker:   true,
			Timestamp: timestamp,
		})

		v.pos.ApplyFill(order.Side, order.Price, fillQty)

		order.RemainingQuantity = order.RemainingQuantity.Sub(fillQty)
		if order.RemainingQuantity.Cmp(fixedpoint.Zero) <= 0 {
			toRemove = append(toRemove, orderID)
		}

		v.logger.Debug("order fill", "id", orderID, "side", order.Side, "price", order.Price.ToFloat64(),
			"qty", fillQty.ToFloat64(), "remaining", order.RemainingQuantity.ToFloat64())
	}

	for _, orderID := range toRemove {
		delete(v.active, orderID)
	}
}

// calculateFillQuantity fills a fraction of the order's remaining quantity
// proportional to fillProbabilityFactor. A real venue would weigh queue
// position and book depth; this is the teacher's simplification.
func calculateFillQuantity(fillProbabilityFactor float64, order *Order) fixedpoint.FixedPoint {
	return order.RemainingQuantity.MulScalar(fillProbabilityFactor)
}

// Latency models order placement and cancellation delays independent of
// a Venue, for components that need to reason about timing without
// owning order state (e.g. backtest replay).
type Latency struct {
	placementLatencyUs    uint64
	cancellationLatencyUs uint64
}

// NewLatency creates a latency model with the given microsecond delays.
func NewLatency(placementLatencyUs, cancellationLatencyUs uint64) Latency {
	return Latency{placementLatencyUs: placementLatencyUs, cancellationLatencyUs: cancellationLatencyUs}
}

// OrderActiveTime returns the nanosecond timestamp at which an order
// submitted at submissionTime becomes eligible to fill.
func (l Latency) OrderActiveTime(submissionTime uint64) uint64 {
	return submissionTime + l.placementLatencyUs*1000
}

// CancellationEffectiveTime returns the nanosecond timestamp at which a
// cancellation submitted at cancellationTime takes effect.
func (l Latency) CancellationEffectiveTime(cancellationTime uint64) uint64 {
	return cancellationTime + l.cancellationLatencyUs*1000
}
