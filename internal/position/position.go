// Package position tracks a single instrument's signed quantity, average
// entry price, and realized P&L across a fill stream.
package position

import (
	"sync"

	"github.com/marketflow/cryptomm/pkg/fixedpoint"
	"github.com/marketflow/cryptomm/pkg/wire"
)

// Position is concurrency-safe: the simulator and the periodic quote-tick
// loop both touch it from different goroutines.
type Position struct {
	mu            sync.RWMutex
	quantity      fixedpoint.FixedPoint
	avgEntryPrice fixedpoint.FixedPoint
	realizedPnL   fixedpoint.FixedPoint
}

// New returns a flat position.
func New() *Position {
	return &Position{}
}

// Restore rebuilds a position from previously persisted state (see
// internal/store), bypassing ApplyFill's weighted-average logic since the
// values being restored already are the final averaged state.
func Restore(quantity, avgEntryPrice, realizedPnL fixedpoint.FixedPoint) *Position {
	return &Position{quantity: quantity, avgEntryPrice: avgEntryPrice, realizedPnL: realizedPnL}
}

// ApplyFill updates the position from a single fill, per spec §4.8:
//   - flat -> open at px, signed quantity ±qty
//   - same-sign growth -> weighted-average entry price
//   - same-sign shrink (partial close) -> realize (px-avg)*closedQty, avg
//     unchanged
//   - sign flip -> realize on the fully-closed portion, then open the
//     remainder at px
func (p *Position) ApplyFill(side wire.Side, px, qty fixedpoint.FixedPoint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fillQty := qty
	if side == wire.SideAsk {
		fillQty = qty.Neg()
	}

	newQuantity := p.quantity.Add(fillQty)

	switch {
	case p.quantity == fixedpoint.Zero:
		p.quantity = newQuantity
		p.avgEntryPrice = px

	case sameSign(p.quantity, newQuantity) && abs(newQuantity) > abs(p.quantity):
		totalCost := p.avgEntryPrice.Mul(p.quantity).Add(px.Mul(fillQty))
		p.avgEntryPrice = totalCost.Div(newQuantity)
		p.quantity = newQuantity

	case !sameSign(p.quantity, newQuantity):
		closePnL := px.Sub(p.avgEntryPrice).Mul(p.quantity)
		p.realizedPnL = p.realizedPnL.Add(closePnL)
		p.quantity = newQuantity
		p.avgEntryPrice = px

	default:
		closedQty := fillQty.Neg()
		closePnL := px.Sub(p.avgEntryPrice).Mul(closedQty)
		p.realizedPnL = p.realizedPnL.Add(closePnL)
		p.quantity = newQuantity
	}
}

func sameSign(a, b fixedpoint.FixedPoint) bool {
	return (a.Cmp(fixedpoint.Zero) > 0) == (b.Cmp(fixedpoint.Zero) > 0)
}

func abs(a fixedpoint.FixedPoint) fixedpoint.FixedPoint {
	if a.Cmp(fixedpoint.Zero) < 0 {
		return a.Neg()
	}
	return a
}

// UnrealizedPnL returns (mark-avgEntry)*quantity, or zero when flat.
func (p *Position) UnrealizedPnL(mark fixedpoint.FixedPoint) fixedpoint.FixedPoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.quantity == fixedpoint.Zero {
		return fixedpoint.Zero
	}
	return mark.Sub(p.avgEntryPrice).Mul(p.quantity)
}

// TotalPnL returns RealizedPnL + UnrealizedPnL(mark).
func (p *Position) TotalPnL(mark fixedpoint.FixedPoint) fixedpoint.FixedPoint {
	p.mu.RLock()
	realized := p.realizedPnL
	p.mu.RUnlock()
	return realized.Add(p.UnrealizedPnL(mark))
}

// Quantity returns the current signed quantity.
func (p *Position) Quantity() fixedpoint.FixedPoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.quantity
}

// AvgEntryPrice returns the current volume-weighted average entry price.
func (p *Position) AvgEntryPrice() fixedpoint.FixedPoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.avgEntryPrice
}

// RealizedPnL returns the cumulative realized P&L.
func (p *Position) RealizedPnL() fixedpoint.FixedPoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.realizedPnL
}

// Snapshot captures a consistent view of the position for publishing as a
// wire.Position message.
type Snapshot struct {
	Quantity      fixedpoint.FixedPoint
	AvgEntryPrice fixedpoint.FixedPoint
	UnrealizedPnL fixedpoint.FixedPoint
	RealizedPnL   fixedpoint.FixedPoint
}

// Snapshot returns a consistent snapshot of the position against mark.
func (p *Position) Snapshot(mark fixedpoint.FixedPoint) Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var unrealized fixedpoint.FixedPoint
	if p.quantity != fixedpoint.Zero {
		unrealized = mark.Sub(p.avgEntryPrice).Mul(p.quantity)
	}
	return Snapshot{
		Quantity:      p.quantity,
		AvgEntryPrice: p.avgEntryPrice,
		UnrealizedPnL: unrealized,
		RealizedPnL:   p.realizedPnL,
	}
}
