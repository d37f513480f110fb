// Package strategy composes the drift estimate, the current position, and
// risk state into two-sided quotes: inventory shaping (this file), the
// quote engine, and the toxic-flow tracker.
package strategy

import (
	"github.com/marketflow/cryptomm/internal/position"
	"github.com/marketflow/cryptomm/pkg/fixedpoint"
)

// Action is the inventory manager's recommended posture, driven by
// urgency bands and inventory-vs-drift sign alignment.
type Action int

const (
	ActionEmergencyUnwind Action = iota
	ActionAggressiveUnwind
	ActionPassiveUnwind
	ActionNeutral
	ActionAccumulate
)

func (a Action) String() string {
	switch a {
	case ActionEmergencyUnwind:
		return "emergency_unwind"
	case ActionAggressiveUnwind:
		return "aggressive_unwind"
	case ActionPassiveUnwind:
		return "passive_unwind"
	case ActionNeutral:
		return "neutral"
	case ActionAccumulate:
		return "accumulate"
	default:
		return "unknown"
	}
}

// PnLMetrics is a point-in-time P&L and inventory summary for monitoring.
type PnLMetrics struct {
	RealizedPnL   fixedpoint.FixedPoint
	UnrealizedPnL fixedpoint.FixedPoint
	TotalPnL      fixedpoint.FixedPoint
	Inventory     fixedpoint.FixedPoint
	AvgEntryPrice fixedpoint.FixedPoint
}

// InventoryManager derives skew, urgency, size shaping, and a recommended
// action from the live position and the current drift estimate, grounded
// on mm_strategy's InventoryManager.
type InventoryManager struct {
	pos *position.Position
	cfg Config
}

// NewInventoryManager binds an inventory manager to a live position.
func NewInventoryManager(pos *position.Position, cfg Config) *InventoryManager {
	return &InventoryManager{pos: pos, cfg: cfg}
}

// Inventory returns the current signed position quantity.
func (m *InventoryManager) Inventory() fixedpoint.FixedPoint {
	return m.pos.Quantity()
}

// SkewBps computes the inventory-driven quote skew in basis points.
// The quote engine subtracts half the skew from the bid spread and adds
// half to the ask spread, so positive skew tightens the bid and widens the
// ask; negative does the opposite. The base skew is amplified 1.5x when the
// inventory and drift signs disagree (adverse) and attenuated 0.7x when
// they agree (favorable).
func (m *InventoryManager) SkewBps(marketDriftBps float64) float64 {
	inventory := m.pos.Quantity().ToFloat64()
	deviation := inventory - m.cfg.TargetInventory
	baseSkew := deviation * m.cfg.InventorySkewFactor * 10000.0

	if absF(deviation) > 0.01 && absF(marketDriftBps) > 0.1 {
		sign := signF(deviation)
		if sign*marketDriftBps < 0 {
			return baseSkew * 1.5
		}
		return baseSkew * 0.7
	}
	return baseSkew
}

// Urgency returns 0 below 50% of max position utilization, ramps linearly
// to 1 at 80%, and exceeds 1 above 80% (no ceiling — RecommendedAction
// returns ActionEmergencyUnwind for values > 1).
func (m *InventoryManager) Urgency() float64 {
	utilization := absF(m.pos.Quantity().ToFloat64()) / m.cfg.MaxPositionSize
	switch {
	case utilization < 0.5:
		return 0.0
	case utilization < 0.8:
		return (utilization - 0.5) / 0.3
	default:
		return 1.0 + (utilization-0.8)/0.2
	}
}

// SizeFactor returns 1 below 50% utilization, linearly reduced toward 0.5
// between 50% and 80%, and toward 0 above 80%.
func (m *InventoryManager) SizeFactor() float64 {
	utilization := absF(m.pos.Quantity().ToFloat64()) / m.cfg.MaxPositionSize
	switch {
	case utilization < 0.5:
		return 1.0
	case utilization < 0.8:
		return 1.0 - (utilization-0.5)*0.5/0.3
	default:
		return 0.5 - (utilization-0.8)*0.5/0.2
	}
}

// AsymmetricSizes returns (bidFactor, askFactor): a long position reduces
// the bid factor (reluctant to buy more) and keeps the ask factor at 1
// (eager to sell); a short position is the mirror image.
func (m *InventoryManager) AsymmetricSizes() (bidFactor, askFactor float64) {
	inventory := m.pos.Quantity().ToFloat64()
	sizeFactor := m.SizeFactor()

	switch {
	case inventory > 0:
		return sizeFactor, 1.0
	case inventory < 0:
		return 1.0, sizeFactor
	default:
		return 1.0, 1.0
	}
}

// CanIncreasePosition reports whether a fill of size in the given
// direction (isBid = true for a buy) would keep |position| within
// MaxPositionSize.
func (m *InventoryManager) CanIncreasePosition(isBid bool, size fixedpoint.FixedPoint) bool {
	current := m.pos.Quantity().ToFloat64()
	delta := size.ToFloat64()
	if !isBid {
		delta = -delta
	}
	return absF(current+delta) <= m.cfg.MaxPositionSize
}

// RecommendedAction derives the inventory posture from urgency and
// inventory-vs-drift alignment.
func (m *InventoryManager) RecommendedAction(marketDriftBps float64) Action {
	inventory := m.pos.Quantity().ToFloat64()
	urgency := m.Urgency()

	if urgency > 1.0 {
		return ActionEmergencyUnwind
	}
	if urgency > 0.7 {
		return ActionAggressiveUnwind
	}

	switch {
	case inventory > m.cfg.TargetInventory+0.1:
		switch {
		case marketDriftBps < -5.0:
			return ActionAggressiveUnwind
		case marketDriftBps > 5.0:
			return ActionAccumulate
		default:
			return ActionPassiveUnwind
		}
	case inventory < m.cfg.TargetInventory-0.1:
		switch {
		case marketDriftBps > 5.0:
			return ActionAggressiveUnwind
		case marketDriftBps < -5.0:
			return ActionAccumulate
		default:
			return ActionPassiveUnwind
		}
	default:
		if urgency > 0.3 {
			return ActionPassiveUnwind
		}
		return ActionNeutral
	}
}

// PnLMetricsAt computes P&L metrics marked against mark.
func (m *InventoryManager) PnLMetricsAt(mark fixedpoint.FixedPoint) PnLMetrics {
	snap := m.pos.Snapshot(mark)
	return PnLMetrics{
		RealizedPnL:   snap.RealizedPnL,
		UnrealizedPnL: snap.UnrealizedPnL,
		TotalPnL:      snap.RealizedPnL.Add(snap.UnrealizedPnL),
		Inventory:     snap.Quantity,
		AvgEntryPrice: snap.AvgEntryPrice,
	}
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func signF(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
