package backtest

import (
	"testing"

	"github.com/marketflow/cryptomm/internal/position"
	"github.com/marketflow/cryptomm/pkg/fixedpoint"
	"github.com/marketflow/cryptomm/pkg/wire"
)

func TestPerformanceTracker(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(10000.0)

	tracker.RecordFill(wire.SideBid, 0.1, 10.0)
	tracker.RecordFill(wire.SideAsk, 0.1, 5.0)

	tracker.UpdateEquity(1000, 10010.0)
	tracker.UpdateEquity(2000, 10015.0)

	pos := position.New()
	pos.ApplyFill(wire.SideBid, fixedpoint.FromFloat64(50000.0), fixedpoint.FromFloat64(0.1))
	pos.ApplyFill(wire.SideAsk, fixedpoint.FromFloat64(50010.0), fixedpoint.FromFloat64(0.1))

	metrics := tracker.CalculateMetrics(pos, fixedpoint.FromFloat64(50010.0))

	if metrics.TotalTrades != 2 {
		t.Errorf("TotalTrades = %d, want 2", metrics.TotalTrades)
	}
	if metrics.BuyTrades != 1 {
		t.Errorf("BuyTrades = %d, want 1", metrics.BuyTrades)
	}
	if metrics.SellTrades != 1 {
		t.Errorf("SellTrades = %d, want 1", metrics.SellTrades)
	}
}

func TestMaxDrawdown(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(1000.0)
	tracker.UpdateEquity(1000, 1000.0)
	tracker.UpdateEquity(2000, 1200.0)
	tracker.UpdateEquity(3000, 900.0)
	tracker.UpdateEquity(4000, 1100.0)

	pos := position.New()
	metrics := tracker.CalculateMetrics(pos, fixedpoint.Zero)

	if metrics.MaxDrawdown != 300.0 {
		t.Errorf("MaxDrawdown = %v, want 300.0", metrics.MaxDrawdown)
	}
}

func TestRecordQuoteAveragesSpread(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(1000.0)
	tracker.RecordQuote(10.0)
	tracker.RecordQuote(20.0)

	pos := position.New()
	metrics := tracker.CalculateMetrics(pos, fixedpoint.Zero)

	if metrics.TotalQuotes != 2 {
		t.Errorf("TotalQuotes = %d, want 2", metrics.TotalQuotes)
	}
	if metrics.AvgSpreadBps != 15.0 {
		t.Errorf("AvgSpreadBps = %v, want 15.0", metrics.AvgSpreadBps)
	}
}
