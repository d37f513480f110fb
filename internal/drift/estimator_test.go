package drift

import (
	"testing"

	"github.com/marketflow/cryptomm/pkg/fixedpoint"
	"github.com/marketflow/cryptomm/pkg/wire"
)

func fp(v float64) fixedpoint.FixedPoint { return fixedpoint.FromFloat64(v) }

func TestTradeFlowImbalanceMoreBuyVolume(t *testing.T) {
	t.Parallel()

	a := newTradeFlowAnalyzer(DefaultConfig())
	a.addTrade(Trade{TimestampMs: 1000, Price: fp(100), Qty: fp(1.0), Side: wire.SideBid, IsAggressor: true})
	a.addTrade(Trade{TimestampMs: 1500, Price: fp(100.5), Qty: fp(0.5), Side: wire.SideAsk, IsAggressor: true})

	if imb := a.tradeImbalance(); imb <= 0 {
		t.Errorf("tradeImbalance() = %v, want > 0 (more buy volume)", imb)
	}
}

func TestAggressiveTradeFilteringIgnoresPassiveFills(t *testing.T) {
	t.Parallel()

	a := newTradeFlowAnalyzer(DefaultConfig())
	a.addTrade(Trade{TimestampMs: 1000, Price: fp(100), Qty: fp(1.0), Side: wire.SideBid, IsAggressor: true})
	a.addTrade(Trade{TimestampMs: 1100, Price: fp(100), Qty: fp(1.0), Side: wire.SideAsk, IsAggressor: false})

	if imb := a.aggressiveTradeImbalance(); imb <= 0 {
		t.Errorf("aggressiveTradeImbalance() = %v, want > 0 (only the aggressive buy counts)", imb)
	}
}

func TestTradeWindowExpiration(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	a := newTradeFlowAnalyzer(cfg)
	a.addTrade(Trade{TimestampMs: 1000, Price: fp(100), Qty: fp(10.0), Side: wire.SideBid, IsAggressor: true})
	a.addTrade(Trade{TimestampMs: 1000 + uint64(cfg.TradeFlowWindowSecs*1000) + 1, Price: fp(100), Qty: fp(1.0), Side: wire.SideAsk, IsAggressor: true})

	if imb := a.tradeImbalance(); imb >= 0 {
		t.Errorf("tradeImbalance() = %v, want < 0 once the old buy trade expires", imb)
	}
}

func TestOFIInitializationHasNoSpuriousSpike(t *testing.T) {
	t.Parallel()

	o := newOrderFlowImbalance(DefaultConfig())
	o.update(State{BidVolume: fp(10), AskVolume: fp(10)})
	if o.value() != 0 {
		t.Errorf("value() after first update = %v, want 0", o.value())
	}
}

func TestEstimateDriftBullishOnBidVolumeIncrease(t *testing.T) {
	t.Parallel()

	e := New(DefaultConfig())
	state1 := State{BidPrice: fp(100), AskPrice: fp(101), BidVolume: fp(10), AskVolume: fp(10)}
	e.UpdateMarketState(state1)

	state2 := State{BidPrice: fp(100), AskPrice: fp(101), BidVolume: fp(20), AskVolume: fp(10)}
	e.UpdateMarketState(state2)

	if drift := e.EstimateDriftBps(state2); drift <= 0 {
		t.Errorf("EstimateDriftBps() = %v, want > 0 for a bid-volume-increase (bullish) signal", drift)
	}
}

func TestEstimateDriftBearishOnAskVolumeIncrease(t *testing.T) {
	t.Parallel()

	e := New(DefaultConfig())
	state1 := State{BidPrice: fp(100), AskPrice: fp(101), BidVolume: fp(10), AskVolume: fp(10)}
	e.UpdateMarketState(state1)

	state2 := State{BidPrice: fp(100), AskPrice: fp(101), BidVolume: fp(10), AskVolume: fp(20)}
	e.UpdateMarketState(state2)

	if drift := e.EstimateDriftBps(state2); drift >= 0 {
		t.Errorf("EstimateDriftBps() = %v, want < 0 for an ask-volume-increase (bearish) signal", drift)
	}
}

func TestConfidenceClampedToUnitInterval(t *testing.T) {
	t.Parallel()

	e := New(DefaultConfig())
	c := e.Confidence()
	if c < 0.1 || c > 1.0 {
		t.Errorf("Confidence() = %v, want within [0.1, 1.0]", c)
	}
}

func TestVolatilityNonNegative(t *testing.T) {
	t.Parallel()

	e := New(DefaultConfig())
	e.AddTrade(Trade{TimestampMs: 1000, Price: fp(100), Qty: fp(1), Side: wire.SideBid, IsAggressor: true})
	e.AddTrade(Trade{TimestampMs: 1100, Price: fp(101), Qty: fp(1), Side: wire.SideBid, IsAggressor: true})

	if v := e.CurrentVolatility(); v < 0 {
		t.Errorf("CurrentVolatility() = %v, want >= 0", v)
	}
}

func TestMicroPriceFallsBackToMidOnZeroVolume(t *testing.T) {
	t.Parallel()

	s := State{BidPrice: fp(100), AskPrice: fp(102)}
	if s.MicroPrice() != s.MidPrice() {
		t.Errorf("MicroPrice() = %v, want MidPrice() %v on zero volume", s.MicroPrice(), s.MidPrice())
	}
	if s.OrderbookImbalance() != 0 {
		t.Errorf("OrderbookImbalance() = %v, want 0 on zero volume", s.OrderbookImbalance())
	}
}

func TestMicroPriceWeightedTowardThinnerSide(t *testing.T) {
	t.Parallel()

	s := State{BidPrice: fp(100), AskPrice: fp(101), BidVolume: fp(10), AskVolume: fp(20)}
	micro := s.MicroPrice().ToFloat64()
	if micro < 100.2 || micro > 100.45 {
		t.Errorf("MicroPrice() = %v, want ~100.333", micro)
	}
}
