package strategy

import (
	"log/slog"
	"os"
	"testing"

	"github.com/marketflow/cryptomm/internal/drift"
	"github.com/marketflow/cryptomm/internal/position"
	"github.com/marketflow/cryptomm/internal/risk"
	"github.com/marketflow/cryptomm/pkg/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MinSpreadBps = 5.0
	cfg.BaseQuoteSize = 0.1

	pos := position.New()
	riskCfg := risk.Config{MaxPositionSize: cfg.MaxPositionSize, MaxOrderSize: 100.0, MinConfidence: 0.1}
	riskMgr := risk.NewManager(riskCfg, testLogger())

	return NewEngine(cfg, pos, riskMgr, testLogger())
}

func testState() drift.State {
	return drift.State{
		Timestamp: 1_000_000_000,
		BidPrice:  fp(100.0),
		AskPrice:  fp(101.0),
		BidVolume: fp(10.0),
		AskVolume: fp(10.0),
	}
}

func TestQuoteGeneration(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	q := e.GenerateQuotes(testState())
	if q == nil {
		t.Fatal("GenerateQuotes() = nil, want a quote")
	}
	if q.BidPrice.Cmp(q.AskPrice) >= 0 {
		t.Errorf("BidPrice %v >= AskPrice %v", q.BidPrice.ToFloat64(), q.AskPrice.ToFloat64())
	}
	if q.BidSize.ToFloat64() <= 0 || q.AskSize.ToFloat64() <= 0 {
		t.Errorf("expected positive sizes, got bid=%v ask=%v", q.BidSize.ToFloat64(), q.AskSize.ToFloat64())
	}
}

func TestLadderQuotes(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	quotes := e.GenerateLadderQuotes(testState(), 3, 5.0)
	if len(quotes) == 0 {
		t.Fatal("GenerateLadderQuotes() = empty, want at least the base level")
	}
	if len(quotes) > 3 {
		t.Fatalf("GenerateLadderQuotes() returned %d levels, want <= 3", len(quotes))
	}
	if len(quotes) > 1 {
		if quotes[1].BidPrice.Cmp(quotes[0].BidPrice) >= 0 {
			t.Error("level 1 bid should be lower than level 0 bid")
		}
		if quotes[1].AskPrice.Cmp(quotes[0].AskPrice) <= 0 {
			t.Error("level 1 ask should be higher than level 0 ask")
		}
	}
}

func TestQuoteGenerationBlockedWhenKilled(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	e.risk.Kill("test")
	if q := e.GenerateQuotes(testState()); q != nil {
		t.Error("GenerateQuotes() while killed returned a quote, want nil")
	}
}

func TestInventorySkewWidensOneSide(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MinSpreadBps = 10.0
	cfg.InventorySkewFactor = 0.001
	cfg.BaseQuoteSize = 0.1

	pos := position.New()
	pos.ApplyFill(wire.SideBid, fp(100), fp(5))

	riskCfg := risk.Config{MaxPositionSize: cfg.MaxPositionSize, MaxOrderSize: 100.0, MinConfidence: 0.1}
	riskMgr := risk.NewManager(riskCfg, testLogger())
	e := NewEngine(cfg, pos, riskMgr, testLogger())

	q := e.GenerateQuotes(testState())
	if q == nil {
		t.Fatal("GenerateQuotes() = nil")
	}
	bidGap := q.FairValue.Sub(q.BidPrice).ToFloat64()
	askGap := q.AskPrice.Sub(q.FairValue).ToFloat64()
	if askGap <= bidGap {
		t.Errorf("long inventory: ask distance from fair value %v should exceed bid distance %v", askGap, bidGap)
	}
}
