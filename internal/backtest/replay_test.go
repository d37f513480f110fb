package backtest

import (
	"io"
	"log/slog"
	"testing"

	"github.com/marketflow/cryptomm/internal/transport"
	"github.com/marketflow/cryptomm/pkg/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReplayEngineSimulatedStartTime(t *testing.T) {
	t.Parallel()

	events := []HistoricalEvent{
		{Kind: EventTrade, Trade: TradeEvent{TimestampNs: 1_000_000_000, Symbol: "BTCUSDT", TradeID: 1, Price: 50000.0, Quantity: 0.1, Side: wire.SideBid, IsAggressor: true}},
	}
	stream := NewDataStream(events, 10.0)

	fabric := transport.New(16, testLogger())
	obPub := fabric.NewPublisher("backtest", transport.StreamMarketData)
	tradePub := fabric.NewPublisher("backtest", transport.StreamTradeData)

	engine := NewReplayEngine(stream, obPub, tradePub, testLogger())
	if engine.simulatedStartTime != 1_000_000_000 {
		t.Errorf("simulatedStartTime = %d, want 1_000_000_000", engine.simulatedStartTime)
	}
}

func TestReplayEngineTickPublishesDueEvents(t *testing.T) {
	t.Parallel()

	events := []HistoricalEvent{
		{Kind: EventTrade, Trade: TradeEvent{TimestampNs: 1000, Symbol: "BTCUSDT", TradeID: 1, Price: 50000.0, Quantity: 0.1, Side: wire.SideBid, IsAggressor: true}},
	}
	stream := NewDataStream(events, 1.0)

	fabric := transport.New(16, testLogger())
	obPub := fabric.NewPublisher("backtest", transport.StreamMarketData)
	tradePub := fabric.NewPublisher("backtest", transport.StreamTradeData)
	sub := fabric.NewSubscriber("backtest", transport.StreamTradeData)

	engine := NewReplayEngine(stream, obPub, tradePub, testLogger())

	processed, err := engine.Tick()
	if err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if processed != 1 {
		t.Fatalf("Tick() processed = %d, want 1", processed)
	}

	if _, err := sub.Poll(); err != nil {
		t.Errorf("expected trade message on the fabric, got %v", err)
	}

	if !engine.IsComplete() {
		t.Error("IsComplete() = false after draining the only event")
	}
}
