package backtest

import (
	"testing"

	"github.com/marketflow/cryptomm/pkg/wire"
)

func TestDataStreamOrdering(t *testing.T) {
	t.Parallel()

	events := []HistoricalEvent{
		{Kind: EventTrade, Trade: TradeEvent{TimestampNs: 2000, Symbol: "BTCUSDT", TradeID: 2, Price: 50001.0, Quantity: 0.2, Side: wire.SideAsk, IsAggressor: true}},
		{Kind: EventTrade, Trade: TradeEvent{TimestampNs: 1000, Symbol: "BTCUSDT", TradeID: 1, Price: 50000.0, Quantity: 0.1, Side: wire.SideBid, IsAggressor: true}},
	}

	stream := NewDataStream(events, 1.0)
	if !stream.HasMore() {
		t.Fatal("HasMore() = false, want true")
	}
	if got := stream.RemainingEvents(); got != 2 {
		t.Fatalf("RemainingEvents() = %d, want 2", got)
	}

	e1, ok := stream.NextEvent()
	if !ok || e1.Timestamp() != 1000 {
		t.Fatalf("first event timestamp = %d, want 1000", e1.Timestamp())
	}

	e2, ok := stream.NextEvent()
	if !ok || e2.Timestamp() != 2000 {
		t.Fatalf("second event timestamp = %d, want 2000", e2.Timestamp())
	}

	if stream.HasMore() {
		t.Error("HasMore() = true after draining all events, want false")
	}
}

func TestDataStreamTimeRange(t *testing.T) {
	t.Parallel()

	events := []HistoricalEvent{
		{Kind: EventTrade, Trade: TradeEvent{TimestampNs: 1000}},
		{Kind: EventTrade, Trade: TradeEvent{TimestampNs: 5000}},
	}
	stream := NewDataStream(events, 1.0)

	start, end, ok := stream.TimeRange()
	if !ok {
		t.Fatal("TimeRange() ok = false")
	}
	if start != 1000 || end != 5000 {
		t.Errorf("TimeRange() = (%d, %d), want (1000, 5000)", start, end)
	}
}
