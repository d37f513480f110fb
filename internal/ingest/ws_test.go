package ingest

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/marketflow/cryptomm/internal/transport"
	"github.com/marketflow/cryptomm/pkg/wire"
)

func newTestIngestor(t *testing.T) *Ingestor {
	t.Helper()
	fabric := transport.New(16, slog.Default())
	ig, err := New(Config{Symbol: "BTCUSDT", Channel: "ipc:test", QueueCapacity: 4}, fabric, slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return ig
}

func TestParseDepthFrameEnqueuesDecodableBatch(t *testing.T) {
	t.Parallel()

	ig := newTestIngestor(t)
	raw := []byte(`{"e":"depthUpdate","E":1700000000000,"s":"BTCUSDT","U":100,"u":110,"pu":99,
		"b":[["50000.00000000","1.50000000"]],"a":[["50001.00000000","2.00000000"]]}`)

	if err := ig.parseDepthFrame(raw); err != nil {
		t.Fatalf("parseDepthFrame: %v", err)
	}

	select {
	case msg := <-ig.queue:
		batch, err := wire.DecodeOrderBookBatch(msg)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if batch.FirstID != 100 || batch.FinalID != 110 || batch.PrevID != 99 {
			t.Errorf("sequence ids = U=%d u=%d pu=%d", batch.FirstID, batch.FinalID, batch.PrevID)
		}
		if len(batch.Bids) != 1 || len(batch.Asks) != 1 {
			t.Errorf("expected one bid and one ask level, got %d/%d", len(batch.Bids), len(batch.Asks))
		}
	default:
		t.Fatal("expected a message on the queue")
	}
}

func TestParseTradeFrameSideFromBuyerMakerFlag(t *testing.T) {
	t.Parallel()

	ig := newTestIngestor(t)
	raw := []byte(`{"e":"trade","E":1700000000000,"s":"BTCUSDT","t":42,"p":"50000.00000000","q":"0.01000000","m":true}`)

	if err := ig.parseTradeFrame(raw); err != nil {
		t.Fatalf("parseTradeFrame: %v", err)
	}

	msg := <-ig.queue
	trade, err := wire.DecodeTrade(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if trade.Side != wire.SideAsk {
		t.Errorf("IsBuyerMaker=true should mean the aggressor sold (ask side), got side=%v", trade.Side)
	}
	if trade.TradeID != 42 {
		t.Errorf("TradeID = %d, want 42", trade.TradeID)
	}
}

func TestEnqueueDropsOnFullQueueWithoutBlocking(t *testing.T) {
	t.Parallel()

	fabric := transport.New(16, slog.Default())
	ig, err := New(Config{Symbol: "BTCUSDT", Channel: "ipc:test", QueueCapacity: 1}, fabric, slog.Default())
	if err != nil {
		t.Fatal(err)
	}

	if err := ig.enqueue([]byte("a")); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}

	done := make(chan struct{})
	go func() {
		_ = ig.enqueue([]byte("b"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("enqueue blocked on a full queue instead of dropping")
	}
}

func TestRunPublisherDrainsQueueOntoFabric(t *testing.T) {
	t.Parallel()

	fabric := transport.New(16, slog.Default())
	ig, err := New(Config{Symbol: "BTCUSDT", Channel: "ipc:pub", QueueCapacity: 4}, fabric, slog.Default())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ig.runPublisher(ctx)

	ig.queue <- []byte("hello")

	sub := fabric.NewSubscriber("ipc:pub", transport.StreamMarketData)
	got, err := sub.ReceiveTimeout(ctx, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("ReceiveTimeout: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}
}
