package marketdata

import (
	"testing"

	"github.com/marketflow/cryptomm/pkg/fixedpoint"
	"github.com/marketflow/cryptomm/pkg/wire"
)

func TestUpdateBidDeleteOnZero(t *testing.T) {
	t.Parallel()

	b := NewBook("BTCUSDT")
	b.UpdateBid(fixedpoint.FromFloat64(100), fixedpoint.FromFloat64(1))
	if px, _, ok := b.BestBid(); !ok || px != fixedpoint.FromFloat64(100) {
		t.Fatalf("BestBid = %v, %v, want 100, true", px, ok)
	}

	b.UpdateBid(fixedpoint.FromFloat64(100), fixedpoint.Zero)
	if _, _, ok := b.BestBid(); ok {
		t.Errorf("expected bid removed after qty=0 update")
	}
}

func TestUpdateAbsentPriceZeroQtyIsNoop(t *testing.T) {
	t.Parallel()

	b := NewBook("BTCUSDT")
	b.UpdateBid(fixedpoint.FromFloat64(100), fixedpoint.Zero)
	if _, _, ok := b.BestBid(); ok {
		t.Errorf("expected no-op update on absent level with qty=0")
	}
}

func TestBestBidAskAndSpread(t *testing.T) {
	t.Parallel()

	b := NewBook("BTCUSDT")
	b.UpdateBid(fixedpoint.FromFloat64(99), fixedpoint.FromFloat64(1))
	b.UpdateBid(fixedpoint.FromFloat64(100), fixedpoint.FromFloat64(2))
	b.UpdateAsk(fixedpoint.FromFloat64(101), fixedpoint.FromFloat64(3))
	b.UpdateAsk(fixedpoint.FromFloat64(102), fixedpoint.FromFloat64(1))

	bidPx, _, _ := b.BestBid()
	askPx, _, _ := b.BestAsk()
	if bidPx != fixedpoint.FromFloat64(100) {
		t.Errorf("BestBid px = %v, want 100", bidPx.ToFloat64())
	}
	if askPx != fixedpoint.FromFloat64(101) {
		t.Errorf("BestAsk px = %v, want 101", askPx.ToFloat64())
	}

	mid, ok := b.MidPrice()
	if !ok || mid != fixedpoint.FromFloat64(100.5) {
		t.Errorf("MidPrice = %v, %v, want 100.5, true", mid.ToFloat64(), ok)
	}

	spread, ok := b.Spread()
	if !ok || spread != fixedpoint.FromFloat64(1) {
		t.Errorf("Spread = %v, %v, want 1, true", spread.ToFloat64(), ok)
	}
}

func TestTopKOrdering(t *testing.T) {
	t.Parallel()

	b := NewBook("BTCUSDT")
	for _, px := range []float64{98, 99, 100} {
		b.UpdateBid(fixedpoint.FromFloat64(px), fixedpoint.FromFloat64(1))
	}
	top := b.TopKBids(2)
	if len(top) != 2 {
		t.Fatalf("len(TopKBids(2)) = %d, want 2", len(top))
	}
	if fixedpoint.FixedPoint(top[0].Price) != fixedpoint.FromFloat64(100) {
		t.Errorf("top[0].Price = %v, want 100", top[0].Price)
	}
	if fixedpoint.FixedPoint(top[1].Price) != fixedpoint.FromFloat64(99) {
		t.Errorf("top[1].Price = %v, want 99", top[1].Price)
	}
}

func TestTrimDropsFurthestLevels(t *testing.T) {
	t.Parallel()

	b := NewBook("BTCUSDT")
	for _, px := range []float64{95, 96, 97, 98, 99, 100} {
		b.UpdateBid(fixedpoint.FromFloat64(px), fixedpoint.FromFloat64(1))
	}
	b.Trim(3)
	top := b.TopKBids(10)
	if len(top) != 3 {
		t.Fatalf("len(TopKBids) after Trim(3) = %d, want 3", len(top))
	}
	if fixedpoint.FixedPoint(top[0].Price) != fixedpoint.FromFloat64(100) {
		t.Errorf("expected trim to keep the levels nearest the top, got %v", top)
	}
}

func TestApplyBatchUpdatesTimestamp(t *testing.T) {
	t.Parallel()

	b := NewBook("BTCUSDT")
	batch := wire.OrderBookBatch{
		Ts:   1_700_000_000_000,
		Bids: []wire.PriceLevel{{Price: wire.FixedPointBits(fixedpoint.FromFloat64(100)), Size: wire.FixedPointBits(fixedpoint.FromFloat64(1))}},
		Asks: []wire.PriceLevel{{Price: wire.FixedPointBits(fixedpoint.FromFloat64(101)), Size: wire.FixedPointBits(fixedpoint.FromFloat64(1))}},
	}
	b.ApplyBatch(batch)
	if b.LastUpdateTs() != batch.Ts {
		t.Errorf("LastUpdateTs = %d, want %d", b.LastUpdateTs(), batch.Ts)
	}
	if _, _, ok := b.BestBid(); !ok {
		t.Errorf("expected bid applied from batch")
	}
}
