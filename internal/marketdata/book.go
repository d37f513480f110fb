// Package marketdata maintains a local mirror of one exchange symbol's
// order book, the sequence-id synchronization state machine that guards
// against applying a stale or gapped batch, and the REST snapshot fetch
// used to (re)seed it.
package marketdata

import (
	"sort"
	"sync"
	"time"

	"github.com/marketflow/cryptomm/pkg/fixedpoint"
	"github.com/marketflow/cryptomm/pkg/wire"
)

// MaxLevels is a per-side level count. Trim takes its cap as an argument
// and does not read this constant; nothing in this module uses it.
const MaxLevels = 500

// Book is a price-ladder order book for a single symbol, keyed by
// fixed-point price on each side. Each side is an unordered map: BestBid
// and BestAsk scan the whole side, and TopKBids, TopKAsks and Trim sort the
// side's prices on every call. It is concurrency-safe: readers take the
// RWMutex's read lock, the single batch-applying writer takes the write
// lock, mirroring the teacher's market.Book.
type Book struct {
	mu     sync.RWMutex
	symbol string
	bids   map[fixedpoint.FixedPoint]fixedpoint.FixedPoint // price -> size
	asks   map[fixedpoint.FixedPoint]fixedpoint.FixedPoint
	ts     uint64
}

// NewBook creates an empty book for symbol.
func NewBook(symbol string) *Book {
	return &Book{
		symbol: symbol,
		bids:   make(map[fixedpoint.FixedPoint]fixedpoint.FixedPoint),
		asks:   make(map[fixedpoint.FixedPoint]fixedpoint.FixedPoint),
	}
}

// UpdateBid inserts, overwrites, or (qty == 0) deletes a bid level.
// qty < 0 is treated as a delete, matching the codec boundary rule that
// negative sizes never reach storage.
func (b *Book) UpdateBid(px, qty fixedpoint.FixedPoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updateLocked(b.bids, px, qty)
}

// UpdateAsk inserts, overwrites, or (qty == 0) deletes an ask level.
func (b *Book) UpdateAsk(px, qty fixedpoint.FixedPoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updateLocked(b.asks, px, qty)
}

func (b *Book) updateLocked(side map[fixedpoint.FixedPoint]fixedpoint.FixedPoint, px, qty fixedpoint.FixedPoint) {
	if qty.Cmp(fixedpoint.Zero) <= 0 {
		delete(side, px)
		return
	}
	side[px] = qty
}

// ApplyBatch applies every level of batch to the appropriate side and
// advances the book's timestamp to the batch's. Levels are applied in
// whatever order they arrive; each is independently idempotent per §4.5.
func (b *Book) ApplyBatch(batch wire.OrderBookBatch) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, lvl := range batch.Bids {
		b.updateLocked(b.bids, fixedpoint.FixedPoint(lvl.Price), fixedpoint.FixedPoint(lvl.Size))
	}
	for _, lvl := range batch.Asks {
		b.updateLocked(b.asks, fixedpoint.FixedPoint(lvl.Price), fixedpoint.FixedPoint(lvl.Size))
	}
	b.ts = batch.Ts
}

// BestBid returns the highest bid price/size, or ok=false if the side is
// empty.
func (b *Book) BestBid() (px, qty fixedpoint.FixedPoint, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return bestOf(b.bids, true)
}

// BestAsk returns the lowest ask price/size, or ok=false if the side is
// empty.
func (b *Book) BestAsk() (px, qty fixedpoint.FixedPoint, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return bestOf(b.asks, false)
}

func bestOf(side map[fixedpoint.FixedPoint]fixedpoint.FixedPoint, highest bool) (fixedpoint.FixedPoint, fixedpoint.FixedPoint, bool) {
	if len(side) == 0 {
		return 0, 0, false
	}
	var best fixedpoint.FixedPoint
	first := true
	for px := range side {
		if first || (highest && px > best) || (!highest && px < best) {
			best = px
			first = false
		}
	}
	return best, side[best], true
}

// MidPrice returns (bestBid+bestAsk)/2, or ok=false if either side is
// empty.
func (b *Book) MidPrice() (fixedpoint.FixedPoint, bool) {
	bidPx, _, bidOK := b.BestBid()
	askPx, _, askOK := b.BestAsk()
	if !bidOK || !askOK {
		return 0, false
	}
	return bidPx.Add(askPx).Div(fixedpoint.FromFloat64(2)), true
}

// Spread returns bestAsk - bestBid, or ok=false if either side is empty.
func (b *Book) Spread() (fixedpoint.FixedPoint, bool) {
	bidPx, _, bidOK := b.BestBid()
	askPx, _, askOK := b.BestAsk()
	if !bidOK || !askOK {
		return 0, false
	}
	return askPx.Sub(bidPx), true
}

// TopKBids returns up to k bid levels ordered best (highest) to worst.
func (b *Book) TopKBids(k int) []wire.PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return topK(b.bids, k, true)
}

// TopKAsks returns up to k ask levels ordered best (lowest) to worst.
func (b *Book) TopKAsks(k int) []wire.PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return topK(b.asks, k, false)
}

func topK(side map[fixedpoint.FixedPoint]fixedpoint.FixedPoint, k int, highestFirst bool) []wire.PriceLevel {
	prices := make([]fixedpoint.FixedPoint, 0, len(side))
	for px := range side {
		prices = append(prices, px)
	}
	sort.Slice(prices, func(i, j int) bool {
		if highestFirst {
			return prices[i] > prices[j]
		}
		return prices[i] < prices[j]
	})
	if k > 0 && k < len(prices) {
		prices = prices[:k]
	}
	out := make([]wire.PriceLevel, len(prices))
	for i, px := range prices {
		out[i] = wire.PriceLevel{Price: wire.FixedPointBits(px), Size: wire.FixedPointBits(side[px])}
	}
	return out
}

// Trim drops levels furthest from the top until each side holds at most
// maxLevels entries.
func (b *Book) Trim(maxLevels int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	trimSide(b.bids, maxLevels, true)
	trimSide(b.asks, maxLevels, false)
}

func trimSide(side map[fixedpoint.FixedPoint]fixedpoint.FixedPoint, maxLevels int, highestFirst bool) {
	if len(side) <= maxLevels {
		return
	}
	prices := make([]fixedpoint.FixedPoint, 0, len(side))
	for px := range side {
		prices = append(prices, px)
	}
	sort.Slice(prices, func(i, j int) bool {
		if highestFirst {
			return prices[i] > prices[j]
		}
		return prices[i] < prices[j]
	})
	for _, px := range prices[maxLevels:] {
		delete(side, px)
	}
}

// LastUpdateTs returns the timestamp of the most recently applied batch.
func (b *Book) LastUpdateTs() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ts
}

// IsStale reports whether the book hasn't been updated within maxAge of
// now (now expressed as epoch milliseconds, matching the wire Ts unit).
func (b *Book) IsStale(nowMs uint64, maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.ts == 0 {
		return true
	}
	return time.Duration(nowMs-b.ts)*time.Millisecond > maxAge
}

// Symbol returns the symbol this book mirrors.
func (b *Book) Symbol() string { return b.symbol }
