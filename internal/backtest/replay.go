package backtest

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/marketflow/cryptomm/internal/transport"
	"github.com/marketflow/cryptomm/pkg/fixedpoint"
	"github.com/marketflow/cryptomm/pkg/wire"
)

// ReplayEngine drains a DataStream onto the live transport fabric at a
// virtual clock rate, so every downstream component (pricing, strategy,
// simulator) consumes replayed history exactly as it would a live feed.
// Grounded on mm_backtest::DataReplayEngine.
type ReplayEngine struct {
	stream *DataStream

	orderBookPub *transport.Publisher
	tradePub     *transport.Publisher

	startWall          time.Time
	simulatedStartTime uint64

	logger *slog.Logger

	now func() time.Time
}

// NewReplayEngine wires a replay engine around an already-loaded stream
// and the market-data/trade publishers it should drain onto.
func NewReplayEngine(stream *DataStream, orderBookPub, tradePub *transport.Publisher, logger *slog.Logger) *ReplayEngine {
	return &ReplayEngine{
		stream:             stream,
		orderBookPub:       orderBookPub,
		tradePub:           tradePub,
		startWall:          time.Now(),
		simulatedStartTime: stream.CurrentTime(),
		logger:             logger.With("component", "backtest_replay"),
		now:                time.Now,
	}
}

func (e *ReplayEngine) currentSimulatedTime() uint64 {
	elapsedReal := e.now().Sub(e.startWall)
	elapsedSimulatedNs := uint64(float64(elapsedReal.Nanoseconds()) * e.stream.ReplaySpeed())
	return e.simulatedStartTime + elapsedSimulatedNs
}

// Tick publishes every event whose timestamp has come due under the
// virtual clock, returning how many were processed.
func (e *ReplayEngine) Tick() (int, error) {
	currentSimTime := e.currentSimulatedTime()
	processed := 0

	for {
		event, ok := e.stream.PeekEvent()
		if !ok || event.Timestamp() > currentSimTime {
			break
		}
		event, _ = e.stream.NextEvent()
		if err := e.publishEvent(event); err != nil {
			return processed, err
		}
		processed++
	}

	return processed, nil
}

func (e *ReplayEngine) publishEvent(event HistoricalEvent) error {
	if event.Kind == EventOrderBook {
		return e.publishOrderBook(event.OrderBook)
	}
	return e.publishTrade(event.Trade)
}

func (e *ReplayEngine) publishOrderBook(update OrderBookUpdate) error {
	symbol, encoding, err := wire.EncodeSymbol(update.Symbol)
	if err != nil {
		return fmt.Errorf("backtest: encode symbol: %w", err)
	}

	batch := wire.OrderBookBatch{
		Exchange:   wire.ExchangeBinance,
		UpdateType: wire.UpdateDelta,
		Encoding:   encoding,
		Symbol:     symbol,
		Ts:         update.TimestampNs,
	}
	for _, lvl := range update.Bids {
		if lvl.Price > 0 && lvl.Qty >= 0 {
			batch.Bids = append(batch.Bids, toLevel(lvl))
		}
	}
	for _, lvl := range update.Asks {
		if lvl.Price > 0 && lvl.Qty >= 0 {
			batch.Asks = append(batch.Asks, toLevel(lvl))
		}
	}

	bytes, err := wire.EncodeOrderBookBatch(batch)
	if err != nil {
		return fmt.Errorf("backtest: encode order book batch: %w", err)
	}
	if err := e.orderBookPub.OfferWithRetry(bytes, 5); err != nil {
		e.logger.Warn("dropped replayed order book update", "symbol", update.Symbol, "err", err)
	}
	return nil
}

func (e *ReplayEngine) publishTrade(trade TradeEvent) error {
	symbol, encoding, err := wire.EncodeSymbol(trade.Symbol)
	if err != nil {
		return fmt.Errorf("backtest: encode symbol: %w", err)
	}

	msg := wire.Trade{
		Symbol:      symbol,
		Encoding:    encoding,
		Ts:          trade.TimestampNs,
		TradeID:     trade.TradeID,
		Price:       toFixedPointBits(trade.Price),
		Qty:         toFixedPointBits(trade.Quantity),
		Side:        trade.Side,
		IsAggressor: trade.IsAggressor,
	}

	bytes := wire.EncodeTrade(msg)
	if err := e.tradePub.OfferWithRetry(bytes, 5); err != nil {
		e.logger.Warn("dropped replayed trade", "symbol", trade.Symbol, "err", err)
	}
	return nil
}

// Run drives Tick in a loop until the stream is exhausted, logging
// progress periodically and yielding briefly between ticks to avoid
// busy-waiting.
func (e *ReplayEngine) Run() error {
	e.logger.Info("starting replay", "speed", e.stream.ReplaySpeed())

	totalEvents := 0
	lastLog := time.Now()

	for e.stream.HasMore() {
		processed, err := e.Tick()
		if err != nil {
			return err
		}
		totalEvents += processed

		if time.Since(lastLog) > time.Second {
			remaining := e.stream.RemainingEvents()
			progress := 0.0
			if totalEvents+remaining > 0 {
				progress = float64(totalEvents) / float64(totalEvents+remaining) * 100.0
			}
			e.logger.Debug("replay progress", "pct", progress, "processed", totalEvents, "remaining", remaining)
			lastLog = time.Now()
		}

		time.Sleep(100 * time.Microsecond)
	}

	e.logger.Info("replay complete", "total_events", totalEvents)
	return nil
}

// IsComplete reports whether the stream has been fully drained.
func (e *ReplayEngine) IsComplete() bool {
	return !e.stream.HasMore()
}

// Progress returns how far through the remaining time range the replay's
// virtual clock has advanced, as a percentage.
func (e *ReplayEngine) Progress() float64 {
	start, end, ok := e.stream.TimeRange()
	if !ok {
		return 100.0
	}
	current := e.currentSimulatedTime()
	if current >= end {
		return 100.0
	}
	if end == start {
		return 100.0
	}
	return float64(current-start) / float64(end-start) * 100.0
}

func toLevel(pq PriceQty) wire.PriceLevel {
	return wire.PriceLevel{Price: toFixedPointBits(pq.Price), Size: toFixedPointBits(pq.Qty)}
}

func toFixedPointBits(v float64) wire.FixedPointBits {
	return wire.FixedPointBits(fixedpoint.FromFloat64(v))
}
