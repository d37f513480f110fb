// Command strategy maintains its own book and drift state for one symbol
// (every decoded market-data batch is applied as it arrives, with no REST
// snapshot seed and no sequence-id validation), generates risk-gated two-sided quotes on a fixed tick,
// publishes them to the quote stream, and applies fills read back from
// the order-fill stream to its position, persisting it to disk.
//
// Usage: strategy [symbol]
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/marketflow/cryptomm/internal/config"
	"github.com/marketflow/cryptomm/internal/drift"
	"github.com/marketflow/cryptomm/internal/marketdata"
	"github.com/marketflow/cryptomm/internal/monitor"
	"github.com/marketflow/cryptomm/internal/position"
	"github.com/marketflow/cryptomm/internal/risk"
	"github.com/marketflow/cryptomm/internal/store"
	"github.com/marketflow/cryptomm/internal/strategy"
	"github.com/marketflow/cryptomm/internal/supervisor"
	"github.com/marketflow/cryptomm/internal/transport"
	"github.com/marketflow/cryptomm/pkg/fixedpoint"
	"github.com/marketflow/cryptomm/pkg/wire"
)

const quoteTickInterval = 250 * time.Millisecond

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if len(os.Args) > 1 {
		cfg.Symbol = strings.ToUpper(os.Args[1])
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging).With("instance_id", uuid.NewString())
	logger.Info("strategy starting", "symbol", cfg.Symbol)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	positionStore, err := store.Open(cfg.Backtest.DataDir)
	if err != nil {
		logger.Error("failed to open position store", "error", err)
		os.Exit(1)
	}
	defer positionStore.Close()

	pos := position.New()
	if loaded, err := positionStore.LoadPosition(cfg.Symbol); err != nil {
		logger.Warn("failed to load persisted position", "error", err)
	} else if loaded != nil {
		pos = position.Restore(loaded.Quantity, loaded.AvgEntryPrice, loaded.RealizedPnL)
		logger.Info("restored persisted position", "quantity", loaded.Quantity.ToFloat64())
	}

	riskMgr := risk.NewManager(risk.Config{
		MaxPositionSize: cfg.Risk.MaxPositionSize,
		MaxOrderSize:    cfg.Risk.MaxOrderSize,
		MinConfidence:   cfg.Risk.MinConfidence,
	}, logger)

	engineCfg := strategy.Config{
		TargetInventory:        cfg.Strategy.TargetInventory,
		MaxPositionSize:        cfg.Strategy.MaxPositionSize,
		MaxOrderSize:           cfg.Strategy.MaxOrderSize,
		InventorySkewFactor:    cfg.Strategy.InventorySkewFactor,
		BaseQuoteSize:          cfg.Strategy.BaseQuoteSize,
		RiskAversion:           cfg.Strategy.RiskAversion,
		MinSpreadBps:           cfg.Strategy.MinSpreadBps,
		VolSpreadFactor:        cfg.Strategy.VolSpreadFactor,
		MinConfidence:          cfg.Strategy.MinConfidence,
		DriftHalfLifeSecs:      cfg.Strategy.DriftHalfLifeSecs,
		VolatilityHalfLifeSecs: cfg.Strategy.VolatilityHalfLifeSecs,
		TradeFlowWindowSecs:    cfg.Strategy.TradeFlowWindowSecs,
		LadderLevels:           cfg.Strategy.LadderLevels,
		LadderStepBps:          cfg.Strategy.LadderStepBps,
	}
	engine := strategy.NewEngine(engineCfg, pos, riskMgr, logger)

	heartbeatMonitor := supervisor.NewHeartbeatMonitor(supervisor.HeartbeatConfig{
		Interval: time.Duration(cfg.Supervisor.HeartbeatIntervalMs) * time.Millisecond,
		Timeout:  time.Duration(cfg.Supervisor.HeartbeatTimeoutMs) * time.Millisecond,
	}, nil)

	if cfg.Monitor.Enabled {
		srv := monitor.NewServer(cfg.Monitor.Addr, positionSnapshotProvider{pos: pos}, nil, logger)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("monitor server failed", "error", err)
			}
		}()
		defer srv.Stop()
	}

	fabric := transport.New(cfg.Transport.ChannelCapacity, logger)
	channel := "ipc:" + cfg.Transport.AeronDir

	book := marketdata.NewBook(cfg.Symbol)
	marketSub := fabric.NewSubscriber(channel, transport.StreamMarketData)
	tradeSub := fabric.NewSubscriber(channel, transport.StreamTradeData)
	fillSub := fabric.NewSubscriber(channel, transport.StreamOrderFills)
	heartbeatSub := fabric.NewSubscriber(channel, transport.StreamHeartbeat)
	quotePub := fabric.NewPublisher(channel, transport.StreamStrategyQuotes)
	positionPub := fabric.NewPublisher(channel, transport.StreamPositions)

	sym, encoding, err := wire.EncodeSymbol(cfg.Symbol)
	if err != nil {
		logger.Error("failed to encode symbol", "error", err)
		os.Exit(1)
	}

	go consumeMarketData(ctx, marketSub, book, logger)
	go consumeTrades(ctx, tradeSub, engine, logger)
	go consumeFills(ctx, fillSub, pos, engine, positionStore, cfg.Symbol, logger)
	go consumeHeartbeats(ctx, heartbeatSub, heartbeatMonitor, riskMgr, logger)

	ticker := time.NewTicker(quoteTickInterval)
	defer ticker.Stop()
	posTicker := time.NewTicker(time.Duration(cfg.Supervisor.StateUpdateIntervalMs) * time.Millisecond)
	defer posTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("strategy shutting down")
			return
		case <-ticker.C:
			emitQuote(book, engine, quotePub, sym, encoding, logger)
		case <-posTicker.C:
			emitPosition(book, pos, positionPub, sym, encoding, logger)
		}
	}
}

func consumeMarketData(ctx context.Context, sub *transport.Subscriber, book *marketdata.Book, logger *slog.Logger) {
	for {
		raw, err := sub.ReceiveTimeout(ctx, 50*time.Millisecond)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, transport.ErrReceiveTimeout) || errors.Is(err, transport.ErrNoMessage) {
				continue
			}
			continue
		}
		batch, err := wire.DecodeOrderBookBatch(raw)
		if err != nil {
			logger.Debug("dropping undecodable batch", "error", err)
			continue
		}
		book.ApplyBatch(batch)
	}
}

func consumeTrades(ctx context.Context, sub *transport.Subscriber, engine *strategy.Engine, logger *slog.Logger) {
	for {
		raw, err := sub.ReceiveTimeout(ctx, 50*time.Millisecond)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		t, err := wire.DecodeTrade(raw)
		if err != nil {
			logger.Debug("dropping undecodable trade", "error", err)
			continue
		}
		engine.AddTrade(drift.Trade{
			TimestampMs: t.Ts,
			Price:       fixedpoint.FixedPoint(t.Price),
			Qty:         fixedpoint.FixedPoint(t.Qty),
			Side:        t.Side,
			IsAggressor: t.IsAggressor,
		})
	}
}

func consumeFills(ctx context.Context, sub *transport.Subscriber, pos *position.Position, engine *strategy.Engine, st *store.Store, symbol string, logger *slog.Logger) {
	for {
		raw, err := sub.ReceiveTimeout(ctx, 50*time.Millisecond)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		f, err := wire.DecodeOrderFill(raw)
		if err != nil {
			logger.Debug("dropping undecodable fill", "error", err)
			continue
		}
		price := fixedpoint.FixedPoint(f.FillPrice)
		qty := fixedpoint.FixedPoint(f.FillQty)
		before := pos.RealizedPnL()
		pos.ApplyFill(f.Side, price, qty)
		realizedChange := pos.RealizedPnL().Sub(before)

		engine.AddFill(strategy.Fill{Timestamp: time.UnixMilli(int64(f.Ts)), Side: f.Side, Price: price, Size: qty}, realizedChange)

		if err := st.SavePosition(symbol, pos.Quantity(), pos.AvgEntryPrice(), pos.RealizedPnL()); err != nil {
			logger.Warn("failed to persist position", "error", err)
		}
	}
}

func consumeHeartbeats(ctx context.Context, sub *transport.Subscriber, hbMonitor *supervisor.HeartbeatMonitor, riskMgr *risk.Manager, logger *slog.Logger) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !hbMonitor.IsAlive() {
				riskMgr.Kill("heartbeat timeout: upstream collector appears down")
				logger.Error("heartbeat timeout, strategy killed")
			}
		default:
		}

		raw, err := sub.ReceiveTimeout(ctx, 50*time.Millisecond)
		if err != nil {
			continue
		}
		hb, err := wire.DecodeHeartbeat(raw)
		if err != nil {
			continue
		}
		hbMonitor.RecordHeartbeat(hb.Sequence)
	}
}

func emitQuote(book *marketdata.Book, engine *strategy.Engine, pub *transport.Publisher, sym wire.CompressedString, encoding wire.EncodingScheme, logger *slog.Logger) {
	bidPx, bidQty, bidOK := book.BestBid()
	askPx, askQty, askOK := book.BestAsk()
	if !bidOK || !askOK {
		return
	}

	state := drift.State{
		Timestamp: book.LastUpdateTs(),
		BidPrice:  bidPx,
		AskPrice:  askPx,
		BidVolume: bidQty,
		AskVolume: askQty,
	}
	quote := engine.GenerateQuotes(state)
	if quote == nil {
		return
	}

	msg := wire.Quote{
		Symbol:     sym,
		Encoding:   encoding,
		Ts:         quote.Timestamp,
		BidPrice:   wire.FixedPointBits(quote.BidPrice),
		BidSize:    wire.FixedPointBits(quote.BidSize),
		AskPrice:   wire.FixedPointBits(quote.AskPrice),
		AskSize:    wire.FixedPointBits(quote.AskSize),
		FairValue:  wire.FixedPointBits(quote.FairValue),
		Inventory:  wire.FixedPointBits(quote.Inventory),
		Confidence: wire.FixedPointBits(fixedpoint.FromFloat64(quote.Confidence)),
	}
	if err := pub.OfferWithRetry(wire.EncodeQuote(msg), 5); err != nil {
		logger.Warn("dropped quote after exhausting retries")
	}
}

func emitPosition(book *marketdata.Book, pos *position.Position, pub *transport.Publisher, sym wire.CompressedString, encoding wire.EncodingScheme, logger *slog.Logger) {
	mid, ok := book.MidPrice()
	if !ok {
		return
	}
	snap := pos.Snapshot(mid)
	msg := wire.Position{
		Symbol:        sym,
		Encoding:      encoding,
		Ts:            uint64(time.Now().UnixMilli()),
		Qty:           wire.FixedPointBits(snap.Quantity),
		AvgEntryPrice: wire.FixedPointBits(snap.AvgEntryPrice),
		UnrealizedPnL: wire.FixedPointBits(snap.UnrealizedPnL),
		RealizedPnL:   wire.FixedPointBits(snap.RealizedPnL),
	}
	if err := pub.OfferWithRetry(wire.EncodePosition(msg), 5); err != nil {
		logger.Warn("dropped position update after exhausting retries")
	}
}

type positionSnapshotProvider struct {
	pos *position.Position
}

func (p positionSnapshotProvider) Snapshot() any {
	mark := p.pos.AvgEntryPrice()
	snap := p.pos.Snapshot(mark)
	return map[string]any{
		"quantity":        snap.Quantity.ToFloat64(),
		"avg_entry_price": snap.AvgEntryPrice.ToFloat64(),
		"realized_pnl":    snap.RealizedPnL.ToFloat64(),
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
