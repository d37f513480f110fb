// Command simulator runs a paper-trading execution venue for one symbol:
// it tracks the live book, accepts the strategy's quotes as resting
// orders, fills them against market data and trade prints with a
// latency-delayed probabilistic model, and republishes the resulting
// fills onto the transport fabric.
//
// Usage: simulator [symbol]
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/marketflow/cryptomm/internal/config"
	"github.com/marketflow/cryptomm/internal/marketdata"
	"github.com/marketflow/cryptomm/internal/monitor"
	"github.com/marketflow/cryptomm/internal/position"
	"github.com/marketflow/cryptomm/internal/simulator"
	"github.com/marketflow/cryptomm/internal/strategy"
	"github.com/marketflow/cryptomm/internal/transport"
	"github.com/marketflow/cryptomm/pkg/fixedpoint"
	"github.com/marketflow/cryptomm/pkg/wire"
)

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
	logger.Info("simulator starting", "symbol", cfg.Symbol)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fabric := transport.New(cfg.Transport.ChannelCapacity, logger)
	channel := "ipc:" + cfg.Transport.AeronDir

	book := marketdata.NewBook(cfg.Symbol)
	pos := position.New()
	venue := simulator.NewVenue(simulator.Config{
		OrderPlacementLatencyUs:    cfg.Simulator.OrderPlacementLatencyUs,
		OrderCancellationLatencyUs: cfg.Simulator.OrderCancellationLatencyUs,
		FillProbabilityFactor:      cfg.Simulator.FillProbabilityFactor,
		TrackQueuePosition:         cfg.Simulator.TrackQueuePosition,
	}, pos, logger)

	if cfg.Monitor.Enabled {
		srv := monitor.NewServer(cfg.Monitor.Addr, venueSnapshotProvider{venue: venue}, nil, logger)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("monitor server failed", "error", err)
			}
		}()
		defer srv.Stop()
	}

	marketSub := fabric.NewSubscriber(channel, transport.StreamMarketData)
	tradeSub := fabric.NewSubscriber(channel, transport.StreamTradeData)
	quoteSub := fabric.NewSubscriber(channel, transport.StreamStrategyQuotes)
	fillPub := fabric.NewPublisher(channel, transport.StreamOrderFills)

	sym, encoding, err := wire.EncodeSymbol(cfg.Symbol)
	if err != nil {
		logger.Error("failed to encode symbol", "error", err)
		os.Exit(1)
	}

	go consumeQuotes(ctx, quoteSub, venue, logger)
	go consumeTrades(ctx, tradeSub, book, venue, logger)
	go consumeMarketData(ctx, marketSub, book, venue, logger)

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("simulator shutting down")
			return
		case <-ticker.C:
			for _, f := range venue.DrainFills() {
				publishFill(fillPub, sym, encoding, f, logger)
			}
		}
	}
}

func consumeQuotes(ctx context.Context, sub *transport.Subscriber, venue *simulator.Venue, logger *slog.Logger) {
	for {
		raw, err := sub.ReceiveTimeout(ctx, 50*time.Millisecond)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		q, err := wire.DecodeQuote(raw)
		if err != nil {
			logger.Debug("dropping undecodable quote", "error", err)
			continue
		}
		venue.CancelAllOrders()
		venue.PlaceOrdersFromQuote(strategy.Quote{
			Timestamp:  q.Ts,
			BidPrice:   fixedpoint.FixedPoint(q.BidPrice),
			BidSize:    fixedpoint.FixedPoint(q.BidSize),
			AskPrice:   fixedpoint.FixedPoint(q.AskPrice),
			AskSize:    fixedpoint.FixedPoint(q.AskSize),
			FairValue:  fixedpoint.FixedPoint(q.FairValue),
			Inventory:  fixedpoint.FixedPoint(q.Inventory),
			Confidence: fixedpoint.FixedPoint(q.Confidence).ToFloat64(),
		}, q.Ts)

	}
}

func consumeMarketData(ctx context.Context, sub *transport.Subscriber, book *marketdata.Book, venue *simulator.Venue, logger *slog.Logger) {
	for {
		raw, err := sub.ReceiveTimeout(ctx, 50*time.Millisecond)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		batch, err := wire.DecodeOrderBookBatch(raw)
		if err != nil {
			logger.Debug("dropping undecodable batch", "error", err)
			continue
		}
		book.ApplyBatch(batch)
		venue.UpdateMarketData(book, batch.Ts, fixedpoint.Zero, false)
	}
}

func consumeTrades(ctx context.Context, sub *transport.Subscriber, book *marketdata.Book, venue *simulator.Venue, logger *slog.Logger) {
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
		venue.UpdateMarketData(book, t.Ts, fixedpoint.FixedPoint(t.Price), true)
	}
}

func publishFill(pub *transport.Publisher, sym wire.CompressedString, encoding wire.EncodingScheme, f simulator.Fill, logger *slog.Logger) {
	msg := wire.OrderFill{
		Symbol:    sym,
		Encoding:  encoding,
		Ts:        f.Timestamp,
		OrderID:   f.OrderID,
		FillPrice: wire.FixedPointBits(f.Price),
		FillQty:   wire.FixedPointBits(f.Quantity),
		Side:      f.Side,
		IsMaker:   f.IsMaker,
	}
	if err := pub.OfferWithRetry(wire.EncodeOrderFill(msg), 5); err != nil {
		logger.Warn("dropped order fill after exhausting retries")
	}
}

type venueSnapshotProvider struct {
	venue *simulator.Venue
}

func (p venueSnapshotProvider) Snapshot() any {
	mark := p.venue.Position().AvgEntryPrice()
	snap := p.venue.Position().Snapshot(mark)
	return map[string]any{
		"active_orders":   p.venue.ActiveOrderCount(),
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
