// Command pricing maintains a synchronized local order book for one
// symbol, feeds the drift estimator from market data and trade prints,
// and periodically broadcasts a fair-value/confidence/volatility snapshot
// on the pricing-output transport stream.
//
// Usage: pricing [symbol]
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
	"github.com/marketflow/cryptomm/internal/transport"
	"github.com/marketflow/cryptomm/pkg/fixedpoint"
	"github.com/marketflow/cryptomm/pkg/wire"
)

const tickInterval = 100 * time.Millisecond

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
	logger.Info("pricing starting", "symbol", cfg.Symbol)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fabric := transport.New(cfg.Transport.ChannelCapacity, logger)
	channel := "ipc:" + cfg.Transport.AeronDir

	book := marketdata.NewBook(cfg.Symbol)
	fetcher := marketdata.NewSnapshotFetcher(cfg.Exchange.RESTBaseURL, cfg.Exchange.BookRateLimit)
	snap, err := fetcher.FetchDepth(ctx, cfg.Symbol, cfg.Exchange.DepthLimit)
	if err != nil {
		logger.Error("failed to seed book from REST snapshot", "error", err)
		os.Exit(1)
	}
	if err := marketdata.Seed(book, snap); err != nil {
		logger.Error("failed to seed book", "error", err)
		os.Exit(1)
	}
	sync := marketdata.NewSyncState(snap.LastUpdateID, logger)

	estimator := drift.New(drift.Config{
		DriftHalfLifeSecs:      cfg.Strategy.DriftHalfLifeSecs,
		VolatilityHalfLifeSecs: cfg.Strategy.VolatilityHalfLifeSecs,
		TradeFlowWindowSecs:    cfg.Strategy.TradeFlowWindowSecs,
	})

	if cfg.Monitor.Enabled {
		srv := monitor.NewServer(cfg.Monitor.Addr, bookSnapshotProvider{book: book}, nil, logger)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("monitor server failed", "error", err)
			}
		}()
		defer srv.Stop()
	}

	marketSub := fabric.NewSubscriber(channel, transport.StreamMarketData)
	tradeSub := fabric.NewSubscriber(channel, transport.StreamTradeData)
	pricingPub := fabric.NewPublisher(channel, transport.StreamPricingOutput)

	go pollMarketData(ctx, marketSub, book, sync, estimator, logger)
	go pollTrades(ctx, tradeSub, estimator, logger)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("pricing shutting down")
			return
		case <-ticker.C:
			publishPricing(book, estimator, pricingPub, logger)
		}
	}
}

func pollMarketData(ctx context.Context, sub *transport.Subscriber, book *marketdata.Book, sync *marketdata.SyncState, estimator *drift.Estimator, logger *slog.Logger) {
	for {
		raw, err := sub.ReceiveTimeout(ctx, 50*time.Millisecond)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, transport.ErrReceiveTimeout) || errors.Is(err, transport.ErrNoMessage) {
				continue
			}
			logger.Warn("market data receive error", "error", err)
			continue
		}
		batch, err := wire.DecodeOrderBookBatch(raw)
		if err != nil {
			logger.Debug("dropping undecodable batch", "error", err)
			continue
		}
		switch sync.Evaluate(batch) {
		case marketdata.DecisionApply:
			book.ApplyBatch(batch)
		case marketdata.DecisionRequestResync:
			logger.Warn("order book resync requested", "symbol", book.Symbol())
		}
	}
}

func pollTrades(ctx context.Context, sub *transport.Subscriber, estimator *drift.Estimator, logger *slog.Logger) {
	for {
		raw, err := sub.ReceiveTimeout(ctx, 50*time.Millisecond)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, transport.ErrReceiveTimeout) || errors.Is(err, transport.ErrNoMessage) {
				continue
			}
			logger.Warn("trade receive error", "error", err)
			continue
		}
		t, err := wire.DecodeTrade(raw)
		if err != nil {
			logger.Debug("dropping undecodable trade", "error", err)
			continue
		}
		estimator.AddTrade(drift.Trade{
			TimestampMs: t.Ts,
			Price:       fixedpoint.FixedPoint(t.Price),
			Qty:         fixedpoint.FixedPoint(t.Qty),
			Side:        t.Side,
			IsAggressor: t.IsAggressor,
		})
	}
}

func publishPricing(book *marketdata.Book, estimator *drift.Estimator, pub *transport.Publisher, logger *slog.Logger) {
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
	estimator.UpdateMarketState(state)

	driftBps := estimator.EstimateDriftBps(state)
	fairValue := state.MidPrice().ApplyBps(driftBps)
	confidence := estimator.Confidence()
	volatility := estimator.CurrentVolatility()

	sym, encoding, err := wire.EncodeSymbol(book.Symbol())
	if err != nil {
		logger.Error("failed to encode symbol", "error", err)
		return
	}
	out := wire.PricingOutput{
		Symbol:     sym,
		Encoding:   encoding,
		Ts:         uint64(time.Now().UnixMilli()),
		FairValue:  wire.FixedPointBits(fairValue),
		Confidence: wire.FixedPointBits(fixedpoint.FromFloat64(confidence)),
		Volatility: wire.FixedPointBits(fixedpoint.FromFloat64(volatility)),
	}
	if err := pub.OfferWithRetry(wire.EncodePricingOutput(out), 5); err != nil {
		logger.Warn("dropped pricing output after exhausting retries")
	}
}

type bookSnapshotProvider struct {
	book *marketdata.Book
}

func (p bookSnapshotProvider) Snapshot() any {
	bidPx, bidQty, _ := p.book.BestBid()
	askPx, askQty, _ := p.book.BestAsk()
	return map[string]any{
		"symbol":    p.book.Symbol(),
		"bid_price": bidPx.ToFloat64(),
		"bid_qty":   bidQty.ToFloat64(),
		"ask_price": askPx.ToFloat64(),
		"ask_qty":   askQty.ToFloat64(),
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
