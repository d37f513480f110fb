// Command backtest replays historical order-book and trade data for one
// symbol onto the transport fabric at a configurable virtual-clock speed,
// exactly as cmd/collector would live, samples a local position into a P&L
// tracker once a second, and persists a metrics report once the replay
// drains. Nothing in this command applies fills to that position, so it
// stays flat.
//
// Usage: backtest [symbol] [start-RFC3339] [end-RFC3339]
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/marketflow/cryptomm/internal/backtest"
	"github.com/marketflow/cryptomm/internal/config"
	"github.com/marketflow/cryptomm/internal/position"
	"github.com/marketflow/cryptomm/internal/transport"
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

	endTime := time.Now()
	startTime := endTime.Add(-24 * time.Hour)
	if len(os.Args) > 2 {
		if t, err := time.Parse(time.RFC3339, os.Args[2]); err == nil {
			startTime = t
		}
	}
	if len(os.Args) > 3 {
		if t, err := time.Parse(time.RFC3339, os.Args[3]); err == nil {
			endTime = t
		}
	}

	logger := newLogger(cfg.Logging).With("instance_id", uuid.NewString())
	logger.Info("backtest starting", "symbol", cfg.Symbol, "start", startTime, "end", endTime)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	events, err := backtest.LoadHistoricalData(cfg.Backtest.DataDir, cfg.Symbol, startTime, endTime)
	if err != nil {
		logger.Error("failed to load historical data", "error", err, "data_dir", cfg.Backtest.DataDir)
		os.Exit(1)
	}
	logger.Info("loaded historical events", "count", len(events))

	stream := backtest.NewDataStream(events, cfg.Backtest.ReplaySpeed)

	fabric := transport.New(cfg.Transport.ChannelCapacity, logger)
	channel := "ipc:" + cfg.Transport.AeronDir
	orderBookPub := fabric.NewPublisher(channel, transport.StreamMarketData)
	tradePub := fabric.NewPublisher(channel, transport.StreamTradeData)

	replay := backtest.NewReplayEngine(stream, orderBookPub, tradePub, logger)
	tracker := backtest.NewTracker(cfg.Backtest.InitialCapital)
	pos := position.New()

	done := make(chan error, 1)
	go func() {
		done <- replay.Run()
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

runLoop:
	for {
		select {
		case <-ctx.Done():
			logger.Info("backtest interrupted")
			break runLoop
		case err := <-done:
			if err != nil {
				logger.Error("replay failed", "error", err)
				os.Exit(1)
			}
			break runLoop
		case <-ticker.C:
			tracker.UpdateEquity(uint64(time.Now().UnixNano()), cfg.Backtest.InitialCapital+pos.TotalPnL(pos.AvgEntryPrice()).ToFloat64())
			tracker.UpdatePosition(uint64(time.Now().UnixNano()), pos.Quantity().ToFloat64())
			logger.Debug("replay progress", "pct", replay.Progress())
		}
	}

	metrics := tracker.CalculateMetrics(pos, pos.AvgEntryPrice())
	if err := writeResults(cfg.Backtest.ResultsDir, cfg.Symbol, metrics); err != nil {
		logger.Error("failed to persist backtest results", "error", err)
		os.Exit(1)
	}
	logger.Info("backtest complete", "total_trades", metrics.TotalTrades, "total_pnl", metrics.TotalPnL)
}

func writeResults(resultsDir, symbol string, metrics backtest.Metrics) error {
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}
	name := fmt.Sprintf("backtest_results_%s.json", time.Now().Format("20060102_150405"))
	path := filepath.Join(resultsDir, name)

	payload, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	return os.WriteFile(path, payload, 0o644)
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
