// Command collector races WebSocket depth and trade connections for one
// symbol and publishes the resulting binary batches onto the transport
// fabric, alongside its own heartbeat and collector-state reports.
//
// Usage: collector [symbol]
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/marketflow/cryptomm/internal/config"
	"github.com/marketflow/cryptomm/internal/ingest"
	"github.com/marketflow/cryptomm/internal/monitor"
	"github.com/marketflow/cryptomm/internal/supervisor"
	"github.com/marketflow/cryptomm/internal/transport"
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
	logger.Info("collector starting", "symbol", cfg.Symbol)

	fabric := transport.New(cfg.Transport.ChannelCapacity, logger)
	channel := "ipc:" + cfg.Transport.AeronDir

	ig, err := ingest.New(ingest.Config{
		DepthStreamURL: fmt.Sprintf("%s/ws/%s@depth@100ms", cfg.Exchange.WSBaseURL, strings.ToLower(cfg.Symbol)),
		TradeStreamURL: fmt.Sprintf("%s/ws/%s@trade", cfg.Exchange.WSBaseURL, strings.ToLower(cfg.Symbol)),
		Symbol:         cfg.Symbol,
		QueueCapacity:  cfg.Transport.ChannelCapacity,
		Channel:        channel,
	}, fabric, logger)
	if err != nil {
		logger.Error("failed to build ingestor", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	heartbeatGen := supervisor.NewHeartbeatGenerator(supervisor.HeartbeatConfig{
		Interval: time.Duration(cfg.Supervisor.HeartbeatIntervalMs) * time.Millisecond,
		Timeout:  time.Duration(cfg.Supervisor.HeartbeatTimeoutMs) * time.Millisecond,
	})
	stateTracker := supervisor.NewCollectorStateTracker(
		time.Duration(cfg.Supervisor.StateUpdateIntervalMs)*time.Millisecond, registry)

	heartbeatPub := fabric.NewPublisher(channel, transport.StreamHeartbeat)
	statePub := fabric.NewPublisher(channel, transport.StreamCollectorState)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	done := make(chan struct{})
	go heartbeatGen.Run(done, func(timestampMs int64, sequence uint8) {
		hb := wire.Heartbeat{Ts: uint64(timestampMs), Sequence: uint64(sequence)}
		if err := heartbeatPub.OfferWithRetry(wire.EncodeHeartbeat(hb), 5); err != nil {
			logger.Warn("dropped heartbeat after exhausting retries")
		}
	})
	defer heartbeatGen.Stop()

	stateTracker.Record(supervisor.CollectorStateReport{
		ConnectionID: cfg.Symbol,
		State:        supervisor.StateConnecting,
		Timestamp:    time.Now(),
	})
	go publishCollectorState(ctx, cfg, stateTracker, statePub, logger)

	var monSrv *monitor.Server
	if cfg.Monitor.Enabled {
		monSrv = monitor.NewServer(cfg.Monitor.Addr, snapshotProvider{tracker: stateTracker}, registry, logger)
		go func() {
			if err := monSrv.Start(); err != nil {
				logger.Error("monitor server failed", "error", err)
			}
		}()
	}

	go func() {
		if err := ig.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("ingestor exited", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("collector shutting down")
	close(done)
	if monSrv != nil {
		monSrv.Stop()
	}
}

func publishCollectorState(ctx context.Context, cfg *config.Config, tracker *supervisor.CollectorStateTracker, pub *transport.Publisher, logger *slog.Logger) {
	ticker := time.NewTicker(time.Duration(cfg.Supervisor.StateUpdateIntervalMs) * time.Millisecond)
	defer ticker.Stop()
	var msgCount uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msgCount++
			report := supervisor.CollectorStateReport{
				ConnectionID: cfg.Symbol,
				State:        supervisor.StateReceiving,
				Timestamp:    time.Now(),
				MessageCount: msgCount,
			}
			tracker.Record(report)
			msg := wire.CollectorStateMessage{
				ConnectionID:     1,
				State:            wire.CollectorState(report.State),
				Ts:               uint64(report.Timestamp.UnixMilli()),
				MessagesReceived: msgCount,
			}
			if err := pub.OfferWithRetry(wire.EncodeCollectorStateMessage(msg), 5); err != nil {
				logger.Warn("dropped collector-state message after exhausting retries")
			}
		}
	}
}

type snapshotProvider struct {
	tracker *supervisor.CollectorStateTracker
}

func (s snapshotProvider) Snapshot() any {
	return s.tracker.Snapshot()
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
