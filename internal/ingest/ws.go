// Package ingest implements the WebSocket collector: racing dual
// connections per stream, CPU-pinned parsing, and handoff to the
// transport fabric via a bounded in-process queue.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marketflow/cryptomm/internal/transport"
	"github.com/marketflow/cryptomm/pkg/fixedpoint"
	"github.com/marketflow/cryptomm/pkg/wire"
)

const (
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	publishRetries   = 8
)

// DefaultQueueCapacity is CHANNEL_CAPACITY from spec §6.
const DefaultQueueCapacity = 10_000

// depthEvent is the exchange's depth-update frame shape.
type depthEvent struct {
	EventType string     `json:"e"`
	EventTime uint64     `json:"E"`
	Symbol    string     `json:"s"`
	FirstID   uint64     `json:"U"`
	FinalID   uint64     `json:"u"`
	PrevID    uint64     `json:"pu"`
	Bids      [][]string `json:"b"`
	Asks      [][]string `json:"a"`
}

// tradeEvent is the exchange's trade-tick frame shape.
type tradeEvent struct {
	EventType      string `json:"e"`
	EventTime      uint64 `json:"E"`
	Symbol         string `json:"s"`
	TradeID        uint64 `json:"t"`
	Price          string `json:"p"`
	Qty            string `json:"q"`
	IsBuyerMaker   bool   `json:"m"`
}

// Config parameterizes one symbol's ingestor.
type Config struct {
	DepthStreamURL string // e.g. wss://.../btcusdt@depth
	TradeStreamURL string
	Symbol         string
	QueueCapacity  int
	Channel        string // transport channel URI
}

// Ingestor races two connections per stream for one symbol, parses frames
// on dedicated goroutines, and hands encoded wire messages to a single
// publisher goroutine that drains a bounded queue onto the transport
// fabric.
type Ingestor struct {
	cfg    Config
	fabric *transport.Fabric
	logger *slog.Logger

	queue chan []byte

	symbol    wire.CompressedString
	encoding  wire.EncodingScheme
}

// New builds an Ingestor. cfg.QueueCapacity falls back to
// DefaultQueueCapacity when <= 0.
func New(cfg Config, fabric *transport.Fabric, logger *slog.Logger) (*Ingestor, error) {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	sym, scheme, err := wire.EncodeSymbol(cfg.Symbol)
	if err != nil {
		return nil, fmt.Errorf("encode symbol %q: %w", cfg.Symbol, err)
	}
	return &Ingestor{
		cfg:      cfg,
		fabric:   fabric,
		logger:   logger.With("component", "ingest", "symbol", cfg.Symbol),
		queue:    make(chan []byte, cfg.QueueCapacity),
		symbol:   sym,
		encoding: scheme,
	}, nil
}

// Run starts both racing depth connections, both racing trade connections,
// and the publisher goroutine, blocking until ctx is cancelled.
func (ig *Ingestor) Run(ctx context.Context) error {
	go ig.runPublisher(ctx)

	// Two independent connections per stream ("racing"); duplicates are
	// tolerated downstream via sequence-id validation (§4.6).
	for i := 0; i < 2; i++ {
		go ig.runParser(ctx, ig.cfg.DepthStreamURL, i, ig.parseDepthFrame)
	}
	for i := 0; i < 2; i++ {
		go ig.runParser(ctx, ig.cfg.TradeStreamURL, i, ig.parseTradeFrame)
	}

	<-ctx.Done()
	return ctx.Err()
}

// runParser owns one racing connection. It pins itself to an OS thread for
// the lifetime of the connection, the Go analogue of the original's
// CPU-pinned parser thread: the goroutine never migrates to another
// kernel thread mid-parse, so hot-loop cache behavior stays stable.
func (ig *Ingestor) runParser(ctx context.Context, url string, replica int, handle func([]byte) error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	backoff := time.Second
	for {
		err := ig.connectAndRead(ctx, url, handle)
		if ctx.Err() != nil {
			return
		}
		ig.logger.Warn("ingest connection dropped, reconnecting",
			"url", url, "replica", replica, "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (ig *Ingestor) connectAndRead(ctx context.Context, url string, handle func([]byte) error) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if err := handle(msg); err != nil {
			ig.logger.Debug("dropping unparsable frame", "error", err)
		}
	}
}

func (ig *Ingestor) parseDepthFrame(raw []byte) error {
	var ev depthEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return fmt.Errorf("unmarshal depth frame: %w", err)
	}

	bids, err := toPriceLevels(ev.Bids)
	if err != nil {
		return fmt.Errorf("parse bids: %w", err)
	}
	asks, err := toPriceLevels(ev.Asks)
	if err != nil {
		return fmt.Errorf("parse asks: %w", err)
	}

	batch := wire.OrderBookBatch{
		Exchange:   wire.ExchangeBinance,
		UpdateType: wire.UpdateDelta,
		Encoding:   ig.encoding,
		Symbol:     ig.symbol,
		Ts:         ev.EventTime,
		FirstID:    ev.FirstID,
		FinalID:    ev.FinalID,
		PrevID:     ev.PrevID,
		Bids:       bids,
		Asks:       asks,
	}
	encoded, err := wire.EncodeOrderBookBatch(batch)
	if err != nil {
		return fmt.Errorf("encode order book batch: %w", err)
	}
	return ig.enqueue(encoded)
}

func (ig *Ingestor) parseTradeFrame(raw []byte) error {
	var ev tradeEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return fmt.Errorf("unmarshal trade frame: %w", err)
	}

	px, err := fixedpoint.ParseDecimalBytes([]byte(ev.Price))
	if err != nil {
		return fmt.Errorf("parse price: %w", err)
	}
	qty, err := fixedpoint.ParseDecimalBytes([]byte(ev.Qty))
	if err != nil {
		return fmt.Errorf("parse qty: %w", err)
	}

	// A maker-side buyer means the aggressor was the seller. Side records
	// the aggressor's side, as the drift estimator reads it.
	side := wire.SideBid
	if ev.IsBuyerMaker {
		side = wire.SideAsk
	}

	trade := wire.Trade{
		Symbol:      ig.symbol,
		Encoding:    ig.encoding,
		Ts:          ev.EventTime,
		TradeID:     ev.TradeID,
		Price:       wire.FixedPointBits(px),
		Qty:         wire.FixedPointBits(qty),
		Side:        side,
		IsAggressor: true,
	}
	encoded := wire.EncodeTrade(trade)
	return ig.enqueue(encoded)
}

func toPriceLevels(raw [][]string) ([]wire.PriceLevel, error) {
	out := make([]wire.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) != 2 {
			continue
		}
		px, err := fixedpoint.ParseDecimalBytes([]byte(pair[0]))
		if err != nil {
			return nil, err
		}
		qty, err := fixedpoint.ParseDecimalBytes([]byte(pair[1]))
		if err != nil {
			return nil, err
		}
		out = append(out, wire.PriceLevel{Price: wire.FixedPointBits(px), Size: wire.FixedPointBits(qty)})
	}
	return out, nil
}

// enqueue hands encoded bytes to the bounded queue. A full queue means the
// publisher is falling behind; the frame is dropped and logged rather than
// blocking the parser thread.
func (ig *Ingestor) enqueue(encoded []byte) error {
	select {
	case ig.queue <- encoded:
		return nil
	default:
		ig.logger.Warn("ingest queue full, dropping frame")
		return nil
	}
}

// runPublisher drains the queue and publishes to the transport fabric,
// retrying through back-pressure per §4.3. Trade messages go to the
// trade-data stream; everything else goes to the market-data stream.
func (ig *Ingestor) runPublisher(ctx context.Context) {
	pub := ig.fabric.NewPublisher(ig.cfg.Channel, transport.StreamMarketData)
	tradePub := ig.fabric.NewPublisher(ig.cfg.Channel, transport.StreamTradeData)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ig.queue:
			target := pub
			if len(msg) > 0 && wire.MessageType(msg[0]) == wire.TypeTrade {
				target = tradePub
			}
			if err := target.OfferWithRetry(msg, publishRetries); err != nil {
				ig.logger.Warn("dropped message after exhausting back-pressure retries")
			}
		}
	}
}
