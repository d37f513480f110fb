package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/marketflow/cryptomm/pkg/wire"
)

// openMaybeCompressed opens path, wrapping it in a zstd decompressing
// reader when the name ends in .zst — the common convention for archived
// tick data (§4.13, DOMAIN STACK: klauspost/compress/zstd).
func openMaybeCompressed(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".zst") {
		return f, nil
	}

	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("backtest: zstd reader: %w", err)
	}
	return zstdReadCloser{dec: dec, f: f}, nil
}

type zstdReadCloser struct {
	dec *zstd.Decoder
	f   *os.File
}

func (z zstdReadCloser) Read(p []byte) (int, error) { return z.dec.Read(p) }
func (z zstdReadCloser) Close() error {
	z.dec.Close()
	return z.f.Close()
}

// LoadOrderBookCSV reads an orderbook CSV (optionally zstd-compressed)
// with header: timestamp_ms,symbol,bid_price_1,bid_qty_1,bid_price_2,
// bid_qty_2,bid_price_3,bid_qty_3,ask_price_1,ask_qty_1,ask_price_2,
// ask_qty_2,ask_price_3,ask_qty_3. Levels 2 and 3 may be blank.
func LoadOrderBookCSV(path string) ([]OrderBookUpdate, error) {
	f, err := openMaybeCompressed(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("backtest: read orderbook csv header: %w", err)
	}
	col := columnIndex(header)

	var updates []OrderBookUpdate
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("backtest: read orderbook csv row: %w", err)
		}

		tsMs, err := strconv.ParseUint(rec[col["timestamp_ms"]], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("backtest: parse timestamp_ms: %w", err)
		}

		bids := parseLevels(rec, col, "bid_price", "bid_qty")
		asks := parseLevels(rec, col, "ask_price", "ask_qty")
		if len(bids) == 0 || len(asks) == 0 {
			return nil, fmt.Errorf("backtest: row missing required top-of-book level")
		}

		updates = append(updates, OrderBookUpdate{
			TimestampNs: tsMs * 1_000_000,
			Symbol:      rec[col["symbol"]],
			Bids:        bids,
			Asks:        asks,
		})
	}

	return updates, nil
}

// LoadTradesCSV reads a trades CSV (optionally zstd-compressed) with
// header: timestamp_ms,symbol,trade_id,price,quantity,is_buyer_maker.
func LoadTradesCSV(path string) ([]TradeEvent, error) {
	f, err := openMaybeCompressed(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("backtest: read trades csv header: %w", err)
	}
	col := columnIndex(header)

	var trades []TradeEvent
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("backtest: read trades csv row: %w", err)
		}

		tsMs, err := strconv.ParseUint(rec[col["timestamp_ms"]], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("backtest: parse timestamp_ms: %w", err)
		}
		tradeID, err := strconv.ParseUint(rec[col["trade_id"]], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("backtest: parse trade_id: %w", err)
		}
		price, err := strconv.ParseFloat(rec[col["price"]], 64)
		if err != nil {
			return nil, fmt.Errorf("backtest: parse price: %w", err)
		}
		qty, err := strconv.ParseFloat(rec[col["quantity"]], 64)
		if err != nil {
			return nil, fmt.Errorf("backtest: parse quantity: %w", err)
		}
		isBuyerMaker, err := strconv.ParseBool(rec[col["is_buyer_maker"]])
		if err != nil {
			return nil, fmt.Errorf("backtest: parse is_buyer_maker: %w", err)
		}

		// A buyer-maker trade means the aggressor sold into a resting
		// bid, matching the teacher's TradeSide mapping.
		side := wire.SideBid
		if isBuyerMaker {
			side = wire.SideAsk
		}

		trades = append(trades, TradeEvent{
			TimestampNs: tsMs * 1_000_000,
			Symbol:      rec[col["symbol"]],
			TradeID:     tradeID,
			Price:       price,
			Quantity:    qty,
			Side:        side,
			IsAggressor: true,
		})
	}

	return trades, nil
}

func columnIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(name)] = i
	}
	return idx
}

func parseLevels(rec []string, col map[string]int, priceCol, qtyCol string) []PriceQty {
	var levels []PriceQty
	for level := 1; level <= 3; level++ {
		pKey := fmt.Sprintf("%s_%d", priceCol, level)
		qKey := fmt.Sprintf("%s_%d", qtyCol, level)
		pIdx, pOk := col[pKey]
		qIdx, qOk := col[qKey]
		if !pOk || !qOk || pIdx >= len(rec) || qIdx >= len(rec) {
			break
		}
		pStr, qStr := strings.TrimSpace(rec[pIdx]), strings.TrimSpace(rec[qIdx])
		if pStr == "" || qStr == "" {
			break
		}
		price, err := strconv.ParseFloat(pStr, 64)
		if err != nil {
			break
		}
		qty, err := strconv.ParseFloat(qStr, 64)
		if err != nil {
			break
		}
		levels = append(levels, PriceQty{Price: price, Qty: qty})
	}
	return levels
}

// LoadHistoricalData loads <dataDir>/<symbol>_orderbook.csv[.zst] and
// <dataDir>/<symbol>_trades.csv[.zst], filters to [startTime, endTime],
// and returns the combined, timestamp-sorted event stream.
func LoadHistoricalData(dataDir, symbol string, startTime, endTime time.Time) ([]HistoricalEvent, error) {
	startMs := uint64(startTime.UnixMilli())
	endMs := uint64(endTime.UnixMilli())

	var events []HistoricalEvent

	lowerSymbol := strings.ToLower(symbol)
	obPath := findDataFile(dataDir, lowerSymbol+"_orderbook")
	if obPath != "" {
		updates, err := LoadOrderBookCSV(obPath)
		if err == nil {
			for _, u := range updates {
				tsMs := u.TimestampNs / 1_000_000
				if tsMs >= startMs && tsMs <= endMs {
					events = append(events, HistoricalEvent{Kind: EventOrderBook, OrderBook: u})
				}
			}
		}
	}

	tradesPath := findDataFile(dataDir, lowerSymbol+"_trades")
	if tradesPath != "" {
		trades, err := LoadTradesCSV(tradesPath)
		if err == nil {
			for _, trd := range trades {
				tsMs := trd.TimestampNs / 1_000_000
				if tsMs >= startMs && tsMs <= endMs {
					events = append(events, HistoricalEvent{Kind: EventTrade, Trade: trd})
				}
			}
		}
	}

	if len(events) == 0 {
		return nil, ErrNoData
	}

	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp() < events[j].Timestamp() })
	return events, nil
}

// findDataFile returns the first of "<base>.csv" or "<base>.csv.zst"
// that exists under dir, or "" if neither does.
func findDataFile(dir, base string) string {
	for _, ext := range []string{".csv", ".csv.zst"} {
		p := filepath.Join(dir, base+ext)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
