package wire

import "testing"

func TestSymbolRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		symbol string
		scheme EncodingScheme
	}{
		{"hex digits", "0123456789ABC", Hex4Bit},
		{"letters only", "BTCUSDT", Alphabetic5Bit},
		{"letters and digits", "TEST99", AlphaNumeric6Bit},
		{"full ascii", "BTC-USDT", Ascii7Bit},
		{"empty", "", Hex4Bit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cs, scheme, err := EncodeSymbol(tt.symbol)
			if err != nil {
				t.Fatalf("EncodeSymbol(%q): %v", tt.symbol, err)
			}
			if tt.symbol != "" && scheme != tt.scheme {
				t.Errorf("EncodeSymbol(%q) scheme = %v, want %v", tt.symbol, scheme, tt.scheme)
			}
			got := cs.Decode(scheme)
			if got != tt.symbol {
				t.Errorf("round trip of %q = %q", tt.symbol, got)
			}
		})
	}
}

func TestMarketDataRoundTrip(t *testing.T) {
	t.Parallel()

	sym, scheme, err := EncodeSymbol("BTCUSDT")
	if err != nil {
		t.Fatal(err)
	}
	want := MarketData{
		Sequence: 7,
		Symbol:   sym,
		Encoding: scheme,
		Ts:       1_700_000_000_000,
		BidPrice: 5_000_000_000_000,
		AskPrice: 5_000_100_000_000,
		BidSize:  100_000_000,
		AskSize:  200_000_000,
	}

	encoded := EncodeMarketData(want)
	got, err := DecodeMarketData(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Errorf("round trip mismatch:\n got=%+v\nwant=%+v", got, want)
	}
}

func TestOrderBookBatchRoundTrip(t *testing.T) {
	t.Parallel()

	sym, scheme, err := EncodeSymbol("BTCUSDT")
	if err != nil {
		t.Fatal(err)
	}
	want := OrderBookBatch{
		Exchange:   ExchangeBinance,
		UpdateType: UpdateDelta,
		Encoding:   scheme,
		Symbol:     sym,
		Ts:         1_700_000_000_000,
		FirstID:    95,
		FinalID:    105,
		PrevID:     94,
		Bids:       []PriceLevel{{Price: 5_000_000_000_000, Size: 150_000_000}},
		Asks:       []PriceLevel{{Price: 5_000_100_000_000, Size: 100_000_000}},
	}

	encoded, err := EncodeOrderBookBatch(want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeOrderBookBatch(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got.FirstID != want.FirstID || got.FinalID != want.FinalID || got.PrevID != want.PrevID {
		t.Errorf("sequence ids mismatch: got U=%d u=%d pu=%d", got.FirstID, got.FinalID, got.PrevID)
	}
	if len(got.Bids) != 1 || got.Bids[0] != want.Bids[0] {
		t.Errorf("bids mismatch: %+v", got.Bids)
	}
	if len(got.Asks) != 1 || got.Asks[0] != want.Asks[0] {
		t.Errorf("asks mismatch: %+v", got.Asks)
	}
}

func TestApplyBatchIdempotentNoDeltasOnEmptyLevels(t *testing.T) {
	t.Parallel()

	// update(px, 0) on an absent level must encode/decode as a true no-op
	// level (size zero), never silently dropped or erroring.
	lvl := PriceLevel{Price: 5_000_000_000_000, Size: 0}
	batch := OrderBookBatch{Exchange: ExchangeBinance, Bids: []PriceLevel{lvl}}
	encoded, err := EncodeOrderBookBatch(batch)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeOrderBookBatch(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Bids) != 1 || got.Bids[0].Size != 0 {
		t.Errorf("expected a single zero-size level, got %+v", got.Bids)
	}
}

func TestChecksumFlipDetected(t *testing.T) {
	t.Parallel()

	encoded := EncodeHeartbeat(Heartbeat{Ts: 123, Sequence: 1})
	encoded[len(encoded)-1] ^= 0x01 // flip one bit in the CRC trailer

	if _, err := DecodeHeartbeat(encoded); err != ErrInvalidChecksum {
		t.Errorf("expected ErrInvalidChecksum, got %v", err)
	}
}

func TestDecodeRejectsWrongMessageType(t *testing.T) {
	t.Parallel()

	encoded := EncodeHeartbeat(Heartbeat{Ts: 1, Sequence: 1})
	if _, err := DecodeTrade(encoded); err == nil {
		t.Error("expected an error decoding a heartbeat frame as a trade")
	}
}

func TestCollectorStateRoundTrip(t *testing.T) {
	t.Parallel()

	for _, want := range []CollectorStateMessage{
		{ConnectionID: 3, State: StateReceiving, Ts: 42, MessagesReceived: 999},
		{ConnectionID: 200, State: StateError, Ts: 42, MessagesReceived: 999},
		{ConnectionID: 1, State: StateDisconnected, Ts: 42, MessagesReceived: 999},
	} {
		got, err := DecodeCollectorStateMessage(EncodeCollectorStateMessage(want))
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("round trip mismatch: got=%+v want=%+v", got, want)
		}
	}
}
