package wire

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// crc32cTable is the Castagnoli (CRC-32C) table. hash/crc32 dispatches to
// hardware-accelerated CRC on amd64/arm64 automatically when the table is
// the IEEE/Castagnoli well-known polynomial, so there is no reason to hand
// roll SIMD intrinsics the way the original Rust checksum module does.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// checkFrameAlignment enforces the "16-byte aligned on the wire" framing
// rule. Go slices carry no meaningful pointer-alignment guarantee the way a
// C/Rust repr(align(16)) struct does, so there is no zero-copy view to fall
// back from; the portable equivalent this codec enforces is that every
// encoded frame's length is itself a multiple of 16.
func checkFrameAlignment(n int) error {
	if n%16 != 0 {
		return fmt.Errorf("%w: length %d is not 16-byte aligned", ErrInvalidAlignment, n)
	}
	return nil
}

func appendCRC(buf []byte) []byte {
	sum := crc32.Checksum(buf, crc32cTable)
	out := make([]byte, len(buf)+16)
	copy(out, buf)
	binary.LittleEndian.PutUint32(out[len(buf):], sum)
	return out
}

func verifyCRC(buf []byte) ([]byte, error) {
	if len(buf) < 16 {
		return nil, fmt.Errorf("%w: %d bytes", ErrBufferTooSmall, len(buf))
	}
	if err := checkFrameAlignment(len(buf)); err != nil {
		return nil, err
	}
	payload := buf[:len(buf)-16]
	carried := binary.LittleEndian.Uint32(buf[len(payload):])
	got := crc32.Checksum(payload, crc32cTable)
	if got != carried {
		return nil, ErrInvalidChecksum
	}
	for _, b := range buf[len(payload)+4:] {
		if b != 0 {
			return nil, ErrInvalidChecksum
		}
	}
	return payload, nil
}

func putSymbol(buf []byte, off int, sym CompressedString) {
	binary.LittleEndian.PutUint64(buf[off:], sym.Low)
	binary.LittleEndian.PutUint64(buf[off+8:], sym.High)
}

func getSymbol(buf []byte, off int) CompressedString {
	return CompressedString{
		Low:  binary.LittleEndian.Uint64(buf[off:]),
		High: binary.LittleEndian.Uint64(buf[off+8:]),
	}
}

func putFP(buf []byte, off int, v FixedPointBits) {
	binary.LittleEndian.PutUint64(buf[off:], uint64(v))
}

func getFP(buf []byte, off int) FixedPointBits {
	return FixedPointBits(binary.LittleEndian.Uint64(buf[off:]))
}

// --- MarketData ---

func EncodeMarketData(m MarketData) []byte {
	buf := make([]byte, 64)
	buf[0] = byte(TypeMarketData)
	buf[1] = m.Sequence
	buf[2] = byte(m.Encoding)
	putSymbol(buf, 8, m.Symbol)
	binary.LittleEndian.PutUint64(buf[24:], m.Ts)
	putFP(buf, 32, m.BidPrice)
	putFP(buf, 40, m.AskPrice)
	putFP(buf, 48, m.BidSize)
	putFP(buf, 56, m.AskSize)
	return appendCRC(buf)
}

func DecodeMarketData(raw []byte) (MarketData, error) {
	buf, err := verifyCRC(raw)
	if err != nil {
		return MarketData{}, err
	}
	if len(buf) != 64 {
		return MarketData{}, fmt.Errorf("%w: market data body %d", ErrInvalidLength, len(buf))
	}
	if MessageType(buf[0]) != TypeMarketData {
		return MarketData{}, ErrInvalidMessageType
	}
	return MarketData{
		Sequence: buf[1],
		Encoding: EncodingScheme(buf[2]),
		Symbol:   getSymbol(buf, 8),
		Ts:       binary.LittleEndian.Uint64(buf[24:]),
		BidPrice: getFP(buf, 32),
		AskPrice: getFP(buf, 40),
		BidSize:  getFP(buf, 48),
		AskSize:  getFP(buf, 56),
	}, nil
}

// --- Trade ---

func EncodeTrade(t Trade) []byte {
	buf := make([]byte, 64)
	buf[0] = byte(TypeTrade)
	buf[1] = byte(t.Encoding)
	putSymbol(buf, 8, t.Symbol)
	binary.LittleEndian.PutUint64(buf[24:], t.Ts)
	binary.LittleEndian.PutUint64(buf[32:], t.TradeID)
	putFP(buf, 40, t.Price)
	putFP(buf, 48, t.Qty)
	buf[56] = byte(t.Side)
	if t.IsAggressor {
		buf[57] = 1
	}
	return appendCRC(buf)
}

func DecodeTrade(raw []byte) (Trade, error) {
	buf, err := verifyCRC(raw)
	if err != nil {
		return Trade{}, err
	}
	if len(buf) != 64 {
		return Trade{}, fmt.Errorf("%w: trade body %d", ErrInvalidLength, len(buf))
	}
	if MessageType(buf[0]) != TypeTrade {
		return Trade{}, ErrInvalidMessageType
	}
	return Trade{
		Encoding:    EncodingScheme(buf[1]),
		Symbol:      getSymbol(buf, 8),
		Ts:          binary.LittleEndian.Uint64(buf[24:]),
		TradeID:     binary.LittleEndian.Uint64(buf[32:]),
		Price:       getFP(buf, 40),
		Qty:         getFP(buf, 48),
		Side:        Side(buf[56]),
		IsAggressor: buf[57] != 0,
	}, nil
}

// --- OrderBookBatch ---

const orderBookHeaderSize = 64

func EncodeOrderBookBatch(b OrderBookBatch) ([]byte, error) {
	if !b.Exchange.valid() {
		return nil, ErrInvalidExchange
	}
	nBids, nAsks := len(b.Bids), len(b.Asks)
	if nBids > 0xFFFF || nAsks > 0xFFFF {
		return nil, fmt.Errorf("%w: too many levels", ErrInvalidLength)
	}

	body := make([]byte, orderBookHeaderSize+16*(nBids+nAsks))
	body[0] = byte(TypeOrderBookBatch)
	body[1] = byte(b.Exchange)
	body[2] = byte(b.UpdateType)
	body[3] = byte(b.Encoding)
	binary.LittleEndian.PutUint16(body[4:], uint16(nBids))
	binary.LittleEndian.PutUint16(body[6:], uint16(nAsks))
	putSymbol(body, 16, b.Symbol)
	binary.LittleEndian.PutUint64(body[32:], b.Ts)
	binary.LittleEndian.PutUint64(body[40:], b.FirstID)
	binary.LittleEndian.PutUint64(body[48:], b.FinalID)
	binary.LittleEndian.PutUint64(body[56:], b.PrevID)

	off := orderBookHeaderSize
	for _, lvl := range b.Bids {
		putFP(body, off, lvl.Price)
		putFP(body, off+8, lvl.Size)
		off += 16
	}
	for _, lvl := range b.Asks {
		putFP(body, off, lvl.Price)
		putFP(body, off+8, lvl.Size)
		off += 16
	}

	return appendCRC(body), nil
}

func DecodeOrderBookBatch(raw []byte) (OrderBookBatch, error) {
	buf, err := verifyCRC(raw)
	if err != nil {
		return OrderBookBatch{}, err
	}
	if len(buf) < orderBookHeaderSize {
		return OrderBookBatch{}, fmt.Errorf("%w: order book header %d", ErrBufferTooSmall, len(buf))
	}
	if MessageType(buf[0]) != TypeOrderBookBatch {
		return OrderBookBatch{}, ErrInvalidMessageType
	}
	exch := Exchange(buf[1])
	if !exch.valid() {
		return OrderBookBatch{}, ErrInvalidExchange
	}

	nBids := int(binary.LittleEndian.Uint16(buf[4:]))
	nAsks := int(binary.LittleEndian.Uint16(buf[6:]))
	want := orderBookHeaderSize + 16*(nBids+nAsks)
	if len(buf) != want {
		return OrderBookBatch{}, fmt.Errorf("%w: expected %d got %d", ErrInvalidLength, want, len(buf))
	}

	out := OrderBookBatch{
		Exchange:   exch,
		UpdateType: UpdateType(buf[2]),
		Encoding:   EncodingScheme(buf[3]),
		Symbol:     getSymbol(buf, 16),
		Ts:         binary.LittleEndian.Uint64(buf[32:]),
		FirstID:    binary.LittleEndian.Uint64(buf[40:]),
		FinalID:    binary.LittleEndian.Uint64(buf[48:]),
		PrevID:     binary.LittleEndian.Uint64(buf[56:]),
	}

	off := orderBookHeaderSize
	out.Bids = make([]PriceLevel, nBids)
	for i := 0; i < nBids; i++ {
		out.Bids[i] = PriceLevel{Price: getFP(buf, off), Size: getFP(buf, off+8)}
		off += 16
	}
	out.Asks = make([]PriceLevel, nAsks)
	for i := 0; i < nAsks; i++ {
		out.Asks[i] = PriceLevel{Price: getFP(buf, off), Size: getFP(buf, off+8)}
		off += 16
	}
	return out, nil
}

// --- Quote ---

func EncodeQuote(q Quote) []byte {
	buf := make([]byte, 96)
	buf[0] = byte(TypeQuote)
	buf[1] = byte(q.Encoding)
	binary.LittleEndian.PutUint64(buf[8:], q.StrategyID)
	putSymbol(buf, 16, q.Symbol)
	binary.LittleEndian.PutUint64(buf[32:], q.Ts)
	putFP(buf, 40, q.BidPrice)
	putFP(buf, 48, q.BidSize)
	putFP(buf, 56, q.AskPrice)
	putFP(buf, 64, q.AskSize)
	putFP(buf, 72, q.FairValue)
	putFP(buf, 80, q.Inventory)
	putFP(buf, 88, q.Confidence)
	return appendCRC(buf)
}

func DecodeQuote(raw []byte) (Quote, error) {
	buf, err := verifyCRC(raw)
	if err != nil {
		return Quote{}, err
	}
	if len(buf) != 96 {
		return Quote{}, fmt.Errorf("%w: quote body %d", ErrInvalidLength, len(buf))
	}
	if MessageType(buf[0]) != TypeQuote {
		return Quote{}, ErrInvalidMessageType
	}
	return Quote{
		Encoding:   EncodingScheme(buf[1]),
		StrategyID: binary.LittleEndian.Uint64(buf[8:]),
		Symbol:     getSymbol(buf, 16),
		Ts:         binary.LittleEndian.Uint64(buf[32:]),
		BidPrice:   getFP(buf, 40),
		BidSize:    getFP(buf, 48),
		AskPrice:   getFP(buf, 56),
		AskSize:    getFP(buf, 64),
		FairValue:  getFP(buf, 72),
		Inventory:  getFP(buf, 80),
		Confidence: getFP(buf, 88),
	}, nil
}

// --- OrderFill ---

func EncodeOrderFill(f OrderFill) []byte {
	buf := make([]byte, 64)
	buf[0] = byte(TypeOrderFill)
	buf[1] = byte(f.Encoding)
	putSymbol(buf, 8, f.Symbol)
	binary.LittleEndian.PutUint64(buf[24:], f.Ts)
	binary.LittleEndian.PutUint64(buf[32:], f.OrderID)
	putFP(buf, 40, f.FillPrice)
	putFP(buf, 48, f.FillQty)
	buf[56] = byte(f.Side)
	if f.IsMaker {
		buf[57] = 1
	}
	return appendCRC(buf)
}

func DecodeOrderFill(raw []byte) (OrderFill, error) {
	buf, err := verifyCRC(raw)
	if err != nil {
		return OrderFill{}, err
	}
	if len(buf) != 64 {
		return OrderFill{}, fmt.Errorf("%w: order fill body %d", ErrInvalidLength, len(buf))
	}
	if MessageType(buf[0]) != TypeOrderFill {
		return OrderFill{}, ErrInvalidMessageType
	}
	return OrderFill{
		Encoding:  EncodingScheme(buf[1]),
		Symbol:    getSymbol(buf, 8),
		Ts:        binary.LittleEndian.Uint64(buf[24:]),
		OrderID:   binary.LittleEndian.Uint64(buf[32:]),
		FillPrice: getFP(buf, 40),
		FillQty:   getFP(buf, 48),
		Side:      Side(buf[56]),
		IsMaker:   buf[57] != 0,
	}, nil
}

// --- Position ---

func EncodePosition(p Position) []byte {
	buf := make([]byte, 64)
	buf[0] = byte(TypePosition)
	buf[1] = byte(p.Encoding)
	putSymbol(buf, 8, p.Symbol)
	binary.LittleEndian.PutUint64(buf[24:], p.Ts)
	putFP(buf, 32, p.Qty)
	putFP(buf, 40, p.AvgEntryPrice)
	putFP(buf, 48, p.UnrealizedPnL)
	putFP(buf, 56, p.RealizedPnL)
	return appendCRC(buf)
}

func DecodePosition(raw []byte) (Position, error) {
	buf, err := verifyCRC(raw)
	if err != nil {
		return Position{}, err
	}
	if len(buf) != 64 {
		return Position{}, fmt.Errorf("%w: position body %d", ErrInvalidLength, len(buf))
	}
	if MessageType(buf[0]) != TypePosition {
		return Position{}, ErrInvalidMessageType
	}
	return Position{
		Encoding:      EncodingScheme(buf[1]),
		Symbol:        getSymbol(buf, 8),
		Ts:            binary.LittleEndian.Uint64(buf[24:]),
		Qty:           getFP(buf, 32),
		AvgEntryPrice: getFP(buf, 40),
		UnrealizedPnL: getFP(buf, 48),
		RealizedPnL:   getFP(buf, 56),
	}, nil
}

// --- PricingOutput ---

func EncodePricingOutput(p PricingOutput) []byte {
	buf := make([]byte, 64)
	buf[0] = byte(TypePricingOutput)
	buf[1] = byte(p.Encoding)
	binary.LittleEndian.PutUint64(buf[8:], p.StrategyID)
	putSymbol(buf, 16, p.Symbol)
	binary.LittleEndian.PutUint64(buf[32:], p.Ts)
	putFP(buf, 40, p.FairValue)
	putFP(buf, 48, p.Confidence)
	putFP(buf, 56, p.Volatility)
	return appendCRC(buf)
}

func DecodePricingOutput(raw []byte) (PricingOutput, error) {
	buf, err := verifyCRC(raw)
	if err != nil {
		return PricingOutput{}, err
	}
	if len(buf) != 64 {
		return PricingOutput{}, fmt.Errorf("%w: pricing output body %d", ErrInvalidLength, len(buf))
	}
	if MessageType(buf[0]) != TypePricingOutput {
		return PricingOutput{}, ErrInvalidMessageType
	}
	return PricingOutput{
		Encoding:   EncodingScheme(buf[1]),
		StrategyID: binary.LittleEndian.Uint64(buf[8:]),
		Symbol:     getSymbol(buf, 16),
		Ts:         binary.LittleEndian.Uint64(buf[32:]),
		FairValue:  getFP(buf, 40),
		Confidence: getFP(buf, 48),
		Volatility: getFP(buf, 56),
	}, nil
}

// --- Heartbeat ---

func EncodeHeartbeat(h Heartbeat) []byte {
	buf := make([]byte, 32)
	buf[0] = byte(TypeHeartbeat)
	binary.LittleEndian.PutUint64(buf[8:], h.Ts)
	binary.LittleEndian.PutUint64(buf[16:], h.Sequence)
	return appendCRC(buf)
}

func DecodeHeartbeat(raw []byte) (Heartbeat, error) {
	buf, err := verifyCRC(raw)
	if err != nil {
		return Heartbeat{}, err
	}
	if len(buf) != 32 {
		return Heartbeat{}, fmt.Errorf("%w: heartbeat body %d", ErrInvalidLength, len(buf))
	}
	if MessageType(buf[0]) != TypeHeartbeat {
		return Heartbeat{}, ErrInvalidMessageType
	}
	return Heartbeat{
		Ts:       binary.LittleEndian.Uint64(buf[8:]),
		Sequence: binary.LittleEndian.Uint64(buf[16:]),
	}, nil
}

// --- CollectorState ---
//
// ConnectionID and State each get their own full byte (1 and 2) so both
// round-trip for their whole declared range — State in particular has 5
// values (through StateError), which would not survive a packed 2-bit field.

func EncodeCollectorStateMessage(c CollectorStateMessage) []byte {
	buf := make([]byte, 32)
	buf[0] = byte(TypeCollectorState)
	buf[1] = c.ConnectionID
	buf[2] = byte(c.State)
	binary.LittleEndian.PutUint64(buf[8:], c.Ts)
	binary.LittleEndian.PutUint64(buf[16:], c.MessagesReceived)
	return appendCRC(buf)
}

func DecodeCollectorStateMessage(raw []byte) (CollectorStateMessage, error) {
	buf, err := verifyCRC(raw)
	if err != nil {
		return CollectorStateMessage{}, err
	}
	if len(buf) != 32 {
		return CollectorStateMessage{}, fmt.Errorf("%w: collector state body %d", ErrInvalidLength, len(buf))
	}
	if MessageType(buf[0]) != TypeCollectorState {
		return CollectorStateMessage{}, ErrInvalidMessageType
	}
	return CollectorStateMessage{
		ConnectionID:     buf[1],
		State:            CollectorState(buf[2]),
		Ts:               binary.LittleEndian.Uint64(buf[8:]),
		MessagesReceived: binary.LittleEndian.Uint64(buf[16:]),
	}, nil
}
