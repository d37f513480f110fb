// Package wire implements the binary framing, symbol compression, and CRC
// rules every message in the pipeline is encoded with. Every message is
// 16-byte aligned on the wire, little-endian, and trailed by a CRC-32C over
// the payload preceding it. Dispatch is by a single type-tag byte per
// message — there is no inheritance; adding a message means extending the
// tag namespace and adding an Encode/Decode pair.
package wire

// MessageType is the wire type tag carried in every message's first byte.
type MessageType uint8

const (
	TypeMarketData     MessageType = 0x01
	TypeTrade          MessageType = 0x02
	TypeOrderBookBatch MessageType = 0x03
	TypeQuote          MessageType = 0x04
	TypeOrderFill      MessageType = 0x05
	TypePosition       MessageType = 0x06
	TypePricingOutput  MessageType = 0x07
	TypeHeartbeat      MessageType = 0x08
	TypeCollectorState MessageType = 0x09
)

// Exchange identifies the upstream venue a market-data message originated
// from. The pipeline tags every message with it but does not normalize
// fields across exchanges beyond this tag (spec's explicit non-goal).
type Exchange uint8

const (
	ExchangeBinance Exchange = 0
)

func (e Exchange) valid() bool {
	return e == ExchangeBinance
}

// UpdateType distinguishes a full snapshot from an incremental delta within
// an OrderBookBatch.
type UpdateType uint8

const (
	UpdateSnapshot UpdateType = 0
	UpdateDelta    UpdateType = 1
)

// Side is shared by Trade, Quote, and OrderFill messages.
type Side uint8

const (
	SideBid Side = 0
	SideAsk Side = 1
)

// PriceLevel is a single (price, size) pair on the book, always 16 bytes on
// the wire.
type PriceLevel struct {
	Price FixedPointBits
	Size  FixedPointBits
}

// FixedPointBits is the wire representation of a fixedpoint.FixedPoint: a
// plain int64, kept as a distinct type here so the wire package doesn't
// import fixedpoint just to round-trip an int64 through encoding/binary.
type FixedPointBits int64

// MarketData is the legacy single-level top-of-book message.
type MarketData struct {
	Sequence uint8
	Symbol   CompressedString
	Encoding EncodingScheme
	Ts       uint64
	BidPrice FixedPointBits
	AskPrice FixedPointBits
	BidSize  FixedPointBits
	AskSize  FixedPointBits
}

// Trade is a single executed trade tick.
type Trade struct {
	Symbol      CompressedString
	Encoding    EncodingScheme
	Ts          uint64
	TradeID     uint64
	Price       FixedPointBits
	Qty         FixedPointBits
	Side        Side
	IsAggressor bool
}

// OrderBookBatch carries a multi-level L2 snapshot or delta plus the
// exchange's (U, u, pu) sequence triple used by the sync state machine.
// U == u == pu == 0 marks a legacy frame with no sequence information;
// consumers must treat that as "unknown" rather than a real gap.
type OrderBookBatch struct {
	Exchange   Exchange
	UpdateType UpdateType
	Encoding   EncodingScheme
	Symbol     CompressedString
	Ts         uint64
	FirstID    uint64 // U
	FinalID    uint64 // u
	PrevID     uint64 // pu
	Bids       []PriceLevel
	Asks       []PriceLevel
}

// Quote is a strategy's two-sided quote output.
type Quote struct {
	StrategyID uint64
	Symbol     CompressedString
	Encoding   EncodingScheme
	Ts         uint64
	BidPrice   FixedPointBits
	BidSize    FixedPointBits
	AskPrice   FixedPointBits
	AskSize    FixedPointBits
	FairValue  FixedPointBits
	Inventory  FixedPointBits
	Confidence FixedPointBits
}

// OrderFill is a fill emitted by the simulator (or, eventually, a real
// execution adapter).
type OrderFill struct {
	Symbol    CompressedString
	Encoding  EncodingScheme
	Ts        uint64
	OrderID   uint64
	FillPrice FixedPointBits
	FillQty   FixedPointBits
	Side      Side
	IsMaker   bool
}

// Position is a strategy's position snapshot.
type Position struct {
	Symbol        CompressedString
	Encoding      EncodingScheme
	Ts            uint64
	Qty           FixedPointBits
	AvgEntryPrice FixedPointBits
	UnrealizedPnL FixedPointBits
	RealizedPnL   FixedPointBits
}

// PricingOutput is a fair-value broadcast from the pricing process.
type PricingOutput struct {
	StrategyID uint64
	Symbol     CompressedString
	Encoding   EncodingScheme
	Ts         uint64
	FairValue  FixedPointBits
	Confidence FixedPointBits
	Volatility FixedPointBits
}

// Heartbeat is a liveness message.
type Heartbeat struct {
	Ts       uint64
	Sequence uint64
}

// CollectorState reports connection health for the supervisor streams.
type CollectorState uint8

const (
	StateConnecting CollectorState = iota
	StateConnected
	StateReceiving
	StateDisconnected
	StateError
)

// CollectorStateMessage carries a per-connection health report.
type CollectorStateMessage struct {
	ConnectionID      uint8
	State             CollectorState
	Ts                uint64
	MessagesReceived  uint64
}
