package drift

import "github.com/marketflow/cryptomm/pkg/fixedpoint"

// State is an instantaneous top-of-book snapshot: best bid/ask price and
// the aggregate size resting at each, plus the last observed trade. It is
// the common input both the drift estimator and the quote engine consume.
type State struct {
	Timestamp uint64
	BidPrice  fixedpoint.FixedPoint
	AskPrice  fixedpoint.FixedPoint
	BidVolume fixedpoint.FixedPoint
	AskVolume fixedpoint.FixedPoint

	LastTradePrice fixedpoint.FixedPoint
	HasLastTrade   bool
}

// MidPrice returns (bid+ask)/2.
func (s State) MidPrice() fixedpoint.FixedPoint {
	return s.BidPrice.Add(s.AskPrice).Div(fixedpoint.FromFloat64(2))
}

// SpreadBps returns (ask-bid)/mid in basis points.
func (s State) SpreadBps() float64 {
	spread := s.AskPrice.Sub(s.BidPrice)
	mid := s.MidPrice()
	if mid.ToFloat64() == 0 {
		return 0
	}
	return spread.ToFloat64() / mid.ToFloat64() * 10000.0
}

// MicroPrice returns the volume-weighted price (bid*askVol + ask*bidVol) /
// (bidVol+askVol), falling back to MidPrice when both sides are empty.
func (s State) MicroPrice() fixedpoint.FixedPoint {
	total := s.BidVolume.Add(s.AskVolume)
	if total == fixedpoint.Zero {
		return s.MidPrice()
	}
	numerator := s.BidPrice.Mul(s.AskVolume).Add(s.AskPrice.Mul(s.BidVolume))
	return numerator.Div(total)
}

// OrderbookImbalance returns (askVol-bidVol)/(askVol+bidVol) in [-1, 1];
// positive means more resting ask volume (bearish pressure on price).
func (s State) OrderbookImbalance() float64 {
	total := s.BidVolume.Add(s.AskVolume)
	if total == fixedpoint.Zero {
		return 0
	}
	return s.AskVolume.Sub(s.BidVolume).ToFloat64() / total.ToFloat64()
}
