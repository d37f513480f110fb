// Package drift estimates short-term signed price drift and a confidence
// score from order-flow imbalance, aggressive trade flow, order-book
// imbalance, and micro-price deviation, each smoothed by its own EMA.
package drift

import (
	"container/list"
	"math"

	"github.com/marketflow/cryptomm/pkg/fixedpoint"
	"github.com/marketflow/cryptomm/pkg/wire"
)

// Config parameterizes the estimator's EMA half-lives and trade-flow
// window.
type Config struct {
	DriftHalfLifeSecs      float64
	VolatilityHalfLifeSecs float64
	TradeFlowWindowSecs    float64
}

// DefaultConfig mirrors mm_strategy's defaults.
func DefaultConfig() Config {
	return Config{
		DriftHalfLifeSecs:      5.0,
		VolatilityHalfLifeSecs: 30.0,
		TradeFlowWindowSecs:    10.0,
	}
}

// Trade is a single tick fed to the trade-flow analyzer.
type Trade struct {
	TimestampMs uint64
	Price       fixedpoint.FixedPoint
	Qty         fixedpoint.FixedPoint
	Side        wire.Side
	IsAggressor bool
}

// orderFlowImbalance tracks Δbid_volume − Δask_volume across consecutive
// state updates, EMA-smoothed. Positive means buying pressure.
type orderFlowImbalance struct {
	prevBidVolume fixedpoint.FixedPoint
	prevAskVolume fixedpoint.FixedPoint
	ema           *EMA
	initialized   bool
}

func newOrderFlowImbalance(cfg Config) *orderFlowImbalance {
	return &orderFlowImbalance{ema: NewEMA(cfg.DriftHalfLifeSecs, 0.1)}
}

// update seeds on the first observation to avoid a spurious initial spike,
// per spec §4.7.
func (o *orderFlowImbalance) update(s State) {
	if !o.initialized {
		o.prevBidVolume = s.BidVolume
		o.prevAskVolume = s.AskVolume
		o.initialized = true
		return
	}
	deltaBid := s.BidVolume.Sub(o.prevBidVolume)
	deltaAsk := s.AskVolume.Sub(o.prevAskVolume)
	ofi := deltaBid.Sub(deltaAsk).ToFloat64()
	o.ema.Update(ofi)

	o.prevBidVolume = s.BidVolume
	o.prevAskVolume = s.AskVolume
}

func (o *orderFlowImbalance) value() float64 { return o.ema.Value() }

// tradeFlowAnalyzer keeps a rolling window of recent trades to compute
// trade-imbalance statistics.
type tradeFlowAnalyzer struct {
	trades        *list.List // of Trade, oldest at Front
	windowSecs    float64
	buyVolumeEMA  *EMA
	sellVolumeEMA *EMA
}

func newTradeFlowAnalyzer(cfg Config) *tradeFlowAnalyzer {
	return &tradeFlowAnalyzer{
		trades:        list.New(),
		windowSecs:    cfg.TradeFlowWindowSecs,
		buyVolumeEMA:  NewEMA(cfg.DriftHalfLifeSecs, 0.1),
		sellVolumeEMA: NewEMA(cfg.DriftHalfLifeSecs, 0.1),
	}
}

func (a *tradeFlowAnalyzer) addTrade(t Trade) {
	a.trades.PushBack(t)

	if t.Side == wire.SideBid {
		a.buyVolumeEMA.Update(t.Qty.ToFloat64())
		a.sellVolumeEMA.Update(0)
	} else {
		a.sellVolumeEMA.Update(t.Qty.ToFloat64())
		a.buyVolumeEMA.Update(0)
	}

	for {
		front := a.trades.Front()
		if front == nil {
			break
		}
		ft := front.Value.(Trade)
		ageSecs := float64(t.TimestampMs-ft.TimestampMs) / 1000.0
		if ageSecs > a.windowSecs {
			a.trades.Remove(front)
			continue
		}
		break
	}
}

// tradeImbalance returns (buyVol-sellVol)/totalVol over every trade in the
// window.
func (a *tradeFlowAnalyzer) tradeImbalance() float64 {
	return a.imbalance(false)
}

// aggressiveTradeImbalance restricts the same computation to trades
// flagged as aggressor.
func (a *tradeFlowAnalyzer) aggressiveTradeImbalance() float64 {
	return a.imbalance(true)
}

func (a *tradeFlowAnalyzer) imbalance(aggressiveOnly bool) float64 {
	var buyVolume, sellVolume float64
	for e := a.trades.Front(); e != nil; e = e.Next() {
		t := e.Value.(Trade)
		if aggressiveOnly && !t.IsAggressor {
			continue
		}
		if t.Side == wire.SideBid {
			buyVolume += t.Qty.ToFloat64()
		} else {
			sellVolume += t.Qty.ToFloat64()
		}
	}
	total := buyVolume + sellVolume
	if total == 0 {
		return 0
	}
	return (buyVolume - sellVolume) / total
}

// Estimator combines OFI, trade-flow, order-book imbalance, and
// micro-price deviation signals into a single drift-bps estimate with a
// confidence score, grounded on mm_strategy's DriftEstimator.
type Estimator struct {
	ofi             *orderFlowImbalance
	tradeFlow       *tradeFlowAnalyzer
	volatilityEMA   *EMA
	lastTradePrice  fixedpoint.FixedPoint
	hasLastTrade    bool
}

// New builds an Estimator from cfg.
func New(cfg Config) *Estimator {
	return &Estimator{
		ofi:           newOrderFlowImbalance(cfg),
		tradeFlow:     newTradeFlowAnalyzer(cfg),
		volatilityEMA: NewEMA(cfg.VolatilityHalfLifeSecs, 1.0),
	}
}

// UpdateMarketState feeds a new top-of-book snapshot to the OFI signal.
func (e *Estimator) UpdateMarketState(s State) {
	e.ofi.update(s)
}

// AddTrade feeds a new trade to the trade-flow analyzer and updates the
// volatility EMA from the trade-to-trade log return.
func (e *Estimator) AddTrade(t Trade) {
	if e.hasLastTrade && e.lastTradePrice.ToFloat64() > 0 && t.Price.ToFloat64() > 0 {
		returns := math.Log(t.Price.ToFloat64() / e.lastTradePrice.ToFloat64())
		e.volatilityEMA.Update(math.Abs(returns))
	}
	e.lastTradePrice = t.Price
	e.hasLastTrade = true

	e.tradeFlow.addTrade(t)
}

// EstimateDriftBps combines the four signals per spec §4.7:
// 0.1·OFI + 0.5·aggressive_trade_imbalance + 0.8·orderbook_imbalance +
// 0.05·micro_deviation_bps.
func (e *Estimator) EstimateDriftBps(s State) float64 {
	ofiContribution := e.ofi.value() * 0.1
	tradeContribution := e.tradeFlow.aggressiveTradeImbalance() * 0.5
	obContribution := s.OrderbookImbalance() * 0.8

	mid := s.MidPrice()
	var microContribution float64
	if mid.ToFloat64() != 0 {
		micro := s.MicroPrice()
		microDiffBps := (micro.ToFloat64() - mid.ToFloat64()) / mid.ToFloat64() * 10000.0
		microContribution = microDiffBps * 0.05
	}

	return ofiContribution + tradeContribution + obContribution + microContribution
}

// EstimateDriftPrice expresses the drift estimate as an absolute price
// adjustment against the current mid.
func (e *Estimator) EstimateDriftPrice(s State) fixedpoint.FixedPoint {
	driftBps := e.EstimateDriftBps(s)
	mid := s.MidPrice()
	return fixedpoint.FromFloat64(mid.ToFloat64() * driftBps / 10000.0)
}

// Confidence rises when OFI and aggressive trade flow agree in sign and
// both exceed 0.1 in magnitude, scaled by their average magnitude, clamped
// to [0.1, 1.0].
func (e *Estimator) Confidence() float64 {
	ofi := e.ofi.value()
	tradeImb := e.tradeFlow.aggressiveTradeImbalance()

	signalsAgree := math.Signbit(ofi) == math.Signbit(tradeImb) && math.Abs(ofi) > 0.1 && math.Abs(tradeImb) > 0.1

	agreementRatio := 0.0
	if signalsAgree {
		agreementRatio = 1.0
	}

	signalStrength := (math.Abs(ofi) + math.Abs(tradeImb)) / 2.0
	if signalStrength > 1.0 {
		signalStrength = 1.0
	}
	confidence := agreementRatio * signalStrength
	return math.Max(0.1, math.Min(1.0, confidence))
}

// CurrentVolatility returns the EMA of absolute trade-to-trade log
// returns.
func (e *Estimator) CurrentVolatility() float64 {
	return e.volatilityEMA.Value()
}
