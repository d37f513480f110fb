package strategy

import (
	"log/slog"
	"time"

	"github.com/marketflow/cryptomm/internal/drift"
	"github.com/marketflow/cryptomm/internal/position"
	"github.com/marketflow/cryptomm/internal/risk"
	"github.com/marketflow/cryptomm/pkg/fixedpoint"
)

// Quote is one generated two-sided price, paired with the metadata the
// risk manager and downstream consumers need.
type Quote struct {
	Timestamp  uint64
	BidPrice   fixedpoint.FixedPoint
	BidSize    fixedpoint.FixedPoint
	AskPrice   fixedpoint.FixedPoint
	AskSize    fixedpoint.FixedPoint
	FairValue  fixedpoint.FixedPoint
	Inventory  fixedpoint.FixedPoint
	Confidence float64
}

// Engine combines drift estimation, inventory shaping, a volatility EMA,
// and the risk gate into two-sided quote generation. Grounded on
// mm_strategy::QuoteEngine.
type Engine struct {
	cfg       Config
	estimator *drift.Estimator
	inventory *InventoryManager
	risk      *risk.Manager
	flow      *FlowTracker
	volEMA    *drift.EMA

	lastMidPrice    fixedpoint.FixedPoint
	hasLastMidPrice bool

	logger *slog.Logger
}

// NewEngine wires a quote engine around a live position and risk manager.
func NewEngine(cfg Config, pos *position.Position, riskMgr *risk.Manager, logger *slog.Logger) *Engine {
	driftCfg := drift.Config{
		DriftHalfLifeSecs:      cfg.DriftHalfLifeSecs,
		VolatilityHalfLifeSecs: cfg.VolatilityHalfLifeSecs,
		TradeFlowWindowSecs:    cfg.TradeFlowWindowSecs,
	}
	return &Engine{
		cfg:       cfg,
		estimator: drift.New(driftCfg),
		inventory: NewInventoryManager(pos, cfg),
		risk:      riskMgr,
		flow:      NewFlowTracker(60*time.Second, 0.6, 120*time.Second, 3.0),
		volEMA:    drift.NewEMA(cfg.VolatilityHalfLifeSecs, 1.0),
		logger:    logger.With("component", "quote_engine"),
	}
}

// AddTrade feeds a public trade print into the drift estimator and the
// toxic-flow tracker (when it is our own fill, via AddFill).
func (e *Engine) AddTrade(t drift.Trade) {
	e.estimator.AddTrade(t)
}

// AddFill records one of our own executions for toxicity tracking and
// daily PnL accounting.
func (e *Engine) AddFill(f Fill, realizedPnLChange fixedpoint.FixedPoint) {
	e.flow.AddFill(f)
	e.risk.UpdateDailyPnL(realizedPnLChange)
}

func (e *Engine) updateVolatility(s drift.State) {
	mid := s.MidPrice()
	if e.hasLastMidPrice && e.lastMidPrice != fixedpoint.Zero {
		returns := (mid.ToFloat64() - e.lastMidPrice.ToFloat64()) / e.lastMidPrice.ToFloat64()
		if returns < 0 {
			returns = -returns
		}
		e.volEMA.Update(returns)
	}
	e.lastMidPrice = mid
	e.hasLastMidPrice = true
}

// baseSpreadBps takes the max of the configured floor, the volatility
// component, and the current market spread, then widens the result by
// the flow tracker's toxicity multiplier so a run of adversely-selecting
// fills pushes quotes wider until the flow cools down.
func (e *Engine) baseSpreadBps(s drift.State) float64 {
	minSpread := e.cfg.MinSpreadBps
	volSpread := e.volEMA.Value() * e.cfg.VolSpreadFactor * 10000.0
	marketSpread := s.SpreadBps()

	base := minSpread
	if volSpread > base {
		base = volSpread
	}
	if marketSpread > base {
		base = marketSpread
	}
	return base * e.flow.GetSpreadMultiplier()
}

var spreadMultiplierByAction = map[Action]float64{
	ActionEmergencyUnwind:  0.5,
	ActionAggressiveUnwind: 0.7,
	ActionPassiveUnwind:    1.0,
	ActionNeutral:          1.0,
	ActionAccumulate:       1.2,
}

var sizeUrgencyByAction = map[Action]float64{
	ActionEmergencyUnwind:  2.0,
	ActionAggressiveUnwind: 1.5,
	ActionPassiveUnwind:    1.0,
	ActionNeutral:          1.0,
	ActionAccumulate:       0.8,
}

// GenerateQuotes produces a single two-sided quote for the current market
// state, or nil if the strategy is killed or the risk gate rejects it.
func (e *Engine) GenerateQuotes(s drift.State) *Quote {
	e.estimator.UpdateMarketState(s)
	e.updateVolatility(s)

	if e.risk.IsKilled() {
		e.logger.Warn("quote generation blocked: strategy is killed", "reason", e.risk.KillReason())
		return nil
	}

	mid := s.MidPrice()
	driftBps := e.estimator.EstimateDriftBps(s)
	fairValue := mid.ApplyBps(driftBps)

	inventory := e.inventory.Inventory()
	skewBps := e.inventory.SkewBps(driftBps)
	action := e.inventory.RecommendedAction(driftBps)

	baseSpreadBps := e.baseSpreadBps(s) * spreadMultiplierByAction[action]

	halfSpreadBps := baseSpreadBps / 2.0
	bidSpreadBps := halfSpreadBps - skewBps/2.0
	askSpreadBps := halfSpreadBps + skewBps/2.0

	bidPrice := fairValue.SubtractBps(bidSpreadBps)
	askPrice := fairValue.ApplyBps(askSpreadBps)

	bidSizeFactor, askSizeFactor := e.inventory.AsymmetricSizes()
	urgency := sizeUrgencyByAction[action]
	baseSize := fixedpoint.FromFloat64(e.cfg.BaseQuoteSize)

	var bidSize fixedpoint.FixedPoint
	if inventory.Cmp(fixedpoint.Zero) > 0 {
		bidSize = baseSize.MulScalar(bidSizeFactor)
	} else {
		bidSize = baseSize.MulScalar(bidSizeFactor * urgency)
	}

	var askSize fixedpoint.FixedPoint
	if inventory.Cmp(fixedpoint.Zero) < 0 {
		askSize = baseSize.MulScalar(askSizeFactor)
	} else {
		askSize = baseSize.MulScalar(askSizeFactor * urgency)
	}

	confidence := e.estimator.Confidence()

	quote := &Quote{
		Timestamp:  s.Timestamp,
		BidPrice:   bidPrice,
		BidSize:    bidSize,
		AskPrice:   askPrice,
		AskSize:    askSize,
		FairValue:  fairValue,
		Inventory:  inventory,
		Confidence: confidence,
	}

	riskQuote := risk.Quote{BidPrice: bidPrice, BidSize: bidSize, AskPrice: askPrice, AskSize: askSize, Confidence: confidence}
	result := e.risk.CheckQuote(riskQuote, e.inventory.pos, mid)
	if !result.Accepted {
		e.logger.Warn("quote rejected by risk check", "reason", result.Reason, "bid", bidPrice.ToFloat64(), "ask", askPrice.ToFloat64())
		return nil
	}

	return quote
}

// GenerateLadderQuotes produces up to numLevels quotes, each widening out
// from the base quote by levelSpacingBps with proportionally smaller
// size, stopping at the first level the risk gate rejects.
func (e *Engine) GenerateLadderQuotes(s drift.State, numLevels int, levelSpacingBps float64) []Quote {
	base := e.GenerateQuotes(s)
	if base == nil {
		return nil
	}

	quotes := []Quote{*base}
	mid := s.MidPrice()

	for level := 1; level < numLevels; level++ {
		levelOffset := levelSpacingBps * float64(level)
		levelSizeFactor := 1.0 / (float64(level) + 1.0)

		levelQuote := Quote{
			Timestamp:  s.Timestamp,
			BidPrice:   base.BidPrice.SubtractBps(levelOffset),
			BidSize:    base.BidSize.MulScalar(levelSizeFactor),
			AskPrice:   base.AskPrice.ApplyBps(levelOffset),
			AskSize:    base.AskSize.MulScalar(levelSizeFactor),
			FairValue:  base.FairValue,
			Inventory:  base.Inventory,
			Confidence: base.Confidence * levelSizeFactor,
		}

		riskQuote := risk.Quote{
			BidPrice: levelQuote.BidPrice, BidSize: levelQuote.BidSize,
			AskPrice: levelQuote.AskPrice, AskSize: levelQuote.AskSize,
			Confidence: levelQuote.Confidence,
		}
		if !e.risk.CheckQuote(riskQuote, e.inventory.pos, mid).Accepted {
			break
		}
		quotes = append(quotes, levelQuote)
	}

	return quotes
}
