package backtest

import (
	"math"

	"github.com/marketflow/cryptomm/internal/position"
	"github.com/marketflow/cryptomm/pkg/fixedpoint"
	"github.com/marketflow/cryptomm/pkg/wire"
)

// Metrics summarizes a completed backtest run. Grounded on
// mm_backtest::BacktestMetrics.
type Metrics struct {
	StartTime       uint64
	EndTime         uint64
	DurationSeconds float64

	TotalTrades uint64
	BuyTrades   uint64
	SellTrades  uint64
	TotalVolume float64

	InitialCapital float64
	FinalCapital   float64
	TotalPnL       float64
	TotalPnLPct    float64
	RealizedPnL    float64
	UnrealizedPnL  float64

	SharpeRatio     float64
	MaxDrawdown     float64
	MaxDrawdownPct  float64
	WinRate         float64
	ProfitFactor    float64

	MaxLongPosition   float64
	MaxShortPosition  float64
	AvgPositionSize   float64
	TimeInMarketPct   float64

	TotalQuotes  uint64
	AvgSpreadBps float64
}

type equitySample struct {
	timestamp uint64
	equity    float64
}

type positionSample struct {
	timestamp uint64
	position  float64
}

type tradeRecord struct {
	side     wire.Side
	quantity float64
	pnl      float64
}

// maxSamples bounds the equity/position rolling history, matching the
// teacher's 10,000-sample cap.
const maxSamples = 10_000

// Tracker accumulates fills, equity, position, and quote samples during
// a backtest run and reduces them to a final Metrics report.
type Tracker struct {
	initialCapital float64
	maxEquity      float64

	equityCurve []equitySample
	positions   []positionSample
	trades      []tradeRecord

	quoteCount uint64
	spreadSum  float64
}

// NewTracker creates a tracker seeded with the backtest's starting capital.
func NewTracker(initialCapital float64) *Tracker {
	return &Tracker{initialCapital: initialCapital, maxEquity: initialCapital}
}

// RecordFill records one simulated fill's realized P&L contribution.
func (t *Tracker) RecordFill(side wire.Side, quantity, pnlChange float64) {
	t.trades = append(t.trades, tradeRecord{side: side, quantity: quantity, pnl: pnlChange})
}

// UpdateEquity appends an (timestamp, equity) sample, evicting the oldest
// once the rolling cap is exceeded.
func (t *Tracker) UpdateEquity(timestamp uint64, equity float64) {
	t.equityCurve = append(t.equityCurve, equitySample{timestamp, equity})
	if equity > t.maxEquity {
		t.maxEquity = equity
	}
	if len(t.equityCurve) > maxSamples {
		t.equityCurve = t.equityCurve[1:]
	}
}

// UpdatePosition appends a (timestamp, position) sample, evicting the
// oldest once the rolling cap is exceeded.
func (t *Tracker) UpdatePosition(timestamp uint64, pos float64) {
	t.positions = append(t.positions, positionSample{timestamp, pos})
	if len(t.positions) > maxSamples {
		t.positions = t.positions[1:]
	}
}

// RecordQuote accumulates one generated quote's spread for the average.
func (t *Tracker) RecordQuote(spreadBps float64) {
	t.quoteCount++
	t.spreadSum += spreadBps
}

// CalculateMetrics reduces all recorded samples into a final report,
// given the live position and a current mark price for unrealized P&L.
func (t *Tracker) CalculateMetrics(pos *position.Position, markPrice fixedpoint.FixedPoint) Metrics {
	var startTime, endTime uint64
	if len(t.equityCurve) > 0 {
		startTime = t.equityCurve[0].timestamp
		endTime = t.equityCurve[len(t.equityCurve)-1].timestamp
	}
	durationSeconds := float64(endTime-startTime) / 1e9

	var buyTrades, sellTrades uint64
	var totalVolume float64
	for _, tr := range t.trades {
		if tr.side == wire.SideBid {
			buyTrades++
		} else {
			sellTrades++
		}
		totalVolume += tr.quantity
	}
	totalTrades := uint64(len(t.trades))

	unrealizedPnL := pos.UnrealizedPnL(markPrice).ToFloat64()
	realizedPnL := pos.RealizedPnL().ToFloat64()
	totalPnL := realizedPnL + unrealizedPnL
	finalCapital := t.initialCapital + totalPnL
	totalPnLPct := 0.0
	if t.initialCapital != 0 {
		totalPnLPct = totalPnL / t.initialCapital * 100.0
	}

	maxDrawdown, maxDrawdownPct := t.calculateMaxDrawdown()
	sharpeRatio := t.calculateSharpeRatio()

	var winningTrades int
	var grossProfit, grossLoss float64
	for _, tr := range t.trades {
		if tr.pnl > 0 {
			winningTrades++
			grossProfit += tr.pnl
		} else if tr.pnl < 0 {
			grossLoss += -tr.pnl
		}
	}
	winRate := 0.0
	if totalTrades > 0 {
		winRate = float64(winningTrades) / float64(totalTrades) * 100.0
	}
	profitFactor := 0.0
	if grossLoss > 0 {
		profitFactor = grossProfit / grossLoss
	}

	maxLong, maxShort, avgPositionSize, timeInMarketPct := t.positionMetrics()

	avgSpreadBps := 0.0
	if t.quoteCount > 0 {
		avgSpreadBps = t.spreadSum / float64(t.quoteCount)
	}

	return Metrics{
		StartTime:        startTime,
		EndTime:          endTime,
		DurationSeconds:  durationSeconds,
		TotalTrades:      totalTrades,
		BuyTrades:        buyTrades,
		SellTrades:       sellTrades,
		TotalVolume:      totalVolume,
		InitialCapital:   t.initialCapital,
		FinalCapital:     finalCapital,
		TotalPnL:         totalPnL,
		TotalPnLPct:      totalPnLPct,
		RealizedPnL:      realizedPnL,
		UnrealizedPnL:    unrealizedPnL,
		SharpeRatio:      sharpeRatio,
		MaxDrawdown:      maxDrawdown,
		MaxDrawdownPct:   maxDrawdownPct,
		WinRate:          winRate,
		ProfitFactor:     profitFactor,
		MaxLongPosition:  maxLong,
		MaxShortPosition: maxShort,
		AvgPositionSize:  avgPositionSize,
		TimeInMarketPct:  timeInMarketPct,
		TotalQuotes:      t.quoteCount,
		AvgSpreadBps:     avgSpreadBps,
	}
}

func (t *Tracker) calculateMaxDrawdown() (maxDD, maxDDPct float64) {
	peak := t.initialCapital
	for _, s := range t.equityCurve {
		if s.equity > peak {
			peak = s.equity
		}
		dd := peak - s.equity
		ddPct := 0.0
		if peak > 0 {
			ddPct = dd / peak * 100.0
		}
		if dd > maxDD {
			maxDD = dd
			maxDDPct = ddPct
		}
	}
	return maxDD, maxDDPct
}

func (t *Tracker) calculateSharpeRatio() float64 {
	if len(t.equityCurve) < 2 {
		return 0.0
	}

	returns := make([]float64, 0, len(t.equityCurve)-1)
	for i := 1; i < len(t.equityCurve); i++ {
		prev := t.equityCurve[i-1].equity
		if prev == 0 {
			continue
		}
		returns = append(returns, (t.equityCurve[i].equity-prev)/prev)
	}
	if len(returns) == 0 {
		return 0.0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	stdDev := math.Sqrt(variance)
	if stdDev == 0 {
		return 0.0
	}

	const samplesPerYear = 252.0 * 24.0 * 3600.0
	annualizedReturn := mean * samplesPerYear
	annualizedStdDev := stdDev * math.Sqrt(samplesPerYear)
	return annualizedReturn / annualizedStdDev
}

func (t *Tracker) positionMetrics() (maxLong, maxShort, avgSize, timeInMarketPct float64) {
	if len(t.positions) == 0 {
		return 0, 0, 0, 0
	}

	var sumAbs float64
	var inMarket int
	for _, s := range t.positions {
		if s.position > maxLong {
			maxLong = s.position
		}
		if s.position < maxShort {
			maxShort = s.position
		}
		abs := math.Abs(s.position)
		sumAbs += abs
		if abs > 0.01 {
			inMarket++
		}
	}
	avgSize = sumAbs / float64(len(t.positions))
	timeInMarketPct = float64(inMarket) / float64(len(t.positions)) * 100.0
	return maxLong, maxShort, avgSize, timeInMarketPct
}
