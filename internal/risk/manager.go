// Package risk enforces stateless per-quote checks plus a persistent kill
// switch gate, run on every quote the strategy generates before it is
// published to the transport fabric.
//
// Checks run in a fixed order (killed -> daily-loss -> position-limit ->
// order-size -> crossed-quotes -> price-sanity -> confidence-floor) so the
// first failing check always determines the rejection reason.
package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marketflow/cryptomm/internal/position"
	"github.com/marketflow/cryptomm/pkg/fixedpoint"
)

// HeartbeatTimeout is the hardcoded staleness threshold for check_heartbeat.
const HeartbeatTimeout = 5000 * time.Millisecond

// Config carries the subset of strategy tunables the risk manager checks
// against. Kept independent of package strategy's Config to avoid an
// import cycle (the quote engine in package strategy holds a *Manager).
type Config struct {
	MaxPositionSize float64
	MaxOrderSize    float64
	MinConfidence   float64
}

// CheckResult is the outcome of a risk check: either Accept, or Reject
// carrying the reason the quote was blocked.
type CheckResult struct {
	Accepted bool
	Reason   string
}

// Accept is the zero-reason accepted result.
var Accept = CheckResult{Accepted: true}

// Reject builds a rejected result with the given reason.
func Reject(reason string) CheckResult { return CheckResult{Accepted: false, Reason: reason} }

// Quote is the minimal shape check_quote needs: a candidate two-sided
// quote plus its confidence score.
type Quote struct {
	BidPrice   fixedpoint.FixedPoint
	BidSize    fixedpoint.FixedPoint
	AskPrice   fixedpoint.FixedPoint
	AskSize    fixedpoint.FixedPoint
	Confidence float64
}

// Manager enforces stateless limits (config.Max*) plus persistent kill
// state (daily PnL, kill switch). One Manager is bound to one instrument.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu              sync.Mutex
	maxDailyLoss    fixedpoint.FixedPoint
	dailyRealizedPL fixedpoint.FixedPoint
	killed          bool
	killReason      string
}

// NewManager creates a risk manager with the default $1000 daily loss
// limit, mirroring mm_strategy::RiskManager::new.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:          cfg,
		logger:       logger.With("component", "risk"),
		maxDailyLoss: fixedpoint.FromFloat64(-1000.0),
	}
}

// SetMaxDailyLoss overrides the daily loss limit. Pass fixedpoint.Zero
// with ok=false semantics handled by the caller (there is no "unlimited"
// sentinel beyond a very large magnitude, matching how the rest of this
// package treats limits as plain values rather than Optionals).
func (m *Manager) SetMaxDailyLoss(maxLoss fixedpoint.FixedPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxDailyLoss = maxLoss
}

// UpdateDailyPnL accumulates realized PnL for the daily-loss check. Call
// this on every fill.
func (m *Manager) UpdateDailyPnL(change fixedpoint.FixedPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyRealizedPL = m.dailyRealizedPL.Add(change)
}

// ResetDailyPnL clears the daily PnL accumulator, called at the start of
// a trading day.
func (m *Manager) ResetDailyPnL() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyRealizedPL = fixedpoint.Zero
}

// DailyPnL returns the current accumulated daily realized PnL.
func (m *Manager) DailyPnL() fixedpoint.FixedPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dailyRealizedPL
}

// Kill activates the kill switch. Every subsequent check_quote call
// rejects until Resume is called.
func (m *Manager) Kill(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.killed = true
	m.killReason = reason
	m.logger.Error("kill switch activated", "reason", reason)
}

// Resume clears the kill switch.
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.killed = false
	m.killReason = ""
	m.logger.Info("strategy resumed from kill state")
}

// IsKilled reports whether the kill switch is currently engaged.
func (m *Manager) IsKilled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.killed
}

// KillReason returns the reason the kill switch was last engaged, or ""
// if not killed.
func (m *Manager) KillReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.killReason
}

func (m *Manager) checkDailyLoss() CheckResult {
	m.mu.Lock()
	pnl, limit := m.dailyRealizedPL, m.maxDailyLoss
	m.mu.Unlock()

	if pnl.Cmp(limit) < 0 {
		return Reject(fmt.Sprintf("daily loss limit breached: %.2f < %.2f", pnl.ToFloat64(), limit.ToFloat64()))
	}
	return Accept
}

func (m *Manager) checkPositionLimit(pos *position.Position) CheckResult {
	absPosition := absF(pos.Quantity().ToFloat64())
	if absPosition > m.cfg.MaxPositionSize {
		return Reject(fmt.Sprintf("position limit exceeded: %.4f > %.4f", absPosition, m.cfg.MaxPositionSize))
	}
	return Accept
}

func (m *Manager) checkOrderSize(size fixedpoint.FixedPoint) CheckResult {
	absSize := absF(size.ToFloat64())
	if absSize > m.cfg.MaxOrderSize {
		return Reject(fmt.Sprintf("order size exceeds limit: %.4f > %.4f", absSize, m.cfg.MaxOrderSize))
	}
	if absSize <= 0.0 {
		return Reject("order size must be positive")
	}
	return Accept
}

// CheckQuote runs the comprehensive pre-publish risk gate. Checks run in
// order and the first rejection wins: killed, daily loss, position
// limit, bid size, ask size, crossed quotes, price sanity (±10% of
// mark), confidence floor.
func (m *Manager) CheckQuote(q Quote, pos *position.Position, markPrice fixedpoint.FixedPoint) CheckResult {
	if m.IsKilled() {
		reason := m.KillReason()
		if reason == "" {
			reason = "unknown"
		}
		return Reject(fmt.Sprintf("strategy killed: %s", reason))
	}

	if r := m.checkDailyLoss(); !r.Accepted {
		return r
	}
	if r := m.checkPositionLimit(pos); !r.Accepted {
		return r
	}
	if r := m.checkOrderSize(q.BidSize); !r.Accepted {
		return Reject("bid: " + r.Reason)
	}
	if r := m.checkOrderSize(q.AskSize); !r.Accepted {
		return Reject("ask: " + r.Reason)
	}

	if q.BidPrice.Cmp(q.AskPrice) >= 0 {
		return Reject(fmt.Sprintf("crossed quotes: bid %.4f >= ask %.4f", q.BidPrice.ToFloat64(), q.AskPrice.ToFloat64()))
	}

	mark := markPrice.ToFloat64()
	bid, ask := q.BidPrice.ToFloat64(), q.AskPrice.ToFloat64()
	if mark != 0 {
		if absF(bid-mark)/mark > 0.1 {
			return Reject(fmt.Sprintf("bid price too far from mark: %.4f vs %.4f", bid, mark))
		}
		if absF(ask-mark)/mark > 0.1 {
			return Reject(fmt.Sprintf("ask price too far from mark: %.4f vs %.4f", ask, mark))
		}
	}

	if q.Confidence < m.cfg.MinConfidence {
		return Reject(fmt.Sprintf("confidence too low: %.4f < %.4f", q.Confidence, m.cfg.MinConfidence))
	}

	return Accept
}

// CheckHeartbeat evaluates supervisor liveness: if the last heartbeat is
// older than HeartbeatTimeout, the kill switch fires and false is
// returned.
func (m *Manager) CheckHeartbeat(lastHeartbeat, now time.Time) bool {
	age := now.Sub(lastHeartbeat)
	if age > HeartbeatTimeout {
		m.Kill(fmt.Sprintf("heartbeat timeout: %s", age))
		return false
	}
	return true
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
