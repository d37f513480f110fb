// Package strategy: FlowTracker watches the stream of our own fills for
// adverse selection — a run of fills all going the same way usually means
// an informed counterparty is sweeping through stale quotes ahead of a
// price move, and the right response is to quote wider until the run
// subsides.
package strategy

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/marketflow/cryptomm/pkg/fixedpoint"
	"github.com/marketflow/cryptomm/pkg/wire"
)

// Fill is the minimal record FlowTracker needs from an execution.
type Fill struct {
	Timestamp time.Time
	Side      wire.Side
	Price     fixedpoint.FixedPoint
	Size      fixedpoint.FixedPoint
}

// ToxicityMetrics summarizes adverse-selection signals over the current
// rolling window of fills.
type ToxicityMetrics struct {
	DirectionalImbalance float64 // fraction of fills on the dominant side, in [0,1]
	FillVelocity         float64 // fills per minute
	ToxicityScore        float64 // weighted composite of the two above, in [0,1]
	IsAverse             bool    // ToxicityScore above the configured threshold
}

// FlowTracker holds a rolling window of recent own-fills and derives a
// spread multiplier from how lopsided and how fast they have been arriving.
type FlowTracker struct {
	mu sync.Mutex

	window time.Duration
	fills  []Fill

	toxicityThreshold float64
	cooldown          time.Duration
	maxSpreadMultiple float64

	lastToxicAt time.Time
}

// NewFlowTracker builds a tracker over the given rolling window, with
// toxicityThreshold gating IsAverse/widening, cooldown controlling how long
// spreads stay wide after the last toxic reading, and maxSpreadMultiple
// capping how far GetSpreadMultiplier will widen the base spread.
func NewFlowTracker(window time.Duration, toxicityThreshold float64, cooldown time.Duration, maxSpreadMultiple float64) *FlowTracker {
	return &FlowTracker{
		window:            window,
		fills:             make([]Fill, 0, 128),
		toxicityThreshold: toxicityThreshold,
		cooldown:          cooldown,
		maxSpreadMultiple: maxSpreadMultiple,
	}
}

// AddFill records a new execution and drops anything that has aged out of
// the window.
func (ft *FlowTracker) AddFill(fill Fill) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.fills = append(ft.fills, fill)
	ft.evictBefore(time.Now().Add(-ft.window))
}

// evictBefore drops every fill at or before cutoff. Fills arrive in
// timestamp order, so the stale prefix is found with a binary search
// rather than a full scan. Must be called with mu held.
func (ft *FlowTracker) evictBefore(cutoff time.Time) {
	firstLive := sort.Search(len(ft.fills), func(i int) bool {
		return ft.fills[i].Timestamp.After(cutoff)
	})
	if firstLive == 0 {
		return
	}
	ft.fills = append(ft.fills[:0], ft.fills[firstLive:]...)
}

// CalculateToxicity reduces the current window of fills into a
// ToxicityMetrics snapshot.
func (ft *FlowTracker) CalculateToxicity() ToxicityMetrics {
	ft.mu.Lock()
	ft.evictBefore(time.Now().Add(-ft.window))
	fills := append([]Fill(nil), ft.fills...)
	ft.mu.Unlock()

	n := len(fills)
	if n == 0 {
		return ToxicityMetrics{}
	}

	var bidFills int
	for _, f := range fills {
		if f.Side == wire.SideBid {
			bidFills++
		}
	}
	askFills := n - bidFills
	dominantSide := math.Max(float64(bidFills), float64(askFills))
	imbalance := dominantSide / float64(n)

	if n < 2 {
		// One fill alone carries no velocity signal, only direction.
		score := imbalance * 0.6
		return ToxicityMetrics{
			DirectionalImbalance: imbalance,
			ToxicityScore:        score,
			IsAverse:             imbalance > ft.toxicityThreshold,
		}
	}

	velocity := float64(n) / ft.window.Minutes()
	const toxicVelocityPerMin = 3.0
	velocityFactor := math.Min(velocity/toxicVelocityPerMin, 1.0)

	// Directional imbalance is the stronger signal; velocity corroborates
	// it (a burst of same-side fills looks like a liquidation sweep).
	score := 0.6*imbalance + 0.4*velocityFactor

	return ToxicityMetrics{
		DirectionalImbalance: imbalance,
		FillVelocity:         velocity,
		ToxicityScore:        score,
		IsAverse:             score > ft.toxicityThreshold,
	}
}

// GetSpreadMultiplier returns the factor the quote engine should apply to
// its base spread: 1.0 under normal flow, rising toward maxSpreadMultiple
// while flow is toxic, and decaying back to 1.0 over cooldown once it
// isn't.
func (ft *FlowTracker) GetSpreadMultiplier() float64 {
	metrics := ft.CalculateToxicity()

	ft.mu.Lock()
	if metrics.IsAverse {
		ft.lastToxicAt = time.Now()
	}
	lastToxic := ft.lastToxicAt
	ft.mu.Unlock()

	inCooldown := time.Since(lastToxic) < ft.cooldown
	if !metrics.IsAverse && !inCooldown {
		return 1.0
	}

	if metrics.ToxicityScore < ft.toxicityThreshold {
		return ft.cooldownMultiplier(lastToxic)
	}
	return ft.toxicMultiplier(metrics.ToxicityScore)
}

// cooldownMultiplier linearly decays from maxSpreadMultiple back to 1.0
// as time elapses since the last toxic reading.
func (ft *FlowTracker) cooldownMultiplier(lastToxic time.Time) float64 {
	progress := math.Min(time.Since(lastToxic).Seconds()/ft.cooldown.Seconds(), 1.0)
	return 1.0 + (ft.maxSpreadMultiple-1.0)*(1.0-progress)
}

// toxicMultiplier scales the multiplier by how far the toxicity score sits
// above threshold, saturating at maxSpreadMultiple once the score is
// halfway from the threshold to 1.0.
func (ft *FlowTracker) toxicMultiplier(score float64) float64 {
	headroom := 1.0 - ft.toxicityThreshold
	if headroom <= 0 {
		return ft.maxSpreadMultiple
	}
	normalized := (score - ft.toxicityThreshold) / headroom
	return 1.0 + (ft.maxSpreadMultiple-1.0)*math.Min(normalized*2.0, 1.0)
}

// IsFlowToxic reports whether the current window's toxicity score is
// above threshold.
func (ft *FlowTracker) IsFlowToxic() bool {
	return ft.CalculateToxicity().IsAverse
}

// GetFillCount returns how many fills currently sit in the rolling window.
func (ft *FlowTracker) GetFillCount() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return len(ft.fills)
}
