package risk

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/marketflow/cryptomm/internal/position"
	"github.com/marketflow/cryptomm/pkg/fixedpoint"
	"github.com/marketflow/cryptomm/pkg/wire"
)

func fp(v float64) fixedpoint.FixedPoint { return fixedpoint.FromFloat64(v) }

func testConfig() Config {
	return Config{MaxPositionSize: 10.0, MaxOrderSize: 1.0, MinConfidence: 0.5}
}

func newTestManager(cfg Config) *Manager {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewManager(cfg, logger)
}

func TestPositionLimit(t *testing.T) {
	t.Parallel()

	m := newTestManager(Config{MaxPositionSize: 10.0})
	pos := position.New()
	pos.ApplyFill(wire.SideBid, fp(100), fp(5))
	if r := m.checkPositionLimit(pos); !r.Accepted {
		t.Errorf("checkPositionLimit(5/10) rejected: %s", r.Reason)
	}

	pos2 := position.New()
	pos2.ApplyFill(wire.SideBid, fp(100), fp(15))
	if r := m.checkPositionLimit(pos2); r.Accepted {
		t.Error("checkPositionLimit(15/10) accepted, want rejected")
	}
}

func TestOrderSizeLimit(t *testing.T) {
	t.Parallel()

	m := newTestManager(Config{MaxOrderSize: 1.0})
	if r := m.checkOrderSize(fp(0.5)); !r.Accepted {
		t.Errorf("checkOrderSize(0.5) rejected: %s", r.Reason)
	}
	if r := m.checkOrderSize(fp(2.0)); r.Accepted {
		t.Error("checkOrderSize(2.0) accepted, want rejected")
	}
	if r := m.checkOrderSize(fp(0.0)); r.Accepted {
		t.Error("checkOrderSize(0.0) accepted, want rejected")
	}
}

func TestDailyLossLimit(t *testing.T) {
	t.Parallel()

	m := newTestManager(testConfig())
	m.SetMaxDailyLoss(fp(-100.0))

	if r := m.checkDailyLoss(); !r.Accepted {
		t.Errorf("checkDailyLoss() at 0 rejected: %s", r.Reason)
	}

	m.UpdateDailyPnL(fp(-50.0))
	if r := m.checkDailyLoss(); !r.Accepted {
		t.Errorf("checkDailyLoss() at -50 rejected: %s", r.Reason)
	}

	m.UpdateDailyPnL(fp(-60.0)) // total -110
	if r := m.checkDailyLoss(); r.Accepted {
		t.Error("checkDailyLoss() at -110 accepted, want rejected")
	}
}

func TestKillSwitch(t *testing.T) {
	t.Parallel()

	m := newTestManager(testConfig())
	if m.IsKilled() {
		t.Fatal("IsKilled() = true before Kill()")
	}

	m.Kill("test kill")
	if !m.IsKilled() {
		t.Error("IsKilled() = false after Kill()")
	}
	if m.KillReason() != "test kill" {
		t.Errorf("KillReason() = %q, want %q", m.KillReason(), "test kill")
	}

	m.Resume()
	if m.IsKilled() {
		t.Error("IsKilled() = true after Resume()")
	}
}

func TestCrossedQuotes(t *testing.T) {
	t.Parallel()

	m := newTestManager(Config{MinConfidence: 0.5, MaxPositionSize: 100, MaxOrderSize: 100})
	pos := position.New()

	q := Quote{BidPrice: fp(101.0), BidSize: fp(1.0), AskPrice: fp(100.0), AskSize: fp(1.0), Confidence: 0.8}
	r := m.CheckQuote(q, pos, fp(100.5))
	if r.Accepted {
		t.Error("CheckQuote(crossed) accepted, want rejected")
	}
}

func TestPriceSanityRejectsFarFromMark(t *testing.T) {
	t.Parallel()

	m := newTestManager(Config{MinConfidence: 0.1, MaxPositionSize: 100, MaxOrderSize: 100})
	pos := position.New()

	q := Quote{BidPrice: fp(50.0), BidSize: fp(1.0), AskPrice: fp(51.0), AskSize: fp(1.0), Confidence: 0.8}
	r := m.CheckQuote(q, pos, fp(100.0))
	if r.Accepted {
		t.Error("CheckQuote(bid 50% off mark) accepted, want rejected")
	}
}

func TestConfidenceFloorRejectsLowConfidence(t *testing.T) {
	t.Parallel()

	m := newTestManager(Config{MinConfidence: 0.5, MaxPositionSize: 100, MaxOrderSize: 100})
	pos := position.New()

	q := Quote{BidPrice: fp(99.0), BidSize: fp(1.0), AskPrice: fp(101.0), AskSize: fp(1.0), Confidence: 0.2}
	r := m.CheckQuote(q, pos, fp(100.0))
	if r.Accepted {
		t.Error("CheckQuote(low confidence) accepted, want rejected")
	}
}

func TestCheckQuoteRejectsWhenKilled(t *testing.T) {
	t.Parallel()

	m := newTestManager(Config{MinConfidence: 0.1, MaxPositionSize: 100, MaxOrderSize: 100})
	m.Kill("daily loss")
	pos := position.New()

	q := Quote{BidPrice: fp(99.0), BidSize: fp(1.0), AskPrice: fp(101.0), AskSize: fp(1.0), Confidence: 0.8}
	r := m.CheckQuote(q, pos, fp(100.0))
	if r.Accepted {
		t.Error("CheckQuote() while killed accepted, want rejected")
	}
}

func TestCheckHeartbeatTimeoutKillsSwitch(t *testing.T) {
	t.Parallel()

	m := newTestManager(testConfig())
	now := time.Now()

	if !m.CheckHeartbeat(now.Add(-1*time.Second), now) {
		t.Error("CheckHeartbeat(1s old) = false, want true")
	}
	if m.IsKilled() {
		t.Error("IsKilled() = true after a fresh heartbeat")
	}

	if m.CheckHeartbeat(now.Add(-6*time.Second), now) {
		t.Error("CheckHeartbeat(6s old) = true, want false")
	}
	if !m.IsKilled() {
		t.Error("IsKilled() = false after a stale heartbeat")
	}
}

