package store

import (
	"testing"

	"github.com/marketflow/cryptomm/pkg/fixedpoint"
)

func TestSaveAndLoadPosition(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	qty := fixedpoint.FromFloat64(10.5)
	avg := fixedpoint.FromFloat64(50000.0)
	pnl := fixedpoint.FromFloat64(1.23)

	if err := s.SavePosition("BTCUSDT", qty, avg, pnl); err != nil {
		t.Fatalf("SavePosition: %v", err)
	}

	loaded, err := s.LoadPosition("BTCUSDT")
	if err != nil {
		t.Fatalf("LoadPosition: %v", err)
	}
	if loaded == nil {
		t.Fatal("LoadPosition returned nil")
	}

	if loaded.Quantity != qty {
		t.Errorf("Quantity = %v, want %v", loaded.Quantity, qty)
	}
	if loaded.AvgEntryPrice != avg {
		t.Errorf("AvgEntryPrice = %v, want %v", loaded.AvgEntryPrice, avg)
	}
	if loaded.RealizedPnL != pnl {
		t.Errorf("RealizedPnL = %v, want %v", loaded.RealizedPnL, pnl)
	}
}

func TestLoadPositionMissing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	loaded, err := s.LoadPosition("NONEXISTENT")
	if err != nil {
		t.Fatalf("LoadPosition: %v", err)
	}
	if loaded != nil {
		t.Errorf("expected nil for missing position, got %+v", loaded)
	}
}

func TestSavePositionOverwrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	_ = s.SavePosition("BTCUSDT", fixedpoint.FromFloat64(10), fixedpoint.Zero, fixedpoint.Zero)
	_ = s.SavePosition("BTCUSDT", fixedpoint.FromFloat64(20), fixedpoint.Zero, fixedpoint.Zero)

	loaded, err := s.LoadPosition("BTCUSDT")
	if err != nil {
		t.Fatalf("LoadPosition: %v", err)
	}
	if loaded.Quantity != fixedpoint.FromFloat64(20) {
		t.Errorf("Quantity = %v, want 20 (latest save)", loaded.Quantity)
	}
}
