// Package store provides crash-safe position persistence using JSON files.
//
// Each symbol's position is stored as a separate file: pos_<symbol>.json.
// Writes use atomic file replacement (write to .tmp, then rename) to prevent
// corruption from partial writes or crashes mid-save. The strategy process
// calls SavePosition after each fill, and LoadPosition on startup to restore
// inventory state after a restart — the pipeline has no other durable
// record of accumulated position once a process exits.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/marketflow/cryptomm/pkg/fixedpoint"
)

// Store persists position snapshots to JSON files in a designated directory.
// All operations are mutex-protected to prevent concurrent file corruption.
type Store struct {
	dir string     // directory containing pos_*.json files
	mu  sync.Mutex // serializes all file operations
}

// Open creates a store backed by the given directory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

// persistedPosition is the on-disk shape: fixedpoint.FixedPoint marshals as
// a raw int64 scaled value, which is exactly what we want serialized — no
// float round-trip through the persistence boundary.
type persistedPosition struct {
	Quantity      int64 `json:"quantity"`
	AvgEntryPrice int64 `json:"avg_entry_price"`
	RealizedPnL   int64 `json:"realized_pnl"`
}

// SavePosition atomically persists the current position for a symbol. It
// writes to a .tmp file first, then renames over the target so the file is
// never left in a partial state (crash-safe).
func (s *Store) SavePosition(symbol string, quantity, avgEntryPrice, realizedPnL fixedpoint.FixedPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(persistedPosition{
		Quantity:      int64(quantity),
		AvgEntryPrice: int64(avgEntryPrice),
		RealizedPnL:   int64(realizedPnL),
	})
	if err != nil {
		return fmt.Errorf("marshal position: %w", err)
	}

	path := s.path(symbol)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write position: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadedPosition is the restored state SavePosition persisted.
type LoadedPosition struct {
	Quantity      fixedpoint.FixedPoint
	AvgEntryPrice fixedpoint.FixedPoint
	RealizedPnL   fixedpoint.FixedPoint
}

// LoadPosition restores a symbol's position from disk.
// Returns nil, nil if no saved position exists (fresh symbol).
func (s *Store) LoadPosition(symbol string) (*LoadedPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(symbol))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read position: %w", err)
	}

	var p persistedPosition
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal position: %w", err)
	}
	return &LoadedPosition{
		Quantity:      fixedpoint.FixedPoint(p.Quantity),
		AvgEntryPrice: fixedpoint.FixedPoint(p.AvgEntryPrice),
		RealizedPnL:   fixedpoint.FixedPoint(p.RealizedPnL),
	}, nil
}

func (s *Store) path(symbol string) string {
	return filepath.Join(s.dir, "pos_"+symbol+".json")
}
