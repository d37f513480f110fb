package marketdata

import (
	"log/slog"
	"time"

	"github.com/marketflow/cryptomm/pkg/wire"
)

// ResyncSkipThreshold is the number of consecutive skipped batches before
// a resync is requested.
const ResyncSkipThreshold = 20

// ResyncCooldown is the minimum time between resync attempts.
const ResyncCooldown = 30 * time.Second

// SnapshotStaleBatches is how far past the snapshot's lastUpdateId a
// batch's first id can be before the sync state logs a "snapshot too old"
// warning (it keeps trying to sync regardless, per §4.6).
const SnapshotStaleBatches = 5000

// Decision is the sync state machine's verdict for an incoming batch.
type Decision uint8

const (
	DecisionApply Decision = iota
	DecisionSkip
	DecisionRequestResync
)

// SyncState tracks the Binance-style (U, u, pu) sequence continuity for
// one symbol's order book, grounded on mm_app's orderbook_sync.rs state
// machine: an Unsynchronized phase that waits for a batch straddling the
// snapshot's lastUpdateId, then a Synchronized phase that requires each
// batch's pu to equal the previous batch's u.
type SyncState struct {
	logger *slog.Logger

	snapshotLastUpdateID uint64
	lastProcessedUpdateID uint64
	synchronized          bool

	consecutiveSkipped int
	lastResyncAttempt  time.Time
}

// NewSyncState initializes sync state against a freshly fetched REST
// snapshot's lastUpdateId.
func NewSyncState(snapshotLastUpdateID uint64, logger *slog.Logger) *SyncState {
	return &SyncState{snapshotLastUpdateID: snapshotLastUpdateID, logger: logger}
}

// Evaluate decides whether batch should be applied, skipped, or escalated
// to a resync request, and updates internal sequencing state accordingly.
// Callers must call ApplyBatch on the book themselves only when Evaluate
// returns DecisionApply.
func (s *SyncState) Evaluate(batch wire.OrderBookBatch) Decision {
	if !s.synchronized {
		return s.evaluateUnsynchronized(batch)
	}
	return s.evaluateSynchronized(batch)
}

func (s *SyncState) evaluateUnsynchronized(batch wire.OrderBookBatch) Decision {
	if batch.FinalID < s.snapshotLastUpdateID {
		s.consecutiveSkipped++
		return s.skipOrResync()
	}

	if batch.FirstID > s.snapshotLastUpdateID+SnapshotStaleBatches {
		if s.logger != nil {
			s.logger.Warn("snapshot too old, still attempting to sync",
				"first_id", batch.FirstID, "snapshot_last_update_id", s.snapshotLastUpdateID)
		}
	}

	if batch.FirstID <= s.snapshotLastUpdateID && batch.FinalID >= s.snapshotLastUpdateID {
		s.synchronized = true
		s.lastProcessedUpdateID = batch.FinalID
		s.consecutiveSkipped = 0
		if s.logger != nil {
			s.logger.Info("order book synchronized",
				"first_id", batch.FirstID, "final_id", batch.FinalID, "snapshot_last_update_id", s.snapshotLastUpdateID)
		}
		return DecisionApply
	}

	s.consecutiveSkipped++
	return s.skipOrResync()
}

func (s *SyncState) evaluateSynchronized(batch wire.OrderBookBatch) Decision {
	if batch.PrevID != 0 && batch.PrevID != s.lastProcessedUpdateID {
		if s.logger != nil {
			s.logger.Warn("sequence gap detected, desynchronizing",
				"expected_pu", s.lastProcessedUpdateID, "got_pu", batch.PrevID)
		}
		s.synchronized = false
		s.consecutiveSkipped++
		return s.skipOrResync()
	}

	s.lastProcessedUpdateID = batch.FinalID
	s.consecutiveSkipped = 0
	return DecisionApply
}

// skipOrResync escalates a skip to a resync request when the threshold and
// cooldown both allow it.
func (s *SyncState) skipOrResync() Decision {
	if s.consecutiveSkipped < ResyncSkipThreshold {
		return DecisionSkip
	}
	if !s.lastResyncAttempt.IsZero() && time.Since(s.lastResyncAttempt) < ResyncCooldown {
		return DecisionSkip
	}
	s.lastResyncAttempt = time.Now()
	if s.logger != nil {
		s.logger.Info("resync requested", "consecutive_skipped", s.consecutiveSkipped, "threshold", ResyncSkipThreshold)
	}
	return DecisionRequestResync
}

// IsSynchronized reports the current sync phase.
func (s *SyncState) IsSynchronized() bool { return s.synchronized }

// ResetAfterResync re-seeds the state against a newly fetched snapshot's
// lastUpdateId, clearing skip counters and the synchronized flag so the
// state machine re-enters the Unsynchronized phase cleanly.
func (s *SyncState) ResetAfterResync(snapshotLastUpdateID uint64) {
	s.snapshotLastUpdateID = snapshotLastUpdateID
	s.lastProcessedUpdateID = 0
	s.synchronized = false
	s.consecutiveSkipped = 0
}
