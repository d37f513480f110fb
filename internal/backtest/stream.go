package backtest

import "sort"

// DataStream is a time-ordered queue of historical events plus the
// replay speed multiplier used to derive simulated time from wall-clock
// elapsed time. Grounded on mm_backtest::HistoricalDataStream.
type DataStream struct {
	events      []HistoricalEvent
	cursor      int
	currentTime uint64
	replaySpeed float64
}

// NewDataStream sorts events by timestamp and seeds current time at the
// first event's timestamp (0 if events is empty).
func NewDataStream(events []HistoricalEvent, replaySpeed float64) *DataStream {
	sorted := make([]HistoricalEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp() < sorted[j].Timestamp() })

	var currentTime uint64
	if len(sorted) > 0 {
		currentTime = sorted[0].Timestamp()
	}

	return &DataStream{events: sorted, currentTime: currentTime, replaySpeed: replaySpeed}
}

// NextEvent pops and returns the earliest remaining event.
func (s *DataStream) NextEvent() (HistoricalEvent, bool) {
	if s.cursor >= len(s.events) {
		return HistoricalEvent{}, false
	}
	e := s.events[s.cursor]
	s.cursor++
	return e, true
}

// PeekEvent returns the earliest remaining event without consuming it.
func (s *DataStream) PeekEvent() (HistoricalEvent, bool) {
	if s.cursor >= len(s.events) {
		return HistoricalEvent{}, false
	}
	return s.events[s.cursor], true
}

// HasMore reports whether any events remain.
func (s *DataStream) HasMore() bool {
	return s.cursor < len(s.events)
}

// CurrentTime returns the replay's starting timestamp.
func (s *DataStream) CurrentTime() uint64 {
	return s.currentTime
}

// ReplaySpeed returns the configured speed multiplier.
func (s *DataStream) ReplaySpeed() float64 {
	return s.replaySpeed
}

// RemainingEvents returns the number of unconsumed events.
func (s *DataStream) RemainingEvents() int {
	return len(s.events) - s.cursor
}

// TimeRange returns the (start, end) timestamps spanning the remaining
// events, or ok=false if none remain.
func (s *DataStream) TimeRange() (start, end uint64, ok bool) {
	if s.cursor >= len(s.events) {
		return 0, 0, false
	}
	return s.events[s.cursor].Timestamp(), s.events[len(s.events)-1].Timestamp(), true
}
