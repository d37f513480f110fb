// Package supervisor implements the two out-of-band signal streams every
// process in the pipeline publishes and consumes: a liveness heartbeat and
// a per-connection collector-state report. Both feed staleness checks that
// escalate into a risk-manager kill (§4.12). Grounded on mm_zmq::heartbeat.
package supervisor

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HeartbeatConfig tunes the interval and staleness timeout of the
// heartbeat stream.
type HeartbeatConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultHeartbeatConfig mirrors HeartbeatConfig::default() (1s interval,
// 5s timeout).
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{Interval: 1 * time.Second, Timeout: 5 * time.Second}
}

// HeartbeatMonitor tracks the most recently observed heartbeat on the
// subscriber side. Safe for concurrent use: readers and the one writer
// (the transport's receive loop) touch only atomics.
type HeartbeatMonitor struct {
	lastHeartbeatNs atomic.Int64
	lastSequence    atomic.Uint64
	cfg             HeartbeatConfig

	ageGauge prometheus.Gauge
}

// NewHeartbeatMonitor creates a monitor seeded with the current time, so
// a freshly started process is alive for at least one timeout window
// before it sees its first real heartbeat.
func NewHeartbeatMonitor(cfg HeartbeatConfig, registerer prometheus.Registerer) *HeartbeatMonitor {
	m := &HeartbeatMonitor{cfg: cfg}
	m.lastHeartbeatNs.Store(time.Now().UnixNano())

	m.ageGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cryptomm_heartbeat_age_ms",
		Help: "Milliseconds since the last heartbeat was observed.",
	})
	if registerer != nil {
		registerer.MustRegister(m.ageGauge)
	}
	return m
}

// RecordHeartbeat stores the current time and sequence number, as each
// heartbeat message arrives off the transport.
func (m *HeartbeatMonitor) RecordHeartbeat(sequence uint64) {
	m.lastHeartbeatNs.Store(time.Now().UnixNano())
	m.lastSequence.Store(sequence)
}

// TimeSinceLastHeartbeat returns how long it has been since the last
// recorded heartbeat.
func (m *HeartbeatMonitor) TimeSinceLastHeartbeat() time.Duration {
	last := m.lastHeartbeatNs.Load()
	elapsed := time.Duration(time.Now().UnixNano() - last)
	if m.ageGauge != nil {
		m.ageGauge.Set(float64(elapsed.Milliseconds()))
	}
	return elapsed
}

// IsAlive reports whether the connection is within the configured
// staleness timeout.
func (m *HeartbeatMonitor) IsAlive() bool {
	return m.TimeSinceLastHeartbeat() < m.cfg.Timeout
}

// LastSequence returns the most recently recorded sequence number.
func (m *HeartbeatMonitor) LastSequence() uint64 {
	return m.lastSequence.Load()
}

// CheckSequenceGap reports the size of a gap between the last recorded
// sequence and newSequence, given sequences wrap at 256. Returns 0 if
// there is no gap (including before any heartbeat has been recorded).
func (m *HeartbeatMonitor) CheckSequenceGap(newSequence uint8) uint8 {
	last := m.lastSequence.Load()
	if last == 0 {
		return 0
	}
	expected := uint8((last + 1) % 256)
	if newSequence == expected {
		return 0
	}
	if newSequence > expected {
		return newSequence - expected
	}
	return (256 - uint16(expected) + uint16(newSequence)) % 256
}

// HeartbeatGenerator drives the publisher side: a ticker loop that invokes
// a callback with (timestampMs, sequence) at the configured interval until
// Stop is called or the done channel passed to Run is closed.
type HeartbeatGenerator struct {
	cfg      HeartbeatConfig
	sequence atomic.Uint64
	stop     chan struct{}
}

// NewHeartbeatGenerator creates a generator that has not yet started.
func NewHeartbeatGenerator(cfg HeartbeatConfig) *HeartbeatGenerator {
	return &HeartbeatGenerator{cfg: cfg, stop: make(chan struct{})}
}

// Run blocks, invoking emit once per interval, until done is closed or
// Stop is called. Intended to run in its own goroutine.
func (g *HeartbeatGenerator) Run(done <-chan struct{}, emit func(timestampMs int64, sequence uint8)) {
	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-g.stop:
			return
		case <-ticker.C:
			seq := g.sequence.Add(1) - 1
			emit(time.Now().UnixMilli(), uint8(seq%256))
		}
	}
}

// Stop halts a running generator. Safe to call once.
func (g *HeartbeatGenerator) Stop() {
	close(g.stop)
}

// CurrentSequence returns the next sequence number that will be emitted.
func (g *HeartbeatGenerator) CurrentSequence() uint64 {
	return g.sequence.Load()
}
