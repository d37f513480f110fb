package supervisor

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ConnectionState is one collector connection's lifecycle stage.
type ConnectionState int

const (
	StateConnecting ConnectionState = iota
	StateConnected
	StateReceiving
	StateDisconnected
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateReceiving:
		return "Receiving"
	case StateDisconnected:
		return "Disconnected"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// CollectorStateReport is one snapshot of a connection's health, as
// published on the collector-state transport stream.
type CollectorStateReport struct {
	ConnectionID string
	State        ConnectionState
	Timestamp    time.Time
	MessageCount uint64
}

// CollectorStateTracker is the subscriber side of the collector-state
// stream: it remembers the last report per connection and exports state and
// message count as Prometheus gauges. It does not log: Record returns the
// previous report so the caller can log transitions, and IsStale checks a
// connection against a caller-supplied timeout. Grounded on spec §4.12's
// CollectorState message (Connecting/Connected/Receiving/Disconnected/
// Error + connection-id + ts + msg-count).
type CollectorStateTracker struct {
	mu        sync.Mutex
	lastSeen  map[string]CollectorStateReport
	interval  time.Duration

	stateGauge *prometheus.GaugeVec
	msgGauge   *prometheus.GaugeVec
}

// NewCollectorStateTracker creates a tracker. interval is the expected
// state-update interval; it is stored but no method reads it.
func NewCollectorStateTracker(interval time.Duration, registerer prometheus.Registerer) *CollectorStateTracker {
	t := &CollectorStateTracker{
		lastSeen: make(map[string]CollectorStateReport),
		interval: interval,
		stateGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cryptomm_collector_state",
			Help: "Current collector-state enum value per connection (0=Connecting..4=Error).",
		}, []string{"connection_id"}),
		msgGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cryptomm_collector_message_count",
			Help: "Last reported message count per connection.",
		}, []string{"connection_id"}),
	}
	if registerer != nil {
		registerer.MustRegister(t.stateGauge, t.msgGauge)
	}
	return t
}

// Record ingests a state report, returning the previous report for
// connID (ok=false if this is the first report seen).
func (t *CollectorStateTracker) Record(report CollectorStateReport) (previous CollectorStateReport, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	previous, ok = t.lastSeen[report.ConnectionID]
	t.lastSeen[report.ConnectionID] = report

	t.stateGauge.WithLabelValues(report.ConnectionID).Set(float64(report.State))
	t.msgGauge.WithLabelValues(report.ConnectionID).Set(float64(report.MessageCount))

	return previous, ok
}

// IsStale reports whether connID's last report is older than timeout,
// or the connection has never reported.
func (t *CollectorStateTracker) IsStale(connID string, timeout time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	last, ok := t.lastSeen[connID]
	if !ok {
		return true
	}
	return time.Since(last.Timestamp) >= timeout
}

// Snapshot returns the last report seen for every tracked connection.
func (t *CollectorStateTracker) Snapshot() map[string]CollectorStateReport {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]CollectorStateReport, len(t.lastSeen))
	for k, v := range t.lastSeen {
		out[k] = v
	}
	return out
}
